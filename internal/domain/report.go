package domain

// DirectionSummary counts one direction of an agent's traffic.
type DirectionSummary struct {
	Count      int      `json:"count"`
	Recipients []string `json:"recipients"`
}

// DailyReport is one agent's workload for one day.
type DailyReport struct {
	Agent      string           `json:"agent"`
	Display    string           `json:"display"`
	Initials   string           `json:"initials,omitempty"`
	Date       string           `json:"date"`
	Incoming   DirectionSummary `json:"incoming"`
	Outgoing   DirectionSummary `json:"outgoing"`
	Recipients []string         `json:"recipients"`
	OnLeave    bool             `json:"on_leave"`
}

// RecipientCount pairs a recipient with a message count.
type RecipientCount struct {
	Recipient string `json:"recipient"`
	Count     int64  `json:"count"`
}

// MessageStats is the global traffic breakdown for a window.
type MessageStats struct {
	Total         int64            `json:"total_messages"`
	Platforms     map[string]int64 `json:"platforms"`
	Agents        map[string]int64 `json:"agents"`
	Direction     map[string]int64 `json:"direction"`
	Hourly        map[int]int64    `json:"hourly_activity"`
	TopRecipients []RecipientCount `json:"top_recipients"`
}

// AgentPerformance is one agent's traffic breakdown for a window.
type AgentPerformance struct {
	Agent            string           `json:"agent"`
	Total            int64            `json:"total_messages"`
	Incoming         int64            `json:"incoming_messages"`
	Outgoing         int64            `json:"outgoing_messages"`
	Platforms        map[string]int64 `json:"platforms"`
	UniqueRecipients int64            `json:"unique_recipients"`
}

// AgentReplies counts outgoing replies per agent.
type AgentReplies struct {
	Agent               string `json:"agent"`
	OutgoingCount       int64  `json:"outgoing_count"`
	RecipientsRepliedTo int64  `json:"recipients_replied_to"`
}
