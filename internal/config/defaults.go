package config

import "callcenter/internal/team"

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
			Timezone: "UTC",
		},
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                5000,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 60,
			RateLimitPerMinute:  120,
			RateLimitBurst:      20,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "~/.callcenter/callcenter.db",
		},
		Meta: MetaConfig{
			WebhookPath:  "/webhook",
			GraphAPIBase: "https://graph.facebook.com/v18.0",
		},
		Routing: RoutingConfig{
			DefaultAgent:   "Agent1",
			LockBackend:    "local",
			LockTTLSeconds: 10,
		},
		Team: TeamConfig{
			LeaveLeadDays: team.DefaultLeaveLeadDays,
		},
		Notify: NotifyConfig{
			Telegram: TelegramConfig{
				ParseMode: "Markdown",
			},
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
