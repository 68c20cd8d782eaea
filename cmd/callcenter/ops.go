package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"callcenter/internal/bus"
	"callcenter/internal/config"
	"callcenter/internal/domain"
	"callcenter/internal/reporting"
	"callcenter/internal/store"
	"callcenter/internal/team"

	"github.com/spf13/cobra"
)

// withStore runs fn against an opened store with the command's timeout.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, cfg *config.Config, st *store.Store) error) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithTimeout(cmd.Context(), defaultCommandTimeout)
	defer cancel()
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(ctx, cfg, st)
}

func teamService(cfg *config.Config, st *store.Store) *team.Service {
	events := bus.NewEventBus(0, logger)
	team.SubscribeAlerts(events, newNotifier(cfg), logger)
	return team.NewService(st, events, team.Config{
		LeaveLeadDays: cfg.Team.LeaveLeadDays,
		Location:      cfg.Location(),
	}, logger)
}

// --- migrate ---

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the store migrates.
			return withStore(cmd, func(ctx context.Context, _ *config.Config, st *store.Store) error {
				v, err := store.SchemaVersion(ctx, st.DB(), st.Driver())
				if err != nil {
					return err
				}
				fmt.Printf("schema at version %d (%s)\n", v, st.Driver())
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, _ *config.Config, st *store.Store) error {
				v, err := store.SchemaVersion(ctx, st.DB(), st.Driver())
				if err != nil {
					return err
				}
				fmt.Printf("current: %d\nlatest:  %d\n", v, store.LatestSchemaVersion())
				return nil
			})
		},
	})
	return cmd
}

// --- report ---

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print agent reports",
	}

	var date, output, sheet string
	daily := &cobra.Command{
		Use:   "daily [agent]",
		Short: "Daily report for an agent (JSON, or .xlsx with --output)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, cfg *config.Config, st *store.Store) error {
				engine := reporting.NewEngine(st, cfg.Location(), logger)
				if output == "" {
					r, err := engine.DailyReport(ctx, args[0], date)
					if err != nil {
						return err
					}
					return printJSON(r)
				}

				name := reporting.SheetSummary
				if strings.EqualFold(sheet, "handled") {
					name = reporting.SheetHandled
				}
				if info, err := os.Stat(output); err == nil && info.IsDir() {
					start, _, err := engine.DayBounds(date)
					if err != nil {
						return err
					}
					output = filepath.Join(output, reporting.WorkbookName(args[0], name, start))
				}
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				if err := engine.DailyWorkbook(ctx, f, args[0], date, name); err != nil {
					f.Close()
					os.Remove(output)
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				fmt.Printf("wrote %s\n", output)
				return nil
			})
		},
	}
	daily.Flags().StringVar(&date, "date", "", "day as YYYY-MM-DD (default: today)")
	daily.Flags().StringVarP(&output, "output", "o", "", "write an .xlsx file or into a directory")
	daily.Flags().StringVar(&sheet, "sheet", "summary", "workbook kind: summary (outgoing) or handled (incoming)")
	cmd.AddCommand(daily)

	var start, end string
	replies := &cobra.Command{
		Use:   "replies",
		Short: "Outgoing replies per agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, cfg *config.Config, st *store.Store) error {
				engine := reporting.NewEngine(st, cfg.Location(), logger)
				rows, err := engine.Replies(ctx, start, end)
				if err != nil {
					return err
				}
				return printJSON(rows)
			})
		},
	}
	replies.Flags().StringVar(&start, "start", "", "first day (YYYY-MM-DD)")
	replies.Flags().StringVar(&end, "end", "", "last day (YYYY-MM-DD)")
	cmd.AddCommand(replies)

	return cmd
}

// --- schedules ---

func schedulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Import and export agent shifts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "import [roster.yaml]",
		Short: "Import agents and shifts from a YAML roster (- for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = os.Stdin
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			return withStore(cmd, func(ctx context.Context, cfg *config.Config, st *store.Store) error {
				res, err := teamService(cfg, st).ImportRoster(ctx, r)
				if err != nil {
					return err
				}
				fmt.Printf("imported %d agents, %d shifts\n", res.Agents, res.Shifts)
				return nil
			})
		},
	})

	var from, to, agent, output string
	export := &cobra.Command{
		Use:   "export",
		Short: "Export shifts as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, cfg *config.Config, st *store.Store) error {
				var w io.Writer = os.Stdout
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				return teamService(cfg, st).ExportSchedulesCSV(ctx, w, from, to, agent)
			})
		},
	}
	export.Flags().StringVar(&from, "start", "", "first day (YYYY-MM-DD, required)")
	export.Flags().StringVar(&to, "end", "", "last day (YYYY-MM-DD, required)")
	export.Flags().StringVar(&agent, "agent", "", "only this agent")
	export.Flags().StringVarP(&output, "output", "o", "", "write to a file instead of stdout")
	cmd.AddCommand(export)

	return cmd
}

// --- leave ---

func leaveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leave",
		Short: "Manage agent leave",
	}

	var start, end, reason, status string
	add := &cobra.Command{
		Use:   "add [agent]",
		Short: "Record a leave (must start at least team.leaveLeadDays ahead)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, cfg *config.Config, st *store.Store) error {
				loc := cfg.Location()
				from, err := team.ParseTime(start, loc)
				if err != nil {
					return fmt.Errorf("--start: %w", err)
				}
				until, err := team.ParseTime(end, loc)
				if err != nil {
					return fmt.Errorf("--end: %w", err)
				}
				l, err := teamService(cfg, st).CreateLeave(ctx, team.LeaveRequest{
					Agent:  args[0],
					Start:  from,
					End:    until,
					Reason: reason,
					Status: status,
				})
				if err != nil {
					return err
				}
				return printJSON(l)
			})
		},
	}
	add.Flags().StringVar(&start, "start", "", "leave start (date or ISO time)")
	add.Flags().StringVar(&end, "end", "", "leave end (date or ISO time)")
	add.Flags().StringVar(&reason, "reason", "", "reason")
	add.Flags().StringVar(&status, "status", domain.LeaveApproved, "requested, approved or denied")
	add.MarkFlagRequired("start")
	add.MarkFlagRequired("end")
	cmd.AddCommand(add)

	return cmd
}

// --- agents ---

func agentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage agents",
	}

	var email, phone string
	var inactive bool
	add := &cobra.Command{
		Use:   "add [name]",
		Short: "Add or update an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, cfg *config.Config, st *store.Store) error {
				a, err := teamService(cfg, st).AddAgent(ctx, domain.Agent{
					Name:   args[0],
					Email:  email,
					Phone:  phone,
					Active: !inactive,
				})
				if err != nil {
					return err
				}
				return printJSON(a)
			})
		},
	}
	add.Flags().StringVar(&email, "email", "", "email address")
	add.Flags().StringVar(&phone, "phone", "", "phone number (E.164)")
	add.Flags().BoolVar(&inactive, "inactive", false, "mark the agent inactive")
	cmd.AddCommand(add)

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List agents with their current availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, cfg *config.Config, st *store.Store) error {
				agents, err := teamService(cfg, st).Agents(ctx, !all)
				if err != nil {
					return err
				}
				names := make([]string, len(agents))
				for i, a := range agents {
					names[i] = a.Name
				}
				if len(names) == 0 {
					fmt.Println("no agents")
					return nil
				}
				avail, err := reporting.NewEngine(st, cfg.Location(), logger).Availability(ctx, names)
				if err != nil {
					return err
				}
				for _, a := range avail {
					last := "-"
					if a.LastActivity != nil {
						last = a.LastActivity.In(cfg.Location()).Format(time.DateTime)
					}
					fmt.Printf("%-20s owned=%-4d leave=%-5t shift=%-5t last=%s\n",
						a.Agent, a.OwnedConversations, a.OnLeave, a.OnShift, last)
				}
				return nil
			})
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include inactive agents")
	cmd.AddCommand(list)

	return cmd
}
