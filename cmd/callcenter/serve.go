package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callcenter/internal/bus"
	"callcenter/internal/channel"
	"callcenter/internal/config"
	"callcenter/internal/conversation"
	"callcenter/internal/ingest"
	"callcenter/internal/notify"
	"callcenter/internal/reporting"
	"callcenter/internal/team"

	"github.com/spf13/cobra"
)

const defaultCommandTimeout = 30 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook and API server",
		Long:  "Serves the Meta webhook, agent send endpoint, queries and reports. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	locks, closeLocks, err := newLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocks()

	events := bus.NewEventBus(1000, logger)
	agg := conversation.NewAggregator(st, logger)
	router := conversation.NewRouter(st, cfg.Routing.DefaultAgent, logger)
	recorder := ingest.NewRecorder(st, agg, locks, events, logger)
	inbound := ingest.NewInbound(router, recorder, st, events, logger)
	outbound := ingest.NewOutbound(recorder, logger, senders(cfg)...)

	loc := cfg.Location()
	reports := reporting.NewEngine(st, loc, logger)
	teamSvc := team.NewService(st, events, team.Config{
		LeaveLeadDays: cfg.Team.LeaveLeadDays,
		Location:      loc,
	}, logger)
	defer team.SubscribeAlerts(events, newNotifier(cfg), logger)()

	var limiter *channel.RateLimiter
	if cfg.Server.RateLimitPerMinute > 0 {
		limiter = channel.NewRateLimiter(float64(cfg.Server.RateLimitPerMinute), cfg.Server.RateLimitBurst)
	}
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Endpoint
	}
	if cfg.Meta.VerifyToken == "" {
		logger.Warn("meta.verifyToken is empty; webhook verification will be refused")
	}
	if cfg.Meta.AppSecret == "" {
		logger.Warn("meta.appSecret is empty; webhook signatures are not checked")
	}

	gw := channel.NewAPIGateway(channel.APIGatewayConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		CORSOrigins:  cfg.Server.CORSOrigins,
		RateLimit:    limiter,
		WebhookPath:  cfg.Meta.WebhookPath,
		MetricsPath:  metricsPath,
		Version:      version,
		Webhook: channel.NewWebhook(channel.WebhookConfig{
			VerifyToken: cfg.Meta.VerifyToken,
			AppSecret:   cfg.Meta.AppSecret,
			Inbound:     inbound,
			Logger:      logger,
		}),
		Outbound:      outbound,
		Store:         st,
		Conversations: agg,
		Router:        router,
		Reports:       reports,
		Team:          teamSvc,
		Events:        events,
		Logger:        logger,
	})

	logger.Info("callcenter starting",
		"version", version,
		"driver", st.Driver(),
		"default_agent", cfg.Routing.DefaultAgent,
		"whatsapp", cfg.WhatsApp.Enabled,
		"facebook", cfg.Facebook.Enabled,
	)
	if err := gw.Start(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// newLocker picks the per-conversation lock. Redis serializes recording
// across instances sharing one database.
func newLocker(ctx context.Context, cfg *config.Config) (conversation.Locker, func(), error) {
	if cfg.Routing.LockBackend != "redis" {
		return conversation.NewKeyLock(), func() {}, nil
	}
	ttl := time.Duration(cfg.Routing.LockTTLSeconds) * time.Second
	rl, err := conversation.NewRedisLock(ctx, cfg.Routing.RedisURL, ttl, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("redis lock: %w", err)
	}
	logger.Info("using redis conversation lock", "ttl", ttl)
	return rl, func() { rl.Close() }, nil
}

func senders(cfg *config.Config) []ingest.Sender {
	var out []ingest.Sender
	if cfg.WhatsApp.Enabled {
		out = append(out, channel.NewWhatsAppSender(channel.WhatsAppSenderConfig{
			APIBase:       cfg.Meta.GraphAPIBase,
			PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
			AccessToken:   cfg.WhatsApp.AccessToken,
			Logger:        logger,
		}))
	}
	if cfg.Facebook.Enabled {
		out = append(out, channel.NewMessengerSender(channel.MessengerSenderConfig{
			APIBase:         cfg.Meta.GraphAPIBase,
			PageAccessToken: cfg.Facebook.PageAccessToken,
			Logger:          logger,
		}))
	}
	return out
}

func newNotifier(cfg *config.Config) team.Notifier {
	tg := cfg.Notify.Telegram
	if !tg.Enabled {
		return notify.Nop{}
	}
	return notify.NewTelegram(notify.TelegramConfig{
		Token:     tg.Token,
		ChatID:    tg.ChatID,
		ParseMode: tg.ParseMode,
		Logger:    logger,
	})
}
