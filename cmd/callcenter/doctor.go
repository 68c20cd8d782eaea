package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"callcenter/internal/config"
	"callcenter/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the installation",
		Long: `Verifies that the configuration, database, lock backend and platform
credentials are set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("callcenter doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed, failed, warned := 0, 0, 0

			// 1. Config file
			if _, err := os.Stat(cfgPath); err != nil {
				printWarn("Config file", fmt.Sprintf("not found at %s, using defaults and environment", cfgPath))
				warned++
			} else {
				printPass("Config file", cfgPath)
				passed++
			}

			// 2. Config loads and validates
			cfg, err := config.LoadOrDefault(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			// 3. Database reachable and migrated
			if err := checkDatabase(ctx, cfg); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", cfg.Database.Driver)
				passed++
			}

			// 4. Lock backend
			if cfg.Routing.LockBackend == "redis" {
				if err := checkRedis(ctx, cfg.Routing.RedisURL); err != nil {
					printFail("Redis lock", err.Error())
					failed++
				} else {
					printPass("Redis lock", "reachable")
					passed++
				}
			} else {
				printPass("Lock backend", "local (single instance)")
				passed++
			}

			// 5. Webhook security
			if cfg.Meta.VerifyToken == "" {
				printFail("Verify token", "meta.verifyToken is empty; Meta cannot subscribe the webhook")
				failed++
			} else {
				printPass("Verify token", "set")
				passed++
			}
			if cfg.Meta.AppSecret == "" {
				printWarn("App secret", "signatures are not checked")
				warned++
			} else {
				printPass("App secret", "set")
				passed++
			}

			// 6. Outbound platforms
			if !cfg.WhatsApp.Enabled && !cfg.Facebook.Enabled {
				printWarn("Outbound", "neither whatsapp nor facebook sending is enabled")
				warned++
			}
			if cfg.WhatsApp.Enabled {
				printPass("WhatsApp", "phone number "+cfg.WhatsApp.PhoneNumberID)
				passed++
			}
			if cfg.Facebook.Enabled {
				printPass("Facebook", "page token set")
				passed++
			}

			// 7. Port
			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				printWarn("Server port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("Server port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			// 8. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running 'callcenter serve'.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nThe service should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed.\n")
			}
			return nil
		},
	}
}

// checkDatabase opens the store, which also applies migrations, and
// compares the schema with the binary's.
func checkDatabase(ctx context.Context, cfg *config.Config) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	v, err := store.SchemaVersion(ctx, st.DB(), st.Driver())
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v != store.LatestSchemaVersion() {
		return fmt.Errorf("schema version %d, expected %d", v, store.LatestSchemaVersion())
	}
	return nil
}

func checkRedis(ctx context.Context, url string) error {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()
	return client.Ping(ctx).Err()
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
