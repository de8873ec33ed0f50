package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"tradedesk/internal/config"
	"tradedesk/internal/playbook"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your tradedesk installation",
		Long: `Verifies that tradedesk's configuration, providers, journal database,
playbooks and server port are correctly set up. Reports pass/fail per check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("tradedesk doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				failed++
				fmt.Printf("\nRun 'tradedesk init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\nResults: %d passed, %d failed\n", passed, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Journal database writable
			if err := checkDatabase(cfg.Journal.DBPath); err != nil {
				printFail("Journal database", err.Error())
				failed++
			} else {
				printPass("Journal database", cfg.Journal.DBPath)
				passed++
			}

			// 4. Playbook library loads
			if _, err := os.Stat(cfg.Playbooks.Dir); err != nil {
				printWarn("Playbooks", fmt.Sprintf("directory not found: %s", cfg.Playbooks.Dir))
				warned++
			} else if lib, err := playbook.Load(cfg.Playbooks.Dir, logger); err != nil {
				printFail("Playbooks", err.Error())
				failed++
			} else {
				printPass("Playbooks", fmt.Sprintf("%d loaded from %s", len(lib.All()), cfg.Playbooks.Dir))
				passed++
			}

			// 5. Providers: a disabled provider degrades turns, it does not
			// stop the server, so missing keys are warnings.
			providerCount := 0
			if cfg.Providers.Chat.Enabled {
				providerCount++
				if cfg.Providers.Chat.APIKey == "" {
					printWarn("Provider: chat", "enabled but no API key configured")
					warned++
				} else {
					printPass("Provider: chat", "configured")
					passed++
				}
			}
			if cfg.Providers.Generate.Enabled {
				providerCount++
				if cfg.Providers.Generate.APIKey == "" {
					printWarn("Provider: generate", "enabled but no API key configured")
					warned++
				} else {
					printPass("Provider: generate", "configured")
					passed++
				}
			}
			if providerCount == 0 {
				printFail("Providers", "no providers enabled")
				failed++
			}

			// 6. Broker configuration
			switch cfg.Broker.Mode {
			case "", "synthetic":
				if !cfg.Market.Enabled {
					printWarn("Broker", "synthetic venue without the market feed cannot fill market orders")
					warned++
				} else {
					printPass("Broker", "synthetic (paper fills against the local feed)")
					passed++
				}
			case "rest":
				if cfg.Broker.APIBase == "" || cfg.Broker.Username == "" || cfg.Broker.Password == "" {
					printFail("Broker", "rest mode needs apiBase, username and password")
					failed++
				} else {
					printPass("Broker", cfg.Broker.APIBase)
					passed++
				}
			default:
				printFail("Broker", fmt.Sprintf("unknown mode %q", cfg.Broker.Mode))
				failed++
			}

			// 7. Server port available
			if err := checkPort(cfg.Server.Port); err != nil {
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

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running tradedesk.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\ntradedesk should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! The desk is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
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
