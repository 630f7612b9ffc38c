package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"mediinterpret/internal/config"
	"mediinterpret/internal/consult"
	"mediinterpret/internal/memory"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the MediInterpret installation",
		Long: `Verifies the configuration, provider keys, database, attachment
directory, web port and the Chrome binary used for PDF export.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			fmt.Printf("MediInterpret Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r doctorReport

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'mediinterpret init' to create a default configuration.\n")
				return nil
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				fmt.Printf("\n%d passed, %d failed\n", r.passed, r.failed)
				return fmt.Errorf("config invalid")
			}
			r.pass("Config validation", "valid")

			r.dir("Workspace", cfg.General.Workspace)

			if cfg.Memory.Enabled {
				switch version, err := checkDatabase(cfg.Memory.DBPath); {
				case err != nil:
					r.fail("Database", err.Error())
				case version < memory.LatestSchema():
					r.warn("Database", fmt.Sprintf("%s (schema v%d, upgraded to v%d on next start)", cfg.Memory.DBPath, version, memory.LatestSchema()))
				default:
					r.pass("Database", fmt.Sprintf("%s (schema v%d)", cfg.Memory.DBPath, version))
				}
				r.dir("Attachments", cfg.Attachments.Dir)
			} else {
				r.warn("Database", "memory disabled, consultations are not saved")
			}

			if _, err := consult.Load(cfg.Catalog.OverridesPath, logger); err != nil {
				r.fail("Catalog overrides", err.Error())
			} else if cfg.Catalog.OverridesPath != "" {
				r.pass("Catalog overrides", cfg.Catalog.OverridesPath)
			}

			providerCount := 0
			for name, p := range cfg.Providers {
				if !p.Enabled {
					continue
				}
				providerCount++
				if p.APIKey == "" && name != "ollama" {
					r.warn("Provider: "+name, "enabled but no API key (set GEMINI_API_KEY or API_KEY)")
				} else {
					r.pass("Provider: "+name, "configured")
				}
			}
			if providerCount == 0 {
				r.fail("Providers", "no providers enabled")
			}

			if cfg.Channels.Web.Enabled {
				if err := checkPort(cfg.Channels.Web.Host, cfg.Channels.Web.Port); err != nil {
					r.warn("Web port", fmt.Sprintf("port %d may be in use: %v", cfg.Channels.Web.Port, err))
				} else {
					r.pass("Web port", fmt.Sprintf(":%d available", cfg.Channels.Web.Port))
				}
			}
			for _, bot := range []struct {
				name    string
				enabled bool
				allow   []string
			}{
				{"Telegram", cfg.Channels.Telegram.Enabled, cfg.Channels.Telegram.AllowFrom},
				{"Discord", cfg.Channels.Discord.Enabled, cfg.Channels.Discord.AllowFrom},
				{"Slack", cfg.Channels.Slack.Enabled, cfg.Channels.Slack.AllowFrom},
			} {
				if bot.enabled && len(bot.allow) == 0 {
					r.warn(bot.name, "no allowFrom list, anyone can use the bot")
				}
			}
			if cfg.Channels.Webhook.Enabled && cfg.Channels.Webhook.Secret == "" {
				r.warn("Webhook", "no secret, requests are not signed")
			}
			if cfg.Voice.Enabled && cfg.Voice.APIKey == "" {
				r.warn("Voice", "voice.apiKey is empty, transcription requests will be rejected")
			}

			if cfg.Export.Enabled {
				if bin := findChrome(); bin == "" {
					r.fail("PDF export", "no Chrome or Chromium binary on PATH")
				} else {
					r.pass("PDF export", bin)
				}
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
			if r.failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running MediInterpret.\n")
				return fmt.Errorf("%d check(s) failed", r.failed)
			}
			if r.warned > 0 {
				fmt.Printf("\nMediInterpret should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! MediInterpret is ready to run.\n")
			}
			return nil
		},
	}
}

type doctorReport struct {
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *doctorReport) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (r *doctorReport) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *doctorReport) dir(check, path string) {
	info, err := os.Stat(path)
	switch {
	case err != nil:
		r.warn(check, fmt.Sprintf("not found: %s (created on first run)", path))
	case !info.IsDir():
		r.fail(check, fmt.Sprintf("not a directory: %s", path))
	default:
		r.pass(check, path)
	}
}

func checkDatabase(dbPath string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return 0, fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return 0, fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return 0, fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return 0, fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return memory.SchemaVersion(ctx, db)
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func findChrome() string {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	if _, err := os.Stat("/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"); err == nil {
		return "/Applications/Google Chrome.app"
	}
	return ""
}
