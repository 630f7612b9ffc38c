package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mediinterpret/internal/channel"
	"mediinterpret/internal/chat"
	"mediinterpret/internal/config"
	"mediinterpret/internal/consult"
	"mediinterpret/internal/domain"
	"mediinterpret/internal/export"
	"mediinterpret/internal/markdown"
	"mediinterpret/internal/provider"
)

var (
	version    = "0.3.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
	logLevel   string // overridable via --log-level flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:           "mediinterpret",
		Short:         "MediInterpret: AI help for reading medical reports",
		Long:          "MediInterpret explains imaging reports, lab results, treatment options and medications through a web UI, Telegram or the terminal.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.mediinterpret/config.json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override general.logLevel (debug, info, warn, error)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(askCmd())
	root.AddCommand(renderCmd())
	root.AddCommand(categoriesCmd())
	root.AddCommand(listCmd())
	root.AddCommand(exportCmd())
	root.AddCommand(pruneCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(daemonCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	var force, interactive bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the config file and data directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			if interactive {
				return runSetup(os.Stdin, os.Stdout)
			}
			cfgPath := config.ExpandPath(resolveConfigPath())
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", cfgPath)
			}
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			for _, dir := range []string{cfg.General.Workspace, cfg.Attachments.Dir} {
				if err := os.MkdirAll(config.ExpandPath(dir), 0o755); err != nil {
					return err
				}
			}
			logger.Info("initialized", "config", cfgPath, "workspace", config.ExpandPath(cfg.General.Workspace))
			fmt.Println("Set GEMINI_API_KEY (or edit the config), then run 'mediinterpret serve' or 'mediinterpret chat'.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "ask for provider, key and channels")
	return cmd
}

// --- serve ---

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the web UI and chat bots",
		Long:  "Starts every enabled channel (Web, Telegram, Discord, Slack). Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.chat.Healthy(ctx); err != nil {
		a.logger.Warn("provider unhealthy at startup", "provider", a.chat.ProviderName(), "err", err)
	} else {
		a.logger.Info("provider healthy", "provider", a.chat.ProviderName())
	}

	var channels []domain.Channel
	if a.cfg.Channels.Web.Enabled {
		wc := channel.WebConfig{
			Host:       a.cfg.Channels.Web.Host,
			Port:       a.cfg.Channels.Web.Port,
			Logger:     a.logger,
			Config:     a.cfg,
			ConfigPath: a.cfgPath,
			Version:    version,
			Chat:       a.chat,
			Encoder:    a.encoder,
			Files:      a.files,
		}
		if a.exporter != nil {
			wc.Exporter = a.exporter
		}
		channels = append(channels, channel.NewWeb(wc))
	}
	if a.cfg.Channels.Telegram.Enabled && a.cfg.Channels.Telegram.Token != "" {
		tc := channel.TelegramConfig{
			Token:        a.cfg.Channels.Telegram.Token,
			AllowFrom:    a.cfg.Channels.Telegram.AllowFrom,
			EditInterval: time.Duration(a.cfg.Channels.Telegram.EditIntervalMs) * time.Millisecond,
			Chat:         a.chat,
			Encoder:      a.encoder,
			Logger:       a.logger,
		}
		if a.cfg.Voice.Enabled {
			tc.Transcriber = provider.NewTranscriber(provider.TranscriberConfig{
				APIBase:  a.cfg.Voice.APIBase,
				APIKey:   a.cfg.Voice.APIKey,
				Model:    a.cfg.Voice.Model,
				Language: a.cfg.Voice.Language,
				Prompt:   a.cfg.Voice.Prompt,
				Logger:   a.logger,
			})
		}
		channels = append(channels, channel.NewTelegram(tc))
	} else {
		a.logger.Info("telegram channel disabled")
	}
	if dc := a.cfg.Channels.Discord; dc.Enabled && dc.Token != "" {
		channels = append(channels, channel.NewDiscord(channel.DiscordConfig{
			Token:        dc.Token,
			GuildID:      dc.GuildID,
			AllowFrom:    dc.AllowFrom,
			EditInterval: time.Duration(dc.EditIntervalMs) * time.Millisecond,
			Chat:         a.chat,
			Encoder:      a.encoder,
			Logger:       a.logger,
		}))
	}
	if sc := a.cfg.Channels.Slack; sc.Enabled && sc.BotToken != "" && sc.AppToken != "" {
		channels = append(channels, channel.NewSlack(channel.SlackConfig{
			BotToken:     sc.BotToken,
			AppToken:     sc.AppToken,
			AllowFrom:    sc.AllowFrom,
			EditInterval: time.Duration(sc.EditIntervalMs) * time.Millisecond,
			Chat:         a.chat,
			Logger:       a.logger,
		}))
	}
	if wh := a.cfg.Channels.Webhook; wh.Enabled {
		channels = append(channels, channel.NewWebhook(channel.WebhookConfig{
			Host:    wh.Host,
			Port:    wh.Port,
			Path:    wh.Path,
			Secret:  wh.Secret,
			Chat:    a.chat,
			Encoder: a.encoder,
			Logger:  a.logger,
		}))
	}
	if len(channels) == 0 {
		return errors.New("no channel enabled: enable channels.web, telegram, discord, slack or webhook")
	}

	a.prune(ctx)
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.prune(ctx)
			}
		}
	}()

	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch domain.Channel) {
			defer wg.Done()
			if err := ch.Start(ctx); err != nil {
				a.logger.Error("channel stopped", "channel", ch.Name(), "err", err)
			}
		}(ch)
	}

	a.logger.Info("mediinterpret started. Press Ctrl+C to stop.", "version", version)
	<-ctx.Done()
	a.logger.Info("shutting down...")

	const shutdownTimeout = 10 * time.Second
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range channels {
			if err := ch.Stop(); err != nil {
				a.logger.Warn("channel stop failed", "channel", ch.Name(), "err", err)
			}
		}
		wg.Wait()
	}()

	select {
	case <-done:
		a.logger.Info("shutdown complete")
		return nil
	case <-time.After(shutdownTimeout):
		a.logger.Warn("shutdown timed out, forcing exit")
		return errors.New("shutdown timed out")
	}
}

// --- chat / ask ---

func chatCmd() *cobra.Command {
	var typ string
	var plain bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive consultation in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var t domain.ConsultationType
			if typ != "" {
				parsed, err := consult.ParseType(typ)
				if err != nil {
					return err
				}
				t = parsed
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			cli := channel.NewCLI(channel.CLIConfig{
				Chat:    a.chat,
				Encoder: a.encoder,
				Logger:  a.logger,
				Plain:   plain || a.cfg.Channels.CLI.Plain,
				Type:    t,
			})
			return cli.Start(ctx)
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "", "consultation type (imaging, lab_test, decision, medication)")
	cmd.Flags().BoolVar(&plain, "plain", false, "disable colors and the spinner")
	return cmd
}

func askCmd() *cobra.Command {
	var typ, file string
	var plain, raw bool
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a single question and print the answer",
		Example: `  mediinterpret ask -t lab_test "Is a TSH of 5.2 high?"
  mediinterpret ask -t imaging -f report.pdf`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			t := consult.DefaultType
			if typ != "" {
				parsed, err := consult.ParseType(typ)
				if err != nil {
					return err
				}
				t = parsed
			}
			question := strings.Join(args, " ")

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var att *domain.Attachment
			if file != "" {
				att, err = a.encoder.FromFile(config.ExpandPath(file))
				if err != nil {
					return fmt.Errorf("attach %s: %w", file, err)
				}
			}
			if strings.TrimSpace(question) == "" && att == nil {
				return chat.ErrEmptyMessage
			}

			s, err := a.chat.Start(ctx, t, "cli")
			if err != nil {
				return err
			}
			defer a.chat.Back(s.ID)

			var printed int
			msg, err := a.chat.Send(ctx, s.ID, question, att, func(u chat.Update) {
				if raw {
					fmt.Print(u.Text[printed:])
					printed = len(u.Text)
				}
			})
			if err != nil {
				return err
			}
			if raw {
				fmt.Println()
			} else if plain || a.cfg.Channels.CLI.Plain {
				fmt.Println(markdown.RenderText(markdown.Parse(msg.Text)))
			} else {
				fmt.Println(markdown.RenderTerminal(markdown.Parse(msg.Text), markdown.DefaultTheme()))
			}
			if msg.IsError {
				return errors.New("the model did not answer")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "", "consultation type (default lab_test)")
	cmd.Flags().StringVarP(&file, "file", "f", "", "image or PDF to attach")
	cmd.Flags().BoolVar(&plain, "plain", false, "print plain text")
	cmd.Flags().BoolVar(&raw, "raw", false, "stream the raw markdown as it arrives")
	return cmd
}

// --- render ---

func renderCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "render [file]",
		Short: "Render model markdown with the block renderer (reads stdin without a file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = os.Stdin
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			data, err := io.ReadAll(in)
			if err != nil {
				return err
			}
			out, err := renderMarkdown(string(data), format)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "terminal", "output format: terminal, text, html, telegram, json")
	return cmd
}

func renderMarkdown(text, format string) (string, error) {
	blocks := markdown.Parse(text)
	switch format {
	case "terminal":
		return markdown.RenderTerminal(blocks, markdown.DefaultTheme()), nil
	case "text":
		return markdown.RenderText(blocks), nil
	case "html":
		return markdown.RenderHTML(blocks), nil
	case "telegram":
		return markdown.RenderTelegram(blocks), nil
	case "json":
		data, err := json.MarshalIndent(blocks, "", "  ")
		return string(data), err
	}
	return "", fmt.Errorf("unknown format %q", format)
}

// --- catalog & history ---

func categoriesCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "categories",
		Short: "List consultation types",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			catalog, err := consult.Load(cfg.Catalog.OverridesPath, logger)
			if err != nil {
				return err
			}
			if asJSON {
				data, _ := json.MarshalIndent(catalog.List(), "", "  ")
				fmt.Println(string(data))
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tTITLE\tDESCRIPTION")
			for _, c := range catalog.List() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", c.Type, c.Title, c.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON including welcome text and suggestions")
	return cmd
}

func listCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved consultations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.chat.List(ctx, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tCHANNEL\tUPDATED\tTITLE")
			for _, c := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Type, c.Channel, c.UpdatedAt.Format("2006-01-02 15:04"), c.Title)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum consultations to list")
	return cmd
}

func exportCmd() *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export [consultation-id]",
		Short: "Export a saved consultation as HTML or PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.chat.Get(ctx, args[0])
			if err != nil {
				return fmt.Errorf("consultation %s: %w", args[0], err)
			}
			defer a.chat.Back(s.ID)
			t := export.Transcript{
				Consultation: s.Consultation,
				Category:     a.chat.Catalog().Get(s.Type).Title,
				Messages:     s.Messages,
			}

			var data []byte
			switch format {
			case "html":
				data, err = export.RenderHTML(t)
			case "pdf":
				exp := a.exporter
				if exp == nil {
					// The command is an explicit request, so export.enabled is not required.
					exp = export.NewPDFExporter(export.PDFConfig{
						ProfileDir: a.cfg.Export.ProfileDir,
						Headless:   true,
						Timeout:    time.Duration(a.cfg.Export.TimeoutSeconds) * time.Second,
						Logger:     a.logger,
					})
				}
				data, err = exp.Transcript(ctx, t)
			default:
				return fmt.Errorf("unknown format %q (html, pdf)", format)
			}
			if err != nil {
				return err
			}

			if output == "" {
				output = fmt.Sprintf("consultation-%s.%s", s.ID[:min(8, len(s.ID))], format)
			}
			if output == "-" {
				_, err = os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			a.logger.Info("exported", "id", s.ID, "file", output, "bytes", len(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "pdf", "html or pdf")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (- for stdout)")
	return cmd
}

func pruneCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete consultations older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			if days <= 0 {
				days = a.cfg.Memory.RetentionDays
			}
			n, err := a.chat.Prune(ctx, time.Duration(days)*24*time.Hour)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d consultation(s) older than %d days.\n", n, days)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (default memory.retentionDays)")
	return cmd
}

// --- status & config ---

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, provider health and storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false, "err", err)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			factory := provider.NewFactory(cfg, logger)
			for _, name := range factory.Names() {
				p, err := factory.Get(name)
				if err != nil {
					logger.Info("provider", "name", name, "healthy", false, "err", err)
					continue
				}
				if err := p.Healthy(ctx); err != nil {
					logger.Info("provider", "name", name, "healthy", false, "err", err)
				} else {
					logger.Info("provider", "name", name, "healthy", true, "default", name == cfg.General.DefaultProvider)
				}
			}

			if !cfg.Memory.Enabled {
				logger.Info("memory", "enabled", false)
				return nil
			}
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			st, err := a.store.Stats(ctx)
			if err != nil {
				return err
			}
			logger.Info("memory", "db", cfg.Memory.DBPath, "consultations", st.Consultations, "messages", st.Messages, "attachments", st.Attachments)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. general.defaultProvider)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. channels.web.port 9090)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	var asPaths bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !asPaths {
				data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
				fmt.Println(string(data))
				return nil
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			for _, p := range slices.Sorted(maps.Keys(paths)) {
				v, _ := json.Marshal(paths[p])
				fmt.Printf("%s = %s\n", p, v)
			}
			return nil
		},
	}
	listCmd.Flags().BoolVar(&asPaths, "paths", false, "print one settable path per line")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
