package main

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"mediinterpret/internal/config"
)

// providerOption is one provider the setup wizard offers.
type providerOption struct {
	name    string
	keyEnv  string // empty when no key is needed
	apiBase string
	model   string
}

var providerOptions = []providerOption{
	{"gemini", "GEMINI_API_KEY", "https://generativelanguage.googleapis.com/v1beta", "gemini-2.5-flash"},
	{"openai", "OPENAI_API_KEY", "https://api.openai.com/v1", "gpt-4o"},
	{"claude", "ANTHROPIC_API_KEY", "https://api.anthropic.com", "claude-sonnet-4-20250514"},
	{"ollama", "", "http://localhost:11434", "llava:13b"},
}

// wizard reads answers line by line. An empty answer, or the end of input,
// takes the default shown in brackets.
type wizard struct {
	in  *bufio.Reader
	out io.Writer
}

func (w *wizard) ask(question, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", question, def)
	} else {
		fmt.Fprintf(w.out, "%s: ", question)
	}
	line, err := w.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && (line != "" || def != "")) {
		return "", err
	}
	if ans := strings.TrimSpace(line); ans != "" {
		return ans, nil
	}
	return def, nil
}

func (w *wizard) confirm(question string, def bool) (bool, error) {
	d := "n"
	if def {
		d = "y"
	}
	ans, err := w.ask(question, d)
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.ToLower(ans), "y"), nil
}

// number asks for an integer in [lo, hi] and keeps def on anything else.
func (w *wizard) number(question string, def, lo, hi int) (int, error) {
	ans, err := w.ask(question, strconv.Itoa(def))
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(ans)
	if err != nil || n < lo || n > hi {
		fmt.Fprintf(w.out, "  %q is not between %d and %d, keeping %d\n", ans, lo, hi, def)
		return def, nil
	}
	return n, nil
}

func (w *wizard) list(question string, def []string) ([]string, error) {
	ans, err := w.ask(question, strings.Join(def, ","))
	if err != nil {
		return nil, err
	}
	var items []string
	for _, item := range strings.Split(ans, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items, nil
}

func (w *wizard) section(title string) {
	fmt.Fprintf(w.out, "\n%s\n%s\n", title, strings.Repeat("-", len(title)))
}

// runSetup asks for the provider, its key and the channels to enable, then
// writes the config file.
func runSetup(in io.Reader, out io.Writer) error {
	cfgPath := config.ExpandPath(resolveConfigPath())
	cfg, err := config.Load(cfgPath)
	if err != nil {
		cfg = config.Defaults()
	}
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]config.ProviderConfig)
	}

	w := &wizard{in: bufio.NewReader(in), out: out}
	for _, step := range []func(*wizard, *config.Config) error{setupProvider, setupChannels, setupExport} {
		if err := step(w, cfg); err != nil {
			return err
		}
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := config.Save(cfgPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nConfig saved to %s\n", cfgPath)
	fmt.Fprintln(out, "Next: `mediinterpret serve` for the web UI or `mediinterpret chat` in the terminal.")
	return nil
}

func setupProvider(w *wizard, cfg *config.Config) error {
	w.section("Model provider")
	for i, p := range providerOptions {
		if p.keyEnv != "" {
			fmt.Fprintf(w.out, "  %d) %s (key from %s)\n", i+1, p.name, p.keyEnv)
		} else {
			fmt.Fprintf(w.out, "  %d) %s (local, no key)\n", i+1, p.name)
		}
	}
	def := slices.IndexFunc(providerOptions, func(p providerOption) bool { return p.name == cfg.General.DefaultProvider }) + 1
	choice, err := w.number("Provider", max(def, 1), 1, len(providerOptions))
	if err != nil {
		return err
	}
	opt := providerOptions[choice-1]
	cfg.General.DefaultProvider = opt.name

	pc := cfg.Providers[opt.name]
	pc.Enabled = true
	pc.APIBase = cmp.Or(pc.APIBase, opt.apiBase)
	pc.DefaultModel = cmp.Or(pc.DefaultModel, opt.model)
	if opt.keyEnv != "" {
		fmt.Fprintf(w.out, "Paste the key, or keep ${%s} to read it from the environment.\n", opt.keyEnv)
		if pc.APIKey, err = w.ask("API key", cmp.Or(pc.APIKey, "${"+opt.keyEnv+"}")); err != nil {
			return err
		}
	}
	cfg.Providers[opt.name] = pc
	fmt.Fprintf(w.out, "  Using %s with %s\n", opt.name, pc.DefaultModel)
	return nil
}

func setupChannels(w *wizard, cfg *config.Config) error {
	w.section("Channels")
	var err error
	web := &cfg.Channels.Web
	if web.Enabled, err = w.confirm("Enable the web UI", true); err != nil {
		return err
	}
	if web.Enabled {
		if web.Port, err = w.number("Web port", web.Port, 1, 65535); err != nil {
			return err
		}
	}

	tg := &cfg.Channels.Telegram
	if tg.Enabled, err = w.confirm("Enable the Telegram bot", false); err != nil {
		return err
	}
	if !tg.Enabled {
		return nil
	}
	if tg.Token, err = w.ask("Bot token from @BotFather", tg.Token); err != nil {
		return err
	}
	tg.AllowFrom, err = w.list("Allowed user IDs, comma separated (empty allows everyone)", tg.AllowFrom)
	return err
}

func setupExport(w *wizard, cfg *config.Config) error {
	w.section("PDF export")
	chrome := findChrome()
	if chrome != "" {
		fmt.Fprintf(w.out, "  Found Chrome at %s\n", chrome)
	}
	var err error
	cfg.Export.Enabled, err = w.confirm("Enable PDF export (needs Chrome or Chromium)", chrome != "")
	return err
}
