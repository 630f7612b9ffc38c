package provider

import (
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"mediinterpret/internal/config"
	"mediinterpret/internal/domain"
)

// Options is what a constructor gets to build one configured provider.
type Options struct {
	Name   string
	Config config.ProviderConfig
	Client *http.Client
	Logger *slog.Logger
}

// Constructor builds a provider from its options.
type Constructor func(Options) domain.Provider

// builtins are keyed by provider name. Names not listed here are treated
// as OpenAI-compatible when they have an API base.
var builtins = map[string]Constructor{
	"gemini": func(o Options) domain.Provider {
		return NewGemini(GeminiConfig{
			APIKey: o.Config.APIKey, APIBase: o.Config.APIBase, Model: o.Config.DefaultModel,
			MaxTokens: o.Config.MaxTokens, Temperature: o.Config.Temperature,
			Client: o.Client, Logger: o.Logger,
		})
	},
	"openai": newOpenAICompatible,
	"ollama": func(o Options) domain.Provider {
		return NewOllama(OllamaConfig{
			APIBase: o.Config.APIBase, APIKey: o.Config.APIKey, DefaultModel: o.Config.DefaultModel,
			MaxTokens: o.Config.MaxTokens, Temperature: o.Config.Temperature,
			Client: o.Client, Logger: o.Logger,
		})
	},
	"claude": func(o Options) domain.Provider {
		return NewClaude(ClaudeConfig{
			APIKey: o.Config.APIKey, APIBase: o.Config.APIBase, Model: o.Config.DefaultModel,
			MaxTokens: o.Config.MaxTokens, Temperature: o.Config.Temperature,
			Client: o.Client, Logger: o.Logger,
		})
	},
}

func newOpenAICompatible(o Options) domain.Provider {
	return NewOpenAI(OpenAIConfig{
		Name: o.Name, APIKey: o.Config.APIKey, APIBase: o.Config.APIBase, Model: o.Config.DefaultModel,
		MaxTokens: o.Config.MaxTokens, Temperature: o.Config.Temperature,
		Client: o.Client, Logger: o.Logger,
	})
}

// Factory builds providers from config and keeps one instance per name, so
// a provider's rate limiter is shared by every consultation.
type Factory struct {
	cfg    *config.Config
	logger *slog.Logger
	client *http.Client

	mu    sync.Mutex
	ctors map[string]Constructor
	built map[string]domain.Provider
}

func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	return &Factory{
		cfg:    cfg,
		logger: logger,
		client: SharedHTTPClient(time.Duration(cfg.General.RequestTimeout) * time.Second),
		ctors:  maps.Clone(builtins),
		built:  make(map[string]domain.Provider),
	}
}

// Register adds or replaces the constructor for name. A provider already
// built under that name is rebuilt on the next Get.
func (f *Factory) Register(name string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctors[name] = ctor
	delete(f.built, name)
}

// Get returns the named provider, or the default provider for "". Providers
// with rateLimitPerMinute set come wrapped in a rate limiter.
func (f *Factory) Get(name string) (domain.Provider, error) {
	if name == "" {
		name = f.cfg.General.DefaultProvider
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.built[name]; ok {
		return p, nil
	}

	pc, ok := f.cfg.Providers[name]
	switch {
	case !ok:
		return nil, fmt.Errorf("unknown provider: %s", name)
	case !pc.Enabled:
		return nil, fmt.Errorf("provider %s is disabled", name)
	}
	ctor, ok := f.ctors[name]
	if !ok {
		if pc.APIBase == "" {
			return nil, fmt.Errorf("provider %s: not built in and no apiBase configured", name)
		}
		ctor = newOpenAICompatible
	}

	p := ctor(Options{Name: name, Config: pc, Client: f.client, Logger: f.logger})
	if pc.RateLimitPerMin > 0 {
		p = NewRateLimited(p, pc.RateLimitPerMin)
	}
	f.built[name] = p
	return p, nil
}

// Primary returns the provider consultations should use: the failover chain
// when one is configured, otherwise the default provider. Chain entries that
// cannot be built are skipped with a warning.
func (f *Factory) Primary() (domain.Provider, error) {
	chain := f.cfg.General.FailoverChain
	if len(chain) == 0 {
		return f.Get("")
	}
	var usable []domain.Provider
	for _, name := range chain {
		p, err := f.Get(name)
		if err != nil {
			f.logger.Warn("failover: skipping provider", "provider", name, "err", err)
			continue
		}
		usable = append(usable, p)
	}
	switch len(usable) {
	case 0:
		return nil, fmt.Errorf("no usable provider in failover chain %v", chain)
	case 1:
		return usable[0], nil
	}
	return NewFailoverProvider(usable, f.logger), nil
}

// Names returns the enabled provider names, sorted.
func (f *Factory) Names() []string {
	enabled := maps.Clone(f.cfg.Providers)
	maps.DeleteFunc(enabled, func(_ string, pc config.ProviderConfig) bool { return !pc.Enabled })
	return slices.Sorted(maps.Keys(enabled))
}
