package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace:            "~/.mediinterpret",
			LogLevel:             "info",
			DefaultProvider:      "gemini",
			MaxConcurrentStreams: 5,
			RequestTimeout:       120,
		},
		Providers: map[string]ProviderConfig{
			"gemini": {
				Enabled:      true,
				APIBase:      "https://generativelanguage.googleapis.com/v1beta",
				APIKey:       "${GEMINI_API_KEY}",
				DefaultModel: "gemini-2.5-flash",
			},
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:        false,
				EditIntervalMs: 1200,
			},
			Discord: DiscordConfig{
				EditIntervalMs: 1500,
			},
			Slack: SlackConfig{
				EditIntervalMs: 1500,
			},
			Webhook: WebhookConfig{
				Host: "127.0.0.1",
				Port: 9090,
				Path: "/webhook",
			},
			Web: WebConfig{
				Enabled: true,
				Host:    "127.0.0.1",
				Port:    8080,
			},
			CLI: CLIConfig{
				Enabled: true,
			},
		},
		Memory: MemoryConfig{
			Enabled:                   true,
			DBPath:                    "~/.mediinterpret/consultations.db",
			MaxHistoryPerConsultation: 200,
			RetentionDays:             90,
		},
		Attachments: AttachmentsConfig{
			Dir:          "~/.mediinterpret/attachments",
			MaxBytes:     20 << 20,
			AllowedTypes: []string{"image/*", "application/pdf"},
		},
		Export: ExportConfig{
			Enabled:        false,
			Headless:       true,
			TimeoutSeconds: 60,
		},
		Voice: VoiceConfig{
			Enabled: false,
			APIBase: "https://api.groq.com/openai/v1",
			APIKey:  "${GROQ_API_KEY}",
			Model:   "whisper-large-v3",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
