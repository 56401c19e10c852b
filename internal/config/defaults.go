package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:             "info",
			LogMaxSizeMB:         10,
			LogMaxBackups:        3,
			LogMaxAgeDays:        28,
			MaxConcurrentIntents: 4,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled: false,
			},
		},
		Confirm: ConfirmConfig{
			TimeoutSeconds:       120,
			SweepIntervalSeconds: 30,
		},
		Provider: ProviderConfig{
			Mode:                  "auto",
			CommandTimeoutSeconds: 30,
		},
		RateLimit: RateLimitConfig{
			PerMinute: 30,
			Burst:     10,
		},
		Audit: AuditConfig{
			Enabled:       true,
			DBPath:        "~/.remotebot/audit.db",
			RetentionDays: 90,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9091",
		},
	}
}
