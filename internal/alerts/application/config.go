package application

import (
	"errors"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// NotifyConfig defines outbound notification settings.
type NotifyConfig struct {
	WebhookURL     string `yaml:"webhook_url"`
	TemplatePath   string `yaml:"template_path"`
	CooldownSecs   int    `yaml:"cooldown_seconds"`
	DedupeSecs     int    `yaml:"dedupe_seconds"`
	TimeoutSecs    int    `yaml:"timeout_seconds"`
	MinSeverity    string `yaml:"min_severity"`
	DisableWebhook bool   `yaml:"disable_webhook"`
}

// EngineConfig defines alert engine configuration.
type EngineConfig struct {
	HysteresisTenths      int          `yaml:"hysteresis_tenths"`
	DefaultConfirmSeconds int          `yaml:"default_confirm_seconds"`
	EvalWorkers           int          `yaml:"eval_workers"`
	DispatchBatchSize     int          `yaml:"dispatch_batch_size"`
	Notify                NotifyConfig `yaml:"notify"`
}

// LoadEngineConfig loads config from yaml file (ENGINE_CONFIG path) with
// env fallbacks.
func LoadEngineConfig() (EngineConfig, error) {
	cfg := EngineConfig{
		HysteresisTenths:      getenvIntDefault("ENGINE_HYSTERESIS_TENTHS", 5),
		DefaultConfirmSeconds: getenvIntDefault("ENGINE_DEFAULT_CONFIRM_SECONDS", 600),
		EvalWorkers:           getenvIntDefault("ENGINE_EVAL_WORKERS", 8),
		DispatchBatchSize:     getenvIntDefault("ENGINE_DISPATCH_BATCH", 50),
		Notify: NotifyConfig{
			WebhookURL:   os.Getenv("ALERT_WEBHOOK_URL"),
			TemplatePath: os.Getenv("ALERT_TEMPLATE_PATH"),
			CooldownSecs: getenvIntDefault("ALERT_COOLDOWN_SECONDS", 300),
			DedupeSecs:   getenvIntDefault("ALERT_DEDUPE_SECONDS", 60),
			TimeoutSecs:  getenvIntDefault("ALERT_WEBHOOK_TIMEOUT_SECONDS", 5),
		},
	}

	if path := os.Getenv("ENGINE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.HysteresisTenths < 0 {
		return cfg, errors.New("engine config: negative hysteresis")
	}
	if cfg.DefaultConfirmSeconds <= 0 {
		return cfg, errors.New("engine config: confirm time must be positive")
	}
	if cfg.EvalWorkers <= 0 {
		cfg.EvalWorkers = 8
	}
	if cfg.DispatchBatchSize <= 0 {
		cfg.DispatchBatchSize = 50
	}
	return cfg, nil
}

// DefaultConfirm returns the confirmation delay as a duration.
func (c EngineConfig) DefaultConfirm() time.Duration {
	return time.Duration(c.DefaultConfirmSeconds) * time.Second
}

// Cooldown returns the notification cooldown window.
func (c NotifyConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSecs) * time.Second
}

// Dedupe returns the notification dedupe window.
func (c NotifyConfig) Dedupe() time.Duration {
	return time.Duration(c.DedupeSecs) * time.Second
}

// Timeout returns the webhook request timeout.
func (c NotifyConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
