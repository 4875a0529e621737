package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rahul/kuruma/internal/drive"
	"github.com/rahul/kuruma/internal/motion"
)

const EnvPrefix = "KURUMA"

type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	Limits      motion.Limits     `mapstructure:"limits"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	Actuator    ActuatorConfig    `mapstructure:"actuator"`
	Provider    ProviderConfig    `mapstructure:"provider"`
	Gateway     GatewaysConfig    `mapstructure:"gateway"`
	Confirm     ConfirmConfig     `mapstructure:"confirm"`
	Policy      PolicyConfig      `mapstructure:"policy"`
	Store       StoreConfig       `mapstructure:"store"`
}

type AppConfig struct {
	Name      string `mapstructure:"name"`
	Workspace string `mapstructure:"workspace"`
	// Dashboard enables the live terminal status line in serve mode.
	Dashboard bool `mapstructure:"dashboard"`
}

type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	AddSource   bool   `mapstructure:"add_source"`
	ServiceName string `mapstructure:"service_name"`
	LogFile     string `mapstructure:"log_file"`
	LLMLogFile  string `mapstructure:"llm_log_file"`
	MaxSize     int    `mapstructure:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"`
	Compress    bool   `mapstructure:"compress"`
}

type CalibrationConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

type ActuatorConfig struct {
	// Kind is "sim" or "mqtt".
	Kind string           `mapstructure:"kind"`
	MQTT drive.MQTTConfig `mapstructure:"mqtt"`
	// TimeScale stretches or shrinks step durations; only honoured by sim.
	TimeScale float64 `mapstructure:"time_scale"`
}

type ProviderConfig struct {
	Name        string        `mapstructure:"name"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	PromptsDir  string        `mapstructure:"prompts_dir"`
}

type GatewaysConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Console  bool           `mapstructure:"console"`
}

type TelegramConfig struct {
	Token          string  `mapstructure:"token"`
	Enabled        bool    `mapstructure:"enabled"`
	AllowedChatIDs []int64 `mapstructure:"allowed_chat_ids"`
}

type ConfirmConfig struct {
	Always    bool          `mapstructure:"always"`
	MultiStep bool          `mapstructure:"multi_step"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type PolicyConfig struct {
	DeniedDirections []string `mapstructure:"denied_directions"`
	MaxSpeedPercent  int      `mapstructure:"max_speed_percent"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// SetDefaults registers every default so env-only deployments work.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "kuruma")
	v.SetDefault("app.workspace", ".")
	v.SetDefault("app.dashboard", true)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "kuruma")
	v.SetDefault("logger.log_file", "logs/kuruma.log")
	v.SetDefault("logger.llm_log_file", "logs/llm.jsonl")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", false)

	limits := motion.DefaultLimits()
	v.SetDefault("limits.max_steps", limits.MaxSteps)
	v.SetDefault("limits.max_step_seconds", limits.MaxStepSeconds)
	v.SetDefault("limits.max_plan_seconds", limits.MaxPlanSeconds)

	v.SetDefault("calibration.path", "calibration.yaml")
	v.SetDefault("calibration.watch", true)

	v.SetDefault("actuator.kind", "sim")
	v.SetDefault("actuator.time_scale", 1.0)
	v.SetDefault("actuator.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("actuator.mqtt.client_id", "kuruma")
	v.SetDefault("actuator.mqtt.topic", "kuruma/drive")
	v.SetDefault("actuator.mqtt.qos", 1)
	v.SetDefault("actuator.mqtt.timeout", "2s")

	v.SetDefault("provider.name", "openai")
	v.SetDefault("provider.model", "gpt-4o-mini")
	v.SetDefault("provider.temperature", 0.2)
	v.SetDefault("provider.timeout", "30s")
	v.SetDefault("provider.prompts_dir", "prompts")

	v.SetDefault("gateway.console", true)
	v.SetDefault("gateway.telegram.enabled", false)

	v.SetDefault("confirm.always", false)
	v.SetDefault("confirm.multi_step", true)
	v.SetDefault("confirm.timeout", "2m")

	v.SetDefault("policy.max_speed_percent", 100)

	v.SetDefault("store.path", "kuruma.db")
}

// Load reads path (YAML or JSON) when given, layers KURUMA_* environment
// variables on top and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return NewConfigFromViper(v)
}

func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("provider.api_key", "KURUMA_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("gateway.telegram.token", "KURUMA_TELEGRAM_TOKEN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	var errs []error
	if c.Limits.MaxSteps <= 0 {
		errs = append(errs, errors.New("limits.max_steps must be positive"))
	}
	if c.Limits.MaxStepSeconds <= 0 || c.Limits.MaxPlanSeconds <= 0 {
		errs = append(errs, errors.New("limits.max_step_seconds and limits.max_plan_seconds must be positive"))
	}
	switch c.Actuator.Kind {
	case "sim":
	case "mqtt":
		if c.Actuator.MQTT.Broker == "" || c.Actuator.MQTT.Topic == "" {
			errs = append(errs, errors.New("actuator.mqtt.broker and actuator.mqtt.topic are required for the mqtt actuator"))
		}
	default:
		errs = append(errs, fmt.Errorf("actuator.kind %q must be sim or mqtt", c.Actuator.Kind))
	}
	if c.Gateway.Telegram.Enabled && c.Gateway.Telegram.Token == "" {
		errs = append(errs, errors.New("gateway.telegram.token is required when telegram is enabled"))
	}
	if c.Policy.MaxSpeedPercent < 0 || c.Policy.MaxSpeedPercent > 100 {
		errs = append(errs, errors.New("policy.max_speed_percent must be within [0,100]"))
	}
	for _, d := range c.Policy.DeniedDirections {
		if !motion.Direction(d).Valid() {
			errs = append(errs, fmt.Errorf("policy.denied_directions: unknown direction %q", d))
		}
	}
	return errors.Join(errs...)
}

// HasProvider reports whether an LLM can be reached.
func (c *Config) HasProvider() bool {
	return c.Provider.APIKey != "" || c.Provider.BaseURL != ""
}

// GetTelegramConfig returns telegram config if enabled.
func (c *Config) GetTelegramConfig() (TelegramConfig, bool) {
	if c.Gateway.Telegram.Enabled {
		return c.Gateway.Telegram, true
	}
	return TelegramConfig{}, false
}
