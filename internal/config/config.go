package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host           string
	Port           int
	MaxUploadBytes int64
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type AuthConfig struct {
	AccessSecret string
}

// AIConfig describes the external multimodal model used for both analysis
// passes. APIKey may be empty; analysis then fails fast without a network
// call instead of preventing the service from starting.
type AIConfig struct {
	APIKey          string
	BaseURL         string
	DefaultModel    string
	AvailableModels []string
	RequestTimeout  time.Duration
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	AI          AIConfig
}

// availableTextModels is the fixed set of selectable analysis models.
var availableTextModels = []string{
	"gemini-2.5-flash-preview-04-17",
	"gemini-2.5-flash",
	"gemini-2.5-pro",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")

	v.AutomaticEnv()

	_ = v.ReadInConfig()

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host:           v.GetString("HTTP_HOST"),
			Port:           v.GetInt("HTTP_PORT"),
			MaxUploadBytes: v.GetInt64("HTTP_MAX_UPLOAD_BYTES"),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		AI: AIConfig{
			APIKey:          v.GetString("GEMINI_API_KEY"),
			BaseURL:         v.GetString("GEMINI_BASE_URL"),
			DefaultModel:    v.GetString("GEMINI_TEXT_MODEL"),
			AvailableModels: availableTextModels,
			RequestTimeout:  v.GetDuration("GEMINI_REQUEST_TIMEOUT"),
		},
	}

	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.MaxUploadBytes == 0 {
		cfg.HTTP.MaxUploadBytes = 10 << 20
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.AI.BaseURL == "" {
		cfg.AI.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.AI.DefaultModel == "" {
		cfg.AI.DefaultModel = availableTextModels[0]
	}
	if cfg.AI.RequestTimeout == 0 {
		cfg.AI.RequestTimeout = 45 * time.Second
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if !cfg.AI.ModelAllowed(cfg.AI.DefaultModel) {
		return fmt.Errorf("GEMINI_TEXT_MODEL %q is not in the supported model set", cfg.AI.DefaultModel)
	}
	return nil
}

// ModelAllowed reports whether id belongs to the fixed selectable set.
func (c AIConfig) ModelAllowed(id string) bool {
	for _, m := range c.AvailableModels {
		if m == id {
			return true
		}
	}
	return false
}
