package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the runtime settings of the application.
type Config struct {
	AppPort             string
	DBDriver            string
	DatabaseDSN         string
	ModelPath           string
	InferenceURL        string
	HistoryDir          string
	JWTSecret           string
	TokenTTL            time.Duration
	RabbitMQURL         string
	ConfidenceThreshold float64
	RetentionDays       int
	MaxUploadBytes      int64
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("APP_PORT", ":8080")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DATABASE_DSN", "skin_cancer_app.db")
	v.SetDefault("MODEL_PATH", "best.pt")
	v.SetDefault("INFERENCE_URL", "http://localhost:5000/predict")
	v.SetDefault("HISTORY_DIR", "history_images")
	v.SetDefault("JWT_SECRET", "dev_jwt_secret_change_me")
	v.SetDefault("TOKEN_TTL", "24h")
	v.SetDefault("RABBITMQ_URL", "")
	v.SetDefault("CONFIDENCE_THRESHOLD", 0.25)
	v.SetDefault("RETENTION_DAYS", 0)
	v.SetDefault("MAX_UPLOAD_BYTES", 10<<20)
	v.SetDefault("CONFIG_FILE", "")
}

// Load reads the configuration from the environment, and from CONFIG_FILE
// when it is set, then validates it.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		AppPort:             v.GetString("APP_PORT"),
		DBDriver:            v.GetString("DB_DRIVER"),
		DatabaseDSN:         v.GetString("DATABASE_DSN"),
		ModelPath:           v.GetString("MODEL_PATH"),
		InferenceURL:        v.GetString("INFERENCE_URL"),
		HistoryDir:          v.GetString("HISTORY_DIR"),
		JWTSecret:           v.GetString("JWT_SECRET"),
		TokenTTL:            v.GetDuration("TOKEN_TTL"),
		RabbitMQURL:         v.GetString("RABBITMQ_URL"),
		ConfidenceThreshold: v.GetFloat64("CONFIDENCE_THRESHOLD"),
		RetentionDays:       v.GetInt("RETENTION_DAYS"),
		MaxUploadBytes:      v.GetInt64("MAX_UPLOAD_BYTES"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be within [0, 1], got %v", c.ConfidenceThreshold)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("RETENTION_DAYS must not be negative, got %d", c.RetentionDays)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	return nil
}
