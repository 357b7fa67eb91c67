package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds the application's configuration
type Config struct {
	LogLevel                string        `mapstructure:"LOG_LEVEL"`
	LogFormat               string        `mapstructure:"LOG_FORMAT"`
	WebPort                 int           `mapstructure:"WEB_PORT"`
	ChatEndpoint            string        `mapstructure:"CHAT_ENDPOINT"`
	RequestTimeout          time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BackendMode             string        `mapstructure:"BACKEND_MODE"`
	UpstreamLLMHost         string        `mapstructure:"UPSTREAM_LLM_HOST"`
	UpstreamAPIKey          string        `mapstructure:"UPSTREAM_API_KEY"`
	LLMRequestTimeout       time.Duration `mapstructure:"LLM_REQUEST_TIMEOUT"`
	MaxRetries              int           `mapstructure:"MAX_RETRIES"`
	RetryDelaySeconds       time.Duration `mapstructure:"RETRY_DELAY_SECONDS"`
	MaxWorkspaces           int           `mapstructure:"MAX_WORKSPACES"`
	WorkspaceIdleTTL        time.Duration `mapstructure:"WORKSPACE_IDLE_TTL"`
	CleanupInterval         time.Duration `mapstructure:"CLEANUP_INTERVAL"`
	RateLimitMessagesPerMin int           `mapstructure:"RATE_LIMIT_MESSAGES_PER_MIN"`
	RateLimitFilesPerHour   int           `mapstructure:"RATE_LIMIT_FILES_PER_HOUR"`
	RateLimitBurstSize      int           `mapstructure:"RATE_LIMIT_BURST_SIZE"`
	BackendRateLimitPerMin  int           `mapstructure:"BACKEND_RATE_LIMIT_PER_MIN"`
	CORSAllowOrigins        []string      `mapstructure:"CORS_ALLOW_ORIGINS"`
	Models                  []ModelConfig `mapstructure:"MODELS"`
}

// ModelConfig overrides one entry of the built-in model table.
type ModelConfig struct {
	ID            string `mapstructure:"id"`
	Label         string `mapstructure:"label"`
	SupportsImage bool   `mapstructure:"supports_image"`
}

const (
	BackendModeEcho     = "echo"
	BackendModeUpstream = "upstream"
)

func Load(logger *zap.Logger) *Config {
	var config Config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")        // For running locally
	viper.AddConfigPath("../")      // For running from docker subdir
	viper.AddConfigPath("./config") // Common config folder
	viper.AutomaticEnv()

	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", LogFormatConsole)
	viper.SetDefault("WEB_PORT", 8080)
	viper.SetDefault("CHAT_ENDPOINT", "http://localhost:8080/chat")
	viper.SetDefault("REQUEST_TIMEOUT", 90)
	viper.SetDefault("BACKEND_MODE", BackendModeEcho)
	viper.SetDefault("UPSTREAM_LLM_HOST", "http://localhost:8081")
	viper.SetDefault("UPSTREAM_API_KEY", "")
	viper.SetDefault("LLM_REQUEST_TIMEOUT", 300)
	viper.SetDefault("MAX_RETRIES", 3)
	viper.SetDefault("RETRY_DELAY_SECONDS", 2)
	viper.SetDefault("MAX_WORKSPACES", 256)
	viper.SetDefault("WORKSPACE_IDLE_TTL", 120)
	viper.SetDefault("CLEANUP_INTERVAL", 10)
	viper.SetDefault("RATE_LIMIT_MESSAGES_PER_MIN", 20)
	viper.SetDefault("RATE_LIMIT_FILES_PER_HOUR", 60)
	viper.SetDefault("RATE_LIMIT_BURST_SIZE", 5)
	viper.SetDefault("BACKEND_RATE_LIMIT_PER_MIN", 600)
	viper.SetDefault("CORS_ALLOW_ORIGINS", []string{"http://localhost:5173"})

	if err := viper.ReadInConfig(); err != nil {
		if logger != nil {
			logger.Warn("Could not read config file, using defaults/env vars", zap.Error(err))
		}
	}

	if err := viper.Unmarshal(&config); err != nil {
		// Config unmarshaling is critical - fail fast during bootstrap
		if logger != nil {
			logger.Fatal("Unable to decode config into struct", zap.Error(err))
		} else {
			fmt.Fprintf(os.Stderr, "FATAL: Unable to decode config into struct: %v\n", err)
			os.Exit(1)
		}
	}

	normalize(&config)
	return &config
}

// normalize converts plain numbers to durations and cleans list values coming
// from env vars.
func normalize(config *Config) {
	config.RequestTimeout = config.RequestTimeout * time.Second
	config.LLMRequestTimeout = config.LLMRequestTimeout * time.Second
	config.RetryDelaySeconds = config.RetryDelaySeconds * time.Second
	config.WorkspaceIdleTTL = config.WorkspaceIdleTTL * time.Minute
	config.CleanupInterval = config.CleanupInterval * time.Minute

	// "a, b" from the environment arrives as a single element
	var origins []string
	for _, o := range config.CORSAllowOrigins {
		for _, part := range strings.Split(o, ",") {
			if part = strings.TrimSpace(part); part != "" {
				origins = append(origins, part)
			}
		}
	}
	config.CORSAllowOrigins = origins

	config.BackendMode = strings.ToLower(strings.TrimSpace(config.BackendMode))
	if config.BackendMode != BackendModeUpstream {
		config.BackendMode = BackendModeEcho
	}
	if config.MaxWorkspaces <= 0 {
		config.MaxWorkspaces = 256
	}
	if config.RateLimitBurstSize <= 0 {
		config.RateLimitBurstSize = 1
	}
}
