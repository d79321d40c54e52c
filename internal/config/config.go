/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the funnel-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                string `mapstructure:"SERVER_PORT"`
	DatabaseURL               string `mapstructure:"DATABASE_URL"`
	RedisURL                  string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix      string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL               string `mapstructure:"RABBITMQ_URL"`
	GatewayAPIBaseURL         string `mapstructure:"GATEWAY_API_BASE_URL"`
	GatewayClientID           string `mapstructure:"GATEWAY_CLIENT_ID"`
	GatewayClientSecret       string `mapstructure:"GATEWAY_CLIENT_SECRET"`
	UserLookupBaseURL         string `mapstructure:"USER_LOOKUP_BASE_URL"`
	ThumbnailBaseURL          string `mapstructure:"THUMBNAIL_BASE_URL"`
	WebhookPublicBaseURL      string `mapstructure:"WEBHOOK_PUBLIC_BASE_URL"`
	AdminPassword             string `mapstructure:"ADMIN_PASSWORD"`
	AdminJWTSecret            string `mapstructure:"ADMIN_JWT_SECRET"`
	AdminTokenTTLMinutes      int    `mapstructure:"ADMIN_TOKEN_TTL_MINUTES"`
	BaseFeeCentavos           int64  `mapstructure:"BASE_FEE_CENTAVOS"`
	ChargeExpirySeconds       int    `mapstructure:"CHARGE_EXPIRY_SECONDS"`
	RegenDebounceMillis       int    `mapstructure:"REGEN_DEBOUNCE_MS"`
	PaymentVerifyDelaySeconds int    `mapstructure:"PAYMENT_VERIFY_DELAY_SECONDS"`
	SessionIdleTTLMinutes     int    `mapstructure:"SESSION_IDLE_TTL_MINUTES"`
	ChargeRateLimitPerMinute  int    `mapstructure:"CHARGE_RATE_LIMIT_PER_MINUTE"`
	LookupRateLimitPerMinute  int    `mapstructure:"LOOKUP_RATE_LIMIT_PER_MINUTE"`
	HTTPRetryMaxAttempts      int    `mapstructure:"HTTP_RETRY_MAX_ATTEMPTS"`
	HTTPRetryBaseDelayMillis  int    `mapstructure:"HTTP_RETRY_BASE_DELAY_MS"`
	HTTPTimeoutSeconds        int    `mapstructure:"HTTP_TIMEOUT_SECONDS"`
	CORSAllowedOrigins        string `mapstructure:"CORS_ALLOWED_ORIGINS"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "funnel:rate_limit")
	viper.SetDefault("GATEWAY_API_BASE_URL", "https://api.syncpayments.com.br")
	viper.SetDefault("USER_LOOKUP_BASE_URL", "https://users.roblox.com")
	viper.SetDefault("THUMBNAIL_BASE_URL", "https://thumbnails.roblox.com")
	viper.SetDefault("ADMIN_TOKEN_TTL_MINUTES", 60)
	viper.SetDefault("BASE_FEE_CENTAVOS", 999)
	viper.SetDefault("CHARGE_EXPIRY_SECONDS", 900)
	viper.SetDefault("REGEN_DEBOUNCE_MS", 1000)
	viper.SetDefault("PAYMENT_VERIFY_DELAY_SECONDS", 5)
	viper.SetDefault("SESSION_IDLE_TTL_MINUTES", 30)
	viper.SetDefault("CHARGE_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("LOOKUP_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("HTTP_RETRY_MAX_ATTEMPTS", 3)
	viper.SetDefault("HTTP_RETRY_BASE_DELAY_MS", 1000)
	viper.SetDefault("HTTP_TIMEOUT_SECONDS", 30)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "FUNNEL_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("GATEWAY_API_BASE_URL")
	_ = viper.BindEnv("GATEWAY_CLIENT_ID", "GATEWAY_CLIENT_ID", "SYNCPAY_CLIENT_ID")
	_ = viper.BindEnv("GATEWAY_CLIENT_SECRET", "GATEWAY_CLIENT_SECRET", "SYNCPAY_CLIENT_SECRET")
	_ = viper.BindEnv("USER_LOOKUP_BASE_URL")
	_ = viper.BindEnv("THUMBNAIL_BASE_URL")
	_ = viper.BindEnv("WEBHOOK_PUBLIC_BASE_URL")
	_ = viper.BindEnv("ADMIN_PASSWORD")
	_ = viper.BindEnv("ADMIN_JWT_SECRET")
	_ = viper.BindEnv("ADMIN_TOKEN_TTL_MINUTES")
	_ = viper.BindEnv("BASE_FEE_CENTAVOS")
	_ = viper.BindEnv("BASE_FEE_REAIS")
	_ = viper.BindEnv("CHARGE_EXPIRY_SECONDS")
	_ = viper.BindEnv("REGEN_DEBOUNCE_MS")
	_ = viper.BindEnv("PAYMENT_VERIFY_DELAY_SECONDS")
	_ = viper.BindEnv("SESSION_IDLE_TTL_MINUTES")
	_ = viper.BindEnv("CHARGE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("LOOKUP_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("HTTP_RETRY_MAX_ATTEMPTS")
	_ = viper.BindEnv("HTTP_RETRY_BASE_DELAY_MS")
	_ = viper.BindEnv("HTTP_TIMEOUT_SECONDS")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "funnel:rate_limit"
	}
	config.GatewayClientID = strings.TrimSpace(config.GatewayClientID)
	config.GatewayClientSecret = strings.TrimSpace(config.GatewayClientSecret)
	config.AdminPassword = strings.TrimSpace(config.AdminPassword)
	config.AdminJWTSecret = strings.TrimSpace(config.AdminJWTSecret)

	// Allow specifying the fee in whole currency units via BASE_FEE_REAIS.
	if viper.IsSet("BASE_FEE_REAIS") {
		feeStr := strings.TrimSpace(viper.GetString("BASE_FEE_REAIS"))
		if feeStr != "" {
			feeValue, parseErr := strconv.ParseFloat(feeStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid BASE_FEE_REAIS\" value=%q err=%v", feeStr, parseErr)
			} else {
				config.BaseFeeCentavos = int64(math.Round(feeValue * 100))
			}
		}
	}

	if config.BaseFeeCentavos <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive base fee configured; using default\" fee_centavos=%d", config.BaseFeeCentavos)
		config.BaseFeeCentavos = 999
	}
	if config.ChargeExpirySeconds <= 0 {
		config.ChargeExpirySeconds = 900
	}
	if config.RegenDebounceMillis <= 0 {
		config.RegenDebounceMillis = 1000
	}
	if config.PaymentVerifyDelaySeconds <= 0 {
		config.PaymentVerifyDelaySeconds = 5
	}
	if config.SessionIdleTTLMinutes <= 0 {
		config.SessionIdleTTLMinutes = 30
	}
	if config.ChargeRateLimitPerMinute <= 0 {
		config.ChargeRateLimitPerMinute = 10
	}
	if config.LookupRateLimitPerMinute <= 0 {
		config.LookupRateLimitPerMinute = 30
	}
	if config.HTTPRetryMaxAttempts <= 0 {
		config.HTTPRetryMaxAttempts = 3
	}
	if config.HTTPRetryBaseDelayMillis <= 0 {
		config.HTTPRetryBaseDelayMillis = 1000
	}
	if config.HTTPTimeoutSeconds <= 0 {
		config.HTTPTimeoutSeconds = 30
	}
	if config.AdminTokenTTLMinutes <= 0 {
		config.AdminTokenTTLMinutes = 60
	}

	return
}

// AllowedOrigins splits the comma-separated CORS origin list.
func (c Config) AllowedOrigins() []string {
	raw := strings.TrimSpace(c.CORSAllowedOrigins)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
