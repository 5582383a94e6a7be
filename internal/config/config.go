/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the screening-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                 string `mapstructure:"SERVER_PORT"`
	DatabaseURL                string `mapstructure:"DATABASE_URL"`
	RedisURL                   string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix       string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                string `mapstructure:"RABBITMQ_URL"`
	ScreeningEventQueue        string `mapstructure:"SCREENING_EVENT_QUEUE"`
	StripeAPIBaseURL           string `mapstructure:"STRIPE_API_BASE_URL"`
	StripeSecretKey            string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret        string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	JWKSURL                    string `mapstructure:"JWKS_URL"`
	FrontendOrigin             string `mapstructure:"FRONTEND_ORIGIN"`
	AllowedRedirectOrigins     string `mapstructure:"ALLOWED_REDIRECT_ORIGINS"`
	Environment                string `mapstructure:"ENVIRONMENT"`
	ReportURLSigningKey        string `mapstructure:"REPORT_URL_SIGNING_KEY"`
	ReportURLTTLMinutes        int    `mapstructure:"REPORT_URL_TTL_MINUTES"`
	CheckoutRateLimitPerMinute int    `mapstructure:"CHECKOUT_RATE_LIMIT_PER_MINUTE"`
	ConfirmRateLimitPerMinute  int    `mapstructure:"CONFIRM_RATE_LIMIT_PER_MINUTE"`
	ConsentTextVersion         string `mapstructure:"CONSENT_TEXT_VERSION"`
}

// RedirectOrigins returns the extra allowed redirect origins as a slice.
func (c Config) RedirectOrigins() []string {
	if strings.TrimSpace(c.AllowedRedirectOrigins) == "" {
		return nil
	}
	parts := strings.Split(c.AllowedRedirectOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
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
	viper.SetDefault("SCREENING_EVENT_QUEUE", "screening_service.order_finalized")
	viper.SetDefault("STRIPE_API_BASE_URL", "https://api.stripe.com")
	viper.SetDefault("FRONTEND_ORIGIN", "http://localhost:3000")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "screening:rate_limit")
	viper.SetDefault("REPORT_URL_TTL_MINUTES", 15)
	viper.SetDefault("CHECKOUT_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("CONFIRM_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("CONSENT_TEXT_VERSION", "2025-01")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "SCREENING_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("SCREENING_EVENT_QUEUE")
	_ = viper.BindEnv("STRIPE_API_BASE_URL")
	_ = viper.BindEnv("STRIPE_SECRET_KEY")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("FRONTEND_ORIGIN")
	_ = viper.BindEnv("ALLOWED_REDIRECT_ORIGINS")
	_ = viper.BindEnv("ENVIRONMENT")
	_ = viper.BindEnv("REPORT_URL_SIGNING_KEY")
	_ = viper.BindEnv("REPORT_URL_TTL_MINUTES")
	_ = viper.BindEnv("CHECKOUT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("CONFIRM_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("CONSENT_TEXT_VERSION")

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

	// Hosting platforms inject PORT; it wins over SERVER_PORT.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "screening:rate_limit"
	}
	config.FrontendOrigin = strings.TrimRight(strings.TrimSpace(config.FrontendOrigin), "/")
	config.Environment = strings.ToLower(strings.TrimSpace(config.Environment))

	if config.ReportURLTTLMinutes <= 0 {
		config.ReportURLTTLMinutes = 15
	}
	if config.CheckoutRateLimitPerMinute <= 0 {
		config.CheckoutRateLimitPerMinute = 10
	}
	if config.ConfirmRateLimitPerMinute <= 0 {
		config.ConfirmRateLimitPerMinute = 30
	}

	return
}
