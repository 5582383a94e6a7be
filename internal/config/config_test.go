package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_PortEnvOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "8080")
	setEnvWithCleanup(t, "PORT", "9999")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "9999" {
		t.Fatalf("expected PORT to win over SERVER_PORT, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_FrontendOriginTrailingSlashTrimmed(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "FRONTEND_ORIGIN", "https://app.example.com/")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.FrontendOrigin != "https://app.example.com" {
		t.Fatalf("expected trailing slash to be trimmed, got %q", cfg.FrontendOrigin)
	}
}

func TestLoadConfig_RateLimitDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "CHECKOUT_RATE_LIMIT_PER_MINUTE")
	unsetEnvWithCleanup(t, "CONFIRM_RATE_LIMIT_PER_MINUTE")
	unsetEnvWithCleanup(t, "REPORT_URL_TTL_MINUTES")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.CheckoutRateLimitPerMinute != 10 {
		t.Fatalf("expected default checkout rate limit 10, got %d", cfg.CheckoutRateLimitPerMinute)
	}
	if cfg.ConfirmRateLimitPerMinute != 30 {
		t.Fatalf("expected default confirm rate limit 30, got %d", cfg.ConfirmRateLimitPerMinute)
	}
	if cfg.ReportURLTTLMinutes != 15 {
		t.Fatalf("expected default report URL TTL 15, got %d", cfg.ReportURLTTLMinutes)
	}
}

func TestConfig_RedirectOriginsSplitsAndTrims(t *testing.T) {
	cfg := Config{AllowedRedirectOrigins: "https://a.example.com, https://b.example.com ,, "}
	origins := cfg.RedirectOrigins()
	if len(origins) != 2 {
		t.Fatalf("expected 2 origins, got %d: %v", len(origins), origins)
	}
	if origins[0] != "https://a.example.com" || origins[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins: %v", origins)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
