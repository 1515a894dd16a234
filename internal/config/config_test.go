package config

import (
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:       AppConfig{Env: "local", Port: 8080},
		Mock:      MockConfig{Enabled: true, MinDelay: 5 * time.Second, MaxDelay: 10 * time.Second},
		Evidence:  EvidenceConfig{Dir: "uploads", MaxBytes: 5 << 20},
		RateLimit: RateLimitConfig{RPS: 5, Burst: 10},
		Dispatch:  DispatchConfig{Timeout: 30 * time.Second, MaxConcurrentPlacements: 10},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	// Ensure a clean env by not setting anything and calling validation directly.
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_MinimalLocalConfig(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.Enabled() || c.Redis.Enabled() || c.Auth.Enabled() || c.Voice.Configured() {
		t.Fatalf("expected optional sections disabled: %+v", c)
	}
	if c.Auth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("expected default access ttl, got %s", c.Auth.AccessTokenTTL)
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.DB = DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "negotiator", SSLMode: ""}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validLocal()
	c.DB = DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "negotiator", SSLMode: ""}
	c.Redis = RedisConfig{Host: "localhost", Port: 6379}
	c.Auth = AuthConfig{JWTSecret: "secret"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_PartialVoiceConfig(t *testing.T) {
	c := validLocal()
	c.Voice = VoiceConfig{APIKey: "key"}
	if err := c.Validate(); err != nil {
		t.Fatalf("partial voice config must only warn outside production, got %v", err)
	}
	if len(c.Warnings) == 0 {
		t.Fatalf("expected a warning for partial voice config")
	}

	c.App.Env = "production"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for partial voice config in production")
	}
}

func TestValidate_VoiceServerURLFromPublicURL(t *testing.T) {
	c := validLocal()
	c.App.PublicURL = "https://negotiator.example.com"
	c.Voice = VoiceConfig{APIKey: "key", PhoneNumberID: "pn"}
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Voice.ServerURL != "https://negotiator.example.com/log" {
		t.Fatalf("unexpected server url %q", c.Voice.ServerURL)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("PORT", "3001")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("MOCK_MIN_DELAY", "1s")
	t.Setenv("MOCK_MAX_DELAY", "2s")
	t.Setenv("RATE_LIMIT_RPS", "0")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.App.Port != 3001 {
		t.Fatalf("expected PORT fallback, got %d", c.App.Port)
	}
	if len(c.Kafka.Brokers) != 2 || c.Kafka.Topic != "negotiation-events" {
		t.Fatalf("unexpected kafka config: %+v", c.Kafka)
	}
	if !c.Mock.Enabled || c.Mock.MaxDelay != 2*time.Second {
		t.Fatalf("unexpected mock config: %+v", c.Mock)
	}
	if c.RateLimit.RPS != 0 {
		t.Fatalf("expected rate limiting disabled, got %v", c.RateLimit.RPS)
	}
}

func TestLoad_ReportsParseErrors(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "eighty")
	t.Setenv("DISPATCH_TIMEOUT", "soon")

	if _, err := Load(); err == nil {
		t.Fatalf("expected parse errors")
	}
}
