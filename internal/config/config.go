package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
//
// DB, Redis, Auth, Voice, Kafka and S3 evidence storage are optional; the
// process degrades to in-memory or mock implementations when they are unset.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Voice     VoiceConfig
	Mock      MockConfig
	Kafka     KafkaConfig
	Evidence  EvidenceConfig
	RateLimit RateLimitConfig
	Dispatch  DispatchConfig
	Tracing   TracingConfig

	// Warnings are problems that do not stop the process outside production.
	Warnings []string
}

type AppConfig struct {
	Env      string
	Port     int
	LogLevel string
	// PublicURL is where the provider can reach this service, used to build
	// the webhook URL.
	PublicURL string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

func (c DBConfig) Enabled() bool { return c.Host != "" }

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool { return c.Host != "" }

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

func (c AuthConfig) Enabled() bool { return c.JWTSecret != "" }

type VoiceConfig struct {
	APIKey        string
	BaseURL       string
	AssistantID   string
	PhoneNumberID string
	// ServerURL overrides <PublicURL>/log as the webhook target.
	ServerURL     string
	WebhookSecret string
	Timeout       time.Duration
	MaxRetries    int
}

// Configured reports whether calls can be placed. The assistant is created
// on first use when AssistantID is empty.
func (c VoiceConfig) Configured() bool {
	return c.APIKey != "" && c.PhoneNumberID != ""
}

// Partial reports a half-filled provider config.
func (c VoiceConfig) Partial() bool {
	set := c.APIKey != "" || c.AssistantID != "" || c.PhoneNumberID != ""
	return set && !c.Configured()
}

type MockConfig struct {
	Enabled  bool
	MinDelay time.Duration
	MaxDelay time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

func (c KafkaConfig) Enabled() bool { return len(c.Brokers) > 0 }

type EvidenceConfig struct {
	Dir      string
	S3Bucket string
	S3Prefix string
	MaxBytes int64
}

type RateLimitConfig struct {
	// RPS of zero disables limiting.
	RPS   float64
	Burst int
}

type DispatchConfig struct {
	Timeout                 time.Duration
	MaxConcurrentPlacements int
}

type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	SampleRatio float64
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error
	p := parser{errs: &parseErrs}

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port = p.optInt("APP_PORT", p.optInt("PORT", 3000))
	c.App.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	c.App.PublicURL = strings.TrimRight(strings.TrimSpace(os.Getenv("APP_PUBLIC_URL")), "/")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port = p.optInt("DB_PORT", 5432)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port = p.optInt("REDIS_PORT", 6379)
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.DB = p.optInt("REDIS_DB", 0)

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = p.optDuration("JWT_ACCESS_TTL", 0)
	c.Auth.RefreshTokenTTL = p.optDuration("JWT_REFRESH_TTL", 0)

	c.Voice.APIKey = strings.TrimSpace(os.Getenv("VAPI_API_KEY"))
	c.Voice.BaseURL = strings.TrimSpace(os.Getenv("VAPI_BASE_URL"))
	c.Voice.AssistantID = strings.TrimSpace(os.Getenv("VAPI_ASSISTANT_ID"))
	c.Voice.PhoneNumberID = strings.TrimSpace(os.Getenv("VAPI_PHONE_NUMBER_ID"))
	c.Voice.ServerURL = strings.TrimSpace(os.Getenv("VAPI_SERVER_URL"))
	c.Voice.WebhookSecret = os.Getenv("VAPI_WEBHOOK_SECRET")
	c.Voice.Timeout = p.optDuration("VAPI_TIMEOUT", 30*time.Second)
	c.Voice.MaxRetries = p.optInt("VAPI_MAX_RETRIES", 2)

	c.Mock.Enabled = p.optBool("MOCK_ENABLED", true)
	c.Mock.MinDelay = p.optDuration("MOCK_MIN_DELAY", 5*time.Second)
	c.Mock.MaxDelay = p.optDuration("MOCK_MAX_DELAY", 10*time.Second)

	c.Kafka.Brokers = splitList(os.Getenv("KAFKA_BROKERS"))
	c.Kafka.Topic = envOr("KAFKA_TOPIC", "negotiation-events")

	c.Evidence.Dir = envOr("EVIDENCE_DIR", "uploads")
	c.Evidence.S3Bucket = strings.TrimSpace(os.Getenv("EVIDENCE_S3_BUCKET"))
	c.Evidence.S3Prefix = strings.Trim(strings.TrimSpace(os.Getenv("EVIDENCE_S3_PREFIX")), "/")
	c.Evidence.MaxBytes = int64(p.optInt("EVIDENCE_MAX_BYTES", 5<<20))

	c.RateLimit.RPS = p.optFloat("RATE_LIMIT_RPS", 5)
	c.RateLimit.Burst = p.optInt("RATE_LIMIT_BURST", 10)

	c.Dispatch.Timeout = p.optDuration("DISPATCH_TIMEOUT", 30*time.Second)
	c.Dispatch.MaxConcurrentPlacements = p.optInt("MAX_CONCURRENT_PLACEMENTS", 10)

	c.Tracing.Enabled = p.optBool("OTEL_ENABLED", false)
	c.Tracing.Endpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	c.Tracing.ServiceName = envOr("OTEL_SERVICE_NAME", "negotiator")
	c.Tracing.SampleRatio = p.optFloat("OTEL_SAMPLE_RATIO", 1)

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the config and fills environment-dependent defaults.
func (c *Config) Validate() error {
	var errs []error
	c.Warnings = nil

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Enabled() {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required"))
		}
		if strings.TrimSpace(c.DB.SSLMode) == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				// Local-friendly default; production must be explicit.
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	} else if c.IsProduction() {
		c.Warnings = append(c.Warnings, "DB_HOST not set; negotiations are kept in memory")
	}

	if c.Redis.Enabled() && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.Enabled() && c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if c.Voice.Partial() {
		msg := "voice provider partially configured: VAPI_API_KEY and VAPI_PHONE_NUMBER_ID are both required"
		if c.IsProduction() {
			errs = append(errs, errors.New(msg))
		} else {
			c.Warnings = append(c.Warnings, msg+"; negotiations will fail")
		}
	}
	if c.Voice.Configured() && c.Voice.ServerURL == "" && c.App.PublicURL != "" {
		c.Voice.ServerURL = c.App.PublicURL + "/log"
	}
	if c.Voice.Configured() && c.Voice.ServerURL == "" {
		c.Warnings = append(c.Warnings, "APP_PUBLIC_URL not set; provider results will not reach /log")
	}
	if c.Voice.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("VAPI_MAX_RETRIES must be >= 0, got %d", c.Voice.MaxRetries))
	}

	if c.Mock.MinDelay < 0 || c.Mock.MaxDelay < c.Mock.MinDelay {
		errs = append(errs, fmt.Errorf("MOCK_MIN_DELAY must be >= 0 and <= MOCK_MAX_DELAY, got %s..%s", c.Mock.MinDelay, c.Mock.MaxDelay))
	}

	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set"))
	}

	if c.Evidence.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("EVIDENCE_MAX_BYTES must be > 0, got %d", c.Evidence.MaxBytes))
	}

	if c.RateLimit.RPS < 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS must be >= 0, got %v", c.RateLimit.RPS))
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 1
	}

	if c.Dispatch.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_TIMEOUT must be > 0, got %s", c.Dispatch.Timeout))
	}
	if c.Dispatch.MaxConcurrentPlacements <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_PLACEMENTS must be > 0, got %d", c.Dispatch.MaxConcurrentPlacements))
	}

	if c.Tracing.Enabled && (c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1) {
		errs = append(errs, fmt.Errorf("OTEL_SAMPLE_RATIO must be within [0,1], got %v", c.Tracing.SampleRatio))
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// parser collects env parse errors so Load reports them all at once.
type parser struct {
	errs *[]error
}

func (p parser) fail(err error) { *p.errs = append(*p.errs, err) }

func (p parser) optInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(fmt.Errorf("%s must be an integer, got %q", key, v))
		return def
	}
	return n
}

func (p parser) optFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(fmt.Errorf("%s must be a number, got %q", key, v))
		return def
	}
	return f
}

func (p parser) optBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(fmt.Errorf("%s must be a boolean, got %q", key, v))
		return def
	}
	return b
}

func (p parser) optDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(fmt.Errorf("%s must be a duration, got %q", key, v))
		return def
	}
	return d
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
