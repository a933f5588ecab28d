package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config contains all runtime settings for the portfolio persona service.
type Config struct {
	Port                  string        `envconfig:"PORT" default:"3001"`
	BindAddr              string        `envconfig:"APP_BIND_ADDR"`
	ShutdownTimeout       time.Duration `envconfig:"APP_SHUTDOWN_TIMEOUT" default:"10s"`
	CallInactivityTimeout time.Duration `envconfig:"APP_CALL_INACTIVITY_TIMEOUT" default:"2m"`
	MetricsNamespace      string        `envconfig:"APP_METRICS_NAMESPACE" default:"folio"`

	// AllowAnyOrigin disables the same-origin check on the voice relay websocket.
	AllowAnyOrigin bool     `envconfig:"APP_ALLOW_ANY_ORIGIN" default:"false"`
	CORSOrigins    []string `envconfig:"APP_CORS_ORIGINS" default:"*"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For /
	// X-Real-IP. Enable only behind a proxy that overwrites those headers.
	TrustProxyHeaders bool `envconfig:"APP_TRUST_PROXY_HEADERS" default:"false"`

	RateLimitRPS   float64 `envconfig:"APP_RATE_LIMIT_RPS" default:"2"`
	RateLimitBurst int     `envconfig:"APP_RATE_LIMIT_BURST" default:"5"`

	// ProfileSource is a file path (.json, .yaml, .yml), a postgres:// URL or a sqlite:// path.
	ProfileSource       string `envconfig:"PROFILE_SOURCE" default:"profile.json"`
	PersonaTemplatePath string `envconfig:"PERSONA_TEMPLATE_PATH"`

	// GeminiAPIKey is the only secret. It may be empty at boot; requests that
	// need the provider then fail with an unconfigured error.
	GeminiAPIKey          string        `envconfig:"GEMINI_API_KEY"`
	GeminiBaseURL         string        `envconfig:"GEMINI_BASE_URL"`
	GeminiTextModel       string        `envconfig:"GEMINI_TEXT_MODEL" default:"gemini-2.5-flash-lite"`
	GeminiLiveModel       string        `envconfig:"GEMINI_LIVE_MODEL" default:"gemini-2.5-flash-native-audio-preview-12-2025"`
	GeminiLiveVoice       string        `envconfig:"GEMINI_LIVE_VOICE" default:"Charon"`
	GeminiLiveTemperature float32       `envconfig:"GEMINI_LIVE_TEMPERATURE" default:"0.7"`
	GeminiTokenTTL        time.Duration `envconfig:"GEMINI_TOKEN_TTL" default:"30m"`
	GeminiRequestTimeout  time.Duration `envconfig:"GEMINI_REQUEST_TIMEOUT" default:"30s"`

	VoiceGuardInterval   time.Duration `envconfig:"VOICE_GUARD_INTERVAL" default:"50ms"`
	VoiceErrorResetDelay time.Duration `envconfig:"VOICE_ERROR_RESET_DELAY" default:"3s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// Load reads a .env file when present, then environment variables, and
// validates the result.
func Load() (Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv reads configuration without touching .env files.
func LoadFromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.GeminiAPIKey = strings.TrimSpace(cfg.GeminiAPIKey)
	cfg.ProfileSource = strings.TrimSpace(cfg.ProfileSource)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Addr is the listen address. APP_BIND_ADDR wins over PORT.
func (c Config) Addr() string {
	if addr := strings.TrimSpace(c.BindAddr); addr != "" {
		return addr
	}
	return ":" + strings.TrimSpace(c.Port)
}

// ProviderConfigured reports whether the provider API key is present.
func (c Config) ProviderConfigured() bool {
	return c.GeminiAPIKey != ""
}

func (c Config) validate() error {
	if c.ProfileSource == "" {
		return fmt.Errorf("PROFILE_SOURCE must not be empty")
	}
	if strings.TrimSpace(c.BindAddr) == "" && strings.TrimSpace(c.Port) == "" {
		return fmt.Errorf("one of APP_BIND_ADDR or PORT is required")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be > 0")
	}
	if c.CallInactivityTimeout <= 0 {
		return fmt.Errorf("APP_CALL_INACTIVITY_TIMEOUT must be > 0")
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("APP_RATE_LIMIT_BURST must be >= 1 when rate limiting is enabled")
	}
	if c.GeminiLiveTemperature < 0 || c.GeminiLiveTemperature > 2 {
		return fmt.Errorf("GEMINI_LIVE_TEMPERATURE must be within [0, 2], got %v", c.GeminiLiveTemperature)
	}
	if c.GeminiTokenTTL <= 0 {
		return fmt.Errorf("GEMINI_TOKEN_TTL must be > 0")
	}
	if c.GeminiRequestTimeout <= 0 {
		return fmt.Errorf("GEMINI_REQUEST_TIMEOUT must be > 0")
	}
	if c.VoiceGuardInterval < 0 {
		return fmt.Errorf("VOICE_GUARD_INTERVAL must be >= 0")
	}
	if c.VoiceErrorResetDelay < 0 {
		return fmt.Errorf("VOICE_ERROR_RESET_DELAY must be >= 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid LOG_LEVEL: %q (expected debug|info|warn|error)", c.LogLevel)
	}
	return nil
}
