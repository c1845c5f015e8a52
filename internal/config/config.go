package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the booking voice agent.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string

	// PublicDomain is the externally reachable host used in outbound TwiML.
	PublicDomain string

	OpenAIAPIKey        string
	RealtimeURL         string
	RealtimeVoice       string
	RealtimeTemperature float64
	ToolTimeout         time.Duration

	// AutoResponse requests a model response after each tool result.
	AutoResponse bool

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SearchAPIKey   string
	SearchAPIURL   string
	SearchCacheTTL time.Duration

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	TwilioMaxRetries int

	HotelPhoneNumber string
	SMTPHost         string
	SMTPPort         int
	FromEmail        string
	EmailPassword    string
	HotelGroupEmail  string
	EmailBannerPath  string

	ProfilesPath string

	// OutboundRateLimit caps outbound call requests per client per minute.
	OutboundRateLimit int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          bindAddr(),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "bookingagent"),
		LogLevel:          envOrDefault("APP_LOG_LEVEL", "info"),
		PublicDomain:      publicDomain(),
		OpenAIAPIKey:      stringsTrimSpace("OPENAI_API_KEY"),
		RealtimeURL:       stringsTrimSpace("OPENAI_REALTIME_URL"),
		RealtimeVoice:     envOrDefault("REALTIME_VOICE", "alloy"),
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		RedisAddr:         stringsTrimSpace("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		SearchAPIKey:      searchAPIKey(),
		SearchAPIURL:      stringsTrimSpace("SEARCH_API_URL"),
		TwilioAccountSID:  stringsTrimSpace("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   stringsTrimSpace("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:  stringsTrimSpace("TWILIO_FROM_NUMBER"),
		HotelPhoneNumber:  stringsTrimSpace("HOTEL_PHONE_NUMBER"),
		SMTPHost:          envOrDefault("SMTP_HOST", "smtp.gmail.com"),
		FromEmail:         stringsTrimSpace("FROM_EMAIL"),
		EmailPassword:     os.Getenv("EMAIL_PASSWORD"),
		HotelGroupEmail:   stringsTrimSpace("HOTEL_GROUP_EMAIL"),
		EmailBannerPath:   stringsTrimSpace("EMAIL_BANNER_PATH"),
		ProfilesPath:      stringsTrimSpace("PROFILES_PATH"),
		ShutdownTimeout:   15 * time.Second,
		ToolTimeout:       20 * time.Second,
		SearchCacheTTL:    6 * time.Hour,
		TwilioMaxRetries:  3,
		SMTPPort:          587,
		OutboundRateLimit: 10,
		AutoResponse:      true,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ToolTimeout, err = durationFromEnv("REALTIME_TOOL_TIMEOUT", cfg.ToolTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SearchCacheTTL, err = durationFromEnv("SEARCH_CACHE_TTL", cfg.SearchCacheTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.RealtimeTemperature, err = floatFromEnv("REALTIME_TEMPERATURE", 0.8)
	if err != nil {
		return Config{}, err
	}
	cfg.AutoResponse, err = boolFromEnv("REALTIME_AUTO_RESPONSE", cfg.AutoResponse)
	if err != nil {
		return Config{}, err
	}
	cfg.RedisDB, err = intFromEnv("REDIS_DB", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.TwilioMaxRetries, err = intFromEnv("TWILIO_MAX_RETRIES", cfg.TwilioMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.SMTPPort, err = intFromEnv("SMTP_PORT", cfg.SMTPPort)
	if err != nil {
		return Config{}, err
	}
	cfg.OutboundRateLimit, err = intFromEnv("OUTBOUND_RATE_LIMIT", cfg.OutboundRateLimit)
	if err != nil {
		return Config{}, err
	}

	if cfg.ToolTimeout <= 0 {
		return Config{}, fmt.Errorf("REALTIME_TOOL_TIMEOUT must be positive")
	}
	if cfg.RealtimeTemperature < 0 || cfg.RealtimeTemperature > 2 {
		return Config{}, fmt.Errorf("REALTIME_TEMPERATURE must be within [0, 2]")
	}
	if cfg.RedisDB < 0 {
		return Config{}, fmt.Errorf("REDIS_DB must be >= 0")
	}
	if cfg.TwilioMaxRetries < 0 {
		return Config{}, fmt.Errorf("TWILIO_MAX_RETRIES must be >= 0")
	}
	if cfg.SMTPPort <= 0 || cfg.SMTPPort > 65535 {
		return Config{}, fmt.Errorf("SMTP_PORT must be a valid port")
	}
	if cfg.OutboundRateLimit <= 0 {
		return Config{}, fmt.Errorf("OUTBOUND_RATE_LIMIT must be positive")
	}

	return cfg, nil
}

// ValidateServer reports settings the HTTP server cannot start without.
func (c Config) ValidateServer() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	return nil
}

// TwilioConfigured reports whether REST credentials are present.
func (c Config) TwilioConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
}

// bindAddr honours APP_BIND_ADDR, then the hosting-style PORT variable.
func bindAddr() string {
	if v := stringsTrimSpace("APP_BIND_ADDR"); v != "" {
		return v
	}
	if port := stringsTrimSpace("PORT"); port != "" {
		return ":" + port
	}
	return ":5050"
}

func publicDomain() string {
	v := stringsTrimSpace("APP_PUBLIC_DOMAIN")
	if v == "" {
		v = stringsTrimSpace("DOMAIN")
	}
	v = strings.TrimPrefix(strings.TrimPrefix(v, "https://"), "http://")
	return strings.TrimRight(v, "/")
}

func searchAPIKey() string {
	if v := stringsTrimSpace("SEARCH_API_KEY"); v != "" {
		return v
	}
	return stringsTrimSpace("API_KEY")
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
