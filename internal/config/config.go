package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all runtime settings for the call relay service.
type Config struct {
	BindAddr         string
	PublicHost       string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	OpenAIAPIKey               string
	RealtimeURL                string
	RealtimeVoice              string
	RealtimeTemperature        float64
	RealtimeMaxOutputTokens    int
	RealtimeInstructions       string
	RealtimeTranscriptionModel string

	ModelConnectDelay     time.Duration
	GreetingDelay         time.Duration
	SlowFunctionThreshold time.Duration
	SweepInterval         time.Duration

	RecommendAPIURL  string
	RecommendAPIKey  string
	RecommendTimeout time.Duration

	DatabaseURL string
}

const defaultInstructions = "You are a friendly phone concierge who recommends restaurants, " +
	"films, music, books and places based on what the caller already likes. " +
	"Keep answers short and conversational because the caller is on the phone. " +
	"Always look things up with the available tools before recommending; " +
	"if a lookup fails, say so plainly and offer an alternative."

// Load reads environment variables (and an optional APP_CONFIG_FILE) and applies safe defaults.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	if path := strings.TrimSpace(v.GetString("APP_CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := Config{
		BindAddr:         stringOrDefault(v, "APP_BIND_ADDR", ":8080"),
		PublicHost:       trimmed(v, "APP_PUBLIC_HOST"),
		MetricsNamespace: stringOrDefault(v, "APP_METRICS_NAMESPACE", "tastecall"),
		AllowAnyOrigin:   false,
		OpenAIAPIKey:     trimmed(v, "OPENAI_API_KEY"),
		RealtimeURL: stringOrDefault(v, "OPENAI_REALTIME_URL",
			"wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01"),
		RealtimeVoice:              stringOrDefault(v, "REALTIME_VOICE", "alloy"),
		RealtimeTemperature:        0.8,
		RealtimeMaxOutputTokens:    4096,
		RealtimeInstructions:       stringOrDefault(v, "REALTIME_INSTRUCTIONS", defaultInstructions),
		RealtimeTranscriptionModel: stringOrDefault(v, "REALTIME_TRANSCRIPTION_MODEL", "whisper-1"),
		ModelConnectDelay:     250 * time.Millisecond,
		GreetingDelay:         500 * time.Millisecond,
		SlowFunctionThreshold: 2 * time.Second,
		SweepInterval:         60 * time.Second,
		RecommendAPIURL:       stringOrDefault(v, "RECOMMEND_API_URL", "https://hackathon.api.qloo.com"),
		RecommendAPIKey:       trimmed(v, "RECOMMEND_API_KEY"),
		RecommendTimeout:      8 * time.Second,
		DatabaseURL:           trimmed(v, "DATABASE_URL"),
		ShutdownTimeout:       15 * time.Second,
	}

	var err error
	if cfg.ShutdownTimeout, err = durationFrom(v, "APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ModelConnectDelay, err = durationFrom(v, "MODEL_CONNECT_DELAY", cfg.ModelConnectDelay); err != nil {
		return Config{}, err
	}
	if cfg.GreetingDelay, err = durationFrom(v, "GREETING_DELAY", cfg.GreetingDelay); err != nil {
		return Config{}, err
	}
	if cfg.SlowFunctionThreshold, err = durationFrom(v, "SLOW_FUNCTION_THRESHOLD", cfg.SlowFunctionThreshold); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = durationFrom(v, "SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.RecommendTimeout, err = durationFrom(v, "RECOMMEND_TIMEOUT", cfg.RecommendTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RealtimeMaxOutputTokens, err = intFrom(v, "REALTIME_MAX_OUTPUT_TOKENS", cfg.RealtimeMaxOutputTokens); err != nil {
		return Config{}, err
	}
	if cfg.RealtimeTemperature, err = floatFrom(v, "REALTIME_TEMPERATURE", cfg.RealtimeTemperature); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = boolFrom(v, "APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}

	if cfg.ModelConnectDelay < 0 || cfg.GreetingDelay < 0 {
		return Config{}, fmt.Errorf("MODEL_CONNECT_DELAY and GREETING_DELAY must not be negative")
	}
	if cfg.SweepInterval < time.Second {
		return Config{}, fmt.Errorf("SWEEP_INTERVAL must be at least 1s")
	}
	if cfg.SlowFunctionThreshold <= 0 {
		return Config{}, fmt.Errorf("SLOW_FUNCTION_THRESHOLD must be positive")
	}
	if cfg.RecommendTimeout <= 0 {
		return Config{}, fmt.Errorf("RECOMMEND_TIMEOUT must be positive")
	}
	if cfg.RealtimeMaxOutputTokens <= 0 {
		return Config{}, fmt.Errorf("REALTIME_MAX_OUTPUT_TOKENS must be positive")
	}
	// The realtime API accepts temperatures in [0.6, 1.2].
	if cfg.RealtimeTemperature < 0.6 || cfg.RealtimeTemperature > 1.2 {
		return Config{}, fmt.Errorf("REALTIME_TEMPERATURE must be within [0.6, 1.2]")
	}

	return cfg, nil
}

func stringOrDefault(v *viper.Viper, key, fallback string) string {
	s := trimmed(v, key)
	if s == "" {
		return fallback
	}
	return s
}

func trimmed(v *viper.Viper, key string) string {
	return strings.TrimSpace(v.GetString(key))
}

func durationFrom(v *viper.Viper, key string, fallback time.Duration) (time.Duration, error) {
	s := trimmed(v, key)
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFrom(v *viper.Viper, key string, fallback int) (int, error) {
	s := trimmed(v, key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFrom(v *viper.Viper, key string, fallback float64) (float64, error) {
	s := trimmed(v, key)
	if s == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFrom(v *viper.Viper, key string, fallback bool) (bool, error) {
	s := strings.ToLower(trimmed(v, key))
	if s == "" {
		return fallback, nil
	}
	switch s {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: invalid bool %q", key, s)
	}
}
