package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.ModelConnectDelay != 250*time.Millisecond {
		t.Fatalf("ModelConnectDelay = %v, want 250ms", cfg.ModelConnectDelay)
	}
	if cfg.GreetingDelay != 500*time.Millisecond {
		t.Fatalf("GreetingDelay = %v, want 500ms", cfg.GreetingDelay)
	}
	if cfg.SlowFunctionThreshold != 2*time.Second {
		t.Fatalf("SlowFunctionThreshold = %v, want 2s", cfg.SlowFunctionThreshold)
	}
	if cfg.SweepInterval != time.Minute {
		t.Fatalf("SweepInterval = %v, want 1m", cfg.SweepInterval)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
}

func TestLoadUsesExplicitEnv(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("MODEL_CONNECT_DELAY", "100ms")
	t.Setenv("REALTIME_VOICE", "shimmer")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q, want :9191", cfg.BindAddr)
	}
	if cfg.ModelConnectDelay != 100*time.Millisecond {
		t.Fatalf("ModelConnectDelay = %v, want 100ms", cfg.ModelConnectDelay)
	}
	if cfg.RealtimeVoice != "shimmer" {
		t.Fatalf("RealtimeVoice = %q, want shimmer", cfg.RealtimeVoice)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("GREETING_DELAY", "soon")

	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error for GREETING_DELAY")
	}
}

func TestLoadRejectsOutOfRangeTemperature(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("REALTIME_TEMPERATURE", "2.5")

	if _, err := Load(); err == nil {
		t.Fatalf("expected range error for REALTIME_TEMPERATURE")
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	setCoreEnvEmpty(t)
	path := filepath.Join(t.TempDir(), "tastecall.yaml")
	body := "realtime_voice: echo\nsweep_interval: 30s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("APP_CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RealtimeVoice != "echo" {
		t.Fatalf("RealtimeVoice = %q, want echo", cfg.RealtimeVoice)
	}
	if cfg.SweepInterval != 30*time.Second {
		t.Fatalf("SweepInterval = %v, want 30s", cfg.SweepInterval)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_CONFIG_FILE",
		"APP_BIND_ADDR",
		"APP_PUBLIC_HOST",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"OPENAI_API_KEY",
		"OPENAI_REALTIME_URL",
		"REALTIME_VOICE",
		"REALTIME_TEMPERATURE",
		"REALTIME_MAX_OUTPUT_TOKENS",
		"REALTIME_INSTRUCTIONS",
		"REALTIME_TRANSCRIPTION_MODEL",
		"MODEL_CONNECT_DELAY",
		"GREETING_DELAY",
		"SLOW_FUNCTION_THRESHOLD",
		"SWEEP_INTERVAL",
		"RECOMMEND_API_URL",
		"RECOMMEND_API_KEY",
		"RECOMMEND_TIMEOUT",
		"DATABASE_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
