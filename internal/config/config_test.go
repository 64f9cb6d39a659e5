package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("GOOGLE_API_KEY", "test-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.ModelProvider != "gemini" {
		t.Fatalf("ModelProvider = %q, want gemini", cfg.ModelProvider)
	}
	if cfg.GoogleAPIKey != "test-key" {
		t.Fatalf("GoogleAPIKey = %q, want test-key", cfg.GoogleAPIKey)
	}
	if cfg.SessionInactivityTimeout != 30*time.Minute {
		t.Fatalf("SessionInactivityTimeout = %v, want 30m", cfg.SessionInactivityTimeout)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
}

func TestLoadRequiresGoogleAPIKey(t *testing.T) {
	setCoreEnvEmpty(t)

	_, err := Load()
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("Load() error = %v, want ErrMissingAPIKey", err)
	}
}

func TestLoadOpenAIRequiresItsOwnKey(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MODEL_PROVIDER", "openai")
	t.Setenv("GOOGLE_API_KEY", "unused")

	if _, err := Load(); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("Load() error = %v, want ErrMissingAPIKey", err)
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OpenAIModel != "gpt-4o-mini" {
		t.Fatalf("OpenAIModel = %q", cfg.OpenAIModel)
	}
}

func TestLoadMockNeedsNoKey(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("MODEL_PROVIDER", "MOCK")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ModelProvider != "mock" {
		t.Fatalf("ModelProvider = %q, want mock", cfg.ModelProvider)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"MODEL_PROVIDER":                 "palm",
		"APP_SESSION_INACTIVITY_TIMEOUT": "1s",
		"APP_SHUTDOWN_TIMEOUT":           "soon",
		"APP_ALLOW_ANY_ORIGIN":           "maybe",
		"APP_LOG_LEVEL":                  "verbose",
		"CHAT_SUBMIT_RATE":               "-1",
		"CHAT_SUBMIT_BURST":              "x",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv("GOOGLE_API_KEY", "k")
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q expected error", key, value)
			}
		})
	}
}

func TestLoadReadsDotEnvWithoutOverriding(t *testing.T) {
	setCoreEnvEmpty(t)
	os.Unsetenv("GOOGLE_API_KEY")
	t.Setenv("GEMINI_MODEL", "from-env")

	path := filepath.Join(t.TempDir(), "test.env")
	content := "GOOGLE_API_KEY=from-dotenv\nGEMINI_MODEL=from-dotenv\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}
	t.Setenv("APP_DOTENV_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GoogleAPIKey != "from-dotenv" {
		t.Fatalf("GoogleAPIKey = %q, want value from dotenv", cfg.GoogleAPIKey)
	}
	if cfg.GeminiModel != "from-env" {
		t.Fatalf("GeminiModel = %q, want process env to win", cfg.GeminiModel)
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_SESSION_INACTIVITY_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_LOG_LEVEL",
		"APP_DOTENV_PATH",
		"MODEL_PROVIDER",
		"GOOGLE_API_KEY",
		"GEMINI_MODEL",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"OPENAI_MODEL",
		"DATABASE_URL",
		"CHAT_SUBMIT_RATE",
		"CHAT_SUBMIT_BURST",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
