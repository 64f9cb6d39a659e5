package main

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewLoggerLevels(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"chatty", slog.LevelInfo},
	}
	for _, tc := range cases {
		logger := newLogger(tc.in)
		if !logger.Enabled(context.Background(), tc.want) {
			t.Fatalf("newLogger(%q) should enable %v", tc.in, tc.want)
		}
		if tc.want > slog.LevelDebug && logger.Enabled(context.Background(), tc.want-4) {
			t.Fatalf("newLogger(%q) should not enable %v", tc.in, tc.want-4)
		}
	}
}
