package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{" DEBUG ", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		if err != nil {
			t.Fatalf("parseLevel(%q) error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := parseLevel("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewHandlerFormats(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewHandler(&buf, LevelInfo, FormatJSON)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	slog.New(h).Info("probe", "role", "primary")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("json handler output = %q, want a JSON object", buf.String())
	}

	h, err = NewHandler(&buf, LevelWarn, "")
	if err != nil {
		t.Fatalf("NewHandler text: %v", err)
	}
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("warn handler should not be enabled for info")
	}

	if _, err := NewHandler(&buf, LevelInfo, "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
