package shared

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestParseLogLevel(t *testing.T) {
	tc := []struct {
		name  string
		level string
		want  log.Level
	}{
		{name: "debug", level: "debug", want: log.DebugLevel},
		{name: "warning alias", level: "WARNING", want: log.WarnLevel},
		{name: "error with whitespace", level: "  error ", want: log.ErrorLevel},
		{name: "unknown defaults to info", level: "verbose", want: log.InfoLevel},
		{name: "empty defaults to info", level: "", want: log.InfoLevel},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLogLevel(tt.level); got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestRedact(t *testing.T) {
	if got := Redact("abc"); got != "***" {
		t.Errorf("expected short secret fully masked, got %q", got)
	}
	got := Redact("eyJhbGciOiJIUzI1NiJ9.payload.sig1234")
	if !strings.HasSuffix(got, "1234") || strings.Contains(got, "eyJ") {
		t.Errorf("expected only the last four characters visible, got %q", got)
	}
}

func TestLogger(t *testing.T) {
	t.Run("WithLogger adds fields", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf)
		WithLogger(logger, "op", "mfa-verify").Info("dispatching")

		if !strings.Contains(buf.String(), "op=mfa-verify") {
			t.Errorf("expected scoped field in output, got %q", buf.String())
		}
	})

	t.Run("SetLogLevel filters", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf)
		SetLogLevel(logger, log.ErrorLevel)
		logger.Info("hidden")

		if buf.Len() != 0 {
			t.Errorf("expected info to be filtered, got %q", buf.String())
		}
	})

	t.Run("GenerateID is unique", func(t *testing.T) {
		if GenerateID() == GenerateID() {
			t.Error("expected distinct ids")
		}
	})
}

func TestBrowserCommand(t *testing.T) {
	for _, goos := range []string{"darwin", "linux", "windows"} {
		t.Run(goos, func(t *testing.T) {
			cmd, err := browserCommand(goos, "http://127.0.0.1:8787/oauth/authorize")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(strings.Join(cmd.Args, " "), "oauth/authorize") {
				t.Errorf("expected url in args, got %v", cmd.Args)
			}
		})
	}

	t.Run("unsupported", func(t *testing.T) {
		if _, err := browserCommand("plan9", "http://x"); err == nil {
			t.Error("expected error for unsupported platform")
		}
	})
}
