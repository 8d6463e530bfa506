package formatter

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desertthunder/moviesnow/internal/models"
	"github.com/desertthunder/moviesnow/internal/mutation"
	"github.com/desertthunder/moviesnow/internal/shared"
	th "github.com/desertthunder/moviesnow/internal/testing"
)

type verifyResult struct {
	mutation.Result
	Enabled       bool     `json:"enabled"`
	RecoveryCodes []string `json:"recovery_codes,omitempty"`
}

func TestWriteResult(t *testing.T) {
	t.Run("text output is flattened and sorted", func(t *testing.T) {
		res := verifyResult{
			Result: mutation.Result{
				OK:    true,
				Extra: map[string]json.RawMessage{"trace": json.RawMessage(`{"id":"t1"}`)},
			},
			Enabled:       true,
			RecoveryCodes: []string{"a1", "b2"},
		}

		var buf bytes.Buffer
		if err := WriteResult(&buf, res, FormatText); err != nil {
			t.Fatalf("WriteResult failed: %v", err)
		}

		want := strings.Join([]string{
			"enabled: true",
			"extra.trace.id: t1",
			"ok: true",
			"recovery_codes[0]: a1",
			"recovery_codes[1]: b2",
		}, "\n") + "\n"
		if buf.String() != want {
			t.Errorf("expected:\n%s\ngot:\n%s", want, buf.String())
		}
	})

	t.Run("text output renders lists as blocks", func(t *testing.T) {
		devices := []models.TrustedDevice{{ID: "d1", Name: "Laptop"}, {ID: "d2", Name: "Phone"}}

		var buf bytes.Buffer
		if err := WriteResult(&buf, devices, FormatText); err != nil {
			t.Fatalf("WriteResult failed: %v", err)
		}

		blocks := strings.Split(strings.TrimSpace(buf.String()), "\n\n")
		if len(blocks) != 2 {
			t.Fatalf("expected 2 blocks, got %d: %q", len(blocks), buf.String())
		}
		if !strings.Contains(blocks[1], "name: Phone") {
			t.Errorf("expected second block to describe Phone, got %q", blocks[1])
		}
	})

	t.Run("empty list", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteResult(&buf, []models.AccountSession{}, FormatText); err != nil {
			t.Fatalf("WriteResult failed: %v", err)
		}
		if buf.String() != "(none)\n" {
			t.Errorf("unexpected output %q", buf.String())
		}
	})

	t.Run("json output", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteResult(&buf, mutation.Result{OK: true}, FormatJSON); err != nil {
			t.Fatalf("WriteResult failed: %v", err)
		}
		if !strings.Contains(buf.String(), `"ok": true`) {
			t.Errorf("expected indented JSON, got %s", buf.String())
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		err := WriteResult(&bytes.Buffer{}, mutation.Result{}, "yaml")
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("write failure", func(t *testing.T) {
		if err := WriteResult(&th.FWriter{}, mutation.Result{OK: true}, FormatText); err == nil {
			t.Error("expected write error")
		}
	})
}

func TestExporters(t *testing.T) {
	codes := []string{"abcd-1234", "efgh-5678"}

	t.Run("text", func(t *testing.T) {
		data, err := ExportRecoveryCodes(codes, FormatText)
		if err != nil {
			t.Fatalf("ExportRecoveryCodes failed: %v", err)
		}
		if !strings.HasSuffix(string(data), "abcd-1234\nefgh-5678\n") {
			t.Errorf("unexpected text export %q", data)
		}
	})

	t.Run("markdown", func(t *testing.T) {
		data, err := ExportRecoveryCodes(codes, FormatMarkdown)
		if err != nil {
			t.Fatalf("ExportRecoveryCodes failed: %v", err)
		}
		output := string(data)
		if !strings.HasPrefix(output, "# MoviesNow recovery codes") {
			t.Errorf("markdown missing title, got: %s", output)
		}
		if !strings.Contains(output, "- [ ] `efgh-5678`") {
			t.Errorf("markdown missing code checklist, got: %s", output)
		}
	})

	t.Run("csv", func(t *testing.T) {
		data, err := ExportRecoveryCodes(codes, FormatCSV)
		if err != nil {
			t.Fatalf("ExportRecoveryCodes failed: %v", err)
		}
		if string(data) != "Index,Code\n1,abcd-1234\n2,efgh-5678\n" {
			t.Errorf("unexpected CSV %q", data)
		}
	})

	t.Run("errors", func(t *testing.T) {
		if _, err := ExportRecoveryCodes(nil, FormatText); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
		if _, err := ExportRecoveryCodes(codes, "pdf"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("WriteRecoveryCodes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "codes.csv")

		written, err := WriteRecoveryCodes(codes, FormatCSV, path)
		if err != nil {
			t.Fatalf("WriteRecoveryCodes failed: %v", err)
		}
		info, err := os.Stat(written)
		if err != nil {
			t.Fatalf("expected file at %s: %v", written, err)
		}
		if info.Mode().Perm() != 0600 {
			t.Errorf("expected 0600 permissions, got %v", info.Mode().Perm())
		}
	})
}

func TestFormatKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain error", errors.New("boom"), "error"},
		{"rate limited", &mutation.Error{Kind: mutation.RateLimited}, "rate_limited"},
		{"wrapped", errors.Join(errors.New("context"), &mutation.Error{Kind: mutation.NeedStepUp}), "need_step_up"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatKind(tt.err); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestHint(t *testing.T) {
	if Hint(&mutation.Error{Kind: mutation.NeedStepUp}) == "" {
		t.Error("expected a step-up hint")
	}
	if !strings.Contains(Hint(&mutation.Error{Kind: mutation.NetworkFailure}), "safe to retry") {
		t.Error("expected a retry hint")
	}
	if !strings.Contains(Hint(&mutation.Error{Kind: mutation.TerminalClientError, Code: "refresh_failed"}), "session login") {
		t.Error("expected a sign-in hint")
	}
	if Hint(&mutation.Error{Kind: mutation.ProtocolViolation}) != "" {
		t.Error("expected no hint")
	}
}
