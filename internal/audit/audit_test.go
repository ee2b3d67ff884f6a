package audit

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func TestSanitiseKey(t *testing.T) {
	t.Parallel()

	cases := []struct {
		key, value, want string
	}{
		{"OPENAI_API_KEY", "sk-abc123", "set"},
		{"OPENAI_API_KEY", "", "unset"},
		{"STUDYCREW_API_KEY", "hunter2", "set"},
		{"MODEL_PROVIDER", "azure", "azure"},
		{"SEARCH_METHOD", "", "unset"},
	}
	for _, tc := range cases {
		if got := SanitiseKey(tc.key, tc.value); got != tc.want {
			t.Errorf("SanitiseKey(%q, %q) = %q, want %q", tc.key, tc.value, got, tc.want)
		}
	}
}

// Every secret must be audited, or its presence would never be visible.
func TestAuditKeys_CoverSecrets(t *testing.T) {
	t.Parallel()

	listed := make(map[string]bool, len(auditKeys))
	for _, k := range auditKeys {
		if listed[k] {
			t.Errorf("%s listed twice", k)
		}
		listed[k] = true
	}
	for k := range secretEnvKeys {
		if !listed[k] {
			t.Errorf("secret %s missing from auditKeys", k)
		}
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil {
		p := home + "/.studycrew/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.studycrew/config.yaml" {
			t.Errorf("expected '~/.studycrew/config.yaml', got %q", got)
		}
	}
}

func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-very-secret")
	t.Setenv("SEARCH_METHOD", "mmr")

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	LogCommandStart(context.Background(), log, "ask", "")

	out := buf.String()
	if strings.Contains(out, "sk-very-secret") {
		t.Fatalf("secret leaked into audit log: %s", out)
	}
	for _, want := range []string{"command=ask", "OPENAI_API_KEY=set", "SEARCH_METHOD=mmr", "config_file=none"} {
		if !strings.Contains(out, want) {
			t.Errorf("audit log missing %q: %s", want, out)
		}
	}
}
