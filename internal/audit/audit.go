// Package audit provides a structured audit logger for CLI command invocations.
// It logs command name, resolved configuration, and sanitised environment state
// so operators can trace what happened without exposing secret values.
//
// Secrets are logged as presence or absence only, never their values.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// secretEnvKeys lists environment variable names whose values must never be
// logged. Only presence ("set") or absence ("unset") is recorded.
var secretEnvKeys = map[string]bool{
	"OPENAI_API_KEY":       true,
	"AZURE_OPENAI_API_KEY": true,
	"GOOGLE_API_KEY":       true,
	"EMBEDDING_API_KEY":    true,
	"QDRANT_API_KEY":       true,
	"STUDYCREW_API_KEY":    true,
	"LANGFUSE_PUBLIC_KEY":  true,
	"LANGFUSE_SECRET_KEY":  true,
	"ARK_API_KEY":          true,
}

// LogCommandStart emits one audit record when a CLI command begins: the
// command, the config file it resolved, and every key in auditKeys with
// secrets reduced to set/unset.
func LogCommandStart(ctx context.Context, log *slog.Logger, command string, configPath string) {
	attrs := make([]slog.Attr, 0, len(auditKeys)+2)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	)
	for _, key := range auditKeys {
		attrs = append(attrs, slog.String(key, SanitiseKey(key, os.Getenv(key))))
	}
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// auditKeys is the ordered list of variables recorded for every command.
var auditKeys = []string{
	"MODEL_PROVIDER", "OLLAMA_HOST", "OLLAMA_MODEL", "TUTOR_MODEL", "COACH_MODEL", "ANALYST_MODEL", "SYNTHESIZER_MODEL",
	"OPENAI_API_KEY", "OPENAI_MODEL", "AZURE_OPENAI_API_KEY", "AZURE_OPENAI_ENDPOINT", "AZURE_OPENAI_DEPLOYMENT",
	"ARK_API_KEY", "ARK_MODEL", "GOOGLE_API_KEY", "GEMINI_MODEL",
	"EMBEDDING_PROVIDER", "EMBEDDING_MODEL", "EMBEDDING_API_KEY",
	"INDEX_BACKEND", "INDEX_DIR", "UPLOAD_DIR", "SEARCH_METHOD", "TOP_K_DOCUMENTS", "CHUNK_SIZE", "CHUNK_OVERLAP", "EXPERT_WORKERS",
	"QDRANT_HOST", "QDRANT_PORT", "QDRANT_API_KEY",
	"STUDYCREW_API_KEY", "STUDYCREW_CATALOG_DB", "LOG_LEVEL", "LOG_FORMAT", "LANGFUSE_PUBLIC_KEY", "LANGFUSE_SECRET_KEY",
}

// SanitiseKey returns "set" or "unset" for known secret keys, or the actual
// value for non-secret keys. This is safe to use in log messages.
func SanitiseKey(key, value string) string {
	if secretEnvKeys[key] {
		return presence(value)
	}
	return valOrUnset(value)
}

func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// sanitiseConfigPath returns the config path or "none" if empty.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	// Redact home directory for privacy in logs.
	home, err := os.UserHomeDir()
	if err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
