package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/54b3r/studycrew-go/internal/apperr"
	"github.com/54b3r/studycrew-go/internal/retriever"
)

// settingsKeys are cleared before every settings test.
var settingsKeys = []string{
	"CHUNK_SIZE", "CHUNK_OVERLAP", "TOP_K_DOCUMENTS", "MMR_DIVERSITY_FACTOR",
	"SEARCH_METHOD", "INDEX_DIR", "UPLOAD_DIR", "MAX_FILE_SIZE", "INDEX_BACKEND",
	"EXPERT_WORKERS", "MAX_CONTEXT_TOKENS", "STUDYCREW_CATALOG_DB", "STUDYCREW_HOST",
	"STUDYCREW_PORT", "STUDYCREW_API_KEY", "MODEL_PROVIDER",
	"TUTOR_MODEL", "COACH_MODEL", "ANALYST_MODEL", "SYNTHESIZER_MODEL",
}

func clearSettingsEnv(t *testing.T) {
	t.Helper()
	for _, k := range settingsKeys {
		t.Setenv(k, "")
	}
}

func TestSettingsFromEnv_Defaults(t *testing.T) {
	clearSettingsEnv(t)

	s, err := SettingsFromEnv()
	if err != nil {
		t.Fatalf("SettingsFromEnv: %v", err)
	}
	if s.ChunkSize != 1000 || s.ChunkOverlap != 200 || s.TopK != 4 {
		t.Errorf("unexpected chunk/topk defaults: %+v", s)
	}
	if s.Diversity != 0.7 || s.SearchMethod != retriever.Smart {
		t.Errorf("unexpected retrieval defaults: %v %q", s.Diversity, s.SearchMethod)
	}
	if s.MaxFileSize != 50*1024*1024 || s.IndexBackend != "sqlite" || s.Workers != 1 {
		t.Errorf("unexpected defaults: %+v", s)
	}
	if s.RoleModels["Coach"] != "gemma:2b" || s.RoleModels["Analyst"] != "qwen:1.8b" {
		t.Errorf("ollama role defaults missing: %v", s.RoleModels)
	}
}

func TestSettingsFromEnv_RoleModelsForHostedProvider(t *testing.T) {
	clearSettingsEnv(t)
	t.Setenv("MODEL_PROVIDER", "openai")
	t.Setenv("ANALYST_MODEL", "gpt-4o")

	s, err := SettingsFromEnv()
	if err != nil {
		t.Fatalf("SettingsFromEnv: %v", err)
	}
	if len(s.RoleModels) != 1 || s.RoleModels["Analyst"] != "gpt-4o" {
		t.Errorf("hosted providers should only carry explicit overrides, got %v", s.RoleModels)
	}
}

func TestSettingsFromEnv_Invalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"overlap equals size", map[string]string{"CHUNK_SIZE": "500", "CHUNK_OVERLAP": "500"}},
		{"overlap exceeds size", map[string]string{"CHUNK_SIZE": "100", "CHUNK_OVERLAP": "200"}},
		{"zero top k", map[string]string{"TOP_K_DOCUMENTS": "0"}},
		{"diversity above one", map[string]string{"MMR_DIVERSITY_FACTOR": "1.5"}},
		{"unknown method", map[string]string{"SEARCH_METHOD": "hybrid"}},
		{"unknown backend", map[string]string{"INDEX_BACKEND": "faiss"}},
		{"non-numeric size", map[string]string{"CHUNK_SIZE": "big"}},
		{"non-numeric diversity", map[string]string{"MMR_DIVERSITY_FACTOR": "high"}},
		{"zero workers", map[string]string{"EXPERT_WORKERS": "0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearSettingsEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := SettingsFromEnv(); !errors.Is(err, apperr.Validation) {
				t.Errorf("want validation error, got %v", err)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("CHUNK_SIZE=640\nSEARCH_METHOD=detailed\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHUNK_SIZE", "")
	os.Unsetenv("CHUNK_SIZE")
	t.Setenv("SEARCH_METHOD", "mmr")

	if err := LoadDotEnv(path, slog.Default()); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("CHUNK_SIZE"); got != "640" {
		t.Errorf("CHUNK_SIZE = %q, want 640", got)
	}
	if got := os.Getenv("SEARCH_METHOD"); got != "mmr" {
		t.Errorf("existing env must win, SEARCH_METHOD = %q", got)
	}
}

func TestLoadDotEnv_MissingFile(t *testing.T) {
	t.Parallel()

	if err := LoadDotEnv(filepath.Join(t.TempDir(), ".env"), slog.Default()); err != nil {
		t.Errorf("missing .env should be ignored, got %v", err)
	}
}
