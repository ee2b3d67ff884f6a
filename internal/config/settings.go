package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/54b3r/studycrew-go/internal/apperr"
	"github.com/54b3r/studycrew-go/internal/retriever"
)

// Defaults applied when the corresponding variable is unset.
const (
	DefaultChunkSize        = 1000
	DefaultChunkOverlap     = 200
	DefaultTopK             = retriever.DefaultTopK
	DefaultDiversity        = retriever.DefaultDiversity
	DefaultIndexDir         = "./vectorstore"
	DefaultUploadDir        = "./data/raw"
	DefaultMaxFileSize      = 50 << 20
	DefaultIndexBackend     = "sqlite"
	DefaultExpertWorkers    = 1
	DefaultMaxContextTokens = 6000
	DefaultHost             = "127.0.0.1"
	DefaultPort             = 8005
)

// defaultOllamaRoleModels are the small local models each role runs on when
// the chat provider is Ollama and no override is set.
var defaultOllamaRoleModels = map[string]string{
	"Tutor":       "phi3:3.8b",
	"Coach":       "gemma:2b",
	"Analyst":     "qwen:1.8b",
	"Synthesizer": "phi3:3.8b",
}

// roleModelEnv maps role names to their override variables.
var roleModelEnv = map[string]string{
	"Tutor":       "TUTOR_MODEL",
	"Coach":       "COACH_MODEL",
	"Analyst":     "ANALYST_MODEL",
	"Synthesizer": "SYNTHESIZER_MODEL",
}

// Settings is the validated runtime configuration.
type Settings struct {
	// ChunkSize is the maximum chunk length in characters.
	ChunkSize int
	// ChunkOverlap is the overlap between consecutive chunks.
	ChunkOverlap int
	// TopK is the default number of chunks retrieved.
	TopK int
	// Diversity is the MMR diversity factor.
	Diversity float64
	// SearchMethod is the default retrieval strategy.
	SearchMethod retriever.Method
	// IndexDir is the root of the per-document index directories.
	IndexDir string
	// UploadDir is where uploaded files are saved.
	UploadDir string
	// MaxFileSize is the upload size limit in bytes.
	MaxFileSize int64
	// IndexBackend is sqlite or qdrant.
	IndexBackend string
	// Workers bounds concurrent expert tasks.
	Workers int
	// MaxContextTokens is the prompt budget used for warnings.
	MaxContextTokens int
	// RoleModels maps crew role names to model overrides.
	RoleModels map[string]string
	// CatalogDB is the catalog database path. Empty selects the default.
	CatalogDB string
	// Host is the HTTP bind address.
	Host string
	// Port is the HTTP port.
	Port int
	// APIKey is the Bearer token required by the HTTP API. Empty disables auth.
	APIKey string
}

// SettingsFromEnv resolves and validates Settings from the environment.
// Malformed or out-of-range values fail with a validation error naming the
// variable.
func SettingsFromEnv() (*Settings, error) {
	p := envParser{}
	s := &Settings{
		ChunkSize:        p.int("CHUNK_SIZE", DefaultChunkSize),
		ChunkOverlap:     p.int("CHUNK_OVERLAP", DefaultChunkOverlap),
		TopK:             p.int("TOP_K_DOCUMENTS", DefaultTopK),
		Diversity:        p.float("MMR_DIVERSITY_FACTOR", DefaultDiversity),
		IndexDir:         envOr("INDEX_DIR", DefaultIndexDir),
		UploadDir:        envOr("UPLOAD_DIR", DefaultUploadDir),
		MaxFileSize:      int64(p.int("MAX_FILE_SIZE", DefaultMaxFileSize)),
		IndexBackend:     strings.ToLower(envOr("INDEX_BACKEND", DefaultIndexBackend)),
		Workers:          p.int("EXPERT_WORKERS", DefaultExpertWorkers),
		MaxContextTokens: p.int("MAX_CONTEXT_TOKENS", DefaultMaxContextTokens),
		RoleModels:       roleModels(),
		CatalogDB:        os.Getenv("STUDYCREW_CATALOG_DB"),
		Host:             envOr("STUDYCREW_HOST", DefaultHost),
		Port:             p.int("STUDYCREW_PORT", DefaultPort),
		APIKey:           os.Getenv("STUDYCREW_API_KEY"),
	}
	if p.err != nil {
		return nil, p.err
	}

	method, err := retriever.ParseMethod(os.Getenv("SEARCH_METHOD"))
	if err != nil {
		return nil, err
	}
	s.SearchMethod = method

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks cross-field constraints.
func (s *Settings) Validate() error {
	const op = "config.Validate"
	switch {
	case s.ChunkSize <= 0:
		return apperr.New(apperr.KindValidation, op, "CHUNK_SIZE must be positive, got %d", s.ChunkSize)
	case s.ChunkOverlap < 0:
		return apperr.New(apperr.KindValidation, op, "CHUNK_OVERLAP must not be negative, got %d", s.ChunkOverlap)
	case s.ChunkOverlap >= s.ChunkSize:
		return apperr.New(apperr.KindValidation, op, "CHUNK_OVERLAP (%d) must be less than CHUNK_SIZE (%d)", s.ChunkOverlap, s.ChunkSize)
	case s.TopK <= 0:
		return apperr.New(apperr.KindValidation, op, "TOP_K_DOCUMENTS must be a positive integer, got %d", s.TopK)
	case s.Diversity < 0 || s.Diversity > 1:
		return apperr.New(apperr.KindValidation, op, "MMR_DIVERSITY_FACTOR must be between 0 and 1, got %v", s.Diversity)
	case s.MaxFileSize <= 0:
		return apperr.New(apperr.KindValidation, op, "MAX_FILE_SIZE must be positive, got %d", s.MaxFileSize)
	case s.IndexBackend != "sqlite" && s.IndexBackend != "qdrant":
		return apperr.New(apperr.KindValidation, op, "INDEX_BACKEND must be sqlite or qdrant, got %q", s.IndexBackend)
	case s.Workers <= 0:
		return apperr.New(apperr.KindValidation, op, "EXPERT_WORKERS must be positive, got %d", s.Workers)
	}
	return nil
}

// roleModels resolves per-role overrides. Ollama gets small local defaults;
// other providers fall back to their own default model.
func roleModels() map[string]string {
	provider := strings.ToLower(envOr("MODEL_PROVIDER", "ollama"))
	models := make(map[string]string, len(roleModelEnv))
	for role, key := range roleModelEnv {
		if v := os.Getenv(key); v != "" {
			models[role] = v
		} else if provider == "ollama" {
			models[role] = defaultOllamaRoleModels[role]
		}
	}
	return models
}

// envParser parses numeric variables, keeping the first failure.
type envParser struct {
	err error
}

func (p *envParser) int(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil && p.err == nil {
		p.err = apperr.New(apperr.KindValidation, "config.SettingsFromEnv", "%s must be an integer, got %q", key, v)
	}
	return n
}

func (p *envParser) float(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil && p.err == nil {
		p.err = apperr.New(apperr.KindValidation, "config.SettingsFromEnv", "%s must be a number, got %q", key, v)
	}
	return f
}

// envOr returns the named variable, or fallback when unset or empty.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
