// Package provider selects and constructs the chat model backends the expert
// crew reasons with. Supported backends: Ollama, OpenAI, Azure OpenAI,
// Volcengine Ark, Google Gemini.
package provider

import (
	"context"
	"fmt"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendArk selects the Volcengine Ark model runtime.
	BackendArk Backend = "ark"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
)

// Backends returns every supported backend in display order.
func Backends() []Backend {
	return []Backend{BackendOllama, BackendOpenAI, BackendAzure, BackendArk, BackendGemini}
}

// ProviderOllama holds Ollama connection settings.
type ProviderOllama struct {
	// Host is the Ollama base URL, e.g. http://localhost:11434.
	Host string
	// Model is the default model tag, e.g. phi3:3.8b.
	Model string
}

// ProviderOpenAI holds OpenAI credentials.
type ProviderOpenAI struct {
	// APIKey is the OpenAI secret key.
	APIKey string
	// Model is the default model name, e.g. gpt-4o-mini.
	Model string
	// BaseURL overrides the API endpoint for OpenAI-compatible servers.
	BaseURL string
}

// ProviderAzureOpenAI holds Azure OpenAI credentials.
type ProviderAzureOpenAI struct {
	// APIKey is the Azure OpenAI resource key.
	APIKey string
	// Endpoint is the resource endpoint, e.g. https://my.openai.azure.com.
	Endpoint string
	// Deployment is the default deployment name.
	Deployment string
	// APIVersion is the REST API version, e.g. 2024-02-01.
	APIVersion string
}

// ProviderArk holds Volcengine Ark credentials.
type ProviderArk struct {
	// APIKey is the Ark API key.
	APIKey string
	// Model is the endpoint or model ID.
	Model string
	// BaseURL overrides the regional Ark endpoint.
	BaseURL string
}

// ProviderGemini holds Google AI Studio credentials.
type ProviderGemini struct {
	// APIKey is the Google API key.
	APIKey string
	// Model is the default model name, e.g. gemini-1.5-flash.
	Model string
}

// SharedTuning holds generation parameters common to every backend.
type SharedTuning struct {
	// MaxTokens caps the number of tokens generated per response.
	MaxTokens int
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32
}

// Config holds all provider-level configuration resolved from environment
// variables or explicit caller-supplied values. Only the sub-struct matching
// Backend is consulted.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend
	// Ollama is consulted when Backend is BackendOllama.
	Ollama ProviderOllama
	// OpenAI is consulted when Backend is BackendOpenAI.
	OpenAI ProviderOpenAI
	// AzureOpenAI is consulted when Backend is BackendAzure.
	AzureOpenAI ProviderAzureOpenAI
	// Ark is consulted when Backend is BackendArk.
	Ark ProviderArk
	// Gemini is consulted when Backend is BackendGemini.
	Gemini ProviderGemini
	// Tuning applies to every backend.
	Tuning SharedTuning
}

// Validate reports the first missing setting for the selected backend, naming
// the environment variable that supplies it.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendOllama:
		if c.Ollama.Host == "" {
			return fmt.Errorf("provider: OLLAMA_HOST is required for ollama backend")
		}
		if c.Ollama.Model == "" {
			return fmt.Errorf("provider: OLLAMA_MODEL is required for ollama backend")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("provider: OPENAI_API_KEY is required for openai backend")
		}
		if c.OpenAI.Model == "" {
			return fmt.Errorf("provider: OPENAI_MODEL is required for openai backend")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_API_KEY is required for azure backend")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_ENDPOINT is required for azure backend")
		}
		if c.AzureOpenAI.Deployment == "" {
			return fmt.Errorf("provider: AZURE_OPENAI_DEPLOYMENT is required for azure backend")
		}
	case BackendArk:
		if c.Ark.APIKey == "" {
			return fmt.Errorf("provider: ARK_API_KEY is required for ark backend")
		}
		if c.Ark.Model == "" {
			return fmt.Errorf("provider: ARK_MODEL is required for ark backend")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return fmt.Errorf("provider: GOOGLE_API_KEY is required for gemini backend")
		}
		if c.Gemini.Model == "" {
			return fmt.Errorf("provider: GEMINI_MODEL is required for gemini backend")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q (valid values: ollama, openai, azure, ark, gemini)", c.Backend)
	}
	return nil
}

// Model returns the model (or Azure deployment) the selected backend will use.
func (c *Config) Model() string {
	switch c.Backend {
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendArk:
		return c.Ark.Model
	case BackendGemini:
		return c.Gemini.Model
	}
	return ""
}

// WithModel returns a copy of c whose selected backend uses name. An empty
// name returns an unchanged copy. Used for per-role model overrides.
func (c Config) WithModel(name string) *Config {
	if name == "" {
		return &c
	}
	switch c.Backend {
	case BackendOllama:
		c.Ollama.Model = name
	case BackendOpenAI:
		c.OpenAI.Model = name
	case BackendAzure:
		c.AzureOpenAI.Deployment = name
	case BackendArk:
		c.Ark.Model = name
	case BackendGemini:
		c.Gemini.Model = name
	}
	return &c
}

// HealthCheckConfig is a zero-cost reachability probe for a backend. It never
// generates tokens.
type HealthCheckConfig interface {
	// HealthCheck returns nil when the backend is reachable.
	HealthCheck(ctx context.Context) error
}
