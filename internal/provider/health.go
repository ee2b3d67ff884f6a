package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// httpHealthCheck probes a GET endpoint that lists models. Listing models is
// free on every backend that supports it.
type httpHealthCheck struct {
	// url is the probe endpoint.
	url string
	// header is applied to the probe request.
	header http.Header
	// client performs the request.
	client *http.Client
}

// HealthCheck returns nil when the endpoint answers 2xx.
func (h *httpHealthCheck) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return fmt.Errorf("provider: health check request: %w", err)
	}
	for k, v := range h.header {
		req.Header[k] = v
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider: health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("provider: health check: %s returned %d", h.url, resp.StatusCode)
	}
	return nil
}

// HealthCheck returns a zero-cost probe for the selected backend, or nil when
// the backend offers no token-free endpoint (ark, gemini).
func (c *Config) HealthCheck() HealthCheckConfig {
	client := &http.Client{Timeout: 10 * time.Second}
	switch c.Backend {
	case BackendOllama:
		return &httpHealthCheck{
			url:    strings.TrimRight(c.Ollama.Host, "/") + "/api/tags",
			client: client,
		}
	case BackendOpenAI:
		base := c.OpenAI.BaseURL
		if base == "" {
			base = "https://api.openai.com/v1"
		}
		return &httpHealthCheck{
			url:    strings.TrimRight(base, "/") + "/models",
			header: http.Header{"Authorization": {"Bearer " + c.OpenAI.APIKey}},
			client: client,
		}
	case BackendAzure:
		return &httpHealthCheck{
			url: fmt.Sprintf("%s/openai/models?api-version=%s",
				strings.TrimRight(c.AzureOpenAI.Endpoint, "/"), c.AzureOpenAI.APIVersion),
			header: http.Header{"Api-Key": {c.AzureOpenAI.APIKey}},
			client: client,
		}
	}
	return nil
}
