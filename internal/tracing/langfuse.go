// Package tracing sends every expert and synthesis model call to Langfuse
// when credentials are configured.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// defaultHost is the self-hosted Langfuse address used when LANGFUSE_HOST is unset.
const defaultHost = "http://localhost:3000"

// Config holds Langfuse credentials.
type Config struct {
	// Host is the Langfuse base URL.
	Host string
	// PublicKey is the project public key.
	PublicKey string
	// SecretKey is the project secret key.
	SecretKey string
}

// ConfigFromEnv reads LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY.
func ConfigFromEnv() Config {
	return Config{
		Host:      os.Getenv("LANGFUSE_HOST"),
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
	}
}

// Enabled reports whether both keys are present.
func (c Config) Enabled() bool {
	return c.PublicKey != "" && c.SecretKey != ""
}

// Setup builds the Langfuse callback handler. The returned flush function
// must be called before process exit so buffered traces are sent. When c is
// not enabled both return values are nil and ok is false.
func Setup(c Config) (handler callbacks.Handler, flush func(), ok bool) {
	if !c.Enabled() {
		return nil, nil, false
	}
	host := c.Host
	if host == "" {
		host = defaultHost
	}
	handler, flush = langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: c.PublicKey,
		SecretKey: c.SecretKey,
	})
	return handler, flush, true
}

// Install registers the handler globally so every compiled chain reports to
// Langfuse. It returns a flush function that is a no-op when tracing is off.
func Install(c Config) (flush func(), ok bool) {
	handler, flush, ok := Setup(c)
	if !ok {
		return func() {}, false
	}
	callbacks.AppendGlobalHandlers(handler)
	return flush, true
}
