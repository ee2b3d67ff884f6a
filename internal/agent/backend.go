package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/studycrew-go/internal/apperr"
)

// Backend executes one role's task against a reasoning model.
// Implementations must be safe to call from multiple goroutines.
type Backend interface {
	// Run returns the model's reply to task, spoken as role.
	Run(ctx context.Context, role Role, task string) (string, error)
}

// ModelFactory constructs the chat model for a model name. An empty name
// selects the provider default.
type ModelFactory func(ctx context.Context, modelName string) (model.BaseChatModel, error)

// roleChain is a compiled ChatTemplate → ChatModel pipeline.
type roleChain = compose.Runnable[map[string]any, *schema.Message]

// EinoBackend runs tasks through eino chains, compiling one chain per model
// name on first use.
type EinoBackend struct {
	// factory builds chat models on cache miss.
	factory ModelFactory
	// template renders the persona and task into messages.
	template prompt.ChatTemplate

	mu     sync.Mutex
	chains map[string]roleChain
}

// NewEinoBackend constructs an EinoBackend.
func NewEinoBackend(factory ModelFactory) *EinoBackend {
	return &EinoBackend{
		factory: factory,
		template: prompt.FromMessages(schema.FString,
			schema.SystemMessage("{persona}"),
			schema.UserMessage("{task}"),
		),
		chains: make(map[string]roleChain),
	}
}

// Run implements Backend.
func (b *EinoBackend) Run(ctx context.Context, role Role, task string) (string, error) {
	const op = "agent.EinoBackend.Run"

	chain, err := b.chain(ctx, role.Model)
	if err != nil {
		return "", apperr.Wrap(apperr.KindBackendUnavailable, op, err, "model %q unavailable", modelLabel(role.Model))
	}
	msg, err := chain.Invoke(ctx, map[string]any{
		"persona": persona(role),
		"task":    task,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", apperr.Wrap(apperr.KindBackendTimeout, op, err, "model %q timed out", modelLabel(role.Model))
		}
		return "", apperr.Wrap(apperr.KindBackendUnavailable, op, err, "model %q call failed", modelLabel(role.Model))
	}
	if msg == nil {
		return "", nil
	}
	return msg.Content, nil
}

// chain returns the cached chain for modelName, compiling it on first use.
func (b *EinoBackend) chain(ctx context.Context, modelName string) (roleChain, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.chains[modelName]; ok {
		return c, nil
	}
	m, err := b.factory(ctx, modelName)
	if err != nil {
		return nil, err
	}
	c, err := compose.NewChain[map[string]any, *schema.Message]().
		AppendChatTemplate(b.template).
		AppendChatModel(m).
		Compile(ctx, compose.WithGraphName("studycrew:"+modelLabel(modelName)))
	if err != nil {
		return nil, fmt.Errorf("agent: failed to compile chain: %w", err)
	}
	b.chains[modelName] = c
	return c, nil
}

func modelLabel(name string) string {
	if strings.TrimSpace(name) == "" {
		return "default"
	}
	return name
}
