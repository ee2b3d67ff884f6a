// Package agent runs the expert crew: a question and its retrieved context go
// to each expert role, then one synthesis role condenses their answers into a
// short numbered list.
//
// Expert tasks are submitted to a bounded worker pool. With the default pool
// size of 1 they run strictly in declared order, one at a time, which keeps
// peak load on a local model server to a single request. Larger pools run
// experts concurrently; outputs are always reported in declared role order
// and synthesis starts only after every expert has answered.
package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/studycrew-go/internal/apperr"
	"github.com/54b3r/studycrew-go/internal/budget"
	"github.com/54b3r/studycrew-go/internal/logging"
)

// DefaultWorkers is the expert pool size.
const DefaultWorkers = 1

// expertSeparator joins expert outputs for the synthesis task.
const expertSeparator = "\n\n"

// Config holds the dependencies required to construct an Orchestrator.
type Config struct {
	// Backend executes role tasks. Required.
	Backend Backend
	// Experts are dispatched in this order. Defaults to DefaultExperts.
	Experts []Role
	// Synthesizer condenses expert answers. Defaults to DefaultSynthesizer.
	Synthesizer *Role
	// Workers bounds concurrent expert tasks. Defaults to DefaultWorkers.
	Workers int
	// MaxContextTokens is the estimated prompt budget. Prompts over budget are
	// logged, never truncated. Defaults to budget.DefaultMaxContextTokens.
	MaxContextTokens int
	// OnTask is called after every expert or synthesis task. Optional.
	OnTask func(role string, d time.Duration, err error)
}

// ExpertOutput is one expert's answer.
type ExpertOutput struct {
	// Role is the expert role name.
	Role string `json:"role"`
	// Output is the expert's answer text.
	Output string `json:"output"`
	// Duration is how long the task took.
	Duration time.Duration `json:"duration_ns"`
}

// Result is the outcome of one Process call.
type Result struct {
	// Context is the retrieved context every expert saw.
	Context string `json:"context"`
	// Experts holds one entry per configured expert, in declared order.
	Experts []ExpertOutput `json:"expert_outputs"`
	// FinalAnswer is the synthesized answer.
	FinalAnswer string `json:"final_answer"`
}

// Outputs returns the expert answers keyed by role name.
func (r *Result) Outputs() map[string]string {
	m := make(map[string]string, len(r.Experts))
	for _, e := range r.Experts {
		m[e.Role] = e.Output
	}
	return m
}

// Orchestrator runs the expert crew.
type Orchestrator struct {
	// backend executes role tasks.
	backend Backend
	// experts are dispatched in this order.
	experts []Role
	// synth condenses expert answers.
	synth Role
	// workers bounds concurrent expert tasks.
	workers int
	// maxTokens is the prompt budget used for warnings.
	maxTokens int
	// onTask observes task completion.
	onTask func(role string, d time.Duration, err error)
}

// New constructs an Orchestrator. It fails with a validation error when no
// experts are configured or two experts share a name.
func New(cfg *Config) (*Orchestrator, error) {
	if cfg.Backend == nil {
		return nil, apperr.New(apperr.KindValidation, "agent.New", "backend must not be nil")
	}
	experts := cfg.Experts
	if experts == nil {
		experts = DefaultExperts()
	}
	synth := DefaultSynthesizer()
	if cfg.Synthesizer != nil {
		synth = *cfg.Synthesizer
	}
	if err := validateRoles(experts, synth); err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	maxTokens := cfg.MaxContextTokens
	if maxTokens <= 0 {
		maxTokens = budget.DefaultMaxContextTokens
	}

	return &Orchestrator{
		backend:   cfg.Backend,
		experts:   append([]Role(nil), experts...),
		synth:     synth,
		workers:   workers,
		maxTokens: maxTokens,
		onTask:    cfg.OnTask,
	}, nil
}

// Experts returns the configured expert roles in dispatch order.
func (o *Orchestrator) Experts() []Role {
	return append([]Role(nil), o.experts...)
}

// Process answers question from docContext. Any expert or synthesis failure
// fails the whole call with an agent error naming the role; no partial
// result is ever returned.
func (o *Orchestrator) Process(ctx context.Context, question, docContext string) (*Result, error) {
	const op = "agent.Process"
	if strings.TrimSpace(question) == "" {
		return nil, apperr.New(apperr.KindValidation, op, "question must not be empty")
	}
	if strings.TrimSpace(docContext) == "" {
		return nil, apperr.New(apperr.KindDocumentProcessing, op, "no context was retrieved for the question")
	}

	log := logging.FromContext(ctx)
	outputs := make([]ExpertOutput, len(o.experts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, role := range o.experts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			log.Info("agent: running expert",
				slog.String("role", role.Name),
				slog.Int("position", i+1),
				slog.Int("of", len(o.experts)),
			)
			out, d, err := o.run(gctx, role, ExpertTask(role, docContext, question))
			if err != nil {
				return err
			}
			outputs[i] = ExpertOutput{Role: role.Name, Output: out, Duration: d}
			log.Info("agent: expert completed", slog.String("role", role.Name), slog.Duration("duration", d))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	answers := make([]string, len(outputs))
	for i, e := range outputs {
		answers[i] = e.Output
	}
	final, d, err := o.run(ctx, o.synth, SynthesisTask(strings.Join(answers, expertSeparator)))
	if err != nil {
		return nil, err
	}
	log.Info("agent: synthesis completed", slog.Duration("duration", d))

	return &Result{Context: docContext, Experts: outputs, FinalAnswer: final}, nil
}

// run executes one task and turns backend failures and empty replies into
// agent errors naming the role.
func (o *Orchestrator) run(ctx context.Context, role Role, task string) (string, time.Duration, error) {
	const op = "agent.Process"

	usage := budget.Check([]*schema.Message{
		schema.SystemMessage(persona(role)),
		schema.UserMessage(task),
	}, o.maxTokens)
	if usage.Over() {
		logging.FromContext(ctx).Warn("budget: prompt exceeds context budget",
			slog.String("role", role.Name),
			slog.Int("estimated_tokens", usage.Tokens),
			slog.Int("max_tokens", usage.Max),
		)
	}

	start := time.Now()
	out, err := o.backend.Run(ctx, role, task)
	d := time.Since(start)
	if err == nil && strings.TrimSpace(out) == "" {
		err = apperr.New(apperr.KindDocumentProcessing, op, "empty response")
	}
	if o.onTask != nil {
		o.onTask(role.Name, d, err)
	}
	if err != nil {
		return "", d, &apperr.Error{Kind: apperr.KindAgent, Op: op, Role: role.Name, Msg: "task failed", Err: err}
	}
	return strings.TrimSpace(out), d, nil
}
