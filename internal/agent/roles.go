package agent

import (
	"strings"

	"github.com/54b3r/studycrew-go/internal/apperr"
)

// Role is one independently configured reasoning persona.
type Role struct {
	// Name identifies the role in outputs and errors. Unique within a crew.
	Name string `yaml:"name"`
	// Goal is what the persona is trying to achieve.
	Goal string `yaml:"goal"`
	// Backstory shapes the persona's voice.
	Backstory string `yaml:"backstory"`
	// Instruction is the role-specific line prepended to every task.
	Instruction string `yaml:"instruction"`
	// Model overrides the backend's default model for this role. Empty uses
	// the provider default.
	Model string `yaml:"model"`
}

// Default role names.
const (
	RoleTutor       = "Tutor"
	RoleCoach       = "Coach"
	RoleAnalyst     = "Analyst"
	RoleSynthesizer = "Synthesizer"
)

// DefaultExperts returns the standard crew in dispatch order.
func DefaultExperts() []Role {
	return []Role{
		{
			Name:        RoleTutor,
			Goal:        "Explain concepts with clarity and foundational knowledge using provided context.",
			Backstory:   "A patient tutor who focuses on basics and clear examples.",
			Instruction: "Provide a clear, foundational explanation",
		},
		{
			Name:        RoleCoach,
			Goal:        "Explain with analogies, encouragement, and friendly examples using provided context.",
			Backstory:   "A motivational coach who helps learning feel fun and inspiring.",
			Instruction: "Explain with analogies and encouragement",
		},
		{
			Name:        RoleAnalyst,
			Goal:        "Provide deep insights, point out pitfalls, and enrich understanding using provided context.",
			Backstory:   "An analytical thinker highlighting nuances and deeper context.",
			Instruction: "Provide deeper insights and analysis",
		},
	}
}

// DefaultSynthesizer returns the role that condenses expert answers.
func DefaultSynthesizer() Role {
	return Role{
		Name: RoleSynthesizer,
		Goal: "Read the expert answers, extract the most insightful or unique points from each, " +
			"and compose an improved answer for students that integrates the best parts.",
		Backstory: "A critical editor skilled at identifying valuable points, resolving differences, " +
			"and writing a clear synthesized answer that goes beyond simple merging.",
	}
}

// WithModels returns a copy of roles with Model set from models, keyed by
// role name. Roles missing from models keep their current Model.
func WithModels(roles []Role, models map[string]string) []Role {
	out := make([]Role, len(roles))
	for i, r := range roles {
		if m := models[r.Name]; m != "" {
			r.Model = m
		}
		out[i] = r
	}
	return out
}

// validateRoles rejects an empty crew, blank names and duplicate names.
func validateRoles(experts []Role, synth Role) error {
	const op = "agent.New"
	if len(experts) == 0 {
		return apperr.New(apperr.KindValidation, op, "at least one expert role is required")
	}
	seen := make(map[string]int, len(experts))
	for i, r := range experts {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return apperr.New(apperr.KindValidation, op, "expert role %d has no name", i)
		}
		if j, dup := seen[name]; dup {
			return apperr.New(apperr.KindValidation, op,
				"duplicate expert role %q at positions %d and %d", name, j, i)
		}
		seen[name] = i
	}
	if strings.TrimSpace(synth.Name) == "" {
		return apperr.New(apperr.KindValidation, op, "synthesis role has no name")
	}
	return nil
}
