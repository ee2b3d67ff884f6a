package agent

import (
	"fmt"
	"strings"
)

// expertBrief is appended to every expert role's instruction.
const expertBrief = `You are an expert tutor. Use the provided context to answer the student's question.
1. Restate the question briefly to confirm understanding.
2. Provide a clear, step-by-step explanation that connects directly to the context.
3. Use simple language and add examples if helpful.
4. If the context does not fully cover the answer, acknowledge the gap and give the best possible explanation.

Respond with a clear, structured explanation in 2-4 short paragraphs. Include examples or analogies where relevant.`

// synthesisBrief is the synthesis task instruction.
const synthesisBrief = `You are a synthesis expert. Read the expert answers below carefully.
1. Identify the unique insights or perspectives in each answer.
2. Remove any duplication or overlapping points.
3. Produce a concise, numbered list (3-5 items).
4. Each item must be 1-2 sentences, clear, and directly based on the answers.

Respond with a numbered list of 3-5 unique insights, each written as 1-2 sentences. No repetition, no extra commentary.`

// ExpertTask builds the task text for one expert role.
func ExpertTask(r Role, docContext, question string) string {
	var b strings.Builder
	if r.Instruction != "" {
		b.WriteString(r.Instruction)
		b.WriteString("\n\n")
	}
	b.WriteString(expertBrief)
	fmt.Fprintf(&b, "\n\nContext from documents:\n%s\n\nStudent Question: %s", docContext, question)
	return b.String()
}

// SynthesisTask builds the task text for the synthesis role.
func SynthesisTask(combined string) string {
	return synthesisBrief + "\n\nExpert answers:\n" + combined
}

// persona renders the system message for r.
func persona(r Role) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s.", r.Name)
	if r.Goal != "" {
		fmt.Fprintf(&b, "\nGoal: %s", r.Goal)
	}
	if r.Backstory != "" {
		fmt.Fprintf(&b, "\nBackground: %s", r.Backstory)
	}
	return b.String()
}
