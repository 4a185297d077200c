package reflection

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hupe1980/taskgraph/internal/prompt"
	"github.com/hupe1980/taskgraph/model"
)

// MaxScore is the top of the critique scale.
const MaxScore = 10.0

// Verdict is a critic's assessment of a draft.
type Verdict struct {
	// Score lies in [0, MaxScore].
	Score    float64
	Critique string
}

// Critic scores a draft.
type Critic interface {
	Critique(ctx context.Context, task, draft string) (Verdict, error)
}

// CriticFunc adapts a function to Critic.
type CriticFunc func(ctx context.Context, task, draft string) (Verdict, error)

// Critique implements Critic.
func (f CriticFunc) Critique(ctx context.Context, task, draft string) (Verdict, error) {
	return f(ctx, task, draft)
}

// Check is a named pass/fail test of a draft.
type Check struct {
	Name   string
	Passes func(task, draft string) bool
}

// MinWords requires at least n words.
func MinWords(n int) Check {
	return Check{
		Name:   fmt.Sprintf("at least %d words", n),
		Passes: func(_, draft string) bool { return len(strings.Fields(draft)) >= n },
	}
}

// MaxWords allows at most n words.
func MaxWords(n int) Check {
	return Check{
		Name:   fmt.Sprintf("at most %d words", n),
		Passes: func(_, draft string) bool { return len(strings.Fields(draft)) <= n },
	}
}

// Mentions requires the draft to contain term, ignoring case.
func Mentions(term string) Check {
	return Check{
		Name: fmt.Sprintf("mentions %q", term),
		Passes: func(_, draft string) bool {
			return strings.Contains(strings.ToLower(draft), strings.ToLower(term))
		},
	}
}

// ChecklistCritic scores a draft by the share of passing checks, scaled to
// MaxScore. The critique lists the failed checks.
type ChecklistCritic struct {
	checks []Check
}

// NewChecklistCritic creates a checklist critic.
func NewChecklistCritic(checks ...Check) *ChecklistCritic {
	return &ChecklistCritic{checks: checks}
}

// Critique implements Critic.
func (c *ChecklistCritic) Critique(_ context.Context, task, draft string) (Verdict, error) {
	if len(c.checks) == 0 {
		return Verdict{Score: MaxScore, Critique: "no checks declared"}, nil
	}

	var failed []string

	for _, chk := range c.checks {
		if !chk.Passes(task, draft) {
			failed = append(failed, chk.Name)
		}
	}

	score := MaxScore * float64(len(c.checks)-len(failed)) / float64(len(c.checks))

	if len(failed) == 0 {
		return Verdict{Score: score, Critique: "all checks passed"}, nil
	}

	return Verdict{Score: score, Critique: "failed checks: " + strings.Join(failed, "; ")}, nil
}

// DefaultCriticInstructions is the system prompt of ModelCritic.
const DefaultCriticInstructions = `You are a strict reviewer. Rate the draft against the task on a scale from 0 to 10.
Answer in exactly this format:
SCORE: <number>
CRITIQUE: <what must improve>`

// ModelCritic asks a language model for a score and critique. Instructions
// may reference {{.task}}.
type ModelCritic struct {
	Model        model.Model
	Instructions string
}

// NewModelCritic creates a critic with the default instructions.
func NewModelCritic(m model.Model) *ModelCritic {
	return &ModelCritic{Model: m, Instructions: DefaultCriticInstructions}
}

// Critique implements Critic.
func (c *ModelCritic) Critique(ctx context.Context, task, draft string) (Verdict, error) {
	instructions, err := prompt.Render(c.Instructions, map[string]any{"task": task})
	if err != nil {
		return Verdict{}, err
	}

	resp, err := c.Model.Generate(ctx, model.Request{
		Instructions: instructions,
		Prompt:       fmt.Sprintf("Task: %s\n\nDraft:\n%s", task, draft),
	})
	if err != nil {
		return Verdict{}, err
	}

	return ParseVerdict(resp.Text)
}

var (
	scorePattern    = regexp.MustCompile(`(?i)score\s*[:=]\s*(-?[0-9]+(?:\.[0-9]+)?)`)
	critiquePattern = regexp.MustCompile(`(?is)critique\s*:\s*(.*)`)
)

// ParseVerdict reads "SCORE: n" and an optional "CRITIQUE: ..." from text.
// Scores are clamped to [0, MaxScore].
func ParseVerdict(text string) (Verdict, error) {
	m := scorePattern.FindStringSubmatch(text)
	if m == nil {
		return Verdict{}, fmt.Errorf("no score in critique %q", text)
	}

	score, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Verdict{}, fmt.Errorf("parse score: %w", err)
	}

	score = min(max(score, 0), MaxScore)

	v := Verdict{Score: score}
	if cm := critiquePattern.FindStringSubmatch(text); cm != nil {
		v.Critique = strings.TrimSpace(cm[1])
	}

	return v, nil
}
