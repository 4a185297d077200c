package reflection

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/taskgraph/core"
	"github.com/hupe1980/taskgraph/internal/prompt"
	"github.com/hupe1980/taskgraph/model"
)

// GenerateInput is what a generator sees of the loop.
type GenerateInput struct {
	Task string
	// Draft and Critique are empty on the first iteration.
	Draft     string
	Critique  string
	Iteration int
}

// Revising reports whether a previous draft should be improved.
func (in GenerateInput) Revising() bool { return in.Draft != "" }

// Generator produces a draft for a task.
type Generator interface {
	Generate(ctx context.Context, in GenerateInput) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, in GenerateInput) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, in GenerateInput) (string, error) {
	return f(ctx, in)
}

// DefaultGeneratorInstructions is the system prompt of ModelGenerator.
const DefaultGeneratorInstructions = "You write concise, accurate answers. When given a critique, revise the draft to address every point."

// ModelGenerator drafts with a language model. Instructions may reference
// {{.task}} and {{.iteration}}.
type ModelGenerator struct {
	Model        model.Model
	Instructions string
}

// NewModelGenerator creates a generator with the default instructions.
func NewModelGenerator(m model.Model) *ModelGenerator {
	return &ModelGenerator{Model: m, Instructions: DefaultGeneratorInstructions}
}

// Generate implements Generator.
func (g *ModelGenerator) Generate(ctx context.Context, in GenerateInput) (string, error) {
	instructions, err := prompt.Render(g.Instructions, map[string]any{
		"task":      in.Task,
		"iteration": in.Iteration,
	})
	if err != nil {
		return "", core.Fatal(err)
	}

	resp, err := g.Model.Generate(ctx, model.Request{
		Instructions: instructions,
		Prompt:       generatorPrompt(in),
	})
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("model %s returned an empty draft", g.Model.Info().Name)
	}

	return text, nil
}

func generatorPrompt(in GenerateInput) string {
	if !in.Revising() {
		return "Task: " + in.Task
	}

	var sb strings.Builder

	sb.WriteString("Task: ")
	sb.WriteString(in.Task)
	sb.WriteString("\n\nPrevious draft:\n")
	sb.WriteString(in.Draft)
	sb.WriteString("\n\nCritique:\n")
	sb.WriteString(in.Critique)
	sb.WriteString("\n\nWrite an improved draft.")

	return sb.String()
}
