package main

import (
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/hupe1980/taskgraph/model"
	"github.com/hupe1980/taskgraph/model/anthropic"
	"github.com/hupe1980/taskgraph/model/openai"
	"github.com/hupe1980/taskgraph/reflection"
)

type reflectOutput struct {
	RunID      string   `json:"run_id"`
	Output     string   `json:"output"`
	Iterations int      `json:"iterations"`
	Score      float64  `json:"score"`
	Critique   string   `json:"critique"`
	History    []string `json:"history"`
}

func newModel(provider, name string) (model.Model, error) {
	switch provider {
	case "mock":
		return model.NewMockModel("mock", "mock"), nil
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if name != "" {
				o.Model = name
			}
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if name != "" {
				o.Model = anthropicsdk.Model(name)
			}
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (mock|openai|anthropic)", provider)
	}
}

func newReflectCmd(a *app) *cobra.Command {
	var (
		provider  string
		modelName string
		checklist bool
		minWords  int
		maxWords  int
		mentions  []string
		maxCalls  int
	)

	cmd := &cobra.Command{
		Use:   "reflect <task>",
		Short: "Draft an answer and revise it until the critic accepts it",
		Example: `  taskgraph reflect "Describe a weekend in Paris"
  taskgraph reflect --provider openai --mention Louvre "Describe a weekend in Paris"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := newModel(provider, modelName)
			if err != nil {
				return err
			}

			m := model.WithCallLimit(base, maxCalls)

			var critic reflection.Critic = reflection.NewModelCritic(m)

			if checklist || provider == "mock" {
				checks := []reflection.Check{reflection.MinWords(minWords)}
				if maxWords > 0 {
					checks = append(checks, reflection.MaxWords(maxWords))
				}

				for _, term := range mentions {
					checks = append(checks, reflection.Mentions(term))
				}

				critic = reflection.NewChecklistCritic(checks...)
			}

			ctrl, err := a.tg.NewReflection(reflection.NewModelGenerator(m), critic)
			if err != nil {
				return err
			}

			res, err := ctrl.Run(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			return writeJSON(cmd.OutOrStdout(), reflectOutput{
				RunID:      res.Trace.RunID(),
				Output:     res.Output,
				Iterations: res.Iterations,
				Score:      res.Score,
				Critique:   res.Critique,
				History:    res.History,
			})
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "mock", "model provider (mock|openai|anthropic)")
	cmd.Flags().StringVar(&modelName, "model", "", "model name for the provider")
	cmd.Flags().BoolVar(&checklist, "checklist", false, "use the checklist critic with a real provider")
	cmd.Flags().IntVar(&minWords, "min-words", 12, "checklist: minimum words per draft")
	cmd.Flags().IntVar(&maxWords, "max-words", 0, "checklist: maximum words per draft (0 disables)")
	cmd.Flags().StringSliceVar(&mentions, "mention", nil, "checklist: terms the draft must mention")
	cmd.Flags().IntVar(&maxCalls, "max-model-calls", 0, "fail once the model was called this often (0 disables)")

	return cmd
}
