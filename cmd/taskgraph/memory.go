package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/taskgraph/core"
	"github.com/hupe1980/taskgraph/memory"
)

func newMemoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Work with the two-tier memory store",
		Long: `Work with the two-tier memory store.

Without a persistent store (--store sqlite|redis) memory lasts for a single
command only.`,
	}

	cmd.AddCommand(
		newMemoryChatCmd(a),
		newMemoryRememberCmd(a),
		newMemoryRecallCmd(a),
		newMemoryListCmd(a),
		newMemoryRunsCmd(a),
	)

	return cmd
}

type chatOutput struct {
	Response    string                `json:"response"`
	Preferences []string              `json:"preferences,omitempty"`
	Context     []memory.ContextEntry `json:"context"`
}

func newMemoryChatCmd(a *app) *cobra.Command {
	var k int

	cmd := &cobra.Command{
		Use:     "chat <message>",
		Short:   "Run one turn of the memory feedback loop",
		Example: `  taskgraph --store sqlite memory chat "I love art museums"`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := memory.NewConversationGraph(a.tg.Memory(), nil, k, a.tg.GraphOptions()...)
			if err != nil {
				return err
			}

			final, _, err := g.Invoke(cmd.Context(), core.StateFrom(map[string]any{
				memory.FieldMessage: strings.Join(args, " "),
			}))
			if err != nil {
				return err
			}

			prefs, _ := core.Get[[]string](final, memory.FieldPreferences)
			entries, _ := core.Get[[]memory.ContextEntry](final, memory.FieldContext)

			return writeJSON(cmd.OutOrStdout(), chatOutput{
				Response:    core.GetString(final, memory.FieldResponse),
				Preferences: prefs,
				Context:     entries,
			})
		},
	}

	cmd.Flags().IntVarP(&k, "top", "k", 3, "long-term items to include in the context")

	return cmd
}

func newMemoryRememberCmd(a *app) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "remember <text>",
		Short: "Store a long-term memory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []func(it *memory.Item)
			if kind != "" {
				opts = append(opts, memory.WithMetadata("kind", kind))
			}

			it, err := a.tg.Memory().Remember(cmd.Context(), strings.Join(args, " "), opts...)
			if err != nil {
				return err
			}

			return writeJSON(cmd.OutOrStdout(), it)
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "metadata kind of the memory")

	return cmd
}

func newMemoryRecallCmd(a *app) *cobra.Command {
	var k int

	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Recall the best matching long-term memories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.tg.Memory().Recall(cmd.Context(), strings.Join(args, " "), k)
			if err != nil {
				return err
			}

			return writeJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().IntVarP(&k, "top", "k", 3, "number of memories to return")

	return cmd
}

func newMemoryListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List long-term memories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return writeJSON(cmd.OutOrStdout(), a.tg.Memory().Items())
		},
	}
}

func newMemoryRunsCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List persisted run traces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.backend == nil {
				return errors.New("no persistent store configured (use --store sqlite|redis)")
			}

			runs, err := a.backend.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			return writeJSON(cmd.OutOrStdout(), runs)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")

	return cmd
}
