package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/taskgraph/coordinator"
	"github.com/hupe1980/taskgraph/core"
)

type planOutput struct {
	RunID     string                 `json:"run_id"`
	Summary   string                 `json:"summary"`
	Itinerary *coordinator.Itinerary `json:"itinerary"`
	Nodes     []string               `json:"nodes,omitempty"`
}

func newPlanCmd(a *app) *cobra.Command {
	var (
		flaky     int
		showTrace bool
	)

	cmd := &cobra.Command{
		Use:   "plan <request>",
		Short: "Plan a trip with the demo flight, hotel and activity collaborators",
		Example: `  taskgraph plan "Fly from London to Paris under $400, museums please"
  taskgraph plan --flaky 2 --retry-initial-delay 100ms "London to Rome"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workers := coordinator.DemoWorkers(a.cfg.RetryPolicy())

			if flaky > 0 {
				for i := range workers {
					if workers[i].Category == "flights" {
						workers[i].Search = coordinator.Flaky(flaky, workers[i].Search)
					}
				}
			}

			planner, err := a.tg.NewPlanner(workers)
			if err != nil {
				return err
			}

			it, trace, err := planner.Run(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := planOutput{RunID: trace.RunID(), Summary: it.Summary(), Itinerary: it}
			if showTrace {
				out.Nodes = nodeLines(trace)
			}

			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().IntVar(&flaky, "flaky", 0, "make the flight search fail this many times before succeeding")
	cmd.Flags().BoolVar(&showTrace, "show-trace", false, "include executed nodes in the output")

	return cmd
}

// nodeLines renders node steps as "node" or "node (retries=n)".
func nodeLines(trace *core.Trace) []string {
	var out []string

	for _, st := range trace.Filter(core.StepNode) {
		line := st.NodeID
		if st.Branch != "" {
			line = st.Branch
		}

		if st.Retries > 0 {
			line += fmt.Sprintf(" (retries=%d)", st.Retries)
		}

		if st.Failed() {
			line += " failed: " + st.Err
		}

		out = append(out, line)
	}

	return out
}
