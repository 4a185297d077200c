package observability

import (
	"context"

	"github.com/hupe1980/taskgraph/graph"
	"github.com/hupe1980/taskgraph/logging"
)

// RunLogger reports node outcomes, failed attempts and run summaries through
// a GraphLogger. Every run logs under its own run id.
type RunLogger struct {
	logger *logging.GraphLogger
}

// NewRunLogger creates a RunLogger. A nil logger falls back to the default
// JSON logger on stderr.
func NewRunLogger(l *logging.GraphLogger) *RunLogger {
	if l == nil {
		l = logging.NewLogger(nil)
	}

	return &RunLogger{logger: l.WithComponent("graph")}
}

// Callbacks returns the graph callbacks feeding the logger.
func (rl *RunLogger) Callbacks() []graph.Callback {
	return []graph.Callback{
		graph.NewFunctionCallback(graph.CallbackAfterNode, func(_ context.Context, cc *graph.CallbackContext) error {
			rl.logger.WithRun(cc.RunID).LogNodeExecution(cc.NodeID, cc.Branch, cc.Duration, nil)
			return nil
		}),
		graph.NewFunctionCallback(graph.CallbackOnError, func(_ context.Context, cc *graph.CallbackContext) error {
			if cc.NodeID == "" {
				return nil
			}

			rl.logger.WithRun(cc.RunID).LogNodeExecution(cc.NodeID, cc.Branch, cc.Duration, cc.Err)

			return nil
		}),
		graph.NewFunctionCallback(graph.CallbackOnAttempt, func(_ context.Context, cc *graph.CallbackContext) error {
			if cc.Step == nil || !cc.Step.Failed() {
				return nil
			}

			rl.logger.WithRun(cc.RunID).LogRetry(cc.NodeID, cc.Step.Attempt, cc.Step.Err)

			return nil
		}),
		graph.NewFunctionCallback(graph.CallbackAfterRun, func(_ context.Context, cc *graph.CallbackContext) error {
			steps, _ := cc.Metadata[graph.MetadataSteps].(int)
			rl.logger.WithRun(cc.RunID).LogRun(steps, cc.Duration, cc.Err)

			return nil
		}),
	}
}
