package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/taskgraph/core"
	"github.com/hupe1980/taskgraph/logging"
)

// CallbackType defines the lifecycle points where callbacks can be executed.
//
// Callbacks hook into the run loop without modifying engine logic:
//   - BeforeRun/AfterRun: around a complete Invoke
//   - BeforeNode/AfterNode: around every node execution
//   - OnAttempt: for every attempt recorded by a resilient invoker
//   - OnMerge: after a fan-in merge
//   - OnError: when a node or the run fails
//
// Errors returned by BeforeNode and AfterNode callbacks fail the node. Errors
// from the other types are logged and otherwise ignored.
type CallbackType string

const (
	// CallbackBeforeRun is triggered when a run starts.
	CallbackBeforeRun CallbackType = "before_run"

	// CallbackAfterRun is triggered when a run finishes, successfully or not.
	CallbackAfterRun CallbackType = "after_run"

	// CallbackBeforeNode is triggered before a node's task runs.
	// Use for validation, instrumentation or rate limiting.
	CallbackBeforeNode CallbackType = "before_node"

	// CallbackAfterNode is triggered after a node's task succeeded.
	// Use for metrics collection or post-processing.
	CallbackAfterNode CallbackType = "after_node"

	// CallbackOnAttempt is triggered for every retry attempt.
	CallbackOnAttempt CallbackType = "on_attempt"

	// CallbackOnMerge is triggered after branch writes were merged.
	CallbackOnMerge CallbackType = "on_merge"

	// CallbackOnError is triggered when a node or run fails.
	CallbackOnError CallbackType = "on_error"
)

// MetadataSteps is the AfterRun metadata key holding the number of node
// executions counted toward the step bound.
const MetadataSteps = "steps"

// CallbackContext carries the information a callback may need.
type CallbackContext struct {
	// RunID identifies the run.
	RunID string

	// NodeID and Branch identify the node execution. Empty for run callbacks.
	NodeID string
	Branch string

	// CallbackType indicates which lifecycle point triggered the callback.
	CallbackType CallbackType

	// State is the node's input (BeforeNode), output (AfterNode), the merged
	// state (OnMerge) or the final state (AfterRun). Callbacks must not
	// mutate it.
	State *core.State

	// Step is the trace step being recorded, when there is one.
	Step *core.TraceStep

	// Err is the failure for OnError and a failed AfterRun.
	Err error

	// Duration is the elapsed time of the node or run.
	Duration time.Duration

	// Metadata provides extensible storage for custom callback data.
	Metadata map[string]any
}

// Callback is an execution lifecycle hook.
//
// Implementations should be fast since callbacks run synchronously on the
// run loop (and concurrently from fan-out branches), and safe for concurrent
// use.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	cb := NewFunctionCallback(
//	    CallbackBeforeNode,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("entering %s", cc.NodeID)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager dispatches callbacks by type in registration order. It is
// populated at compile time and read-only afterwards, so execution is safe
// for concurrent use.
type CallbackManager struct {
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates a new callback manager instance.
func NewCallbackManager(cbs ...Callback) *CallbackManager {
	cm := &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}

	for _, cb := range cbs {
		cm.RegisterCallback(cb)
	}

	return cm
}

// RegisterCallback adds a callback for its type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// Has reports whether any callback is registered for callbackType.
func (cm *CallbackManager) Has(callbackType CallbackType) bool {
	return len(cm.callbacks[callbackType]) > 0
}

// ExecuteCallbacks runs the callbacks of callbackType and returns the first
// error, skipping the remaining ones.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	callbacks, exists := cm.callbacks[callbackType]
	if !exists {
		return nil
	}

	callbackCtx.CallbackType = callbackType

	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}

	return nil
}

// LoggingCallback forwards lifecycle events to a logger at debug level.
type LoggingCallback struct {
	callbackType CallbackType
	logger       logging.Logger
}

// NewLoggingCallback creates a new logging callback.
func NewLoggingCallback(callbackType CallbackType, logger logging.Logger) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the event with its run and node identifiers.
func (c *LoggingCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}

	args := []any{"run_id", callbackCtx.RunID, "node", callbackCtx.NodeID}
	if callbackCtx.Branch != "" {
		args = append(args, "branch", callbackCtx.Branch)
	}

	if callbackCtx.Step != nil && callbackCtx.Step.Attempt > 0 {
		args = append(args, "attempt", callbackCtx.Step.Attempt)
	}

	if callbackCtx.Err != nil {
		args = append(args, "error", callbackCtx.Err.Error())
	}

	c.logger.Debug(fmt.Sprintf("graph.callback.%s", c.callbackType), args...)

	return nil
}

// StateValidationCallback validates a node's output before the run
// continues. Returning an error fails the node.
//
// Example:
//
//	cb := NewStateValidationCallback(func(node string, s *core.State) error {
//	    if node == "plan" && !s.Has("destination") {
//	        return errors.New("plan produced no destination")
//	    }
//	    return nil
//	})
type StateValidationCallback struct {
	validator func(node string, state *core.State) error
}

// NewStateValidationCallback creates a new state validation callback.
func NewStateValidationCallback(validator func(node string, state *core.State) error) *StateValidationCallback {
	return &StateValidationCallback{
		validator: validator,
	}
}

// Type returns the callback type (always CallbackAfterNode).
func (c *StateValidationCallback) Type() CallbackType {
	return CallbackAfterNode
}

// Execute runs the validator against the node output.
func (c *StateValidationCallback) Execute(_ context.Context, callbackCtx *CallbackContext) error {
	if c.validator != nil && callbackCtx.State != nil {
		return c.validator(callbackCtx.NodeID, callbackCtx.State)
	}

	return nil
}
