package core

import "context"

// Task is the unit of work executed by a graph node. It reads the state,
// writes its results and returns the state to continue with. Returning a nil
// state means the input state is used unchanged.
type Task interface {
	Run(ctx context.Context, state *State) (*State, error)
}

// TaskFunc adapts a plain function to the Task interface.
type TaskFunc func(ctx context.Context, state *State) (*State, error)

// Run implements Task.
func (f TaskFunc) Run(ctx context.Context, state *State) (*State, error) {
	return f(ctx, state)
}

// Embedder maps text to a fixed-size vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed implements Embedder.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}
