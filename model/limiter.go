package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/taskgraph/core"
)

// ErrCallLimit is returned once a LimitedModel has used up its call budget.
var ErrCallLimit = errors.New("model call limit exceeded")

// LimitedModel caps the number of calls made through the wrapped model.
// Calls past the cap fail with a fatal ErrCallLimit so resilient invokers
// do not spend attempts on them.
type LimitedModel struct {
	Model

	limit int
	count int
	mu    sync.Mutex
}

// WithCallLimit wraps m with a budget of limit calls. If limit == 0, unlimited
// calls are allowed.
func WithCallLimit(m Model, limit int) *LimitedModel {
	return &LimitedModel{Model: m, limit: limit}
}

// Generate implements Model.
func (l *LimitedModel) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := l.increment(); err != nil {
		return nil, err
	}

	return l.Model.Generate(ctx, req)
}

func (l *LimitedModel) increment() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limit > 0 && l.count >= l.limit {
		return core.Fatal(fmt.Errorf("%w: %d", ErrCallLimit, l.limit))
	}

	l.count++

	return nil
}

// Count returns the number of calls let through.
func (l *LimitedModel) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Remaining returns how many calls are left before hitting the limit.
func (l *LimitedModel) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limit == 0 {
		return -1 // unlimited
	}

	return l.limit - l.count
}
