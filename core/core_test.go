package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type testLogger struct {
	mu    sync.Mutex
	lines []string
	args  [][]any
}

func (l *testLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lines = append(l.lines, level+" "+msg)
	l.args = append(l.args, args)
}

func (l *testLogger) Debug(msg string, args ...any) { l.record("DEBUG", msg, args) }
func (l *testLogger) Info(msg string, args ...any)  { l.record("INFO", msg, args) }
func (l *testLogger) Warn(msg string, args ...any)  { l.record("WARN", msg, args) }
func (l *testLogger) Error(msg string, args ...any) { l.record("ERROR", msg, args) }

func TestLoggerAdapter(t *testing.T) {
	l := &testLogger{}
	a := NewLoggerAdapter(l)

	a.LogDebug("graph.compiled")
	a.LogInfo("graph.run.start", "run_id", "r1")
	a.LogWarn("retry.attempt.failed")
	a.LogError("graph.run.failed")

	assert.Equal(t, []string{
		"DEBUG graph.compiled",
		"INFO graph.run.start",
		"WARN retry.attempt.failed",
		"ERROR graph.run.failed",
	}, l.lines)
	assert.Same(t, l, a.Logger())
}

func TestLoggerAdapter_NilLogger(t *testing.T) {
	a := NewLoggerAdapter(nil)

	assert.NotNil(t, a.Logger())
	assert.NotPanics(t, func() { a.LogError("ignored") })
}

func TestLoggerAdapter_With(t *testing.T) {
	l := &testLogger{}
	base := NewLoggerAdapter(l)
	run := base.With("run_id", "r1")

	run.With("node", "a").LogWarn("graph.node.failed", "error", "boom")
	base.LogInfo("graph.compiled")

	assert.Equal(t, []any{"run_id", "r1", "node", "a", "error", "boom"}, l.args[0])
	assert.Empty(t, l.args[1])
}
