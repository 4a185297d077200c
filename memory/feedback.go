package memory

import "time"

// FeedbackPolicy owns the quality lifecycle of long-term items.
type FeedbackPolicy interface {
	// Initial returns the quality of a newly remembered item.
	Initial() float64
	// Reinforce updates an item that was just returned by a recall.
	Reinforce(item *Item, now time.Time)
	// Decay updates an item that was not returned by a recall. It reports
	// whether the item changed.
	Decay(item *Item, now time.Time) bool
}

// Feedback defaults.
const (
	DefaultInitialQuality = 0.5
	DefaultLearningRate   = 0.1
	DefaultFloor          = 0.1
	DefaultIdleWindow     = 7 * 24 * time.Hour
	DefaultDecayRate      = 0.1
)

// MovingAverageFeedback nudges quality toward 1.0 on every retrieval
// (q' = q + rate*(1-q)) and, once per idle window without access, moves it
// toward Floor (q' = floor + (q-floor)*(1-decay)). Quality never drops
// below Floor.
type MovingAverageFeedback struct {
	InitialQuality float64
	LearningRate   float64
	Floor          float64
	IdleWindow     time.Duration
	DecayRate      float64
}

var _ FeedbackPolicy = (*MovingAverageFeedback)(nil)

// NewMovingAverageFeedback returns the policy with default parameters.
func NewMovingAverageFeedback() *MovingAverageFeedback {
	return &MovingAverageFeedback{
		InitialQuality: DefaultInitialQuality,
		LearningRate:   DefaultLearningRate,
		Floor:          DefaultFloor,
		IdleWindow:     DefaultIdleWindow,
		DecayRate:      DefaultDecayRate,
	}
}

// Initial implements FeedbackPolicy.
func (f *MovingAverageFeedback) Initial() float64 {
	return f.clamp(f.InitialQuality)
}

// Reinforce implements FeedbackPolicy.
func (f *MovingAverageFeedback) Reinforce(item *Item, now time.Time) {
	item.AccessCount++
	item.LastAccess = now
	item.Quality = f.clamp(item.Quality + f.LearningRate*(1-item.Quality))
}

// Decay implements FeedbackPolicy.
func (f *MovingAverageFeedback) Decay(item *Item, now time.Time) bool {
	if f.IdleWindow <= 0 {
		return false
	}

	last := item.LastAccess
	if item.DecayedAt.After(last) {
		last = item.DecayedAt
	}

	if now.Sub(last) < f.IdleWindow {
		return false
	}

	item.Quality = f.clamp(f.Floor + (item.Quality-f.Floor)*(1-f.DecayRate))
	item.DecayedAt = now

	return true
}

func (f *MovingAverageFeedback) clamp(q float64) float64 {
	if q < f.Floor {
		return f.Floor
	}

	if q > 1 {
		return 1
	}

	return q
}
