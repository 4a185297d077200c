package memory

import (
	"fmt"
	"math"
	"time"

	"github.com/hupe1980/taskgraph/embedding"
)

// Weights balance the three recall signals. They must be non-negative and
// sum to 1.
type Weights struct {
	Alpha float64 `json:"alpha"` // relevance
	Beta  float64 `json:"beta"`  // recency
	Gamma float64 `json:"gamma"` // importance
}

// DefaultWeights favors relevance.
var DefaultWeights = Weights{Alpha: 0.6, Beta: 0.2, Gamma: 0.2}

const weightTolerance = 1e-6

// Validate checks the weights form a convex combination.
func (w Weights) Validate() error {
	if w.Alpha < 0 || w.Beta < 0 || w.Gamma < 0 {
		return fmt.Errorf("memory: weights must be non-negative (alpha=%g beta=%g gamma=%g)", w.Alpha, w.Beta, w.Gamma)
	}

	if sum := w.Alpha + w.Beta + w.Gamma; math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("memory: weights must sum to 1, got %g", sum)
	}

	return nil
}

// Scorer ranks a long-term item against an embedded query.
type Scorer interface {
	Score(query []float32, item *Item, now time.Time) Scored
}

// DefaultHalfLife is the age at which the recency signal drops to 0.5.
const DefaultHalfLife = 24 * time.Hour

// WeightedScorer computes alpha*relevance + beta*recency + gamma*importance.
// Relevance is the cosine similarity clamped to [0, 1]; recency halves every
// HalfLife since the item was created; importance is the item's quality.
type WeightedScorer struct {
	Weights  Weights
	HalfLife time.Duration
}

// NewWeightedScorer creates a scorer, substituting DefaultHalfLife for a
// non-positive half-life.
func NewWeightedScorer(w Weights, halfLife time.Duration) *WeightedScorer {
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}

	return &WeightedScorer{Weights: w, HalfLife: halfLife}
}

// Score implements Scorer.
func (s *WeightedScorer) Score(query []float32, item *Item, now time.Time) Scored {
	rel := embedding.Cosine(query, item.Embedding)
	if rel < 0 {
		rel = 0
	}

	if rel > 1 {
		rel = 1
	}

	rec := Recency(now.Sub(item.CreatedAt), s.HalfLife)

	return Scored{
		Item:       *item,
		Relevance:  rel,
		Recency:    rec,
		Importance: item.Quality,
		Score:      s.Weights.Alpha*rel + s.Weights.Beta*rec + s.Weights.Gamma*item.Quality,
	}
}

// Recency maps an age to (0, 1] with exponential half-life decay. Future
// timestamps count as age zero.
func Recency(age, halfLife time.Duration) float64 {
	if age <= 0 {
		return 1
	}

	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}

	return math.Exp(-math.Ln2 * float64(age) / float64(halfLife))
}
