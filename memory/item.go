package memory

import "time"

// Item is a long-term memory record. Items handed out by the store are
// copies; mutating them has no effect on the stored record.
type Item struct {
	ID          string            `json:"id"`
	Content     string            `json:"content"`
	Embedding   []float32         `json:"embedding"`
	CreatedAt   time.Time         `json:"created_at"`
	LastAccess  time.Time         `json:"last_access"`
	DecayedAt   time.Time         `json:"decayed_at,omitempty"`
	AccessCount int               `json:"access_count"`
	Quality     float64           `json:"quality"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (it *Item) clone() Item {
	c := *it

	if it.Embedding != nil {
		c.Embedding = make([]float32, len(it.Embedding))
		copy(c.Embedding, it.Embedding)
	}

	if it.Metadata != nil {
		c.Metadata = make(map[string]string, len(it.Metadata))
		for k, v := range it.Metadata {
			c.Metadata[k] = v
		}
	}

	return c
}

// Scored is a recall result with its score components.
type Scored struct {
	Item       Item    `json:"item"`
	Score      float64 `json:"score"`
	Relevance  float64 `json:"relevance"`
	Recency    float64 `json:"recency"`
	Importance float64 `json:"importance"`
}

// Entry is one short-term interaction.
type Entry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Source tells which tier a context entry came from.
type Source string

const (
	// SourceShortTerm marks entries from the recent-interaction buffer.
	SourceShortTerm Source = "short_term"
	// SourceLongTerm marks entries recalled from long-term memory.
	SourceLongTerm Source = "long_term"
)

// ContextEntry is one element of a built context.
type ContextEntry struct {
	Source  Source  `json:"source"`
	Role    string  `json:"role,omitempty"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
	ItemID  string  `json:"item_id,omitempty"`
}
