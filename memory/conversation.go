package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/taskgraph/core"
	"github.com/hupe1980/taskgraph/graph"
)

// Conversation state fields.
const (
	FieldMessage  = "message"
	FieldResponse = "response"
)

// Responder answers a message given the built memory context.
type Responder func(ctx context.Context, message string, entries []ContextEntry) (string, error)

type interest struct {
	keywords []string
	reply    string
}

var interests = []interest{
	{keywords: []string{"art", "museum", "gallery"}, reply: "Since you love art, I recommend the Louvre on your next trip."},
	{keywords: []string{"food", "restaurant", "culinary"}, reply: "Given your food interests, let's explore a culinary tour."},
}

// DefaultResponder tailors a canned reply to the interests found in the
// long-term part of the context.
func DefaultResponder(_ context.Context, _ string, entries []ContextEntry) (string, error) {
	for _, in := range interests {
		for _, e := range entries {
			if e.Source != SourceLongTerm {
				continue
			}

			lower := strings.ToLower(e.Content)
			for _, kw := range in.keywords {
				if strings.Contains(lower, kw) {
					return "Sounds great! " + in.reply, nil
				}
			}
		}
	}

	return "Sounds great! Tell me more about what you enjoy while travelling.", nil
}

// NewConversationGraph compiles the memory feedback loop for one message:
//
//	observe -> learn -> context -> respond -> record
//
// observe adds the message to short-term memory, learn remembers stated
// preferences, context builds the two-tier context with k long-term items,
// respond writes FieldResponse and record adds it as an assistant turn.
func NewConversationGraph(s *Store, respond Responder, k int, optFns ...func(o *graph.Options)) (*graph.Graph, error) {
	if s == nil {
		return nil, fmt.Errorf("memory: conversation needs a store")
	}

	if respond == nil {
		respond = DefaultResponder
	}

	reply := core.TaskFunc(func(ctx context.Context, state *core.State) (*core.State, error) {
		entries, _ := core.Get[[]ContextEntry](state, FieldContext)

		text, err := respond(ctx, core.GetString(state, FieldMessage), entries)
		if err != nil {
			return nil, fmt.Errorf("respond: %w", err)
		}

		state.Set(FieldResponse, text)

		return state, nil
	})

	return graph.NewBuilder().
		AddNode("observe", InteractionTask(s, "user", FieldMessage), graph.WithRequires(FieldMessage)).
		AddNode("learn", PreferenceTask(s, FieldMessage)).
		AddNode("context", ContextTask(s, FieldMessage, k)).
		AddNode("respond", reply, graph.WithRequires(FieldContext)).
		AddNode("record", InteractionTask(s, "assistant", FieldResponse), graph.WithRequires(FieldResponse)).
		AddEdge("observe", "learn").
		AddEdge("learn", "context").
		AddEdge("context", "respond").
		AddEdge("respond", "record").
		SetEntry("observe").
		SetTerminals("record").
		Compile(optFns...)
}
