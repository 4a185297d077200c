// Package memory implements the two-tier agent memory.
//
// Short-term memory is a bounded FIFO of recent interactions. Long-term
// memory holds embedded items ranked on recall by
//
//	score = alpha*relevance + beta*recency + gamma*importance
//
// where relevance is cosine similarity to the query, recency decays with the
// item's age and importance is the item's quality. Recall reinforces the
// quality of what it returns and lets idle items decay toward a floor, so
// frequently useful memories rise over time. Scoring (Scorer) and the
// quality lifecycle (FeedbackPolicy) are pluggable.
//
// The task constructors (RememberTask, RecallTask, ContextTask,
// InteractionTask, PreferenceTask) expose the store as graph nodes;
// NewConversationGraph chains them into a remember-and-respond loop.
package memory
