// Package reflection implements a self-critique loop on the graph engine.
//
// The loop has three nodes: generate drafts (or revises the previous draft
// using the last critique), critique scores the draft from 0 to 10, and a
// conditional edge either returns to generate or moves to finalize once the
// score reaches the threshold or the iteration cap is hit. Generation runs
// under a retry policy; critique failures are fatal.
//
//	c, _ := reflection.New(
//	    reflection.NewModelGenerator(m),
//	    reflection.NewChecklistCritic(reflection.MinWords(50), reflection.Mentions("budget")),
//	)
//	res, err := c.Run(ctx, "Suggest a weekend in Lisbon")
package reflection
