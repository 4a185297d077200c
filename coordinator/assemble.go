package coordinator

import (
	"fmt"
)

// Selector chooses options of one category for an itinerary.
type Selector struct {
	// Name describes the policy, e.g. "min(price)".
	Name string
	// Multiple marks categories whose picks are kept as a collection.
	Multiple bool
	Pick     func(plan Plan, options []Option) []Option
}

// MinBy picks the option with the smallest numeric field. Options without
// the field are ignored; ties keep the first.
func MinBy(field string) Selector {
	return Selector{
		Name: fmt.Sprintf("min(%s)", field),
		Pick: func(_ Plan, options []Option) []Option {
			return pickBy(options, field, func(a, b float64) bool { return a < b })
		},
	}
}

// MaxBy picks the option with the largest numeric field. Options without
// the field are ignored; ties keep the first.
func MaxBy(field string) Selector {
	return Selector{
		Name: fmt.Sprintf("max(%s)", field),
		Pick: func(_ Plan, options []Option) []Option {
			return pickBy(options, field, func(a, b float64) bool { return a > b })
		},
	}
}

// All keeps every option.
func All() Selector {
	return Selector{
		Name:     "all",
		Multiple: true,
		Pick: func(_ Plan, options []Option) []Option {
			return append([]Option(nil), options...)
		},
	}
}

// WithinBudget drops options whose field exceeds the plan's MaxPrice before
// applying next. Options without the field are kept.
func WithinBudget(field string, next Selector) Selector {
	return Selector{
		Name:     fmt.Sprintf("budget(%s)|%s", field, next.Name),
		Multiple: next.Multiple,
		Pick: func(plan Plan, options []Option) []Option {
			if plan.MaxPrice <= 0 {
				return next.Pick(plan, options)
			}

			var affordable []Option

			for _, o := range options {
				if v, ok := o.Number(field); ok && v > plan.MaxPrice {
					continue
				}

				affordable = append(affordable, o)
			}

			return next.Pick(plan, affordable)
		},
	}
}

func pickBy(options []Option, field string, better func(a, b float64) bool) []Option {
	var (
		best  Option
		score float64
	)

	for _, o := range options {
		v, ok := o.Number(field)
		if !ok {
			continue
		}

		if best == nil || better(v, score) {
			best, score = o, v
		}
	}

	if best == nil {
		return nil
	}

	return []Option{best}
}

// DefaultSelectors pick the cheapest affordable flight, the best rated
// hotel and every activity. Categories without a selector keep all options.
func DefaultSelectors() map[string]Selector {
	return map[string]Selector{
		"flights":    WithinBudget("price", MinBy("price")),
		"hotels":     MaxBy("rating"),
		"activities": All(),
	}
}

// Itinerary is the assembled result of a planning run.
type Itinerary struct {
	Plan Plan `json:"plan"`
	// Selected holds the single pick of each single-choice category.
	Selected map[string]Option `json:"selected"`
	// Collections holds the picks of multiple-choice categories.
	Collections map[string][]Option `json:"collections"`
	// Missing lists categories without results, in worker order.
	Missing []string `json:"missing,omitempty"`
}

// Complete reports whether every category produced a result.
func (it *Itinerary) Complete() bool { return len(it.Missing) == 0 }

func assemble(plan Plan, categories []string, results map[string][]Option, selectors map[string]Selector) *Itinerary {
	it := &Itinerary{
		Plan:        plan,
		Selected:    map[string]Option{},
		Collections: map[string][]Option{},
	}

	for _, cat := range categories {
		options, ok := results[cat]
		if !ok {
			it.Missing = append(it.Missing, cat)
			continue
		}

		sel, ok := selectors[cat]
		if !ok {
			sel = All()
		}

		picked := sel.Pick(plan, options)

		switch {
		case sel.Multiple:
			it.Collections[cat] = picked
		case len(picked) > 0:
			it.Selected[cat] = picked[0]
		default:
			it.Missing = append(it.Missing, cat)
		}
	}

	return it
}
