package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectors(t *testing.T) {
	options := []Option{
		{"id": "a", "price": 350.0, "rating": 4},
		{"id": "b", "price": 720.0, "rating": 4.8},
		{"id": "c", "rating": 5},
		{"id": "d", "price": 350, "rating": 4.8},
	}

	plan := Plan{MaxPrice: 400}

	assert.Equal(t, []Option{options[0]}, MinBy("price").Pick(plan, options))
	assert.Equal(t, []Option{options[2]}, MaxBy("rating").Pick(plan, options))
	assert.Equal(t, options, All().Pick(plan, options))
	assert.Nil(t, MinBy("missing").Pick(plan, options))

	within := WithinBudget("price", MaxBy("rating"))
	assert.Equal(t, []Option{options[2]}, within.Pick(plan, options), "options without price are kept")
	assert.Equal(t, []Option{options[0]}, WithinBudget("price", MaxBy("rating")).Pick(plan, options[:2:2]))
	assert.Equal(t, "budget(price)|max(rating)", within.Name)

	assert.Equal(t, []Option{options[1]}, WithinBudget("price", MaxBy("price")).Pick(Plan{}, options), "no budget")
}

func TestAssemble(t *testing.T) {
	plan := Plan{Origin: "London", Destination: "Paris", MaxPrice: 400}
	results := map[string][]Option{
		"flights":    {{"price": 350.0}, {"price": 720.0}},
		"activities": {{"name": "Tour"}},
		"cars":       {{"price": 900.0}},
	}
	selectors := DefaultSelectors()
	selectors["cars"] = WithinBudget("price", MinBy("price"))

	it := assemble(plan, []string{"flights", "hotels", "activities", "cars"}, results, selectors)

	assert.Equal(t, Option{"price": 350.0}, it.Selected["flights"])
	assert.Equal(t, []Option{{"name": "Tour"}}, it.Collections["activities"])
	assert.Equal(t, []string{"hotels", "cars"}, it.Missing)
	assert.False(t, it.Complete())
}

func TestOption(t *testing.T) {
	o := Option{"price": 10, "rating": float32(4.5), "name": "x"}

	v, ok := o.Number("price")
	assert.True(t, ok)
	assert.Equal(t, 10.0, v)

	v, ok = o.Number("rating")
	assert.True(t, ok)
	assert.Equal(t, 4.5, v)

	_, ok = o.Number("name")
	assert.False(t, ok)

	assert.Equal(t, "x", o.String("name"))
	assert.Equal(t, "", o.String("price"))
}
