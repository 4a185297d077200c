package coordinator

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/hupe1980/taskgraph/internal/codec"
)

// AnyLocation is the default origin and destination.
const AnyLocation = "ANY"

// Plan is the structured form of a travel request.
type Plan struct {
	Origin      string `json:"origin"`
	Destination string `json:"destination"`
	// MaxPrice bounds prices in the plan's currency; 0 means unlimited.
	MaxPrice   float64 `json:"max_price"`
	Preference string  `json:"preference"`
	// Raw is the request the plan was parsed from.
	Raw string `json:"raw,omitempty"`
}

// DefaultPlan holds the values applied to fields a request leaves open.
var DefaultPlan = Plan{
	Origin:      AnyLocation,
	Destination: AnyLocation,
	MaxPrice:    0,
	Preference:  "mixed",
}

// Parser maps a free-form request to a Plan. It never fails: fields it
// cannot determine take default values.
type Parser interface {
	Parse(text string) Plan
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(text string) Plan

// Parse implements Parser.
func (f ParserFunc) Parse(text string) Plan { return f(text) }

// Preference names a travel preference and the keywords selecting it.
type Preference struct {
	Name     string
	Keywords []string
}

// DefaultPreferences are checked in order; the first with a matching keyword
// wins.
var DefaultPreferences = []Preference{
	{Name: "culture", Keywords: []string{"museum", "museums", "art", "history", "culture", "gallery"}},
	{Name: "adventure", Keywords: []string{"hike", "hiking", "adventure", "outdoor", "climb", "kayak"}},
	{Name: "relax", Keywords: []string{"beach", "relax", "spa", "quiet"}},
	{Name: "food", Keywords: []string{"food", "restaurant", "restaurants", "wine", "culinary"}},
}

// RuleParser extracts plan fields with keyword rules:
//
//   - a JSON object with plan fields is decoded directly
//   - "from X" sets the origin and "to Y" the destination, where X and Y are
//     runs of capitalized words; "X to Y" works without "from" unless X is
//     the first word of the request
//   - "under", "below", "max", "budget", "up to", "less than" or a currency
//     sign followed by a number set the maximum price
//   - the first preference with a keyword in the request sets the preference
type RuleParser struct {
	Defaults    Plan
	Preferences []Preference
}

// NewRuleParser creates a parser using DefaultPlan and DefaultPreferences.
func NewRuleParser() *RuleParser {
	return &RuleParser{Defaults: DefaultPlan, Preferences: DefaultPreferences}
}

var pricePattern = regexp.MustCompile(`(?i)(?:(?:under|below|max(?:imum)?|budget(?:\s+of)?|up\s+to|less\s+than|within)\s*[$€£]?\s*|[$€£]\s*)(\d+(?:\.\d+)?)`)

// Parse implements Parser.
func (p *RuleParser) Parse(text string) Plan {
	plan := p.Defaults
	plan.Raw = text

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") {
		var in Plan
		if err := codec.UnmarshalString(trimmed, &in); err == nil {
			return p.fill(in, text)
		}
	}

	words := splitWords(text)

	if i, origin := placeAfter(words, "from"); i >= 0 {
		plan.Origin = origin
	}

	if i, dest := placeAfter(words, "to"); i >= 0 {
		plan.Destination = dest

		if plan.Origin == p.Defaults.Origin {
			if origin := placeBefore(words, i); origin != "" {
				plan.Origin = origin
			}
		}
	}

	if m := pricePattern.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			plan.MaxPrice = v
		}
	}

	if pref := p.preference(words); pref != "" {
		plan.Preference = pref
	}

	return plan
}

func (p *RuleParser) fill(in Plan, raw string) Plan {
	plan := p.Defaults
	plan.Raw = raw

	if in.Origin != "" {
		plan.Origin = in.Origin
	}

	if in.Destination != "" {
		plan.Destination = in.Destination
	}

	if in.MaxPrice > 0 {
		plan.MaxPrice = in.MaxPrice
	}

	if in.Preference != "" {
		plan.Preference = in.Preference
	}

	return plan
}

func (p *RuleParser) preference(words []string) string {
	seen := make(map[string]bool, len(words))
	for _, w := range words {
		seen[strings.ToLower(w)] = true
	}

	for _, pref := range p.Preferences {
		for _, kw := range pref.Keywords {
			if seen[kw] {
				return pref.Name
			}
		}
	}

	return ""
}

// splitWords keeps letters and digits; punctuation ends a word and is kept
// as its own token so place names stop at it.
func splitWords(text string) []string {
	var (
		words []string
		cur   strings.Builder
	)

	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}

	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '\'':
			cur.WriteRune(r)
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			words = append(words, string(r))
		}
	}

	flush()

	return words
}

func capitalized(w string) bool {
	for _, r := range w {
		return unicode.IsUpper(r)
	}

	return false
}

// placeAfter finds the first keyword followed by capitalized words and
// returns the keyword's index and the place, or -1.
func placeAfter(words []string, keyword string) (int, string) {
	for i, w := range words {
		if !strings.EqualFold(w, keyword) {
			continue
		}

		var place []string

		for _, next := range words[i+1:] {
			if !capitalized(next) {
				break
			}

			place = append(place, next)
		}

		if len(place) > 0 {
			return i, strings.Join(place, " ")
		}
	}

	return -1, ""
}

// placeBefore returns the capitalized words right before index i, ignoring
// the first word of the request.
func placeBefore(words []string, i int) string {
	start := i
	for start > 1 && capitalized(words[start-1]) {
		start--
	}

	if start == i {
		return ""
	}

	return strings.Join(words[start:i], " ")
}
