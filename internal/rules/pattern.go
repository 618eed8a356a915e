package rules

import (
	"fmt"
	"regexp"
)

// Pattern is a regular expression usable as a rule's read value.
//
// A Pattern matches a candidate only at its start (the remainder of the
// line may be anything unless the expression ends with $). It keeps no
// state between matches, so a single Pattern is safe to share between
// goroutines.
type Pattern struct {
	source string
	re     *regexp.Regexp
}

// MatchResult is the outcome of one Pattern.Match call.
type MatchResult struct {
	Matched bool

	// Text is the whole matched text.
	Text string

	// Submatches holds positional groups, index 0 being the whole match.
	Submatches []string

	// Groups holds named groups.
	Groups map[string]string
}

// String renders the whole matched text.
func (m MatchResult) String() string {
	return m.Text
}

// NewPattern compiles source into a Pattern.
func NewPattern(source string) (*Pattern, error) {
	re, err := regexp.Compile(`^(?:` + source + `)`)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidPattern, source, err)
	}
	return &Pattern{source: source, re: re}, nil
}

// MustPattern is like NewPattern but panics on error. Intended for tests and
// package-level variables.
func MustPattern(source string) *Pattern {
	p, err := NewPattern(source)
	if err != nil {
		panic(err)
	}
	return p
}

// Match tests candidate against the pattern.
func (p *Pattern) Match(candidate string) MatchResult {
	sub := p.re.FindStringSubmatch(candidate)
	if sub == nil {
		return MatchResult{}
	}

	res := MatchResult{
		Matched:    true,
		Text:       sub[0],
		Submatches: sub,
	}
	for i, name := range p.re.SubexpNames() {
		if name == "" || i >= len(sub) {
			continue
		}
		if res.Groups == nil {
			res.Groups = make(map[string]string)
		}
		res.Groups[name] = sub[i]
	}
	return res
}

// Source returns the expression the pattern was built from.
func (p *Pattern) Source() string {
	return p.source
}

// String renders the pattern as r'<source>'.
func (p *Pattern) String() string {
	return "r'" + p.source + "'"
}
