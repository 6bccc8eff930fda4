// Package moderation provides content filtering for chat messages. It screens
// message text for solicitation keywords and street addresses before a
// message is admitted, and detects contact details for reporting.
package moderation

import (
	"regexp"
	"strings"
)

// Reasons reported on a blocking FilterResult.
const (
	ReasonKeyword = "blocked_keyword"
	ReasonAddress = "street_address"
)

// DefaultKeywords is the solicitation denylist applied to every message.
// Matching is a case-insensitive substring test.
var DefaultKeywords = []string{
	"sex",
	"escort",
	"prostitute",
	"hookup",
	"sugar mommy",
	"pay for sex",
	"sex for money",
	"gifts for sex",
	"exchange sex",
	"trade sex",
}

// addressPattern matches a house number followed by a street name and a
// street-type token, e.g. "221 Baker Street" or "12 main st".
var addressPattern = regexp.MustCompile(`(?i)\d{1,4}\s\w+\s(Street|St|Avenue|Ave|Boulevard|Blvd|Lane|Ln|Road|Rd|Drive|Dr|Court|Ct|Square|Sq|Place|Pl|Terrace|Ter|Highway|Hwy|Way|Pkwy|Parkway|Circle|Cir|Bypass|Byp|Alley|Aly|Freeway|Fwy|Trail|Trl|Bridge|Brg|Crescent|Cres|Gate|Gte|Mews|Mws|Row|Walk|Wlk|Wharf|Whf|Meadow|Mdow)\b`)

// FilterResult is the outcome of a moderation check. The zero value means the
// text is allowed.
type FilterResult struct {
	Blocked bool
	Reason  string // ReasonKeyword or ReasonAddress
	Term    string // the keyword or address fragment that matched
}

// Filter checks message text against a keyword denylist and the street
// address pattern. It is immutable after construction and safe for
// concurrent use.
type Filter struct {
	keywords []string // lower-cased
}

// NewFilter returns a Filter using DefaultKeywords.
func NewFilter() *Filter {
	return NewFilterWithTerms(DefaultKeywords)
}

// NewFilterWithTerms returns a Filter using the given keywords instead of the
// defaults. Empty terms are ignored.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{keywords: make([]string, 0, len(terms))}
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			f.keywords = append(f.keywords, t)
		}
	}
	return f
}

// Check runs the keyword test first and then the address test, returning a
// blocking result on the first match.
func (f *Filter) Check(text string) FilterResult {
	lower := strings.ToLower(text)
	for _, kw := range f.keywords {
		if strings.Contains(lower, kw) {
			return FilterResult{Blocked: true, Reason: ReasonKeyword, Term: kw}
		}
	}
	if loc := addressPattern.FindStringIndex(text); loc != nil {
		return FilterResult{Blocked: true, Reason: ReasonAddress, Term: text[loc[0]:loc[1]]}
	}
	return FilterResult{}
}

// IsAllowedText reports whether text passes moderation.
func (f *Filter) IsAllowedText(text string) bool {
	return !f.Check(text).Blocked
}

var defaultFilter = NewFilter()

// IsAllowedText reports whether text passes moderation with the default
// denylist.
func IsAllowedText(text string) bool {
	return defaultFilter.IsAllowedText(text)
}
