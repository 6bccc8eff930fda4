package filter

import "strings"

// Restriction reasons reported in a Verdict, one per criterion.
const (
	ReasonBlockedWord = "blocked_word"
	ReasonDistance    = "distance"
	ReasonAge         = "age"
	ReasonHeight      = "height"
	ReasonEthnicity   = "ethnicity"
	ReasonProfileType = "profile_type"
)

// Verdict is the result of evaluating a message against a receiver's profile.
type Verdict struct {
	Restricted bool
	Reasons    []string // criteria that matched, in evaluation order
}

// Evaluate applies every criterion of the receiver's profile and ORs them.
// A nil profile never restricts. sender and receiver may be nil when the
// store has no attributes for them; criteria needing missing data are
// skipped.
func Evaluate(profile *Profile, text string, sender, receiver *Attributes) Verdict {
	var v Verdict
	if profile == nil {
		return v
	}

	add := func(matched bool, reason string) {
		if matched {
			v.Restricted = true
			v.Reasons = append(v.Reasons, reason)
		}
	}

	add(matchBlockedWord(profile.BlockedWords, text), ReasonBlockedWord)
	add(matchDistance(profile.Distance, sender, receiver), ReasonDistance)
	if sender != nil {
		add(matchAge(profile.AgeRange, sender.Age), ReasonAge)
		add(matchHeight(profile.HeightRange, sender.Height), ReasonHeight)
		add(matchEthnicity(profile.Ethnicities, sender.Ethnicity), ReasonEthnicity)
		add(matchProfileType(profile.ProfileTypes, sender.CategoryIDs), ReasonProfileType)
	}
	return v
}

func matchBlockedWord(words []string, text string) bool {
	lower := strings.ToLower(text)
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// matchDistance restricts when the configured threshold is at least the
// actual distance. Missing coordinates on either side skip the criterion.
func matchDistance(threshold *float64, sender, receiver *Attributes) bool {
	if threshold == nil || !sender.HasLocation() || !receiver.HasLocation() {
		return false
	}
	d := DistanceKm(*sender.Latitude, *sender.Longitude, *receiver.Latitude, *receiver.Longitude)
	return *threshold >= d
}

// matchAge restricts when the sender's age falls inside the inclusive range.
func matchAge(r []int, age *int) bool {
	if age == nil || len(r) != 2 {
		return false
	}
	return *age >= r[0] && *age <= r[1]
}

// matchHeight restricts when the sender's height falls inside the inclusive
// range. Any unparseable value skips the criterion.
func matchHeight(r []string, height string) bool {
	if len(r) != 2 || height == "" {
		return false
	}
	lo, ok := HeightToInches(r[0])
	if !ok {
		return false
	}
	hi, ok := HeightToInches(r[1])
	if !ok {
		return false
	}
	h, ok := HeightToInches(height)
	if !ok {
		return false
	}
	return h >= lo && h <= hi
}

func matchEthnicity(excluded []string, ethnicity string) bool {
	if ethnicity == "" {
		return false
	}
	for _, e := range excluded {
		if strings.EqualFold(strings.TrimSpace(e), ethnicity) {
			return true
		}
	}
	return false
}

func matchProfileType(excluded []int64, categories []int64) bool {
	if len(excluded) == 0 || len(categories) == 0 {
		return false
	}
	set := make(map[int64]struct{}, len(excluded))
	for _, id := range excluded {
		set[id] = struct{}{}
	}
	for _, id := range categories {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
