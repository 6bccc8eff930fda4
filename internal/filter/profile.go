// Package filter evaluates a receiver's saved filter preferences against a
// sender's profile attributes. Everything here is pure: the caller fetches
// the profile and attributes and decides what to do with the verdict.
package filter

// Profile is a receiver's saved filter preferences, stored as JSON. Every
// criterion describes senders to restrict, not senders to allow.
type Profile struct {
	BlockedWords []string `json:"blockedWords"`
	Distance     *float64 `json:"distance"`     // restrict senders at most this many km away
	AgeRange     []int    `json:"ageRange"`     // inclusive [min, max]
	HeightRange  []string `json:"heightRange"`  // inclusive ["5'0", "6'2"]
	Ethnicities  []string `json:"ethnicities"`  // excluded ethnicities
	ProfileTypes []int64  `json:"profileTypes"` // excluded place category ids
}

// Attributes are a user's last known location and profile markers. Nil
// pointers and empty strings mean "not set".
type Attributes struct {
	Latitude    *float64
	Longitude   *float64
	Age         *int
	Height      string
	Ethnicity   string
	CategoryIDs []int64
}

// HasLocation reports whether both coordinates are known.
func (a *Attributes) HasLocation() bool {
	return a != nil && a.Latitude != nil && a.Longitude != nil
}
