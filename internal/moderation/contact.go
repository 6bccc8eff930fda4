package moderation

import "regexp"

// Contact-detail patterns. These are reported alongside moderation events but
// do not block a message.
var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	// phonePattern matches formats such as +1 555-123-4567, (555) 123-4567
	// and 5551234567.
	phonePattern = regexp.MustCompile(`(\+?\d{1,2}\s?)?(\(?\d{3}\)?[\s.-]?)?\d{3}[\s.-]?\d{4}`)

	// handlePattern matches social-media handles like @someone.
	handlePattern = regexp.MustCompile(`@[a-zA-Z0-9._]+`)
)

// Contact hint names returned by ContactHints.
const (
	HintEmail  = "email"
	HintPhone  = "phone"
	HintHandle = "handle"
)

type contactCheck struct {
	name    string
	pattern *regexp.Regexp
}

// Order matters for reporting only: an email address also contains a handle.
var contactChecks = []contactCheck{
	{name: HintEmail, pattern: emailPattern},
	{name: HintPhone, pattern: phonePattern},
	{name: HintHandle, pattern: handlePattern},
}

// ContactHints returns the names of the contact-detail patterns found in
// text, or nil if none match. A handle is not reported when the only "@"
// belongs to an email address.
func ContactHints(text string) []string {
	var hints []string
	for _, c := range contactChecks {
		if c.name == HintHandle {
			if !handlePattern.MatchString(emailPattern.ReplaceAllString(text, "")) {
				continue
			}
		} else if !c.pattern.MatchString(text) {
			continue
		}
		hints = append(hints, c.name)
	}
	return hints
}
