package chat

import (
	"fmt"
	"unicode/utf8"
)

// MaxTextChars is the maximum message text length in characters.
const MaxTextChars = 1000

// ValidateText checks that message text meets content requirements.
func ValidateText(text string) error {
	if len(text) == 0 {
		return fmt.Errorf("message text is empty")
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	if utf8.RuneCountInString(text) > MaxTextChars {
		return fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	return nil
}
