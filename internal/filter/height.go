package filter

import (
	"regexp"
	"strconv"
)

var heightPattern = regexp.MustCompile(`(\d+)'(\d+)`)

// HeightToInches parses a feet'inches token such as "5'10" into total inches.
// ok is false for any other format; callers must treat that as "skip this
// criterion", never as zero.
func HeightToInches(s string) (inches int, ok bool) {
	m := heightPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	feet, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	in, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false
	}
	return feet*12 + in, true
}
