package workflow

import "regexp"

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Sanitize keeps only ASCII letters and digits. Solver answers often carry
// spaces or punctuation that the portal rejects.
func Sanitize(s string) string {
	return nonAlphanumeric.ReplaceAllString(s, "")
}
