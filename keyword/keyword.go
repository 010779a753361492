// Package keyword holds the trigger checks shared by the text and voice paths.
package keyword

import "strings"

// Contains reports whether text contains kw, ignoring case.
// An empty keyword never matches.
func Contains(text, kw string) bool {
	if kw == "" || text == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(kw))
}

// IsCommandAttempt reports whether content starts with any of the prefixes.
func IsCommandAttempt(content string, prefixes ...string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(content, prefix) {
			return true
		}
	}
	return false
}

// ShouldReply decides whether a text message gets the keyword reply.
// Messages that look like command invocations are left to the command
// handler, even when the keyword shows up inside the command token.
func ShouldReply(content, kw string, prefixes ...string) bool {
	if !Contains(content, kw) {
		return false
	}
	return !IsCommandAttempt(content, prefixes...)
}
