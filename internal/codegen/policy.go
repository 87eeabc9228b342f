package codegen

import "strings"

// defaultBlockedWords are substrings that must never appear in a room code
var defaultBlockedWords = []string{
	"ASS", "CUM", "CUNT", "COCK", "DICK", "DAMN", "FAG", "FUCK", "FUK",
	"KKK", "NAZI", "PISS", "POOP", "SEX", "SHIT", "SLUT", "TIT", "WTF",
}

// NewBlocklist returns a content policy rejecting codes that contain any of the
// built-in words or the extra words given. Matching is case-insensitive.
func NewBlocklist(extra ...string) ContentPolicy {
	words := make([]string, 0, len(defaultBlockedWords)+len(extra))
	words = append(words, defaultBlockedWords...)
	for _, w := range extra {
		if w = strings.TrimSpace(w); w != "" {
			words = append(words, strings.ToUpper(w))
		}
	}

	return func(code string) bool {
		upper := strings.ToUpper(code)
		for _, w := range words {
			if strings.Contains(upper, w) {
				return false
			}
		}
		return true
	}
}
