package guard

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	apperrors "github.com/machinery-site/comments/pkg/errors"
)

const (
	maxLinks       = 2
	maxWordRepeats = 4
	maxSpamLength  = 3000
)

var linkPattern = regexp.MustCompile(`(?i)(?:https?://|www\.)\S+`)

// Spam rejection reasons, in the order they are checked.
const (
	ReasonExcessiveLinks = "Comment contains excessive links"
	ReasonRepetitive     = "Comment appears to be spam"
	ReasonTooLong        = "Comment exceeds maximum length"
)

// CheckSpam applies the body heuristics and returns a SPAM_DETECTED bad
// request when one fires.
func CheckSpam(text string) error {
	if reason := SpamReason(text); reason != "" {
		return apperrors.BadRequest("SPAM_DETECTED", reason)
	}
	return nil
}

// SpamReason returns the first heuristic the text trips, or "".
func SpamReason(text string) string {
	if len(linkPattern.FindAllStringIndex(text, -1)) > maxLinks {
		return ReasonExcessiveLinks
	}
	if hasRepeatedWord(text) {
		return ReasonRepetitive
	}
	if utf8.RuneCountInString(text) > maxSpamLength {
		return ReasonTooLong
	}
	return ""
}

// hasRepeatedWord reports whether any word occurs more than maxWordRepeats
// times. Words are runs of Unicode letters and digits, compared case-insensitively.
func hasRepeatedWord(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	counts := make(map[string]int, len(words))
	for _, w := range words {
		counts[w]++
		if counts[w] > maxWordRepeats {
			return true
		}
	}
	return false
}
