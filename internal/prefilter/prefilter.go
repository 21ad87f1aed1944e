// Package prefilter shortlists messages that mention a date cue before any
// AI call is made. It is deliberately cheap: a case-insensitive substring
// scan over a configured cue list.
package prefilter

import (
	"strings"

	"github.com/harunnryd/matsuri/internal/digest"
)

// Shortlist keeps messages whose text contains at least one cue,
// preserving input order. Matching ignores case on both sides.
func Shortlist(messages []digest.SourceMessage, cues []string) []digest.SourceMessage {
	if len(cues) == 0 {
		return nil
	}

	lowered := make([]string, 0, len(cues))
	for _, cue := range cues {
		cue = strings.TrimSpace(strings.ToLower(cue))
		if cue != "" {
			lowered = append(lowered, cue)
		}
	}

	var candidates []digest.SourceMessage
	for _, msg := range messages {
		if Matches(msg.Text, lowered) {
			candidates = append(candidates, msg)
		}
	}
	return candidates
}

// Matches reports whether text contains any of the cues. Cues are assumed
// to be lowercased already; text is lowered here.
func Matches(text string, cues []string) bool {
	lowered := strings.ToLower(text)
	for _, cue := range cues {
		if cue != "" && strings.Contains(lowered, cue) {
			return true
		}
	}
	return false
}
