package live

import (
	"strings"
	"unicode"
)

// backchannel holds the listener noises a candidate makes while the
// interviewer is talking. They never cancel the interviewer's audio.
var backchannel = map[string]struct{}{
	"uh huh": {}, "mm hmm": {}, "mhm": {}, "hmm": {}, "hm": {},
	"yeah": {}, "yep": {}, "yes": {}, "ok": {}, "okay": {},
	"right": {}, "sure": {}, "alright": {}, "all right": {},
	"got it": {}, "i see": {}, "oh": {}, "oh okay": {}, "ah": {},
	"thanks": {}, "thank you": {},
}

// normalizeUtterance lowercases, turns hyphens into spaces, drops other
// punctuation and collapses whitespace, so "Mm-hmm." matches "mm hmm".
func normalizeUtterance(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '-':
			return ' '
		case unicode.IsPunct(r):
			return -1
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// isBargeIn reports whether speech heard while the interviewer is talking
// should cancel the interviewer's audio: at least threshold words that are not
// a backchannel.
func isBargeIn(transcript string, threshold int) bool {
	norm := normalizeUtterance(transcript)
	if norm == "" {
		return false
	}
	if _, ok := backchannel[norm]; ok {
		return false
	}
	return len(strings.Fields(norm)) >= max(threshold, 1)
}
