package live

import (
	"strings"
	"time"
)

// answerBuffer accumulates recognized speech for the current answer and
// tracks when it last changed. It is guarded by the Controller's mutex.
type answerBuffer struct {
	finals     []string
	interim    string
	lastUpdate time.Time
	held       bool
}

// addFinal appends a finalized segment and clears the pending interim.
func (b *answerBuffer) addFinal(text string, now time.Time) {
	text = strings.TrimSpace(text)
	b.interim = ""
	if text != "" {
		b.finals = append(b.finals, text)
	}
	b.touch(now)
}

// setInterim replaces the pending interim segment.
func (b *answerBuffer) setInterim(text string, now time.Time) {
	b.interim = strings.TrimSpace(text)
	b.touch(now)
}

func (b *answerBuffer) touch(now time.Time) {
	b.lastUpdate = now
	b.held = false
}

// text returns the finals plus any pending interim. A trailing interim is
// promoted on commit because recognizers do not always finalize the last
// segment before the speaker falls silent.
func (b *answerBuffer) text() string {
	parts := b.finals
	if b.interim != "" {
		parts = append(append([]string(nil), b.finals...), b.interim)
	}
	return strings.Join(parts, " ")
}

func (b *answerBuffer) empty() bool {
	return len(b.finals) == 0 && b.interim == ""
}

// silentFor reports whether at least d has passed since the last update.
func (b *answerBuffer) silentFor(now time.Time, d time.Duration) bool {
	if b.lastUpdate.IsZero() {
		return false
	}
	return now.Sub(b.lastUpdate) >= d
}

func (b *answerBuffer) reset() {
	*b = answerBuffer{}
}
