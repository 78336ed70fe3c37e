package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// blockingVoice plays until released or cancelled.
type blockingVoice struct {
	mu        sync.Mutex
	release   chan struct{}
	cancelled chan string
	spoken    []string
}

func newBlockingVoice() *blockingVoice {
	return &blockingVoice{release: make(chan struct{}, 8), cancelled: make(chan string, 8)}
}

func (v *blockingVoice) Speak(ctx context.Context, text string) error {
	v.mu.Lock()
	v.spoken = append(v.spoken, text)
	v.mu.Unlock()
	select {
	case <-v.release:
		return nil
	case <-ctx.Done():
		v.cancelled <- text
		return ctx.Err()
	}
}

type recorder struct {
	mu      sync.Mutex
	events  []Event
	commits []Turn
}

func (r *recorder) onEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) onCommit(t Turn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, t)
}

func (r *recorder) commitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commits)
}

func (r *recorder) has(eventType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.EventType() == eventType {
			return true
		}
	}
	return false
}

func newTestController(t *testing.T, voice Voice) (*Controller, *fakeClock, *recorder) {
	t.Helper()
	clock := newFakeClock()
	rec := &recorder{}
	c := NewController(DefaultTurnConfig(), voice,
		WithClock(clock.Now),
		WithEventHandler(rec.onEvent),
		WithCommitHandler(rec.onCommit),
	)
	t.Cleanup(func() {
		c.End()
		c.Wait()
	})
	return c, clock, rec
}

func waitForState(t *testing.T, c *Controller, want TurnState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state=%s, want %s", c.State(), want)
}

func TestController_SpeakThenListen(t *testing.T) {
	voice := newBlockingVoice()
	c, _, rec := newTestController(t, voice)

	if err := c.Speak(context.Background(), "Tell me about yourself."); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if c.State() != StateAISpeaking {
		t.Fatalf("state=%s, want AI_SPEAKING", c.State())
	}
	voice.release <- struct{}{}
	waitForState(t, c, StateListening)
	if !rec.has("speech.finished") {
		t.Fatalf("missing speech.finished event")
	}
}

func TestController_SilenceAutoSubmit(t *testing.T) {
	c, clock, rec := newTestController(t, nil)
	if err := c.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	c.OnTranscript("I built a rate limiter in Go", false)
	c.tick(clock.Advance(3999 * time.Millisecond))
	if rec.commitCount() != 0 {
		t.Fatalf("committed before silence timeout")
	}

	c.tick(clock.Advance(time.Millisecond))
	if rec.commitCount() != 1 {
		t.Fatalf("commits=%d, want 1 after 4000ms silence", rec.commitCount())
	}
	got := rec.commits[0]
	if got.Transcript != "I built a rate limiter in Go" || got.Reason != CommitSilence {
		t.Fatalf("turn=%+v", got)
	}
	if c.State() != StateProcessing {
		t.Fatalf("state=%s, want PROCESSING", c.State())
	}
}

func TestController_InterimResetsSilenceTimer(t *testing.T) {
	c, clock, rec := newTestController(t, nil)
	_ = c.Listen()

	c.OnTranscript("first part", true)
	clock.Advance(3 * time.Second)
	c.OnTranscript("and then", false)
	c.tick(clock.Advance(3 * time.Second))
	if rec.commitCount() != 0 {
		t.Fatalf("committed although the interim update reset the timer")
	}
	c.tick(clock.Advance(time.Second))
	if rec.commitCount() != 1 || rec.commits[0].Transcript != "first part and then" {
		t.Fatalf("commits=%+v", rec.commits)
	}
}

func TestController_ShortAnswerIsHeld(t *testing.T) {
	c, clock, rec := newTestController(t, nil)
	_ = c.Listen()

	c.OnTranscript("no", true)
	c.tick(clock.Advance(5 * time.Second))
	if rec.commitCount() != 0 {
		t.Fatalf("short answer was auto-submitted")
	}
	if !rec.has("turn.held") {
		t.Fatalf("missing turn.held event")
	}
	if c.State() != StateListening {
		t.Fatalf("state=%s, want LISTENING", c.State())
	}

	turn, err := c.Submit()
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if turn.Reason != CommitExplicit || turn.Transcript != "no" {
		t.Fatalf("turn=%+v", turn)
	}
}

func TestController_SubmitErrors(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	if _, err := c.Submit(); !errors.Is(err, ErrNotListening) {
		t.Fatalf("Submit in IDLE err=%v, want ErrNotListening", err)
	}
	_ = c.Listen()
	if _, err := c.Submit(); !errors.Is(err, ErrNothingToSubmit) {
		t.Fatalf("Submit empty err=%v, want ErrNothingToSubmit", err)
	}
	c.End()
	if _, err := c.Submit(); !errors.Is(err, ErrEnded) {
		t.Fatalf("Submit after End err=%v, want ErrEnded", err)
	}
}

func TestController_BargeInCancelsSpeech(t *testing.T) {
	voice := newBlockingVoice()
	c, _, rec := newTestController(t, voice)
	_ = c.Speak(context.Background(), "Let me describe the next problem in detail.")

	c.OnTranscript("uh huh", false)
	if c.State() != StateAISpeaking {
		t.Fatalf("backchannel interrupted speech")
	}
	c.OnTranscript("sorry", false)
	if c.State() != StateAISpeaking {
		t.Fatalf("single word crossed the interruption threshold")
	}

	c.OnTranscript("wait I have a question", false)
	if c.State() != StateListening {
		t.Fatalf("state=%s, want LISTENING after barge-in", c.State())
	}
	select {
	case <-voice.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("speech was not cancelled")
	}
	if !rec.has("speech.barge_in") {
		t.Fatalf("missing barge-in event")
	}
	if got := c.Transcript(); got != "wait I have a question" {
		t.Fatalf("transcript=%q", got)
	}
}

func TestController_ProcessingIgnoresRecognition(t *testing.T) {
	c, _, _ := newTestController(t, nil)
	_ = c.Listen()
	c.OnTranscript("my answer is done", true)
	if _, err := c.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	c.OnTranscript("talking during processing", true)
	if got := c.Transcript(); got != "" {
		t.Fatalf("transcript=%q, want empty while processing", got)
	}
}

func TestController_EndReturnsPendingAndCancels(t *testing.T) {
	voice := newBlockingVoice()
	c, _, _ := newTestController(t, voice)
	_ = c.Speak(context.Background(), "Question one")
	voice.release <- struct{}{}
	waitForState(t, c, StateListening)

	c.OnTranscript("half an answer", false)
	pending, open := c.End()
	if !open || pending != "half an answer" {
		t.Fatalf("End()=(%q,%v), want pending answer", pending, open)
	}
	if c.State() != StateEnded {
		t.Fatalf("state=%s, want ENDED", c.State())
	}
	if err := c.Speak(context.Background(), "x"); !errors.Is(err, ErrEnded) {
		t.Fatalf("Speak after End err=%v", err)
	}
	if _, open := c.End(); open {
		t.Fatalf("second End reported an open turn")
	}
}

func TestController_EndDuringSpeechCancelsSynthesis(t *testing.T) {
	voice := newBlockingVoice()
	c, _, _ := newTestController(t, voice)
	_ = c.Speak(context.Background(), "Question one")

	_, open := c.End()
	if !open {
		t.Fatalf("turn should be open while the question is being asked")
	}
	select {
	case <-voice.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("speech not cancelled on End")
	}
	c.Wait()
}

func TestIsBargeIn(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"okay", false},
		{"Mm-hmm.", false},
		{"one two", false},
		{"hold on a second", true},
	}
	for _, tc := range tests {
		if got := isBargeIn(tc.in, 3); got != tc.want {
			t.Fatalf("isBargeIn(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestTurnState_String(t *testing.T) {
	if StateAISpeaking.String() != "AI_SPEAKING" || StateEnded.String() != "ENDED" {
		t.Fatalf("unexpected state names")
	}
}
