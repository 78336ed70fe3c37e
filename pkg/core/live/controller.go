package live

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

var (
	// ErrEnded is returned by any operation after End.
	ErrEnded = errors.New("turn controller ended")
	// ErrNotListening is returned by Submit outside the LISTENING state.
	ErrNotListening = errors.New("not listening")
	// ErrNothingToSubmit is returned by Submit when no speech was recognized.
	ErrNothingToSubmit = errors.New("nothing to submit")
)

// Voice speaks interviewer text. Speak blocks until playback finishes and
// must return promptly once ctx is cancelled, releasing any audio resources.
type Voice interface {
	Speak(ctx context.Context, text string) error
}

// VoiceFunc adapts a function to the Voice interface.
type VoiceFunc func(ctx context.Context, text string) error

// Speak implements Voice.
func (f VoiceFunc) Speak(ctx context.Context, text string) error { return f(ctx, text) }

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides the clock used for silence detection.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEventHandler receives every event, in order, outside the controller lock.
func WithEventHandler(fn func(Event)) Option {
	return func(c *Controller) { c.onEvent = fn }
}

// WithCommitHandler receives each committed answer.
func WithCommitHandler(fn func(Turn)) Option {
	return func(c *Controller) { c.onCommit = fn }
}

// Controller arbitrates between interviewer speech and candidate speech.
type Controller struct {
	cfg      TurnConfig
	voice    Voice
	now      func() time.Time
	logger   *slog.Logger
	onEvent  func(Event)
	onCommit func(Turn)

	mu           sync.Mutex
	state        TurnState
	answer       answerBuffer
	speechID     uint64
	speechCancel context.CancelFunc
	loopCancel   context.CancelFunc

	wg sync.WaitGroup
}

// NewController creates a controller in the IDLE state.
func NewController(cfg TurnConfig, voice Voice, opts ...Option) *Controller {
	c := &Controller{
		cfg:    cfg.withDefaults(),
		voice:  voice,
		now:    time.Now,
		logger: slog.Default(),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins the silence timer loop. It stops when ctx is done or End is
// called.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.loopCancel != nil || c.state == StateEnded {
		c.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.loopCancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.timeoutLoop(loopCtx)
}

func (c *Controller) timeoutLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(c.now())
		}
	}
}

// State returns the current state.
func (c *Controller) State() TurnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transcript returns the answer recognized so far in the current turn.
func (c *Controller) Transcript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answer.text()
}

// Speak starts interviewer speech. Any speech already in flight is cancelled.
// The controller moves to LISTENING when playback finishes.
func (c *Controller) Speak(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return ErrEnded
	}
	c.cancelSpeechLocked()
	c.speechID++
	id := c.speechID
	speechCtx, cancel := context.WithCancel(ctx)
	c.speechCancel = cancel
	c.answer.reset()
	events := c.transitionLocked(StateAISpeaking)
	events = append(events, &SpeechStartedEvent{Text: text})
	c.mu.Unlock()

	c.dispatch(events)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		var err error
		if c.voice != nil {
			err = c.voice.Speak(speechCtx, text)
		}
		c.speechDone(id, err)
	}()
	return nil
}

func (c *Controller) speechDone(id uint64, err error) {
	c.mu.Lock()
	if id != c.speechID || c.state != StateAISpeaking {
		c.mu.Unlock()
		c.dispatch([]Event{&SpeechFinishedEvent{Cancelled: true}})
		return
	}
	c.cancelSpeechLocked()

	finished := &SpeechFinishedEvent{}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			finished.Cancelled = true
		} else {
			finished.Error = err.Error()
			c.logger.Warn("speech synthesis failed; continuing to listen", "error", err)
		}
	}
	c.answer.reset()
	events := []Event{finished}
	events = append(events, c.transitionLocked(StateListening)...)
	c.mu.Unlock()

	c.dispatch(events)
}

// Listen moves straight to LISTENING without interviewer speech.
func (c *Controller) Listen() error {
	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return ErrEnded
	}
	c.cancelSpeechLocked()
	c.speechID++
	c.answer.reset()
	events := c.transitionLocked(StateListening)
	c.mu.Unlock()

	c.dispatch(events)
	return nil
}

// OnTranscript feeds recognized speech. Interim results replace the pending
// segment; final results are appended. Input is ignored in IDLE, PROCESSING
// and ENDED.
func (c *Controller) OnTranscript(text string, final bool) {
	if strings.TrimSpace(text) == "" {
		return
	}
	now := c.now()

	c.mu.Lock()
	var events []Event
	switch c.state {
	case StateAISpeaking:
		if !isBargeIn(text, c.cfg.InterruptionThreshold) {
			c.mu.Unlock()
			return
		}
		c.cancelSpeechLocked()
		c.speechID++
		c.answer.reset()
		events = append(events, &BargeInEvent{Transcript: text})
		events = append(events, c.transitionLocked(StateListening)...)
		c.record(text, final, now)
		events = append(events, &TranscriptEvent{Text: c.answer.text(), IsFinal: final})
	case StateListening:
		c.record(text, final, now)
		events = append(events, &TranscriptEvent{Text: c.answer.text(), IsFinal: final})
	default:
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.dispatch(events)
}

func (c *Controller) record(text string, final bool, now time.Time) {
	if final {
		c.answer.addFinal(text, now)
	} else {
		c.answer.setInterim(text, now)
	}
}

// Submit commits the current answer on the candidate's explicit signal. Any
// non-empty answer is accepted regardless of MinAutoSubmitLength.
func (c *Controller) Submit() (Turn, error) {
	c.mu.Lock()
	switch c.state {
	case StateEnded:
		c.mu.Unlock()
		return Turn{}, ErrEnded
	case StateListening:
	default:
		c.mu.Unlock()
		return Turn{}, ErrNotListening
	}
	text := strings.TrimSpace(c.answer.text())
	if text == "" {
		c.mu.Unlock()
		return Turn{}, ErrNothingToSubmit
	}
	turn, events := c.commitLocked(text, CommitExplicit)
	c.mu.Unlock()

	c.dispatch(events)
	c.commit(turn)
	return turn, nil
}

// tick checks the silence timer against now.
func (c *Controller) tick(now time.Time) {
	c.mu.Lock()
	if c.state != StateListening || c.answer.empty() || !c.answer.silentFor(now, c.cfg.SilenceTimeout) {
		c.mu.Unlock()
		return
	}

	text := strings.TrimSpace(c.answer.text())
	if utf8.RuneCountInString(text) < c.cfg.MinAutoSubmitLength {
		if c.answer.held {
			c.mu.Unlock()
			return
		}
		c.answer.held = true
		c.mu.Unlock()
		c.dispatch([]Event{&TurnHeldEvent{Transcript: text, MinLength: c.cfg.MinAutoSubmitLength}})
		return
	}

	turn, events := c.commitLocked(text, CommitSilence)
	c.mu.Unlock()

	c.dispatch(events)
	c.commit(turn)
}

func (c *Controller) commitLocked(text string, reason CommitReason) (Turn, []Event) {
	c.answer.reset()
	events := c.transitionLocked(StateProcessing)
	events = append(events, &TurnCommittedEvent{Transcript: text, Reason: reason})
	return Turn{Transcript: text, Reason: reason}, events
}

// End moves to ENDED, cancelling speech in flight and the silence timer. It
// returns the uncommitted answer and whether a turn was open (a question was
// being asked or answered) so the caller can record it as incomplete.
func (c *Controller) End() (pending string, open bool) {
	c.mu.Lock()
	if c.state == StateEnded {
		c.mu.Unlock()
		return "", false
	}
	open = c.state == StateAISpeaking || c.state == StateListening
	pending = strings.TrimSpace(c.answer.text())
	c.cancelSpeechLocked()
	c.speechID++
	c.answer.reset()
	if c.loopCancel != nil {
		c.loopCancel()
	}
	events := c.transitionLocked(StateEnded)
	c.mu.Unlock()

	c.dispatch(events)
	return pending, open
}

// Wait blocks until the timer loop and any speech task have returned. Call it
// after End; it must not be called from an event or commit handler.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) cancelSpeechLocked() {
	if c.speechCancel != nil {
		c.speechCancel()
		c.speechCancel = nil
	}
}

func (c *Controller) transitionLocked(to TurnState) []Event {
	from := c.state
	if from == to {
		return nil
	}
	c.state = to
	c.logger.Debug("turn state", "from", from.String(), "to", to.String())
	return []Event{&StateChangedEvent{From: from, To: to}}
}

func (c *Controller) dispatch(events []Event) {
	if c.onEvent == nil {
		return
	}
	for _, e := range events {
		c.onEvent(e)
	}
}

func (c *Controller) commit(turn Turn) {
	if c.onCommit != nil {
		c.onCommit(turn)
	}
}
