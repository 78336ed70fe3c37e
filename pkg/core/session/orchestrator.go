// Package session coordinates interview sessions. Each session is an actor:
// one goroutine owns the InterviewSession aggregate and applies commands,
// sensor samples and capability results strictly in arrival order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/vai-interview/pkg/core/conversation"
	"github.com/vango-go/vai-interview/pkg/core/plan"
	"github.com/vango-go/vai-interview/pkg/core/proctor"
	"github.com/vango-go/vai-interview/pkg/core/types"
)

var (
	ErrNotActive      = errors.New("session is not active")
	ErrEnded          = errors.New("session has ended")
	ErrTurnInProgress = errors.New("previous turn is still being processed")
	ErrOutsideWindow  = errors.New("outside the job's interview window")
	ErrEmptyAnswer    = errors.New("answer is empty")
	ErrInvalidInput   = errors.New("invalid input")
	ErrClosed         = errors.New("orchestrator is closed")
)

// Conversation generates questions, bridges turns and evaluates sessions.
// *conversation.Engine satisfies it. Implementations never fail; they fall
// back to local content instead.
type Conversation interface {
	GenerateQuestions(ctx context.Context, role, resumeText string, limits plan.Limits) []string
	Bridge(ctx context.Context, question, answer string, limits plan.Limits) string
	Evaluate(ctx context.Context, in conversation.EvaluationInput) types.FinalEvaluation
	ScoreAnswer(ctx context.Context, question, answer string, limits plan.Limits) (conversation.AnswerScores, bool)
}

// Config tunes the orchestrator.
type Config struct {
	// HighSeverityThreshold high-severity incidents force termination
	// regardless of the remaining warning budget. Zero disables the check.
	// Default: 3
	HighSeverityThreshold int
	// MailboxSize bounds each session's pending commands.
	// Default: 64
	MailboxSize int
	// EventBuffer is the per-subscriber event buffer.
	// Default: 64
	EventBuffer int
	// EvaluationTimeout bounds the final evaluation call.
	// Default: 2m
	EvaluationTimeout time.Duration
	// StoreTimeout bounds each store write.
	// Default: 5s
	StoreTimeout time.Duration
	Proctor      proctor.Config
}

// DefaultConfig returns the standard orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		HighSeverityThreshold: 3,
		MailboxSize:           64,
		EventBuffer:           64,
		EvaluationTimeout:     2 * time.Minute,
		StoreTimeout:          5 * time.Second,
		Proctor:               proctor.DefaultConfig(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HighSeverityThreshold < 0 {
		c.HighSeverityThreshold = 0
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = def.MailboxSize
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = def.EventBuffer
	}
	if c.EvaluationTimeout <= 0 {
		c.EvaluationTimeout = def.EvaluationTimeout
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = def.StoreTimeout
	}
	return c
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig replaces the configuration. Zero fields take defaults.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg.withDefaults() }
}

// WithResolver sets the plan table used to freeze limits at creation.
func WithResolver(r *plan.Resolver) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.resolver = r
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides session and incident ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithBus shares an existing event bus.
func WithBus(b *Bus) Option {
	return func(o *Orchestrator) { o.bus = b }
}

// TurnResult reports a processed turn.
type TurnResult struct {
	Response       types.InterviewResponse `json:"response"`
	Acknowledgment string                  `json:"acknowledgment,omitempty"`
	NextIndex      int                     `json:"next_index,omitempty"`
	NextQuestion   string                  `json:"next_question,omitempty"`
	Done           bool                    `json:"done"`
}

// Orchestrator owns every live session actor.
type Orchestrator struct {
	store    Store
	conv     Conversation
	resolver *plan.Resolver
	bus      *Bus
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	actors map[string]*actor
	closed bool
}

// New creates an orchestrator writing to store and reasoning through conv.
func New(store Store, conv Conversation, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:    store,
		conv:     conv,
		resolver: plan.NewResolver(plan.DefaultTable()),
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
		ctx:      ctx,
		cancel:   cancel,
		actors:   make(map[string]*actor),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.bus == nil {
		o.bus = NewBus(o.cfg.EventBuffer, o.logger)
	}
	return o
}

// Bus returns the event bus sessions publish to.
func (o *Orchestrator) Bus() *Bus { return o.bus }

// Subscribe returns the events of one session. The channel closes after the
// session's FinalizedEvent.
func (o *Orchestrator) Subscribe(id string) (<-chan Envelope, func()) {
	return o.bus.Subscribe(id)
}

// SubscribeAll returns the events of every session.
func (o *Orchestrator) SubscribeAll() (<-chan Envelope, func()) {
	return o.bus.Subscribe(allSessions)
}

// Active is the number of sessions with a running actor.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.actors)
}

// Create registers a PENDING session for candidate. Limits are resolved from
// the plan frozen on the job and masked by the job's sensor opt-in.
func (o *Orchestrator) Create(ctx context.Context, job types.JobPosting, candidate types.Candidate) (*types.InterviewSession, error) {
	if job.ID == "" || candidate.ID == "" {
		return nil, fmt.Errorf("job and candidate ids are required: %w", ErrInvalidInput)
	}
	if candidate.JobID != job.ID {
		return nil, fmt.Errorf("candidate %s does not belong to job %s: %w", candidate.ID, job.ID, ErrInvalidInput)
	}
	if candidate.SessionID != "" {
		return nil, fmt.Errorf("candidate %s already has session %s: %w", candidate.ID, candidate.SessionID, ErrDuplicate)
	}
	if !job.PlanAtCreation.Valid() {
		return nil, fmt.Errorf("job %s: %w", job.ID, plan.ErrUnknownPlan)
	}

	limits := job.EffectiveLimits(o.resolver)
	sess := &types.InterviewSession{
		ID:             o.newID(),
		JobID:          job.ID,
		CandidateID:    candidate.ID,
		Plan:           job.PlanAtCreation,
		Limits:         limits,
		Status:         types.SessionPending,
		CreatedAt:      o.now(),
		Responses:      []types.InterviewResponse{},
		ProctoringLogs: []types.ProctoringLog{},
	}

	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if err := o.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	a := newActor(o, sess, job, candidate)
	out := sess.Clone()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, ErrClosed
	}
	o.actors[sess.ID] = a
	o.wg.Add(1)
	o.mu.Unlock()

	go a.run()
	a.logger.Info("session created", "job_id", job.ID, "candidate_id", candidate.ID, "questions", limits.QuestionCount)
	return out, nil
}

// Start generates the question set, moves the session to ONGOING and asks
// the first question. It returns once the first question has been published.
func (o *Orchestrator) Start(ctx context.Context, id string) (*types.InterviewSession, error) {
	reply := make(chan result[struct{}], 1)
	a, err := o.dispatch(ctx, id, func(a *actor) { a.start(reply) })
	if err != nil {
		return nil, err
	}
	if _, err := await(ctx, a, reply); err != nil {
		return nil, err
	}
	return o.Snapshot(ctx, id)
}

// CommitAnswer records answer for the current question, bridges to the next
// question and returns once the turn is appended. The last answer finalizes
// the session.
func (o *Orchestrator) CommitAnswer(ctx context.Context, id, answer string) (*TurnResult, error) {
	reply := make(chan result[*TurnResult], 1)
	a, err := o.dispatch(ctx, id, func(a *actor) { a.commit(answer, reply) })
	if err != nil {
		return nil, err
	}
	return await(ctx, a, reply)
}

// RecordIncomplete records partial as an incomplete answer to the current
// question and moves on without a bridge.
func (o *Orchestrator) RecordIncomplete(ctx context.Context, id, partial string) (*TurnResult, error) {
	reply := make(chan result[*TurnResult], 1)
	a, err := o.dispatch(ctx, id, func(a *actor) { a.recordIncomplete(partial, reply) })
	if err != nil {
		return nil, err
	}
	return await(ctx, a, reply)
}

// ReportSample feeds one sensor sample through the session's aggregator and
// returns the incidents it appended.
func (o *Orchestrator) ReportSample(ctx context.Context, id string, s proctor.Sample) ([]types.ProctoringLog, error) {
	reply := make(chan result[[]types.ProctoringLog], 1)
	a, err := o.dispatch(ctx, id, func(a *actor) { a.sample(s, reply) })
	if err != nil {
		return nil, err
	}
	return await(ctx, a, reply)
}

// ReportSensorUnavailable disables sensor for the rest of the session. The
// first report for a subscribed sensor appends one low-severity incident.
func (o *Orchestrator) ReportSensorUnavailable(ctx context.Context, id string, sensor proctor.Sensor, reason string) error {
	reply := make(chan result[struct{}], 1)
	a, err := o.dispatch(ctx, id, func(a *actor) { a.sensorUnavailable(sensor, reason, reply) })
	if err != nil {
		return err
	}
	_, err = await(ctx, a, reply)
	return err
}

// Sensors lists the sensors the host should capture for the session.
func (o *Orchestrator) Sensors(ctx context.Context, id string) ([]proctor.Sensor, error) {
	reply := make(chan result[[]proctor.Sensor], 1)
	a, err := o.dispatch(ctx, id, func(a *actor) {
		reply <- result[[]proctor.Sensor]{val: a.agg.Subscriptions()}
	})
	if err != nil {
		return nil, err
	}
	return await(ctx, a, reply)
}

// Pause moves an ONGOING session to PAUSED.
func (o *Orchestrator) Pause(ctx context.Context, id string) error {
	reply := make(chan result[struct{}], 1)
	a, err := o.dispatch(ctx, id, func(a *actor) { reply <- result[struct{}]{err: a.pause()} })
	if err != nil {
		return err
	}
	_, err = await(ctx, a, reply)
	return err
}

// Resume moves a PAUSED session back to ONGOING and repeats the current
// question.
func (o *Orchestrator) Resume(ctx context.Context, id string) error {
	reply := make(chan result[struct{}], 1)
	a, err := o.dispatch(ctx, id, func(a *actor) { reply <- result[struct{}]{err: a.resume()} })
	if err != nil {
		return err
	}
	_, err = await(ctx, a, reply)
	return err
}

// End finishes the session at the candidate's request. A non-empty partial
// answer is recorded as an incomplete response. It returns the finalized
// record.
func (o *Orchestrator) End(ctx context.Context, id, partial string) (*types.InterviewSession, error) {
	reply := make(chan result[struct{}], 1)
	a, err := o.dispatch(ctx, id, func(a *actor) { a.end(partial, reply) })
	if err != nil {
		return nil, err
	}
	if _, err := await(ctx, a, reply); err != nil {
		return nil, err
	}
	return o.waitFinal(ctx, a)
}

// AbruptEnd logs an abrupt_end incident and fails the session. The question
// being asked is recorded as incomplete, with any draft held for it. The
// caller decides when a disconnect has outlasted its grace window.
func (o *Orchestrator) AbruptEnd(ctx context.Context, id string) (*types.InterviewSession, error) {
	reply := make(chan result[struct{}], 1)
	a, err := o.dispatch(ctx, id, func(a *actor) { a.abrupt(reply) })
	if err != nil {
		return nil, err
	}
	if _, err := await(ctx, a, reply); err != nil {
		return nil, err
	}
	return o.waitFinal(ctx, a)
}

// HoldDraft keeps partial as the unsubmitted answer to the current question.
// A dropped connection hands its transcript buffer over here so that End or
// AbruptEnd can record it; the next recorded response clears it.
func (o *Orchestrator) HoldDraft(ctx context.Context, id, partial string) error {
	reply := make(chan result[struct{}], 1)
	a, err := o.dispatch(ctx, id, func(a *actor) { a.holdDraft(partial, reply) })
	if err != nil {
		return err
	}
	_, err = await(ctx, a, reply)
	return err
}

// Snapshot returns a deep copy of the session. Finished sessions are read
// from the store.
func (o *Orchestrator) Snapshot(ctx context.Context, id string) (*types.InterviewSession, error) {
	reply := make(chan result[*types.InterviewSession], 1)
	a, err := o.dispatch(ctx, id, func(a *actor) {
		reply <- result[*types.InterviewSession]{val: a.sess.Clone()}
	})
	if err == nil {
		if s, werr := await(ctx, a, reply); werr == nil {
			return s, nil
		} else if !errors.Is(werr, ErrEnded) {
			return nil, werr
		}
	} else if !errors.Is(err, ErrEnded) {
		return nil, err
	}
	if a != nil {
		if s, ok := a.finalRecord(); ok {
			return s, nil
		}
	}
	return o.store.GetSession(ctx, id)
}

// Close stops every session actor and waits for in-flight work to exit.
// Sessions that were not finalized stay in their last stored status.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	o.bus.Close()
	return nil
}

func (o *Orchestrator) lookup(ctx context.Context, id string) (*actor, error) {
	o.mu.Lock()
	a, ok := o.actors[id]
	closed := o.closed
	o.mu.Unlock()
	if ok {
		return a, nil
	}
	if closed {
		return nil, ErrClosed
	}
	if _, err := o.store.GetSession(ctx, id); err == nil {
		return nil, fmt.Errorf("session %s: %w", id, ErrEnded)
	}
	return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
}

func (o *Orchestrator) dispatch(ctx context.Context, id string, m message) (*actor, error) {
	a, err := o.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return a, a.post(ctx, m)
}

func (o *Orchestrator) release(a *actor) {
	o.mu.Lock()
	delete(o.actors, a.id)
	o.mu.Unlock()
	o.bus.CloseSession(a.id)
}

func (o *Orchestrator) waitFinal(ctx context.Context, a *actor) (*types.InterviewSession, error) {
	select {
	case <-a.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if s, ok := a.finalRecord(); ok {
		return s, nil
	}
	return o.store.GetSession(ctx, a.id)
}

type result[T any] struct {
	val T
	err error
}

func await[T any](ctx context.Context, a *actor, reply <-chan result[T]) (T, error) {
	var zero T
	select {
	case r := <-reply:
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-a.done:
		select {
		case r := <-reply:
			return r.val, r.err
		default:
		}
		return zero, fmt.Errorf("session %s: %w", a.id, ErrEnded)
	}
}
