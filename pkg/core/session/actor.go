package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vango-go/vai-interview/pkg/core/conversation"
	"github.com/vango-go/vai-interview/pkg/core/proctor"
	"github.com/vango-go/vai-interview/pkg/core/types"
)

type phase int

const (
	phasePending phase = iota
	phaseGenerating
	phaseAsking
	phaseBridging
	phaseEvaluating
	phaseDone
)

type message func(*actor)

type pendingTurn struct {
	index    int
	question string
	answer   string
	at       time.Time
}

// actor is the single writer of one InterviewSession. Every field below the
// mailbox is touched only by run and the messages it executes.
type actor struct {
	o      *Orchestrator
	id     string
	logger *slog.Logger

	inbox chan message
	done  chan struct{}

	sess      *types.InterviewSession
	job       types.JobPosting
	candidate types.Candidate
	agg       *proctor.Aggregator

	phase      phase
	turn       int
	pending    *pendingTurn
	draft      string
	callCancel context.CancelFunc
	gen        uint64
	seq        uint64

	startReply chan<- result[struct{}]
	turnReply  chan<- result[*TurnResult]

	final *types.InterviewSession
}

func newActor(o *Orchestrator, sess *types.InterviewSession, job types.JobPosting, candidate types.Candidate) *actor {
	return &actor{
		o:         o,
		id:        sess.ID,
		logger:    o.logger.With("session_id", sess.ID, "plan", string(sess.Plan)),
		inbox:     make(chan message, o.cfg.MailboxSize),
		done:      make(chan struct{}),
		sess:      sess,
		job:       job,
		candidate: candidate,
		agg:       proctor.New(sess.Limits, o.cfg.Proctor),
	}
}

func (a *actor) run() {
	defer a.o.wg.Done()
	defer a.o.release(a)
	defer close(a.done)

	for {
		select {
		case m := <-a.inbox:
			m(a)
			if a.phase == phaseDone {
				return
			}
		case <-a.o.ctx.Done():
			a.abandon()
			return
		}
	}
}

func (a *actor) post(ctx context.Context, m message) error {
	select {
	case a.inbox <- m:
		return nil
	case <-a.done:
		return fmt.Errorf("session %s: %w", a.id, ErrEnded)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *actor) finalRecord() (*types.InterviewSession, bool) {
	select {
	case <-a.done:
	default:
		return nil, false
	}
	if a.final == nil {
		return nil, false
	}
	return a.final.Clone(), true
}

// launch runs fn off the loop and feeds its result back through the mailbox.
// Results of a call superseded by cancelCall or a later launch are dropped.
func (a *actor) launch(timeout time.Duration, fn func(ctx context.Context) message) {
	a.cancelCall()
	gen := a.gen

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(a.o.ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(a.o.ctx)
	}
	a.callCancel = cancel

	a.o.wg.Add(1)
	go func() {
		defer a.o.wg.Done()
		defer cancel()
		next := fn(ctx)
		deliver := func(a *actor) {
			if a.gen != gen {
				return
			}
			a.callCancel = nil
			next(a)
		}
		select {
		case a.inbox <- deliver:
		case <-a.done:
		}
	}()
}

func (a *actor) cancelCall() {
	a.gen++
	if a.callCancel != nil {
		a.callCancel()
		a.callCancel = nil
	}
}

func (a *actor) emit(ev Event) {
	a.seq++
	a.o.bus.Publish(Envelope{SessionID: a.id, Seq: a.seq, At: a.o.now(), Event: ev})
}

// write persists one change. The in-memory aggregate stays authoritative
// when the store fails.
func (a *actor) write(op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.o.cfg.StoreTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		a.logger.Error("session store write failed", "op", op, "error", err)
	}
}

func (a *actor) ended() bool {
	return a.phase >= phaseEvaluating || a.sess.Status.Terminal()
}

func (a *actor) transition(to types.SessionStatus, u StatusUpdate) error {
	from := a.sess.Status
	u.Status = to
	if err := ApplyStatusUpdate(a.sess, u); err != nil {
		return fmt.Errorf("%s -> %s: %w", from, to, err)
	}
	a.write("update_status", func(ctx context.Context) error {
		return a.o.store.UpdateStatus(ctx, a.id, u)
	})
	if from != to {
		a.emit(&StatusChangedEvent{From: from, To: to, Reason: u.Termination})
		a.logger.Info("session status changed", "from", string(from), "to", string(to), "reason", string(u.Termination))
	}
	return nil
}

func (a *actor) replyStart(err error) {
	if a.startReply != nil {
		a.startReply <- result[struct{}]{err: err}
		a.startReply = nil
	}
}

func (a *actor) replyTurn(res *TurnResult, err error) {
	if a.turnReply != nil {
		a.turnReply <- result[*TurnResult]{val: res, err: err}
		a.turnReply = nil
	}
}

func (a *actor) start(reply chan<- result[struct{}]) {
	if a.ended() {
		reply <- result[struct{}]{err: ErrEnded}
		return
	}
	if a.sess.Status != types.SessionPending || a.phase != phasePending {
		reply <- result[struct{}]{err: fmt.Errorf("start from %s: %w", a.sess.Status, ErrInvalidTransition)}
		return
	}
	if !a.job.InWindow(a.o.now()) {
		reply <- result[struct{}]{err: ErrOutsideWindow}
		return
	}

	a.phase = phaseGenerating
	a.startReply = reply
	role, resume, limits := a.job.Role, a.candidate.ResumeText, a.sess.Limits
	conv := a.o.conv
	a.launch(0, func(ctx context.Context) message {
		questions := conv.GenerateQuestions(ctx, role, resume, limits)
		return func(a *actor) { a.questionsReady(questions) }
	})
}

func (a *actor) questionsReady(questions []string) {
	if len(questions) == 0 {
		questions = conversation.FallbackQuestions()
	}
	now := a.o.now()
	if err := a.transition(types.SessionOngoing, StatusUpdate{StartTime: &now, Questions: questions}); err != nil {
		a.phase = phasePending
		a.replyStart(err)
		return
	}
	a.emit(&SensorsEvent{Sensors: a.agg.Subscriptions()})
	a.ask(0)
	a.replyStart(nil)
}

func (a *actor) ask(i int) {
	a.turn = i
	a.phase = phaseAsking
	a.emit(&QuestionEvent{TurnIndex: i, Total: len(a.sess.Questions), Text: a.sess.Questions[i]})
}

func (a *actor) acceptingAnswers() error {
	switch {
	case a.ended():
		return ErrEnded
	case a.sess.Status != types.SessionOngoing:
		return fmt.Errorf("%w: status %s", ErrNotActive, a.sess.Status)
	case a.phase == phaseBridging:
		return ErrTurnInProgress
	case a.phase != phaseAsking:
		return ErrNotActive
	}
	return nil
}

func (a *actor) commit(answer string, reply chan<- result[*TurnResult]) {
	if err := a.acceptingAnswers(); err != nil {
		reply <- result[*TurnResult]{err: err}
		return
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		reply <- result[*TurnResult]{err: ErrEmptyAnswer}
		return
	}

	p := &pendingTurn{index: a.turn, question: a.sess.Questions[a.turn], answer: answer, at: a.o.now()}
	a.pending = p
	a.phase = phaseBridging
	a.turnReply = reply

	limits := a.sess.Limits
	conv := a.o.conv
	a.launch(0, func(ctx context.Context) message {
		var (
			ack    string
			scores conversation.AnswerScores
			scored bool
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			ack = conv.Bridge(gctx, p.question, p.answer, limits)
			return nil
		})
		g.Go(func() error {
			scores, scored = conv.ScoreAnswer(gctx, p.question, p.answer, limits)
			return nil
		})
		_ = g.Wait()
		return func(a *actor) { a.turnReady(ack, scores, scored) }
	})
}

func (a *actor) turnReady(ack string, scores conversation.AnswerScores, scored bool) {
	p := a.pending
	if p == nil {
		return
	}
	a.pending = nil

	resp := responseFor(p, ack, scores, scored, false)
	a.appendResponse(resp)
	if ack != "" {
		a.emit(&AcknowledgmentEvent{TurnIndex: p.index, Text: ack})
	}
	res := &TurnResult{Response: resp, Acknowledgment: ack}
	a.advance(res)
	a.replyTurn(res, nil)
	if res.Done {
		a.finish(types.SessionCompleted, types.ReasonCompleted, false)
	}
}

func (a *actor) recordIncomplete(partial string, reply chan<- result[*TurnResult]) {
	if err := a.acceptingAnswers(); err != nil {
		reply <- result[*TurnResult]{err: err}
		return
	}
	p := &pendingTurn{index: a.turn, question: a.sess.Questions[a.turn], answer: strings.TrimSpace(partial), at: a.o.now()}
	resp := responseFor(p, "", conversation.AnswerScores{}, false, true)
	a.appendResponse(resp)
	res := &TurnResult{Response: resp}
	a.advance(res)
	reply <- result[*TurnResult]{val: res}
	if res.Done {
		a.finish(types.SessionCompleted, types.ReasonCompleted, false)
	}
}

// advance asks the next question, or marks res done after the last one.
func (a *actor) advance(res *TurnResult) {
	next := res.Response.TurnIndex + 1
	if next < len(a.sess.Questions) {
		a.ask(next)
		res.NextIndex = next
		res.NextQuestion = a.sess.Questions[next]
		return
	}
	res.Done = true
}

func responseFor(p *pendingTurn, ack string, scores conversation.AnswerScores, scored, incomplete bool) types.InterviewResponse {
	r := types.InterviewResponse{
		TurnIndex:        p.index,
		QuestionText:     p.question,
		CandidateAnswer:  p.answer,
		AIAcknowledgment: ack,
		Incomplete:       incomplete,
		Timestamp:        p.at,
	}
	if scored {
		tech, comm, overfit := scores.Tech, scores.Comm, scores.Overfit
		r.TechScore = &tech
		r.CommScore = &comm
		r.OverfitScore = &overfit
		r.AIFlagged = scores.AIFlagged
	}
	return r
}

func (a *actor) appendResponse(r types.InterviewResponse) {
	if err := ApplyResponse(a.sess, r); err != nil {
		a.logger.Error("response rejected", "turn", r.TurnIndex, "error", err)
		return
	}
	a.draft = ""
	a.write("append_response", func(ctx context.Context) error {
		return a.o.store.AppendResponse(ctx, a.id, r)
	})
	a.emit(&ResponseRecordedEvent{Response: r.Clone()})
}

func (a *actor) sample(s proctor.Sample, reply chan<- result[[]types.ProctoringLog]) {
	if a.ended() {
		reply <- result[[]types.ProctoringLog]{err: ErrEnded}
		return
	}
	if a.sess.Status != types.SessionOngoing {
		reply <- result[[]types.ProctoringLog]{err: fmt.Errorf("%w: status %s", ErrNotActive, a.sess.Status)}
		return
	}
	incidents, err := a.agg.Observe(s)
	if err != nil {
		reply <- result[[]types.ProctoringLog]{err: err}
		return
	}
	logs := make([]types.ProctoringLog, 0, len(incidents))
	for _, inc := range incidents {
		if a.ended() {
			break
		}
		logs = append(logs, a.recordIncident(inc, true))
	}
	reply <- result[[]types.ProctoringLog]{val: logs}
}

func (a *actor) sensorUnavailable(sensor proctor.Sensor, reason string, reply chan<- result[struct{}]) {
	if a.ended() {
		reply <- result[struct{}]{err: ErrEnded}
		return
	}
	inc, ok := a.agg.SensorUnavailable(sensor, reason, a.o.now())
	if ok {
		a.logger.Warn("proctoring sensor disabled", "sensor", string(sensor), "reason", reason)
		a.recordIncident(inc, true)
		if !a.ended() {
			a.emit(&SensorsEvent{Sensors: a.agg.Subscriptions()})
		}
	}
	reply <- result[struct{}]{}
}

// recordIncident appends one incident and, when enforce is set, applies the
// termination predicate.
func (a *actor) recordIncident(inc proctor.Incident, enforce bool) types.ProctoringLog {
	log := inc.Log(a.o.newID())
	if err := ApplyIncident(a.sess, log); err != nil {
		a.logger.Error("incident rejected", "type", string(log.Type), "error", err)
		return log
	}
	a.write("append_incident", func(ctx context.Context) error {
		return a.o.store.AppendIncident(ctx, a.id, log)
	})
	a.emit(&IncidentEvent{Log: log, WarningCount: a.sess.WarningCount, MaxWarnings: a.sess.Limits.MaxWarnings})
	a.logger.Info("proctoring incident",
		"type", string(log.Type),
		"severity", string(log.Severity),
		"warnings", a.sess.WarningCount,
		"high_severity", a.sess.HighSeverityCount,
	)
	if enforce {
		a.enforce()
	}
	return log
}

func (a *actor) enforce() {
	switch {
	case a.sess.WarningCount > a.sess.Limits.MaxWarnings:
		a.finish(types.SessionFailed, types.ReasonWarningsExceeded, true)
	case a.o.cfg.HighSeverityThreshold > 0 && a.sess.HighSeverityCount >= a.o.cfg.HighSeverityThreshold:
		a.finish(types.SessionFailed, types.ReasonHighSeverity, true)
	}
}

func (a *actor) pause() error {
	if a.ended() {
		return ErrEnded
	}
	if a.sess.Status != types.SessionOngoing {
		return fmt.Errorf("pause from %s: %w", a.sess.Status, ErrInvalidTransition)
	}
	return a.transition(types.SessionPaused, StatusUpdate{})
}

func (a *actor) resume() error {
	if a.ended() {
		return ErrEnded
	}
	if a.sess.Status != types.SessionPaused {
		return fmt.Errorf("resume from %s: %w", a.sess.Status, ErrInvalidTransition)
	}
	if err := a.transition(types.SessionOngoing, StatusUpdate{}); err != nil {
		return err
	}
	if a.phase == phaseAsking {
		a.ask(a.turn)
	}
	return nil
}

func (a *actor) end(partial string, reply chan<- result[struct{}]) {
	if a.ended() {
		reply <- result[struct{}]{err: ErrEnded}
		return
	}
	if a.sess.Status == types.SessionPending {
		a.finish(types.SessionFailed, types.ReasonEndedByCandidate, false)
		reply <- result[struct{}]{}
		return
	}
	if partial = strings.TrimSpace(partial); partial == "" {
		partial = a.draft
	}
	a.closeOpenTurn(partial)
	a.finish(types.SessionCompleted, types.ReasonEndedByCandidate, false)
	reply <- result[struct{}]{}
}

func (a *actor) abrupt(reply chan<- result[struct{}]) {
	if a.ended() {
		reply <- result[struct{}]{err: ErrEnded}
		return
	}
	a.closeOpenTurn(a.draft)
	a.recordIncident(proctor.Incident{
		At:       a.o.now(),
		Type:     types.IncidentAbruptEnd,
		Severity: types.SeverityHigh,
		Detail:   "connection lost beyond reconnect grace window",
	}, false)
	a.finish(types.SessionFailed, types.ReasonAbruptEnd, false)
	reply <- result[struct{}]{}
}

// closeOpenTurn records the question being asked as an incomplete response.
// The answer may be empty: the transcript still shows where the session
// stopped.
func (a *actor) closeOpenTurn(partial string) {
	if a.phase != phaseAsking || a.turn >= len(a.sess.Questions) {
		return
	}
	p := &pendingTurn{index: a.turn, question: a.sess.Questions[a.turn], answer: strings.TrimSpace(partial), at: a.o.now()}
	a.appendResponse(responseFor(p, "", conversation.AnswerScores{}, false, true))
}

// holdDraft keeps the unsubmitted answer of a dropped connection so that an
// abrupt end can record it.
func (a *actor) holdDraft(partial string, reply chan<- result[struct{}]) {
	if a.ended() {
		reply <- result[struct{}]{err: ErrEnded}
		return
	}
	if a.phase == phaseAsking {
		a.draft = strings.TrimSpace(partial)
	}
	reply <- result[struct{}]{}
}

// finish moves the session to a terminal status, cancels in-flight calls and
// requests the final evaluation on whatever transcript exists.
func (a *actor) finish(to types.SessionStatus, reason types.TerminationReason, flagged bool) {
	if a.phase >= phaseEvaluating {
		return
	}
	a.cancelCall()

	if p := a.pending; p != nil {
		a.pending = nil
		resp := responseFor(p, "", conversation.AnswerScores{}, false, false)
		a.appendResponse(resp)
		a.replyTurn(&TurnResult{Response: resp, Done: true}, nil)
	}
	a.replyStart(fmt.Errorf("session ended before the first question: %w", ErrEnded))

	if to == types.SessionCompleted {
		switch a.sess.Status {
		case types.SessionPending:
			to = types.SessionFailed
		case types.SessionPaused:
			_ = a.transition(types.SessionOngoing, StatusUpdate{})
		}
	}
	if err := a.transition(to, StatusUpdate{IsFlagged: flagged, Termination: reason}); err != nil {
		a.logger.Error("terminal transition rejected", "error", err)
	}
	a.phase = phaseEvaluating

	in := conversation.EvaluationInput{
		Role:       a.job.Role,
		ResumeText: a.candidate.ResumeText,
		Transcript: a.sess.Transcript(),
		Incidents:  append([]types.ProctoringLog(nil), a.sess.ProctoringLogs...),
		Limits:     a.sess.Limits,
	}
	conv := a.o.conv
	a.launch(a.o.cfg.EvaluationTimeout, func(ctx context.Context) message {
		ev := conv.Evaluate(ctx, in)
		return func(a *actor) { a.finalize(ev) }
	})
}

func (a *actor) finalize(ev types.FinalEvaluation) {
	rec := FinalRecord{
		EndTime:      a.o.now(),
		Evaluation:   ev,
		OverallScore: types.ClampScore(ev.OverallScore),
	}
	if err := ApplyFinal(a.sess, rec); err != nil {
		a.logger.Error("final record rejected", "error", err)
	}
	a.write("finalize", func(ctx context.Context) error {
		return a.o.store.Finalize(ctx, a.id, rec)
	})
	a.phase = phaseDone
	a.final = a.sess.Clone()
	a.emit(&FinalizedEvent{Session: a.sess.Clone()})
	a.logger.Info("session finalized",
		"status", string(a.sess.Status),
		"reason", string(a.sess.Termination),
		"score", rec.OverallScore,
		"responses", len(a.sess.Responses),
		"warnings", a.sess.WarningCount,
		"flagged", a.sess.IsFlagged,
	)
}

func (a *actor) abandon() {
	a.cancelCall()
	a.replyStart(ErrClosed)
	a.replyTurn(nil, ErrClosed)
	if !a.sess.Status.Terminal() || a.phase < phaseDone {
		a.logger.Warn("session abandoned at shutdown", "status", string(a.sess.Status), "turn", a.turn)
	}
}
