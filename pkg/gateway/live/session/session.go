package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-interview/pkg/core/live"
	"github.com/vango-go/vai-interview/pkg/core/proctor"
	orch "github.com/vango-go/vai-interview/pkg/core/session"
	"github.com/vango-go/vai-interview/pkg/core/types"
	"github.com/vango-go/vai-interview/pkg/gateway/apierror"
	"github.com/vango-go/vai-interview/pkg/gateway/live/protocol"
)

const (
	outboundPriorityQueueSize = 8
	maxCanceledSpeechIDs      = 64
)

var errBackpressure = errors.New("live outbound backpressure")

// Orchestrator is the part of *session.Orchestrator a live connection drives.
type Orchestrator interface {
	Subscribe(id string) (<-chan orch.Envelope, func())
	Snapshot(ctx context.Context, id string) (*types.InterviewSession, error)
	Sensors(ctx context.Context, id string) ([]proctor.Sensor, error)
	Start(ctx context.Context, id string) (*types.InterviewSession, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	CommitAnswer(ctx context.Context, id, answer string) (*orch.TurnResult, error)
	ReportSample(ctx context.Context, id string, s proctor.Sample) ([]types.ProctoringLog, error)
	ReportSensorUnavailable(ctx context.Context, id string, sensor proctor.Sensor, reason string) error
	End(ctx context.Context, id, partial string) (*types.InterviewSession, error)
	HoldDraft(ctx context.Context, id, partial string) error
}

type Config struct {
	MaxJSONMessageBytes int64
	SamplesPerSecond    float64
	SampleBurst         int
	PingInterval        time.Duration
	WriteTimeout        time.Duration
	ReadTimeout         time.Duration
	// MaxSpeechDuration bounds how long a speak frame waits for playback_done
	// before the turn moves on to listening.
	// Default: 90s
	MaxSpeechDuration time.Duration
	// ReconnectGrace is advertised in hello_ack; the handler enforces it.
	ReconnectGrace    time.Duration
	OutboundQueueSize int
	Turn              live.TurnConfig
}

type Dependencies struct {
	Conn         *websocket.Conn
	Logger       *slog.Logger
	Orchestrator Orchestrator
	Hello        protocol.ClientHello
	SessionID    string
	RequestID    string
	Config       Config
	Now          func() time.Time
}

// Outcome is how a live connection ended.
type Outcome int

const (
	// OutcomeEnded means the session was finalized.
	OutcomeEnded Outcome = iota
	// OutcomeDisconnected means the client went away mid-session.
	OutcomeDisconnected
	// OutcomeCancelled means the server closed the connection: shutdown or a
	// newer connection for the same session.
	OutcomeCancelled
	// OutcomeRejected means the session could not be run on this connection.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEnded:
		return "ended"
	case OutcomeDisconnected:
		return "disconnected"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// LiveSession bridges one WebSocket connection to an interview session: it
// voices questions through the client, turns transcripts into committed
// answers and forwards sensor samples and session events.
type LiveSession struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	orch      Orchestrator
	hello     protocol.ClientHello
	sessionID string
	requestID string
	cfg       Config
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	speechCounter atomic.Int64
	playbackMu    sync.Mutex
	playback      map[string]chan struct{}
	canceledMu    sync.Mutex
	canceled      canceledSpeechState

	commitCh chan live.Turn
}

type outboundFrame struct {
	speechID string
	payload  []byte
}

type canceledSpeechState struct {
	set   map[string]struct{}
	order []string
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

type kickoffResult struct {
	err error
}

type turnResult struct {
	answer string
	err    error
}

func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if strings.TrimSpace(deps.SessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	s := newLiveSession(deps)
	s.conn = deps.Conn
	return s, nil
}

func newLiveSession(deps Dependencies) *LiveSession {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Config.MaxSpeechDuration <= 0 {
		deps.Config.MaxSpeechDuration = 90 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &LiveSession{
		logger:           deps.Logger.With("session_id", deps.SessionID),
		orch:             deps.Orchestrator,
		hello:            deps.Hello,
		sessionID:        deps.SessionID,
		requestID:        deps.RequestID,
		cfg:              deps.Config,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, max(1, min(deps.Config.OutboundQueueSize, outboundPriorityQueueSize))),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		playback:         make(map[string]chan struct{}),
		canceled:         canceledSpeechState{set: make(map[string]struct{})},
		commitCh:         make(chan live.Turn, 1),
	}
}

// Run serves the connection until the session is finalized, the client
// disconnects or Cancel is called. The hello frame has already been read.
func (s *LiveSession) Run() (Outcome, error) {
	defer s.cancel()

	if s.cfg.MaxJSONMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxJSONMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := newFrameWriter(s.ctx, s.conn, s.cfg, s.outboundPriority, s.outboundNormal, s.isSpeechCanceled)
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	s.logger.Info("live session connected",
		"request_id", s.requestID,
		"client", s.hello.Client.Name,
		"platform", s.hello.Client.Platform,
	)
	outcome, err := s.serve(readCh, writerErrCh)
	if outcome == OutcomeEnded || outcome == OutcomeRejected {
		s.drainNormal()
	}

	s.cancel()
	wait := 100 * time.Millisecond
	if s.cfg.WriteTimeout > 0 && s.cfg.WriteTimeout < wait {
		wait = s.cfg.WriteTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-writerErrCh:
	case <-timer.C:
	}
	return outcome, err
}

// drainNormal gives the writer a bounded chance to send queued events before
// the connection closes.
func (s *LiveSession) drainNormal() {
	wait := s.cfg.WriteTimeout
	if wait <= 0 {
		wait = time.Second
	}
	deadline := time.Now().Add(wait)
	for len(s.outboundNormal) > 0 && time.Now().Before(deadline) {
		select {
		case <-s.ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// serve is the connection's event loop. It owns the turn controller, the
// pending acknowledgment and the decision of how the connection ends.
func (s *LiveSession) serve(readCh <-chan inboundFrame, writerErrCh <-chan error) (outcome Outcome, err error) {
	events, unsubscribe := s.orch.Subscribe(s.sessionID)
	defer unsubscribe()

	snap, err := s.orch.Snapshot(s.ctx, s.sessionID)
	if err != nil {
		_ = s.sendError("session", err, true)
		return OutcomeRejected, err
	}
	if snap.Status.Terminal() {
		_ = s.sendSessionError("session_ended", "session has already ended", true, map[string]any{"status": string(snap.Status)})
		return OutcomeRejected, nil
	}

	sensors, err := s.orch.Sensors(s.ctx, s.sessionID)
	if err != nil {
		s.logger.Warn("sensor list unavailable", "error", err)
		sensors = []proctor.Sensor{}
	}
	if err := s.sendJSON(protocol.ServerHelloAck{
		Type:            "hello_ack",
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       s.sessionID,
		Resumed:         snap.Status != types.SessionPending,
		Sensors:         sensors,
		Limits: protocol.HelloAckLimits{
			MaxJSONMessageBytes: s.cfg.MaxJSONMessageBytes,
			SamplesPerSecond:    s.cfg.SamplesPerSecond,
			SilenceTimeoutMS:    s.cfg.Turn.SilenceTimeout.Milliseconds(),
			MinAutoSubmitLength: s.cfg.Turn.MinAutoSubmitLength,
			ReconnectGraceMS:    s.cfg.ReconnectGrace.Milliseconds(),
		},
	}); err != nil {
		return OutcomeCancelled, err
	}

	controller := live.NewController(s.cfg.Turn, s,
		live.WithClock(s.now),
		live.WithLogger(s.logger),
		live.WithEventHandler(s.forwardTurnEvent),
		live.WithCommitHandler(s.queueCommit),
	)
	controller.Start(s.ctx)
	defer func() {
		pending, open := controller.End()
		controller.Wait()
		if outcome == OutcomeDisconnected && open && pending != "" {
			s.holdDraft(pending)
		}
	}()

	kickoffCh := make(chan kickoffResult, 1)
	go func() {
		kickoffCh <- kickoffResult{err: s.kickoff(snap.Status)}
	}()

	limiter := newSampleLimiter(s.now, s.cfg.SamplesPerSecond, s.cfg.SampleBurst)
	turnCh := make(chan turnResult, 1)
	endCh := make(chan error, 1)
	var (
		pendingAck string
		ending     bool
	)

	for {
		select {
		case <-s.ctx.Done():
			return OutcomeCancelled, nil

		case err, ok := <-writerErrCh:
			if ok && err != nil {
				s.logger.Info("live writer stopped", "error", err)
			}
			return OutcomeDisconnected, nil

		case res := <-kickoffCh:
			if res.err == nil {
				continue
			}
			switch {
			case errors.Is(res.err, orch.ErrOutsideWindow):
				_ = s.sendError("session", res.err, true)
				return OutcomeRejected, nil
			case errors.Is(res.err, orch.ErrEnded), errors.Is(res.err, context.Canceled):
				// The terminal events arrive on the bus.
			default:
				s.logger.Warn("session kickoff failed", "error", res.err)
				_ = s.sendError("session", res.err, true)
				return OutcomeRejected, res.err
			}

		case env, ok := <-events:
			if !ok {
				if ending {
					return OutcomeEnded, nil
				}
				return OutcomeCancelled, nil
			}
			if err := s.forwardSessionEvent(env); err != nil {
				s.logger.Warn("live outbound backpressure; closing", "error", err)
				return OutcomeDisconnected, err
			}
			switch ev := env.Event.(type) {
			case *orch.AcknowledgmentEvent:
				pendingAck = ev.Text
			case *orch.QuestionEvent:
				text := joinSpeech(pendingAck, ev.Text)
				pendingAck = ""
				if err := controller.Speak(s.ctx, text); err != nil && !errors.Is(err, live.ErrEnded) {
					s.logger.Warn("speak failed", "error", err)
				}
			case *orch.StatusChangedEvent:
				if !ev.To.Terminal() {
					continue
				}
				ending = true
				controller.End()
				if pendingAck != "" {
					_ = s.sendSpeech(s.nextSpeechID(), pendingAck)
					pendingAck = ""
				}
			case *orch.FinalizedEvent:
				return OutcomeEnded, nil
			}

		case turn := <-s.commitCh:
			go func(answer string) {
				_, err := s.orch.CommitAnswer(s.ctx, s.sessionID, answer)
				turnCh <- turnResult{answer: answer, err: err}
			}(turn.Transcript)

		case res := <-turnCh:
			if res.err == nil || ending {
				continue
			}
			if errors.Is(res.err, orch.ErrEnded) || errors.Is(res.err, context.Canceled) {
				continue
			}
			s.logger.Info("answer rejected", "error", res.err)
			_ = s.sendError("turn", res.err, false)
			if errors.Is(res.err, orch.ErrEmptyAnswer) || errors.Is(res.err, orch.ErrTurnInProgress) {
				_ = controller.Listen()
			}

		case err := <-endCh:
			if err != nil && !errors.Is(err, orch.ErrEnded) && !errors.Is(err, context.Canceled) {
				s.logger.Warn("end session failed", "error", err)
				_ = s.sendError("session", err, false)
				ending = false
			}

		case frame, ok := <-readCh:
			if !ok {
				return OutcomeDisconnected, nil
			}
			if frame.err != nil {
				if websocket.IsCloseError(frame.err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.logger.Info("live client closed", "code", closeCode(frame.err))
				} else {
					s.logger.Info("live read failed", "error", frame.err)
				}
				return OutcomeDisconnected, nil
			}
			if frame.messageType != websocket.TextMessage {
				_ = s.sendSessionError("bad_request", "binary frames are not supported", false, nil)
				continue
			}
			msg, err := protocol.DecodeClientMessage(frame.data)
			if err != nil {
				var de *protocol.DecodeError
				if errors.As(err, &de) {
					var details map[string]any
					if de.Param != "" {
						details = map[string]any{"param": de.Param}
					}
					_ = s.sendSessionError(de.Code, de.Message, false, details)
					continue
				}
				_ = s.sendSessionError("bad_request", "invalid frame", false, nil)
				continue
			}

			switch m := msg.(type) {
			case protocol.ClientHello:
				_ = s.sendSessionError("bad_request", "hello already received", false, nil)
			case protocol.ClientTranscript:
				controller.OnTranscript(m.Text, m.IsFinal)
			case protocol.ClientPlaybackDone:
				s.resolvePlayback(m.SpeechID)
			case protocol.ClientSubmit:
				if _, err := controller.Submit(); err != nil {
					code := "not_listening"
					if errors.Is(err, live.ErrNothingToSubmit) {
						code = "nothing_to_submit"
					}
					_ = s.sendJSON(protocol.ServerError{Type: "error", Scope: "turn", Code: code, Message: err.Error()})
				}
			case protocol.ClientSensorSample:
				ok, warn := limiter.Allow()
				if !ok {
					if warn {
						_ = s.sendWarning("samples_dropped", "sensor samples exceed the advertised rate; extra samples are dropped")
					}
					continue
				}
				if _, err := s.orch.ReportSample(s.ctx, s.sessionID, s.sampleFrom(m)); err != nil {
					if errors.Is(err, orch.ErrEnded) {
						continue
					}
					_ = s.sendError("sensor", err, false)
				}
			case protocol.ClientSensorUnavailable:
				if err := s.orch.ReportSensorUnavailable(s.ctx, s.sessionID, m.Sensor, m.Reason); err != nil && !errors.Is(err, orch.ErrEnded) {
					_ = s.sendError("sensor", err, false)
				}
			case protocol.ClientEnd:
				if ending {
					continue
				}
				ending = true
				pending, _ := controller.End()
				go func() {
					_, err := s.orch.End(s.ctx, s.sessionID, pending)
					endCh <- err
				}()
			}
		}
	}
}

// holdDraft leaves the unsubmitted answer with the orchestrator, which
// records it if the reconnect grace window runs out.
func (s *LiveSession) holdDraft(pending string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.orch.HoldDraft(ctx, s.sessionID, pending); err != nil && !errors.Is(err, orch.ErrEnded) {
		s.logger.Warn("could not keep unsubmitted answer", "error", err)
	}
}

// kickoff moves the session into a speaking state for this connection. A
// session that is already running is paused and resumed so the current
// question is asked again.
func (s *LiveSession) kickoff(status types.SessionStatus) error {
	switch status {
	case types.SessionPending:
		_, err := s.orch.Start(s.ctx, s.sessionID)
		return err
	case types.SessionOngoing:
		if err := s.orch.Pause(s.ctx, s.sessionID); err != nil && !errors.Is(err, orch.ErrInvalidTransition) {
			return err
		}
		return s.resume()
	case types.SessionPaused:
		return s.resume()
	default:
		return nil
	}
}

func (s *LiveSession) resume() error {
	err := s.orch.Resume(s.ctx, s.sessionID)
	if errors.Is(err, orch.ErrInvalidTransition) {
		return nil
	}
	return err
}

func (s *LiveSession) sampleFrom(m protocol.ClientSensorSample) proctor.Sample {
	at := s.now()
	if m.TimestampMS != nil {
		at = time.UnixMilli(*m.TimestampMS)
	}
	sample := proctor.Sample{At: at, Kind: m.Kind}
	if m.FaceCount != nil {
		sample.FaceCount = *m.FaceCount
	}
	if m.Yaw != nil {
		sample.Yaw = *m.Yaw
	}
	if m.Pitch != nil {
		sample.Pitch = *m.Pitch
	}
	return sample
}

// Speak implements live.Voice: the client voices the text and reports
// playback_done. It returns when playback finishes, ctx is cancelled or
// MaxSpeechDuration passes.
func (s *LiveSession) Speak(ctx context.Context, text string) error {
	id := s.nextSpeechID()
	done := s.registerPlayback(id)
	defer s.unregisterPlayback(id)

	if err := s.sendSpeech(id, text); err != nil {
		return err
	}

	timer := time.NewTimer(s.cfg.MaxSpeechDuration)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		s.logger.Debug("playback_done not received; listening", "speech_id", id)
		return nil
	case <-ctx.Done():
		s.cancelSpeech(id)
		if s.ctx.Err() == nil {
			_ = s.sendJSONPriority(protocol.ServerSpeakCancel{Type: "speak_cancel", SpeechID: id})
		}
		return ctx.Err()
	}
}

func (s *LiveSession) sendSpeech(id, text string) error {
	payload, err := json.Marshal(protocol.ServerSpeak{Type: "speak", SpeechID: id, Text: text})
	if err != nil {
		return err
	}
	return s.enqueueNormal(outboundFrame{speechID: id, payload: payload})
}

func (s *LiveSession) nextSpeechID() string {
	n := s.speechCounter.Add(1)
	return fmt.Sprintf("sp_%d", n)
}

func (s *LiveSession) registerPlayback(id string) <-chan struct{} {
	ch := make(chan struct{})
	s.playbackMu.Lock()
	s.playback[id] = ch
	s.playbackMu.Unlock()
	return ch
}

func (s *LiveSession) unregisterPlayback(id string) {
	s.playbackMu.Lock()
	delete(s.playback, id)
	s.playbackMu.Unlock()
}

// resolvePlayback reports whether a speech was waiting on id.
func (s *LiveSession) resolvePlayback(id string) bool {
	s.playbackMu.Lock()
	defer s.playbackMu.Unlock()
	id = strings.TrimSpace(id)
	ch, ok := s.playback[id]
	if !ok {
		return false
	}
	delete(s.playback, id)
	close(ch)
	return true
}

func (s *LiveSession) cancelSpeech(id string) {
	s.canceledMu.Lock()
	defer s.canceledMu.Unlock()
	if _, ok := s.canceled.set[id]; ok {
		return
	}
	s.canceled.set[id] = struct{}{}
	s.canceled.order = append(s.canceled.order, id)
	if len(s.canceled.order) > maxCanceledSpeechIDs {
		oldest := s.canceled.order[0]
		s.canceled.order = s.canceled.order[1:]
		delete(s.canceled.set, oldest)
	}
}

func (s *LiveSession) isSpeechCanceled(id string) bool {
	if id == "" {
		return false
	}
	s.canceledMu.Lock()
	defer s.canceledMu.Unlock()
	_, ok := s.canceled.set[id]
	return ok
}

func (s *LiveSession) forwardTurnEvent(ev live.Event) {
	_ = s.sendJSON(protocol.ServerTurnEvent{Type: "turn_event", Event: ev.EventType(), Data: ev})
}

// queueCommit hands a committed answer to the event loop. The controller
// commits at most one turn before the loop calls Speak or Listen again, so
// the buffered channel never fills in practice.
func (s *LiveSession) queueCommit(turn live.Turn) {
	select {
	case s.commitCh <- turn:
	default:
		s.logger.Warn("committed answer dropped; previous turn still queued")
	}
}

func (s *LiveSession) forwardSessionEvent(env orch.Envelope) error {
	msg := protocol.ServerSessionEvent{
		Type:  "session_event",
		Event: env.Event.EventType(),
		Seq:   env.Seq,
		Data:  env.Event,
	}
	if _, final := env.Event.(*orch.FinalizedEvent); final {
		return s.sendJSONPriority(msg)
	}
	return s.sendJSON(msg)
}

func (s *LiveSession) sendWarning(code, message string) error {
	return s.sendJSON(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
}

func (s *LiveSession) sendSessionError(code, message string, close bool, details map[string]any) error {
	msg := protocol.ServerError{Type: "error", Scope: "session", Code: code, Message: message, Close: close, Details: details}
	if close {
		return s.sendJSONPriority(msg)
	}
	return s.sendJSON(msg)
}

// sendError maps a domain error to a client error frame without leaking
// internal detail.
func (s *LiveSession) sendError(scope string, err error, close bool) error {
	ce, status := apierror.FromError(err, s.requestID)
	msg := protocol.ServerError{
		Type:      "error",
		Scope:     scope,
		Code:      ce.Code,
		Message:   ce.Message,
		Retryable: status >= 500,
		Close:     close,
	}
	if msg.Code == "" {
		msg.Code = string(ce.Type)
	}
	if close {
		return s.sendJSONPriority(msg)
	}
	return s.sendJSON(msg)
}

func (s *LiveSession) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueueNormal(outboundFrame{payload: payload})
}

func (s *LiveSession) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueuePriority(outboundFrame{payload: payload})
}

func (s *LiveSession) enqueueNormal(frame outboundFrame) error {
	select {
	case s.outboundNormal <- frame:
		return nil
	default:
		return errBackpressure
	}
}

func (s *LiveSession) enqueuePriority(frame outboundFrame) error {
	for i := 0; i < 4; i++ {
		select {
		case s.outboundPriority <- frame:
			return nil
		default:
		}
		select {
		case <-s.outboundPriority:
		default:
		}
	}
	select {
	case s.outboundPriority <- frame:
		return nil
	default:
		return errBackpressure
	}
}

func (s *LiveSession) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LiveSession) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

func (s *LiveSession) SendWarning(code, message string) error {
	if s == nil {
		return nil
	}
	return s.sendWarning(code, message)
}

func joinSpeech(ack, question string) string {
	ack = strings.TrimSpace(ack)
	question = strings.TrimSpace(question)
	switch {
	case ack == "":
		return question
	case question == "":
		return ack
	default:
		return ack + " " + question
	}
}

func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}
