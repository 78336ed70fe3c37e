package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/vango-go/vai-interview/pkg/core/plan"
	"github.com/vango-go/vai-interview/pkg/core/session"
	"github.com/vango-go/vai-interview/pkg/core/types"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	mu       sync.Mutex
	failures int
	sent     []published
	attempts int
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.failures > 0 {
		f.failures--
		return errors.New("channel closed")
	}
	f.sent = append(f.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) snapshot() ([]published, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.sent...), f.attempts
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func finishedSession() *types.InterviewSession {
	score := 81
	end := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return &types.InterviewSession{
		ID:           "s1",
		JobID:        "job-1",
		CandidateID:  "cand-1",
		Plan:         plan.Pro,
		Status:       types.SessionCompleted,
		Termination:  types.ReasonCompleted,
		WarningCount: 1,
		OverallScore: &score,
		Evaluation:   &types.FinalEvaluation{OverallScore: 81, IsFit: true, Reasoning: "strong"},
		EndTime:      &end,
	}
}

func TestPublish_WritesPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	p := New(ch, "interview.sessions.finalized", WithLogger(quietLogger()))

	if err := p.Publish(context.Background(), finishedSession()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	sent, _ := ch.snapshot()
	if len(sent) != 1 {
		t.Fatalf("sent=%d, want 1", len(sent))
	}
	got := sent[0]
	if got.exchange != "" || got.key != "interview.sessions.finalized" {
		t.Fatalf("routed to %q/%q", got.exchange, got.key)
	}
	if got.msg.DeliveryMode != amqp.Persistent || got.msg.MessageId != "s1" || got.msg.Type != messageType {
		t.Fatalf("publishing=%+v", got.msg)
	}

	var body Message
	if err := json.Unmarshal(got.msg.Body, &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.SessionID != "s1" || body.Status != types.SessionCompleted || body.OverallScore == nil || *body.OverallScore != 81 {
		t.Fatalf("body=%+v", body)
	}
	if body.Evaluation == nil || !body.Evaluation.IsFit {
		t.Fatalf("evaluation=%+v", body.Evaluation)
	}
}

func TestPublish_RetriesThenGivesUp(t *testing.T) {
	ch := &fakeChannel{failures: 1}
	p := New(ch, "q", WithLogger(quietLogger()), WithRetry(2, time.Millisecond))
	if err := p.Publish(context.Background(), finishedSession()); err != nil {
		t.Fatalf("Publish after one failure: %v", err)
	}
	if _, attempts := ch.snapshot(); attempts != 2 {
		t.Fatalf("attempts=%d, want 2", attempts)
	}

	ch = &fakeChannel{failures: 10}
	p = New(ch, "q", WithLogger(quietLogger()), WithRetry(1, time.Millisecond))
	if err := p.Publish(context.Background(), finishedSession()); err == nil {
		t.Fatalf("expected error once retries are exhausted")
	}
	if _, attempts := ch.snapshot(); attempts != 2 {
		t.Fatalf("attempts=%d, want 2", attempts)
	}
}

func TestRun_PublishesOnlyFinalizedEvents(t *testing.T) {
	ch := &fakeChannel{}
	p := New(ch, "q", WithLogger(quietLogger()))

	events := make(chan session.Envelope, 4)
	events <- session.Envelope{SessionID: "s1", Event: &session.StatusChangedEvent{From: types.SessionOngoing, To: types.SessionCompleted}}
	events <- session.Envelope{SessionID: "s1", Event: &session.FinalizedEvent{Session: finishedSession()}}
	events <- session.Envelope{SessionID: "s2", Event: &session.FinalizedEvent{}}
	close(events)

	if err := p.Run(context.Background(), events); err != nil {
		t.Fatalf("Run: %v", err)
	}
	sent, _ := ch.snapshot()
	if len(sent) != 1 || sent[0].msg.MessageId != "s1" {
		t.Fatalf("sent=%+v, want only s1", sent)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close without a connection: %v", err)
	}
}
