// Package outbox announces finished interviews on a RabbitMQ queue so
// downstream systems (ATS sync, notifications) can pick up the result.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/vango-go/vai-interview/pkg/core/session"
	"github.com/vango-go/vai-interview/pkg/core/types"
)

const messageType = "interview.session.finalized"

// Channel is the part of an AMQP channel the publisher uses.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Message is the JSON body published for every finalized session.
type Message struct {
	SessionID    string                  `json:"session_id"`
	JobID        string                  `json:"job_id"`
	CandidateID  string                  `json:"candidate_id"`
	Plan         string                  `json:"plan"`
	Status       types.SessionStatus     `json:"status"`
	Termination  types.TerminationReason `json:"termination_reason,omitempty"`
	IsFlagged    bool                    `json:"is_flagged"`
	WarningCount int                     `json:"warning_count"`
	OverallScore *int                    `json:"overall_score,omitempty"`
	Evaluation   *types.FinalEvaluation  `json:"evaluation,omitempty"`
	EndTime      *time.Time              `json:"end_time,omitempty"`
}

func messageFrom(s *types.InterviewSession) Message {
	return Message{
		SessionID:    s.ID,
		JobID:        s.JobID,
		CandidateID:  s.CandidateID,
		Plan:         string(s.Plan),
		Status:       s.Status,
		Termination:  s.Termination,
		IsFlagged:    s.IsFlagged,
		WarningCount: s.WarningCount,
		OverallScore: s.OverallScore,
		Evaluation:   s.Evaluation,
		EndTime:      s.EndTime,
	}
}

type Publisher struct {
	ch      Channel
	queue   string
	logger  *slog.Logger
	timeout time.Duration
	retries int
	backoff time.Duration
	closer  func() error
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRetry sets how many extra attempts a failed publish gets and the
// pause before the first retry. The pause doubles each attempt.
func WithRetry(retries int, backoff time.Duration) Option {
	return func(p *Publisher) {
		if retries >= 0 {
			p.retries = retries
		}
		if backoff > 0 {
			p.backoff = backoff
		}
	}
}

// New publishes to queue through ch on the default exchange.
func New(ch Channel, queue string, opts ...Option) *Publisher {
	p := &Publisher{
		ch:      ch,
		queue:   queue,
		logger:  slog.Default(),
		timeout: 5 * time.Second,
		retries: 2,
		backoff: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Dial connects to the broker and declares a durable queue.
func Dial(url, queue string, opts ...Option) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	q, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	p := New(ch, q.Name, opts...)
	p.closer = func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return p, nil
}

func (p *Publisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

// Publish sends one finalized session.
func (p *Publisher) Publish(ctx context.Context, s *types.InterviewSession) error {
	body, err := json.Marshal(messageFrom(s))
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    s.ID,
		Type:         messageType,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	wait := p.backoff
	for attempt := 0; ; attempt++ {
		pubCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err = p.ch.PublishWithContext(pubCtx, "", p.queue, false, false, msg)
		cancel()
		if err == nil {
			return nil
		}
		if attempt >= p.retries {
			return fmt.Errorf("publish session %s: %w", s.ID, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("publish session %s: %w", s.ID, ctx.Err())
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// Run publishes every finalized session seen on events until the channel
// closes or ctx is done. Publish failures are logged and skipped; the store
// keeps the authoritative record.
func (p *Publisher) Run(ctx context.Context, events <-chan session.Envelope) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env, ok := <-events:
			if !ok {
				return nil
			}
			ev, isFinal := env.Event.(*session.FinalizedEvent)
			if !isFinal || ev.Session == nil {
				continue
			}
			if err := p.Publish(ctx, ev.Session); err != nil {
				p.logger.Error("failed to publish finalized session", "session_id", env.SessionID, "queue", p.queue, "error", err)
				continue
			}
			p.logger.Debug("finalized session published", "session_id", env.SessionID, "queue", p.queue)
		}
	}
}
