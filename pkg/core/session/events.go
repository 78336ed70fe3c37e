package session

import (
	"time"

	"github.com/vango-go/vai-interview/pkg/core/proctor"
	"github.com/vango-go/vai-interview/pkg/core/types"
)

// Event is published by a session actor.
type Event interface {
	EventType() string
}

// Envelope wraps an event with the session it belongs to. Seq increases by
// one per event within a session.
type Envelope struct {
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	At        time.Time `json:"at"`
	Event     Event     `json:"event"`
}

// StatusChangedEvent is published on every status transition.
type StatusChangedEvent struct {
	From   types.SessionStatus     `json:"from"`
	To     types.SessionStatus     `json:"to"`
	Reason types.TerminationReason `json:"reason,omitempty"`
}

func (e *StatusChangedEvent) EventType() string { return "session.status_changed" }

// SensorsEvent lists the sensors the host must capture. It is published when
// the session starts and whenever a sensor is disabled.
type SensorsEvent struct {
	Sensors []proctor.Sensor `json:"sensors"`
}

func (e *SensorsEvent) EventType() string { return "session.sensors" }

// QuestionEvent asks the candidate the question at TurnIndex.
type QuestionEvent struct {
	TurnIndex int    `json:"turn_index"`
	Total     int    `json:"total"`
	Text      string `json:"text"`
}

func (e *QuestionEvent) EventType() string { return "session.question" }

// AcknowledgmentEvent carries the bridge spoken after an answer.
type AcknowledgmentEvent struct {
	TurnIndex int    `json:"turn_index"`
	Text      string `json:"text"`
}

func (e *AcknowledgmentEvent) EventType() string { return "session.acknowledgment" }

// ResponseRecordedEvent is published after a turn is appended.
type ResponseRecordedEvent struct {
	Response types.InterviewResponse `json:"response"`
}

func (e *ResponseRecordedEvent) EventType() string { return "session.response_recorded" }

// IncidentEvent is published for every appended proctoring incident.
type IncidentEvent struct {
	Log          types.ProctoringLog `json:"log"`
	WarningCount int                 `json:"warning_count"`
	MaxWarnings  int                 `json:"max_warnings"`
}

func (e *IncidentEvent) EventType() string { return "session.incident" }

// FinalizedEvent carries the finished record. It is the last event of a
// session.
type FinalizedEvent struct {
	Session *types.InterviewSession `json:"session"`
}

func (e *FinalizedEvent) EventType() string { return "session.finalized" }
