package live

// Event is the interface for all turn controller events.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// StateChangedEvent is emitted when the controller state changes.
type StateChangedEvent struct {
	From TurnState `json:"from"`
	To   TurnState `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "turn.state_changed" }

// SpeechStartedEvent is emitted when interviewer speech begins.
type SpeechStartedEvent struct {
	Text string `json:"text"`
}

func (e *SpeechStartedEvent) EventType() string { return "speech.started" }

// SpeechFinishedEvent is emitted when interviewer speech ends, either played
// out or cancelled.
type SpeechFinishedEvent struct {
	Cancelled bool   `json:"cancelled,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (e *SpeechFinishedEvent) EventType() string { return "speech.finished" }

// TranscriptEvent carries the answer as currently recognized. Interim text is
// for display only.
type TranscriptEvent struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final,omitempty"`
}

func (e *TranscriptEvent) EventType() string { return "transcript.updated" }

// BargeInEvent is emitted when candidate speech cancels interviewer audio.
type BargeInEvent struct {
	Transcript string `json:"transcript"`
}

func (e *BargeInEvent) EventType() string { return "speech.barge_in" }

// TurnHeldEvent is emitted when silence elapsed but the answer is too short
// to auto-submit.
type TurnHeldEvent struct {
	Transcript string `json:"transcript"`
	MinLength  int    `json:"min_length"`
}

func (e *TurnHeldEvent) EventType() string { return "turn.held" }

// TurnCommittedEvent is emitted when an answer is committed.
type TurnCommittedEvent struct {
	Transcript string       `json:"transcript"`
	Reason     CommitReason `json:"reason"`
}

func (e *TurnCommittedEvent) EventType() string { return "turn.committed" }

// CommitReason records how an answer was committed.
type CommitReason string

const (
	CommitSilence  CommitReason = "silence"
	CommitExplicit CommitReason = "explicit"
)

// Turn is a committed answer.
type Turn struct {
	Transcript string
	Reason     CommitReason
}
