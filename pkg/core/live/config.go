package live

import "time"

// TurnState represents the current state of the speech turn controller.
type TurnState int

const (
	// StateIdle is the initial state before the first question is spoken.
	StateIdle TurnState = iota
	// StateAISpeaking is when interviewer audio is being synthesized or played.
	StateAISpeaking
	// StateListening is when the candidate's answer is being captured.
	StateListening
	// StateProcessing is when a committed answer is with the conversation engine.
	StateProcessing
	// StateEnded is terminal.
	StateEnded
)

// String returns a human-readable state name.
func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAISpeaking:
		return "AI_SPEAKING"
	case StateListening:
		return "LISTENING"
	case StateProcessing:
		return "PROCESSING"
	case StateEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON.
func (s TurnState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TurnConfig configures silence detection and barge-in.
type TurnConfig struct {
	// SilenceTimeout is how long after the last transcript update an answer
	// is auto-submitted.
	// Default: 4s
	SilenceTimeout time.Duration `json:"silence_timeout"`

	// MinAutoSubmitLength is the minimum answer length, in characters, for a
	// silence auto-submit. Shorter answers are held.
	// Default: 3
	MinAutoSubmitLength int `json:"min_auto_submit_length"`

	// InterruptionThreshold is the word count at which candidate speech during
	// interviewer audio is treated as a barge-in.
	// Default: 3
	InterruptionThreshold int `json:"interruption_threshold"`

	// TickInterval is how often the silence timer is checked.
	// Default: 200ms
	TickInterval time.Duration `json:"tick_interval"`
}

// DefaultTurnConfig returns a TurnConfig with sensible defaults.
func DefaultTurnConfig() TurnConfig {
	return TurnConfig{
		SilenceTimeout:        4000 * time.Millisecond,
		MinAutoSubmitLength:   3,
		InterruptionThreshold: 3,
		TickInterval:          200 * time.Millisecond,
	}
}

func (c TurnConfig) withDefaults() TurnConfig {
	def := DefaultTurnConfig()
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = def.SilenceTimeout
	}
	if c.MinAutoSubmitLength < 0 {
		c.MinAutoSubmitLength = def.MinAutoSubmitLength
	}
	if c.InterruptionThreshold <= 0 {
		c.InterruptionThreshold = def.InterruptionThreshold
	}
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	return c
}
