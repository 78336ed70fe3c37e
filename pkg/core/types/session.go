package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/vango-go/vai-interview/pkg/core/plan"
)

// SessionStatus is the lifecycle state of an interview session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "PENDING"
	SessionOngoing   SessionStatus = "ONGOING"
	SessionPaused    SessionStatus = "PAUSED"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionFailed    SessionStatus = "FAILED"
)

// ParseSessionStatus rejects anything outside the closed status set.
func ParseSessionStatus(s string) (SessionStatus, error) {
	switch st := SessionStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case SessionPending, SessionOngoing, SessionPaused, SessionCompleted, SessionFailed:
		return st, nil
	default:
		return "", fmt.Errorf("unknown session status %q", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SessionStatus) UnmarshalText(b []byte) error {
	st, err := ParseSessionStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Terminal reports whether no further transitions are possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// CanTransition reports whether s may move to next. Transitions only go
// forward, except ONGOING and PAUSED which may alternate.
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	switch s {
	case SessionPending:
		return next == SessionOngoing || next == SessionFailed
	case SessionOngoing:
		return next == SessionPaused || next == SessionCompleted || next == SessionFailed
	case SessionPaused:
		return next == SessionOngoing || next == SessionFailed
	default:
		return false
	}
}

// TerminationReason records why a session reached a terminal state.
type TerminationReason string

const (
	ReasonNone             TerminationReason = ""
	ReasonCompleted        TerminationReason = "completed"
	ReasonEndedByCandidate TerminationReason = "ended_by_candidate"
	ReasonWarningsExceeded TerminationReason = "warnings_exceeded"
	ReasonHighSeverity     TerminationReason = "high_severity_ceiling"
	ReasonAbruptEnd        TerminationReason = "abrupt_end"
)

// InterviewResponse is one question and answer turn. It is never modified
// after being appended to a session.
type InterviewResponse struct {
	TurnIndex        int       `json:"turn_index"`
	QuestionText     string    `json:"question_text"`
	CandidateAnswer  string    `json:"candidate_answer"`
	AIAcknowledgment string    `json:"ai_acknowledgment,omitempty"`
	TechScore        *int      `json:"tech_score,omitempty"`
	CommScore        *int      `json:"comm_score,omitempty"`
	OverfitScore     *int      `json:"overfit_score,omitempty"`
	AIFlagged        bool      `json:"ai_flagged"`
	Incomplete       bool      `json:"incomplete,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// InterviewSession is the aggregate root owned by the session orchestrator.
type InterviewSession struct {
	ID          string        `json:"id"`
	JobID       string        `json:"job_id"`
	CandidateID string        `json:"candidate_id"`
	Plan        plan.Plan     `json:"plan"`
	Limits      plan.Limits   `json:"limits"`
	Status      SessionStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	StartTime   *time.Time    `json:"start_time,omitempty"`
	EndTime     *time.Time    `json:"end_time,omitempty"`

	Questions      []string            `json:"questions,omitempty"`
	Responses      []InterviewResponse `json:"responses"`
	ProctoringLogs []ProctoringLog     `json:"proctoring_logs"`

	WarningCount      int               `json:"warning_count"`
	HighSeverityCount int               `json:"high_severity_count"`
	IsFlagged         bool              `json:"is_flagged"`
	OverallScore      *int              `json:"overall_score,omitempty"`
	Evaluation        *FinalEvaluation  `json:"evaluation,omitempty"`
	Termination       TerminationReason `json:"termination_reason,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (s *InterviewSession) Clone() *InterviewSession {
	if s == nil {
		return nil
	}
	out := *s
	out.StartTime = cloneTime(s.StartTime)
	out.EndTime = cloneTime(s.EndTime)
	out.Questions = append([]string(nil), s.Questions...)
	out.Responses = make([]InterviewResponse, len(s.Responses))
	for i, r := range s.Responses {
		out.Responses[i] = r.Clone()
	}
	out.ProctoringLogs = append([]ProctoringLog(nil), s.ProctoringLogs...)
	if s.OverallScore != nil {
		v := *s.OverallScore
		out.OverallScore = &v
	}
	out.Evaluation = s.Evaluation.Clone()
	return &out
}

// Clone copies the optional score pointers.
func (r InterviewResponse) Clone() InterviewResponse {
	r.TechScore = cloneInt(r.TechScore)
	r.CommScore = cloneInt(r.CommScore)
	r.OverfitScore = cloneInt(r.OverfitScore)
	return r
}

// Transcript renders the responses as a plain question/answer transcript.
func (s *InterviewSession) Transcript() string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	for _, r := range s.Responses {
		fmt.Fprintf(&b, "Q%d: %s\nA%d: %s\n", r.TurnIndex+1, r.QuestionText, r.TurnIndex+1, r.CandidateAnswer)
		if r.Incomplete {
			b.WriteString("(answer incomplete)\n")
		}
	}
	return b.String()
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
