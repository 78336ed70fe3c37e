package session

import (
	"context"
	"errors"
	"time"

	"github.com/vango-go/vai-interview/pkg/core/types"
)

var (
	// ErrNotFound is returned for unknown sessions, jobs and candidates.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned when a status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrOutOfOrder is returned when a response does not extend the transcript
	// by exactly one turn.
	ErrOutOfOrder = errors.New("response out of order")
	// ErrAlreadyFinalized is returned when a finished session is written again.
	ErrAlreadyFinalized = errors.New("session already finalized")
	// ErrDuplicate is returned when an ID is already stored.
	ErrDuplicate = errors.New("already exists")
)

// StatusUpdate is a status transition plus the fields that accompany it.
// Nil and zero fields are left unchanged.
type StatusUpdate struct {
	Status      types.SessionStatus
	StartTime   *time.Time
	Questions   []string
	IsFlagged   bool
	Termination types.TerminationReason
}

// FinalRecord carries the fields written exactly once at finalization.
type FinalRecord struct {
	EndTime      time.Time
	Evaluation   types.FinalEvaluation
	OverallScore int
}

// Store is the append-only session record service. Implementations must
// reject rewrites of history: responses are appended in turn order,
// incidents are appended and counted, and the final record is written once.
type Store interface {
	CreateSession(ctx context.Context, s *types.InterviewSession) error
	UpdateStatus(ctx context.Context, id string, u StatusUpdate) error
	AppendResponse(ctx context.Context, id string, r types.InterviewResponse) error
	AppendIncident(ctx context.Context, id string, log types.ProctoringLog) error
	Finalize(ctx context.Context, id string, rec FinalRecord) error
	GetSession(ctx context.Context, id string) (*types.InterviewSession, error)
	Ping(ctx context.Context) error
}

// Directory holds the job postings and candidates sessions are created from.
type Directory interface {
	SaveJob(ctx context.Context, job *types.JobPosting) error
	GetJob(ctx context.Context, id string) (*types.JobPosting, error)
	CountJobs(ctx context.Context, companyID string) (int, error)
	SaveCandidate(ctx context.Context, c *types.Candidate) error
	GetCandidate(ctx context.Context, id string) (*types.Candidate, error)
	CountCandidates(ctx context.Context, jobID string) (int, error)
	UpdateCandidate(ctx context.Context, c *types.Candidate) error
}

// ApplyStatusUpdate applies u to s after checking the transition. Store
// implementations share it so every backend enforces the same rules.
func ApplyStatusUpdate(s *types.InterviewSession, u StatusUpdate) error {
	if s.Status != u.Status {
		if !s.Status.CanTransition(u.Status) {
			return ErrInvalidTransition
		}
		s.Status = u.Status
	}
	if u.StartTime != nil && s.StartTime == nil {
		t := *u.StartTime
		s.StartTime = &t
	}
	if u.Questions != nil && len(s.Questions) == 0 {
		s.Questions = append([]string(nil), u.Questions...)
	}
	if u.IsFlagged {
		s.IsFlagged = true
	}
	if u.Termination != types.ReasonNone {
		s.Termination = u.Termination
	}
	return nil
}

// ApplyResponse appends r to s if it is the next turn.
func ApplyResponse(s *types.InterviewSession, r types.InterviewResponse) error {
	if s.Evaluation != nil {
		return ErrAlreadyFinalized
	}
	if r.TurnIndex != len(s.Responses) {
		return ErrOutOfOrder
	}
	s.Responses = append(s.Responses, r.Clone())
	return nil
}

// ApplyIncident appends log to s and recounts warnings.
func ApplyIncident(s *types.InterviewSession, log types.ProctoringLog) error {
	if s.Evaluation != nil {
		return ErrAlreadyFinalized
	}
	s.ProctoringLogs = append(s.ProctoringLogs, log)
	s.WarningCount = len(s.ProctoringLogs)
	if log.Severity == types.SeverityHigh {
		s.HighSeverityCount++
	}
	return nil
}

// ApplyFinal writes the terminal record once.
func ApplyFinal(s *types.InterviewSession, rec FinalRecord) error {
	if s.Evaluation != nil {
		return ErrAlreadyFinalized
	}
	if !s.Status.Terminal() {
		return ErrInvalidTransition
	}
	end := rec.EndTime
	ev := rec.Evaluation
	score := rec.OverallScore
	s.EndTime = &end
	s.Evaluation = ev.Clone()
	s.OverallScore = &score
	return nil
}
