package types

import (
	"fmt"
	"strings"
	"time"
)

// CandidateStatus is the recruiting lifecycle of a candidate.
type CandidateStatus string

const (
	CandidatePending     CandidateStatus = "PENDING"
	CandidateInvited     CandidateStatus = "INVITED"
	CandidateReview      CandidateStatus = "REVIEW"
	CandidateConsidered  CandidateStatus = "CONSIDERED"
	CandidateShortlisted CandidateStatus = "SHORTLISTED"
	CandidateRejected    CandidateStatus = "REJECTED"
	CandidateExpired     CandidateStatus = "EXPIRED"
)

// ParseCandidateStatus rejects unknown statuses.
func ParseCandidateStatus(s string) (CandidateStatus, error) {
	switch v := CandidateStatus(strings.ToUpper(strings.TrimSpace(s))); v {
	case CandidatePending, CandidateInvited, CandidateReview, CandidateConsidered,
		CandidateShortlisted, CandidateRejected, CandidateExpired:
		return v, nil
	default:
		return "", fmt.Errorf("unknown candidate status %q", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *CandidateStatus) UnmarshalText(b []byte) error {
	v, err := ParseCandidateStatus(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// CanTransition reports whether c may move to next.
func (c CandidateStatus) CanTransition(next CandidateStatus) bool {
	switch c {
	case CandidatePending:
		return next == CandidateInvited || next == CandidateExpired
	case CandidateInvited:
		switch next {
		case CandidateReview, CandidateConsidered, CandidateShortlisted, CandidateRejected, CandidateExpired:
			return true
		}
	case CandidateReview:
		switch next {
		case CandidateConsidered, CandidateShortlisted, CandidateRejected:
			return true
		}
	case CandidateConsidered:
		return next == CandidateShortlisted || next == CandidateRejected
	}
	return false
}

// Candidate is a person invited to interview for one job.
type Candidate struct {
	ID         string          `json:"id"`
	JobID      string          `json:"job_id"`
	Name       string          `json:"name"`
	Email      string          `json:"email"`
	ResumeText string          `json:"resume_text,omitempty"`
	Status     CandidateStatus `json:"status"`
	SessionID  string          `json:"session_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}
