package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vango-go/vai-interview/pkg/core/plan"
	"github.com/vango-go/vai-interview/pkg/core/types"
)

func seededStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	err := s.CreateSession(context.Background(), &types.InterviewSession{
		ID:     "s1",
		JobID:  "job-1",
		Plan:   plan.Pro,
		Limits: plan.Resolve(plan.Pro),
		Status: types.SessionPending,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return s
}

func TestMemoryStore_ResponsesRoundTripInOrder(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	score := 64

	want := []types.InterviewResponse{
		{TurnIndex: 0, QuestionText: "Q1", CandidateAnswer: "A1", AIAcknowledgment: "Thanks.", Timestamp: ts},
		{TurnIndex: 1, QuestionText: "Q2", CandidateAnswer: "A2", TechScore: &score, Timestamp: ts.Add(time.Minute)},
		{TurnIndex: 2, QuestionText: "Q3", CandidateAnswer: "", Incomplete: true, Timestamp: ts.Add(2 * time.Minute)},
	}
	for _, r := range want {
		if err := s.AppendResponse(ctx, "s1", r); err != nil {
			t.Fatalf("AppendResponse(%d): %v", r.TurnIndex, err)
		}
	}
	score = 0

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(got.Responses) != len(want) {
		t.Fatalf("responses=%d, want %d", len(got.Responses), len(want))
	}
	for i := range want {
		g, w := got.Responses[i], want[i]
		if g.TurnIndex != w.TurnIndex || g.QuestionText != w.QuestionText || g.CandidateAnswer != w.CandidateAnswer ||
			g.AIAcknowledgment != w.AIAcknowledgment || g.Incomplete != w.Incomplete || !g.Timestamp.Equal(w.Timestamp) {
			t.Fatalf("response %d=%+v, want %+v", i, g, w)
		}
	}
	if got.Responses[1].TechScore == nil || *got.Responses[1].TechScore != 64 {
		t.Fatalf("stored score aliased caller memory")
	}
}

func TestMemoryStore_RejectsRewrites(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)

	if err := s.AppendResponse(ctx, "s1", types.InterviewResponse{TurnIndex: 1}); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("gap err=%v, want ErrOutOfOrder", err)
	}
	if err := s.UpdateStatus(ctx, "s1", StatusUpdate{Status: types.SessionCompleted}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("PENDING->COMPLETED err=%v, want ErrInvalidTransition", err)
	}
	if err := s.Finalize(ctx, "s1", FinalRecord{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("finalize non-terminal err=%v, want ErrInvalidTransition", err)
	}

	if err := s.UpdateStatus(ctx, "s1", StatusUpdate{Status: types.SessionFailed, IsFlagged: true}); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if err := s.Finalize(ctx, "s1", FinalRecord{EndTime: time.Now(), OverallScore: 50}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := s.Finalize(ctx, "s1", FinalRecord{}); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("second finalize err=%v, want ErrAlreadyFinalized", err)
	}
	if err := s.AppendIncident(ctx, "s1", types.ProctoringLog{Type: types.IncidentTabSwitch}); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("incident after finalize err=%v, want ErrAlreadyFinalized", err)
	}
}

func TestMemoryStore_IncidentsCountWarnings(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	logs := []types.ProctoringLog{
		{ID: "1", Type: types.IncidentTabSwitch, Severity: types.SeverityMedium},
		{ID: "2", Type: types.IncidentNoFace, Severity: types.SeverityHigh},
		{ID: "3", Type: types.IncidentEyeDistraction, Severity: types.SeverityLow},
	}
	for _, l := range logs {
		if err := s.AppendIncident(ctx, "s1", l); err != nil {
			t.Fatalf("AppendIncident: %v", err)
		}
	}
	got, _ := s.GetSession(ctx, "s1")
	if got.WarningCount != 3 || len(got.ProctoringLogs) != 3 || got.HighSeverityCount != 1 {
		t.Fatalf("warnings=%d logs=%d high=%d", got.WarningCount, len(got.ProctoringLogs), got.HighSeverityCount)
	}
}

func TestMemoryStore_Directory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.SaveCandidate(ctx, &types.Candidate{ID: "c1", JobID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("candidate for missing job err=%v, want ErrNotFound", err)
	}
	for _, id := range []string{"j1", "j2"} {
		if err := s.SaveJob(ctx, &types.JobPosting{ID: id, CompanyID: "co"}); err != nil {
			t.Fatalf("SaveJob: %v", err)
		}
	}
	if n, _ := s.CountJobs(ctx, "co"); n != 2 {
		t.Fatalf("CountJobs=%d, want 2", n)
	}

	c := &types.Candidate{ID: "c1", JobID: "j1", Status: types.CandidatePending}
	if err := s.SaveCandidate(ctx, c); err != nil {
		t.Fatalf("SaveCandidate: %v", err)
	}
	if n, _ := s.CountCandidates(ctx, "j1"); n != 1 {
		t.Fatalf("CountCandidates=%d, want 1", n)
	}

	c.Status = types.CandidateShortlisted
	if err := s.UpdateCandidate(ctx, c); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("PENDING->SHORTLISTED err=%v, want ErrInvalidTransition", err)
	}
	c.Status = types.CandidateInvited
	c.SessionID = "s1"
	if err := s.UpdateCandidate(ctx, c); err != nil {
		t.Fatalf("UpdateCandidate: %v", err)
	}
	c.SessionID = "s2"
	if err := s.UpdateCandidate(ctx, c); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("relink err=%v, want ErrDuplicate", err)
	}
}
