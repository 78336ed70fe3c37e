// Package storetest is the shared contract suite for session stores. Every
// backend runs it so they enforce the same append-only rules.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vango-go/vai-interview/pkg/core/plan"
	"github.com/vango-go/vai-interview/pkg/core/session"
	"github.com/vango-go/vai-interview/pkg/core/types"
)

// Backend is a store that also serves the job and candidate directory.
type Backend interface {
	session.Store
	session.Directory
}

// Run exercises open's backend. open is called once per subtest and must
// return an empty store.
func Run(t *testing.T, open func(t *testing.T) Backend) {
	t.Helper()
	tests := []struct {
		name string
		fn   func(t *testing.T, b Backend)
	}{
		{"SessionLifecycle", testSessionLifecycle},
		{"RejectsRewrites", testRejectsRewrites},
		{"IncidentsAreCounted", testIncidentsAreCounted},
		{"Duplicates", testDuplicates},
		{"NotFound", testNotFound},
		{"DirectoryCounts", testDirectoryCounts},
		{"UpdateCandidate", testUpdateCandidate},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, open(t))
		})
	}
}

var base = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func seedSession(t *testing.T, b Backend, id string) {
	t.Helper()
	err := b.CreateSession(context.Background(), &types.InterviewSession{
		ID:             id,
		JobID:          "job-1",
		CandidateID:    "cand-1",
		Plan:           plan.Pro,
		Limits:         plan.Resolve(plan.Pro),
		Status:         types.SessionPending,
		CreatedAt:      base,
		Responses:      []types.InterviewResponse{},
		ProctoringLogs: []types.ProctoringLog{},
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
}

func seedJob(t *testing.T, b Backend, id, company string) {
	t.Helper()
	err := b.SaveJob(context.Background(), &types.JobPosting{
		ID:             id,
		CompanyID:      company,
		Role:           "Backend Engineer",
		Timezone:       "Europe/Berlin",
		Sensors:        types.AllSensors(),
		PlanAtCreation: plan.Free,
		CreatedAt:      base,
	})
	if err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
}

func seedCandidate(t *testing.T, b Backend, id, jobID string) {
	t.Helper()
	err := b.SaveCandidate(context.Background(), &types.Candidate{
		ID:        id,
		JobID:     jobID,
		Name:      "Sam",
		Email:     "sam@example.com",
		Status:    types.CandidatePending,
		CreatedAt: base,
	})
	if err != nil {
		t.Fatalf("SaveCandidate: %v", err)
	}
}

func testSessionLifecycle(t *testing.T, b Backend) {
	ctx := context.Background()
	seedSession(t, b, "s1")

	start := base.Add(time.Minute)
	if err := b.UpdateStatus(ctx, "s1", session.StatusUpdate{
		Status:    types.SessionOngoing,
		StartTime: &start,
		Questions: []string{"Q1", "Q2"},
	}); err != nil {
		t.Fatalf("UpdateStatus(ONGOING): %v", err)
	}

	score := 72
	responses := []types.InterviewResponse{
		{TurnIndex: 0, QuestionText: "Q1", CandidateAnswer: "A1", AIAcknowledgment: "Thanks.", TechScore: &score, Timestamp: start.Add(time.Minute)},
		{TurnIndex: 1, QuestionText: "Q2", Incomplete: true, Timestamp: start.Add(2 * time.Minute)},
	}
	for _, r := range responses {
		if err := b.AppendResponse(ctx, "s1", r); err != nil {
			t.Fatalf("AppendResponse(%d): %v", r.TurnIndex, err)
		}
	}

	if err := b.UpdateStatus(ctx, "s1", session.StatusUpdate{Status: types.SessionCompleted, Termination: types.ReasonCompleted}); err != nil {
		t.Fatalf("UpdateStatus(COMPLETED): %v", err)
	}
	end := start.Add(3 * time.Minute)
	if err := b.Finalize(ctx, "s1", session.FinalRecord{
		EndTime:      end,
		OverallScore: 68,
		Evaluation: types.FinalEvaluation{
			OverallScore: 68,
			IsFit:        true,
			Reasoning:    "solid",
			Metrics:      []types.EvaluationMetric{{Name: "depth", Score: 70, Feedback: "good"}},
		},
	}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	got, err := b.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != types.SessionCompleted || got.Termination != types.ReasonCompleted {
		t.Fatalf("status=%s reason=%s", got.Status, got.Termination)
	}
	if got.StartTime == nil || !got.StartTime.Equal(start) {
		t.Fatalf("start=%v, want %v", got.StartTime, start)
	}
	if got.EndTime == nil || !got.EndTime.Equal(end) {
		t.Fatalf("end=%v, want %v", got.EndTime, end)
	}
	if len(got.Questions) != 2 || got.Questions[1] != "Q2" {
		t.Fatalf("questions=%v", got.Questions)
	}
	if len(got.Responses) != 2 {
		t.Fatalf("responses=%d, want 2", len(got.Responses))
	}
	if r := got.Responses[0]; r.CandidateAnswer != "A1" || r.TechScore == nil || *r.TechScore != 72 || !r.Timestamp.Equal(responses[0].Timestamp) {
		t.Fatalf("response[0]=%+v", r)
	}
	if !got.Responses[1].Incomplete {
		t.Fatalf("response[1] lost incomplete flag")
	}
	if got.OverallScore == nil || *got.OverallScore != 68 {
		t.Fatalf("overall=%v, want 68", got.OverallScore)
	}
	if got.Evaluation == nil || !got.Evaluation.IsFit || len(got.Evaluation.Metrics) != 1 {
		t.Fatalf("evaluation=%+v", got.Evaluation)
	}
	if got.Limits.QuestionCount != plan.Resolve(plan.Pro).QuestionCount {
		t.Fatalf("limits=%+v", got.Limits)
	}
}

func testRejectsRewrites(t *testing.T, b Backend) {
	ctx := context.Background()
	seedSession(t, b, "s1")

	if err := b.AppendResponse(ctx, "s1", types.InterviewResponse{TurnIndex: 1}); !errors.Is(err, session.ErrOutOfOrder) {
		t.Fatalf("gap err=%v, want ErrOutOfOrder", err)
	}
	if err := b.UpdateStatus(ctx, "s1", session.StatusUpdate{Status: types.SessionCompleted}); !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("PENDING->COMPLETED err=%v, want ErrInvalidTransition", err)
	}
	if err := b.Finalize(ctx, "s1", session.FinalRecord{EndTime: base}); !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("finalize non-terminal err=%v, want ErrInvalidTransition", err)
	}

	if err := b.UpdateStatus(ctx, "s1", session.StatusUpdate{Status: types.SessionFailed, Termination: types.ReasonEndedByCandidate}); err != nil {
		t.Fatalf("UpdateStatus(FAILED): %v", err)
	}
	if err := b.Finalize(ctx, "s1", session.FinalRecord{EndTime: base}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := b.Finalize(ctx, "s1", session.FinalRecord{EndTime: base}); !errors.Is(err, session.ErrAlreadyFinalized) {
		t.Fatalf("second finalize err=%v, want ErrAlreadyFinalized", err)
	}
	if err := b.AppendResponse(ctx, "s1", types.InterviewResponse{TurnIndex: 0}); !errors.Is(err, session.ErrAlreadyFinalized) {
		t.Fatalf("append after finalize err=%v, want ErrAlreadyFinalized", err)
	}
	if err := b.UpdateStatus(ctx, "s1", session.StatusUpdate{Status: types.SessionOngoing}); !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("FAILED->ONGOING err=%v, want ErrInvalidTransition", err)
	}
}

func testIncidentsAreCounted(t *testing.T, b Backend) {
	ctx := context.Background()
	seedSession(t, b, "s1")

	logs := []types.ProctoringLog{
		{ID: "i1", Timestamp: base, Type: types.IncidentTabSwitch, Severity: types.SeverityMedium},
		{ID: "i2", Timestamp: base.Add(time.Second), Type: types.IncidentMultipleFaces, Severity: types.SeverityHigh, Detail: "2 faces"},
	}
	for _, l := range logs {
		if err := b.AppendIncident(ctx, "s1", l); err != nil {
			t.Fatalf("AppendIncident(%s): %v", l.ID, err)
		}
	}

	got, err := b.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.WarningCount != 2 || got.HighSeverityCount != 1 {
		t.Fatalf("warnings=%d high=%d, want 2/1", got.WarningCount, got.HighSeverityCount)
	}
	if len(got.ProctoringLogs) != 2 || got.ProctoringLogs[1].Detail != "2 faces" {
		t.Fatalf("logs=%+v", got.ProctoringLogs)
	}
}

func testDuplicates(t *testing.T, b Backend) {
	seedSession(t, b, "s1")
	err := b.CreateSession(context.Background(), &types.InterviewSession{ID: "s1", Plan: plan.Free, Limits: plan.Resolve(plan.Free), Status: types.SessionPending})
	if !errors.Is(err, session.ErrDuplicate) {
		t.Fatalf("duplicate session err=%v, want ErrDuplicate", err)
	}

	seedJob(t, b, "job-1", "acme")
	err = b.SaveJob(context.Background(), &types.JobPosting{ID: "job-1", CompanyID: "acme", Role: "x", PlanAtCreation: plan.Free})
	if !errors.Is(err, session.ErrDuplicate) {
		t.Fatalf("duplicate job err=%v, want ErrDuplicate", err)
	}

	seedCandidate(t, b, "cand-1", "job-1")
	err = b.SaveCandidate(context.Background(), &types.Candidate{ID: "cand-1", JobID: "job-1", Status: types.CandidatePending})
	if !errors.Is(err, session.ErrDuplicate) {
		t.Fatalf("duplicate candidate err=%v, want ErrDuplicate", err)
	}
}

func testNotFound(t *testing.T, b Backend) {
	ctx := context.Background()
	if _, err := b.GetSession(ctx, "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("GetSession err=%v, want ErrNotFound", err)
	}
	if err := b.UpdateStatus(ctx, "missing", session.StatusUpdate{Status: types.SessionOngoing}); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("UpdateStatus err=%v, want ErrNotFound", err)
	}
	if _, err := b.GetJob(ctx, "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("GetJob err=%v, want ErrNotFound", err)
	}
	if _, err := b.GetCandidate(ctx, "missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("GetCandidate err=%v, want ErrNotFound", err)
	}
	err := b.SaveCandidate(ctx, &types.Candidate{ID: "c1", JobID: "missing", Status: types.CandidatePending})
	if !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("SaveCandidate for unknown job err=%v, want ErrNotFound", err)
	}
}

func testDirectoryCounts(t *testing.T, b Backend) {
	ctx := context.Background()
	seedJob(t, b, "job-1", "acme")
	seedJob(t, b, "job-2", "acme")
	seedJob(t, b, "job-3", "globex")
	seedCandidate(t, b, "c1", "job-1")
	seedCandidate(t, b, "c2", "job-1")
	seedCandidate(t, b, "c3", "job-2")

	if n, err := b.CountJobs(ctx, "acme"); err != nil || n != 2 {
		t.Fatalf("CountJobs(acme)=%d,%v, want 2", n, err)
	}
	if n, err := b.CountJobs(ctx, "nobody"); err != nil || n != 0 {
		t.Fatalf("CountJobs(nobody)=%d,%v, want 0", n, err)
	}
	if n, err := b.CountCandidates(ctx, "job-1"); err != nil || n != 2 {
		t.Fatalf("CountCandidates(job-1)=%d,%v, want 2", n, err)
	}

	job, err := b.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Timezone != "Europe/Berlin" || job.PlanAtCreation != plan.Free || !job.Sensors.EyeTracking || !job.CreatedAt.Equal(base) {
		t.Fatalf("job=%+v", job)
	}
	c, err := b.GetCandidate(ctx, "c3")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if c.JobID != "job-2" || c.Email != "sam@example.com" || c.Status != types.CandidatePending {
		t.Fatalf("candidate=%+v", c)
	}
}

func testUpdateCandidate(t *testing.T, b Backend) {
	ctx := context.Background()
	seedJob(t, b, "job-1", "acme")
	seedCandidate(t, b, "c1", "job-1")

	c, err := b.GetCandidate(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	c.Status = types.CandidateShortlisted
	if err := b.UpdateCandidate(ctx, c); !errors.Is(err, session.ErrInvalidTransition) {
		t.Fatalf("PENDING->SHORTLISTED err=%v, want ErrInvalidTransition", err)
	}

	c.Status = types.CandidateInvited
	c.SessionID = "s1"
	if err := b.UpdateCandidate(ctx, c); err != nil {
		t.Fatalf("invite: %v", err)
	}
	c.SessionID = "s2"
	if err := b.UpdateCandidate(ctx, c); !errors.Is(err, session.ErrDuplicate) {
		t.Fatalf("relink err=%v, want ErrDuplicate", err)
	}

	got, err := b.GetCandidate(ctx, "c1")
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if got.Status != types.CandidateInvited || got.SessionID != "s1" {
		t.Fatalf("candidate=%+v, want INVITED linked to s1", got)
	}
	if err := b.UpdateCandidate(ctx, &types.Candidate{ID: "missing", Status: types.CandidateInvited}); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("missing err=%v, want ErrNotFound", err)
	}
}
