package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/core/session"
	"github.com/vango-go/vai-interview/pkg/core/types"
	"github.com/vango-go/vai-interview/pkg/gateway/auth"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/mw"
)

// SessionOrchestrator is the part of the orchestrator the REST surface uses.
type SessionOrchestrator interface {
	Create(ctx context.Context, job types.JobPosting, candidate types.Candidate) (*types.InterviewSession, error)
	Snapshot(ctx context.Context, id string) (*types.InterviewSession, error)
	End(ctx context.Context, id, partial string) (*types.InterviewSession, error)
}

type createSessionRequest struct {
	JobID       string `json:"job_id"`
	CandidateID string `json:"candidate_id"`
}

type createSessionResponse struct {
	Session  *types.InterviewSession `json:"session"`
	LivePath string                  `json:"live_path"`
}

// SessionsHandler serves POST /v1/sessions: it opens a PENDING interview
// for a candidate and marks the candidate invited.
type SessionsHandler struct {
	Config       config.Config
	Directory    session.Directory
	Orchestrator SessionOrchestrator
	Logger       *slog.Logger

	mu sync.Mutex
}

func (h *SessionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	reqID, _ := mw.RequestIDFrom(r.Context())

	var req createSessionRequest
	if err := decodeBody(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeErr(w, reqID, err)
		return
	}
	req.JobID = strings.TrimSpace(req.JobID)
	req.CandidateID = strings.TrimSpace(req.CandidateID)
	if req.JobID == "" {
		writeErr(w, reqID, core.NewInvalidRequestErrorWithParam("job_id is required", "job_id"))
		return
	}
	if req.CandidateID == "" {
		writeErr(w, reqID, core.NewInvalidRequestErrorWithParam("candidate_id is required", "candidate_id"))
		return
	}

	ctx, cancel := handlerContext(r.Context(), h.Config.HandlerTimeout)
	defer cancel()

	job, err := h.Directory.GetJob(ctx, req.JobID)
	if err != nil {
		writeErr(w, reqID, err)
		return
	}
	if p, ok := auth.PrincipalFrom(r.Context()); ok && !p.CanActFor(job.CompanyID) {
		writeErr(w, reqID, fmt.Errorf("job %s: %w", job.ID, session.ErrNotFound))
		return
	}

	h.mu.Lock()
	sess, err := h.open(ctx, job, req.CandidateID)
	h.mu.Unlock()
	if err != nil {
		writeErr(w, reqID, err)
		return
	}

	h.logger().Info("session opened", "session_id", sess.ID, "job_id", job.ID, "candidate_id", req.CandidateID, "plan", sess.Plan, "request_id", reqID)
	writeJSON(w, http.StatusCreated, createSessionResponse{Session: sess, LivePath: "/v1/live/" + sess.ID})
}

func (h *SessionsHandler) open(ctx context.Context, job *types.JobPosting, candidateID string) (*types.InterviewSession, error) {
	cand, err := h.Directory.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if cand.JobID != job.ID {
		return nil, core.NewInvalidRequestErrorWithParam("candidate does not belong to job", "candidate_id")
	}

	sess, err := h.Orchestrator.Create(ctx, *job, *cand)
	if err != nil {
		return nil, err
	}

	cand.SessionID = sess.ID
	if cand.Status == types.CandidatePending {
		cand.Status = types.CandidateInvited
	}
	if err := h.Directory.UpdateCandidate(ctx, cand); err != nil {
		// A session no candidate links to must not stay startable.
		if _, endErr := h.Orchestrator.End(context.WithoutCancel(ctx), sess.ID, ""); endErr != nil {
			h.logger().Warn("failed to end orphaned session", "session_id", sess.ID, "error", endErr)
		}
		return nil, err
	}
	return sess, nil
}

func (h *SessionsHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// SessionHandler serves GET /v1/sessions/{id}: the live snapshot while the
// interview runs and the finished record afterwards.
type SessionHandler struct {
	Directory    session.Directory
	Orchestrator SessionOrchestrator
}

func (h SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	reqID, _ := mw.RequestIDFrom(r.Context())

	sess, err := h.Orchestrator.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, reqID, err)
		return
	}
	if p, ok := auth.PrincipalFrom(r.Context()); ok && p.CompanyID != "" {
		job, err := h.Directory.GetJob(r.Context(), sess.JobID)
		if err != nil || !p.CanActFor(job.CompanyID) {
			writeErr(w, reqID, fmt.Errorf("session %s: %w", sess.ID, session.ErrNotFound))
			return
		}
	}
	writeJSON(w, http.StatusOK, sess)
}
