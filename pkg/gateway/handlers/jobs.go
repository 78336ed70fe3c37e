package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/core/plan"
	"github.com/vango-go/vai-interview/pkg/core/session"
	"github.com/vango-go/vai-interview/pkg/core/types"
	"github.com/vango-go/vai-interview/pkg/gateway/auth"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/mw"
)

// PlanSource resolves a company's billing subscription to the plan it pays
// for.
type PlanSource interface {
	PlanForSubscription(ctx context.Context, subscriptionID string) (plan.Plan, error)
}

type createJobRequest struct {
	CompanyID            string             `json:"company_id"`
	Role                 string             `json:"role"`
	Description          string             `json:"description,omitempty"`
	StartTime            *time.Time         `json:"start_time,omitempty"`
	EndTime              *time.Time         `json:"end_time,omitempty"`
	Timezone             string             `json:"timezone,omitempty"`
	Sensors              *types.SensorOptIn `json:"sensors,omitempty"`
	Plan                 string             `json:"plan,omitempty"`
	StripeSubscriptionID string             `json:"stripe_subscription_id,omitempty"`
}

type jobResponse struct {
	types.JobPosting
	Limits plan.Limits `json:"limits"`
}

// JobsHandler serves POST /v1/jobs. The plan is frozen on the job: either
// given directly or looked up from the company's subscription.
type JobsHandler struct {
	Config    config.Config
	Directory session.Directory
	Resolver  *plan.Resolver
	Billing   PlanSource
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string

	// mu serializes count-then-save so the job cap holds within a process.
	mu sync.Mutex
}

func (h *JobsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	reqID, _ := mw.RequestIDFrom(r.Context())

	var req createJobRequest
	if err := decodeBody(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeErr(w, reqID, err)
		return
	}
	req.CompanyID = strings.TrimSpace(req.CompanyID)
	if req.CompanyID == "" {
		writeErr(w, reqID, core.NewInvalidRequestErrorWithParam("company_id is required", "company_id"))
		return
	}
	if p, ok := auth.PrincipalFrom(r.Context()); ok && !p.CanActFor(req.CompanyID) {
		writeErr(w, reqID, core.NewPermissionError("api key may not act for this company", core.CodeCompanyScope))
		return
	}

	ctx, cancel := handlerContext(r.Context(), h.Config.HandlerTimeout)
	defer cancel()

	p, err := h.planFor(ctx, req)
	if err != nil {
		writeErr(w, reqID, err)
		return
	}

	job := types.JobPosting{
		ID:             h.newID(),
		CompanyID:      req.CompanyID,
		Role:           strings.TrimSpace(req.Role),
		Description:    strings.TrimSpace(req.Description),
		Timezone:       strings.TrimSpace(req.Timezone),
		Sensors:        types.AllSensors(),
		PlanAtCreation: p,
		CreatedAt:      h.now().UTC(),
	}
	if req.StartTime != nil {
		job.StartTime = *req.StartTime
	}
	if req.EndTime != nil {
		job.EndTime = *req.EndTime
	}
	if req.Sensors != nil {
		job.Sensors = *req.Sensors
	}
	if err := job.Validate(); err != nil {
		writeErr(w, reqID, invalidJob(err))
		return
	}

	h.mu.Lock()
	count, err := h.Directory.CountJobs(ctx, job.CompanyID)
	if err == nil && !h.Resolver.CanCreateJob(p, count) {
		err = core.NewJobLimitError(string(p), h.Resolver.Resolve(p).MaxJobs)
	}
	if err == nil {
		err = h.Directory.SaveJob(ctx, &job)
	}
	h.mu.Unlock()
	if err != nil {
		if core.IsPlanLimit(err) {
			h.logger().Info("job cap reached", "company_id", job.CompanyID, "plan", p, "request_id", reqID)
		}
		writeErr(w, reqID, err)
		return
	}

	h.logger().Info("job created", "job_id", job.ID, "company_id", job.CompanyID, "plan", job.PlanAtCreation, "request_id", reqID)
	writeJSON(w, http.StatusCreated, jobResponse{JobPosting: job, Limits: job.EffectiveLimits(h.Resolver)})
}

func (h *JobsHandler) planFor(ctx context.Context, req createJobRequest) (plan.Plan, error) {
	rawPlan := strings.TrimSpace(req.Plan)
	subID := strings.TrimSpace(req.StripeSubscriptionID)
	switch {
	case rawPlan != "" && subID != "":
		return "", core.NewInvalidRequestErrorWithParam("set either plan or stripe_subscription_id, not both", "plan")
	case rawPlan != "":
		p, err := plan.Parse(rawPlan)
		if err != nil {
			return "", &core.Error{Type: core.ErrInvalidRequest, Message: err.Error(), Param: "plan", Code: "unknown_plan"}
		}
		return p, nil
	case subID != "":
		if h.Billing == nil {
			return "", core.NewInvalidRequestErrorWithParam("billing lookups are not configured", "stripe_subscription_id")
		}
		p, err := h.Billing.PlanForSubscription(ctx, subID)
		if err != nil {
			return "", err
		}
		return p, nil
	default:
		return "", core.NewInvalidRequestErrorWithParam("plan or stripe_subscription_id is required", "plan")
	}
}

func (h *JobsHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *JobsHandler) newID() string {
	if h.NewID != nil {
		return h.NewID()
	}
	return uuid.NewString()
}

func (h *JobsHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// JobHandler serves GET /v1/jobs/{id}.
type JobHandler struct {
	Directory session.Directory
	Resolver  *plan.Resolver
}

func (h JobHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	reqID, _ := mw.RequestIDFrom(r.Context())

	job, err := h.Directory.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, reqID, err)
		return
	}
	if p, ok := auth.PrincipalFrom(r.Context()); ok && !p.CanActFor(job.CompanyID) {
		writeErr(w, reqID, fmt.Errorf("job %s: %w", job.ID, session.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{JobPosting: *job, Limits: job.EffectiveLimits(h.Resolver)})
}

type candidateInput struct {
	Name       string `json:"name"`
	Email      string `json:"email"`
	ResumeText string `json:"resume_text,omitempty"`
}

type addCandidatesRequest struct {
	Candidates []candidateInput `json:"candidates"`
}

type candidatesResponse struct {
	Candidates []types.Candidate `json:"candidates"`
}

// CandidatesHandler serves POST /v1/jobs/{id}/candidates. The whole batch is
// rejected when it would exceed the job plan's candidate cap.
type CandidatesHandler struct {
	Config    config.Config
	Directory session.Directory
	Resolver  *plan.Resolver
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string

	mu sync.Mutex
}

func (h *CandidatesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	reqID, _ := mw.RequestIDFrom(r.Context())

	var req addCandidatesRequest
	if err := decodeBody(w, r, h.Config.MaxBodyBytes, &req); err != nil {
		writeErr(w, reqID, err)
		return
	}
	if len(req.Candidates) == 0 {
		writeErr(w, reqID, core.NewInvalidRequestErrorWithParam("candidates must not be empty", "candidates"))
		return
	}
	for i, c := range req.Candidates {
		if strings.TrimSpace(c.Name) == "" {
			writeErr(w, reqID, core.NewInvalidRequestErrorWithParam("name is required", fmt.Sprintf("candidates[%d].name", i)))
			return
		}
		if _, err := mail.ParseAddress(strings.TrimSpace(c.Email)); err != nil {
			writeErr(w, reqID, core.NewInvalidRequestErrorWithParam("email is invalid", fmt.Sprintf("candidates[%d].email", i)))
			return
		}
	}

	ctx, cancel := handlerContext(r.Context(), h.Config.HandlerTimeout)
	defer cancel()

	job, err := h.Directory.GetJob(ctx, r.PathValue("id"))
	if err != nil {
		writeErr(w, reqID, err)
		return
	}
	if p, ok := auth.PrincipalFrom(r.Context()); ok && !p.CanActFor(job.CompanyID) {
		writeErr(w, reqID, fmt.Errorf("job %s: %w", job.ID, session.ErrNotFound))
		return
	}

	created := make([]types.Candidate, 0, len(req.Candidates))
	h.mu.Lock()
	count, err := h.Directory.CountCandidates(ctx, job.ID)
	if err == nil && !h.Resolver.CanAddCandidates(job.PlanAtCreation, count, len(req.Candidates)) {
		limit := h.Resolver.Resolve(job.PlanAtCreation).MaxCandidatesPerJob
		err = core.NewCandidateLimitError(string(job.PlanAtCreation), limit)
	}
	if err == nil {
		now := h.now().UTC()
		for _, in := range req.Candidates {
			c := types.Candidate{
				ID:         h.newID(),
				JobID:      job.ID,
				Name:       strings.TrimSpace(in.Name),
				Email:      strings.TrimSpace(in.Email),
				ResumeText: in.ResumeText,
				Status:     types.CandidatePending,
				CreatedAt:  now,
			}
			if err = h.Directory.SaveCandidate(ctx, &c); err != nil {
				break
			}
			created = append(created, c)
		}
	}
	h.mu.Unlock()
	if err != nil {
		if core.IsPlanLimit(err) {
			h.logger().Info("candidate cap reached", "job_id", job.ID, "plan", job.PlanAtCreation, "request_id", reqID)
		}
		writeErr(w, reqID, err)
		return
	}

	h.logger().Info("candidates added", "job_id", job.ID, "count", len(created), "plan", job.PlanAtCreation, "request_id", reqID)
	writeJSON(w, http.StatusCreated, candidatesResponse{Candidates: created})
}

func (h *CandidatesHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *CandidatesHandler) newID() string {
	if h.NewID != nil {
		return h.NewID()
	}
	return uuid.NewString()
}

func (h *CandidatesHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func invalidJob(err error) error {
	param := ""
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "company_id"):
		param = "company_id"
	case strings.HasPrefix(msg, "role"):
		param = "role"
	case strings.HasPrefix(msg, "end_time"):
		param = "end_time"
	case strings.HasPrefix(msg, "invalid timezone"):
		param = "timezone"
	}
	return core.NewInvalidRequestErrorWithParam(msg, param)
}

func handlerContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
