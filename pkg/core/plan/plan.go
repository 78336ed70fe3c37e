// Package plan resolves a subscription plan into the limits that govern job
// creation, candidate intake, proctoring sensors and interview depth.
//
// A plan's limits are resolved once, when a job is created, and frozen for the
// lifetime of every session that belongs to that job.
package plan

import (
	"errors"
	"fmt"
	"strings"
)

// Unlimited is the sentinel used by count limits. It is never a real count.
const Unlimited = -1

// ErrUnknownPlan is returned when a plan tag is not one of FREE, PRO or ULTRA.
var ErrUnknownPlan = errors.New("unknown plan")

// ErrUnknownTier is returned when a reasoning tier is not fast or high.
var ErrUnknownTier = errors.New("unknown reasoning tier")

// Plan is a subscription tier.
type Plan string

const (
	Free  Plan = "FREE"
	Pro   Plan = "PRO"
	Ultra Plan = "ULTRA"
)

// All lists every plan in ascending order.
func All() []Plan {
	return []Plan{Free, Pro, Ultra}
}

// Parse returns the plan named by s. Matching is case-insensitive; anything
// outside the closed set is rejected.
func Parse(s string) (Plan, error) {
	switch Plan(strings.ToUpper(strings.TrimSpace(s))) {
	case Free:
		return Free, nil
	case Pro:
		return Pro, nil
	case Ultra:
		return Ultra, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPlan, s)
	}
}

// Valid reports whether p is a member of the closed set.
func (p Plan) Valid() bool {
	switch p {
	case Free, Pro, Ultra:
		return true
	default:
		return false
	}
}

func (p Plan) String() string { return string(p) }

// Interactive reports whether the plan gets resume-aware questions.
func (p Plan) Interactive() bool {
	return p == Pro || p == Ultra
}

// UnmarshalText rejects unknown plan tags at decode time.
func (p *Plan) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (p Plan) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, string(p))
	}
	return []byte(p), nil
}

// Tier selects the reasoning capability's cost/fidelity level.
type Tier string

const (
	TierFast Tier = "fast"
	TierHigh Tier = "high"
)

// ParseTier returns the tier named by s.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierFast:
		return TierFast, nil
	case TierHigh:
		return TierHigh, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
}

// UnmarshalText rejects unknown tiers at decode time.
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Limits is the immutable policy row for a plan.
//
// NoFaceThreshold and MultiFaceThreshold are seconds a condition must persist
// before it is an incident. Zero means the check does not apply.
type Limits struct {
	Plan                Plan `json:"plan" yaml:"-"`
	MaxJobs             int  `json:"max_jobs" yaml:"max_jobs"`
	MaxCandidatesPerJob int  `json:"max_candidates_per_job" yaml:"max_candidates_per_job"`

	EyeTracking        bool `json:"eye_tracking" yaml:"eye_tracking"`
	MultiFaceDetection bool `json:"multi_face_detection" yaml:"multi_face_detection"`
	NoFaceDetection    bool `json:"no_face_detection" yaml:"no_face_detection"`
	FullScreenMode     bool `json:"full_screen_mode" yaml:"full_screen_mode"`
	ScreenRecording    bool `json:"screen_recording" yaml:"screen_recording"`
	BrowserSafety      bool `json:"browser_safety" yaml:"browser_safety"`

	NoFaceThreshold    int `json:"no_face_threshold" yaml:"no_face_threshold"`
	MultiFaceThreshold int `json:"multi_face_threshold" yaml:"multi_face_threshold"`

	MaxWarnings       int  `json:"max_warnings" yaml:"max_warnings"`
	PriorityAIScoring bool `json:"priority_ai_scoring" yaml:"priority_ai_scoring"`

	QuestionCount int  `json:"question_count" yaml:"question_count"`
	ReasoningTier Tier `json:"reasoning_tier" yaml:"reasoning_tier"`
}

// Resolve returns the built-in limits for p. It is total over the closed
// plan set; an invalid plan resolves to the FREE row.
func Resolve(p Plan) Limits {
	return defaultResolver.Resolve(p)
}

// CanCreateJob reports whether a company on plan p that already owns
// currentCount jobs may create another.
func CanCreateJob(p Plan, currentCount int) bool {
	return defaultResolver.CanCreateJob(p, currentCount)
}

// CanAddCandidates reports whether delta more candidates fit on a job that
// already has currentCount.
func CanAddCandidates(p Plan, currentCount, delta int) bool {
	return defaultResolver.CanAddCandidates(p, currentCount, delta)
}

var defaultResolver = NewResolver(DefaultTable())

// Resolver resolves plans against a specific table.
type Resolver struct {
	table Table
}

// NewResolver binds a resolver to table. The table is copied.
func NewResolver(table Table) *Resolver {
	cp := make(Table, len(table))
	for k, v := range table {
		cp[k] = v
	}
	return &Resolver{table: cp}
}

// Resolve returns the limits row for p.
func (r *Resolver) Resolve(p Plan) Limits {
	if r == nil {
		return defaultResolver.Resolve(p)
	}
	if l, ok := r.table[p]; ok {
		l.Plan = p
		return l
	}
	l := r.table[Free]
	l.Plan = Free
	return l
}

// CanCreateJob reports whether one more job fits under p's job cap.
func (r *Resolver) CanCreateJob(p Plan, currentCount int) bool {
	return withinLimit(r.Resolve(p).MaxJobs, currentCount, 1)
}

// CanAddCandidates reports whether delta more candidates fit under p's
// per-job candidate cap.
func (r *Resolver) CanAddCandidates(p Plan, currentCount, delta int) bool {
	if delta < 0 {
		return false
	}
	return withinLimit(r.Resolve(p).MaxCandidatesPerJob, currentCount, delta)
}

func withinLimit(limit, current, delta int) bool {
	if limit == Unlimited {
		return true
	}
	if current < 0 {
		current = 0
	}
	return current+delta <= limit
}
