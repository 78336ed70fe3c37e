package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/vango-go/vai-interview/pkg/core/plan"
)

// SensorOptIn holds the job's per-sensor choices. A sensor is active only if
// both the job opts in and the plan frozen at creation allows it.
type SensorOptIn struct {
	EyeTracking        bool `json:"eye_tracking"`
	MultiFaceDetection bool `json:"multi_face_detection"`
	NoFaceDetection    bool `json:"no_face_detection"`
	FullScreenMode     bool `json:"full_screen_mode"`
	ScreenRecording    bool `json:"screen_recording"`
	BrowserSafety      bool `json:"browser_safety"`
}

// AllSensors opts in to every sensor; the plan still caps the result.
func AllSensors() SensorOptIn {
	return SensorOptIn{
		EyeTracking:        true,
		MultiFaceDetection: true,
		NoFaceDetection:    true,
		FullScreenMode:     true,
		ScreenRecording:    true,
		BrowserSafety:      true,
	}
}

// JobPosting is the static configuration shared by every session of a job.
type JobPosting struct {
	ID             string      `json:"id"`
	CompanyID      string      `json:"company_id"`
	Role           string      `json:"role"`
	Description    string      `json:"description,omitempty"`
	StartTime      time.Time   `json:"start_time"`
	EndTime        time.Time   `json:"end_time"`
	Timezone       string      `json:"timezone"`
	Sensors        SensorOptIn `json:"sensors"`
	PlanAtCreation plan.Plan   `json:"plan_at_creation"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Validate checks the fields a caller must supply.
func (j JobPosting) Validate() error {
	if strings.TrimSpace(j.CompanyID) == "" {
		return fmt.Errorf("company_id is required")
	}
	if strings.TrimSpace(j.Role) == "" {
		return fmt.Errorf("role is required")
	}
	if !j.PlanAtCreation.Valid() {
		return fmt.Errorf("%w: %q", plan.ErrUnknownPlan, string(j.PlanAtCreation))
	}
	if !j.StartTime.IsZero() && !j.EndTime.IsZero() && !j.EndTime.After(j.StartTime) {
		return fmt.Errorf("end_time must be after start_time")
	}
	if j.Timezone != "" {
		if _, err := time.LoadLocation(j.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q", j.Timezone)
		}
	}
	return nil
}

// InWindow reports whether t falls within the job's interview window. A zero
// bound is open.
func (j JobPosting) InWindow(t time.Time) bool {
	if !j.StartTime.IsZero() && t.Before(j.StartTime) {
		return false
	}
	if !j.EndTime.IsZero() && t.After(j.EndTime) {
		return false
	}
	return true
}

// EffectiveLimits resolves the plan frozen at job creation and masks each
// sensor with the job's opt-in. The company's current plan is irrelevant.
func (j JobPosting) EffectiveLimits(r *plan.Resolver) plan.Limits {
	l := r.Resolve(j.PlanAtCreation)
	l.EyeTracking = l.EyeTracking && j.Sensors.EyeTracking
	l.MultiFaceDetection = l.MultiFaceDetection && j.Sensors.MultiFaceDetection
	l.NoFaceDetection = l.NoFaceDetection && j.Sensors.NoFaceDetection
	l.FullScreenMode = l.FullScreenMode && j.Sensors.FullScreenMode
	l.ScreenRecording = l.ScreenRecording && j.Sensors.ScreenRecording
	l.BrowserSafety = l.BrowserSafety && j.Sensors.BrowserSafety
	return l
}
