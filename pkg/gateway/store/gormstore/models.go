package gormstore

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/vango-go/vai-interview/pkg/core/plan"
	"github.com/vango-go/vai-interview/pkg/core/types"
)

type jobRow struct {
	ID          string `gorm:"primaryKey;size:64"`
	CompanyID   string `gorm:"size:128;not null;index"`
	Role        string `gorm:"size:255;not null"`
	Description string `gorm:"type:text"`
	StartTime   *time.Time
	EndTime     *time.Time
	Timezone    string                                `gorm:"size:64"`
	Sensors     datatypes.JSONType[types.SensorOptIn] `gorm:"not null"`
	Plan        string                                `gorm:"size:16;not null"`
	CreatedAt   time.Time
}

func (jobRow) TableName() string { return "interview_jobs" }

func jobRowFrom(j *types.JobPosting) jobRow {
	row := jobRow{
		ID:          j.ID,
		CompanyID:   j.CompanyID,
		Role:        j.Role,
		Description: j.Description,
		Timezone:    j.Timezone,
		Sensors:     datatypes.NewJSONType(j.Sensors),
		Plan:        string(j.PlanAtCreation),
		CreatedAt:   j.CreatedAt.UTC(),
	}
	if !j.StartTime.IsZero() {
		t := j.StartTime.UTC()
		row.StartTime = &t
	}
	if !j.EndTime.IsZero() {
		t := j.EndTime.UTC()
		row.EndTime = &t
	}
	return row
}

func (r jobRow) toJob() (*types.JobPosting, error) {
	p, err := plan.Parse(r.Plan)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", r.ID, err)
	}
	j := &types.JobPosting{
		ID:             r.ID,
		CompanyID:      r.CompanyID,
		Role:           r.Role,
		Description:    r.Description,
		Timezone:       r.Timezone,
		Sensors:        r.Sensors.Data(),
		PlanAtCreation: p,
		CreatedAt:      r.CreatedAt.UTC(),
	}
	if r.StartTime != nil {
		j.StartTime = r.StartTime.UTC()
	}
	if r.EndTime != nil {
		j.EndTime = r.EndTime.UTC()
	}
	return j, nil
}

type candidateRow struct {
	ID         string `gorm:"primaryKey;size:64"`
	JobID      string `gorm:"size:64;not null;index"`
	Name       string `gorm:"size:255;not null"`
	Email      string `gorm:"size:320"`
	ResumeText string `gorm:"type:text"`
	Status     string `gorm:"size:16;not null"`
	SessionID  string `gorm:"size:64"`
	CreatedAt  time.Time
}

func (candidateRow) TableName() string { return "interview_candidates" }

func candidateRowFrom(c *types.Candidate) candidateRow {
	return candidateRow{
		ID:         c.ID,
		JobID:      c.JobID,
		Name:       c.Name,
		Email:      c.Email,
		ResumeText: c.ResumeText,
		Status:     string(c.Status),
		SessionID:  c.SessionID,
		CreatedAt:  c.CreatedAt.UTC(),
	}
}

func (r candidateRow) toCandidate() (*types.Candidate, error) {
	st, err := types.ParseCandidateStatus(r.Status)
	if err != nil {
		return nil, fmt.Errorf("candidate %s: %w", r.ID, err)
	}
	return &types.Candidate{
		ID:         r.ID,
		JobID:      r.JobID,
		Name:       r.Name,
		Email:      r.Email,
		ResumeText: r.ResumeText,
		Status:     st,
		SessionID:  r.SessionID,
		CreatedAt:  r.CreatedAt.UTC(),
	}, nil
}

// sessionRow keeps the indexed fields in columns and the full record as a
// JSON document, rewritten under a row lock on every change.
type sessionRow struct {
	ID          string         `gorm:"primaryKey;size:64"`
	JobID       string         `gorm:"size:64;index"`
	CandidateID string         `gorm:"size:64;index"`
	Status      string         `gorm:"size:16;not null;index"`
	Doc         datatypes.JSON `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (sessionRow) TableName() string { return "interview_sessions" }

func sessionRowFrom(s *types.InterviewSession, now time.Time) (sessionRow, error) {
	doc, err := json.Marshal(s)
	if err != nil {
		return sessionRow{}, fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return sessionRow{
		ID:          s.ID,
		JobID:       s.JobID,
		CandidateID: s.CandidateID,
		Status:      string(s.Status),
		Doc:         datatypes.JSON(doc),
		CreatedAt:   s.CreatedAt.UTC(),
		UpdatedAt:   now,
	}, nil
}

func (r sessionRow) toSession() (*types.InterviewSession, error) {
	var s types.InterviewSession
	if err := json.Unmarshal(r.Doc, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", r.ID, err)
	}
	return &s, nil
}
