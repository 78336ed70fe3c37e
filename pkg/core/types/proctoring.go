package types

import (
	"fmt"
	"strings"
	"time"
)

// IncidentType classifies a proctoring incident.
type IncidentType string

const (
	IncidentTabSwitch      IncidentType = "tab_switch"
	IncidentMultipleFaces  IncidentType = "multiple_faces"
	IncidentEyeDistraction IncidentType = "eye_distraction"
	IncidentNoFace         IncidentType = "no_face"
	IncidentAbruptEnd      IncidentType = "abrupt_end"
	IncidentOther          IncidentType = "other"
)

// ParseIncidentType rejects unknown incident types.
func ParseIncidentType(s string) (IncidentType, error) {
	switch t := IncidentType(strings.ToLower(strings.TrimSpace(s))); t {
	case IncidentTabSwitch, IncidentMultipleFaces, IncidentEyeDistraction, IncidentNoFace, IncidentAbruptEnd, IncidentOther:
		return t, nil
	default:
		return "", fmt.Errorf("unknown incident type %q", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *IncidentType) UnmarshalText(b []byte) error {
	v, err := ParseIncidentType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Severity grades an incident for display and audit.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// ParseSeverity rejects unknown severities.
func ParseSeverity(s string) (Severity, error) {
	switch v := Severity(strings.ToLower(strings.TrimSpace(s))); v {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return v, nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	v, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ProctoringLog is one recorded incident. Logs are append-only.
type ProctoringLog struct {
	ID        string       `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	Type      IncidentType `json:"type"`
	Severity  Severity     `json:"severity"`
	Detail    string       `json:"detail,omitempty"`
}
