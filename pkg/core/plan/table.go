package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	yaml "go.yaml.in/yaml/v2"
)

// Table maps every plan to its limits row.
type Table map[Plan]Limits

// DefaultTable returns the built-in plan table.
func DefaultTable() Table {
	return Table{
		Free: {
			MaxJobs:             3,
			MaxCandidatesPerJob: 30,
			EyeTracking:         false,
			MultiFaceDetection:  false,
			NoFaceDetection:     true,
			FullScreenMode:      true,
			ScreenRecording:     false,
			BrowserSafety:       true,
			NoFaceThreshold:     10,
			MultiFaceThreshold:  0,
			MaxWarnings:         5,
			PriorityAIScoring:   false,
			QuestionCount:       10,
			ReasoningTier:       TierFast,
		},
		Pro: {
			MaxJobs:             10,
			MaxCandidatesPerJob: 100,
			EyeTracking:         true,
			MultiFaceDetection:  true,
			NoFaceDetection:     true,
			FullScreenMode:      true,
			ScreenRecording:     false,
			BrowserSafety:       true,
			NoFaceThreshold:     5,
			MultiFaceThreshold:  3,
			MaxWarnings:         5,
			PriorityAIScoring:   false,
			QuestionCount:       8,
			ReasoningTier:       TierHigh,
		},
		Ultra: {
			MaxJobs:             Unlimited,
			MaxCandidatesPerJob: Unlimited,
			EyeTracking:         true,
			MultiFaceDetection:  true,
			NoFaceDetection:     true,
			FullScreenMode:      true,
			ScreenRecording:     true,
			BrowserSafety:       true,
			NoFaceThreshold:     3,
			MultiFaceThreshold:  2,
			MaxWarnings:         5,
			PriorityAIScoring:   true,
			QuestionCount:       12,
			ReasoningTier:       TierHigh,
		},
	}
}

// Validate checks that every plan has a row and that each row is usable.
func (t Table) Validate() error {
	var errs []error
	for _, p := range All() {
		l, ok := t[p]
		if !ok {
			errs = append(errs, fmt.Errorf("%s: missing row", p))
			continue
		}
		if l.MaxJobs < Unlimited || l.MaxJobs == 0 {
			errs = append(errs, fmt.Errorf("%s: max_jobs must be > 0 or -1", p))
		}
		if l.MaxCandidatesPerJob < Unlimited || l.MaxCandidatesPerJob == 0 {
			errs = append(errs, fmt.Errorf("%s: max_candidates_per_job must be > 0 or -1", p))
		}
		if l.NoFaceThreshold < 0 {
			errs = append(errs, fmt.Errorf("%s: no_face_threshold must be >= 0", p))
		}
		if l.MultiFaceThreshold < 0 {
			errs = append(errs, fmt.Errorf("%s: multi_face_threshold must be >= 0", p))
		}
		if l.MaxWarnings <= 0 {
			errs = append(errs, fmt.Errorf("%s: max_warnings must be > 0", p))
		}
		if l.QuestionCount <= 0 {
			errs = append(errs, fmt.Errorf("%s: question_count must be > 0", p))
		}
		if _, err := ParseTier(string(l.ReasoningTier)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// LoadTable reads a plan table override from a YAML or JSON file. Rows in
// the file replace the built-in row for that plan; plans not named keep the
// built-in row. An empty path returns the built-in table.
func LoadTable(path string) (Table, error) {
	table := DefaultTable()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan table: %w", err)
	}

	rows := map[string]Limits{}
	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("parse json plan table: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("parse yaml plan table: %w", err)
		}
	}

	for name, row := range rows {
		p, err := Parse(name)
		if err != nil {
			return nil, err
		}
		row.Plan = p
		table[p] = row
	}
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan table: %w", err)
	}
	return table, nil
}
