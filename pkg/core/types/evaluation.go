package types

// EvaluationMetric is one named dimension of the final evaluation.
type EvaluationMetric struct {
	Name     string `json:"name"`
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

// FinalEvaluation is produced once, when a session is finalized.
type FinalEvaluation struct {
	OverallScore   int                `json:"overall_score"`
	Metrics        []EvaluationMetric `json:"metrics"`
	IsFit          bool               `json:"is_fit"`
	Reasoning      string             `json:"reasoning"`
	BehavioralNote string             `json:"behavioral_note,omitempty"`
}

// Clone returns a deep copy.
func (e *FinalEvaluation) Clone() *FinalEvaluation {
	if e == nil {
		return nil
	}
	out := *e
	out.Metrics = append([]EvaluationMetric(nil), e.Metrics...)
	return &out
}

// ClampScore bounds a score to 0..100.
func ClampScore(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
