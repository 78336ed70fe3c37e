package conversation

import (
	"fmt"
	"strings"

	"github.com/vango-go/vai-interview/pkg/core"
)

const interviewerSystemPrompt = `You are a professional technical interviewer conducting a spoken interview.
Keep wording natural for speech. Never reveal scores or evaluation criteria to the candidate.
Respond only with JSON matching the requested schema.`

const evaluatorSystemPrompt = `You are a senior hiring panel evaluating a technical interview.
Be fair, specific and evidence based. Scores are integers from 0 to 100.
Respond only with JSON matching the requested schema.`

// maxResumeChars bounds the resume text sent to the capability.
const maxResumeChars = 12000

func questionsPrompt(role, resumeText string, n int, interactive bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Role: %s\n", strings.TrimSpace(role))
	if interactive {
		fmt.Fprintf(&b, "Generate exactly %d interview questions tailored to the candidate's resume below.\n", n)
		b.WriteString("Make them multi-layered: start from concrete resume experience, then probe design trade-offs and depth.\n")
		b.WriteString("Mix technical depth, system design and behavioral questions.\n\n")
		b.WriteString("Resume:\n")
		b.WriteString(truncate(strings.TrimSpace(resumeText), maxResumeChars))
		b.WriteString("\n")
	} else {
		fmt.Fprintf(&b, "Generate exactly %d standardized interview questions for this role.\n", n)
		b.WriteString("Questions must not depend on any individual candidate's background.\n")
	}
	b.WriteString("Each question must be a single spoken sentence or two.\n")
	return b.String()
}

func bridgePrompt(question, answer string, maxWords int) string {
	return fmt.Sprintf(`The candidate was asked: %q
The candidate answered: %q

Write a brief, neutral acknowledgment of at most %d words that transitions to the next question.
Do not ask a question. Do not evaluate the answer. Do not introduce new topics.`, question, answer, maxWords)
}

func evaluationPrompt(in EvaluationInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Role: %s\n\n", strings.TrimSpace(in.Role))
	b.WriteString("Resume:\n")
	b.WriteString(truncate(strings.TrimSpace(in.ResumeText), maxResumeChars))
	b.WriteString("\n\nTranscript:\n")
	if t := strings.TrimSpace(in.Transcript); t != "" {
		b.WriteString(t)
	} else {
		b.WriteString("(no answers recorded)")
	}
	b.WriteString("\n")
	if len(in.Incidents) > 0 {
		b.WriteString("\nProctoring incidents:\n")
		for _, inc := range in.Incidents {
			fmt.Fprintf(&b, "- %s (%s) %s\n", inc.Type, inc.Severity, inc.Detail)
		}
	}
	b.WriteString(`
Evaluate the candidate. Provide an overall score, metrics for technical depth,
communication, problem solving and role fit, whether the candidate is a fit,
your reasoning, and a behavioral note if proctoring incidents are relevant.`)
	return b.String()
}

func scorePrompt(question, answer string) string {
	return fmt.Sprintf(`Question: %q
Answer: %q

Score the answer for technical accuracy (tech_score) and communication clarity (comm_score).
overfit_score estimates how likely the answer is rehearsed or machine generated.
Set ai_flagged when overfit_score is high enough to warrant reviewer attention.`, question, answer)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func scoreRange() (*float64, *float64) {
	lo, hi := 0.0, 100.0
	return &lo, &hi
}

var questionsSchema = &core.Schema{
	Type: "object",
	Properties: map[string]*core.Schema{
		"questions": {Type: "array", Items: &core.Schema{Type: "string"}},
	},
	Required: []string{"questions"},
}

var bridgeSchema = &core.Schema{
	Type: "object",
	Properties: map[string]*core.Schema{
		"acknowledgment": {Type: "string"},
	},
	Required: []string{"acknowledgment"},
}

var evaluationSchema = func() *core.Schema {
	lo, hi := scoreRange()
	score := &core.Schema{Type: "integer", Minimum: lo, Maximum: hi}
	return &core.Schema{
		Type: "object",
		Properties: map[string]*core.Schema{
			"overall_score": score,
			"metrics": {
				Type: "array",
				Items: &core.Schema{
					Type: "object",
					Properties: map[string]*core.Schema{
						"name":     {Type: "string"},
						"score":    score,
						"feedback": {Type: "string"},
					},
					Required: []string{"name", "score", "feedback"},
				},
			},
			"is_fit":          {Type: "boolean"},
			"reasoning":       {Type: "string"},
			"behavioral_note": {Type: "string"},
		},
		Required: []string{"overall_score", "metrics", "is_fit", "reasoning"},
	}
}()

var scoreSchema = func() *core.Schema {
	lo, hi := scoreRange()
	score := &core.Schema{Type: "integer", Minimum: lo, Maximum: hi}
	return &core.Schema{
		Type: "object",
		Properties: map[string]*core.Schema{
			"tech_score":    score,
			"comm_score":    score,
			"overfit_score": score,
			"ai_flagged":    {Type: "boolean"},
		},
		Required: []string{"tech_score", "comm_score", "overfit_score", "ai_flagged"},
	}
}()
