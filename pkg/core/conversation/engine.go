// Package conversation drives the question, answer and acknowledgment cycle
// of an interview through the external reasoning capability.
//
// Every operation has a local fallback. A failed, late, malformed or empty
// capability response is treated exactly like an unavailable capability; no
// error ever leaves this package.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/core/plan"
	"github.com/vango-go/vai-interview/pkg/core/types"
)

// FallbackAcknowledgment is spoken between turns when no bridge is available.
const FallbackAcknowledgment = "Got it, moving on."

// FallbackReasoning is the reasoning recorded on a fallback evaluation.
const FallbackReasoning = "evaluation failed: the reasoning capability was unavailable, score is a neutral default"

var fallbackQuestions = []string{
	"Tell me about yourself and the kind of engineering work you enjoy most.",
	"Describe a challenging technical problem you solved recently. How did you approach it?",
	"How do you make sure the code you ship is correct and maintainable?",
	"Tell me about a time you disagreed with a teammate on a technical decision. What happened?",
	"Walk me through how you would design a simple service for this role from scratch.",
}

// reserveQuestions follow fallbackQuestions when a short reasoning result is
// topped up. Together they cover the largest plan question count.
var reserveQuestions = []string{
	"What is a piece of your past work you would do differently today, and why?",
	"How do you debug a problem you cannot reproduce locally?",
	"Tell me about a time you had to learn an unfamiliar technology quickly.",
	"How do you decide when a feature is ready to ship?",
	"Describe how you review someone else's code.",
	"Tell me about a production incident you were involved in and what you changed afterwards.",
	"How do you balance delivery speed against technical debt?",
}

// FallbackQuestions returns a copy of the built-in question set.
func FallbackQuestions() []string {
	return append([]string(nil), fallbackQuestions...)
}

// Reasoner is the capability the engine calls. *core.Engine satisfies it.
type Reasoner interface {
	Reason(ctx context.Context, req *core.Request) (*core.Response, error)
}

// Outcome labels how an operation resolved, for metrics.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeFallback Outcome = "fallback"
)

// Config tunes the engine.
type Config struct {
	// AckMaxWords bounds a bridge acknowledgment.
	// Default: 30
	AckMaxWords int
	// DefaultScore is the overall score of a fallback evaluation.
	// Default: 50
	DefaultScore int
}

// DefaultConfig returns the standard engine configuration.
func DefaultConfig() Config {
	return Config{AckMaxWords: 30, DefaultScore: 50}
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig overrides the engine configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		if cfg.AckMaxWords > 0 {
			e.cfg.AckMaxWords = cfg.AckMaxWords
		}
		if cfg.DefaultScore > 0 {
			e.cfg.DefaultScore = types.ClampScore(cfg.DefaultScore)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithObserver receives the outcome and latency of every operation.
func WithObserver(fn func(op string, outcome Outcome, d time.Duration)) Option {
	return func(e *Engine) { e.observe = fn }
}

// Engine generates questions, bridges between turns and evaluates sessions.
type Engine struct {
	reasoner Reasoner
	cfg      Config
	logger   *slog.Logger
	observe  func(op string, outcome Outcome, d time.Duration)
}

// New creates an engine. A nil reasoner makes every call use its fallback.
func New(reasoner Reasoner, opts ...Option) *Engine {
	e := &Engine{
		reasoner: reasoner,
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// call runs one capability request and decodes its JSON into out.
func (e *Engine) call(ctx context.Context, op string, req *core.Request, out any) error {
	start := time.Now()
	err := e.callOnce(ctx, req, out)
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeFallback
		e.logger.Warn("reasoning fallback", "op", op, "plan", string(req.Plan), "tier", string(req.Tier), "error", err)
	}
	if e.observe != nil {
		e.observe(op, outcome, time.Since(start))
	}
	return err
}

func (e *Engine) callOnce(ctx context.Context, req *core.Request, out any) (err error) {
	if e.reasoner == nil {
		return fmt.Errorf("no reasoning capability configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reasoning capability panicked: %v", r)
		}
	}()
	resp, err := e.reasoner.Reason(ctx, req)
	if err != nil {
		return err
	}
	if resp == nil {
		return fmt.Errorf("empty response")
	}
	if out == nil {
		return nil
	}
	return resp.DecodeJSON(out)
}

// GenerateQuestions returns the ordered question set for a session. The
// count comes from limits.QuestionCount. Interactive plans get resume-aware
// questions; FREE questions depend only on the role. Any failure yields the
// built-in five-question set; a result shorter than the count is topped up
// from the built-in questions.
func (e *Engine) GenerateQuestions(ctx context.Context, role, resumeText string, limits plan.Limits) []string {
	n := limits.QuestionCount
	if n <= 0 {
		n = plan.Resolve(limits.Plan).QuestionCount
	}

	req := &core.Request{
		Tier:   limits.ReasoningTier,
		Plan:   limits.Plan,
		System: interviewerSystemPrompt,
		Prompt: questionsPrompt(role, resumeText, n, limits.Plan.Interactive()),
		Schema: questionsSchema,
	}
	var out struct {
		Questions []string `json:"questions"`
	}
	if err := e.call(ctx, "generate_questions", req, &out); err != nil {
		return FallbackQuestions()
	}

	questions := cleanQuestions(out.Questions)
	if len(questions) == 0 {
		e.logger.Warn("reasoning returned no usable questions; using fallback set", "plan", string(limits.Plan))
		return FallbackQuestions()
	}
	if len(questions) > n {
		questions = questions[:n]
	}
	if len(questions) < n {
		e.logger.Warn("reasoning returned too few questions; topping up from the built-in set",
			"plan", string(limits.Plan), "got", len(questions), "want", n)
		questions = topUp(questions, n)
	}
	return questions
}

// topUp appends built-in questions not already present until questions has
// n entries or the built-in bank is exhausted.
func topUp(questions []string, n int) []string {
	seen := make(map[string]bool, len(questions))
	for _, q := range questions {
		seen[strings.ToLower(q)] = true
	}
	for _, bank := range [][]string{fallbackQuestions, reserveQuestions} {
		for _, q := range bank {
			if len(questions) >= n {
				return questions
			}
			if seen[strings.ToLower(q)] {
				continue
			}
			seen[strings.ToLower(q)] = true
			questions = append(questions, q)
		}
	}
	return questions
}

func cleanQuestions(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, q := range in {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}

// Bridge returns a short acknowledgment of answer that transitions to the
// next turn without asking anything. It uses the fast tier on every plan.
func (e *Engine) Bridge(ctx context.Context, question, answer string, limits plan.Limits) string {
	req := &core.Request{
		Tier:   plan.TierFast,
		Plan:   limits.Plan,
		System: interviewerSystemPrompt,
		Prompt: bridgePrompt(question, answer, e.cfg.AckMaxWords),
		Schema: bridgeSchema,
	}
	var out struct {
		Acknowledgment string `json:"acknowledgment"`
	}
	if err := e.call(ctx, "bridge", req, &out); err != nil {
		return FallbackAcknowledgment
	}
	ack := boundAcknowledgment(out.Acknowledgment, e.cfg.AckMaxWords)
	if ack == "" {
		return FallbackAcknowledgment
	}
	return ack
}

// boundAcknowledgment drops any sentence that asks a question and truncates
// to maxWords words.
func boundAcknowledgment(s string, maxWords int) string {
	var kept []string
	for _, sentence := range splitSentences(s) {
		if strings.Contains(sentence, "?") {
			continue
		}
		kept = append(kept, sentence)
	}
	words := strings.Fields(strings.Join(kept, " "))
	if len(words) == 0 {
		return ""
	}
	if maxWords > 0 && len(words) > maxWords {
		words = words[:maxWords]
	}
	out := strings.Join(words, " ")
	if !strings.ContainsAny(out[len(out)-1:], ".!") {
		out += "."
	}
	return out
}

func splitSentences(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			if part := strings.TrimSpace(s[start : i+1]); part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// EvaluationInput is everything the final evaluation sees.
type EvaluationInput struct {
	Role       string
	ResumeText string
	Transcript string
	Incidents  []types.ProctoringLog
	Limits     plan.Limits
}

// Evaluate produces the session's final evaluation. On any failure it returns
// FallbackEvaluation.
func (e *Engine) Evaluate(ctx context.Context, in EvaluationInput) types.FinalEvaluation {
	req := &core.Request{
		Tier:   in.Limits.ReasoningTier,
		Plan:   in.Limits.Plan,
		System: evaluatorSystemPrompt,
		Prompt: evaluationPrompt(in),
		Schema: evaluationSchema,
	}
	var out evaluationJSON
	if err := e.call(ctx, "evaluate", req, &out); err != nil {
		return e.FallbackEvaluation()
	}
	if strings.TrimSpace(out.Reasoning) == "" && out.OverallScore == nil {
		e.logger.Warn("evaluation response missing required fields; using fallback")
		return e.FallbackEvaluation()
	}
	return out.toEvaluation(e.cfg.DefaultScore)
}

// FallbackEvaluation is the deterministic evaluation used when the capability
// cannot produce one.
func (e *Engine) FallbackEvaluation() types.FinalEvaluation {
	return types.FinalEvaluation{
		OverallScore: e.cfg.DefaultScore,
		Metrics:      []types.EvaluationMetric{},
		IsFit:        false,
		Reasoning:    FallbackReasoning,
	}
}

type evaluationJSON struct {
	OverallScore *int `json:"overall_score"`
	Metrics      []struct {
		Name     string `json:"name"`
		Score    int    `json:"score"`
		Feedback string `json:"feedback"`
	} `json:"metrics"`
	IsFit          bool   `json:"is_fit"`
	Reasoning      string `json:"reasoning"`
	BehavioralNote string `json:"behavioral_note"`
}

func (j evaluationJSON) toEvaluation(defaultScore int) types.FinalEvaluation {
	score := defaultScore
	if j.OverallScore != nil {
		score = *j.OverallScore
	}
	ev := types.FinalEvaluation{
		OverallScore:   types.ClampScore(score),
		Metrics:        make([]types.EvaluationMetric, 0, len(j.Metrics)),
		IsFit:          j.IsFit,
		Reasoning:      strings.TrimSpace(j.Reasoning),
		BehavioralNote: strings.TrimSpace(j.BehavioralNote),
	}
	for _, m := range j.Metrics {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			continue
		}
		ev.Metrics = append(ev.Metrics, types.EvaluationMetric{
			Name:     name,
			Score:    types.ClampScore(m.Score),
			Feedback: strings.TrimSpace(m.Feedback),
		})
	}
	if ev.Reasoning == "" {
		ev.Reasoning = "no reasoning provided"
	}
	return ev
}

// AnswerScores are per-turn sub-scores.
type AnswerScores struct {
	Tech      int
	Comm      int
	Overfit   int
	AIFlagged bool
}

// ScoreAnswer scores one answer. It only runs for plans with priority AI
// scoring and reports false when no scores are available.
func (e *Engine) ScoreAnswer(ctx context.Context, question, answer string, limits plan.Limits) (AnswerScores, bool) {
	if !limits.PriorityAIScoring || strings.TrimSpace(answer) == "" {
		return AnswerScores{}, false
	}
	req := &core.Request{
		Tier:   limits.ReasoningTier,
		Plan:   limits.Plan,
		System: evaluatorSystemPrompt,
		Prompt: scorePrompt(question, answer),
		Schema: scoreSchema,
	}
	var out struct {
		TechScore    int  `json:"tech_score"`
		CommScore    int  `json:"comm_score"`
		OverfitScore int  `json:"overfit_score"`
		AIFlagged    bool `json:"ai_flagged"`
	}
	if err := e.call(ctx, "score_answer", req, &out); err != nil {
		return AnswerScores{}, false
	}
	return AnswerScores{
		Tech:      types.ClampScore(out.TechScore),
		Comm:      types.ClampScore(out.CommScore),
		Overfit:   types.ClampScore(out.OverfitScore),
		AIFlagged: out.AIFlagged,
	}, true
}
