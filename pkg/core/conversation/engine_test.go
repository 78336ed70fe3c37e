package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/core/plan"
	"github.com/vango-go/vai-interview/pkg/core/types"
)

type fakeReasoner struct {
	mu    sync.Mutex
	reqs  []*core.Request
	texts []string
	err   error
	panic bool
}

func (f *fakeReasoner) Reason(ctx context.Context, req *core.Request) (*core.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.panic {
		panic("boom")
	}
	if f.err != nil {
		return nil, f.err
	}
	if len(f.texts) == 0 {
		return &core.Response{Text: ""}, nil
	}
	text := f.texts[0]
	f.texts = f.texts[1:]
	return &core.Response{Text: text}, nil
}

func (f *fakeReasoner) last() *core.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reqs) == 0 {
		return nil
	}
	return f.reqs[len(f.reqs)-1]
}

func numberedQuestions(n int) string {
	qs := make([]string, n)
	for i := range qs {
		qs[i] = fmt.Sprintf("%q", fmt.Sprintf("Question %d?", i+1))
	}
	return `{"questions":[` + strings.Join(qs, ",") + `]}`
}

func TestGenerateQuestions_FreeUsesPlanCountAndIgnoresResume(t *testing.T) {
	r := &fakeReasoner{texts: []string{numberedQuestions(12)}}
	e := New(r)

	got := e.GenerateQuestions(context.Background(), "Backend Engineer", "secret resume details", plan.Resolve(plan.Free))
	if len(got) != 10 {
		t.Fatalf("len(questions)=%d, want 10", len(got))
	}
	req := r.last()
	if strings.Contains(req.Prompt, "secret resume details") {
		t.Fatalf("FREE prompt must not include the resume")
	}
	if req.Tier != plan.TierFast {
		t.Fatalf("tier=%q, want fast", req.Tier)
	}
}

func TestGenerateQuestions_InteractiveIncludesResume(t *testing.T) {
	r := &fakeReasoner{texts: []string{numberedQuestions(8)}}
	e := New(r)

	got := e.GenerateQuestions(context.Background(), "Backend Engineer", "built a payments ledger", plan.Resolve(plan.Pro))
	if len(got) != 8 {
		t.Fatalf("len(questions)=%d, want 8", len(got))
	}
	req := r.last()
	if !strings.Contains(req.Prompt, "built a payments ledger") {
		t.Fatalf("PRO prompt should include the resume")
	}
	if req.Tier != plan.TierHigh {
		t.Fatalf("tier=%q, want high", req.Tier)
	}
}

func TestGenerateQuestions_ShortResultIsToppedUp(t *testing.T) {
	r := &fakeReasoner{texts: []string{`{"questions":["a?","b?","c?"]}`}}
	e := New(r)

	got := e.GenerateQuestions(context.Background(), "Backend Engineer", "", plan.Resolve(plan.Free))
	if len(got) != 10 {
		t.Fatalf("len(questions)=%d, want 10", len(got))
	}
	if got[0] != "a?" || got[2] != "c?" || got[3] != fallbackQuestions[0] {
		t.Fatalf("questions=%v, want reasoning results first then the fallback set", got)
	}
	seen := map[string]bool{}
	for _, q := range got {
		if seen[q] {
			t.Fatalf("duplicate question %q in %v", q, got)
		}
		seen[q] = true
	}
}

func TestTopUp_SkipsDuplicatesAndCoversLargestPlan(t *testing.T) {
	got := topUp([]string{strings.ToUpper(fallbackQuestions[0])}, 3)
	if len(got) != 3 || got[1] != fallbackQuestions[1] {
		t.Fatalf("topUp=%v", got)
	}
	for _, p := range plan.All() {
		n := plan.Resolve(p).QuestionCount
		if got := topUp(nil, n); len(got) != n {
			t.Fatalf("%s: topUp(nil, %d) has %d questions", p, n, len(got))
		}
	}
}

func TestGenerateQuestions_OutageUsesFallbackSet(t *testing.T) {
	e := New(&fakeReasoner{err: errors.New("unavailable")})

	got := e.GenerateQuestions(context.Background(), "SRE", "", plan.Resolve(plan.Pro))
	want := FallbackQuestions()
	if len(got) != 5 || len(want) != 5 {
		t.Fatalf("len(questions)=%d, want 5", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("questions[%d]=%q, want %q", i, got[i], want[i])
		}
	}
}

func TestGenerateQuestions_MalformedAndEmptyUseFallback(t *testing.T) {
	for _, text := range []string{"not json at all", `{"questions":[]}`, `{"questions":["  ",""]}`} {
		e := New(&fakeReasoner{texts: []string{text}})
		got := e.GenerateQuestions(context.Background(), "SRE", "", plan.Resolve(plan.Free))
		if len(got) != 5 || got[0] != fallbackQuestions[0] {
			t.Fatalf("text %q: got %v, want fallback set", text, got)
		}
	}
}

func TestGenerateQuestions_DedupesAndTrims(t *testing.T) {
	r := &fakeReasoner{texts: []string{`{"questions":["  What is Go? ","what is go?","Explain channels."]}`}}
	got := New(r).GenerateQuestions(context.Background(), "Go dev", "", plan.Resolve(plan.Free))
	if len(got) != 2 || got[0] != "What is Go?" || got[1] != "Explain channels." {
		t.Fatalf("questions=%v", got)
	}
}

func TestGenerateQuestions_NilReasonerAndPanicFallBack(t *testing.T) {
	if got := New(nil).GenerateQuestions(context.Background(), "x", "", plan.Resolve(plan.Free)); len(got) != 5 {
		t.Fatalf("nil reasoner: len=%d, want 5", len(got))
	}
	if got := New(&fakeReasoner{panic: true}).GenerateQuestions(context.Background(), "x", "", plan.Resolve(plan.Free)); len(got) != 5 {
		t.Fatalf("panicking reasoner: len=%d, want 5", len(got))
	}
}

func TestBridge_BoundsAcknowledgment(t *testing.T) {
	long := strings.Repeat("word ", 50)
	r := &fakeReasoner{texts: []string{
		`{"acknowledgment":"Thanks for that. Could you elaborate? Let's continue."}`,
		`{"acknowledgment":"` + long + `"}`,
	}}
	e := New(r)
	limits := plan.Resolve(plan.Ultra)

	got := e.Bridge(context.Background(), "Q", "A", limits)
	if strings.Contains(got, "?") {
		t.Fatalf("acknowledgment %q contains a question", got)
	}
	if got != "Thanks for that. Let's continue." {
		t.Fatalf("acknowledgment=%q", got)
	}
	if r.last().Tier != plan.TierFast {
		t.Fatalf("bridge tier=%q, want fast", r.last().Tier)
	}

	got = e.Bridge(context.Background(), "Q", "A", limits)
	if n := len(strings.Fields(got)); n != DefaultConfig().AckMaxWords {
		t.Fatalf("word count=%d, want %d", n, DefaultConfig().AckMaxWords)
	}
}

func TestBridge_Fallbacks(t *testing.T) {
	limits := plan.Resolve(plan.Free)
	cases := []*fakeReasoner{
		{err: errors.New("down")},
		{texts: []string{`{"acknowledgment":"Why?"}`}},
		{texts: []string{`garbage`}},
	}
	for i, r := range cases {
		if got := New(r).Bridge(context.Background(), "Q", "A", limits); got != FallbackAcknowledgment {
			t.Fatalf("case %d: got %q, want fallback", i, got)
		}
	}
}

func TestEvaluate_ClampsScores(t *testing.T) {
	r := &fakeReasoner{texts: []string{`{
		"overall_score": 140,
		"metrics": [{"name":"Technical depth","score":-5,"feedback":"thin"},{"name":"","score":50,"feedback":"x"}],
		"is_fit": true,
		"reasoning": "strong systems answers"
	}`}}
	ev := New(r).Evaluate(context.Background(), EvaluationInput{Role: "SRE", Limits: plan.Resolve(plan.Pro)})
	if ev.OverallScore != 100 {
		t.Fatalf("OverallScore=%d, want 100", ev.OverallScore)
	}
	if len(ev.Metrics) != 1 || ev.Metrics[0].Score != 0 {
		t.Fatalf("metrics=%+v", ev.Metrics)
	}
	if !ev.IsFit || ev.Reasoning != "strong systems answers" {
		t.Fatalf("evaluation=%+v", ev)
	}
}

func TestEvaluate_FallbackIsDeterministic(t *testing.T) {
	e := New(&fakeReasoner{err: errors.New("down")})
	in := EvaluationInput{
		Role:      "SRE",
		Incidents: []types.ProctoringLog{{Type: types.IncidentTabSwitch, Severity: types.SeverityMedium}},
		Limits:    plan.Resolve(plan.Free),
	}
	a := e.Evaluate(context.Background(), in)
	b := e.Evaluate(context.Background(), in)
	if a.OverallScore != 50 || a.IsFit {
		t.Fatalf("fallback=%+v, want score 50 and not fit", a)
	}
	if !strings.HasPrefix(a.Reasoning, "evaluation failed") {
		t.Fatalf("reasoning=%q", a.Reasoning)
	}
	if a.Metrics == nil || len(a.Metrics) != 0 {
		t.Fatalf("metrics=%v, want empty non-nil", a.Metrics)
	}
	if a.OverallScore != b.OverallScore || a.Reasoning != b.Reasoning || a.IsFit != b.IsFit {
		t.Fatalf("fallback not deterministic: %+v vs %+v", a, b)
	}
}

func TestEvaluate_PromptCarriesIncidents(t *testing.T) {
	r := &fakeReasoner{texts: []string{`{"overall_score":70,"metrics":[],"is_fit":true,"reasoning":"ok"}`}}
	New(r).Evaluate(context.Background(), EvaluationInput{
		Role:       "SRE",
		Transcript: "Q1: hi\nA1: hello",
		Incidents:  []types.ProctoringLog{{Type: types.IncidentMultipleFaces, Severity: types.SeverityHigh, Detail: "2 faces"}},
		Limits:     plan.Resolve(plan.Ultra),
	})
	p := r.last().Prompt
	if !strings.Contains(p, "multiple_faces") || !strings.Contains(p, "A1: hello") {
		t.Fatalf("prompt missing incidents or transcript:\n%s", p)
	}
}

func TestScoreAnswer_OnlyWithPriorityScoring(t *testing.T) {
	r := &fakeReasoner{texts: []string{`{"tech_score":80,"comm_score":120,"overfit_score":10,"ai_flagged":false}`}}
	e := New(r)

	if _, ok := e.ScoreAnswer(context.Background(), "Q", "A", plan.Resolve(plan.Pro)); ok {
		t.Fatalf("PRO should not score answers")
	}
	if len(r.reqs) != 0 {
		t.Fatalf("reasoner called %d times for PRO", len(r.reqs))
	}

	scores, ok := e.ScoreAnswer(context.Background(), "Q", "A", plan.Resolve(plan.Ultra))
	if !ok {
		t.Fatalf("ULTRA should score answers")
	}
	if scores.Tech != 80 || scores.Comm != 100 || scores.Overfit != 10 {
		t.Fatalf("scores=%+v", scores)
	}
}

func TestObserverSeesOutcomes(t *testing.T) {
	var got []Outcome
	e := New(&fakeReasoner{err: errors.New("down")}, WithObserver(func(op string, o Outcome, d time.Duration) {
		got = append(got, o)
	}))
	e.Bridge(context.Background(), "Q", "A", plan.Resolve(plan.Free))
	if len(got) != 1 || got[0] != OutcomeFallback {
		t.Fatalf("outcomes=%v", got)
	}
}
