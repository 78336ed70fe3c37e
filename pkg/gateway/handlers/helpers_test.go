package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vango-go/vai-interview/pkg/core/conversation"
	"github.com/vango-go/vai-interview/pkg/core/plan"
	"github.com/vango-go/vai-interview/pkg/core/session"
	"github.com/vango-go/vai-interview/pkg/core/types"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
)

type scriptedConversation struct {
	questions []string
}

func (c *scriptedConversation) GenerateQuestions(ctx context.Context, role, resumeText string, limits plan.Limits) []string {
	return append([]string(nil), c.questions...)
}

func (c *scriptedConversation) Bridge(ctx context.Context, question, answer string, limits plan.Limits) string {
	return "Thanks."
}

func (c *scriptedConversation) Evaluate(ctx context.Context, in conversation.EvaluationInput) types.FinalEvaluation {
	return types.FinalEvaluation{OverallScore: 60, Reasoning: "ok"}
}

func (c *scriptedConversation) ScoreAnswer(ctx context.Context, question, answer string, limits plan.Limits) (conversation.AnswerScores, bool) {
	return conversation.AnswerScores{}, false
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() config.Config {
	return config.Config{
		AuthMode:              config.AuthModeDisabled,
		APIKeys:               map[string]string{},
		CORSAllowedOrigins:    map[string]struct{}{},
		MaxBodyBytes:          1 << 20,
		HandlerTimeout:        5 * time.Second,
		ReadHeaderTimeout:     time.Second,
		ReadTimeout:           time.Second,
		SilenceTimeout:        time.Minute,
		ReconnectGrace:        time.Minute,
		WSMaxSessions:         10,
		WSSamplesPerSecond:    30,
		WSSampleBurst:         30,
		LiveWSPingInterval:    time.Hour,
		LiveWSWriteTimeout:    time.Second,
		LiveHandshakeTimeout:  2 * time.Second,
		InterruptionThreshold: 3,
	}
}

func newTestOrchestrator(t *testing.T, store *session.MemoryStore, questions ...string) *session.Orchestrator {
	t.Helper()
	o := session.New(store, &scriptedConversation{questions: questions}, session.WithLogger(discardLogger()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = o.Close(ctx)
	})
	return o
}

func seedJob(t *testing.T, store *session.MemoryStore, id, company string, p plan.Plan) *types.JobPosting {
	t.Helper()
	job := &types.JobPosting{ID: id, CompanyID: company, Role: "Backend Engineer", Sensors: types.AllSensors(), PlanAtCreation: p}
	if err := store.SaveJob(context.Background(), job); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	return job
}

func seedCandidate(t *testing.T, store *session.MemoryStore, id, jobID string) *types.Candidate {
	t.Helper()
	c := &types.Candidate{ID: id, JobID: jobID, Name: "Sam", Email: "sam@example.com", Status: types.CandidatePending}
	if err := store.SaveCandidate(context.Background(), c); err != nil {
		t.Fatalf("SaveCandidate: %v", err)
	}
	return c
}

func postJSON(t *testing.T, h http.Handler, path string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
		t.Fatalf("encode: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if mutate != nil {
		mutate(req)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal %q: %v", rr.Body.String(), err)
	}
	return m
}

func errorField(t *testing.T, rr *httptest.ResponseRecorder, field string) string {
	t.Helper()
	m := decodeMap(t, rr)
	e, _ := m["error"].(map[string]any)
	s, _ := e[field].(string)
	return s
}
