package proctor

import (
	"errors"
	"testing"
	"time"

	"github.com/vango-go/vai-interview/pkg/core/plan"
	"github.com/vango-go/vai-interview/pkg/core/types"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time { return t0.Add(d) }

func faces(d time.Duration, n int) Sample {
	return Sample{At: at(d), Kind: KindFaceCount, FaceCount: n}
}

func gaze(d time.Duration, yaw, pitch float64) Sample {
	return Sample{At: at(d), Kind: KindGaze, Yaw: yaw, Pitch: pitch}
}

func mustObserve(t *testing.T, a *Aggregator, s Sample) []Incident {
	t.Helper()
	out, err := a.Observe(s)
	if err != nil {
		t.Fatalf("Observe(%+v): %v", s, err)
	}
	return out
}

func TestSubscriptions_FollowPlan(t *testing.T) {
	free := New(plan.Resolve(plan.Free), DefaultConfig())
	if free.Subscribed(SensorGaze) {
		t.Fatalf("free plan subscribed to gaze")
	}
	if !free.Subscribed(SensorFaceCount) || !free.Subscribed(SensorTabVisibility) {
		t.Fatalf("free subscriptions=%v", free.Subscriptions())
	}
	if _, err := free.Observe(gaze(0, 40, 0)); !errors.Is(err, ErrSensorNotSubscribed) {
		t.Fatalf("gaze on free err=%v, want ErrSensorNotSubscribed", err)
	}

	ultra := New(plan.Resolve(plan.Ultra), DefaultConfig())
	if got := len(ultra.Subscriptions()); got != 3 {
		t.Fatalf("ultra subscriptions=%v, want 3", ultra.Subscriptions())
	}
}

func TestFree_NeverEmitsMultipleFaces(t *testing.T) {
	a := New(plan.Resolve(plan.Free), DefaultConfig())
	for i := 0; i <= 30; i++ {
		for _, inc := range mustObserve(t, a, faces(time.Duration(i)*time.Second, 3)) {
			if inc.Type == types.IncidentMultipleFaces {
				t.Fatalf("free plan emitted multiple_faces")
			}
		}
	}
}

func TestTabHidden_ImmediateMediumIncident(t *testing.T) {
	a := New(plan.Resolve(plan.Pro), DefaultConfig())
	out := mustObserve(t, a, Sample{At: at(0), Kind: KindTabHidden})
	if len(out) != 1 || out[0].Type != types.IncidentTabSwitch || out[0].Severity != types.SeverityMedium {
		t.Fatalf("got %+v, want one medium tab_switch", out)
	}
	if out := mustObserve(t, a, Sample{At: at(2 * time.Second), Kind: KindTabVisible}); len(out) != 0 {
		t.Fatalf("tab_visible emitted %+v", out)
	}
	if out := mustObserve(t, a, Sample{At: at(3 * time.Second), Kind: KindTabHidden}); len(out) != 1 {
		t.Fatalf("second switch emitted %d incidents, want 1", len(out))
	}
	if a.WarningCount() != 2 {
		t.Fatalf("WarningCount=%d, want 2", a.WarningCount())
	}
}

func TestTabHidden_RepeatedWithoutVisibleStillEmits(t *testing.T) {
	a := New(plan.Resolve(plan.Free), DefaultConfig())
	for i := 0; i < 3; i++ {
		out := mustObserve(t, a, Sample{At: at(time.Duration(i) * time.Second), Kind: KindTabHidden})
		if len(out) != 1 || out[0].Type != types.IncidentTabSwitch {
			t.Fatalf("hidden #%d emitted %+v, want one tab_switch", i+1, out)
		}
	}
	if a.WarningCount() != 3 {
		t.Fatalf("WarningCount=%d, want 3", a.WarningCount())
	}
}

func TestNoFace_ThresholdBoundary(t *testing.T) {
	limits := plan.Resolve(plan.Pro)
	threshold := limits.NoFaceThreshold

	a := New(limits, DefaultConfig())
	for i := 0; i < threshold; i++ {
		if out := mustObserve(t, a, faces(time.Duration(i)*time.Second, 0)); len(out) != 0 {
			t.Fatalf("emitted at %ds (threshold-1 sustain): %+v", i, out)
		}
	}

	out := mustObserve(t, a, faces(time.Duration(threshold)*time.Second, 0))
	if len(out) != 1 || out[0].Type != types.IncidentNoFace || out[0].Severity != types.SeverityHigh {
		t.Fatalf("at threshold got %+v, want one high no_face", out)
	}
	if out := mustObserve(t, a, faces(time.Duration(threshold+3)*time.Second, 0)); len(out) != 0 {
		t.Fatalf("same episode emitted again: %+v", out)
	}
}

func TestNoFace_ResetByFacePresent(t *testing.T) {
	limits := plan.Resolve(plan.Pro)
	a := New(limits, DefaultConfig())
	mustObserve(t, a, faces(0, 0))
	mustObserve(t, a, faces(4*time.Second, 0))
	mustObserve(t, a, faces(4500*time.Millisecond, 1))
	if out := mustObserve(t, a, faces(6*time.Second, 0)); len(out) != 0 {
		t.Fatalf("timer not reset: %+v", out)
	}
	if out := mustObserve(t, a, faces(10*time.Second, 0)); len(out) != 0 {
		t.Fatalf("emitted before new episode reached threshold: %+v", out)
	}
	if out := mustObserve(t, a, faces(11*time.Second, 0)); len(out) != 1 {
		t.Fatalf("new episode at threshold emitted %d, want 1", len(out))
	}
}

func TestMultipleFaces_Sustained(t *testing.T) {
	limits := plan.Resolve(plan.Ultra)
	a := New(limits, DefaultConfig())
	mustObserve(t, a, faces(0, 2))
	if out := mustObserve(t, a, faces(time.Second, 3)); len(out) != 0 {
		t.Fatalf("emitted before threshold: %+v", out)
	}
	out := mustObserve(t, a, faces(2*time.Second, 2))
	if len(out) != 1 || out[0].Type != types.IncidentMultipleFaces || out[0].Severity != types.SeverityHigh {
		t.Fatalf("got %+v, want one high multiple_faces", out)
	}
}

func TestZeroThresholdMeansInapplicable(t *testing.T) {
	limits := plan.Resolve(plan.Pro)
	limits.NoFaceThreshold = 0
	limits.MultiFaceThreshold = 0
	a := New(limits, DefaultConfig())
	if a.Subscribed(SensorFaceCount) {
		t.Fatalf("face sensor subscribed with both thresholds 0")
	}
}

func TestGaze_DebounceAndCoalesce(t *testing.T) {
	a := New(plan.Resolve(plan.Pro), DefaultConfig())

	if out := mustObserve(t, a, gaze(0, 35, 0)); len(out) != 0 {
		t.Fatalf("emitted before debounce: %+v", out)
	}
	out := mustObserve(t, a, gaze(400*time.Millisecond, 35, 0))
	if len(out) != 1 || out[0].Type != types.IncidentEyeDistraction || out[0].Severity != types.SeverityLow {
		t.Fatalf("got %+v, want one low eye_distraction", out)
	}

	// New episode inside the coalesce window is suppressed.
	mustObserve(t, a, gaze(500*time.Millisecond, 0, 0))
	mustObserve(t, a, gaze(600*time.Millisecond, 0, -30))
	if out := mustObserve(t, a, gaze(1000*time.Millisecond, 0, -30)); len(out) != 0 {
		t.Fatalf("emitted within coalesce window: %+v", out)
	}
	if out := mustObserve(t, a, gaze(1500*time.Millisecond, 0, -30)); len(out) != 1 {
		t.Fatalf("emitted %d after coalesce window, want 1", len(out))
	}
}

func TestGaze_BelowThresholdIgnored(t *testing.T) {
	a := New(plan.Resolve(plan.Pro), DefaultConfig())
	for i := 0; i < 20; i++ {
		if out := mustObserve(t, a, gaze(time.Duration(i)*100*time.Millisecond, 29.9, 24.9)); len(out) != 0 {
			t.Fatalf("below-threshold gaze emitted %+v", out)
		}
	}
}

func TestSensorUnavailable_LoggedOnceAndDisables(t *testing.T) {
	a := New(plan.Resolve(plan.Ultra), DefaultConfig())
	inc, ok := a.SensorUnavailable(SensorFaceCount, "camera permission denied", at(0))
	if !ok || inc.Type != types.IncidentOther || inc.Severity != types.SeverityLow {
		t.Fatalf("got %+v ok=%v, want other/low", inc, ok)
	}
	if _, ok := a.SensorUnavailable(SensorFaceCount, "again", at(time.Second)); ok {
		t.Fatalf("second unavailability logged again")
	}
	if _, err := a.Observe(faces(2*time.Second, 0)); !errors.Is(err, ErrSensorNotSubscribed) {
		t.Fatalf("sample after disable err=%v", err)
	}
	for _, s := range a.Subscriptions() {
		if s == SensorFaceCount {
			t.Fatalf("disabled sensor still listed")
		}
	}
	if a.WarningCount() != 1 {
		t.Fatalf("WarningCount=%d, want 1", a.WarningCount())
	}

	free := New(plan.Resolve(plan.Free), DefaultConfig())
	if _, ok := free.SensorUnavailable(SensorGaze, "no camera", at(0)); ok {
		t.Fatalf("unsubscribed sensor produced an incident")
	}
}

func TestObserve_RejectsOutOfOrder(t *testing.T) {
	a := New(plan.Resolve(plan.Pro), DefaultConfig())
	mustObserve(t, a, faces(2*time.Second, 1))
	if _, err := a.Observe(faces(time.Second, 1)); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("err=%v, want ErrOutOfOrder", err)
	}
}
