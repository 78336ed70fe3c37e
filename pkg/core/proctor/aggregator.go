// Package proctor turns raw proctoring sensor samples into classified
// incidents.
//
// An Aggregator belongs to exactly one session and is driven by that
// session's event loop, so it does no locking of its own. Time is taken from
// the samples, never from a wall clock, which makes every decision
// reproducible from the sample stream alone.
package proctor

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/vango-go/vai-interview/pkg/core/plan"
	"github.com/vango-go/vai-interview/pkg/core/types"
)

var (
	// ErrSensorNotSubscribed is returned for a sample from a sensor the
	// session never subscribed to, or one disabled after it became unavailable.
	ErrSensorNotSubscribed = errors.New("sensor not subscribed")
	// ErrOutOfOrder is returned for a sample older than the last one seen.
	ErrOutOfOrder = errors.New("sample timestamp is not monotonic")
	// ErrUnknownSampleKind is returned when parsing an unknown sample kind.
	ErrUnknownSampleKind = errors.New("unknown sample kind")
)

// Sensor identifies a capture source.
type Sensor string

const (
	SensorTabVisibility Sensor = "tab_visibility"
	SensorFaceCount     Sensor = "face_count"
	SensorGaze          Sensor = "gaze"
)

// ParseSensor rejects unknown sensors.
func ParseSensor(s string) (Sensor, error) {
	switch v := Sensor(strings.ToLower(strings.TrimSpace(s))); v {
	case SensorTabVisibility, SensorFaceCount, SensorGaze:
		return v, nil
	default:
		return "", fmt.Errorf("unknown sensor %q", s)
	}
}

// SampleKind is the kind of a raw sensor sample.
type SampleKind string

const (
	KindTabHidden  SampleKind = "tab_hidden"
	KindTabVisible SampleKind = "tab_visible"
	KindFaceCount  SampleKind = "face_count"
	KindGaze       SampleKind = "gaze"
)

// ParseSampleKind rejects unknown sample kinds.
func ParseSampleKind(s string) (SampleKind, error) {
	switch v := SampleKind(strings.ToLower(strings.TrimSpace(s))); v {
	case KindTabHidden, KindTabVisible, KindFaceCount, KindGaze:
		return v, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSampleKind, s)
	}
}

// Sensor returns the capture source that produces samples of kind k.
func (k SampleKind) Sensor() Sensor {
	switch k {
	case KindTabHidden, KindTabVisible:
		return SensorTabVisibility
	case KindFaceCount:
		return SensorFaceCount
	case KindGaze:
		return SensorGaze
	default:
		return ""
	}
}

// Sample is one timestamped sensor reading. FaceCount is read for
// KindFaceCount, Yaw and Pitch (degrees) for KindGaze.
type Sample struct {
	At        time.Time
	Kind      SampleKind
	FaceCount int
	Yaw       float64
	Pitch     float64
}

// Incident is a classified proctoring event.
type Incident struct {
	At       time.Time
	Type     types.IncidentType
	Severity types.Severity
	Detail   string
}

// Log converts the incident to its persisted form.
func (i Incident) Log(id string) types.ProctoringLog {
	return types.ProctoringLog{
		ID:        id,
		Timestamp: i.At,
		Type:      i.Type,
		Severity:  i.Severity,
		Detail:    i.Detail,
	}
}

// Config tunes the gaze check. Face thresholds come from the plan.
type Config struct {
	YawThreshold   float64
	PitchThreshold float64
	// GazeDebounce is how long a diversion must persist before it counts.
	GazeDebounce time.Duration
	// GazeCoalesce is the minimum spacing between two eye_distraction incidents.
	GazeCoalesce time.Duration
}

// DefaultConfig returns the standard gaze thresholds.
func DefaultConfig() Config {
	return Config{
		YawThreshold:   30,
		PitchThreshold: 25,
		GazeDebounce:   300 * time.Millisecond,
		GazeCoalesce:   time.Second,
	}
}

type episode struct {
	active bool
	since  time.Time
	fired  bool
}

func (e *episode) observe(at time.Time) {
	if !e.active {
		e.active = true
		e.since = at
		e.fired = false
	}
}

func (e *episode) reset() { *e = episode{} }

func (e *episode) due(at time.Time, threshold time.Duration) bool {
	return e.active && !e.fired && at.Sub(e.since) >= threshold
}

// Aggregator classifies samples for one session.
type Aggregator struct {
	limits plan.Limits
	cfg    Config

	subscribed map[Sensor]bool
	disabled   map[Sensor]bool

	last      time.Time
	noFace    episode
	multiFace episode
	gaze      episode
	lastGaze  time.Time

	warnings int
}

// New builds an aggregator subscribed to the sensors limits enable.
func New(limits plan.Limits, cfg Config) *Aggregator {
	def := DefaultConfig()
	if cfg.YawThreshold <= 0 {
		cfg.YawThreshold = def.YawThreshold
	}
	if cfg.PitchThreshold <= 0 {
		cfg.PitchThreshold = def.PitchThreshold
	}
	if cfg.GazeDebounce < 0 {
		cfg.GazeDebounce = def.GazeDebounce
	}
	if cfg.GazeCoalesce <= 0 {
		cfg.GazeCoalesce = def.GazeCoalesce
	}

	a := &Aggregator{
		limits:     limits,
		cfg:        cfg,
		subscribed: make(map[Sensor]bool),
		disabled:   make(map[Sensor]bool),
	}
	if limits.BrowserSafety {
		a.subscribed[SensorTabVisibility] = true
	}
	if a.noFaceEnabled() || a.multiFaceEnabled() {
		a.subscribed[SensorFaceCount] = true
	}
	if limits.EyeTracking {
		a.subscribed[SensorGaze] = true
	}
	return a
}

func (a *Aggregator) noFaceEnabled() bool {
	return a.limits.NoFaceDetection && a.limits.NoFaceThreshold > 0
}

func (a *Aggregator) multiFaceEnabled() bool {
	return a.limits.MultiFaceDetection && a.limits.MultiFaceThreshold > 0
}

// Subscriptions lists the sensors the host should capture, sorted.
func (a *Aggregator) Subscriptions() []Sensor {
	out := make([]Sensor, 0, len(a.subscribed))
	for s := range a.subscribed {
		if !a.disabled[s] {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Subscribed reports whether samples from s are accepted.
func (a *Aggregator) Subscribed(s Sensor) bool {
	return a.subscribed[s] && !a.disabled[s]
}

// WarningCount is the number of incidents emitted so far.
func (a *Aggregator) WarningCount() int { return a.warnings }

// Observe classifies one sample. Incidents are returned in emission order.
func (a *Aggregator) Observe(s Sample) ([]Incident, error) {
	sensor := s.Kind.Sensor()
	if sensor == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSampleKind, string(s.Kind))
	}
	if !a.Subscribed(sensor) {
		return nil, fmt.Errorf("%w: %s", ErrSensorNotSubscribed, sensor)
	}
	if s.At.Before(a.last) {
		return nil, ErrOutOfOrder
	}
	a.last = s.At

	var out []Incident
	switch s.Kind {
	case KindTabHidden:
		// Every report counts; clients send one per visibilitychange.
		out = append(out, a.emit(s.At, types.IncidentTabSwitch, types.SeverityMedium, "tab hidden"))
	case KindFaceCount:
		out = a.observeFaces(s, out)
	case KindGaze:
		out = a.observeGaze(s, out)
	}
	return out, nil
}

func (a *Aggregator) observeFaces(s Sample, out []Incident) []Incident {
	n := s.FaceCount
	if n < 0 {
		n = 0
	}

	if n == 0 && a.noFaceEnabled() {
		a.noFace.observe(s.At)
		if a.noFace.due(s.At, seconds(a.limits.NoFaceThreshold)) {
			a.noFace.fired = true
			out = append(out, a.emit(s.At, types.IncidentNoFace, types.SeverityHigh,
				fmt.Sprintf("no face for %ds", a.limits.NoFaceThreshold)))
		}
	} else {
		a.noFace.reset()
	}

	if n >= 2 && a.multiFaceEnabled() {
		a.multiFace.observe(s.At)
		if a.multiFace.due(s.At, seconds(a.limits.MultiFaceThreshold)) {
			a.multiFace.fired = true
			out = append(out, a.emit(s.At, types.IncidentMultipleFaces, types.SeverityHigh,
				fmt.Sprintf("%d faces for %ds", n, a.limits.MultiFaceThreshold)))
		}
	} else {
		a.multiFace.reset()
	}
	return out
}

func (a *Aggregator) observeGaze(s Sample, out []Incident) []Incident {
	diverted := math.Abs(s.Yaw) >= a.cfg.YawThreshold || math.Abs(s.Pitch) >= a.cfg.PitchThreshold
	if !diverted {
		a.gaze.reset()
		return out
	}
	a.gaze.observe(s.At)
	if !a.gaze.due(s.At, a.cfg.GazeDebounce) {
		return out
	}
	if !a.lastGaze.IsZero() && s.At.Sub(a.lastGaze) < a.cfg.GazeCoalesce {
		return out
	}
	a.gaze.fired = true
	a.lastGaze = s.At
	return append(out, a.emit(s.At, types.IncidentEyeDistraction, types.SeverityLow,
		fmt.Sprintf("gaze yaw=%.0f pitch=%.0f", s.Yaw, s.Pitch)))
}

// SensorUnavailable disables sensor for the rest of the session. The first
// call for a subscribed sensor yields one low-severity incident; later calls
// and unsubscribed sensors yield nothing.
func (a *Aggregator) SensorUnavailable(sensor Sensor, reason string, at time.Time) (Incident, bool) {
	if !a.subscribed[sensor] || a.disabled[sensor] {
		return Incident{}, false
	}
	a.disabled[sensor] = true
	switch sensor {
	case SensorFaceCount:
		a.noFace.reset()
		a.multiFace.reset()
	case SensorGaze:
		a.gaze.reset()
	}
	detail := fmt.Sprintf("%s unavailable", sensor)
	if reason = strings.TrimSpace(reason); reason != "" {
		detail += ": " + reason
	}
	return a.emit(at, types.IncidentOther, types.SeverityLow, detail), true
}

func (a *Aggregator) emit(at time.Time, typ types.IncidentType, sev types.Severity, detail string) Incident {
	a.warnings++
	return Incident{At: at, Type: typ, Severity: sev, Detail: detail}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
