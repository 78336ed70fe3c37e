package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vango-go/vai-interview/pkg/core/proctor"
)

const ProtocolVersion1 = "1"

type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

type HelloClient struct {
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// ClientHello opens (or reopens, after a dropped connection) the live
// channel for the session in the URL.
type ClientHello struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Client          HelloClient `json:"client,omitempty"`
}

// ClientSensorSample is one proctoring reading. TimestampMS is the capture
// time in Unix milliseconds; the server clock is used when it is absent.
type ClientSensorSample struct {
	Type        string             `json:"type"`
	Kind        proctor.SampleKind `json:"kind"`
	TimestampMS *int64             `json:"timestamp_ms,omitempty"`
	FaceCount   *int               `json:"face_count,omitempty"`
	Yaw         *float64           `json:"yaw,omitempty"`
	Pitch       *float64           `json:"pitch,omitempty"`
}

type ClientSensorUnavailable struct {
	Type   string         `json:"type"`
	Sensor proctor.Sensor `json:"sensor"`
	Reason string         `json:"reason,omitempty"`
}

// ClientTranscript carries recognized candidate speech. Interim results
// replace the pending segment; final results are appended.
type ClientTranscript struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final,omitempty"`
}

// ClientPlaybackDone reports that the client finished (or abandoned) playing
// the interviewer speech with SpeechID.
type ClientPlaybackDone struct {
	Type        string `json:"type"`
	SpeechID    string `json:"speech_id"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

type ClientSubmit struct {
	Type string `json:"type"`
}

type ClientEnd struct {
	Type string `json:"type"`
}

// DecodeClientMessage decodes one client text frame. Unknown fields and
// unknown message types are rejected.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := decodeStrict(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", paramOf(err))
		}
		if err := ValidateHello(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "sensor_sample":
		var msg ClientSensorSample
		if err := decodeStrict(data, &msg); err != nil {
			return nil, badRequest("invalid sensor_sample", paramOf(err))
		}
		kind, err := validateSample(msg)
		if err != nil {
			return nil, err
		}
		msg.Kind = kind
		return msg, nil
	case "sensor_unavailable":
		var msg ClientSensorUnavailable
		if err := decodeStrict(data, &msg); err != nil {
			return nil, badRequest("invalid sensor_unavailable", paramOf(err))
		}
		sensor, err := proctor.ParseSensor(string(msg.Sensor))
		if err != nil {
			return nil, badRequest("sensor_unavailable.sensor is unknown", "sensor")
		}
		msg.Sensor = sensor
		return msg, nil
	case "transcript":
		var msg ClientTranscript
		if err := decodeStrict(data, &msg); err != nil {
			return nil, badRequest("invalid transcript", paramOf(err))
		}
		return msg, nil
	case "playback_done":
		var msg ClientPlaybackDone
		if err := decodeStrict(data, &msg); err != nil {
			return nil, badRequest("invalid playback_done", paramOf(err))
		}
		if strings.TrimSpace(msg.SpeechID) == "" {
			return nil, badRequest("playback_done.speech_id is required", "speech_id")
		}
		return msg, nil
	case "submit":
		var msg ClientSubmit
		if err := decodeStrict(data, &msg); err != nil {
			return nil, badRequest("invalid submit", paramOf(err))
		}
		return msg, nil
	case "end":
		var msg ClientEnd
		if err := decodeStrict(data, &msg); err != nil {
			return nil, badRequest("invalid end", paramOf(err))
		}
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

func ValidateHello(msg ClientHello) error {
	v := strings.TrimSpace(msg.ProtocolVersion)
	if v == "" {
		return badRequest("hello.protocol_version is required", "protocol_version")
	}
	if v != ProtocolVersion1 {
		return unsupported("unsupported protocol version", "protocol_version")
	}
	return nil
}

func validateSample(msg ClientSensorSample) (proctor.SampleKind, error) {
	kind, err := proctor.ParseSampleKind(string(msg.Kind))
	if err != nil {
		return "", badRequest("sensor_sample.kind is unknown", "kind")
	}
	switch kind {
	case proctor.KindFaceCount:
		if msg.FaceCount == nil {
			return "", badRequest("sensor_sample.face_count is required for face_count samples", "face_count")
		}
		if *msg.FaceCount < 0 {
			return "", badRequest("sensor_sample.face_count must be >= 0", "face_count")
		}
	case proctor.KindGaze:
		if msg.Yaw == nil || msg.Pitch == nil {
			return "", badRequest("sensor_sample.yaw and pitch are required for gaze samples", "yaw")
		}
	}
	if msg.TimestampMS != nil && *msg.TimestampMS <= 0 {
		return "", badRequest("sensor_sample.timestamp_ms must be > 0", "timestamp_ms")
	}
	return kind, nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func paramOf(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return typeErr.Field
	}
	msg := err.Error()
	const prefix = "json: unknown field "
	if strings.HasPrefix(msg, prefix) {
		return strings.Trim(strings.TrimPrefix(msg, prefix), `"`)
	}
	return ""
}

type HelloAckLimits struct {
	MaxJSONMessageBytes int64   `json:"max_json_message_bytes"`
	SamplesPerSecond    float64 `json:"samples_per_second"`
	SilenceTimeoutMS    int64   `json:"silence_timeout_ms"`
	MinAutoSubmitLength int     `json:"min_auto_submit_length"`
	ReconnectGraceMS    int64   `json:"reconnect_grace_ms"`
}

// ServerHelloAck tells the client which sensors to run and the channel limits.
type ServerHelloAck struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	SessionID       string           `json:"session_id"`
	Resumed         bool             `json:"resumed"`
	Sensors         []proctor.Sensor `json:"sensors"`
	Limits          HelloAckLimits   `json:"limits"`
}

type ServerError struct {
	Type      string         `json:"type"`
	Scope     string         `json:"scope,omitempty"`
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable,omitempty"`
	Close     bool           `json:"close,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// ServerWarning reports a non-fatal condition such as dropped samples.
type ServerWarning struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServerSpeak asks the client to voice interviewer text and answer with
// playback_done.
type ServerSpeak struct {
	Type     string `json:"type"`
	SpeechID string `json:"speech_id"`
	Text     string `json:"text"`
}

// ServerSpeakCancel tells the client to stop playing SpeechID.
type ServerSpeakCancel struct {
	Type     string `json:"type"`
	SpeechID string `json:"speech_id"`
}

// ServerSessionEvent wraps an orchestrator event. Seq is contiguous per
// session.
type ServerSessionEvent struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Seq   uint64 `json:"seq"`
	Data  any    `json:"data"`
}

// ServerTurnEvent wraps a speech turn controller event.
type ServerTurnEvent struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Data  any    `json:"data"`
}
