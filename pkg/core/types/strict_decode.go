package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// StrictDecodeError is returned when strict request decoding fails.
// It includes an optional Param field suitable for API error reporting.
type StrictDecodeError struct {
	Param   string
	Message string
}

func (e *StrictDecodeError) Error() string {
	if e == nil {
		return ""
	}
	if e.Param != "" {
		return fmt.Sprintf("%s: %s", e.Param, e.Message)
	}
	return e.Message
}

func strictErr(param, msg string) error {
	return &StrictDecodeError{Param: param, Message: msg}
}

// DecodeStrict decodes a single JSON object into v, rejecting unknown fields
// and trailing data.
func DecodeStrict(data []byte, v any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return strictErr("", "request body is empty")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return translateDecodeError(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return strictErr("", "request body must contain a single JSON object")
	}
	return nil
}

func translateDecodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return strictErr(typeErr.Field, fmt.Sprintf("expected %s", typeErr.Type))
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return strictErr("", fmt.Sprintf("invalid JSON at offset %d", syntaxErr.Offset))
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "json: unknown field ") {
		field := strings.Trim(strings.TrimPrefix(msg, "json: unknown field "), `"`)
		return strictErr(field, "unknown field")
	}
	return strictErr("", msg)
}
