// Package apierror maps errors from the interview domain onto the REST error
// envelope and an HTTP status.
package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/vango-go/vai-interview/pkg/core"
	"github.com/vango-go/vai-interview/pkg/core/plan"
	"github.com/vango-go/vai-interview/pkg/core/proctor"
	"github.com/vango-go/vai-interview/pkg/core/session"
	"github.com/vango-go/vai-interview/pkg/core/types"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

var statusByType = map[core.ErrorType]int{
	core.ErrInvalidRequest: http.StatusBadRequest,
	core.ErrAuthentication: http.StatusUnauthorized,
	core.ErrPermission:     http.StatusForbidden,
	core.ErrNotFound:       http.StatusNotFound,
	core.ErrConflict:       http.StatusConflict,
	core.ErrRateLimit:      http.StatusTooManyRequests,
	core.ErrCapability:     http.StatusBadGateway,
	core.ErrAPI:            http.StatusInternalServerError,
}

type rule struct {
	err    error
	typ    core.ErrorType
	code   string
	status int    // zero: derived from typ
	msg    string // empty: err.Error()
}

// rules are checked in order with errors.Is; the first match wins.
var rules = []rule{
	{err: context.DeadlineExceeded, typ: core.ErrAPI, status: http.StatusGatewayTimeout, msg: "request timeout"},
	{err: context.Canceled, typ: core.ErrAPI, code: "cancelled", status: http.StatusRequestTimeout, msg: "request cancelled"},
	{err: session.ErrClosed, typ: core.ErrAPI, code: "shutting_down", status: http.StatusServiceUnavailable, msg: "service is shutting down"},

	{err: session.ErrNotFound, typ: core.ErrNotFound, code: "not_found"},
	{err: session.ErrEnded, typ: core.ErrConflict, code: "session_ended"},
	{err: session.ErrNotActive, typ: core.ErrConflict, code: "session_not_active"},
	{err: session.ErrTurnInProgress, typ: core.ErrConflict, code: "turn_in_progress"},
	{err: session.ErrInvalidTransition, typ: core.ErrConflict, code: "invalid_transition"},
	{err: session.ErrAlreadyFinalized, typ: core.ErrConflict, code: "already_finalized"},
	{err: session.ErrDuplicate, typ: core.ErrConflict, code: "duplicate"},
	{err: session.ErrOutOfOrder, typ: core.ErrConflict, code: "out_of_order"},
	{err: session.ErrOutsideWindow, typ: core.ErrPermission, code: "outside_window"},
	{err: session.ErrEmptyAnswer, typ: core.ErrInvalidRequest, code: "empty_answer"},
	{err: session.ErrInvalidInput, typ: core.ErrInvalidRequest, code: "invalid_input"},

	{err: proctor.ErrSensorNotSubscribed, typ: core.ErrInvalidRequest, code: "sensor_not_subscribed"},
	{err: proctor.ErrOutOfOrder, typ: core.ErrInvalidRequest, code: "sample_out_of_order"},
	{err: proctor.ErrUnknownSampleKind, typ: core.ErrInvalidRequest, code: "unknown_sample_kind"},

	{err: plan.ErrUnknownPlan, typ: core.ErrInvalidRequest, code: "unknown_plan"},
	{err: plan.ErrUnknownTier, typ: core.ErrInvalidRequest, code: "unknown_tier"},
}

// FromError returns the envelope body and status for err. Errors that match
// nothing become an opaque 500 so driver and network details stay in the logs.
func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, StatusFor(out.Type)
	}

	var decodeErr *types.StrictDecodeError
	if errors.As(err, &decodeErr) && decodeErr != nil {
		return &core.Error{
			Type:      core.ErrInvalidRequest,
			Message:   decodeErr.Message,
			Param:     decodeErr.Param,
			RequestID: requestID,
		}, http.StatusBadRequest
	}

	for _, r := range rules {
		if !errors.Is(err, r.err) {
			continue
		}
		out := &core.Error{Type: r.typ, Message: r.msg, Code: r.code, RequestID: requestID}
		if out.Message == "" {
			out.Message = err.Error()
		}
		status := r.status
		if status == 0 {
			status = StatusFor(r.typ)
		}
		return out, status
	}

	return &core.Error{Type: core.ErrAPI, Message: "internal error", RequestID: requestID}, http.StatusInternalServerError
}

// StatusFor returns the HTTP status used for an error type.
func StatusFor(t core.ErrorType) int {
	if s, ok := statusByType[t]; ok {
		return s
	}
	return http.StatusInternalServerError
}
