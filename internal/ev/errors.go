package ev

import (
	"errors"
	"fmt"
	"net/http"
)

// Failure codes. Every expected business failure carries one of these;
// handlers map the attached Status to the HTTP response.
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeOfferNotFound       = "OFFER_NOT_FOUND"
	CodeParticipantNotFound = "PARTICIPANT_NOT_FOUND"
	CodeUpstreamError       = "UPSTREAM_ERROR"
	CodeNoReferenceOutcomes = "NO_REFERENCE_OUTCOMES"
	CodeTargetNotFound      = "TARGET_NOT_FOUND"
	CodeTargetIncomplete    = "TARGET_INCOMPLETE"
	CodeInvalidOdds         = "INVALID_ODDS"
	CodeDevigError          = "DEVIG_ERROR"
	CodeInternal            = "INTERNAL"
)

// Error is a typed business failure. It is a value to return, not a
// panic: the orchestrator reserves panics for programmer errors only.
type Error struct {
	Code           string `json:"code"`
	Message        string `json:"error"`
	Status         int    `json:"-"`
	UpstreamStatus int    `json:"upstreamStatus,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

func newError(code string, status int, format string, args ...any) *Error {
	return &Error{Code: code, Status: status, Message: fmt.Sprintf(format, args...)}
}

// AsError coerces any error into an *Error, defaulting unrecognized
// errors to an internal failure.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeInternal, Status: http.StatusInternalServerError, Message: err.Error()}
}
