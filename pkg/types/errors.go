package types

import "errors"

// Failure taxonomy surfaced to connections as error events. Handlers convert
// these to an error notification on the originating connection only.
var (
	ErrUnauthorized  = errors.New("invalid or expired credential")
	ErrNotFound      = errors.New("exam not found")
	ErrNotAuthorized = errors.New("not authorized for this exam")
	ErrInvalidState  = errors.New("action not valid for current exam state")
	ErrExhausted     = errors.New("reconnection attempts exhausted")
)

// Payload validation errors.
var (
	ErrInvalidExamID       = errors.New("exam ID must be 1-64 characters, alphanumeric plus underscore/hyphen")
	ErrInvalidUserID       = errors.New("user ID must be 1-64 characters, alphanumeric plus underscore/hyphen")
	ErrInvalidActivityType = errors.New("unknown anti-cheating event type")
	ErrEmptyActivityBatch  = errors.New("event batch cannot be empty")
	ErrMissingSignal       = errors.New("signal payload cannot be empty")
	ErrMissingRecipient    = errors.New("signal missing recipient handle")
	ErrMissingFrameData    = errors.New("frame data cannot be empty")
	ErrEmptyWarningMessage = errors.New("warning message cannot be empty")
	ErrUnknownEvent        = errors.New("unknown event name")
	ErrMalformedPayload    = errors.New("malformed event payload")
)
