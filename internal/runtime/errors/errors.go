package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrTooManyUnsupported = sterrors.New("syncflow: more unsupported bytes than substitute bytes")
	ErrInvalidUnsupported = sterrors.New("syncflow: unsupported byte set collides with the codec alphabet")
	ErrDanglingEscape     = sterrors.New("syncflow: dangling escape byte at end of input")
	ErrNoPendingCallback  = sterrors.New("syncflow: terminal flit arrived with no pending callback")
	ErrUnknownSource      = sterrors.New("syncflow: unknown source")
	ErrNotLocalOwner      = sterrors.New("syncflow: stream is not owned by the local participant")
	ErrUnsupportedPayload = sterrors.New("syncflow: unsupported payload type")
	ErrChannelRequired    = sterrors.New("syncflow: sync channel is required")
	ErrConfigRequired     = sterrors.New("syncflow: config is required")
	ErrLoggerRequired     = sterrors.New("syncflow: logger is required")
	ErrFlitTooLarge       = sterrors.New("syncflow: flit exceeds channel max payload")
	ErrInvalidMaxPayload  = sterrors.New("syncflow: channel max payload must be positive")
	ErrForbiddenByte      = sterrors.New("syncflow: flit contains a forbidden byte")
	ErrTransportClosed    = sterrors.New("syncflow: transport is closed")
	ErrHandlerPanicked    = sterrors.New("syncflow: handler panicked")
)

// ProtocolViolationError reports inbound data that cannot be delivered to a
// handler. The offending data has already been discarded when it is returned.
type ProtocolViolationError struct {
	Source int
	Reason string
	Err    error
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("syncflow: protocol violation from source %d: %s: %v", e.Source, e.Reason, e.Err)
}

func (e *ProtocolViolationError) Unwrap() error {
	return e.Err
}
