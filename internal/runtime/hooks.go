package runtime

import (
	"time"

	loggingpkg "github.com/drblury/syncflow/internal/runtime/logging"
)

// RequestInfo describes a request to hooks.
type RequestInfo struct {
	// ID is the request id, also used as the span attribute.
	ID string
	// Source is the source the request waits on.
	Source int
	// Local is true when this participant owns Source and submitted the payload.
	Local bool
	// Flits is how many flits the payload was framed into (local requests only).
	Flits int
	// Bytes is the raw payload size: submitted bytes in OnQueued, delivered
	// bytes in OnComplete.
	Bytes int
	// QueuedAt is when Request registered the callback.
	QueuedAt time.Time
	// Duration is the time from QueuedAt to completion (OnComplete and OnFailed).
	Duration time.Duration
}

// Hooks are callbacks for request lifecycle events. All hooks are optional.
// They run outside the transport lock and may call back into the transport.
type Hooks struct {
	// OnQueued is called once Request registered the callback and, for local
	// requests, enqueued the flits.
	OnQueued func(info RequestInfo)

	// OnComplete is called after the handler ran for a delivered message.
	OnComplete func(info RequestInfo)

	// OnFailed is called when a request ends without a delivery: undecodable
	// data, a panicking handler or a closed transport.
	OnFailed func(info RequestInfo, err error)

	// OnViolation is called for every protocol violation, whether or not a
	// request was consumed by it.
	OnViolation func(source int, err error)
}

// Merge combines two Hooks. The hooks from other run after the hooks from h.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnQueued:    chain(h.OnQueued, other.OnQueued),
		OnComplete:  chain(h.OnComplete, other.OnComplete),
		OnFailed:    chain2(h.OnFailed, other.OnFailed),
		OnViolation: chain2(h.OnViolation, other.OnViolation),
	}
}

func chain[A any](a, b func(A)) func(A) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(x A) {
		a(x)
		b(x)
	}
}

func chain2[A, B any](a, b func(A, B)) func(A, B) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(x A, y B) {
		a(x, y)
		b(x, y)
	}
}

func (h Hooks) queued(info RequestInfo) {
	if h.OnQueued != nil {
		h.OnQueued(info)
	}
}

func (h Hooks) completed(info RequestInfo) {
	if h.OnComplete != nil {
		h.OnComplete(info)
	}
}

func (h Hooks) failed(info RequestInfo, err error) {
	if h.OnFailed != nil {
		h.OnFailed(info, err)
	}
}

func (h Hooks) violation(source int, err error) {
	if h.OnViolation != nil {
		h.OnViolation(source, err)
	}
}

// LoggingHooks returns hooks that log the request lifecycle.
func LoggingHooks(logger loggingpkg.ServiceLogger) Hooks {
	return Hooks{
		OnQueued: func(info RequestInfo) {
			logger.Debug("Request queued", loggingpkg.LogFields{
				"request_id": info.ID,
				"source":     info.Source,
				"local":      info.Local,
				"flits":      info.Flits,
				"bytes":      info.Bytes,
			})
		},
		OnComplete: func(info RequestInfo) {
			logger.Info("Request completed", loggingpkg.LogFields{
				"request_id":  info.ID,
				"source":      info.Source,
				"bytes":       info.Bytes,
				"duration_ms": info.Duration.Milliseconds(),
			})
		},
		OnFailed: func(info RequestInfo, err error) {
			logger.Error("Request failed", err, loggingpkg.LogFields{
				"request_id":  info.ID,
				"source":      info.Source,
				"duration_ms": info.Duration.Milliseconds(),
			})
		},
	}
}

// AlertingHooks returns hooks that call alertFunc on every protocol violation.
func AlertingHooks(alertFunc func(source int, err error)) Hooks {
	return Hooks{
		OnViolation: alertFunc,
	}
}
