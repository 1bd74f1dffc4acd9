package runtime

import (
	"context"
	"sync"
)

// Future is the completion of one Request. It resolves exactly once, either
// with the delivered payload or with the error that ended the request.
type Future struct {
	id     string
	source int

	once    sync.Once
	done    chan struct{}
	payload []byte
	err     error
}

func newFuture(id string, source int) *Future {
	return &Future{id: id, source: source, done: make(chan struct{})}
}

// ID is the request id, also recorded on the request span.
func (f *Future) ID() string { return f.id }

// Source is the source the request waits on.
func (f *Future) Source() int { return f.source }

// Done is closed once the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future resolves or ctx ends. A ctx error leaves the
// request queued.
func (f *Future) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.payload, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Payload returns the delivered payload, or nil while pending.
func (f *Future) Payload() []byte {
	select {
	case <-f.done:
		return f.payload
	default:
		return nil
	}
}

// Err returns the failure, or nil while pending or on success.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

func (f *Future) resolve(payload []byte, err error) {
	f.once.Do(func() {
		f.payload = payload
		f.err = err
		close(f.done)
	})
}
