package stream

import (
	"fmt"

	errspkg "github.com/drblury/syncflow/internal/runtime/errors"
)

// Registry is the fixed table of streams, one per source in [0, count).
// Exactly one stream is owned by the local participant.
type Registry[C any] struct {
	streams []*Stream[C]
	local   int
}

// NewRegistry creates streams for every source up front; none is ever added
// or removed afterwards.
func NewRegistry[C any](count, local int) (*Registry[C], error) {
	if count <= 0 {
		return nil, fmt.Errorf("stream registry: source count must be positive, got %d", count)
	}
	if local < 0 || local >= count {
		return nil, fmt.Errorf("%w: local source %d outside [0, %d)", errspkg.ErrUnknownSource, local, count)
	}

	streams := make([]*Stream[C], count)
	for i := range streams {
		streams[i] = newStream[C](i, i == local)
	}
	return &Registry[C]{streams: streams, local: local}, nil
}

// Get returns the stream for source or ErrUnknownSource.
func (r *Registry[C]) Get(source int) (*Stream[C], error) {
	if source < 0 || source >= len(r.streams) {
		return nil, fmt.Errorf("%w: %d", errspkg.ErrUnknownSource, source)
	}
	return r.streams[source], nil
}

// Local returns the stream owned by this participant.
func (r *Registry[C]) Local() *Stream[C] {
	return r.streams[r.local]
}

// LocalSource returns the id of the local stream.
func (r *Registry[C]) LocalSource() int {
	return r.local
}

// Len returns the number of registered sources.
func (r *Registry[C]) Len() int {
	return len(r.streams)
}

// Each visits the streams in source order.
func (r *Registry[C]) Each(fn func(*Stream[C])) {
	for _, s := range r.streams {
		fn(s)
	}
}
