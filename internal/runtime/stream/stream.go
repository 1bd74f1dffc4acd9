// Package stream holds the per-source state of the sync transport: the
// outbound flit queue of the local participant, the FIFO of callbacks waiting
// for a source's next message, and the inbound reassembly buffer.
//
// Streams are not safe for concurrent use; the transport serialises access.
// All queues are append-at-tail, remove-at-head.
package stream

import (
	"bytes"

	errspkg "github.com/drblury/syncflow/internal/runtime/errors"
)

// Decoder turns a reassembled stuffed message back into raw bytes.
type Decoder interface {
	Decode(stuffed []byte) ([]byte, error)
}

// Delivery is a completed inbound message paired with the callback it
// completes.
type Delivery[C any] struct {
	Payload  []byte
	Callback C
}

// Stream is the state kept for one source. C is the callback record the
// transport queues per request.
type Stream[C any] struct {
	source int
	local  bool

	outbound [][]byte
	pending  []C
	inbound  [][]byte
}

func newStream[C any](source int, local bool) *Stream[C] {
	return &Stream[C]{source: source, local: local}
}

func (s *Stream[C]) Source() int { return s.source }
func (s *Stream[C]) Local() bool { return s.local }

// AddPending queues a callback for the next message from this source.
func (s *Stream[C]) AddPending(cb C) {
	s.pending = append(s.pending, cb)
}

// PendingLen returns the number of callbacks still waiting.
func (s *Stream[C]) PendingLen() int {
	return len(s.pending)
}

// TakePending removes and returns every waiting callback, oldest first.
func (s *Stream[C]) TakePending() []C {
	taken := s.pending
	s.pending = nil
	return taken
}

func (s *Stream[C]) popPending() (C, bool) {
	var zero C
	if len(s.pending) == 0 {
		return zero, false
	}
	cb := s.pending[0]
	s.pending[0] = zero
	s.pending = s.pending[1:]
	return cb, true
}

// Enqueue appends the flits of one message behind everything already queued.
func (s *Stream[C]) Enqueue(flits [][]byte) error {
	if !s.local {
		return errspkg.ErrNotLocalOwner
	}
	s.outbound = append(s.outbound, flits...)
	return nil
}

// Head returns the next flit to send without removing it.
func (s *Stream[C]) Head() ([]byte, bool) {
	if len(s.outbound) == 0 {
		return nil, false
	}
	return s.outbound[0], true
}

// PopHead drops the flit returned by Head once the channel accepted it.
func (s *Stream[C]) PopHead() {
	if len(s.outbound) == 0 {
		return
	}
	s.outbound[0] = nil
	s.outbound = s.outbound[1:]
}

// QueuedFlits returns the outbound queue length.
func (s *Stream[C]) QueuedFlits() int {
	return len(s.outbound)
}

// BufferedBytes returns the size of a partially reassembled message.
func (s *Stream[C]) BufferedBytes() int {
	n := 0
	for _, chunk := range s.inbound {
		n += len(chunk)
	}
	return n
}

// Receive appends flit to the reassembly buffer. When flit is terminal the
// buffered message is decoded and matched with the oldest pending callback.
//
// complete is true whenever a terminal flit was consumed, even if err is set.
// A ProtocolViolationError wrapping ErrNoPendingCallback means the data was
// dropped with no callback popped; any other violation carries the popped
// callback in the returned Delivery with a nil Payload.
func (s *Stream[C]) Receive(flit []byte, maxPayload int, dec Decoder) (Delivery[C], bool, error) {
	s.inbound = append(s.inbound, bytes.Clone(flit))
	if !IsTerminal(flit, maxPayload) {
		return Delivery[C]{}, false, nil
	}

	stuffed := bytes.Join(s.inbound, nil)
	clear(s.inbound)
	s.inbound = s.inbound[:0]

	cb, ok := s.popPending()
	if !ok {
		return Delivery[C]{}, true, &errspkg.ProtocolViolationError{
			Source: s.source,
			Reason: "unexpected terminal flit",
			Err:    errspkg.ErrNoPendingCallback,
		}
	}

	raw, err := dec.Decode(stuffed)
	if err != nil {
		return Delivery[C]{Callback: cb}, true, &errspkg.ProtocolViolationError{
			Source: s.source,
			Reason: "undecodable message",
			Err:    err,
		}
	}
	return Delivery[C]{Payload: raw, Callback: cb}, true, nil
}
