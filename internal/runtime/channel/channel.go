// Package channel defines the broadcast primitive the sync transport runs on
// and adapts Watermill publishers/subscribers to it.
//
// A SyncChannel carries short payloads (at most MaxPayload bytes, none of them
// a forbidden byte) to every listener registered for the sender's
// (source, topic) pair, the sender included. Delivery is not guaranteed.
package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/syncflow/internal/runtime/errors"
	idspkg "github.com/drblury/syncflow/internal/runtime/ids"
)

// MetadataSource carries the sender's source id on every published flit.
const MetadataSource = "syncflow_source"

// ForbiddenBytes is the set of byte values the channel cannot carry.
var ForbiddenBytes = []byte{0}

// PacketHandler receives every flit from a registered (source, topic) pair.
type PacketHandler func(topic string, source int, payload []byte)

// SyncChannel is the host broadcast primitive.
type SyncChannel interface {
	// MaxPayload is the largest payload Send accepts.
	MaxPayload() int
	// Send broadcasts payload on topic. It reports whether the channel took
	// the payload; a false return may be retried.
	Send(topic string, payload []byte) bool
	// RegisterListener must be called once per (source, topic) before any
	// packet from that pair is delivered.
	RegisterListener(source int, topic string) error
	// OnPacket installs the inbound handler.
	OnPacket(h PacketHandler)
	Close() error
}

// Validate checks payload against the channel alphabet and size limit.
func Validate(payload []byte, maxPayload int, forbidden []byte) error {
	if len(payload) > maxPayload {
		return fmt.Errorf("%w: %d > %d", errspkg.ErrFlitTooLarge, len(payload), maxPayload)
	}
	for i, b := range payload {
		if bytes.IndexByte(forbidden, b) >= 0 {
			return fmt.Errorf("%w: 0x%02X at offset %d", errspkg.ErrForbiddenByte, b, i)
		}
	}
	return nil
}

// WatermillConfig configures a Watermill-backed SyncChannel.
type WatermillConfig struct {
	// LocalSource is stamped on every outgoing flit.
	LocalSource int
	MaxPayload  int
	// Forbidden defaults to ForbiddenBytes.
	Forbidden []byte
	// Shared leaves the pub/sub open on Close, for pub/subs several
	// in-process participants use.
	Shared bool
}

type listenerKey struct {
	source int
	topic  string
}

// Watermill implements SyncChannel on top of any Watermill pub/sub pair. One
// subscription is opened per topic; flits are dispatched from that
// subscription's goroutine, so packets on a topic are handled one at a time.
type Watermill struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     watermill.LoggerAdapter

	local      int
	maxPayload int
	forbidden  []byte
	shared     bool

	mu        sync.RWMutex
	handler   PacketHandler
	listeners map[listenerKey]struct{}
	topics    map[string]struct{}
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatermill wraps pub and sub. The pair may be the same object.
func NewWatermill(pub message.Publisher, sub message.Subscriber, cfg WatermillConfig, logger watermill.LoggerAdapter) (*Watermill, error) {
	if pub == nil || sub == nil {
		return nil, errspkg.ErrChannelRequired
	}
	if cfg.MaxPayload <= 0 {
		return nil, fmt.Errorf("watermill channel: max payload must be positive, got %d", cfg.MaxPayload)
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	forbidden := cfg.Forbidden
	if forbidden == nil {
		forbidden = ForbiddenBytes
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Watermill{
		publisher:  pub,
		subscriber: sub,
		logger:     logger.With(watermill.LogFields{"local_source": cfg.LocalSource}),
		local:      cfg.LocalSource,
		maxPayload: cfg.MaxPayload,
		forbidden:  bytes.Clone(forbidden),
		shared:     cfg.Shared,
		listeners:  make(map[listenerKey]struct{}),
		topics:     make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

func (w *Watermill) MaxPayload() int { return w.maxPayload }

func (w *Watermill) OnPacket(h PacketHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handler = h
}

func (w *Watermill) Send(topic string, payload []byte) bool {
	if err := Validate(payload, w.maxPayload, w.forbidden); err != nil {
		w.logger.Error("Refusing to publish invalid flit", err, watermill.LogFields{"topic": topic})
		return false
	}

	w.mu.RLock()
	closed := w.closed
	w.mu.RUnlock()
	if closed {
		return false
	}

	msg := message.NewMessage(idspkg.NewFlitID(), bytes.Clone(payload))
	msg.Metadata.Set(MetadataSource, strconv.Itoa(w.local))
	if err := w.publisher.Publish(topic, msg); err != nil {
		w.logger.Debug("Flit publish failed", watermill.LogFields{"topic": topic, "error": err.Error()})
		return false
	}
	return true
}

func (w *Watermill) RegisterListener(source int, topic string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errspkg.ErrTransportClosed
	}
	w.listeners[listenerKey{source: source, topic: topic}] = struct{}{}
	if _, ok := w.topics[topic]; ok {
		return nil
	}

	messages, err := w.subscriber.Subscribe(w.ctx, topic)
	if err != nil {
		delete(w.listeners, listenerKey{source: source, topic: topic})
		return fmt.Errorf("subscribe to %q: %w", topic, err)
	}
	w.topics[topic] = struct{}{}

	w.wg.Add(1)
	go w.consume(topic, messages)
	return nil
}

func (w *Watermill) consume(topic string, messages <-chan *message.Message) {
	defer w.wg.Done()
	for msg := range messages {
		w.dispatch(topic, msg)
		msg.Ack()
	}
}

func (w *Watermill) dispatch(topic string, msg *message.Message) {
	source, err := strconv.Atoi(msg.Metadata.Get(MetadataSource))
	if err != nil {
		w.logger.Error("Dropping flit without a valid source", err, watermill.LogFields{
			"topic": topic,
			"uuid":  msg.UUID,
		})
		return
	}

	w.mu.RLock()
	_, registered := w.listeners[listenerKey{source: source, topic: topic}]
	handler := w.handler
	w.mu.RUnlock()

	if !registered || handler == nil {
		return
	}
	handler(topic, source, msg.Payload)
}

// Close stops every subscription and closes the underlying pub/sub unless
// it is shared.
func (w *Watermill) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.cancel()
	if w.shared {
		w.wg.Wait()
		return nil
	}

	var errs []error
	if err := w.publisher.Close(); err != nil {
		errs = append(errs, err)
	}
	if closer, ok := w.subscriber.(interface{ Close() error }); ok && !samePubSub(w.publisher, w.subscriber) {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	w.wg.Wait()

	return errors.Join(errs...)
}

func samePubSub(pub message.Publisher, sub message.Subscriber) bool {
	ps, ok := sub.(message.Publisher)
	return ok && ps == pub
}
