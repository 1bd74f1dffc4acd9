package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	channelpkg "github.com/drblury/syncflow/internal/runtime/channel"
	configpkg "github.com/drblury/syncflow/internal/runtime/config"
	errspkg "github.com/drblury/syncflow/internal/runtime/errors"
	idspkg "github.com/drblury/syncflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/syncflow/internal/runtime/logging"
	"github.com/drblury/syncflow/internal/runtime/stream"
	"github.com/drblury/syncflow/internal/runtime/stuffing"
	transportpkg "github.com/drblury/syncflow/internal/runtime/transport"
	backends "github.com/drblury/syncflow/transport"
)

const tracerName = "github.com/drblury/syncflow"

// Handler receives the next message from source. extra is whatever was
// passed to Request. Handlers may call Request, but must not call Drain or
// tick the scheduler: a backend that blocks Send until delivery runs the
// handler inside Drain.
type Handler func(payload []byte, source int, extra ...any)

// Dependencies holds the optional collaborators of a Transport.
type Dependencies struct {
	// Channel replaces the backend built from Config.ChannelSystem. The
	// transport takes ownership and closes it on Close.
	Channel channelpkg.SyncChannel
	// TransportFactory builds the backend when Channel is nil.
	TransportFactory transportpkg.Factory
	Hooks            Hooks
	// Registry receives the metrics and backs the /metrics endpoint. Nil
	// means the Prometheus default registry.
	Registry *prometheus.Registry
	// Tracer defaults to the global OpenTelemetry tracer provider.
	Tracer trace.Tracer
}

type pendingRequest struct {
	id       string
	source   int
	local    bool
	handler  Handler
	extra    []any
	future   *Future
	span     trace.Span
	queuedAt time.Time
	flits    int
	bytes    int
}

func (pr *pendingRequest) info() RequestInfo {
	return RequestInfo{
		ID:       pr.id,
		Source:   pr.source,
		Local:    pr.local,
		Flits:    pr.flits,
		Bytes:    pr.bytes,
		QueuedAt: pr.queuedAt,
	}
}

type counters struct {
	flitsSent         atomic.Uint64
	sendFailures      atomic.Uint64
	flitsReceived     atomic.Uint64
	messagesCompleted atomic.Uint64
	requestsFailed    atomic.Uint64
	violations        atomic.Uint64
}

// Transport moves arbitrary-length messages over a SyncChannel. The local
// participant's messages are framed into flits and drained at a paced rate;
// every participant reassembles inbound flits per source and hands each
// complete message to the oldest callback registered for that source.
type Transport struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	channel      channelpkg.SyncChannel
	capabilities backends.Capabilities
	codec        *stuffing.Codec
	topic        string
	maxPayload   int
	// emulateLoopback feeds sent flits back into HandlePacket for backends
	// that never deliver a participant's own flits.
	emulateLoopback bool

	hooks    Hooks
	metrics  *Metrics
	gatherer prometheus.Gatherer
	tracer   trace.Tracer
	blocking *BlockingAdapter
	counters counters

	drainMu sync.Mutex

	mu             sync.Mutex
	registry       *stream.Registry[*pendingRequest]
	packetsPerTick int
	ticksPerSecond int
	closed         bool
}

// NewTransport validates conf, builds the channel backend unless deps
// supplies one, and registers a listener for every source on the topic.
func NewTransport(conf *configpkg.Config, log loggingpkg.ServiceLogger, ctx context.Context, deps Dependencies) (*Transport, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	c := conf.WithDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log = log.With(loggingpkg.LogFields{"local_source": c.LocalSource, "topic": c.Topic})
	log.Info("Creating sync transport", loggingpkg.LogFields{
		"channel_system": c.ChannelSystem,
		"config":         c.String(),
	})

	codec, err := stuffing.NewCodec(channelpkg.ForbiddenBytes)
	if err != nil {
		return nil, err
	}
	registry, err := stream.NewRegistry[*pendingRequest](c.SourceCount, c.LocalSource)
	if err != nil {
		return nil, err
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if deps.Registry != nil {
		registerer = deps.Registry
		gatherer = deps.Registry
	}

	t := &Transport{
		Conf:           &c,
		Logger:         log,
		codec:          codec,
		topic:          c.Topic,
		hooks:          deps.Hooks,
		metrics:        NewMetrics(registerer),
		gatherer:       gatherer,
		tracer:         deps.Tracer,
		registry:       registry,
		packetsPerTick: c.PacketsPerTick,
		ticksPerSecond: c.TicksPerSecond,
	}
	if t.tracer == nil {
		t.tracer = otel.Tracer(tracerName)
	}
	t.blocking = NewBlockingAdapter(t)

	if err := t.metrics.Register(); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	ch := deps.Channel
	if ch == nil {
		ch, t.capabilities, err = buildChannel(ctx, &c, log, deps.TransportFactory, registerer)
		if err != nil {
			return nil, err
		}
	}
	t.channel = ch
	t.maxPayload = ch.MaxPayload()
	if t.maxPayload <= 0 {
		_ = ch.Close()
		return nil, fmt.Errorf("invalid config: %w: channel reports %d", errspkg.ErrInvalidMaxPayload, t.maxPayload)
	}
	if t.maxPayload != c.MaxPayload {
		log.Info("Channel max payload overrides config", loggingpkg.LogFields{
			"config_max_payload":  c.MaxPayload,
			"channel_max_payload": t.maxPayload,
		})
		c.MaxPayload = t.maxPayload
	}
	t.emulateLoopback = t.capabilities.Name != "" && !t.capabilities.Loopback
	t.warnOnCapabilities()

	ch.OnPacket(func(topic string, source int, payload []byte) {
		_ = t.HandlePacket(topic, source, payload)
	})
	for source := range c.SourceCount {
		if err := ch.RegisterListener(source, c.Topic); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("register listener for source %d: %w", source, err)
		}
	}

	return t, nil
}

func buildChannel(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, factory transportpkg.Factory, registerer prometheus.Registerer) (channelpkg.SyncChannel, backends.Capabilities, error) {
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	wmLogger := loggingpkg.NewWatermillAdapter(log)

	built, err := factory.Build(ctx, conf, wmLogger)
	if err != nil {
		return nil, backends.Capabilities{}, fmt.Errorf("build %s channel: %w", conf.ChannelSystem, err)
	}
	if !built.Capabilities.FitsPayload(conf.MaxPayload) {
		closePubSub(built.Publisher, built.Subscriber)
		return nil, backends.Capabilities{}, fmt.Errorf("%w: %s carries at most %d bytes, max payload is %d",
			errspkg.ErrFlitTooLarge, conf.ChannelSystem, built.Capabilities.MaxMessageSize, conf.MaxPayload)
	}

	pub, sub := built.Publisher, built.Subscriber
	if conf.MetricsEnabled {
		builder := metrics.NewPrometheusMetricsBuilder(registerer, metricsNamespace, conf.ChannelSystem)
		if pub, err = builder.DecoratePublisher(pub); err != nil {
			closePubSub(built.Publisher, built.Subscriber)
			return nil, backends.Capabilities{}, fmt.Errorf("decorate publisher: %w", err)
		}
		if sub, err = builder.DecorateSubscriber(sub); err != nil {
			closePubSub(built.Publisher, built.Subscriber)
			return nil, backends.Capabilities{}, fmt.Errorf("decorate subscriber: %w", err)
		}
	}

	ch, err := channelpkg.NewWatermill(pub, sub, channelpkg.WatermillConfig{
		LocalSource: conf.LocalSource,
		MaxPayload:  conf.MaxPayload,
	}, wmLogger)
	if err != nil {
		closePubSub(built.Publisher, built.Subscriber)
		return nil, backends.Capabilities{}, err
	}
	return ch, built.Capabilities, nil
}

func closePubSub(pub message.Publisher, sub message.Subscriber) {
	_ = pub.Close()
	_ = sub.Close()
}

func (t *Transport) warnOnCapabilities() {
	caps := t.capabilities
	if caps.Name == "" {
		return
	}
	fields := loggingpkg.LogFields{"channel_system": caps.Name}
	if !caps.SupportsOrdering {
		t.Logger.Info("Channel backend does not guarantee ordering; flits of a message may be reassembled out of order", fields)
	}
	if !caps.Broadcast {
		t.Logger.Info("Channel backend is point-to-point; only the configured peer receives flits", fields)
	}
	if t.emulateLoopback {
		t.Logger.Debug("Emulating loopback for local flits", fields)
	}
}

// Capabilities returns what the built backend guarantees. It is zero when the
// channel was supplied through Dependencies or the backend was registered
// without capabilities.
func (t *Transport) Capabilities() backends.Capabilities {
	return t.capabilities
}

// MaxPayload is the flit size messages are framed into.
func (t *Transport) MaxPayload() int {
	return t.maxPayload
}

// Blocking returns the transport's blocking adapter. All callers share its
// single token.
func (t *Transport) Blocking() *BlockingAdapter {
	return t.blocking
}

// BlockingRequest is shorthand for t.Blocking().BlockingRequest.
func (t *Transport) BlockingRequest(ctx context.Context, source int, payload any) ([]byte, error) {
	return t.blocking.BlockingRequest(ctx, source, payload)
}

// Request registers handler for the next message from source. When this
// participant owns source, payload is resolved and submitted; otherwise it is
// ignored. Every participant, the owner included, must call Request once per
// message it expects.
func (t *Transport) Request(source int, payload any, handler Handler, extra ...any) (*Future, error) {
	return t.RequestContext(context.Background(), source, payload, handler, extra...)
}

// RequestContext is Request with ctx as the parent of the request span.
// Cancelling ctx does not cancel the request.
func (t *Transport) RequestContext(ctx context.Context, source int, payload any, handler Handler, extra ...any) (*Future, error) {
	st, err := t.registry.Get(source)
	if err != nil {
		t.Logger.Error("Request for unknown source", err, loggingpkg.LogFields{"source": source})
		return nil, err
	}

	var raw []byte
	if st.Local() {
		if raw, err = resolvePayload(payload); err != nil {
			t.Logger.Error("Cannot resolve payload", err, loggingpkg.LogFields{"source": source})
			return nil, err
		}
	}

	id := idspkg.NewRequestID()
	_, span := t.tracer.Start(ctx, "syncflow.request",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("syncflow.request_id", id),
			attribute.Int("syncflow.source", source),
			attribute.Bool("syncflow.local", st.Local()),
		),
	)
	pr := &pendingRequest{
		id:       id,
		source:   source,
		local:    st.Local(),
		handler:  handler,
		extra:    extra,
		future:   newFuture(id, source),
		span:     span,
		queuedAt: time.Now(),
		bytes:    len(raw),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		span.RecordError(errspkg.ErrTransportClosed)
		span.End()
		return nil, errspkg.ErrTransportClosed
	}
	st.AddPending(pr)
	if pr.local {
		pr.flits = t.submitLocked(raw)
	}
	queued := t.registry.Local().QueuedFlits()
	pending := st.PendingLen()
	t.mu.Unlock()

	if pr.local {
		span.SetAttributes(attribute.Int("syncflow.flits", pr.flits))
	}
	t.metrics.recordQueued(source, queued, pending)
	t.hooks.queued(pr.info())
	return pr.future, nil
}

// Submit frames raw and queues it on the local stream without registering a
// callback. The next message every participant receives from the local
// source is raw, so each of them needs a pending Request for it.
func (t *Transport) Submit(raw []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errspkg.ErrTransportClosed
	}
	t.submitLocked(raw)
	queued := t.registry.Local().QueuedFlits()
	t.mu.Unlock()

	t.metrics.queuedFlits.Set(float64(queued))
	return nil
}

func (t *Transport) submitLocked(raw []byte) int {
	flits := stream.Segment(t.codec.Encode(raw), t.maxPayload)
	// The local stream always accepts.
	_ = t.registry.Local().Enqueue(flits)
	return len(flits)
}

// HandlePacket consumes one inbound flit. It is installed as the channel's
// packet handler; packets on other topics are ignored.
func (t *Transport) HandlePacket(topic string, source int, flit []byte) error {
	if topic != t.topic {
		return nil
	}

	st, err := t.registry.Get(source)
	if err != nil {
		t.Logger.Error("Flit from unknown source", err, loggingpkg.LogFields{"source": source})
		return err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	delivery, complete, err := st.Receive(flit, t.maxPayload, t.codec)
	pending := st.PendingLen()
	t.mu.Unlock()

	t.counters.flitsReceived.Add(1)
	t.metrics.recordReceived(source)
	if complete {
		t.metrics.recordPending(source, pending)
	}

	if err != nil {
		t.violation(source, err)
		if delivery.Callback != nil {
			t.fail(delivery.Callback, err)
		}
		return err
	}
	if complete {
		t.deliver(delivery.Callback, delivery.Payload)
	}
	return nil
}

func (t *Transport) violation(source int, err error) {
	reason := "unknown"
	var pve *errspkg.ProtocolViolationError
	if errors.As(err, &pve) {
		reason = pve.Reason
	}

	t.counters.violations.Add(1)
	t.metrics.recordViolation(source, reason)
	t.Logger.Error("Protocol violation, data discarded", err, loggingpkg.LogFields{
		"source": source,
		"reason": reason,
	})
	t.hooks.violation(source, err)
}

func (t *Transport) deliver(pr *pendingRequest, payload []byte) {
	if err := t.invoke(pr, payload); err != nil {
		t.fail(pr, err)
		return
	}

	info := pr.info()
	info.Bytes = len(payload)
	info.Duration = time.Since(pr.queuedAt)

	pr.span.SetAttributes(attribute.Int("syncflow.payload_bytes", len(payload)))
	pr.span.SetStatus(codes.Ok, "")
	pr.span.End()
	pr.future.resolve(payload, nil)

	t.counters.messagesCompleted.Add(1)
	t.metrics.recordCompleted(pr.source, info.Duration)
	t.Logger.Trace("Request completed", loggingpkg.LogFields{
		"request_id": pr.id,
		"source":     pr.source,
		"bytes":      len(payload),
	})
	t.hooks.completed(info)
}

func (t *Transport) invoke(pr *pendingRequest, payload []byte) (err error) {
	if pr.handler == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errspkg.ErrHandlerPanicked, r)
			t.Logger.Error("Handler panicked", err, loggingpkg.LogFields{
				"request_id": pr.id,
				"source":     pr.source,
			})
		}
	}()
	pr.handler(payload, pr.source, pr.extra...)
	return nil
}

func (t *Transport) fail(pr *pendingRequest, err error) {
	info := pr.info()
	info.Duration = time.Since(pr.queuedAt)

	pr.span.RecordError(err)
	pr.span.SetStatus(codes.Error, err.Error())
	pr.span.End()
	pr.future.resolve(nil, err)

	t.counters.requestsFailed.Add(1)
	t.metrics.recordFailed(pr.source)
	t.Logger.Debug("Request failed", loggingpkg.LogFields{
		"request_id": pr.id,
		"source":     pr.source,
		"error":      err.Error(),
	})
	t.hooks.failed(info, err)
}

// Start serves /metrics when enabled and drains the local stream at the
// configured pace until ctx is cancelled.
func (t *Transport) Start(ctx context.Context) error {
	if t.Conf.MetricsEnabled && t.Conf.MetricsPort > 0 {
		stop := t.serveMetrics(t.Conf.MetricsPort)
		defer stop()
	}
	return NewScheduler(t, NewIntervalTicker(t.currentTicksPerSecond), t.Logger).Run(ctx)
}

// MetricsHandler serves the transport metrics in the Prometheus text format.
func (t *Transport) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(t.gatherer, promhttp.HandlerOpts{})
}

func (t *Transport) serveMetrics(port int) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", t.MetricsHandler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	t.Logger.Info("Starting metrics server", loggingpkg.LogFields{"address": server.Addr})
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logger.Error("Metrics server failed", err, loggingpkg.LogFields{"address": server.Addr})
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}
}

// Close closes the channel and fails every pending request with
// ErrTransportClosed. Queued flits are dropped.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	var abandoned []*pendingRequest
	t.registry.Each(func(s *stream.Stream[*pendingRequest]) {
		abandoned = append(abandoned, s.TakePending()...)
	})
	t.mu.Unlock()

	err := t.channel.Close()
	for _, pr := range abandoned {
		t.fail(pr, errspkg.ErrTransportClosed)
	}
	t.Logger.Info("Sync transport closed", loggingpkg.LogFields{"abandoned_requests": len(abandoned)})
	return err
}

// Stats is a point-in-time view of the transport.
type Stats struct {
	LocalSource int
	QueuedFlits int
	// PendingCallbacks and BufferedBytes list only sources with a non-zero value.
	PendingCallbacks map[int]int
	BufferedBytes    map[int]int

	PacketsPerTick     int
	TicksPerSecond     int
	ThroughputEstimate int

	FlitsSent          uint64
	SendFailures       uint64
	FlitsReceived      uint64
	MessagesCompleted  uint64
	RequestsFailed     uint64
	ProtocolViolations uint64
}

func (t *Transport) Stats() Stats {
	t.mu.Lock()
	s := Stats{
		LocalSource:        t.registry.LocalSource(),
		QueuedFlits:        t.registry.Local().QueuedFlits(),
		PendingCallbacks:   make(map[int]int),
		BufferedBytes:      make(map[int]int),
		PacketsPerTick:     t.packetsPerTick,
		TicksPerSecond:     t.ticksPerSecond,
		ThroughputEstimate: t.throughputLocked(),
	}
	t.registry.Each(func(st *stream.Stream[*pendingRequest]) {
		if n := st.PendingLen(); n > 0 {
			s.PendingCallbacks[st.Source()] = n
		}
		if n := st.BufferedBytes(); n > 0 {
			s.BufferedBytes[st.Source()] = n
		}
	})
	t.mu.Unlock()

	s.FlitsSent = t.counters.flitsSent.Load()
	s.SendFailures = t.counters.sendFailures.Load()
	s.FlitsReceived = t.counters.flitsReceived.Load()
	s.MessagesCompleted = t.counters.messagesCompleted.Load()
	s.RequestsFailed = t.counters.requestsFailed.Load()
	s.ProtocolViolations = t.counters.violations.Load()
	return s
}
