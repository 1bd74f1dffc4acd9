package runtime

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	channelpkg "github.com/drblury/syncflow/internal/runtime/channel"
	configpkg "github.com/drblury/syncflow/internal/runtime/config"
	loggingpkg "github.com/drblury/syncflow/internal/runtime/logging"
)

const testTopic = "sync"

// fakeNetwork connects fakeChannels. Send delivers synchronously to every
// member, the sender included, like a loopback broadcast channel.
type fakeNetwork struct {
	mu      sync.Mutex
	members []*fakeChannel
}

func (n *fakeNetwork) join(local, maxPayload int) *fakeChannel {
	c := &fakeChannel{
		net:        n,
		local:      local,
		maxPayload: maxPayload,
		listeners:  make(map[int]bool),
	}
	n.mu.Lock()
	n.members = append(n.members, c)
	n.mu.Unlock()
	return c
}

func (n *fakeNetwork) snapshot() []*fakeChannel {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*fakeChannel(nil), n.members...)
}

type fakeChannel struct {
	net        *fakeNetwork
	local      int
	maxPayload int

	mu        sync.Mutex
	handler   channelpkg.PacketHandler
	listeners map[int]bool
	refuse    int
	sent      [][]byte
	invalid   int
	closed    bool
}

func (c *fakeChannel) MaxPayload() int { return c.maxPayload }

func (c *fakeChannel) Send(topic string, payload []byte) bool {
	if channelpkg.Validate(payload, c.maxPayload, channelpkg.ForbiddenBytes) != nil {
		c.mu.Lock()
		c.invalid++
		c.mu.Unlock()
		return false
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if c.refuse > 0 {
		c.refuse--
		c.mu.Unlock()
		return false
	}
	c.sent = append(c.sent, bytes.Clone(payload))
	c.mu.Unlock()

	for _, m := range c.net.snapshot() {
		m.deliver(topic, c.local, payload)
	}
	return true
}

func (c *fakeChannel) deliver(topic string, source int, payload []byte) {
	c.mu.Lock()
	handler := c.handler
	ok := c.listeners[source] && !c.closed
	c.mu.Unlock()
	if ok && handler != nil {
		handler(topic, source, bytes.Clone(payload))
	}
}

func (c *fakeChannel) RegisterListener(source int, topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if topic == testTopic {
		c.listeners[source] = true
	}
	return nil
}

func (c *fakeChannel) OnPacket(h channelpkg.PacketHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) refuseNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refuse = n
}

func (c *fakeChannel) sentFlits() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

type testOptions struct {
	maxPayload     int
	packetsPerTick int
	logger         loggingpkg.ServiceLogger
	hooks          Hooks
	registry       *prometheus.Registry
}

func testConfig(local int, opts testOptions) *configpkg.Config {
	return &configpkg.Config{
		Topic:          testTopic,
		SourceCount:    4,
		LocalSource:    local,
		MaxPayload:     opts.maxPayload,
		PacketsPerTick: opts.packetsPerTick,
	}
}

func newTestTransport(t *testing.T, net *fakeNetwork, local int, opts testOptions) (*Transport, *fakeChannel) {
	t.Helper()
	conf := testConfig(local, opts).WithDefaults()
	if opts.logger == nil {
		opts.logger = loggingpkg.NopServiceLogger()
	}
	if opts.registry == nil {
		opts.registry = prometheus.NewRegistry()
	}

	ch := net.join(local, conf.MaxPayload)
	tr, err := NewTransport(&conf, opts.logger, context.Background(), Dependencies{
		Channel:  ch,
		Hooks:    opts.hooks,
		Registry: opts.registry,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr, ch
}

// drainAll drains until the local queue is empty.
func drainAll(t *testing.T, tr *Transport) {
	t.Helper()
	for range 1000 {
		if tr.Drain().Remaining == 0 {
			return
		}
	}
	t.Fatalf("outbound queue did not drain")
}

type call struct {
	payload string
	source  int
	extra   []any
}

type callLog struct {
	mu    sync.Mutex
	calls []call
}

func (l *callLog) handler() Handler {
	return func(payload []byte, source int, extra ...any) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.calls = append(l.calls, call{payload: string(payload), source: source, extra: extra})
	}
}

func (l *callLog) snapshot() []call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]call(nil), l.calls...)
}
