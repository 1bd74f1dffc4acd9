package runtime

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	channelpkg "github.com/drblury/syncflow/internal/runtime/channel"
	configpkg "github.com/drblury/syncflow/internal/runtime/config"
	errspkg "github.com/drblury/syncflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/syncflow/internal/runtime/logging"
	transportpkg "github.com/drblury/syncflow/internal/runtime/transport"
	"github.com/drblury/syncflow/internal/testutil/testlog"
	backends "github.com/drblury/syncflow/transport"
)

func waitPayload(t *testing.T, f *Future) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	payload, err := f.Wait(ctx)
	require.NoError(t, err)
	return payload
}

func newGoChannelParticipant(t *testing.T, ps *gochannel.GoChannel, local int) *Transport {
	t.Helper()
	ch, err := channelpkg.NewWatermill(ps, ps, channelpkg.WatermillConfig{
		LocalSource: local,
		MaxPayload:  configpkg.DefaultMaxPayload,
		Shared:      true,
	}, watermill.NopLogger{})
	require.NoError(t, err)

	conf := &configpkg.Config{Topic: testTopic, SourceCount: 3, LocalSource: local}
	tr, err := NewTransport(conf, loggingpkg.NopServiceLogger(), context.Background(), Dependencies{
		Channel:  ch,
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestTransportOverGoChannel(t *testing.T) {
	ps := gochannel.NewGoChannel(gochannel.Config{BlockPublishUntilSubscriberAck: true}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })

	owner := newGoChannelParticipant(t, ps, 0)
	peer := newGoChannelParticipant(t, ps, 2)

	big := bytes.Repeat([]byte{0x00, 0xF7, 'x', 0xF8}, 300)
	peerBig, err := peer.Request(0, nil, nil)
	require.NoError(t, err)
	peerSmall, err := peer.Request(0, nil, nil)
	require.NoError(t, err)
	ownerBig, err := owner.Request(0, big, nil)
	require.NoError(t, err)
	ownerSmall, err := owner.Request(0, "tail", nil)
	require.NoError(t, err)

	drainAll(t, owner)

	assert.Equal(t, big, waitPayload(t, ownerBig))
	assert.Equal(t, big, waitPayload(t, peerBig))
	assert.Equal(t, []byte("tail"), waitPayload(t, ownerSmall))
	assert.Equal(t, []byte("tail"), waitPayload(t, peerSmall))
	assert.Zero(t, peer.Stats().ProtocolViolations)
}

func TestNewTransportBuildsBackendFromConfig(t *testing.T) {
	conf := &configpkg.Config{Topic: testTopic, SourceCount: 2, LocalSource: 1}
	tr, err := NewTransport(conf, loggingpkg.NopServiceLogger(), context.Background(), Dependencies{Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	assert.Equal(t, backends.ChannelCapabilities, tr.Capabilities())
	assert.Equal(t, configpkg.DefaultMaxPayload, tr.MaxPayload())
	assert.Equal(t, "channel", tr.Conf.ChannelSystem, "defaults are applied")

	fut, err := tr.Request(1, "loop", nil)
	require.NoError(t, err)
	drainAll(t, tr)
	assert.Equal(t, []byte("loop"), waitPayload(t, fut))
}

func TestStartDrainsUntilCancelled(t *testing.T) {
	conf := &configpkg.Config{Topic: testTopic, SourceCount: 2, TicksPerSecond: 100}
	tr, err := NewTransport(conf, loggingpkg.NopServiceLogger(), context.Background(), Dependencies{Registry: prometheus.NewRegistry()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Start(ctx) }()

	fut, err := tr.Request(0, strings.Repeat("m", 2000), nil)
	require.NoError(t, err)
	assert.Len(t, waitPayload(t, fut), 2000)

	cancel()
	require.NoError(t, <-done)
}

func fakeBackendRegistry(name string, caps backends.Capabilities) *backends.Registry {
	registry := backends.NewRegistry()
	registry.RegisterWithCapabilities(name, func(ctx context.Context, cfg backends.Config, logger watermill.LoggerAdapter) (backends.Transport, error) {
		ps := gochannel.NewGoChannel(gochannel.Config{BlockPublishUntilSubscriberAck: true}, logger)
		return backends.Transport{Publisher: ps, Subscriber: ps}, nil
	}, caps)
	return registry
}

func TestNewTransportWarnsAboutWeakBackends(t *testing.T) {
	rec := testlog.New()
	conf := &configpkg.Config{ChannelSystem: "lossy", Topic: testTopic, SourceCount: 2}
	tr, err := NewTransport(conf, rec, context.Background(), Dependencies{
		TransportFactory: transportpkg.RegistryFactory(fakeBackendRegistry("lossy", backends.Capabilities{Name: "lossy"})),
		Registry:         prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	var warnings []string
	for _, e := range rec.ByLevel("info") {
		if e.Fields["channel_system"] == "lossy" && strings.HasPrefix(e.Msg, "Channel backend") {
			warnings = append(warnings, e.Msg)
		}
	}
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], "does not guarantee ordering")
	assert.Contains(t, warnings[1], "point-to-point")
}

type discardPublisher struct{ published int }

func (p *discardPublisher) Publish(topic string, messages ...*message.Message) error {
	p.published += len(messages)
	return nil
}

func (p *discardPublisher) Close() error { return nil }

func TestTransportEmulatesLoopbackForPointToPointBackends(t *testing.T) {
	pub := &discardPublisher{}
	registry := backends.NewRegistry()
	registry.RegisterWithCapabilities("p2p", func(ctx context.Context, cfg backends.Config, logger watermill.LoggerAdapter) (backends.Transport, error) {
		sub := gochannel.NewGoChannel(gochannel.Config{}, logger)
		return backends.Transport{Publisher: pub, Subscriber: sub}, nil
	}, backends.Capabilities{Name: "p2p", SupportsOrdering: true})

	conf := &configpkg.Config{ChannelSystem: "p2p", Topic: testTopic, SourceCount: 2, LocalSource: 1}
	tr, err := NewTransport(conf, loggingpkg.NopServiceLogger(), context.Background(), Dependencies{
		TransportFactory: transportpkg.RegistryFactory(registry),
		Registry:         prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	msg := strings.Repeat("p", 600)
	fut, err := tr.Request(1, msg, nil)
	require.NoError(t, err)
	drainAll(t, tr)

	assert.Equal(t, []byte(msg), waitPayload(t, fut))
	assert.Equal(t, 3, pub.published)
	assert.Zero(t, tr.Stats().ProtocolViolations)
}

func TestNewTransportRejectsBackendTooSmallForFlits(t *testing.T) {
	conf := &configpkg.Config{ChannelSystem: "tiny", Topic: testTopic, SourceCount: 2}
	_, err := NewTransport(conf, loggingpkg.NopServiceLogger(), context.Background(), Dependencies{
		TransportFactory: transportpkg.RegistryFactory(fakeBackendRegistry("tiny", backends.Capabilities{
			Name:             "tiny",
			SupportsOrdering: true,
			Broadcast:        true,
			MaxMessageSize:   64,
		})),
		Registry: prometheus.NewRegistry(),
	})
	assert.ErrorIs(t, err, errspkg.ErrFlitTooLarge)
}

func TestNewTransportReportsUnknownBackend(t *testing.T) {
	conf := &configpkg.Config{ChannelSystem: "carrier-pigeon", Topic: testTopic, SourceCount: 2}
	_, err := NewTransport(conf, loggingpkg.NopServiceLogger(), context.Background(), Dependencies{Registry: prometheus.NewRegistry()})
	assert.ErrorContains(t, err, "build carrier-pigeon channel")
}

func TestMetricsEnabledInstrumentsBackend(t *testing.T) {
	registry := prometheus.NewRegistry()
	conf := &configpkg.Config{Topic: testTopic, SourceCount: 2, MetricsEnabled: true}
	tr, err := NewTransport(conf, loggingpkg.NopServiceLogger(), context.Background(), Dependencies{Registry: registry})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })

	fut, err := tr.Request(0, "measured", nil)
	require.NoError(t, err)
	drainAll(t, tr)
	waitPayload(t, fut)

	rec := httptest.NewRecorder()
	tr.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "syncflow_transport_flits_sent_total 1")
	assert.Contains(t, body, `syncflow_transport_messages_completed_total{source="0"} 1`)
	assert.Contains(t, body, "syncflow_channel_", "the backend publisher and subscriber are instrumented")
}
