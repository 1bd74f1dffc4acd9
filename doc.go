// Package syncflow moves arbitrary-length messages between a fixed set of
// participants that share a synchronized, broadcast, packet-sized channel.
// Each participant owns one source id. Messages from the local source are
// byte stuffed so the channel never sees a forbidden byte, cut into flits of
// at most MaxPayload bytes, and drained at a paced rate. Every participant
// reassembles the flits of every source and hands each complete message to
// the oldest callback registered for that source.
//
// A participant that wants the next message from source s calls
// Transport.Request. For the local source the call also supplies the payload,
// which is queued for sending; for any other source it only registers the
// callback. Because all participants request the same messages in the same
// order, callbacks line up with inbound messages without any identifiers on
// the wire. Request returns a Future; BlockingRequest waits for it and lets
// only one blocking call run at a time.
//
// # Channels
//
// The SyncChannel is backed by Watermill. Config.ChannelSystem selects the
// pub/sub implementation:
//   - channel: in-process Go channels, ordered and loopback
//   - kafka: one partition per participant keeps flits ordered
//   - rabbitmq: fanout exchange with one queue per participant
//   - nats: core NATS subjects
//   - aws: SNS topic fanned out to per-participant SQS queues
//   - http: point-to-point POST to a single peer
//   - io: shared append-only file
//
// Backends that cannot guarantee ordered broadcast are accepted with a
// warning. Callers with their own pub/sub can build a channel with
// NewWatermillChannel and pass it through Dependencies.Channel.
//
// # Pacing
//
// Start runs a Scheduler that calls Drain TicksPerSecond times a second. Each
// Drain sends up to PacketsPerTick flits; a flit the channel refuses stays at
// the head of the queue and is retried. SetPacing changes both values at
// runtime.
//
// # Observability
//
// Hooks report queued, completed and failed requests as well as protocol
// violations. LoggingHooks and AlertingHooks cover the common cases and can be
// combined with Hooks.Merge. Prometheus metrics are always recorded; with
// MetricsEnabled the backend publisher and subscriber are instrumented too and
// MetricsPort serves /metrics. Each request is traced with an OpenTelemetry
// span.
package syncflow
