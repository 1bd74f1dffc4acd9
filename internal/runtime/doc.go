/*
Package runtime implements the syncflow transport: reliable-looking,
arbitrary-length messages on top of a broadcast channel that only carries
short payloads and cannot carry every byte value.

# Architecture Overview

Every participant owns one source. A message submitted by the owner is
byte-stuffed so it contains no forbidden byte, split into flits of the
channel's max payload and queued. A Scheduler drains the queue at a fixed
pace. Every participant, the sender included, receives every flit, rebuilds
the message per source and hands it to the oldest callback registered for
that source with Request.

	Request(local) -> stuffing.Encode -> stream.Segment -> outbound queue
	Scheduler tick -> Drain -> SyncChannel.Send
	SyncChannel -> HandlePacket -> stream.Receive -> stuffing.Decode -> Handler

A flit shorter than the max payload ends a message; messages whose stuffed
length is a multiple of it are followed by an empty flit.

# Package Structure

## Transport (transport.go, drain.go)

Transport owns the stream registry and the channel. Request registers a
callback and returns a Future; Drain sends queued flits; HandlePacket consumes
inbound ones. SetPacing and ThroughputEstimate control and report the rate.

## Scheduling (scheduler.go)

TickSource drives Scheduler.Run. IntervalTicker follows the configured
ticks per second; ManualTicker steps ticks by hand.

## Blocking requests (blocking.go, future.go)

BlockingAdapter serialises synchronous requests behind a single token.

## Observability (hooks.go, metrics.go)

Hooks expose the request lifecycle; Metrics exports Prometheus counters. Each
request is traced with one OpenTelemetry span.

# Sub-packages

  - channel/: SyncChannel interface and the Watermill adapter
  - config/: configuration, defaults, validation and TOML loading
  - errors/: sentinel errors and ProtocolViolationError
  - ids/: ULID request and flit ids
  - jsoncodec/: sonic-backed JSON
  - logging/: ServiceLogger and adapters
  - stream/: per-source queues, segmentation and reassembly
  - stuffing/: the byte-stuffing codec
  - transport/: backend factory

# Usage Example

	cfg := &syncflow.Config{ChannelSystem: "nats", NATSURL: "nats://localhost:4222", LocalSource: 3}
	tr, err := syncflow.NewTransport(cfg, logger, ctx, syncflow.Dependencies{})
	if err != nil {
		return err
	}
	go tr.Start(ctx)

	fut, _ := tr.Request(3, []byte("hello"), nil)
	payload, err := fut.Wait(ctx)
*/
package runtime
