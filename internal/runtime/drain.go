package runtime

import (
	"errors"

	configpkg "github.com/drblury/syncflow/internal/runtime/config"
	loggingpkg "github.com/drblury/syncflow/internal/runtime/logging"
)

// DrainResult reports one Drain call.
type DrainResult struct {
	// Sent is the number of flits the channel accepted.
	Sent int
	// Failed is the number of refused send attempts. A refused flit stays at
	// the head of the queue.
	Failed int
	// Remaining is the outbound queue length after the call.
	Remaining int
}

// Drain makes up to packetsPerTick send attempts for the head of the local
// outbound queue. The head is removed only when the channel accepts it, so a
// refused flit is retried by the next attempt. Drain calls never overlap.
func (t *Transport) Drain() DrainResult {
	t.drainMu.Lock()
	defer t.drainMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return DrainResult{}
	}
	attempts := t.packetsPerTick
	local := t.registry.Local()
	t.mu.Unlock()

	var res DrainResult
	for range attempts {
		t.mu.Lock()
		flit, ok := local.Head()
		t.mu.Unlock()
		if !ok {
			break
		}

		// Loopback channels deliver synchronously into HandlePacket, so the
		// lock must not be held here.
		if !t.channel.Send(t.topic, flit) {
			res.Failed++
			continue
		}

		t.mu.Lock()
		local.PopHead()
		t.mu.Unlock()
		res.Sent++

		if t.emulateLoopback {
			_ = t.HandlePacket(t.topic, t.Conf.LocalSource, flit)
		}
	}

	t.mu.Lock()
	res.Remaining = local.QueuedFlits()
	t.mu.Unlock()

	t.counters.flitsSent.Add(uint64(res.Sent))
	t.counters.sendFailures.Add(uint64(res.Failed))
	t.metrics.recordDrain(res)
	if res.Failed > 0 {
		t.Logger.Debug("Sync channel refused flits", loggingpkg.LogFields{
			"failed":    res.Failed,
			"sent":      res.Sent,
			"remaining": res.Remaining,
		})
	}
	return res
}

// SetPacing changes the drain rate. It applies from the next tick.
func (t *Transport) SetPacing(packetsPerTick, ticksPerSecond int) error {
	if errs := configpkg.ValidatePacing(packetsPerTick, ticksPerSecond); len(errs) > 0 {
		return errors.Join(errs...)
	}

	t.mu.Lock()
	t.packetsPerTick = packetsPerTick
	t.ticksPerSecond = ticksPerSecond
	t.mu.Unlock()

	t.Logger.Info("Pacing changed", loggingpkg.LogFields{
		"packets_per_tick": packetsPerTick,
		"ticks_per_second": ticksPerSecond,
	})
	return nil
}

// Pacing returns the current packets per tick and ticks per second.
func (t *Transport) Pacing() (packetsPerTick, ticksPerSecond int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.packetsPerTick, t.ticksPerSecond
}

// ThroughputEstimate is the best-case outbound rate in bytes per second.
func (t *Transport) ThroughputEstimate() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.throughputLocked()
}

func (t *Transport) throughputLocked() int {
	return t.maxPayload * t.packetsPerTick * t.ticksPerSecond
}

func (t *Transport) currentTicksPerSecond() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ticksPerSecond
}
