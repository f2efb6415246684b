// Package latency computes per-message transit and processing delays.
//
// The default model is a two-stage RPC: an uplink hop from any agent to
// the exchange, a compute delay inside the exchange, and a downlink hop
// back out, with optional symmetric uniform jitter on the downlink. The
// model is a pure function of the two agent ids and its own seeded PRNG;
// the kernel treats a nil model as zero latency everywhere.
package latency

import (
	"math/rand"

	"marketsim/pkg/types"
)

// Model produces delays for a message from one agent to another.
// Delay is the network transit time; Compute is the processing delay
// added on top when the recipient is the exchange.
type Model interface {
	Delay(from, to types.AgentID) int64
	Compute(from, to types.AgentID) int64
}

// MsToNs converts milliseconds to nanoseconds.
func MsToNs(ms int64) int64 {
	return ms * 1_000_000
}

// RPCConfig parameterizes the two-stage RPC model. All values are
// wall-style milliseconds; zero jitter makes the model fully
// deterministic without consuming PRNG state.
type RPCConfig struct {
	RPCUpMs      int64
	RPCDownMs    int64
	ComputeMs    int64
	DownJitterMs int64
	Seed         int64
}

// DefaultRPCConfig returns the stock two-stage timings: 200ms up,
// 200ms down, 300ms compute, no jitter.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{RPCUpMs: 200, RPCDownMs: 200, ComputeMs: 300}
}

// RPC is the two-stage RPC latency model.
type RPC struct {
	exchange types.AgentID
	upNs     int64
	downNs   int64
	compNs   int64
	jitterNs int64
	rng      *rand.Rand
}

// NewRPC creates the model for a topology whose exchange has the given
// id. The PRNG is owned by the model and seeded from cfg.Seed.
func NewRPC(cfg RPCConfig, exchange types.AgentID) *RPC {
	return &RPC{
		exchange: exchange,
		upNs:     MsToNs(cfg.RPCUpMs),
		downNs:   MsToNs(cfg.RPCDownMs),
		compNs:   MsToNs(cfg.ComputeMs),
		jitterNs: MsToNs(cfg.DownJitterMs),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Delay returns the network transit time from one agent to another.
// Agent-to-agent traffic that bypasses the exchange pays both hops.
func (m *RPC) Delay(from, to types.AgentID) int64 {
	if from == to {
		return 0
	}
	switch {
	case to == m.exchange && from != m.exchange:
		return m.upNs
	case from == m.exchange && to != m.exchange:
		return m.withJitter(m.downNs)
	case from != m.exchange && to != m.exchange:
		return m.upNs + m.withJitter(m.downNs)
	default:
		return 0
	}
}

// Compute returns the in-exchange processing delay: nonzero only when
// the recipient is the exchange and the sender is not.
func (m *RPC) Compute(from, to types.AgentID) int64 {
	if to == m.exchange && from != m.exchange {
		return m.compNs
	}
	return 0
}

// withJitter perturbs d by a uniform draw in [-jitter, +jitter],
// clamped so the resulting delay is never negative.
func (m *RPC) withJitter(d int64) int64 {
	if m.jitterNs <= 0 {
		return d
	}
	d += m.rng.Int63n(2*m.jitterNs+1) - m.jitterNs
	if d < 0 {
		return 0
	}
	return d
}
