// Package kernel is the discrete-event core of the simulator.
//
// It owns the virtual clock, the time-priority queue, the agent
// registry, the exchange identity, and the pub/sub event bus. One
// wall-clock timer paces virtual time forward in fixed ticks; within a
// tick, every due message is delivered to its recipient in timestamp
// then FIFO order, and all handler work runs to completion before the
// next tick. That single-threaded discipline is what makes runs
// bit-identical under the same configuration and seeds.
//
// External threads (the gateway, tests) interact through Sync, which
// serializes their work with the tick loop under one mutex.
package kernel

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marketsim/internal/latency"
	"marketsim/internal/queue"
	"marketsim/pkg/types"
)

// BookReader is the read-only snapshot surface the kernel hands to
// external collaborators. Implementations return copies; callers never
// see live book state.
type BookReader interface {
	Snapshot(depth int) types.L2Snapshot
	OpenOrders(agent types.AgentID) []types.Order
	Last() *int64
}

// Config holds the kernel options.
type Config struct {
	// TickMs is the simulated advance per wall-clock tick.
	TickMs int64
	// StartNs is the virtual time the clock starts from.
	StartNs int64
}

// DefaultConfig returns the stock kernel options (200ms ticks).
func DefaultConfig() Config {
	return Config{TickMs: 200}
}

// Kernel routes messages between agents with latency, drives the
// virtual clock, and broadcasts market data.
type Kernel struct {
	mu sync.Mutex

	cfg   Config
	clock int64
	q     *queue.Queue
	bus   *Bus

	// agents is an arena indexed by id; slot 0 stays nil (reserved for
	// the out-of-band sender).
	agents     []Agent
	exchangeID types.AgentID

	lat      latency.Model
	postTick func(t int64)
	books    map[string]BookReader

	running bool
	done    chan struct{}
	wg      sync.WaitGroup

	logger *slog.Logger
}

// New creates a kernel with no agents attached.
func New(cfg Config, logger *slog.Logger) *Kernel {
	if cfg.TickMs <= 0 {
		cfg.TickMs = DefaultConfig().TickMs
	}
	kl := logger.With("component", "kernel")
	return &Kernel{
		cfg:    cfg,
		q:      queue.New(),
		bus:    NewBus(logger),
		agents: make([]Agent, 1), // slot 0 reserved
		books:  make(map[string]BookReader),
		logger: kl,
	}
}

// Register attaches an agent and returns its assigned id. Must be
// called before Start.
func (k *Kernel) Register(a Agent) types.AgentID {
	k.mu.Lock()
	defer k.mu.Unlock()
	id := types.AgentID(len(k.agents))
	k.agents = append(k.agents, a)
	a.Attach(k, id)
	return id
}

// SetExchange advertises which agent is the exchange.
func (k *Kernel) SetExchange(id types.AgentID) {
	k.exchangeID = id
}

// ExchangeID returns the advertised exchange agent id.
func (k *Kernel) ExchangeID() types.AgentID {
	return k.exchangeID
}

// SetLatency installs the latency model. A nil model means zero latency
// everywhere.
func (k *Kernel) SetLatency(m latency.Model) {
	k.lat = m
}

// OnPostTick installs the observer invoked once at the end of every
// tick, after all deliveries.
func (k *Kernel) OnPostTick(fn func(t int64)) {
	k.postTick = fn
}

// Bus returns the event bus. Subscribe before Start, or inside Sync.
func (k *Kernel) Bus() *Bus {
	return k.bus
}

// RegisterBook publishes a read-only book surface under its symbol.
// The exchange calls this at attach time.
func (k *Kernel) RegisterBook(symbol string, r BookReader) {
	k.books[symbol] = r
}

// Book returns the read-only book surface for a symbol, or nil.
// External callers wrap access in Sync and copy before yielding.
func (k *Kernel) Book(symbol string) BookReader {
	return k.books[symbol]
}

// NowNs returns the current virtual time. During a delivery it is the
// delivery timestamp of the message being handled, so sends from a
// handler layer their latency on top of the handler's own arrival time.
func (k *Kernel) NowNs() int64 {
	return k.clock
}

// Send schedules a message from one agent to another. The delivery time
// is now plus network latency, plus the exchange compute delay when the
// recipient is the exchange, plus any extra delay the caller requests.
// Mutating categories emit an ORDER_LOG bus event synchronously, before
// any delivery. Call only from the tick thread or inside Sync.
func (k *Kernel) Send(from, to types.AgentID, mt types.MsgType, body any, extraDelayNs int64) {
	at := k.clock + extraDelayNs
	if k.lat != nil {
		at += k.lat.Delay(from, to) + k.lat.Compute(from, to)
	}
	k.q.Push(&types.Message{From: from, To: to, Type: mt, Body: body, At: at})

	if mt.Mutating() {
		k.Bus().Emit(Event{
			Type:     EventOrderLog,
			At:       k.clock,
			OrderLog: &OrderLog{At: k.clock, From: from, Kind: mt, Body: body},
		})
	}
}

// ScheduleWake enqueues a WAKEUP for the agent at an absolute virtual
// time. Wake-ups bypass the latency model.
func (k *Kernel) ScheduleWake(agent types.AgentID, at int64) {
	if at < k.clock {
		at = k.clock
	}
	k.q.Push(&types.Message{From: types.SystemID, To: agent, Type: types.MsgWakeup, At: at})
}

// Broadcast schedules one message per agent other than the sender, each
// with its own latency-stamped delivery time.
func (k *Kernel) Broadcast(from types.AgentID, mt types.MsgType, body any, extraDelayNs int64) {
	for id := 1; id < len(k.agents); id++ {
		if types.AgentID(id) == from {
			continue
		}
		k.Send(from, types.AgentID(id), mt, body, extraDelayNs)
	}
}

// Sync runs fn with the kernel lock held, serializing external work
// (gateway calls, snapshot reads) with the tick loop.
func (k *Kernel) Sync(fn func()) {
	k.mu.Lock()
	defer k.mu.Unlock()
	fn()
}

// Start sets the clock, invokes every agent's start hook, and begins
// the wall-paced periodic tick.
func (k *Kernel) Start(startNs int64) error {
	k.mu.Lock()
	if k.running {
		k.mu.Unlock()
		return fmt.Errorf("kernel already running")
	}
	k.running = true
	k.clock = startNs
	if k.cfg.StartNs != 0 && startNs == 0 {
		k.clock = k.cfg.StartNs
	}
	k.done = make(chan struct{})
	for id := 1; id < len(k.agents); id++ {
		k.agents[id].Start(k.clock)
	}
	k.mu.Unlock()

	k.wg.Add(1)
	go k.run()

	k.logger.Info("kernel started",
		"tick_ms", k.cfg.TickMs,
		"agents", len(k.agents)-1,
		"exchange", int(k.exchangeID),
	)
	return nil
}

// run is the wall-clock pacing loop: one physical timer drives virtual
// time forward, leaving room for external interaction between ticks.
func (k *Kernel) run() {
	defer k.wg.Done()
	ticker := time.NewTicker(time.Duration(k.cfg.TickMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-k.done:
			return
		case <-ticker.C:
			k.mu.Lock()
			if k.running {
				k.tick()
			}
			k.mu.Unlock()
		}
	}
}

// Stop halts the timer, invokes every agent's stop hook, and discards
// any still-queued messages. No further deliveries happen.
func (k *Kernel) Stop() {
	k.mu.Lock()
	if !k.running {
		k.mu.Unlock()
		return
	}
	k.running = false
	close(k.done)
	for id := 1; id < len(k.agents); id++ {
		k.agents[id].Stop()
	}
	dropped := k.q.Len()
	k.q.Clear()
	k.mu.Unlock()

	k.wg.Wait()
	k.logger.Info("kernel stopped", "dropped_messages", dropped)
}

// RunTicks is the run-as-fast-as-possible driver: it executes n ticks
// back to back without wall-clock pacing. Results are identical to a
// wall-paced run when no external I/O is involved. Intended for tests
// and batch runs; do not mix with Start.
func (k *Kernel) RunTicks(n int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i := 0; i < n; i++ {
		k.tick()
	}
}

// SetClock positions the virtual clock without starting the timer.
// Used with RunTicks.
func (k *Kernel) SetClock(startNs int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.clock = startNs
}

// StartAgents invokes every agent's start hook without starting the
// wall timer. Used with RunTicks.
func (k *Kernel) StartAgents() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for id := 1; id < len(k.agents); id++ {
		k.agents[id].Start(k.clock)
	}
}

// tick advances virtual time by one increment and delivers every due
// message. While a message is being handled the clock reads as that
// message's delivery time; after the drain it lands exactly on the tick
// boundary. Caller holds mu.
func (k *Kernel) tick() {
	target := k.clock + latency.MsToNs(k.cfg.TickMs)
	for {
		next := k.q.Peek()
		if next == nil || next.At > target {
			break
		}
		msg := k.q.Pop()
		if msg.At > k.clock {
			k.clock = msg.At
		}
		k.deliver(msg)
	}
	k.clock = target
	if k.postTick != nil {
		k.postTick(k.clock)
	}
}

// deliver routes one message. Unknown recipients are silently dropped;
// that permits late-bound topologies.
func (k *Kernel) deliver(msg *types.Message) {
	if msg.To <= 0 || int(msg.To) >= len(k.agents) {
		return
	}
	a := k.agents[msg.To]
	if a == nil {
		return
	}
	if msg.Type == types.MsgWakeup {
		a.Wake(k.clock)
		return
	}
	a.Receive(k.clock, msg)
}
