package kernel

import "marketsim/pkg/types"

// Agent is the runtime contract every participant satisfies. The kernel
// calls Attach once at registration, Start/Stop at the run boundaries,
// Receive for each routed message, and Wake for WAKEUP deliveries.
//
// Agents may call Send, ScheduleWake, NowNs, and ExchangeID on the
// kernel they were attached to; they must not touch other agents'
// state. Any stochastic behavior must come from a PRNG the agent owns
// and seeds itself.
type Agent interface {
	Attach(k *Kernel, id types.AgentID)
	Start(t int64)
	Stop()
	Receive(t int64, msg *types.Message)
	Wake(t int64)
}

// BaseAgent provides the no-op half of the contract plus kernel/id
// bookkeeping. Embed it and override what the agent actually uses.
type BaseAgent struct {
	Kernel *Kernel
	ID     types.AgentID
}

// Attach records the kernel handle and assigned id.
func (a *BaseAgent) Attach(k *Kernel, id types.AgentID) {
	a.Kernel = k
	a.ID = id
}

// Start is a no-op; agents that want activity schedule their first wake
// here.
func (a *BaseAgent) Start(t int64) {}

// Stop is a no-op.
func (a *BaseAgent) Stop() {}

// Receive drops the message.
func (a *BaseAgent) Receive(t int64, msg *types.Message) {}

// Wake is a no-op.
func (a *BaseAgent) Wake(t int64) {}
