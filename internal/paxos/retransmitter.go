package paxos

import (
	"sync"
	"time"
)

// Retransmitter resends an outstanding message to every destination that
// has not yet stopped it, on a fixed period, until explicitly stopped.
// Every resend and every timer firing is funneled back through post so it
// runs as an ordinary dispatcher task — the timer goroutine itself
// never touches replica state directly.
type Retransmitter struct {
	network Network
	period  time.Duration
	post    func(func())
}

// NewRetransmitter builds a Retransmitter that sends on network and
// reschedules itself through post, which must deliver its argument to the
// owning dispatcher's single task loop.
func NewRetransmitter(network Network, period time.Duration, post func(func())) *Retransmitter {
	return &Retransmitter{network: network, period: period, post: post}
}

// Handle controls one in-flight retransmission started by StartTransmitting.
// All methods are safe to call from dispatcher tasks; Stop/StopDestination
// take effect no later than the next scheduled resend.
type Handle struct {
	mu      sync.Mutex
	r       *Retransmitter
	msg     Message
	dests   map[int]bool
	stopped bool
	timer   *time.Timer
	gen     int
}

// StartTransmitting sends msg to every id in dests immediately, then keeps
// resending it to whichever destinations remain outstanding every period
// until the handle is stopped.
func (r *Retransmitter) StartTransmitting(msg Message, dests []int) *Handle {
	h := &Handle{r: r, msg: msg, dests: make(map[int]bool, len(dests))}
	for _, d := range dests {
		h.dests[d] = true
	}
	h.sendToAllPending()
	h.schedule()
	return h
}

func (h *Handle) sendToAllPending() {
	for d := range h.dests {
		h.r.network.SendTo(d, h.msg)
	}
}

func (h *Handle) schedule() {
	gen := h.gen
	h.timer = time.AfterFunc(h.r.period, func() {
		h.r.post(func() { h.fire(gen) })
	})
}

// fire runs as a dispatcher task; gen guards against a timer that fired
// concurrently with a Stop or ForceRetransmit racing it onto the task queue.
func (h *Handle) fire(gen int) {
	h.mu.Lock()
	if h.stopped || gen != h.gen || len(h.dests) == 0 {
		h.mu.Unlock()
		return
	}
	h.sendToAllPending()
	h.schedule()
	h.mu.Unlock()
}

// StopDestination removes a single destination from future resends,
// called once that destination's ack (e.g. a PrepareOK or Accept) is
// observed while others may still be outstanding.
func (h *Handle) StopDestination(destID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.dests, destID)
}

// Stop halts all further resends for this handle.
func (h *Handle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped = true
	h.gen++
	if h.timer != nil {
		h.timer.Stop()
	}
}

// ForceRetransmit sends the message to every still-outstanding destination
// immediately, without waiting for the next scheduled period, and resets
// the period from now.
func (h *Handle) ForceRetransmit() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.sendToAllPending()
	h.gen++
	if h.timer != nil {
		h.timer.Stop()
	}
	h.schedule()
}
