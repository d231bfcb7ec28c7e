package transport

import (
	"sync"

	"github.com/arjunmenon/paxosrsm/internal/paxos"
)

// envelope pairs a message with the replica id that sent it, since the
// wire format carries no sender field of its own — the transport layer is
// the one that knows who sent what.
type envelope struct {
	msg    paxos.Message
	sender int
}

// inboxSize bounds how many undelivered envelopes a destination can have
// queued before a sender blocks; generous enough that no test or demo
// traffic pattern should ever hit it.
const inboxSize = 4096

// MemoryNetwork is the shared in-memory hub every replica's
// MemoryTransport registers with. Each destination drains its own inbox
// on a single dedicated goroutine, so messages from a given sender are
// handled in the order SendTo/SendToAll enqueued them — the core relies
// on that per-sender ordering (a Propose can never be handled ahead of
// the Prepare that licensed it).
type MemoryNetwork struct {
	mu    sync.RWMutex
	nodes map[int]*MemoryTransport
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{nodes: make(map[int]*MemoryTransport)}
}

// AddNode creates and registers the transport for replica id, and starts
// its inbox-draining goroutine.
func (n *MemoryNetwork) AddNode(id int) *MemoryTransport {
	t := &MemoryTransport{
		id:        id,
		network:   n,
		listeners: make(map[paxos.MessageType]func(paxos.Message, int)),
		inbox:     make(chan envelope, inboxSize),
	}
	n.mu.Lock()
	n.nodes[id] = t
	n.mu.Unlock()
	go t.drain()
	return t
}

func (n *MemoryNetwork) deliver(destID int, e envelope) {
	n.mu.RLock()
	dest := n.nodes[destID]
	n.mu.RUnlock()
	if dest == nil {
		return
	}
	dest.inbox <- e
}

func (n *MemoryNetwork) allNodeIDs() []int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ids := make([]int, 0, len(n.nodes))
	for id := range n.nodes {
		ids = append(ids, id)
	}
	return ids
}

// MemoryTransport is one replica's view of a MemoryNetwork: it implements
// Network by looking up destinations in the shared registry.
type MemoryTransport struct {
	id      int
	network *MemoryNetwork

	mu        sync.RWMutex
	listeners map[paxos.MessageType]func(paxos.Message, int)

	inbox chan envelope
}

// drain is this node's single inbox-handling loop: one goroutine per
// node, so envelopes from any given sender are handled in arrival order.
func (t *MemoryTransport) drain() {
	for e := range t.inbox {
		t.handle(e)
	}
}

func (t *MemoryTransport) SendTo(destID int, msg paxos.Message) {
	t.network.deliver(destID, envelope{msg: msg, sender: t.id})
}

func (t *MemoryTransport) SendToAll(msg paxos.Message) {
	for _, id := range t.network.allNodeIDs() {
		t.network.deliver(id, envelope{msg: msg, sender: t.id})
	}
}

func (t *MemoryTransport) AddMessageListener(kind paxos.MessageType, handler func(paxos.Message, int)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners[kind] = handler
}

func (t *MemoryTransport) handle(e envelope) {
	t.mu.RLock()
	handler := t.listeners[e.msg.Kind()]
	t.mu.RUnlock()
	if handler != nil {
		handler(e.msg, e.sender)
	}
}
