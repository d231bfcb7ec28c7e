package paxos

// Network is the transport the core depends on. Send is
// fire-and-forget: Paxos assumes an asynchronous network where messages
// may be delayed, lost, or reordered, and the protocol's own
// retransmission is the only recovery mechanism — implementations
// must never block waiting for an acknowledgement. The reference
// implementation lives in internal/transport; this interface is what the
// core depends on so that package can depend on paxos without a cycle.
type Network interface {
	// SendTo delivers msg to a single destination replica id.
	SendTo(destID int, msg Message)
	// SendToAll delivers msg to every replica in the group. Callers that
	// want to exclude themselves (e.g. the Proposer never sends Propose
	// to itself) filter at the call site.
	SendToAll(msg Message)
	// AddMessageListener registers handler to be invoked, asynchronously
	// with respect to the sender, whenever a message of kind arrives.
	// Only one handler per kind may be registered.
	AddMessageListener(kind MessageType, handler func(msg Message, sender int))
}
