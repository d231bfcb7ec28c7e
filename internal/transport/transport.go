// Package transport provides a reference implementation of the network
// abstraction the paxos core consumes: a shared registry of
// per-node inboxes with typed listener registration per message kind.
// The interface itself, paxos.Network, is defined in the paxos package
// so that package can depend on it without importing transport.
package transport

import "github.com/arjunmenon/paxosrsm/internal/paxos"

var _ paxos.Network = (*MemoryTransport)(nil)
