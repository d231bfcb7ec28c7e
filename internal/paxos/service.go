package paxos

// Service is the deterministic state machine the core replicates. It is
// an external collaborator — request/reply semantics and
// the duplicate-reply cache live in the service adapter, not here. The
// core calls Execute in strictly ascending instance-id order on every
// contiguous Decided id (Learner buffers out-of-order decisions until the
// prefix is contiguous).
type Service interface {
	// Execute applies request, decided as instanceID, and returns the
	// bytes a client-facing reply should carry.
	Execute(instanceID int32, request Request) []byte
	// MakeSnapshot asks the service for a checkpoint of its current
	// state, used by the snapshot policy.
	MakeSnapshot() []byte
	// UpdateToSnapshot replaces the service's state wholesale with the
	// bytes from a previously-produced (possibly remote) snapshot.
	UpdateToSnapshot(snapshotBytes []byte)
	// InstanceExecuted is called after Execute for instanceID has
	// returned, so the service can advance any bookkeeping (e.g. the
	// duplicate-reply cache) that tracks execution progress.
	InstanceExecuted(instanceID int32)
}
