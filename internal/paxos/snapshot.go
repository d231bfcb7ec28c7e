package paxos

// Snapshot is a service-produced checkpoint: everything needed to skip
// straight to having executed instances [0, LastIncludedInstanceID],
// allowing the log to be truncated and a lagging replica to catch up
// without replaying history.
type Snapshot struct {
	LastIncludedInstanceID int32
	LastIncludedView       int32
	ServiceBytes           []byte
	ClientReplyCache       []byte
}

func (s *Snapshot) sizeBytes() int {
	if s == nil {
		return 0
	}
	return len(s.ServiceBytes) + len(s.ClientReplyCache)
}

// SnapshotPolicy implements the askable/forced size thresholds: the
// service is asked for a snapshot once the on-log byte size exceeds
// max(SnapshotMinLogSize, SnapshotAskRatio*lastSnapshotBytes), and it is
// forced above SnapshotForceRatio*lastSnapshotBytes.
type SnapshotPolicy struct {
	cfg Config
}

func NewSnapshotPolicy(cfg Config) SnapshotPolicy { return SnapshotPolicy{cfg: cfg} }

func (p SnapshotPolicy) lastSnapshotBytes(current *Snapshot) int {
	if current == nil {
		return p.cfg.FirstSnapshotSizeEstimate
	}
	n := current.sizeBytes()
	if n == 0 {
		return p.cfg.FirstSnapshotSizeEstimate
	}
	return n
}

// ShouldAsk reports whether the service should be asked to produce a new
// snapshot given the log's current byte footprint.
func (p SnapshotPolicy) ShouldAsk(logSizeBytes int, current *Snapshot) bool {
	threshold := float64(p.cfg.SnapshotMinLogSize)
	if ratio := p.cfg.SnapshotAskRatio * float64(p.lastSnapshotBytes(current)); ratio > threshold {
		threshold = ratio
	}
	return float64(logSizeBytes) > threshold
}

// ShouldForce reports whether taking a snapshot is no longer optional.
func (p SnapshotPolicy) ShouldForce(logSizeBytes int, current *Snapshot) bool {
	threshold := p.cfg.SnapshotForceRatio * float64(p.lastSnapshotBytes(current))
	return float64(logSizeBytes) > threshold
}
