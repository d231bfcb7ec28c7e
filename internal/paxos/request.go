package paxos

import "encoding/binary"

// RequestID identifies a client request for deduplication purposes
// upstream of the core (the client<->replica reply cache is out of scope
// the core only needs RequestID for equality so it can
// refuse to double-queue a pending proposal.
type RequestID struct {
	ClientID   int64
	SequenceNo int64
}

// Request is the opaque, self-delimiting unit the Proposer batches into a
// Propose value. "Self-delimiting" means ReadRequest can tell where one
// request ends and the next begins without an external length prefix,
// which is what lets sendNextProposal() pack several into one buffer with
// only a leading count.
type Request struct {
	ID      RequestID
	Payload []byte
}

// ByteSize is the exact number of bytes WriteTo will write.
func (r Request) ByteSize() int {
	return 8 + 8 + 4 + len(r.Payload)
}

// WriteTo appends this request's self-delimiting encoding to buf and
// returns the extended slice.
func (r Request) WriteTo(buf []byte) []byte {
	var tmp [20]byte
	binary.BigEndian.PutUint64(tmp[0:8], uint64(r.ID.ClientID))
	binary.BigEndian.PutUint64(tmp[8:16], uint64(r.ID.SequenceNo))
	binary.BigEndian.PutUint32(tmp[16:20], uint32(len(r.Payload)))
	buf = append(buf, tmp[:]...)
	buf = append(buf, r.Payload...)
	return buf
}

// ReadRequest decodes one self-delimiting request from the front of buf
// and returns it along with the remaining, unconsumed bytes.
func ReadRequest(buf []byte) (Request, []byte, error) {
	if len(buf) < 20 {
		return Request{}, nil, errShortRequestBuffer()
	}
	clientID := int64(binary.BigEndian.Uint64(buf[0:8]))
	seq := int64(binary.BigEndian.Uint64(buf[8:16]))
	plen := binary.BigEndian.Uint32(buf[16:20])
	buf = buf[20:]
	if uint32(len(buf)) < plen {
		return Request{}, nil, errShortRequestBuffer()
	}
	payload := append([]byte(nil), buf[:plen]...)
	return Request{ID: RequestID{ClientID: clientID, SequenceNo: seq}, Payload: payload}, buf[plen:], nil
}

// EncodeBatch packs requests into the count-prefixed value a Propose
// carries: a 4-byte count followed by each request's self-delimiting
// encoding, in the order given.
func EncodeBatch(requests []Request) []byte {
	size := 4
	for _, r := range requests {
		size += r.ByteSize()
	}
	buf := make([]byte, 4, size)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(requests)))
	for _, r := range requests {
		buf = r.WriteTo(buf)
	}
	return buf
}

// DecodeBatch is the inverse of EncodeBatch, used by the service adapter
// boundary to split a decided value back into its constituent requests.
func DecodeBatch(value []byte) ([]Request, error) {
	if len(value) < 4 {
		return nil, errShortRequestBuffer()
	}
	count := binary.BigEndian.Uint32(value[0:4])
	rest := value[4:]
	out := make([]Request, 0, count)
	for i := uint32(0); i < count; i++ {
		var r Request
		var err error
		r, rest, err = ReadRequest(rest)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// NoOpClientID is the client id the well-known NoOp request is minted
// under; no real client may use it. fillWithNoOperation proposes
// exactly this request to fill a gap whose value nobody locked in before
// the new leader took over.
const NoOpClientID int64 = -1

// NoOpValue is the batch-encoded value of the well-known NoOp request,
// used by the Proposer to fill instances for which no KNOWN value
// survived a view change.
var NoOpValue = EncodeBatch([]Request{{ID: RequestID{ClientID: NoOpClientID}}})

// IsNoOp reports whether value is exactly the well-known NoOp batch.
func IsNoOp(value []byte) bool {
	if len(value) != len(NoOpValue) {
		return false
	}
	for i := range value {
		if value[i] != NoOpValue[i] {
			return false
		}
	}
	return true
}
