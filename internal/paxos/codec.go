package paxos

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// headerSize is type(1) + view(4) + sentTime(8).
const headerSize = 1 + 4 + 8

// Encode produces the bit-exact wire representation of m. For every m,
// len(Encode(m)) == ByteSize(m).
func Encode(m Message) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, ByteSize(m)))
	if err := writeHeader(buf, m.Kind(), m.GetView(), m.GetSentTime()); err != nil {
		return nil, err
	}
	if err := writePayload(buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode is the exact inverse of Encode.
func Decode(data []byte) (Message, error) {
	r := bytes.NewReader(data)
	kind, view, sentTime, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	switch kind {
	case MsgPrepare:
		firstUncommitted, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		return Prepare{ViewNum: view, SentTimeMs: sentTime, FirstUncommitted: firstUncommitted}, nil
	case MsgPrepareOK:
		prepared, err := readInstanceList(r)
		if err != nil {
			return nil, err
		}
		return PrepareOK{ViewNum: view, SentTimeMs: sentTime, Prepared: prepared}, nil
	case MsgPropose:
		inst, err := readInstance(r)
		if err != nil {
			return nil, err
		}
		return Propose{ViewNum: view, SentTimeMs: sentTime, Instance: inst}, nil
	case MsgAccept:
		id, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		return Accept{ViewNum: view, SentTimeMs: sentTime, InstanceID: id}, nil
	case MsgAlive:
		return Alive{ViewNum: view, SentTimeMs: sentTime}, nil
	case MsgCatchUpQuery:
		firstUncommitted, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		missing, err := readInt32List(r)
		if err != nil {
			return nil, err
		}
		return CatchUpQuery{ViewNum: view, SentTimeMs: sentTime, FirstUncommitted: firstUncommitted, Missing: missing}, nil
	case MsgCatchUpResponse:
		instances, err := readInstanceList(r)
		if err != nil {
			return nil, err
		}
		return CatchUpResponse{ViewNum: view, SentTimeMs: sentTime, Instances: instances}, nil
	case MsgCatchUpSnapshot:
		lastID, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		lastView, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		serviceBytes, err := readByteSlice(r)
		if err != nil {
			return nil, err
		}
		replyCache, err := readByteSlice(r)
		if err != nil {
			return nil, err
		}
		return CatchUpSnapshot{
			ViewNum:                view,
			SentTimeMs:             sentTime,
			LastIncludedInstanceID: lastID,
			LastIncludedView:       lastView,
			ServiceBytes:           serviceBytes,
			ClientReplyCache:       replyCache,
		}, nil
	default:
		return nil, fmt.Errorf("paxos: unknown message type %d", kind)
	}
}

// ByteSize returns the exact number of bytes Encode(m) produces, without
// allocating.
func ByteSize(m Message) int {
	size := headerSize
	switch v := m.(type) {
	case Prepare:
		size += 4
	case PrepareOK:
		size += 4
		for _, ci := range v.Prepared {
			size += instanceByteSize(ci)
		}
	case Propose:
		size += instanceByteSize(v.Instance)
	case Accept:
		size += 4
	case Alive:
	case CatchUpQuery:
		size += 4 + 4 + 4*len(v.Missing)
	case CatchUpResponse:
		size += 4
		for _, ci := range v.Instances {
			size += instanceByteSize(ci)
		}
	case CatchUpSnapshot:
		size += 4 + 4 + 4 + len(v.ServiceBytes) + 4 + len(v.ClientReplyCache)
	default:
		panic(fmt.Sprintf("paxos: unknown message type %T", m))
	}
	return size
}

// instanceByteSize is the length of a ConsensusInstance record: id(4)
// view(4) state(4) len(4, -1 for absent) + bytes.
func instanceByteSize(ci *ConsensusInstance) int {
	n := 4 + 4 + 4 + 4
	if ci.Value != nil {
		n += len(ci.Value)
	}
	return n
}

func writeHeader(buf *bytes.Buffer, kind MessageType, view int32, sentTime int64) error {
	buf.WriteByte(byte(kind))
	return writeInts(buf, view, sentTime)
}

func writeInts(buf *bytes.Buffer, view int32, sentTime int64) error {
	var tmp [12]byte
	binary.BigEndian.PutUint32(tmp[0:4], uint32(view))
	binary.BigEndian.PutUint64(tmp[4:12], uint64(sentTime))
	_, err := buf.Write(tmp[:])
	return err
}

func writePayload(buf *bytes.Buffer, m Message) error {
	switch v := m.(type) {
	case Prepare:
		return writeInt32(buf, v.FirstUncommitted)
	case PrepareOK:
		return writeInstanceList(buf, v.Prepared)
	case Propose:
		return writeInstance(buf, v.Instance)
	case Accept:
		return writeInt32(buf, v.InstanceID)
	case Alive:
		return nil
	case CatchUpQuery:
		if err := writeInt32(buf, v.FirstUncommitted); err != nil {
			return err
		}
		return writeInt32List(buf, v.Missing)
	case CatchUpResponse:
		return writeInstanceList(buf, v.Instances)
	case CatchUpSnapshot:
		if err := writeInt32(buf, v.LastIncludedInstanceID); err != nil {
			return err
		}
		if err := writeInt32(buf, v.LastIncludedView); err != nil {
			return err
		}
		if err := writeByteSlice(buf, v.ServiceBytes); err != nil {
			return err
		}
		return writeByteSlice(buf, v.ClientReplyCache)
	default:
		return fmt.Errorf("paxos: unknown message type %T", m)
	}
}

func writeInt32(buf *bytes.Buffer, v int32) error {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	_, err := buf.Write(tmp[:])
	return err
}

func writeInt32List(buf *bytes.Buffer, vs []int32) error {
	if err := writeInt32(buf, int32(len(vs))); err != nil {
		return err
	}
	for _, v := range vs {
		if err := writeInt32(buf, v); err != nil {
			return err
		}
	}
	return nil
}

func writeByteSlice(buf *bytes.Buffer, b []byte) error {
	if b == nil {
		return writeInt32(buf, -1)
	}
	if err := writeInt32(buf, int32(len(b))); err != nil {
		return err
	}
	_, err := buf.Write(b)
	return err
}

func writeInstance(buf *bytes.Buffer, ci *ConsensusInstance) error {
	if err := writeInt32(buf, ci.ID); err != nil {
		return err
	}
	if err := writeInt32(buf, ci.View); err != nil {
		return err
	}
	if err := writeInt32(buf, int32(ci.State)); err != nil {
		return err
	}
	return writeByteSlice(buf, ci.Value)
}

func writeInstanceList(buf *bytes.Buffer, list []*ConsensusInstance) error {
	if err := writeInt32(buf, int32(len(list))); err != nil {
		return err
	}
	for _, ci := range list {
		if err := writeInstance(buf, ci); err != nil {
			return err
		}
	}
	return nil
}

func readHeader(r *bytes.Reader) (MessageType, int32, int64, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return 0, 0, 0, err
	}
	view, err := readInt32(r)
	if err != nil {
		return 0, 0, 0, err
	}
	sentTime, err := readInt64(r)
	if err != nil {
		return 0, 0, 0, err
	}
	return MessageType(kindByte), view, sentTime, nil
}

func readInt32(r *bytes.Reader) (int32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(tmp[:])), nil
}

func readInt64(r *bytes.Reader) (int64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(tmp[:])), nil
}

func readInt32List(r *bytes.Reader) ([]int32, error) {
	n, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	out := make([]int32, n)
	for i := range out {
		v, err := readInt32(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func readByteSlice(r *bytes.Reader) ([]byte, error) {
	n, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	if n == -1 {
		return nil, nil
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func readInstance(r *bytes.Reader) (*ConsensusInstance, error) {
	id, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	view, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	state, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	value, err := readByteSlice(r)
	if err != nil {
		return nil, err
	}
	return &ConsensusInstance{ID: id, View: view, State: State(state), Value: value}, nil
}

func readInstanceList(r *bytes.Reader) ([]*ConsensusInstance, error) {
	n, err := readInt32(r)
	if err != nil {
		return nil, err
	}
	out := make([]*ConsensusInstance, n)
	for i := range out {
		ci, err := readInstance(r)
		if err != nil {
			return nil, err
		}
		out[i] = ci
	}
	return out, nil
}
