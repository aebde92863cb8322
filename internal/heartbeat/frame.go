// Package heartbeat implements the liveness link between the managed runtime
// and its out-of-process watcher: a fixed-size frame codec, the connection
// state machine, the miss-counting monitor, and the unix socket endpoints.
package heartbeat

import (
	"encoding/binary"
	"fmt"
)

// FrameSize is the encoded size of every frame.
const FrameSize = 24

// Version is the only wire version understood.
const Version = 1

var magic = [2]byte{'K', 'A'}

type Kind uint8

const (
	KindHello Kind = iota + 1
	KindBeat
	KindBye
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindBeat:
		return "beat"
	case KindBye:
		return "bye"
	default:
		return "unknown"
	}
}

// Frame is one liveness message. Layout (big-endian):
//
//	0   magic "KA"
//	2   version
//	3   kind
//	4   sender id  uint32
//	8   sequence   uint64
//	16  timestamp  int64, boot-clock nanoseconds
type Frame struct {
	Kind      Kind
	SenderID  uint32
	Seq       uint64
	Timestamp int64
}

func (f Frame) MarshalBinary() ([]byte, error) {
	b := make([]byte, FrameSize)
	f.put(b)
	return b, nil
}

func (f *Frame) UnmarshalBinary(b []byte) error {
	got, err := Decode(b)
	if err != nil {
		return err
	}
	*f = got
	return nil
}

func (f Frame) put(b []byte) {
	b[0], b[1] = magic[0], magic[1]
	b[2] = Version
	b[3] = byte(f.Kind)
	binary.BigEndian.PutUint32(b[4:8], f.SenderID)
	binary.BigEndian.PutUint64(b[8:16], f.Seq)
	binary.BigEndian.PutUint64(b[16:24], uint64(f.Timestamp))
}

// Encode returns the wire form of f.
func Encode(f Frame) [FrameSize]byte {
	var b [FrameSize]byte
	f.put(b[:])
	return b
}

// Decode parses one frame from b, which must hold exactly FrameSize bytes.
func Decode(b []byte) (Frame, error) {
	if len(b) != FrameSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}
	if b[0] != magic[0] || b[1] != magic[1] {
		return Frame{}, fmt.Errorf("%w: %q", ErrBadMagic, b[:2])
	}
	if b[2] != Version {
		return Frame{}, fmt.Errorf("%w: %d", ErrBadVersion, b[2])
	}
	k := Kind(b[3])
	if k < KindHello || k > KindBye {
		return Frame{}, fmt.Errorf("%w: %d", ErrBadKind, b[3])
	}
	return Frame{
		Kind:      k,
		SenderID:  binary.BigEndian.Uint32(b[4:8]),
		Seq:       binary.BigEndian.Uint64(b[8:16]),
		Timestamp: int64(binary.BigEndian.Uint64(b[16:24])),
	}, nil
}
