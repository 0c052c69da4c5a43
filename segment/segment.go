// Package segment implements the wire framing for rft segments: a fixed
// 18-byte big-endian header followed by up to 1024 bytes of payload, with an
// MD5-derived integrity digest.
package segment

import (
	"encoding/binary"

	"github.com/YaoZengzeng/rft/internal/checksum"
)

// Flags that may be set in a segment.
const (
	FlagSyn uint16 = 1 << iota
	FlagAck
	FlagFin
	FlagRst
)

const (
	// HeaderSize is the fixed length of a serialized segment header, in bytes.
	HeaderSize = 18

	// MaxPayloadSize is the largest payload a single segment may carry.
	MaxPayloadSize = 1024

	// MaxSegmentSize is the largest a serialized segment may be on the wire.
	MaxSegmentSize = HeaderSize + MaxPayloadSize
)

// Field offsets within the serialized header.
const (
	offSeqNum     = 0
	offAckNum     = 4
	offFlags      = 8
	offWindow     = 10
	offChecksum   = 12
	offPayloadLen = 16
)

// Segment is a single protocol-level message: a parsed header plus its
// payload.
type Segment struct {
	SeqNum     uint32
	AckNum     uint32
	Flags      uint16
	WindowSize uint16
	Payload    []byte
}

// IsSyn reports whether the SYN flag is set.
func (s *Segment) IsSyn() bool { return s.Flags&FlagSyn != 0 }

// IsAck reports whether the ACK flag is set.
func (s *Segment) IsAck() bool { return s.Flags&FlagAck != 0 }

// IsFin reports whether the FIN flag is set.
func (s *Segment) IsFin() bool { return s.Flags&FlagFin != 0 }

// IsRst reports whether the RST flag is set.
func (s *Segment) IsRst() bool { return s.Flags&FlagRst != 0 }

// hashedHeader packs the four fields that feed the checksum: seq, ack,
// flags, window. The checksum and payload_len fields are never part of the
// digest input.
func hashedHeader(seq, ack uint32, flags, window uint16) []byte {
	b := make([]byte, 12)
	binary.BigEndian.PutUint32(b[0:], seq)
	binary.BigEndian.PutUint32(b[4:], ack)
	binary.BigEndian.PutUint16(b[8:], flags)
	binary.BigEndian.PutUint16(b[10:], window)
	return b
}

// checksum computes the integrity digest for this segment's current fields.
func (s *Segment) checksum() uint32 {
	return checksum.Sum32(hashedHeader(s.SeqNum, s.AckNum, s.Flags, s.WindowSize), s.Payload)
}

// Serialize packs the segment into its wire representation, computing the
// checksum field fresh from the current header fields and payload.
func (s *Segment) Serialize() []byte {
	b := make([]byte, HeaderSize+len(s.Payload))
	binary.BigEndian.PutUint32(b[offSeqNum:], s.SeqNum)
	binary.BigEndian.PutUint32(b[offAckNum:], s.AckNum)
	binary.BigEndian.PutUint16(b[offFlags:], s.Flags)
	binary.BigEndian.PutUint16(b[offWindow:], s.WindowSize)
	binary.BigEndian.PutUint32(b[offChecksum:], s.checksum())
	binary.BigEndian.PutUint16(b[offPayloadLen:], uint16(len(s.Payload)))
	copy(b[HeaderSize:], s.Payload)
	return b
}

// Deserialize unpacks a wire segment. It returns nil, false on any
// malformed framing (too short, payload_len overflowing the buffer) or on
// checksum mismatch. nil/false is the sole signal of corruption: the caller
// drops the segment, it is never treated as a retryable error.
func Deserialize(b []byte) (*Segment, bool) {
	if len(b) < HeaderSize {
		return nil, false
	}

	payloadLen := int(binary.BigEndian.Uint16(b[offPayloadLen:]))
	if HeaderSize+payloadLen > len(b) {
		return nil, false
	}

	s := &Segment{
		SeqNum:     binary.BigEndian.Uint32(b[offSeqNum:]),
		AckNum:     binary.BigEndian.Uint32(b[offAckNum:]),
		Flags:      binary.BigEndian.Uint16(b[offFlags:]),
		WindowSize: binary.BigEndian.Uint16(b[offWindow:]),
		Payload:    append([]byte(nil), b[HeaderSize:HeaderSize+payloadLen]...),
	}

	receivedChecksum := binary.BigEndian.Uint32(b[offChecksum:])
	if receivedChecksum != s.checksum() {
		return nil, false
	}

	return s, true
}
