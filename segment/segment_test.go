package segment

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		seg  Segment
	}{
		{"syn", Segment{SeqNum: 0, AckNum: 0, Flags: FlagSyn, WindowSize: 1024}},
		{"syn-ack", Segment{SeqNum: 0, AckNum: 1, Flags: FlagSyn | FlagAck, WindowSize: 8192}},
		{"data", Segment{SeqNum: 1, AckNum: 0, Flags: FlagAck, WindowSize: 1024, Payload: bytes.Repeat([]byte{0xab}, 1024)}},
		{"empty-payload", Segment{SeqNum: 2, AckNum: 3, Flags: FlagAck, WindowSize: 1024, Payload: []byte{}}},
		{"fin", Segment{SeqNum: 10, AckNum: 0, Flags: FlagFin, WindowSize: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := tt.seg.Serialize()
			got, ok := Deserialize(wire)
			if !ok {
				t.Fatalf("Deserialize failed for valid segment")
			}
			if got.SeqNum != tt.seg.SeqNum || got.AckNum != tt.seg.AckNum ||
				got.Flags != tt.seg.Flags || got.WindowSize != tt.seg.WindowSize {
				t.Fatalf("round trip mismatch: got %+v, want %+v", got, tt.seg)
			}
			if !bytes.Equal(got.Payload, tt.seg.Payload) {
				t.Fatalf("payload mismatch: got %v, want %v", got.Payload, tt.seg.Payload)
			}
		})
	}
}

func TestDeserializeTooShort(t *testing.T) {
	for n := 0; n < HeaderSize; n++ {
		if _, ok := Deserialize(make([]byte, n)); ok {
			t.Fatalf("Deserialize accepted a %d-byte buffer", n)
		}
	}
}

func TestDeserializePayloadLenOverflow(t *testing.T) {
	seg := Segment{SeqNum: 1, Flags: FlagAck, Payload: []byte("hi")}
	wire := seg.Serialize()
	// Claim a payload far larger than what follows.
	wire[offPayloadLen] = 0xff
	wire[offPayloadLen+1] = 0xff
	if _, ok := Deserialize(wire); ok {
		t.Fatalf("Deserialize accepted an overflowing payload_len")
	}
}

func TestBitFlipAlwaysDetected(t *testing.T) {
	seg := Segment{SeqNum: 42, AckNum: 7, Flags: FlagAck, WindowSize: 1024, Payload: []byte("the quick brown fox")}
	wire := seg.Serialize()

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		corrupt := append([]byte(nil), wire...)
		byteIdx := rng.Intn(len(corrupt))
		bitIdx := rng.Intn(8)
		corrupt[byteIdx] ^= 1 << uint(bitIdx)

		if _, ok := Deserialize(corrupt); ok {
			t.Fatalf("bit flip at byte %d bit %d went undetected", byteIdx, bitIdx)
		}
	}
}

func TestMaxPayload(t *testing.T) {
	seg := Segment{SeqNum: 1, Flags: FlagAck, Payload: bytes.Repeat([]byte{1}, MaxPayloadSize)}
	wire := seg.Serialize()
	if len(wire) != MaxSegmentSize {
		t.Fatalf("serialized max segment size = %d, want %d", len(wire), MaxSegmentSize)
	}
	got, ok := Deserialize(wire)
	if !ok || len(got.Payload) != MaxPayloadSize {
		t.Fatalf("round trip of max payload failed")
	}
}
