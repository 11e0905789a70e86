package rcon

import (
	"bytes"
	"io"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  Packet
	}{
		{"auth", Packet{RequestID: 1, Type: TypeAuth, Body: "secret"}},
		{"command", Packet{RequestID: 2, Type: TypeCommand, Body: "say hello world"}},
		{"empty body", Packet{RequestID: 7, Type: TypeResponse, Body: ""}},
		{"unicode body", Packet{RequestID: 3, Type: TypeResponse, Body: "spieler: müller"}},
		{"negative id", Packet{RequestID: -1, Type: TypeAuthResponse, Body: ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.pkt.Marshal()
			got, err := unmarshalFrame(raw)
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got != tt.pkt {
				t.Fatalf("round trip = %+v, want %+v", got, tt.pkt)
			}
		})
	}
}

func TestMarshalLengthInvariant(t *testing.T) {
	p := Packet{RequestID: 5, Type: TypeCommand, Body: "list"}
	raw := p.Marshal()
	// length field counts request_id + type + body + trailing NUL
	wantLen := 4 + 4 + len(p.Body) + 1
	gotLen := int(uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24)
	if gotLen != wantLen {
		t.Fatalf("declared length = %d, want %d", gotLen, wantLen)
	}
	if raw[len(raw)-1] != 0x00 {
		t.Fatal("missing trailing NUL")
	}
	if len(raw) != 4+wantLen {
		t.Fatalf("frame size = %d, want %d", len(raw), 4+wantLen)
	}
}

// chunkReader yields the underlying bytes in fixed-size chunks so the reader
// has to reassemble frames across reads.
type chunkReader struct {
	data  []byte
	chunk int
	pos   int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if c.pos >= len(c.data) {
		return 0, io.EOF
	}
	end := c.pos + c.chunk
	if end > len(c.data) {
		end = len(c.data)
	}
	n := copy(p, c.data[c.pos:end])
	c.pos += n
	return n, nil
}

func TestReaderReassemblesAllChunkSizes(t *testing.T) {
	want := Packet{RequestID: 42, Type: TypeResponse, Body: "There are 2 of a max of 20 players online: alice, bob"}
	raw := want.Marshal()
	for n := 1; n <= len(raw); n++ {
		pr := newPacketReader(&chunkReader{data: raw, chunk: n})
		got, err := pr.next()
		if err != nil {
			t.Fatalf("chunk size %d: %v", n, err)
		}
		if got != want {
			t.Fatalf("chunk size %d: got %+v", n, got)
		}
	}
}

func TestReaderHandlesBackToBackPackets(t *testing.T) {
	first := Packet{RequestID: 1, Type: TypeAuthResponse, Body: ""}
	second := Packet{RequestID: 2, Type: TypeResponse, Body: "done"}
	raw := append(first.Marshal(), second.Marshal()...)

	pr := newPacketReader(&chunkReader{data: raw, chunk: 3})
	got1, err := pr.next()
	if err != nil {
		t.Fatalf("first packet: %v", err)
	}
	got2, err := pr.next()
	if err != nil {
		t.Fatalf("second packet: %v", err)
	}
	if got1 != first || got2 != second {
		t.Fatalf("got %+v / %+v", got1, got2)
	}
}

func TestReaderRejectsBogusLength(t *testing.T) {
	raw := []byte{0xff, 0xff, 0xff, 0x7f, 0, 0, 0, 0}
	pr := newPacketReader(bytes.NewReader(raw))
	_, err := pr.next()
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}
