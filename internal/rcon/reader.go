package rcon

import (
	"encoding/binary"
	"fmt"
	"io"
)

// packetReader reassembles logical packets from a byte stream. The server may
// split one packet across any number of TCP segments, so the reader
// accumulates bytes until the declared frame length has arrived. One read()
// never maps to one packet.
type packetReader struct {
	r   io.Reader
	buf []byte
}

func newPacketReader(r io.Reader) *packetReader {
	return &packetReader{r: r}
}

// next blocks until a complete packet is buffered and returns it. Leftover
// bytes stay buffered for the following call.
func (pr *packetReader) next() (Packet, error) {
	chunk := make([]byte, 4096)
	for {
		if len(pr.buf) >= 4 {
			length := int32(binary.LittleEndian.Uint32(pr.buf[0:4]))
			if length < minPayload || length > maxPayload {
				return Packet{}, &ProtocolError{Reason: fmt.Sprintf("invalid declared length %d", length)}
			}
			total := int(length) + 4
			if len(pr.buf) >= total {
				pkt, err := unmarshalFrame(pr.buf[:total])
				pr.buf = append(pr.buf[:0], pr.buf[total:]...)
				return pkt, err
			}
		}
		n, err := pr.r.Read(chunk)
		if n > 0 {
			pr.buf = append(pr.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			if err == io.EOF && len(pr.buf) > 0 {
				return Packet{}, &ProtocolError{Reason: "connection closed mid-packet"}
			}
			return Packet{}, err
		}
	}
}
