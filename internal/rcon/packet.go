// Package rcon implements the length-prefixed binary remote-console protocol
// used to authenticate with and send text commands to a running game server.
//
// Wire format (little-endian):
//
//	int32 length | int32 request_id | int32 type | body (UTF-8) | 0x00
//
// length counts everything after itself: request_id, type, body and the
// trailing NUL.
package rcon

import (
	"encoding/binary"
	"fmt"
)

// Packet type codes. AuthResponse and Command share the value 2; direction
// disambiguates them.
const (
	TypeResponse     int32 = 0
	TypeCommand      int32 = 2
	TypeAuthResponse int32 = 2
	TypeAuth         int32 = 3
)

// headerLen is request_id + type; minBodyLen adds the trailing NUL.
const (
	headerLen  = 8
	minPayload = headerLen + 1
	// maxPayload bounds the declared length so a corrupt or hostile peer
	// cannot make the reader allocate unbounded memory.
	maxPayload = 1 << 20
)

// Packet is one decoded protocol frame. Body is held un-terminated; the NUL
// exists only on the wire.
type Packet struct {
	RequestID int32
	Type      int32
	Body      string
}

// Marshal serializes p into its wire representation.
func (p Packet) Marshal() []byte {
	body := []byte(p.Body)
	length := minPayload + len(body)
	out := make([]byte, 0, 4+length)
	out = binary.LittleEndian.AppendUint32(out, uint32(length))
	out = binary.LittleEndian.AppendUint32(out, uint32(p.RequestID))
	out = binary.LittleEndian.AppendUint32(out, uint32(p.Type))
	out = append(out, body...)
	out = append(out, 0x00)
	return out
}

// unmarshalFrame decodes one complete frame (length prefix included).
func unmarshalFrame(frame []byte) (Packet, error) {
	if len(frame) < 4+minPayload {
		return Packet{}, &ProtocolError{Reason: fmt.Sprintf("frame too short: %d bytes", len(frame))}
	}
	length := int32(binary.LittleEndian.Uint32(frame[0:4]))
	if int(length)+4 != len(frame) {
		return Packet{}, &ProtocolError{Reason: fmt.Sprintf("declared length %d does not match frame of %d bytes", length, len(frame))}
	}
	p := Packet{
		RequestID: int32(binary.LittleEndian.Uint32(frame[4:8])),
		Type:      int32(binary.LittleEndian.Uint32(frame[8:12])),
	}
	body := frame[12 : len(frame)-1]
	if frame[len(frame)-1] != 0x00 {
		return Packet{}, &ProtocolError{Reason: "missing body terminator"}
	}
	p.Body = string(body)
	return p, nil
}
