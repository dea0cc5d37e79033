// Package encap owns the logical-channel encapsulation header.
//
// Every framed payload carries a 2-byte big-endian channel id so one
// physical link can multiplex many logical channels.
package encap

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const HeaderLen = 2

var ErrShortPacket = errors.New("encap: packet shorter than channel header")

// Join prepends the channel id header to body.
func Join(channel uint16, body []byte) []byte {
	out := make([]byte, HeaderLen+len(body))
	binary.BigEndian.PutUint16(out[0:HeaderLen], channel)
	copy(out[HeaderLen:], body)
	return out
}

// Split strips the channel id header from a received packet.
func Split(packet []byte) (uint16, []byte, error) {
	if len(packet) < HeaderLen {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrShortPacket, len(packet))
	}
	return binary.BigEndian.Uint16(packet[0:HeaderLen]), packet[HeaderLen:], nil
}
