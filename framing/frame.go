package framing

import (
	"encoding/binary"
	"hash/crc32"
)

// fcsLen is the length of the CRC-32 trailer appended to every payload.
const fcsLen = 4

// EncodeFrame wraps payload into one complete wire frame: payload plus a
// little-endian CRC-32 trailer, transparency-encoded, delimited by flags.
func EncodeFrame(payload []byte) []byte {
	body := make([]byte, len(payload)+fcsLen)
	copy(body, payload)
	binary.LittleEndian.PutUint32(body[len(payload):], crc32.ChecksumIEEE(payload))

	encoded := EncodeTransparency(body)
	out := make([]byte, 0, len(encoded)+2)
	out = append(out, Flag)
	out = append(out, encoded...)
	out = append(out, Flag)
	return out
}

// StripFCS verifies and removes the CRC-32 trailer from a decoded body.
func StripFCS(body []byte) ([]byte, error) {
	if len(body) < fcsLen {
		return nil, errCorruptf("frame shorter than FCS: %d bytes", len(body))
	}
	payload := body[:len(body)-fcsLen]
	want := binary.LittleEndian.Uint32(body[len(body)-fcsLen:])
	if got := crc32.ChecksumIEEE(payload); got != want {
		return nil, errCorruptf("FCS mismatch: got %08x want %08x", got, want)
	}
	return payload, nil
}

// DecodeFrame decodes one delimited region (flags already stripped) into its
// verified payload.
func DecodeFrame(encoded []byte) ([]byte, error) {
	body, err := DecodeTransparency(encoded)
	if err != nil {
		return nil, err
	}
	return StripFCS(body)
}
