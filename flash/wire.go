package flash

import "encoding/binary"

// Command type bytes. A response reuses its command's type with the high
// bit set. All multi-byte fields are little-endian.
const (
	cmdErase          byte = 1
	cmdWrite          byte = 2
	cmdCRC            byte = 3
	cmdQueryRegion    byte = 4
	cmdFinalizeRegion byte = 5

	responseBit byte = 0x80
)

// writeHeaderLen is the WriteCommand overhead per segment: type byte plus
// the 4-byte address.
const writeHeaderLen = 5

func encodeEraseCommand(address, length uint32) []byte {
	out := make([]byte, 9)
	out[0] = cmdErase
	binary.LittleEndian.PutUint32(out[1:5], address)
	binary.LittleEndian.PutUint32(out[5:9], length)
	return out
}

type eraseResponse struct {
	Address  uint32
	Complete bool
}

func decodeEraseResponse(raw []byte) (eraseResponse, error) {
	if len(raw) != 6 || raw[0] != cmdErase|responseBit {
		return eraseResponse{}, errBadResponsef("erase response: % x", raw)
	}
	return eraseResponse{
		Address:  binary.LittleEndian.Uint32(raw[1:5]),
		Complete: raw[5] != 0,
	}, nil
}

func encodeWriteCommand(address uint32, data []byte) []byte {
	out := make([]byte, writeHeaderLen+len(data))
	out[0] = cmdWrite
	binary.LittleEndian.PutUint32(out[1:5], address)
	copy(out[writeHeaderLen:], data)
	return out
}

type writeResponse struct {
	Address uint32
	Length  uint32
}

func decodeWriteResponse(raw []byte) (writeResponse, error) {
	if len(raw) != 9 || raw[0] != cmdWrite|responseBit {
		return writeResponse{}, errBadResponsef("write response: % x", raw)
	}
	return writeResponse{
		Address: binary.LittleEndian.Uint32(raw[1:5]),
		Length:  binary.LittleEndian.Uint32(raw[5:9]),
	}, nil
}

func encodeCRCCommand(address, length uint32) []byte {
	out := make([]byte, 9)
	out[0] = cmdCRC
	binary.LittleEndian.PutUint32(out[1:5], address)
	binary.LittleEndian.PutUint32(out[5:9], length)
	return out
}

type crcResponse struct {
	Address uint32
	Length  uint32
	CRC     uint32
}

func decodeCRCResponse(raw []byte) (crcResponse, error) {
	if len(raw) != 13 || raw[0] != cmdCRC|responseBit {
		return crcResponse{}, errBadResponsef("crc response: % x", raw)
	}
	return crcResponse{
		Address: binary.LittleEndian.Uint32(raw[1:5]),
		Length:  binary.LittleEndian.Uint32(raw[5:9]),
		CRC:     binary.LittleEndian.Uint32(raw[9:13]),
	}, nil
}

func encodeQueryRegionCommand(region byte) []byte {
	return []byte{cmdQueryRegion, region}
}

// RegionGeometry describes one flash region on the target.
type RegionGeometry struct {
	Address uint32
	Length  uint32
}

func decodeRegionGeometryResponse(raw []byte) (byte, RegionGeometry, error) {
	if len(raw) != 10 || raw[0] != cmdQueryRegion|responseBit {
		return 0, RegionGeometry{}, errBadResponsef("region geometry response: % x", raw)
	}
	return raw[1], RegionGeometry{
		Address: binary.LittleEndian.Uint32(raw[2:6]),
		Length:  binary.LittleEndian.Uint32(raw[6:10]),
	}, nil
}

func encodeFinalizeRegionCommand(region byte) []byte {
	return []byte{cmdFinalizeRegion, region}
}

func decodeFinalizeRegionResponse(raw []byte) (byte, error) {
	if len(raw) != 2 || raw[0] != cmdFinalizeRegion|responseBit {
		return 0, errBadResponsef("finalize response: % x", raw)
	}
	return raw[1], nil
}
