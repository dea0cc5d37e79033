package framing

// Flag delimits frames on the wire. The transparency codec guarantees the
// encoded body never contains it.
const Flag byte = 0x55

// substitute is written on the wire wherever the COBS output would carry a
// literal flag byte. Classic COBS output never contains 0x00, so the swap
// is unambiguous in both directions.
const substitute byte = 0x00

const maxBlock = 0xFF

// EncodeTransparency COBS-encodes body so the result contains no flag bytes.
func EncodeTransparency(body []byte) []byte {
	out := make([]byte, 1, len(body)+1+len(body)/254)
	codeAt := 0
	code := byte(1)
	for _, b := range body {
		if code == maxBlock {
			out[codeAt] = swapFlag(code)
			codeAt = len(out)
			out = append(out, 0)
			code = 1
		}
		if b == 0 {
			out[codeAt] = swapFlag(code)
			codeAt = len(out)
			out = append(out, 0)
			code = 1
			continue
		}
		out = append(out, swapFlag(b))
		code++
	}
	out[codeAt] = swapFlag(code)
	return out
}

// DecodeTransparency reverses EncodeTransparency. It fails with ErrDecode
// when a literal flag byte appears where only the substitute is allowed, or
// when a jump pointer runs past the end of the buffer.
func DecodeTransparency(encoded []byte) ([]byte, error) {
	out := make([]byte, 0, len(encoded))
	i := 0
	for i < len(encoded) {
		code, err := unswapFlag(encoded[i])
		if err != nil {
			return nil, err
		}
		i++
		end := i + int(code) - 1
		if end > len(encoded) {
			return nil, errDecodef("jump pointer %d overruns frame at offset %d", code, i-1)
		}
		for ; i < end; i++ {
			b, err := unswapFlag(encoded[i])
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
		if code != maxBlock && i < len(encoded) {
			out = append(out, 0)
		}
	}
	return out, nil
}

func swapFlag(b byte) byte {
	if b == Flag {
		return substitute
	}
	return b
}

func unswapFlag(b byte) (byte, error) {
	switch b {
	case Flag:
		return 0, errDecodef("literal flag byte inside frame body")
	case substitute:
		return Flag, nil
	default:
		return b, nil
	}
}
