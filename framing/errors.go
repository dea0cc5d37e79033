package framing

import (
	"errors"
	"fmt"
)

var (
	ErrDecode       = errors.New("framing: malformed transparency encoding")
	ErrCorruptFrame = errors.New("framing: corrupt frame")
)

func errDecodef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDecode, fmt.Sprintf(format, args...))
}

func errCorruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptFrame, fmt.Sprintf(format, args...))
}
