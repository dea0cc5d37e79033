package flash

import (
	"errors"
	"fmt"
)

var (
	ErrCommandTimedOut    = errors.New("flash: command timed out")
	ErrWrite              = errors.New("flash: write failed")
	ErrRegionDoesNotExist = errors.New("flash: region does not exist")
	ErrCRCMismatch        = errors.New("flash: content crc mismatch")
	ErrBadResponse        = errors.New("flash: malformed response")
)

func errWritef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrWrite, fmt.Sprintf(format, args...))
}

func errBadResponsef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBadResponse, fmt.Sprintf(format, args...))
}
