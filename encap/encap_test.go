package encap

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pulselink/pulse/internal/testutil/testlog"
)

func TestJoinSplitRoundTrip(t *testing.T) {
	testlog.Start(t)
	packet := Join(0x0bad, []byte("payload"))
	if want := []byte{0x0b, 0xad}; !bytes.Equal(packet[:2], want) {
		t.Fatalf("header mismatch: got=% x want=% x", packet[:2], want)
	}
	channel, body, err := Split(packet)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if channel != 0x0bad {
		t.Fatalf("channel mismatch: got=%#04x", channel)
	}
	if string(body) != "payload" {
		t.Fatalf("body mismatch: %q", body)
	}
}

func TestSplitEmptyBody(t *testing.T) {
	testlog.Start(t)
	channel, body, err := Split(Join(7, nil))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if channel != 7 || len(body) != 0 {
		t.Fatalf("got channel=%d body=%q", channel, body)
	}
}

func TestSplitShortPacket(t *testing.T) {
	testlog.Start(t)
	for _, in := range [][]byte{nil, {0x01}} {
		if _, _, err := Split(in); !errors.Is(err, ErrShortPacket) {
			t.Fatalf("len=%d: expected ErrShortPacket, got %v", len(in), err)
		}
	}
}
