package framing

import (
	"bytes"
	"testing"

	"github.com/pulselink/pulse/internal/testutil/testlog"
)

func splitterInput() []byte {
	var in []byte
	in = append(in, Flag)
	in = append(in, []byte("abcdefg")...)
	in = append(in, Flag)
	in = append(in, []byte("foobar")...)
	in = append(in, Flag)
	in = append(in, []byte("asdf")...)
	in = append(in, Flag)
	return in
}

func wantRegions() [][]byte {
	return [][]byte{[]byte("abcdefg"), []byte("foobar"), []byte("asdf")}
}

func checkRegions(t *testing.T, got, want [][]byte) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("frame count mismatch: got=%d want=%d", len(got), len(want))
	}
	for i := range want {
		if !bytes.Equal(got[i], want[i]) {
			t.Fatalf("frame %d mismatch: got=%q want=%q", i, got[i], want[i])
		}
	}
}

func TestSplitterSingleWrite(t *testing.T) {
	testlog.Start(t)
	s := NewSplitter(0)
	s.Write(splitterInput())
	checkRegions(t, s.Frames(), wantRegions())
	if frames := s.Frames(); len(frames) != 0 {
		t.Fatalf("drained splitter yielded %d frames", len(frames))
	}
}

func TestSplitterByteAtATime(t *testing.T) {
	testlog.Start(t)
	s := NewSplitter(0)
	var got [][]byte
	for _, b := range splitterInput() {
		s.Write([]byte{b})
		got = append(got, s.Frames()...)
	}
	checkRegions(t, got, wantRegions())
}

func TestSplitterDiscardsLeadingGarbage(t *testing.T) {
	testlog.Start(t)
	s := NewSplitter(0)
	in := append([]byte("garbage before sync"), splitterInput()...)
	s.Write(in)
	checkRegions(t, s.Frames(), wantRegions())
}

func TestSplitterIgnoresDoubledFlags(t *testing.T) {
	testlog.Start(t)
	s := NewSplitter(0)
	s.Write([]byte{Flag, Flag, Flag, 'h', 'i', Flag, Flag})
	checkRegions(t, s.Frames(), [][]byte{[]byte("hi")})
}

func TestSplitterIncompleteTrailingRegion(t *testing.T) {
	testlog.Start(t)
	s := NewSplitter(0)
	s.Write([]byte{Flag, 'p', 'a', 'r', 't'})
	if frames := s.Frames(); len(frames) != 0 {
		t.Fatalf("incomplete region yielded %d frames", len(frames))
	}
	s.Write([]byte{'i', 'a', 'l', Flag})
	checkRegions(t, s.Frames(), [][]byte{[]byte("partial")})
}

func TestSplitterTruncatesOversizedRegions(t *testing.T) {
	testlog.Start(t)
	s := NewSplitter(4)
	s.Write([]byte{Flag})
	s.Write([]byte("abcdefgh"))
	s.Write([]byte{Flag})
	checkRegions(t, s.Frames(), [][]byte{[]byte("abcd")})
}

func TestSplitterBoundChangeMidStream(t *testing.T) {
	testlog.Start(t)
	s := NewSplitter(0)
	s.Write([]byte{Flag})
	s.Write([]byte("abcdefgh"))
	s.SetMaxFrameLength(3)
	s.Write([]byte("ijk"))
	s.Write([]byte{Flag, 'x', 'y', Flag})
	checkRegions(t, s.Frames(), [][]byte{[]byte("abc"), []byte("xy")})
}

func TestReceiverDiscardsCorruptAndContinues(t *testing.T) {
	testlog.Start(t)
	r := NewReceiver(0)

	var in []byte
	in = append(in, EncodeFrame([]byte("first"))...)
	// A delimited region that is not a valid frame at all.
	in = append(in, 'j', 'u', 'n', 'k', Flag)
	in = append(in, EncodeFrame([]byte("second"))...)

	r.Write(in)
	checkRegions(t, r.Payloads(), [][]byte{[]byte("first"), []byte("second")})
	if r.Dropped() != 1 {
		t.Fatalf("dropped count: got=%d want=1", r.Dropped())
	}
}

func TestReceiverChunkingInvariance(t *testing.T) {
	testlog.Start(t)
	var in []byte
	for _, p := range [][]byte{[]byte("one"), []byte("two"), []byte("three")} {
		in = append(in, EncodeFrame(p)...)
	}

	whole := NewReceiver(0)
	whole.Write(in)
	want := whole.Payloads()

	chunked := NewReceiver(0)
	var got [][]byte
	for _, b := range in {
		chunked.Write([]byte{b})
		got = append(got, chunked.Payloads()...)
	}
	checkRegions(t, got, want)
	checkRegions(t, want, [][]byte{[]byte("one"), []byte("two"), []byte("three")})
}
