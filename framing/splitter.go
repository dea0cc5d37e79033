package framing

import "sync"

// Splitter extracts delimited regions from an arbitrarily-chunked byte
// stream. Identical input yields identical frames regardless of how the
// bytes are split across Write calls.
type Splitter struct {
	mu     sync.Mutex
	synced bool
	buf    []byte
	frames [][]byte
	maxLen int
}

// NewSplitter returns a splitter that truncates regions longer than maxLen
// encoded bytes. maxLen <= 0 means unbounded.
func NewSplitter(maxLen int) *Splitter {
	return &Splitter{maxLen: maxLen}
}

// SetMaxFrameLength changes the truncation bound. A region already being
// accumulated is truncated immediately if it exceeds the new bound.
func (s *Splitter) SetMaxFrameLength(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxLen = n
	if n > 0 && len(s.buf) > n {
		s.buf = s.buf[:n]
	}
}

// Write feeds raw stream bytes into the splitter.
func (s *Splitter) Write(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range p {
		if !s.synced {
			// Wait for sync: everything before the first flag is noise.
			if b == Flag {
				s.synced = true
			}
			continue
		}
		if b == Flag {
			// Adjacent flags delimit an empty region; ignore it.
			if len(s.buf) > 0 {
				s.frames = append(s.frames, s.buf)
				s.buf = nil
			}
			continue
		}
		if s.maxLen > 0 && len(s.buf) >= s.maxLen {
			continue
		}
		s.buf = append(s.buf, b)
	}
}

// Frames drains and returns the complete regions accumulated so far. A
// drained splitter keeps returning nil until more bytes arrive.
func (s *Splitter) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := s.frames
	s.frames = nil
	return frames
}

// Receiver couples a Splitter with the frame codec: it yields only verified
// payloads and silently drops corrupt regions, keeping the stream alive.
type Receiver struct {
	splitter *Splitter

	mu      sync.Mutex
	dropped uint64
}

func NewReceiver(maxFrameLen int) *Receiver {
	return &Receiver{splitter: NewSplitter(maxFrameLen)}
}

func (r *Receiver) Write(p []byte) {
	r.splitter.Write(p)
}

func (r *Receiver) SetMaxFrameLength(n int) {
	r.splitter.SetMaxFrameLength(n)
}

// Payloads drains the splitter and decodes each region. A corrupt region is
// counted and skipped; it never blocks later frames.
func (r *Receiver) Payloads() [][]byte {
	var out [][]byte
	for _, region := range r.splitter.Frames() {
		payload, err := DecodeFrame(region)
		if err != nil {
			r.mu.Lock()
			r.dropped++
			r.mu.Unlock()
			continue
		}
		out = append(out, payload)
	}
	return out
}

// Dropped reports how many corrupt regions have been discarded.
func (r *Receiver) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}
