package flash

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulselink/pulse/internal/logging"
	"github.com/pulselink/pulse/link"
)

// Socket is the best-effort datagram surface a Session runs on. A
// *link.Socket satisfies it.
type Socket interface {
	Send(data []byte) error
	Receive(timeout time.Duration) ([]byte, error)
	MTU() int
}

var _ Socket = (*link.Socket)(nil)

// Options tune a Session. The zero value is completed by defaults.
type Options struct {
	// AckTimeout is how long one in-flight write segment may wait for its
	// ack before being requeued.
	AckTimeout time.Duration
	// CommandTimeout bounds one wait for a command response.
	CommandTimeout time.Duration
	// CommandAttempts bounds how often a command is resent.
	CommandAttempts int
	// EraseTimeout bounds the wait for erase completion after the first ack.
	EraseTimeout time.Duration
	// Yield is the pause at the bottom of the write loop.
	Yield time.Duration

	Logger *zerolog.Logger
}

func (o *Options) withDefaults() {
	if o.AckTimeout <= 0 {
		o.AckTimeout = 500 * time.Millisecond
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = time.Second
	}
	if o.CommandAttempts <= 0 {
		o.CommandAttempts = 3
	}
	if o.EraseTimeout <= 0 {
		o.EraseTimeout = 20 * time.Second
	}
	if o.Yield <= 0 {
		o.Yield = time.Millisecond
	}
}

// Session drives the flashing command/response micro-protocols over one
// best-effort socket.
type Session struct {
	sock Socket
	opts Options
	log  zerolog.Logger
}

func NewSession(sock Socket, opts Options) *Session {
	opts.withDefaults()
	log := logging.New("flash")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	return &Session{sock: sock, opts: opts, log: log}
}

// Erase asks the target to erase length bytes at address. The command is
// resent until the target acknowledges it has started, then the session
// waits longer for the completion flag.
func (s *Session) Erase(address, length uint32) error {
	cmd := encodeEraseCommand(address, length)

	acked := false
	for attempt := 0; attempt < s.opts.CommandAttempts && !acked; attempt++ {
		if err := s.sock.Send(cmd); err != nil {
			return err
		}
		resp, err := s.receiveResponse(cmdErase|responseBit, s.opts.AckTimeout)
		if err != nil {
			if errors.Is(err, link.ErrReceiveTimeout) {
				continue
			}
			return err
		}
		er, err := decodeEraseResponse(resp)
		if err != nil || er.Address != address {
			continue
		}
		if er.Complete {
			return nil
		}
		acked = true
	}
	if !acked {
		return fmt.Errorf("%w: erase never acknowledged", ErrCommandTimedOut)
	}

	deadline := time.Now().Add(s.opts.EraseTimeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: erase never completed", ErrCommandTimedOut)
		}
		resp, err := s.receiveResponse(cmdErase|responseBit, remaining)
		if err != nil {
			if errors.Is(err, link.ErrReceiveTimeout) {
				continue
			}
			return err
		}
		if er, err := decodeEraseResponse(resp); err == nil && er.Address == address && er.Complete {
			return nil
		}
	}
}

type segment struct {
	addr    uint32
	data    []byte
	retries int
	sentAt  time.Time
}

// Write pushes data to address using a sliding window of in-flight
// segments. progress receives true per confirmed segment and false per
// retry; it may be nil. The return value is the total number of retries.
func (s *Session) Write(address uint32, data []byte, maxRetries, maxInFlight int, progress func(bool)) (int, error) {
	if progress == nil {
		progress = func(bool) {}
	}
	mtu := s.sock.MTU() - writeHeaderLen
	if mtu <= 0 {
		return 0, errWritef("socket mtu %d leaves no room for data", s.sock.MTU())
	}
	if maxInFlight <= 0 {
		maxInFlight = 1
	}

	var unsent []*segment
	for off := 0; off < len(data); off += mtu {
		end := off + mtu
		if end > len(data) {
			end = len(data)
		}
		unsent = append(unsent, &segment{addr: address + uint32(off), data: data[off:end]})
	}

	inflight := make(map[uint32]*segment)
	var order []uint32 // in-flight addresses, oldest first
	totalRetries := 0

	for len(unsent) > 0 || len(inflight) > 0 {
		// Drain whatever acks have arrived.
		for {
			raw, err := s.sock.Receive(0)
			if err != nil {
				if errors.Is(err, link.ErrReceiveTimeout) {
					break
				}
				return totalRetries, err
			}
			if len(raw) == 0 || raw[0] != cmdWrite|responseBit {
				// Stale response from an earlier command left in the queue.
				s.log.Debug().Hex("packet", raw).Msg("discarding stale response")
				continue
			}
			resp, err := decodeWriteResponse(raw)
			if err != nil {
				return totalRetries, errWritef("unexpected response: %v", err)
			}
			if seg, ok := inflight[resp.Address]; ok {
				if int(resp.Length) != len(seg.data) {
					return totalRetries, errWritef("segment %#x acked %d bytes, sent %d", resp.Address, resp.Length, len(seg.data))
				}
				delete(inflight, resp.Address)
				order = removeAddr(order, resp.Address)
				progress(true)
				continue
			}
			if seg := takeQueuedRetry(&unsent, resp.Address); seg != nil {
				// The ack for an earlier attempt arrived after the segment
				// was requeued; the retry is no longer needed.
				if int(resp.Length) != len(seg.data) {
					return totalRetries, errWritef("segment %#x acked %d bytes, sent %d", resp.Address, resp.Length, len(seg.data))
				}
				progress(true)
				continue
			}
			return totalRetries, errWritef("ack for unknown segment %#x", resp.Address)
		}

		// Requeue in-flight segments whose ack is overdue, oldest first.
		now := time.Now()
		var expired []*segment
		for len(order) > 0 {
			seg := inflight[order[0]]
			if now.Sub(seg.sentAt) < s.opts.AckTimeout {
				break
			}
			delete(inflight, order[0])
			order = order[1:]
			seg.retries++
			if seg.retries >= maxRetries {
				return totalRetries, errWritef("segment %#x exhausted %d retries", seg.addr, maxRetries)
			}
			totalRetries++
			progress(false)
			s.log.Debug().Uint32("addr", seg.addr).Int("retries", seg.retries).Msg("requeueing write segment")
			expired = append(expired, seg)
		}
		if len(expired) > 0 {
			unsent = append(expired, unsent...)
		}

		// Top the window back up.
		for len(inflight) < maxInFlight && len(unsent) > 0 {
			seg := unsent[0]
			unsent = unsent[1:]
			if err := s.sock.Send(encodeWriteCommand(seg.addr, seg.data)); err != nil {
				return totalRetries, err
			}
			seg.sentAt = time.Now()
			inflight[seg.addr] = seg
			order = append(order, seg.addr)
		}

		time.Sleep(s.opts.Yield)
	}
	return totalRetries, nil
}

// CRC asks the target to checksum length bytes at address.
func (s *Session) CRC(address, length uint32) (uint32, error) {
	resp, err := s.command(encodeCRCCommand(address, length), cmdCRC|responseBit)
	if err != nil {
		return 0, err
	}
	cr, err := decodeCRCResponse(resp)
	if err != nil {
		return 0, err
	}
	if cr.Address != address || cr.Length != length {
		return 0, errBadResponsef("crc response for %#x+%d, asked %#x+%d", cr.Address, cr.Length, address, length)
	}
	return cr.CRC, nil
}

// QueryRegionGeometry reports where a named region lives. A target that
// answers with zero address and length does not have the region.
func (s *Session) QueryRegionGeometry(region byte) (RegionGeometry, error) {
	resp, err := s.command(encodeQueryRegionCommand(region), cmdQueryRegion|responseBit)
	if err != nil {
		return RegionGeometry{}, err
	}
	got, geom, err := decodeRegionGeometryResponse(resp)
	if err != nil {
		return RegionGeometry{}, err
	}
	if got != region {
		return RegionGeometry{}, errBadResponsef("geometry for region %d, asked %d", got, region)
	}
	if geom.Address == 0 && geom.Length == 0 {
		return RegionGeometry{}, ErrRegionDoesNotExist
	}
	return geom, nil
}

// FinalizeRegion commits a fully written region on the target.
func (s *Session) FinalizeRegion(region byte) error {
	resp, err := s.command(encodeFinalizeRegionCommand(region), cmdFinalizeRegion|responseBit)
	if err != nil {
		return err
	}
	got, err := decodeFinalizeRegionResponse(resp)
	if err != nil {
		return err
	}
	if got != region {
		return errBadResponsef("finalize for region %d, asked %d", got, region)
	}
	return nil
}

// WriteVerified writes data and cross-checks the target's CRC against the
// expected content CRC supplied by the image container.
func (s *Session) WriteVerified(address uint32, data []byte, expectedCRC uint32, maxRetries, maxInFlight int, progress func(bool)) (int, error) {
	retries, err := s.Write(address, data, maxRetries, maxInFlight, progress)
	if err != nil {
		return retries, err
	}
	got, err := s.CRC(address, uint32(len(data)))
	if err != nil {
		return retries, err
	}
	if got != expectedCRC {
		return retries, fmt.Errorf("%w: target crc %08x, expected %08x", ErrCRCMismatch, got, expectedCRC)
	}
	return retries, nil
}

// command sends req and waits for a response of the wanted type, resending
// up to the attempt budget.
func (s *Session) command(req []byte, want byte) ([]byte, error) {
	for attempt := 0; attempt < s.opts.CommandAttempts; attempt++ {
		if err := s.sock.Send(req); err != nil {
			return nil, err
		}
		resp, err := s.receiveResponse(want, s.opts.CommandTimeout)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, link.ErrReceiveTimeout) {
			return nil, err
		}
	}
	return nil, ErrCommandTimedOut
}

// receiveResponse waits up to timeout for a packet of the wanted type,
// discarding stale responses from earlier commands.
func (s *Session) receiveResponse(want byte, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, link.ErrReceiveTimeout
		}
		raw, err := s.sock.Receive(remaining)
		if err != nil {
			return nil, err
		}
		if len(raw) > 0 && raw[0] == want {
			return raw, nil
		}
		s.log.Debug().Hex("packet", raw).Msg("discarding stale response")
	}
}

func removeAddr(order []uint32, addr uint32) []uint32 {
	for i, a := range order {
		if a == addr {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

func takeQueuedRetry(unsent *[]*segment, addr uint32) *segment {
	q := *unsent
	for i, seg := range q {
		if seg.addr == addr && seg.retries > 0 {
			*unsent = append(q[:i], q[i+1:]...)
			return seg
		}
	}
	return nil
}
