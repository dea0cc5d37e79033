package link

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LCPChannel is the reserved channel id the link control protocol runs on.
const LCPChannel uint16 = 0x0001

// Phase is the LCP negotiation state.
type Phase int

const (
	PhaseDown Phase = iota
	PhaseNegotiating
	PhaseUp
)

func (p Phase) String() string {
	switch p {
	case PhaseDown:
		return "down"
	case PhaseNegotiating:
		return "negotiating"
	case PhaseUp:
		return "up"
	default:
		return "unknown"
	}
}

// PPP-style LCP codes.
const (
	codeConfigureRequest byte = 1
	codeConfigureAck     byte = 2
	codeTerminateRequest byte = 5
	codeTerminateAck     byte = 6
	codeEchoRequest      byte = 9
	codeEchoReply        byte = 10
)

const lcpHeaderLen = 4

var errShortLCPPacket = errors.New("link: short lcp packet")

type lcpPacket struct {
	code  byte
	ident byte
	data  []byte
}

func encodeLCP(p lcpPacket) []byte {
	out := make([]byte, lcpHeaderLen+len(p.data))
	out[0] = p.code
	out[1] = p.ident
	binary.BigEndian.PutUint16(out[2:4], uint16(lcpHeaderLen+len(p.data)))
	copy(out[lcpHeaderLen:], p.data)
	return out
}

func decodeLCP(raw []byte) (lcpPacket, error) {
	if len(raw) < lcpHeaderLen {
		return lcpPacket{}, fmt.Errorf("%w: %d bytes", errShortLCPPacket, len(raw))
	}
	length := int(binary.BigEndian.Uint16(raw[2:4]))
	if length < lcpHeaderLen || length > len(raw) {
		return lcpPacket{}, fmt.Errorf("%w: bad length %d", errShortLCPPacket, length)
	}
	return lcpPacket{code: raw[0], ident: raw[1], data: raw[lcpHeaderLen:length]}, nil
}

type lcpConfig struct {
	interval    time.Duration
	maxFailures int
	onUp        func()
	onDown      func()
	log         zerolog.Logger
}

// lcp runs the negotiation/keepalive state machine on the reserved channel.
// All state is owned by the run goroutine; the mutex covers the few fields
// other goroutines inspect.
type lcp struct {
	sock *Socket
	cfg  lcpConfig

	mu        sync.Mutex
	phase     Phase
	finished  bool
	termAckCh chan struct{}

	ident     byte
	echoIdent byte
	gotAck    bool
	ackedPeer bool

	echoOutstanding bool
	failures        int

	stopOnce sync.Once
	stopCh   chan struct{}
}

func newLCP(sock *Socket, cfg lcpConfig) *lcp {
	return &lcp{
		sock:      sock,
		cfg:       cfg,
		phase:     PhaseDown,
		termAckCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
}

func (l *lcp) currentPhase() Phase {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.phase
}

func (l *lcp) run() {
	l.beginNegotiation()
	lastTick := time.Now()
	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		pkt, err := l.sock.Receive(l.cfg.interval)
		switch {
		case err == nil:
			if decoded, derr := decodeLCP(pkt); derr == nil {
				l.handle(decoded)
			} else {
				l.cfg.log.Debug().Err(derr).Msg("dropping malformed lcp packet")
			}
		case errors.Is(err, ErrReceiveTimeout):
			// fall through to the tick check
		default:
			// Socket closed underneath us; the interface is going away.
			return
		}

		if time.Since(lastTick) >= l.cfg.interval {
			lastTick = time.Now()
			l.tick()
		}
	}
}

func (l *lcp) beginNegotiation() {
	l.mu.Lock()
	if l.finished {
		l.mu.Unlock()
		return
	}
	l.phase = PhaseNegotiating
	l.gotAck = false
	l.ackedPeer = false
	l.ident++
	ident := l.ident
	l.mu.Unlock()

	l.cfg.log.Debug().Uint8("ident", ident).Msg("sending configure-request")
	l.send(lcpPacket{code: codeConfigureRequest, ident: ident})
}

func (l *lcp) tick() {
	switch l.currentPhase() {
	case PhaseNegotiating:
		l.mu.Lock()
		ident := l.ident
		l.mu.Unlock()
		l.send(lcpPacket{code: codeConfigureRequest, ident: ident})
	case PhaseUp:
		l.mu.Lock()
		if l.echoOutstanding {
			l.failures++
		}
		failures := l.failures
		l.echoOutstanding = true
		l.echoIdent++
		ident := l.echoIdent
		l.mu.Unlock()

		if failures >= l.cfg.maxFailures {
			l.cfg.log.Warn().Int("failures", failures).Msg("keepalive lost, restarting link")
			l.restart()
			return
		}
		l.send(lcpPacket{code: codeEchoRequest, ident: ident})
	}
}

func (l *lcp) handle(pkt lcpPacket) {
	switch pkt.code {
	case codeConfigureRequest:
		if l.currentPhase() == PhaseUp {
			// Peer restarted underneath an established link.
			l.restart()
		}
		l.mu.Lock()
		l.ackedPeer = true
		l.mu.Unlock()
		l.send(lcpPacket{code: codeConfigureAck, ident: pkt.ident, data: pkt.data})
		l.maybeUp()
	case codeConfigureAck:
		l.mu.Lock()
		stale := pkt.ident != l.ident || l.phase != PhaseNegotiating
		if !stale {
			l.gotAck = true
		}
		l.mu.Unlock()
		if !stale {
			l.maybeUp()
		}
	case codeEchoRequest:
		if l.currentPhase() == PhaseUp {
			l.send(lcpPacket{code: codeEchoReply, ident: pkt.ident, data: pkt.data})
		}
	case codeEchoReply:
		l.mu.Lock()
		l.echoOutstanding = false
		l.failures = 0
		l.mu.Unlock()
	case codeTerminateRequest:
		l.send(lcpPacket{code: codeTerminateAck, ident: pkt.ident})
		l.cfg.log.Info().Msg("peer terminated link")
		l.restart()
	case codeTerminateAck:
		select {
		case l.termAckCh <- struct{}{}:
		default:
		}
	default:
		l.cfg.log.Debug().Uint8("code", pkt.code).Msg("ignoring unknown lcp code")
	}
}

func (l *lcp) maybeUp() {
	l.mu.Lock()
	ready := l.phase == PhaseNegotiating && l.gotAck && l.ackedPeer
	if ready {
		l.phase = PhaseUp
		l.failures = 0
		l.echoOutstanding = false
	}
	l.mu.Unlock()
	if ready {
		l.cfg.log.Info().Msg("lcp up")
		l.cfg.onUp()
	}
}

// restart drops the link and, unless a graceful shutdown finished the
// machine, starts negotiating again.
func (l *lcp) restart() {
	l.mu.Lock()
	wasUp := l.phase == PhaseUp
	l.phase = PhaseDown
	l.echoOutstanding = false
	l.failures = 0
	l.mu.Unlock()

	if wasUp {
		l.cfg.onDown()
	}
	l.beginNegotiation()
}

// shutdown attempts one terminate-request/terminate-ack exchange, then marks
// the machine finished so no further restarts happen.
func (l *lcp) shutdown(timeout time.Duration) {
	l.mu.Lock()
	if l.finished {
		l.mu.Unlock()
		return
	}
	l.finished = true
	l.ident++
	ident := l.ident
	l.mu.Unlock()

	l.send(lcpPacket{code: codeTerminateRequest, ident: ident})
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-l.termAckCh:
		l.cfg.log.Info().Msg("terminate acknowledged")
	case <-timer.C:
		l.cfg.log.Warn().Msg("terminate ack timed out")
	case <-l.stopCh:
	}

	l.mu.Lock()
	wasUp := l.phase == PhaseUp
	l.phase = PhaseDown
	l.mu.Unlock()
	if wasUp {
		l.cfg.onDown()
	}
}

func (l *lcp) stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

func (l *lcp) send(pkt lcpPacket) {
	if err := l.sock.Send(encodeLCP(pkt)); err != nil {
		l.cfg.log.Debug().Err(err).Uint8("code", pkt.code).Msg("lcp send failed")
	}
}
