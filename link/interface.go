package link

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulselink/pulse/encap"
	"github.com/pulselink/pulse/framing"
	"github.com/pulselink/pulse/internal/logging"
	"github.com/pulselink/pulse/stream"
)

const (
	// DefaultMTU is the largest encapsulated packet sent on the wire.
	DefaultMTU = 520

	headerOverhead = encap.HeaderLen

	fcsOverhead = 4
)

// Options tune one Interface. The zero value is completed by defaults.
type Options struct {
	// MTU is the largest encapsulated packet (channel header + body).
	MTU int
	// MaxFrameLength bounds an encoded region accumulated by the splitter;
	// 0 derives the worst-case encoded size from MTU.
	MaxFrameLength int
	// KeepaliveInterval drives LCP echo pacing and negotiation resends.
	KeepaliveInterval time.Duration
	// KeepaliveFailures is how many unanswered echoes force a restart.
	KeepaliveFailures int
	// Logger overrides the default component logger.
	Logger *zerolog.Logger
}

func (o *Options) withDefaults() {
	if o.MTU <= 0 {
		o.MTU = DefaultMTU
	}
	if o.MaxFrameLength <= 0 {
		// Worst-case COBS expansion of MTU + FCS, plus the leading code byte.
		body := o.MTU + fcsOverhead
		o.MaxFrameLength = body + body/254 + 1
	}
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = time.Second
	}
	if o.KeepaliveFailures <= 0 {
		o.KeepaliveFailures = 3
	}
}

// Interface owns one physical stream: the single receive goroutine, the
// channel table, and the LCP instance that produces Links.
type Interface struct {
	conn stream.Conn
	log  zerolog.Logger
	mtu  int
	rx   *framing.Receiver
	lcp  *lcp

	writeMu sync.Mutex

	mu      sync.Mutex
	sockets map[uint16]*Socket
	closed  bool

	epoch uint64
	link  *Link
	upCh  chan struct{}

	done chan struct{}
}

// NewInterface takes ownership of conn and starts the receive loop.
func NewInterface(conn stream.Conn, opts Options) (*Interface, error) {
	opts.withDefaults()

	log := logging.New("link")
	if opts.Logger != nil {
		log = *opts.Logger
	}

	itf := &Interface{
		conn:    conn,
		log:     log,
		mtu:     opts.MTU,
		rx:      framing.NewReceiver(opts.MaxFrameLength),
		sockets: make(map[uint16]*Socket),
		upCh:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	lcpSock, err := itf.Connect(LCPChannel)
	if err != nil {
		return nil, err
	}
	itf.lcp = newLCP(lcpSock, lcpConfig{
		interval:    opts.KeepaliveInterval,
		maxFailures: opts.KeepaliveFailures,
		onUp:        itf.linkUp,
		onDown:      itf.linkDown,
		log:         log.With().Str("component", "lcp").Logger(),
	})

	go itf.receiveLoop()
	go itf.lcp.run()
	return itf, nil
}

// Connect binds a Socket to channel. At most one socket may be bound to a
// channel at a time.
func (i *Interface) Connect(channel uint16) (*Socket, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil, ErrInterfaceClosed
	}
	if _, ok := i.sockets[channel]; ok {
		return nil, fmt.Errorf("%w: %#04x", ErrChannelInUse, channel)
	}
	s := newSocket(i, channel)
	i.sockets[channel] = s
	return s, nil
}

// SendPacket frames and transmits one encapsulated packet. A write error is
// a fatal stream failure and cascades to Close.
func (i *Interface) SendPacket(channel uint16, data []byte) error {
	i.mu.Lock()
	closed := i.closed
	i.mu.Unlock()
	if closed {
		return ErrInterfaceClosed
	}

	frame := framing.EncodeFrame(encap.Join(channel, data))
	i.writeMu.Lock()
	_, err := i.conn.Write(frame)
	i.writeMu.Unlock()
	if err != nil {
		i.log.Error().Err(err).Msg("stream write failed")
		i.Close()
		return err
	}
	return nil
}

// GetLink waits up to timeout for LCP to reach Up and returns the Link for
// the current up epoch, or nil if the deadline passes first.
func (i *Interface) GetLink(timeout time.Duration) (*Link, error) {
	deadline := time.Now().Add(timeout)
	for {
		i.mu.Lock()
		if i.closed {
			i.mu.Unlock()
			return nil, ErrInterfaceClosed
		}
		if i.link != nil {
			l := i.link
			i.mu.Unlock()
			return l, nil
		}
		up := i.upCh
		i.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-up:
			timer.Stop()
		case <-i.done:
			timer.Stop()
			return nil, ErrInterfaceClosed
		case <-timer.C:
			return nil, nil
		}
	}
}

// Shutdown attempts a graceful LCP terminate exchange before closing.
func (i *Interface) Shutdown(timeout time.Duration) error {
	i.lcp.shutdown(timeout)
	return i.Close()
}

// Close tears down the Interface: every open socket closes, the current
// Link goes down, and the stream is closed. Idempotent.
func (i *Interface) Close() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	socks := make([]*Socket, 0, len(i.sockets))
	for _, s := range i.sockets {
		socks = append(socks, s)
	}
	link := i.link
	i.link = nil
	i.mu.Unlock()

	i.lcp.stop()
	if link != nil {
		link.Down()
	}
	for _, s := range socks {
		s.Close()
	}
	err := i.conn.Close()
	i.log.Info().Msg("interface closed")
	return err
}

// SetMaxFrameLength adjusts the splitter bound at runtime.
func (i *Interface) SetMaxFrameLength(n int) {
	i.rx.SetMaxFrameLength(n)
}

func (i *Interface) receiveLoop() {
	defer close(i.done)
	buf := make([]byte, 4096)
	for {
		n, err := i.conn.Read(buf)
		if err != nil {
			i.mu.Lock()
			closed := i.closed
			i.mu.Unlock()
			if !closed {
				i.log.Error().Err(err).Msg("stream read failed")
				i.Close()
			}
			return
		}
		if n == 0 {
			// No data right now; bail out promptly if we are shutting down.
			i.mu.Lock()
			closed := i.closed
			i.mu.Unlock()
			if closed {
				return
			}
			continue
		}
		i.rx.Write(buf[:n])
		for _, payload := range i.rx.Payloads() {
			channel, body, err := encap.Split(payload)
			if err != nil {
				i.log.Debug().Err(err).Msg("dropping undersized packet")
				continue
			}
			i.dispatch(channel, body)
		}
	}
}

func (i *Interface) dispatch(channel uint16, body []byte) {
	i.mu.Lock()
	s := i.sockets[channel]
	i.mu.Unlock()
	if s == nil {
		i.log.Debug().Uint16("channel", channel).Msg("no socket bound, dropping packet")
		return
	}
	if !s.deliver(body) {
		i.log.Warn().Uint16("channel", channel).Msg("socket queue full, dropping packet")
	}
}

func (i *Interface) unregister(channel uint16, s *Socket) {
	i.mu.Lock()
	if cur, ok := i.sockets[channel]; ok && cur == s {
		delete(i.sockets, channel)
	}
	i.mu.Unlock()
}

func (i *Interface) linkUp() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.epoch++
	l := newLink(i, i.epoch)
	i.link = l
	close(i.upCh)
	epoch := i.epoch
	i.mu.Unlock()
	i.log.Info().Uint64("epoch", epoch).Str("link", l.ID().String()).Msg("link up")
}

func (i *Interface) linkDown() {
	i.mu.Lock()
	l := i.link
	i.link = nil
	if l != nil {
		i.upCh = make(chan struct{})
	}
	i.mu.Unlock()
	if l != nil {
		i.log.Warn().Uint64("epoch", l.Epoch()).Msg("link down")
		l.Down()
	}
}
