package link

import (
	"sync"
	"time"
)

// socketQueueDepth bounds how many undelivered packets a socket holds before
// the receive loop starts dropping for that channel.
const socketQueueDepth = 32

// Socket is one bound logical channel over an Interface.
type Socket struct {
	channel uint16
	itf     *Interface
	recv    chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	mu      sync.Mutex
	onClose func()
}

func newSocket(itf *Interface, channel uint16) *Socket {
	return &Socket{
		channel: channel,
		itf:     itf,
		recv:    make(chan []byte, socketQueueDepth),
		closed:  make(chan struct{}),
	}
}

// Channel reports the channel id this socket is bound to.
func (s *Socket) Channel() uint16 { return s.channel }

// MTU reports the largest payload one Send can carry.
func (s *Socket) MTU() int { return s.itf.mtu - headerOverhead }

// SetOnClose installs a hook run exactly once when the socket closes.
func (s *Socket) SetOnClose(f func()) {
	s.mu.Lock()
	s.onClose = f
	s.mu.Unlock()
}

// Send transmits data on this channel. It fails with ErrSocketClosed once
// the socket is closed.
func (s *Socket) Send(data []byte) error {
	select {
	case <-s.closed:
		return ErrSocketClosed
	default:
	}
	return s.itf.SendPacket(s.channel, data)
}

// Receive returns the next packet delivered to this channel, waiting up to
// timeout. A non-positive timeout polls without blocking. Queued packets
// are still delivered after close; an empty closed socket reports
// ErrSocketClosed.
func (s *Socket) Receive(timeout time.Duration) ([]byte, error) {
	select {
	case p := <-s.recv:
		return p, nil
	default:
	}
	select {
	case <-s.closed:
		return nil, ErrSocketClosed
	default:
	}
	if timeout <= 0 {
		return nil, ErrReceiveTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case p := <-s.recv:
		return p, nil
	case <-s.closed:
		// Late packets may have raced with close.
		select {
		case p := <-s.recv:
			return p, nil
		default:
		}
		return nil, ErrSocketClosed
	case <-timer.C:
		return nil, ErrReceiveTimeout
	}
}

// Close unbinds the socket from its Interface. It is idempotent; the
// unregistration and the on-close hook both run exactly once.
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.itf.unregister(s.channel, s)
		s.mu.Lock()
		hook := s.onClose
		s.mu.Unlock()
		if hook != nil {
			hook()
		}
	})
	return nil
}

// deliver is called only by the Interface receive loop.
func (s *Socket) deliver(data []byte) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.recv <- data:
		return true
	default:
		return false
	}
}
