package link

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TransportBestEffort is the built-in datagram transport name.
const TransportBestEffort = "best-effort"

// Transport hands out application sockets for one Link. Implementations are
// resolved by name at OpenSocket time.
type Transport interface {
	OpenSocket(port uint16, timeout time.Duration) (*Socket, error)
	Down()
}

// Link is one negotiated "up" epoch of an Interface. A Link handed out
// before a down/up cycle stays closed even though a newer Link exists.
type Link struct {
	itf   *Interface
	epoch uint64
	id    uuid.UUID

	mu         sync.Mutex
	closed     bool
	transports map[string]Transport
	onClose    func()
}

func newLink(itf *Interface, epoch uint64) *Link {
	l := &Link{
		itf:        itf,
		epoch:      epoch,
		id:         uuid.New(),
		transports: make(map[string]Transport),
	}
	l.transports[TransportBestEffort] = &bestEffortTransport{itf: itf}
	return l
}

// ID is a stable identifier for this link epoch, used for log correlation.
func (l *Link) ID() uuid.UUID { return l.id }

// Epoch reports which LCP up transition produced this Link.
func (l *Link) Epoch() uint64 { return l.epoch }

// Closed reports whether this Link's epoch has ended.
func (l *Link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// SetOnClose installs a hook run when the Link goes down.
func (l *Link) SetOnClose(f func()) {
	l.mu.Lock()
	l.onClose = f
	l.mu.Unlock()
}

// RegisterTransport adds a named transport implementation.
func (l *Link) RegisterTransport(name string, t Transport) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLinkClosed
	}
	l.transports[name] = t
	return nil
}

// OpenSocket resolves the named transport and asks it for a socket bound to
// port.
func (l *Link) OpenSocket(transport string, port uint16, timeout time.Duration) (*Socket, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrLinkClosed
	}
	t, ok := l.transports[transport]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, transport)
	}
	return t.OpenSocket(port, timeout)
}

// Down ends this Link's epoch: every registered transport is taken down and
// the on-close hook runs. Idempotent.
func (l *Link) Down() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	transports := make([]Transport, 0, len(l.transports))
	for _, t := range l.transports {
		transports = append(transports, t)
	}
	hook := l.onClose
	l.mu.Unlock()

	for _, t := range transports {
		t.Down()
	}
	if hook != nil {
		hook()
	}
}

// bestEffortTransport binds datagram sockets directly onto Interface
// channels; the port is the channel id.
type bestEffortTransport struct {
	itf *Interface

	mu      sync.Mutex
	down    bool
	sockets []*Socket
}

func (t *bestEffortTransport) OpenSocket(port uint16, timeout time.Duration) (*Socket, error) {
	_ = timeout // best-effort sockets open without negotiation

	t.mu.Lock()
	if t.down {
		t.mu.Unlock()
		return nil, ErrLinkClosed
	}
	t.mu.Unlock()

	s, err := t.itf.Connect(port)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.down {
		t.mu.Unlock()
		s.Close()
		return nil, ErrLinkClosed
	}
	t.sockets = append(t.sockets, s)
	t.mu.Unlock()
	return s, nil
}

func (t *bestEffortTransport) Down() {
	t.mu.Lock()
	if t.down {
		t.mu.Unlock()
		return
	}
	t.down = true
	sockets := t.sockets
	t.sockets = nil
	t.mu.Unlock()
	for _, s := range sockets {
		s.Close()
	}
}
