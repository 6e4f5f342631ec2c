package ac

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/sde1000/pppoe-serial-bridge/internal/wire"
)

// defaultMTU is the outbound session MTU used unless WithMTU overrides
// it. The source hard-codes this with a comment that it could instead be
// read from the interface with SIOCGIFMTU; spec §1 puts MTU discovery
// out of scope, so this stays configuration.
const defaultMTU = 1500

// AC is a PPPoE access concentrator bound to one Ethernet interface. It
// owns the discovery (0x8863) and session (0x8864) raw sockets, the
// session table, the session-id allocator, and the single-threaded,
// epoll-driven event loop that drives all of it (spec §4.3, §5).
type AC struct {
	log  *zerolog.Logger
	name string
	mac  wire.MAC
	mtu  int

	services []Service

	discoveryFD int
	sessionFD   int
	ifIndex     int

	sendDiscoveryFrame func(frame []byte) error
	sendSessionFrame   func(frame []byte) error

	epfd    int
	readers map[int]func()

	mu       sync.Mutex
	sessions map[uint16]Service
	alloc    *sessionAllocator
}

// Option configures an AC at construction time.
type Option func(*AC)

// WithMTU overrides the default 1500-byte outbound session MTU.
func WithMTU(mtu int) Option {
	return func(a *AC) { a.mtu = mtu }
}

// New creates an AC bound to interface ifName: it reads the interface's
// MAC address and opens the discovery and session raw sockets. services
// must have unique names; the AC offers all of them to PADI/PADR
// requests.
func New(log *zerolog.Logger, ifName, name string, services []Service, opts ...Option) (*AC, error) {
	iface, err := net.InterfaceByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("ac: interface %q not found: %w", ifName, err)
	}
	if len(iface.HardwareAddr) != 6 {
		return nil, fmt.Errorf("ac: interface %q has no Ethernet address", ifName)
	}
	var mac wire.MAC
	copy(mac[:], iface.HardwareAddr)

	discFD, err := openRawSocket(iface.Index, wire.EtherTypeDiscovery)
	if err != nil {
		return nil, fmt.Errorf("ac: opening discovery socket: %w", err)
	}
	sessFD, err := openRawSocket(iface.Index, wire.EtherTypeSession)
	if err != nil {
		unix.Close(discFD)
		return nil, fmt.Errorf("ac: opening session socket: %w", err)
	}
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		unix.Close(discFD)
		unix.Close(sessFD)
		return nil, fmt.Errorf("ac: epoll_create1: %w", err)
	}

	a := &AC{
		log:         log,
		name:        name,
		mac:         mac,
		mtu:         defaultMTU,
		services:    services,
		discoveryFD: discFD,
		sessionFD:   sessFD,
		ifIndex:     iface.Index,
		epfd:        epfd,
		readers:     make(map[int]func()),
		sessions:    make(map[uint16]Service),
		alloc:       newSessionAllocator(),
	}
	a.sendDiscoveryFrame = func(frame []byte) error {
		sa := &unix.SockaddrLinklayer{Protocol: htons(wire.EtherTypeDiscovery), Ifindex: a.ifIndex}
		return unix.Sendto(a.discoveryFD, frame, 0, sa)
	}
	a.sendSessionFrame = func(frame []byte) error {
		sa := &unix.SockaddrLinklayer{Protocol: htons(wire.EtherTypeSession), Ifindex: a.ifIndex}
		return unix.Sendto(a.sessionFD, frame, 0, sa)
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := a.RegisterReader(discFD, a.readDiscovery); err != nil {
		a.closeSockets()
		return nil, err
	}
	if err := a.RegisterReader(sessFD, a.readSession); err != nil {
		a.closeSockets()
		return nil, err
	}
	return a, nil
}

// MAC returns the AC's own Ethernet address.
func (a *AC) MAC() wire.MAC { return a.mac }

// RegisterReader hooks fd into the AC's event loop: cb is invoked
// (synchronously, from Run) whenever fd becomes readable. Services use
// this to fold their own descriptors (a serial port, say) into the same
// single-threaded loop the protocol engine runs on, rather than the AC
// needing to know anything about them (spec §9, "Callback from deframer
// to AC").
func (a *AC) RegisterReader(fd int, cb func()) error {
	ev := &unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(a.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return fmt.Errorf("ac: registering fd %d: %w", fd, err)
	}
	a.readers[fd] = cb
	return nil
}

// UnregisterReader undoes RegisterReader. Safe to call even if fd was
// never registered.
func (a *AC) UnregisterReader(fd int) {
	unix.EpollCtl(a.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	delete(a.readers, fd)
}

// Run drives the event loop until ctx is cancelled, then sends PADT for
// every live session before returning (spec §4.3, "Shutdown"). The
// suspension point is solely EpollWait (spec §5): everything else is
// non-blocking, except for a service's Connect, which the spec
// explicitly allows to block for the chat-script phase.
func (a *AC) Run(ctx context.Context) error {
	defer a.Shutdown()
	events := make([]unix.EpollEvent, 16)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		n, err := unix.EpollWait(a.epfd, events, 500)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("ac: epoll_wait: %w", err)
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if cb, ok := a.readers[fd]; ok {
				cb()
			}
		}
	}
}

func (a *AC) closeSockets() {
	unix.Close(a.discoveryFD)
	unix.Close(a.sessionFD)
	unix.Close(a.epfd)
}

// Close releases the AC's sockets. It does not send PADT for live
// sessions; call Shutdown first for a graceful drain.
func (a *AC) Close() error {
	a.closeSockets()
	return nil
}
