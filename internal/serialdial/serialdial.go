// Package serialdial implements the one ac.Service this bridge ships: a
// serial modem endpoint that terminates PPP for a single session at a
// time. It is a direct generalization of the original Python
// implementation's SerialService (pppoe/serial.py) into the ac.Service
// capability interface (spec §9, "Polymorphism over Service").
package serialdial

import (
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/sde1000/pppoe-serial-bridge/internal/ac"
	"github.com/sde1000/pppoe-serial-bridge/internal/framer"
	"github.com/sde1000/pppoe-serial-bridge/internal/wire"
)

// outBufSize comfortably covers the worst-case HDLC expansion of a
// 1500-byte PPP payload (MaxFrameSize(1500) = 3010), with headroom for a
// raised AC MTU.
const outBufSize = 4096

// inBufSize bounds the largest PPP payload the deframer can reconstruct
// from the modem.
const inBufSize = 2048

// Service dials a serial modem and bridges its HDLC framing to a PPPoE
// session.
type Service struct {
	log        *zerolog.Logger
	name       string
	port       string
	chatScript string

	state     ac.ServiceState
	conc      *ac.AC
	peer      wire.MAC
	sessionID uint16

	fd       int
	outbuf   []byte
	inbuf    []byte
	deframer *framer.Deframer
}

// New creates a Service named name that dials serial device port. If
// chatScript is non-empty, Connect runs it against the device (spec §5,
// "Chat script phase") before forwarding begins.
func New(log *zerolog.Logger, name, port, chatScript string) *Service {
	return &Service{
		log:        log,
		name:       name,
		port:       port,
		chatScript: chatScript,
		state:      ac.StateIdle,
		fd:         -1,
		outbuf:     make([]byte, outBufSize),
		inbuf:      make([]byte, inBufSize),
	}
}

func (s *Service) Name() string           { return s.name }
func (s *Service) State() ac.ServiceState { return s.state }
func (s *Service) Peer() wire.MAC         { return s.peer }
func (s *Service) SessionID() uint16      { return s.sessionID }

// Connect opens the modem, optionally runs the chat script, and arms the
// HDLC framer/deframer pair. On any failure the descriptor is closed and
// the service remains idle, per spec §5's resource-lifecycle rule.
func (s *Service) Connect(conc *ac.AC, peer wire.MAC, sessionID uint16) error {
	fd, err := openModem(s.port)
	if err != nil {
		return fmt.Errorf("failed to open modem on %s: %w", s.port, err)
	}

	// Drain any buffered "NO CARRIER" left by a previous call, which
	// would otherwise desync the chat script below. Restored from the
	// original Python implementation; spec.md doesn't mention it but
	// doesn't forbid it either (see SPEC_FULL.md).
	drainNonBlocking(fd)

	if err := conc.RegisterReader(fd, func() { s.readFromModem() }); err != nil {
		unix.Close(fd)
		return err
	}

	if s.chatScript != "" {
		if err := runChatScript(fd, s.chatScript); err != nil {
			conc.UnregisterReader(fd)
			unix.Close(fd)
			return err
		}
	}

	s.fd = fd
	s.conc = conc
	s.peer = peer
	s.sessionID = sessionID
	s.state = ac.StateConnected
	s.deframer = framer.NewDeframer(s.inbuf, s.onFrame)
	s.deframer.Debug = func(reason string) {
		s.log.Debug().Str("service", s.name).Str("reason", reason).
			Msg("discarding frame from modem")
	}
	return nil
}

// Disconnect releases the modem descriptor and returns the service to
// idle.
func (s *Service) Disconnect() {
	if s.conc != nil && s.fd >= 0 {
		s.conc.UnregisterReader(s.fd)
	}
	if s.fd >= 0 {
		unix.Close(s.fd)
	}
	s.fd = -1
	s.conc = nil
	s.peer = wire.MAC{}
	s.sessionID = 0
	s.deframer = nil
	s.state = ac.StateIdle
}

// ProcessSessionPayload frames payload for the modem and attempts one
// non-blocking write. A would-block write drops the frame with a
// warning rather than queuing it (spec §5, "Suspension points"; spec §7,
// "Outbound write back-pressure").
func (s *Service) ProcessSessionPayload(payload []byte) {
	n, err := framer.Frame(s.outbuf, payload)
	if err != nil {
		s.log.Warn().Str("service", s.name).Err(err).Msg("payload too large to frame")
		return
	}
	if _, err := unix.Write(s.fd, s.outbuf[:n]); err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			s.log.Warn().Str("service", s.name).Msg("dropping frame: modem write would block")
			return
		}
		s.log.Warn().Str("service", s.name).Err(err).Msg("modem write failed")
	}
}

func (s *Service) readFromModem() {
	buf := make([]byte, 4096)
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return
		}
		s.log.Error().Str("service", s.name).Err(err).Msg("modem read error")
		s.closeLocally("Modem disconnected")
		return
	}
	if n == 0 {
		s.log.Error().Str("service", s.name).Msg("modem disconnected")
		s.closeLocally("Modem disconnected")
		return
	}
	s.deframer.Process(buf[:n])
}

func (s *Service) closeLocally(reason string) {
	conc, peer, sessionID := s.conc, s.peer, s.sessionID
	s.Disconnect()
	if conc != nil {
		conc.CloseSession(peer, sessionID, reason)
	}
}

// onFrame is the Deframer's completion callback: it hands a reconstructed
// PPP payload to the AC for transmission on this service's session.
func (s *Service) onFrame(frameSize int) {
	if s.conc == nil {
		return
	}
	s.conc.SendSession(s.peer, s.sessionID, s.inbuf[:frameSize])
}
