package ac

import (
	"golang.org/x/sys/unix"

	"github.com/sde1000/pppoe-serial-bridge/internal/wire"
)

func (a *AC) readSession() {
	buf := make([]byte, 2048)
	n, _, err := unix.Recvfrom(a.sessionFD, buf, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return
		}
		a.log.Debug().Err(err).Msg("session socket recv error")
		return
	}
	a.handleSessionFrame(buf[:n])
}

func (a *AC) handleSessionFrame(frame []byte) {
	h, err := wire.ParseHeader(frame)
	if err != nil {
		a.log.Debug().Err(err).Msg("malformed session frame")
		return
	}
	if h.EtherType != wire.EtherTypeSession {
		a.log.Debug().Msg("session packet with incorrect ethertype")
		return
	}
	if h.Code != wire.CodeSession {
		a.log.Debug().Msg("session packet with non-zero code")
		return
	}
	payload := frame[wire.HeaderSize:]
	if len(payload) < int(h.PayloadLength) {
		a.log.Debug().Msg("session payload shorter than declared length")
		return
	}
	payload = payload[:h.PayloadLength]

	a.mu.Lock()
	svc, ok := a.sessions[h.SessionID]
	a.mu.Unlock()
	if !ok {
		a.log.Info().Str("peer", h.Src.String()).Uint16("session", h.SessionID).
			Msg("sending PADT for unknown session")
		a.sendDiscovery(h.Src, wire.CodePADT, h.SessionID, nil)
		return
	}
	svc.ProcessSessionPayload(payload)
}

// SendSession transmits a PPP payload to peer on sessionID. Payloads
// larger than the AC's MTU are dropped (spec §4.3, "Outbound session
// writes").
func (a *AC) SendSession(peer wire.MAC, sessionID uint16, payload []byte) {
	if len(payload) > a.mtu {
		a.log.Warn().Uint16("session", sessionID).Int("len", len(payload)).
			Msg("dropping session payload larger than MTU")
		return
	}
	h := wire.Header{
		Dest:          peer,
		Src:           a.mac,
		EtherType:     wire.EtherTypeSession,
		Code:          wire.CodeSession,
		SessionID:     sessionID,
		PayloadLength: uint16(len(payload)),
	}
	frame := append(h.Pack(), payload...)
	if err := a.sendSessionFrame(frame); err != nil {
		a.log.Warn().Err(err).Msg("failed to send session frame")
	}
}

// CloseSession is called by a service to end its own session locally —
// for example, the modem has disappeared. It removes the session table
// entry and sends PADT, with an AC-System-Error tag if errorMessage is
// non-empty. It does not call Disconnect on the service; the caller does
// that itself (spec §7, "Modem disappearance").
func (a *AC) CloseSession(peer wire.MAC, sessionID uint16, errorMessage string) {
	a.mu.Lock()
	delete(a.sessions, sessionID)
	a.mu.Unlock()

	var tags wire.TagSet
	if errorMessage != "" {
		tags = wire.TagSet{wire.TagACSystemError: [][]byte{[]byte(errorMessage)}}
	}
	a.sendDiscovery(peer, wire.CodePADT, sessionID, tags)
}

// Shutdown sends PADT with AC-System-Error "Shutting down" to every live
// session and clears the session table (spec §4.3, "Shutdown").
func (a *AC) Shutdown() {
	a.mu.Lock()
	sessions := a.sessions
	a.sessions = make(map[uint16]Service)
	a.mu.Unlock()

	for sessionID, svc := range sessions {
		a.sendDiscovery(svc.Peer(), wire.CodePADT, sessionID, wire.TagSet{
			wire.TagACSystemError: [][]byte{[]byte("Shutting down")},
		})
	}
}
