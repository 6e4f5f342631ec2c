package ac

import (
	"unicode/utf8"

	"golang.org/x/sys/unix"

	"github.com/sde1000/pppoe-serial-bridge/internal/wire"
)

func (a *AC) readDiscovery() {
	buf := make([]byte, 2048)
	n, _, err := unix.Recvfrom(a.discoveryFD, buf, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
			return
		}
		a.log.Debug().Err(err).Msg("discovery socket recv error")
		return
	}
	a.handleDiscoveryFrame(buf[:n])
}

func (a *AC) handleDiscoveryFrame(frame []byte) {
	h, err := wire.ParseHeader(frame)
	if err != nil {
		a.log.Debug().Err(err).Msg("malformed discovery frame")
		return
	}
	if h.EtherType != wire.EtherTypeDiscovery {
		a.log.Debug().Msg("discovery packet with incorrect ethertype")
		return
	}
	payload := frame[wire.HeaderSize:]
	if len(payload) < int(h.PayloadLength) {
		a.log.Debug().Msg("discovery payload shorter than declared length")
		return
	}
	payload = payload[:h.PayloadLength]
	tags, err := wire.ParsePayload(payload)
	if err != nil {
		a.log.Debug().Err(err).Msg("invalid tags in discovery payload")
		return
	}

	switch h.Code {
	case wire.CodePADI:
		if h.SessionID != 0 {
			a.log.Debug().Msg("PADI with non-zero session id")
			return
		}
		a.handlePADI(h.Src, tags)
	case wire.CodePADR:
		if h.Dest != a.mac {
			a.log.Debug().Msg("PADR not addressed to this AC")
			return
		}
		if h.SessionID != 0 {
			a.log.Debug().Msg("PADR with non-zero session id")
			return
		}
		a.handlePADR(h.Src, tags)
	case wire.CodePADT:
		if h.SessionID == 0 {
			a.log.Debug().Msg("PADT with zero session id")
			return
		}
		a.handlePADT(h.Src, h.SessionID)
	default:
		a.log.Debug().Msg("unhandled discovery code")
	}
}

// utf8ok reports whether b is valid UTF-8, as required of a Service-Name
// tag's value.
func utf8ok(b []byte) bool { return utf8.Valid(b) }

// echoedTags copies the Host-Uniq and Relay-Session-Id tags from a
// request verbatim, per spec §4.3 — every discovery reply echoes these
// back unmodified when present.
func echoedTags(req wire.TagSet) wire.TagSet {
	out := make(wire.TagSet)
	for _, t := range [2]uint16{wire.TagHostUniq, wire.TagRelaySessionID} {
		if v, ok := req[t]; ok {
			out[t] = v
		}
	}
	return out
}

func (a *AC) handlePADI(peer wire.MAC, tags wire.TagSet) {
	name, ok := tags.First(wire.TagServiceName)
	if !ok {
		a.log.Debug().Msg("PADI missing a single Service-Name tag")
		return
	}
	if !utf8ok(name) {
		a.log.Debug().Msg("PADI Service-Name is not valid UTF-8")
		return
	}
	requested := string(name)
	if requested != "" && !a.offers(requested) {
		// Decodes fine but names a service we don't have: drop silently.
		return
	}

	rtags := echoedTags(tags)
	for _, svc := range a.services {
		rtags.Add(wire.TagServiceName, []byte(svc.Name()))
	}
	rtags.Add(wire.TagACName, []byte(a.name))
	a.sendDiscovery(peer, wire.CodePADO, 0, rtags)
}

func (a *AC) offers(name string) bool {
	for _, svc := range a.services {
		if svc.Name() == name {
			return true
		}
	}
	return false
}

func (a *AC) handlePADR(peer wire.MAC, tags wire.TagSet) {
	name, ok := tags.First(wire.TagServiceName)
	if !ok {
		a.log.Debug().Msg("PADR missing a single Service-Name tag")
		return
	}
	if !utf8ok(name) {
		a.log.Debug().Msg("PADR Service-Name is not valid UTF-8")
		return
	}
	requested := string(name)

	var candidates []Service
	for _, svc := range a.services {
		if requested == "" || svc.Name() == requested {
			candidates = append(candidates, svc)
		}
	}

	rtags := echoedTags(tags)
	if len(candidates) == 0 {
		rtags.Add(wire.TagServiceNameError, []byte("Requested service does not exist"))
		a.sendDiscovery(peer, wire.CodePADS, 0, rtags)
		return
	}

	svc := selectCandidate(candidates)
	rtags.Add(wire.TagServiceName, []byte(svc.Name()))

	a.mu.Lock()
	if svc.State() != StateIdle {
		a.takeoverLocked(svc)
	}
	sessionID := a.alloc.Allocate(func(id uint16) bool {
		_, inUse := a.sessions[id]
		return inUse
	})
	a.mu.Unlock()

	if err := svc.Connect(a, peer, sessionID); err != nil {
		a.log.Warn().Str("service", svc.Name()).Err(err).Msg("service failed to connect")
		rtags.Add(wire.TagACSystemError, []byte(err.Error()))
		a.sendDiscovery(peer, wire.CodePADS, 0, rtags)
		return
	}

	a.mu.Lock()
	a.sessions[sessionID] = svc
	a.mu.Unlock()

	a.log.Info().Str("service", svc.Name()).Str("peer", peer.String()).
		Uint16("session", sessionID).Msg("session established")
	a.sendDiscovery(peer, wire.CodePADS, sessionID, rtags)
}

// selectCandidate implements the takeover policy named in spec §4.3:
// prefer an idle service, in configuration order; if none are idle,
// pre-empt the first connected candidate in configuration order. With
// more services this would want to track idle time to prefer the
// longest-idle connected candidate, but the spec explicitly allows
// "always pick the first candidate" as a conformant implementation
// (spec §9, Open Questions) and this bridge ships exactly one service.
func selectCandidate(candidates []Service) Service {
	for _, svc := range candidates {
		if svc.State() == StateIdle {
			return svc
		}
	}
	return candidates[0]
}

// takeoverLocked pre-empts a non-idle service: it sends PADT to the
// service's current peer, removes the session table entry and returns
// the service to idle. Caller must hold a.mu.
func (a *AC) takeoverLocked(svc Service) {
	oldSessionID := svc.SessionID()
	peer := svc.Peer()
	delete(a.sessions, oldSessionID)
	a.log.Info().Str("service", svc.Name()).Uint16("session", oldSessionID).
		Msg("pre-empting service for new session request")
	a.sendDiscovery(peer, wire.CodePADT, oldSessionID, nil)
	svc.Disconnect()
}

func (a *AC) handlePADT(peer wire.MAC, sessionID uint16) {
	a.mu.Lock()
	svc, ok := a.sessions[sessionID]
	if ok {
		delete(a.sessions, sessionID)
	}
	a.mu.Unlock()
	if !ok {
		a.log.Debug().Uint16("session", sessionID).Msg("PADT for unknown session")
		return
	}
	a.log.Info().Str("service", svc.Name()).Uint16("session", sessionID).
		Msg("PADT received, disconnecting")
	svc.Disconnect()
}

func (a *AC) sendDiscovery(peer wire.MAC, code byte, sessionID uint16, tags wire.TagSet) {
	payload := wire.TagsToPayload(tags)
	h := wire.Header{
		Dest:          peer,
		Src:           a.mac,
		EtherType:     wire.EtherTypeDiscovery,
		Code:          code,
		SessionID:     sessionID,
		PayloadLength: uint16(len(payload)),
	}
	frame := append(h.Pack(), payload...)
	if err := a.sendDiscoveryFrame(frame); err != nil {
		a.log.Warn().Err(err).Msg("failed to send discovery frame")
	}
}
