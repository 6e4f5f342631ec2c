package ac

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sde1000/pppoe-serial-bridge/internal/wire"
)

// fakeService is a minimal ac.Service double that records Connect and
// Disconnect calls instead of touching any real transport, so discovery
// scenarios can be exercised without opening sockets or serial devices.
type fakeService struct {
	name       string
	state      ServiceState
	peer       wire.MAC
	sessionID  uint16
	connectErr error

	connects    int
	disconnects int
	payloads    [][]byte
}

func (f *fakeService) Name() string           { return f.name }
func (f *fakeService) State() ServiceState    { return f.state }
func (f *fakeService) Peer() wire.MAC         { return f.peer }
func (f *fakeService) SessionID() uint16      { return f.sessionID }
func (f *fakeService) Connect(a *AC, peer wire.MAC, sessionID uint16) error {
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.peer = peer
	f.sessionID = sessionID
	f.state = StateConnected
	return nil
}
func (f *fakeService) Disconnect() {
	f.disconnects++
	f.peer = wire.MAC{}
	f.sessionID = 0
	f.state = StateIdle
}
func (f *fakeService) ProcessSessionPayload(payload []byte) {
	f.payloads = append(f.payloads, append([]byte{}, payload...))
}

var testACMAC = wire.MAC{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
var testPeerMAC = wire.MAC{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}

// newTestAC builds an AC with no real sockets or epoll instance, only its
// protocol-level state, and two closures recording whatever it sends.
func newTestAC(services []Service) (a *AC, discoverySent, sessionSent *[][]byte) {
	log := zerolog.Nop()
	var discFrames, sessFrames [][]byte
	a = &AC{
		log:      &log,
		name:     "test-ac",
		mac:      testACMAC,
		mtu:      1500,
		services: services,
		readers:  make(map[int]func()),
		sessions: make(map[uint16]Service),
		alloc:    newSessionAllocator(),
	}
	a.sendDiscoveryFrame = func(frame []byte) error {
		discFrames = append(discFrames, append([]byte{}, frame...))
		return nil
	}
	a.sendSessionFrame = func(frame []byte) error {
		sessFrames = append(sessFrames, append([]byte{}, frame...))
		return nil
	}
	return a, &discFrames, &sessFrames
}

func discoveryFrame(src, dst wire.MAC, code byte, sessionID uint16, tags wire.TagSet) []byte {
	payload := wire.TagsToPayload(tags)
	h := wire.Header{
		Dest:          dst,
		Src:           src,
		EtherType:     wire.EtherTypeDiscovery,
		Code:          code,
		SessionID:     sessionID,
		PayloadLength: uint16(len(payload)),
	}
	return append(h.Pack(), payload...)
}

func parseDiscoveryFrame(t *testing.T, frame []byte) (wire.Header, wire.TagSet) {
	t.Helper()
	h, err := wire.ParseHeader(frame)
	require.NoError(t, err)
	tags, err := wire.ParsePayload(frame[wire.HeaderSize:])
	require.NoError(t, err)
	return h, tags
}

// ============================================================================
// S1: PADI with an empty Service-Name gets a PADO listing every offered service.
// ============================================================================

func TestPADIGetsPADO(t *testing.T) {
	svc := &fakeService{name: "internet"}
	a, discSent, _ := newTestAC([]Service{svc})

	// RFC 2516 requires PADI to carry exactly one Service-Name tag; a
	// zero-length value means "any service".
	tags := wire.TagSet{wire.TagServiceName: [][]byte{[]byte("")}}
	frame := discoveryFrame(testPeerMAC, wire.Broadcast, wire.CodePADI, 0, tags)
	a.handleDiscoveryFrame(frame)

	require.Len(t, *discSent, 1)
	h, tags := parseDiscoveryFrame(t, (*discSent)[0])
	assert.Equal(t, wire.CodePADO, h.Code)
	assert.Equal(t, testPeerMAC, h.Dest)
	name, ok := tags.First(wire.TagServiceName)
	require.True(t, ok)
	assert.Equal(t, "internet", string(name))
}

// ============================================================================
// S2: PADR for an offered service allocates a session, calls Connect, and
// replies PADS; the session table is populated.
// ============================================================================

func TestPADRAcceptEstablishesSession(t *testing.T) {
	svc := &fakeService{name: "internet"}
	a, discSent, _ := newTestAC([]Service{svc})

	tags := wire.TagSet{wire.TagServiceName: [][]byte{[]byte("internet")}}
	frame := discoveryFrame(testPeerMAC, testACMAC, wire.CodePADR, 0, tags)
	a.handleDiscoveryFrame(frame)

	assert.Equal(t, 1, svc.connects)
	require.Len(t, *discSent, 1)
	h, rtags := parseDiscoveryFrame(t, (*discSent)[0])
	assert.Equal(t, wire.CodePADS, h.Code)
	assert.NotZero(t, h.SessionID)
	name, ok := rtags.First(wire.TagServiceName)
	require.True(t, ok)
	assert.Equal(t, "internet", string(name))

	a.mu.Lock()
	bound, ok := a.sessions[h.SessionID]
	a.mu.Unlock()
	require.True(t, ok)
	assert.Same(t, svc, bound)
}

// ============================================================================
// S3: PADR for a service name nobody offers gets PADS with a
// Service-Name-Error tag and no session.
// ============================================================================

func TestPADRUnknownServiceGetsError(t *testing.T) {
	svc := &fakeService{name: "internet"}
	a, discSent, _ := newTestAC([]Service{svc})

	tags := wire.TagSet{wire.TagServiceName: [][]byte{[]byte("nonexistent")}}
	frame := discoveryFrame(testPeerMAC, testACMAC, wire.CodePADR, 0, tags)
	a.handleDiscoveryFrame(frame)

	assert.Equal(t, 0, svc.connects)
	require.Len(t, *discSent, 1)
	h, rtags := parseDiscoveryFrame(t, (*discSent)[0])
	assert.Equal(t, wire.CodePADS, h.Code)
	assert.Zero(t, h.SessionID)
	_, ok := rtags.First(wire.TagServiceNameError)
	assert.True(t, ok)

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Empty(t, a.sessions)
}

// ============================================================================
// S5: PADT for a session id that was never allocated changes nothing and
// provokes no reply — it's simply a no-op, not an error.
// ============================================================================

func TestPADTForUnknownSessionIsNoop(t *testing.T) {
	svc := &fakeService{name: "internet"}
	a, discSent, _ := newTestAC([]Service{svc})

	frame := discoveryFrame(testPeerMAC, testACMAC, wire.CodePADT, 0x1234, nil)
	a.handleDiscoveryFrame(frame)

	assert.Equal(t, 0, svc.disconnects)
	assert.Empty(t, *discSent)
}

// ============================================================================
// S6: a session-stage frame for an id with no bound service gets exactly
// one PADT back, addressed to whoever sent it.
// ============================================================================

func TestStraySessionFrameGetsPADT(t *testing.T) {
	a, discSent, _ := newTestAC(nil)

	h := wire.Header{
		Dest:          testACMAC,
		Src:           testPeerMAC,
		EtherType:     wire.EtherTypeSession,
		Code:          wire.CodeSession,
		SessionID:     0x4242,
		PayloadLength: 3,
	}
	frame := append(h.Pack(), []byte{1, 2, 3}...)
	a.handleSessionFrame(frame)

	require.Len(t, *discSent, 1)
	rh, _ := parseDiscoveryFrame(t, (*discSent)[0])
	assert.Equal(t, wire.CodePADT, rh.Code)
	assert.Equal(t, uint16(0x4242), rh.SessionID)
	assert.Equal(t, testPeerMAC, rh.Dest)
}

// ============================================================================
// A takeover: a second PADR for a busy service disconnects it and sends
// PADT to its previous peer before establishing the new session.
// ============================================================================

func TestPADRTakesOverBusyService(t *testing.T) {
	svc := &fakeService{name: "internet"}
	a, discSent, _ := newTestAC([]Service{svc})

	oldPeer := wire.MAC{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	a.mu.Lock()
	svc.state = StateConnected
	svc.peer = oldPeer
	svc.sessionID = 0x0099
	a.sessions[0x0099] = svc
	a.mu.Unlock()

	tags := wire.TagSet{wire.TagServiceName: [][]byte{[]byte("internet")}}
	frame := discoveryFrame(testPeerMAC, testACMAC, wire.CodePADR, 0, tags)
	a.handleDiscoveryFrame(frame)

	require.Len(t, *discSent, 2)
	padt, _ := parseDiscoveryFrame(t, (*discSent)[0])
	assert.Equal(t, wire.CodePADT, padt.Code)
	assert.Equal(t, oldPeer, padt.Dest)
	assert.Equal(t, uint16(0x0099), padt.SessionID)

	pads, _ := parseDiscoveryFrame(t, (*discSent)[1])
	assert.Equal(t, wire.CodePADS, pads.Code)
	assert.Equal(t, 1, svc.disconnects)
	assert.Equal(t, 1, svc.connects)
}
