package wire

import (
	"encoding/binary"
	"errors"
)

// Ethertypes this bridge speaks on the wire (RFC 2516).
const (
	EtherTypeDiscovery uint16 = 0x8863
	EtherTypeSession   uint16 = 0x8864
)

// verType is the single octet carrying both PPPoE version (high nibble,
// 0x1) and type (low nibble, 0x1): every valid frame this bridge sends
// or accepts carries 0x11 here.
const verType byte = 0x11

// PPPoE discovery and session codes.
const (
	CodePADI    byte = 0x09
	CodePADO    byte = 0x07
	CodePADR    byte = 0x19
	CodePADS    byte = 0x65
	CodePADT    byte = 0xa7
	CodeSession byte = 0x00
)

// HeaderSize is the combined size, in bytes, of the Ethernet header and
// the PPPoE discovery/session header that follows it.
const HeaderSize = 6 + 6 + 2 + 1 + 1 + 2 + 2 // 20

var (
	// ErrShortFrame is returned by ParseHeader when fewer than
	// HeaderSize bytes are available.
	ErrShortFrame = errors.New("wire: frame shorter than header size")
	// ErrBadVerType is returned by ParseHeader when the ver/type octet
	// isn't 0x11.
	ErrBadVerType = errors.New("wire: unexpected PPPoE ver/type octet")
)

// Header is the 20-byte Ethernet+PPPoE header shared by discovery and
// session frames.
type Header struct {
	Dest          MAC
	Src           MAC
	EtherType     uint16
	Code          byte
	SessionID     uint16
	PayloadLength uint16
}

// Pack renders h as its 20-byte wire encoding.
func (h *Header) Pack() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:6], h.Dest[:])
	copy(buf[6:12], h.Src[:])
	binary.BigEndian.PutUint16(buf[12:14], h.EtherType)
	buf[14] = verType
	buf[15] = h.Code
	binary.BigEndian.PutUint16(buf[16:18], h.SessionID)
	binary.BigEndian.PutUint16(buf[18:20], h.PayloadLength)
	return buf
}

// ParseHeader decodes the leading HeaderSize bytes of frame. It does not
// validate ethertype or code; callers dispatch on those themselves. It
// does validate the ver/type octet, since a non-0x11 value means the
// frame isn't PPPoE at all.
func ParseHeader(frame []byte) (Header, error) {
	if len(frame) < HeaderSize {
		return Header{}, ErrShortFrame
	}
	var h Header
	copy(h.Dest[:], frame[0:6])
	copy(h.Src[:], frame[6:12])
	h.EtherType = binary.BigEndian.Uint16(frame[12:14])
	if frame[14] != verType {
		return Header{}, ErrBadVerType
	}
	h.Code = frame[15]
	h.SessionID = binary.BigEndian.Uint16(frame[16:18])
	h.PayloadLength = binary.BigEndian.Uint16(frame[18:20])
	return h, nil
}
