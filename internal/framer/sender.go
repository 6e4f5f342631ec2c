// Package framer implements the RFC 1662 serial framing that bridges PPP
// session payloads to and from the modem byte stream: the sender stuffs,
// checksums and flag-delimits an outgoing payload into a caller-provided
// buffer, and the Deframer incrementally reconstructs frames from
// arbitrarily fragmented incoming reads.
package framer

import (
	"errors"

	"github.com/sde1000/pppoe-serial-bridge/internal/wire"
)

// ErrBufferTooSmall is returned by Frame when dst is not large enough to
// hold the stuffed, checksummed, flag-delimited output.
var ErrBufferTooSmall = errors.New("framer: output buffer too small")

// MaxFrameSize returns the worst-case number of bytes Frame can write
// for a payload of length payloadLen: every byte of address, control,
// payload and FCS could need stuffing, plus the two flag octets.
func MaxFrameSize(payloadLen int) int {
	return 2*(payloadLen+4) + 2
}

// Frame stuffs, checksums and flag-delimits payload into dst per
// RFC 1662: 0x7E, the HDLC address/control prefix, the payload, the
// 16-bit FCS (low byte first), 0x7E. It returns the number of bytes
// written, or ErrBufferTooSmall if dst would overflow.
func Frame(dst []byte, payload []byte) (int, error) {
	i := 0
	fcs := wire.FCS16Init

	put := func(b byte) error {
		if i >= len(dst) {
			return ErrBufferTooSmall
		}
		dst[i] = b
		i++
		return nil
	}
	stuff := func(b byte) error {
		if wire.NeedsStuffing(b) {
			if err := put(wire.HDLCEscape); err != nil {
				return err
			}
			return put(b ^ 0x20)
		}
		return put(b)
	}

	if err := put(wire.HDLCFlag); err != nil {
		return 0, err
	}
	for _, b := range [2]byte{wire.HDLCAddress, wire.HDLCControl} {
		fcs = wire.UpdateFCS16(fcs, b)
		if err := stuff(b); err != nil {
			return 0, err
		}
	}
	for _, b := range payload {
		fcs = wire.UpdateFCS16(fcs, b)
		if err := stuff(b); err != nil {
			return 0, err
		}
	}
	fcs ^= wire.FCS16Init
	if err := stuff(byte(fcs)); err != nil {
		return 0, err
	}
	if err := stuff(byte(fcs >> 8)); err != nil {
		return 0, err
	}
	if err := put(wire.HDLCFlag); err != nil {
		return 0, err
	}
	return i, nil
}
