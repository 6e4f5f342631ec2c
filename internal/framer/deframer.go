package framer

import "github.com/sde1000/pppoe-serial-bridge/internal/wire"

// FrameHandler is invoked with the number of valid payload bytes placed
// at the front of the Deframer's output buffer whenever a complete,
// FCS-verified frame arrives. The handler must consume or copy those
// bytes before returning: the buffer is reused for the next frame.
type FrameHandler func(frameSize int)

// Deframer incrementally reconstructs HDLC frames from a byte stream
// that may be fragmented arbitrarily across reads. All state survives
// across calls to Process/ProcessByte, so a Deframer can be fed one byte
// at a time as it arrives from a non-blocking serial read.
type Deframer struct {
	out     []byte
	onFrame FrameHandler

	// Debug, if set, is called with a short reason whenever a frame is
	// discarded (bad header, FCS mismatch, overflow, illegal escape).
	// It is purely diagnostic; nil is fine.
	Debug func(reason string)

	inFrame    bool
	inEscape   bool
	hdrChecked int
	frameSize  int
	fcs        uint16
}

// hdlcHeader is the two-byte HDLC address/control prefix every frame
// carries ahead of the PPP payload.
var hdlcHeader = [2]byte{wire.HDLCAddress, wire.HDLCControl}

// NewDeframer creates a Deframer that assembles frames into out (whose
// capacity bounds the largest payload it can deliver) and invokes
// onFrame whenever one completes.
func NewDeframer(out []byte, onFrame FrameHandler) *Deframer {
	return &Deframer{out: out, onFrame: onFrame}
}

func (d *Deframer) debug(reason string) {
	if d.Debug != nil {
		d.Debug(reason)
	}
}

func (d *Deframer) startNewFrame() {
	d.inFrame = true
	d.inEscape = false
	d.hdrChecked = 0
	d.frameSize = 0
	d.fcs = wire.FCS16Init
}

// Process feeds a slice of bytes read from the wire through the state
// machine, in order.
func (d *Deframer) Process(data []byte) {
	for _, b := range data {
		d.ProcessByte(b)
	}
}

// ProcessByte feeds a single byte through the state machine.
func (d *Deframer) ProcessByte(b byte) {
	if !d.inFrame {
		if b == wire.HDLCFlag {
			d.startNewFrame()
		}
		return
	}

	if d.inEscape {
		if b == wire.HDLCFlag {
			// A flag can never legally be escaped; the frame is
			// malformed and is discarded without invoking onFrame.
			d.debug("escape before flag")
			d.inFrame = false
			return
		}
		d.inEscape = false
		d.processBodyByte(b ^ 0x20)
		return
	}

	switch b {
	case wire.HDLCFlag:
		if d.frameSize >= 4 {
			if d.fcs == wire.FCS16Good {
				d.onFrame(d.frameSize - 2)
			} else {
				d.debug("bad FCS")
			}
		}
		// frame_size in (0,4) is ignored silently; either way this
		// flag begins the next frame.
		d.startNewFrame()
	case wire.HDLCEscape:
		d.inEscape = true
	default:
		d.processBodyByte(b)
	}
}

func (d *Deframer) processBodyByte(b byte) {
	d.fcs = wire.UpdateFCS16(d.fcs, b)
	if d.hdrChecked < len(hdlcHeader) {
		if b != hdlcHeader[d.hdrChecked] {
			d.debug("bad HDLC header")
			d.inFrame = false
			return
		}
		d.hdrChecked++
		return
	}
	if d.frameSize >= len(d.out) {
		d.debug("frame too long")
		d.inFrame = false
		return
	}
	d.out[d.frameSize] = b
	d.frameSize++
}
