package ac

import (
	"encoding/binary"
	"unsafe"

	"golang.org/x/sys/unix"
)

// isLittleEndianMachine and htons are carried over from the
// teacher's htons.go: AF_PACKET's SockaddrLinklayer.Protocol field wants
// network byte order regardless of host endianness, and this is the
// corpus's idiom for getting there without cgo.
func isLittleEndianMachine() bool {
	var i int32 = 0x01020304
	return *(*byte)(unsafe.Pointer(&i)) == 0x04
}

var littleEndianMachine = isLittleEndianMachine()

func htons(v uint16) uint16 {
	if littleEndianMachine {
		return binary.BigEndian.Uint16(binary.LittleEndian.AppendUint16(nil, v))
	}
	return v
}

// openRawSocket opens an AF_PACKET/SOCK_RAW socket bound to ifIndex and
// ethertype, in non-blocking mode.
func openRawSocket(ifIndex int, ethertype uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(ethertype)))
	if err != nil {
		return -1, err
	}
	sa := &unix.SockaddrLinklayer{
		Protocol: htons(ethertype),
		Ifindex:  ifIndex,
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}
