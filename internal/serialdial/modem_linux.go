package serialdial

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"golang.org/x/sys/unix"
)

// openModem opens a serial device and puts it into raw mode, non-blocking,
// ready for the deframer to read from directly with unix.Read.
func openModem(port string) (int, error) {
	fd, err := unix.Open(port, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return -1, err
	}
	if err := setRawMode(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// setRawMode configures 8N1 raw mode with no local echo, no signal
// generation and no line discipline processing, matching what a PPP
// peer expects of its serial transport.
func setRawMode(fd int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("reading termios: %w", err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return fmt.Errorf("setting termios: %w", err)
	}
	return nil
}

// drainNonBlocking discards whatever is already buffered on fd. fd must
// already be non-blocking. This restores a detail present in the original
// implementation (pppoe/serial.py): stray bytes left over from the modem's
// previous call (a trailing "NO CARRIER", say) would otherwise desync the
// chat script that runs next.
func drainNonBlocking(fd int) {
	buf := make([]byte, 256)
	for {
		n, err := unix.Read(fd, buf)
		if n <= 0 || err != nil {
			return
		}
	}
}

// runChatScript runs chat(8) against fd to negotiate the modem into a
// state ready for PPP, blocking until it exits. fd is temporarily switched
// to blocking mode for the duration, since chat(8) expects ordinary
// blocking stdio semantics.
func runChatScript(fd int, script string) error {
	if err := unix.SetNonblock(fd, false); err != nil {
		return fmt.Errorf("switching modem to blocking mode: %w", err)
	}
	defer unix.SetNonblock(fd, true)

	// os.NewFile registers a GC finalizer that closes the underlying fd
	// when the *os.File becomes unreachable. fd's real lifecycle is
	// owned by the Service (Disconnect calls unix.Close), so cancel the
	// finalizer immediately: otherwise a GC cycle after this function
	// returns could close the modem out from under an active session.
	f := os.NewFile(uintptr(fd), "modem")
	runtime.SetFinalizer(f, nil)

	cmd := exec.Command("/usr/sbin/chat", "-v", "-f", script)
	cmd.Stdin = f
	cmd.Stdout = f
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("chat script failed: %w", err)
	}
	return nil
}
