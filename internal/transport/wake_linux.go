//go:build linux

package transport

import "golang.org/x/sys/unix"

// wakeSignal is an eventfd-backed wake notification, grounded on the
// teacher's eventloop/wakeup_linux.go createWakeFd/drainWakeUpPipe. The
// teacher uses this to wake a goroutine blocked in an epoll wait; here
// it wakes the goroutine parked in Local.Wait (internal/dispatch's
// transport receiver) once another node's send or control broadcast has
// placed an entry in this node's inbox, so that receiver doesn't have to
// busy-poll ReceiveStep. Worker goroutines do not wait on it.
type wakeSignal struct {
	fd int
}

func newWakeSignal() (*wakeSignal, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &wakeSignal{fd: fd}, nil
}

// Signal increments the eventfd's counter, waking any goroutine
// blocked in Wait.
func (w *wakeSignal) Signal() {
	buf := [8]byte{0, 0, 0, 0, 0, 0, 0, 1}
	_, _ = unix.Write(w.fd, buf[:])
}

// Wait blocks until Signal has been called at least once since the
// last Wait, consuming (resetting) the eventfd's counter.
func (w *wakeSignal) Wait() {
	var buf [8]byte
	_, _ = unix.Read(w.fd, buf[:])
}

func (w *wakeSignal) Close() error {
	return unix.Close(w.fd)
}
