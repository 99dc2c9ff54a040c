//go:build linux

package evdev

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl requests from linux/input.h and linux/uinput.h.
const (
	eviocgrab    = 0x40044590
	uiSetEvBit   = 0x40045564
	uiSetKeyBit  = 0x40045565
	uiSetRelBit  = 0x40045566
	uiDevSetup   = 0x405c5503
	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502

	busVirtual = 0x06
)

// UinputPath is the uinput control node.
const UinputPath = "/dev/uinput"

// Reader reads events from one input device node.
type Reader struct {
	fd      int
	path    string
	grabbed bool
	logger  *slog.Logger
}

// OpenReader opens the device at path. With grab set the device is taken
// exclusively so its events reach only this process.
func OpenReader(path string, grab bool, logger *slog.Logger) (*Reader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("evdev: open %s: %w", path, err)
	}
	r := &Reader{fd: fd, path: path, logger: logger.With("component", "evdev_reader", "device", path)}
	if grab {
		if err := unix.IoctlSetInt(fd, eviocgrab, 1); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("evdev: grab %s: %w", path, err)
		}
		r.grabbed = true
	}
	return r, nil
}

// Run delivers events to fn until ctx is done or the device goes away.
func (r *Reader) Run(ctx context.Context, fn func(Event)) error {
	buf := make([]byte, EventSize*64)
	fds := []unix.PollFd{{Fd: int32(r.fd), Events: unix.POLLIN}}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := unix.Poll(fds, 100)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("evdev: poll: %w", err)
		}
		if n == 0 {
			continue
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return fmt.Errorf("evdev: %s: device gone", r.path)
		}

		m, err := unix.Read(r.fd, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("evdev: read: %w", err)
		}
		for off := 0; off+EventSize <= m; off += EventSize {
			ev, _ := Decode(buf[off : off+EventSize])
			fn(ev)
		}
	}
}

// Close releases the grab and closes the device.
func (r *Reader) Close() error {
	if r.grabbed {
		if err := unix.IoctlSetInt(r.fd, eviocgrab, 0); err != nil {
			r.logger.Warn("release grab", "error", err)
		}
	}
	return unix.Close(r.fd)
}

type inputID struct {
	Bustype uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

type uinputSetup struct {
	ID           inputID
	Name         [80]byte
	FFEffectsMax uint32
}

// Uinput is a virtual keyboard and mouse.
type Uinput struct {
	fd int
}

// CreateUinput creates a virtual device called name that can send every
// key, the three mouse buttons, relative motion and both wheels.
func CreateUinput(name string) (*Uinput, error) {
	fd, err := unix.Open(UinputPath, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("evdev: open %s: %w", UinputPath, err)
	}
	u := &Uinput{fd: fd}
	if err := u.setup(name); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return u, nil
}

func (u *Uinput) setup(name string) error {
	for _, ev := range []uint16{EvKey, EvRel, EvSyn} {
		if err := unix.IoctlSetInt(u.fd, uiSetEvBit, int(ev)); err != nil {
			return fmt.Errorf("evdev: set event bit %d: %w", ev, err)
		}
	}
	for key := uint16(1); key <= KeyMax; key++ {
		if key > 255 && key != BtnLeft && key != BtnRight && key != BtnMiddle {
			continue
		}
		if err := unix.IoctlSetInt(u.fd, uiSetKeyBit, int(key)); err != nil {
			return fmt.Errorf("evdev: set key bit %d: %w", key, err)
		}
	}
	for _, axis := range []uint16{RelX, RelY, RelWheel, RelHWheel} {
		if err := unix.IoctlSetInt(u.fd, uiSetRelBit, int(axis)); err != nil {
			return fmt.Errorf("evdev: set rel bit %d: %w", axis, err)
		}
	}

	setup := uinputSetup{ID: inputID{Bustype: busVirtual, Vendor: 0x4b43, Product: 0x0001, Version: 1}}
	copy(setup.Name[:len(setup.Name)-1], name)
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(u.fd), uiDevSetup, uintptr(unsafe.Pointer(&setup))); errno != 0 {
		return fmt.Errorf("evdev: device setup: %w", errno)
	}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(u.fd), uiDevCreate, 0); errno != 0 {
		return fmt.Errorf("evdev: device create: %w", errno)
	}
	return nil
}

// Write sends encoded events to the virtual device.
func (u *Uinput) Write(b []byte) (int, error) {
	return unix.Write(u.fd, b)
}

// Close destroys the virtual device.
func (u *Uinput) Close() error {
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(u.fd), uiDevDestroy, 0); errno != 0 {
		unix.Close(u.fd)
		return fmt.Errorf("evdev: device destroy: %w", errno)
	}
	return unix.Close(u.fd)
}
