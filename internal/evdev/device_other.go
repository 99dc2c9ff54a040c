//go:build !linux

package evdev

import (
	"context"
	"errors"
	"log/slog"
)

// ErrUnsupported is returned on platforms without evdev and uinput.
var ErrUnsupported = errors.New("evdev: not supported on this platform")

// UinputPath is the uinput control node.
const UinputPath = "/dev/uinput"

// Reader is unavailable on this platform.
type Reader struct{}

// OpenReader always fails on this platform.
func OpenReader(path string, grab bool, logger *slog.Logger) (*Reader, error) {
	return nil, ErrUnsupported
}

// Run always fails on this platform.
func (r *Reader) Run(ctx context.Context, fn func(Event)) error { return ErrUnsupported }

// Close is a no-op.
func (r *Reader) Close() error { return nil }

// Uinput is unavailable on this platform.
type Uinput struct{}

// CreateUinput always fails on this platform.
func CreateUinput(name string) (*Uinput, error) { return nil, ErrUnsupported }

// Write always fails on this platform.
func (u *Uinput) Write(b []byte) (int, error) { return 0, ErrUnsupported }

// Close is a no-op.
func (u *Uinput) Close() error { return nil }
