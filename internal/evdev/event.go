// Package evdev reads Linux input devices and writes to a uinput virtual
// device. It translates between kernel KEY_* codes and the HID usages the
// controller works with, and maps a standard keyboard onto the split
// board's key positions.
package evdev

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Event types.
const (
	EvSyn uint16 = 0x00
	EvKey uint16 = 0x01
	EvRel uint16 = 0x02
)

// Relative axes.
const (
	RelX      uint16 = 0x00
	RelY      uint16 = 0x01
	RelHWheel uint16 = 0x06
	RelWheel  uint16 = 0x08
)

// SynReport ends a batch of events.
const SynReport uint16 = 0

// Key event values.
const (
	KeyUp     int32 = 0
	KeyDown   int32 = 1
	KeyRepeat int32 = 2
)

// EventSize is the size of struct input_event on 64-bit kernels.
const EventSize = 24

// ErrShortEvent is returned when fewer than EventSize bytes are decoded.
var ErrShortEvent = errors.New("evdev: short input event")

// Event is one struct input_event.
type Event struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

func (e Event) String() string {
	return fmt.Sprintf("type=%d code=%d value=%d", e.Type, e.Code, e.Value)
}

// Decode parses one event from b.
func Decode(b []byte) (Event, error) {
	if len(b) < EventSize {
		return Event{}, ErrShortEvent
	}
	return Event{
		Sec:   int64(binary.LittleEndian.Uint64(b[0:8])),
		Usec:  int64(binary.LittleEndian.Uint64(b[8:16])),
		Type:  binary.LittleEndian.Uint16(b[16:18]),
		Code:  binary.LittleEndian.Uint16(b[18:20]),
		Value: int32(binary.LittleEndian.Uint32(b[20:24])),
	}, nil
}

// Encode appends the wire form of e to b.
func (e Event) Encode(b []byte) []byte {
	b = binary.LittleEndian.AppendUint64(b, uint64(e.Sec))
	b = binary.LittleEndian.AppendUint64(b, uint64(e.Usec))
	b = binary.LittleEndian.AppendUint16(b, e.Type)
	b = binary.LittleEndian.AppendUint16(b, e.Code)
	return binary.LittleEndian.AppendUint32(b, uint32(e.Value))
}

// ReadEvents decodes events from r until it returns an error, calling fn
// for each one. A clean end of stream returns nil.
func ReadEvents(r io.Reader, fn func(Event)) error {
	buf := make([]byte, EventSize*64)
	var pending []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for len(pending) >= EventSize {
				ev, _ := Decode(pending)
				fn(ev)
				pending = pending[EventSize:]
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
