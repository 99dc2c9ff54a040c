package action

import (
	"fmt"

	"keycore/internal/keycode"
)

// Op is an output operation.
type Op uint8

const (
	OpTap Op = iota + 1
	OpRegister
	OpUnregister
	// OpSetCPI sets the pointer resolution to Value.
	OpSetCPI
	// OpResetCPI restores the pointer's default resolution.
	OpResetCPI
)

var opNames = map[Op]string{
	OpTap:        "tap",
	OpRegister:   "register",
	OpUnregister: "unregister",
	OpSetCPI:     "set_cpi",
	OpResetCPI:   "reset_cpi",
}

func (o Op) String() string {
	if s, ok := opNames[o]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// ParseOp is the inverse of Op.String.
func ParseOp(s string) (Op, error) {
	for op, name := range opNames {
		if name == s {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown op %q", s)
}

// Command is one output emitted by the controller.
type Command struct {
	Op    Op
	Code  keycode.Code
	Value uint16
}

func (c Command) String() string {
	switch c.Op {
	case OpSetCPI:
		return fmt.Sprintf("%s(%d)", c.Op, c.Value)
	case OpResetCPI:
		return c.Op.String()
	}
	return fmt.Sprintf("%s(%s)", c.Op, c.Code)
}

// Sink is the external output transport.
type Sink interface {
	Tap(kc keycode.Code)
	Register(kc keycode.Code)
	Unregister(kc keycode.Code)
}

// Pointer is the external pointing device resolution control.
type Pointer interface {
	SetCPI(cpi uint16)
	ResetCPI()
}

// Apply forwards commands to the sink and pointer. Either may be nil.
func Apply(cmds []Command, sink Sink, ptr Pointer) {
	for _, c := range cmds {
		switch c.Op {
		case OpTap:
			if sink != nil {
				sink.Tap(c.Code)
			}
		case OpRegister:
			if sink != nil {
				sink.Register(c.Code)
			}
		case OpUnregister:
			if sink != nil {
				sink.Unregister(c.Code)
			}
		case OpSetCPI:
			if ptr != nil {
				ptr.SetCPI(c.Value)
			}
		case OpResetCPI:
			if ptr != nil {
				ptr.ResetCPI()
			}
		}
	}
}

// Recorder is a Sink and Pointer that keeps every command, used by tests
// and trace replay.
type Recorder struct {
	Commands []Command
}

func (r *Recorder) Tap(kc keycode.Code) {
	r.Commands = append(r.Commands, Command{Op: OpTap, Code: kc})
}

func (r *Recorder) Register(kc keycode.Code) {
	r.Commands = append(r.Commands, Command{Op: OpRegister, Code: kc})
}

func (r *Recorder) Unregister(kc keycode.Code) {
	r.Commands = append(r.Commands, Command{Op: OpUnregister, Code: kc})
}

func (r *Recorder) SetCPI(cpi uint16) {
	r.Commands = append(r.Commands, Command{Op: OpSetCPI, Value: cpi})
}

func (r *Recorder) ResetCPI() {
	r.Commands = append(r.Commands, Command{Op: OpResetCPI})
}

// Reset drops recorded commands.
func (r *Recorder) Reset() { r.Commands = r.Commands[:0] }
