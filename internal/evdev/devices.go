package evdev

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ProcDevices is the kernel's input device listing.
const ProcDevices = "/proc/bus/input/devices"

// InputDir holds the event device nodes.
const InputDir = "/dev/input"

var nameRe = regexp.MustCompile(`Name="([^"]*)"`)

// Device describes one entry of the input device listing.
type Device struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Phys     string `json:"phys,omitempty"`
	Keyboard bool   `json:"keyboard"`
	Pointer  bool   `json:"pointer"`
}

// ParseDevices reads the /proc/bus/input/devices format. A device counts as
// a keyboard when its key bitmap is large and as a pointer when it reports
// relative motion.
func ParseDevices(r io.Reader) ([]Device, error) {
	var (
		out []Device
		cur Device
	)
	flush := func() {
		if cur.Path != "" {
			out = append(out, cur)
		}
		cur = Device{}
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "N:"):
			if m := nameRe.FindStringSubmatch(line); len(m) > 1 {
				cur.Name = m[1]
			}
		case strings.HasPrefix(line, "P: Phys="):
			cur.Phys = strings.TrimPrefix(line, "P: Phys=")
		case strings.HasPrefix(line, "H: Handlers="):
			for _, h := range strings.Fields(strings.TrimPrefix(line, "H: Handlers=")) {
				if strings.HasPrefix(h, "event") {
					cur.Path = filepath.Join(InputDir, h)
				}
			}
		case strings.HasPrefix(line, "B: KEY="):
			if len(strings.TrimPrefix(line, "B: KEY=")) > 20 {
				cur.Keyboard = true
			}
		case strings.HasPrefix(line, "B: REL="):
			cur.Pointer = true
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("evdev: parse devices: %w", err)
	}
	return out, nil
}

// ListDevices parses the kernel's device listing.
func ListDevices() ([]Device, error) {
	f, err := os.Open(ProcDevices)
	if err != nil {
		return nil, fmt.Errorf("evdev: %w", err)
	}
	defer f.Close()
	return ParseDevices(f)
}

// FindDevice returns the first device whose name contains name, or the
// first keyboard when name is empty.
func FindDevice(devices []Device, name string) (Device, bool) {
	for _, d := range devices {
		if name == "" && d.Keyboard {
			return d, true
		}
		if name != "" && (d.Path == name || strings.Contains(strings.ToLower(d.Name), strings.ToLower(name))) {
			return d, true
		}
	}
	return Device{}, false
}

// WatchDevices calls fn with the new device listing whenever an event node
// appears or disappears, until ctx is done.
func WatchDevices(ctx context.Context, logger *slog.Logger, fn func([]Device)) error {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("evdev: watcher: %w", err)
	}
	if err := w.Add(InputDir); err != nil {
		w.Close()
		return fmt.Errorf("evdev: watch %s: %w", InputDir, err)
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !strings.Contains(filepath.Base(ev.Name), "event") {
					continue
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
					continue
				}
				// Let udev finish setting permissions.
				time.Sleep(100 * time.Millisecond)
				devices, err := ListDevices()
				if err != nil {
					logger.Warn("list input devices", "error", err)
					continue
				}
				fn(devices)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warn("device watcher", "error", err)
			}
		}
	}()
	return nil
}
