package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"keycore/internal/ipc"
)

func (a *app) connect() (*ipc.IPCClient, error) {
	cfg := ipc.DefaultClientConfig(a.socketPath())
	cfg.ClientName = "keyctl"
	cfg.ClientVersion = Version

	client := ipc.NewClient(cfg)
	if err := client.Connect(); err != nil {
		if errors.Is(err, ipc.ErrDaemonNotRunning) {
			return nil, fmt.Errorf("cannot connect to keycored at %s: %w", cfg.SocketPath, err)
		}
		return nil, err
	}
	return client, nil
}

func (a *app) cmdStatus(args []string) error {
	client, err := a.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	st, err := client.Status()
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	if a.json {
		return a.printJSON(st)
	}

	a.printSection("DAEMON")
	a.field("Version", a.color(colorCyan, st.Version))
	a.field("Uptime", st.Uptime.Round(time.Second))
	a.field("Started", st.StartedAt.Format(time.RFC3339))
	a.field("Clients", st.Clients)
	if st.TraceSession != "" {
		a.field("Trace", st.TraceSession)
	}

	a.printSection("LAYERS")
	a.field("Highest", a.color(colorBold+colorGreen, st.Highest))
	a.field("Active", strings.Join(st.Layers, ", "))
	if st.Status.PeekSaved {
		a.field("Peek", "saved state pending restore")
	}

	a.printSection("MODES")
	modes := st.Status.Modes
	a.field("Mouse lock", a.onOff(modes.MouseLocked))
	a.field("Auto mouse", a.onOff(modes.AutoMouse))
	a.field("Scroll", a.onOff(modes.ScrollMode))
	a.field("Flashlight", a.onOff(modes.Flashlight))
	a.field("RGB cycle", a.onOff(modes.AutoCycle))

	a.printSection("RGB")
	a.field("Mode", st.RGBMode)
	c := st.Status.RGBColor
	a.field("HSV", fmt.Sprintf("%d/%d/%d", c.H, c.S, c.V))
	a.field("Show mode", a.onOff(st.Status.ShowMode))
	fmt.Fprintln(a.out)
	return nil
}

func (a *app) onOff(on bool) string {
	if on {
		return a.color(colorGreen, "on")
	}
	return a.color(colorDim, "off")
}

func (a *app) cmdPing(args []string) error {
	client, err := a.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	start := time.Now()
	if err := client.Ping(); err != nil {
		return fmt.Errorf("daemon not responding: %w", err)
	}
	fmt.Fprintf(a.out, "keycored %s %s (latency %s)\n",
		client.ServerVersion(), a.color(colorGreen, "RUNNING"), time.Since(start).Round(time.Microsecond))
	return nil
}

func (a *app) cmdReset(args []string) error {
	client, err := a.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.Reset()
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if a.json {
		return a.printJSON(resp)
	}
	fmt.Fprintf(a.out, "Controller reset; highest layer %s\n", resp.Status.Highest.Name())
	return nil
}

func (a *app) cmdReload(args []string) error {
	client, err := a.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.ReloadConfig(); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Configuration reloaded")
	return nil
}

func (a *app) cmdIndicators(args []string) error {
	client, err := a.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	d, err := client.Indicators()
	if err != nil {
		return fmt.Errorf("get indicators: %w", err)
	}
	if a.json {
		return a.printJSON(d)
	}

	switch {
	case d.FullOverride:
		fmt.Fprintf(a.out, "All LEDs: %s\n", d.Fill)
	case len(d.Overrides) == 0:
		fmt.Fprintln(a.out, "No indicator overrides")
	default:
		for _, p := range d.Overrides {
			fmt.Fprintf(a.out, "  LED %2d  %s\n", p.Index, p.Color)
		}
	}
	fmt.Fprintf(a.out, "Background effect: %s\n", a.onOff(d.AllowBackground))
	return nil
}

func (a *app) cmdMetrics(args []string) error {
	client, err := a.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	m, err := client.Metrics()
	if err != nil {
		return fmt.Errorf("get metrics: %w", err)
	}
	if a.json {
		return a.printJSON(m)
	}

	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		a.field(name, m[name])
	}
	return nil
}

func (a *app) cmdWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	events := fs.String("events", "", "comma separated event types (tap,hold,dance,layer,mode,rgb,config,shutdown)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var types []ipc.EventType
	if *events != "" {
		for _, name := range strings.Split(*events, ",") {
			et, err := ipc.ParseEventType(strings.TrimSpace(name))
			if err != nil {
				return err
			}
			types = append(types, et)
		}
	}

	client, err := a.connect()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Subscribe(types...); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return a.watch(ctx, client.Events())
}

// watch prints events until ctx is done, the stream closes or the daemon
// shuts down.
func (a *app) watch(ctx context.Context, events <-chan *ipc.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return errors.New("connection closed")
			}
			if a.json {
				if err := a.printJSON(ev); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(a.out, a.formatEvent(ev))
			}
			if ev.Type == ipc.EventDaemonShutdown {
				return nil
			}
		}
	}
}

func (a *app) formatEvent(ev *ipc.Event) string {
	ts := a.color(colorDim, ev.Timestamp.Format("15:04:05.000"))
	kind := a.color(colorCyan, fmt.Sprintf("%-8s", ev.Type))
	var detail string
	switch ev.Type {
	case ipc.EventTap, ipc.EventHold:
		detail = fmt.Sprintf("%s %s", ev.Key, ev.Detail)
	case ipc.EventDance:
		detail = fmt.Sprintf("%s -> %s", ev.Key, ev.Detail)
	case ipc.EventLayerChange:
		names := ev.Layers
		if len(names) == 0 {
			names = []string{"base"}
		}
		detail = strings.Join(names, ", ")
	case ipc.EventModeChange:
		state := "off"
		if ev.On {
			state = "on"
		}
		detail = ev.Detail + " " + state
	case ipc.EventRGBChange:
		detail = ev.Detail
	case ipc.EventConfigReloaded:
		detail = "configuration reloaded"
	case ipc.EventDaemonShutdown:
		detail = "daemon shutting down"
	}
	return strings.TrimSpace(fmt.Sprintf("%s %s %s", ts, kind, detail))
}
