package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"keycore/internal/config"
	"keycore/internal/keycode"
	"keycore/internal/keymap"
	"keycore/internal/layer"
	"keycore/internal/trace"
)

func (a *app) cmdLayout(args []string) error {
	flags := flag.NewFlagSet("layout", flag.ContinueOnError)
	flags.SetOutput(a.errOut)
	layers := flags.String("layers", "", "comma separated layer names or ids (default: all)")
	file := flags.String("file", "", "LAYOUT(...) source (default: configured or built-in keymap)")
	width := flags.Int("width", 0, "cell width (default: widest label)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	km, err := a.keymap(*file)
	if err != nil {
		return err
	}

	opts := keymap.FormatOptions{Width: *width}
	if *layers != "" {
		for _, name := range strings.Split(*layers, ",") {
			id, err := layer.ParseName(name)
			if err != nil {
				return err
			}
			opts.Layers = append(opts.Layers, id)
		}
	}
	return keymap.Format(a.out, km, opts)
}

// keymap loads file, or the keymap the config selects, or the built-in one.
func (a *app) keymap(file string) (*keymap.Keymap, error) {
	if file != "" {
		return parseKeymapFile(file)
	}
	path := a.config
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		return keymap.Default(), nil
	}
	cfg, err := readConfig(path)
	if err != nil {
		return nil, err
	}
	return cfg.LoadKeymap()
}

func parseKeymapFile(path string) (*keymap.Keymap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return keymap.Parse(f)
}

func (a *app) cmdParse(args []string) error {
	flags := flag.NewFlagSet("parse", flag.ContinueOnError)
	flags.SetOutput(a.errOut)
	show := flags.Bool("print", false, "print the parsed layers")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("usage: keyctl parse [-print] <file>")
	}

	km, err := parseKeymapFile(flags.Arg(0))
	if err != nil {
		a.explainKeymapError(err)
		return fmt.Errorf("%s: invalid keymap", flags.Arg(0))
	}

	if *show {
		return keymap.Format(a.out, km, keymap.FormatOptions{})
	}
	for id := layer.ID(0); id < layer.Count; id++ {
		var set int
		for _, kc := range km.Layers[id] {
			if kc != keycode.TRNS {
				set++
			}
		}
		fmt.Fprintf(a.out, "  %-10s %2d/%d keys\n", id.Name(), set, keymap.KeyCount)
	}
	fmt.Fprintln(a.out, a.color(colorGreen, "OK"))
	return nil
}

// explainKeymapError lists each bad key with its nearest known names.
func (a *app) explainKeymapError(err error) {
	errs := []error{err}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			errs = joined.Unwrap()
			break
		}
	}
	for _, e := range errs {
		fmt.Fprintf(a.errOut, "  %s\n", e)
		var ke *keymap.KeyError
		if errors.As(e, &ke) {
			if s := keycode.Suggest(ke.Expr, 3); len(s) > 0 {
				fmt.Fprintf(a.errOut, "    did you mean: %s\n", strings.Join(s, ", "))
			}
		}
	}
}

func (a *app) cmdKeycode(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: keyctl keycode <name>")
	}
	kc, err := keycode.Parse(args[0])
	if err != nil {
		if s := keycode.Suggest(args[0], 5); len(s) > 0 {
			return fmt.Errorf("%w (did you mean: %s)", err, strings.Join(s, ", "))
		}
		return err
	}

	if a.json {
		return a.printJSON(map[string]any{
			"name":  kc.String(),
			"value": uint16(kc),
			"kind":  describeKeycode(kc),
		})
	}
	fmt.Fprintf(a.out, "%s = 0x%04X (%s)\n", kc, uint16(kc), describeKeycode(kc))
	return nil
}

func describeKeycode(kc keycode.Code) string {
	switch {
	case kc == keycode.TRNS:
		return "transparent"
	case kc == keycode.NO:
		return "no-op"
	case kc.IsModifier():
		return "modifier"
	case kc.IsMouse():
		return "mouse key"
	case kc.IsBasic():
		return "basic key"
	case kc.IsModified():
		return "modified key"
	case kc.IsLayerTap():
		l, tap := kc.LayerTap()
		return fmt.Sprintf("layer %s when held, %s when tapped", layer.ID(l).Name(), tap)
	case kc.IsMomentary():
		return fmt.Sprintf("layer %s while held", layer.ID(kc.Layer()).Name())
	case kc.IsToggle():
		return fmt.Sprintf("toggles layer %s", layer.ID(kc.Layer()).Name())
	case kc.IsTapDance():
		return fmt.Sprintf("tap dance %d", kc.TapDance())
	case kc.IsUser():
		return "custom key"
	}
	return "unknown"
}

func (a *app) cmdValidateConfig(args []string) error {
	path := a.config
	if len(args) > 0 {
		path = args[0]
	}
	if path == "" {
		path = config.FindConfigFile()
	}
	if path == "" {
		return errors.New("usage: keyctl validate-config <path>")
	}

	cfg, err := readConfig(path)
	if err != nil {
		return err
	}

	problems := config.ValidateAll(cfg)
	for _, w := range problems.Warnings() {
		fmt.Fprintf(a.out, "  %s %s: %s\n", a.color(colorYellow, "warning"), w.Field, w.Message)
	}
	for _, e := range problems.Errors() {
		fmt.Fprintf(a.out, "  %s %s: %s\n", a.color(colorRed, "error"), e.Field, e.Message)
	}
	if problems.HasErrors() {
		return fmt.Errorf("%s: %d error(s)", path, len(problems.Errors()))
	}

	if cfg.Version < config.Version {
		fmt.Fprintf(a.out, "  %s version %d will be migrated to %d on load\n",
			a.color(colorYellow, "note"), cfg.Version, config.Version)
	}
	// A missing keymap file is already reported as a warning.
	if _, err := cfg.LoadKeymap(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		a.explainKeymapError(err)
		return fmt.Errorf("%s: invalid keymap", path)
	}
	fmt.Fprintf(a.out, "%s %s\n", path, a.color(colorGreen, "OK"))
	return nil
}

func (a *app) cmdSessions(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: keyctl sessions <trace.db>")
	}
	store, err := trace.OpenStore(args[0])
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.Sessions()
	if err != nil {
		return err
	}
	if a.json {
		return a.printJSON(sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(a.out, "No sessions recorded")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tEVENTS\tNOTE")
	for _, s := range sessions {
		dur := "recording"
		if !s.Open() {
			dur = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			s.ID, s.StartedAt.Local().Format("2006-01-02 15:04:05"), dur, s.Events, s.Note)
	}
	return tw.Flush()
}

func (a *app) cmdReplay(args []string) error {
	flags := flag.NewFlagSet("replay", flag.ContinueOnError)
	flags.SetOutput(a.errOut)
	session := flags.String("session", "", "session id (default: latest)")
	step := flags.Uint("tick", 1, "tick interval of the recording host in ms")
	limit := flags.Int("limit", 20, "mismatches to print")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("usage: keyctl replay [-session id] <trace.db>")
	}

	store, err := trace.OpenStore(flags.Arg(0))
	if err != nil {
		return err
	}
	defer store.Close()

	var sess trace.Session
	if *session == "" {
		sess, err = store.Latest()
	} else {
		var id uuid.UUID
		if id, err = uuid.Parse(*session); err != nil {
			return fmt.Errorf("session id: %w", err)
		}
		sess, err = store.Session(id)
	}
	if err != nil {
		return err
	}

	records, err := store.Records(sess.ID)
	if err != nil {
		return err
	}
	report := trace.Replay(sess, records, trace.WithTickStep(uint32(*step)))

	if a.json {
		return a.printJSON(report)
	}
	a.field("Session", sess.ID)
	a.field("Events", report.Events)
	a.field("Idle ticks", report.IdleTicks)
	a.field("Final layer", report.Final.Highest.Name())
	if report.OK() {
		fmt.Fprintln(a.out, a.color(colorGreen, "Replay matches the recording"))
		return nil
	}

	for i, m := range report.Mismatches {
		if i == *limit {
			fmt.Fprintf(a.out, "  ... %d more\n", len(report.Mismatches)-*limit)
			break
		}
		fmt.Fprintf(a.out, "  %s\n", m)
	}
	return fmt.Errorf("%d mismatch(es)", len(report.Mismatches))
}
