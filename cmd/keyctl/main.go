// keyctl is the command line companion of keycored.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"keycore/internal/config"
)

// Version is set at build time.
var Version = "dev"

const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
)

// app holds the global options and output streams of one invocation.
type app struct {
	out    io.Writer
	errOut io.Writer

	socket  string
	config  string
	json    bool
	noColor bool
}

func main() {
	a := &app{out: os.Stdout, errOut: os.Stderr}
	os.Exit(a.run(os.Args[1:]))
}

func (a *app) run(args []string) int {
	fs := flag.NewFlagSet("keyctl", flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	fs.StringVar(&a.socket, "socket", "", "control socket path (default: "+config.DefaultSocketPath()+")")
	fs.StringVar(&a.config, "config", "", "config file used to find the socket")
	fs.BoolVar(&a.json, "json", false, "print JSON instead of text")
	fs.BoolVar(&a.noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	fs.Usage = a.usage
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		a.usage()
		return 2
	}

	cmds := map[string]func([]string) error{
		"status":          a.cmdStatus,
		"ping":            a.cmdPing,
		"reset":           a.cmdReset,
		"reload":          a.cmdReload,
		"watch":           a.cmdWatch,
		"indicators":      a.cmdIndicators,
		"metrics":         a.cmdMetrics,
		"layout":          a.cmdLayout,
		"parse":           a.cmdParse,
		"replay":          a.cmdReplay,
		"sessions":        a.cmdSessions,
		"validate-config": a.cmdValidateConfig,
		"keycode":         a.cmdKeycode,
	}

	name := fs.Arg(0)
	switch name {
	case "help", "-h", "--help":
		a.usage()
		return 0
	case "version":
		fmt.Fprintln(a.out, "keyctl", Version)
		return 0
	}

	cmd, ok := cmds[name]
	if !ok {
		fmt.Fprintf(a.errOut, "Unknown command: %s\n\n", name)
		a.usage()
		return 2
	}
	if err := cmd(fs.Args()[1:]); err != nil {
		a.printError(err.Error())
		return 1
	}
	return 0
}

func (a *app) usage() {
	fmt.Fprintln(a.errOut, `keyctl - control utility for keycored

Usage: keyctl [options] <command> [args]

Daemon commands:
  status                    Show layers, modes and RGB state
  ping                      Check that the daemon responds
  reset                     Reset the controller to its startup state
  reload                    Reread the daemon's configuration file
  watch [-events list]      Stream controller events
  indicators                Show the current LED indicator decision
  metrics                   Show the daemon's counters

Offline commands:
  layout [-layers list]     Print the keymap
  parse <file>              Check a LAYOUT(...) keymap source
  replay <trace.db>         Replay a recorded session and compare outputs
  sessions <trace.db>       List recorded sessions
  validate-config [path]    Validate a configuration file
  keycode <name>            Look up a keycode expression

Options:
  -socket <path>   Control socket path
  -config <path>   Config file used to find the socket
  -json            Print JSON
  -no-color        Disable colored output`)
}

func (a *app) color(code, s string) string {
	if a.noColor {
		return s
	}
	return code + s + colorReset
}

func (a *app) printError(msg string) {
	fmt.Fprintf(a.errOut, "%s %s\n", a.color(colorBold+colorRed, "Error:"), msg)
}

func (a *app) printSection(title string) {
	fmt.Fprintf(a.out, "\n%s\n", a.color(colorBold, title))
}

func (a *app) field(name string, value any) {
	fmt.Fprintf(a.out, "  %s %v\n", a.color(colorDim, fmt.Sprintf("%-14s", name)), value)
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// socketPath resolves the control socket from the flag, the config file or
// the default location.
func (a *app) socketPath() string {
	if a.socket != "" {
		return a.socket
	}
	path := a.config
	if path == "" {
		path = config.FindConfigFile()
	}
	if path != "" {
		if cfg, err := readConfig(path); err == nil {
			return cfg.IPC.SocketPath
		}
	}
	return config.DefaultSocketPath()
}

// readConfig parses a config file without migrating or rewriting it.
func readConfig(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Parse(data, config.FormatFromExt(filepath.Ext(path)))
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}
