// Package paste delivers a history item straight into whichever window has
// input focus, using an OS input-synthesis utility run as a subprocess:
//
//	xdotool  : X11
//	wtype    : Wayland
//	osascript: macOS (System Events)
//
// Text is typed with the utility's text primitive rather than raw keycodes so
// non-US layouts come out right. Images are placed on the clipboard first and
// then pasted with the platform shortcut.
package paste

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"go.klb.dev/clipstash/internal/apperr"
	"go.klb.dev/clipstash/internal/clip"
	"go.klb.dev/clipstash/internal/model"
)

// Injector types or pastes an item into the focused window.
type Injector interface {
	Name() string
	// Available probes the utility. Callers fall back to setting the
	// clipboard only when it reports false.
	Available(ctx context.Context) bool
	Inject(ctx context.Context, it model.Item) error
}

// Runner executes name with args and returns an error describing any failure.
type Runner func(ctx context.Context, name string, args ...string) error

type tool struct {
	name      string
	probe     []string // arguments for a cheap version call; nil means PATH lookup only
	typeArgs  func(text string) []string
	pasteArgs []string
}

var tools = map[string]tool{
	"xdotool": {
		name:  "xdotool",
		probe: []string{"version"},
		typeArgs: func(text string) []string {
			return []string{"type", "--clearmodifiers", "--", text}
		},
		pasteArgs: []string{"key", "--clearmodifiers", "ctrl+v"},
	},
	"wtype": {
		name: "wtype",
		typeArgs: func(text string) []string {
			return []string{"--", text}
		},
		pasteArgs: []string{"-M", "ctrl", "v", "-m", "ctrl"},
	},
	"osascript": {
		name: "osascript",
		typeArgs: func(text string) []string {
			return []string{"-e", `tell application "System Events" to keystroke ` + appleScriptString(text)}
		},
		pasteArgs: []string{"-e", `tell application "System Events" to keystroke "v" using command down`},
	},
}

// Command is an Injector backed by one of the supported utilities.
type Command struct {
	tool     tool
	acc      clip.Accessor
	run      Runner
	lookPath func(string) (string, error)
}

// Option customises a Command.
type Option func(*Command)

// WithRunner replaces the subprocess runner.
func WithRunner(r Runner) Option { return func(c *Command) { c.run = r } }

// WithLookPath replaces the PATH lookup used by Available.
func WithLookPath(f func(string) (string, error)) Option {
	return func(c *Command) { c.lookPath = f }
}

// NewCommand returns an injector driving the named utility. acc receives
// images before the paste shortcut is sent.
func NewCommand(name string, acc clip.Accessor, opts ...Option) (*Command, error) {
	t, ok := tools[name]
	if !ok {
		return nil, apperr.Errorf(apperr.KindConfig, "paste injector", "unknown utility %q", name)
	}
	c := &Command{tool: t, acc: acc, run: execRunner, lookPath: exec.LookPath}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Detect picks the utility for the current session, or None when the
// platform has no supported mechanism.
func Detect(acc clip.Accessor) Injector {
	name := detectTool(runtime.GOOS, os.Getenv)
	if name == "" {
		return None{}
	}
	c, err := NewCommand(name, acc)
	if err != nil {
		return None{}
	}
	return c
}

func detectTool(goos string, getenv func(string) string) string {
	switch goos {
	case "darwin":
		return "osascript"
	case "linux", "freebsd", "openbsd", "netbsd":
		if getenv("WAYLAND_DISPLAY") != "" {
			return "wtype"
		}
		if getenv("DISPLAY") != "" {
			return "xdotool"
		}
	}
	return ""
}

func (c *Command) Name() string { return c.tool.name }

func (c *Command) Available(ctx context.Context) bool {
	if _, err := c.lookPath(c.tool.name); err != nil {
		return false
	}
	if c.tool.probe == nil {
		return true
	}
	return c.run(ctx, c.tool.name, c.tool.probe...) == nil
}

func (c *Command) Inject(ctx context.Context, it model.Item) error {
	if !c.Available(ctx) {
		return apperr.Errorf(apperr.KindUnexpected, "paste inject",
			"%s is not installed or not usable", c.tool.name)
	}
	switch v := it.Content.(type) {
	case model.Text:
		if err := c.run(ctx, c.tool.name, c.tool.typeArgs(string(v))...); err != nil {
			return apperr.New(apperr.KindClipboard, "paste inject", err)
		}
	case model.Image:
		if err := c.acc.Write(v); err != nil {
			return err
		}
		if err := c.run(ctx, c.tool.name, c.tool.pasteArgs...); err != nil {
			return apperr.New(apperr.KindClipboard, "paste inject", err)
		}
	default:
		return apperr.Errorf(apperr.KindUnexpected, "paste inject", "unsupported content %T", it.Content)
	}
	return nil
}

// None is the Injector for platforms without an input-synthesis utility.
type None struct{}

func (None) Name() string                   { return "none" }
func (None) Available(context.Context) bool { return false }
func (None) Inject(context.Context, model.Item) error {
	return apperr.Errorf(apperr.KindUnexpected, "paste inject",
		"no paste utility supported on %s", runtime.GOOS)
}

func execRunner(ctx context.Context, name string, args ...string) error {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// appleScriptString quotes s as an AppleScript string literal.
func appleScriptString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
