package main

import (
	"bytes"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"go.klb.dev/clipstash/internal/config"
	"go.klb.dev/clipstash/internal/paste"
)

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if out != "clipstash dev\n" {
		t.Fatalf("version output = %q", out)
	}
}

func TestConfigInitWritesDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")
	path := filepath.Join(t.TempDir(), "clipstash.toml")

	if _, err := execute(t, "", "config", "init", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	got, err := config.Load(path, config.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if want := config.Default(defaultDataDir()); got != want {
		t.Fatalf("written config = %+v, want %+v", got, want)
	}

	if _, err := execute(t, "", "config", "init", path); err == nil || !strings.Contains(err.Error(), "--force") {
		t.Fatalf("second init without --force: %v", err)
	}
	if _, err := execute(t, "", "config", "init", "--force", path); err != nil {
		t.Fatalf("init --force: %v", err)
	}
}

func TestConfigShowLayersEnvAndFlags(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CLIPSTASH_MAX_HISTORY_SIZE", "7")
	t.Setenv("CLIPSTASH_TOKEN", "hunter2")

	out, err := execute(t, "", "config", "show", "--retention-days", "3", "--data-dir", "/tmp/cs")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	for _, want := range []string{"max-history-size = 7", "retention-days = 3", "data-dir = '/tmp/cs'"} {
		if !strings.Contains(out, want) {
			t.Errorf("output lacks %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "hunter2") {
		t.Fatalf("token leaked into output:\n%s", out)
	}
}

func TestConfigShowRejectsInvalid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if _, err := execute(t, "", "config", "show", "--check-interval-ms", "0"); err == nil {
		t.Fatal("expected a validation error")
	}
}

func TestDefaultDataDirHonoursXDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_DATA_HOME only applies on Linux")
	}
	t.Setenv("XDG_DATA_HOME", "/xdg")
	if got := defaultDataDir(); got != "/xdg/clipstash" {
		t.Fatalf("defaultDataDir = %q", got)
	}
}

func TestNewInjector(t *testing.T) {
	if inj, err := newInjector("none", nil); err != nil || inj.Name() != (paste.None{}).Name() {
		t.Fatalf("none: %v, %v", inj, err)
	}
	if _, err := newInjector("bogus", nil); err == nil {
		t.Fatal("expected an error for an unknown injector")
	}
}

func TestFormatting(t *testing.T) {
	cases := []struct {
		n    int
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1536, "1.5 KiB"},
		{3 << 20, "3.0 MiB"},
	}
	for _, tc := range cases {
		if got := fmtSize(tc.n); got != tc.want {
			t.Errorf("fmtSize(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
	if got := oneLine("a\n  b\tc "); got != "a b c" {
		t.Errorf("oneLine = %q", got)
	}
}
