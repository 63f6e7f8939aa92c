package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const declSrc = `language = "c++"

[[record]]
name = "D"
  [[record.base]]
  name = "B"
  [[record.field]]
  name = "c"
  type = "char"
  [record.expect]
  target = "x86_64-linux-gnu"
  size = 8
  align = 4
  fields = [32]
  bases = { B = 0 }

[[record]]
name = "B"
  [[record.field]]
  name = "i"
  type = "int"
`

// run executes the CLI in a scratch directory with its own cache.
func run(t *testing.T, dir string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	t.Chdir(dir)
	t.Setenv("XDG_CACHE_HOME", filepath.Join(dir, ".cache"))
	cmd, a := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	if closeErr := a.close(); err == nil {
		err = closeErr
	}
	return out.String(), errOut.String(), err
}

func scratch(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestTargets(t *testing.T) {
	out, _, err := run(t, t.TempDir(), "targets")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"x86_64-linux-gnu        itanium      8     8  default",
		"x86_64-pc-windows-msvc  microsoft    8     4",
		"i686-linux-gnu          itanium      4     4",
	} {
		if !strings.Contains(out, want+"\n") {
			t.Errorf("missing line %q in:\n%s", want, out)
		}
	}
}

func TestTargets_DefaultFromConfig(t *testing.T) {
	dir := scratch(t, map[string]string{"reclayout.toml": "[target]\ntriple = \"i686-pc-windows-msvc\"\n"})
	out, _, err := run(t, dir, "targets")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "i686-pc-windows-msvc    microsoft    4     4  default\n") {
		t.Fatalf("config target must be marked default:\n%s", out)
	}
}

func TestDump_Text(t *testing.T) {
	dir := scratch(t, map[string]string{"decls.toml": declSrc})
	out, stderr, err := run(t, dir, "dump", "--record", "D", "decls.toml")
	if err != nil {
		t.Fatalf("dump failed: %v\n%s", err, stderr)
	}
	want := `
*** Dumping AST Record Layout
         0 | struct D
         0 |   struct B (base)
         0 |     int i
         4 |   char c
           | [sizeof=8, dsize=5, align=4,
           |  nvsize=5, nvalign=4]
`
	if out != want {
		t.Fatalf("unexpected output:\n%s\nwant:\n%s", out, want)
	}
}

func TestDump_CachedRunMatches(t *testing.T) {
	dir := scratch(t, map[string]string{"decls.toml": declSrc})
	first, _, err := run(t, dir, "dump", "--format", "json", "decls.toml")
	if err != nil {
		t.Fatal(err)
	}
	entries, err := filepath.Glob(filepath.Join(dir, ".cache", "reclayout", "layouts", "*.mp"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one cache entry, got %v (%v)", entries, err)
	}
	second, _, err := run(t, dir, "dump", "--format", "json", "decls.toml")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatalf("cached output differs:\n%s\nvs\n%s", first, second)
	}

	var got []map[string]any
	if err := json.Unmarshal([]byte(first), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0]["name"] != "D" || got[0]["size"] != float64(8) {
		t.Fatalf("unexpected JSON %v", got)
	}
}

func TestDump_TargetFlag(t *testing.T) {
	dir := scratch(t, map[string]string{"decls.toml": declSrc})
	out, _, err := run(t, dir, "--target", "x86_64-pc-windows-msvc", "dump", "--format", "summary", "--no-cache", "decls.toml")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "D             8       4 ") {
		t.Fatalf("unexpected summary:\n%s", out)
	}
}

func TestDump_Errors(t *testing.T) {
	dir := scratch(t, map[string]string{
		"decls.toml": declSrc,
		"bad.toml":   "[[record]]\nname = \"X\"\n  [[record.field]]\n  name = \"x\"\n  type = \"Nope\"\n",
	})
	tests := []struct {
		name    string
		args    []string
		wantErr string
		stderr  string
	}{
		{"missing record", []string{"dump", "--record", "Nope", "decls.toml"}, "no record named Nope", ""},
		{"bad format", []string{"dump", "--format", "xml", "decls.toml"}, "unsupported format", ""},
		{"bad color", []string{"--color", "always", "dump", "decls.toml"}, "invalid --color", ""},
		{"bad log level", []string{"--log-level", "loud", "dump", "decls.toml"}, "invalid --log-level", ""},
		{"bad ui", []string{"--ui", "fancy", "dump", "decls.toml"}, "invalid --ui", ""},
		{"unknown type", []string{"dump", "bad.toml"}, "1 error(s)", "DCL2002"},
		{"missing file", []string{"dump", "gone.toml"}, "gone.toml", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, stderr, err := run(t, dir, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
			if tt.stderr != "" && !strings.Contains(stderr, tt.stderr) {
				t.Fatalf("expected %q on stderr, got:\n%s", tt.stderr, stderr)
			}
		})
	}
}

func TestCheck_Pass(t *testing.T) {
	dir := scratch(t, map[string]string{"decls.toml": declSrc})
	out, stderr, err := run(t, dir, "check", ".")
	if err != nil {
		t.Fatalf("check failed: %v\n%s", err, stderr)
	}
	if out != "checked 1 expectation(s) in 1 file(s), 0 failed\n" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCheck_Mismatch(t *testing.T) {
	src := strings.Replace(declSrc, "size = 8", "size = 12", 1)
	dir := scratch(t, map[string]string{"decls.toml": src})
	out, stderr, err := run(t, dir, "check", "decls.toml")
	if err == nil || !isSilent(err) {
		t.Fatalf("expected silent failure, got %v", err)
	}
	if !strings.Contains(out, "1 failed") {
		t.Fatalf("unexpected output %q", out)
	}
	if !strings.Contains(stderr, "CHK3001") {
		t.Fatalf("expected size mismatch diagnostic, got:\n%s", stderr)
	}
}

func TestCheck_UnknownTarget(t *testing.T) {
	src := strings.Replace(declSrc, `target = "x86_64-linux-gnu"`, `target = "pdp11-unix"`, 1)
	dir := scratch(t, map[string]string{"decls.toml": src})
	_, stderr, err := run(t, dir, "check", "decls.toml")
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(stderr, "CHK3006") || !strings.Contains(stderr, "decls.toml:10") {
		t.Fatalf("expected located unknown target diagnostic, got:\n%s", stderr)
	}
}

func TestCache_Dir(t *testing.T) {
	dir := scratch(t, map[string]string{"reclayout.toml": "[cache]\ndir = \"layout-cache\"\n"})
	out, _, err := run(t, dir, "cache", "dir")
	if err != nil {
		t.Fatal(err)
	}
	got := strings.TrimSpace(out)
	if !filepath.IsAbs(got) || filepath.Base(got) != "layout-cache" || filepath.Base(filepath.Dir(got)) != filepath.Base(dir) {
		t.Fatalf("relative cache dir must be anchored at the config, got %q", got)
	}
}

func TestCache_Clear(t *testing.T) {
	dir := scratch(t, map[string]string{"decls.toml": declSrc})
	if _, _, err := run(t, dir, "dump", "decls.toml"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := run(t, dir, "--quiet", "cache", "clear"); err != nil {
		t.Fatal(err)
	}
	entries, _ := filepath.Glob(filepath.Join(dir, ".cache", "reclayout", "layouts", "*.mp"))
	if len(entries) != 0 {
		t.Fatalf("cache entries survived: %v", entries)
	}
}

func TestVersion_JSON(t *testing.T) {
	out, _, err := run(t, t.TempDir(), "version", "--format", "json", "--full")
	if err != nil {
		t.Fatal(err)
	}
	var p versionPayload
	if err := json.Unmarshal([]byte(out), &p); err != nil {
		t.Fatal(err)
	}
	if p.Tool != "reclayout" || p.Version == "" || p.LayoutSchema == 0 || p.GitCommit == "" || p.BuildDate == "" {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestTimings(t *testing.T) {
	dir := scratch(t, map[string]string{"decls.toml": declSrc})
	_, stderr, err := run(t, dir, "--timings", "dump", "--no-cache", "decls.toml")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stderr, "timings:") || !strings.Contains(stderr, "layout") {
		t.Fatalf("expected timing summary, got:\n%s", stderr)
	}
}

func TestProfiles(t *testing.T) {
	dir := scratch(t, map[string]string{"decls.toml": declSrc})
	if _, _, err := run(t, dir, "--cpuprofile", "cpu.pprof", "--memprofile", "mem.pprof", "dump", "--no-cache", "decls.toml"); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"cpu.pprof", "mem.pprof"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
}

func TestUIMode(t *testing.T) {
	tests := []struct {
		value string
		want  uiMode
		files int
		quiet bool
		use   bool
	}{
		{"", uiModeAuto, 3, false, false},
		{"AUTO", uiModeAuto, 1, false, false},
		{"on", uiModeOn, 1, true, true},
		{" off ", uiModeOff, 5, false, false},
	}
	for _, tt := range tests {
		mode, err := readUIMode(tt.value)
		if err != nil {
			t.Fatalf("readUIMode(%q): %v", tt.value, err)
		}
		if mode != tt.want {
			t.Fatalf("readUIMode(%q) = %q, want %q", tt.value, mode, tt.want)
		}
		// A buffer is never a terminal, so auto stays off.
		if got := shouldUseTUI(mode, &bytes.Buffer{}, tt.files, tt.quiet); got != tt.use {
			t.Errorf("shouldUseTUI(%q, %d files) = %v, want %v", mode, tt.files, got, tt.use)
		}
	}
	if _, err := readUIMode("fancy"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
