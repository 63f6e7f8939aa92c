package driver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"reclayout/internal/dcache"
	"reclayout/internal/diag"
	"reclayout/internal/recfile"
)

const paddedSrc = `language = "c++"

[[record]]
name = "P"
  [[record.field]]
  name = "c"
  type = "char"
  [[record.field]]
  name = "i"
  type = "int"
`

func writeFile(t *testing.T, dir, name, src string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func newSession(t *testing.T, opts Options) *Session {
	t.Helper()
	s, err := NewSession(opts)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func hasCode(bag *diag.Bag, code diag.Code) (diag.Diagnostic, bool) {
	for _, d := range bag.Items() {
		if d.Code == code {
			return d, true
		}
	}
	return diag.Diagnostic{}, false
}

func TestFindConfig_WalksUp(t *testing.T) {
	root := t.TempDir()
	cfg := writeFile(t, root, ConfigFileName, "[target]\ntriple = \"i686-linux-gnu\"\n")
	deep := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(deep, 0o755); err != nil {
		t.Fatal(err)
	}
	got, ok, err := FindConfig(deep)
	if err != nil || !ok {
		t.Fatalf("expected config, got ok=%v err=%v", ok, err)
	}
	if got != cfg {
		t.Fatalf("expected %s, got %s", cfg, got)
	}

	c, err := DiscoverConfig("", deep)
	if err != nil {
		t.Fatal(err)
	}
	if c.Target.Triple != "i686-linux-gnu" || c.Path != cfg || !c.CacheEnabled() {
		t.Fatalf("unexpected config %+v", c)
	}
}

func TestDiscoverConfig_Missing(t *testing.T) {
	c, err := DiscoverConfig("", t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if c.Path != "" || c.Target.Triple != "" {
		t.Fatalf("expected empty config, got %+v", c)
	}
}

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{"full", `
[target]
triple = "x86_64-pc-windows-msvc"
[layout]
language = "c"
max_depth = 32
[output]
format = "json"
color = "off"
[cache]
enabled = false
dir = "cache"
`, ""},
		{"syntax", "[target\n", "failed to parse TOML"},
		{"unknown key", "[target]\ntripel = \"x\"\n", "unknown keys: target.tripel"},
		{"bad triple", "[target]\ntriple = \"pdp11\"\n", "[target].triple"},
		{"bad language", "[layout]\nlanguage = \"rust\"\n", "[layout].language"},
		{"negative depth", "[layout]\nmax_depth = -1\n", "[layout].max_depth"},
		{"bad format", "[output]\nformat = \"xml\"\n", "[output].format"},
		{"bad color", "[output]\ncolor = \"always\"\n", "[output].color"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			p := writeFile(t, dir, ConfigFileName, tt.src)
			c, err := LoadConfig(p)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if c.CacheEnabled() {
				t.Fatal("cache must be disabled")
			}
			if c.Cache.Dir != filepath.Join(dir, "cache") {
				t.Fatalf("relative cache dir must be anchored at the config, got %s", c.Cache.Dir)
			}
			if c.Layout.MaxDepth != 32 || c.Output.Format != "json" {
				t.Fatalf("unexpected config %+v", c)
			}
		})
	}
}

func TestExpandPaths(t *testing.T) {
	root := t.TempDir()
	b := writeFile(t, root, "sub/b.toml", paddedSrc)
	a := writeFile(t, root, "a.toml", paddedSrc)
	writeFile(t, root, "notes.txt", "")
	writeFile(t, root, ConfigFileName, "")
	plain := writeFile(t, t.TempDir(), "decls", paddedSrc)

	got, err := ExpandPaths([]string{root, plain})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{a, b, plain}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if _, err := ExpandPaths([]string{filepath.Join(root, "missing")}); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestSession_LoadKeepsOrderAndErrors(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.toml", paddedSrc)
	bad := writeFile(t, dir, "bad.toml", "[[record]\n")
	missing := filepath.Join(dir, "missing.toml")

	s := newSession(t, Options{Jobs: 2})
	units, err := s.Load(context.Background(), []string{good, bad, missing})
	if err != nil {
		t.Fatal(err)
	}
	if len(units) != 3 {
		t.Fatalf("expected 3 units, got %d", len(units))
	}
	if units[0].Err != nil || units[0].File == nil {
		t.Fatalf("good file failed: %v", units[0].Err)
	}
	if units[1].Err == nil {
		t.Fatal("expected parse failure")
	}
	if _, ok := hasCode(units[1].Bag, diag.DeclParseError); !ok {
		t.Fatal("expected parse diagnostic")
	}
	if units[2].Err == nil {
		t.Fatal("expected I/O failure")
	}
	if _, ok := hasCode(units[2].Bag, diag.IOLoadFileError); !ok {
		t.Fatal("expected I/O diagnostic")
	}
}

func TestSession_LoadCancelled(t *testing.T) {
	p := writeFile(t, t.TempDir(), "a.toml", paddedSrc)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newSession(t, Options{})
	if _, err := s.Load(ctx, []string{p}); err == nil {
		t.Fatal("expected cancellation error")
	}
}

func TestSession_TargetSelection(t *testing.T) {
	withTarget := &Unit{File: &recfile.File{Target: "i686-linux-gnu"}}
	without := &Unit{File: &recfile.File{}}

	tests := []struct {
		name string
		opts Options
		unit *Unit
		want string
	}{
		{"builtin default", Options{}, without, DefaultTriple},
		{"config default", Options{DefaultTarget: "aarch64-linux-gnu"}, without, "aarch64-linux-gnu"},
		{"file wins over default", Options{DefaultTarget: "aarch64-linux-gnu"}, withTarget, "i686-linux-gnu"},
		{"flag wins over file", Options{Target: "x86_64-pc-windows-msvc"}, withTarget, "x86_64-pc-windows-msvc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := newSession(t, tt.opts).TargetFor(tt.unit); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestNewSession_Validates(t *testing.T) {
	if _, err := NewSession(Options{Target: "pdp11"}); err == nil {
		t.Fatal("expected error for unknown target")
	}
	if _, err := NewSession(Options{Language: "rust"}); err == nil {
		t.Fatal("expected error for unknown language")
	}
}

func loadOne(t *testing.T, s *Session, src string) *Unit {
	t.Helper()
	p := writeFile(t, t.TempDir(), "decls.toml", src)
	units, err := s.Load(context.Background(), []string{p})
	if err != nil {
		t.Fatal(err)
	}
	if units[0].Err != nil {
		t.Fatal(units[0].Err)
	}
	return units[0]
}

func TestSession_PaddingNotices(t *testing.T) {
	for _, warn := range []bool{false, true} {
		s := newSession(t, Options{WarnPadding: warn})
		u := loadOne(t, s, paddedSrc)
		e, err := s.Engine(u, DefaultTriple)
		if err != nil {
			t.Fatal(err)
		}
		ids, err := u.Records(nil)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := e.LayoutOf(ids[0]); err != nil {
			t.Fatal(err)
		}
		d, ok := hasCode(u.Bag, diag.LayPaddedField)
		if ok != warn {
			t.Fatalf("warn-padding=%v: padding notice present=%v", warn, ok)
		}
		if !warn {
			continue
		}
		// Located at the [[record.field]] header of 'i'.
		if d.Primary.File != u.Path || d.Primary.Line != 8 || d.Primary.Field != "i" {
			t.Fatalf("unexpected subject %+v", d.Primary)
		}
	}
}

func TestSession_DiagnosticsAreLogged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := newSession(t, Options{WarnPadding: true, Logger: zap.New(core)})
	u := loadOne(t, s, paddedSrc)
	e, err := s.Engine(u, DefaultTriple)
	if err != nil {
		t.Fatal(err)
	}
	ids, err := u.Records([]string{"P"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.LayoutOf(ids[0]); err != nil {
		t.Fatal(err)
	}
	entries := logs.FilterMessage("diagnostic").All()
	if len(entries) == 0 {
		t.Fatal("expected diagnostics in the debug log")
	}
	found := false
	for _, entry := range entries {
		if entry.ContextMap()["code"] == diag.LayPaddedField.ID() {
			found = true
		}
	}
	if !found {
		t.Fatalf("padding notice not logged: %+v", entries)
	}
}

func TestSession_LanguageOverride(t *testing.T) {
	s := newSession(t, Options{Language: "c"})
	u := loadOne(t, s, paddedSrc)
	e, err := s.Engine(u, DefaultTriple)
	if err != nil {
		t.Fatal(err)
	}
	if e.Language().String() != "c" {
		t.Fatalf("expected C engine, got %s", e.Language())
	}
}

func TestSession_DiskCache(t *testing.T) {
	c, err := dcache.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s := newSession(t, Options{Cache: c})
	p := writeFile(t, t.TempDir(), "decls.toml", paddedSrc)

	run := func() (cached int) {
		units, err := s.Load(context.Background(), []string{p})
		if err != nil {
			t.Fatal(err)
		}
		u := units[0]
		e, err := s.Engine(u, DefaultTriple)
		if err != nil {
			t.Fatal(err)
		}
		cached = e.CachedCount()
		ids, _ := u.Records(nil)
		l, err := e.LayoutOf(ids[0])
		if err != nil {
			t.Fatal(err)
		}
		if l.Size != 8 || l.FieldOffsets[1] != 32 {
			t.Fatalf("unexpected layout size=%d offsets=%v", l.Size, l.FieldOffsets)
		}
		s.Store(u, e)
		return cached
	}
	if n := run(); n != 0 {
		t.Fatalf("first run must start cold, got %d cached", n)
	}
	if n := run(); n != 1 {
		t.Fatalf("second run must be primed from disk, got %d cached", n)
	}
}

func TestUnit_Records(t *testing.T) {
	s := newSession(t, Options{})
	u := loadOne(t, s, paddedSrc)
	ids, err := u.Records([]string{"P"})
	if err != nil || len(ids) != 1 {
		t.Fatalf("unexpected result %v, %v", ids, err)
	}
	if _, err := u.Records([]string{"P", "Nope"}); err == nil || !strings.Contains(err.Error(), "Nope") {
		t.Fatalf("expected error naming the missing record, got %v", err)
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) OnEvent(evt Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

// last returns the final status seen for file in stage.
func (r *recordingSink) last(file string, stage Stage) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var st Status
	for _, e := range r.events {
		if e.File == file && e.Stage == stage {
			st = e.Status
		}
	}
	return st
}

func TestSession_ProgressEvents(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.toml", paddedSrc)
	bad := writeFile(t, dir, "bad.toml", "[[record]\n")
	sink := &recordingSink{}
	s := newSession(t, Options{Progress: sink})

	units, err := s.Load(context.Background(), []string{good, bad})
	if err != nil {
		t.Fatal(err)
	}
	if got := sink.last(good, StageLoad); got != StatusDone {
		t.Fatalf("good file load ended %q", got)
	}
	if got := sink.last(bad, StageLoad); got != StatusError {
		t.Fatalf("bad file load ended %q", got)
	}
	queued := 0
	for _, e := range sink.events {
		if e.Status == StatusQueued {
			queued++
		}
	}
	if queued != 2 {
		t.Fatalf("expected 2 queued events, got %d", queued)
	}

	err = s.Run(context.Background(), units[:1], StageLayout, func(context.Context, *Unit) error { return nil })
	if err != nil {
		t.Fatal(err)
	}
	if got := sink.last(good, StageLayout); got != StatusDone {
		t.Fatalf("layout stage ended %q", got)
	}
}
