// Package driver loads declaration files and lays them out, sharing a disk
// cache and diagnostics plumbing between CLI commands.
package driver

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"reclayout/internal/dcache"
	"reclayout/internal/decl"
	"reclayout/internal/diag"
	"reclayout/internal/layout"
	"reclayout/internal/observ"
	"reclayout/internal/recfile"
)

// DefaultTriple is used when neither flags, config nor the file name one.
const DefaultTriple = "x86_64-linux-gnu"

// Options configure a Session.
type Options struct {
	// Target overrides every file's target when non-empty.
	Target string
	// DefaultTarget applies to files that name no target.
	DefaultTarget string
	// Language overrides every file's language when non-empty.
	Language string
	MaxDepth int

	MaxDiagnostics int
	// WarnPadding keeps padding and packing notices. They are dropped
	// otherwise.
	WarnPadding bool
	Jobs        int

	// Cache is nil when the disk cache is disabled.
	Cache  *dcache.Cache
	Logger *zap.Logger
	Timer  *observ.Timer

	// Progress receives per-file stage events; nil disables them.
	Progress ProgressSink
}

// Session carries options shared by every file of one CLI run.
type Session struct {
	opts Options
	log  *zap.Logger
}

// NewSession validates opts.
func NewSession(opts Options) (*Session, error) {
	if opts.Language != "" {
		if _, ok := layout.ParseLanguage(opts.Language); !ok {
			return nil, fmt.Errorf("unknown language %q (want c or c++)", opts.Language)
		}
	}
	for _, t := range []string{opts.Target, opts.DefaultTarget} {
		if t == "" {
			continue
		}
		if _, err := layout.TargetByTriple(t); err != nil {
			return nil, err
		}
	}
	if opts.MaxDiagnostics <= 0 {
		opts.MaxDiagnostics = 100
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{opts: opts, log: log}, nil
}

// Unit is one declaration file of a run.
type Unit struct {
	Path string
	File *recfile.File
	Bag  *diag.Bag
	// Err is set when the file could not be loaded at all.
	Err error
}

// Reporter returns the unit's sink for diagnostics. Positions are filled
// from the file for engine diagnostics that only name a record.
func (s *Session) Reporter(u *Unit) diag.Reporter {
	var r diag.Reporter = diag.MultiReporter{diag.BagReporter{Bag: u.Bag}, logReporter{log: s.log}}
	if u.File != nil {
		r = &locatingReporter{file: u.File, next: r}
	}
	if !s.opts.WarnPadding {
		r = paddingFilter{next: r}
	}
	return diag.NewDedupReporter(r)
}

// TargetFor picks the triple a unit is laid out for.
func (s *Session) TargetFor(u *Unit) string {
	switch {
	case s.opts.Target != "":
		return s.opts.Target
	case u.File != nil && u.File.Target != "":
		return u.File.Target
	case s.opts.DefaultTarget != "":
		return s.opts.DefaultTarget
	}
	return DefaultTriple
}

// DefaultTarget is the triple for expectations that name none.
func (s *Session) DefaultTarget(u *Unit) string {
	if u.File != nil && u.File.Target != "" {
		return u.File.Target
	}
	if s.opts.DefaultTarget != "" {
		return s.opts.DefaultTarget
	}
	return DefaultTriple
}

func (s *Session) language(f *recfile.File) layout.Language {
	if s.opts.Language != "" {
		lang, _ := layout.ParseLanguage(s.opts.Language)
		return lang
	}
	return f.Language
}

// Engine builds a layout engine for the unit on the given target. Cached
// layouts are primed into it when the disk cache holds them.
func (s *Session) Engine(u *Unit, triple string) (*layout.Engine, error) {
	if u.File == nil {
		return nil, fmt.Errorf("%s: file was not loaded", u.Path)
	}
	tgt, err := layout.TargetByTriple(triple)
	if err != nil {
		return nil, err
	}
	lang := s.language(u.File)
	opts := []layout.Option{
		layout.WithLanguage(lang),
		layout.WithReporter(s.Reporter(u)),
		layout.WithLogger(s.log.With(zap.String("file", u.Path))),
	}
	if s.opts.MaxDepth > 0 {
		opts = append(opts, layout.WithMaxDepth(s.opts.MaxDepth))
	}
	e := layout.New(tgt, u.File.Arena, opts...)
	s.prime(u, e)
	return e, nil
}

func (s *Session) cacheKey(u *Unit, e *layout.Engine) dcache.Digest {
	return dcache.Key(dcache.KeyInput{
		Content:  u.File.Digest,
		Triple:   e.Target.Triple,
		Language: e.Language().String(),
		MaxDepth: s.opts.MaxDepth,
	})
}

// usesCache reports whether cached layouts may stand in for computed ones.
// Cached records emit no diagnostics, so padding notices bypass the cache.
func (s *Session) usesCache() bool {
	return s.opts.Cache != nil && !s.opts.WarnPadding
}

func (s *Session) prime(u *Unit, e *layout.Engine) {
	if !s.usesCache() {
		return
	}
	key := s.cacheKey(u, e)
	var p dcache.Payload
	ok, err := s.opts.Cache.Get(key, &p)
	if err != nil {
		s.log.Warn("layout cache read failed", zap.String("file", u.Path), zap.Error(err))
		return
	}
	if !ok {
		s.log.Debug("layout cache miss", zap.String("file", u.Path), zap.Stringer("key", key))
		return
	}
	n, err := p.Prime(e)
	if err != nil {
		s.log.Warn("stale layout cache entry", zap.String("file", u.Path), zap.Error(err))
		return
	}
	s.log.Debug("layout cache hit", zap.String("file", u.Path), zap.Int("records", n))
}

// Store writes the unit's layouts to the disk cache. Failures are reported
// as warnings on the unit.
func (s *Session) Store(u *Unit, e *layout.Engine) {
	if !s.usesCache() || u.File == nil {
		return
	}
	ids := make([]decl.RecordID, 0, len(u.File.Records))
	for i := range u.File.Records {
		ids = append(ids, u.File.Records[i].ID)
	}
	if err := s.opts.Cache.Put(s.cacheKey(u, e), dcache.Snapshot(e, ids)); err != nil {
		diag.ReportWarning(diag.BagReporter{Bag: u.Bag}, diag.IOCacheError, diag.Subject{File: u.Path},
			"failed to write layout cache: "+err.Error()).Emit()
	}
}

// Records resolves record names of a unit. An empty list selects every
// record in declaration order.
func (u *Unit) Records(names []string) ([]decl.RecordID, error) {
	if u.File == nil {
		return nil, nil
	}
	if len(names) == 0 {
		ids := make([]decl.RecordID, 0, len(u.File.Records))
		for i := range u.File.Records {
			ids = append(ids, u.File.Records[i].ID)
		}
		return ids, nil
	}
	ids := make([]decl.RecordID, 0, len(names))
	var missing []string
	for _, name := range names {
		rec, ok := u.File.Record(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		ids = append(ids, rec.ID)
	}
	if len(missing) > 0 {
		return ids, fmt.Errorf("%s: no record named %s", u.Path, strings.Join(missing, ", "))
	}
	return ids, nil
}
