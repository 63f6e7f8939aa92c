package layout

import (
	"go.uber.org/zap"

	"reclayout/internal/decl"
	"reclayout/internal/diag"
)

// VBaseInfo is the placement of a virtual base inside the most-derived object.
type VBaseInfo struct {
	Offset      int64 // bytes
	HasVtorDisp bool  // Microsoft ABI only
}

// RecordLayout is the ABI layout of a record for a specific Target.
// Sizes, alignments and base offsets are in bytes, field offsets in bits.
// A layout is shared between callers and must not be modified.
type RecordLayout struct {
	ABI ABI

	Size              int64
	Alignment         int64
	RequiredAlignment int64
	// DataSize is the size without tail padding other records may reuse.
	DataSize int64

	FieldOffsets []int64

	// C++ only:
	NonVirtualSize              int64
	NonVirtualAlignment         int64
	SizeOfLargestEmptySubobject int64
	PrimaryBase                 decl.RecordID
	PrimaryBaseIsVirtual        bool
	HasOwnVFPtr                 bool
	HasExtendableVFPtr          bool
	// VBPtrOffset is -1 when the record has no vbptr.
	VBPtrOffset             int64
	SharedVBPtrBase         decl.RecordID
	EndsWithZeroSizedObject bool
	LeadsWithZeroSizedBase  bool
	Bases                   map[decl.RecordID]int64
	VBases                  map[decl.RecordID]VBaseInfo
}

// FieldOffset returns the offset of field i in bits.
func (l *RecordLayout) FieldOffset(i int) int64 { return l.FieldOffsets[i] }

// FieldByteOffset returns the offset of field i rounded down to bytes.
func (l *RecordLayout) FieldByteOffset(i int) int64 { return l.FieldOffsets[i] / CharWidth }

// FieldCount returns the number of laid out fields.
func (l *RecordLayout) FieldCount() int { return len(l.FieldOffsets) }

// BaseClassOffset returns the offset of a direct non-virtual base.
func (l *RecordLayout) BaseClassOffset(base decl.RecordID) (int64, bool) {
	off, ok := l.Bases[base]
	return off, ok
}

// VBaseClassOffset returns the offset of a direct or indirect virtual base.
func (l *RecordLayout) VBaseClassOffset(base decl.RecordID) (int64, bool) {
	info, ok := l.VBases[base]
	return info.Offset, ok
}

// HasVBPtr reports whether the record carries its own virtual base table pointer.
func (l *RecordLayout) HasVBPtr() bool { return l.VBPtrOffset >= 0 }

// Language selects C or C++ layout rules.
type Language uint8

const (
	LanguageCXX Language = iota + 1
	LanguageC
)

func (l Language) String() string {
	if l == LanguageC {
		return "c"
	}
	return "c++"
}

// ParseLanguage accepts "c", "c++" and "cxx".
func ParseLanguage(s string) (Language, bool) {
	switch s {
	case "c", "C":
		return LanguageC, true
	case "c++", "cxx", "cpp", "C++", "":
		return LanguageCXX, true
	default:
		return 0, false
	}
}

// DefaultMaxDepth bounds record nesting through bases and by-value fields.
const DefaultMaxDepth = 512

type options struct {
	lang     Language
	reporter diag.Reporter
	logger   *zap.Logger
	maxDepth int
}

// Option configures an Engine.
type Option func(*options)

// WithLanguage selects C or C++ rules. The default is C++.
func WithLanguage(l Language) Option {
	return func(o *options) { o.lang = l }
}

// WithReporter receives padding and packing diagnostics.
func WithReporter(r diag.Reporter) Option {
	return func(o *options) { o.reporter = r }
}

// WithLogger enables debug logging of computed layouts.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMaxDepth overrides DefaultMaxDepth.
func WithMaxDepth(n int) Option {
	return func(o *options) { o.maxDepth = n }
}

// Engine computes and caches record layouts. It is safe for concurrent use
// once the declaration arena is fully populated.
type Engine struct {
	Target Target
	Decls  *decl.Arena

	opts     options
	strategy strategy
	log      *zap.Logger
	cache    *cache
}

// New creates a new Engine for the specified target.
func New(target Target, decls *decl.Arena, opts ...Option) *Engine {
	o := options{lang: LanguageCXX, maxDepth: DefaultMaxDepth}
	for _, opt := range opts {
		opt(&o)
	}
	if o.reporter == nil {
		o.reporter = diag.NopReporter{}
	}
	if o.maxDepth <= 0 {
		o.maxDepth = DefaultMaxDepth
	}
	log := o.logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		Target:   target,
		Decls:    decls,
		opts:     o,
		strategy: strategyFor(target.ABI),
		log:      log.Named("layout").With(zap.String("target", target.Triple)),
		cache:    newCache(),
	}
}

// Language reports the rules the engine lays records out with.
func (e *Engine) Language() Language { return e.opts.lang }

// ABI reports the layout algorithm selected by the target.
func (e *Engine) ABI() ABI { return e.strategy.abi() }

type layoutState struct {
	stack []decl.RecordID
	index map[decl.RecordID]int
}

func newLayoutState() *layoutState {
	return &layoutState{
		stack: nil,
		index: make(map[decl.RecordID]int, 32),
	}
}

// LayoutOf computes and caches the layout of a record.
func (e *Engine) LayoutOf(id decl.RecordID) (*RecordLayout, error) {
	l, err := e.layoutOf(id, newLayoutState())
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (e *Engine) layoutOf(id decl.RecordID, state *layoutState) (*RecordLayout, *LayoutError) {
	if cached, ok := e.cache.get(id); ok {
		return cached.Layout, cached.Err
	}

	if idx, ok := state.index[id]; ok {
		cycle := make([]string, 0, len(state.stack)-idx+1)
		for _, r := range state.stack[idx:] {
			cycle = append(cycle, e.Decls.RecordName(r))
		}
		cycle = append(cycle, e.Decls.RecordName(id))
		err := &LayoutError{
			Kind:   LayoutErrRecursive,
			Record: id,
			Name:   e.Decls.RecordName(id),
			Cycle:  cycle,
		}
		e.cache.put(id, cacheEntry{Err: err}, nil)
		return nil, err
	}
	if len(state.stack) >= e.opts.maxDepth {
		return nil, &LayoutError{
			Kind:   LayoutErrDepthExceeded,
			Record: id,
			Name:   e.Decls.RecordName(id),
			Depth:  e.opts.maxDepth,
		}
	}

	state.index[id] = len(state.stack)
	state.stack = append(state.stack, id)
	layout, deps, err := e.compute(id, state)
	state.stack = state.stack[:len(state.stack)-1]
	delete(state.index, id)

	if err != nil && err.Kind == LayoutErrDepthExceeded {
		// Depth depends on where the walk started; do not pin it to id.
		return nil, err
	}
	stored := e.cache.put(id, cacheEntry{Layout: layout, Err: err}, deps)
	if stored.Err == nil && stored.Layout == layout && layout != nil {
		e.log.Debug("record laid out",
			zap.String("record", e.Decls.RecordName(id)),
			zap.Int64("size", layout.Size),
			zap.Int64("align", layout.Alignment),
			zap.Int64("dsize", layout.DataSize),
			zap.Int("fields", len(layout.FieldOffsets)),
		)
	}
	return stored.Layout, stored.Err
}

// SizeOf returns the size of a record in bytes.
func (e *Engine) SizeOf(id decl.RecordID) (int64, error) {
	l, err := e.LayoutOf(id)
	if err != nil {
		return 0, err
	}
	return l.Size, nil
}

// AlignOf returns the alignment of a record in bytes.
func (e *Engine) AlignOf(id decl.RecordID) (int64, error) {
	l, err := e.LayoutOf(id)
	if err != nil {
		return 0, err
	}
	return l.Alignment, nil
}

// FieldOffset returns the bit offset of a record field.
func (e *Engine) FieldOffset(id decl.RecordID, fieldIdx int) (int64, error) {
	l, err := e.LayoutOf(id)
	if err != nil {
		return 0, err
	}
	if fieldIdx < 0 || fieldIdx >= len(l.FieldOffsets) {
		return 0, e.invalid(id, "field index %d out of range", fieldIdx)
	}
	return l.FieldOffsets[fieldIdx], nil
}

// BaseClassOffset returns the byte offset of a direct non-virtual base.
func (e *Engine) BaseClassOffset(id, base decl.RecordID) (int64, error) {
	l, err := e.LayoutOf(id)
	if err != nil {
		return 0, err
	}
	off, ok := l.BaseClassOffset(base)
	if !ok {
		return 0, e.invalid(id, "'%s' is not a direct non-virtual base", e.Decls.RecordName(base))
	}
	return off, nil
}

// VBaseClassOffset returns the byte offset of a virtual base.
func (e *Engine) VBaseClassOffset(id, base decl.RecordID) (int64, error) {
	l, err := e.LayoutOf(id)
	if err != nil {
		return 0, err
	}
	off, ok := l.VBaseClassOffset(base)
	if !ok {
		return 0, e.invalid(id, "'%s' is not a virtual base", e.Decls.RecordName(base))
	}
	return off, nil
}

// Cached returns a previously computed layout without computing anything.
func (e *Engine) Cached(id decl.RecordID) (*RecordLayout, bool) {
	entry, ok := e.cache.get(id)
	if !ok || entry.Err != nil {
		return nil, false
	}
	return entry.Layout, true
}

// Prime stores an externally obtained layout, e.g. one read from disk.
// An already cached entry is kept.
func (e *Engine) Prime(id decl.RecordID, l *RecordLayout, deps []decl.RecordID) {
	if l == nil {
		return
	}
	e.cache.put(id, cacheEntry{Layout: l}, deps)
}

// Invalidate discards the cached layout of a record and of every record
// whose layout was derived from it. Call it after decl.Arena.Update.
func (e *Engine) Invalidate(id decl.RecordID) {
	n := e.cache.invalidate(id)
	e.log.Debug("layout invalidated", zap.String("record", e.Decls.RecordName(id)), zap.Int("dropped", n))
}

// Reset discards every cached layout.
func (e *Engine) Reset() { e.cache.reset() }

// CachedCount returns the number of cached entries, errors included.
func (e *Engine) CachedCount() int { return e.cache.len() }
