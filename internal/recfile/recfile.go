// Package recfile loads record declarations from TOML files into a
// decl.Arena.
package recfile

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"strings"

	"fortio.org/safecast"
	"github.com/BurntSushi/toml"

	"reclayout/internal/decl"
	"reclayout/internal/diag"
	"reclayout/internal/layout"
)

// File is a loaded declaration file.
type File struct {
	Path     string
	Digest   [sha256.Size]byte
	Language layout.Language
	// Target is the file's preferred target triple, empty when unset.
	Target  string
	Arena   *decl.Arena
	Records []Record

	byName map[string]int
}

// Record is a declared record together with its source position.
type Record struct {
	ID     decl.RecordID
	Name   string
	Line   int
	Expect *Expect

	fieldLines map[string]int
}

// Expect is an expected layout from a [record.expect] table. Nil pointers
// and maps mean "not checked".
type Expect struct {
	Target string
	Line   int
	Size   *int64
	Align  *int64
	// Fields are bit offsets in declaration order.
	Fields []int64
	Bases  map[string]int64
	VBases map[string]int64
}

type fileDoc struct {
	Language string      `toml:"language"`
	Target   string      `toml:"target"`
	Enums    []enumDoc   `toml:"enum"`
	Records  []recordDoc `toml:"record"`
}

type enumDoc struct {
	Name       string `toml:"name"`
	Underlying string `toml:"underlying"`
}

type recordDoc struct {
	Name       string      `toml:"name"`
	Kind       string      `toml:"kind"`
	Packed     bool        `toml:"packed"`
	Align      int64       `toml:"align"`
	Pack       int64       `toml:"pack"`
	MsStruct   bool        `toml:"ms_struct"`
	Mac68k     bool        `toml:"mac68k"`
	VtorDisp   string      `toml:"vtordisp"`
	EmptyBases bool        `toml:"empty_bases"`
	UserCtor   bool        `toml:"user_ctor"`
	UserDtor   bool        `toml:"user_dtor"`
	Bases      []baseDoc   `toml:"base"`
	Fields     []fieldDoc  `toml:"field"`
	Methods    []methodDoc `toml:"method"`
	Expect     *expectDoc  `toml:"expect"`
}

type baseDoc struct {
	Name    string `toml:"name"`
	Virtual bool   `toml:"virtual"`
}

type fieldDoc struct {
	Name   string `toml:"name"`
	Type   string `toml:"type"`
	Bits   *int64 `toml:"bits"`
	Packed bool   `toml:"packed"`
	Align  int64  `toml:"align"`
	Access string `toml:"access"`
}

type methodDoc struct {
	Name       string   `toml:"name"`
	Virtual    bool     `toml:"virtual"`
	Pure       bool     `toml:"pure"`
	Destructor bool     `toml:"destructor"`
	Overrides  []string `toml:"overrides"`
}

type expectDoc struct {
	Target string           `toml:"target"`
	Size   *int64           `toml:"size"`
	Align  *int64           `toml:"align"`
	Fields []int64          `toml:"fields"`
	Bases  map[string]int64 `toml:"bases"`
	VBases map[string]int64 `toml:"vbases"`
}

// Load reads and parses a declaration file.
func Load(path string, r diag.Reporter) (*File, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		if r != nil {
			r.Report(diag.IOLoadFileError, diag.SevError, diag.Subject{File: path}, err.Error(), nil)
		}
		return nil, fmt.Errorf("%s: failed to read: %w", path, err)
	}
	return Parse(path, src, r)
}

// Parse builds a declaration file from TOML source. Problems are reported to
// r with file and line; the returned error summarises them.
func Parse(path string, src []byte, r diag.Reporter) (*File, error) {
	if r == nil {
		r = diag.NopReporter{}
	}
	var doc fileDoc
	meta, err := toml.Decode(string(src), &doc)
	if err != nil {
		sub := diag.Subject{File: path}
		msg := err.Error()
		var perr toml.ParseError
		if errors.As(err, &perr) {
			sub.Line = perr.Position.Line
			msg = perr.Message
		}
		r.Report(diag.DeclParseError, diag.SevError, sub, msg, nil)
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	doc.canonicalize()

	l := &loader{
		path:    path,
		r:       r,
		doc:     &doc,
		lines:   scanLines(src),
		records: make(map[string]decl.RecordID, len(doc.Records)),
		docs:    make(map[string]*recordDoc, len(doc.Records)),
		enums:   make(map[string]decl.EnumID, len(doc.Enums)),
	}
	for _, key := range meta.Undecoded() {
		l.warn(diag.DeclInvalidAttr, diag.Subject{File: path}, fmt.Sprintf("unknown key '%s'", key.String()))
	}

	f := &File{
		Path:   path,
		Digest: sha256.Sum256(src),
		Target: strings.TrimSpace(doc.Target),
		byName: make(map[string]int, len(doc.Records)),
	}
	lang, ok := layout.ParseLanguage(strings.TrimSpace(doc.Language))
	if !ok {
		l.errorf(diag.DeclInvalidAttr, diag.Subject{File: path}, "unknown language %q (want c or c++)", doc.Language)
		lang = layout.LanguageCXX
	}
	f.Language = lang
	f.Arena = l.build(f)

	if l.errors > 0 {
		return nil, fmt.Errorf("%s: %d invalid declaration(s)", path, l.errors)
	}
	return f, nil
}

// Record returns the named record.
func (f *File) Record(name string) (*Record, bool) {
	i, ok := f.byName[canonName(name)]
	if !ok {
		return nil, false
	}
	return &f.Records[i], true
}

// Locate resolves a record and optional member to a file position.
func (f *File) Locate(record, field string) diag.Subject {
	sub := diag.Subject{File: f.Path, Record: record, Field: field}
	rec, ok := f.Record(record)
	if !ok {
		return sub
	}
	sub.Line = rec.Line
	if line, ok := rec.fieldLines[canonName(field)]; ok && field != "" {
		sub.Line = line
	}
	return sub
}

type loader struct {
	path    string
	r       diag.Reporter
	doc     *fileDoc
	lines   recordLines
	records map[string]decl.RecordID
	docs    map[string]*recordDoc
	enums   map[string]decl.EnumID
	errors  int
}

func (l *loader) errorf(code diag.Code, sub diag.Subject, format string, args ...any) {
	l.errors++
	l.r.Report(code, diag.SevError, sub, fmt.Sprintf(format, args...), nil)
}

func (l *loader) warn(code diag.Code, sub diag.Subject, msg string) {
	l.r.Report(code, diag.SevWarning, sub, msg, nil)
}

func (l *loader) subject(ri int, rec string, line int) diag.Subject {
	if line == 0 {
		line = at(l.lines.record, ri)
	}
	return diag.Subject{File: l.path, Line: line, Record: rec}
}

func (l *loader) build(f *File) *decl.Arena {
	a := decl.NewArena()

	for i, e := range l.doc.Enums {
		sub := diag.Subject{File: l.path, Line: at(l.lines.enum, i), Record: e.Name}
		if e.Name == "" {
			l.errorf(diag.DeclInvalidAttr, sub, "enum without a name")
			continue
		}
		underlying := strings.TrimSpace(e.Underlying)
		if underlying == "" {
			underlying = "int"
		}
		b, ok := decl.BuiltinByName(underlying)
		if !ok || !b.IsIntegral() {
			l.errorf(diag.DeclUnknownType, sub, "enum '%s' has invalid underlying type '%s'", e.Name, underlying)
			continue
		}
		if _, dup := l.enums[e.Name]; dup {
			l.errorf(diag.DeclDuplicateRecord, sub, "enum '%s' redefined", e.Name)
			continue
		}
		l.enums[e.Name] = a.NewEnum(e.Name, b)
	}

	// Declare every record first so types may refer forward.
	ids := make([]decl.RecordID, len(l.doc.Records))
	for i := range l.doc.Records {
		rd := &l.doc.Records[i]
		sub := l.subject(i, rd.Name, 0)
		tag, ok := parseTag(rd.Kind)
		if !ok {
			l.errorf(diag.DeclInvalidAttr, sub, "unknown record kind %q", rd.Kind)
		}
		if rd.Name != "" {
			if _, dup := l.records[rd.Name]; dup {
				l.errorf(diag.DeclDuplicateRecord, sub, "record '%s' redefined", rd.Name)
				continue
			}
		}
		ids[i] = a.NewRecord(rd.Name, tag)
		if rd.Name != "" {
			l.records[rd.Name] = ids[i]
			l.docs[rd.Name] = rd
		}
	}

	types := &typeResolver{arena: a, records: l.records, enums: l.enums}
	for i := range l.doc.Records {
		if ids[i] == decl.NoRecordID {
			continue
		}
		rd := &l.doc.Records[i]
		rec := l.buildRecord(i, rd, types)
		a.Define(ids[i], rec)

		out := Record{ID: ids[i], Name: a.RecordName(ids[i]), Line: at(l.lines.record, i), fieldLines: make(map[string]int, len(rd.Fields))}
		for j, fd := range rd.Fields {
			if fd.Name != "" {
				out.fieldLines[fd.Name] = at2(l.lines.field, i, j)
			}
		}
		if rd.Expect != nil {
			out.Expect = &Expect{
				Target: strings.TrimSpace(rd.Expect.Target),
				Line:   at(l.lines.expect, i),
				Size:   rd.Expect.Size,
				Align:  rd.Expect.Align,
				Fields: rd.Expect.Fields,
				Bases:  rd.Expect.Bases,
				VBases: rd.Expect.VBases,
			}
			l.checkExpect(i, rd, out.Expect)
		}
		f.byName[out.Name] = len(f.Records)
		f.Records = append(f.Records, out)
	}
	return a
}

func (l *loader) buildRecord(ri int, rd *recordDoc, types *typeResolver) decl.Record {
	sub := l.subject(ri, rd.Name, 0)
	tag, _ := parseTag(rd.Kind)
	rec := decl.Record{
		Name:             rd.Name,
		Tag:              tag,
		UserDeclaredCtor: rd.UserCtor,
		UserDeclaredDtor: rd.UserDtor,
		Attrs: decl.RecordAttrs{
			Packed:     rd.Packed,
			MsStruct:   rd.MsStruct,
			Mac68k:     rd.Mac68k,
			EmptyBases: rd.EmptyBases,
		},
	}
	if rd.Align < 0 {
		l.errorf(diag.DeclInvalidAttr, sub, "negative alignment %d", rd.Align)
	} else {
		rec.Attrs.Align = rd.Align
	}
	if rd.Pack < 0 {
		l.errorf(diag.DeclInvalidAttr, sub, "negative pack %d", rd.Pack)
	} else {
		rec.Attrs.MaxFieldAlign = rd.Pack
	}
	mode, ok := parseVtorDisp(rd.VtorDisp)
	if !ok {
		l.errorf(diag.DeclInvalidAttr, sub, "unknown vtordisp mode %q", rd.VtorDisp)
	}
	rec.Attrs.VtorDisp = mode

	seenBases := make(map[decl.RecordID]struct{}, len(rd.Bases))
	for j, bd := range rd.Bases {
		bsub := l.subject(ri, rd.Name, at2(l.lines.base, ri, j))
		id, ok := l.records[bd.Name]
		if !ok {
			l.errorf(diag.DeclUnknownRecord, bsub, "unknown base '%s'", bd.Name)
			continue
		}
		if bd.Name == rd.Name {
			l.errorf(diag.DeclInvalidBase, bsub, "record '%s' derives from itself", rd.Name)
			continue
		}
		if _, dup := seenBases[id]; dup {
			l.errorf(diag.DeclInvalidBase, bsub, "'%s' is a direct base more than once", bd.Name)
			continue
		}
		seenBases[id] = struct{}{}
		rec.Bases = append(rec.Bases, decl.Base{Record: id, Virtual: bd.Virtual})
	}

	for j := range rd.Fields {
		fd := &rd.Fields[j]
		fsub := l.subject(ri, rd.Name, at2(l.lines.field, ri, j))
		fsub.Field = fd.Name
		field, ok := l.buildField(fd, fsub, tag, types)
		if ok {
			rec.Fields = append(rec.Fields, field)
		}
	}

	for j := range rd.Methods {
		md := &rd.Methods[j]
		msub := l.subject(ri, rd.Name, at2(l.lines.method, ri, j))
		m := decl.Method{Name: md.Name, Virtual: md.Virtual, Pure: md.Pure, Destructor: md.Destructor}
		for _, o := range md.Overrides {
			ref, err := l.resolveOverride(rd, md.Name, o)
			if err != nil {
				l.errorf(diag.DeclUnknownMethod, msub, "%v", err)
				continue
			}
			m.Overrides = append(m.Overrides, ref)
		}
		rec.Methods = append(rec.Methods, m)
	}
	return rec
}

func (l *loader) buildField(fd *fieldDoc, sub diag.Subject, tag decl.TagKind, types *typeResolver) (decl.Field, bool) {
	ty, err := types.resolve(fd.Type)
	if err != nil {
		code := diag.DeclUnknownType
		var unk *unknownTypeError
		if errors.As(err, &unk) && unk.record {
			code = diag.DeclUnknownRecord
		}
		l.errorf(code, sub, "%v", err)
		return decl.Field{}, false
	}
	access, ok := parseAccess(fd.Access, tag)
	if !ok {
		l.errorf(diag.DeclInvalidAttr, sub, "unknown access %q", fd.Access)
	}
	field := decl.Field{Name: fd.Name, Type: ty, Packed: fd.Packed, Access: access}
	if fd.Align < 0 {
		l.errorf(diag.DeclInvalidAttr, sub, "negative alignment %d", fd.Align)
	} else {
		field.Align = fd.Align
	}
	if fd.Bits != nil {
		w, err := safecast.Conv[uint32](*fd.Bits)
		if err != nil {
			l.errorf(diag.DeclInvalidAttr, sub, "invalid bitfield width %d: %v", *fd.Bits, err)
			return decl.Field{}, false
		}
		field.Bitfield = true
		field.Width = w
	}
	return field, true
}

// resolveOverride accepts "Base::name", or a bare "name" looked up through
// the record's bases depth-first.
func (l *loader) resolveOverride(rd *recordDoc, method, sig string) (decl.MethodRef, error) {
	sig = strings.TrimSpace(sig)
	if owner, name, ok := strings.Cut(sig, "::"); ok {
		bd, found := l.docs[owner]
		if !found {
			return decl.MethodRef{}, fmt.Errorf("method '%s' overrides '%s' of unknown record '%s'", method, sig, owner)
		}
		for i := range bd.Methods {
			if bd.Methods[i].Name == name {
				return decl.MethodRef{Record: l.records[owner], Index: i}, nil
			}
		}
		return decl.MethodRef{}, fmt.Errorf("method '%s' overrides unknown method '%s'", method, sig)
	}
	seen := make(map[string]struct{}, 4)
	if ref, ok := l.findInBases(rd, sig, seen); ok {
		return ref, nil
	}
	return decl.MethodRef{}, fmt.Errorf("method '%s' overrides '%s', which no base declares", method, sig)
}

func (l *loader) findInBases(rd *recordDoc, name string, seen map[string]struct{}) (decl.MethodRef, bool) {
	for _, b := range rd.Bases {
		if _, ok := seen[b.Name]; ok {
			continue
		}
		seen[b.Name] = struct{}{}
		bd, ok := l.docs[b.Name]
		if !ok {
			continue
		}
		for i := range bd.Methods {
			if bd.Methods[i].Name == name {
				return decl.MethodRef{Record: l.records[b.Name], Index: i}, true
			}
		}
		if ref, ok := l.findInBases(bd, name, seen); ok {
			return ref, true
		}
	}
	return decl.MethodRef{}, false
}

func (l *loader) checkExpect(ri int, rd *recordDoc, e *Expect) {
	sub := l.subject(ri, rd.Name, e.Line)
	for name := range e.Bases {
		if _, ok := l.records[name]; !ok {
			l.errorf(diag.DeclUnknownRecord, sub, "expected base '%s' is not declared", name)
		}
	}
	for name := range e.VBases {
		if _, ok := l.records[name]; !ok {
			l.errorf(diag.DeclUnknownRecord, sub, "expected virtual base '%s' is not declared", name)
		}
	}
	if e.Fields != nil && len(e.Fields) != len(rd.Fields) {
		l.errorf(diag.DeclInvalidAttr, sub, "expected %d field offsets, record declares %d fields", len(e.Fields), len(rd.Fields))
	}
}

func parseTag(s string) (decl.TagKind, bool) {
	switch strings.TrimSpace(s) {
	case "", "struct":
		return decl.TagStruct, true
	case "class":
		return decl.TagClass, true
	case "union":
		return decl.TagUnion, true
	default:
		return decl.TagStruct, false
	}
}

func parseVtorDisp(s string) (decl.VtorDispMode, bool) {
	switch strings.TrimSpace(s) {
	case "", "vbase-override", "1":
		return decl.VtorDispForVBaseOverride, true
	case "never", "0":
		return decl.VtorDispNever, true
	case "vftable", "2":
		return decl.VtorDispForVFTable, true
	default:
		return decl.VtorDispForVBaseOverride, false
	}
}

// parseAccess defaults to private inside a class, like C++ does.
func parseAccess(s string, tag decl.TagKind) (decl.Access, bool) {
	switch strings.TrimSpace(s) {
	case "":
		if tag == decl.TagClass {
			return decl.AccessPrivate, true
		}
		return decl.AccessPublic, true
	case "public":
		return decl.AccessPublic, true
	case "protected":
		return decl.AccessProtected, true
	case "private":
		return decl.AccessPrivate, true
	default:
		return decl.AccessPublic, false
	}
}
