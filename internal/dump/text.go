// Package dump renders computed record layouts.
package dump

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"

	"reclayout/internal/decl"
	"reclayout/internal/layout"
)

// Options controls text rendering.
type Options struct {
	Color bool
}

type palette struct {
	offset func(a ...interface{}) string
	name   func(a ...interface{}) string
	note   func(a ...interface{}) string
	size   func(a ...interface{}) string
}

func newPalette(enabled bool) palette {
	mk := func(attrs ...color.Attribute) func(a ...interface{}) string {
		c := color.New(attrs...)
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	return palette{
		offset: mk(color.FgCyan),
		name:   mk(color.Bold),
		note:   mk(color.FgYellow),
		size:   mk(color.FgGreen),
	}
}

// Text writes a record layout the way clang's -fdump-record-layouts does.
func Text(w io.Writer, e *layout.Engine, id decl.RecordID, opts Options) error {
	if _, err := e.LayoutOf(id); err != nil {
		return err
	}
	p := &textPrinter{e: e, pal: newPalette(opts.Color)}
	p.b.WriteString("\n*** Dumping AST Record Layout\n")
	if err := p.record(id, 0, 0, "", true, true); err != nil {
		return err
	}
	_, err := io.WriteString(w, p.b.String())
	return err
}

type textPrinter struct {
	e   *layout.Engine
	pal palette
	b   strings.Builder
}

func (p *textPrinter) offsetLine(off int64, indent int) {
	p.b.WriteString(p.pal.offset(fmt.Sprintf("%10d", off)))
	p.b.WriteString(" | ")
	p.b.WriteString(strings.Repeat("  ", indent))
}

func (p *textPrinter) bitfieldLine(off, bit, width int64, indent int) {
	var s string
	if width == 0 {
		s = fmt.Sprintf("%d:%d-", off, bit)
	} else {
		s = fmt.Sprintf("%d:%d-%d", off, bit, bit+width-1)
	}
	p.b.WriteString(p.pal.offset(fmt.Sprintf("%10s", s)))
	p.b.WriteString(" | ")
	p.b.WriteString(strings.Repeat("  ", indent))
}

func (p *textPrinter) noOffsetLine(indent int) {
	p.b.WriteString(fmt.Sprintf("%10s | ", ""))
	p.b.WriteString(strings.Repeat("  ", indent))
}

func (p *textPrinter) record(id decl.RecordID, off int64, indent int, desc string, sizeInfo, vbases bool) error {
	l, err := p.e.LayoutOf(id)
	if err != nil {
		return err
	}
	decls := p.e.Decls
	rec := decls.MustRecord(id)
	cxx := p.e.Language() == layout.LanguageCXX
	ms := l.ABI == layout.ABIMicrosoft

	p.offsetLine(off, indent)
	p.b.WriteString(p.pal.name(rec.Tag.String() + " " + decls.RecordName(id)))
	if desc != "" {
		p.b.WriteByte(' ')
		p.b.WriteString(desc)
	}
	p.b.WriteByte('\n')
	indent++

	if cxx {
		if ms {
			if l.HasOwnVFPtr {
				p.offsetLine(off, indent)
				p.b.WriteString(p.pal.note(fmt.Sprintf("(%s vftable pointer)", decls.RecordName(id))))
				p.b.WriteByte('\n')
			}
		} else if decls.IsDynamic(id) && l.PrimaryBase == decl.NoRecordID {
			p.offsetLine(off, indent)
			p.b.WriteString(p.pal.note(fmt.Sprintf("(%s vtable pointer)", decls.RecordName(id))))
			p.b.WriteByte('\n')
		}

		for _, b := range sortedBases(rec, l) {
			d := "(base)"
			if b == l.PrimaryBase && !l.PrimaryBaseIsVirtual {
				d = "(primary base)"
			}
			if err := p.record(b, off+l.Bases[b], indent, d, false, false); err != nil {
				return err
			}
		}

		if ms && l.HasVBPtr() && l.SharedVBPtrBase == decl.NoRecordID {
			p.offsetLine(off+l.VBPtrOffset, indent)
			p.b.WriteString(p.pal.note(fmt.Sprintf("(%s vbtable pointer)", decls.RecordName(id))))
			p.b.WriteByte('\n')
		}
	}

	for i := range rec.Fields {
		if err := p.field(rec, l, i, off, indent); err != nil {
			return err
		}
	}

	if cxx && vbases {
		for _, vb := range decls.VirtualBases(id) {
			info, ok := l.VBases[vb]
			if !ok {
				continue
			}
			if ms && info.HasVtorDisp {
				p.offsetLine(off+info.Offset-4, indent)
				p.b.WriteString(p.pal.note(fmt.Sprintf("(vtordisp for vbase %s)", decls.RecordName(vb))))
				p.b.WriteByte('\n')
			}
			d := "(virtual base)"
			if vb == l.PrimaryBase && l.PrimaryBaseIsVirtual {
				d = "(primary virtual base)"
			}
			if err := p.record(vb, off+info.Offset, indent, d, false, false); err != nil {
				return err
			}
		}
	}

	if !sizeInfo {
		return nil
	}
	p.noOffsetLine(indent - 1)
	fmt.Fprintf(&p.b, "[sizeof=%s", p.pal.size(l.Size))
	if cxx && !ms {
		fmt.Fprintf(&p.b, ", dsize=%d", l.DataSize)
	}
	fmt.Fprintf(&p.b, ", align=%d", l.Alignment)
	if cxx {
		p.b.WriteString(",\n")
		p.noOffsetLine(indent - 1)
		fmt.Fprintf(&p.b, " nvsize=%d, nvalign=%d", l.NonVirtualSize, l.NonVirtualAlignment)
	}
	p.b.WriteString("]\n")
	return nil
}

func (p *textPrinter) field(rec *decl.Record, l *layout.RecordLayout, i int, off int64, indent int) error {
	decls := p.e.Decls
	f := &rec.Fields[i]
	bits := l.FieldOffsets[i]
	fieldOff := off + bits/layout.CharWidth

	if rid, ok := decls.AsRecord(f.Type); ok && !f.Bitfield {
		return p.record(rid, fieldOff, indent, f.Name, false, true)
	}
	if f.Bitfield {
		p.bitfieldLine(fieldOff, bits%layout.CharWidth, int64(f.Width), indent)
	} else {
		p.offsetLine(fieldOff, indent)
	}
	p.b.WriteString(decls.TypeString(f.Type))
	if f.Name != "" {
		p.b.WriteByte(' ')
		p.b.WriteString(f.Name)
	}
	p.b.WriteByte('\n')
	return nil
}

// sortedBases returns the direct non-virtual bases by offset, declaration
// order breaking ties.
func sortedBases(rec *decl.Record, l *layout.RecordLayout) []decl.RecordID {
	out := make([]decl.RecordID, 0, len(rec.Bases))
	for _, b := range rec.Bases {
		if b.Virtual {
			continue
		}
		if _, ok := l.Bases[b.Record]; ok {
			out = append(out, b.Record)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return l.Bases[out[i]] < l.Bases[out[j]] })
	return out
}
