package dcache

import (
	"fmt"

	"reclayout/internal/decl"
	"reclayout/internal/layout"
	"reclayout/internal/version"
)

// Payload is the cached layout set of one declaration file.
type Payload struct {
	// Schema guards against reading entries of another engine version.
	Schema uint16
	Target string
	// Records are keyed by name: anonymous records get deterministic names
	// from the arena, and the key pins the file content.
	Records []RecordPayload
}

// RecordPayload mirrors layout.RecordLayout with names instead of IDs.
type RecordPayload struct {
	Name string
	ABI  uint8

	Size              int64
	Alignment         int64
	RequiredAlignment int64
	DataSize          int64
	FieldOffsets      []int64

	NonVirtualSize              int64
	NonVirtualAlignment         int64
	SizeOfLargestEmptySubobject int64
	PrimaryBase                 string
	PrimaryBaseIsVirtual        bool
	HasOwnVFPtr                 bool
	HasExtendableVFPtr          bool
	VBPtrOffset                 int64
	SharedVBPtrBase             string
	EndsWithZeroSizedObject     bool
	LeadsWithZeroSizedBase      bool

	Bases  map[string]int64
	VBases map[string]VBasePayload
}

// VBasePayload mirrors layout.VBaseInfo.
type VBasePayload struct {
	Offset      int64
	HasVtorDisp bool
}

// Snapshot captures the layouts of ids. Records that fail to lay out are
// left out; they are recomputed, and reported, on every run.
func Snapshot(e *layout.Engine, ids []decl.RecordID) *Payload {
	p := &Payload{Schema: version.LayoutSchema, Target: e.Target.Triple, Records: make([]RecordPayload, 0, len(ids))}
	decls := e.Decls
	name := func(id decl.RecordID) string {
		if id == decl.NoRecordID {
			return ""
		}
		return decls.RecordName(id)
	}
	for _, id := range ids {
		l, err := e.LayoutOf(id)
		if err != nil {
			continue
		}
		rp := RecordPayload{
			Name:                        decls.RecordName(id),
			ABI:                         uint8(l.ABI),
			Size:                        l.Size,
			Alignment:                   l.Alignment,
			RequiredAlignment:           l.RequiredAlignment,
			DataSize:                    l.DataSize,
			FieldOffsets:                l.FieldOffsets,
			NonVirtualSize:              l.NonVirtualSize,
			NonVirtualAlignment:         l.NonVirtualAlignment,
			SizeOfLargestEmptySubobject: l.SizeOfLargestEmptySubobject,
			PrimaryBase:                 name(l.PrimaryBase),
			PrimaryBaseIsVirtual:        l.PrimaryBaseIsVirtual,
			HasOwnVFPtr:                 l.HasOwnVFPtr,
			HasExtendableVFPtr:          l.HasExtendableVFPtr,
			VBPtrOffset:                 l.VBPtrOffset,
			SharedVBPtrBase:             name(l.SharedVBPtrBase),
			EndsWithZeroSizedObject:     l.EndsWithZeroSizedObject,
			LeadsWithZeroSizedBase:      l.LeadsWithZeroSizedBase,
		}
		if len(l.Bases) > 0 {
			rp.Bases = make(map[string]int64, len(l.Bases))
			for b, off := range l.Bases {
				rp.Bases[name(b)] = off
			}
		}
		if len(l.VBases) > 0 {
			rp.VBases = make(map[string]VBasePayload, len(l.VBases))
			for b, info := range l.VBases {
				rp.VBases[name(b)] = VBasePayload{Offset: info.Offset, HasVtorDisp: info.HasVtorDisp}
			}
		}
		p.Records = append(p.Records, rp)
	}
	return p
}

// Prime loads the payload into the engine cache and returns the number of
// primed records. Another schema, another target, or names unknown to the
// engine's arena make the payload stale, reported as an error.
func (p *Payload) Prime(e *layout.Engine) (int, error) {
	if p.Schema != version.LayoutSchema {
		return 0, fmt.Errorf("cached layouts use schema %d, engine uses %d", p.Schema, version.LayoutSchema)
	}
	if p.Target != e.Target.Triple {
		return 0, fmt.Errorf("cached layouts are for %s, engine targets %s", p.Target, e.Target.Triple)
	}
	decls := e.Decls
	lookup := func(name string) (decl.RecordID, error) {
		if name == "" {
			return decl.NoRecordID, nil
		}
		id, ok := decls.RecordByName(name)
		if !ok {
			id, ok = anonymousByName(decls, name)
		}
		if !ok {
			return decl.NoRecordID, fmt.Errorf("cached record '%s' is not declared", name)
		}
		return id, nil
	}

	type primed struct {
		id decl.RecordID
		l  *layout.RecordLayout
	}
	out := make([]primed, 0, len(p.Records))
	for i := range p.Records {
		rp := &p.Records[i]
		id, err := lookup(rp.Name)
		if err != nil {
			return 0, err
		}
		if got := len(decls.MustRecord(id).Fields); got != len(rp.FieldOffsets) {
			return 0, fmt.Errorf("cached record '%s' has %d fields, declaration has %d", rp.Name, len(rp.FieldOffsets), got)
		}
		l := &layout.RecordLayout{
			ABI:                         layout.ABI(rp.ABI),
			Size:                        rp.Size,
			Alignment:                   rp.Alignment,
			RequiredAlignment:           rp.RequiredAlignment,
			DataSize:                    rp.DataSize,
			FieldOffsets:                rp.FieldOffsets,
			NonVirtualSize:              rp.NonVirtualSize,
			NonVirtualAlignment:         rp.NonVirtualAlignment,
			SizeOfLargestEmptySubobject: rp.SizeOfLargestEmptySubobject,
			PrimaryBaseIsVirtual:        rp.PrimaryBaseIsVirtual,
			HasOwnVFPtr:                 rp.HasOwnVFPtr,
			HasExtendableVFPtr:          rp.HasExtendableVFPtr,
			VBPtrOffset:                 rp.VBPtrOffset,
			EndsWithZeroSizedObject:     rp.EndsWithZeroSizedObject,
			LeadsWithZeroSizedBase:      rp.LeadsWithZeroSizedBase,
		}
		if l.PrimaryBase, err = lookup(rp.PrimaryBase); err != nil {
			return 0, err
		}
		if l.SharedVBPtrBase, err = lookup(rp.SharedVBPtrBase); err != nil {
			return 0, err
		}
		if l.FieldOffsets == nil {
			l.FieldOffsets = []int64{}
		}
		l.Bases = make(map[decl.RecordID]int64, len(rp.Bases))
		for name, off := range rp.Bases {
			bid, err := lookup(name)
			if err != nil {
				return 0, err
			}
			l.Bases[bid] = off
		}
		l.VBases = make(map[decl.RecordID]layout.VBaseInfo, len(rp.VBases))
		for name, info := range rp.VBases {
			bid, err := lookup(name)
			if err != nil {
				return 0, err
			}
			l.VBases[bid] = layout.VBaseInfo{Offset: info.Offset, HasVtorDisp: info.HasVtorDisp}
		}
		out = append(out, primed{id: id, l: l})
	}
	// Validate everything before touching the engine.
	for _, pr := range out {
		e.Prime(pr.id, pr.l, nil)
	}
	return len(out), nil
}

func anonymousByName(decls *decl.Arena, name string) (decl.RecordID, bool) {
	for _, id := range decls.Records() {
		if decls.RecordName(id) == name {
			return id, true
		}
	}
	return decl.NoRecordID, false
}
