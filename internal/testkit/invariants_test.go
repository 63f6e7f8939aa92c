package testkit

import (
	"strings"
	"testing"

	"reclayout/internal/decl"
	"reclayout/internal/layout"
)

func sampleArena() *decl.Arena {
	a := decl.NewArena()
	def := func(name string, rec decl.Record) decl.RecordID {
		id := a.NewRecord(name, rec.Tag)
		a.Define(id, rec)
		return id
	}
	c, i, d := a.Builtin(decl.Char), a.Builtin(decl.Int), a.Builtin(decl.Double)

	empty := def("Empty", decl.Record{Tag: decl.TagStruct})
	def("Scalars", decl.Record{Tag: decl.TagStruct, Fields: []decl.Field{
		{Name: "c", Type: c}, {Name: "d", Type: d}, {Name: "i", Type: i},
	}})
	def("Bits", decl.Record{Tag: decl.TagStruct, Fields: []decl.Field{
		{Name: "a", Type: i, Bitfield: true, Width: 3},
		{Name: "b", Type: c, Bitfield: true, Width: 7},
		{Type: i, Bitfield: true},
		{Name: "c", Type: i, Bitfield: true, Width: 20},
	}})
	def("U", decl.Record{Tag: decl.TagUnion, Fields: []decl.Field{
		{Name: "c", Type: a.ArrayOf(c, 5)}, {Name: "i", Type: i},
	}})
	poly := def("Poly", decl.Record{Tag: decl.TagStruct,
		Fields:  []decl.Field{{Name: "x", Type: i}},
		Methods: []decl.Method{{Name: "f", Virtual: true}},
	})
	def("Derived", decl.Record{Tag: decl.TagStruct,
		Bases:  []decl.Base{{Record: empty}, {Record: poly}},
		Fields: []decl.Field{{Name: "c", Type: c}},
	})
	def("Diamond", decl.Record{Tag: decl.TagStruct,
		Bases:  []decl.Base{{Record: poly, Virtual: true}},
		Fields: []decl.Field{{Name: "tail", Type: a.IncompleteArrayOf(c)}},
	})
	return a
}

func TestCheckAll_Targets(t *testing.T) {
	for _, triple := range layout.Triples() {
		t.Run(triple, func(t *testing.T) {
			target, err := layout.TargetByTriple(triple)
			if err != nil {
				t.Fatal(err)
			}
			e := layout.New(target, sampleArena())
			if err := CheckAll(e); err != nil {
				t.Fatalf("invariant violated: %v", err)
			}
		})
	}
}

func TestCheckLayoutInvariants_Violations(t *testing.T) {
	a := decl.NewArena()
	id := a.NewRecord("S", decl.TagStruct)
	i := a.Builtin(decl.Int)
	a.Define(id, decl.Record{Tag: decl.TagStruct, Fields: []decl.Field{{Name: "a", Type: i}, {Name: "b", Type: i}}})

	tests := []struct {
		name string
		l    *layout.RecordLayout
		want string
	}{
		{"align", &layout.RecordLayout{ABI: layout.ABIItanium, Size: 8, Alignment: 3, FieldOffsets: []int64{0, 32}}, "power of two"},
		{"size", &layout.RecordLayout{ABI: layout.ABIItanium, Size: 6, Alignment: 4, FieldOffsets: []int64{0, 32}}, "multiple"},
		{"dsize", &layout.RecordLayout{ABI: layout.ABIItanium, Size: 8, DataSize: 12, Alignment: 4, FieldOffsets: []int64{0, 32}}, "data size"},
		{"order", &layout.RecordLayout{ABI: layout.ABIItanium, Size: 8, Alignment: 4, FieldOffsets: []int64{32, 0}}, "precedes"},
		{"bounds", &layout.RecordLayout{ABI: layout.ABIItanium, Size: 8, Alignment: 4, FieldOffsets: []int64{0, 64}}, "exceeds"},
		{"count", &layout.RecordLayout{ABI: layout.ABIItanium, Size: 8, Alignment: 4, FieldOffsets: []int64{0}}, "field offsets"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := layout.New(layout.X86_64LinuxGNU(), a)
			e.Prime(id, tt.l, nil)
			err := CheckLayoutInvariants(e, id)
			if err == nil {
				t.Fatal("expected violation, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestCheckLayoutInvariants_ObjectRules(t *testing.T) {
	a := decl.NewArena()
	def := func(name string, rec decl.Record) decl.RecordID {
		id := a.NewRecord(name, rec.Tag)
		a.Define(id, rec)
		return id
	}
	c, i := a.Builtin(decl.Char), a.Builtin(decl.Int)
	bits := def("Bits", decl.Record{Tag: decl.TagStruct, Fields: []decl.Field{
		{Name: "a", Type: i, Bitfield: true, Width: 3},
		{Name: "b", Type: i, Bitfield: true, Width: 30},
	}})
	charBits := def("CharBits", decl.Record{Tag: decl.TagStruct, Fields: []decl.Field{
		{Name: "a", Type: c, Bitfield: true, Width: 7},
		{Name: "b", Type: c, Bitfield: true, Width: 2},
	}})
	b := def("B", decl.Record{Tag: decl.TagStruct, Fields: []decl.Field{{Name: "x", Type: i}}})
	d := def("D", decl.Record{Tag: decl.TagStruct,
		Bases:  []decl.Base{{Record: b}},
		Fields: []decl.Field{{Name: "c", Type: c}},
	})
	empty := def("E", decl.Record{Tag: decl.TagStruct})
	holder := def("Holder", decl.Record{Tag: decl.TagStruct,
		Bases:  []decl.Base{{Record: empty}},
		Fields: []decl.Field{{Name: "e", Type: a.RecordType(empty)}},
	})

	tests := []struct {
		name   string
		target layout.Target
		id     decl.RecordID
		l      *layout.RecordLayout
		want   string
	}{
		{"bitfield crosses unit", layout.X86_64LinuxGNU(), bits,
			&layout.RecordLayout{ABI: layout.ABIItanium, Size: 8, Alignment: 4, VBPtrOffset: -1, FieldOffsets: []int64{0, 3}}, "crosses"},
		{"bitfield spans units", layout.X86_64WindowsMSVC(), charBits,
			&layout.RecordLayout{ABI: layout.ABIMicrosoft, Size: 2, Alignment: 1, VBPtrOffset: -1, FieldOffsets: []int64{0, 7}}, "spans 2 bytes"},
		{"misaligned base", layout.X86_64LinuxGNU(), d,
			&layout.RecordLayout{ABI: layout.ABIItanium, Size: 8, Alignment: 4, VBPtrOffset: -1, FieldOffsets: []int64{0}, Bases: map[decl.RecordID]int64{b: 2}}, "not aligned to 4"},
		{"empty subobjects collide", layout.X86_64LinuxGNU(), holder,
			&layout.RecordLayout{ABI: layout.ABIItanium, Size: 1, Alignment: 1, VBPtrOffset: -1, FieldOffsets: []int64{0}, Bases: map[decl.RecordID]int64{empty: 0}}, "share offset 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := layout.New(tt.target, a)
			e.Prime(tt.id, tt.l, nil)
			err := CheckLayoutInvariants(e, tt.id)
			if err == nil {
				t.Fatal("expected violation, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	// The computed layouts of the same records are sound.
	e := layout.New(layout.X86_64LinuxGNU(), a)
	if err := CheckAll(e); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
}

func TestCheckLayoutInvariants_PropagatesLayoutErrors(t *testing.T) {
	a := decl.NewArena()
	id := a.NewRecord("Fwd", decl.TagStruct)
	e := layout.New(layout.X86_64LinuxGNU(), a)
	if err := CheckLayoutInvariants(e, id); err == nil {
		t.Fatal("expected incomplete record error")
	}
	if err := CheckLayoutInvariants(e, decl.RecordID(99)); err == nil {
		t.Fatal("expected unknown record error")
	}
}
