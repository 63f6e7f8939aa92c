package decl

import (
	"slices"
	"testing"
)

func TestArena_InternIsStable(t *testing.T) {
	a := NewArena()
	i1 := a.Builtin(Int)
	i2 := a.Builtin(Int)
	if i1 != i2 {
		t.Fatalf("expected interned int to be stable, got %d and %d", i1, i2)
	}
	if i1 == NoTypeID {
		t.Fatal("builtin must not intern to NoTypeID")
	}
	p1 := a.PointerTo(i1)
	p2 := a.PointerTo(a.Builtin(Int))
	if p1 != p2 {
		t.Fatalf("expected int* to be stable, got %d and %d", p1, p2)
	}
	if a.PointerTo(i1) == a.ReferenceTo(i1) {
		t.Fatal("pointer and reference must differ")
	}
	if a.ArrayOf(i1, 3) == a.ArrayOf(i1, 4) {
		t.Fatal("arrays with different counts must differ")
	}
	if got := a.Intern(Type{}); got != NoTypeID {
		t.Fatalf("invalid descriptor must intern to NoTypeID, got %d", got)
	}
	if _, ok := a.Lookup(NoTypeID); ok {
		t.Fatal("NoTypeID must not resolve")
	}
}

func TestArena_BaseElement(t *testing.T) {
	a := NewArena()
	c := a.Builtin(Char)
	tests := []struct {
		name  string
		ty    TypeID
		count uint64
	}{
		{"scalar", c, 1},
		{"array", a.ArrayOf(c, 4), 4},
		{"nested", a.ArrayOf(a.ArrayOf(c, 3), 5), 15},
		{"flexible", a.IncompleteArrayOf(c), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			elem, n := a.BaseElement(tt.ty)
			if elem != c || n != tt.count {
				t.Fatalf("expected (%d, %d), got (%d, %d)", c, tt.count, elem, n)
			}
		})
	}
}

func TestArena_RecordsAndNames(t *testing.T) {
	a := NewArena()
	first := a.NewRecord("S", TagStruct)
	second := a.NewRecord("S", TagStruct)
	anon := a.NewRecord("", TagUnion)

	if id, ok := a.RecordByName("S"); !ok || id != first {
		t.Fatalf("expected first declaration to own the name, got %d (%v)", id, ok)
	}
	if first == second {
		t.Fatal("records must get distinct IDs")
	}
	if r := a.MustRecord(first); r.Complete {
		t.Fatal("forward declaration must be incomplete")
	}
	a.Define(first, Record{Tag: TagStruct, Fields: []Field{{Name: "x", Type: a.Builtin(Int)}}})
	r := a.MustRecord(first)
	if !r.Complete || r.Name != "S" {
		t.Fatalf("expected complete record named S, got %+v", r)
	}
	if got := a.RecordName(anon); got != "(anonymous union#3)" {
		t.Fatalf("unexpected anonymous name %q", got)
	}
	if got := a.NumRecords(); got != 3 {
		t.Fatalf("expected 3 records, got %d", got)
	}
	if got := a.Records(); !slices.Equal(got, []RecordID{first, second, anon}) {
		t.Fatalf("unexpected record order %v", got)
	}
}

func TestArena_DefineCopiesInput(t *testing.T) {
	a := NewArena()
	id := a.NewRecord("S", TagStruct)
	fields := []Field{{Name: "x", Type: a.Builtin(Int)}}
	a.Define(id, Record{Tag: TagStruct, Fields: fields})
	fields[0].Name = "mutated"
	if got := a.MustRecord(id).Fields[0].Name; got != "x" {
		t.Fatalf("arena must own its copy, got field %q", got)
	}
}

func TestArena_TypeString(t *testing.T) {
	a := NewArena()
	s := a.NewRecord("S", TagStruct)
	e := a.NewEnum("Color", UChar)
	tests := []struct {
		ty   TypeID
		want string
	}{
		{a.Builtin(ULongLong), "unsigned long long"},
		{a.PointerTo(a.Builtin(Char)), "char *"},
		{a.ReferenceTo(a.RecordType(s)), "struct S &"},
		{a.ArrayOf(a.Builtin(Int), 4), "int[4]"},
		{a.IncompleteArrayOf(a.Builtin(Short)), "short[]"},
		{a.EnumType(e), "enum Color"},
	}
	for _, tt := range tests {
		if got := a.TypeString(tt.ty); got != tt.want {
			t.Errorf("TypeString: expected %q, got %q", tt.want, got)
		}
	}
	if got := a.MustLookup(a.EnumType(e)).Builtin; got != UChar {
		t.Fatalf("enum type must carry its underlying builtin, got %v", got)
	}
}

func TestBuiltinByName(t *testing.T) {
	tests := []struct {
		name string
		want Builtin
		ok   bool
	}{
		{"int", Int, true},
		{"unsigned", UInt, true},
		{"long long int", LongLong, true},
		{"_Bool", Bool, true},
		{"wchar_t", WChar, true},
		{"<invalid>", BuiltinInvalid, false},
		{"quad", BuiltinInvalid, false},
	}
	for _, tt := range tests {
		got, ok := BuiltinByName(tt.name)
		if got != tt.want || ok != tt.ok {
			t.Errorf("BuiltinByName(%q): expected (%v, %v), got (%v, %v)", tt.name, tt.want, tt.ok, got, ok)
		}
	}
	if Float.IsIntegral() || !Bool.IsIntegral() || !UInt128.IsIntegral() {
		t.Fatal("unexpected IsIntegral classification")
	}
}

func TestArena_ClassProperties(t *testing.T) {
	a := NewArena()
	define := func(name string, rec Record) RecordID {
		id := a.NewRecord(name, rec.Tag)
		a.Define(id, rec)
		return id
	}
	i := a.Builtin(Int)

	empty := define("Empty", Record{Tag: TagStruct})
	zeroWidth := define("ZeroWidth", Record{Tag: TagStruct, Fields: []Field{{Type: i, Bitfield: true}}})
	pod := define("POD", Record{Tag: TagStruct, Fields: []Field{{Name: "x", Type: i}}})
	private := define("Private", Record{Tag: TagClass, Fields: []Field{{Name: "x", Type: i, Access: AccessPrivate}}})
	poly := define("Poly", Record{Tag: TagStruct, Methods: []Method{{Name: "f", Virtual: true}}})
	withCtor := define("Ctor", Record{Tag: TagStruct, UserDeclaredCtor: true})
	holder := define("Holder", Record{Tag: TagStruct, Fields: []Field{{Name: "p", Type: a.ArrayOf(a.RecordType(private), 2)}}})
	ref := define("Ref", Record{Tag: TagStruct, Fields: []Field{{Name: "r", Type: a.ReferenceTo(i)}}})
	derived := define("Derived", Record{Tag: TagStruct, Bases: []Base{{Record: empty}}})
	virt := define("Virt", Record{Tag: TagStruct, Bases: []Base{{Record: empty, Virtual: true}}})

	tests := []struct {
		name                         string
		id                           RecordID
		empty, pod, polymorphic, dyn bool
	}{
		{"Empty", empty, true, true, false, false},
		{"ZeroWidth", zeroWidth, true, true, false, false},
		{"POD", pod, false, true, false, false},
		{"Private", private, false, false, false, false},
		{"Poly", poly, false, false, true, true},
		{"Ctor", withCtor, true, false, false, false},
		{"Holder", holder, false, false, false, false},
		{"Ref", ref, false, false, false, false},
		{"Derived", derived, true, false, false, false},
		{"Virt", virt, false, false, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.IsEmpty(tt.id); got != tt.empty {
				t.Errorf("IsEmpty: expected %v, got %v", tt.empty, got)
			}
			if got := a.IsPOD(tt.id); got != tt.pod {
				t.Errorf("IsPOD: expected %v, got %v", tt.pod, got)
			}
			if got := a.IsPolymorphic(tt.id); got != tt.polymorphic {
				t.Errorf("IsPolymorphic: expected %v, got %v", tt.polymorphic, got)
			}
			if got := a.IsDynamic(tt.id); got != tt.dyn {
				t.Errorf("IsDynamic: expected %v, got %v", tt.dyn, got)
			}
		})
	}
}

func TestArena_VirtualBasesOrder(t *testing.T) {
	a := NewArena()
	define := func(name string, bases ...Base) RecordID {
		id := a.NewRecord(name, TagStruct)
		a.Define(id, Record{Tag: TagStruct, Bases: bases})
		return id
	}
	v1 := define("V1")
	v2 := define("V2")
	l := define("L", Base{Record: v1, Virtual: true})
	r := define("R", Base{Record: v1, Virtual: true}, Base{Record: v2, Virtual: true})
	d := define("D", Base{Record: l}, Base{Record: r}, Base{Record: l, Virtual: true})

	if got := a.VirtualBases(d); !slices.Equal(got, []RecordID{v1, v2, l}) {
		t.Fatalf("expected vbases [V1 V2 L], got %v", got)
	}
	if got := a.NumVirtualBases(r); got != 2 {
		t.Fatalf("expected 2 vbases for R, got %d", got)
	}
}

func TestArena_UpdateRecomputesProperties(t *testing.T) {
	a := NewArena()
	id := a.NewRecord("S", TagStruct)
	a.Define(id, Record{Tag: TagStruct})
	if !a.IsEmpty(id) {
		t.Fatal("expected empty record")
	}
	gen := a.Generation()
	a.Update(id, Record{Tag: TagStruct, Methods: []Method{{Name: "f", Overrides: []MethodRef{{Record: id}}}}})
	if a.Generation() == gen {
		t.Fatal("Update must bump the generation")
	}
	if a.IsEmpty(id) || !a.IsPolymorphic(id) {
		t.Fatal("overriding method must make the record polymorphic")
	}
	if !a.HasVirtualMethods(id) {
		t.Fatal("expected HasVirtualMethods after update")
	}
}

func TestArena_InheritanceCycleTerminates(t *testing.T) {
	a := NewArena()
	x := a.NewRecord("X", TagStruct)
	y := a.NewRecord("Y", TagStruct)
	a.Define(x, Record{Tag: TagStruct, Bases: []Base{{Record: y}}})
	a.Define(y, Record{Tag: TagStruct, Bases: []Base{{Record: x}}})
	_ = a.IsEmpty(x)
	_ = a.VirtualBases(y)
}
