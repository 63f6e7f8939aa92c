package layout_test

import (
	"slices"
	"strings"
	"testing"

	"reclayout/internal/decl"
	"reclayout/internal/diag"
	"reclayout/internal/layout"
	"reclayout/internal/testkit"
)

func TestItanium_PlainStructs(t *testing.T) {
	f := newFixture(t)
	charInt := f.structOf("CharInt", field("c", f.ty(decl.Char)), field("i", f.ty(decl.Int)))
	packed := f.define("Packed", decl.Record{
		Fields: []decl.Field{field("c", f.ty(decl.Char)), field("i", f.ty(decl.Int))},
		Attrs:  decl.RecordAttrs{Packed: true},
	})
	pack2 := f.define("Pack2", decl.Record{
		Fields: []decl.Field{field("c", f.ty(decl.Char)), field("i", f.ty(decl.Int))},
		Attrs:  decl.RecordAttrs{MaxFieldAlign: 2},
	})
	aligned := f.define("Aligned", decl.Record{
		Fields: []decl.Field{field("c", f.ty(decl.Char))},
		Attrs:  decl.RecordAttrs{Align: 16},
	})
	arr := f.structOf("Arr", field("c", f.ty(decl.Char)), field("d", f.a.ArrayOf(f.ty(decl.Double), 3)))
	flex := f.structOf("Flex", field("n", f.ty(decl.Int)), field("data", f.a.IncompleteArrayOf(f.ty(decl.Char))))
	union := f.define("U", decl.Record{
		Tag:    decl.TagUnion,
		Fields: []decl.Field{field("c", f.ty(decl.Char)), field("l", f.ty(decl.Long)), field("s", f.a.ArrayOf(f.ty(decl.Char), 11))},
	})
	ptrs := f.structOf("Ptrs", field("c", f.ty(decl.Char)), field("p", f.a.PointerTo(f.ty(decl.Int))), field("r", f.a.ReferenceTo(f.ty(decl.Char))))
	nested := f.structOf("Nested", field("c", f.ty(decl.Char)), field("in", f.rec(charInt)))
	mac := f.define("Mac", decl.Record{
		Fields: []decl.Field{field("c", f.ty(decl.Char)), field("d", f.ty(decl.Double))},
		Attrs:  decl.RecordAttrs{Mac68k: true},
	})
	fieldAligned := f.structOf("FieldAligned", field("c", f.ty(decl.Char)), decl.Field{Name: "i", Type: f.ty(decl.Int), Align: 8})
	fieldPacked := f.structOf("FieldPacked", field("c", f.ty(decl.Char)), decl.Field{Name: "i", Type: f.ty(decl.Int), Packed: true})

	e := f.engine(layout.X86_64LinuxGNU())
	tests := []struct {
		name string
		id   decl.RecordID
		want want
	}{
		{"char+int", charInt, want{size: 8, align: 4, offsets: []int64{0, 32}}},
		{"packed", packed, want{size: 5, align: 1, offsets: []int64{0, 8}}},
		{"pack(2)", pack2, want{size: 6, align: 2, offsets: []int64{0, 16}}},
		{"aligned(16)", aligned, want{size: 16, align: 16, offsets: []int64{0}}},
		{"array field", arr, want{size: 32, align: 8, offsets: []int64{0, 64}}},
		{"flexible array", flex, want{size: 4, align: 4, offsets: []int64{0, 32}}},
		{"union", union, want{size: 16, align: 8, offsets: []int64{0, 0, 0}}},
		{"pointers", ptrs, want{size: 24, align: 8, offsets: []int64{0, 64, 128}}},
		{"nested", nested, want{size: 12, align: 4, offsets: []int64{0, 32}}},
		{"mac68k", mac, want{size: 10, align: 2, offsets: []int64{0, 16}}},
		{"aligned field", fieldAligned, want{size: 16, align: 8, offsets: []int64{0, 64}}},
		{"packed field", fieldPacked, want{size: 5, align: 1, offsets: []int64{0, 8}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkLayout(t, tt.name, mustLayout(t, e, tt.id), tt.want)
		})
	}
}

func TestItanium_I686ScalarAlignment(t *testing.T) {
	f := newFixture(t)
	s := f.structOf("S", field("c", f.ty(decl.Char)), field("d", f.ty(decl.Double)), field("ll", f.ty(decl.LongLong)))
	l := mustLayout(t, f.engine(layout.I686LinuxGNU()), s)
	checkLayout(t, "S", l, want{size: 20, align: 4, offsets: []int64{0, 32, 96}})
}

func TestItanium_EmptyRecords(t *testing.T) {
	f := newFixture(t)
	empty := f.structOf("E")
	zeroLen := f.structOf("Z", field("a", f.a.ArrayOf(f.ty(decl.Int), 0)))

	cxx := f.engine(layout.X86_64LinuxGNU())
	checkLayout(t, "E (c++)", mustLayout(t, cxx, empty), want{size: 1, align: 1})
	// Only zero-length array members: not empty, keeps size 0.
	checkLayout(t, "Z (c++)", mustLayout(t, cxx, zeroLen), want{size: 0, align: 4})

	c := f.engine(layout.X86_64LinuxGNU(), layout.WithLanguage(layout.LanguageC))
	checkLayout(t, "E (c)", mustLayout(t, c, empty), want{size: 0, align: 1})
}

func TestItanium_EmptyBaseOptimization(t *testing.T) {
	f := newFixture(t)
	e := f.structOf("E")
	e2 := f.structOf("E2")
	ints := f.ty(decl.Int)

	ebo := f.define("EBO", decl.Record{Bases: []decl.Base{base(e)}, Fields: []decl.Field{field("x", ints)}})
	twoEmpty := f.define("TwoEmpty", decl.Record{Bases: []decl.Base{base(e), base(e2)}, Fields: []decl.Field{field("x", ints)}})
	conflict := f.define("Conflict", decl.Record{Bases: []decl.Base{base(e)}, Fields: []decl.Field{field("e", f.rec(e)), field("x", ints)}})
	a := f.define("A", decl.Record{Bases: []decl.Base{base(e)}})
	b := f.define("B", decl.Record{Bases: []decl.Base{base(e)}})
	diamond := f.define("D", decl.Record{Bases: []decl.Base{base(a), base(b)}})
	arrayConflict := f.define("ArrConflict", decl.Record{Bases: []decl.Base{base(e)}, Fields: []decl.Field{field("es", f.a.ArrayOf(f.rec(e), 2))}})

	eng := f.engine(layout.X86_64LinuxGNU())

	l := mustLayout(t, eng, ebo)
	checkLayout(t, "EBO", l, want{size: 4, align: 4, offsets: []int64{0}})
	if off, _ := l.BaseClassOffset(e); off != 0 {
		t.Fatalf("expected empty base at 0, got %d", off)
	}

	l = mustLayout(t, eng, twoEmpty)
	checkLayout(t, "TwoEmpty", l, want{size: 4, align: 4, offsets: []int64{0}})
	if l.Bases[e] != 0 || l.Bases[e2] != 0 {
		t.Fatalf("expected distinct empty bases to share offset 0, got %v", l.Bases)
	}

	l = mustLayout(t, eng, conflict)
	checkLayout(t, "Conflict", l, want{size: 8, align: 4, offsets: []int64{8, 32}})

	l = mustLayout(t, eng, diamond)
	checkLayout(t, "D", l, want{size: 2, align: 1})
	if l.Bases[a] != 0 || l.Bases[b] != 1 {
		t.Fatalf("expected A at 0 and B at 1, got %v", l.Bases)
	}
	if l.SizeOfLargestEmptySubobject != 1 {
		t.Fatalf("expected SizeOfLargestEmptySubobject=1, got %d", l.SizeOfLargestEmptySubobject)
	}

	l = mustLayout(t, eng, arrayConflict)
	checkLayout(t, "ArrConflict", l, want{size: 3, align: 1, offsets: []int64{8}})

	if err := testkit.CheckAll(eng); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
}

func TestItanium_TailPaddingReuse(t *testing.T) {
	f := newFixture(t)
	fields := []decl.Field{field("i", f.ty(decl.Int)), field("c", f.ty(decl.Char))}
	nonPOD := f.define("NonPOD", decl.Record{Fields: fields, UserDeclaredCtor: true})
	pod := f.define("POD", decl.Record{Fields: fields})
	overNonPOD := f.define("OverNonPOD", decl.Record{Bases: []decl.Base{base(nonPOD)}, Fields: []decl.Field{field("d", f.ty(decl.Char))}})
	overPOD := f.define("OverPOD", decl.Record{Bases: []decl.Base{base(pod)}, Fields: []decl.Field{field("d", f.ty(decl.Char))}})

	e := f.engine(layout.X86_64LinuxGNU())
	l := mustLayout(t, e, nonPOD)
	if l.Size != 8 || l.DataSize != 5 || l.NonVirtualSize != 5 {
		t.Fatalf("NonPOD: expected size=8 dsize=5 nvsize=5, got size=%d dsize=%d nvsize=%d", l.Size, l.DataSize, l.NonVirtualSize)
	}
	l = mustLayout(t, e, pod)
	if l.Size != 8 || l.DataSize != 8 {
		t.Fatalf("POD: expected size=8 dsize=8, got size=%d dsize=%d", l.Size, l.DataSize)
	}
	checkLayout(t, "OverNonPOD", mustLayout(t, e, overNonPOD), want{size: 8, align: 4, offsets: []int64{40}})
	checkLayout(t, "OverPOD", mustLayout(t, e, overPOD), want{size: 12, align: 4, offsets: []int64{64}})
}

func TestItanium_Bitfields(t *testing.T) {
	f := newFixture(t)
	i, c := f.ty(decl.Int), f.ty(decl.Char)
	packedBits := f.structOf("Bits", bitfield("a", i, 3), bitfield("b", i, 5), bitfield("c", i, 30))
	mixed := f.structOf("Mixed", field("a", c), bitfield("b", i, 4))
	zeroWidth := f.structOf("ZeroWidth", field("a", c), bitfield("", i, 0), field("b", c))
	wide := f.structOf("Wide", bitfield("a", c, 9))
	wideInt := f.structOf("WideInt", field("c", c), bitfield("x", i, 200))
	bitsUnion := f.define("BU", decl.Record{Tag: decl.TagUnion, Fields: []decl.Field{bitfield("a", i, 3), bitfield("b", c, 7)}})
	msStruct := f.define("MsStruct", decl.Record{
		Fields: []decl.Field{bitfield("a", c, 4), bitfield("b", i, 4)},
		Attrs:  decl.RecordAttrs{MsStruct: true},
	})

	tests := []struct {
		name   string
		target layout.Target
		id     decl.RecordID
		want   want
	}{
		{"straddle", layout.X86_64LinuxGNU(), packedBits, want{size: 8, align: 4, offsets: []int64{0, 3, 32}}},
		{"after char", layout.X86_64LinuxGNU(), mixed, want{size: 4, align: 4, offsets: []int64{0, 8}}},
		{"zero width x86_64", layout.X86_64LinuxGNU(), zeroWidth, want{size: 5, align: 1, offsets: []int64{0, 32, 32}}},
		{"zero width aarch64", layout.AArch64LinuxGNU(), zeroWidth, want{size: 8, align: 4, offsets: []int64{0, 32, 32}}},
		{"wider than type", layout.X86_64LinuxGNU(), wide, want{size: 2, align: 1, offsets: []int64{0}}},
		{"wide int after char", layout.X86_64LinuxGNU(), wideInt, want{size: 40, align: 8, offsets: []int64{0, 64}}},
		{"wide int after char i686", layout.I686LinuxGNU(), wideInt, want{size: 32, align: 4, offsets: []int64{0, 32}}},
		{"union", layout.X86_64LinuxGNU(), bitsUnion, want{size: 4, align: 4, offsets: []int64{0, 0}}},
		{"ms_struct", layout.X86_64LinuxGNU(), msStruct, want{size: 8, align: 4, offsets: []int64{0, 32}}},
		{"apcs ignores type alignment", layout.ARMAPCSLinux(), mixed, want{size: 2, align: 1, offsets: []int64{0, 8}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := f.engine(tt.target)
			checkLayout(t, tt.name, mustLayout(t, e, tt.id), tt.want)
			if err := testkit.CheckLayoutInvariants(e, tt.id); err != nil {
				t.Fatalf("invariant violated: %v", err)
			}
		})
	}
}

func TestItanium_DynamicClasses(t *testing.T) {
	f := newFixture(t)
	i := f.ty(decl.Int)
	v := f.define("V", decl.Record{Fields: []decl.Field{field("x", i)}, Methods: []decl.Method{virtualMethod("f")}})
	d := f.define("D", decl.Record{Bases: []decl.Base{base(v)}, Fields: []decl.Field{field("y", i)}})

	e := f.engine(layout.X86_64LinuxGNU())
	l := mustLayout(t, e, v)
	checkLayout(t, "V", l, want{size: 16, align: 8, offsets: []int64{64}})
	if !l.HasOwnVFPtr || l.PrimaryBase != decl.NoRecordID || l.DataSize != 12 {
		t.Fatalf("V: expected own vptr, no primary base and dsize 12, got %+v", l)
	}

	l = mustLayout(t, e, d)
	checkLayout(t, "D", l, want{size: 16, align: 8, offsets: []int64{96}})
	if l.HasOwnVFPtr || l.PrimaryBase != v || l.PrimaryBaseIsVirtual {
		t.Fatalf("D: expected non-virtual primary base V, got %+v", l)
	}
}

func TestItanium_VirtualBases(t *testing.T) {
	f := newFixture(t)
	i := f.ty(decl.Int)
	b := f.structOf("B", field("b", i))
	d := f.define("D", decl.Record{Bases: []decl.Base{vbase(b)}, Fields: []decl.Field{field("d", i)}})
	n := f.define("N", decl.Record{Methods: []decl.Method{virtualMethod("f")}})
	dn := f.define("DN", decl.Record{Bases: []decl.Base{vbase(n)}, Fields: []decl.Field{field("d", i)}})
	l1 := f.define("L", decl.Record{Bases: []decl.Base{vbase(b)}})
	r1 := f.define("R", decl.Record{Bases: []decl.Base{vbase(b)}})
	diamond := f.define("Diamond", decl.Record{Bases: []decl.Base{base(l1), base(r1)}})

	e := f.engine(layout.X86_64LinuxGNU())
	l := mustLayout(t, e, d)
	checkLayout(t, "D", l, want{size: 16, align: 8, offsets: []int64{64}})
	if off, ok := l.VBaseClassOffset(b); !ok || off != 12 {
		t.Fatalf("D: expected virtual base B at 12, got %d (ok=%v)", off, ok)
	}
	if l.NonVirtualSize != 12 || !l.HasOwnVFPtr {
		t.Fatalf("D: expected nvsize 12 with own vptr, got nvsize=%d own=%v", l.NonVirtualSize, l.HasOwnVFPtr)
	}

	l = mustLayout(t, e, dn)
	checkLayout(t, "DN", l, want{size: 16, align: 8, offsets: []int64{64}})
	if l.PrimaryBase != n || !l.PrimaryBaseIsVirtual || l.HasOwnVFPtr {
		t.Fatalf("DN: expected nearly empty virtual primary base N, got %+v", l)
	}
	if off, _ := l.VBaseClassOffset(n); off != 0 {
		t.Fatalf("DN: expected primary virtual base at 0, got %d", off)
	}

	// L and R each have a vptr; B is shared once at the end.
	l = mustLayout(t, e, diamond)
	checkLayout(t, "Diamond", l, want{size: 24, align: 8})
	if l.Bases[l1] != 0 || l.Bases[r1] != 8 || l.VBases[b].Offset != 16 {
		t.Fatalf("Diamond: expected L@0 R@8 B@16, got bases=%v vbases=%v", l.Bases, l.VBases)
	}
	if len(l.VBases) != 1 {
		t.Fatalf("Diamond: expected one virtual base, got %v", l.VBases)
	}
}

func TestItanium_VirtualDiamondWithData(t *testing.T) {
	f := newFixture(t)
	i := f.ty(decl.Int)
	a := f.structOf("A", field("a", i))
	b := f.define("B", decl.Record{Bases: []decl.Base{vbase(a)}, Fields: []decl.Field{field("b", i)}})
	c := f.define("C", decl.Record{Bases: []decl.Base{vbase(a)}, Fields: []decl.Field{field("c", i)}})
	d := f.define("D", decl.Record{Bases: []decl.Base{base(b), base(c)}, Fields: []decl.Field{field("d", i)}})

	e := f.engine(layout.X86_64LinuxGNU())
	lb := mustLayout(t, e, b)
	checkLayout(t, "B", lb, want{size: 16, align: 8, offsets: []int64{64}})
	if lb.VBases[a].Offset != 12 || lb.NonVirtualSize != 12 {
		t.Fatalf("B: expected A at 12 after nvsize 12, got A=%d nvsize=%d", lb.VBases[a].Offset, lb.NonVirtualSize)
	}

	// d fills the tail padding of C; A is shared once after it.
	l := mustLayout(t, e, d)
	checkLayout(t, "D", l, want{size: 40, align: 8, offsets: []int64{224}})
	if l.PrimaryBase != b || l.PrimaryBaseIsVirtual || l.Bases[b] != 0 || l.Bases[c] != 16 {
		t.Fatalf("D: expected primary base B at 0 and C at 16, got primary=%d bases=%v", l.PrimaryBase, l.Bases)
	}
	if len(l.VBases) != 1 || l.VBases[a].Offset != 32 {
		t.Fatalf("D: expected a single A at 32, got %v", l.VBases)
	}
	// Both B and C reach the same A: 32 bytes past B, 16 past C.
	if off, err := e.VBaseClassOffset(d, a); err != nil || off-l.Bases[b] != 32 || off-l.Bases[c] != 16 {
		t.Fatalf("D: expected shared A at 32, got %d (%v)", off, err)
	}

	// A fresh computation is identical.
	e.Reset()
	again := mustLayout(t, e, d)
	if again == l {
		t.Fatal("expected Reset to drop the cached layout")
	}
	if again.Size != l.Size || again.VBases[a] != l.VBases[a] || !slices.Equal(again.FieldOffsets, l.FieldOffsets) {
		t.Fatalf("recomputed layout differs: %+v vs %+v", again, l)
	}
	if err := testkit.CheckAll(e); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
}

func TestItanium_PaddingDiagnostics(t *testing.T) {
	f := newFixture(t)
	s := f.structOf("S", field("c", f.ty(decl.Char)), field("i", f.ty(decl.Int)))
	tail := f.structOf("Tail", field("i", f.ty(decl.Int)), field("c", f.ty(decl.Char)))
	needless := f.define("Needless", decl.Record{
		Fields: []decl.Field{field("a", f.ty(decl.Char)), field("b", f.ty(decl.Char))},
		Attrs:  decl.RecordAttrs{Packed: true},
	})

	bag := diag.NewBag(32)
	e := f.engine(layout.X86_64LinuxGNU(), layout.WithReporter(diag.BagReporter{Bag: bag}))
	for _, id := range []decl.RecordID{s, tail, needless} {
		mustLayout(t, e, id)
	}

	items := bag.Items()
	if len(items) != 3 {
		t.Fatalf("expected 3 diagnostics, got %d: %s", len(items), diag.FormatShortDiagnostics(items, false))
	}
	checks := []struct {
		code   diag.Code
		record string
		text   string
	}{
		{diag.LayPaddedField, "S", "padding struct 'S' with 3 bytes to align 'i'"},
		{diag.LayPaddedRecord, "Tail", "padding size of 'Tail' with 3 bytes to alignment boundary"},
		{diag.LayUnnecessaryPacked, "Needless", "packed attribute is unnecessary for 'Needless'"},
	}
	for i, c := range checks {
		d := items[i]
		if d.Code != c.code || d.Severity != diag.SevWarning {
			t.Fatalf("diagnostic %d: expected warning %v, got %v %v", i, c.code, d.Severity, d.Code)
		}
		if d.Primary.Record != c.record || !strings.Contains(d.Message, c.text) {
			t.Fatalf("diagnostic %d: expected %q on %s, got %q on %s", i, c.text, c.record, d.Message, d.Primary.Record)
		}
	}
	if items[0].Primary.Field != "i" {
		t.Fatalf("expected field subject 'i', got %q", items[0].Primary.Field)
	}
}

func TestItanium_WideBitfieldWarns(t *testing.T) {
	f := newFixture(t)
	wide := f.structOf("Wide", bitfield("a", f.ty(decl.Char), 9))
	bag := diag.NewBag(8)
	e := f.engine(layout.X86_64LinuxGNU(), layout.WithReporter(diag.BagReporter{Bag: bag}))
	mustLayout(t, e, wide)
	if !bagHasCode(bag, diag.LayBitfieldClamped) {
		t.Fatalf("expected %v, got %s", diag.LayBitfieldClamped, diag.FormatShortDiagnostics(bag.Items(), false))
	}
}

func TestItanium_PackedNonPODMember(t *testing.T) {
	f := newFixture(t)
	inner := f.define("Inner", decl.Record{Fields: []decl.Field{field("i", f.ty(decl.Int))}, UserDeclaredCtor: true})
	outer := f.define("Outer", decl.Record{
		Fields: []decl.Field{field("c", f.ty(decl.Char)), field("in", f.rec(inner))},
		Attrs:  decl.RecordAttrs{Packed: true},
	})

	bag := diag.NewBag(8)
	linux := f.engine(layout.X86_64LinuxGNU(), layout.WithReporter(diag.BagReporter{Bag: bag}))
	checkLayout(t, "linux", mustLayout(t, linux, outer), want{size: 8, align: 4, offsets: []int64{0, 32}})
	if !bagHasCode(bag, diag.LayPackedNonPOD) {
		t.Fatalf("expected %v, got %s", diag.LayPackedNonPOD, diag.FormatShortDiagnostics(bag.Items(), false))
	}

	darwin := f.engine(layout.X86_64AppleDarwin())
	checkLayout(t, "darwin", mustLayout(t, darwin, outer), want{size: 5, align: 1, offsets: []int64{0, 8}})
}
