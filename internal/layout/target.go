package layout

import (
	"fmt"
	"sort"

	"reclayout/internal/decl"
)

// ABI selects the record layout algorithm.
type ABI uint8

const (
	// ABIItanium is the Itanium C++ ABI used by System V derived targets.
	ABIItanium ABI = iota + 1
	// ABIMicrosoft is the Microsoft C++ ABI used by MSVC targets.
	ABIMicrosoft
)

func (a ABI) String() string {
	switch a {
	case ABIItanium:
		return "itanium"
	case ABIMicrosoft:
		return "microsoft"
	default:
		return fmt.Sprintf("ABI(%d)", a)
	}
}

// ScalarInfo is the natural size and alignment of a builtin type, in bytes.
type ScalarInfo struct {
	Size  int64
	Align int64
}

// Target describes the ABI target triple and the type properties layout needs.
type Target struct {
	Triple   string // e.g. "x86_64-linux-gnu"
	ABI      ABI
	PtrSize  int64 // bytes
	PtrAlign int64 // bytes

	Scalars [decl.NumBuiltins]ScalarInfo

	// UseBitFieldTypeAlignment makes the declared type's alignment constrain
	// the storage unit a bitfield may occupy (System V). ARM APCS clears it.
	UseBitFieldTypeAlignment bool
	// UseZeroLengthBitfieldAlignment makes zero-width (and unnamed)
	// bitfields affect record alignment.
	UseZeroLengthBitfieldAlignment bool
	// UseLeadingZeroLengthBitfield makes a zero-width bitfield at offset 0
	// align the record.
	UseLeadingZeroLengthBitfield bool
	// ZeroLengthBitfieldBoundary is a minimum alignment, in bits, applied by
	// zero-width bitfields on targets ignoring bitfield type alignment.
	ZeroLengthBitfieldBoundary int64
	// UseExplicitBitFieldAlignment honours aligned(N) on bitfields.
	UseExplicitBitFieldAlignment bool
	// PacksNonPODMembers lets a packed record pack members of non-POD class
	// type (Darwin and older Clang ABIs).
	PacksNonPODMembers bool
	// DefaultMaxFieldAlign is the -fpack-struct default, in bytes, 0 for none.
	DefaultMaxFieldAlign int64
}

// CharWidth is the width of char in bits on every supported target.
const CharWidth = 8

// Is64Bit reports whether pointers are 64 bits wide.
func (t *Target) Is64Bit() bool { return t.PtrSize == 8 }

// Scalar returns the natural size and alignment of a builtin type.
func (t *Target) Scalar(b decl.Builtin) (ScalarInfo, bool) {
	if int(b) <= 0 || int(b) >= len(t.Scalars) {
		return ScalarInfo{}, false
	}
	info := t.Scalars[b]
	return info, info.Size > 0
}

func commonScalars() [decl.NumBuiltins]ScalarInfo {
	var s [decl.NumBuiltins]ScalarInfo
	for _, b := range []decl.Builtin{decl.Bool, decl.Char, decl.SChar, decl.UChar} {
		s[b] = ScalarInfo{Size: 1, Align: 1}
	}
	s[decl.Char16] = ScalarInfo{Size: 2, Align: 2}
	s[decl.Char32] = ScalarInfo{Size: 4, Align: 4}
	s[decl.Short] = ScalarInfo{Size: 2, Align: 2}
	s[decl.UShort] = ScalarInfo{Size: 2, Align: 2}
	s[decl.Int] = ScalarInfo{Size: 4, Align: 4}
	s[decl.UInt] = ScalarInfo{Size: 4, Align: 4}
	s[decl.LongLong] = ScalarInfo{Size: 8, Align: 8}
	s[decl.ULongLong] = ScalarInfo{Size: 8, Align: 8}
	s[decl.Int128] = ScalarInfo{Size: 16, Align: 16}
	s[decl.UInt128] = ScalarInfo{Size: 16, Align: 16}
	s[decl.Float] = ScalarInfo{Size: 4, Align: 4}
	s[decl.Double] = ScalarInfo{Size: 8, Align: 8}
	return s
}

func setLong(s *[decl.NumBuiltins]ScalarInfo, size int64) {
	s[decl.Long] = ScalarInfo{Size: size, Align: size}
	s[decl.ULong] = ScalarInfo{Size: size, Align: size}
}

func sysvTarget(triple string, ptr int64) Target {
	return Target{
		Triple:                       triple,
		ABI:                          ABIItanium,
		PtrSize:                      ptr,
		PtrAlign:                     ptr,
		Scalars:                      commonScalars(),
		UseBitFieldTypeAlignment:     true,
		UseLeadingZeroLengthBitfield: true,
		UseExplicitBitFieldAlignment: true,
	}
}

func X86_64LinuxGNU() Target {
	t := sysvTarget("x86_64-linux-gnu", 8)
	setLong(&t.Scalars, 8)
	t.Scalars[decl.WChar] = ScalarInfo{Size: 4, Align: 4}
	t.Scalars[decl.LongDouble] = ScalarInfo{Size: 16, Align: 16}
	return t
}

func I686LinuxGNU() Target {
	t := sysvTarget("i686-linux-gnu", 4)
	setLong(&t.Scalars, 4)
	t.Scalars[decl.WChar] = ScalarInfo{Size: 4, Align: 4}
	t.Scalars[decl.LongLong] = ScalarInfo{Size: 8, Align: 4}
	t.Scalars[decl.ULongLong] = ScalarInfo{Size: 8, Align: 4}
	t.Scalars[decl.Double] = ScalarInfo{Size: 8, Align: 4}
	t.Scalars[decl.LongDouble] = ScalarInfo{Size: 12, Align: 4}
	return t
}

func AArch64LinuxGNU() Target {
	t := sysvTarget("aarch64-linux-gnu", 8)
	setLong(&t.Scalars, 8)
	t.Scalars[decl.WChar] = ScalarInfo{Size: 4, Align: 4}
	t.Scalars[decl.LongDouble] = ScalarInfo{Size: 16, Align: 16}
	t.UseZeroLengthBitfieldAlignment = true
	return t
}

// ARMAPCSLinux is the legacy ARM APCS ABI, which ignores bitfield type
// alignment but aligns zero-width bitfields to at least 32 bits.
func ARMAPCSLinux() Target {
	t := sysvTarget("arm-linux-gnu-apcs", 4)
	setLong(&t.Scalars, 4)
	t.Scalars[decl.WChar] = ScalarInfo{Size: 4, Align: 4}
	t.Scalars[decl.LongLong] = ScalarInfo{Size: 8, Align: 4}
	t.Scalars[decl.ULongLong] = ScalarInfo{Size: 8, Align: 4}
	t.Scalars[decl.Double] = ScalarInfo{Size: 8, Align: 4}
	t.Scalars[decl.LongDouble] = ScalarInfo{Size: 8, Align: 4}
	t.UseBitFieldTypeAlignment = false
	t.UseZeroLengthBitfieldAlignment = true
	t.ZeroLengthBitfieldBoundary = 32
	return t
}

func X86_64AppleDarwin() Target {
	t := X86_64LinuxGNU()
	t.Triple = "x86_64-apple-darwin"
	t.PacksNonPODMembers = true
	return t
}

func msvcTarget(triple string, ptr int64) Target {
	return Target{
		Triple:                       triple,
		ABI:                          ABIMicrosoft,
		PtrSize:                      ptr,
		PtrAlign:                     ptr,
		Scalars:                      commonScalars(),
		UseBitFieldTypeAlignment:     true,
		UseLeadingZeroLengthBitfield: true,
		UseExplicitBitFieldAlignment: true,
	}
}

func X86_64WindowsMSVC() Target {
	t := msvcTarget("x86_64-pc-windows-msvc", 8)
	setLong(&t.Scalars, 4)
	t.Scalars[decl.WChar] = ScalarInfo{Size: 2, Align: 2}
	t.Scalars[decl.LongDouble] = ScalarInfo{Size: 8, Align: 8}
	return t
}

func I686WindowsMSVC() Target {
	t := msvcTarget("i686-pc-windows-msvc", 4)
	setLong(&t.Scalars, 4)
	t.Scalars[decl.WChar] = ScalarInfo{Size: 2, Align: 2}
	t.Scalars[decl.LongDouble] = ScalarInfo{Size: 8, Align: 8}
	return t
}

var presets = map[string]func() Target{
	"x86_64-linux-gnu":       X86_64LinuxGNU,
	"i686-linux-gnu":         I686LinuxGNU,
	"aarch64-linux-gnu":      AArch64LinuxGNU,
	"arm-linux-gnu-apcs":     ARMAPCSLinux,
	"x86_64-apple-darwin":    X86_64AppleDarwin,
	"x86_64-pc-windows-msvc": X86_64WindowsMSVC,
	"i686-pc-windows-msvc":   I686WindowsMSVC,
}

// TargetByTriple returns a preset target description.
func TargetByTriple(triple string) (Target, error) {
	mk, ok := presets[triple]
	if !ok {
		return Target{}, fmt.Errorf("unknown target %q (see `reclayout targets`)", triple)
	}
	return mk(), nil
}

// Triples lists the preset target triples in sorted order.
func Triples() []string {
	out := make([]string, 0, len(presets))
	for k := range presets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
