package decl

import "fmt"

// TypeID uniquely identifies a type inside the arena.
type TypeID uint32

// NoTypeID marks the absence of a type.
const NoTypeID TypeID = 0

// Kind enumerates the type shapes the layout engine understands.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBuiltin
	KindPointer
	KindReference
	KindArray
	KindIncompleteArray
	KindRecord
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindBuiltin:
		return "builtin"
	case KindPointer:
		return "pointer"
	case KindReference:
		return "reference"
	case KindArray:
		return "array"
	case KindIncompleteArray:
		return "incomplete-array"
	case KindRecord:
		return "record"
	case KindEnum:
		return "enum"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Builtin names a scalar type whose size and alignment come from the target.
type Builtin uint8

const (
	BuiltinInvalid Builtin = iota
	Bool
	Char
	SChar
	UChar
	WChar
	Char16
	Char32
	Short
	UShort
	Int
	UInt
	Long
	ULong
	LongLong
	ULongLong
	Int128
	UInt128
	Float
	Double
	LongDouble

	numBuiltins
)

// NumBuiltins is the number of builtin kinds, including BuiltinInvalid.
const NumBuiltins = int(numBuiltins)

var builtinNames = [...]string{
	BuiltinInvalid: "<invalid>",
	Bool:           "bool",
	Char:           "char",
	SChar:          "signed char",
	UChar:          "unsigned char",
	WChar:          "wchar_t",
	Char16:         "char16_t",
	Char32:         "char32_t",
	Short:          "short",
	UShort:         "unsigned short",
	Int:            "int",
	UInt:           "unsigned int",
	Long:           "long",
	ULong:          "unsigned long",
	LongLong:       "long long",
	ULongLong:      "unsigned long long",
	Int128:         "__int128",
	UInt128:        "unsigned __int128",
	Float:          "float",
	Double:         "double",
	LongDouble:     "long double",
}

func (b Builtin) String() string {
	if int(b) < len(builtinNames) {
		return builtinNames[b]
	}
	return fmt.Sprintf("Builtin(%d)", b)
}

// IsIntegral reports whether the builtin may declare a bitfield.
func (b Builtin) IsIntegral() bool {
	switch b {
	case Float, Double, LongDouble, BuiltinInvalid:
		return false
	default:
		return b < numBuiltins
	}
}

// BuiltinByName resolves a spelled builtin type name.
func BuiltinByName(name string) (Builtin, bool) {
	for i, n := range builtinNames {
		if i == 0 {
			continue
		}
		if n == name {
			return Builtin(i), true
		}
	}
	if b, ok := builtinAliases[name]; ok {
		return b, true
	}
	return BuiltinInvalid, false
}

var builtinAliases = map[string]Builtin{
	"_Bool":                  Bool,
	"signed":                 Int,
	"unsigned":               UInt,
	"short int":              Short,
	"signed short":           Short,
	"unsigned short int":     UShort,
	"signed int":             Int,
	"long int":               Long,
	"signed long":            Long,
	"unsigned long int":      ULong,
	"long long int":          LongLong,
	"signed long long":       LongLong,
	"unsigned long long int": ULongLong,
	"__uint128":              UInt128,
}

// Type is a compact descriptor for any supported type.
type Type struct {
	Kind    Kind
	Builtin Builtin  // for builtins, and the underlying type of enums
	Elem    TypeID   // pointee or element type
	Count   uint64   // constant array element count
	Record  RecordID // for KindRecord
	Enum    EnumID   // for KindEnum
}

// EnumID identifies an enumeration declaration.
type EnumID uint32

// NoEnumID marks the absence of an enum.
const NoEnumID EnumID = 0

// Enum is an enumeration; only its underlying type affects layout.
type Enum struct {
	Name       string
	Underlying Builtin
}
