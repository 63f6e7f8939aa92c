package decl

// RecordID identifies a struct, class or union declaration inside the arena.
type RecordID uint32

// NoRecordID marks the absence of a record.
const NoRecordID RecordID = 0

// TagKind is the keyword a record was declared with.
type TagKind uint8

const (
	TagStruct TagKind = iota
	TagClass
	TagUnion
)

func (k TagKind) String() string {
	switch k {
	case TagStruct:
		return "struct"
	case TagClass:
		return "class"
	case TagUnion:
		return "union"
	default:
		return "record"
	}
}

// Access is the access specifier of a data member.
type Access uint8

const (
	AccessPublic Access = iota
	AccessProtected
	AccessPrivate
)

// VtorDispMode mirrors #pragma vtordisp / the /vd compiler flag.
type VtorDispMode uint8

const (
	// VtorDispForVBaseOverride is /vd1, the MSVC default.
	VtorDispForVBaseOverride VtorDispMode = iota
	// VtorDispNever is /vd0.
	VtorDispNever
	// VtorDispForVFTable is /vd2.
	VtorDispForVFTable
)

func (m VtorDispMode) String() string {
	switch m {
	case VtorDispNever:
		return "never"
	case VtorDispForVFTable:
		return "vftable"
	default:
		return "vbase-override"
	}
}

// RecordAttrs holds the already-resolved layout attributes of a record.
type RecordAttrs struct {
	Packed        bool
	MsStruct      bool
	Mac68k        bool
	MaxFieldAlign int64 // #pragma pack(N) in bytes, 0 when absent
	Align         int64 // aligned(N) / __declspec(align(N)) in bytes, 0 when absent
	VtorDisp      VtorDispMode
	EmptyBases    bool // __declspec(empty_bases)
}

// Base is a direct base-specifier.
type Base struct {
	Record  RecordID
	Virtual bool
}

// Field is a non-static data member.
type Field struct {
	Name     string
	Type     TypeID
	Bitfield bool
	Width    uint32 // bit width, meaningful when Bitfield
	Packed   bool
	Align    int64 // explicit alignment in bytes, 0 when absent
	Access   Access
}

// HasIdentifier reports whether the member is named.
func (f *Field) HasIdentifier() bool { return f.Name != "" }

// IsZeroWidthBitfield reports whether the member is a `T : 0` bitfield.
func (f *Field) IsZeroWidthBitfield() bool { return f.Bitfield && f.Width == 0 }

// MethodRef names a method by its record and its index in Record.Methods.
type MethodRef struct {
	Record RecordID
	Index  int
}

// Method is a member function; only virtual-dispatch facts are kept.
type Method struct {
	Name       string
	Virtual    bool
	Pure       bool
	Destructor bool
	Overrides  []MethodRef
}

// IsVirtual reports whether the method occupies a vtable slot. Overriding a
// virtual method makes a method virtual even without the keyword.
func (m *Method) IsVirtual() bool { return m.Virtual || m.Pure || len(m.Overrides) > 0 }

// Record is the narrow projection of a class declaration the engine reads.
type Record struct {
	Name             string
	Tag              TagKind
	Bases            []Base
	Fields           []Field
	Methods          []Method
	Attrs            RecordAttrs
	UserDeclaredCtor bool
	UserDeclaredDtor bool
	Complete         bool
}

// IsUnion reports whether the record is a union.
func (r *Record) IsUnion() bool { return r.Tag == TagUnion }

// HasUserDeclaredCtorOrDtor reports whether a constructor or destructor was declared.
func (r *Record) HasUserDeclaredCtorOrDtor() bool {
	return r.UserDeclaredCtor || r.UserDeclaredDtor
}

func cloneRecord(r Record) Record {
	out := r
	out.Bases = append([]Base(nil), r.Bases...)
	out.Fields = append([]Field(nil), r.Fields...)
	if len(r.Methods) > 0 {
		out.Methods = make([]Method, len(r.Methods))
		for i, m := range r.Methods {
			m.Overrides = append([]MethodRef(nil), m.Overrides...)
			out.Methods[i] = m
		}
	}
	return out
}
