package decl

import (
	"fmt"
	"sync"

	"fortio.org/safecast"
)

// Arena stores records, enums and interned types behind stable integer IDs.
//
// Construction (Intern, NewRecord, Define, Update) must not race with
// readers. Once populated, an Arena may be read from many goroutines;
// derived class properties are memoised under an internal lock.
type Arena struct {
	types   []Type
	index   map[Type]TypeID
	records []Record
	enums   []Enum
	byName  map[string]RecordID

	generation uint64

	mu    sync.Mutex
	props map[RecordID]*classProps
}

// NewArena constructs an arena with the zero IDs reserved as sentinels.
func NewArena() *Arena {
	a := &Arena{
		index:  make(map[Type]TypeID, 64),
		byName: make(map[string]RecordID, 32),
	}
	a.types = append(a.types, Type{Kind: KindInvalid})
	a.records = append(a.records, Record{})
	a.enums = append(a.enums, Enum{})
	return a
}

// Intern returns the stable TypeID for the descriptor.
func (a *Arena) Intern(t Type) TypeID {
	if t.Kind == KindInvalid {
		return NoTypeID
	}
	if id, ok := a.index[t]; ok {
		return id
	}
	n, err := safecast.Conv[uint32](len(a.types))
	if err != nil {
		panic(fmt.Errorf("len(types) overflow: %w", err))
	}
	id := TypeID(n)
	a.types = append(a.types, t)
	a.index[t] = id
	return id
}

// Builtin returns the TypeID of a scalar type.
func (a *Arena) Builtin(b Builtin) TypeID {
	return a.Intern(Type{Kind: KindBuiltin, Builtin: b})
}

// PointerTo returns the TypeID of T*.
func (a *Arena) PointerTo(elem TypeID) TypeID {
	return a.Intern(Type{Kind: KindPointer, Elem: elem})
}

// ReferenceTo returns the TypeID of T&.
func (a *Arena) ReferenceTo(elem TypeID) TypeID {
	return a.Intern(Type{Kind: KindReference, Elem: elem})
}

// ArrayOf returns the TypeID of T[n].
func (a *Arena) ArrayOf(elem TypeID, n uint64) TypeID {
	return a.Intern(Type{Kind: KindArray, Elem: elem, Count: n})
}

// IncompleteArrayOf returns the TypeID of T[], used by flexible array members.
func (a *Arena) IncompleteArrayOf(elem TypeID) TypeID {
	return a.Intern(Type{Kind: KindIncompleteArray, Elem: elem})
}

// RecordType returns the TypeID naming a record by value.
func (a *Arena) RecordType(id RecordID) TypeID {
	return a.Intern(Type{Kind: KindRecord, Record: id})
}

// EnumType returns the TypeID naming an enum.
func (a *Arena) EnumType(id EnumID) TypeID {
	e, ok := a.Enum(id)
	if !ok {
		return NoTypeID
	}
	return a.Intern(Type{Kind: KindEnum, Enum: id, Builtin: e.Underlying})
}

// Lookup returns the descriptor for a TypeID.
func (a *Arena) Lookup(id TypeID) (Type, bool) {
	if id == NoTypeID || int(id) >= len(a.types) {
		return Type{}, false
	}
	return a.types[id], true
}

// MustLookup panics when id is invalid.
func (a *Arena) MustLookup(id TypeID) Type {
	t, ok := a.Lookup(id)
	if !ok {
		panic("decl: invalid TypeID")
	}
	return t
}

// BaseElement strips every array level from t and returns the element type.
func (a *Arena) BaseElement(id TypeID) (TypeID, uint64) {
	count := uint64(1)
	for {
		t, ok := a.Lookup(id)
		if !ok {
			return id, count
		}
		switch t.Kind {
		case KindArray:
			count *= t.Count
			id = t.Elem
		case KindIncompleteArray:
			count = 0
			id = t.Elem
		default:
			return id, count
		}
	}
}

// AsRecord returns the record named by a by-value record type.
func (a *Arena) AsRecord(id TypeID) (RecordID, bool) {
	t, ok := a.Lookup(id)
	if !ok || t.Kind != KindRecord {
		return NoRecordID, false
	}
	return t.Record, true
}

// NewEnum declares an enumeration with the given underlying type.
func (a *Arena) NewEnum(name string, underlying Builtin) EnumID {
	n, err := safecast.Conv[uint32](len(a.enums))
	if err != nil {
		panic(fmt.Errorf("len(enums) overflow: %w", err))
	}
	a.enums = append(a.enums, Enum{Name: name, Underlying: underlying})
	return EnumID(n)
}

// Enum returns an enum declaration.
func (a *Arena) Enum(id EnumID) (Enum, bool) {
	if id == NoEnumID || int(id) >= len(a.enums) {
		return Enum{}, false
	}
	return a.enums[id], true
}

// NewRecord forward-declares a record. It stays incomplete until Define.
func (a *Arena) NewRecord(name string, tag TagKind) RecordID {
	n, err := safecast.Conv[uint32](len(a.records))
	if err != nil {
		panic(fmt.Errorf("len(records) overflow: %w", err))
	}
	id := RecordID(n)
	a.records = append(a.records, Record{Name: name, Tag: tag})
	if name != "" {
		if _, dup := a.byName[name]; !dup {
			a.byName[name] = id
		}
	}
	return id
}

// Define completes a forward-declared record.
func (a *Arena) Define(id RecordID, rec Record) {
	a.Update(id, rec)
}

// Update replaces the record's shape. Layouts computed from the old shape
// are stale afterwards and must be invalidated by their owner.
func (a *Arena) Update(id RecordID, rec Record) {
	if id == NoRecordID || int(id) >= len(a.records) {
		panic("decl: invalid RecordID")
	}
	rec = cloneRecord(rec)
	rec.Complete = true
	if rec.Name == "" {
		rec.Name = a.records[id].Name
	}
	a.records[id] = rec
	a.generation++
	a.mu.Lock()
	a.props = nil
	a.mu.Unlock()
}

// Record returns the record declaration. The result must be treated as read-only.
func (a *Arena) Record(id RecordID) (*Record, bool) {
	if id == NoRecordID || int(id) >= len(a.records) {
		return nil, false
	}
	return &a.records[id], true
}

// MustRecord panics when id is invalid.
func (a *Arena) MustRecord(id RecordID) *Record {
	r, ok := a.Record(id)
	if !ok {
		panic("decl: invalid RecordID")
	}
	return r
}

// RecordByName returns the first record declared with name.
func (a *Arena) RecordByName(name string) (RecordID, bool) {
	id, ok := a.byName[name]
	return id, ok
}

// NumRecords returns the number of declared records.
func (a *Arena) NumRecords() int { return len(a.records) - 1 }

// Records returns every declared record ID in declaration order.
func (a *Arena) Records() []RecordID {
	out := make([]RecordID, 0, len(a.records)-1)
	for i := 1; i < len(a.records); i++ {
		n, err := safecast.Conv[uint32](i)
		if err != nil {
			break
		}
		out = append(out, RecordID(n))
	}
	return out
}

// Generation increases every time a record shape changes.
func (a *Arena) Generation() uint64 { return a.generation }

// RecordName returns a printable name for id.
func (a *Arena) RecordName(id RecordID) string {
	r, ok := a.Record(id)
	if !ok {
		return fmt.Sprintf("record#%d", id)
	}
	if r.Name == "" {
		return fmt.Sprintf("(anonymous %s#%d)", r.Tag, id)
	}
	return r.Name
}

// TypeString renders a type in C declarator-ish notation.
func (a *Arena) TypeString(id TypeID) string {
	t, ok := a.Lookup(id)
	if !ok {
		return "<invalid>"
	}
	switch t.Kind {
	case KindBuiltin:
		return t.Builtin.String()
	case KindPointer:
		return a.TypeString(t.Elem) + " *"
	case KindReference:
		return a.TypeString(t.Elem) + " &"
	case KindArray:
		return fmt.Sprintf("%s[%d]", a.TypeString(t.Elem), t.Count)
	case KindIncompleteArray:
		return a.TypeString(t.Elem) + "[]"
	case KindRecord:
		r, ok := a.Record(t.Record)
		if !ok {
			return "<invalid record>"
		}
		return r.Tag.String() + " " + a.RecordName(t.Record)
	case KindEnum:
		e, _ := a.Enum(t.Enum)
		return "enum " + e.Name
	default:
		return t.Kind.String()
	}
}
