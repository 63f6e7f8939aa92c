package recfile

import (
	"fmt"
	"strconv"
	"strings"

	"reclayout/internal/decl"
)

// typeResolver turns spelled type expressions into arena types.
//
// Grammar:
//
//	type   = [tag] name { "*" | "&" } { "[" [count] "]" }
//	tag    = "struct" | "class" | "union" | "enum"
//
// name is a builtin spelling (possibly several words), a record or an enum.
// Array dimensions bind like a C declarator: "int[2][3]" is two arrays of
// three ints. Only the outermost dimension may be empty.
type typeResolver struct {
	arena   *decl.Arena
	records map[string]decl.RecordID
	enums   map[string]decl.EnumID
}

func (r *typeResolver) resolve(expr string) (decl.TypeID, error) {
	s := strings.TrimSpace(expr)
	if s == "" {
		return decl.NoTypeID, fmt.Errorf("empty type")
	}

	cut := strings.IndexAny(s, "*&[")
	head, rest := s, ""
	if cut >= 0 {
		head, rest = strings.TrimSpace(s[:cut]), s[cut:]
	}
	ty, err := r.named(head)
	if err != nil {
		return decl.NoTypeID, err
	}

	for rest != "" {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" || rest[0] == '[' {
			break
		}
		switch rest[0] {
		case '*':
			ty = r.arena.PointerTo(ty)
		case '&':
			ty = r.arena.ReferenceTo(ty)
		default:
			return decl.NoTypeID, fmt.Errorf("unexpected %q in type %q", rest[:1], expr)
		}
		rest = rest[1:]
	}

	var dims []string
	for rest != "" {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			break
		}
		if rest[0] != '[' {
			return decl.NoTypeID, fmt.Errorf("unexpected %q after array dimension in type %q", rest[:1], expr)
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return decl.NoTypeID, fmt.Errorf("unterminated array dimension in type %q", expr)
		}
		dims = append(dims, strings.TrimSpace(rest[1:end]))
		rest = rest[end+1:]
	}
	for i := len(dims) - 1; i >= 0; i-- {
		if dims[i] == "" {
			if i != 0 {
				return decl.NoTypeID, fmt.Errorf("only the first array dimension may be omitted in %q", expr)
			}
			ty = r.arena.IncompleteArrayOf(ty)
			continue
		}
		n, err := strconv.ParseUint(dims[i], 0, 64)
		if err != nil {
			return decl.NoTypeID, fmt.Errorf("invalid array dimension %q in type %q", dims[i], expr)
		}
		ty = r.arena.ArrayOf(ty, n)
	}
	return ty, nil
}

func (r *typeResolver) named(head string) (decl.TypeID, error) {
	words := strings.Fields(head)
	if len(words) == 0 {
		return decl.NoTypeID, fmt.Errorf("missing type name")
	}
	switch words[0] {
	case "struct", "class", "union":
		if len(words) != 2 {
			return decl.NoTypeID, fmt.Errorf("malformed record type %q", head)
		}
		return r.record(words[1])
	case "enum":
		if len(words) != 2 {
			return decl.NoTypeID, fmt.Errorf("malformed enum type %q", head)
		}
		return r.enum(words[1])
	}
	spelled := strings.Join(words, " ")
	if b, ok := decl.BuiltinByName(spelled); ok {
		return r.arena.Builtin(b), nil
	}
	if len(words) == 1 {
		if _, ok := r.records[spelled]; ok {
			return r.record(spelled)
		}
		if _, ok := r.enums[spelled]; ok {
			return r.enum(spelled)
		}
	}
	return decl.NoTypeID, &unknownTypeError{name: spelled}
}

func (r *typeResolver) record(name string) (decl.TypeID, error) {
	id, ok := r.records[name]
	if !ok {
		return decl.NoTypeID, &unknownTypeError{name: name, record: true}
	}
	return r.arena.RecordType(id), nil
}

func (r *typeResolver) enum(name string) (decl.TypeID, error) {
	id, ok := r.enums[name]
	if !ok {
		return decl.NoTypeID, &unknownTypeError{name: name}
	}
	return r.arena.EnumType(id), nil
}

type unknownTypeError struct {
	name   string
	record bool
}

func (e *unknownTypeError) Error() string {
	if e.record {
		return fmt.Sprintf("unknown record '%s'", e.name)
	}
	return fmt.Sprintf("unknown type '%s'", e.name)
}
