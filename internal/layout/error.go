package layout

import (
	"errors"
	"fmt"
	"strings"

	"reclayout/internal/decl"
	"reclayout/internal/diag"
)

// LayoutErrorKind enumerates types of layout calculation errors.
type LayoutErrorKind uint8

const (
	// LayoutErrIncomplete indicates a record, or a record it needs by value,
	// that was only forward-declared.
	LayoutErrIncomplete LayoutErrorKind = iota + 1
	// LayoutErrRecursive indicates a record that contains itself by value
	// or inherits from itself.
	LayoutErrRecursive
	// LayoutErrInvalidDecl indicates a declaration the layout rules reject.
	LayoutErrInvalidDecl
	// LayoutErrDepthExceeded indicates nesting beyond the engine's depth bound.
	LayoutErrDepthExceeded
)

func (k LayoutErrorKind) String() string {
	switch k {
	case LayoutErrIncomplete:
		return "incomplete"
	case LayoutErrRecursive:
		return "recursive"
	case LayoutErrInvalidDecl:
		return "invalid"
	case LayoutErrDepthExceeded:
		return "depth-exceeded"
	default:
		return fmt.Sprintf("LayoutErrorKind(%d)", k)
	}
}

// LayoutError represents an error during record layout calculation.
type LayoutError struct {
	Kind   LayoutErrorKind
	Record decl.RecordID
	Name   string
	Cycle  []string // for LayoutErrRecursive
	Detail string   // for LayoutErrInvalidDecl
	Depth  int      // for LayoutErrDepthExceeded
}

func (e *LayoutError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch e.Kind {
	case LayoutErrIncomplete:
		return fmt.Sprintf("record '%s' is incomplete", e.Name)
	case LayoutErrRecursive:
		if len(e.Cycle) == 0 {
			return fmt.Sprintf("record '%s' contains itself", e.Name)
		}
		return fmt.Sprintf("record '%s' contains itself (cycle: %s)", e.Name, strings.Join(e.Cycle, " -> "))
	case LayoutErrInvalidDecl:
		return fmt.Sprintf("invalid record '%s': %s", e.Name, e.Detail)
	case LayoutErrDepthExceeded:
		return fmt.Sprintf("record '%s' nests deeper than %d levels", e.Name, e.Depth)
	default:
		return fmt.Sprintf("layout error kind=%d record '%s'", e.Kind, e.Name)
	}
}

// ErrorCode maps a layout error to its diagnostic code. Errors that are not
// a *LayoutError map to diag.LayInvalidDecl.
func ErrorCode(err error) diag.Code {
	var le *LayoutError
	if !errors.As(err, &le) {
		return diag.LayInvalidDecl
	}
	switch le.Kind {
	case LayoutErrIncomplete:
		return diag.LayIncomplete
	case LayoutErrRecursive:
		return diag.LayRecursive
	case LayoutErrDepthExceeded:
		return diag.LayDepthExceeded
	default:
		return diag.LayInvalidDecl
	}
}

func (e *Engine) invalid(id decl.RecordID, format string, args ...any) *LayoutError {
	return &LayoutError{
		Kind:   LayoutErrInvalidDecl,
		Record: id,
		Name:   e.Decls.RecordName(id),
		Detail: fmt.Sprintf(format, args...),
	}
}
