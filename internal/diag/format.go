package diag

import (
	"sort"
	"strings"
)

// FormatShortDiagnostics renders diagnostics one per line in a stable order,
// suitable for golden files and the CLI short output. Notes follow their
// parent prefixed with "note".
func FormatShortDiagnostics(diags []Diagnostic, includeNotes bool) string {
	if len(diags) == 0 {
		return ""
	}
	sorted := append([]Diagnostic(nil), diags...)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := sorted[i].Primary, sorted[j].Primary
		if pi.File != pj.File {
			return pi.File < pj.File
		}
		if pi.Line != pj.Line {
			return pi.Line < pj.Line
		}
		if pi.Record != pj.Record {
			return pi.Record < pj.Record
		}
		return sorted[i].Code < sorted[j].Code
	})
	lines := make([]string, 0, len(sorted))
	for i := range sorted {
		d := &sorted[i]
		lines = append(lines, d.Short())
		if !includeNotes {
			continue
		}
		for _, n := range d.Notes {
			note := Diagnostic{Severity: SevInfo, Code: d.Code, Primary: n.Subject, Message: n.Msg}
			lines = append(lines, "note"+strings.TrimPrefix(note.Short(), "info"))
		}
	}
	return strings.Join(lines, "\n")
}
