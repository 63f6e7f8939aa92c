package recfile

import (
	"fmt"
	"sort"

	"reclayout/internal/decl"
	"reclayout/internal/diag"
	"reclayout/internal/layout"
)

// CheckResult counts the expectations compared against one engine.
type CheckResult struct {
	Checked int
	Failed  int
}

// ExpectTargets lists the distinct targets named by expectations. def is
// used for expectations without a target.
func (f *File) ExpectTargets(def string) []string {
	seen := make(map[string]struct{}, 2)
	for i := range f.Records {
		e := f.Records[i].Expect
		if e == nil {
			continue
		}
		t := e.Target
		if t == "" {
			t = def
		}
		seen[t] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Check compares every expectation aimed at the engine's target with the
// computed layout. def is the target of expectations that name none.
func (f *File) Check(e *layout.Engine, def string, r diag.Reporter) CheckResult {
	if r == nil {
		r = diag.NopReporter{}
	}
	var res CheckResult
	for i := range f.Records {
		rec := &f.Records[i]
		exp := rec.Expect
		if exp == nil {
			continue
		}
		target := exp.Target
		if target == "" {
			target = def
		}
		if target != e.Target.Triple {
			continue
		}
		res.Checked++
		if !f.checkRecord(e, rec, r) {
			res.Failed++
		}
	}
	return res
}

func (f *File) checkRecord(e *layout.Engine, rec *Record, r diag.Reporter) bool {
	exp := rec.Expect
	sub := diag.Subject{File: f.Path, Line: exp.Line, Record: rec.Name}
	if sub.Line == 0 {
		sub.Line = rec.Line
	}
	l, err := e.LayoutOf(rec.ID)
	if err != nil {
		r.Report(layout.ErrorCode(err), diag.SevError, sub, err.Error(), nil)
		return false
	}
	ok := true
	fail := func(code diag.Code, sub diag.Subject, format string, args ...any) {
		ok = false
		r.Report(code, diag.SevError, sub, fmt.Sprintf(format, args...), nil)
	}

	if exp.Size != nil && *exp.Size != l.Size {
		fail(diag.ChkSizeMismatch, sub, "expected sizeof=%d, computed %d on %s", *exp.Size, l.Size, e.Target.Triple)
	}
	if exp.Align != nil && *exp.Align != l.Alignment {
		fail(diag.ChkAlignMismatch, sub, "expected align=%d, computed %d on %s", *exp.Align, l.Alignment, e.Target.Triple)
	}
	if exp.Fields != nil {
		fields := e.Decls.MustRecord(rec.ID).Fields
		for i, want := range exp.Fields {
			if i >= len(l.FieldOffsets) {
				break
			}
			if got := l.FieldOffsets[i]; got != want {
				ok = false
				name := fieldLabel(fields, i)
				diag.ReportError(r, diag.ChkFieldMismatch, f.Locate(rec.Name, name),
					fmt.Sprintf("expected field '%s' at bit %d, computed %d on %s", name, want, got, e.Target.Triple)).
					WithNote(sub, "expectation declared here").
					Emit()
			}
		}
	}
	for _, name := range sortedKeys(exp.Bases) {
		want := exp.Bases[name]
		id, _ := e.Decls.RecordByName(name)
		got, found := l.BaseClassOffset(id)
		switch {
		case !found:
			fail(diag.ChkBaseMismatch, sub, "'%s' is not a direct non-virtual base", name)
		case got != want:
			fail(diag.ChkBaseMismatch, sub, "expected base '%s' at %d, computed %d", name, want, got)
		}
	}
	for _, name := range sortedKeys(exp.VBases) {
		want := exp.VBases[name]
		id, _ := e.Decls.RecordByName(name)
		got, found := l.VBaseClassOffset(id)
		switch {
		case !found:
			fail(diag.ChkVBaseMismatch, sub, "'%s' is not a virtual base", name)
		case got != want:
			fail(diag.ChkVBaseMismatch, sub, "expected virtual base '%s' at %d, computed %d", name, want, got)
		}
	}
	return ok
}

func fieldLabel(fields []decl.Field, i int) string {
	if i < len(fields) && fields[i].Name != "" {
		return fields[i].Name
	}
	return fmt.Sprintf("#%d", i)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
