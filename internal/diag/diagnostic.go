package diag

import (
	"fmt"
	"strings"
)

// Subject locates a diagnostic: an optional declaration file position plus
// the record and member it is about.
type Subject struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Record string `json:"record,omitempty"`
	Field  string `json:"field,omitempty"`
}

// IsZero reports whether no location is known.
func (s Subject) IsZero() bool { return s == Subject{} }

func (s Subject) String() string {
	var b strings.Builder
	if s.File != "" {
		b.WriteString(s.File)
		if s.Line > 0 {
			fmt.Fprintf(&b, ":%d", s.Line)
		}
	}
	if s.Record != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s.Record)
		if s.Field != "" {
			b.WriteString("::")
			b.WriteString(s.Field)
		}
	}
	return b.String()
}

type Note struct {
	Subject Subject `json:"subject"`
	Msg     string  `json:"msg"`
}

type Diagnostic struct {
	Severity Severity `json:"severity"`
	Code     Code     `json:"code"`
	Message  string   `json:"message"`
	Primary  Subject  `json:"primary"`
	Notes    []Note   `json:"notes,omitempty"`
}

func New(sev Severity, code Code, primary Subject, msg string) Diagnostic {
	return Diagnostic{
		Severity: sev,
		Code:     code,
		Primary:  primary,
		Message:  msg,
	}
}

func (d Diagnostic) WithNote(sub Subject, msg string) Diagnostic {
	d.Notes = append(d.Notes, Note{Subject: sub, Msg: msg})
	return d
}

// Short renders a single line: "warning LAY1001 file:3 S::b message".
func (d *Diagnostic) Short() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(d.Severity.String()))
	b.WriteByte(' ')
	b.WriteString(d.Code.ID())
	if loc := d.Primary.String(); loc != "" {
		b.WriteByte(' ')
		b.WriteString(loc)
	}
	b.WriteByte(' ')
	b.WriteString(strings.ReplaceAll(d.Message, "\n", " "))
	return b.String()
}
