package driver

import (
	"go.uber.org/zap"

	"reclayout/internal/diag"
	"reclayout/internal/recfile"
)

// locatingReporter fills file positions for diagnostics that name a record
// of the file but carry no position.
type locatingReporter struct {
	file *recfile.File
	next diag.Reporter
}

func (r *locatingReporter) Report(code diag.Code, sev diag.Severity, primary diag.Subject, msg string, notes []diag.Note) {
	primary = r.locate(primary)
	if len(notes) > 0 {
		located := make([]diag.Note, len(notes))
		for i, n := range notes {
			located[i] = diag.Note{Subject: r.locate(n.Subject), Msg: n.Msg}
		}
		notes = located
	}
	r.next.Report(code, sev, primary, msg, notes)
}

func (r *locatingReporter) locate(s diag.Subject) diag.Subject {
	if s.File != "" || s.Record == "" {
		return s
	}
	return r.file.Locate(s.Record, s.Field)
}

// paddingFilter drops the -Wpadded and -Wpacked style notices.
type paddingFilter struct {
	next diag.Reporter
}

func (r paddingFilter) Report(code diag.Code, sev diag.Severity, primary diag.Subject, msg string, notes []diag.Note) {
	if isPaddingNotice(code) {
		return
	}
	r.next.Report(code, sev, primary, msg, notes)
}

func isPaddingNotice(code diag.Code) bool {
	switch code {
	case diag.LayPaddedField, diag.LayPaddedAnonField, diag.LayPaddedBitfield,
		diag.LayPaddedRecord, diag.LayUnnecessaryPacked:
		return true
	}
	return false
}

// logReporter mirrors diagnostics into the debug log.
type logReporter struct {
	log *zap.Logger
}

func (r logReporter) Report(code diag.Code, sev diag.Severity, primary diag.Subject, msg string, notes []diag.Note) {
	if ce := r.log.Check(zap.DebugLevel, "diagnostic"); ce != nil {
		ce.Write(
			zap.String("code", code.ID()),
			zap.Stringer("severity", sev),
			zap.Stringer("at", primary),
			zap.String("msg", msg),
			zap.Int("notes", len(notes)),
		)
	}
}
