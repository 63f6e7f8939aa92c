// Package diag defines the diagnostic model shared by the declaration
// loader, the layout engine and the CLI.
//
// # Data model
//
// Diagnostic is the central record. It contains:
//
//   - Severity – tri-level enum (Info, Warning, Error) defined in severity.go.
//   - Code – compact numeric identifier (see codes.go) with stable string form.
//   - Message – human oriented text; keep it short and actionable.
//   - Primary subject – declaration file position plus record/field names.
//   - Notes – optional secondary subjects/messages for additional context.
//
// # Emitting diagnostics
//
// Producers report through a diag.Reporter so emission stays decoupled from
// storage. The layout engine reports -Wpadded / -Wpacked style warnings this
// way; diag.BagReporter aggregates them into a Bag, which supports sorting
// and deduplication. Reporters may be called from several goroutines at
// once when layouts are computed in parallel.
//
// Package diag performs no IO; FormatShortDiagnostics renders to a string
// and the CLI decides where it goes.
package diag
