package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/spf13/cobra"

	"reclayout/internal/diag"
	"reclayout/internal/driver"
	"reclayout/internal/layout"
	"reclayout/internal/recfile"
	"reclayout/internal/testkit"
)

type checkOptions struct {
	jobs int
}

func newCheckCmd(a *app) *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check [flags] <file.toml|dir>...",
		Short: "Compare computed layouts with [record.expect] tables",
		Long: `check lays out every record, verifies layout invariants and compares
the result with the expectations recorded in the declaration files.
It exits non-zero when anything differs.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, a, opts, args)
		},
	}
	cmd.Flags().IntVarP(&opts.jobs, "jobs", "j", 0, "max parallel files (0=auto)")
	return cmd
}

type checkTotals struct {
	checked atomic.Int64
	failed  atomic.Int64
}

func runCheck(cmd *cobra.Command, a *app, opts *checkOptions, args []string) error {
	paths, err := driver.ExpandPaths(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		units  []*driver.Unit
		totals checkTotals
	)
	err = a.withProgress(cmd, "check", paths, func(sink driver.ProgressSink) error {
		// Expectations are checked against freshly computed layouts.
		s, err := a.session(opts.jobs, true, sink)
		if err != nil {
			return err
		}
		if units, err = s.Load(ctx, paths); err != nil {
			return err
		}
		done := a.timer.Track("check")
		err = s.Run(ctx, units, driver.StageCheck, func(_ context.Context, u *driver.Unit) error {
			if u.Err != nil {
				return nil
			}
			return checkUnit(s, a.target, u, &totals)
		})
		done(fmt.Sprintf("%d expectations", totals.checked.Load()))
		return err
	})
	if err != nil {
		return err
	}

	errs := a.printDiagnostics(cmd.ErrOrStderr(), units)
	if !a.quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "checked %d expectation(s) in %d file(s), %d failed\n",
			totals.checked.Load(), len(units), totals.failed.Load())
	}
	if errs > 0 || totals.failed.Load() > 0 {
		return &silentError{msg: "check failed"}
	}
	return nil
}

// checkUnit checks a unit on every target its expectations name, or on its
// own target when it has none. Only the --target flag narrows the set.
func checkUnit(s *driver.Session, only string, u *driver.Unit, totals *checkTotals) error {
	def := s.DefaultTarget(u)
	targets := u.File.ExpectTargets(def)
	if len(targets) == 0 {
		targets = []string{s.TargetFor(u)}
	}
	r := s.Reporter(u)
	for _, triple := range targets {
		if only != "" && triple != only {
			continue
		}
		if _, err := layout.TargetByTriple(triple); err != nil {
			reportUnknownTarget(r, u, def, triple, err)
			totals.failed.Add(1)
			continue
		}
		e, err := s.Engine(u, triple)
		if err != nil {
			return err
		}
		res := u.File.Check(e, def, r)
		totals.checked.Add(int64(res.Checked))
		totals.failed.Add(int64(res.Failed))
		checkInvariants(r, u.File, e, def)
	}
	return nil
}

func reportUnknownTarget(r diag.Reporter, u *driver.Unit, def, triple string, err error) {
	for i := range u.File.Records {
		rec := &u.File.Records[i]
		if !expectsOn(rec, triple, def) {
			continue
		}
		sub := u.File.Locate(rec.Name, "")
		if rec.Expect.Line > 0 {
			sub.Line = rec.Expect.Line
		}
		r.Report(diag.ChkTargetUnknown, diag.SevError, sub, err.Error(), nil)
	}
}

// checkInvariants verifies every complete record of the file. Forward
// declarations are skipped; their users report them. Layout errors of
// records with an expectation on this target were reported by Check.
func checkInvariants(r diag.Reporter, f *recfile.File, e *layout.Engine, def string) {
	for i := range f.Records {
		rec := &f.Records[i]
		if !e.Decls.MustRecord(rec.ID).Complete {
			continue
		}
		err := testkit.CheckLayoutInvariants(e, rec.ID)
		if err == nil {
			continue
		}
		sub := f.Locate(rec.Name, "")
		var le *layout.LayoutError
		if errors.As(err, &le) {
			if expectsOn(rec, e.Target.Triple, def) {
				continue
			}
			r.Report(layout.ErrorCode(err), diag.SevError, sub, err.Error(), nil)
			continue
		}
		r.Report(diag.ChkInvariant, diag.SevError, sub, fmt.Sprintf("%s: %v", e.Target.Triple, err), nil)
	}
}

func expectsOn(rec *recfile.Record, triple, def string) bool {
	if rec.Expect == nil {
		return false
	}
	t := rec.Expect.Target
	if t == "" {
		t = def
	}
	return t == triple
}
