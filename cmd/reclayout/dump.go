package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"reclayout/internal/decl"
	"reclayout/internal/diag"
	"reclayout/internal/driver"
	"reclayout/internal/dump"
	"reclayout/internal/layout"
)

type dumpOptions struct {
	records []string
	format  string
	jobs    int
	noCache bool
}

func newDumpCmd(a *app) *cobra.Command {
	opts := &dumpOptions{}
	cmd := &cobra.Command{
		Use:   "dump [flags] <file.toml|dir>...",
		Short: "Print computed record layouts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("format") && a.cfg.Output.Format != "" {
				opts.format = a.cfg.Output.Format
			}
			return runDump(cmd, a, opts, args)
		},
	}
	cmd.Flags().StringArrayVar(&opts.records, "record", nil, "record to dump (repeatable, default: all)")
	cmd.Flags().StringVar(&opts.format, "format", "text", "output format (text|json|summary)")
	cmd.Flags().IntVarP(&opts.jobs, "jobs", "j", 0, "max parallel files (0=auto)")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "ignore the on-disk layout cache")
	return cmd
}

// dumpResult is the rendered output of one unit.
type dumpResult struct {
	out  bytes.Buffer
	json []dump.RecordJSON
	// matched marks the --record names found in the unit.
	matched map[string]bool
}

func runDump(cmd *cobra.Command, a *app, opts *dumpOptions, args []string) error {
	switch opts.format {
	case "text", "json", "summary":
	default:
		return fmt.Errorf("unsupported format %q (must be text, json or summary)", opts.format)
	}
	paths, err := driver.ExpandPaths(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		units   []*driver.Unit
		results []dumpResult
	)
	err = a.withProgress(cmd, "dump", paths, func(sink driver.ProgressSink) error {
		s, err := a.session(opts.jobs, opts.noCache, sink)
		if err != nil {
			return err
		}
		if units, err = s.Load(ctx, paths); err != nil {
			return err
		}

		done := a.timer.Track("layout")
		results = make([]dumpResult, len(units))
		index := make(map[*driver.Unit]int, len(units))
		for i, u := range units {
			index[u] = i
		}
		width := 0
		if f, ok := cmd.OutOrStdout().(*os.File); ok {
			width = terminalWidth(f)
		}
		err = s.Run(ctx, units, driver.StageLayout, func(_ context.Context, u *driver.Unit) error {
			if u.Err != nil {
				return nil
			}
			res := &results[index[u]]
			e, err := s.Engine(u, s.TargetFor(u))
			if err != nil {
				return err
			}
			ids, matched := selectRecords(u, opts.records)
			res.matched = matched
			if err := a.render(res, e, u, ids, opts.format, width, len(units) > 1); err != nil {
				return err
			}
			s.Store(u, e)
			return nil
		})
		done(fmt.Sprintf("%d files", len(units)))
		return err
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		all := make([]dump.RecordJSON, 0)
		for i := range results {
			all = append(all, results[i].json...)
		}
		if err := dump.WriteJSON(out, all); err != nil {
			return err
		}
	} else {
		for i := range results {
			if _, err := out.Write(results[i].out.Bytes()); err != nil {
				return err
			}
		}
	}

	var missing []string
	for _, name := range opts.records {
		found := false
		for i := range results {
			found = found || results[i].matched[name]
		}
		if !found {
			missing = append(missing, name)
		}
	}
	errs := a.printDiagnostics(cmd.ErrOrStderr(), units)
	if len(missing) > 0 {
		return fmt.Errorf("no record named %s", strings.Join(missing, ", "))
	}
	if errs > 0 {
		return &silentError{msg: fmt.Sprintf("%d error(s)", errs)}
	}
	return nil
}

// selectRecords picks the named records present in u, or every record.
func selectRecords(u *driver.Unit, names []string) ([]decl.RecordID, map[string]bool) {
	if len(names) == 0 {
		ids, _ := u.Records(nil)
		return ids, nil
	}
	matched := make(map[string]bool, len(names))
	ids := make([]decl.RecordID, 0, len(names))
	for _, name := range names {
		if rec, ok := u.File.Record(name); ok {
			matched[name] = true
			ids = append(ids, rec.ID)
		}
	}
	return ids, matched
}

func (a *app) render(res *dumpResult, e *layout.Engine, u *driver.Unit, ids []decl.RecordID, format string, width int, header bool) error {
	r := diag.BagReporter{Bag: u.Bag}
	fail := func(id decl.RecordID, err error) {
		name := e.Decls.RecordName(id)
		r.Report(layout.ErrorCode(err), diag.SevError, u.File.Locate(name, ""), err.Error(), nil)
	}
	switch format {
	case "json":
		for _, id := range ids {
			rj, err := dump.Record(e, id)
			if err != nil {
				fail(id, err)
				continue
			}
			res.json = append(res.json, rj)
		}
	case "summary":
		if header {
			fmt.Fprintf(&res.out, "# %s (%s)\n", u.Path, e.Target.Triple)
		}
		rows := dump.Summarize(e, ids)
		for i, row := range rows {
			if row.Err != nil {
				fail(ids[i], row.Err)
			}
		}
		return dump.Summary(&res.out, rows, width, dump.Options{Color: a.color})
	default:
		if header {
			fmt.Fprintf(&res.out, "# %s (%s)\n", u.Path, e.Target.Triple)
		}
		for _, id := range ids {
			if err := dump.Text(&res.out, e, id, dump.Options{Color: a.color}); err != nil {
				fail(id, err)
			}
		}
	}
	return nil
}
