package driver

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"reclayout/internal/diag"
	"reclayout/internal/recfile"
)

// ExpandPaths replaces directories with the sorted *.toml files below them.
// Plain files are kept as given, even without the extension.
func ExpandPaths(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		var files []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(path, ".toml") && filepath.Base(path) != ConfigFileName {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		// Сортируем для детерминированного порядка
		sort.Strings(files)
		out = append(out, files...)
	}
	return out, nil
}

func (s *Session) jobs(n int) int {
	jobs := s.opts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	return max(1, min(jobs, n))
}

// Load reads every file concurrently. Units come back in input order; a
// file that fails to load has Err set and an I/O diagnostic in its bag.
func (s *Session) Load(ctx context.Context, paths []string) ([]*Unit, error) {
	done := s.opts.Timer.Track("load")
	units := make([]*Unit, len(paths))
	for i, p := range paths {
		units[i] = &Unit{Path: p, Bag: diag.NewBag(s.opts.MaxDiagnostics)}
		s.emit(Event{File: p, Stage: StageLoad, Status: StatusQueued})
	}
	err := s.Run(ctx, units, StageLoad, func(_ context.Context, u *Unit) error {
		f, err := recfile.Load(u.Path, diag.BagReporter{Bag: u.Bag})
		if err != nil {
			u.Err = err
			if !u.Bag.HasErrors() {
				diag.ReportError(diag.BagReporter{Bag: u.Bag}, diag.IOLoadFileError, diag.Subject{File: u.Path},
					"failed to load file: "+err.Error()).Emit()
			}
			s.log.Debug("load failed", zap.String("file", u.Path), zap.Error(err))
			return nil
		}
		u.File = f
		s.log.Debug("loaded", zap.String("file", u.Path), zap.Int("records", len(f.Records)))
		return nil
	})
	done(plural(len(paths), "file"))
	return units, err
}

// Each runs fn over units with at most Jobs goroutines, including units
// that failed to load. The first error cancels the remaining work.
func (s *Session) Each(ctx context.Context, units []*Unit, fn func(context.Context, *Unit) error) error {
	if len(units) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.jobs(len(units)))
	for _, u := range units {
		g.Go(func() error {
			// Проверка отмены
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			return fn(gctx, u)
		})
	}
	return g.Wait()
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
