package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"reclayout/internal/dcache"
	"reclayout/internal/diag"
	"reclayout/internal/driver"
	"reclayout/internal/observ"
	"reclayout/internal/prof"
)

// app holds state resolved once per invocation from global flags and the
// configuration file.
type app struct {
	cfg     *driver.Config
	log     *zap.Logger
	timer   *observ.Timer
	prof    *prof.Session
	color   bool
	quiet   bool
	timings bool
	ui      uiMode

	target         string
	maxDiagnostics int
	warnPadding    bool
}

// silentError is returned once the failure has already been reported.
type silentError struct{ msg string }

func (e *silentError) Error() string { return e.msg }

func isSilent(err error) bool {
	var s *silentError
	return errors.As(err, &s)
}

func (a *app) init(cmd *cobra.Command) error {
	flags := cmd.Flags()
	var err error
	if a.quiet, err = flags.GetBool("quiet"); err != nil {
		return err
	}
	if a.timings, err = flags.GetBool("timings"); err != nil {
		return err
	}
	if a.maxDiagnostics, err = flags.GetInt("max-diagnostics"); err != nil {
		return err
	}
	if a.warnPadding, err = flags.GetBool("warn-padding"); err != nil {
		return err
	}
	if a.target, err = flags.GetString("target"); err != nil {
		return err
	}
	level, err := flags.GetString("log-level")
	if err != nil {
		return err
	}
	if a.log, err = newLogger(level, cmd.ErrOrStderr()); err != nil {
		return err
	}

	configPath, err := flags.GetString("config")
	if err != nil {
		return err
	}
	if a.cfg, err = driver.DiscoverConfig(configPath, "."); err != nil {
		return err
	}
	if a.cfg.Path != "" {
		a.log.Debug("using config", zap.String("path", a.cfg.Path))
	}

	mode, err := flags.GetString("color")
	if err != nil {
		return err
	}
	if !flags.Changed("color") && a.cfg.Output.Color != "" {
		mode = a.cfg.Output.Color
	}
	if a.color, err = resolveColor(mode, cmd.OutOrStdout()); err != nil {
		return err
	}

	if a.timings {
		a.timer = observ.NewTimer()
	}

	uiValue, err := flags.GetString("ui")
	if err != nil {
		return err
	}
	if a.ui, err = readUIMode(uiValue); err != nil {
		return err
	}

	var popts prof.Options
	if popts.CPU, err = flags.GetString("cpuprofile"); err != nil {
		return err
	}
	if popts.Mem, err = flags.GetString("memprofile"); err != nil {
		return err
	}
	if popts.Trace, err = flags.GetString("trace-out"); err != nil {
		return err
	}
	if a.prof, err = prof.Start(popts); err != nil {
		return fmt.Errorf("failed to start profiling: %w", err)
	}
	return nil
}

func (a *app) finish(cmd *cobra.Command) {
	if a.timer != nil {
		fmt.Fprint(cmd.ErrOrStderr(), a.timer.Summary())
		a.timer.Log(a.log)
	}
}

// close stops profiles and flushes the logger. It runs whether or not the
// command succeeded.
func (a *app) close() error {
	err := a.prof.Stop()
	a.prof = nil
	if a.log != nil {
		_ = a.log.Sync()
	}
	return err
}

func resolveColor(mode string, out io.Writer) (bool, error) {
	switch mode {
	case "on":
		return true, nil
	case "off":
		return false, nil
	case "auto":
		f, ok := out.(*os.File)
		return ok && isTerminal(f), nil
	default:
		return false, fmt.Errorf("invalid --color value %q (must be auto, on or off)", mode)
	}
}

// newLogger writes human readable records to w at the given level.
func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.TimeKey = ""
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(zapcore.AddSync(w)), lvl)
	return zap.New(core), nil
}

// session builds the driver session for one command.
func (a *app) session(jobs int, noCache bool, progress driver.ProgressSink) (*driver.Session, error) {
	opts := driver.Options{
		Target:         a.target,
		DefaultTarget:  a.cfg.Target.Triple,
		Language:       a.cfg.Layout.Language,
		MaxDepth:       a.cfg.Layout.MaxDepth,
		MaxDiagnostics: a.maxDiagnostics,
		WarnPadding:    a.warnPadding,
		Jobs:           jobs,
		Logger:         a.log,
		Timer:          a.timer,
		Progress:       progress,
	}
	if !noCache && a.cfg.CacheEnabled() {
		c, err := a.openCache()
		if err != nil {
			// A broken cache directory only costs speed.
			a.log.Warn("layout cache disabled", zap.Error(err))
		} else {
			opts.Cache = c
		}
	}
	return driver.NewSession(opts)
}

func (a *app) cacheDir() (string, error) {
	if a.cfg.Cache.Dir != "" {
		return a.cfg.Cache.Dir, nil
	}
	return dcache.DefaultDir("reclayout")
}

func (a *app) openCache() (*dcache.Cache, error) {
	dir, err := a.cacheDir()
	if err != nil {
		return nil, err
	}
	return dcache.Open(dir)
}

// printDiagnostics writes every unit's diagnostics to w. Quiet mode keeps
// errors only. It returns the number of errors.
func (a *app) printDiagnostics(w io.Writer, units []*driver.Unit) int {
	errs := 0
	var all []diag.Diagnostic
	for _, u := range units {
		u.Bag.Dedup()
		for _, d := range u.Bag.Items() {
			if d.Severity >= diag.SevError {
				errs++
			} else if a.quiet {
				continue
			}
			all = append(all, d)
		}
	}
	if len(all) == 0 {
		return errs
	}
	text := diag.FormatShortDiagnostics(all, true)
	if a.color {
		text = colorizeDiagnostics(text)
	}
	fmt.Fprintln(w, text)
	return errs
}

func colorizeDiagnostics(text string) string {
	sev := map[string]*color.Color{
		"error":   color.New(color.FgRed, color.Bold),
		"warning": color.New(color.FgYellow, color.Bold),
		"info":    color.New(color.FgCyan),
		"note":    color.New(color.FgBlue),
	}
	for _, c := range sev {
		c.EnableColor()
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		head, rest, ok := strings.Cut(line, " ")
		c, known := sev[head]
		if !ok || !known {
			continue
		}
		lines[i] = c.Sprint(head) + " " + rest
	}
	return strings.Join(lines, "\n")
}
