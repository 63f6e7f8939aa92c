package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"reclayout/internal/version"
)

// newRootCmd assembles the command tree. Each call returns fresh flag state.
// The app must be closed once the command has run.
func newRootCmd() (*cobra.Command, *app) {
	app := &app{}
	rootCmd := &cobra.Command{
		Use:           "reclayout",
		Short:         "C/C++ record layout engine",
		Long:          `reclayout computes struct, class and union layouts for Itanium and Microsoft C++ ABIs`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			app.finish(cmd)
		},
	}

	// Добавляем команды
	rootCmd.AddCommand(newDumpCmd(app))
	rootCmd.AddCommand(newCheckCmd(app))
	rootCmd.AddCommand(newTargetsCmd(app))
	rootCmd.AddCommand(newCacheCmd(app))
	rootCmd.AddCommand(newVersionCmd(app))

	// Глобальные флаги
	pf := rootCmd.PersistentFlags()
	pf.String("color", "auto", "colorize output (auto|on|off)")
	pf.Bool("quiet", false, "suppress non-essential output")
	pf.Bool("timings", false, "show timing information")
	pf.String("ui", "auto", "progress UI on stderr for several files (auto|on|off)")
	pf.String("log-level", "warn", "log level on stderr (debug|info|warn|error)")
	pf.String("config", "", "path to reclayout.toml (default: search upward)")
	pf.Int("max-diagnostics", 100, "maximum number of diagnostics to show per file")
	pf.Bool("warn-padding", false, "report padding and packing notices")
	pf.String("target", "", "target triple (see `reclayout targets`)")
	pf.String("cpuprofile", "", "write a CPU profile to file")
	pf.String("memprofile", "", "write a heap profile to file")
	pf.String("trace-out", "", "write a runtime trace to file")

	return rootCmd, app
}

// main executes the root command and exits with status 1 on failure.
func main() {
	rootCmd, app := newRootCmd()
	err := rootCmd.Execute()
	if closeErr := app.close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if !isSilent(err) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

// isTerminal проверяет, является ли файл терминалом
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the width of f, or 0 when it is not a terminal.
func terminalWidth(f *os.File) int {
	if !isTerminal(f) {
		return 0
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return w
}
