package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"reclayout/internal/driver"
	"reclayout/internal/ui"
)

type uiMode string

const (
	uiModeAuto uiMode = "auto"
	uiModeOn   uiMode = "on"
	uiModeOff  uiMode = "off"
)

func readUIMode(value string) (uiMode, error) {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "", "auto":
		return uiModeAuto, nil
	case "on":
		return uiModeOn, nil
	case "off":
		return uiModeOff, nil
	default:
		return "", fmt.Errorf("invalid --ui value %q (expected auto|on|off)", value)
	}
}

// shouldUseTUI decides whether the progress view draws on w. In auto mode it
// needs a terminal and more than one file.
func shouldUseTUI(mode uiMode, w io.Writer, files int, quiet bool) bool {
	switch mode {
	case uiModeOn:
		return true
	case uiModeOff:
		return false
	}
	if quiet || files < 2 {
		return false
	}
	f, ok := w.(*os.File)
	return ok && isTerminal(f)
}

// withProgress runs work, showing a progress view on stderr when enabled.
// work receives the sink to pass to the session, nil without a view.
func (a *app) withProgress(cmd *cobra.Command, title string, files []string, work func(driver.ProgressSink) error) error {
	out := cmd.ErrOrStderr()
	if !shouldUseTUI(a.ui, out, len(files), a.quiet) {
		return work(nil)
	}

	events := make(chan driver.Event, 256)
	outcome := make(chan error, 1)
	go func() {
		err := work(driver.ChannelSink{Ch: events})
		close(events)
		outcome <- err
	}()

	program := tea.NewProgram(ui.NewProgressModel(title, files, events), tea.WithOutput(out), tea.WithInput(nil))
	_, uiErr := program.Run()
	if uiErr != nil {
		// Keep the workers unblocked once nobody renders.
		for range events {
		}
	}
	err := <-outcome
	if uiErr != nil && err == nil {
		return fmt.Errorf("progress view: %w", uiErr)
	}
	return err
}
