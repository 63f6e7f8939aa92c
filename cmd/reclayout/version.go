package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"reclayout/internal/version"
)

type versionOptions struct {
	format   string
	showHash bool
	showDate bool
}

type versionPayload struct {
	Tool         string `json:"tool"`
	Version      string `json:"version"`
	LayoutSchema uint16 `json:"layout_schema"`
	GitCommit    string `json:"git_commit,omitempty"`
	Modified     bool   `json:"modified,omitempty"`
	BuildDate    string `json:"build_date,omitempty"`
}

func newVersionCmd(a *app) *cobra.Command {
	var (
		format   string
		showHash bool
		showDate bool
		showFull bool
	)
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show reclayout build fingerprints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := versionOptions{
				format:   strings.ToLower(format),
				showHash: showHash || showFull,
				showDate: showDate || showFull,
			}
			switch opts.format {
			case "pretty", "json":
				// supported
			default:
				return fmt.Errorf("unsupported format %q (must be pretty or json)", format)
			}

			info := version.Resolve()
			if opts.format == "json" {
				return renderVersionJSON(cmd.OutOrStdout(), info, opts)
			}
			renderVersionPretty(cmd.OutOrStdout(), info, opts, a.color)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showHash, "hash", false, "include git commit hash")
	cmd.Flags().BoolVar(&showDate, "date", false, "include build timestamp")
	cmd.Flags().BoolVar(&showFull, "full", false, "show every recorded bit of build metadata")
	cmd.Flags().StringVar(&format, "format", "pretty", "output format (pretty|json)")
	return cmd
}

func renderVersionPretty(out io.Writer, info version.Info, opts versionOptions, colored bool) {
	bold := color.New(color.Bold)
	if colored {
		bold.EnableColor()
	} else {
		bold.DisableColor()
	}
	fmt.Fprintf(out, "%s %s (layout schema %d)\n", bold.Sprint("reclayout"), info.Version, version.LayoutSchema)
	if opts.showHash {
		commit := valueOrUnknown(info.ShortCommit())
		if info.Modified {
			commit += "+dirty"
		}
		fmt.Fprintf(out, "commit: %s\n", commit)
	}
	if opts.showDate {
		fmt.Fprintf(out, "built:  %s\n", valueOrUnknown(info.BuildDate))
	}
}

func renderVersionJSON(out io.Writer, info version.Info, opts versionOptions) error {
	payload := versionPayload{
		Tool:         "reclayout",
		Version:      info.Version,
		LayoutSchema: version.LayoutSchema,
	}
	if opts.showHash {
		payload.GitCommit = valueOrUnknown(info.GitCommit)
		payload.Modified = info.Modified
	}
	if opts.showDate {
		payload.BuildDate = valueOrUnknown(info.BuildDate)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func valueOrUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
