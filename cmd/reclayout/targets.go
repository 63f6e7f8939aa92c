package main

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"reclayout/internal/decl"
	"reclayout/internal/driver"
	"reclayout/internal/layout"
)

func newTargetsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List the built-in target presets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			def := driver.DefaultTriple
			switch {
			case a.target != "":
				def = a.target
			case a.cfg.Target.Triple != "":
				def = a.cfg.Target.Triple
			}
			var b strings.Builder
			triples := layout.Triples()
			width := runewidth.StringWidth("triple")
			for _, t := range triples {
				width = max(width, runewidth.StringWidth(t))
			}
			fmt.Fprintf(&b, "%s  %-9s  %3s  %4s  %s\n", runewidth.FillRight("triple", width), "abi", "ptr", "long", "notes")
			for _, triple := range triples {
				t, err := layout.TargetByTriple(triple)
				if err != nil {
					return err
				}
				long, _ := t.Scalar(decl.Long)
				line := fmt.Sprintf("%s  %-9s  %3d  %4d  %s", runewidth.FillRight(triple, width), t.ABI, t.PtrSize, long.Size, targetNotes(&t, def))
				b.WriteString(strings.TrimRight(line, " "))
				b.WriteByte('\n')
			}
			_, err := fmt.Fprint(cmd.OutOrStdout(), b.String())
			return err
		},
	}
}

func targetNotes(t *layout.Target, def string) string {
	var notes []string
	if !t.UseBitFieldTypeAlignment {
		notes = append(notes, "no-bitfield-type-align")
	}
	if t.PacksNonPODMembers {
		notes = append(notes, "packs-non-pod")
	}
	if t.DefaultMaxFieldAlign > 0 {
		notes = append(notes, fmt.Sprintf("pack=%d", t.DefaultMaxFieldAlign))
	}
	if t.Triple == def {
		notes = append(notes, "default")
	}
	return strings.Join(notes, ",")
}
