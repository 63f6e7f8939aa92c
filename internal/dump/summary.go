package dump

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"reclayout/internal/decl"
	"reclayout/internal/layout"
)

// SummaryRow is one line of the summary table.
type SummaryRow struct {
	Name  string
	Size  int64
	Align int64
	DSize int64
	Err   error
}

// Summarize lays out ids and collects one row each. Failing records keep
// their error in the row.
func Summarize(e *layout.Engine, ids []decl.RecordID) []SummaryRow {
	rows := make([]SummaryRow, 0, len(ids))
	for _, id := range ids {
		row := SummaryRow{Name: e.Decls.RecordName(id)}
		l, err := e.LayoutOf(id)
		if err != nil {
			row.Err = err
		} else {
			row.Size, row.Align, row.DSize = l.Size, l.Alignment, l.DataSize
		}
		rows = append(rows, row)
	}
	return rows
}

// Summary writes rows as an aligned table. maxWidth truncates record names
// when positive, usually the terminal width.
func Summary(w io.Writer, rows []SummaryRow, maxWidth int, opts Options) error {
	pal := newPalette(opts.Color)
	nameWidth := runewidth.StringWidth("record")
	for _, r := range rows {
		nameWidth = max(nameWidth, runewidth.StringWidth(r.Name))
	}
	const numbers = 3 * 8
	if maxWidth > 0 && nameWidth+numbers > maxWidth {
		nameWidth = max(maxWidth-numbers, 8)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %8s%8s%8s\n", runewidth.FillRight("record", nameWidth), "size", "align", "dsize")
	for _, r := range rows {
		name := runewidth.Truncate(r.Name, nameWidth, "…")
		b.WriteString(pal.name(runewidth.FillRight(name, nameWidth)))
		b.WriteByte(' ')
		if r.Err != nil {
			b.WriteString(pal.note("error: " + r.Err.Error()))
			b.WriteByte('\n')
			continue
		}
		b.WriteString(pal.size(fmt.Sprintf("%8s", strconv.FormatInt(r.Size, 10))))
		fmt.Fprintf(&b, "%8d%8d\n", r.Align, r.DSize)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
