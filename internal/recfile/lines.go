package recfile

import (
	"bufio"
	"bytes"
	"strings"
)

// recordLines locates the table headers of each [[record]] so diagnostics can
// point at a line. TOML decoding does not keep positions of array tables.
type recordLines struct {
	record []int
	field  [][]int
	base   [][]int
	method [][]int
	expect []int
	enum   []int
}

func scanLines(src []byte) recordLines {
	var out recordLines
	sc := bufio.NewScanner(bytes.NewReader(src))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = strings.TrimSpace(text[:i])
		}
		if !strings.HasPrefix(text, "[") {
			continue
		}
		header := strings.ReplaceAll(text, " ", "")
		cur := len(out.record) - 1
		switch header {
		case "[[record]]":
			out.record = append(out.record, line)
			out.field = append(out.field, nil)
			out.base = append(out.base, nil)
			out.method = append(out.method, nil)
			out.expect = append(out.expect, 0)
		case "[[enum]]":
			out.enum = append(out.enum, line)
		case "[[record.field]]":
			if cur >= 0 {
				out.field[cur] = append(out.field[cur], line)
			}
		case "[[record.base]]":
			if cur >= 0 {
				out.base[cur] = append(out.base[cur], line)
			}
		case "[[record.method]]":
			if cur >= 0 {
				out.method[cur] = append(out.method[cur], line)
			}
		case "[record.expect]":
			if cur >= 0 {
				out.expect[cur] = line
			}
		}
	}
	return out
}

func at(lines []int, i int) int {
	if i >= 0 && i < len(lines) {
		return lines[i]
	}
	return 0
}

func at2(lines [][]int, i, j int) int {
	if i >= 0 && i < len(lines) {
		return at(lines[i], j)
	}
	return 0
}
