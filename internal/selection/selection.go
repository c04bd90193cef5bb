// Package selection maps mouse coordinates to rendered geometry and
// resolves anchor ranges back to document text.
package selection

import (
	"sort"
	"strings"

	"github.com/shoko-reader/shoko/internal/render"
)

// Bias controls how a hit between cell boundaries rounds.
type Bias int

const (
	BiasLeading Bias = iota
	BiasTrailing
)

// Anchor is a stable coordinate into rendered geometry.
type Anchor struct {
	PageID       string `json:"page_id"`
	ColumnID     string `json:"column_id"`
	GeometryKey  string `json:"geometry_key"`
	LineOffset   int    `json:"line_offset"`
	CellIndex    int    `json:"cell_index"`
	Row          int    `json:"row"`
	ColumnOrigin int    `json:"column_origin"`
}

// Range is an ordered pair of anchors.
type Range struct {
	Start Anchor `json:"start"`
	End   Anchor `json:"end"`
}

// Less implements the total order
// (page_id, line_offset, column_id, row, cell_index).
func (a Anchor) Less(b Anchor) bool {
	if a.PageID != b.PageID {
		return a.PageID < b.PageID
	}
	if a.LineOffset != b.LineOffset {
		return a.LineOffset < b.LineOffset
	}
	if a.ColumnID != b.ColumnID {
		return a.ColumnID < b.ColumnID
	}
	if a.Row != b.Row {
		return a.Row < b.Row
	}
	return a.CellIndex < b.CellIndex
}

// Normalize orders a pair of anchors into a range with start ≤ end.
func Normalize(a, b Anchor) Range {
	if b.Less(a) {
		a, b = b, a
	}
	return Range{Start: a, End: b}
}

// AnchorAt hit-tests (x, y) against the registry. The row must match
// exactly; the column must contain x within its visible width.
func AnchorAt(reg *render.Registry, x, y int, bias Bias) (Anchor, bool) {
	var line *render.LineGeometry
	for _, g := range reg.AtRow(y) {
		if x >= g.ColumnOrigin && x < g.ColumnOrigin+g.VisibleWidth() {
			line = g
			break
		}
	}
	if line == nil || len(line.Cells) == 0 {
		return Anchor{}, false
	}

	// Binary search the hit cell by screen x.
	cells := line.Cells
	idx := sort.Search(len(cells), func(i int) bool {
		return cells[i].ScreenX+cells[i].Width > x
	})
	if idx >= len(cells) {
		idx = len(cells) - 1
	}
	// Trailing bias treats a hit exactly on a cluster start as the end
	// boundary of the previous cluster.
	if bias == BiasTrailing && x == cells[idx].ScreenX && idx > 0 {
		idx--
	}

	return Anchor{
		PageID:       line.PageID,
		ColumnID:     line.ColumnID,
		GeometryKey:  line.Key(),
		LineOffset:   line.LineOffset,
		CellIndex:    idx,
		Row:          line.Row,
		ColumnOrigin: line.ColumnOrigin,
	}, true
}

// Contains reports whether the cell at (columnID, lineOffset, cellIndex)
// falls inside the normalized range. Used to invert selected cells
// during rendering.
func (r Range) Contains(columnID string, lineOffset, cellIndex int) bool {
	if lineOffset < r.Start.LineOffset || lineOffset > r.End.LineOffset {
		return false
	}
	if lineOffset == r.Start.LineOffset && r.Start.ColumnID == columnID && cellIndex < r.Start.CellIndex {
		return false
	}
	if lineOffset == r.End.LineOffset && r.End.ColumnID == columnID && cellIndex > r.End.CellIndex {
		return false
	}
	return true
}

// ResolveText walks the geometry between the range's anchors and emits
// the covered clusters, inserting newlines across line offsets within
// the same chapter.
func ResolveText(reg *render.Registry, rng Range) string {
	lines := make([]*render.LineGeometry, 0, len(reg.Lines))
	for _, g := range reg.Lines {
		if g.LineOffset < rng.Start.LineOffset || g.LineOffset > rng.End.LineOffset {
			continue
		}
		lines = append(lines, g)
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].LineOffset != lines[j].LineOffset {
			return lines[i].LineOffset < lines[j].LineOffset
		}
		return lines[i].ColumnID < lines[j].ColumnID
	})

	var parts []string
	for _, g := range lines {
		start := 0
		end := len(g.Cells) - 1
		if g.LineOffset == rng.Start.LineOffset && g.ColumnID == rng.Start.ColumnID {
			start = rng.Start.CellIndex
		}
		if g.LineOffset == rng.End.LineOffset && g.ColumnID == rng.End.ColumnID {
			end = rng.End.CellIndex
		}
		if start < 0 {
			start = 0
		}
		if end >= len(g.Cells) {
			end = len(g.Cells) - 1
		}
		var sb strings.Builder
		for i := start; i <= end && i < len(g.Cells); i++ {
			sb.WriteString(g.Cells[i].Cluster)
		}
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, "\n")
}
