package term

import (
	"strings"

	"github.com/rivo/uniseg"

	"github.com/shoko-reader/shoko/internal/textmetrics"
)

// cell is one screen position: a grapheme cluster plus the SGR state it
// was written with. Wide clusters occupy their own cell and a
// continuation cell with an empty cluster.
type cell struct {
	cluster string
	sgr     string
	cont    bool
}

var blankCell = cell{cluster: " "}

// Buffer is the double-buffered cell grid. All mutation happens on the
// back buffer; EndFrame diffs against the front buffer and emits a
// minimal write sequence.
type Buffer struct {
	port Port
	rows int
	cols int

	front [][]cell
	back  [][]cell
}

// NewBuffer creates a buffer sized to the port.
func NewBuffer(port Port) *Buffer {
	b := &Buffer{port: port}
	rows, cols := port.Size()
	b.resize(rows, cols)
	return b
}

func newGrid(rows, cols int) [][]cell {
	grid := make([][]cell, rows)
	for r := range grid {
		grid[r] = make([]cell, cols)
		for c := range grid[r] {
			grid[r][c] = blankCell
		}
	}
	return grid
}

func (b *Buffer) resize(rows, cols int) {
	b.rows, b.cols = rows, cols
	b.front = newGrid(rows, cols)
	b.back = newGrid(rows, cols)
	// Force a full repaint after a resize.
	for r := range b.front {
		for c := range b.front[r] {
			b.front[r][c] = cell{cluster: "\x00"}
		}
	}
}

// Size re-reads the terminal size, resizing the grids when it changed.
func (b *Buffer) Size() (int, int) {
	rows, cols := b.port.Size()
	if rows != b.rows || cols != b.cols {
		b.resize(rows, cols)
	}
	return b.rows, b.cols
}

// StartFrame clears the back buffer for a fresh render.
func (b *Buffer) StartFrame() {
	for r := range b.back {
		for c := range b.back[r] {
			b.back[r][c] = blankCell
		}
	}
}

// Write overlays ANSI-styled text into the back buffer at (row, col).
// Existing cells at the location are replaced; text past the right edge
// is clipped.
func (b *Buffer) Write(row, col int, styled string) {
	if row < 0 || row >= b.rows {
		return
	}
	x := col
	sgr := ""
	rest := styled
	for rest != "" {
		if strings.HasPrefix(rest, "\x1b[") {
			if end := strings.IndexByte(rest, 'm'); end >= 0 {
				seq := rest[:end+1]
				if seq == "\x1b[0m" || seq == "\x1b[m" {
					sgr = ""
				} else {
					sgr += seq
				}
				rest = rest[end+1:]
				continue
			}
		}
		g := uniseg.NewGraphemes(rest)
		if !g.Next() {
			break
		}
		cluster := g.Str()
		rest = rest[len(cluster):]
		if cluster == "\n" || cluster == "\r" {
			continue
		}
		w := textmetrics.ClusterWidth(cluster)
		if w == 0 {
			// Attach combining content to the previous cell.
			if x-1 >= 0 && x-1 < b.cols {
				b.back[row][x-1].cluster += cluster
			}
			continue
		}
		if x >= b.cols {
			break
		}
		if x >= 0 {
			b.back[row][x] = cell{cluster: cluster, sgr: sgr}
			if w == 2 && x+1 < b.cols {
				b.back[row][x+1] = cell{cont: true, sgr: sgr}
			}
		}
		x += w
	}
}

// Clear fills the back buffer with the background.
func (b *Buffer) Clear() {
	b.StartFrame()
}

// EndFrame diffs back against front, writes the minimal update
// sequence, and swaps the buffers. Write failures are dropped.
func (b *Buffer) EndFrame() {
	var out strings.Builder
	lastSGR := "\x00unset"

	for r := 0; r < b.rows; r++ {
		first, last := -1, -1
		for c := 0; c < b.cols; c++ {
			if b.back[r][c] != b.front[r][c] {
				if first < 0 {
					first = c
				}
				last = c
			}
		}
		if first < 0 {
			continue
		}
		// One cursor move per dirty row, rewriting the changed span.
		out.WriteString(cup(r, first))
		for c := first; c <= last; c++ {
			cl := b.back[r][c]
			if cl.cont {
				continue
			}
			if cl.sgr != lastSGR {
				out.WriteString("\x1b[0m")
				out.WriteString(cl.sgr)
				lastSGR = cl.sgr
			}
			out.WriteString(cl.cluster)
		}
	}

	if out.Len() > 0 {
		out.WriteString("\x1b[0m")
		b.port.Write([]byte(out.String()))
	}
	b.front, b.back = b.back, b.front
}

// cup is the 1-based cursor position sequence.
func cup(row, col int) string {
	return "\x1b[" + itoa(row+1) + ";" + itoa(col+1) + "H"
}

func itoa(n int) string {
	if n <= 0 {
		return "1"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
