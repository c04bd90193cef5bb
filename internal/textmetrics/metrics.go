// Package textmetrics measures and wraps terminal text by display cells.
//
// All widths are grapheme-cluster based: East-Asian wide clusters count 2,
// combining marks 0, soft hyphens 0. ANSI SGR sequences are invisible and
// tabs expand to the next multiple of TabSize.
package textmetrics

import (
	"regexp"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/rivo/uniseg"
)

// TabSize is the number of cells between tab stops.
const TabSize = 8

const (
	softHyphen = '\u00ad'
	// kittyPlaceholder is the Unicode placeholder used by the Kitty
	// graphics protocol; every placeholder character occupies one cell.
	kittyPlaceholder = '\U0010eeee'
)

var sgrPattern = regexp.MustCompile("\x1b\\[[0-9;:]*m")

// StripSGR removes ANSI SGR sequences from s.
func StripSGR(s string) string {
	if !strings.Contains(s, "\x1b") {
		return s
	}
	return sgrPattern.ReplaceAllString(s, "")
}

// ClusterWidth returns the display width of a single grapheme cluster.
func ClusterWidth(cluster string) int {
	for _, r := range cluster {
		if r == kittyPlaceholder {
			return 1
		}
	}
	if cluster == string(softHyphen) {
		return 0
	}
	return runewidth.StringWidth(cluster)
}

// VisibleWidth returns the number of display cells s occupies, after
// stripping SGR sequences and expanding tabs.
func VisibleWidth(s string) int {
	s = StripSGR(s)
	width := 0
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		c := g.Str()
		if c == "\t" {
			width += TabSize - width%TabSize
			continue
		}
		width += ClusterWidth(c)
	}
	return width
}

// ExpandTabs replaces tabs with spaces up to the next tab stop, measured
// in visible cells from the start of s.
func ExpandTabs(s string) string {
	if !strings.Contains(s, "\t") {
		return s
	}
	var b strings.Builder
	width := 0
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		c := g.Str()
		if c == "\t" {
			n := TabSize - width%TabSize
			b.WriteString(strings.Repeat(" ", n))
			width += n
			continue
		}
		b.WriteString(c)
		width += ClusterWidth(c)
	}
	return b.String()
}

// TruncateToWidth returns the longest grapheme-cluster prefix of s whose
// visible width does not exceed cols. Clusters are never split; newlines
// are treated as spaces.
func TruncateToWidth(s string, cols int) string {
	if cols <= 0 {
		return ""
	}
	s = strings.ReplaceAll(StripSGR(s), "\n", " ")
	s = ExpandTabs(s)

	var b strings.Builder
	width := 0
	g := uniseg.NewGraphemes(s)
	for g.Next() {
		c := g.Str()
		w := ClusterWidth(c)
		if width+w > cols {
			break
		}
		b.WriteString(c)
		width += w
	}
	return b.String()
}

// PadRight pads s with spaces to exactly cols visible cells, truncating
// first when s is already wider.
func PadRight(s string, cols int) string {
	w := VisibleWidth(s)
	if w > cols {
		s = TruncateToWidth(s, cols)
		w = VisibleWidth(s)
	}
	if w < cols {
		return s + strings.Repeat(" ", cols-w)
	}
	return s
}

// WrapPlainText greedily word-wraps s into lines of at most cols cells.
// Words wider than cols are split cell-accurately. Blank input yields a
// single empty line.
func WrapPlainText(s string, cols int) []string {
	if cols <= 0 {
		cols = 1
	}
	words := strings.Fields(s)
	if len(words) == 0 {
		return []string{""}
	}

	var lines []string
	var cur strings.Builder
	curWidth := 0
	for _, word := range words {
		w := VisibleWidth(word)
		switch {
		case curWidth == 0 && w <= cols:
			cur.WriteString(word)
			curWidth = w
		case curWidth+1+w <= cols:
			cur.WriteByte(' ')
			cur.WriteString(word)
			curWidth += 1 + w
		case w <= cols:
			lines = append(lines, cur.String())
			cur.Reset()
			cur.WriteString(word)
			curWidth = w
		default:
			// Unbreakable token wider than the column: flush and split.
			if curWidth > 0 {
				lines = append(lines, cur.String())
				cur.Reset()
				curWidth = 0
			}
			for _, part := range WrapCells(word, cols) {
				lines = append(lines, part)
			}
			if len(lines) > 0 {
				last := lines[len(lines)-1]
				lines = lines[:len(lines)-1]
				cur.WriteString(last)
				curWidth = VisibleWidth(last)
			}
		}
	}
	if curWidth > 0 || cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	return lines
}

// WrapCells wraps s by cell width alone, splitting within words when
// necessary but never within a grapheme cluster.
func WrapCells(s string, cols int) []string {
	if cols <= 0 {
		cols = 1
	}
	var lines []string
	var cur strings.Builder
	width := 0
	g := uniseg.NewGraphemes(ExpandTabs(StripSGR(s)))
	for g.Next() {
		c := g.Str()
		if c == "\n" {
			lines = append(lines, cur.String())
			cur.Reset()
			width = 0
			continue
		}
		w := ClusterWidth(c)
		if width+w > cols && width > 0 {
			lines = append(lines, cur.String())
			cur.Reset()
			width = 0
		}
		cur.WriteString(c)
		width += w
	}
	lines = append(lines, cur.String())
	return lines
}

// Cell is one grapheme cluster placed on screen.
type Cell struct {
	Cluster   string
	CharStart int // rune offset of the cluster start within the line
	CharEnd   int // rune offset just past the cluster
	Width     int
	ScreenX   int
}

// Cells decomposes s into screen cells starting at originX. Zero-width
// clusters attach at their position but advance nothing.
func Cells(s string, originX int) []Cell {
	var cells []Cell
	x := originX
	runeOff := 0
	g := uniseg.NewGraphemes(StripSGR(s))
	for g.Next() {
		c := g.Str()
		n := len(g.Runes())
		w := ClusterWidth(c)
		cells = append(cells, Cell{
			Cluster:   c,
			CharStart: runeOff,
			CharEnd:   runeOff + n,
			Width:     w,
			ScreenX:   x,
		})
		x += w
		runeOff += n
	}
	return cells
}
