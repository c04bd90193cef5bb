package render

import (
	"fmt"
	"strings"

	"github.com/shoko-reader/shoko/internal/epub"
	"github.com/shoko-reader/shoko/internal/format"
	"github.com/shoko-reader/shoko/internal/term"
	"github.com/shoko-reader/shoko/internal/textmetrics"
)

// ContentLine pairs a display line with its offset in the chapter's
// line sequence.
type ContentLine struct {
	Display    format.DisplayLine
	LineOffset int
}

// Column is one content column of the frame.
type Column struct {
	ID         string
	OriginX    int
	Width      int
	Lines      []ContentLine
	PageNumber string
}

// ViewModel is the pure input of one frame.
type ViewModel struct {
	PageID        string
	DocumentTitle string
	ChapterTitle  string
	ViewModeLabel string
	Mode          string
	Message       string

	Columns []Column
	RowStep int // 1, or 2 for relaxed line spacing

	OverlayTitle string
	Overlay      []string

	FooterLeft  string
	FooterRight string

	ShowPageNumbers bool

	// Selected is consulted per (columnID, lineOffset, cellIndex) so the
	// active selection is drawn inverted.
	Selected func(columnID string, lineOffset, cellIndex int) bool
}

// Renderer writes frames through the terminal buffer and publishes
// geometry for selection.
type Renderer struct {
	buf      *term.Buffer
	port     term.Port
	holder   registryHolder
	graphics bool

	resources   func(src string) ([]byte, bool)
	transmitted map[uint32]bool

	lastRows int
	lastCols int
}

// New creates a renderer over port. resources resolves image hrefs for
// the terminal-graphics path; graphics gates Kitty emission.
func New(port term.Port, resources func(string) ([]byte, bool), graphics bool) *Renderer {
	return &Renderer{
		buf:         term.NewBuffer(port),
		port:        port,
		graphics:    graphics && GraphicsSupported(),
		resources:   resources,
		transmitted: make(map[uint32]bool),
	}
}

// Registry returns the geometry of the last rendered frame.
func (r *Renderer) Registry() *Registry {
	return r.holder.current()
}

// Size reads the current terminal dimensions and reports whether they
// changed since the previous render.
func (r *Renderer) Size() (rows, cols int, changed bool) {
	rows, cols = r.buf.Size()
	changed = rows != r.lastRows || cols != r.lastCols
	return rows, cols, changed
}

const (
	headerRow      = 0
	contentTopRow  = 2
	sgrHeader      = "\x1b[1m"
	sgrDim         = "\x1b[2m"
	sgrMessage     = "\x1b[7m"
	sgrPageNumber  = "\x1b[2m"
	sgrSelection   = "\x1b[7m"
)

// Render composes one frame. Terminal write failures are dropped.
func (r *Renderer) Render(vm *ViewModel) {
	rows, cols := r.buf.Size()
	r.lastRows, r.lastCols = rows, cols
	contentHeight := rows - 4
	if contentHeight < 1 {
		contentHeight = 1
	}

	r.buf.StartFrame()
	r.drawHeader(vm, cols)

	var geometry []*LineGeometry
	switch vm.Mode {
	case "read":
		geometry = r.drawContent(vm, contentHeight, cols)
	default:
		r.drawOverlay(vm, contentHeight, cols)
	}

	r.drawFooter(vm, rows, cols)

	if vm.Message != "" {
		r.drawMessage(vm.Message, contentHeight, cols)
	}

	r.buf.EndFrame()
	r.holder.publish(NewRegistry(geometry))
}

func (r *Renderer) drawHeader(vm *ViewModel, cols int) {
	title := textmetrics.TruncateToWidth(vm.DocumentTitle, cols/3)
	chapter := textmetrics.TruncateToWidth(vm.ChapterTitle, cols/3)
	indicator := vm.ViewModeLabel

	r.buf.Write(headerRow, 1, sgrHeader+title+"\x1b[0m")
	cx := (cols - textmetrics.VisibleWidth(chapter)) / 2
	if cx < 0 {
		cx = 0
	}
	r.buf.Write(headerRow, cx, sgrDim+chapter+"\x1b[0m")
	ix := cols - textmetrics.VisibleWidth(indicator) - 1
	if ix > 0 {
		r.buf.Write(headerRow, ix, sgrDim+indicator+"\x1b[0m")
	}
}

func (r *Renderer) drawFooter(vm *ViewModel, rows, cols int) {
	row := rows - 1
	r.buf.Write(row, 1, sgrDim+textmetrics.TruncateToWidth(vm.FooterLeft, cols/2)+"\x1b[0m")
	right := textmetrics.TruncateToWidth(vm.FooterRight, cols/2-1)
	rx := cols - textmetrics.VisibleWidth(right) - 1
	if rx > 0 {
		r.buf.Write(row, rx, sgrDim+right+"\x1b[0m")
	}
}

func (r *Renderer) drawMessage(message string, contentHeight, cols int) {
	msg := " " + textmetrics.TruncateToWidth(message, cols-4) + " "
	row := contentTopRow + contentHeight/2
	col := (cols - textmetrics.VisibleWidth(msg)) / 2
	if col < 0 {
		col = 0
	}
	r.buf.Write(row, col, sgrMessage+msg+"\x1b[0m")
}

func (r *Renderer) drawOverlay(vm *ViewModel, contentHeight, cols int) {
	title := textmetrics.TruncateToWidth(vm.OverlayTitle, cols-4)
	r.buf.Write(contentTopRow, 2, sgrHeader+title+"\x1b[0m")
	for i, line := range vm.Overlay {
		row := contentTopRow + 2 + i
		if row >= contentTopRow+contentHeight {
			break
		}
		r.buf.Write(row, 2, textmetrics.TruncateToWidth(line, cols-4))
	}
}

func (r *Renderer) drawContent(vm *ViewModel, contentHeight, cols int) []*LineGeometry {
	step := vm.RowStep
	if step < 1 {
		step = 1
	}

	var geometry []*LineGeometry
	for _, col := range vm.Columns {
		screenRow := contentTopRow
		for _, cl := range col.Lines {
			if screenRow >= contentTopRow+contentHeight {
				break
			}
			meta := cl.Display.Meta

			if meta.Image != nil && r.graphics {
				screenRow = r.drawImagePlacement(meta.Image, col, screenRow, contentTopRow+contentHeight)
				continue
			}
			if meta.Spacer {
				screenRow += step
				continue
			}

			styled := r.styleLine(vm, col, cl)
			r.buf.Write(screenRow, col.OriginX, styled)

			g := &LineGeometry{
				PageID:       vm.PageID,
				ColumnID:     col.ID,
				Row:          screenRow,
				ColumnOrigin: col.OriginX,
				LineOffset:   cl.LineOffset,
				ChapterIndex: meta.ChapterIndex,
				Plain:        cl.Display.Plain,
				Styled:       styled,
				Cells:        textmetrics.Cells(cl.Display.Plain, col.OriginX),
			}
			geometry = append(geometry, g)
			screenRow += step
		}

		if vm.ShowPageNumbers && col.PageNumber != "" {
			numRow := contentTopRow + contentHeight
			numCol := col.OriginX + (col.Width-textmetrics.VisibleWidth(col.PageNumber))/2
			r.buf.Write(numRow, numCol, sgrPageNumber+col.PageNumber+"\x1b[0m")
		}
	}
	return geometry
}

// drawImagePlacement transmits the image once and draws its placeholder
// rows contiguously, returning the next free screen row. An image that
// could not be transmitted shows "[image: alt]" on its first row instead.
func (r *Renderer) drawImagePlacement(img *format.ImageRender, col Column, screenRow, limit int) int {
	if !r.transmitted[img.ImageID] {
		if data, ok := r.resources(img.Src); ok {
			if err := TransmitImage(r.port, img.ImageID, img.PlacementID, img.Cols, img.Rows, img.Src, data); err == nil {
				r.transmitted[img.ImageID] = true
			}
		}
	}
	for i := 0; i < img.Rows && screenRow < limit; i++ {
		if r.transmitted[img.ImageID] {
			r.buf.Write(screenRow, col.OriginX+img.ColOffset, PlaceholderRow(img.ImageID, i, img.Cols))
		} else if i == 0 {
			alt := img.Alt
			if alt == "" {
				alt = img.Src
			}
			r.buf.Write(screenRow, col.OriginX, textmetrics.TruncateToWidth(fmt.Sprintf("[image: %s]", alt), col.Width))
		}
		screenRow++
	}
	return screenRow
}

// styleLine converts a display line's segments into one ANSI string,
// inverting any selected cells.
func (r *Renderer) styleLine(vm *ViewModel, col Column, cl ContentLine) string {
	if len(cl.Display.Segments) == 0 {
		return cl.Display.Plain
	}

	selected := func(int) bool { return false }
	if vm.Selected != nil {
		selected = func(cellIndex int) bool {
			return vm.Selected(col.ID, cl.LineOffset, cellIndex)
		}
	}

	var sb strings.Builder
	cellIndex := 0
	for _, seg := range cl.Display.Segments {
		sgr := styleSGR(seg.Style)
		cells := textmetrics.Cells(seg.Text, 0)
		for _, c := range cells {
			effective := sgr
			if selected(cellIndex) {
				effective = sgr + sgrSelection
			}
			if effective != "" {
				sb.WriteString(effective)
			}
			sb.WriteString(c.Cluster)
			if effective != "" {
				sb.WriteString("\x1b[0m")
			}
			cellIndex++
		}
	}
	return sb.String()
}

// styleSGR maps segment styles to SGR attributes.
func styleSGR(s epub.Style) string {
	var codes []string
	if s.Bold {
		codes = append(codes, "1")
	}
	if s.Italic {
		codes = append(codes, "3")
	}
	if s.Underline {
		codes = append(codes, "4")
	}
	if s.Code {
		codes = append(codes, "36")
	}
	if s.Quote {
		codes = append(codes, "2")
	}
	if s.Link != "" {
		codes = append(codes, "4", "34")
	}
	if len(codes) == 0 {
		return ""
	}
	return "\x1b[" + strings.Join(codes, ";") + "m"
}

// PageIDFor derives a stable page identifier for geometry keys.
func PageIDFor(chapterIndex, pageIndex int) string {
	return fmt.Sprintf("p%d_%d", chapterIndex, pageIndex)
}
