// Package format converts semantic chapter blocks into wrapped display
// lines for a given column width. Formatting is a pure function of its
// inputs; line spacing affects pagination only.
package format

import (
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/shoko-reader/shoko/internal/config"
	"github.com/shoko-reader/shoko/internal/epub"
	"github.com/shoko-reader/shoko/internal/textmetrics"
)

// Options selects one layout of a chapter.
type Options struct {
	Width          int
	LineSpacing    config.LineSpacing
	ViewMode       config.ViewMode
	ImageRendering bool
}

// LayoutKey encodes the options into the cache key for stored layouts.
func LayoutKey(o Options) string {
	return fmt.Sprintf("w%d_%s_%s", o.Width, o.ViewMode, o.LineSpacing)
}

// ImageRender describes a reserved terminal-graphics placement.
type ImageRender struct {
	Cols        int    `json:"cols"`
	Rows        int    `json:"rows"`
	PlacementID uint32 `json:"placement_id"`
	ImageID     uint32 `json:"image_id"`
	ColOffset   int    `json:"col_offset,omitempty"`
	Src         string `json:"src"`
	Alt         string `json:"alt,omitempty"`
}

// ListMeta records list prefix geometry for continuation lines.
type ListMeta struct {
	Level  int    `json:"level"`
	Marker string `json:"marker"`
}

// LineMeta is the display line metadata consumed by pagination and
// geometry.
type LineMeta struct {
	BlockKind         string       `json:"block_kind"`
	ChapterIndex      int          `json:"chapter_index"`
	ChapterSourcePath string       `json:"chapter_source_path"`
	Spacer            bool         `json:"spacer,omitempty"`
	Preserve          bool         `json:"preserve,omitempty"`
	Image             *ImageRender `json:"image,omitempty"`
	List              *ListMeta    `json:"list,omitempty"`
}

// DisplayLine is the quantum of pagination and geometry.
type DisplayLine struct {
	Plain    string         `json:"plain"`
	Segments []epub.Segment `json:"segments,omitempty"`
	Meta     LineMeta       `json:"meta"`
}

// renderableImage reports whether a source can be placed by the
// terminal-graphics path.
func renderableImage(src string) bool {
	lower := strings.ToLower(src)
	return strings.HasSuffix(lower, ".png") ||
		strings.HasSuffix(lower, ".jpg") ||
		strings.HasSuffix(lower, ".jpeg")
}

var wordPattern = regexp.MustCompile(`\S+\s*`)

// token is one unit of line assembly.
type token struct {
	text    string
	style   epub.Style
	newline bool
	image   *epub.Style // inline image segment
}

func tokenize(b epub.Block) []token {
	var tokens []token
	for _, seg := range b.Segments {
		switch {
		case seg.Style.InlineImageSrc != "":
			s := seg.Style
			tokens = append(tokens, token{image: &s})
		case seg.Style.Break:
			tokens = append(tokens, token{newline: true})
		case seg.Style.PreserveWhitespace || b.Kind == epub.KindCode || b.Kind == epub.KindTable:
			tokens = append(tokens, token{text: seg.Text, style: seg.Style})
		default:
			for _, w := range wordPattern.FindAllString(seg.Text, -1) {
				tokens = append(tokens, token{text: w, style: seg.Style})
			}
		}
	}
	return tokens
}

// Chapter formats all blocks of a chapter at the given width.
func Chapter(ch *epub.Chapter, chapterIndex int, opts Options) []DisplayLine {
	ch.EnsureBlocks()
	width := opts.Width
	if width < 1 {
		width = 1
	}

	base := LineMeta{
		ChapterIndex:      chapterIndex,
		ChapterSourcePath: ch.SourcePath(),
	}

	var lines []DisplayLine
	blocks := ch.Blocks
	imageCounter := 0
	for i, blk := range blocks {
		meta := base
		meta.BlockKind = blk.Kind.String()

		switch blk.Kind {
		case epub.KindHeading:
			// Headings render bold regardless of inline markup.
			styled := blk
			styled.Segments = make([]epub.Segment, len(blk.Segments))
			for si, seg := range blk.Segments {
				seg.Style.Bold = true
				styled.Segments[si] = seg
			}
			lines = append(lines, wrapBlock(styled, width, "", "", meta)...)
		case epub.KindParagraph:
			lines = append(lines, wrapBlock(blk, width, "", "", meta)...)
		case epub.KindListItem:
			indent := strings.Repeat("  ", maxInt(blk.Level-1, 0))
			first := indent + blk.Marker + " "
			cont := strings.Repeat(" ", textmetrics.VisibleWidth(first))
			meta.List = &ListMeta{Level: blk.Level, Marker: blk.Marker}
			lines = append(lines, wrapBlock(blk, width, first, cont, meta)...)
		case epub.KindQuote:
			lines = append(lines, wrapBlock(blk, width, "│ ", "│ ", meta)...)
		case epub.KindCode, epub.KindTable:
			meta.Preserve = true
			lines = append(lines, preformattedLines(blk, meta)...)
		case epub.KindSeparator:
			n := width
			if n > 40 {
				n = 40
			}
			lines = append(lines, DisplayLine{Plain: strings.Repeat("─", n), Meta: meta})
		case epub.KindBreak:
			spacer := meta
			spacer.Spacer = true
			lines = append(lines, DisplayLine{Meta: spacer})
		case epub.KindImage:
			lines = append(lines, imageLines(blk, width, i, opts, meta)...)
		}

		// Inline images inside text blocks reserve their own placements.
		for _, seg := range blk.Segments {
			if seg.Style.InlineImageSrc != "" && blk.Kind != epub.KindImage {
				imageCounter++
				inline := epub.Block{Kind: epub.KindImage, Src: seg.Style.InlineImageSrc, Alt: seg.Style.InlineImageAlt}
				lines = append(lines, imageLines(inline, width, -imageCounter, opts, meta)...)
			}
		}

		if needsBlankAfter(blocks, i) {
			spacer := base
			spacer.BlockKind = blk.Kind.String()
			spacer.Spacer = true
			lines = append(lines, DisplayLine{Meta: spacer})
		}
	}
	return lines
}

// wrapBlock word-wraps a block's tokens, applying the first-line prefix
// and the continuation indent.
func wrapBlock(blk epub.Block, width int, firstPrefix, contPrefix string, meta LineMeta) []DisplayLine {
	tokens := tokenize(blk)

	prefix := firstPrefix
	avail := width - textmetrics.VisibleWidth(prefix)
	if avail < 1 {
		avail = 1
	}

	var out []DisplayLine
	var plain strings.Builder
	var segs []epub.Segment
	lineWidth := 0

	flush := func() {
		text := strings.TrimRight(plain.String(), " ")
		out = append(out, DisplayLine{
			Plain:    prefix + text,
			Segments: prefixSegments(prefix, trimRightSegments(segs)),
			Meta:     meta,
		})
		plain.Reset()
		segs = nil
		lineWidth = 0
		prefix = contPrefix
		avail = width - textmetrics.VisibleWidth(prefix)
		if avail < 1 {
			avail = 1
		}
	}

	for _, tok := range tokens {
		if tok.newline {
			flush()
			continue
		}
		if tok.image != nil {
			continue
		}
		w := textmetrics.VisibleWidth(strings.TrimRight(tok.text, " "))
		if lineWidth > 0 && lineWidth+w > avail {
			flush()
		}
		if w > avail && lineWidth == 0 {
			// Unbreakable token wider than the column.
			for _, part := range textmetrics.WrapCells(tok.text, avail) {
				if part == "" {
					continue
				}
				plain.WriteString(part)
				segs = append(segs, epub.Segment{Text: part, Style: tok.style})
				lineWidth = textmetrics.VisibleWidth(part)
				if lineWidth >= avail {
					flush()
				}
			}
			continue
		}
		plain.WriteString(tok.text)
		segs = append(segs, epub.Segment{Text: tok.text, Style: tok.style})
		lineWidth += textmetrics.VisibleWidth(tok.text)
	}
	if lineWidth > 0 || len(out) == 0 {
		flush()
	}
	return out
}

func prefixSegments(prefix string, segs []epub.Segment) []epub.Segment {
	if prefix == "" {
		return segs
	}
	return append([]epub.Segment{{Text: prefix}}, segs...)
}

func trimRightSegments(segs []epub.Segment) []epub.Segment {
	for len(segs) > 0 {
		last := &segs[len(segs)-1]
		last.Text = strings.TrimRight(last.Text, " ")
		if last.Text != "" {
			break
		}
		segs = segs[:len(segs)-1]
	}
	return segs
}

// preformattedLines emits one display line per source row, right-trimmed
// and never wrapped.
func preformattedLines(blk epub.Block, meta LineMeta) []DisplayLine {
	var out []DisplayLine
	for _, seg := range blk.Segments {
		for _, row := range strings.Split(seg.Text, "\n") {
			row = strings.TrimRight(textmetrics.ExpandTabs(row), " ")
			style := seg.Style
			style.Code = style.Code || blk.Kind == epub.KindCode
			out = append(out, DisplayLine{
				Plain:    row,
				Segments: []epub.Segment{{Text: row, Style: style}},
				Meta:     meta,
			})
		}
	}
	return out
}

// imageLines reserves a block of spacer rows carrying the placement
// metadata, or a single alt-text placeholder when graphics are off.
func imageLines(blk epub.Block, width, blockIndex int, opts Options, meta LineMeta) []DisplayLine {
	if !opts.ImageRendering || !renderableImage(blk.Src) {
		alt := blk.Alt
		if alt == "" {
			alt = blk.Src
		}
		placeholder := textmetrics.TruncateToWidth(fmt.Sprintf("[image: %s]", alt), width)
		return []DisplayLine{{Plain: placeholder, Meta: meta}}
	}

	rows := int(float64(width)*0.5 + 0.5)
	rows = clampInt(rows, 4, 18)

	discriminator := fmt.Sprintf("%d", blockIndex)
	if blockIndex < 0 {
		discriminator = fmt.Sprintf("inline%d", -blockIndex)
	}
	h := fnv.New64a()
	h.Write([]byte(meta.ChapterSourcePath))
	h.Write([]byte{0})
	h.Write([]byte(blk.Src))
	h.Write([]byte{0})
	h.Write([]byte(discriminator))
	sum := h.Sum64()

	render := &ImageRender{
		Cols:        width,
		Rows:        rows,
		PlacementID: uint32(sum),
		ImageID:     uint32(sum >> 32),
		Src:         blk.Src,
		Alt:         blk.Alt,
	}

	out := make([]DisplayLine, rows)
	for i := range out {
		m := meta
		m.Spacer = true
		if i == 0 {
			m.Image = render
		}
		out[i] = DisplayLine{Meta: m}
	}
	return out
}

// needsBlankAfter implements the blank-line policy: a blank separates
// blocks except before list items, between consecutive blocks of the
// same semantic group, and after the final block.
func needsBlankAfter(blocks []epub.Block, i int) bool {
	if i == len(blocks)-1 {
		return false
	}
	cur, next := blocks[i], blocks[i+1]
	if next.Kind == epub.KindListItem {
		return false
	}
	preformatted := cur.Kind == epub.KindCode || cur.Kind == epub.KindTable
	if cur.Kind != epub.KindImage && !preformatted && sameGroup(cur.Kind, next.Kind) {
		return false
	}
	return true
}

func sameGroup(a, b epub.BlockKind) bool {
	if a != b {
		return false
	}
	switch a {
	case epub.KindQuote, epub.KindListItem:
		return true
	default:
		return false
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
