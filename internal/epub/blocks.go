package epub

import (
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/unicode/norm"
)

// blockContainers are elements that start a paragraph unless they hold
// further block-level children.
var blockContainers = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Aside: true, atom.Header: true, atom.Footer: true,
	atom.Figure: true, atom.Figcaption: true, atom.Main: true,
}

var skipElements = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Head: true,
}

// ParseBlocks parses a chapter body into its semantic block tree.
// XML syntax errors yield an empty block list; a body that has text but
// produces no blocks is a FormattingError.
func ParseBlocks(data []byte, chapterPath string) ([]Block, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, nil
	}
	body := findFirstElement(doc, atom.Body)
	if body == nil {
		body = doc
	}

	b := &blockParser{}
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		b.walk(c, Style{}, 0, nil)
	}
	b.flush()

	blocks := compactBlocks(b.blocks)
	if len(blocks) == 0 && strings.TrimSpace(nodeText(body)) != "" {
		return nil, &FormattingError{Chapter: chapterPath, Reason: "normalized block list was empty"}
	}
	return blocks, nil
}

type listFrame struct {
	ordered bool
	counter int
}

type blockParser struct {
	blocks []Block
	cur    *Block
}

func (b *blockParser) open(kind BlockKind) *Block {
	b.flush()
	b.cur = &Block{Kind: kind}
	return b.cur
}

func (b *blockParser) flush() {
	if b.cur != nil {
		b.blocks = append(b.blocks, *b.cur)
		b.cur = nil
	}
}

func (b *blockParser) ensure(kind BlockKind) *Block {
	if b.cur == nil {
		b.cur = &Block{Kind: kind}
	}
	return b.cur
}

// walk dispatches one node. style carries the inherited inline style,
// listDepth the enclosing list nesting, frame the innermost list.
func (b *blockParser) walk(n *html.Node, style Style, listDepth int, frame *listFrame) {
	switch n.Type {
	case html.TextNode:
		b.text(n.Data, style)
		return
	case html.ElementNode:
	default:
		return
	}

	if skipElements[n.DataAtom] {
		return
	}

	switch {
	case headingLevel(n.DataAtom) > 0:
		block := b.open(KindHeading)
		block.Level = headingLevel(n.DataAtom)
		b.inlineChildren(n, style, listDepth, frame)
		b.flush()

	case n.DataAtom == atom.Ul || n.DataAtom == atom.Ol:
		b.flush()
		child := &listFrame{ordered: n.DataAtom == atom.Ol}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			b.walk(c, style, listDepth+1, child)
		}
		b.flush()

	case n.DataAtom == atom.Li:
		block := b.open(KindListItem)
		depth := listDepth
		if depth < 1 {
			depth = 1
		}
		block.Level = depth
		if frame != nil && frame.ordered {
			frame.counter++
			block.Ordered = true
			block.Marker = markerFor(frame.counter)
		} else {
			block.Marker = "•"
		}
		b.inlineChildren(n, style, listDepth, frame)
		b.flush()

	case n.DataAtom == atom.Blockquote:
		b.flush()
		quoted := style
		quoted.Quote = true
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			b.walk(c, quoted, listDepth, frame)
		}
		b.flush()

	case n.DataAtom == atom.Pre:
		block := b.open(KindCode)
		pre := style
		pre.Code = true
		pre.PreserveWhitespace = true
		block.Segments = append(block.Segments, Segment{Text: verbatimText(n), Style: pre})
		b.flush()

	case n.DataAtom == atom.Table:
		block := b.open(KindTable)
		pre := style
		pre.PreserveWhitespace = true
		block.Segments = append(block.Segments, Segment{Text: tableText(n), Style: pre})
		b.flush()

	case n.DataAtom == atom.Hr:
		b.open(KindSeparator)
		b.flush()

	case n.DataAtom == atom.Br:
		if b.cur != nil {
			br := style
			br.Break = true
			b.cur.Segments = append(b.cur.Segments, Segment{Text: "\n", Style: br})
		} else {
			b.open(KindBreak)
			b.flush()
		}

	case n.DataAtom == atom.Img:
		src := nodeAttr(n, "src")
		alt := nodeAttr(n, "alt")
		if b.cur != nil {
			inline := style
			inline.InlineImageSrc = src
			inline.InlineImageAlt = alt
			b.cur.Segments = append(b.cur.Segments, Segment{Style: inline})
		} else {
			block := b.open(KindImage)
			block.Src = src
			block.Alt = alt
			b.flush()
		}

	case blockContainers[n.DataAtom] || displayBlock(n):
		if hasBlockChildren(n) {
			b.flush()
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				b.walk(c, style, listDepth, frame)
			}
			b.flush()
			return
		}
		kind := KindParagraph
		if style.Quote {
			kind = KindQuote
		}
		b.open(kind)
		b.inlineChildren(n, style, listDepth, frame)
		b.flush()

	default:
		// Inline element encountered at block level: accumulate into the
		// current (or a fresh) paragraph.
		b.inline(n, style, listDepth, frame)
	}
}

func (b *blockParser) inlineChildren(n *html.Node, style Style, listDepth int, frame *listFrame) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.inline(c, style, listDepth, frame)
	}
}

// inline handles nodes inside an open block, layering styles.
func (b *blockParser) inline(n *html.Node, style Style, listDepth int, frame *listFrame) {
	switch n.Type {
	case html.TextNode:
		b.text(n.Data, style)
		return
	case html.ElementNode:
	default:
		return
	}

	if skipElements[n.DataAtom] {
		return
	}

	// Block-level elements nested inside inline flow restart the walk.
	if headingLevel(n.DataAtom) > 0 || blockContainers[n.DataAtom] ||
		n.DataAtom == atom.Ul || n.DataAtom == atom.Ol || n.DataAtom == atom.Li ||
		n.DataAtom == atom.Blockquote || n.DataAtom == atom.Pre ||
		n.DataAtom == atom.Table || n.DataAtom == atom.Hr || displayBlock(n) {
		b.walk(n, style, listDepth, frame)
		return
	}

	next := style
	switch n.DataAtom {
	case atom.B, atom.Strong:
		next.Bold = true
	case atom.I, atom.Em:
		next.Italic = true
	case atom.U:
		next.Underline = true
	case atom.Code, atom.Kbd, atom.Samp:
		next.Code = true
		next.PreserveWhitespace = true
	case atom.A:
		next.Link = nodeAttr(n, "href")
	case atom.Span:
		applySpanStyle(&next, nodeAttr(n, "style"))
	case atom.Br:
		br := style
		br.Break = true
		cur := b.ensure(KindParagraph)
		cur.Segments = append(cur.Segments, Segment{Text: "\n", Style: br})
		return
	case atom.Img:
		inline := style
		inline.InlineImageSrc = nodeAttr(n, "src")
		inline.InlineImageAlt = nodeAttr(n, "alt")
		cur := b.ensure(KindParagraph)
		cur.Segments = append(cur.Segments, Segment{Style: inline})
		return
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.inline(c, next, listDepth, frame)
	}
}

func (b *blockParser) text(raw string, style Style) {
	var text string
	if style.Code || style.PreserveWhitespace {
		text = norm.NFC.String(raw)
	} else {
		text = norm.NFC.String(collapseKeepEdges(raw))
	}
	if text == "" {
		return
	}
	kind := KindParagraph
	if style.Quote {
		kind = KindQuote
	}
	cur := b.ensure(kind)
	cur.Segments = append(cur.Segments, Segment{Text: text, Style: style})
}

// displayBlock reports whether an element's style attribute forces block
// or list-item display.
func displayBlock(n *html.Node) bool {
	style := strings.ToLower(nodeAttr(n, "style"))
	if style == "" {
		return false
	}
	for _, decl := range strings.Split(style, ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		if strings.TrimSpace(k) == "display" {
			switch strings.TrimSpace(v) {
			case "block", "list-item":
				return true
			}
		}
	}
	return false
}

func applySpanStyle(s *Style, style string) {
	for _, decl := range strings.Split(strings.ToLower(style), ";") {
		k, v, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		switch {
		case k == "font-weight" && v == "bold":
			s.Bold = true
		case k == "font-style" && v == "italic":
			s.Italic = true
		case k == "text-decoration" && strings.Contains(v, "underline"):
			s.Underline = true
		}
	}
}

func hasBlockChildren(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if headingLevel(c.DataAtom) > 0 || blockContainers[c.DataAtom] ||
			c.DataAtom == atom.Ul || c.DataAtom == atom.Ol ||
			c.DataAtom == atom.Blockquote || c.DataAtom == atom.Pre ||
			c.DataAtom == atom.Table || c.DataAtom == atom.Hr || displayBlock(c) {
			return true
		}
	}
	return false
}

func markerFor(n int) string {
	return strconv.Itoa(n) + "."
}

// verbatimText extracts text preserving whitespace, honouring <br>.
func verbatimText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
		case html.ElementNode:
			if skipElements[n.DataAtom] {
				return
			}
			if n.DataAtom == atom.Br {
				sb.WriteByte('\n')
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Trim(norm.NFC.String(sb.String()), "\n")
}

// tableText renders a table as "cell | cell" rows joined by newlines.
func tableText(n *html.Node) string {
	var rows []string
	var walkRows func(*html.Node)
	walkRows = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Tr {
			var cells []string
			var walkCells func(*html.Node)
			walkCells = func(c *html.Node) {
				if c.Type == html.ElementNode && (c.DataAtom == atom.Td || c.DataAtom == atom.Th) {
					cells = append(cells, collapseSpace(nodeText(c)))
					return
				}
				for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
					walkCells(cc)
				}
			}
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				walkCells(c)
			}
			rows = append(rows, strings.Join(cells, " | "))
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walkRows(c)
		}
	}
	walkRows(n)
	return norm.NFC.String(strings.Join(rows, "\n"))
}

// collapseKeepEdges collapses whitespace runs to single spaces while
// keeping one leading/trailing space so inline spacing survives.
func collapseKeepEdges(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	out := strings.Join(fields, " ")
	if isSpaceByte(s[0]) {
		out = " " + out
	}
	if isSpaceByte(s[len(s)-1]) {
		out = out + " "
	}
	return out
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// compactBlocks trims block edges and drops blocks with no visible
// content. Separator, break and image blocks survive without text.
func compactBlocks(blocks []Block) []Block {
	out := blocks[:0]
	for _, blk := range blocks {
		switch blk.Kind {
		case KindSeparator, KindBreak:
			out = append(out, blk)
			continue
		case KindImage:
			if blk.Src != "" {
				out = append(out, blk)
			}
			continue
		}
		blk.Segments = trimSegments(blk.Segments)
		hasContent := false
		for _, seg := range blk.Segments {
			if strings.TrimSpace(seg.Text) != "" || seg.Style.InlineImageSrc != "" {
				hasContent = true
				break
			}
		}
		if hasContent {
			out = append(out, blk)
		}
	}
	return out
}

// trimSegments strips leading/trailing whitespace at the block edges
// without touching interior spacing.
func trimSegments(segs []Segment) []Segment {
	for len(segs) > 0 {
		first := &segs[0]
		if first.Style.PreserveWhitespace || first.Style.InlineImageSrc != "" || first.Style.Break {
			break
		}
		first.Text = strings.TrimLeft(first.Text, " ")
		if first.Text != "" {
			break
		}
		segs = segs[1:]
	}
	for len(segs) > 0 {
		last := &segs[len(segs)-1]
		if last.Style.PreserveWhitespace || last.Style.InlineImageSrc != "" || last.Style.Break {
			break
		}
		last.Text = strings.TrimRight(last.Text, " ")
		if last.Text != "" {
			break
		}
		segs = segs[:len(segs)-1]
	}
	return segs
}
