package epub

import (
	"bytes"
	"encoding/xml"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// readFunc reads an archive-internal file by its normalized path.
type readFunc func(name string) ([]byte, error)

// placeholderLabel matches generator TOC labels that carry no title of
// their own ("c01", "12"). Empty labels are treated as placeholders by
// resolvePlaceholders separately.
var placeholderLabel = regexp.MustCompile(`(?i)^c?\d+$`)

// parseTOC locates and parses the navigation document, preferring the
// EPUB 3 nav item and falling back to NCX. Placeholder labels are
// replaced with heading text from the target documents.
func parseTOC(doc *packageDoc, opfPath string, read readFunc) []TOCEntry {
	var entries []TOCEntry

	if navItem, ok := findNavItem(doc); ok {
		navPath := resolveRelative(opfPath, navItem.Href)
		if data, err := read(navPath); err == nil {
			entries = parseNavDocument(data, navPath)
		}
	}
	if len(entries) == 0 {
		if ncxItem, ok := findNCXItem(doc); ok {
			ncxPath := resolveRelative(opfPath, ncxItem.Href)
			if data, err := read(ncxPath); err == nil {
				entries = parseNCX(data, ncxPath)
			}
		}
	}

	resolvePlaceholders(entries, read)
	return entries
}

func findNavItem(doc *packageDoc) (manifestItem, bool) {
	for _, item := range doc.Manifest {
		for _, prop := range strings.Fields(item.Properties) {
			if prop == "nav" {
				return item, true
			}
		}
	}
	return manifestItem{}, false
}

func findNCXItem(doc *packageDoc) (manifestItem, bool) {
	if doc.SpineToc != "" {
		if item, ok := doc.Manifest[doc.SpineToc]; ok {
			return item, true
		}
	}
	for _, item := range doc.Manifest {
		if item.MediaType == "application/x-dtbncx+xml" {
			return item, true
		}
	}
	return manifestItem{}, false
}

// --- NCX (EPUB 2) ---

type ncxDocument struct {
	XMLName xml.Name  `xml:"ncx"`
	NavMap  ncxNavMap `xml:"navMap"`
}

type ncxNavMap struct {
	NavPoints []ncxNavPoint `xml:"navPoint"`
}

type ncxNavPoint struct {
	Label    ncxNavLabel   `xml:"navLabel"`
	Content  ncxContent    `xml:"content"`
	Children []ncxNavPoint `xml:"navPoint"`
}

type ncxNavLabel struct {
	Text string `xml:"text"`
}

type ncxContent struct {
	Src string `xml:"src,attr"`
}

func parseNCX(data []byte, ncxPath string) []TOCEntry {
	var doc ncxDocument
	if err := xml.Unmarshal(preprocessEntities(stripBOM(data)), &doc); err != nil {
		return nil
	}
	var entries []TOCEntry
	flattenNavPoints(&entries, doc.NavMap.NavPoints, ncxPath, 1)
	return entries
}

func flattenNavPoints(entries *[]TOCEntry, points []ncxNavPoint, ncxPath string, level int) {
	for _, np := range points {
		entry := TOCEntry{
			Title:        strings.TrimSpace(np.Label.Text),
			Level:        level,
			ChapterIndex: -1,
		}
		if src := strings.TrimSpace(np.Content.Src); src != "" {
			file, frag := hrefFragment(src)
			resolved := resolveRelative(ncxPath, file)
			if frag != "" {
				entry.Href = resolved + "#" + frag
			} else {
				entry.Href = resolved
			}
		}
		*entries = append(*entries, entry)
		flattenNavPoints(entries, np.Children, ncxPath, level+1)
	}
}

// --- Nav document (EPUB 3) ---

func parseNavDocument(data []byte, navPath string) []TOCEntry {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil
	}

	var tocNav *html.Node
	var findNav func(*html.Node)
	findNav = func(n *html.Node) {
		if tocNav != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Nav && hasEpubType(n, "toc") {
			tocNav = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findNav(c)
		}
	}
	findNav(doc)
	if tocNav == nil {
		return nil
	}

	ol := findFirstElement(tocNav, atom.Ol)
	if ol == nil {
		return nil
	}
	var entries []TOCEntry
	flattenNavOL(&entries, ol, navPath, 1)
	return entries
}

func flattenNavOL(entries *[]TOCEntry, ol *html.Node, navPath string, level int) {
	for c := ol.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.DataAtom != atom.Li {
			continue
		}
		entry := TOCEntry{Level: level, ChapterIndex: -1}
		var childOL *html.Node
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			if cc.Type != html.ElementNode {
				continue
			}
			switch cc.DataAtom {
			case atom.A:
				if entry.Href == "" {
					if href := nodeAttr(cc, "href"); href != "" {
						file, frag := hrefFragment(href)
						resolved := resolveRelative(navPath, file)
						if frag != "" {
							entry.Href = resolved + "#" + frag
						} else {
							entry.Href = resolved
						}
					}
					entry.Title = strings.TrimSpace(nodeText(cc))
				}
			case atom.Span:
				if entry.Title == "" {
					entry.Title = strings.TrimSpace(nodeText(cc))
				}
			case atom.Ol:
				childOL = cc
			}
		}
		*entries = append(*entries, entry)
		if childOL != nil {
			flattenNavOL(entries, childOL, navPath, level+1)
		}
	}
}

func hasEpubType(n *html.Node, typeName string) bool {
	for _, t := range strings.Fields(nodeAttr(n, "epub:type")) {
		if t == typeName {
			return true
		}
	}
	return false
}

func nodeAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return sb.String()
}

func findFirstElement(n *html.Node, a atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
		if found := findFirstElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

// --- Placeholder label fallback ---

type docHeading struct {
	id    string
	text  string
	used  bool
	level int
}

// resolvePlaceholders replaces placeholder TOC labels with heading text
// from the target documents. Anchor-indexed entries take the heading
// carrying that id; the rest pop from a per-document queue so that each
// heading is used at most once.
func resolvePlaceholders(entries []TOCEntry, read readFunc) {
	queues := make(map[string][]*docHeading)

	headingsFor := func(docPath string) []*docHeading {
		if hs, ok := queues[docPath]; ok {
			return hs
		}
		var hs []*docHeading
		if data, err := read(docPath); err == nil {
			hs = extractHeadings(data)
		}
		queues[docPath] = hs
		return hs
	}

	for i := range entries {
		if entries[i].Title != "" && !placeholderLabel.MatchString(entries[i].Title) {
			continue
		}
		if entries[i].Href == "" {
			continue
		}
		file, frag := hrefFragment(entries[i].Href)
		hs := headingsFor(file)

		if frag != "" {
			for _, h := range hs {
				if !h.used && h.id == frag {
					entries[i].Title = h.text
					h.used = true
					break
				}
			}
			if entries[i].Title != "" && !placeholderLabel.MatchString(entries[i].Title) {
				continue
			}
		}
		for _, h := range hs {
			if !h.used {
				entries[i].Title = h.text
				h.used = true
				break
			}
		}
	}
}

// extractHeadings collects h1–h6 text in document order.
func extractHeadings(data []byte) []*docHeading {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil
	}
	var hs []*docHeading
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if lvl := headingLevel(n.DataAtom); lvl > 0 {
				text := strings.TrimSpace(collapseSpace(nodeText(n)))
				if text != "" {
					hs = append(hs, &docHeading{id: nodeAttr(n, "id"), text: text, level: lvl})
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return hs
}

func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	case atom.H6:
		return 6
	default:
		return 0
	}
}

// assignChapterIndices resolves each navigable entry to its spine
// position. Entries without a resolvable target stay non-navigable but
// are preserved as part headings.
func assignChapterIndices(entries []TOCEntry, spineIndex map[string]int) []TOCEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.Href != "" {
			file, _ := hrefFragment(e.Href)
			if idx, ok := spineIndex[file]; ok {
				e.ChapterIndex = idx
				e.Navigable = true
			}
		}
		if !e.Navigable && e.Title == "" {
			// Malformed rows with neither target nor title are dropped.
			continue
		}
		out = append(out, e)
	}
	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
