package epub

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shoko-reader/shoko/internal/logging"
	"github.com/shoko-reader/shoko/internal/zipreader"
)

// chapterMediaTypes are spine media we treat as chapter documents.
var chapterMediaTypes = map[string]bool{
	"application/xhtml+xml": true,
	"text/html":             true,
	"application/xml":       true,
}

var resourceMediaPrefixes = []string{"image/", "text/css"}

// Ingest opens the archive at path and builds the full book model.
// An archive that cannot be opened, or a missing container or OPF,
// promotes the book to an "Empty Book" placeholder so the reader stays
// usable; a missing file and an exceeded zip limit return an error.
func Ingest(path string, limits zipreader.Limits) (*Book, []Chapter, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("stat %q: %w", path, err)
	}

	archive, err := zipreader.Open(path, limits)
	if err != nil {
		var limitErr *zipreader.LimitError
		if errors.As(err, &limitErr) {
			return nil, nil, err
		}
		logging.Warnf("ingest", "cannot open %q as archive: %v", path, err)
		book, chapters := emptyBook()
		return book, chapters, nil
	}
	defer archive.Close()

	containerData, err := archive.Read(containerPath)
	if err != nil {
		logging.Warnf("ingest", "missing container.xml in %q: %v", path, err)
		book, chapters := emptyBook()
		return book, chapters, nil
	}

	opfPath, err := parseContainer(containerData)
	if err != nil {
		logging.Warnf("ingest", "unusable container.xml in %q: %v", path, err)
		book, chapters := emptyBook()
		return book, chapters, nil
	}

	opfData, err := archive.Read(opfPath)
	if err != nil {
		logging.Warnf("ingest", "missing OPF %q: %v", opfPath, err)
		book, chapters := emptyBook()
		return book, chapters, nil
	}

	doc, err := parseOPF(opfData)
	if err != nil {
		logging.Warnf("ingest", "unusable OPF %q: %v", opfPath, err)
		book, chapters := emptyBook()
		return book, chapters, nil
	}

	book := &Book{
		Title:         strings.TrimSpace(doc.Metadata.Title),
		Language:      doc.Metadata.Language,
		Authors:       doc.Metadata.Authors,
		Metadata:      doc.Metadata.Misc,
		OPFPath:       opfPath,
		ContainerPath: containerPath,
		ContainerXML:  string(containerData),
		Resources:     make(map[string][]byte),
	}
	if book.Title == "" {
		book.Title = "Unknown"
	}
	if doc.Metadata.Year != "" {
		book.Metadata["year"] = doc.Metadata.Year
	}

	// Spine in reading order; chapters numbered from 1.
	spineIndex := make(map[string]int)
	seen := make(map[string]bool)
	for _, idref := range doc.SpineIDs {
		item, ok := doc.Manifest[idref]
		if !ok {
			continue
		}
		if item.MediaType != "" && !chapterMediaTypes[item.MediaType] {
			continue
		}
		href := resolveRelative(opfPath, item.Href)
		if href == "" || seen[href] {
			continue
		}
		if _, found := archive.Find(href); !found {
			logging.Debugf("ingest", "spine item %q not in archive, skipped", href)
			continue
		}
		seen[href] = true
		pos := len(book.Spine)
		book.Spine = append(book.Spine, href)
		spineIndex[href] = pos
		book.Chapters = append(book.Chapters, ChapterRef{
			Position: pos,
			Number:   pos + 1,
			FilePath: href,
		})
	}

	if len(book.Chapters) == 0 {
		logging.Warnf("ingest", "no readable spine items in %q", path)
		book, chapters := emptyBook()
		return book, chapters, nil
	}

	toc := parseTOC(doc, opfPath, archive.Read)
	book.TOC = assignChapterIndices(toc, spineIndex)
	applyChapterTitles(book)

	chapters := make([]Chapter, len(book.Chapters))
	for i, ref := range book.Chapters {
		raw, err := archive.Read(ref.FilePath)
		if err != nil {
			logging.Warnf("ingest", "chapter %q unreadable: %v", ref.FilePath, err)
			raw = nil
		}
		chapters[i] = Chapter{
			Position: ref.Position,
			Number:   ref.Number,
			Title:    ref.Title,
			RawXHTML: raw,
			Metadata: map[string]string{"source_path": ref.FilePath},
		}
	}

	collectResources(book, doc, opfPath, archive)

	return book, chapters, nil
}

// applyChapterTitles fills chapter titles from navigable TOC entries,
// falling back to "Chapter N"; document headings are not consulted.
func applyChapterTitles(book *Book) {
	byIndex := make(map[int]string)
	for _, e := range book.TOC {
		if e.Navigable && e.Title != "" {
			if _, ok := byIndex[e.ChapterIndex]; !ok {
				byIndex[e.ChapterIndex] = e.Title
			}
		}
	}
	for i := range book.Chapters {
		if t, ok := byIndex[i]; ok {
			book.Chapters[i].Title = t
		} else {
			book.Chapters[i].Title = fmt.Sprintf("Chapter %d", i+1)
		}
	}
}

// collectResources gathers the cover plus image and stylesheet manifest
// items. Unreadable resources are omitted.
func collectResources(book *Book, doc *packageDoc, opfPath string, archive *zipreader.Reader) {
	wanted := make(map[string]bool)

	if doc.CoverID != "" {
		if item, ok := doc.Manifest[doc.CoverID]; ok {
			wanted[resolveRelative(opfPath, item.Href)] = true
		}
	}
	for _, item := range doc.Manifest {
		for _, prop := range strings.Fields(item.Properties) {
			if prop == "cover-image" {
				wanted[resolveRelative(opfPath, item.Href)] = true
			}
		}
		for _, prefix := range resourceMediaPrefixes {
			if strings.HasPrefix(item.MediaType, prefix) {
				wanted[resolveRelative(opfPath, item.Href)] = true
			}
		}
	}

	for href := range wanted {
		if href == "" {
			continue
		}
		data, err := archive.Read(href)
		if err != nil {
			logging.Debugf("ingest", "resource %q unreadable: %v", href, err)
			continue
		}
		book.Resources[href] = data
	}
}

// emptyBook is the placeholder model for archives we cannot interpret.
func emptyBook() (*Book, []Chapter) {
	book := &Book{
		Title:    "Empty Book",
		Metadata: map[string]string{},
		Spine:    []string{"placeholder.xhtml"},
		Chapters: []ChapterRef{{Position: 0, Number: 1, Title: "Chapter 1", FilePath: "placeholder.xhtml"}},
	}
	chapters := []Chapter{{
		Position: 0,
		Number:   1,
		Title:    "Chapter 1",
		RawXHTML: []byte("<html><body><p>This book could not be opened.</p></body></html>"),
		Metadata: map[string]string{"source_path": "placeholder.xhtml"},
	}}
	return book, chapters
}

// EnsureBlocks parses the chapter body on first use. A chapter whose
// body cannot be parsed gets a single placeholder paragraph.
func (c *Chapter) EnsureBlocks() {
	if c.Blocks != nil {
		return
	}
	blocks, err := ParseBlocks(c.RawXHTML, c.SourcePath())
	if err != nil {
		logging.Warnf("format", "chapter %q: %v", c.SourcePath(), err)
		blocks = []Block{{
			Kind:     KindParagraph,
			Segments: []Segment{{Text: "[chapter unavailable]"}},
		}}
	}
	if blocks == nil {
		blocks = []Block{}
	}
	c.Blocks = blocks
}

// SourcePath returns the archive-internal path the chapter came from.
func (c *Chapter) SourcePath() string {
	if c.Metadata != nil {
		if p, ok := c.Metadata["source_path"]; ok {
			return p
		}
	}
	return fmt.Sprintf("chapter-%06d", c.Position)
}
