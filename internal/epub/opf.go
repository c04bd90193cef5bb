package epub

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/language"
)

// packageDoc is the parsed OPF package document.
type packageDoc struct {
	Metadata opfMetadata
	Manifest map[string]manifestItem // id → item
	SpineIDs []string                // idrefs in reading order
	CoverID  string                  // manifest id of the cover image, if any
	SpineToc string                  // EPUB 2 spine toc attribute (NCX id)
}

type manifestItem struct {
	ID         string
	Href       string
	MediaType  string
	Properties string
}

type opfMetadata struct {
	Title    string
	Language string
	Authors  []string
	Year     string
	Misc     map[string]string
}

// parseOPF scans the package document with namespace-agnostic local-name
// matching. Broken books frequently mix namespaces, so struct decoding is
// avoided in favour of a token walk.
func parseOPF(data []byte) (*packageDoc, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(preprocessEntities(stripBOM(data)))))
	doc := &packageDoc{
		Manifest: make(map[string]manifestItem),
	}
	md := opfMetadata{Misc: make(map[string]string)}

	inMetadata := false
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing OPF: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "metadata":
				inMetadata = true
			case "item":
				item := manifestItem{}
				for _, attr := range t.Attr {
					switch attr.Name.Local {
					case "id":
						item.ID = attr.Value
					case "href":
						item.Href = attr.Value
					case "media-type":
						item.MediaType = attr.Value
					case "properties":
						item.Properties = attr.Value
					}
				}
				if item.ID != "" {
					doc.Manifest[item.ID] = item
				}
			case "spine":
				for _, attr := range t.Attr {
					if attr.Name.Local == "toc" {
						doc.SpineToc = attr.Value
					}
				}
			case "itemref":
				for _, attr := range t.Attr {
					if attr.Name.Local == "idref" && attr.Value != "" {
						doc.SpineIDs = append(doc.SpineIDs, attr.Value)
					}
				}
			case "meta":
				// EPUB 2 cover convention: <meta name="cover" content="id"/>.
				var name, content string
				for _, attr := range t.Attr {
					switch attr.Name.Local {
					case "name":
						name = attr.Value
					case "content":
						content = attr.Value
					}
				}
				if name == "cover" && content != "" {
					doc.CoverID = content
				}
			default:
				if !inMetadata {
					continue
				}
				switch t.Name.Local {
				case "title":
					if md.Title == "" {
						md.Title = readElementText(decoder)
					}
				case "language":
					if md.Language == "" {
						md.Language = expandLanguage(readElementText(decoder))
					}
				case "creator":
					if v := readElementText(decoder); v != "" {
						md.Authors = append(md.Authors, v)
					}
				case "date":
					if v := readElementText(decoder); v != "" && md.Year == "" {
						md.Year = yearOf(v)
					}
				case "publisher", "description", "subject", "rights", "identifier", "contributor", "source":
					if v := readElementText(decoder); v != "" {
						if _, seen := md.Misc[t.Name.Local]; !seen {
							md.Misc[t.Name.Local] = v
						}
					}
				}
			}
		case xml.EndElement:
			if t.Name.Local == "metadata" {
				inMetadata = false
			}
		}
	}

	doc.Metadata = md
	return doc, nil
}

func readElementText(decoder *xml.Decoder) string {
	var text string
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.CharData:
			text += string(t)
		case xml.EndElement:
			return strings.TrimSpace(text)
		}
	}
	return strings.TrimSpace(text)
}

// expandLanguage normalizes a metadata language string, expanding bare
// primary subtags to lang_LANG (e.g. "en" → "en_EN").
func expandLanguage(lang string) string {
	lang = strings.TrimSpace(lang)
	if lang == "" {
		return ""
	}
	if _, err := language.Parse(lang); err != nil {
		return lang
	}
	normalized := strings.ReplaceAll(lang, "-", "_")
	if strings.Contains(normalized, "_") {
		return normalized
	}
	return normalized + "_" + strings.ToUpper(normalized)
}

func yearOf(date string) string {
	for i := 0; i+4 <= len(date); i++ {
		if isDigits(date[i : i+4]) {
			return date[i : i+4]
		}
	}
	return ""
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}
