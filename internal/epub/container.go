package epub

import (
	"encoding/xml"
	"fmt"
	"path"
	"strings"
)

const containerPath = "META-INF/container.xml"

type containerXML struct {
	XMLName   xml.Name     `xml:"container"`
	RootFiles rootFilesXML `xml:"rootfiles"`
}

type rootFilesXML struct {
	RootFile []rootFileXML `xml:"rootfile"`
}

type rootFileXML struct {
	FullPath  string `xml:"full-path,attr"`
	MediaType string `xml:"media-type,attr"`
}

// parseContainer extracts the OPF path from META-INF/container.xml.
func parseContainer(data []byte) (string, error) {
	var c containerXML
	if err := xml.Unmarshal(preprocessEntities(stripBOM(data)), &c); err != nil {
		return "", fmt.Errorf("parsing container.xml: %w", err)
	}

	for _, rf := range c.RootFiles.RootFile {
		if rf.MediaType == "application/oebps-package+xml" || rf.MediaType == "" {
			if rf.FullPath != "" {
				return rf.FullPath, nil
			}
		}
	}
	// No rootfile with the expected media-type; take the first one present.
	if len(c.RootFiles.RootFile) > 0 && c.RootFiles.RootFile[0].FullPath != "" {
		return c.RootFiles.RootFile[0].FullPath, nil
	}
	return "", fmt.Errorf("container.xml has no rootfile")
}

// resolveRelative resolves href against the directory of basePath,
// producing an archive-internal path.
func resolveRelative(basePath, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if idx := strings.IndexByte(href, '#'); idx == 0 {
		return ""
	}
	dir := path.Dir(basePath)
	if dir == "." {
		return path.Clean(href)
	}
	return path.Clean(dir + "/" + href)
}

// hrefFragment splits an href into its path and fragment parts.
func hrefFragment(href string) (string, string) {
	if idx := strings.IndexByte(href, '#'); idx >= 0 {
		return href[:idx], href[idx+1:]
	}
	return href, ""
}

func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}
