package epub

import (
	"regexp"
	"strings"
)

// entityNameToNumeric maps lowercase HTML entity names to XML numeric
// character references. encoding/xml does not recognise HTML named
// entities, so OPF and NCX data is rewritten before parsing.
var entityNameToNumeric = map[string]string{
	"nbsp": "&#160;", "mdash": "&#8212;", "ndash": "&#8211;",
	"hellip": "&#8230;",
	"lsquo":  "&#8216;", "rsquo": "&#8217;",
	"ldquo": "&#8220;", "rdquo": "&#8221;",
	"copy": "&#169;", "reg": "&#174;", "trade": "&#8482;",
	"bull": "&#8226;", "middot": "&#183;",
	"eacute": "&#233;", "egrave": "&#232;",
	"agrave": "&#224;", "auml": "&#228;",
	"ouml": "&#246;", "uuml": "&#252;",
	"ntilde": "&#241;", "ccedil": "&#231;",
	"deg": "&#176;", "sect": "&#167;",
	"laquo": "&#171;", "raquo": "&#187;",
}

var entityPattern = regexp.MustCompile(
	`(?i)&(nbsp|mdash|ndash|hellip|lsquo|rsquo|ldquo|rdquo|copy|reg|trade|bull|middot|` +
		`eacute|egrave|agrave|auml|ouml|uuml|ntilde|ccedil|deg|sect|laquo|raquo);`)

// preprocessEntities rewrites common HTML named entities to numeric
// references, case-insensitively.
func preprocessEntities(data []byte) []byte {
	return entityPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := strings.ToLower(string(match[1 : len(match)-1]))
		if replacement, ok := entityNameToNumeric[name]; ok {
			return []byte(replacement)
		}
		return match
	})
}
