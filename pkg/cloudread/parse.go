package cloudread

import (
	"strings"

	"github.com/valyala/fastjson"
)

// ExtractText pulls analyzeResult.readResults[].lines[].text out of a Read
// response, dropping blank and null lines and joining the rest with "\n".
// Any payload that does not have that shape is returned verbatim.
func ExtractText(payload []byte) string {
	var p fastjson.Parser
	v, err := p.ParseBytes(payload)
	if err != nil {
		return string(payload)
	}
	lines, ok := readLines(v)
	if !ok {
		return string(payload)
	}
	return strings.Join(lines, "\n")
}

// readLines walks the read results. It reports false when a page is not an
// object, a page has no lines array, or a line's text is missing or neither
// a string nor null.
func readLines(v *fastjson.Value) ([]string, bool) {
	results := v.Get("analyzeResult", "readResults")
	if results == nil || results.Type() != fastjson.TypeArray {
		return nil, false
	}

	var lines []string
	for _, page := range results.GetArray() {
		if page.Type() != fastjson.TypeObject {
			return nil, false
		}
		pageLines := page.Get("lines")
		if pageLines == nil || pageLines.Type() != fastjson.TypeArray {
			return nil, false
		}
		for _, line := range pageLines.GetArray() {
			if line.Type() != fastjson.TypeObject {
				return nil, false
			}
			t := line.Get("text")
			if t == nil {
				return nil, false
			}
			switch t.Type() {
			case fastjson.TypeNull:
				continue
			case fastjson.TypeString:
			default:
				return nil, false
			}
			s := string(t.GetStringBytes())
			if strings.TrimSpace(s) == "" {
				continue
			}
			lines = append(lines, s)
		}
	}
	return lines, true
}
