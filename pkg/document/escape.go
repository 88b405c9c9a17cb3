package document

import (
	"bytes"
	"encoding/json"
	"strings"
)

// escapeScript makes JSON safe to place inside a script element. '<', '>'
// and '&' become \u escapes, as do U+2028 and U+2029. The result is still
// valid JSON with the same meaning.
func escapeScript(data []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(data))
	json.HTMLEscape(&buf, data)
	return buf.Bytes()
}

// escapeAttr escapes text for safe inclusion in HTML attribute values.
func escapeAttr(s string) string {
	var buf strings.Builder
	buf.Grow(len(s))

	for _, r := range s {
		switch r {
		case '&':
			buf.WriteString("&amp;")
		case '<':
			buf.WriteString("&lt;")
		case '>':
			buf.WriteString("&gt;")
		case '"':
			buf.WriteString("&quot;")
		case '\'':
			buf.WriteString("&#39;")
		case '\n':
			buf.WriteString("&#10;")
		case '\r':
			buf.WriteString("&#13;")
		case '\t':
			buf.WriteString("&#9;")
		default:
			buf.WriteRune(r)
		}
	}

	return buf.String()
}
