package selector

import (
	"strconv"
	"strings"
)

// Escape serializes s as a CSS identifier, following the CSSOM
// CSS.escape() algorithm used by the browser.
func Escape(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		switch {
		case r == 0:
			b.WriteRune('\uFFFD')
		case (r >= 0x1 && r <= 0x1f) || r == 0x7f:
			hexEscape(&b, r)
		case i == 0 && r >= '0' && r <= '9':
			hexEscape(&b, r)
		case i == 1 && r >= '0' && r <= '9' && runes[0] == '-':
			hexEscape(&b, r)
		case i == 0 && r == '-' && len(runes) == 1:
			b.WriteString(`\-`)
		case r >= 0x80 || r == '-' || r == '_' ||
			(r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z'):
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}

func hexEscape(b *strings.Builder, r rune) {
	b.WriteByte('\\')
	b.WriteString(strconv.FormatInt(int64(r), 16))
	b.WriteByte(' ')
}
