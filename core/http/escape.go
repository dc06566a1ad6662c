package http

import (
	"golang.org/x/net/html"
)

// AppendHTMLEscaped appends s to dst with HTML special characters escaped.
func AppendHTMLEscaped(dst []byte, s string) []byte {
	return append(dst, html.EscapeString(s)...)
}

// unescapeInPlace decodes %XX sequences and '+' in b, returning the decoded
// length. Malformed escapes are kept literally.
func unescapeInPlace(b []byte) int {
	w := 0
	for r := 0; r < len(b); r++ {
		c := b[r]
		switch {
		case c == '+':
			c = ' '
		case c == '%' && r+2 < len(b) && isHex(b[r+1]) && isHex(b[r+2]):
			c = unhex(b[r+1])<<4 | unhex(b[r+2])
			r += 2
		}
		b[w] = c
		w++
	}
	return w
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
