package main

import "strings"

// decodeEscapes interprets C-style escape sequences in a prompt passed on
// the command line, so --prompt "<image>\nDescribe." carries a real
// newline. Besides the single-character escapes it handles \xNN and \uNNNN
// codepoints. Malformed or unknown escapes pass through untouched.
func decodeEscapes(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		case '"':
			b.WriteByte('"')
		case '\'':
			b.WriteByte('\'')
		case '0':
			b.WriteByte(0)
		case 'x':
			if v, ok := hexValue(s, i+1, 2); ok {
				b.WriteByte(byte(v))
				i += 2
			} else {
				b.WriteString(`\x`)
			}
		case 'u':
			if v, ok := hexValue(s, i+1, 4); ok {
				b.WriteRune(rune(v))
				i += 4
			} else {
				b.WriteString(`\u`)
			}
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// hexValue parses exactly n hex digits of s starting at pos.
func hexValue(s string, pos, n int) (int, bool) {
	if pos+n > len(s) {
		return 0, false
	}
	v := 0
	for _, c := range []byte(s[pos : pos+n]) {
		switch {
		case c >= '0' && c <= '9':
			v = v<<4 | int(c-'0')
		case c >= 'a' && c <= 'f':
			v = v<<4 | int(c-'a'+10)
		case c >= 'A' && c <= 'F':
			v = v<<4 | int(c-'A'+10)
		default:
			return 0, false
		}
	}
	return v, true
}
