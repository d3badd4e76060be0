package extract

import "strings"

// StripComments removes // line comments and /* */ block comments from text
// while leaving string literals untouched.
//
// Line comments end before the newline, which is kept. An unterminated block
// comment consumes the rest of the input.
func StripComments(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	inString := false
	escapeNext := false

	for i := 0; i < len(text); i++ {
		ch := text[i]

		if inString {
			b.WriteByte(ch)
			switch {
			case escapeNext:
				escapeNext = false
			case ch == '\\':
				escapeNext = true
			case ch == '"':
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			b.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(text) {
			switch text[i+1] {
			case '/':
				nl := strings.IndexByte(text[i:], '\n')
				if nl < 0 {
					return b.String()
				}
				i += nl - 1 // the newline itself is written next iteration
				continue
			case '*':
				end := strings.Index(text[i+2:], "*/")
				if end < 0 {
					return b.String()
				}
				i += 2 + end + 1
				continue
			}
		}

		b.WriteByte(ch)
	}

	return b.String()
}
