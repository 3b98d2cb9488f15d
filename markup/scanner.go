package markup

import "strings"

// Scanner is a cursor over a string. The zero value is not usable, see
// NewScanner.
type Scanner struct {
	text string
	pos  int
}

func NewScanner(text string) *Scanner {
	return &Scanner{text: text}
}

// Text returns the full text the scanner operates on.
func (s *Scanner) Text() string { return s.text }

// Pos returns the current cursor offset.
func (s *Scanner) Pos() int { return s.pos }

// Len returns the length of the underlying text.
func (s *Scanner) Len() int { return len(s.text) }

// Seek moves the cursor to an absolute offset, clamped to the text.
func (s *Scanner) Seek(pos int) {
	switch {
	case pos < 0:
		s.pos = 0
	case pos > len(s.text):
		s.pos = len(s.text)
	default:
		s.pos = pos
	}
}

// EOF reports whether the cursor reached the end of the text.
func (s *Scanner) EOF() bool { return s.pos >= len(s.text) }

// Peek returns the byte under the cursor, or 0 at the end of the text.
func (s *Scanner) Peek() byte {
	if s.EOF() {
		return 0
	}

	return s.text[s.pos]
}

// Next returns the byte under the cursor and advances by one.
func (s *Scanner) Next() byte {
	c := s.Peek()
	if !s.EOF() {
		s.pos++
	}

	return c
}

// HasPrefix reports whether the text at the cursor starts with p.
func (s *Scanner) HasPrefix(p string) bool {
	return strings.HasPrefix(s.text[s.pos:], p)
}

// HasPrefixFold is the case-insensitive version of HasPrefix.
func (s *Scanner) HasPrefixFold(p string) bool {
	rest := s.text[s.pos:]
	return len(rest) >= len(p) && strings.EqualFold(rest[:len(p)], p)
}

// Find returns the absolute offset of the next occurrence of sub starting
// at the cursor, or -1. The cursor does not move.
func (s *Scanner) Find(sub string) int {
	i := strings.Index(s.text[s.pos:], sub)
	if i < 0 {
		return -1
	}

	return s.pos + i
}

// FindFold is the case-insensitive version of Find. Only ASCII folding is
// applied, which is sufficient for markup names. The text is scanned in
// place, without a lower cased copy.
func (s *Scanner) FindFold(sub string) int {
	if sub == "" {
		return s.pos
	}

	first := asciiLowerByte(sub[0])
	for i := s.pos; i+len(sub) <= len(s.text); i++ {
		if asciiLowerByte(s.text[i]) == first && asciiEqualFold(s.text[i:i+len(sub)], sub) {
			return i
		}
	}

	return -1
}

// SkipWhitespace advances over spaces, tabs and line breaks.
func (s *Scanner) SkipWhitespace() {
	for !s.EOF() && isSpace(s.text[s.pos]) {
		s.pos++
	}
}

// ReadWhile advances while f accepts the byte under the cursor and returns
// the consumed text.
func (s *Scanner) ReadWhile(f func(byte) bool) string {
	start := s.pos
	for !s.EOF() && f(s.text[s.pos]) {
		s.pos++
	}

	return s.text[start:s.pos]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f'
}

func asciiLowerByte(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + 'a' - 'A'
	}

	return c
}

// asciiEqualFold expects a and b of the same length.
func asciiEqualFold(a, b string) bool {
	for i := 0; i < len(a); i++ {
		if asciiLowerByte(a[i]) != asciiLowerByte(b[i]) {
			return false
		}
	}

	return true
}

// asciiLower lower cases ASCII letters only, so byte offsets are kept.
func asciiLower(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			if b == nil {
				b = []byte(s)
			}

			b[i] = c + 'a' - 'A'
		}
	}

	if b == nil {
		return s
	}

	return string(b)
}
