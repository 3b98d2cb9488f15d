package markup

import (
	"strings"

	"github.com/google/uuid"
)

// Tag is a markup tag found by ParseNext. StartPos points at the opening
// '<', EndPos just past the closing '>' of the tag, or of its immediately
// following end tag when there is one.
type Tag struct {
	ID          string
	Name        string
	Attributes  map[string]string
	StartPos    int
	EndPos      int
	SelfClosing bool
}

// Attr returns the value of an attribute, matched case-insensitively.
func (t Tag) Attr(name string) string {
	return t.Attributes[asciiLower(name)]
}

// Len returns the length of the span covered by the tag.
func (t Tag) Len() int { return t.EndPos - t.StartPos }

// ParseNext scans forward from the cursor of s and returns the next tag whose
// name matches one of names, case-insensitively. Comments, closing tags and
// the content of script elements are skipped. Malformed tags are dropped
// without an error, the cursor still advances past them. It returns false
// when no more matching tags exist.
func ParseNext(names []string, s *Scanner) (Tag, bool) {
	for {
		start := s.Find("<")
		if start < 0 {
			s.Seek(s.Len())
			return Tag{}, false
		}

		s.Seek(start)
		switch {
		case s.HasPrefix("<!--"):
			s.Seek(start + 4)
			end := s.Find("-->")
			if end < 0 {
				s.Seek(s.Len())
				return Tag{}, false
			}

			s.Seek(end + 3)
			continue
		case s.HasPrefix("</"):
			s.Seek(start + 2)
			end := s.Find(">")
			if end < 0 {
				s.Seek(s.Len())
				return Tag{}, false
			}

			s.Seek(end + 1)
			continue
		}

		s.Next()
		name := readName(s)
		if name == "" {
			continue
		}

		if !matchName(names, name) {
			if strings.EqualFold(name, "script") {
				skipScript(s)
			}

			continue
		}

		if t, ok := parseTag(s, name, start); ok {
			return t, true
		}
	}
}

// ParseAll returns every tag in text matching one of names, in document
// order.
func ParseAll(text string, names ...string) []Tag {
	var tags []Tag
	s := NewScanner(text)
	for {
		t, ok := ParseNext(names, s)
		if !ok {
			return tags
		}

		tags = append(tags, t)
	}
}

func matchName(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return true
		}
	}

	return false
}

func isLetter(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isNameChar(c byte) bool {
	return isLetter(c) || c >= '0' && c <= '9' || c == '-' || c == '_' || c == ':' || c == '.'
}

func readName(s *Scanner) string {
	if !isLetter(s.Peek()) {
		return ""
	}

	return s.ReadWhile(isNameChar)
}

// skipScript moves the cursor to the closing script tag, so that script
// text is never taken for markup.
func skipScript(s *Scanner) {
	end := s.FindFold("</script")
	if end < 0 {
		s.Seek(s.Len())
		return
	}

	s.Seek(end)
}

// atSelfClose is also called from ReadWhile callbacks, where the cursor
// points at the byte being tested.
func atSelfClose(s *Scanner) bool {
	return s.HasPrefix("/>")
}

func parseTag(s *Scanner, name string, start int) (Tag, bool) {
	attrs := make(map[string]string)
	for {
		s.SkipWhitespace()
		if s.EOF() {
			return Tag{}, false
		}

		switch s.Peek() {
		case '>':
			s.Next()
			return finishTag(s, name, start, attrs, false), true
		case '<':
			// leave the cursor on the '<', it may start the next tag
			return Tag{}, false
		case '/':
			s.Next()
			if s.Peek() == '>' {
				s.Next()
				return finishTag(s, name, start, attrs, true), true
			}

			continue
		}

		key := s.ReadWhile(func(c byte) bool {
			return c != '=' && c != '>' && c != '<' && !isSpace(c) && !(c == '/' && atSelfClose(s))
		})

		if key == "" {
			// a stray '=' or similar
			s.Next()
			continue
		}

		s.SkipWhitespace()
		var value string
		if s.Peek() == '=' {
			s.Next()
			s.SkipWhitespace()
			if s.EOF() {
				return Tag{}, false
			}

			if q := s.Peek(); q == '"' || q == '\'' {
				s.Next()
				value = s.ReadWhile(func(c byte) bool { return c != q && c != '\r' && c != '\n' })
				if s.EOF() {
					return Tag{}, false
				}

				if s.Peek() == q {
					s.Next()
				}
			} else {
				value = s.ReadWhile(func(c byte) bool {
					return c != '>' && c != '<' && !isSpace(c) && !(c == '/' && atSelfClose(s))
				})
			}
		}

		attrs[asciiLower(key)] = value
	}
}

func finishTag(s *Scanner, name string, start int, attrs map[string]string, selfClosing bool) Tag {
	end := s.Pos()
	if !selfClosing {
		s.SkipWhitespace()
		if s.HasPrefixFold("</" + name) {
			s.Seek(s.Pos() + 2 + len(name))
			s.SkipWhitespace()
			if s.Peek() == '>' {
				s.Next()
				end = s.Pos()
			}
		}

		s.Seek(end)
	}

	return Tag{
		ID:          uuid.NewString(),
		Name:        asciiLower(name),
		Attributes:  attrs,
		StartPos:    start,
		EndPos:      end,
		SelfClosing: selfClosing,
	}
}
