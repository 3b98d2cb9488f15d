package compose

import (
	"errors"
	"fmt"
	"sync"

	"github.com/contensis/request-handler-localdevelopment-sub000/markup"
)

// ErrUnknownTag is returned when a splice references a tag that was never
// registered with the buffer.
var ErrUnknownTag = errors.New("unknown tag")

// SpanError is returned when the span of a tag, or a layout content region,
// does not fit the text it is applied to.
type SpanError struct {
	TagID      string
	Start, End int
	Len        int
}

func (e *SpanError) Error() string {
	if e.TagID == "" {
		return fmt.Sprintf("invalid content region [%d, %d) in layout of length %d", e.Start, e.End, e.Len)
	}

	return fmt.Sprintf("invalid span [%d, %d) of tag %s in buffer of length %d", e.Start, e.End, e.TagID, e.Len)
}

// Buffer holds a document and the tags discovered in it. Replacing the span
// of a tag, or wrapping the document into a layout, keeps the offsets of all
// registered tags valid for the current text. Buffer is safe for concurrent
// use.
type Buffer struct {
	mu    sync.Mutex
	text  string
	tags  []markup.Tag
	index map[string]int
}

// NewBuffer creates a buffer for text and registers tags in the given
// order, which is expected to be the discovery order.
func NewBuffer(text string, tags []markup.Tag) *Buffer {
	b := &Buffer{
		text:  text,
		tags:  make([]markup.Tag, len(tags)),
		index: make(map[string]int, len(tags)),
	}

	copy(b.tags, tags)
	for i, t := range b.tags {
		b.index[t.ID] = i
	}

	return b
}

// ReplaceTag replaces the current span of the tag identified by id with
// text. The tags registered after it are shifted by the change in length.
func (b *Buffer) ReplaceTag(id, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	i, ok := b.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTag, id)
	}

	t := &b.tags[i]
	if t.StartPos < 0 || t.EndPos < t.StartPos || t.EndPos > len(b.text) {
		return &SpanError{TagID: id, Start: t.StartPos, End: t.EndPos, Len: len(b.text)}
	}

	delta := len(text) - (t.EndPos - t.StartPos)
	b.text = b.text[:t.StartPos] + text + b.text[t.EndPos:]
	t.EndPos = t.StartPos + len(text)
	for j := i + 1; j < len(b.tags); j++ {
		b.tags[j].StartPos += delta
		b.tags[j].EndPos += delta
	}

	return nil
}

// WrapWithLayout places the current text into layout, replacing the region
// [start, end) of the layout. All registered tags are shifted by start.
func (b *Buffer) WrapWithLayout(layout string, start, end int) error {
	if start < 0 || end < start || end > len(layout) {
		return &SpanError{Start: start, End: end, Len: len(layout)}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.text = layout[:start] + b.text + layout[end:]
	for i := range b.tags {
		b.tags[i].StartPos += start
		b.tags[i].EndPos += start
	}

	return nil
}

// Text returns the current text.
func (b *Buffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

// tag returns the current state of a registered tag.
func (b *Buffer) tag(id string) (markup.Tag, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i, ok := b.index[id]
	if !ok {
		return markup.Tag{}, false
	}

	return b.tags[i], true
}
