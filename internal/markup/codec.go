package markup

import (
	"sync/atomic"

	"richfield/internal/document"
)

// Codec converts between markup and documents.
type Codec interface {
	Parse(markup string) document.Document
	Serialize(doc document.Document) string
}

// HTML is the default Codec backed by Parse and Serialize.
type HTML struct{}

func (HTML) Parse(markup string) document.Document { return Parse(markup) }

func (HTML) Serialize(doc document.Document) string { return Serialize(doc) }

// CountingCodec wraps a Codec and counts Parse calls.
type CountingCodec struct {
	Codec
	parses atomic.Int64
}

// NewCountingCodec wraps inner, or the HTML codec when inner is nil.
func NewCountingCodec(inner Codec) *CountingCodec {
	if inner == nil {
		inner = HTML{}
	}
	return &CountingCodec{Codec: inner}
}

func (c *CountingCodec) Parse(markup string) document.Document {
	c.parses.Add(1)
	return c.Codec.Parse(markup)
}

// Parses returns how many times Parse has been called.
func (c *CountingCodec) Parses() int {
	return int(c.parses.Load())
}
