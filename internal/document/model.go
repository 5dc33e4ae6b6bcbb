// Package document holds the structured rich-text model edited by a field session:
// an ordered list of blocks, each an ordered list of styled runs.
//
// Documents are values. Every edit function returns a new Document and leaves its
// input untouched, so a caller holding an older Document never observes a change.
package document

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind is the paragraph-level type of a block.
type Kind string

const (
	KindNormal        Kind = "normal"
	KindHeading1      Kind = "heading1"
	KindHeading2      Kind = "heading2"
	KindHeading3      Kind = "heading3"
	KindBlockquote    Kind = "blockquote"
	KindUnorderedItem Kind = "unordered-item"
	KindOrderedItem   Kind = "ordered-item"
)

// Valid reports whether k is one of the known block kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindNormal, KindHeading1, KindHeading2, KindHeading3, KindBlockquote, KindUnorderedItem, KindOrderedItem:
		return true
	default:
		return false
	}
}

// IsListItem reports whether k renders inside a list container.
func (k Kind) IsListItem() bool {
	return k == KindUnorderedItem || k == KindOrderedItem
}

// Alignment is the horizontal alignment of a block.
type Alignment string

const (
	AlignLeft   Alignment = "left"
	AlignCenter Alignment = "center"
	AlignRight  Alignment = "right"
)

// Valid reports whether a is a known alignment.
func (a Alignment) Valid() bool {
	return a == AlignLeft || a == AlignCenter || a == AlignRight
}

// Style is a set of inline emphasis flags.
type Style uint8

const (
	Bold Style = 1 << iota
	Italic
	Underline
	Strikethrough
)

var styleNames = []struct {
	style Style
	name  string
}{
	{Bold, "bold"},
	{Italic, "italic"},
	{Underline, "underline"},
	{Strikethrough, "strikethrough"},
}

// Has reports whether every flag in other is set in s.
func (s Style) Has(other Style) bool {
	return other != 0 && s&other == other
}

// Names returns the flag names in canonical order.
func (s Style) Names() []string {
	names := make([]string, 0, len(styleNames))
	for _, item := range styleNames {
		if s&item.style != 0 {
			names = append(names, item.name)
		}
	}
	return names
}

func (s Style) String() string {
	if s == 0 {
		return "plain"
	}
	return strings.Join(s.Names(), "|")
}

// ParseStyle maps style names to flags. Unknown names are an error.
func ParseStyle(names ...string) (Style, error) {
	var out Style
	for _, name := range names {
		found := false
		for _, item := range styleNames {
			if strings.EqualFold(strings.TrimSpace(name), item.name) {
				out |= item.style
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown style %q", name)
		}
	}
	return out, nil
}

func (s Style) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

func (s *Style) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("decode style: %w", err)
	}
	parsed, err := ParseStyle(names...)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Run is a span of text sharing one inline format.
type Run struct {
	Text     string `json:"text"`
	Style    Style  `json:"style,omitempty"`
	FontSize int    `json:"fontSize,omitempty"`
	Color    string `json:"color,omitempty"`
	Link     string `json:"link,omitempty"`
}

// SameFormat reports whether r and other would render with identical markup.
func (r Run) SameFormat(other Run) bool {
	return r.format() == other.format()
}

// Block is one paragraph-level unit.
type Block struct {
	Kind  Kind      `json:"kind"`
	Align Alignment `json:"align"`
	Runs  []Run     `json:"runs"`
}

// Text returns the concatenated run text of the block.
func (b Block) Text() string {
	if len(b.Runs) == 1 {
		return b.Runs[0].Text
	}
	var sb strings.Builder
	for _, run := range b.Runs {
		sb.WriteString(run.Text)
	}
	return sb.String()
}

// Document is the full editable content of a field.
type Document struct {
	Blocks []Block `json:"blocks"`
}

// Empty returns the canonical empty document: one normal, left-aligned block
// holding one empty run.
func Empty() Document {
	return Document{Blocks: []Block{emptyBlock(KindNormal, AlignLeft)}}
}

func emptyBlock(kind Kind, align Alignment) Block {
	return Block{Kind: kind, Align: align, Runs: []Run{{}}}
}

// IsEmpty reports whether d is the canonical empty document or has no blocks.
func (d Document) IsEmpty() bool {
	if len(d.Blocks) == 0 {
		return true
	}
	if len(d.Blocks) != 1 {
		return false
	}
	b := d.Blocks[0]
	return (b.Kind == KindNormal || b.Kind == "") &&
		(b.Align == AlignLeft || b.Align == "") &&
		len(b.Runs) <= 1 &&
		(len(b.Runs) == 0 || b.Runs[0] == Run{})
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	out := Document{Blocks: make([]Block, len(d.Blocks))}
	for i, b := range d.Blocks {
		out.Blocks[i] = Block{Kind: b.Kind, Align: b.Align, Runs: append([]Run(nil), b.Runs...)}
	}
	return out
}

// Equal reports whether a and b are structurally identical.
func Equal(a, b Document) bool {
	if len(a.Blocks) != len(b.Blocks) {
		return false
	}
	for i := range a.Blocks {
		x, y := a.Blocks[i], b.Blocks[i]
		if x.Kind != y.Kind || x.Align != y.Align || len(x.Runs) != len(y.Runs) {
			return false
		}
		for j := range x.Runs {
			if x.Runs[j] != y.Runs[j] {
				return false
			}
		}
	}
	return true
}

// Normalize returns the canonical form of d: every block has a known kind and
// alignment, empty runs are dropped, adjacent runs with the same format are merged,
// and a block with no text holds exactly one unformatted empty run. A document
// without blocks becomes Empty().
func Normalize(d Document) Document {
	if len(d.Blocks) == 0 {
		return Empty()
	}
	out := Document{Blocks: make([]Block, 0, len(d.Blocks))}
	for _, b := range d.Blocks {
		out.Blocks = append(out.Blocks, normalizeBlock(b))
	}
	return out
}

func normalizeBlock(b Block) Block {
	kind := b.Kind
	if !kind.Valid() {
		kind = KindNormal
	}
	align := b.Align
	if !align.Valid() {
		align = AlignLeft
	}
	runs := make([]Run, 0, len(b.Runs))
	for _, run := range b.Runs {
		if run.Text == "" {
			continue
		}
		if run.FontSize < 0 {
			run.FontSize = 0
		}
		if n := len(runs); n > 0 && runs[n-1].SameFormat(run) {
			runs[n-1].Text += run.Text
			continue
		}
		runs = append(runs, run)
	}
	if len(runs) == 0 {
		runs = append(runs, Run{})
	}
	return Block{Kind: kind, Align: align, Runs: runs}
}

// format is a Run without its text.
type format struct {
	style    Style
	fontSize int
	color    string
	link     string
}

func (r Run) format() format {
	return format{style: r.Style, fontSize: r.FontSize, color: r.Color, link: r.Link}
}

func (f format) run(text string) Run {
	return Run{Text: text, Style: f.style, FontSize: f.fontSize, Color: f.color, Link: f.link}
}
