package document

import (
	"strings"
	"unicode/utf8"
)

// Pos addresses a caret position: a block index and a rune offset into that
// block's text.
type Pos struct {
	Block  int `json:"block"`
	Offset int `json:"offset"`
}

// Range is a half-open span [Start, End) across blocks.
type Range struct {
	Start Pos `json:"start"`
	End   Pos `json:"end"`
}

// Before reports whether p sorts strictly before other.
func (p Pos) Before(other Pos) bool {
	if p.Block != other.Block {
		return p.Block < other.Block
	}
	return p.Offset < other.Offset
}

// IsEmpty reports whether r selects nothing.
func (r Range) IsEmpty() bool {
	return r.Start == r.End
}

// Clamp moves p to the nearest valid position in d.
func Clamp(d Document, p Pos) Pos {
	if len(d.Blocks) == 0 {
		return Pos{}
	}
	if p.Block < 0 {
		return Pos{}
	}
	if p.Block >= len(d.Blocks) {
		last := len(d.Blocks) - 1
		return Pos{Block: last, Offset: blockLen(d.Blocks[last])}
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	if n := blockLen(d.Blocks[p.Block]); p.Offset > n {
		p.Offset = n
	}
	return p
}

// ClampRange orders and clamps both ends of r.
func ClampRange(d Document, r Range) Range {
	start, end := Clamp(d, r.Start), Clamp(d, r.End)
	if end.Before(start) {
		start, end = end, start
	}
	return Range{Start: start, End: end}
}

// End returns the position after the last rune of d.
func End(d Document) Pos {
	return Clamp(d, Pos{Block: len(d.Blocks)})
}

func blockLen(b Block) int {
	n := 0
	for _, run := range b.Runs {
		n += utf8.RuneCountInString(run.Text)
	}
	return n
}

// cell is one rune with its format; blocks are exploded to cells for edits and
// rebuilt with implode, which restores the run invariants.
type cell struct {
	r rune
	f format
}

func explode(b Block) []cell {
	cells := make([]cell, 0, blockLen(b))
	for _, run := range b.Runs {
		f := run.format()
		for _, r := range run.Text {
			cells = append(cells, cell{r: r, f: f})
		}
	}
	return cells
}

func implode(kind Kind, align Alignment, cells []cell) Block {
	runs := make([]Run, 0, 1)
	var sb strings.Builder
	var cur format
	flush := func() {
		if sb.Len() > 0 {
			runs = append(runs, cur.run(sb.String()))
			sb.Reset()
		}
	}
	for i, c := range cells {
		if i == 0 || c.f != cur {
			flush()
			cur = c.f
		}
		sb.WriteRune(c.r)
	}
	flush()
	return normalizeBlock(Block{Kind: kind, Align: align, Runs: runs})
}

// formatAt is the format a character typed at offset inherits: the rune before
// the caret, or the rune after it at the start of a block.
func formatAt(cells []cell, offset int) format {
	switch {
	case len(cells) == 0:
		return format{}
	case offset > 0:
		return cells[offset-1].f
	default:
		return cells[0].f
	}
}

// lineEndings maps carriage returns to newlines and drops NUL, matching what a
// markup tokenizer hands back for the same text.
var lineEndings = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\x00", "")

// InsertText inserts text at pos. Newlines split the block.
func InsertText(d Document, pos Pos, text string) Document {
	d = Normalize(d)
	pos = Clamp(d, pos)
	if text == "" {
		return d
	}
	text = lineEndings.Replace(text)
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if i > 0 {
			d = SplitBlock(d, pos)
			pos = Pos{Block: pos.Block + 1}
		}
		if line == "" {
			continue
		}
		d = insertLine(d, pos, line)
		pos.Offset += utf8.RuneCountInString(line)
	}
	return d
}

func insertLine(d Document, pos Pos, line string) Document {
	out := d.Clone()
	b := out.Blocks[pos.Block]
	cells := explode(b)
	f := formatAt(cells, pos.Offset)
	inserted := make([]cell, 0, len(cells)+utf8.RuneCountInString(line))
	inserted = append(inserted, cells[:pos.Offset]...)
	for _, r := range line {
		inserted = append(inserted, cell{r: r, f: f})
	}
	inserted = append(inserted, cells[pos.Offset:]...)
	out.Blocks[pos.Block] = implode(b.Kind, b.Align, inserted)
	return out
}

// SplitBlock breaks the block at pos into two blocks of the same kind and alignment.
func SplitBlock(d Document, pos Pos) Document {
	d = Normalize(d)
	pos = Clamp(d, pos)
	b := d.Blocks[pos.Block]
	cells := explode(b)
	left := implode(b.Kind, b.Align, cells[:pos.Offset])
	right := implode(b.Kind, b.Align, cells[pos.Offset:])

	out := Document{Blocks: make([]Block, 0, len(d.Blocks)+1)}
	out.Blocks = append(out.Blocks, d.Clone().Blocks[:pos.Block]...)
	out.Blocks = append(out.Blocks, left, right)
	out.Blocks = append(out.Blocks, d.Clone().Blocks[pos.Block+1:]...)
	return out
}

// DeleteRange removes the text in r. A range spanning blocks joins the first and
// last block; the joined block keeps the first block's kind and alignment.
func DeleteRange(d Document, r Range) Document {
	d = Normalize(d)
	r = ClampRange(d, r)
	if r.IsEmpty() {
		return d
	}
	first := d.Blocks[r.Start.Block]
	last := d.Blocks[r.End.Block]
	kept := append([]cell(nil), explode(first)[:r.Start.Offset]...)
	kept = append(kept, explode(last)[r.End.Offset:]...)

	out := Document{Blocks: make([]Block, 0, len(d.Blocks)-(r.End.Block-r.Start.Block))}
	clone := d.Clone()
	out.Blocks = append(out.Blocks, clone.Blocks[:r.Start.Block]...)
	out.Blocks = append(out.Blocks, implode(first.Kind, first.Align, kept))
	out.Blocks = append(out.Blocks, clone.Blocks[r.End.Block+1:]...)
	return out
}

// ApplyStyle adds style to every rune in r.
func ApplyStyle(d Document, r Range, style Style) Document {
	return reformat(d, r, func(f *format) { f.style |= style })
}

// RemoveStyle clears style from every rune in r.
func RemoveStyle(d Document, r Range, style Style) Document {
	return reformat(d, r, func(f *format) { f.style &^= style })
}

// SetLink points every rune in r at href, cleaned by CleanLink. An empty href,
// or one CleanLink rejects, removes the link.
func SetLink(d Document, r Range, href string) Document {
	href = CleanLink(href)
	return reformat(d, r, func(f *format) { f.link = href })
}

// SetColor colors every rune in r. An empty color removes it; values CleanColor
// rejects leave d unchanged.
func SetColor(d Document, r Range, color string) Document {
	color, ok := CleanColor(color)
	if !ok {
		return Normalize(d)
	}
	return reformat(d, r, func(f *format) { f.color = color })
}

// CleanLink returns href the way a document stores it: control characters
// removed and surrounding space trimmed. Links with a scheme other than http,
// https or mailto become "". Relative references are kept.
func CleanLink(href string) string {
	href = strings.TrimSpace(stripControl(href))
	scheme, _, ok := strings.Cut(href, ":")
	if !ok || strings.ContainsAny(scheme, "/?#") {
		return href
	}
	switch strings.ToLower(scheme) {
	case "http", "https", "mailto":
		return href
	default:
		return ""
	}
}

// CleanColor returns color with control characters removed and space trimmed.
// It reports false for values that cannot sit inside a style declaration.
func CleanColor(color string) (string, bool) {
	color = strings.TrimSpace(stripControl(color))
	if strings.ContainsAny(color, `;:"'<>`) {
		return "", false
	}
	return color, true
}

// stripControl drops ASCII control characters. A markup tokenizer rewrites
// carriage returns inside attribute values, so they cannot survive a round trip.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// SetFontSize sets the font size of every rune in r. Zero or negative removes it.
func SetFontSize(d Document, r Range, size int) Document {
	if size < 0 {
		size = 0
	}
	return reformat(d, r, func(f *format) { f.fontSize = size })
}

func reformat(d Document, r Range, mutate func(*format)) Document {
	d = Normalize(d)
	r = ClampRange(d, r)
	if r.IsEmpty() {
		return d
	}
	out := d.Clone()
	for i := r.Start.Block; i <= r.End.Block; i++ {
		b := out.Blocks[i]
		cells := explode(b)
		from, to := 0, len(cells)
		if i == r.Start.Block {
			from = r.Start.Offset
		}
		if i == r.End.Block {
			to = r.End.Offset
		}
		for j := from; j < to; j++ {
			mutate(&cells[j].f)
		}
		out.Blocks[i] = implode(b.Kind, b.Align, cells)
	}
	return out
}

// SetBlockKind changes the kind of one block. Unknown kinds are ignored.
func SetBlockKind(d Document, block int, kind Kind) Document {
	d = Normalize(d)
	if !kind.Valid() {
		return d
	}
	block = Clamp(d, Pos{Block: block}).Block
	out := d.Clone()
	out.Blocks[block].Kind = kind
	return out
}

// SetAlignment changes the alignment of one block. Unknown alignments are ignored.
func SetAlignment(d Document, block int, align Alignment) Document {
	d = Normalize(d)
	if !align.Valid() {
		return d
	}
	block = Clamp(d, Pos{Block: block}).Block
	out := d.Clone()
	out.Blocks[block].Align = align
	return out
}
