// Package markup converts between the flat HTML-like markup string a field owner
// stores and the structured document a session edits.
//
// Parse never fails: markup outside the supported vocabulary, or markup whose tags
// do not balance, degrades to a single paragraph of its text content.
package markup

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"richfield/internal/document"
)

var (
	errUnknownTag  = errors.New("unknown tag")
	errUnbalanced  = errors.New("unbalanced tag")
	errNesting     = errors.New("unsupported nesting")
	errStrayInline = errors.New("text outside list item")
)

var blockKinds = map[string]document.Kind{
	"p":          document.KindNormal,
	"h1":         document.KindHeading1,
	"h2":         document.KindHeading2,
	"h3":         document.KindHeading3,
	"blockquote": document.KindBlockquote,
}

var inlineStyles = map[string]document.Style{
	"b":      document.Bold,
	"strong": document.Bold,
	"i":      document.Italic,
	"em":     document.Italic,
	"u":      document.Underline,
	"s":      document.Strikethrough,
	"strike": document.Strikethrough,
	"del":    document.Strikethrough,
}

// Parse converts markup into a normalised document. Empty input yields
// document.Empty(); unsupported input yields Fallback(markup).
func Parse(markup string) document.Document {
	if strings.TrimSpace(markup) == "" {
		return document.Empty()
	}
	doc, err := parseStrict(markup)
	if err != nil {
		log.Printf("markup: falling back to plain text: %v", err)
		return Fallback(markup)
	}
	return doc
}

type inlineFormat struct {
	style    document.Style
	fontSize int
	color    string
	link     string
}

type parser struct {
	blocks   []document.Block
	current  *document.Block
	implicit bool
	list     string
	open     []string
	formats  []inlineFormat
}

func parseStrict(markup string) (document.Document, error) {
	p := &parser{}
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				break
			}
			return document.Document{}, fmt.Errorf("tokenize: %w", z.Err())
		}
		tok := z.Token()
		var err error
		switch tt {
		case html.StartTagToken:
			err = p.start(tok)
		case html.SelfClosingTagToken:
			if tok.Data != "br" {
				err = fmt.Errorf("%w: <%s/>", errUnknownTag, tok.Data)
				break
			}
			p.lineBreak()
		case html.EndTagToken:
			err = p.end(tok)
		case html.TextToken:
			err = p.text(tok.Data)
		case html.CommentToken:
		default:
			err = fmt.Errorf("%w: %s", errUnknownTag, tt)
		}
		if err != nil {
			return document.Document{}, err
		}
	}
	if len(p.open) > 0 {
		return document.Document{}, fmt.Errorf("%w: <%s> never closed", errUnbalanced, p.open[len(p.open)-1])
	}
	p.closeBlock()
	return document.Normalize(document.Document{Blocks: p.blocks}), nil
}

func (p *parser) format() inlineFormat {
	if len(p.formats) == 0 {
		return inlineFormat{}
	}
	return p.formats[len(p.formats)-1]
}

func (p *parser) start(tok html.Token) error {
	name := tok.Data
	if kind, ok := blockKinds[name]; ok {
		if p.list != "" || len(p.formats) > 0 || (p.current != nil && !p.implicit) {
			return fmt.Errorf("%w: <%s>", errNesting, name)
		}
		p.closeBlock()
		p.openBlock(kind, alignmentOf(tok), false)
		p.open = append(p.open, name)
		return nil
	}

	switch name {
	case "ul", "ol":
		if p.list != "" || len(p.formats) > 0 || (p.current != nil && !p.implicit) {
			return fmt.Errorf("%w: <%s>", errNesting, name)
		}
		p.closeBlock()
		p.list = name
		p.open = append(p.open, name)
		return nil
	case "li":
		if p.list == "" || p.current != nil {
			return fmt.Errorf("%w: <li>", errNesting)
		}
		kind := document.KindUnorderedItem
		if p.list == "ol" {
			kind = document.KindOrderedItem
		}
		p.openBlock(kind, alignmentOf(tok), false)
		p.open = append(p.open, name)
		return nil
	case "br":
		p.lineBreak()
		return nil
	}

	next := p.format()
	if style, ok := inlineStyles[name]; ok {
		next.style |= style
	} else {
		switch name {
		case "span":
			applySpanStyle(&next, attr(tok, "style"))
		case "a":
			next.link = document.CleanLink(attr(tok, "href"))
		default:
			return fmt.Errorf("%w: <%s>", errUnknownTag, name)
		}
	}
	if p.current == nil {
		if p.list != "" {
			return fmt.Errorf("%w: <%s>", errStrayInline, name)
		}
		p.openBlock(document.KindNormal, document.AlignLeft, true)
	}
	p.formats = append(p.formats, next)
	p.open = append(p.open, name)
	return nil
}

func (p *parser) end(tok html.Token) error {
	name := tok.Data
	if name == "br" {
		p.lineBreak()
		return nil
	}
	if len(p.open) == 0 || p.open[len(p.open)-1] != name {
		return fmt.Errorf("%w: </%s>", errUnbalanced, name)
	}
	p.open = p.open[:len(p.open)-1]

	switch {
	case blockKinds[name] != "" || name == "li":
		p.closeBlock()
	case name == "ul" || name == "ol":
		p.list = ""
	default:
		p.formats = p.formats[:len(p.formats)-1]
	}
	return nil
}

func (p *parser) text(data string) error {
	if p.current == nil {
		if strings.TrimSpace(data) == "" {
			return nil
		}
		if p.list != "" {
			return errStrayInline
		}
		p.openBlock(document.KindNormal, document.AlignLeft, true)
	}
	f := p.format()
	p.current.Runs = append(p.current.Runs, document.Run{
		Text:     data,
		Style:    f.style,
		FontSize: f.fontSize,
		Color:    f.color,
		Link:     f.link,
	})
	return nil
}

// lineBreak ends the current block and continues in a new one of the same kind.
func (p *parser) lineBreak() {
	if p.current == nil {
		return
	}
	kind, align, implicit := p.current.Kind, p.current.Align, p.implicit
	p.closeBlock()
	p.openBlock(kind, align, implicit)
}

func (p *parser) openBlock(kind document.Kind, align document.Alignment, implicit bool) {
	p.current = &document.Block{Kind: kind, Align: align}
	p.implicit = implicit
}

func (p *parser) closeBlock() {
	if p.current == nil {
		return
	}
	p.blocks = append(p.blocks, *p.current)
	p.current = nil
	p.implicit = false
}

func attr(tok html.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func styleDeclarations(style string) map[string]string {
	decls := make(map[string]string)
	for _, part := range strings.Split(style, ";") {
		key, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key != "" && value != "" {
			decls[key] = value
		}
	}
	return decls
}

func alignmentOf(tok html.Token) document.Alignment {
	align := document.Alignment(strings.ToLower(styleDeclarations(attr(tok, "style"))["text-align"]))
	if !align.Valid() {
		return document.AlignLeft
	}
	return align
}

func applySpanStyle(f *inlineFormat, style string) {
	decls := styleDeclarations(style)
	if color, ok := decls["color"]; ok {
		if cleaned, valid := document.CleanColor(color); valid {
			f.color = cleaned
		}
	}
	if size, ok := decls["font-size"]; ok {
		if n, err := strconv.Atoi(strings.TrimSuffix(strings.ToLower(size), "px")); err == nil && n > 0 {
			f.fontSize = n
		}
	}
}
