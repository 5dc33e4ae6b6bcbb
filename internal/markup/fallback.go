package markup

import (
	"strings"

	"golang.org/x/net/html"

	"richfield/internal/document"
)

// Fallback builds the recovery document for markup the parser rejected: a single
// normal block with one unstyled run holding the input's text content. Tags are
// dropped, entities decoded, whitespace collapsed to single spaces and trimmed.
func Fallback(markup string) document.Document {
	text := PlainText(markup)
	if text == "" {
		return document.Empty()
	}
	return document.Document{Blocks: []document.Block{{
		Kind:  document.KindNormal,
		Align: document.AlignLeft,
		Runs:  []document.Run{{Text: text}},
	}}}
}

// PlainText extracts the text content of arbitrary markup. Tags outside the inline
// vocabulary separate words; inline tags do not.
func PlainText(markup string) string {
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(markup))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.TextToken:
			sb.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if !isInline(string(name)) {
				sb.WriteByte(' ')
			}
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

func isInline(name string) bool {
	if _, ok := inlineStyles[name]; ok {
		return true
	}
	return name == "span" || name == "a"
}
