package document

import (
	"strings"
	"unicode/utf8"
)

// PlainText joins the text of every block with a single newline.
func PlainText(d Document) string {
	texts := make([]string, len(d.Blocks))
	for i, b := range d.Blocks {
		texts[i] = b.Text()
	}
	return strings.Join(texts, "\n")
}

// WordCount counts whitespace-separated tokens of the document's plain text.
func WordCount(d Document) int {
	return len(strings.Fields(strings.TrimSpace(PlainText(d))))
}

// TextLength is the number of runes in the document's plain text.
func TextLength(d Document) int {
	return utf8.RuneCountInString(PlainText(d))
}
