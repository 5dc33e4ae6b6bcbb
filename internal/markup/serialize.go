package markup

import (
	"html"
	"log"
	"strconv"
	"strings"

	"richfield/internal/document"
)

var blockTags = map[document.Kind]string{
	document.KindNormal:        "p",
	document.KindHeading1:      "h1",
	document.KindHeading2:      "h2",
	document.KindHeading3:      "h3",
	document.KindBlockquote:    "blockquote",
	document.KindUnorderedItem: "li",
	document.KindOrderedItem:   "li",
}

// Serialize renders doc as markup. The output depends only on the document value.
// Empty documents serialize to the empty string.
func Serialize(doc document.Document) string {
	if doc.IsEmpty() {
		return ""
	}
	var sb strings.Builder
	list := ""
	for i, block := range doc.Blocks {
		want := listTag(block.Kind)
		if want != list {
			if list != "" {
				sb.WriteString("</" + list + ">")
			}
			if want != "" {
				sb.WriteString("<" + want + ">")
			}
			list = want
		}
		writeBlock(&sb, i, block)
	}
	if list != "" {
		sb.WriteString("</" + list + ">")
	}
	return sb.String()
}

func listTag(kind document.Kind) string {
	switch kind {
	case document.KindUnorderedItem:
		return "ul"
	case document.KindOrderedItem:
		return "ol"
	default:
		return ""
	}
}

func writeBlock(sb *strings.Builder, index int, block document.Block) {
	tag, ok := blockTags[block.Kind]
	if !ok {
		log.Printf("markup: block %d has unknown kind %q, writing a paragraph", index, block.Kind)
		tag = "p"
	}
	if len(block.Runs) == 0 {
		log.Printf("markup: block %d has no runs, writing it empty", index)
	}

	sb.WriteString("<" + tag)
	if block.Align == document.AlignCenter || block.Align == document.AlignRight {
		sb.WriteString(` style="text-align: ` + string(block.Align) + `"`)
	}
	sb.WriteString(">")
	for _, run := range block.Runs {
		writeRun(sb, run)
	}
	sb.WriteString("</" + tag + ">")
}

// writeRun wraps the run text outermost-first in a, span, b, i, u, s.
func writeRun(sb *strings.Builder, run document.Run) {
	if run.Text == "" {
		return
	}
	var closers []string
	open := func(tag, attrs string) {
		sb.WriteString("<" + tag + attrs + ">")
		closers = append(closers, "</"+tag+">")
	}

	if run.Link != "" {
		open("a", ` href="`+html.EscapeString(run.Link)+`"`)
	}
	if decl := spanStyle(run); decl != "" {
		open("span", ` style="`+html.EscapeString(decl)+`"`)
	}
	if run.Style.Has(document.Bold) {
		open("b", "")
	}
	if run.Style.Has(document.Italic) {
		open("i", "")
	}
	if run.Style.Has(document.Underline) {
		open("u", "")
	}
	if run.Style.Has(document.Strikethrough) {
		open("s", "")
	}
	sb.WriteString(html.EscapeString(run.Text))
	for i := len(closers) - 1; i >= 0; i-- {
		sb.WriteString(closers[i])
	}
}

func spanStyle(run document.Run) string {
	var decls []string
	if run.Color != "" {
		decls = append(decls, "color: "+run.Color)
	}
	if run.FontSize > 0 {
		decls = append(decls, "font-size: "+strconv.Itoa(run.FontSize)+"px")
	}
	return strings.Join(decls, "; ")
}
