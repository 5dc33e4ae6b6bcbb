package markup

import (
	"testing"

	"richfield/internal/document"
)

// editedDocuments builds documents the way an editing session does, one
// operation at a time.
func editedDocuments() map[string]document.Document {
	d := document.Empty()
	docs := map[string]document.Document{"empty": d}

	d = document.InsertText(d, document.Pos{}, "Title\nFirst paragraph with words\nsecond")
	docs["typed lines"] = d

	d = document.SetBlockKind(d, 0, document.KindHeading1)
	d = document.SetAlignment(d, 0, document.AlignCenter)
	docs["heading"] = d

	whole := document.Range{Start: document.Pos{Block: 1, Offset: 6}, End: document.Pos{Block: 2, Offset: 3}}
	d = document.ApplyStyle(d, whole, document.Bold|document.Underline)
	docs["styled across blocks"] = d

	d = document.SetLink(d, document.Range{Start: document.Pos{Block: 1}, End: document.Pos{Block: 1, Offset: 5}}, "https://x.test/?q=a&b=<c>")
	d = document.SetColor(d, document.Range{Start: document.Pos{Block: 1, Offset: 2}, End: document.Pos{Block: 1, Offset: 9}}, "#ff0000")
	d = document.SetFontSize(d, document.Range{Start: document.Pos{Block: 1, Offset: 3}, End: document.Pos{Block: 1, Offset: 12}}, 18)
	docs["link color size"] = d

	d = document.SetBlockKind(d, 2, document.KindUnorderedItem)
	d = document.InsertText(d, document.End(d), "\nthird\nfourth")
	d = document.SetBlockKind(d, 4, document.KindOrderedItem)
	docs["lists"] = d

	d = document.InsertText(d, document.End(d), "\n\n  spaced   out  & <escaped> \"quoted\"")
	d = document.SetBlockKind(d, 6, document.KindBlockquote)
	d = document.SetAlignment(d, 6, document.AlignRight)
	docs["whitespace and escapes"] = d

	d = document.DeleteRange(d, document.Range{Start: document.Pos{Block: 1, Offset: 4}, End: document.Pos{Block: 3, Offset: 2}})
	docs["joined"] = d

	d = document.RemoveStyle(d, document.Range{Start: document.Pos{}, End: document.End(d)}, document.Bold)
	d = document.SetLink(d, document.Range{Start: document.Pos{}, End: document.End(d)}, "")
	docs["cleared formatting"] = d

	line := document.InsertText(document.Empty(), document.Pos{}, "control characters")
	first := document.Range{End: document.Pos{Offset: 7}}
	line = document.SetLink(line, first, "a\rb")
	line = document.SetColor(line, document.Range{Start: document.Pos{Offset: 8}, End: document.Pos{Offset: 18}}, "red\rblue")
	docs["control characters in attributes"] = line

	docs["empty heading"] = document.SetBlockKind(document.Empty(), 0, document.KindHeading2)
	docs["unicode"] = document.InsertText(document.Empty(), document.Pos{}, "héllo wörld ✓ 日本語")
	return docs
}

func TestRoundTrip(t *testing.T) {
	for name, doc := range editedDocuments() {
		t.Run(name, func(t *testing.T) {
			markup := Serialize(doc)
			got := Parse(markup)
			if !document.Equal(got, doc) {
				t.Fatalf("Parse(Serialize(doc)) differs\nmarkup: %q\ngot:  %+v\nwant: %+v", markup, got, doc)
			}
			if again := Serialize(got); again != markup {
				t.Fatalf("Serialize is not stable: %q then %q", markup, again)
			}
		})
	}
}

func TestParseIsFixedPoint(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "encoded carriage return in href", input: `<a href="a&#13;b">x</a>`},
		{name: "raw carriage return in href", input: "<a href=\"a\rb\">x</a>"},
		{name: "carriage return in color", input: `<span style="color: red&#13;blue">x</span>`},
		{name: "javascript href", input: `<p><a href="javascript:alert(1)">x</a></p>`},
		{name: "colon in color", input: `<span style="color: a:b">x</span>`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			doc := Parse(tc.input)
			markup := Serialize(doc)
			if got := Parse(markup); !document.Equal(got, doc) {
				t.Fatalf("Parse(%q) is not canonical: reparse of %q gives %+v, want %+v", tc.input, markup, got, doc)
			}
		})
	}
}

func TestParseDropsUnsafeLinks(t *testing.T) {
	doc := Parse(`<p><a href="javascript:alert(1)">x</a> <a href="https://ok.test">y</a></p>`)
	if got := Serialize(doc); got != `<p>x <a href="https://ok.test">y</a></p>` {
		t.Fatalf("Serialize(Parse()) = %q", got)
	}
}

func FuzzParseIsCanonical(f *testing.F) {
	seeds := []string{
		"",
		"<p>Hello world</p>",
		"<h1>Title</h1><p>Body text here</p>",
		"<div><unknown>broken",
		`<ul><li style="text-align: right"><a href="x"><span style="color: blue; font-size: 9px"><b><i>t</i></b></span></a></li></ul>`,
		"plain <b>bold</b> &amp; text<br>next",
		"<p>a<!-- c -->b</p><blockquote></blockquote>",
	}
	for _, s := range seeds {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, input string) {
		doc := Parse(input)
		markup := Serialize(doc)
		if got := Parse(markup); !document.Equal(got, doc) {
			t.Fatalf("Parse(Serialize(Parse(%q))) differs via %q", input, markup)
		}
		if len(doc.Blocks) == 0 {
			t.Fatalf("Parse(%q) returned no blocks", input)
		}
	})
}
