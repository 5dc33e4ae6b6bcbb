package editor

import (
	"encoding/json"
	"errors"
	"fmt"

	"richfield/internal/document"
)

// ErrUnknownOperation is returned by DecodeOperation for an unrecognised op name.
var ErrUnknownOperation = errors.New("editor: unknown operation")

// Operation is one edit command from the editing surface. Apply must not modify
// its argument.
type Operation interface {
	Apply(d document.Document) document.Document
}

type InsertText struct {
	At   document.Pos
	Text string
}

func (o InsertText) Apply(d document.Document) document.Document {
	return document.InsertText(d, o.At, o.Text)
}

type SplitBlock struct {
	At document.Pos
}

func (o SplitBlock) Apply(d document.Document) document.Document {
	return document.SplitBlock(d, o.At)
}

type DeleteRange struct {
	Range document.Range
}

func (o DeleteRange) Apply(d document.Document) document.Document {
	return document.DeleteRange(d, o.Range)
}

type ApplyStyle struct {
	Range document.Range
	Style document.Style
}

func (o ApplyStyle) Apply(d document.Document) document.Document {
	return document.ApplyStyle(d, o.Range, o.Style)
}

type RemoveStyle struct {
	Range document.Range
	Style document.Style
}

func (o RemoveStyle) Apply(d document.Document) document.Document {
	return document.RemoveStyle(d, o.Range, o.Style)
}

type SetLink struct {
	Range document.Range
	Href  string
}

func (o SetLink) Apply(d document.Document) document.Document {
	return document.SetLink(d, o.Range, o.Href)
}

type SetColor struct {
	Range document.Range
	Color string
}

func (o SetColor) Apply(d document.Document) document.Document {
	return document.SetColor(d, o.Range, o.Color)
}

type SetFontSize struct {
	Range document.Range
	Size  int
}

func (o SetFontSize) Apply(d document.Document) document.Document {
	return document.SetFontSize(d, o.Range, o.Size)
}

type SetBlockKind struct {
	Block int
	Kind  document.Kind
}

func (o SetBlockKind) Apply(d document.Document) document.Document {
	return document.SetBlockKind(d, o.Block, o.Kind)
}

type SetAlignment struct {
	Block int
	Align document.Alignment
}

func (o SetAlignment) Apply(d document.Document) document.Document {
	return document.SetAlignment(d, o.Block, o.Align)
}

// wireOp is the JSON form of every operation. Position ops use block and offset,
// range ops use start and end.
type wireOp struct {
	Op     string             `json:"op"`
	Block  int                `json:"block"`
	Offset int                `json:"offset"`
	Start  document.Pos       `json:"start"`
	End    document.Pos       `json:"end"`
	Text   string             `json:"text"`
	Style  document.Style     `json:"style"`
	Kind   document.Kind      `json:"kind"`
	Align  document.Alignment `json:"align"`
	Href   string             `json:"href"`
	Color  string             `json:"color"`
	Size   int                `json:"size"`
}

// DecodeOperation decodes one operation from its JSON wire form, for example
// {"op":"insertText","block":0,"offset":3,"text":"x"} or
// {"op":"applyStyle","start":{"block":0,"offset":0},"end":{"block":0,"offset":5},"style":["bold"]}.
func DecodeOperation(data []byte) (Operation, error) {
	var w wireOp
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode operation: %w", err)
	}
	at := document.Pos{Block: w.Block, Offset: w.Offset}
	r := document.Range{Start: w.Start, End: w.End}

	switch w.Op {
	case "insertText":
		return InsertText{At: at, Text: w.Text}, nil
	case "splitBlock":
		return SplitBlock{At: at}, nil
	case "deleteRange":
		return DeleteRange{Range: r}, nil
	case "applyStyle":
		return ApplyStyle{Range: r, Style: w.Style}, nil
	case "removeStyle":
		return RemoveStyle{Range: r, Style: w.Style}, nil
	case "setLink":
		return SetLink{Range: r, Href: w.Href}, nil
	case "setColor":
		return SetColor{Range: r, Color: w.Color}, nil
	case "setFontSize":
		return SetFontSize{Range: r, Size: w.Size}, nil
	case "setBlockKind":
		if !w.Kind.Valid() {
			return nil, fmt.Errorf("decode operation: unknown block kind %q", w.Kind)
		}
		return SetBlockKind{Block: w.Block, Kind: w.Kind}, nil
	case "setAlignment":
		if !w.Align.Valid() {
			return nil, fmt.Errorf("decode operation: unknown alignment %q", w.Align)
		}
		return SetAlignment{Block: w.Block, Align: w.Align}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, w.Op)
	}
}

// DecodeOperations decodes a JSON array of operations.
func DecodeOperations(data []byte) ([]Operation, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode operations: %w", err)
	}
	ops := make([]Operation, 0, len(raw))
	for i, item := range raw {
		op, err := DecodeOperation(item)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}
