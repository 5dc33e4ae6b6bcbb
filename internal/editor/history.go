package editor

import "richfield/internal/document"

// history is a bounded pair of document snapshot stacks. Documents are values,
// so storing them directly is enough.
type history struct {
	limit    int
	undoDocs []document.Document
	redoDocs []document.Document
}

func (h *history) record(prev document.Document) {
	if h.limit <= 0 {
		return
	}
	h.undoDocs = push(h.undoDocs, prev, h.limit)
	h.redoDocs = nil
}

func (h *history) undo(cur document.Document) (document.Document, bool) {
	if len(h.undoDocs) == 0 {
		return document.Document{}, false
	}
	i := len(h.undoDocs) - 1
	prev := h.undoDocs[i]
	h.undoDocs = h.undoDocs[:i]
	h.redoDocs = append(h.redoDocs, cur)
	return prev, true
}

func (h *history) redo(cur document.Document) (document.Document, bool) {
	if len(h.redoDocs) == 0 {
		return document.Document{}, false
	}
	i := len(h.redoDocs) - 1
	next := h.redoDocs[i]
	h.redoDocs = h.redoDocs[:i]
	h.undoDocs = push(h.undoDocs, cur, h.limit)
	return next, true
}

func (h *history) canUndo() bool { return len(h.undoDocs) > 0 }

func (h *history) canRedo() bool { return len(h.redoDocs) > 0 }

func (h *history) reset() {
	h.undoDocs = nil
	h.redoDocs = nil
}

func push(stack []document.Document, doc document.Document, limit int) []document.Document {
	stack = append(stack, doc)
	if len(stack) > limit {
		stack = stack[len(stack)-limit:]
	}
	return stack
}
