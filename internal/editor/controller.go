// Package editor keeps a field's live document in step with the markup value its
// owner stores.
//
// A Controller moves between three states. It is Synced when the live document is
// the one the owner last accepted, and Diverged once local edits exist. Owner
// updates are compared against the serialized live document before anything is
// parsed, so echoing back the value Apply returned never resets the session.
package editor

import (
	"errors"
	"fmt"

	"richfield/internal/document"
	"richfield/internal/markup"
)

// ErrNotOpen is returned by operations that need an open document.
var ErrNotOpen = errors.New("editor: session not open")

// State is the synchronization state of a Controller.
type State uint8

const (
	Uninitialized State = iota
	Synced
	Diverged
)

var stateNames = [...]string{
	Uninitialized: "uninitialized",
	Synced:        "synced",
	Diverged:      "diverged",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	parsed, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return Uninitialized, fmt.Errorf("unknown editor state %q", name)
}

// Options configures a Controller.
type Options struct {
	// Codec converts between markup and documents. Nil uses markup.HTML.
	Codec markup.Codec
	// HistoryLimit bounds the undo stack. Zero or negative disables undo.
	HistoryLimit int
}

// Snapshot is a read-only view of a controller.
type Snapshot struct {
	Document   document.Document `json:"document"`
	WordCount  int               `json:"wordCount"`
	TextLength int               `json:"textLength"`
	Dirty      bool              `json:"dirty"`
	State      State             `json:"state"`
	Version    uint64            `json:"version"`
	External   string            `json:"external"`
	CanUndo    bool              `json:"canUndo"`
	CanRedo    bool              `json:"canRedo"`
}

// Saved is the part of a controller that survives a process restart. Markup is
// the serialized live document; undo history is not kept.
type Saved struct {
	External string
	Markup   string
	State    State
	Dirty    bool
	Version  uint64
}

// Controller owns one live document. It is not safe for concurrent use.
type Controller struct {
	codec    markup.Codec
	state    State
	doc      document.Document
	external string
	dirty    bool
	version  uint64
	hist     history
}

// NewController returns an Uninitialized controller.
func NewController(opt Options) *Controller {
	codec := opt.Codec
	if codec == nil {
		codec = markup.HTML{}
	}
	return &Controller{
		codec: codec,
		hist:  history{limit: opt.HistoryLimit},
	}
}

func (c *Controller) State() State { return c.state }

func (c *Controller) Dirty() bool { return c.dirty }

func (c *Controller) Version() uint64 { return c.version }

// External returns the last markup value the owner supplied or accepted.
func (c *Controller) External() string { return c.external }

// Document returns the live document. The zero Document is returned when the
// controller is not open.
func (c *Controller) Document() document.Document { return c.doc }

func (c *Controller) CanUndo() bool { return c.state != Uninitialized && c.hist.canUndo() }

func (c *Controller) CanRedo() bool { return c.state != Uninitialized && c.hist.canRedo() }

// Snapshot computes the derived state of the live document.
func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		Document:   c.doc,
		WordCount:  document.WordCount(c.doc),
		TextLength: document.TextLength(c.doc),
		Dirty:      c.dirty,
		State:      c.state,
		Version:    c.version,
		External:   c.external,
		CanUndo:    c.CanUndo(),
		CanRedo:    c.CanRedo(),
	}
}

// Open parses initial into a fresh live document. Opening an open controller
// starts over and drops local edits.
func (c *Controller) Open(initial string) {
	doc := document.Empty()
	if initial != "" {
		doc = c.codec.Parse(initial)
	}
	c.hist.reset()
	c.external = initial
	c.dirty = false
	c.state = Synced
	c.swap(doc)
}

// Edit applies op to the live document. Edits that leave the document unchanged
// do not change state.
func (c *Controller) Edit(op Operation) error {
	if c.state == Uninitialized {
		return ErrNotOpen
	}
	next := op.Apply(c.doc)
	if document.Equal(next, c.doc) {
		return nil
	}
	c.hist.record(c.doc)
	c.state = Diverged
	c.dirty = true
	c.swap(next)
	return nil
}

// Undo restores the document before the last edit. It reports whether anything
// was undone.
func (c *Controller) Undo() bool {
	if c.state == Uninitialized {
		return false
	}
	prev, ok := c.hist.undo(c.doc)
	if !ok {
		return false
	}
	c.state = Diverged
	c.dirty = true
	c.swap(prev)
	return true
}

// Redo reapplies the last undone edit.
func (c *Controller) Redo() bool {
	if c.state == Uninitialized {
		return false
	}
	next, ok := c.hist.redo(c.doc)
	if !ok {
		return false
	}
	c.state = Diverged
	c.dirty = true
	c.swap(next)
	return true
}

// Apply serializes the live document and records the result as the accepted
// external value. The result is not parsed again. Calling Apply twice without an
// edit in between returns the same markup.
func (c *Controller) Apply() (string, error) {
	if c.state == Uninitialized {
		return "", ErrNotOpen
	}
	out := c.codec.Serialize(c.doc)
	c.external = out
	c.dirty = false
	c.state = Synced
	return out, nil
}

// SyncExternal takes a new value from the owner. A value equal to the last known
// external value, or to the serialized live document, is adopted without parsing.
// Any other value is parsed and replaces the live document, local edits and undo
// history included. It reports whether the value was parsed.
func (c *Controller) SyncExternal(value string) bool {
	if c.state == Uninitialized {
		c.external = value
		return false
	}
	if value == c.external {
		return false
	}
	if c.codec.Serialize(c.doc) == value {
		c.external = value
		c.dirty = false
		c.state = Synced
		return false
	}
	doc := document.Empty()
	if value != "" {
		doc = c.codec.Parse(value)
	}
	c.hist.reset()
	c.external = value
	c.dirty = false
	c.state = Synced
	c.swap(doc)
	return true
}

// Cancel drops the live document and its pending edits. The last accepted
// external value is kept.
func (c *Controller) Cancel() {
	if c.state == Uninitialized {
		return
	}
	c.hist.reset()
	c.dirty = false
	c.state = Uninitialized
	c.swap(document.Document{})
}

// Clear replaces the live document with the canonical empty document. The
// cleared document is dirty until applied unless the owner's value is already
// empty. Clearing a closed controller opens it empty.
func (c *Controller) Clear() {
	empty := document.Empty()
	if c.state == Uninitialized {
		c.hist.reset()
	} else if !document.Equal(c.doc, empty) {
		c.hist.record(c.doc)
	}
	c.state = Synced
	c.dirty = c.codec.Serialize(empty) != c.external
	c.swap(empty)
}

// Save captures the persistable state of c.
func (c *Controller) Save() Saved {
	s := Saved{
		External: c.external,
		State:    c.state,
		Dirty:    c.dirty,
		Version:  c.version,
	}
	if c.state != Uninitialized {
		s.Markup = c.codec.Serialize(c.doc)
	}
	return s
}

// Restore loads state captured by Save. Undo history starts empty.
func (c *Controller) Restore(s Saved) {
	c.hist.reset()
	c.external = s.External
	c.dirty = s.Dirty
	c.state = s.State
	c.version = s.Version
	switch {
	case s.State == Uninitialized:
		c.doc = document.Document{}
		c.dirty = false
	case s.Markup == "":
		c.doc = document.Empty()
	default:
		c.doc = c.codec.Parse(s.Markup)
	}
}

func (c *Controller) swap(doc document.Document) {
	c.doc = doc
	c.version++
}
