package editor

// Session is the owner-facing protocol around a Controller. FieldLabel is shown to
// the user and has no effect on editing. Hooks may be nil.
//
// A Session is not safe for concurrent use.
type Session struct {
	FieldLabel string

	// OnWordCount receives the word count after every change to the live document.
	OnWordCount func(words int)
	// OnApply receives the markup handed to the owner by Apply.
	OnApply func(markup string)

	ctrl *Controller
}

func NewSession(label string, opt Options) *Session {
	return &Session{FieldLabel: label, ctrl: NewController(opt)}
}

// Controller exposes the underlying controller for read access.
func (s *Session) Controller() *Controller { return s.ctrl }

func (s *Session) Snapshot() Snapshot { return s.ctrl.Snapshot() }

func (s *Session) Open(initial string) {
	s.ctrl.Open(initial)
	s.emitWordCount()
}

func (s *Session) Edit(op Operation) error {
	before := s.ctrl.Version()
	if err := s.ctrl.Edit(op); err != nil {
		return err
	}
	if s.ctrl.Version() != before {
		s.emitWordCount()
	}
	return nil
}

func (s *Session) Undo() bool {
	if !s.ctrl.Undo() {
		return false
	}
	s.emitWordCount()
	return true
}

func (s *Session) Redo() bool {
	if !s.ctrl.Redo() {
		return false
	}
	s.emitWordCount()
	return true
}

func (s *Session) Clear() {
	s.ctrl.Clear()
	s.emitWordCount()
}

// Apply returns the serialized live document and hands it to OnApply.
func (s *Session) Apply() (string, error) {
	out, err := s.ctrl.Apply()
	if err != nil {
		return "", err
	}
	if s.OnApply != nil {
		s.OnApply(out)
	}
	return out, nil
}

func (s *Session) Cancel() {
	s.ctrl.Cancel()
}

// ExternalValueChanged forwards a new owner value to the controller. It reports
// whether the value replaced the live document.
func (s *Session) ExternalValueChanged(value string) bool {
	reparsed := s.ctrl.SyncExternal(value)
	if reparsed {
		s.emitWordCount()
	}
	return reparsed
}

func (s *Session) emitWordCount() {
	if s.OnWordCount != nil {
		s.OnWordCount(s.ctrl.Snapshot().WordCount)
	}
}
