package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"richfield/internal/document"
	"richfield/internal/editor"
	"richfield/internal/session"
	"richfield/internal/store"
)

// liveSession is one editing session held in process memory. mu serializes every
// command on it; editor.Session is not safe for concurrent use. evicted is set
// when the idle sweep drops it from the registry; holders must look it up again.
type liveSession struct {
	mu       sync.Mutex
	id       string
	fieldID  string
	openedBy string
	sess     *editor.Session
	touched  time.Time
	closed   bool
	evicted  bool
}

// SessionView is the JSON form of a session returned by every session endpoint.
type SessionView struct {
	ID         string `json:"id"`
	FieldID    string `json:"fieldId"`
	FieldLabel string `json:"fieldLabel"`
	OpenedBy   string `json:"openedBy"`
	Markup     string `json:"markup"`
	editor.Snapshot
}

// ApplyResult is returned by ApplySession.
type ApplyResult struct {
	Value      string      `json:"value"`
	CommitHash string      `json:"commitHash"`
	Session    SessionView `json:"session"`
}

func (s *Service) editorOptions() editor.Options {
	return editor.Options{Codec: s.codec, HistoryLimit: s.cfg.HistoryLimit}
}

func (s *Service) newLive(id, fieldID, label, openedBy string) *liveSession {
	l := &liveSession{
		id:       id,
		fieldID:  fieldID,
		openedBy: openedBy,
		sess:     editor.NewSession(label, s.editorOptions()),
		touched:  s.now(),
	}
	l.sess.OnApply = func(markup string) {
		log.Printf("app: session %s applied %d bytes to field %s", id, len(markup), fieldID)
	}
	return l
}

// OpenSession starts editing fieldID from its stored value.
func (s *Service) OpenSession(ctx context.Context, fieldID string, p Principal) (SessionView, error) {
	field, err := s.store.GetField(ctx, fieldID)
	if err != nil {
		return SessionView{}, err
	}
	l := s.newLive(newID("ses"), field.ID, field.Label, p.UserName)
	l.sess.Open(field.Value)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := s.persist(ctx, l); err != nil {
		return SessionView{}, err
	}
	s.liveMu.Lock()
	s.live[l.id] = l
	s.liveMu.Unlock()
	return s.view(l), nil
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (SessionView, error) {
	return s.withSession(ctx, sessionID, false, func(*liveSession) error { return nil })
}

// EditSession applies ops in order. The live document is left with every op
// before the first failure applied.
func (s *Service) EditSession(ctx context.Context, sessionID string, ops []editor.Operation) (SessionView, error) {
	return s.withSession(ctx, sessionID, true, func(l *liveSession) error {
		for _, op := range ops {
			if err := l.sess.Edit(op); err != nil {
				if errors.Is(err, editor.ErrNotOpen) {
					return errSessionClosed
				}
				return err
			}
		}
		return nil
	})
}

func (s *Service) UndoSession(ctx context.Context, sessionID string) (SessionView, error) {
	return s.withSession(ctx, sessionID, true, func(l *liveSession) error {
		l.sess.Undo()
		return nil
	})
}

func (s *Service) RedoSession(ctx context.Context, sessionID string) (SessionView, error) {
	return s.withSession(ctx, sessionID, true, func(l *liveSession) error {
		l.sess.Redo()
		return nil
	})
}

func (s *Service) ClearSession(ctx context.Context, sessionID string) (SessionView, error) {
	return s.withSession(ctx, sessionID, true, func(l *liveSession) error {
		l.sess.Clear()
		return nil
	})
}

// CancelSession drops local edits and closes the session. The field value is
// not touched.
func (s *Service) CancelSession(ctx context.Context, sessionID string) (SessionView, error) {
	l, err := s.lockLive(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	defer l.mu.Unlock()
	if l.closed {
		return SessionView{}, notFound("Session not found")
	}
	s.closeLocked(ctx, l)
	return s.view(l), nil
}

// ApplySession hands the session's value to the field: it is stored, committed to
// history, recorded as an apply and indexed. Every open session on the field is
// then offered the value, the applying one included.
func (s *Service) ApplySession(ctx context.Context, sessionID string, p Principal) (ApplyResult, error) {
	l, err := s.lookup(ctx, sessionID)
	if err != nil {
		return ApplyResult{}, err
	}
	fieldMu := s.fieldLock(l.fieldID)
	fieldMu.Lock()
	defer fieldMu.Unlock()

	if l, err = s.lockLive(ctx, sessionID); err != nil {
		return ApplyResult{}, err
	}
	if l.closed {
		l.mu.Unlock()
		return ApplyResult{}, notFound("Session not found")
	}
	ctrl := l.sess.Controller()
	if ctrl.State() == editor.Uninitialized {
		l.mu.Unlock()
		return ApplyResult{}, errSessionClosed
	}
	// The value is stored before the controller is told it was accepted, so a
	// failed write leaves the session as it was.
	doc := ctrl.Document()
	value := s.codec.Serialize(doc)
	plain, words := document.PlainText(doc), document.WordCount(doc)

	field, err := s.store.GetField(ctx, l.fieldID)
	if err != nil {
		l.mu.Unlock()
		return ApplyResult{}, err
	}
	commit, err := s.storeDerived(ctx, field, value, plain, words, p.UserName, fmt.Sprintf("Apply session %s", l.id))
	if err != nil {
		l.mu.Unlock()
		return ApplyResult{}, err
	}
	if err := s.store.InsertApply(ctx, store.Apply{
		FieldID:    l.fieldID,
		SessionID:  l.id,
		WordCount:  words,
		CommitHash: commit.Hash,
		AppliedBy:  p.UserName,
	}); err != nil {
		l.mu.Unlock()
		return ApplyResult{}, err
	}
	if value, err = l.sess.Apply(); err != nil {
		l.mu.Unlock()
		return ApplyResult{}, err
	}
	l.touched = s.now()
	logSessionError("persist", l.id, s.persist(ctx, l))
	l.mu.Unlock()

	s.propagate(ctx, l.fieldID, value)

	l.mu.Lock()
	view := s.view(l)
	l.mu.Unlock()
	return ApplyResult{Value: value, CommitHash: commit.Hash, Session: view}, nil
}

func (s *Service) withSession(ctx context.Context, sessionID string, mutate bool, fn func(*liveSession) error) (SessionView, error) {
	l, err := s.lockLive(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	defer l.mu.Unlock()
	if l.closed {
		return SessionView{}, notFound("Session not found")
	}
	if err := fn(l); err != nil {
		return SessionView{}, err
	}
	l.touched = s.now()
	if mutate {
		if err := s.persist(ctx, l); err != nil {
			return SessionView{}, err
		}
	}
	return s.view(l), nil
}

// lookup returns the in-memory session, restoring it from the session store when
// this process has not seen it.
func (s *Service) lookup(ctx context.Context, sessionID string) (*liveSession, error) {
	s.liveMu.Lock()
	s.sweepLocked()
	l, ok := s.live[sessionID]
	s.liveMu.Unlock()
	if ok {
		return l, nil
	}

	snap, err := s.sessions.Load(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, notFound("Session not found")
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	restored := s.newLive(snap.ID, snap.FieldID, snap.FieldLabel, snap.OpenedBy)
	restored.sess.Controller().Restore(snap.Saved())

	s.liveMu.Lock()
	defer s.liveMu.Unlock()
	if existing, ok := s.live[sessionID]; ok {
		return existing, nil
	}
	s.live[sessionID] = restored
	return restored, nil
}

// lockLive looks up sessionID and returns it with mu held. A session the sweep
// evicted between lookup and lock is looked up again, which restores it from
// the session store as a single registry entry.
func (s *Service) lockLive(ctx context.Context, sessionID string) (*liveSession, error) {
	for attempt := 0; attempt < 3; attempt++ {
		l, err := s.lookup(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		if !l.evicted {
			return l, nil
		}
		l.mu.Unlock()
	}
	return nil, fmt.Errorf("session %s: evicted while locking", sessionID)
}

// fieldLock returns the mutex that orders value writes to fieldID together with
// their propagation to open sessions. It is taken before any session mutex.
func (s *Service) fieldLock(fieldID string) *sync.Mutex {
	s.fieldMu.Lock()
	defer s.fieldMu.Unlock()
	if s.fieldLocks == nil {
		s.fieldLocks = make(map[string]*sync.Mutex)
	}
	mu, ok := s.fieldLocks[fieldID]
	if !ok {
		mu = &sync.Mutex{}
		s.fieldLocks[fieldID] = mu
	}
	return mu
}

// sweepLocked drops sessions idle longer than the session TTL from memory. The
// session store expires its copy on its own.
func (s *Service) sweepLocked() {
	if s.cfg.SessionTTL <= 0 {
		return
	}
	cutoff := s.now().Add(-s.cfg.SessionTTL)
	for id, l := range s.live {
		if l.mu.TryLock() {
			if l.touched.Before(cutoff) {
				l.evicted = true
				delete(s.live, id)
			}
			l.mu.Unlock()
		}
	}
}

func (s *Service) persist(ctx context.Context, l *liveSession) error {
	saved := l.sess.Controller().Save()
	err := s.sessions.Save(ctx, session.Snapshot{
		ID:         l.id,
		FieldID:    l.fieldID,
		FieldLabel: l.sess.FieldLabel,
		Base:       saved.External,
		Markup:     saved.Markup,
		Dirty:      saved.Dirty,
		State:      saved.State,
		Version:    saved.Version,
		OpenedBy:   l.openedBy,
		UpdatedAt:  s.now(),
	}, s.cfg.SessionTTL)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Service) closeLocked(ctx context.Context, l *liveSession) {
	l.sess.Cancel()
	l.closed = true
	s.liveMu.Lock()
	delete(s.live, l.id)
	s.liveMu.Unlock()
	logSessionError("delete", l.id, s.sessions.Delete(ctx, l.id))
}

// fieldSessionIDs returns the ids of every session open on fieldID, here or in
// the session store, sorted.
func (s *Service) fieldSessionIDs(ctx context.Context, fieldID string) []string {
	ids := make(map[string]bool)
	s.liveMu.Lock()
	for id, l := range s.live {
		if l.fieldID == fieldID {
			ids[id] = true
		}
	}
	s.liveMu.Unlock()

	snaps, err := s.sessions.ListByField(ctx, fieldID)
	if err != nil {
		log.Printf("app: list sessions for field %s: %v", fieldID, err)
	}
	for _, snap := range snaps {
		ids[snap.ID] = true
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	return sorted
}

// eachFieldSession calls fn with every open session on fieldID, locked.
func (s *Service) eachFieldSession(ctx context.Context, fieldID string, fn func(*liveSession)) {
	for _, id := range s.fieldSessionIDs(ctx, fieldID) {
		l, err := s.lockLive(ctx, id)
		if err != nil {
			continue
		}
		if !l.closed {
			fn(l)
		}
		l.mu.Unlock()
	}
}

// propagate offers a newly stored field value to every session on the field.
// Callers hold the field lock, so sessions receive values in store order.
func (s *Service) propagate(ctx context.Context, fieldID, value string) {
	s.eachFieldSession(ctx, fieldID, func(l *liveSession) {
		if l.sess.ExternalValueChanged(value) {
			log.Printf("app: session %s adopted new value of field %s", l.id, fieldID)
		}
		logSessionError("persist", l.id, s.persist(ctx, l))
	})
}

func (s *Service) relabel(ctx context.Context, fieldID, label string) {
	s.eachFieldSession(ctx, fieldID, func(l *liveSession) {
		l.sess.FieldLabel = label
		logSessionError("persist", l.id, s.persist(ctx, l))
	})
}

func (s *Service) closeFieldSessions(ctx context.Context, fieldID string) {
	s.eachFieldSession(ctx, fieldID, func(l *liveSession) {
		s.closeLocked(ctx, l)
	})
}

func (s *Service) view(l *liveSession) SessionView {
	snap := l.sess.Snapshot()
	v := SessionView{
		ID:         l.id,
		FieldID:    l.fieldID,
		FieldLabel: l.sess.FieldLabel,
		OpenedBy:   l.openedBy,
		Snapshot:   snap,
	}
	if snap.State != editor.Uninitialized {
		v.Markup = s.codec.Serialize(snap.Document)
	}
	return v
}
