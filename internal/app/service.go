package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"richfield/internal/auth"
	"richfield/internal/config"
	"richfield/internal/document"
	"richfield/internal/export"
	"richfield/internal/gitrepo"
	"richfield/internal/markup"
	"richfield/internal/rbac"
	"richfield/internal/search"
	"richfield/internal/session"
	"richfield/internal/store"
	"richfield/internal/toolbar"
)

// Principal is the caller identified by a bearer token.
type Principal struct {
	UserID   string
	UserName string
	Role     string
}

type fieldStore interface {
	ListFields(context.Context) ([]store.Field, error)
	GetField(context.Context, string) (store.Field, error)
	InsertField(context.Context, store.Field) error
	UpdateFieldValue(context.Context, string, string, string, int, string) error
	UpdateFieldLabel(context.Context, string, string) error
	DeleteField(context.Context, string) error
	InsertApply(context.Context, store.Apply) error
	ListApplies(context.Context, string, int) ([]store.Apply, error)
	Ping(ctx context.Context) error
}

type gitService interface {
	EnsureFieldRepo(string, gitrepo.Content, string) error
	CommitValue(string, gitrepo.Content, string, string) (store.CommitInfo, error)
	GetValueByHash(string, string) (gitrepo.Content, error)
	History(string, int) ([]store.CommitInfo, error)
	Diff(string, string, string) ([]gitrepo.Segment, error)
}

type sessionStore interface {
	Save(context.Context, session.Snapshot, time.Duration) error
	Load(context.Context, string) (session.Snapshot, error)
	ListByField(context.Context, string) ([]session.Snapshot, error)
	Delete(context.Context, string) error
	Ping(context.Context) error
}

type searchService interface {
	Search(context.Context, search.Query) search.Response
	IndexField(search.FieldRecord)
	DeleteField(string)
	ReindexAll(context.Context, search.RecordLoader)
}

type exporter interface {
	Export(context.Context, export.Request) (*export.Result, error)
}

// Deps are the collaborators New wires into a Service. Search and Artifacts may
// be nil.
type Deps struct {
	Store     *store.PostgresStore
	Git       *gitrepo.Service
	Sessions  sessionStore
	Search    *search.Service
	Records   search.RecordLoader
	Artifacts export.ArtifactStore
	Toolbar   toolbar.Config
	Codec     markup.Codec
}

type Service struct {
	cfg      config.Config
	store    fieldStore
	git      gitService
	sessions sessionStore
	search   searchService
	records  search.RecordLoader
	exporter exporter
	toolbar  toolbar.Config
	codec    markup.Codec
	now      func() time.Time

	liveMu sync.Mutex
	live   map[string]*liveSession

	fieldMu    sync.Mutex
	fieldLocks map[string]*sync.Mutex
}

func New(cfg config.Config, deps Deps) *Service {
	codec := deps.Codec
	if codec == nil {
		codec = markup.HTML{}
	}
	s := &Service{
		cfg:      cfg,
		store:    deps.Store,
		git:      deps.Git,
		sessions: deps.Sessions,
		records:  deps.Records,
		toolbar:  deps.Toolbar,
		codec:    codec,
		now:      time.Now,
		live:     make(map[string]*liveSession),
	}
	if deps.Search != nil {
		s.search = deps.Search
	}
	s.exporter = export.NewService(fieldContentSource{s}, codec, deps.Artifacts)
	return s
}

// SessionFromToken verifies a bearer token.
func (s *Service) SessionFromToken(_ context.Context, token string) (Principal, error) {
	claims, err := auth.ParseTokenAt([]byte(s.cfg.TokenSecret), token, s.now())
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: claims.Sub, UserName: claims.Name, Role: string(rbac.Normalize(claims.Role))}, nil
}

// IssueToken signs a token with the service secret and access TTL.
func (s *Service) IssueToken(name, role string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", validationError("name is required", nil)
	}
	return auth.NewToken([]byte(s.cfg.TokenSecret), name, name, string(rbac.Normalize(role)), s.cfg.AccessTTL, s.now())
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Toolbar() toolbar.Config {
	return s.toolbar
}

// Ping checks the database and the session store.
func (s *Service) Ping(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.store.Ping(ctx)}
	if s.sessions != nil {
		checks["sessions"] = s.sessions.Ping(ctx)
	}
	return checks
}

// FieldView is the JSON form of a field.
type FieldView struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Value     string    `json:"value"`
	WordCount int       `json:"wordCount"`
	UpdatedBy string    `json:"updatedBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func fieldView(f store.Field) FieldView {
	return FieldView{
		ID:        f.ID,
		Label:     f.Label,
		Value:     f.Value,
		WordCount: f.WordCount,
		UpdatedBy: f.UpdatedBy,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

func (s *Service) ListFields(ctx context.Context) ([]FieldView, error) {
	fields, err := s.store.ListFields(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]FieldView, 0, len(fields))
	for _, f := range fields {
		out = append(out, fieldView(f))
	}
	return out, nil
}

func (s *Service) GetField(ctx context.Context, fieldID string) (FieldView, error) {
	f, err := s.store.GetField(ctx, fieldID)
	if err != nil {
		return FieldView{}, err
	}
	return fieldView(f), nil
}

// derive computes the stored text facts of a markup value.
func (s *Service) derive(value string) (plain string, words int) {
	doc := document.Empty()
	if value != "" {
		doc = s.codec.Parse(value)
	}
	return document.PlainText(doc), document.WordCount(doc)
}

// CreateField stores a new field and starts its history.
func (s *Service) CreateField(ctx context.Context, label, value, userName string) (FieldView, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return FieldView{}, validationError("label is required", nil)
	}
	plain, words := s.derive(value)
	item := store.Field{
		ID:        newID("fld"),
		Label:     label,
		Value:     value,
		PlainText: plain,
		WordCount: words,
		UpdatedBy: userName,
	}
	if err := s.git.EnsureFieldRepo(item.ID, gitrepo.Content{Label: label, Markup: value, PlainText: plain, WordCount: words}, userName); err != nil {
		return FieldView{}, fmt.Errorf("create field history: %w", err)
	}
	if err := s.store.InsertField(ctx, item); err != nil {
		return FieldView{}, err
	}
	s.index(item.ID, label, plain, words)

	created, err := s.store.GetField(ctx, item.ID)
	if err != nil {
		return fieldView(item), nil
	}
	return fieldView(created), nil
}

// SetFieldValue is the owner storing a new value directly. Open sessions on the
// field are offered the value; sessions whose live document already serializes
// to it keep their state.
func (s *Service) SetFieldValue(ctx context.Context, fieldID, value, userName string) (FieldView, error) {
	fieldMu := s.fieldLock(fieldID)
	fieldMu.Lock()
	defer fieldMu.Unlock()

	current, err := s.store.GetField(ctx, fieldID)
	if err != nil {
		return FieldView{}, err
	}
	plain, words := s.derive(value)
	if _, err := s.storeDerived(ctx, current, value, plain, words, userName, "Set value"); err != nil {
		return FieldView{}, err
	}
	s.propagate(ctx, fieldID, value)
	return s.GetField(ctx, fieldID)
}

func (s *Service) RenameField(ctx context.Context, fieldID, label, userName string) (FieldView, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return FieldView{}, validationError("label is required", nil)
	}
	fieldMu := s.fieldLock(fieldID)
	fieldMu.Lock()
	defer fieldMu.Unlock()

	current, err := s.store.GetField(ctx, fieldID)
	if err != nil {
		return FieldView{}, err
	}
	if err := s.store.UpdateFieldLabel(ctx, fieldID, label); err != nil {
		return FieldView{}, err
	}
	content := gitrepo.Content{Label: label, Markup: current.Value, PlainText: current.PlainText, WordCount: current.WordCount}
	if _, err := s.git.CommitValue(fieldID, content, userName, "Rename field"); err != nil {
		return FieldView{}, fmt.Errorf("commit rename: %w", err)
	}
	s.index(fieldID, label, current.PlainText, current.WordCount)
	s.relabel(ctx, fieldID, label)
	return s.GetField(ctx, fieldID)
}

// DeleteField removes the field and closes every session open on it. History
// stays on disk.
func (s *Service) DeleteField(ctx context.Context, fieldID string) error {
	fieldMu := s.fieldLock(fieldID)
	fieldMu.Lock()
	defer fieldMu.Unlock()

	if err := s.store.DeleteField(ctx, fieldID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteField(fieldID)
	}
	s.closeFieldSessions(ctx, fieldID)
	return nil
}

// storeDerived persists value and its derived text for field, commits it to
// history and indexes it.
func (s *Service) storeDerived(ctx context.Context, field store.Field, value, plain string, words int, userName, message string) (store.CommitInfo, error) {
	if err := s.store.UpdateFieldValue(ctx, field.ID, value, plain, words, userName); err != nil {
		return store.CommitInfo{}, err
	}
	commit, err := s.git.CommitValue(field.ID, gitrepo.Content{Label: field.Label, Markup: value, PlainText: plain, WordCount: words}, userName, message)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("commit value: %w", err)
	}
	s.index(field.ID, field.Label, plain, words)
	return commit, nil
}

func (s *Service) index(fieldID, label, plain string, words int) {
	if s.search == nil {
		return
	}
	s.search.IndexField(search.FieldRecord{
		ID:        fieldID,
		Label:     label,
		PlainText: plain,
		WordCount: words,
		UpdatedAt: s.now().Unix(),
	})
}

// CommitView is the JSON form of one history entry.
type CommitView struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	Added     int       `json:"added"`
	Removed   int       `json:"removed"`
}

func (s *Service) History(ctx context.Context, fieldID string, limit int) ([]CommitView, error) {
	if _, err := s.store.GetField(ctx, fieldID); err != nil {
		return nil, err
	}
	commits, err := s.git.History(fieldID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]CommitView, 0, len(commits))
	for _, c := range commits {
		out = append(out, CommitView{
			Hash:      c.Hash,
			Message:   c.Message,
			Author:    c.Author,
			CreatedAt: c.CreatedAt,
			Added:     c.Added,
			Removed:   c.Removed,
		})
	}
	return out, nil
}

func (s *Service) Diff(ctx context.Context, fieldID, from, to string) ([]gitrepo.Segment, error) {
	if from == "" || to == "" {
		return nil, validationError("from and to commit hashes are required", nil)
	}
	if _, err := s.store.GetField(ctx, fieldID); err != nil {
		return nil, err
	}
	return s.git.Diff(fieldID, from, to)
}

// ApplyView is the JSON form of one apply record.
type ApplyView struct {
	SessionID  string    `json:"sessionId"`
	WordCount  int       `json:"wordCount"`
	CommitHash string    `json:"commitHash"`
	AppliedBy  string    `json:"appliedBy"`
	AppliedAt  time.Time `json:"appliedAt"`
}

func (s *Service) ListApplies(ctx context.Context, fieldID string, limit int) ([]ApplyView, error) {
	items, err := s.store.ListApplies(ctx, fieldID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]ApplyView, 0, len(items))
	for _, a := range items {
		out = append(out, ApplyView{
			SessionID:  a.SessionID,
			WordCount:  a.WordCount,
			CommitHash: a.CommitHash,
			AppliedBy:  a.AppliedBy,
			AppliedAt:  a.AppliedAt,
		})
	}
	return out, nil
}

func (s *Service) Export(ctx context.Context, req export.Request) (*export.Result, error) {
	return s.exporter.Export(ctx, req)
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text, Backend: "none"}
	}
	return s.search.Search(ctx, q)
}

// Reindex pushes every stored field to the search index.
func (s *Service) Reindex(ctx context.Context) {
	if s.search == nil {
		return
	}
	s.search.ReindexAll(ctx, s.records)
}

type fieldContentSource struct {
	s *Service
}

func (f fieldContentSource) FieldContent(ctx context.Context, fieldID, version string) (export.Content, error) {
	field, err := f.s.store.GetField(ctx, fieldID)
	if err != nil {
		return export.Content{}, err
	}
	if version == "" || version == "latest" {
		return export.Content{Label: field.Label, Markup: field.Value, UpdatedBy: field.UpdatedBy, UpdatedAt: field.UpdatedAt}, nil
	}
	content, err := f.s.git.GetValueByHash(fieldID, version)
	if err != nil {
		return export.Content{}, err
	}
	return export.Content{Label: firstNonBlank(content.Label, field.Label), Markup: content.Markup}, nil
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func logSessionError(op, sessionID string, err error) {
	if err != nil {
		log.Printf("app: %s session %s: %v", op, sessionID, err)
	}
}

var errSessionClosed = domainError(http.StatusConflict, "SESSION_CLOSED", "Session is not open", nil)
