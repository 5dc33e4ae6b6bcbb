package app

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"richfield/internal/config"
	"richfield/internal/export"
	"richfield/internal/gitrepo"
	"richfield/internal/markup"
	"richfield/internal/search"
	"richfield/internal/session"
	"richfield/internal/store"
	"richfield/internal/toolbar"
)

type fakeStore struct {
	mu            sync.Mutex
	fields        map[string]store.Field
	applies       []store.Apply
	pingFn        func(context.Context) error
	updateValueFn func(fieldID, value string) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{fields: make(map[string]store.Field)}
}

func (f *fakeStore) ListFields(context.Context) ([]store.Field, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Field, 0, len(f.fields))
	for _, item := range f.fields {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetField(_ context.Context, fieldID string) (store.Field, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.fields[fieldID]
	if !ok {
		return store.Field{}, sql.ErrNoRows
	}
	return item, nil
}

func (f *fakeStore) InsertField(_ context.Context, item store.Field) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	f.fields[item.ID] = item
	return nil
}

func (f *fakeStore) UpdateFieldValue(_ context.Context, fieldID, value, plainText string, wordCount int, updatedBy string) error {
	if f.updateValueFn != nil {
		if err := f.updateValueFn(fieldID, value); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.fields[fieldID]
	if !ok {
		return sql.ErrNoRows
	}
	item.Value, item.PlainText, item.WordCount, item.UpdatedBy = value, plainText, wordCount, updatedBy
	item.UpdatedAt = time.Now()
	f.fields[fieldID] = item
	return nil
}

func (f *fakeStore) UpdateFieldLabel(_ context.Context, fieldID, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.fields[fieldID]
	if !ok {
		return sql.ErrNoRows
	}
	item.Label = label
	f.fields[fieldID] = item
	return nil
}

func (f *fakeStore) DeleteField(_ context.Context, fieldID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.fields[fieldID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.fields, fieldID)
	return nil
}

func (f *fakeStore) InsertApply(_ context.Context, entry store.Apply) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = int64(len(f.applies) + 1)
	entry.AppliedAt = time.Now()
	f.applies = append(f.applies, entry)
	return nil
}

func (f *fakeStore) ListApplies(_ context.Context, fieldID string, limit int) ([]store.Apply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Apply, 0)
	for i := len(f.applies) - 1; i >= 0 && len(out) < limit; i-- {
		if f.applies[i].FieldID == fieldID {
			out = append(out, f.applies[i])
		}
	}
	return out, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeCommit struct {
	hash    string
	content gitrepo.Content
	author  string
	message string
}

type fakeGit struct {
	mu      sync.Mutex
	commits map[string][]fakeCommit
}

func newFakeGit() *fakeGit {
	return &fakeGit{commits: make(map[string][]fakeCommit)}
}

func (g *fakeGit) EnsureFieldRepo(fieldID string, initial gitrepo.Content, author string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.commits[fieldID]) > 0 {
		return nil
	}
	g.commits[fieldID] = []fakeCommit{{hash: fieldID + "-0", content: initial, author: author, message: "Create field"}}
	return nil
}

func (g *fakeGit) CommitValue(fieldID string, content gitrepo.Content, author, message string) (store.CommitInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	list, ok := g.commits[fieldID]
	if !ok {
		return store.CommitInfo{}, gitrepo.ErrNoRepo
	}
	c := fakeCommit{hash: fmt.Sprintf("%s-%d", fieldID, len(list)), content: content, author: author, message: message}
	g.commits[fieldID] = append(list, c)
	return store.CommitInfo{Hash: c.hash, Message: message, Author: author}, nil
}

func (g *fakeGit) GetValueByHash(fieldID, hash string) (gitrepo.Content, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.commits[fieldID] {
		if c.hash == hash {
			return c.content, nil
		}
	}
	return gitrepo.Content{}, gitrepo.ErrUnknownCommit
}

func (g *fakeGit) History(fieldID string, limit int) ([]store.CommitInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	list, ok := g.commits[fieldID]
	if !ok {
		return nil, gitrepo.ErrNoRepo
	}
	out := make([]store.CommitInfo, 0, len(list))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, store.CommitInfo{Hash: list[i].hash, Message: list[i].message, Author: list[i].author})
	}
	return out, nil
}

func (g *fakeGit) Diff(fieldID, from, to string) ([]gitrepo.Segment, error) {
	before, err := g.GetValueByHash(fieldID, from)
	if err != nil {
		return nil, err
	}
	after, err := g.GetValueByHash(fieldID, to)
	if err != nil {
		return nil, err
	}
	return gitrepo.DiffText(before.PlainText, after.PlainText), nil
}

func (g *fakeGit) count(fieldID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.commits[fieldID])
}

type fakeSearch struct {
	mu        sync.Mutex
	indexed   []search.FieldRecord
	deleted   []string
	reindexed int
	// indexFn, when set, runs before each record is recorded.
	indexFn func(search.FieldRecord)
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	return search.Response{Results: []search.Result{{ID: "fld_hit", Label: q.Text}}, Total: 1, Query: q.Text, Backend: "fake"}
}

func (f *fakeSearch) IndexField(r search.FieldRecord) {
	if f.indexFn != nil {
		f.indexFn(r)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, r)
}

func (f *fakeSearch) DeleteField(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
}

func (f *fakeSearch) ReindexAll(context.Context, search.RecordLoader) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reindexed++
}

type testDeps struct {
	store    *fakeStore
	git      *fakeGit
	search   *fakeSearch
	sessions *session.MemoryStore
	codec    *markup.CountingCodec
}

func newTestService(t *testing.T) (*Service, testDeps) {
	t.Helper()
	deps := testDeps{
		store:    newFakeStore(),
		git:      newFakeGit(),
		search:   &fakeSearch{},
		sessions: session.NewMemoryStore(),
		codec:    markup.NewCountingCodec(nil),
	}
	svc := &Service{
		cfg: config.Config{
			TokenSecret:  "test-secret",
			AccessTTL:    time.Hour,
			SessionTTL:   30 * time.Minute,
			HistoryLimit: 10,
		},
		store:    deps.store,
		git:      deps.git,
		sessions: deps.sessions,
		search:   deps.search,
		toolbar:  toolbar.Default(),
		codec:    deps.codec,
		now:      time.Now,
		live:     make(map[string]*liveSession),
	}
	svc.exporter = export.NewService(fieldContentSource{svc}, deps.codec, nil)
	return svc, deps
}

func mustCreateField(t *testing.T, svc *Service, label, value string) FieldView {
	t.Helper()
	field, err := svc.CreateField(context.Background(), label, value, "owner")
	if err != nil {
		t.Fatalf("CreateField() error = %v", err)
	}
	return field
}

func mustOpen(t *testing.T, svc *Service, fieldID string) SessionView {
	t.Helper()
	view, err := svc.OpenSession(context.Background(), fieldID, Principal{UserID: "u1", UserName: "editor", Role: "editor"})
	if err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	return view
}
