package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"richfield/internal/document"
	"richfield/internal/editor"
	"richfield/internal/export"
	"richfield/internal/search"
)

func insertAt(block, offset int, text string) editor.Operation {
	return editor.InsertText{At: document.Pos{Block: block, Offset: offset}, Text: text}
}

func TestCreateFieldDerivesText(t *testing.T) {
	svc, deps := newTestService(t)
	field := mustCreateField(t, svc, "  Summary ", "<p>one <b>two</b></p>")

	if field.Label != "Summary" || field.WordCount != 2 {
		t.Fatalf("field = %+v", field)
	}
	stored, _ := deps.store.GetField(context.Background(), field.ID)
	if stored.PlainText != "one two" {
		t.Fatalf("plain text = %q", stored.PlainText)
	}
	if deps.git.count(field.ID) != 1 {
		t.Fatalf("commits = %d, want initial commit", deps.git.count(field.ID))
	}
	if len(deps.search.indexed) != 1 || deps.search.indexed[0].PlainText != "one two" {
		t.Fatalf("indexed = %+v", deps.search.indexed)
	}

	if _, err := svc.CreateField(context.Background(), "   ", "", "owner"); err == nil {
		t.Fatal("blank label accepted")
	}
}

func TestApplySessionStoresCommitsAndIndexes(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()
	field := mustCreateField(t, svc, "Notes", "<p>Hello</p>")
	view := mustOpen(t, svc, field.ID)

	edited, err := svc.EditSession(ctx, view.ID, []editor.Operation{insertAt(0, 5, " world")})
	if err != nil {
		t.Fatalf("EditSession() error = %v", err)
	}
	if edited.State != editor.Diverged || !edited.Dirty || edited.WordCount != 2 {
		t.Fatalf("after edit = %+v", edited)
	}

	res, err := svc.ApplySession(ctx, view.ID, Principal{UserName: "robin"})
	if err != nil {
		t.Fatalf("ApplySession() error = %v", err)
	}
	if res.Value != "<p>Hello world</p>" {
		t.Fatalf("applied value = %q", res.Value)
	}
	if res.Session.State != editor.Synced || res.Session.Dirty {
		t.Fatalf("session after apply = %+v", res.Session)
	}

	stored, _ := deps.store.GetField(ctx, field.ID)
	if stored.Value != res.Value || stored.WordCount != 2 || stored.UpdatedBy != "robin" {
		t.Fatalf("stored field = %+v", stored)
	}
	if deps.git.count(field.ID) != 2 {
		t.Fatalf("commits = %d", deps.git.count(field.ID))
	}
	applies, err := svc.ListApplies(ctx, field.ID, 10)
	if err != nil || len(applies) != 1 {
		t.Fatalf("ListApplies() = %+v, %v", applies, err)
	}
	if applies[0].CommitHash != res.CommitHash || applies[0].SessionID != view.ID || applies[0].WordCount != 2 {
		t.Fatalf("apply record = %+v", applies[0])
	}
	last := deps.search.indexed[len(deps.search.indexed)-1]
	if last.PlainText != "Hello world" {
		t.Fatalf("last index = %+v", last)
	}
}

func TestApplyEchoDoesNotReparse(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()
	field := mustCreateField(t, svc, "Notes", "<p>Hello</p>")
	view := mustOpen(t, svc, field.ID)
	if _, err := svc.EditSession(ctx, view.ID, []editor.Operation{insertAt(0, 5, "!")}); err != nil {
		t.Fatalf("EditSession() error = %v", err)
	}

	before := deps.codec.Parses()
	first, err := svc.ApplySession(ctx, view.ID, Principal{UserName: "robin"})
	if err != nil {
		t.Fatalf("ApplySession() error = %v", err)
	}
	// The owner stores the value and feeds it straight back.
	if _, err := svc.SetFieldValue(ctx, field.ID, first.Value, "owner"); err != nil {
		t.Fatalf("SetFieldValue() error = %v", err)
	}
	second, err := svc.ApplySession(ctx, view.ID, Principal{UserName: "robin"})
	if err != nil {
		t.Fatalf("second ApplySession() error = %v", err)
	}
	if second.Value != first.Value {
		t.Fatalf("apply not idempotent: %q then %q", first.Value, second.Value)
	}

	// SetFieldValue derives stored text with one parse; the session itself must not parse.
	if got := deps.codec.Parses() - before; got != 1 {
		t.Fatalf("parses during echo = %d, want 1", got)
	}
	if second.Session.Version != first.Session.Version {
		t.Fatalf("live document replaced: version %d -> %d", first.Session.Version, second.Session.Version)
	}
}

func TestSetFieldValuePropagatesToSessions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	field := mustCreateField(t, svc, "Notes", "<p>Hello</p>")
	a := mustOpen(t, svc, field.ID)
	b := mustOpen(t, svc, field.ID)

	if _, err := svc.EditSession(ctx, a.ID, []editor.Operation{insertAt(0, 5, " there")}); err != nil {
		t.Fatalf("EditSession() error = %v", err)
	}
	aBefore, _ := svc.GetSession(ctx, a.ID)

	// a already shows this value, b does not.
	if _, err := svc.SetFieldValue(ctx, field.ID, "<p>Hello there</p>", "owner"); err != nil {
		t.Fatalf("SetFieldValue() error = %v", err)
	}

	aAfter, _ := svc.GetSession(ctx, a.ID)
	if aAfter.Version != aBefore.Version || aAfter.State != editor.Synced || aAfter.Dirty {
		t.Fatalf("session a = %+v", aAfter)
	}
	if !aAfter.CanUndo {
		t.Fatal("session a lost its undo history")
	}

	bAfter, _ := svc.GetSession(ctx, b.ID)
	if bAfter.Markup != "<p>Hello there</p>" || bAfter.State != editor.Synced || bAfter.WordCount != 2 {
		t.Fatalf("session b = %+v", bAfter)
	}
	if bAfter.Version == b.Version {
		t.Fatal("session b did not adopt the new value")
	}
}

func TestConcurrentSetFieldValueKeepsSessionsCurrent(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()
	field := mustCreateField(t, svc, "Notes", "<p>start</p>")
	view := mustOpen(t, svc, field.ID)

	entered := make(chan struct{})
	release := make(chan struct{})
	deps.search.indexFn = func(r search.FieldRecord) {
		if r.PlainText == "older" {
			close(entered)
			<-release
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := svc.SetFieldValue(ctx, field.ID, "<p>older</p>", "first")
		errs <- err
	}()
	<-entered

	// The older write is stored but not yet propagated.
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := svc.SetFieldValue(ctx, field.ID, "<p>newer</p>", "second")
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("SetFieldValue() error = %v", err)
		}
	}

	stored, err := svc.GetField(ctx, field.ID)
	if err != nil {
		t.Fatalf("GetField() error = %v", err)
	}
	got, err := svc.GetSession(ctx, view.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Markup != stored.Value || got.State != editor.Synced || got.Dirty {
		t.Fatalf("session = %q (%s), field = %q", got.Markup, got.State, stored.Value)
	}
}

func TestSetFieldValueDiscardsDivergedEdits(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	field := mustCreateField(t, svc, "Notes", "<p>Hello</p>")
	view := mustOpen(t, svc, field.ID)
	if _, err := svc.EditSession(ctx, view.ID, []editor.Operation{insertAt(0, 0, "Oh ")}); err != nil {
		t.Fatalf("EditSession() error = %v", err)
	}
	if _, err := svc.SetFieldValue(ctx, field.ID, "<h1>Replaced</h1>", "owner"); err != nil {
		t.Fatalf("SetFieldValue() error = %v", err)
	}
	got, _ := svc.GetSession(ctx, view.ID)
	if got.Markup != "<h1>Replaced</h1>" || got.Dirty || got.CanUndo {
		t.Fatalf("session = %+v", got)
	}
}

func TestCancelSessionLeavesFieldUntouched(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()
	field := mustCreateField(t, svc, "Notes", "<p>Keep me</p>")
	view := mustOpen(t, svc, field.ID)
	if _, err := svc.ClearSession(ctx, view.ID); err != nil {
		t.Fatalf("ClearSession() error = %v", err)
	}

	cancelled, err := svc.CancelSession(ctx, view.ID)
	if err != nil {
		t.Fatalf("CancelSession() error = %v", err)
	}
	if cancelled.State != editor.Uninitialized || cancelled.External != "<p>Keep me</p>" {
		t.Fatalf("cancelled = %+v", cancelled)
	}
	stored, _ := deps.store.GetField(ctx, field.ID)
	if stored.Value != "<p>Keep me</p>" {
		t.Fatalf("field value = %q", stored.Value)
	}

	_, err = svc.GetSession(ctx, view.ID)
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusNotFound {
		t.Fatalf("GetSession() after cancel error = %v", err)
	}
	if _, err := deps.sessions.Load(ctx, view.ID); err == nil {
		t.Fatal("cancelled session still persisted")
	}

	reopened := mustOpen(t, svc, field.ID)
	if !document.Equal(reopened.Document, svc.codec.Parse("<p>Keep me</p>")) {
		t.Fatalf("reopened document = %+v", reopened.Document)
	}
}

func TestUndoRedoAndClear(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	field := mustCreateField(t, svc, "Notes", "<p>a</p>")
	view := mustOpen(t, svc, field.ID)

	if _, err := svc.EditSession(ctx, view.ID, []editor.Operation{insertAt(0, 1, " b c")}); err != nil {
		t.Fatalf("EditSession() error = %v", err)
	}
	undone, err := svc.UndoSession(ctx, view.ID)
	if err != nil || undone.Markup != "<p>a</p>" || !undone.CanRedo {
		t.Fatalf("UndoSession() = %+v, %v", undone, err)
	}
	redone, err := svc.RedoSession(ctx, view.ID)
	if err != nil || redone.WordCount != 3 {
		t.Fatalf("RedoSession() = %+v, %v", redone, err)
	}
	cleared, err := svc.ClearSession(ctx, view.ID)
	if err != nil {
		t.Fatalf("ClearSession() error = %v", err)
	}
	if cleared.WordCount != 0 || cleared.State != editor.Synced || !cleared.Dirty {
		t.Fatalf("cleared = %+v", cleared)
	}
}

func TestSessionRestoredFromStore(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	field := mustCreateField(t, svc, "Notes", "<p>Hello</p>")
	view := mustOpen(t, svc, field.ID)
	if _, err := svc.EditSession(ctx, view.ID, []editor.Operation{insertAt(0, 5, "!")}); err != nil {
		t.Fatalf("EditSession() error = %v", err)
	}

	// Another process sees only the session store.
	svc.liveMu.Lock()
	svc.live = make(map[string]*liveSession)
	svc.liveMu.Unlock()

	got, err := svc.GetSession(ctx, view.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Markup != "<p>Hello!</p>" || got.State != editor.Diverged || !got.Dirty || got.External != "<p>Hello</p>" {
		t.Fatalf("restored = %+v", got)
	}
	if got.CanUndo {
		t.Fatal("undo history should not survive a restore")
	}
}

func TestIdleSessionsSweptFromMemory(t *testing.T) {
	svc, _ := newTestService(t)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	field := mustCreateField(t, svc, "Notes", "<p>x</p>")
	view := mustOpen(t, svc, field.ID)

	now = now.Add(svc.cfg.SessionTTL + time.Minute)
	svc.liveMu.Lock()
	svc.sweepLocked()
	_, stillLive := svc.live[view.ID]
	svc.liveMu.Unlock()
	if stillLive {
		t.Fatal("idle session kept in memory")
	}
}

func TestSweptSessionNotDuplicated(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	field := mustCreateField(t, svc, "Notes", "<p>x</p>")
	view := mustOpen(t, svc, field.ID)

	// A request holds the entry it looked up while the sweep runs.
	held, err := svc.lookup(ctx, view.ID)
	if err != nil {
		t.Fatalf("lookup() error = %v", err)
	}
	now = now.Add(svc.cfg.SessionTTL + time.Minute)
	svc.liveMu.Lock()
	svc.sweepLocked()
	svc.liveMu.Unlock()

	if _, err := svc.EditSession(ctx, view.ID, []editor.Operation{insertAt(0, 1, "y")}); err != nil {
		t.Fatalf("EditSession() error = %v", err)
	}
	held.mu.Lock()
	evicted := held.evicted
	held.mu.Unlock()
	if !evicted {
		t.Fatal("swept session not marked evicted")
	}

	svc.liveMu.Lock()
	current, ok := svc.live[view.ID]
	count := len(svc.live)
	svc.liveMu.Unlock()
	if !ok || current == held || count != 1 {
		t.Fatalf("registry = %d entries, replaced = %v", count, current != held)
	}
	got, err := svc.GetSession(ctx, view.ID)
	if err != nil || got.Markup != "<p>xy</p>" {
		t.Fatalf("GetSession() = %+v, %v", got, err)
	}
}

func TestDeleteFieldClosesSessions(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()
	field := mustCreateField(t, svc, "Notes", "<p>x</p>")
	view := mustOpen(t, svc, field.ID)

	if err := svc.DeleteField(ctx, field.ID); err != nil {
		t.Fatalf("DeleteField() error = %v", err)
	}
	if _, err := svc.GetSession(ctx, view.ID); err == nil {
		t.Fatal("session survived field deletion")
	}
	if len(deps.search.deleted) != 1 || deps.search.deleted[0] != field.ID {
		t.Fatalf("search deletes = %v", deps.search.deleted)
	}
	if err := svc.DeleteField(ctx, field.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("second delete error = %v", err)
	}
}

func TestRenameFieldRelabelsSessions(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()
	field := mustCreateField(t, svc, "Notes", "<p>x</p>")
	view := mustOpen(t, svc, field.ID)

	renamed, err := svc.RenameField(ctx, field.ID, "Release notes", "owner")
	if err != nil || renamed.Label != "Release notes" {
		t.Fatalf("RenameField() = %+v, %v", renamed, err)
	}
	got, _ := svc.GetSession(ctx, view.ID)
	if got.FieldLabel != "Release notes" {
		t.Fatalf("session label = %q", got.FieldLabel)
	}
	if deps.git.count(field.ID) != 2 {
		t.Fatalf("commits = %d", deps.git.count(field.ID))
	}
}

func TestApplyFailureKeepsSessionOpen(t *testing.T) {
	svc, deps := newTestService(t)
	ctx := context.Background()
	field := mustCreateField(t, svc, "Notes", "<p>x</p>")
	view := mustOpen(t, svc, field.ID)
	deps.store.updateValueFn = func(string, string) error { return errors.New("db down") }

	if _, err := svc.ApplySession(ctx, view.ID, Principal{UserName: "robin"}); err == nil {
		t.Fatal("ApplySession() error = nil")
	}
	got, err := svc.GetSession(ctx, view.ID)
	if err != nil {
		t.Fatalf("session closed after failed apply: %v", err)
	}
	if got.State != view.State || got.Version != view.Version {
		t.Fatalf("session changed by failed apply: %+v", got)
	}
	if len(deps.store.applies) != 0 {
		t.Fatalf("apply recorded despite failure: %+v", deps.store.applies)
	}
}

func TestHistoryAndDiff(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	field := mustCreateField(t, svc, "Notes", "<p>old text</p>")
	if _, err := svc.SetFieldValue(ctx, field.ID, "<p>new text</p>", "owner"); err != nil {
		t.Fatalf("SetFieldValue() error = %v", err)
	}

	commits, err := svc.History(ctx, field.ID, 10)
	if err != nil || len(commits) != 2 {
		t.Fatalf("History() = %+v, %v", commits, err)
	}
	segments, err := svc.Diff(ctx, field.ID, commits[1].Hash, commits[0].Hash)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	var inserted []string
	for _, seg := range segments {
		if seg.Op == "insert" {
			inserted = append(inserted, seg.Text)
		}
	}
	if strings.Join(inserted, "") != "new" {
		t.Fatalf("segments = %+v", segments)
	}

	if _, err := svc.Diff(ctx, field.ID, "", commits[0].Hash); err == nil {
		t.Fatal("Diff() without from accepted")
	}
	if _, err := svc.History(ctx, "fld_missing", 10); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("History() missing field error = %v", err)
	}
}

func TestExportAtVersion(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	field := mustCreateField(t, svc, "Notes", "<p>first</p>")
	if _, err := svc.SetFieldValue(ctx, field.ID, "<p>second</p>", "owner"); err != nil {
		t.Fatalf("SetFieldValue() error = %v", err)
	}

	latest, err := svc.Export(ctx, export.Request{FieldID: field.ID, Format: export.FormatHTML})
	if err != nil || !strings.Contains(string(latest.Data), "<p>second</p>") {
		t.Fatalf("latest export = %v", err)
	}
	initial := field.ID + "-0"
	old, err := svc.Export(ctx, export.Request{FieldID: field.ID, Version: initial, Format: export.FormatHTML})
	if err != nil || !strings.Contains(string(old.Data), "<p>first</p>") {
		t.Fatalf("versioned export = %v", err)
	}
}

func TestIssueAndVerifyToken(t *testing.T) {
	svc, _ := newTestService(t)
	token, err := svc.IssueToken("robin", "superuser")
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	p, err := svc.SessionFromToken(context.Background(), token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if p.UserName != "robin" || p.Role != "viewer" {
		t.Fatalf("principal = %+v", p)
	}
	if _, err := svc.IssueToken(" ", "admin"); err == nil {
		t.Fatal("blank name accepted")
	}
}
