// Package gitrepo keeps the history of applied field values, one git repository
// per field with a single content.json on the main branch.
package gitrepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unicode/utf8"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/sergi/go-diff/diffmatchpatch"

	"richfield/internal/store"
)

const (
	branch      = "main"
	contentFile = "content.json"
)

var (
	// ErrNoRepo is returned for fields that have no history yet.
	ErrNoRepo = errors.New("field history not found")
	// ErrUnknownCommit is returned when a hash names no commit in the field's history.
	ErrUnknownCommit = errors.New("commit not found")
)

// Content is the committed form of a field value.
type Content struct {
	Label     string `json:"label"`
	Markup    string `json:"markup"`
	PlainText string `json:"plainText"`
	WordCount int    `json:"wordCount"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
	now     func() time.Time
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

// EnsureFieldRepo creates the repository with initial as its first commit. It is
// a no-op when the repository exists.
func (s *Service) EnsureFieldRepo(fieldID string, initial Content, author string) error {
	lock := s.fieldLock(fieldID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(fieldID)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat repo path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create repo dir: %w", err)
	}

	repo, err := git.PlainInit(path, false)
	if err != nil {
		return fmt.Errorf("init repo: %w", err)
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch))
	if err := repo.Storer.SetReference(head); err != nil {
		return fmt.Errorf("set HEAD to %s: %w", branch, err)
	}
	if _, err := s.commit(repo, initial, author, "Create field", true); err != nil {
		return err
	}
	return nil
}

// CommitValue records content as the newest version. Committing content equal to
// the current head returns the head commit.
func (s *Service) CommitValue(fieldID string, content Content, author, message string) (store.CommitInfo, error) {
	lock := s.fieldLock(fieldID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(fieldID)
	if err != nil {
		return store.CommitInfo{}, err
	}
	headCommit, err := headCommit(repo)
	if err != nil {
		return store.CommitInfo{}, err
	}
	prev, err := readContentFromCommit(headCommit)
	if err != nil {
		return store.CommitInfo{}, err
	}
	if prev == content {
		return toCommitInfo(headCommit, prev, content), nil
	}

	hash, err := s.commit(repo, content, author, message, false)
	if err != nil {
		return store.CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj, prev, content), nil
}

func (s *Service) GetHeadValue(fieldID string) (Content, store.CommitInfo, error) {
	lock := s.fieldLock(fieldID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(fieldID)
	if err != nil {
		return Content{}, store.CommitInfo{}, err
	}
	commitObj, err := headCommit(repo)
	if err != nil {
		return Content{}, store.CommitInfo{}, err
	}
	content, err := readContentFromCommit(commitObj)
	if err != nil {
		return Content{}, store.CommitInfo{}, err
	}
	parent, err := parentContent(commitObj)
	if err != nil {
		return Content{}, store.CommitInfo{}, err
	}
	return content, toCommitInfo(commitObj, parent, content), nil
}

// GetValueByHash accepts full or abbreviated hashes.
func (s *Service) GetValueByHash(fieldID, hash string) (Content, error) {
	lock := s.fieldLock(fieldID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(fieldID)
	if err != nil {
		return Content{}, err
	}
	commitObj, err := commitByHash(repo, hash)
	if err != nil {
		return Content{}, err
	}
	return readContentFromCommit(commitObj)
}

// History lists versions newest first. limit <= 0 returns all of them.
func (s *Service) History(fieldID string, limit int) ([]store.CommitInfo, error) {
	lock := s.fieldLock(fieldID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.open(fieldID)
	if err != nil {
		return nil, err
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]store.CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		content, err := readContentFromCommit(commitObj)
		if err != nil {
			return err
		}
		parent, err := parentContent(commitObj)
		if err != nil {
			return err
		}
		items = append(items, toCommitInfo(commitObj, parent, content))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Segment is one piece of a text diff.
type Segment struct {
	Op   string `json:"op"`
	Text string `json:"text"`
}

// Diff compares the plain text of two versions.
func (s *Service) Diff(fieldID, fromHash, toHash string) ([]Segment, error) {
	from, err := s.GetValueByHash(fieldID, fromHash)
	if err != nil {
		return nil, err
	}
	to, err := s.GetValueByHash(fieldID, toHash)
	if err != nil {
		return nil, err
	}
	return DiffText(from.PlainText, to.PlainText), nil
}

// DiffText returns a semantic diff of two texts.
func DiffText(before, after string) []Segment {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	out := make([]Segment, 0, len(diffs))
	for _, d := range diffs {
		op := "equal"
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			op = "insert"
		case diffmatchpatch.DiffDelete:
			op = "delete"
		}
		out = append(out, Segment{Op: op, Text: d.Text})
	}
	return out
}

func (s *Service) repoPath(fieldID string) string {
	return filepath.Join(s.baseDir, fieldID)
}

func (s *Service) open(fieldID string) (*git.Repository, error) {
	repo, err := git.PlainOpen(s.repoPath(fieldID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, ErrNoRepo
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func (s *Service) fieldLock(fieldID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[fieldID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[fieldID] = lock
	return lock
}

func (s *Service) commit(repo *git.Repository, content Content, author, message string, allowEmpty bool) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	payload, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal content: %w", err)
	}
	root := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(root, contentFile), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add content: %w", err)
	}

	if author == "" {
		author = "richfield"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: allowEmpty,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.richfield.dev", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit content: %w", err)
	}
	return hash, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branch, err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load commit object: %w", err)
	}
	return commitObj, nil
}

func commitByHash(repo *git.Repository, hash string) (*object.Commit, error) {
	var resolved plumbing.Hash
	if len(hash) == 40 {
		resolved = plumbing.NewHash(hash)
	} else {
		h, err := repo.ResolveRevision(plumbing.Revision(hash))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnknownCommit, hash, err)
		}
		resolved = *h
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownCommit, hash, err)
	}
	return commitObj, nil
}

func parentContent(commitObj *object.Commit) (Content, error) {
	if commitObj.NumParents() == 0 {
		return Content{}, nil
	}
	parent, err := commitObj.Parent(0)
	if err != nil {
		return Content{}, fmt.Errorf("load parent commit: %w", err)
	}
	return readContentFromCommit(parent)
}

func readContentFromCommit(commitObj *object.Commit) (Content, error) {
	file, err := commitObj.File(contentFile)
	if err != nil {
		return Content{}, fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Content{}, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return Content{}, fmt.Errorf("read content bytes: %w", err)
	}
	var content Content
	if err := json.Unmarshal(data, &content); err != nil {
		return Content{}, fmt.Errorf("decode commit content: %w", err)
	}
	return content, nil
}

func toCommitInfo(commitObj *object.Commit, before, after Content) store.CommitInfo {
	info := store.CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
	for _, seg := range DiffText(before.PlainText, after.PlainText) {
		switch seg.Op {
		case "insert":
			info.Added += utf8.RuneCountInString(seg.Text)
		case "delete":
			info.Removed += utf8.RuneCountInString(seg.Text)
		}
	}
	return info
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
