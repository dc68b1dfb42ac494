package git

import (
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
)

type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

var testSignature = object.Signature{
	Name:  "Test",
	Email: "test@example.com",
	When:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
}

// testRepo is a repository on disk with HEAD pointing at main.
type testRepo struct {
	t    *testing.T
	dir  string
	repo *gitlib.Repository
	wt   *gitlib.Worktree
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := t.TempDir()
	repo, err := gitlib.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("PlainInit() error = %v", err)
	}
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))
	if err := repo.Storer.SetReference(head); err != nil {
		t.Fatalf("SetReference(HEAD) error = %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree() error = %v", err)
	}
	return &testRepo{t: t, dir: dir, repo: repo, wt: wt}
}

// write creates or replaces files in the working tree without staging them.
func (r *testRepo) write(files map[string]string) {
	r.t.Helper()
	for name, content := range files {
		full := filepath.Join(r.dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			r.t.Fatalf("MkdirAll(%s) error = %v", name, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			r.t.Fatalf("WriteFile(%s) error = %v", name, err)
		}
	}
}

func (r *testRepo) commit(msg string, files map[string]string, removed ...string) plumbing.Hash {
	r.t.Helper()
	for _, name := range removed {
		if _, err := r.wt.Remove(name); err != nil {
			r.t.Fatalf("Remove(%s) error = %v", name, err)
		}
	}
	r.write(files)
	for name := range files {
		if _, err := r.wt.Add(name); err != nil {
			r.t.Fatalf("Add(%s) error = %v", name, err)
		}
	}
	sig := testSignature
	hash, err := r.wt.Commit(msg, &gitlib.CommitOptions{Author: &sig, AllowEmptyCommits: true})
	if err != nil {
		r.t.Fatalf("Commit(%q) error = %v", msg, err)
	}
	return hash
}

func (r *testRepo) branch(name string, hash plumbing.Hash) {
	r.t.Helper()
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), hash)
	if err := r.repo.Storer.SetReference(ref); err != nil {
		r.t.Fatalf("SetReference(%s) error = %v", name, err)
	}
}

func (r *testRepo) open(opts Options) *Session {
	r.t.Helper()
	s, err := Open(r.dir, opts)
	if err != nil {
		r.t.Fatalf("Open() error = %v", err)
	}
	r.t.Cleanup(func() { _ = s.Close() })
	return s
}

// snapshotFiles captures the repository the way a caller without direct disk
// access would: .git contents relative to .git and the rest relative to root.
func (r *testRepo) snapshotFiles() (gitFiles, workFiles []SnapshotFile) {
	r.t.Helper()
	err := filepath.Walk(r.dir, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(r.dir, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if gitRel, ok := strings.CutPrefix(rel, ".git/"); ok {
			gitFiles = append(gitFiles, SnapshotFile{Path: gitRel, Data: data})
			return nil
		}
		workFiles = append(workFiles, SnapshotFile{Path: rel, Data: data})
		return nil
	})
	if err != nil {
		r.t.Fatalf("walk %s: %v", r.dir, err)
	}
	return gitFiles, workFiles
}

// memoryRepo is an in-memory repository used where a disk fixture per case
// would be too slow.
type memoryRepo struct {
	repo *gitlib.Repository
	fs   billy.Filesystem
	wt   *gitlib.Worktree
}

func newMemoryRepo(t fataler) *memoryRepo {
	t.Helper()
	fs := memfs.New()
	repo, err := gitlib.Init(memory.NewStorage(), fs)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Worktree() error = %v", err)
	}
	return &memoryRepo{repo: repo, fs: fs, wt: wt}
}

// commitState makes the working tree match files exactly and commits it.
func (m *memoryRepo) commitState(t fataler, files map[string]string) plumbing.Hash {
	t.Helper()
	existing, err := m.listFiles()
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	for _, name := range existing {
		if _, ok := files[name]; ok {
			continue
		}
		if _, err := m.wt.Remove(name); err != nil {
			t.Fatalf("Remove(%s) error = %v", name, err)
		}
	}
	for name, content := range files {
		if err := util.WriteFile(m.fs, name, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile(%s) error = %v", name, err)
		}
		if _, err := m.wt.Add(name); err != nil {
			t.Fatalf("Add(%s) error = %v", name, err)
		}
	}
	sig := testSignature
	hash, err := m.wt.Commit("state", &gitlib.CommitOptions{Author: &sig, AllowEmptyCommits: true})
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	return hash
}

func (m *memoryRepo) listFiles() ([]string, error) {
	var out []string
	err := util.Walk(m.fs, "/", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		out = append(out, strings.TrimPrefix(filepath.ToSlash(p), "/"))
		return nil
	})
	return out, err
}

func (m *memoryRepo) session(t fataler) *Session {
	t.Helper()
	s, err := newSession("memory", m.repo, m.fs, nil, "memory", Options{})
	if err != nil {
		t.Fatalf("newSession() error = %v", err)
	}
	return s
}

// countingSource counts blob opens and delegates to the wrapped source.
type countingSource struct {
	inner blobSource
	calls int
}

func (c *countingSource) open(commit *object.Commit, p string) (io.ReadCloser, error) {
	c.calls++
	return c.inner.open(commit, p)
}

func sortedEntries(entries []DiffEntry) []DiffEntry {
	out := slices.Clone(entries)
	slices.SortFunc(out, func(a, b DiffEntry) int { return strings.Compare(a.Path, b.Path) })
	return out
}
