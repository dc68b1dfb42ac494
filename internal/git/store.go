package git

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/google/uuid"
)

const (
	// WorkdirRef is the pseudo ref naming the working tree as it is on disk.
	WorkdirRef = "__WORKDIR__"

	DefaultCacheSize        = 512
	DefaultProgressInterval = 1000
)

// Options tune a Session. Zero values select the defaults.
type Options struct {
	CacheSize        int
	ProgressInterval int
}

// SnapshotFile is one captured file. For repository data the path is relative
// to the .git directory, for working tree data it is relative to the root.
type SnapshotFile struct {
	Path string `json:"path"`
	Data []byte `json:"data"`
}

// Session is the read-only view over one loaded repository. A new Session is
// created for every load and owns its blob cache.
type Session struct {
	// mu serializes object store access.
	mu sync.Mutex

	id       string
	root     string
	repo     *gitlib.Repository
	worktree billy.Filesystem
	dotgit   billy.Filesystem
	blobs    *blobCache
	source   blobSource

	progressInterval int
}

// Open loads the repository containing repoPath from disk.
func Open(repoPath string, opts Options) (*Session, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}
	repo, err := gitlib.PlainOpenWithOptions(abs, &gitlib.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, gitlib.ErrRepositoryNotExists) {
			return nil, &MissingRepositoryDataError{Reason: fmt.Sprintf("no .git directory found in %s", abs), Err: err}
		}
		return nil, fmt.Errorf("open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		if errors.Is(err, gitlib.ErrIsBareRepository) {
			return nil, &MissingRepositoryDataError{Reason: "bare repository has no working tree", Err: err}
		}
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	storage, ok := repo.Storer.(*filesystem.Storage)
	if !ok {
		return nil, fmt.Errorf("unsupported repository storage %T", repo.Storer)
	}
	return newSession(wt.Filesystem.Root(), repo, wt.Filesystem, storage.Filesystem(), "live", opts)
}

// OpenSnapshot loads a repository from captured files, seeding an in-memory
// filesystem with gitFiles under .git and workFiles at the root. Working tree
// entries under .git are skipped.
func OpenSnapshot(name string, gitFiles, workFiles []SnapshotFile, opts Options) (*Session, error) {
	if len(gitFiles) == 0 {
		return nil, &MissingRepositoryDataError{Reason: "snapshot contains no .git files"}
	}
	fs := memfs.New()
	hasHead := false
	for _, f := range gitFiles {
		rel, ok := cleanRelPath(f.Path)
		if !ok {
			continue
		}
		if rel == "HEAD" {
			hasHead = true
		}
		if err := writeSnapshotFile(fs, path.Join(".git", rel), f.Data); err != nil {
			return nil, err
		}
	}
	if !hasHead {
		return nil, &MissingRepositoryDataError{Reason: "snapshot has no HEAD file"}
	}
	for _, f := range workFiles {
		rel, ok := cleanRelPath(f.Path)
		if !ok || isGitPath(rel) {
			continue
		}
		if err := writeSnapshotFile(fs, rel, f.Data); err != nil {
			return nil, err
		}
	}

	dotgit, err := fs.Chroot(".git")
	if err != nil {
		return nil, fmt.Errorf("chroot .git: %w", err)
	}
	storage := filesystem.NewStorage(dotgit, cache.NewObjectLRUDefault())
	repo, err := gitlib.Open(storage, fs)
	if err != nil {
		if errors.Is(err, gitlib.ErrRepositoryNotExists) {
			return nil, &MissingRepositoryDataError{Reason: "snapshot HEAD is unreadable", Err: err}
		}
		return nil, fmt.Errorf("open snapshot %s: %w", name, err)
	}
	return newSession(name, repo, fs, dotgit, "snapshot", opts)
}

func newSession(root string, repo *gitlib.Repository, worktree, dotgit billy.Filesystem, source string, opts Options) (*Session, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	blobs, err := newBlobCache(opts.CacheSize)
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:               uuid.NewString(),
		root:             root,
		repo:             repo,
		worktree:         worktree,
		dotgit:           dotgit,
		blobs:            blobs,
		source:           &storeBlobSource{repo: repo},
		progressInterval: opts.ProgressInterval,
	}
	slog.Debug("session opened",
		slog.String("session", s.id),
		slog.String("root", root),
		slog.String("source", source),
	)
	return s, nil
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Root() string { return s.root }

// Close drops the blob cache. The session must not be used afterwards.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs.purge()
	slog.Debug("session closed", slog.String("session", s.id))
	return nil
}

func writeSnapshotFile(fs billy.Filesystem, name string, data []byte) error {
	if dir := path.Dir(name); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("seed %s: %w", name, err)
		}
	}
	if err := util.WriteFile(fs, name, data, 0o644); err != nil {
		return fmt.Errorf("seed %s: %w", name, err)
	}
	return nil
}

// cleanRelPath normalizes p to a forward slash relative path, rejecting
// anything that escapes the root.
func cleanRelPath(p string) (string, bool) {
	p = strings.TrimLeft(strings.ReplaceAll(p, "\\", "/"), "/")
	if p == "" {
		return "", false
	}
	p = path.Clean(p)
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return p, true
}

func isGitPath(p string) bool {
	return p == ".git" || strings.HasPrefix(p, ".git/")
}
