package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/thiagokokada/gitctx/internal/binary"
)

// ReadResult is the classified content of one file. Text is nil whenever the
// file is binary or missing.
type ReadResult struct {
	Binary   bool    `json:"binary"`
	Text     *string `json:"text"`
	NotFound bool    `json:"notFound"`
}

var notFound = ReadResult{NotFound: true}

var errBlobNotFound = errors.New("blob not found")

// blobSource opens file content stored in a commit.
type blobSource interface {
	open(commit *object.Commit, p string) (io.ReadCloser, error)
}

type storeBlobSource struct {
	repo *gitlib.Repository
}

func (b *storeBlobSource) open(commit *object.Commit, p string) (io.ReadCloser, error) {
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("load tree of %s: %w", commit.Hash, err)
	}
	entry, err := tree.FindEntry(p)
	if err != nil || !entry.Mode.IsFile() {
		return nil, errBlobNotFound
	}
	blob, err := b.repo.BlobObject(entry.Hash)
	if err != nil {
		return nil, fmt.Errorf("load blob %s: %w", entry.Hash, err)
	}
	return blob.Reader()
}

// ReadFile returns the classified content of p at ref.
func (s *Session) ReadFile(ctx context.Context, ref, p string) (ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return ReadResult{}, err
	}
	p, ok := cleanRepoPath(p)
	if !ok {
		return notFound, nil
	}
	if ref == WorkdirRef {
		return s.readWorktreeFile(p)
	}
	// Binary extensions are trusted without fetching the blob.
	if binary.ConclusiveByPath(p) {
		return ReadResult{Binary: true}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	commit, err := s.resolveCommitLocked(ref)
	if err != nil {
		return notFound, nil
	}
	key := blobCacheKey(commit.Hash.String(), p)
	if res, ok := s.blobs.get(key); ok {
		return res, nil
	}
	rc, err := s.source.open(commit, p)
	if err != nil {
		if errors.Is(err, errBlobNotFound) {
			return notFound, nil
		}
		return ReadResult{}, err
	}
	defer rc.Close()
	res, err := readClassified(rc, p)
	if err != nil {
		return ReadResult{}, fmt.Errorf("read %s at %s: %w", p, ref, err)
	}
	s.blobs.add(key, res)
	return res, nil
}

func (s *Session) readWorktreeFile(p string) (ReadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := s.worktree.Lstat(p)
	exists := err == nil && !info.IsDir()
	if err != nil && !isNotExist(err) {
		return ReadResult{}, fmt.Errorf("stat %s: %w", p, err)
	}
	if binary.ConclusiveByPath(p) {
		return ReadResult{Binary: exists, NotFound: !exists}, nil
	}
	if !exists {
		return notFound, nil
	}
	// A symlink reads as its target text, the blob git stores for it.
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := s.worktree.Readlink(p)
		if err != nil {
			return ReadResult{}, fmt.Errorf("readlink %s: %w", p, err)
		}
		return readClassified(strings.NewReader(target), p)
	}
	f, err := s.worktree.Open(p)
	if err != nil {
		if isNotExist(err) {
			return notFound, nil
		}
		return ReadResult{}, fmt.Errorf("open %s: %w", p, err)
	}
	defer f.Close()
	res, err := readClassified(f, p)
	if err != nil {
		return ReadResult{}, fmt.Errorf("read %s: %w", p, err)
	}
	return res, nil
}

// isNotExist also treats a file used as a directory ("a.txt/x") as missing.
func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

// readClassified classifies the leading sample of r and only reads the
// remainder when the content is text.
func readClassified(r io.Reader, p string) (ReadResult, error) {
	sample := make([]byte, binary.SampleSize)
	n, err := io.ReadFull(r, sample)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return ReadResult{}, err
	}
	sample = sample[:n]
	if binary.Classify(sample, p) {
		return ReadResult{Binary: true}, nil
	}
	rest, err := io.ReadAll(r)
	if err != nil {
		return ReadResult{}, err
	}
	text := decodeText(append(sample, rest...))
	return ReadResult{Text: &text}, nil
}

// decodeText decodes UTF-8 permissively: a leading BOM is dropped and
// malformed sequences become U+FFFD.
func decodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte{0xef, 0xbb, 0xbf})
	return strings.ToValidUTF8(string(data), "\uFFFD")
}

func cleanRepoPath(p string) (string, bool) {
	p, ok := cleanRelPath(p)
	if !ok || isGitPath(p) {
		return "", false
	}
	return p, true
}
