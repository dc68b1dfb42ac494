package git

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strings"
)

// Snapshot captures every regular, non-ignored working tree file.
func (s *Session) Snapshot(ctx context.Context) (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.worktreeFilesLocked(ctx)
	if err != nil {
		return nil, err
	}
	snap := make(map[string][]byte, len(files))
	for _, n := range files {
		data, err := n.content()
		if err != nil {
			return nil, err
		}
		snap[n.path] = data
	}
	return snap, nil
}

// worktreeFilesLocked lists regular working tree files in path order,
// skipping .git and ignored entries. Ignored directories are not entered.
// Symlinks are left out of listings and snapshots but still show up in Diff,
// hashed by target, and ReadFile returns their target text.
func (s *Session) worktreeFilesLocked(ctx context.Context) ([]*worktreeNode, error) {
	ignore := loadIgnoreRules(s.worktree, s.dotgit)
	var files []*worktreeNode
	var walk func(dir *worktreeNode) error
	walk = func(dir *worktreeNode) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		children, err := dir.children()
		if err != nil {
			return err
		}
		for _, child := range children {
			n := child.node.(*worktreeNode)
			if child.name == ".git" {
				continue
			}
			isDir := n.info.IsDir()
			if ignore.match(n.path, isDir) {
				continue
			}
			if isDir {
				if err := walk(n); err != nil {
					return err
				}
				continue
			}
			if n.info.Mode()&os.ModeType == 0 {
				files = append(files, n)
			}
		}
		return nil
	}
	if err := walk(newWorktreeRoot(s.worktree)); err != nil {
		return nil, err
	}
	slices.SortFunc(files, func(a, b *worktreeNode) int { return strings.Compare(a.path, b.path) })
	return files, nil
}

// ListFiles returns the file paths present at ref, sorted. For WorkdirRef the
// working tree is listed with ignore rules applied.
func (s *Session) ListFiles(ctx context.Context, ref string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ref == WorkdirRef {
		files, err := s.worktreeFilesLocked(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(files))
		for _, n := range files {
			out = append(out, n.path)
		}
		return out, nil
	}

	commit, err := s.resolveCommitLocked(ref)
	if err != nil {
		return nil, err
	}
	iter, err := commit.Files()
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := []string{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := iter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list files of %s: %w", ref, err)
		}
		out = append(out, path.Clean(f.Name))
	}
	slices.Sort(out)
	return out, nil
}
