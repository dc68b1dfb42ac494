package git

import (
	"context"
	"fmt"
	"log/slog"
	"path"

	"github.com/go-git/go-git/v5/plumbing"
)

type ChangeType string

const (
	ChangeAdd    ChangeType = "add"
	ChangeRemove ChangeType = "remove"
	ChangeModify ChangeType = "modify"
)

// DiffEntry is one changed path. Paths always use forward slashes.
type DiffEntry struct {
	Path string     `json:"path"`
	Type ChangeType `json:"type"`
}

// ProgressFunc receives advisory progress messages.
type ProgressFunc func(message string)

// Diff returns the paths that differ between base and compare. Either ref may
// be WorkdirRef. The result order follows the walk and is not sorted.
func (s *Session) Diff(ctx context.Context, base, compare string, progress ProgressFunc) ([]DiffEntry, error) {
	if progress == nil {
		progress = func(string) {}
	}
	if base == compare {
		return []DiffEntry{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	progress(fmt.Sprintf("Resolving %s and %s…", base, compare))
	baseRoot, err := s.resolveTreeLocked(base)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve base %q: %w", base, err)
	}
	compareRoot, err := s.resolveTreeLocked(compare)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve compare %q: %w", compare, err)
	}

	w := &diffWalker{
		ctx:      ctx,
		ignore:   loadIgnoreRules(s.worktree, s.dotgit),
		progress: progress,
		interval: s.progressInterval,
		changes:  []DiffEntry{},
	}
	if err := w.walkDir("", baseRoot, compareRoot); err != nil {
		return nil, err
	}
	slog.Debug("diff complete",
		slog.String("session", s.id),
		slog.String("base", base),
		slog.String("compare", compare),
		slog.Int("scanned", w.scanned),
		slog.Int("changes", len(w.changes)),
	)
	progress(fmt.Sprintf("Diff complete: %d changed files", len(w.changes)))
	return w.changes, nil
}

// resolveTreeLocked returns the root of the tree ref names: the working tree
// for WorkdirRef, the commit tree otherwise.
func (s *Session) resolveTreeLocked(ref string) (walkNode, error) {
	if ref == WorkdirRef {
		return newWorktreeRoot(s.worktree), nil
	}
	commit, err := s.resolveCommitLocked(ref)
	if err != nil {
		return nil, err
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("load tree of %s: %w", commit.Hash, err)
	}
	return newCommitRoot(s.repo.Storer, tree), nil
}

type diffWalker struct {
	ctx      context.Context
	ignore   *ignoreRules
	progress ProgressFunc
	interval int
	scanned  int
	changes  []DiffEntry
}

// walkDir merges the sorted children of both sides in one pass. Either side
// may be nil when the directory only exists on the other.
func (w *diffWalker) walkDir(dir string, base, compare walkNode) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	baseChildren, err := childrenOf(base)
	if err != nil {
		return err
	}
	compareChildren, err := childrenOf(compare)
	if err != nil {
		return err
	}

	i, j := 0, 0
	for i < len(baseChildren) || j < len(compareChildren) {
		var name string
		var b, c walkNode
		switch {
		case j >= len(compareChildren) || (i < len(baseChildren) && baseChildren[i].name < compareChildren[j].name):
			name, b = baseChildren[i].name, baseChildren[i].node
			i++
		case i >= len(baseChildren) || compareChildren[j].name < baseChildren[i].name:
			name, c = compareChildren[j].name, compareChildren[j].node
			j++
		default:
			name, b, c = baseChildren[i].name, baseChildren[i].node, compareChildren[j].node
			i++
			j++
		}
		if err := w.visit(path.Join(dir, name), name, b, c); err != nil {
			return err
		}
	}
	return nil
}

func (w *diffWalker) visit(p, name string, base, compare walkNode) error {
	w.scanned++
	if w.interval > 0 && w.scanned%w.interval == 0 {
		w.progress(fmt.Sprintf("Scanned %d entries…", w.scanned))
	}
	if name == ".git" {
		return nil
	}
	baseKind, compareKind := kindOf(base), kindOf(compare)
	isDir := baseKind == kindDir || compareKind == kindDir
	if w.ignore.match(p, isDir) {
		return nil
	}
	if isDir || baseKind == kindSubmodule || compareKind == kindSubmodule {
		if baseKind == kindSubmodule || compareKind == kindSubmodule {
			return nil
		}
		return w.walkDir(p, dirOnly(base), dirOnly(compare))
	}

	var baseHash, compareHash plumbing.Hash
	var err error
	if base != nil {
		if baseHash, err = base.hash(); err != nil {
			return err
		}
	}
	if compare != nil {
		if compareHash, err = compare.hash(); err != nil {
			return err
		}
	}
	switch {
	case base != nil && compare != nil && baseHash == compareHash:
		return nil
	case base == nil:
		w.changes = append(w.changes, DiffEntry{Path: p, Type: ChangeAdd})
	case compare == nil:
		w.changes = append(w.changes, DiffEntry{Path: p, Type: ChangeRemove})
	default:
		w.changes = append(w.changes, DiffEntry{Path: p, Type: ChangeModify})
	}
	return nil
}

const kindAbsent entryKind = -1

func kindOf(n walkNode) entryKind {
	if n == nil {
		return kindAbsent
	}
	return n.kind()
}

func dirOnly(n walkNode) walkNode {
	if n != nil && n.kind() == kindDir {
		return n
	}
	return nil
}

func childrenOf(n walkNode) ([]namedNode, error) {
	if n == nil {
		return nil, nil
	}
	return n.children()
}
