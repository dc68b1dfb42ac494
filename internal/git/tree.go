package git

import (
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

type entryKind int

const (
	kindFile entryKind = iota
	kindDir
	kindSubmodule
)

// walkNode is one entry of a resolved tree. Commit trees and the working tree
// both implement it so the diff walk is written once.
type walkNode interface {
	kind() entryKind
	// hash returns the git blob id of the content. Only valid for files.
	hash() (plumbing.Hash, error)
	// children returns the entries of a directory sorted by name.
	children() ([]namedNode, error)
}

type namedNode struct {
	name string
	node walkNode
}

func sortNodes(nodes []namedNode) {
	slices.SortFunc(nodes, func(a, b namedNode) int { return strings.Compare(a.name, b.name) })
}

type commitNode struct {
	store storer.EncodedObjectStorer
	entry object.TreeEntry
}

func newCommitRoot(store storer.EncodedObjectStorer, tree *object.Tree) *commitNode {
	return &commitNode{store: store, entry: object.TreeEntry{Mode: filemode.Dir, Hash: tree.Hash}}
}

func (n *commitNode) kind() entryKind {
	switch n.entry.Mode {
	case filemode.Dir:
		return kindDir
	case filemode.Submodule:
		return kindSubmodule
	}
	return kindFile
}

func (n *commitNode) hash() (plumbing.Hash, error) { return n.entry.Hash, nil }

func (n *commitNode) children() ([]namedNode, error) {
	tree, err := object.GetTree(n.store, n.entry.Hash)
	if err != nil {
		return nil, fmt.Errorf("load tree %s: %w", n.entry.Hash, err)
	}
	out := make([]namedNode, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		out = append(out, namedNode{name: e.Name, node: &commitNode{store: n.store, entry: e}})
	}
	sortNodes(out)
	return out, nil
}

type worktreeNode struct {
	fs   billy.Filesystem
	path string
	info os.FileInfo
}

func newWorktreeRoot(fs billy.Filesystem) *worktreeNode {
	return &worktreeNode{fs: fs, path: ""}
}

func (n *worktreeNode) kind() entryKind {
	if n.info == nil || n.info.IsDir() {
		return kindDir
	}
	return kindFile
}

func (n *worktreeNode) hash() (plumbing.Hash, error) {
	data, err := n.content()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	return plumbing.ComputeHash(plumbing.BlobObject, data), nil
}

// content returns the file bytes, or the link target for symlinks as git
// stores them.
func (n *worktreeNode) content() ([]byte, error) {
	if n.info != nil && n.info.Mode()&os.ModeSymlink != 0 {
		target, err := n.fs.Readlink(n.path)
		if err != nil {
			return nil, fmt.Errorf("readlink %s: %w", n.path, err)
		}
		return []byte(target), nil
	}
	f, err := n.fs.Open(n.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", n.path, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", n.path, err)
	}
	return data, nil
}

func (n *worktreeNode) children() ([]namedNode, error) {
	dir := n.path
	if dir == "" {
		dir = "/"
	}
	infos, err := n.fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	out := make([]namedNode, 0, len(infos))
	for _, info := range infos {
		mode := info.Mode()
		if !mode.IsRegular() && !mode.IsDir() && mode&os.ModeSymlink == 0 {
			continue
		}
		out = append(out, namedNode{
			name: info.Name(),
			node: &worktreeNode{fs: n.fs, path: path.Join(n.path, info.Name()), info: info},
		})
	}
	sortNodes(out)
	return out, nil
}
