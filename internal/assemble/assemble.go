// Package assemble renders the diff between two refs, plus selected file
// contents, as one markdown document meant to be pasted as model context.
package assemble

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/thiagokokada/gitctx/internal/binary"
	"github.com/thiagokokada/gitctx/internal/git"
	"github.com/xlab/treeprint"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultContext = 3
	// FullContext renders whole files inside a diff.
	FullContext = math.MaxInt32

	readBatch = 10
)

// StatusUnchanged marks a selected path that is not part of the diff.
const StatusUnchanged git.ChangeType = "unchanged"

// Source is the part of a worker client the assembler needs.
type Source interface {
	ResolveRef(ctx context.Context, ref string) (string, error)
	Diff(ctx context.Context, base, compare string, progress func(string)) ([]git.DiffEntry, error)
	ReadFile(ctx context.Context, ref, path string) (git.ReadResult, error)
}

type Options struct {
	Base    string
	Compare string
	// Paths selects the files to include. Empty selects every changed path.
	Paths        []string
	Instructions string
	FileTree     bool
	// IncludeBinary lists binary files by header instead of dropping them.
	IncludeBinary bool
	// Context is the number of unified diff context lines. Zero means
	// DefaultContext, negative means none.
	Context  int
	Progress func(string)
}

// Document is an assembled context document.
type Document struct {
	Text  string
	Files int
	Bytes int
	Lines int
}

type fileRead struct {
	path    string
	status  git.ChangeType
	base    *git.ReadResult
	compare *git.ReadResult
}

func Build(ctx context.Context, src Source, opts Options) (Document, error) {
	if opts.Base == "" || opts.Compare == "" {
		return Document{}, fmt.Errorf("assemble requires base and compare")
	}
	switch {
	case opts.Context == 0:
		opts.Context = DefaultContext
	case opts.Context < 0:
		opts.Context = 0
	}

	changes, err := src.Diff(ctx, opts.Base, opts.Compare, opts.Progress)
	if err != nil {
		return Document{}, err
	}
	status := make(map[string]git.ChangeType, len(changes))
	for _, ch := range changes {
		status[ch.Path] = ch.Type
	}
	paths := selectPaths(opts.Paths, changes)

	baseLabel, err := refLabel(ctx, src, opts.Base)
	if err != nil {
		return Document{}, err
	}
	compareLabel, err := refLabel(ctx, src, opts.Compare)
	if err != nil {
		return Document{}, err
	}

	reads, err := readAll(ctx, src, opts, paths, status)
	if err != nil {
		return Document{}, err
	}

	var sections []string
	if s := strings.TrimSpace(opts.Instructions); s != "" {
		sections = append(sections, "## User Instructions\n\n"+opts.Instructions+"\n\n")
	}
	sections = append(sections, strings.Join([]string{
		"## Git Context",
		fmt.Sprintf("- Base: %s (commit: %s)", opts.Base, baseLabel),
		fmt.Sprintf("- Compare: %s (commit: %s)", opts.Compare, compareLabel),
		"",
	}, "\n"))
	if opts.FileTree && len(paths) > 0 {
		sections = append(sections, "## File Tree\n\n```\n"+fileTree(paths, status)+"```\n\n")
	}
	files := 0
	for _, r := range reads {
		section, ok := fileSection(r, opts)
		if !ok {
			continue
		}
		files++
		sections = append(sections, section)
	}

	text := strings.Join(sections, "\n")
	slog.Debug("context assembled",
		slog.String("base", opts.Base),
		slog.String("compare", opts.Compare),
		slog.Int("files", files),
		slog.Int("bytes", len(text)),
	)
	return Document{
		Text:  text,
		Files: files,
		Bytes: len(text),
		Lines: strings.Count(text, "\n"),
	}, nil
}

func selectPaths(selected []string, changes []git.DiffEntry) []string {
	var paths []string
	if len(selected) > 0 {
		paths = slices.Clone(selected)
	} else {
		for _, ch := range changes {
			paths = append(paths, ch.Path)
		}
	}
	slices.Sort(paths)
	return slices.Compact(paths)
}

func refLabel(ctx context.Context, src Source, ref string) (string, error) {
	if ref == git.WorkdirRef {
		return "WORKDIR", nil
	}
	oid, err := src.ResolveRef(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", ref, err)
	}
	if len(oid) > 7 {
		oid = oid[:7]
	}
	return oid, nil
}

// readAll fetches both sides of every path, at most readBatch at a time.
func readAll(ctx context.Context, src Source, opts Options, paths []string, status map[string]git.ChangeType) ([]fileRead, error) {
	reads := make([]fileRead, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readBatch)
	for i, p := range paths {
		i, p := i, p
		st, ok := status[p]
		if !ok {
			st = StatusUnchanged
		}
		reads[i] = fileRead{path: p, status: st}
		if !opts.IncludeBinary && binary.IsBinaryPath(p) {
			continue
		}
		g.Go(func() error {
			if st != git.ChangeAdd {
				res, err := src.ReadFile(gctx, opts.Base, p)
				if err != nil {
					return fmt.Errorf("read %s at %s: %w", p, opts.Base, err)
				}
				reads[i].base = &res
			}
			if st != git.ChangeRemove && st != StatusUnchanged {
				res, err := src.ReadFile(gctx, opts.Compare, p)
				if err != nil {
					return fmt.Errorf("read %s at %s: %w", p, opts.Compare, err)
				}
				reads[i].compare = &res
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reads, nil
}

func fileSection(r fileRead, opts Options) (string, bool) {
	header := fmt.Sprintf("## FILE: %s (%s)\n\n", r.path, strings.ToUpper(string(r.status)))
	if isBinary(r) {
		if !opts.IncludeBinary {
			return "", false
		}
		return header + "_Binary file omitted._\n\n", true
	}

	switch r.status {
	case git.ChangeAdd:
		return header + fence(languageFor(r.path), textOf(r.compare)), true
	case git.ChangeModify, git.ChangeRemove:
		var oldText, newText string
		if r.status == git.ChangeModify {
			oldText, newText = textOf(r.base), textOf(r.compare)
		} else {
			oldText = textOf(r.base)
		}
		diff, err := unifiedDiff(r.path, oldText, newText, opts.Context)
		if err != nil {
			slog.Error("unified diff", slog.String("path", r.path), slog.Any("error", err))
			return header + "_No textual content available._\n\n", true
		}
		if diff == "" {
			return header + "_No textual changes._\n\n", true
		}
		return header + "```diff\n" + diff + "```\n\n", true
	default:
		if r.base == nil || r.base.NotFound {
			return header + "_No textual content available._\n\n", true
		}
		return header + fence(languageFor(r.path), textOf(r.base)), true
	}
}

func isBinary(r fileRead) bool {
	if binary.IsBinaryPath(r.path) {
		return true
	}
	return (r.base != nil && r.base.Binary) || (r.compare != nil && r.compare.Binary)
}

func textOf(res *git.ReadResult) string {
	if res == nil || res.Binary || res.NotFound || res.Text == nil {
		return ""
	}
	return strings.ReplaceAll(*res.Text, "\r\n", "\n")
}

func fence(lang, text string) string {
	text = strings.TrimSuffix(text, "\n")
	return "```" + lang + "\n" + text + "\n```\n\n"
}

// unifiedDiff returns a git style unified diff ending in a newline, or "" when
// the texts are equal.
func unifiedDiff(path, oldText, newText string, contextLines int) (string, error) {
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(oldText),
		B:        splitLines(newText),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  contextLines,
	})
	if err != nil {
		return "", err
	}
	if diff != "" && !strings.HasSuffix(diff, "\n") {
		diff += "\n"
	}
	return diff, nil
}

// splitLines splits s after each newline. Unlike difflib.SplitLines it does
// not add an empty trailing line to text that already ends in a newline.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if last := len(lines) - 1; lines[last] == "" {
		lines = lines[:last]
	} else {
		lines[last] += "\n"
	}
	return lines
}

// languageFor returns the code fence language for path, or "" when no lexer
// claims it.
func languageFor(path string) string {
	lexer := lexers.Match(path)
	if lexer == nil {
		return ""
	}
	cfg := lexer.Config()
	if len(cfg.Aliases) > 0 {
		return cfg.Aliases[0]
	}
	return strings.ToLower(cfg.Name)
}

func fileTree(paths []string, status map[string]git.ChangeType) string {
	tree := treeprint.New()
	branches := map[string]treeprint.Tree{}
	var branchFor func(dir string) treeprint.Tree
	branchFor = func(dir string) treeprint.Tree {
		if dir == "" {
			return tree
		}
		if b, ok := branches[dir]; ok {
			return b
		}
		parent, name := "", dir
		if i := strings.LastIndex(dir, "/"); i >= 0 {
			parent, name = dir[:i], dir[i+1:]
		}
		b := branchFor(parent).AddBranch(name)
		branches[dir] = b
		return b
	}
	for _, p := range paths {
		dir, name := "", p
		if i := strings.LastIndex(p, "/"); i >= 0 {
			dir, name = p[:i], p[i+1:]
		}
		if st, ok := status[p]; ok {
			branchFor(dir).AddMetaNode(string(st), name)
		} else {
			branchFor(dir).AddNode(name)
		}
	}
	return tree.String()
}
