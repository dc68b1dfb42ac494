package git

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

const headsPrefix = "refs/heads/"

// Branches is the branch listing handed to callers. Names always start with
// WorkdirRef.
type Branches struct {
	Names         []string `json:"branches"`
	DefaultBranch string   `json:"defaultBranch"`
	// Current is the branch HEAD points to, empty when detached.
	Current string `json:"current,omitempty"`
}

// branchStore is what the discovery strategies may look at.
type branchStore struct {
	repo   *gitlib.Repository
	dotgit billy.Filesystem
}

type branchStrategy struct {
	name string
	list func(branchStore) ([]string, error)
}

// branchStrategies are tried in order; the first non-empty result wins.
var branchStrategies = []branchStrategy{
	{name: "library", list: libraryBranches},
	{name: "ref files", list: refFileBranches},
}

// ListBranches enumerates local branches. Enumeration failures degrade to an
// empty list rather than an error.
func (s *Session) ListBranches() (Branches, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	store := branchStore{repo: s.repo, dotgit: s.dotgit}
	names := discoverBranches(store, branchStrategies)
	current, _ := readHead(s.dotgit)
	return Branches{
		Names:         append([]string{WorkdirRef}, names...),
		DefaultBranch: defaultBranch(names),
		Current:       current,
	}, nil
}

func discoverBranches(store branchStore, strategies []branchStrategy) []string {
	for _, strategy := range strategies {
		names, err := strategy.list(store)
		if err != nil {
			slog.Debug("branch strategy failed",
				slog.String("strategy", strategy.name),
				slog.Any("error", err),
			)
			continue
		}
		names = uniqueSorted(names)
		if len(names) > 0 {
			slog.Debug("branches discovered",
				slog.String("strategy", strategy.name),
				slog.Int("count", len(names)),
			)
			return names
		}
	}
	return nil
}

func libraryBranches(store branchStore) ([]string, error) {
	if store.repo == nil {
		return nil, nil
	}
	iter, err := store.repo.Branches()
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Name().IsBranch() {
			names = append(names, ref.Name().Short())
		}
		return nil
	})
	return names, err
}

// refFileBranches scans loose refs under refs/heads and merges them with the
// branches recorded in packed-refs.
func refFileBranches(store branchStore) ([]string, error) {
	if store.dotgit == nil {
		return nil, nil
	}
	var names []string
	err := util.Walk(store.dotgit, "refs/heads", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		names = append(names, strings.TrimPrefix(path.Clean(filepath.ToSlash(p)), headsPrefix))
		return nil
	})
	if err != nil {
		return nil, err
	}

	f, err := store.dotgit.Open("packed-refs")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return names, nil
		}
		return nil, err
	}
	defer f.Close()
	packed, err := parsePackedRefs(f)
	if err != nil {
		return nil, err
	}
	return append(names, packed...), nil
}

// parsePackedRefs returns the branch names listed in a packed-refs file.
// Comment lines and peeled tag annotations are skipped.
func parsePackedRefs(r io.Reader) ([]string, error) {
	var names []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "^") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 || !strings.HasPrefix(parts[1], headsPrefix) {
			continue
		}
		if name := strings.TrimPrefix(parts[1], headsPrefix); name != "" {
			names = append(names, name)
		}
	}
	return names, scanner.Err()
}

// parseHead interprets the HEAD file. A symbolic HEAD yields the branch name,
// a detached HEAD yields the object id.
func parseHead(data []byte) (branch, oid string) {
	text := strings.TrimSpace(string(data))
	if target, ok := strings.CutPrefix(text, "ref:"); ok {
		target = strings.TrimSpace(target)
		return strings.TrimPrefix(target, headsPrefix), ""
	}
	if plumbing.IsHash(text) {
		return "", text
	}
	return "", ""
}

func readHead(dotgit billy.Filesystem) (branch, oid string) {
	if dotgit == nil {
		return "", ""
	}
	data, err := util.ReadFile(dotgit, "HEAD")
	if err != nil {
		return "", ""
	}
	return parseHead(data)
}

func defaultBranch(names []string) string {
	switch {
	case slices.Contains(names, "main"):
		return "main"
	case slices.Contains(names, "master"):
		return "master"
	case len(names) > 0:
		return names[0]
	}
	return WorkdirRef
}

func uniqueSorted(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name != "" {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
