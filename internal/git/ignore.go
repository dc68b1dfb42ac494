package git

import (
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// ignoreRules matches paths against the root .gitignore and the repository
// exclude file. Either may be missing.
type ignoreRules struct {
	matcher gitignore.Matcher
	count   int
}

func loadIgnoreRules(worktree, dotgit billy.Filesystem) *ignoreRules {
	var patterns []gitignore.Pattern
	if worktree != nil {
		patterns = append(patterns, readIgnoreFile(worktree, ".gitignore")...)
	}
	if dotgit != nil {
		patterns = append(patterns, readIgnoreFile(dotgit, "info/exclude")...)
	}
	return newIgnoreRules(patterns)
}

func newIgnoreRules(patterns []gitignore.Pattern) *ignoreRules {
	return &ignoreRules{matcher: gitignore.NewMatcher(patterns), count: len(patterns)}
}

func readIgnoreFile(fs billy.Filesystem, name string) []gitignore.Pattern {
	data, err := util.ReadFile(fs, name)
	if err != nil {
		return nil
	}
	return parseIgnorePatterns(string(data))
}

func parseIgnorePatterns(text string) []gitignore.Pattern {
	var patterns []gitignore.Pattern
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return patterns
}

// match reports whether the slash separated path p is ignored. Directory
// patterns ("build/") only match when isDir is set.
func (r *ignoreRules) match(p string, isDir bool) bool {
	if r == nil || r.count == 0 || p == "" {
		return false
	}
	return r.matcher.Match(strings.Split(p, "/"), isDir)
}
