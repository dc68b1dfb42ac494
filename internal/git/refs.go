package git

import (
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ResolveRef returns the commit id ref points to. The working tree pseudo ref
// has no commit and always fails.
func (s *Session) ResolveRef(ref string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	commit, err := s.resolveCommitLocked(ref)
	if err != nil {
		return "", err
	}
	return commit.Hash.String(), nil
}

func (s *Session) resolveCommitLocked(ref string) (*object.Commit, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == WorkdirRef {
		return nil, &RefNotFoundError{Ref: ref}
	}
	hash, err := s.repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return nil, &RefNotFoundError{Ref: ref, Err: err}
	}
	commit, err := s.repo.CommitObject(*hash)
	if err != nil {
		return nil, &RefNotFoundError{Ref: ref, Err: fmt.Errorf("load commit %s: %w", hash, err)}
	}
	return commit, nil
}
