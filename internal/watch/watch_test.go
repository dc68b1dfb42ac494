package watch

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

type reloadFunc func() error

func (f reloadFunc) Reload() error { return f() }

func newGitDir(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".git", "refs", "heads"), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	return root
}

func TestWatchPaths(t *testing.T) {
	t.Parallel()

	root := newGitDir(t)
	want := []string{filepath.Join(root, ".git"), filepath.Join(root, ".git", "refs", "heads")}
	if got := watchPaths(root); !slices.Equal(got, want) {
		t.Fatalf("watchPaths() = %v, want %v", got, want)
	}

	plain := t.TempDir()
	if got := watchPaths(plain); !slices.Equal(got, []string{plain}) {
		t.Fatalf("watchPaths(no .git) = %v, want %v", got, []string{plain})
	}
	if got := watchPaths(""); got != nil {
		t.Fatalf("watchPaths(\"\") = %v, want nil", got)
	}
}

func TestShouldIgnore(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"/repo/.git/index.lock":      true,
		"/repo/.git/HEAD.LOCK":       true,
		"/repo/.git/gc.ipc":          true,
		"/repo/.git/HEAD":            false,
		"/repo/.git/refs/heads/main": false,
	}
	for name, want := range tests {
		if got := shouldIgnore(name); got != want {
			t.Errorf("shouldIgnore(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestWatcherReloadsOnRefChange(t *testing.T) {
	root := newGitDir(t)
	reloads := make(chan struct{}, 10)
	w := New(root, reloadFunc(func() error {
		reloads <- struct{}{}
		return nil
	}), 20*time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(w.Stop)

	// Lock files alone never trigger a reload.
	if err := os.WriteFile(filepath.Join(root, ".git", "index.lock"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	select {
	case <-reloads:
		t.Fatal("reload triggered by lock file")
	case <-time.After(100 * time.Millisecond):
	}

	for _, name := range []string{"HEAD", "refs/heads/main"} {
		if err := os.WriteFile(filepath.Join(root, ".git", filepath.FromSlash(name)), []byte("x\n"), 0o644); err != nil {
			t.Fatalf("WriteFile(%s) error = %v", name, err)
		}
	}
	select {
	case <-reloads:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not reload")
	}
}

func TestWatcherStopCancelsPendingReload(t *testing.T) {
	root := newGitDir(t)
	reloads := make(chan struct{}, 10)
	w := New(root, reloadFunc(func() error {
		reloads <- struct{}{}
		return nil
	}), 200*time.Millisecond)
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("x\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	w.Stop()
	w.Stop()

	select {
	case <-reloads:
		t.Fatal("reload ran after Stop")
	case <-time.After(400 * time.Millisecond):
	}
}
