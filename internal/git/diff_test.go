package git

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestDiff_IdenticalRefsIsEmpty(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	r.commit("initial", map[string]string{"a.txt": "a\n"})
	r.write(map[string]string{"a.txt": "changed\n"})
	s := r.open(Options{})

	for _, ref := range []string{"main", WorkdirRef, "does-not-exist"} {
		calls := 0
		got, err := s.Diff(context.Background(), ref, ref, func(string) { calls++ })
		if err != nil {
			t.Fatalf("Diff(%q, %q) error = %v", ref, ref, err)
		}
		if len(got) != 0 {
			t.Fatalf("Diff(%q, %q) = %+v, want empty", ref, ref, got)
		}
		if calls != 0 {
			t.Fatalf("Diff(%q, %q) reported progress, want no walk", ref, ref)
		}
	}
}

func TestDiff_MainAgainstWorkdir(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	r.commit("initial", map[string]string{
		".gitignore":    "build/\n*.log\n",
		"src/keep.go":   "package src\n",
		"src/change.go": "package src\n",
		"docs/guide.md": "# guide\n",
	})
	r.write(map[string]string{
		"src/change.go":  "package src\n\nfunc Changed() {}\n",
		"notes/new.txt":  "untracked\n",
		"build/out.txt":  "ignored output\n",
		"debug.log":      "ignored log\n",
		"docs/guide.md":  "# guide\n",
		"src/nested/x.o": "",
	})
	r.write(map[string]string{".git/info/exclude": "src/nested/\n"})
	s := r.open(Options{})

	got, err := s.Diff(context.Background(), "main", WorkdirRef, nil)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	want := []DiffEntry{
		{Path: "notes/new.txt", Type: ChangeAdd},
		{Path: "src/change.go", Type: ChangeModify},
	}
	if got := sortedEntries(got); !slices.Equal(got, want) {
		t.Fatalf("Diff() = %+v, want %+v", got, want)
	}
}

func TestDiff_BetweenCommitsAndSymmetry(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	base := r.commit("base", map[string]string{
		"keep.txt":       "same\n",
		"edit.txt":       "v1\n",
		"gone/old.txt":   "old\n",
		"deep/a/b/c.txt": "c\n",
	})
	r.branch("base", base)
	r.commit("next", map[string]string{
		"edit.txt":       "v2\n",
		"added/new.txt":  "new\n",
		"deep/a/b/d.txt": "d\n",
	}, "gone/old.txt")
	s := r.open(Options{})

	forward, err := s.Diff(context.Background(), "base", "main", nil)
	if err != nil {
		t.Fatalf("Diff(base, main) error = %v", err)
	}
	wantForward := []DiffEntry{
		{Path: "added/new.txt", Type: ChangeAdd},
		{Path: "deep/a/b/d.txt", Type: ChangeAdd},
		{Path: "edit.txt", Type: ChangeModify},
		{Path: "gone/old.txt", Type: ChangeRemove},
	}
	if got := sortedEntries(forward); !slices.Equal(got, wantForward) {
		t.Fatalf("Diff(base, main) = %+v, want %+v", got, wantForward)
	}

	backward, err := s.Diff(context.Background(), "main", "base", nil)
	if err != nil {
		t.Fatalf("Diff(main, base) error = %v", err)
	}
	if got, want := sortedEntries(backward), invert(wantForward); !slices.Equal(got, want) {
		t.Fatalf("Diff(main, base) = %+v, want %+v", got, want)
	}
}

func TestDiff_DirectorySidesEmitOnlyFiles(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	before := r.commit("initial", map[string]string{"thing": "was a file\n"})
	r.branch("before", before)
	r.commit("replace", map[string]string{"thing/inner.txt": "now a dir\n"}, "thing")
	s := r.open(Options{})

	got, err := s.Diff(context.Background(), "before", "main", nil)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	want := []DiffEntry{{Path: "thing/inner.txt", Type: ChangeAdd}}
	if !slices.Equal(sortedEntries(got), want) {
		t.Fatalf("Diff() = %+v, want %+v", got, want)
	}
}

func TestDiff_UnresolvableRefs(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	r.commit("initial", map[string]string{"a.txt": "a\n"})
	s := r.open(Options{})

	tests := []struct {
		base, compare string
		wantMsg       string
	}{
		{base: "missing", compare: "main", wantMsg: `cannot resolve base "missing"`},
		{base: "main", compare: "nope", wantMsg: `cannot resolve compare "nope"`},
	}
	for _, tt := range tests {
		_, err := s.Diff(context.Background(), tt.base, tt.compare, nil)
		if err == nil {
			t.Fatalf("Diff(%q, %q) error = nil, want error", tt.base, tt.compare)
		}
		if !strings.Contains(err.Error(), tt.wantMsg) {
			t.Fatalf("Diff() error = %q, want it to contain %q", err, tt.wantMsg)
		}
		var refErr *RefNotFoundError
		if !errors.As(err, &refErr) {
			t.Fatalf("Diff() error = %v, want RefNotFoundError", err)
		}
	}
}

func TestDiff_ReportsProgress(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	files := map[string]string{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		files["dir/"+name+".txt"] = name
	}
	r.commit("initial", files)
	s := r.open(Options{ProgressInterval: 2})

	var messages []string
	if _, err := s.Diff(context.Background(), "main", WorkdirRef, func(msg string) {
		messages = append(messages, msg)
	}); err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	scanned := 0
	for _, msg := range messages {
		if strings.HasPrefix(msg, "Scanned ") {
			scanned++
		}
	}
	if scanned < 3 {
		t.Fatalf("progress messages = %#v, want at least 3 scan updates", messages)
	}
	if last := messages[len(messages)-1]; !strings.HasPrefix(last, "Diff complete") {
		t.Fatalf("last progress = %q, want completion message", last)
	}
}

func TestDiff_CanceledContext(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	r.commit("initial", map[string]string{"a.txt": "a\n"})
	s := r.open(Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Diff(ctx, "main", WorkdirRef, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Diff() error = %v, want context.Canceled", err)
	}
}

var propertyPaths = []string{"a.txt", "b.go", "dir/c.md", "dir/sub/d.txt", "other/e.json"}

func TestDiff_SymmetryProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		drawState := func(label string) map[string]string {
			state := map[string]string{}
			for _, p := range propertyPaths {
				if rapid.Bool().Draw(t, label+" has "+p) {
					state[p] = rapid.SampledFrom([]string{"x\n", "y\n", "z\n"}).Draw(t, label+" content "+p)
				}
			}
			return state
		}
		stateA, stateB := drawState("a"), drawState("b")

		m := newMemoryRepo(t)
		hashA := m.commitState(t, stateA).String()
		hashB := m.commitState(t, stateB).String()
		s := m.session(t)

		forward, err := s.Diff(context.Background(), hashA, hashB, nil)
		if err != nil {
			t.Fatalf("Diff(a, b) error = %v", err)
		}
		backward, err := s.Diff(context.Background(), hashB, hashA, nil)
		if err != nil {
			t.Fatalf("Diff(b, a) error = %v", err)
		}
		if got, want := sortedEntries(backward), invert(sortedEntries(forward)); !slices.Equal(got, want) {
			t.Fatalf("Diff(b, a) = %+v, want inverse of %+v", got, forward)
		}

		var want []DiffEntry
		for _, p := range propertyPaths {
			a, inA := stateA[p]
			b, inB := stateB[p]
			switch {
			case inA && inB && a != b:
				want = append(want, DiffEntry{Path: p, Type: ChangeModify})
			case !inA && inB:
				want = append(want, DiffEntry{Path: p, Type: ChangeAdd})
			case inA && !inB:
				want = append(want, DiffEntry{Path: p, Type: ChangeRemove})
			}
		}
		if got := sortedEntries(forward); !slices.Equal(got, sortedEntries(want)) {
			t.Fatalf("Diff(a, b) = %+v, want %+v", got, want)
		}
	})
}

func invert(entries []DiffEntry) []DiffEntry {
	out := make([]DiffEntry, 0, len(entries))
	for _, e := range entries {
		switch e.Type {
		case ChangeAdd:
			e.Type = ChangeRemove
		case ChangeRemove:
			e.Type = ChangeAdd
		}
		out = append(out, e)
	}
	return out
}
