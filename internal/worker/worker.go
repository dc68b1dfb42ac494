package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/thiagokokada/gitctx/internal/git"
	"github.com/thiagokokada/gitctx/internal/metrics"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxInFlight = 10

	// maxRequestSize bounds one request line; snapshots carry whole files.
	maxRequestSize = 512 << 20
)

type Options struct {
	// MaxInFlight bounds the requests served concurrently by Serve.
	MaxInFlight int
	Session     git.Options
}

// Worker owns at most one repository session. Loading a repository replaces
// the previous session entirely.
type Worker struct {
	opts Options

	mu      sync.Mutex
	session *git.Session
	// livePath is set when the session was opened from disk, for Reload.
	livePath string
	notify   func(Response)
}

func New(opts Options) *Worker {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = DefaultMaxInFlight
	}
	return &Worker{opts: opts}
}

// Serve reads JSON lines requests from r and writes responses to w until r is
// exhausted. Requests are served concurrently and answered by id.
func (w *Worker) Serve(ctx context.Context, r io.Reader, out io.Writer) error {
	var writeMu sync.Mutex
	enc := json.NewEncoder(out)
	send := func(resp Response) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := enc.Encode(resp); err != nil {
			slog.Error("write response", slog.Int64("id", resp.ID), slog.Any("error", err))
		}
	}
	w.mu.Lock()
	w.notify = send
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.notify = nil
		w.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.MaxInFlight)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			send(Response{ID: NotificationID, Type: ResponseError, Error: fmt.Sprintf("malformed request: %v", err)})
			continue
		}
		g.Go(func() error {
			send(w.Handle(gctx, req, send))
			return nil
		})
	}
	scanErr := scanner.Err()
	if err := g.Wait(); err != nil {
		return err
	}
	if scanErr != nil {
		return fmt.Errorf("read requests: %w", scanErr)
	}
	return nil
}

// Handle serves one request and returns its terminal response. Progress
// messages are passed to emit as they happen. Failures, including panics, are
// reported as error responses.
func (w *Worker) Handle(ctx context.Context, req Request, emit func(Response)) (resp Response) {
	start := time.Now()
	progress := func(msg string) {
		if emit != nil {
			emit(Response{ID: req.ID, Type: ResponseProgress, Message: msg})
		}
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicRecovered(string(req.Type))
			slog.Error("request panicked",
				slog.Int64("id", req.ID),
				slog.String("type", string(req.Type)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			resp = errorResponse(req.ID, fmt.Errorf("internal error: %v", r))
		}
		metrics.ObserveRequest(string(req.Type), string(resp.Type), time.Since(start))
		slog.Debug("request done",
			slog.Int64("id", req.ID),
			slog.String("type", string(req.Type)),
			slog.String("status", string(resp.Type)),
			slog.Duration("elapsed", time.Since(start)),
		)
	}()

	data, err := w.dispatch(ctx, req, progress)
	if err != nil {
		return errorResponse(req.ID, err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return errorResponse(req.ID, fmt.Errorf("encode %s response: %w", req.Type, err))
	}
	return Response{ID: req.ID, Type: ResponseOK, Data: raw}
}

func errorResponse(id int64, err error) Response {
	return Response{ID: id, Type: ResponseError, Error: err.Error()}
}

func (w *Worker) dispatch(ctx context.Context, req Request, progress git.ProgressFunc) (any, error) {
	if req.Type == TypeLoadRepo {
		return w.loadRepo(req, progress)
	}
	s, err := w.current()
	if err != nil {
		return nil, err
	}
	switch req.Type {
	case TypeListBranches:
		return s.ListBranches()
	case TypeDiff:
		if req.Base == "" || req.Compare == "" {
			return nil, errors.New("diff requires base and compare")
		}
		files, err := s.Diff(ctx, req.Base, req.Compare, progress)
		if err != nil {
			return nil, err
		}
		return DiffData{Files: files}, nil
	case TypeListFiles:
		if req.Ref == "" {
			return nil, errors.New("listFiles requires ref")
		}
		files, err := s.ListFiles(ctx, req.Ref)
		if err != nil {
			return nil, err
		}
		return FilesData{Files: files}, nil
	case TypeReadFile:
		if req.Ref == "" || req.Filepath == "" {
			return nil, errors.New("readFile requires ref and filepath")
		}
		return s.ReadFile(ctx, req.Ref, req.Filepath)
	case TypeResolveRef:
		oid, err := s.ResolveRef(req.Ref)
		if err != nil {
			return nil, err
		}
		return ResolveRefData{OID: oid}, nil
	}
	return nil, fmt.Errorf("unknown request type %q", req.Type)
}

func (w *Worker) current() (*git.Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return nil, git.ErrRepositoryNotInitialized
	}
	return w.session, nil
}

// loadRepo disposes the current session before opening the new one, so two
// sessions never coexist.
func (w *Worker) loadRepo(req Request, progress git.ProgressFunc) (git.Branches, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closeSessionLocked()

	var (
		s   *git.Session
		err error
	)
	switch {
	case len(req.GitFiles) > 0:
		progress(fmt.Sprintf("Seeding repository data… (%d files)", len(req.GitFiles)))
		if len(req.WorkFiles) > 0 {
			progress(fmt.Sprintf("Seeding working directory… (%d files)", len(req.WorkFiles)))
		}
		key := req.RepoKey
		if key == "" {
			key = "repo"
		}
		s, err = git.OpenSnapshot(key, req.GitFiles, req.WorkFiles, w.opts.Session)
		if err == nil {
			metrics.SessionLoaded("snapshot")
		}
	case req.RepoPath != "":
		progress(fmt.Sprintf("Opening %s…", req.RepoPath))
		s, err = git.Open(req.RepoPath, w.opts.Session)
		if err == nil {
			metrics.SessionLoaded("live")
			w.livePath = req.RepoPath
		}
	default:
		return git.Branches{}, &git.MissingRepositoryDataError{Reason: "no repository snapshot or path provided"}
	}
	if err != nil {
		return git.Branches{}, err
	}
	w.session = s

	progress("Verifying repository data…")
	branches, err := s.ListBranches()
	if err != nil {
		return git.Branches{}, err
	}
	progress(fmt.Sprintf("Branches found: %d, default: %s", len(branches.Names), branches.DefaultBranch))
	slog.Info("repository loaded",
		slog.String("session", s.ID()),
		slog.String("root", s.Root()),
		slog.Int("branches", len(branches.Names)),
	)
	return branches, nil
}

// Reload reopens the live repository, discarding the current session and its
// caches. Snapshot sessions cannot be reloaded.
func (w *Worker) Reload() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.session == nil || w.livePath == "" {
		return errors.New("reload requires a repository loaded from disk")
	}
	path := w.livePath
	w.closeSessionLocked()
	s, err := git.Open(path, w.opts.Session)
	if err != nil {
		return err
	}
	metrics.SessionLoaded("reload")
	w.session = s
	w.livePath = path
	if w.notify != nil {
		w.notify(Response{ID: NotificationID, Type: ResponseProgress, Message: "Repository reloaded"})
	}
	slog.Info("repository reloaded", slog.String("session", s.ID()), slog.String("root", s.Root()))
	return nil
}

// Close releases the current session.
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeSessionLocked()
	return nil
}

func (w *Worker) closeSessionLocked() {
	if w.session == nil {
		return
	}
	if err := w.session.Close(); err != nil {
		slog.Error("close session", slog.Any("error", err))
	}
	w.session = nil
	w.livePath = ""
}
