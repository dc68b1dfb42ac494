package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/thiagokokada/gitctx/internal/git"
)

const DefaultTimeout = 60 * time.Second

// ErrWorkerDisposed fails every request pending when the client is disposed
// or the worker goes away.
var ErrWorkerDisposed = errors.New("worker disposed")

// TimeoutError reports a request that got no terminal response in time.
type TimeoutError struct {
	ID    int64
	Type  RequestType
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("worker request %d timed out after %s. Type: %s", e.ID, e.After, e.Type)
}

// RemoteError carries the message of an error response.
type RemoteError struct {
	Type    RequestType
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

type ClientOptions struct {
	// Timeout bounds the wait for a terminal response. Zero means DefaultTimeout.
	Timeout time.Duration
	// OnProgress receives every progress message, including notifications
	// not tied to a request.
	OnProgress func(id int64, message string)
}

type callResult struct {
	resp Response
	err  error
}

type pendingCall struct {
	reqType  RequestType
	progress func(string)
	done     chan callResult
}

// Client issues requests to a worker and matches responses by id.
type Client struct {
	opts ClientOptions

	writeMu sync.Mutex
	enc     *json.Encoder
	w       io.Writer

	mu       sync.Mutex
	nextID   int64
	pending  map[int64]*pendingCall
	disposed bool

	readDone chan struct{}
}

// NewClient starts reading responses from r. Requests are written to w.
func NewClient(r io.Reader, w io.Writer, opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	c := &Client{
		opts:     opts,
		enc:      json.NewEncoder(w),
		w:        w,
		pending:  map[int64]*pendingCall{},
		readDone: make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

// Spawn runs w in-process behind a pipe pair and returns a client for it.
// Disposing the client stops the worker once in-flight requests finish.
func Spawn(ctx context.Context, w *Worker, opts ClientOptions) *Client {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	go func() {
		err := w.Serve(ctx, reqR, respW)
		_ = reqR.CloseWithError(err)
		_ = respW.CloseWithError(err)
	}()
	return NewClient(respR, reqW, opts)
}

func (c *Client) readLoop(r io.Reader) {
	defer close(c.readDone)
	dec := json.NewDecoder(r)
	for {
		var resp Response
		if err := dec.Decode(&resp); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				slog.Debug("worker stream ended", slog.Any("error", err))
			}
			c.failAll(fmt.Errorf("worker exited: %w", ErrWorkerDisposed))
			return
		}
		c.deliver(resp)
	}
}

func (c *Client) deliver(resp Response) {
	c.mu.Lock()
	call, ok := c.pending[resp.ID]
	if ok && resp.terminal() {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if resp.Type == ResponseProgress {
		if c.opts.OnProgress != nil {
			c.opts.OnProgress(resp.ID, resp.Message)
		}
		if ok && call.progress != nil {
			call.progress(resp.Message)
		}
		return
	}
	if !ok {
		slog.Debug("response without pending request",
			slog.Int64("id", resp.ID),
			slog.String("type", string(resp.Type)),
			slog.String("error", resp.Error),
		)
		return
	}
	call.done <- callResult{resp: resp}
}

func (c *Client) failAll(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, call := range c.pending {
		call.done <- callResult{err: err}
		delete(c.pending, id)
	}
}

// Pending returns the number of requests awaiting a terminal response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Dispose rejects every pending request with ErrWorkerDisposed and closes the
// request stream. Later calls fail immediately.
func (c *Client) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	for id, call := range c.pending {
		call.done <- callResult{err: ErrWorkerDisposed}
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if closer, ok := c.w.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			slog.Debug("close request stream", slog.Any("error", err))
		}
	}
}

// Call sends req with a fresh id and waits for its terminal response.
func (c *Client) Call(ctx context.Context, req Request, progress func(string)) (json.RawMessage, error) {
	call := &pendingCall{reqType: req.Type, progress: progress, done: make(chan callResult, 1)}

	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return nil, ErrWorkerDisposed
	}
	c.nextID++
	req.ID = c.nextID
	c.pending[req.ID] = call
	c.mu.Unlock()

	timer := time.NewTimer(c.opts.Timeout)
	defer timer.Stop()

	// The write blocks while the worker stops draining its input, so it
	// runs beside the deadline. Dispose closes the stream and unblocks it.
	sent := make(chan error, 1)
	go func() { sent <- c.write(req) }()

	for {
		select {
		case err := <-sent:
			if err != nil {
				if c.forget(req.ID) {
					return nil, ErrWorkerDisposed
				}
				return nil, err
			}
			sent = nil
		case res := <-call.done:
			if res.err != nil {
				return nil, res.err
			}
			if res.resp.Type == ResponseError {
				return nil, &RemoteError{Type: req.Type, Message: res.resp.Error}
			}
			return res.resp.Data, nil
		case <-timer.C:
			c.forget(req.ID)
			return nil, &TimeoutError{ID: req.ID, Type: req.Type, After: c.opts.Timeout}
		case <-ctx.Done():
			c.forget(req.ID)
			return nil, ctx.Err()
		}
	}
}

func (c *Client) write(req Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.enc.Encode(req); err != nil {
		return fmt.Errorf("send %s request: %w", req.Type, err)
	}
	return nil
}

// forget drops id from the pending set and reports whether the client has
// been disposed.
func (c *Client) forget(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
	return c.disposed
}

func call[T any](ctx context.Context, c *Client, req Request, progress func(string)) (T, error) {
	var out T
	raw, err := c.Call(ctx, req, progress)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s response: %w", req.Type, err)
	}
	return out, nil
}

// LoadSpec names the repository to load: a path on disk, or captured files.
type LoadSpec struct {
	RepoKey   string
	RepoPath  string
	GitFiles  []git.SnapshotFile
	WorkFiles []git.SnapshotFile
}

func (c *Client) LoadRepo(ctx context.Context, src LoadSpec) (git.Branches, error) {
	return call[git.Branches](ctx, c, Request{
		Type:      TypeLoadRepo,
		RepoKey:   src.RepoKey,
		RepoPath:  src.RepoPath,
		GitFiles:  src.GitFiles,
		WorkFiles: src.WorkFiles,
	}, nil)
}

func (c *Client) ListBranches(ctx context.Context) (git.Branches, error) {
	return call[git.Branches](ctx, c, Request{Type: TypeListBranches}, nil)
}

func (c *Client) Diff(ctx context.Context, base, compare string, progress func(string)) ([]git.DiffEntry, error) {
	data, err := call[DiffData](ctx, c, Request{Type: TypeDiff, Base: base, Compare: compare}, progress)
	return data.Files, err
}

func (c *Client) ListFiles(ctx context.Context, ref string) ([]string, error) {
	data, err := call[FilesData](ctx, c, Request{Type: TypeListFiles, Ref: ref}, nil)
	return data.Files, err
}

func (c *Client) ReadFile(ctx context.Context, ref, path string) (git.ReadResult, error) {
	return call[git.ReadResult](ctx, c, Request{Type: TypeReadFile, Ref: ref, Filepath: path}, nil)
}

func (c *Client) ResolveRef(ctx context.Context, ref string) (string, error) {
	data, err := call[ResolveRefData](ctx, c, Request{Type: TypeResolveRef, Ref: ref}, nil)
	return data.OID, err
}
