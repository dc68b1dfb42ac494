// Package worker exposes a repository session over a JSON lines
// request/response protocol with progress notifications.
package worker

import (
	"encoding/json"

	"github.com/thiagokokada/gitctx/internal/git"
)

type RequestType string

const (
	TypeLoadRepo     RequestType = "loadRepo"
	TypeListBranches RequestType = "listBranches"
	TypeDiff         RequestType = "diff"
	TypeListFiles    RequestType = "listFiles"
	TypeReadFile     RequestType = "readFile"
	TypeResolveRef   RequestType = "resolveRef"
)

type ResponseType string

const (
	ResponseOK       ResponseType = "ok"
	ResponseError    ResponseType = "error"
	ResponseProgress ResponseType = "progress"
)

// NotificationID is used for messages not tied to a request, such as
// malformed input or a background reload.
const NotificationID int64 = -1

// Request is one line sent to the worker. Only the fields relevant to Type
// are set.
type Request struct {
	ID   int64       `json:"id"`
	Type RequestType `json:"type"`

	RepoKey   string             `json:"repoKey,omitempty"`
	RepoPath  string             `json:"repoPath,omitempty"`
	GitFiles  []git.SnapshotFile `json:"gitFiles,omitempty"`
	WorkFiles []git.SnapshotFile `json:"workFiles,omitempty"`

	Base     string `json:"base,omitempty"`
	Compare  string `json:"compare,omitempty"`
	Ref      string `json:"ref,omitempty"`
	Filepath string `json:"filepath,omitempty"`
}

// Response is one line written by the worker. Progress responses may appear
// any number of times before the single ok or error response for an id.
type Response struct {
	ID      int64           `json:"id"`
	Type    ResponseType    `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

func (r Response) terminal() bool {
	return r.Type == ResponseOK || r.Type == ResponseError
}

type DiffData struct {
	Files []git.DiffEntry `json:"files"`
}

type FilesData struct {
	Files []string `json:"files"`
}

type ResolveRefData struct {
	OID string `json:"oid"`
}
