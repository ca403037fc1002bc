// Package objectstore defines the minimal content-addressed object-store
// contract WARP is built on (spec §6). The store itself — hooks, on-disk
// format, network transport — is an external collaborator; this package
// only pins down the interface and a couple of small in-memory/validation
// helpers used across the engine and its tests.
package objectstore

import (
	"context"
	"fmt"
	"time"
)

// NodeInfo describes a commit node (spec calls it a "commit" throughout;
// named NodeInfo here to match the getNodeInfo() contract verbatim).
type NodeInfo struct {
	SHA     string
	Message string
	Parents []string
	Tree    string // optional; "" when the commit has no tree
	Author  string
	Date    time.Time
}

// CommitSpec is the input to CommitNode: a message, explicit parents, and an
// optional tree (checkpoints have one; ordinary patch commits usually
// don't, beyond whatever the store defaults to).
type CommitSpec struct {
	Message string
	Parents []string
	Tree    string // optional; empty means "no tree" / store default
}

// PingResult reports object-store reachability and latency.
type PingResult struct {
	OK        bool
	LatencyMs int64
}

// Store is the external object-store contract spec §6 enumerates. All
// methods may suspend (spec §5) and should respect ctx cancellation.
type Store interface {
	WriteBlob(ctx context.Context, data []byte) (oid string, err error)
	ReadBlob(ctx context.Context, oid string) ([]byte, error)

	WriteTree(ctx context.Context, entries map[string]string) (oid string, err error)
	ReadTreeOids(ctx context.Context, treeOID string) (map[string]string, error)

	CommitNode(ctx context.Context, spec CommitSpec) (sha string, err error)
	GetNodeInfo(ctx context.Context, sha string) (NodeInfo, error)
	NodeExists(ctx context.Context, sha string) (bool, error)

	ReadRef(ctx context.Context, ref string) (oid string, ok bool, err error)
	UpdateRef(ctx context.Context, ref, oid string) error
	DeleteRef(ctx context.Context, ref string) error
	ListRefs(ctx context.Context, prefix string) ([]string, error)
	CompareAndSwapRef(ctx context.Context, ref, expected, newOID string) error

	ConfigGet(ctx context.Context, key string) (value string, ok bool, err error)
	ConfigSet(ctx context.Context, key, value string) error

	Ping(ctx context.Context) (PingResult, error)
}

// CASConflictError is returned by CompareAndSwapRef when the ref's current
// value does not match expected. Callers (chiefly patch.Builder) translate
// this into apperrors.CodeWriterRefAdvanced with the actual tip attached.
type CASConflictError struct {
	Ref      string
	Expected string
	Actual   string
}

func (e *CASConflictError) Error() string {
	return fmt.Sprintf("ref %s: expected %q, actual %q", e.Ref, e.Expected, e.Actual)
}
