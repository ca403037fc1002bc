// Package memstore is an in-memory objectstore.Store implementation used by
// tests and the demo CLI, the same role the teacher's sqlite backend plays
// for its storage.Store interface (a simple, fully-local stand-in for the
// real backend).
package memstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/warpdb/warp/internal/objectstore"
)

type node struct {
	objectstore.NodeInfo
}

// Store is a goroutine-safe, process-local object store. Content is hashed
// with sha256 and addressed by its hex digest, matching the object-store
// contract's "oid is a hex string" requirement.
type Store struct {
	mu      sync.RWMutex
	blobs   map[string][]byte
	trees   map[string]map[string]string
	commits map[string]node
	refs    map[string]string
	config  map[string]string
	clock   func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		blobs:   make(map[string][]byte),
		trees:   make(map[string]map[string]string),
		commits: make(map[string]node),
		refs:    make(map[string]string),
		config:  make(map[string]string),
		clock:   time.Now,
	}
}

func hashOf(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Store) WriteBlob(_ context.Context, data []byte) (string, error) {
	oid := hashOf([]byte("blob"), data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[oid] = append([]byte(nil), data...)
	return oid, nil
}

func (s *Store) ReadBlob(_ context.Context, oid string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[oid]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", oid)
	}
	return append([]byte(nil), data...), nil
}

func (s *Store) WriteTree(_ context.Context, entries map[string]string) (string, error) {
	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, p := range paths {
		b.WriteString(p)
		b.WriteByte('\x00')
		b.WriteString(entries[p])
		b.WriteByte('\n')
	}
	oid := hashOf([]byte("tree"), []byte(b.String()))

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]string, len(entries))
	for k, v := range entries {
		cp[k] = v
	}
	s.trees[oid] = cp
	return oid, nil
}

func (s *Store) ReadTreeOids(_ context.Context, treeOID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tree, ok := s.trees[treeOID]
	if !ok {
		return nil, fmt.Errorf("tree %s not found", treeOID)
	}
	cp := make(map[string]string, len(tree))
	for k, v := range tree {
		cp[k] = v
	}
	return cp, nil
}

func (s *Store) CommitNode(_ context.Context, spec objectstore.CommitSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	seed := fmt.Sprintf("%s|%v|%s|%d", spec.Message, spec.Parents, spec.Tree, now.UnixNano())
	sha := hashOf([]byte("commit"), []byte(seed))

	s.commits[sha] = node{NodeInfo: objectstore.NodeInfo{
		SHA:     sha,
		Message: spec.Message,
		Parents: append([]string(nil), spec.Parents...),
		Tree:    spec.Tree,
		Author:  "warp",
		Date:    now,
	}}
	return sha, nil
}

func (s *Store) GetNodeInfo(_ context.Context, sha string) (objectstore.NodeInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.commits[sha]
	if !ok {
		return objectstore.NodeInfo{}, fmt.Errorf("commit %s not found", sha)
	}
	return n.NodeInfo, nil
}

func (s *Store) NodeExists(_ context.Context, sha string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.commits[sha]
	return ok, nil
}

func (s *Store) ReadRef(_ context.Context, ref string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	oid, ok := s.refs[ref]
	return oid, ok, nil
}

func (s *Store) UpdateRef(_ context.Context, ref, oid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[ref] = oid
	return nil
}

func (s *Store) DeleteRef(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refs, ref)
	return nil
}

func (s *Store) ListRefs(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for ref := range s.refs {
		if strings.HasPrefix(ref, prefix) {
			out = append(out, ref)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) CompareAndSwapRef(_ context.Context, ref, expected, newOID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.refs[ref] // "" if absent, matching expected=="" for "no ref yet"
	if current != expected {
		return &objectstore.CASConflictError{Ref: ref, Expected: expected, Actual: current}
	}
	s.refs[ref] = newOID
	return nil
}

func (s *Store) ConfigGet(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.config[key]
	return v, ok, nil
}

func (s *Store) ConfigSet(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config[key] = value
	return nil
}

func (s *Store) Ping(_ context.Context) (objectstore.PingResult, error) {
	return objectstore.PingResult{OK: true, LatencyMs: 0}, nil
}

var _ objectstore.Store = (*Store)(nil)
