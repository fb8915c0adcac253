// Package fsstore implements artifact.Store on the local filesystem,
// sharded by the first byte of the content hash per spec: blobs live under
// blobs/<first-byte>/<sha256>, with an append-only index.jsonl recording one
// Record per unique blob. Grounded on the corpus's single-append-lock
// pattern (ledger/inmem's mutex-guarded sequence assignment) applied here to
// guard the JSONL index instead of an in-memory slice.
package fsstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cogateway/artifact"
)

// Store is a filesystem-backed artifact.Store.
type Store struct {
	root string // <shared_state>/artifacts

	mu    sync.Mutex // guards index.jsonl appends and the in-memory index
	index map[string]artifact.Record
}

// New returns a Store rooted at root (typically <shared_state>/artifacts),
// creating the directory layout if absent and loading any existing index.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("artifact/fsstore: root is required")
	}
	if err := os.MkdirAll(filepath.Join(root, "blobs"), 0o755); err != nil {
		return nil, fmt.Errorf("artifact/fsstore: create blobs dir: %w", err)
	}
	s := &Store{root: root, index: make(map[string]artifact.Record)}
	if err := s.loadIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) indexPath() string { return filepath.Join(s.root, "index.jsonl") }

type indexLine struct {
	BlobID   string            `json:"blob_id"`
	Path     string            `json:"path"`
	Kind     string            `json:"kind"`
	Size     int64             `json:"size"`
	SHA256   string            `json:"sha256"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Store) loadIndex() error {
	f, err := os.Open(s.indexPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("artifact/fsstore: open index: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	for {
		var line indexLine
		if err := dec.Decode(&line); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("artifact/fsstore: decode index: %w", err)
		}
		s.index[line.BlobID] = artifact.Record{
			BlobID:   line.BlobID,
			Path:     line.Path,
			Kind:     line.Kind,
			Size:     line.Size,
			SHA256:   line.SHA256,
			Metadata: line.Metadata,
		}
	}
	return nil
}

func (s *Store) appendIndex(rec artifact.Record) error {
	f, err := os.OpenFile(s.indexPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("artifact/fsstore: open index for append: %w", err)
	}
	defer f.Close()

	line := indexLine{
		BlobID: rec.BlobID, Path: rec.Path, Kind: rec.Kind,
		Size: rec.Size, SHA256: rec.SHA256, Metadata: rec.Metadata,
	}
	enc := json.NewEncoder(f)
	return enc.Encode(line)
}

// shardPath returns the sharded on-disk path for a blob ID.
func (s *Store) shardPath(sha256Hex string) string {
	shard := sha256Hex[:2]
	return filepath.Join(s.root, "blobs", shard, sha256Hex)
}

// StoreBytes implements artifact.Store.
func (s *Store) StoreBytes(_ context.Context, content []byte, kind string, metadata map[string]string) (artifact.Record, error) {
	blobID := artifact.BlobID(content)
	shaHex := strings.TrimPrefix(blobID, artifact.BlobScheme)

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.index[blobID]; ok {
		return rec, nil
	}

	path := s.shardPath(shaHex)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return artifact.Record{}, fmt.Errorf("artifact/fsstore: mkdir shard: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return artifact.Record{}, fmt.Errorf("artifact/fsstore: write blob: %w", err)
	}

	rec := artifact.Record{
		BlobID:   blobID,
		Path:     path,
		Kind:     kind,
		Size:     int64(len(content)),
		SHA256:   shaHex,
		Metadata: metadata,
	}
	if err := s.appendIndex(rec); err != nil {
		return artifact.Record{}, err
	}
	s.index[blobID] = rec
	return rec, nil
}

// Get implements artifact.Store.
func (s *Store) Get(_ context.Context, blobID string) ([]byte, artifact.Record, bool, error) {
	s.mu.Lock()
	rec, ok := s.index[blobID]
	s.mu.Unlock()
	if !ok {
		return nil, artifact.Record{}, false, nil
	}
	content, err := os.ReadFile(rec.Path)
	if err != nil {
		return nil, artifact.Record{}, false, fmt.Errorf("artifact/fsstore: read blob: %w", err)
	}
	return content, rec, true, nil
}

// Exists implements artifact.Store.
func (s *Store) Exists(_ context.Context, blobID string) (bool, error) {
	s.mu.Lock()
	_, ok := s.index[blobID]
	s.mu.Unlock()
	return ok, nil
}
