// Package artifact implements the content-addressed blob store (C1): every
// stored payload is addressed by "blob://" + sha256(content), so identical
// payloads always share storage and duplicate writes are no-ops. No teacher
// package implements blob storage directly; this follows the corpus's
// general store-interface-plus-backend convention (ledger.Store,
// claims.Store) applied to content addressing.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// BlobScheme is the required prefix of every blob ID.
const BlobScheme = "blob://"

// Record describes one stored blob.
type Record struct {
	BlobID   string
	Path     string // on-disk path, sharded by first byte of the hash
	Kind     string
	Size     int64
	SHA256   string
	Metadata map[string]string
}

// BlobID derives the content-addressed ID for a payload.
func BlobID(content []byte) string {
	sum := sha256.Sum256(content)
	return BlobScheme + hex.EncodeToString(sum[:])
}

// Store is the artifact store's operation surface.
type Store interface {
	// StoreBytes persists content under its content-addressed blob ID.
	// Calling twice with identical content is idempotent: the same blob ID
	// is returned and no second file is written.
	StoreBytes(ctx context.Context, content []byte, kind string, metadata map[string]string) (Record, error)

	// Get retrieves a blob's content and record by blob ID.
	Get(ctx context.Context, blobID string) ([]byte, Record, bool, error)

	// Exists reports whether blobID is present without reading its content.
	Exists(ctx context.Context, blobID string) (bool, error)
}
