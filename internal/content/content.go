// Package content defines the content-addressed digest type and the
// read-only store interface chaosgarden consumes (spec.md §6: "The daemon
// consumes a read-only digest→bytes map and a digest→mime-type sidecar").
// The content-addressed blob store itself is an external collaborator; this
// package only specifies the client-side contract plus a filesystem-backed
// implementation so the daemon is runnable standalone.
package content

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// DigestSize is the truncated BLAKE3 digest length in bytes: 128 bits.
const DigestSize = 16

// Digest is a content-addressed identifier: a 128-bit truncated BLAKE3
// digest, per spec.md §3. The zero Digest is never valid content.
type Digest [DigestSize]byte

// String renders the digest as the 32-character lowercase hex form used on
// the wire and in the query schema (spec.md §6).
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether d is the zero digest (no content referenced).
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// ParseDigest parses a 32-character hex string into a Digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("content: invalid digest %q: %w", s, err)
	}
	if len(b) != DigestSize {
		return d, fmt.Errorf("content: digest %q has %d bytes, want %d", s, len(b), DigestSize)
	}
	copy(d[:], b)
	return d, nil
}

// Sum computes the truncated-BLAKE3 digest of b.
func Sum(b []byte) Digest {
	full := blake3.Sum256(b)
	var d Digest
	copy(d[:], full[:DigestSize])
	return d
}

// ErrNotFound is returned when a digest has no corresponding content.
var ErrNotFound = errors.New("content: digest not found")

// Store is the read-only collaborator the pre-render scheduler decodes
// from. The daemon stores nothing in it directly (spec.md §6).
type Store interface {
	// Open returns a reader for the bytes named by digest. Caller must
	// Close it.
	Open(d Digest) (io.ReadCloser, error)
	// MIMEType returns the sidecar mime-type for digest, if known.
	MIMEType(d Digest) (string, error)
}

// FSStore is a filesystem-backed Store rooted at a directory, honoring the
// HALFREMEMBERED_CAS_PATH / HALFREMEMBERED_CAS_READONLY environment
// variables described in spec.md §6 (read through internal/config, not
// read directly here — this type just enforces ReadOnly once configured).
type FSStore struct {
	root     string
	readOnly bool
}

// NewFSStore creates a filesystem-backed content store rooted at root.
func NewFSStore(root string, readOnly bool) *FSStore {
	return &FSStore{root: root, readOnly: readOnly}
}

// ReadOnly reports whether this store forbids writes.
func (s *FSStore) ReadOnly() bool {
	return s.readOnly
}

func (s *FSStore) path(d Digest) string {
	hexName := d.String()
	return filepath.Join(s.root, hexName[:2], hexName+".bin")
}

// Open implements Store.
func (s *FSStore) Open(d Digest) (io.ReadCloser, error) {
	f, err := os.Open(s.path(d))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("content: opening %s: %w", d, err)
	}
	return f, nil
}

// MIMEType implements Store.
func (s *FSStore) MIMEType(d Digest) (string, error) {
	b, err := os.ReadFile(s.path(d) + ".mime")
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("content: reading mime sidecar for %s: %w", d, err)
	}
	return string(b), nil
}

// Put writes content under its computed digest, for local/dev use where the
// daemon itself originates test content. Returns ErrReadOnly if the store
// was opened read-only.
func (s *FSStore) Put(data []byte, mimeType string) (Digest, error) {
	if s.readOnly {
		return Digest{}, ErrReadOnly
	}
	d := Sum(data)
	p := s.path(d)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return Digest{}, fmt.Errorf("content: creating directory: %w", err)
	}
	if err := os.WriteFile(p, data, 0o640); err != nil {
		return Digest{}, fmt.Errorf("content: writing %s: %w", d, err)
	}
	if mimeType != "" {
		if err := os.WriteFile(p+".mime", []byte(mimeType), 0o640); err != nil {
			return Digest{}, fmt.Errorf("content: writing mime sidecar for %s: %w", d, err)
		}
	}
	return d, nil
}

// ErrReadOnly is returned by Put when the store forbids writes.
var ErrReadOnly = errors.New("content: store is read-only")
