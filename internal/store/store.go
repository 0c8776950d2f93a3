// Package store implements the content-addressed artifact store. Blobs are
// keyed by their SHA-256 digest; the canonical path is a pure function of the
// digest, so identical content is stored exactly once no matter how many
// logical artifacts reference it.
package store

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotFound is returned when no blob exists for the requested hash.
	ErrNotFound = errors.New("store: blob not found")

	// ErrCorrupt is returned when uploaded content does not match the hash
	// the uploader declared for it.
	ErrCorrupt = errors.New("store: content does not match declared hash")
)

// stagingDir is the subtree for in-flight writes, swept at startup.
const stagingDir = "tmp"

// Store is a content-addressed blob store rooted at a directory. Writes go
// through a staging file and an atomic rename; rename is the commit point, so
// concurrent writers of identical content race harmlessly and no lock is
// needed.
type Store struct {
	root    string
	staging string
}

// New opens (creating if necessary) a store rooted at dir and sweeps staging
// files left behind by writers that crashed before committing. An unusable
// root is a fatal configuration error for the caller.
func New(dir string) (*Store, error) {
	s := &Store{
		root:    dir,
		staging: filepath.Join(dir, stagingDir),
	}

	if err := os.MkdirAll(s.staging, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	if err := s.SweepStaging(); err != nil {
		return nil, fmt.Errorf("failed to sweep staging directory: %w", err)
	}

	return s, nil
}

// LocalPath returns the canonical path for a hash, relative to the store
// root. It is a pure function of the hash.
func LocalPath(hash string) string {
	return filepath.Join(hash[:2], hash)
}

func (s *Store) canonical(hash string) string {
	return filepath.Join(s.root, LocalPath(hash))
}

// Put stores data and returns its SHA-256 hash (hex) and canonical path
// relative to the store root. Storing content that already exists is a no-op
// returning the same hash and path.
func (s *Store) Put(data []byte) (string, string, error) {
	sum := sha256.Sum256(data)
	hash := fmt.Sprintf("%x", sum)
	return hash, LocalPath(hash), s.write(hash, data)
}

// PutDeclared stores data after verifying it against the hash the uploader
// declared. A mismatch returns ErrCorrupt and writes nothing.
func (s *Store) PutDeclared(data []byte, declared string) (string, string, error) {
	sum := sha256.Sum256(data)
	hash := fmt.Sprintf("%x", sum)
	if hash != declared {
		return "", "", fmt.Errorf("%w: declared %s, computed %s", ErrCorrupt, declared, hash)
	}
	return hash, LocalPath(hash), s.write(hash, data)
}

// write commits data under its hash. The staging file gets a unique name so
// concurrent writes never collide; the rename to the canonical path is the
// commit point. If the destination already exists the content is already
// durable and the staging copy is discarded.
func (s *Store) write(hash string, data []byte) error {
	dst := s.canonical(hash)

	if _, err := os.Stat(dst); err == nil {
		return nil
	}

	tmp := filepath.Join(s.staging, uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write staging file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	// A racing writer may have committed the same content in the meantime;
	// rename then either installs our copy or replaces identical bytes.
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit blob: %w", err)
	}

	return nil
}

// Get returns the bytes stored under hash, or ErrNotFound.
func (s *Store) Get(hash string) ([]byte, error) {
	data, err := os.ReadFile(s.canonical(hash))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", hash, err)
	}
	return data, nil
}

// Open returns a reader over the blob for streaming, plus its size.
func (s *Store) Open(hash string) (io.ReadCloser, int64, error) {
	f, err := os.Open(s.canonical(hash))
	if os.IsNotExist(err) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open blob %s: %w", hash, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("failed to stat blob %s: %w", hash, err)
	}

	return f, info.Size(), nil
}

// Exists reports whether a blob for hash is present.
func (s *Store) Exists(hash string) bool {
	_, err := os.Stat(s.canonical(hash))
	return err == nil
}

// SweepStaging removes orphaned staging files. Staging files only exist while
// a write is in flight; anything found at startup belongs to a crashed writer
// and its content was never committed.
func (s *Store) SweepStaging() error {
	entries, err := os.ReadDir(s.staging)
	if err != nil {
		return fmt.Errorf("failed to read staging directory: %w", err)
	}

	var errs *multierror.Error
	for _, e := range entries {
		path := filepath.Join(s.staging, e.Name())
		if err := os.Remove(path); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to remove %s: %w", path, err))
			continue
		}
		log.Debug().Str("path", path).Msg("removed orphaned staging file")
	}

	return errs.ErrorOrNil()
}

// SweepUnreferenced removes canonical blobs whose hash is not in referenced
// and returns how many were deleted. Safe to run concurrently with uploads:
// blobs are immutable and content-keyed, so a concurrent writer either lands
// before the mark (and is referenced) or recreates the blob afterwards.
func (s *Store) SweepUnreferenced(referenced map[string]bool) (int, error) {
	removed := 0
	var errs *multierror.Error

	err := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == s.staging {
				return filepath.SkipDir
			}
			return nil
		}
		hash := d.Name()
		if referenced[hash] {
			return nil
		}
		if err := os.Remove(path); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to remove %s: %w", path, err))
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		errs = multierror.Append(errs, err)
	}

	return removed, errs.ErrorOrNil()
}
