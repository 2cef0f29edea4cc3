package orchestrator

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const (
	dirPerm = 0o755

	// createAttempts bounds regeneration after an identifier collision.
	createAttempts = 3
)

// AssetStore allocates asset identifiers and owns the on-disk layout:
//
//	<uploadRoot>/<id>/<sanitized filename>
//	<streamRoot>/<id>/hls/...
//	<streamRoot>/<id>/dash/...
//
// It holds no mutable state; concurrent callers are separated by the
// exclusive creation of each asset's directories.
type AssetStore struct {
	uploadRoot string
	streamRoot string
	newID      func() string
}

// NewAssetStore returns a store rooted at the given directories. The roots are
// created lazily by Create; call Init to create them eagerly at startup.
func NewAssetStore(uploadRoot, streamRoot string) *AssetStore {
	return &AssetStore{
		uploadRoot: uploadRoot,
		streamRoot: streamRoot,
		newID:      uuid.NewString,
	}
}

// Init creates both roots.
func (s *AssetStore) Init() error {
	for _, root := range []string{s.uploadRoot, s.streamRoot} {
		if err := os.MkdirAll(root, dirPerm); err != nil {
			return &StorageError{Op: "mkdir", Path: root, Err: err}
		}
	}
	return nil
}

// UploadRoot and StreamRoot return the configured roots.
func (s *AssetStore) UploadRoot() string { return s.uploadRoot }
func (s *AssetStore) StreamRoot() string { return s.streamRoot }

// Create allocates a fresh identifier and creates its raw-upload directory and
// output root. Both exist when Create returns; on failure neither does.
func (s *AssetStore) Create() (Asset, error) {
	if err := s.Init(); err != nil {
		return Asset{}, err
	}

	for attempt := 0; attempt < createAttempts; attempt++ {
		id := AssetID(s.newID())
		a := Asset{
			ID:         id,
			RawDir:     filepath.Join(s.uploadRoot, string(id)),
			OutputRoot: filepath.Join(s.streamRoot, string(id)),
		}

		if err := os.Mkdir(a.RawDir, dirPerm); err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return Asset{}, &StorageError{Op: "mkdir", Path: a.RawDir, Err: err}
		}
		if err := os.Mkdir(a.OutputRoot, dirPerm); err != nil {
			os.Remove(a.RawDir)
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return Asset{}, &StorageError{Op: "mkdir", Path: a.OutputRoot, Err: err}
		}
		return a, nil
	}

	return Asset{}, &StorageError{
		Op:   "allocate",
		Path: s.uploadRoot,
		Err:  fmt.Errorf("identifier collision after %d attempts", createAttempts),
	}
}

// FormatDir creates and returns <outputRoot>/<format>.
func (s *AssetStore) FormatDir(a Asset, f Format) (string, error) {
	dir := filepath.Join(a.OutputRoot, string(f))
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", &StorageError{Op: "mkdir", Path: dir, Err: err}
	}
	return dir, nil
}

// Remove deletes both of the asset's directories.
func (s *AssetStore) Remove(a Asset) error {
	return errors.Join(os.RemoveAll(a.RawDir), os.RemoveAll(a.OutputRoot))
}

// OutputRoot maps an identifier to its output root without touching the disk.
func (s *AssetStore) OutputRoot(id AssetID) string {
	return filepath.Join(s.streamRoot, string(id))
}

// ParseAssetID accepts only canonical identifiers, so every id maps to exactly
// one directory name.
func ParseAssetID(s string) (AssetID, error) {
	u, err := uuid.Parse(s)
	if err != nil || u.String() != s {
		return "", fmt.Errorf("%w: invalid asset id %q", ErrNotFound, s)
	}
	return AssetID(s), nil
}
