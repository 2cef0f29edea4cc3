package orchestrator

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// VideoEntry describes one asset with at least one playable format.
type VideoEntry struct {
	ID        AssetID   `json:"id"`
	HLSURL    string    `json:"hls_url,omitempty"`
	DASHURL   string    `json:"dash_url,omitempty"`
	PlayerURL string    `json:"player_url"`
	CreatedAt time.Time `json:"created_at"`
}

// Catalog lists assets by scanning the output tree. Manifests exist only for
// completed jobs, so their presence is the ready signal; there is no other
// record to keep in sync.
type Catalog struct {
	store *AssetStore
}

// NewCatalog returns a Catalog over store's output tree.
func NewCatalog(store *AssetStore) *Catalog {
	return &Catalog{store: store}
}

// List returns playable assets, newest first. A missing stream root is an
// empty catalog.
func (c *Catalog) List() ([]VideoEntry, error) {
	entries, err := os.ReadDir(c.store.StreamRoot())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []VideoEntry{}, nil
		}
		return nil, &StorageError{Op: "readdir", Path: c.store.StreamRoot(), Err: err}
	}

	videos := make([]VideoEntry, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := ParseAssetID(e.Name())
		if err != nil {
			continue
		}
		v, ok := c.entry(id, e)
		if ok {
			videos = append(videos, v)
		}
	}

	sort.Slice(videos, func(i, j int) bool {
		if !videos[i].CreatedAt.Equal(videos[j].CreatedAt) {
			return videos[i].CreatedAt.After(videos[j].CreatedAt)
		}
		return videos[i].ID < videos[j].ID
	})
	return videos, nil
}

// Count returns the number of playable assets, or 0 if the tree is unreadable.
func (c *Catalog) Count() int {
	videos, err := c.List()
	if err != nil {
		return 0
	}
	return len(videos)
}

func (c *Catalog) entry(id AssetID, e fs.DirEntry) (VideoEntry, bool) {
	root := c.store.OutputRoot(id)
	v := VideoEntry{ID: id, PlayerURL: PlayerURL(id)}
	if info, err := e.Info(); err == nil {
		v.CreatedAt = info.ModTime().UTC()
	}
	if fileExists(filepath.Join(root, string(FormatHLS), HLSPlaylistName)) {
		v.HLSURL = StreamURL(id, FormatHLS)
	}
	if fileExists(filepath.Join(root, string(FormatDASH), DASHManifestName)) {
		v.DASHURL = StreamURL(id, FormatDASH)
	}
	return v, v.HLSURL != "" || v.DASHURL != ""
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}
