package orchestrator

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const playlistContentType = "application/vnd.apple.mpegurl"

var streamContentTypes = map[string]string{
	".m3u8": playlistContentType,
	".ts":   "video/mp2t",
	".mpd":  "application/dash+xml",
	".m4s":  "video/iso.segment",
	".mp4":  "video/mp4",
}

// StreamServer maps (asset id, format, relative path) to files under the
// output tree. It only reads the filesystem.
type StreamServer struct {
	store *AssetStore
}

// NewStreamServer returns a StreamServer over store's output tree.
func NewStreamServer(store *AssetStore) *StreamServer {
	return &StreamServer{store: store}
}

// Resolve returns the absolute path of the requested file. The format is
// checked before any path is built. Containment is per format: the result
// must stay inside <outputRoot>/<format>, symlinks included, so a path under
// one format can never reach another format's tree (../dash/... from hls is
// ErrForbidden).
func (s *StreamServer) Resolve(id, format, relPath string) (string, error) {
	f, ok := ParseFormat(format)
	if !ok {
		return "", fmt.Errorf("%w: unknown format %q", ErrNotFound, format)
	}
	assetID, err := ParseAssetID(id)
	if err != nil {
		return "", err
	}

	base, err := filepath.Abs(filepath.Join(s.store.OutputRoot(assetID), string(f)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	candidate, err := filepath.Abs(filepath.Join(base, filepath.FromSlash(relPath)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if candidate == base {
		return "", fmt.Errorf("%w: no file named", ErrNotFound)
	}
	if !within(base, candidate) {
		return "", fmt.Errorf("%w: path escapes output tree", ErrForbidden)
	}

	realBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		return "", notFound(err)
	}
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return "", notFound(err)
	}
	if !within(realBase, resolved) {
		return "", fmt.Errorf("%w: link escapes output tree", ErrForbidden)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", notFound(err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: not a file", ErrNotFound)
	}
	return resolved, nil
}

// Serve resolves the file and writes it with byte-range and conditional
// request support. Resolution errors are returned without writing anything.
func (s *StreamServer) Serve(w http.ResponseWriter, r *http.Request, id, format, relPath string) error {
	p, err := s.Resolve(id, format, relPath)
	if err != nil {
		return err
	}
	f, err := os.Open(p)
	if err != nil {
		return notFound(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return notFound(err)
	}
	if ct, ok := streamContentTypes[strings.ToLower(filepath.Ext(p))]; ok {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	return nil
}

// within reports whether target is strictly inside base.
func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == "." {
		return false
	}
	return filepath.IsLocal(rel)
}

// notFound wraps any stat or open failure, missing file or not, as ErrNotFound.
func notFound(err error) error {
	return fmt.Errorf("%w: %v", ErrNotFound, err)
}
