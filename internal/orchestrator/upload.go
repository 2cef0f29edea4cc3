package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ReceiverConfig holds the upload validation limits.
type ReceiverConfig struct {
	MaxBytes          int64
	AllowedExtensions []string
}

// Receiver validates an incoming file and persists it under a freshly
// allocated asset.
type Receiver struct {
	store    *AssetStore
	maxBytes int64
	allowed  map[string]struct{}
	log      *slog.Logger
}

// NewReceiver returns a Receiver writing into store. Extensions are matched
// case-insensitively and may be given with or without a leading dot.
func NewReceiver(store *AssetStore, cfg ReceiverConfig, log *slog.Logger) *Receiver {
	allowed := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = struct{}{}
	}
	return &Receiver{store: store, maxBytes: cfg.MaxBytes, allowed: allowed, log: log}
}

// MaxBytes is the upload size ceiling.
func (r *Receiver) MaxBytes() int64 { return r.maxBytes }

// Validate checks, in order: a file is present, its extension is allowed, and
// its declared size is within the ceiling. It never touches the disk.
func (r *Receiver) Validate(filename string, size int64) error {
	if filename == "" {
		return ErrNoFile
	}
	ext := Extension(filename)
	if _, ok := r.allowed[ext]; !ok {
		if ext == "" {
			return fmt.Errorf("%w: %q has no extension", ErrUnsupportedType, filename)
		}
		return fmt.Errorf("%w: .%s", ErrUnsupportedType, ext)
	}
	if size > r.maxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, size, r.maxBytes)
	}
	return nil
}

// Receive validates the file, allocates an asset, and writes body to
// <rawDir>/<sanitized filename> in a single pass. The ceiling is enforced on
// the bytes actually read as well as on the declared size. Any failure after
// allocation removes the asset's directories.
func (r *Receiver) Receive(ctx context.Context, filename string, size int64, body io.Reader) (Upload, error) {
	if err := r.Validate(filename, size); err != nil {
		return Upload{}, err
	}

	asset, err := r.store.Create()
	if err != nil {
		return Upload{}, err
	}

	up := Upload{
		Asset:    asset,
		RawPath:  filepath.Join(asset.RawDir, SanitizeFilename(filename)),
		Filename: filename,
	}
	n, err := r.write(ctx, up.RawPath, body)
	if err != nil {
		if rmErr := r.store.Remove(asset); rmErr != nil {
			r.log.Warn("cleanup after failed upload",
				slog.String("asset_id", string(asset.ID)),
				slog.String("error", rmErr.Error()))
		}
		return Upload{}, err
	}
	up.Size = n

	r.log.Info("upload stored",
		slog.String("asset_id", string(asset.ID)),
		slog.String("filename", filename),
		slog.Int64("bytes", n))
	return up, nil
}

func (r *Receiver) write(ctx context.Context, path string, body io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, &StorageError{Op: "create", Path: path, Err: err}
	}

	n, copyErr := io.Copy(destWriter{f}, io.LimitReader(&ctxReader{ctx: ctx, r: body}, r.maxBytes+1))
	closeErr := f.Close()

	var werr *writeError
	switch {
	case errors.As(copyErr, &werr):
		return n, &StorageError{Op: "write", Path: path, Err: werr.err}
	case copyErr != nil:
		return n, fmt.Errorf("read upload: %w", copyErr)
	case n > r.maxBytes:
		return n, fmt.Errorf("%w: limit %d bytes", ErrPayloadTooLarge, r.maxBytes)
	case closeErr != nil:
		return n, &StorageError{Op: "close", Path: path, Err: closeErr}
	}
	return n, nil
}

// ctxReader stops a copy once the request context is done, e.g. when the
// client disconnects mid-upload.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// destWriter tags failures on the destination side of a copy, since io.Copy
// does not distinguish reader and writer errors.
type destWriter struct{ w io.Writer }

func (d destWriter) Write(p []byte) (int, error) {
	n, err := d.w.Write(p)
	if err != nil {
		return n, &writeError{err: err}
	}
	return n, nil
}

type writeError struct{ err error }

func (e *writeError) Error() string { return e.err.Error() }

// Extension returns the lowercased text after the last '.', or "" if none.
func Extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// SanitizeFilename replaces every character outside [A-Za-z0-9.] with '_'.
func SanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.':
			return r
		}
		return '_'
	}, name)
}
