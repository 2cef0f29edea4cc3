package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoFile is returned when the request carries no file.
	ErrNoFile = errors.New("no file uploaded")

	// ErrUnsupportedType is returned when the file extension is not in the allow-list.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrPayloadTooLarge is returned when the declared or observed size exceeds the ceiling.
	ErrPayloadTooLarge = errors.New("file exceeds maximum upload size")

	// ErrNotFound is returned when a stream path does not resolve to a servable file.
	ErrNotFound = errors.New("not found")

	// ErrForbidden is returned when a stream path escapes the asset's output tree.
	ErrForbidden = errors.New("forbidden")

	// ErrShuttingDown is returned for uploads that arrive after the
	// coordinator was closed.
	ErrShuttingDown = errors.New("service shutting down")
)

// StorageError reports a directory or file I/O failure.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// TranscodeError reports a failed transcode job. ExitInfo carries the
// engine's exit diagnostics.
type TranscodeError struct {
	Format   Format
	ExitInfo string
	Err      error
}

func (e *TranscodeError) Error() string {
	if e.ExitInfo == "" {
		return fmt.Sprintf("%s transcode failed: %v", e.Format, e.Err)
	}
	return fmt.Sprintf("%s transcode failed: %s", e.Format, e.ExitInfo)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// IsValidationError reports whether err is a user-correctable upload rejection.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrNoFile) ||
		errors.Is(err, ErrUnsupportedType) ||
		errors.Is(err, ErrPayloadTooLarge)
}

// rejectionReason is the metrics label for a validation error.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrNoFile):
		return "no_file"
	case errors.Is(err, ErrUnsupportedType):
		return "unsupported_type"
	case errors.Is(err, ErrPayloadTooLarge):
		return "too_large"
	default:
		return "other"
	}
}

// failedFormatsMessage renders the failing formats, e.g. "hls, dash".
func failedFormatsMessage(formats []Format) string {
	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}
