package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestReceiver(t *testing.T, maxBytes int64) (*Receiver, *AssetStore) {
	t.Helper()
	store := newTestStore(t)
	r := NewReceiver(store, ReceiverConfig{
		MaxBytes:          maxBytes,
		AllowedExtensions: []string{"mp4", ".MKV", "webm"},
	}, testLogger())
	return r, store
}

func TestReceiver_Validate_order(t *testing.T) {
	r, _ := newTestReceiver(t, 10)

	cases := []struct {
		name     string
		filename string
		size     int64
		want     error
	}{
		{"no file", "", 0, ErrNoFile},
		{"no file even if huge", "", 1 << 40, ErrNoFile},
		{"bad type", "clip.txt", 1, ErrUnsupportedType},
		{"bad type before size", "clip.txt", 1 << 40, ErrUnsupportedType},
		{"no extension", "clip", 1, ErrUnsupportedType},
		{"too large", "clip.mp4", 11, ErrPayloadTooLarge},
		{"upper case extension", "CLIP.MP4", 10, nil},
		{"allow-list with dot and case", "movie.mkv", 1, nil},
		{"last dot wins", "archive.mp4.txt", 1, ErrUnsupportedType},
	}
	for _, tc := range cases {
		err := r.Validate(tc.filename, tc.size)
		if tc.want == nil && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestReceiver_Receive_writes_sanitized_file(t *testing.T) {
	r, store := newTestReceiver(t, 1024)

	up, err := r.Receive(context.Background(), "my clip (final)#1.mp4", 5, strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if filepath.Base(up.RawPath) != "my_clip__final__1.mp4" {
		t.Errorf("sanitized name = %s", filepath.Base(up.RawPath))
	}
	if filepath.Dir(up.RawPath) != filepath.Join(store.UploadRoot(), string(up.Asset.ID)) {
		t.Errorf("raw path %s not under asset raw dir", up.RawPath)
	}
	data, err := os.ReadFile(up.RawPath)
	if err != nil || string(data) != "hello" {
		t.Errorf("raw file = %q, %v", data, err)
	}
	if up.Size != 5 || up.Filename != "my clip (final)#1.mp4" {
		t.Errorf("unexpected upload %+v", up)
	}
	if _, err := os.Stat(up.Asset.OutputRoot); err != nil {
		t.Errorf("output root missing: %v", err)
	}
}

func TestReceiver_Receive_path_like_name_stays_in_asset_dir(t *testing.T) {
	r, _ := newTestReceiver(t, 1024)

	up, err := r.Receive(context.Background(), "../../etc/evil.mp4", 1, strings.NewReader("x"))
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if filepath.Dir(up.RawPath) != up.Asset.RawDir {
		t.Errorf("file escaped raw dir: %s", up.RawPath)
	}
	if filepath.Base(up.RawPath) != ".._.._etc_evil.mp4" {
		t.Errorf("sanitized name = %s", filepath.Base(up.RawPath))
	}
}

func TestReceiver_Receive_rejects_without_creating_dirs(t *testing.T) {
	r, store := newTestReceiver(t, 4)

	for _, tc := range []struct {
		filename string
		size     int64
	}{
		{"clip.txt", 1},
		{"clip.mp4", 5},
		{"", 0},
	} {
		if _, err := r.Receive(context.Background(), tc.filename, tc.size, strings.NewReader("data!")); err == nil {
			t.Errorf("%q: expected rejection", tc.filename)
		}
	}
	if names := dirEntries(t, store.UploadRoot()); len(names) != 0 {
		t.Errorf("upload dirs created: %v", names)
	}
	if names := dirEntries(t, store.StreamRoot()); len(names) != 0 {
		t.Errorf("stream dirs created: %v", names)
	}
}

func TestReceiver_Receive_observed_size_over_limit_cleans_up(t *testing.T) {
	r, store := newTestReceiver(t, 4)

	// Declared size lies; the body is larger than the ceiling.
	_, err := r.Receive(context.Background(), "clip.mp4", 2, strings.NewReader("0123456789"))
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if names := dirEntries(t, store.UploadRoot()); len(names) != 0 {
		t.Errorf("upload dir not cleaned: %v", names)
	}
	if names := dirEntries(t, store.StreamRoot()); len(names) != 0 {
		t.Errorf("stream dir not cleaned: %v", names)
	}
}

type failingReader struct{ after int }

func (f *failingReader) Read(p []byte) (int, error) {
	if f.after <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	n := min(len(p), f.after)
	f.after -= n
	return n, nil
}

func TestReceiver_Receive_broken_body_cleans_up(t *testing.T) {
	r, store := newTestReceiver(t, 1024)

	_, err := r.Receive(context.Background(), "clip.mp4", 100, &failingReader{after: 10})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected read error, got %v", err)
	}
	if names := dirEntries(t, store.UploadRoot()); len(names) != 0 {
		t.Errorf("upload dir not cleaned: %v", names)
	}
}

func TestReceiver_Receive_cancelled_context_cleans_up(t *testing.T) {
	r, store := newTestReceiver(t, 1024)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Receive(ctx, "clip.mp4", 3, bytes.NewReader([]byte("abc")))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if names := dirEntries(t, store.StreamRoot()); len(names) != 0 {
		t.Errorf("stream dir not cleaned: %v", names)
	}
}

func TestReceiver_Receive_storage_error(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "streams")
	writeFile(t, blocker, "file in the way")
	store := NewAssetStore(filepath.Join(dir, "uploads"), blocker)
	r := NewReceiver(store, ReceiverConfig{MaxBytes: 10, AllowedExtensions: []string{"mp4"}}, testLogger())

	_, err := r.Receive(context.Background(), "clip.mp4", 1, strings.NewReader("x"))
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"video.mp4":         "video.mp4",
		"my video.MOV":      "my_video.MOV",
		"a/b\\c.mkv":        "a_b_c.mkv",
		"ünïcode.webm":      "_n_code.webm",
		"semi;colon&amp.av": "semi_colon_amp.av",
	}
	for in, want := range cases {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtension(t *testing.T) {
	cases := map[string]string{
		"a.MP4":     "mp4",
		"a.tar.gz":  "gz",
		"noext":     "",
		"trailing.": "",
	}
	for in, want := range cases {
		if got := Extension(in); got != want {
			t.Errorf("Extension(%q) = %q, want %q", in, got, want)
		}
	}
}
