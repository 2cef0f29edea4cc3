package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const hlsFixture = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:10.000000,
playlist0.ts
#EXTINF:4.000000,
playlist1.ts
#EXT-X-ENDLIST
`

const dashFixture = `<?xml version="1.0" encoding="utf-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" mediaPresentationDuration="PT14.0S">
  <Period id="0" start="PT0.0S">
    <AdaptationSet id="0" contentType="video" segmentAlignment="true">
      <Representation id="0" mimeType="video/mp4" codecs="avc1.64001f" bandwidth="1500000">
        <SegmentTemplate timescale="12800" initialization="init-$RepresentationID$.m4s" media="chunk-$RepresentationID$-$Number%05d$.m4s" startNumber="1"/>
      </Representation>
    </AdaptationSet>
    <AdaptationSet id="1" contentType="audio" segmentAlignment="true">
      <Representation id="1" mimeType="audio/mp4" codecs="mp4a.40.2" bandwidth="128000">
        <SegmentTemplate timescale="44100" initialization="init-$RepresentationID$.m4s" media="chunk-$RepresentationID$-$Number%05d$.m4s" startNumber="1"/>
      </Representation>
    </AdaptationSet>
  </Period>
</MPD>
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *AssetStore {
	t.Helper()
	dir := t.TempDir()
	return NewAssetStore(filepath.Join(dir, "uploads"), filepath.Join(dir, "streams"))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// writeHLSTree writes a complete HLS output into dir.
func writeHLSTree(dir string) error {
	files := map[string]string{
		HLSPlaylistName: hlsFixture,
		"playlist0.ts":  strings.Repeat("T", 188),
		"playlist1.ts":  strings.Repeat("S", 188),
	}
	return writeTree(dir, files)
}

// writeDASHTree writes a complete DASH output into dir.
func writeDASHTree(dir string) error {
	files := map[string]string{
		DASHManifestName:    dashFixture,
		"init-0.m4s":        "video-init",
		"init-1.m4s":        "audio-init",
		"chunk-0-00001.m4s": "0123456789abcdef",
		"chunk-1-00001.m4s": "audio-chunk",
	}
	return writeTree(dir, files)
}

func writeTree(dir string, files map[string]string) error {
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// fakeEngine stands in for ffmpeg: it decides the format from the output
// argument and writes a fixture tree into workDir, or fails on request.
type fakeEngine struct {
	mu    sync.Mutex
	fail  map[Format]bool
	delay map[Format]time.Duration
	calls []fakeCall

	active    int
	maxActive int
}

type fakeCall struct {
	format  Format
	workDir string
	args    []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{fail: map[Format]bool{}, delay: map[Format]time.Duration{}}
}

func (e *fakeEngine) Run(ctx context.Context, workDir string, args []string) error {
	out := args[len(args)-1]
	format := FormatHLS
	if strings.HasSuffix(out, DASHManifestName) {
		format = FormatDASH
	}

	e.mu.Lock()
	e.calls = append(e.calls, fakeCall{format: format, workDir: workDir, args: args})
	e.active++
	if e.active > e.maxActive {
		e.maxActive = e.active
	}
	fail := e.fail[format]
	delay := e.delay[format]
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &ExitError{Code: -1, Err: ctx.Err()}
		}
	}

	if fail {
		// Leave a partial manifest behind, as a crashing engine would.
		os.WriteFile(out, []byte("partial"), 0o644)
		return &ExitError{Code: 1, Output: "frame=  10\nsimulated " + string(format) + " failure\n"}
	}
	if format == FormatDASH {
		return writeDASHTree(workDir)
	}
	return writeHLSTree(workDir)
}

func (e *fakeEngine) callsFor(f Format) []fakeCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []fakeCall
	for _, c := range e.calls {
		if c.format == f {
			out = append(out, c)
		}
	}
	return out
}

func (e *fakeEngine) peak() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxActive
}

func testJobs(engine Engine) []Job {
	return []Job{
		&HLSJob{Engine: engine, SegmentSeconds: 10, Log: testLogger()},
		&DASHJob{Engine: engine, Log: testLogger()},
	}
}

// testPipeline bundles a fully wired service over a temp store.
type testPipeline struct {
	store    *AssetStore
	engine   *fakeEngine
	receiver *Receiver
	coord    *Coordinator
	svc      *Service
}

func newTestPipeline(t *testing.T, maxBytes int64) *testPipeline {
	t.Helper()
	store := newTestStore(t)
	engine := newFakeEngine()
	receiver := NewReceiver(store, ReceiverConfig{
		MaxBytes:          maxBytes,
		AllowedExtensions: []string{"mp4", "avi", "mov", "mkv", "wmv", "flv", "webm"},
	}, testLogger())
	coord := NewCoordinator(store, testJobs(engine), 2, testLogger(), nil)
	return &testPipeline{
		store:    store,
		engine:   engine,
		receiver: receiver,
		coord:    coord,
		svc:      NewService(receiver, coord, testLogger(), nil),
	}
}

// dirEntries lists names in dir, or nil if it does not exist.
func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatal(err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}
