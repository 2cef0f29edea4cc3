package orchestrator

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultHLSSegmentSeconds is the nominal HLS segment duration.
const DefaultHLSSegmentSeconds = 10

// DASH encoding parameters. A closed 60-frame GOP with scene-cut detection off
// puts keyframes exactly on segment boundaries, which template addressing needs.
const (
	dashVideoBitrate = "1500k"
	dashAudioBitrate = "128k"
	dashGOPSize      = "60"
	dashInitSegment  = "init-$RepresentationID$.m4s"
	dashMediaSegment = "chunk-$RepresentationID$-$Number%05d$.m4s"
)

// Job transcodes one input into one format's output tree.
type Job interface {
	Format() Format
	Run(ctx context.Context, inputPath, outputDir string) error
}

// HLSJob produces outputDir/playlist.m3u8 with its segments alongside.
type HLSJob struct {
	Engine         Engine
	SegmentSeconds int
	Timeout        time.Duration // zero means no limit
	Log            *slog.Logger
}

func (j *HLSJob) Format() Format { return FormatHLS }

// Args returns the engine arguments for one HLS run.
func (j *HLSJob) Args(inputPath, outputDir string) []string {
	seg := j.SegmentSeconds
	if seg <= 0 {
		seg = DefaultHLSSegmentSeconds
	}
	return []string{
		"-y",
		"-i", inputPath,
		"-c:v", "libx264",
		"-profile:v", "baseline",
		"-level", "3.0",
		"-start_number", "0",
		"-hls_time", strconv.Itoa(seg),
		"-hls_list_size", "0",
		"-f", "hls",
		filepath.Join(outputDir, HLSPlaylistName),
	}
}

// Run implements Job.
func (j *HLSJob) Run(ctx context.Context, inputPath, outputDir string) error {
	return runJob(ctx, jobSpec{
		format:  FormatHLS,
		engine:  j.Engine,
		timeout: j.Timeout,
		log:     j.Log,
		args:    j.Args,
		verify:  verifyHLSOutput,
	}, inputPath, outputDir)
}

// DASHJob produces outputDir/manifest.mpd with template-named init and chunk
// segments, one adaptation set for video and one for audio.
type DASHJob struct {
	Engine  Engine
	Timeout time.Duration
	Log     *slog.Logger
}

func (j *DASHJob) Format() Format { return FormatDASH }

// Args returns the engine arguments for one DASH run.
func (j *DASHJob) Args(inputPath, outputDir string) []string {
	return []string{
		"-y",
		"-i", inputPath,
		"-map", "0:v:0",
		"-map", "0:a:0",
		"-c:v", "libx264",
		"-b:v", dashVideoBitrate,
		"-keyint_min", dashGOPSize,
		"-g", dashGOPSize,
		"-sc_threshold", "0",
		"-bf", "1",
		"-c:a", "aac",
		"-b:a", dashAudioBitrate,
		"-f", "dash",
		"-use_timeline", "1",
		"-use_template", "1",
		"-init_seg_name", dashInitSegment,
		"-media_seg_name", dashMediaSegment,
		"-adaptation_sets", "id=0,streams=v id=1,streams=a",
		filepath.Join(outputDir, DASHManifestName),
	}
}

// Run implements Job.
func (j *DASHJob) Run(ctx context.Context, inputPath, outputDir string) error {
	return runJob(ctx, jobSpec{
		format:  FormatDASH,
		engine:  j.Engine,
		timeout: j.Timeout,
		log:     j.Log,
		args:    j.Args,
		verify:  verifyDASHOutput,
	}, inputPath, outputDir)
}

type jobSpec struct {
	format  Format
	engine  Engine
	timeout time.Duration
	log     *slog.Logger
	args    func(inputPath, outputDir string) []string
	verify  func(dir string) error
}

// runJob is shared by both formats. The engine writes into a hidden staging
// sibling of outputDir, which is renamed into place only after the output
// verifies, so a format's manifest exists only when the whole tree is
// complete. A failed run removes both directories.
func runJob(ctx context.Context, spec jobSpec, inputPath, outputDir string) error {
	staging := stagingDir(outputDir)
	fail := func(info string, err error) error {
		for _, dir := range []string{staging, outputDir} {
			if rmErr := os.RemoveAll(dir); rmErr != nil && spec.log != nil {
				spec.log.Warn("remove failed output",
					slog.String("format", string(spec.format)),
					slog.String("dir", dir),
					slog.String("error", rmErr.Error()))
			}
		}
		return &TranscodeError{Format: spec.format, ExitInfo: info, Err: err}
	}

	// The engine runs inside the staging dir, so both paths must be absolute.
	absIn, err := filepath.Abs(inputPath)
	if err != nil {
		return fail("", err)
	}
	absOut, err := filepath.Abs(outputDir)
	if err != nil {
		return fail("", err)
	}
	absStaging := stagingDir(absOut)
	if err := os.RemoveAll(absStaging); err != nil {
		return fail("", &StorageError{Op: "remove", Path: absStaging, Err: err})
	}
	if err := os.MkdirAll(absStaging, dirPerm); err != nil {
		return fail("", &StorageError{Op: "mkdir", Path: absStaging, Err: err})
	}

	if spec.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.timeout)
		defer cancel()
	}

	if err := spec.engine.Run(ctx, absStaging, spec.args(absIn, absStaging)); err != nil {
		return fail(exitInfo(err), err)
	}
	if err := spec.verify(absStaging); err != nil {
		return fail("output check: "+err.Error(), err)
	}

	// outputDir may already exist empty; anything else in the way fails here.
	if err := os.Remove(absOut); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fail("publish output", &StorageError{Op: "remove", Path: absOut, Err: err})
	}
	if err := os.Rename(absStaging, absOut); err != nil {
		return fail("publish output", &StorageError{Op: "rename", Path: absOut, Err: err})
	}
	return nil
}

// stagingDir is the hidden sibling a job writes into, e.g. <root>/.hls.partial.
func stagingDir(outputDir string) string {
	return filepath.Join(filepath.Dir(outputDir), "."+filepath.Base(outputDir)+".partial")
}
