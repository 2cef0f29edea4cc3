package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// maxEngineOutput bounds how much engine output is kept for diagnostics.
const maxEngineOutput = 4 << 10

// Engine runs the external transcoding engine with a format-specific argument
// set. workDir is the process working directory.
type Engine interface {
	Run(ctx context.Context, workDir string, args []string) error
}

// ExitError is returned when the engine exits nonzero or cannot be started.
type ExitError struct {
	Code   int    // -1 if the process never produced an exit status
	Output string // tail of combined stdout/stderr
	Err    error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("engine exited with code %d: %v", e.Code, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// FFmpeg invokes an ffmpeg binary.
type FFmpeg struct {
	path string
	log  *slog.Logger
}

// NewFFmpeg returns an Engine running the binary at path (looked up in PATH
// when it has no separator).
func NewFFmpeg(path string, log *slog.Logger) *FFmpeg {
	return &FFmpeg{path: path, log: log}
}

// Run implements Engine. Cancelling ctx kills the process.
func (f *FFmpeg) Run(ctx context.Context, workDir string, args []string) error {
	full := append([]string{"-hide_banner", "-nostdin"}, args...)
	cmd := exec.CommandContext(ctx, f.path, full...)
	cmd.Dir = workDir

	f.log.Debug("engine start", slog.String("dir", workDir), slog.String("args", strings.Join(full, " ")))
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	code := -1
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		code = ee.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w (%v)", ctxErr, err)
	}
	return &ExitError{Code: code, Output: tail(string(out), maxEngineOutput), Err: err}
}

// exitInfo renders an engine failure for TranscodeError.ExitInfo: the exit
// code plus the last non-empty output line, which is where ffmpeg reports the
// actual cause.
func exitInfo(err error) string {
	var ee *ExitError
	if !errors.As(err, &ee) {
		return err.Error()
	}
	info := fmt.Sprintf("exit code %d", ee.Code)
	if line := lastLine(ee.Output); line != "" {
		info += ": " + line
	} else if ee.Err != nil {
		info += ": " + ee.Err.Error()
	}
	return info
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
