package stream

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
)

// Process is a handle on one running transcoder child.
type Process interface {
	// Wait blocks until the process exits.
	Wait() error
	// Kill terminates the process. Wait still returns afterwards.
	Kill() error
}

// Runner launches transcoder processes. The supervisor only ever talks
// to this interface; tests inject fakes.
type Runner interface {
	Start(ctx context.Context, cameraID, sourceURL, outDir string) (Process, error)
}

// FFmpegRunner launches ffmpeg to pull RTSP and emit a rolling HLS
// window into the camera's live directory.
type FFmpegRunner struct {
	BinPath        string
	SegmentSeconds int
	RetainSegments int
}

func NewFFmpegRunner(binPath string, segmentSeconds, retainSegments int) *FFmpegRunner {
	if binPath == "" {
		binPath = "ffmpeg"
	}
	return &FFmpegRunner{
		BinPath:        binPath,
		SegmentSeconds: segmentSeconds,
		RetainSegments: retainSegments,
	}
}

func (r *FFmpegRunner) Start(ctx context.Context, cameraID, sourceURL, outDir string) (Process, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-rtsp_transport", "tcp",
		"-i", sourceURL,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-an",
		"-f", "hls",
		"-hls_time", strconv.Itoa(r.SegmentSeconds),
		"-hls_list_size", strconv.Itoa(r.RetainSegments),
		"-hls_flags", "delete_segments+append_list",
		"-hls_segment_filename", filepath.Join(outDir, "seg-%d.ts"),
		filepath.Join(outDir, "manifest.m3u8"),
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The caller's context only bounds startup. The child must outlive
	// the acquiring request: teardown happens through Kill when the
	// supervisor stops or restarts the session.
	cmd := exec.Command(r.BinPath, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg for camera %s: %w", cameraID, err)
	}
	return &ffmpegProcess{cmd: cmd}, nil
}

type ffmpegProcess struct {
	cmd *exec.Cmd
}

func (p *ffmpegProcess) Wait() error {
	return p.cmd.Wait()
}

func (p *ffmpegProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}
