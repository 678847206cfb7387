// Package videoenc provides the two short-lived encode paths the core
// needs: a single-frame JPEG encode for immediate event notifications,
// and a per-chunk MP4 encode for event sessions (spec §4.6). This is
// deliberately a distinct, short-lived process per chunk rather than
// the long-running WsFmp4 encoder (spec §9 "Dual-encoder avoidance").
package videoenc

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"gocv.io/x/gocv"

	"edgevision/model"
)

const jpegQuality = 85

// EncodeJPEG encodes a single raw frame to a quality-85 JPEG, used for
// the immediate event notification (spec §4.6 "Immediate notification
// vs chunk").
func EncodeJPEG(frame *model.Frame) ([]byte, error) {
	if !frame.Valid() {
		return nil, fmt.Errorf("encode jpeg: invalid frame envelope")
	}
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Pixels)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: frame to mat: %w", err)
	}
	defer mat.Close()

	buf, err := gocv.IMEncodeWithParams(".jpg", mat, []int{gocv.IMWriteJpegQuality, jpegQuality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

// EncodeChunkMP4 renders a ChunkJob's buffered frames into H.264 MP4
// bytes using an ffmpeg subprocess, same rawvideo-stdin idiom as
// FrameHub's decode leg, but in reverse (raw BGR24 in, MP4 out). The
// process writes to a short-lived temp file rather than streaming MP4
// out over a pipe, since the fragmented/non-seekable muxer needed for
// pipe output isn't required for a finite, bounded chunk.
func EncodeChunkMP4(ctx context.Context, job model.ChunkJob) ([]byte, error) {
	if len(job.Frames) == 0 {
		return nil, fmt.Errorf("encode chunk: no frames")
	}

	tmp, err := os.CreateTemp("", "chunk-*.mp4")
	if err != nil {
		return nil, fmt.Errorf("encode chunk: temp file: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(tmpPath)

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error", "-y",
		"-f", "rawvideo", "-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", job.Width, job.Height),
		"-r", fmt.Sprintf("%d", job.FPS),
		"-i", "pipe:0",
		"-c:v", "libx264", "-preset", "ultrafast", "-pix_fmt", "yuv420p",
		tmpPath,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("encode chunk: stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("encode chunk: start ffmpeg: %w", err)
	}

	writeErrCh := make(chan error, 1)
	go func() {
		for _, rf := range job.Frames {
			if rf.Frame == nil || !rf.Frame.Valid() {
				continue
			}
			if _, err := stdin.Write(rf.Frame.Pixels); err != nil {
				writeErrCh <- err
				_ = stdin.Close()
				return
			}
		}
		writeErrCh <- nil
		_ = stdin.Close()
	}()

	writeErr := <-writeErrCh
	waitErr := cmd.Wait()
	if writeErr != nil {
		return nil, fmt.Errorf("encode chunk: write frames: %w", writeErr)
	}
	if waitErr != nil {
		return nil, fmt.Errorf("encode chunk: ffmpeg: %w", waitErr)
	}

	data, err := os.ReadFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("encode chunk: read output: %w", err)
	}
	return data, nil
}

// PersistChunk writes chunk bytes to a local file under dir, named per
// spec §4.6's convention, returning the path written.
func PersistChunk(dir string, job model.ChunkJob, data []byte, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("persist chunk: mkdir: %w", err)
	}
	suffix := "partial"
	if job.IsFinal {
		suffix = "final"
	}
	name := fmt.Sprintf("%s_chunk%03d_%d_%s.mp4", job.SessionID, job.ChunkNumber, at.Unix(), suffix)
	path := dir + string(os.PathSeparator) + name
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("persist chunk: write: %w", err)
	}
	return path, nil
}
