package webrtcpub

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"edgevision/framehub"
)

const backoffOnEmpty = 50 * time.Millisecond

// annexBEncoder is a continuous ffmpeg subprocess turning raw BGR24
// frames into an Annex-B H.264 elementary stream, the mirror image of
// FrameHub's ffmpegDecoder (and grounded on the same cvpipe.Pipeline
// subprocess idiom, generalized from GStreamer to ffmpeg).
type annexBEncoder struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	nalus chan []byte
}

func startAnnexBEncoder(ctx context.Context, w, h, fps int) (*annexBEncoder, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo", "-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", w, h),
		"-r", fmt.Sprintf("%d", fps),
		"-i", "pipe:0",
		"-c:v", "libx264", "-preset", "ultrafast", "-tune", "zerolatency",
		"-pix_fmt", "yuv420p", "-bsf:v", "h264_mp4toannexb",
		"-f", "h264", "pipe:1",
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	e := &annexBEncoder{cmd: cmd, stdin: stdin, nalus: make(chan []byte, 64)}
	go e.readNALUs(stdout)
	return e, nil
}

func (e *annexBEncoder) writeFrame(pixels []byte) error {
	_, err := e.stdin.Write(pixels)
	return err
}

// readNALUs splits the Annex-B stream on start codes and publishes
// each NALU to e.nalus.
func (e *annexBEncoder) readNALUs(stdout io.ReadCloser) {
	defer close(e.nalus)
	reader := bufio.NewReaderSize(stdout, 1<<20)
	var buf bytes.Buffer
	chunk := make([]byte, 4096)
	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			extractNALUs(&buf, e.nalus)
		}
		if err != nil {
			return
		}
	}
}

// extractNALUs pulls complete start-code-delimited NALUs out of buf,
// leaving a trailing partial unit (if any) for the next read.
func extractNALUs(buf *bytes.Buffer, out chan<- []byte) {
	data := buf.Bytes()
	startCode := []byte{0, 0, 0, 1}
	var offsets []int
	for i := 0; i+4 <= len(data); i++ {
		if bytes.Equal(data[i:i+4], startCode) {
			offsets = append(offsets, i)
		}
	}
	if len(offsets) < 2 {
		return
	}
	for i := 0; i < len(offsets)-1; i++ {
		nalu := make([]byte, offsets[i+1]-offsets[i]-4)
		copy(nalu, data[offsets[i]+4:offsets[i+1]])
		select {
		case out <- nalu:
		default:
		}
	}
	kept := data[offsets[len(offsets)-1]:]
	remainder := make([]byte, len(kept))
	copy(remainder, kept)
	buf.Reset()
	buf.Write(remainder)
}

func (e *annexBEncoder) Close() {
	_ = e.stdin.Close()
	if e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
	_ = e.cmd.Wait()
}

// runTrack polls store[key] for new frames, dedupes by frame_index
// (spec §4.7 "Track behavior"), feeds them to a continuous H.264
// encoder, and writes each emitted NALU as a sample to track with a
// PTS-derived duration. Runs until ctx is cancelled.
func runTrack(ctx context.Context, store *framehub.FrameStore, key string, track *webrtc.TrackLocalStaticSample, fps int, forceKeyframe <-chan struct{}) {
	var lastIndex uint64
	var enc *annexBEncoder
	sampleDuration := time.Second / time.Duration(maxInt(fps, 1))

	defer func() {
		if enc != nil {
			enc.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-forceKeyframe:
			// A viewer's receiver asked for a fresh IDR (PLI/FIR). The
			// encoder has no live force-keyframe knob over a raw pipe,
			// so restart it; x264 always opens a GOP with an IDR frame.
			if enc != nil {
				enc.Close()
				enc = nil
			}
		default:
		}

		frame := store.Get(key)
		if frame == nil || frame.Err != nil || frame.FrameIndex == lastIndex {
			time.Sleep(backoffOnEmpty)
			continue
		}
		lastIndex = frame.FrameIndex

		if enc == nil {
			var err error
			enc, err = startAnnexBEncoder(ctx, frame.Width, frame.Height, fps)
			if err != nil {
				time.Sleep(backoffOnEmpty)
				continue
			}
			go drainSamples(ctx, enc, track, sampleDuration)
		}
		if err := enc.writeFrame(frame.Pixels); err != nil {
			enc.Close()
			enc = nil
		}
	}
}

func drainSamples(ctx context.Context, enc *annexBEncoder, track *webrtc.TrackLocalStaticSample, duration time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case nalu, ok := <-enc.nalus:
			if !ok {
				return
			}
			_ = track.WriteSample(media.Sample{Data: nalu, Duration: duration})
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
