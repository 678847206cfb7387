package framehub

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"

	"edgevision/metrics"
	"edgevision/model"
)

// Default reconnect delay between ingest faults, per spec §4.1.
const DefaultReconnectDelay = 2 * time.Second

// DecodeResolution is the fixed raw-frame resolution FrameHub decodes
// into. Cameras with a different native resolution are scaled by the
// decoder subprocess.
var DecodeResolution = struct{ W, H int }{W: 1280, H: 720}

// Ingester maintains one resilient RTSP decode for a single camera
// and publishes every decoded frame to a FrameStore under cameraID
// (spec §4.1). At most one Ingester runs per camera (spec §3
// invariant), enforced by the Orchestrator, not by this type.
type Ingester struct {
	CameraID       string
	StreamURL      string
	Store          *FrameStore
	ReconnectDelay time.Duration
	Log            zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewIngester constructs an Ingester; call Run in its own goroutine.
func NewIngester(cameraID, streamURL string, store *FrameStore, log zerolog.Logger) *Ingester {
	return &Ingester{
		CameraID:       cameraID,
		StreamURL:      streamURL,
		Store:          store,
		ReconnectDelay: DefaultReconnectDelay,
		Log:            log,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// Stop signals the ingest loop to exit at the next checkpoint.
func (in *Ingester) Stop() { close(in.stop) }

// Done is closed once the ingest loop has fully exited.
func (in *Ingester) Done() <-chan struct{} { return in.done }

func (in *Ingester) stopped() bool {
	select {
	case <-in.stop:
		return true
	default:
		return false
	}
}

// Run decodes the RTSP stream until Stop is called, writing every
// successfully decoded frame (or, on fault, an error envelope) to the
// FrameStore under in.CameraID. It never returns until stopped (spec
// §4.1 "Runs until stopped").
func (in *Ingester) Run(ctx context.Context) {
	defer close(in.done)

	var frameIndex uint64
	var lastProducedAt time.Time

	for !in.stopped() {
		err := in.decodeOnce(ctx, func(pixels []byte) {
			now := time.Now()
			frameIndex++

			measured := float32(0)
			if !lastProducedAt.IsZero() {
				dt := now.Sub(lastProducedAt).Seconds()
				if dt > 0 {
					measured = float32(1.0 / dt)
				}
			}
			lastProducedAt = now

			buf := make([]byte, len(pixels))
			copy(buf, pixels)

			in.Store.Put(in.CameraID, &model.Frame{
				Width:        DecodeResolution.W,
				Height:       DecodeResolution.H,
				FrameIndex:   frameIndex,
				ProducedAtNS: now.UnixNano(),
				MeasuredFPS:  measured,
				Pixels:       buf,
			})
			metrics.FramesIngested.WithLabelValues(in.CameraID).Inc()
		})
		if err != nil && !in.stopped() {
			in.Log.Warn().Err(err).Str("camera_id", in.CameraID).Msg("ingest fault, publishing error envelope")
			in.Store.Put(in.CameraID, &model.Frame{
				ProducedAtNS: time.Now().UnixNano(),
				Err:          err,
			})
			metrics.FramesSkipped.WithLabelValues(in.CameraID, "ingest_fault").Inc()
		}
		if in.stopped() {
			return
		}
		select {
		case <-time.After(in.ReconnectDelay):
		case <-in.stop:
			return
		}
	}
}

// decodeOnce opens the RTSP source with a TCP transport, pulls H.264
// access units via gortsplib (minimal jitter buffering — no extra
// reordering beyond what the RTP session itself guarantees), and pipes
// them through an ffmpeg subprocess that turns H.264 into raw BGR24
// frames (same external-subprocess-decoder idiom as the teacher's
// cvpipe.Pipeline, swapped from GStreamer to ffmpeg to match the
// single-hop RTSP-already-terminated-by-gortsplib case).
func (in *Ingester) decodeOnce(ctx context.Context, onFrame func(pixels []byte)) error {
	u, err := base.ParseURL(in.StreamURL)
	if err != nil {
		return fmt.Errorf("parse stream url: %w", err)
	}

	client := &gortsplib.Client{
		Transport: transportPtr(gortsplib.TransportTCP),
	}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return fmt.Errorf("rtsp start: %w", err)
	}
	defer client.Close()

	desc, _, err := client.Describe(u)
	if err != nil {
		return fmt.Errorf("rtsp describe: %w", err)
	}

	var h264 *format.H264
	media := desc.FindFormat(&h264)
	if media == nil {
		return fmt.Errorf("no H264 media in stream")
	}

	decoder, err := h264.CreateDecoder()
	if err != nil {
		return fmt.Errorf("create h264 rtp decoder: %w", err)
	}

	if _, err := client.Setup(desc.BaseURL, media, 0, 0); err != nil {
		return fmt.Errorf("rtsp setup: %w", err)
	}

	dec, err := startFFmpegDecoder(ctx, DecodeResolution.W, DecodeResolution.H)
	if err != nil {
		return fmt.Errorf("start decoder subprocess: %w", err)
	}
	defer dec.Close()

	decodeErrCh := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		decodeErrCh <- dec.readFrames(onFrame)
	}()

	client.OnPacketRTP(media, h264, func(pkt *rtp.Packet) {
		aus, _, err := decoder.Decode(pkt)
		if err != nil {
			return
		}
		for _, au := range aus {
			_ = dec.writeNALU(au)
		}
	})

	if _, err := client.Play(nil); err != nil {
		return fmt.Errorf("rtsp play: %w", err)
	}

	select {
	case <-in.stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case err := <-decodeErrCh:
		wg.Wait()
		return err
	}
}

func transportPtr(t gortsplib.Transport) *gortsplib.Transport { return &t }

// ffmpegDecoder wraps an ffmpeg subprocess that accepts an Annex-B
// H.264 elementary stream on stdin and emits raw BGR24 frames on
// stdout, mirroring the teacher's gstreamer subprocess pattern in
// cvpipe.Pipeline but for the RTSP-ingest leg.
type ffmpegDecoder struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	w, h   int
}

func startFFmpegDecoder(ctx context.Context, w, h int) (*ffmpegDecoder, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-f", "h264", "-i", "pipe:0",
		"-vf", fmt.Sprintf("scale=%d:%d", w, h),
		"-f", "rawvideo", "-pix_fmt", "bgr24",
		"pipe:1",
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
	return &ffmpegDecoder{cmd: cmd, stdin: stdin, stdout: stdout, w: w, h: h}, nil
}

func (d *ffmpegDecoder) writeNALU(nalu []byte) error {
	startCode := []byte{0, 0, 0, 1}
	if _, err := d.stdin.Write(startCode); err != nil {
		return err
	}
	_, err := d.stdin.Write(nalu)
	return err
}

func (d *ffmpegDecoder) readFrames(onFrame func([]byte)) error {
	reader := bufio.NewReader(d.stdout)
	frameSize := d.w * d.h * 3
	buf := make([]byte, frameSize)
	for {
		if _, err := io.ReadFull(reader, buf); err != nil {
			return err
		}
		onFrame(buf)
	}
}

func (d *ffmpegDecoder) Close() {
	_ = d.stdin.Close()
	_ = d.stdout.Close()
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	_ = d.cmd.Wait()
}
