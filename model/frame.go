package model

import "time"

// PixelFormat is always BGR8 in this system — gocv's native Mat layout.
const PixelFormat = "BGR8"

// Frame is the value FrameStore holds for a stream key. Exactly one
// of Pixels or Err is meaningful at a time; a non-nil Err replaces a
// frame envelope when ingest is broken (spec §3).
type Frame struct {
	Width, Height int
	FrameIndex    uint64  // monotonic per source, starts at 1
	ProducedAtNS  int64   // wall-clock Unix nanoseconds at publish
	SourceFPSHint float32 // opportunistic, 0 if unknown
	MeasuredFPS   float32
	Pixels        []byte // len == Width*Height*3, BGR8

	Err error
}

// Valid reports whether this envelope carries a usable frame rather
// than an error placeholder.
func (f *Frame) Valid() bool {
	return f != nil && f.Err == nil && f.Pixels != nil
}

// ByteSize returns the expected pixel buffer size for this frame's
// declared dimensions.
func (f *Frame) ByteSize() int {
	return f.Width * f.Height * 3
}

// ProducedAtNSTime converts ProducedAtNS to a time.Time for message
// timestamps.
func (f *Frame) ProducedAtNSTime() time.Time {
	if f == nil {
		return time.Time{}
	}
	return time.Unix(0, f.ProducedAtNS)
}
