package wsfmp4

import "encoding/binary"

// boxScanner pulls MP4 boxes (32-bit big-endian size + 4-byte ASCII
// type, extended 64-bit size when size==1) out of a byte stream and
// accumulates the leading ftyp+moov init segment (spec §4.8
// "Init-segment capture").
type boxScanner struct {
	buf       []byte
	init      []byte
	initReady bool
}

func newBoxScanner() *boxScanner {
	return &boxScanner{}
}

// feed appends chunk to the internal buffer and advances the parse.
// Once moov has been fully consumed, feed becomes a no-op passthrough
// for any remaining trailing bytes in the same call (the caller should
// forward leftover media bytes on to the broadcaster itself; feed only
// tracks what belongs to the init segment).
func (b *boxScanner) feed(chunk []byte) (mediaTail []byte) {
	if b.initReady {
		return chunk
	}
	b.buf = append(b.buf, chunk...)

	for {
		box, size, ok := peekBox(b.buf)
		if !ok {
			return nil
		}
		if len(b.buf) < size {
			// incomplete box, wait for more bytes
			return nil
		}
		b.init = append(b.init, b.buf[:size]...)
		consumed := b.buf[:size]
		b.buf = b.buf[size:]
		if box == "moov" {
			b.initReady = true
			_ = consumed
			tail := b.buf
			b.buf = nil
			return tail
		}
	}
}

// peekBox reads the box header at the front of buf, returning its
// 4-byte ASCII type and total size (header included). ok is false if
// buf doesn't yet contain a complete header.
func peekBox(buf []byte) (boxType string, size int, ok bool) {
	if len(buf) < 8 {
		return "", 0, false
	}
	sz32 := binary.BigEndian.Uint32(buf[0:4])
	typ := string(buf[4:8])
	switch sz32 {
	case 0:
		// "extends to EOF" — not expected for a live fragmented stream
		// (spec §4.8); treat as unparseable and let the caller retry
		// once more data arrives.
		return "", 0, false
	case 1:
		if len(buf) < 16 {
			return "", 0, false
		}
		sz64 := binary.BigEndian.Uint64(buf[8:16])
		return typ, int(sz64), true
	default:
		return typ, int(sz32), true
	}
}

// InitSegment returns the accumulated ftyp+moov bytes, or nil if not
// yet ready.
func (b *boxScanner) InitSegment() []byte {
	if !b.initReady {
		return nil
	}
	return b.init
}

// Ready reports whether the moov box has been fully captured.
func (b *boxScanner) Ready() bool {
	return b.initReady
}
