// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package snapcast

import (
	"bytes"

	"github.com/juju/errors"
)

// Framer recovers complete messages from a byte stream whose reads do not
// line up with message boundaries. Write appends a chunk; Next returns the
// next complete message, or nil if more bytes are needed.
//
// In FramingJSON mode a message ends when the brace depth, counted outside
// string literals, returns to zero. Scan state is kept between calls so
// each byte is examined once.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	mode    Framing
	maxSize int

	buf      []byte
	pos      int
	start    int
	depth    int
	inString bool
	escaped  bool
	started  bool
}

// NewFramer returns a Framer. maxSize bounds the bytes buffered for a
// single incomplete message; zero means unbounded.
func NewFramer(mode Framing, maxSize int) *Framer {
	if mode == "" {
		mode = FramingJSON
	}
	return &Framer{mode: mode, maxSize: maxSize}
}

// Write buffers p. It never fails.
func (f *Framer) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)
	return len(p), nil
}

// Buffered returns the number of bytes held.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Reset discards all buffered bytes and scan state.
func (f *Framer) Reset() {
	f.buf = f.buf[:0]
	f.resetScan()
}

// Next returns the next complete message without its trailing newline.
// It returns nil, nil when no message is complete yet, and
// ErrMessageTooLarge once an incomplete message exceeds the size bound.
func (f *Framer) Next() ([]byte, error) {
	for {
		var end int
		if f.mode == FramingLines {
			end = f.scanLine()
		} else {
			end = f.scanObject()
		}
		if end < 0 {
			if f.maxSize > 0 && len(f.buf) > f.maxSize {
				return nil, errors.Annotatef(ErrMessageTooLarge, "%d bytes buffered, limit %d", len(f.buf), f.maxSize)
			}
			return nil, nil
		}
		msg := bytes.TrimSpace(f.buf[f.start:end])
		out := make([]byte, len(msg))
		copy(out, msg)

		f.buf = append(f.buf[:0], f.buf[end:]...)
		f.resetScan()
		if len(out) > 0 {
			return out, nil
		}
	}
}

func (f *Framer) resetScan() {
	f.pos = 0
	f.start = 0
	f.depth = 0
	f.inString = false
	f.escaped = false
	f.started = false
}

// scanObject advances over the buffer and returns the end offset of a
// complete object (through one trailing newline if present), or -1. Bytes
// before the object's opening brace are dropped with it.
func (f *Framer) scanObject() int {
	for ; f.pos < len(f.buf); f.pos++ {
		c := f.buf[f.pos]
		if f.inString {
			switch {
			case f.escaped:
				f.escaped = false
			case c == '\\':
				f.escaped = true
			case c == '"':
				f.inString = false
			}
			continue
		}
		switch c {
		case '"':
			if f.started {
				f.inString = true
			}
		case '{':
			if !f.started {
				f.start = f.pos
			}
			f.depth++
			f.started = true
		case '}':
			if f.depth == 0 {
				continue
			}
			f.depth--
			if f.depth == 0 && f.started {
				end := f.pos + 1
				if end < len(f.buf) && f.buf[end] == '\r' {
					end++
				}
				if end < len(f.buf) && f.buf[end] == '\n' {
					end++
				}
				return end
			}
		}
	}
	return -1
}

func (f *Framer) scanLine() int {
	i := bytes.IndexByte(f.buf[f.pos:], '\n')
	if i < 0 {
		f.pos = len(f.buf)
		return -1
	}
	return f.pos + i + 1
}
