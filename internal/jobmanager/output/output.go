// Package output captures process output and decodes it as text.
//
// Capture is best-effort: output that isn't valid UTF-8 is reported with
// ErrInvalidUTF8 so the caller can fall back to empty text.
package output

import (
	"errors"
	"sync"
	"unicode/utf8"
)

// initialBufferCapacity is the starting size for an output buffer.
// 4KB aligns with typical pipe buffer sizes.
const initialBufferCapacity = 4096

// ErrInvalidUTF8 is returned when captured output is not valid UTF-8 text.
var ErrInvalidUTF8 = errors.New("output is not valid UTF-8")

// Buffer collects the output of a process. It implements io.Writer and is
// safe for concurrent use, so it can be read while the process still writes.
type Buffer struct {
	// NOTE: the buffer grows with no upper bound. Output of a job is held in
	// memory until the job is reaped.
	buffer []byte

	mu sync.Mutex
}

// NewBuffer creates an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{buffer: make([]byte, 0, initialBufferCapacity)}
}

// Write implements io.Writer.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buffer = append(b.buffer, p...)

	return len(p), nil
}

// Bytes returns a copy of the captured output.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]byte(nil), b.buffer...)
}

// Len returns the number of captured bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.buffer)
}

// Decode returns p as text, or ErrInvalidUTF8.
func Decode(p []byte) (string, error) {
	if !utf8.Valid(p) {
		return "", ErrInvalidUTF8
	}

	return string(p), nil
}

// DecodePair decodes stdout and stderr together. If either is invalid, both
// are returned empty alongside ErrInvalidUTF8.
func DecodePair(stdout, stderr []byte) (string, string, error) {
	so, err := Decode(stdout)
	if err != nil {
		return "", "", err
	}

	se, err := Decode(stderr)
	if err != nil {
		return "", "", err
	}

	return so, se, nil
}
