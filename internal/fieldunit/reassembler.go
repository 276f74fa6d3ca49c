package fieldunit

import (
	"bytes"
	"time"
)

// Reassembly defaults.
const (
	DefaultChunkGap       = 500 * time.Millisecond
	DefaultMaxMessageSize = 16 * 1024
)

// Reassembler merges sequential notification chunks into complete JSON
// documents. Chunks carry no length prefix or terminator, so a document is
// considered complete when the buffer starts with '{' and ends with '}'.
// That is not a brace-balance check: a chunk boundary that happens to fall
// after a nested object's closing brace will be reported complete early and
// then fail to parse.
//
// A Reassembler belongs to one listener and is not safe for concurrent use.
type Reassembler struct {
	gap     time.Duration
	maxSize int

	buf  []byte
	last time.Time
}

// PushResult describes what a single chunk did to the buffer.
type PushResult struct {
	// Document is set when the buffer became complete. The buffer has
	// already been cleared.
	Document []byte

	// StaleDiscarded is set when a partial buffer was dropped because the
	// gap since the previous chunk exceeded the threshold.
	StaleDiscarded bool

	// Overflow is set when the buffer exceeded the size limit and was dropped.
	Overflow bool
}

// NewReassembler creates a reassembler. Non-positive arguments select the
// defaults.
func NewReassembler(gap time.Duration, maxSize int) *Reassembler {
	if gap <= 0 {
		gap = DefaultChunkGap
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Reassembler{gap: gap, maxSize: maxSize}
}

// Push appends a chunk received at the given time.
func (r *Reassembler) Push(chunk []byte, at time.Time) PushResult {
	var res PushResult

	if len(r.buf) > 0 && !r.last.IsZero() && at.Sub(r.last) > r.gap {
		r.buf = r.buf[:0]
		res.StaleDiscarded = true
	}
	r.last = at

	r.buf = append(r.buf, chunk...)

	if len(r.buf) > r.maxSize {
		r.buf = r.buf[:0]
		res.Overflow = true
		return res
	}

	trimmed := bytes.TrimSpace(r.buf)
	if len(trimmed) >= 2 && trimmed[0] == '{' && trimmed[len(trimmed)-1] == '}' {
		res.Document = append([]byte(nil), trimmed...)
		r.buf = r.buf[:0]
	}
	return res
}

// Pending returns the number of buffered bytes.
func (r *Reassembler) Pending() int {
	return len(r.buf)
}

// Reset drops any partial buffer, e.g. after a reconnect.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
	r.last = time.Time{}
}
