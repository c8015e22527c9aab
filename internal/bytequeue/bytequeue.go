// Package bytequeue provides a dynamically growing, non-atomic circular
// byte buffer. It backs the IPC polling receiver and the QMP client's read
// path, both of which read from a socket in whatever chunks arrive and
// consume in message-sized pieces.
package bytequeue

// Queue is a circular buffer whose capacity is always a power of two.
// start and end are monotonically increasing logical offsets; masking maps
// them into buf.
type Queue struct {
	buf   []byte
	mask  int
	start int
	end   int
}

// WithCapacity returns a queue holding at least capacity bytes before its
// first growth.
func WithCapacity(capacity int) *Queue {
	capacity = nextPowerOfTwo(capacity)
	return &Queue{
		buf:  make([]byte, capacity),
		mask: capacity - 1,
	}
}

// Len returns the number of unconsumed bytes.
func (q *Queue) Len() int { return q.end - q.start }

// Cap returns the current capacity.
func (q *Queue) Cap() int { return len(q.buf) }

// SliceToWrite returns a writable slice at the logical end of the queue.
// The queue grows (doubling, with the live region compacted to the front)
// when full. Callers must follow up with CommitWritten for the bytes
// actually filled in.
func (q *Queue) SliceToWrite() []byte {
	capacity := q.mask + 1
	if q.end-q.start == capacity {
		newBuf := make([]byte, capacity*2)
		mid := q.start & q.mask
		lenEnd := capacity - mid
		copy(newBuf[:lenEnd], q.buf[mid:])
		copy(newBuf[lenEnd:capacity], q.buf[:mid])
		q.buf = newBuf
		q.start = 0
		q.end = capacity
		q.mask = capacity*2 - 1
		return q.buf[capacity:]
	}
	startIdx := q.start & q.mask
	endIdx := q.end & q.mask
	if startIdx > endIdx {
		return q.buf[endIdx:startIdx]
	}
	return q.buf[endIdx:]
}

// CommitWritten records that written bytes of the last SliceToWrite are now
// valid queue content.
func (q *Queue) CommitWritten(written int) {
	q.end += written
	if q.end-q.start > len(q.buf) {
		panic("bytequeue: commit beyond capacity")
	}
}

// ConsumeSlicesSkippingEndBytes consumes everything except the trailing
// skipAtEnd bytes, returning the consumed content as up to two slices (the
// wrap-around halves). The returned slices alias the internal buffer and are
// only valid until the next write.
func (q *Queue) ConsumeSlicesSkippingEndBytes(skipAtEnd int) ([]byte, []byte) {
	if q.end < skipAtEnd {
		panic("bytequeue: skip beyond content")
	}
	if q.start >= q.end-skipAtEnd {
		return nil, nil
	}
	startIdx := q.start & q.mask
	endIdx := (q.end - skipAtEnd) & q.mask

	if skipAtEnd == 0 {
		q.start = 0
		q.end = 0
	} else {
		q.start = q.end - skipAtEnd
	}
	if startIdx < endIdx {
		return q.buf[startIdx:endIdx], nil
	}
	return q.buf[startIdx:], q.buf[:endIdx]
}

// PeekTwo returns the first n queued bytes without consuming them, as up to
// two wrap-around slices. n must not exceed Len.
func (q *Queue) PeekTwo(n int) ([]byte, []byte) {
	if n > q.Len() {
		panic("bytequeue: peek beyond content")
	}
	if n == 0 {
		return nil, nil
	}
	startIdx := q.start & q.mask
	endIdx := (q.start + n) & q.mask
	if startIdx < endIdx {
		return q.buf[startIdx:endIdx], nil
	}
	return q.buf[startIdx:], q.buf[:endIdx]
}

// CopyOut copies the first n queued bytes into dst without consuming them.
func (q *Queue) CopyOut(dst []byte, n int) {
	a, b := q.PeekTwo(n)
	copied := copy(dst, a)
	copy(dst[copied:], b)
}

// Consume drops the first n queued bytes. n must not exceed Len.
func (q *Queue) Consume(n int) {
	if n > q.Len() {
		panic("bytequeue: consume beyond content")
	}
	q.start += n
	if q.start == q.end {
		q.start = 0
		q.end = 0
	}
}

func nextPowerOfTwo(v int) int {
	if v <= 0 {
		panic("bytequeue: capacity must be positive")
	}
	n := 1
	for n < v {
		n *= 2
	}
	return n
}
