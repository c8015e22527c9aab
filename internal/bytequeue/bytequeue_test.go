package bytequeue

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

func writeAll(q *Queue, data []byte) {
	for len(data) > 0 {
		target := q.SliceToWrite()
		n := copy(target, data)
		q.CommitWritten(n)
		data = data[n:]
	}
}

func TestGrowthPreservesContent(t *testing.T) {
	q := WithCapacity(4)
	payload := []byte("the queue grows without dropping bytes")
	writeAll(q, payload)
	a, b := q.ConsumeSlicesSkippingEndBytes(0)
	got := append(append([]byte{}, a...), b...)
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be empty after full consume, got %d", q.Len())
	}
}

func TestSkipKeepsTail(t *testing.T) {
	q := WithCapacity(16)
	writeAll(q, []byte("headtail"))
	a, b := q.ConsumeSlicesSkippingEndBytes(4)
	got := append(append([]byte{}, a...), b...)
	if string(got) != "head" {
		t.Fatalf("got %q, want %q", got, "head")
	}
	if q.Len() != 4 {
		t.Fatalf("tail should stay queued, got len %d", q.Len())
	}
	a, b = q.ConsumeSlicesSkippingEndBytes(0)
	got = append(append([]byte{}, a...), b...)
	if string(got) != "tail" {
		t.Fatalf("got %q, want %q", got, "tail")
	}
}

func TestPeekAndConsume(t *testing.T) {
	q := WithCapacity(8)
	writeAll(q, []byte("abcdefgh"))
	q.Consume(3)
	writeAll(q, []byte("ijk")) // wraps around
	var buf [8]byte
	q.CopyOut(buf[:], 8)
	if string(buf[:]) != "defghijk" {
		t.Fatalf("got %q", buf[:])
	}
	q.Consume(8)
	if q.Len() != 0 {
		t.Fatalf("want empty, got %d", q.Len())
	}
}

// The reference property: a random sequence of writes and skip-reads yields
// the same consumed bytes as a plain slice deque.
func TestMatchesReferenceDeque(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var slow []byte
		fast := WithCapacity(16)

		steps := rapid.IntRange(0, 100).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			if rapid.Bool().Draw(t, "write") {
				data := rapid.SliceOfN(rapid.Byte(), 0, 40).Draw(t, "data")
				slow = append(slow, data...)
				writeAll(fast, data)
			} else {
				skip := rapid.IntRange(0, 40).Draw(t, "skip")
				if skip > len(slow) {
					skip = len(slow)
				}
				want := append([]byte{}, slow[:len(slow)-skip]...)
				slow = append(slow[:0:0], slow[len(slow)-skip:]...)

				a, b := fast.ConsumeSlicesSkippingEndBytes(skip)
				got := append(append([]byte{}, a...), b...)
				if !bytes.Equal(got, want) {
					t.Fatalf("consumed %q, reference %q", got, want)
				}
			}
		}
	})
}
