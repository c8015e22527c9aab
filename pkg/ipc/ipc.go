package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/vanderheijden86/amba/internal/bytequeue"
)

// Every frame on the stream is a u64 little-endian payload length followed
// by that many payload bytes.

const frameHeaderSize = 8

// rxPollCapacity bounds the frame size the polling receiver will assemble.
// Larger frames surface ErrPollingReceiveTooLarge and must be read with
// BlockingReceive.
const rxPollCapacity = 8192

// pollReadTimeout makes socket reads on the polling path return promptly.
// It stays well above zero: a read whose deadline has already passed when
// it starts fails at once, even with data waiting on the socket.
const pollReadTimeout = time.Millisecond

var (
	// ErrEndOfFile means the peer shut down its write side.
	ErrEndOfFile = errors.New("ipc: end of file")
	// ErrInterrupted maps transient interruption; retry the call.
	ErrInterrupted = errors.New("ipc: interrupted")
	// ErrPollingReceiveFragmented means a frame is only partially
	// buffered. Recover by switching to BlockingReceive.
	ErrPollingReceiveFragmented = errors.New("ipc: polling receive fragmented")
	// ErrPollingReceiveTooLarge means the advertised frame exceeds the
	// polling buffer. Recover by switching to BlockingReceive.
	ErrPollingReceiveTooLarge = errors.New("ipc: polling receive too large")
)

// errWouldBlock is internal: the non-blocking read found nothing.
var errWouldBlock = errors.New("ipc: would block")

// Conn is the stream type both halves operate on. net.UnixConn and
// net.Pipe both satisfy it.
type Conn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// closeWriter is implemented by connection types supporting half-shutdown
// of the write side.
type closeWriter interface{ CloseWrite() error }

// closeReader is implemented by connection types supporting half-shutdown
// of the read side.
type closeReader interface{ CloseRead() error }

// Tx is the sending half of an IPC connection. Safe for concurrent use.
type Tx struct {
	mu   sync.Mutex
	conn Conn
}

// NewTx wraps the write side of conn.
func NewTx(conn Conn) *Tx {
	return &Tx{conn: conn}
}

// BlockingSend frames, writes and flushes one message.
func (t *Tx) BlockingSend(msg Message) error {
	payload := EncodeMessage(msg)
	frame := make([]byte, 0, frameHeaderSize+len(payload))
	frame = binary.LittleEndian.AppendUint64(frame, uint64(len(payload)))
	frame = append(frame, payload...)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.conn.Write(frame); err != nil {
		return mapIOError(err)
	}
	return nil
}

// Close shuts down the write side of the stream, leaving a shared read side
// usable.
func (t *Tx) Close() error {
	if cw, ok := t.conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return t.conn.Close()
}

// Rx is the receiving half of an IPC connection. Not safe for concurrent
// use; the reader thread owns it.
type Rx struct {
	conn Conn
	buf  *bytequeue.Queue
}

// NewRx wraps the read side of conn.
func NewRx(conn Conn) *Rx {
	return &Rx{
		conn: conn,
		buf:  bytequeue.WithCapacity(rxPollCapacity),
	}
}

// BlockingReceive reads exactly one frame, waiting as long as necessary.
func (r *Rx) BlockingReceive() (Message, error) {
	if err := r.conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, mapIOError(err)
	}
	if err := r.fillTo(frameHeaderSize); err != nil {
		return nil, err
	}
	var header [frameHeaderSize]byte
	r.buf.CopyOut(header[:], frameHeaderSize)
	size := binary.LittleEndian.Uint64(header[:])
	if size > 1<<30 {
		return nil, fmt.Errorf("ipc: implausible frame size %d", size)
	}
	if err := r.fillTo(frameHeaderSize + int(size)); err != nil {
		return nil, err
	}
	r.buf.Consume(frameHeaderSize)
	payload := make([]byte, size)
	r.buf.CopyOut(payload, int(size))
	r.buf.Consume(int(size))
	return DecodeMessage(payload)
}

// PollingReceive attempts to read one frame without blocking. It returns
// (nil, nil) when no data is pending. A partially buffered frame surfaces
// ErrPollingReceiveFragmented and a frame larger than the polling buffer
// ErrPollingReceiveTooLarge; in both cases the caller must switch to
// BlockingReceive to recover.
func (r *Rx) PollingReceive() (Message, error) {
	switch err := r.readOnce(pollReadTimeout); {
	case err == nil, errors.Is(err, errWouldBlock):
	case errors.Is(err, ErrEndOfFile):
		if r.buf.Len() == 0 {
			return nil, ErrEndOfFile
		}
	case errors.Is(err, ErrInterrupted):
		return nil, nil
	default:
		return nil, err
	}

	buffered := r.buf.Len()
	if buffered == 0 {
		return nil, nil
	}
	if buffered < frameHeaderSize {
		return nil, ErrPollingReceiveFragmented
	}
	var header [frameHeaderSize]byte
	r.buf.CopyOut(header[:], frameHeaderSize)
	size := binary.LittleEndian.Uint64(header[:])
	packetSize := uint64(frameHeaderSize) + size
	if packetSize > rxPollCapacity {
		return nil, ErrPollingReceiveTooLarge
	}
	if uint64(buffered) < packetSize {
		return nil, ErrPollingReceiveFragmented
	}
	r.buf.Consume(frameHeaderSize)
	payload := make([]byte, size)
	r.buf.CopyOut(payload, int(size))
	r.buf.Consume(int(size))
	return DecodeMessage(payload)
}

// Close shuts down the read side of the stream.
func (r *Rx) Close() error {
	if cr, ok := r.conn.(closeReader); ok {
		return cr.CloseRead()
	}
	return r.conn.Close()
}

// readOnce performs a single read into the ring buffer. With a non-zero
// timeout the read deadline is set so an idle socket returns errWouldBlock.
func (r *Rx) readOnce(timeout time.Duration) error {
	if timeout > 0 {
		if err := r.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return mapIOError(err)
		}
	}
	writable := r.buf.SliceToWrite()
	n, err := r.conn.Read(writable)
	r.buf.CommitWritten(n)
	if err != nil {
		return mapIOError(err)
	}
	if n == 0 {
		return errWouldBlock
	}
	return nil
}

// fillTo blocks until at least n bytes are buffered.
func (r *Rx) fillTo(n int) error {
	for r.buf.Len() < n {
		switch err := r.readOnce(0); {
		case err == nil:
		case errors.Is(err, errWouldBlock):
		case errors.Is(err, ErrEndOfFile) && r.buf.Len() > 0 && r.buf.Len() < n:
			// A frame was cut off mid-stream.
			return ErrEndOfFile
		default:
			return err
		}
	}
	return nil
}

// mapIOError folds stream errors into the protocol error set.
func mapIOError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		return ErrEndOfFile
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return errWouldBlock
	}
	return fmt.Errorf("ipc: stream: %w", err)
}

// Listen binds a unix socket and accepts the single expected peer,
// returning the two connection halves. The host side of the protocol.
func Listen(socketPath string) (*Rx, *Tx, error) {
	l, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, nil, fmt.Errorf("ipc: bind %s: %w", socketPath, err)
	}
	defer l.Close()
	conn, err := l.Accept()
	if err != nil {
		return nil, nil, fmt.Errorf("ipc: accept on %s: %w", socketPath, err)
	}
	uc := conn.(*net.UnixConn)
	return NewRx(uc), NewTx(uc), nil
}

// Connect dials an existing unix socket. The plugin side of the protocol.
func Connect(socketPath string) (*Rx, *Tx, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, nil, fmt.Errorf("ipc: connect %s: %w", socketPath, err)
	}
	uc := conn.(*net.UnixConn)
	return NewRx(uc), NewTx(uc), nil
}
