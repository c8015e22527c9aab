// Package qmp implements a QMP (QEMU Machine Protocol) client: newline
// delimited JSON over a local stream socket.
package qmp

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"

	"github.com/vanderheijden86/amba/internal/bytequeue"
	"github.com/vanderheijden86/amba/pkg/metrics"
)

const bufSize = 8192

var (
	// ErrEndOfFile means QEMU closed the monitor socket.
	ErrEndOfFile = errors.New("qmp: end of file")
	// ErrInterrupted maps transient interruption; retry the call.
	ErrInterrupted = errors.New("qmp: interrupted")
)

// Client speaks QMP over the provided stream. The stream does not need to
// be buffered; the client buffers internally.
type Client struct {
	stream  io.ReadWriter
	bufSend []byte
	bufRead *bytequeue.Queue
	id      uint64
}

// NewClient wraps a connected monitor stream.
func NewClient(stream io.ReadWriter) *Client {
	return &Client{
		stream:  stream,
		bufSend: make([]byte, 0, bufSize),
		bufRead: bytequeue.WithCapacity(bufSize),
		id:      1,
	}
}

// request is one command on the wire. Asynchronous requests use the
// "exec-oob" key; only some commands support it.
type request struct {
	Asynchronous bool
	Command      string
	Arguments    any
	ID           uint64
}

func (r request) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 3)
	key := "execute"
	if r.Asynchronous {
		key = "exec-oob"
	}
	m[key] = r.Command
	if r.Arguments != nil {
		m["arguments"] = r.Arguments
	}
	m["id"] = r.ID
	return json.Marshal(m)
}

// blockingSend writes one request line and flushes it to the stream.
func (c *Client) blockingSend(r request) error {
	encoded, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("qmp: encode request: %w", err)
	}
	c.bufSend = append(c.bufSend[:0], encoded...)
	c.bufSend = append(c.bufSend, '\n')
	if _, err := c.stream.Write(c.bufSend); err != nil {
		return fmt.Errorf("qmp: write: %w", err)
	}
	return nil
}

// BlockingReceive reads one newline-terminated response. A later line
// already sitting in the buffer from an earlier read is served without
// touching the stream.
func (c *Client) BlockingReceive() (*Response, error) {
	for {
		if k := c.bufferedNewlineIndex(); k >= 0 {
			// Everything after the newline stays queued for the next
			// receive.
			skip := c.bufRead.Len() - (k + 1)
			a, b := c.bufRead.ConsumeSlicesSkippingEndBytes(skip)
			line := make([]byte, 0, len(a)+len(b))
			line = append(line, a...)
			line = append(line, b...)
			return decodeResponse(line)
		}

		writable := c.bufRead.SliceToWrite()
		n, err := c.stream.Read(writable)
		c.bufRead.CommitWritten(n)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrEndOfFile
			}
			return nil, fmt.Errorf("qmp: read: %w", err)
		}
		if n == 0 {
			return nil, ErrEndOfFile
		}
	}
}

// bufferedNewlineIndex returns the offset of the first buffered newline,
// or -1.
func (c *Client) bufferedNewlineIndex() int {
	a, b := c.bufRead.PeekTwo(c.bufRead.Len())
	for i, ch := range a {
		if ch == '\n' {
			return i
		}
	}
	for i, ch := range b {
		if ch == '\n' {
			return len(a) + i
		}
	}
	return -1
}

// BlockingRequest sends a command and reads until its response arrives,
// handing any interleaved events to eventHandler.
func (c *Client) BlockingRequest(cmd Command, eventHandler func(Event)) (*Response, error) {
	defer metrics.Timer(metrics.QMPRoundTrip)()
	err := c.blockingSend(request{
		Asynchronous: false,
		Command:      cmd.command(),
		Arguments:    cmd.arguments(),
		ID:           c.id,
	})
	if err != nil {
		return nil, err
	}
	c.id++
	for {
		resp, err := c.BlockingReceive()
		if err != nil {
			return nil, err
		}
		if resp.Event != nil {
			if eventHandler != nil {
				eventHandler(*resp.Event)
			}
			continue
		}
		return resp, nil
	}
}

// Response is the decoded union of everything QEMU sends: exactly one of
// the fields is set.
type Response struct {
	Greeting *Greeting
	Return   json.RawMessage
	Error    *QemuError
	Event    *Event
	ID       uint64
}

// Greeting is the capability announcement QEMU opens the session with.
type Greeting struct {
	Version      QemuVersion `json:"version"`
	Capabilities []string    `json:"capabilities"`
}

// QemuVersion identifies the QEMU build.
type QemuVersion struct {
	Qemu    QemuVersionCode `json:"qemu"`
	Package string          `json:"package"`
}

// QemuVersionCode is the dotted version triple.
type QemuVersionCode struct {
	Major uint16 `json:"major"`
	Minor uint16 `json:"minor"`
	Micro uint16 `json:"micro"`
}

// QemuError is a command failure.
type QemuError struct {
	Class string `json:"class"`
	Desc  string `json:"desc"`
}

// Event is an asynchronous notification.
type Event struct {
	Event     string                     `json:"event"`
	Data      map[string]json.RawMessage `json:"data"`
	Timestamp time.Time                  `json:"-"`
}

// decodeResponse distinguishes the response union by its distinctive keys.
func decodeResponse(line []byte) (*Response, error) {
	var probe struct {
		QMP       *Greeting       `json:"QMP"`
		Return    json.RawMessage `json:"return"`
		Error     *QemuError      `json:"error"`
		Event     string          `json:"event"`
		ID        uint64          `json:"id"`
		Timestamp *struct {
			Seconds      int64 `json:"seconds"`
			Microseconds int64 `json:"microseconds"`
		} `json:"timestamp"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, fmt.Errorf("qmp: decode %q: %w", line, err)
	}
	switch {
	case probe.QMP != nil:
		return &Response{Greeting: probe.QMP}, nil
	case probe.Event != "":
		ev := &Event{Event: probe.Event}
		if probe.Timestamp != nil {
			ev.Timestamp = time.Unix(probe.Timestamp.Seconds, probe.Timestamp.Microseconds*1000)
		}
		var full struct {
			Data map[string]json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(line, &full); err == nil {
			ev.Data = full.Data
		}
		return &Response{Event: ev}, nil
	case probe.Error != nil:
		return &Response{Error: probe.Error, ID: probe.ID}, nil
	case probe.Return != nil:
		return &Response{Return: probe.Return, ID: probe.ID}, nil
	default:
		return nil, fmt.Errorf("qmp: unrecognised response %q", line)
	}
}

// Command is one of the monitor commands the controller uses.
type Command interface {
	command() string
	arguments() any
}

type (
	// Capabilities negotiates the session out of greeting mode.
	Capabilities struct{}
	// QueryStatus asks for the VM run state.
	QueryStatus struct{}
	// Screendump writes a guest framebuffer dump to filename.
	Screendump struct{ Filename string }
	// Stop pauses guest execution.
	Stop struct{}
	// Cont resumes guest execution.
	Cont struct{}
)

func (Capabilities) command() string { return "qmp_capabilities" }
func (QueryStatus) command() string  { return "query-status" }
func (Screendump) command() string   { return "screendump" }
func (Stop) command() string         { return "stop" }
func (Cont) command() string         { return "cont" }

func (Capabilities) arguments() any { return nil }
func (QueryStatus) arguments() any  { return nil }
func (s Screendump) arguments() any {
	return map[string]string{"filename": s.Filename}
}
func (Stop) arguments() any { return nil }
func (Cont) arguments() any { return nil }
