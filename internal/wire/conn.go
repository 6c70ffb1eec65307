// Package wire frames protocol messages as newline terminated JSON
// documents over a byte stream. JSON encoding never emits a raw newline,
// so the terminator is unambiguous in both directions.
package wire

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/programme-lv/autograder/api"
)

// DefaultMaxFrame bounds a single frame, terminator excluded.
const DefaultMaxFrame = 16 << 20

var (
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
	ErrMalformed     = errors.New("malformed frame")
	ErrUnknownType   = errors.New("unknown message type")
)

// Conn is a framed connection. Reads and writes may happen from
// different goroutines, but only one reader and one writer at a time.
type Conn struct {
	c        net.Conn
	r        *bufio.Reader
	maxFrame int
	wmu      sync.Mutex
}

func NewConn(c net.Conn, maxFrame int) *Conn {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &Conn{
		c:        c,
		r:        bufio.NewReaderSize(c, 64<<10),
		maxFrame: maxFrame,
	}
}

// Send writes msg as one frame.
func (c *Conn) Send(msg api.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.MessageType(), err)
	}
	if len(b) > c.maxFrame {
		return fmt.Errorf("send %s: %w", msg.MessageType(), ErrFrameTooLarge)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.c.Write(append(b, '\n'))
	return err
}

// ReadFrame returns the next frame without its terminator. An EOF in the
// middle of a frame is reported as io.ErrUnexpectedEOF.
func (c *Conn) ReadFrame() ([]byte, error) {
	var frame []byte
	for {
		chunk, err := c.r.ReadSlice('\n')
		if len(frame)+len(chunk) > c.maxFrame+1 {
			return nil, ErrFrameTooLarge
		}
		frame = append(frame, chunk...)
		if err == nil {
			return bytes.TrimSuffix(frame[:len(frame)-1], []byte{'\r'}), nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(frame) > 0 {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
}

// ReadRequest reads and decodes a controller -> worker frame.
func (c *Conn) ReadRequest() (api.Message, error) {
	b, err := c.ReadFrame()
	if err != nil {
		return nil, err
	}
	return DecodeRequest(b)
}

// ReadResponse reads and decodes a worker -> controller frame.
func (c *Conn) ReadResponse() (api.Message, error) {
	b, err := c.ReadFrame()
	if err != nil {
		return nil, err
	}
	return DecodeResponse(b)
}

func (c *Conn) SetDeadline(t time.Time) error {
	return c.c.SetDeadline(t)
}

// SetTimeout arms the deadline d from now; d <= 0 clears it.
func (c *Conn) SetTimeout(d time.Duration) error {
	if d <= 0 {
		return c.c.SetDeadline(time.Time{})
	}
	return c.c.SetDeadline(time.Now().Add(d))
}

func (c *Conn) Close() error {
	return c.c.Close()
}
