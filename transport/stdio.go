// Package transport frames protocol messages over concrete byte streams.
//
// Information Hiding: the protocol package sees only the Conn interface.
// Framing details, newline-delimited JSON for stdio and pipes, websocket
// frames for network clients, stay behind this package.
package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/MCP-Dev-Studio/autostudio-embedded/protocol"
)

// ErrLineTooLong reports an inbound frame over the line buffer limit.
var ErrLineTooLong = errors.New("transport: line exceeds buffer limit")

// MaxLineBytes bounds a single newline-delimited frame.
const MaxLineBytes = 1 << 20

// Line frames messages as newline-delimited JSON over a reader/writer
// pair. It backs the stdio transport and the in-process pipe used in tests.
type Line struct {
	scanner *bufio.Scanner
	w       io.Writer
	wmu     sync.Mutex
	closers []io.Closer
}

// NewLine wraps a reader/writer pair. Any of the arguments that also
// implement io.Closer are closed by Close.
func NewLine(r io.Reader, w io.Writer) *Line {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), MaxLineBytes)

	l := &Line{scanner: scanner, w: w}
	if c, ok := r.(io.Closer); ok {
		l.closers = append(l.closers, c)
	}
	if c, ok := w.(io.Closer); ok {
		l.closers = append(l.closers, c)
	}
	return l
}

// ReadMessage reads and decodes the next frame. io.EOF signals an orderly
// end of stream.
func (l *Line) ReadMessage() (protocol.Message, error) {
	var msg protocol.Message
	if !l.scanner.Scan() {
		if err := l.scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				return msg, ErrLineTooLong
			}
			return msg, err
		}
		return msg, io.EOF
	}
	line := l.scanner.Bytes()
	if err := json.Unmarshal(line, &msg); err != nil {
		return msg, fmt.Errorf("decode frame: %w", err)
	}
	return msg, nil
}

// WriteMessage encodes msg as one JSON line. Safe for concurrent use.
func (l *Line) WriteMessage(msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	data = append(data, '\n')

	l.wmu.Lock()
	defer l.wmu.Unlock()
	if _, err := l.w.Write(data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close closes the underlying stream ends that support closing.
func (l *Line) Close() error {
	var first error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
