// Package sink writes formatted records to an output stream.
//
// A sink is opened before the first record and closed after the last one.
// For the XML format, opening emits the document prolog and the <results>
// root element, and closing emits the matching end tag, so the output is
// well-formed even when a run is stopped early.
package sink

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/Aman-CERP/metafind/internal/format"
)

// Sink receives formatted records in order.
type Sink interface {
	// Open prepares the output. Idempotent.
	Open() error

	// Write emits one record. Each record reaches the underlying
	// writer in a single Write call.
	Write(rec format.Record) error

	// Close finalizes the output. Idempotent.
	Close() error

	// Count returns the number of records written.
	Count() int
}

const (
	xmlRootTag = "results"
	xmlIndent  = "  "
)

// ErrClosed is returned when writing to a closed sink.
var ErrClosed = errors.New("sink is closed")

// Stream is a Sink over an io.Writer.
type Stream struct {
	mu        sync.Mutex
	output    io.Writer
	format    format.Format
	closeFunc func() error

	opened bool
	closed bool
	broken error
	count  int
}

// Compile-time interface check.
var _ Sink = (*Stream)(nil)

// NewStream creates a sink writing records of the given format to w.
// The writer is not closed by Close.
func NewStream(w io.Writer, f format.Format) *Stream {
	return &Stream{output: w, format: f}
}

// NewFile creates a sink writing to a newly created file at path.
// The file is closed by Close.
func NewFile(path string, f format.Format) (*Stream, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return &Stream{output: file, format: f, closeFunc: file.Close}, nil
}

// Format returns the format the sink was created for.
func (s *Stream) Format() format.Format {
	return s.format
}

// Open writes the XML prolog and root start tag. For text formats it
// only marks the sink as open.
func (s *Stream) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked()
}

func (s *Stream) openLocked() error {
	if s.closed {
		return ErrClosed
	}
	if s.broken != nil {
		return s.broken
	}
	if s.opened {
		return nil
	}
	if s.format == format.XML {
		header := xml.Header + "<" + xmlRootTag + ">\n"
		if err := s.emit([]byte(header)); err != nil {
			return err
		}
	}
	s.opened = true
	return nil
}

// Write emits one record. In XML mode an unopened sink is opened first.
func (s *Stream) Write(rec format.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.openLocked(); err != nil {
		return err
	}

	data, err := s.encode(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if err := s.emit(data); err != nil {
		return err
	}

	s.count++
	return nil
}

// encode renders a record to bytes, separator included.
func (s *Stream) encode(rec format.Record) ([]byte, error) {
	var buf bytes.Buffer
	if s.format == format.XML {
		if rec.Element == nil {
			return nil, errors.New("record has no XML element")
		}
		enc := xml.NewEncoder(&buf)
		enc.Indent(xmlIndent, xmlIndent)
		if err := rec.Element.Encode(enc); err != nil {
			return nil, err
		}
		if err := enc.Flush(); err != nil {
			return nil, err
		}
		buf.WriteByte('\n')
		return buf.Bytes(), nil
	}

	buf.WriteString(rec.Text)
	if sep, ok := s.format.Separator(); ok {
		buf.WriteByte(sep)
	}
	return buf.Bytes(), nil
}

// emit performs a single write. A failure marks the sink broken.
func (s *Stream) emit(data []byte) error {
	if _, err := s.output.Write(data); err != nil {
		s.broken = fmt.Errorf("failed to write record: %w", err)
		return s.broken
	}
	return nil
}

// Close writes the XML root end tag and closes the underlying file,
// if any. A sink closed without being opened still produces a complete
// empty document in XML mode. Nothing is written to a broken sink.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	var writeErr error
	if s.broken == nil && s.format == format.XML {
		writeErr = s.openLocked()
		if writeErr == nil {
			writeErr = s.emit([]byte("</" + xmlRootTag + ">\n"))
		}
	}
	s.closed = true

	if s.closeFunc != nil {
		if err := s.closeFunc(); err != nil && writeErr == nil {
			writeErr = fmt.Errorf("failed to close output: %w", err)
		}
	}
	return writeErr
}

// Count returns the number of records written.
func (s *Stream) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
