// Package storage holds the output sinks of a fingerprinting run: plain text
// files and writers, a gorm run store (sqlite or postgres) and a badger
// key-value store.
//
// Every sink keeps an xxhash64 digest of the text rendering of the records it
// accepted, so outputs of different sinks can be compared for reproducibility.
package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/OneOfOne/xxhash"

	"github.com/himanishpuri/acousticprint/pkg/models"
	"github.com/himanishpuri/acousticprint/pkg/utils"
)

const textBufferSize = 4 << 20

var errSinkClosed = errors.New("sink already committed or aborted")

// lineDigest renders records as text lines and hashes them.
type lineDigest struct {
	h    *xxhash.XXHash64
	line []byte
	n    int64
}

func newLineDigest() lineDigest {
	return lineDigest{h: xxhash.New64(), line: make([]byte, 0, 64)}
}

// render returns the text line of rec, valid until the next call.
func (d *lineDigest) render(rec models.Record) []byte {
	d.line = rec.AppendLine(d.line[:0])
	d.h.Write(d.line)
	d.n++
	return d.line
}

func (d *lineDigest) Sum64() uint64 { return d.h.Sum64() }

// TextSink writes one line per record to <path>.partial and renames it to
// path on Commit. Abort removes the partial file, so a failed run never
// leaves a file at path.
type TextSink struct {
	path    string
	partial string
	f       *os.File
	w       *bufio.Writer
	digest  lineDigest
	closed  bool
}

// CreateTextSink creates the parent directory and the partial file.
func CreateTextSink(path string) (*TextSink, error) {
	if err := utils.EnsureParentDir(path); err != nil {
		return nil, fmt.Errorf("creating output dir: %w", err)
	}
	partial := utils.PartialPath(path)
	f, err := os.Create(partial)
	if err != nil {
		return nil, fmt.Errorf("creating output file: %w", err)
	}
	return &TextSink{
		path:    path,
		partial: partial,
		f:       f,
		w:       bufio.NewWriterSize(f, textBufferSize),
		digest:  newLineDigest(),
	}, nil
}

func (s *TextSink) Write(rec models.Record) error {
	if s.closed {
		return errSinkClosed
	}
	_, err := s.w.Write(s.digest.render(rec))
	return err
}

func (s *TextSink) Commit() error {
	if s.closed {
		return errSinkClosed
	}
	s.closed = true

	if err := s.w.Flush(); err != nil {
		s.f.Close()
		utils.DeleteFile(s.partial)
		return fmt.Errorf("flushing output: %w", err)
	}
	if err := s.f.Close(); err != nil {
		utils.DeleteFile(s.partial)
		return fmt.Errorf("closing output: %w", err)
	}
	return utils.MoveFile(s.partial, s.path)
}

func (s *TextSink) Abort() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.f.Close()
	return utils.DeleteFile(s.partial)
}

// Path is the final output path.
func (s *TextSink) Path() string { return s.path }

// Records is the number of records written so far.
func (s *TextSink) Records() int64 { return s.digest.n }

func (s *TextSink) Sum64() uint64 { return s.digest.Sum64() }

// TextWriter streams lines to an arbitrary writer such as stdout. Lines
// already flushed cannot be taken back, so Abort only drops what is still
// buffered.
type TextWriter struct {
	w      *bufio.Writer
	digest lineDigest
}

func NewTextWriter(w io.Writer) *TextWriter {
	return &TextWriter{w: bufio.NewWriterSize(w, 64<<10), digest: newLineDigest()}
}

func (t *TextWriter) Write(rec models.Record) error {
	_, err := t.w.Write(t.digest.render(rec))
	return err
}

func (t *TextWriter) Commit() error { return t.w.Flush() }

func (t *TextWriter) Abort() error {
	t.w.Reset(io.Discard)
	return nil
}

func (t *TextWriter) Records() int64 { return t.digest.n }

func (t *TextWriter) Sum64() uint64 { return t.digest.Sum64() }

// Collector keeps records in memory. The HTTP and WASM entry points use it
// to return records to their callers.
type Collector struct {
	Records []models.Record
	digest  lineDigest
	// Limit caps the number of records kept; 0 keeps all. The digest still
	// covers every record.
	Limit int
}

func NewCollector(limit int) *Collector {
	return &Collector{digest: newLineDigest(), Limit: limit}
}

func (c *Collector) Write(rec models.Record) error {
	c.digest.render(rec)
	if c.Limit == 0 || len(c.Records) < c.Limit {
		c.Records = append(c.Records, rec)
	}
	return nil
}

func (c *Collector) Commit() error { return nil }

func (c *Collector) Abort() error {
	c.Records = nil
	return nil
}

// Total is the number of records written, including those past Limit.
func (c *Collector) Total() int64 { return c.digest.n }

func (c *Collector) Sum64() uint64 { return c.digest.Sum64() }
