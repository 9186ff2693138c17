// Package spool persists cycle records as length-prefixed msgpack frames.
//
// Each cycle writes a spool file of record envelopes: every fetched
// record together with its final disposition. The spool survives the
// process and is the input to offline inspection.
package spool

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/lanternworks/stitch/types"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxFrameSize - 4 bytes).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// Disposition values recorded in envelopes.
const (
	DispositionSynced  = "synced"
	DispositionFailed  = "failed"
	DispositionSkipped = "skipped"
)

// RecordEnvelope is one spooled record with its outcome.
type RecordEnvelope struct {
	CycleID     string         `msgpack:"cycle_id"`
	Source      string         `msgpack:"source"`
	ExternalID  string         `msgpack:"external_id"`
	Kind        string         `msgpack:"kind"`
	Disposition string         `msgpack:"disposition"`
	Error       string         `msgpack:"error,omitempty"`
	Fields      map[string]any `msgpack:"fields"`
	RecordedAt  time.Time      `msgpack:"recorded_at"`
}

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error.
	FrameErrorDecode
)

// FrameError represents a frame encoding or decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsTruncated reports whether the error indicates a spool file cut
// short, typically by a crash mid-write.
func IsTruncated(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.Kind == FrameErrorPartial
	}
	return false
}

// Writer appends record envelopes to a spool stream.
type Writer struct {
	w io.Writer
}

// NewWriter creates a writer over the given stream.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes one envelope as a length-prefixed msgpack frame.
func (sw *Writer) Write(env RecordEnvelope) error {
	payload, err := msgpack.Marshal(&env)
	if err != nil {
		return &FrameError{Kind: FrameErrorDecode, Msg: "failed to encode envelope", Err: err}
	}
	if len(payload) > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}

	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(payload)))
	if _, err := sw.w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := sw.w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// Reader decodes record envelopes from a spool stream.
type Reader struct {
	r io.Reader
}

// NewReader creates a reader over the given stream.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Read decodes the next envelope. Returns io.EOF at a clean end of
// stream; a stream that ends mid-frame yields FrameErrorPartial.
func (sr *Reader) Read() (RecordEnvelope, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(sr.r, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return RecordEnvelope{}, io.EOF
		}
		return RecordEnvelope{}, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return RecordEnvelope{}, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(sr.r, payload); err != nil {
		return RecordEnvelope{}, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}

	var env RecordEnvelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return RecordEnvelope{}, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode envelope",
			Err:  err,
		}
	}
	return env, nil
}

// File is a spool file for one cycle.
type File struct {
	*Writer
	f *os.File
}

// FileName returns the spool file name for a cycle.
func FileName(dir, cycleID string) string {
	return filepath.Join(dir, cycleID+".spool")
}

// Create opens a new spool file for the cycle, creating the directory
// as needed.
func Create(dir, cycleID string) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool dir: %w", err)
	}
	f, err := os.Create(FileName(dir, cycleID))
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}
	return &File{Writer: NewWriter(f), f: f}, nil
}

// Close flushes and closes the underlying file.
func (f *File) Close() error {
	if err := f.f.Sync(); err != nil {
		f.f.Close()
		return fmt.Errorf("sync spool file: %w", err)
	}
	return f.f.Close()
}

// Envelope builds an envelope for a record and its disposition.
func Envelope(meta types.CycleMeta, rec types.ExternalRecord, disposition, errMsg string) RecordEnvelope {
	return RecordEnvelope{
		CycleID:     meta.CycleID,
		Source:      string(rec.Source),
		ExternalID:  rec.ExternalID,
		Kind:        string(rec.Kind),
		Disposition: disposition,
		Error:       errMsg,
		Fields:      rec.Fields,
		RecordedAt:  time.Now().UTC(),
	}
}
