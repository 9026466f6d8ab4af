// Package gzipblob compresses layer tarballs into platform-independent
// gzip streams: same compression level, same gzip header on every OS, so
// that the resulting blob digest is reproducible (spec §4.6).
package gzipblob

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"time"
)

// osUnknown is the gzip header OS byte meaning "unknown", used instead of
// whatever byte the local OS constant would otherwise encode so output is
// bit-identical across build machines.
const osUnknown = 255

var zeroTime time.Time

// Compress gzips b at the default compression level, with no filename, no
// modification time, and OS byte 255 in the header.
func Compress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(b); err != nil {
		return nil, fmt.Errorf("gzipblob: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzipblob: close: %w", err)
	}
	return buf.Bytes(), nil
}

// Writer is a *gzip.Writer preconfigured for deterministic output.
type Writer = gzip.Writer

// NewWriter wraps w in a deterministic gzip.Writer: default compression
// level and a header carrying no name, no timestamp, and OS byte 255.
func NewWriter(w *bytes.Buffer) (*gzip.Writer, error) {
	gw, err := gzip.NewWriterLevel(w, gzip.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("gzipblob: new writer: %w", err)
	}
	gw.OS = osUnknown
	gw.ModTime = zeroTime
	gw.Name = ""
	gw.Comment = ""
	return gw, nil
}

// Decompress inflates a gzip stream, used by tests to confirm round-trip
// fidelity against a standards-conformant gunzip.
func Decompress(b []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("gzipblob: new reader: %w", err)
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := out.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("gzipblob: read: %w", err)
	}
	return out.Bytes(), nil
}
