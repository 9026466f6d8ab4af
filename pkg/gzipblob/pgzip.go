package gzipblob

import (
	"bytes"
	"fmt"

	"github.com/klauspost/pgzip"
)

// CompressParallel gzips b using jobs concurrent deflate workers, the way
// compress.PGZipMaker picks pgzip over stdlib gzip when --jobs requests
// concurrency. The header is normalized exactly like NewWriter's, but
// block splitting in parallel mode is not guaranteed bit-identical to the
// single-threaded path, so callers that need reproducible digests across
// runs should use Compress instead (jobs <= 1).
func CompressParallel(b []byte, jobs int) ([]byte, error) {
	if jobs <= 1 {
		return Compress(b)
	}
	var buf bytes.Buffer
	w := pgzip.NewWriter(&buf)
	if err := w.SetConcurrency(1<<20, jobs); err != nil {
		return nil, fmt.Errorf("gzipblob: set concurrency: %w", err)
	}
	w.OS = osUnknown
	w.ModTime = zeroTime
	w.Name = ""
	w.Comment = ""
	if _, err := w.Write(b); err != nil {
		return nil, fmt.Errorf("gzipblob: parallel write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzipblob: parallel close: %w", err)
	}
	return buf.Bytes(), nil
}
