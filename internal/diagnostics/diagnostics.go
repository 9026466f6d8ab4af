// Package diagnostics is the plain stderr logger behind -v/--verbose:
// one line per blob operation naming its digest, size, and elapsed time,
// tagged with a UUID so concurrent uploads in the same run can be told
// apart in the log.
package diagnostics

import (
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
)

// Logger wraps a stdlib *log.Logger the way the teacher's command
// entry points log ad hoc to stderr, rather than a structured framework.
type Logger struct {
	log *log.Logger
}

// New returns a Logger writing to os.Stderr. Passing discard via
// NewDiscard silences it entirely (the non-verbose default).
func New() *Logger {
	return &Logger{log: log.New(os.Stderr, "", 0)}
}

// NewDiscard returns a Logger that drops everything, used when
// -v/--verbose was not requested.
func NewDiscard() *Logger {
	return &Logger{log: log.New(io.Discard, "", 0)}
}

// BlobUpload logs a completed upload: digest, size in bytes, and how
// long the PUT took, tagged with a fresh session id.
func (l *Logger) BlobUpload(digest string, size int64, elapsed time.Duration) {
	l.log.Printf("upload %s digest=%s size=%d elapsed=%s", uuid.NewString(), digest, size, elapsed)
}

// BlobDownload logs a completed download.
func (l *Logger) BlobDownload(digest string, size int64, elapsed time.Duration) {
	l.log.Printf("download %s digest=%s size=%d elapsed=%s", uuid.NewString(), digest, size, elapsed)
}

// Printf logs a free-form diagnostic line.
func (l *Logger) Printf(format string, args ...any) {
	l.log.Printf(format, args...)
}
