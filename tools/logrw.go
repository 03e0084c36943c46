package tools

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
)

// maxLogLine caps how much of an unterminated line is kept for logging.
const maxLogLine = 4096

// LogReadWriter wraps the control connection and logs every read and write
// at debug level. Reads are logged one complete line at a time so that the
// argument of PASS can be masked even when the line arrives in pieces.
type LogReadWriter struct {
	ReadWriter io.ReadWriter
	logger     *slog.Logger
	partial    []byte // unterminated tail of the last read
	dropLine   bool   // skip the rest of an oversized line
}

func (rw *LogReadWriter) Read(b []byte) (int, error) {
	n, err := rw.ReadWriter.Read(b)
	if rw.logger != nil && n > 0 { // Log only if n > 0 to avoid logging empty reads
		rw.logRequest(b[:n])
	}
	return n, err
}

func (rw *LogReadWriter) logRequest(b []byte) {
	for len(b) > 0 {
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			if !rw.dropLine {
				rw.partial = append(rw.partial, b...)
			}
			if len(rw.partial) > maxLogLine {
				rw.logger.Debug("Request", "body", string(RedactPassword(rw.partial[:maxLogLine])), "truncated", true)
				rw.partial = rw.partial[:0]
				rw.dropLine = true
			}
			return
		}
		line := b[:i+1]
		b = b[i+1:]
		if rw.dropLine {
			rw.dropLine = false
			continue
		}
		rw.partial = append(rw.partial, line...)
		rw.logger.Debug("Request", "body", string(RedactPassword(rw.partial)))
		rw.partial = rw.partial[:0]
	}
}

func (rw *LogReadWriter) Write(b []byte) (int, error) {
	if rw.logger != nil {
		rw.logger.Debug("Respond", "body", string(b))
	}
	return rw.ReadWriter.Write(b)
}

// NewLogReadWriter creates a new LogReadWriter.
func NewLogReadWriter(rw io.ReadWriter, logger *slog.Logger) *LogReadWriter {
	return &LogReadWriter{ReadWriter: rw, logger: logger}
}

// BufLogReadWriter reads lines through a bufio.Reader and writes straight to
// the logged connection, so every reply hits the wire without a Flush.
type BufLogReadWriter struct {
	io.Writer
	*bufio.Reader
}

// NewBufLogReadWriter creates a new BufLogReadWriter around a LogReadWriter.
// the reason to divide it in 2 structs is to avoid the need to implement all the methods of bufio.ReadWriter
func NewBufLogReadWriter(rw io.ReadWriter, logger *slog.Logger) *BufLogReadWriter {
	lrw := NewLogReadWriter(rw, logger)

	return &BufLogReadWriter{
		Reader: bufio.NewReader(lrw),
		Writer: lrw,
	}
}

var passPrefix = []byte("PASS ")

// RedactPassword replaces the argument of every PASS line in b with stars.
func RedactPassword(b []byte) []byte {
	if !bytes.Contains(bytes.ToUpper(b), passPrefix) {
		return b
	}
	lines := bytes.SplitAfter(b, []byte("\n"))
	out := make([]byte, 0, len(b))
	for _, line := range lines {
		if len(line) >= len(passPrefix) && bytes.EqualFold(line[:len(passPrefix)], passPrefix) {
			out = append(out, line[:len(passPrefix)]...)
			out = append(out, "****"...)
			if bytes.HasSuffix(line, []byte("\r\n")) {
				out = append(out, "\r\n"...)
			} else if bytes.HasSuffix(line, []byte("\n")) {
				out = append(out, '\n')
			}
			continue
		}
		out = append(out, line...)
	}
	return out
}
