package ftp

import (
	"bytes"
	"fmt"
	"io"
)

// Reply is what a command produces for the control connection: a code with
// one line of text, a multi-line block, or nothing at all when the real
// answer is delivered later through the internal message channel.
type Reply struct {
	Code  StatusCode
	Lines []string
	multi bool
}

// NewReply returns a single-line reply.
func NewReply(code StatusCode, text string) Reply {
	return Reply{Code: code, Lines: []string{text}}
}

// NewReplyf is NewReply with fmt formatting.
func NewReplyf(code StatusCode, format string, a ...any) Reply {
	return NewReply(code, fmt.Sprintf(format, a...))
}

// NewMultilineReply returns a reply framed as "code-first", body lines,
// "code last".
func NewMultilineReply(code StatusCode, lines []string) Reply {
	return Reply{Code: code, Lines: lines, multi: true}
}

// NoReply is returned by handlers whose outcome arrives as an InternalMsg.
func NoReply() Reply {
	return Reply{}
}

// IsNone reports whether the reply is deferred.
func (r Reply) IsNone() bool {
	return r.Code == 0
}

// IsMultiline reports whether the reply is a multi-line block.
func (r Reply) IsMultiline() bool {
	return r.multi
}

// String returns the reply as it goes on the wire.
func (r Reply) String() string {
	var buf bytes.Buffer
	_, _ = r.WriteTo(&buf)
	return buf.String()
}

// WriteTo encodes the reply with CRLF line endings.
func (r Reply) WriteTo(w io.Writer) (int64, error) {
	if r.IsNone() {
		return 0, nil
	}
	var buf bytes.Buffer
	switch {
	case !r.multi || len(r.Lines) < 2:
		text := ""
		if len(r.Lines) > 0 {
			text = r.Lines[0]
		}
		fmt.Fprintf(&buf, "%d %s\r\n", r.Code, text)
	default:
		last := len(r.Lines) - 1
		fmt.Fprintf(&buf, "%d-%s\r\n", r.Code, r.Lines[0])
		for _, line := range r.Lines[1:last] {
			fmt.Fprintf(&buf, "%s\r\n", line)
		}
		fmt.Fprintf(&buf, "%d %s\r\n", r.Code, r.Lines[last])
	}
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}
