package ftp

import (
	"context"
	"errors"
	"io/fs"
	"strconv"
)

// MsgKind tags a successful background outcome.
type MsgKind int

const (
	MsgCwdSuccess MsgKind = iota + 1
	MsgLoggedIn
	MsgRenamed
	MsgSize
	MsgModTime
)

// InternalMsg is what a background goroutine reports to the control loop.
// A nil Err means the operation named by Kind succeeded.
type InternalMsg struct {
	Kind MsgKind
	Path string
	Info fs.FileInfo
	Err  error
}

// Failed reports whether the message carries an error.
func (m InternalMsg) Failed() bool {
	return m.Err != nil
}

// Reply converts the outcome into the reply written on the control
// connection.
func (m InternalMsg) Reply() Reply {
	if m.Err != nil {
		switch {
		case errors.Is(m.Err, ErrAuthFailed):
			return NewReply(StatusNotLoggedIn, "Authentication failed")
		case errors.Is(m.Err, ErrSessionClosed):
			return NewReply(StatusServiceNotAvailable, "Session is closing")
		}
		kind := storageErrorKind(m.Err)
		return NewReplyf(kind.StatusCode(), "Error: %s", m.Err)
	}
	switch m.Kind {
	case MsgCwdSuccess:
		return NewReplyf(StatusFileActionOK, "Directory successfully changed to \"%s\"", m.Path)
	case MsgLoggedIn:
		return NewReply(StatusUserLoggedIn, "User logged in, proceed")
	case MsgRenamed:
		return NewReply(StatusFileActionOK, "Rename successful")
	case MsgSize:
		return NewReply(StatusFileStatus, strconv.FormatInt(m.Info.Size(), 10))
	case MsgModTime:
		return NewReply(StatusFileStatus, m.Info.ModTime().UTC().Format("20060102150405"))
	}
	return NewReply(StatusLocalProcessingError, "Unknown internal message")
}

// send delivers msg unless the connection is already gone.
func send(ctx context.Context, tx chan<- InternalMsg, msg InternalMsg) bool {
	select {
	case tx <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}
