package ftp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
)

// Command is one tokenized line from the control connection.
type Command struct {
	Verb Verb
	Arg  []byte
}

func (c Command) String() string {
	if len(c.Arg) == 0 {
		return c.Verb
	}
	return c.Verb + " " + string(c.Arg)
}

// ParseCommand reads one line from the client and splits it into the verb and
// its argument. The verb is upper-cased, the argument is kept as raw bytes.
// A line longer than the reader's buffer is discarded up to its newline and
// reported as ErrLineTooLong; the reader is then positioned at the next line.
func ParseCommand(r *bufio.Reader) (cmd Command, err error) {
	line, err := r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = r.ReadSlice('\n')
		}
		if err == nil {
			err = ErrLineTooLong
		}
	}
	if err != nil {
		err = fmt.Errorf("error reading from connection: %w", err)
		return
	}
	line = bytes.TrimRight(line, "\r\n")
	verb, arg, _ := bytes.Cut(bytes.TrimLeft(line, " "), []byte{' '})
	cmd.Verb = string(bytes.ToUpper(verb))
	if len(arg) > 0 {
		// line points into the reader's buffer
		cmd.Arg = bytes.Clone(arg)
	}
	return
}

type commandEntry struct {
	newHandler func(arg []byte) Handler
	needsLogin bool
}

// commands maps each verb to its handler constructor.
var commands = map[Verb]commandEntry{
	// login sequence
	USER: {newHandler: func(arg []byte) Handler { return UserCommand{Username: arg} }},
	PASS: {newHandler: func(arg []byte) Handler { return PassCommand{Password: arg} }},
	ACCT: {newHandler: func([]byte) Handler { return AcctCommand{} }},

	// allowed before login
	TYPE: {newHandler: func([]byte) Handler { return TypeCommand{} }},
	FEAT: {newHandler: func([]byte) Handler { return FeaturesCommand{} }},
	SYST: {newHandler: func([]byte) Handler { return SystemCommand{} }},
	OPTS: {newHandler: func(arg []byte) Handler { return OptsCommand{Option: string(arg)} }},
	NOOP: {newHandler: func([]byte) Handler { return NoopCommand{} }},
	QUIT: {newHandler: func([]byte) Handler { return CloseCommand{} }},

	// file system
	PWD:  {newHandler: func([]byte) Handler { return PrintWorkingDirectoryCommand{} }, needsLogin: true},
	CWD:  {newHandler: func(arg []byte) Handler { return ChangeDirectoryCommand{Path: string(arg)} }, needsLogin: true},
	CDUP: {newHandler: func([]byte) Handler { return ChangeDirectoryCommand{Path: ".."} }, needsLogin: true},
	RNFR: {newHandler: func(arg []byte) Handler { return RenameFromCommand{Path: string(arg)} }, needsLogin: true},
	RNTO: {newHandler: func(arg []byte) Handler { return RenameToCommand{Path: string(arg)} }, needsLogin: true},
	SIZE: {newHandler: func(arg []byte) Handler { return SizeCommand{Path: string(arg)} }, needsLogin: true},
	MDTM: {newHandler: func(arg []byte) Handler { return ModifyTimeCommand{Path: string(arg)} }, needsLogin: true},

	// data connection
	PASV: {newHandler: func([]byte) Handler { return PassiveModeCommand{} }, needsLogin: true},
	ABOR: {newHandler: func([]byte) Handler { return AbortCommand{} }, needsLogin: true},
}

// Handler returns the handler for the command and whether it requires a
// logged in session. ok is false for unknown verbs.
func (c Command) Handler() (h Handler, needsLogin bool, ok bool) {
	entry, ok := commands[c.Verb]
	if !ok {
		return nil, false, false
	}
	return entry.newHandler(c.Arg), entry.needsLogin, true
}
