// Package ftp is the command-processing core of the firetrap FTP server.
// It holds the per-connection session state machine, the command handlers,
// the passive-mode negotiator and the control loop that turns handler
// results and background outcomes into replies.
// Storage backends and user stores plug in through the Storage and
// Authenticator interfaces.
package ftp

// StatusCode is a type for FTP status codes
type StatusCode = int

const (
	// Success codes (2xx)
	StatusCommandOK                       StatusCode = 200 // Command okay
	StatusSystemStatus                    StatusCode = 211 // System status, or system help reply
	StatusFileStatus                      StatusCode = 213 // File status
	StatusNameSystemType                  StatusCode = 215 // NAME system type
	StatusServiceReadyForNewUser          StatusCode = 220 // Service ready for new user
	StatusServiceClosingControlConnection StatusCode = 221 // Service closing control connection
	StatusClosingDataConnection           StatusCode = 226 // Closing data connection; requested file action successful
	StatusEnteringPassiveMode             StatusCode = 227 // Entering Passive Mode (h1,h2,h3,h4,p1,p2)
	StatusUserLoggedIn                    StatusCode = 230 // User logged in, proceed
	StatusFileActionOK                    StatusCode = 250 // Requested file action okay, completed
	StatusPathnameCreated                 StatusCode = 257 // "PATHNAME" created

	// Positive Intermediate codes (3xx)
	StatusNeedPassword      StatusCode = 331 // User name okay, need password
	StatusFileActionPending StatusCode = 350 // Requested file action pending further information

	// Transient Negative Completion codes (4xx)
	StatusServiceNotAvailable         StatusCode = 421 // Service not available, closing control connection
	StatusCantOpenDataConnection      StatusCode = 425 // Can't open data connection
	StatusRequestedFileActionNotTaken StatusCode = 450 // Requested file action not taken
	StatusLocalProcessingError        StatusCode = 451 // Requested action aborted: local error in processing

	// Permanent Negative Completion codes (5xx)
	StatusSyntaxError             StatusCode = 500 // Syntax error, command unrecognized
	StatusSyntaxErrorInParameters StatusCode = 501 // Syntax error in parameters or arguments
	StatusCommandNotImplemented   StatusCode = 502 // Command not implemented
	StatusBadSequenceOfCommands   StatusCode = 503 // Bad sequence of commands
	StatusNotLoggedIn             StatusCode = 530 // Not logged in
	StatusFileUnavailable         StatusCode = 550 // Requested action not taken; File unavailable
	StatusFileNameNotAllowed      StatusCode = 553 // Requested action not taken; file name not allowed
)

var statusText = map[StatusCode]string{
	200: "StatusCommandOK",
	211: "StatusSystemStatus",
	213: "StatusFileStatus",
	215: "StatusNameSystemType",
	220: "StatusServiceReadyForNewUser",
	221: "StatusServiceClosingControlConnection",
	226: "StatusClosingDataConnection",
	227: "StatusEnteringPassiveMode",
	230: "StatusUserLoggedIn",
	250: "StatusFileActionOK",
	257: "StatusPathnameCreated",
	331: "StatusNeedPassword",
	350: "StatusFileActionPending",
	421: "StatusServiceNotAvailable",
	425: "StatusCantOpenDataConnection",
	450: "StatusRequestedFileActionNotTaken",
	451: "StatusLocalProcessingError",
	500: "StatusSyntaxError",
	501: "StatusSyntaxErrorInParameters",
	502: "StatusCommandNotImplemented",
	503: "StatusBadSequenceOfCommands",
	530: "StatusNotLoggedIn",
	550: "StatusFileUnavailable",
	553: "StatusFileNameNotAllowed",
}

// StatusText returns the constant name of a status code, used for logging.
func StatusText(code int) string {
	return statusText[code]
}

// Verb is an upper-cased FTP command name.
type Verb = string

const (
	// Authentication and User Commands
	USER Verb = "USER" // Send username
	PASS Verb = "PASS" // Send password
	ACCT Verb = "ACCT" // Send account information

	// Transfer Parameter Commands
	TYPE Verb = "TYPE" // Set data transfer type
	PASV Verb = "PASV" // Enter passive mode
	ABOR Verb = "ABOR" // Abort an active transfer

	// File Service Commands
	RNFR Verb = "RNFR" // Rename from
	RNTO Verb = "RNTO" // Rename to
	CWD  Verb = "CWD"  // Change working directory
	CDUP Verb = "CDUP" // Change to parent directory
	SIZE Verb = "SIZE" // File size
	MDTM Verb = "MDTM" // File modification time

	// Informational Commands
	PWD  Verb = "PWD"  // Print working directory
	SYST Verb = "SYST" // Get operating system type
	FEAT Verb = "FEAT" // List supported extensions
	OPTS Verb = "OPTS" // Set options

	// Miscellaneous
	NOOP Verb = "NOOP" // No operation
	QUIT Verb = "QUIT" // Disconnect from the server
)
