package imap

import "errors"

var (
	// ErrAuthentication wraps every LOGIN/AUTHENTICATE rejection.
	ErrAuthentication = errors.New("imap authentication failed")

	// ErrCommandFailed is returned when the server answers a command with
	// NO or BAD.
	ErrCommandFailed = errors.New("imap command failed")

	// ErrNoFolderSelected is returned by commands that need a selected
	// folder when none is.
	ErrNoFolderSelected = errors.New("imap: no folder selected")

	// ErrLiteralTooLarge is returned when the server announces a literal
	// above MaxLiteralSize.
	ErrLiteralTooLarge = errors.New("imap literal too large")
)
