package imap

import (
	"strings"
	"time"
)

// AddSlashes escapes a string for use inside an IMAP quoted string.
var AddSlashes = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Verbose outputs every command and its response with the IMAP server
var Verbose = false

// SkipResponses skips printing server responses in verbose mode
var SkipResponses = false

// RetryCount is how many times idempotent commands are retried after a
// reconnect. Zero means a failure is returned immediately.
var RetryCount = 10

// DialTimeout defines how long to wait when establishing a new connection.
// Zero means no timeout.
var DialTimeout time.Duration

// CommandTimeout defines how long to wait for a command to complete.
// Zero means no timeout.
var CommandTimeout time.Duration

// MaxLiteralSize caps the size of a literal the server may send. Larger
// literals fail with ErrLiteralTooLarge instead of being buffered.
var MaxLiteralSize = 256 << 20

// TLSSkipVerify disables certificate verification when establishing new
// connections. Use with caution; skipping verification exposes the
// connection to man-in-the-middle attacks.
var TLSSkipVerify bool
