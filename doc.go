// Package imap is the IMAP client behind imapsync.
//
// It covers what a one-way mailbox mirror needs and little else:
//
//   - Connecting over implicit TLS (port 993)
//   - Authenticating with LOGIN or XOAUTH2 (OAuth 2.0)
//   - Listing folders with their hierarchy delimiter and attributes
//   - Creating folders, selecting them read-write or read-only (EXAMINE)
//   - UID SEARCH and UID FETCH of flags, internal dates, headers and
//     byte-exact bodies
//   - APPEND with a synchronizing literal
//   - Automatic reconnect with re-authentication and folder restore for
//     idempotent commands
//
// CREATE and APPEND are never retried. Everything the client logs goes
// through the Logger interface, which defaults to log/slog.
package imap
