package imap

import (
	"strings"

	"github.com/bradenaw/juniper/xslices"
)

// System flags defined by RFC 3501.
const (
	FlagSeen     = `\Seen`
	FlagAnswered = `\Answered`
	FlagFlagged  = `\Flagged`
	FlagDeleted  = `\Deleted`
	FlagDraft    = `\Draft`
	// FlagRecent is session scoped: servers reject it in APPEND and it
	// must never be replayed onto another mailbox.
	FlagRecent = `\Recent`
)

// WithoutFlags returns flags minus every case variant of the dropped flags.
func WithoutFlags(flags []string, drop ...string) []string {
	return xslices.Filter(flags, func(f string) bool {
		for _, d := range drop {
			if strings.EqualFold(f, d) {
				return false
			}
		}
		return true
	})
}
