package mirror

import (
	"fmt"
	"strings"

	imap "github.com/BrianLeishman/imapsync"
)

// TranslatePath joins source path segments with the destination delimiter.
// Segments are not escaped: one that contains delim reads back as more
// than one segment on the destination.
func TranslatePath(segments []string, delim string) string {
	return strings.Join(segments, delim)
}

// Translator maps source folder paths onto the destination's delimiter.
type Translator struct {
	log imap.Logger
}

// NewTranslator returns a Translator logging to log.
func NewTranslator(log imap.Logger) *Translator {
	return &Translator{log: log}
}

// Translate returns the destination path of f for a destination using
// destDelim.
func (t *Translator) Translate(f imap.Folder, destDelim string) (string, error) {
	segs := f.Segments()
	if destDelim == "" {
		if len(segs) > 1 {
			return "", fmt.Errorf("%w: %q has %d levels", ErrFlatDestination, f.DisplayName(), len(segs))
		}
		return segs[0], nil
	}

	for _, s := range segs {
		if strings.Contains(s, destDelim) {
			t.log.Warn("folder name contains the destination delimiter, it will be split into more levels",
				"folder", f.DisplayName(), "segment", s, "dest_delimiter", destDelim)
		}
	}
	return TranslatePath(segs, destDelim), nil
}
