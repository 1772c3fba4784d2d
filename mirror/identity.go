package mirror

import (
	"bytes"
	"strings"

	"github.com/jhillyerd/enmime/v2"
)

// IdentitySet holds the Message-IDs present in one destination folder.
type IdentitySet map[string]struct{}

// Add records id as present.
func (s IdentitySet) Add(id string) {
	s[id] = struct{}{}
}

// Has reports whether id is present. Identities compare byte for byte.
func (s IdentitySet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// header is the part of a message header the engine looks at.
type header struct {
	MessageID string
	From      string
	Subject   string
}

// parseHeader reads the header section of raw, which may be a header block
// or a whole message. The Message-ID is taken from the raw header, whitespace
// trimmed and otherwise kept as is, so a malformed MIME structure elsewhere
// in the header does not cost the message its identity.
func parseHeader(raw []byte) (header, error) {
	block := headerBlock(raw)
	root, err := enmime.ReadParts(bytes.NewReader(block))
	if err != nil {
		return header{}, err
	}
	h := header{
		MessageID: strings.TrimSpace(root.Header.Get("Message-ID")),
		From:      root.Header.Get("From"),
		Subject:   root.Header.Get("Subject"),
	}
	// decoded forms are for logging only
	if env, err := enmime.ReadEnvelope(bytes.NewReader(block)); err == nil {
		h.From = env.GetHeader("From")
		h.Subject = env.GetHeader("Subject")
	}
	return h, nil
}

// headerBlock cuts raw after the blank line ending the header section,
// adding that blank line when raw has none.
func headerBlock(raw []byte) []byte {
	for _, sep := range [][]byte{[]byte("\r\n\r\n"), []byte("\n\n")} {
		if i := bytes.Index(raw, sep); i != -1 {
			return raw[:i+len(sep)]
		}
	}
	block := make([]byte, 0, len(raw)+4)
	block = append(block, raw...)
	if len(block) > 0 && !bytes.HasSuffix(block, []byte("\n")) {
		block = append(block, "\r\n"...)
	}
	return append(block, "\r\n"...)
}
