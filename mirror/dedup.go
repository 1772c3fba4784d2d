package mirror

import (
	"fmt"

	"github.com/bradenaw/juniper/xslices"
	"github.com/davecgh/go-spew/spew"

	imap "github.com/BrianLeishman/imapsync"
)

// DefaultFetchBatch is how many headers are requested per UID FETCH.
const DefaultFetchBatch = 500

// Deduplicator reads the Message-IDs already stored in a folder.
type Deduplicator struct {
	batch int
	log   imap.Logger
}

// NewDeduplicator returns a Deduplicator fetching batch headers at a time,
// or DefaultFetchBatch when batch is not positive.
func NewDeduplicator(batch int, log imap.Logger) *Deduplicator {
	if batch <= 0 {
		batch = DefaultFetchBatch
	}
	return &Deduplicator{batch: batch, log: log}
}

// Identities returns the set of Message-IDs of every message in the folder
// currently selected on ep. Messages without a usable Message-ID add
// nothing. The result is a snapshot; deliveries made afterwards are not
// seen.
func (d *Deduplicator) Identities(ep Endpoint, folder string) (IdentitySet, error) {
	set := make(IdentitySet)

	uids, err := ep.Search()
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", imap.DecodeFolderName(folder), err)
	}

	log := d.log.WithAttrs("dest_folder", imap.DecodeFolderName(folder))
	withoutID := 0
	for _, chunk := range xslices.Chunk(uids, d.batch) {
		msgs, err := ep.Fetch(chunk, imap.FetchHeader)
		if err != nil {
			return nil, fmt.Errorf("fetch headers from %q: %w", imap.DecodeFolderName(folder), err)
		}
		for _, uid := range chunk {
			m, ok := msgs[uid]
			if !ok {
				// expunged between SEARCH and FETCH
				continue
			}
			h, err := parseHeader(m.Header)
			if err != nil {
				log.Warn("unreadable header, message has no identity", "uid", uid, "error", err)
				if imap.Verbose {
					log.Debug("unreadable header", "uid", uid, "header", spew.Sdump(m.Header))
				}
				withoutID++
				continue
			}
			if h.MessageID == "" {
				withoutID++
				continue
			}
			set.Add(h.MessageID)
		}
	}

	log.Info("destination identities", "messages", len(uids), "identities", len(set), "without_id", withoutID)
	return set, nil
}
