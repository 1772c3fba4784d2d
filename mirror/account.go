// Package mirror copies the folder hierarchy and the messages of one IMAP
// account onto another. Messages are matched by their Message-ID header;
// anything the destination already holds is left alone, nothing is ever
// deleted and flags are only written when a message is first copied.
package mirror

import (
	"fmt"
	"time"

	imap "github.com/BrianLeishman/imapsync"
)

// Endpoint is the IMAP capability the engine needs from one authenticated
// session. *imap.Dialer implements it.
type Endpoint interface {
	ListFolders() ([]imap.Folder, error)
	HierarchyDelimiter() (string, error)
	FolderExists(name string) (bool, error)
	CreateFolder(name string) error
	SelectFolder(name string, readOnly bool) (imap.MailboxStatus, error)
	Search() ([]int, error)
	Fetch(uids []int, items ...imap.FetchItem) (map[int]*imap.Message, error)
	Append(folder string, raw []byte, flags []string, date time.Time) error
}

var _ Endpoint = (*imap.Dialer)(nil)

// Account is one side of the mirror: the session plus the folder listing
// and hierarchy delimiter read once at startup.
type Account struct {
	Name      string
	Endpoint  Endpoint
	Delimiter string
	Folders   []imap.Folder
}

// OpenAccount lists the folders of ep. The delimiter of the first listed
// folder is taken to hold for the whole account; when there is none the
// server is asked directly.
func OpenAccount(name string, ep Endpoint, log imap.Logger) (*Account, error) {
	folders, err := ep.ListFolders()
	if err != nil {
		return nil, fmt.Errorf("%s: list folders: %w", name, err)
	}

	delim := ""
	if len(folders) > 0 {
		delim = folders[0].Delimiter
	}
	if delim == "" {
		if delim, err = ep.HierarchyDelimiter(); err != nil {
			return nil, fmt.Errorf("%s: hierarchy delimiter: %w", name, err)
		}
	}

	for _, f := range folders {
		if f.Delimiter != "" && f.Delimiter != delim {
			log.Warn("folder uses a different delimiter than the account",
				"account", name, "folder", f.DisplayName(), "delimiter", f.Delimiter, "account_delimiter", delim)
		}
	}

	log.Info("account opened", "account", name, "folders", len(folders), "delimiter", delim)
	return &Account{
		Name:      name,
		Endpoint:  ep,
		Delimiter: delim,
		Folders:   folders,
	}, nil
}
