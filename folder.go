package imap

import (
	"fmt"
	"strings"

	"github.com/emersion/go-imap/utf7"
)

// Folder is one entry of a LIST response.
type Folder struct {
	// Name is the full path in wire form (modified UTF-7).
	Name string
	// Delimiter is the hierarchy separator reported for this entry, or ""
	// when the server answered NIL (flat namespace).
	Delimiter  string
	Attributes []string
}

// Segments splits the full path on the folder's own delimiter.
func (f Folder) Segments() []string {
	if f.Delimiter == "" {
		return []string{f.Name}
	}
	return strings.Split(f.Name, f.Delimiter)
}

// Depth is the number of path segments.
func (f Folder) Depth() int {
	return len(f.Segments())
}

// DisplayName decodes the modified UTF-7 name for humans.
func (f Folder) DisplayName() string {
	return DecodeFolderName(f.Name)
}

// Selectable reports whether the folder can be opened with SELECT/EXAMINE.
func (f Folder) Selectable() bool {
	return !f.HasAttribute(`\Noselect`) && !f.HasAttribute(`\NonExistent`)
}

// HasAttribute reports whether the LIST entry carries attr (case-insensitive).
func (f Folder) HasAttribute(attr string) bool {
	for _, a := range f.Attributes {
		if strings.EqualFold(a, attr) {
			return true
		}
	}
	return false
}

// DecodeFolderName decodes a modified UTF-7 mailbox name, returning it
// unchanged when it is not valid modified UTF-7.
func DecodeFolderName(name string) string {
	decoded, err := utf7.Encoding.NewDecoder().String(name)
	if err != nil {
		return name
	}
	return decoded
}

// MailboxStatus is what a SELECT or EXAMINE reports about a folder.
type MailboxStatus struct {
	Name        string
	ReadOnly    bool
	Exists      int
	UIDValidity uint32
}

// ListFolders retrieves every folder of the account in server order.
func (d *Dialer) ListFolders() ([]Folder, error) {
	return d.list("*")
}

func (d *Dialer) list(pattern string) ([]Folder, error) {
	folders := make([]Folder, 0)
	_, err := d.Exec(`LIST "" `+quote(pattern), false, RetryCount, func(line []byte) error {
		if _, ok := cutPrefixFold(string(line), "* LIST "); !ok {
			return nil
		}
		f, err := parseListLine(string(line))
		if err != nil {
			return err
		}
		folders = append(folders, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("imap list %q: %w", pattern, err)
	}
	return folders, nil
}

// HierarchyDelimiter asks the server for its hierarchy delimiter with the
// special LIST "" "" form. It returns "" for a flat namespace.
func (d *Dialer) HierarchyDelimiter() (string, error) {
	folders, err := d.list("")
	if err != nil {
		return "", err
	}
	if len(folders) == 0 {
		return "", nil
	}
	return folders[0].Delimiter, nil
}

// FolderExists reports whether a folder with exactly this name exists.
func (d *Dialer) FolderExists(name string) (bool, error) {
	folders, err := d.list(name)
	if err != nil {
		return false, err
	}
	for _, f := range folders {
		// INBOX is case-insensitive everywhere
		if f.Name == name || (strings.EqualFold(name, "INBOX") && strings.EqualFold(f.Name, "INBOX")) {
			return true, nil
		}
	}
	return false, nil
}

// CreateFolder creates a folder. It is never retried.
func (d *Dialer) CreateFolder(name string) error {
	if _, err := d.Exec("CREATE "+quote(name), false, 0, nil); err != nil {
		return fmt.Errorf("imap create %q: %w", name, err)
	}
	return nil
}

// SelectFolder opens a folder, read-only (EXAMINE) or read-write (SELECT).
func (d *Dialer) SelectFolder(name string, readOnly bool) (MailboxStatus, error) {
	verb := "SELECT"
	if readOnly {
		verb = "EXAMINE"
	}
	r, err := d.Exec(verb+" "+quote(name), true, RetryCount, nil)
	if err != nil {
		return MailboxStatus{}, fmt.Errorf("imap %s %q: %w", strings.ToLower(verb), name, err)
	}
	d.Folder = name
	d.ReadOnly = readOnly

	st := parseMailboxStatus(r)
	st.Name = name
	st.ReadOnly = readOnly
	debugLog(d.ConnNum, d.Folder, "folder opened", "exists", st.Exists, "uidvalidity", st.UIDValidity)
	return st, nil
}
