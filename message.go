package imap

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
)

// FetchItem names a message data item requested with UID FETCH.
type FetchItem string

// The PEEK forms never set \Seen, so fetching from a read-write selection
// leaves the source untouched as well.
const (
	FetchUID          FetchItem = "UID"
	FetchFlags        FetchItem = "FLAGS"
	FetchInternalDate FetchItem = "INTERNALDATE"
	FetchSize         FetchItem = "RFC822.SIZE"
	FetchHeader       FetchItem = "BODY.PEEK[HEADER]"
	FetchBody         FetchItem = "BODY.PEEK[]"
)

// Message holds whatever parts of one message a Fetch asked for.
type Message struct {
	UID          int
	Flags        []string
	InternalDate time.Time
	Size         uint64
	// Header is the raw header section, including the blank separator line.
	Header []byte
	// Body is the complete raw RFC 822 message, byte exact.
	Body []byte
}

// String returns a short description of the message
func (m Message) String() string {
	size := m.Size
	if size == 0 {
		size = uint64(len(m.Body))
	}
	return fmt.Sprintf("UID %d (%s, flags %v, received %s)", m.UID, humanize.Bytes(size), m.Flags, m.InternalDate.Format(time.RFC3339))
}

// GetUIDs retrieves message UIDs matching a search criteria
func (d *Dialer) GetUIDs(search string) ([]int, error) {
	if d.Folder == "" {
		return nil, ErrNoFolderSelected
	}
	uids := make([]int, 0)
	_, err := d.Exec("UID SEARCH "+search, false, RetryCount, func(line []byte) (err error) {
		uids, _, err = parseSearchLine(string(dropNl(line)), uids)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("imap search %q in %q: %w", search, d.Folder, err)
	}
	return uids, nil
}

// Search returns the UIDs of every message in the selected folder.
func (d *Dialer) Search() ([]int, error) {
	return d.GetUIDs("ALL")
}

// Fetch retrieves the requested items for the given UIDs of the selected
// folder, keyed by UID. The UID item is always requested.
func (d *Dialer) Fetch(uids []int, items ...FetchItem) (map[int]*Message, error) {
	msgs := make(map[int]*Message, len(uids))
	if len(uids) == 0 {
		return msgs, nil
	}
	if d.Folder == "" {
		return nil, ErrNoFolderSelected
	}

	names := []string{string(FetchUID)}
	for _, it := range items {
		if it != FetchUID {
			names = append(names, string(it))
		}
	}

	cmd := "UID FETCH " + sequenceSet(uids) + " (" + strings.Join(names, " ") + ")"
	_, err := d.Exec(cmd, false, RetryCount, func(line []byte) error {
		s := string(dropNl(line))
		if !strings.Contains(s, " FETCH ") || !strings.HasPrefix(s, "* ") {
			return nil
		}
		tks, err := parseFetchLine(s)
		if err != nil {
			return err
		}
		m, err := d.messageFromTokens(tks)
		if err != nil {
			return err
		}
		if m.UID <= 0 {
			return nil
		}
		if prev, ok := msgs[m.UID]; ok {
			mergeMessage(prev, m)
		} else {
			msgs[m.UID] = m
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("imap fetch in %q: %w", d.Folder, err)
	}
	return msgs, nil
}

func (d *Dialer) messageFromTokens(tks []*Token) (*Message, error) {
	m := &Message{}
	for i := 0; i+1 < len(tks); i += 2 {
		key, val := tks[i], tks[i+1]
		if err := d.checkType(key, []TType{TLiteral}, "as FETCH item name"); err != nil {
			return nil, err
		}
		switch strings.ToUpper(key.Str) {
		case "UID":
			if err := d.checkType(val, []TType{TNumber}, "after UID"); err != nil {
				return nil, err
			}
			m.UID = val.Num
		case "FLAGS":
			if err := d.checkType(val, []TType{TContainer}, "after FLAGS"); err != nil {
				return nil, err
			}
			m.Flags = make([]string, 0, len(val.Tokens))
			for _, f := range val.Tokens {
				m.Flags = append(m.Flags, f.Str)
			}
		case "INTERNALDATE":
			if err := d.checkType(val, []TType{TQuoted}, "after INTERNALDATE"); err != nil {
				return nil, err
			}
			t, err := time.Parse(TimeFormat, val.Str)
			if err != nil {
				return nil, fmt.Errorf("INTERNALDATE %q: %w", val.Str, err)
			}
			m.InternalDate = t
		case "RFC822.SIZE":
			if err := d.checkType(val, []TType{TNumber}, "after RFC822.SIZE"); err != nil {
				return nil, err
			}
			m.Size = uint64(val.Num)
		case "BODY[HEADER]", "RFC822.HEADER":
			m.Header = []byte(val.Str)
		case "BODY[]", "RFC822":
			m.Body = []byte(val.Str)
		}
	}
	return m, nil
}

func mergeMessage(dst, src *Message) {
	if src.Flags != nil {
		dst.Flags = src.Flags
	}
	if !src.InternalDate.IsZero() {
		dst.InternalDate = src.InternalDate
	}
	if src.Size != 0 {
		dst.Size = src.Size
	}
	if src.Header != nil {
		dst.Header = src.Header
	}
	if src.Body != nil {
		dst.Body = src.Body
	}
}

// Append stores a raw message in folder with the given flags and internal
// date. A zero date lets the server pick the current time. Append is never
// retried, a retry after a lost tagged response would store the message
// twice.
func (d *Dialer) Append(folder string, raw []byte, flags []string, date time.Time) error {
	var cmd strings.Builder
	cmd.WriteString("APPEND ")
	cmd.WriteString(quote(folder))
	cmd.WriteString(" (")
	cmd.WriteString(strings.Join(flags, " "))
	cmd.WriteString(")")
	if !date.IsZero() {
		cmd.WriteString(" ")
		cmd.WriteString(quote(date.Format(TimeFormat)))
	}
	cmd.WriteString(" {")
	cmd.WriteString(strconv.Itoa(len(raw)))
	cmd.WriteString("}")

	if _, err := d.ExecLiteral(cmd.String(), raw, nil); err != nil {
		return fmt.Errorf("imap append to %q: %w", folder, err)
	}
	debugLog(d.ConnNum, d.Folder, "message appended", "folder", folder, "size", humanize.Bytes(uint64(len(raw))))
	return nil
}

// sequenceSet renders uids as a compact IMAP sequence set ("1:3,7").
func sequenceSet(uids []int) string {
	sorted := append([]int(nil), uids...)
	sort.Ints(sorted)

	var sb strings.Builder
	for i := 0; i < len(sorted); {
		j := i
		for j+1 < len(sorted) && sorted[j+1] <= sorted[j]+1 {
			j++
		}
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Itoa(sorted[i]))
		if sorted[j] != sorted[i] {
			sb.WriteByte(':')
			sb.WriteString(strconv.Itoa(sorted[j]))
		}
		i = j + 1
	}
	return sb.String()
}
