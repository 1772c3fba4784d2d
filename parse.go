package imap

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	nl         = "\r\n"
	TimeFormat = "_2-Jan-2006 15:04:05 -0700"
)

var (
	atom          = regexp.MustCompile(`{\d+}$`)
	existsRE      = regexp.MustCompile(`^\* (\d+) EXISTS`)
	uidValidityRE = regexp.MustCompile(`\[UIDVALIDITY (\d+)\]`)
)

// Token represents a parsed IMAP token
type Token struct {
	Type   TType
	Str    string
	Num    int
	Tokens []*Token
}

// TType represents the type of an IMAP token
type TType uint8

// TAtom holds the payload of a {n} literal and TLiteral a bare word such as
// FLAGS or \Seen.
const (
	TUnset TType = iota
	TAtom
	TNumber
	TLiteral
	TQuoted
	TNil
	TContainer
)

// parseTokens tokenizes one logical response line (literals already
// inlined by readLine). Parenthesized lists become TContainer tokens.
func parseTokens(r string) ([]*Token, error) {
	root := &Token{Type: TContainer}
	stack := []*Token{root}
	push := func(t *Token) {
		top := stack[len(stack)-1]
		top.Tokens = append(top.Tokens, t)
	}

	i := 0
	for i < len(r) {
		switch b := r[i]; {
		case b == ' ' || b == '\r' || b == '\n':
			i++
		case b == '(':
			t := &Token{Type: TContainer, Tokens: make([]*Token, 0, 1)}
			push(t)
			stack = append(stack, t)
			i++
		case b == ')':
			if len(stack) == 1 {
				return nil, fmt.Errorf("unmatched ')' at char %d in %q", i, r)
			}
			stack = stack[:len(stack)-1]
			i++
		case b == '"':
			var sb strings.Builder
			j := i + 1
			for ; j < len(r) && r[j] != '"'; j++ {
				if r[j] == '\\' && j+1 < len(r) {
					j++
				}
				sb.WriteByte(r[j])
			}
			if j >= len(r) {
				return nil, fmt.Errorf("unterminated quoted string at char %d", i)
			}
			push(&Token{Type: TQuoted, Str: sb.String()})
			i = j + 1
		case b == '{':
			end := strings.IndexByte(r[i:], '}')
			if end == -1 {
				return nil, fmt.Errorf("unterminated literal size at char %d", i)
			}
			size, err := strconv.Atoi(r[i+1 : i+end])
			if err != nil {
				return nil, fmt.Errorf("literal size %q: %w", r[i+1:i+end], err)
			}
			j := i + end + 1
			if strings.HasPrefix(r[j:], nl) {
				j += 2
			} else if j < len(r) && r[j] == '\n' {
				j++
			}
			if j+size > len(r) {
				return nil, fmt.Errorf("literal of %d bytes at char %d exceeds response", size, i)
			}
			push(&Token{Type: TAtom, Str: r[j : j+size]})
			i = j + size
		default:
			j := i
			for j < len(r) && !isDelimiter(r[j]) {
				if r[j] == '[' {
					// section specs such as BODY[HEADER] may hold spaces
					if k := strings.IndexByte(r[j:], ']'); k != -1 {
						j += k
					}
				}
				j++
			}
			push(bareToken(r[i:j]))
			i = j
		}
	}

	if len(stack) != 1 {
		return nil, fmt.Errorf("mismatched parentheses, depth %d at end of %q", len(stack)-1, r)
	}
	return root.Tokens, nil
}

func isDelimiter(b byte) bool {
	switch b {
	case ' ', '(', ')', '"', '{', '\r', '\n':
		return true
	}
	return false
}

func bareToken(s string) *Token {
	if num, err := strconv.Atoi(s); err == nil {
		return &Token{Type: TNumber, Num: num, Str: s}
	}
	if strings.EqualFold(s, "NIL") {
		return &Token{Type: TNil}
	}
	return &Token{Type: TLiteral, Str: s}
}

// parseFetchLine parses an untagged "* n FETCH (...)" line into the
// attribute tokens of its parenthesized list.
func parseFetchLine(line string) ([]*Token, error) {
	fields := strings.SplitN(strings.TrimLeft(line, " "), " ", 4)
	if len(fields) < 4 || fields[0] != "*" || !strings.EqualFold(fields[2], "FETCH") {
		return nil, fmt.Errorf("unable to parse FETCH line: %.80q", line)
	}
	if _, err := strconv.Atoi(fields[1]); err != nil {
		return nil, fmt.Errorf("unable to parse FETCH line (invalid seq num %s): %w", fields[1], err)
	}
	tks, err := parseTokens(fields[3])
	if err != nil {
		return nil, err
	}
	if len(tks) != 1 || tks[0].Type != TContainer {
		return nil, fmt.Errorf("FETCH line is not a single list: %.80q", line)
	}
	return tks[0].Tokens, nil
}

// parseListLine parses an untagged "* LIST (attrs) delim name" line.
func parseListLine(line string) (Folder, error) {
	rest, ok := cutPrefixFold(strings.TrimSpace(line), "* LIST ")
	if !ok {
		return Folder{}, fmt.Errorf("not a LIST response: %.80q", line)
	}
	tks, err := parseTokens(rest)
	if err != nil {
		return Folder{}, err
	}
	if len(tks) != 3 || tks[0].Type != TContainer {
		return Folder{}, fmt.Errorf("malformed LIST response: %.80q", line)
	}

	f := Folder{}
	for _, a := range tks[0].Tokens {
		f.Attributes = append(f.Attributes, a.Str)
	}
	switch tks[1].Type {
	case TQuoted:
		f.Delimiter = tks[1].Str
	case TNil:
	default:
		return Folder{}, fmt.Errorf("unexpected LIST delimiter %s in %.80q", tks[1], line)
	}
	switch tks[2].Type {
	case TQuoted, TAtom, TLiteral, TNumber:
		f.Name = tks[2].Str
	default:
		return Folder{}, fmt.Errorf("unexpected LIST mailbox %s in %.80q", tks[2], line)
	}
	return f, nil
}

// parseSearchLine appends the numbers of a "* SEARCH ..." line to ids.
func parseSearchLine(line string, ids []int) ([]int, bool, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "*" || !strings.EqualFold(fields[1], "SEARCH") {
		return ids, false, nil
	}
	for _, f := range fields[2:] {
		u, err := strconv.Atoi(f)
		if err != nil {
			return nil, true, fmt.Errorf("invalid SEARCH response %q: %w", line, err)
		}
		ids = append(ids, u)
	}
	return ids, true, nil
}

// parseMailboxStatus extracts the message count and UIDVALIDITY from a
// SELECT or EXAMINE response.
func parseMailboxStatus(r string) MailboxStatus {
	var st MailboxStatus
	for _, line := range strings.Split(r, nl) {
		if m := existsRE.FindStringSubmatch(line); m != nil {
			st.Exists, _ = strconv.Atoi(m[1])
		}
		if m := uidValidityRE.FindStringSubmatch(line); m != nil {
			v, _ := strconv.ParseUint(m[1], 10, 32)
			st.UIDValidity = uint32(v)
		}
	}
	return st
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}

// GetTokenName returns the string name of a token type
func GetTokenName(tokenType TType) string {
	switch tokenType {
	case TUnset:
		return "TUnset"
	case TAtom:
		return "TAtom"
	case TNumber:
		return "TNumber"
	case TLiteral:
		return "TLiteral"
	case TQuoted:
		return "TQuoted"
	case TNil:
		return "TNil"
	case TContainer:
		return "TContainer"
	}
	return ""
}

// String returns a string representation of a Token
func (t Token) String() string {
	tokenType := GetTokenName(t.Type)
	switch t.Type {
	case TUnset, TNil:
		return tokenType
	case TAtom, TQuoted:
		return fmt.Sprintf("(%s, len %d %.40q)", tokenType, len(t.Str), t.Str)
	case TNumber:
		return fmt.Sprintf("(%s %d)", tokenType, t.Num)
	case TLiteral:
		return fmt.Sprintf("(%s %s)", tokenType, t.Str)
	case TContainer:
		return fmt.Sprintf("(%s children: %s)", tokenType, t.Tokens)
	}
	return ""
}

// checkType validates that a token is one of the acceptable types
func (d *Dialer) checkType(token *Token, acceptableTypes []TType, loc string) error {
	for _, a := range acceptableTypes {
		if token.Type == a {
			return nil
		}
	}
	names := make([]string, len(acceptableTypes))
	for i, a := range acceptableTypes {
		names[i] = GetTokenName(a)
	}
	return fmt.Errorf("IMAP%d:%s: expected %s token %s, got %s", d.ConnNum, d.Folder, strings.Join(names, "|"), loc, token)
}
