package imap

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type mockMessage struct {
	uid   int
	flags []string
	date  string
	raw   string
}

type mockMailbox struct {
	attrs    []string
	validity int
	nextUID  int
	msgs     []*mockMessage
}

// mockIMAPServer is a small stateful IMAP server for testing. It speaks just
// enough of RFC 3501 for the Dialer: LOGIN, AUTHENTICATE, LIST, CREATE,
// SELECT, EXAMINE, UID SEARCH, UID FETCH, APPEND and LOGOUT.
type mockIMAPServer struct {
	listener     net.Listener
	address      string
	authAttempts int32
	validUser    string
	validPass    string
	failAuth     bool

	mu        sync.Mutex
	delimiter string
	order     []string
	mailboxes map[string]*mockMailbox
	commands  []string
}

func newMockIMAPServer(validUser, validPass string) (*mockIMAPServer, error) {
	cert, err := generateSelfSignedCertificate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate certificate: %v", err)
	}

	listener, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	if err != nil {
		return nil, fmt.Errorf("failed to create TLS listener: %v", err)
	}

	server := &mockIMAPServer{
		listener:  listener,
		address:   listener.Addr().String(),
		validUser: validUser,
		validPass: validPass,
		delimiter: ".",
		mailboxes: make(map[string]*mockMailbox),
	}
	server.addMailbox("INBOX")

	go server.serve()
	return server, nil
}

// startMockServer starts a server for one test and points the package at
// it with verification off and retries disabled.
func startMockServer(t *testing.T) *mockIMAPServer {
	t.Helper()

	originalVerbose := Verbose
	originalRetryCount := RetryCount
	originalTLSSkipVerify := TLSSkipVerify
	Verbose = false
	RetryCount = 0
	TLSSkipVerify = true
	t.Cleanup(func() {
		Verbose = originalVerbose
		RetryCount = originalRetryCount
		TLSSkipVerify = originalTLSSkipVerify
	})

	server, err := newMockIMAPServer("testuser", "testpass")
	if err != nil {
		t.Fatalf("Failed to create mock server: %v", err)
	}
	t.Cleanup(server.Close)
	return server
}

func (s *mockIMAPServer) dial(t *testing.T) *Dialer {
	t.Helper()
	d, err := New("testuser", "testpass", s.GetHost(), s.GetPort())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func (s *mockIMAPServer) addMailbox(name string, attrs ...string) *mockMailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addMailboxLocked(name, attrs...)
}

func (s *mockIMAPServer) addMailboxLocked(name string, attrs ...string) *mockMailbox {
	mb := &mockMailbox{attrs: attrs, validity: 1000 + len(s.order), nextUID: 1}
	s.mailboxes[name] = mb
	s.order = append(s.order, name)
	return mb
}

func (s *mockIMAPServer) addMessage(mailbox, raw string, flags ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb := s.mailboxes[mailbox]
	m := &mockMessage{uid: mb.nextUID, flags: flags, date: " 2-Jan-2024 15:04:05 +0100", raw: raw}
	mb.nextUID++
	mb.msgs = append(mb.msgs, m)
	return m.uid
}

func (s *mockIMAPServer) messages(mailbox string) []*mockMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mb, ok := s.mailboxes[mailbox]; ok {
		return append([]*mockMessage(nil), mb.msgs...)
	}
	return nil
}

func (s *mockIMAPServer) seen(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.commands {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (s *mockIMAPServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConnection(conn)
	}
}

func (s *mockIMAPServer) handleConnection(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)

	writer.WriteString("* OK IMAP4rev1 Mock Server Ready\r\n")
	writer.Flush()

	var selected string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 2 {
			continue
		}
		tag, command, rest := parts[0], strings.ToUpper(parts[1]), ""
		if len(parts) == 3 {
			rest = parts[2]
		}
		if command == "UID" {
			sub := strings.SplitN(rest, " ", 2)
			command = "UID " + strings.ToUpper(sub[0])
			rest = ""
			if len(sub) == 2 {
				rest = sub[1]
			}
		}

		s.mu.Lock()
		s.commands = append(s.commands, command+" "+rest)
		s.mu.Unlock()

		switch command {
		case "LOGIN":
			atomic.AddInt32(&s.authAttempts, 1)
			args, _ := parseTokens(rest)
			switch {
			case s.failAuth:
				fmt.Fprintf(writer, "%s NO LOGIN failed\r\n", tag)
			case len(args) == 2 && args[0].Str == s.validUser && args[1].Str == s.validPass:
				fmt.Fprintf(writer, "%s OK LOGIN completed\r\n", tag)
			default:
				fmt.Fprintf(writer, "%s NO [AUTHENTICATIONFAILED] Authentication failed\r\n", tag)
			}

		case "AUTHENTICATE":
			atomic.AddInt32(&s.authAttempts, 1)
			if s.failAuth {
				// RFC 7628 style error challenge, the client must answer
				// with an empty line
				writer.WriteString("+ eyJzdGF0dXMiOiI0MDEifQ==\r\n")
				writer.Flush()
				if _, err := reader.ReadString('\n'); err != nil {
					return
				}
				fmt.Fprintf(writer, "%s NO AUTHENTICATE failed\r\n", tag)
			} else {
				fmt.Fprintf(writer, "%s OK AUTHENTICATE completed\r\n", tag)
			}

		case "LIST":
			args, _ := parseTokens(rest)
			if len(args) != 2 {
				fmt.Fprintf(writer, "%s BAD LIST needs two arguments\r\n", tag)
				break
			}
			s.writeList(writer, args[1].Str)
			fmt.Fprintf(writer, "%s OK LIST completed\r\n", tag)

		case "CREATE":
			args, _ := parseTokens(rest)
			s.mu.Lock()
			if _, ok := s.mailboxes[args[0].Str]; ok {
				fmt.Fprintf(writer, "%s NO [ALREADYEXISTS] Mailbox exists\r\n", tag)
			} else {
				s.addMailboxLocked(args[0].Str)
				fmt.Fprintf(writer, "%s OK CREATE completed\r\n", tag)
			}
			s.mu.Unlock()

		case "SELECT", "EXAMINE":
			args, _ := parseTokens(rest)
			s.mu.Lock()
			mb, ok := s.mailboxes[args[0].Str]
			if !ok {
				fmt.Fprintf(writer, "%s NO [NONEXISTENT] Unknown mailbox\r\n", tag)
			} else {
				selected = args[0].Str
				writer.WriteString("* FLAGS (\\Answered \\Flagged \\Deleted \\Seen \\Draft)\r\n")
				fmt.Fprintf(writer, "* %d EXISTS\r\n* 0 RECENT\r\n", len(mb.msgs))
				fmt.Fprintf(writer, "* OK [UIDVALIDITY %d] UIDs valid\r\n", mb.validity)
				if command == "EXAMINE" {
					fmt.Fprintf(writer, "%s OK [READ-ONLY] EXAMINE completed\r\n", tag)
				} else {
					fmt.Fprintf(writer, "%s OK [READ-WRITE] SELECT completed\r\n", tag)
				}
			}
			s.mu.Unlock()

		case "UID SEARCH":
			s.mu.Lock()
			writer.WriteString("* SEARCH")
			if mb, ok := s.mailboxes[selected]; ok {
				for _, m := range mb.msgs {
					fmt.Fprintf(writer, " %d", m.uid)
				}
			}
			writer.WriteString("\r\n")
			s.mu.Unlock()
			fmt.Fprintf(writer, "%s OK SEARCH completed\r\n", tag)

		case "UID FETCH":
			sp := strings.IndexByte(rest, ' ')
			s.writeFetch(writer, selected, rest[:sp], rest[sp+1:])
			fmt.Fprintf(writer, "%s OK FETCH completed\r\n", tag)

		case "APPEND":
			if err := s.handleAppend(reader, writer, tag, rest); err != nil {
				return
			}

		case "LOGOUT":
			writer.WriteString("* BYE IMAP4rev1 Server logging out\r\n")
			fmt.Fprintf(writer, "%s OK LOGOUT completed\r\n", tag)
			writer.Flush()
			return

		default:
			fmt.Fprintf(writer, "%s OK %s completed\r\n", tag, command)
		}

		writer.Flush()
	}
}

func (s *mockIMAPServer) writeList(w *bufio.Writer, pattern string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pattern == "" {
		fmt.Fprintf(w, "* LIST (\\Noselect) %q \"\"\r\n", s.delimiter)
		return
	}
	for _, name := range s.order {
		if pattern != "*" && pattern != name && !(name == "INBOX" && strings.EqualFold(pattern, name)) {
			continue
		}
		mb := s.mailboxes[name]
		fmt.Fprintf(w, "* LIST (%s) %q %q\r\n", strings.Join(mb.attrs, " "), s.delimiter, name)
	}
}

func (s *mockIMAPServer) writeFetch(w *bufio.Writer, selected, set, items string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.mailboxes[selected]
	if !ok {
		return
	}
	want := map[int]bool{}
	for _, r := range strings.Split(set, ",") {
		lo, hi, found := strings.Cut(r, ":")
		a, _ := strconv.Atoi(lo)
		b := a
		if found {
			b, _ = strconv.Atoi(hi)
		}
		for u := a; u <= b; u++ {
			want[u] = true
		}
	}
	for i, m := range mb.msgs {
		if !want[m.uid] {
			continue
		}
		fmt.Fprintf(w, "* %d FETCH (UID %d", i+1, m.uid)
		if strings.Contains(items, "FLAGS") {
			fmt.Fprintf(w, " FLAGS (%s)", strings.Join(m.flags, " "))
		}
		if strings.Contains(items, "INTERNALDATE") {
			fmt.Fprintf(w, " INTERNALDATE %q", m.date)
		}
		if strings.Contains(items, "BODY.PEEK[HEADER]") {
			header := m.raw
			if i := strings.Index(header, "\r\n\r\n"); i != -1 {
				header = header[:i+4]
			}
			fmt.Fprintf(w, " BODY[HEADER] {%d}\r\n%s", len(header), header)
		}
		if strings.Contains(items, "BODY.PEEK[]") {
			fmt.Fprintf(w, " BODY[] {%d}\r\n%s", len(m.raw), m.raw)
		}
		w.WriteString(")\r\n")
	}
}

func (s *mockIMAPServer) handleAppend(r *bufio.Reader, w *bufio.Writer, tag, rest string) error {
	open := strings.LastIndexByte(rest, '{')
	size, err := strconv.Atoi(strings.TrimSuffix(rest[open+1:], "}"))
	if err != nil {
		fmt.Fprintf(w, "%s BAD missing literal\r\n", tag)
		return nil
	}
	args, _ := parseTokens(rest[:open])

	w.WriteString("+ Ready for literal data\r\n")
	w.Flush()
	raw := make([]byte, size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return err
	}
	if _, err := r.ReadString('\n'); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.mailboxes[args[0].Str]
	if !ok {
		fmt.Fprintf(w, "%s NO [TRYCREATE] Unknown mailbox\r\n", tag)
		return nil
	}
	m := &mockMessage{uid: mb.nextUID, raw: string(raw)}
	for _, a := range args[1:] {
		switch a.Type {
		case TContainer:
			for _, f := range a.Tokens {
				if strings.EqualFold(f.Str, `\Recent`) {
					fmt.Fprintf(w, "%s BAD \\Recent cannot be set\r\n", tag)
					return nil
				}
				m.flags = append(m.flags, f.Str)
			}
		case TQuoted:
			m.date = a.Str
		}
	}
	mb.nextUID++
	mb.msgs = append(mb.msgs, m)
	fmt.Fprintf(w, "%s OK [APPENDUID %d %d] APPEND completed\r\n", tag, mb.validity, m.uid)
	return nil
}

func (s *mockIMAPServer) GetAuthAttempts() int {
	return int(atomic.LoadInt32(&s.authAttempts))
}

func (s *mockIMAPServer) ResetAuthAttempts() {
	atomic.StoreInt32(&s.authAttempts, 0)
}

func (s *mockIMAPServer) Close() {
	s.listener.Close()
}

func (s *mockIMAPServer) GetHost() string {
	host, _, _ := net.SplitHostPort(s.address)
	return host
}

func (s *mockIMAPServer) GetPort() int {
	_, portStr, _ := net.SplitHostPort(s.address)
	port, _ := strconv.Atoi(portStr)
	return port
}

// generateSelfSignedCertificate generates a self-signed certificate for testing
func generateSelfSignedCertificate() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Co"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	return tls.X509KeyPair(certPEM, keyPEM)
}
