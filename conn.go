package imap

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"

	retry "github.com/StirlingMarketingGroup/go-retry"
	"golang.org/x/net/idna"
)

var (
	nextConnNum      = 0
	nextConnNumMutex = sync.Mutex{}
)

// Dialer represents one authenticated IMAP connection. A Dialer is not safe
// for concurrent use; the mirror engine drives each one from a single
// goroutine.
type Dialer struct {
	conn      *tls.Conn
	r         *bufio.Reader
	Folder    string
	ReadOnly  bool
	Username  string
	Password  string
	Host      string
	Port      int
	Connected bool
	ConnNum   int
	// useXOAUTH2 indicates whether XOAUTH2 authentication should be used
	// on (re)connection instead of LOGIN. It is set by NewWithOAuth2.
	useXOAUTH2 bool
}

// dialHost establishes a TLS connection to the IMAP server. Internationalized
// host names are converted to their ASCII form first, which is what both DNS
// and the certificate check expect.
func dialHost(host string, port int) (*tls.Conn, error) {
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return nil, fmt.Errorf("imap host %q: %w", host, err)
	}
	dialer := &net.Dialer{Timeout: DialTimeout}
	cfg := &tls.Config{ServerName: ascii}
	if TLSSkipVerify {
		cfg.InsecureSkipVerify = true
	}
	return tls.DialWithDialer(dialer, "tcp", net.JoinHostPort(ascii, strconv.Itoa(port)), cfg)
}

func takeConnNum() int {
	nextConnNumMutex.Lock()
	defer nextConnNumMutex.Unlock()
	n := nextConnNum
	nextConnNum++
	return n
}

// NewWithOAuth2 creates a new IMAP connection using OAuth2 authentication
func NewWithOAuth2(username string, accessToken string, host string, port int) (*Dialer, error) {
	return open(username, accessToken, host, port, true)
}

// New creates a new IMAP connection using username/password authentication
func New(username string, password string, host string, port int) (*Dialer, error) {
	return open(username, password, host, port, false)
}

func open(username, secret, host string, port int, xoauth2 bool) (d *Dialer, err error) {
	connNum := takeConnNum()

	// Retry only the connection establishment, not authentication
	err = retry.Retry(func() error {
		debugLog(connNum, "", "establishing connection", "host", host, "port", port)
		conn, err := dialHost(host, port)
		if err != nil {
			debugLog(connNum, "", "failed to connect", "error", err)
			return err
		}
		d = &Dialer{
			conn:       conn,
			r:          bufio.NewReader(conn),
			Username:   username,
			Password:   secret,
			Host:       host,
			Port:       port,
			Connected:  true,
			ConnNum:    connNum,
			useXOAUTH2: xoauth2,
		}
		return nil
	}, RetryCount, func(err error) error {
		warnLog(connNum, "", "failed to connect, retrying shortly", "host", host, "error", err)
		if d != nil && d.conn != nil {
			_ = d.conn.Close()
		}
		return nil
	}, func() error {
		debugLog(connNum, "", "retrying connection now")
		return nil
	})
	if err != nil {
		errorLog(connNum, "", "failed to establish connection", "host", host, "error", err)
		return nil, fmt.Errorf("imap dial %s: %w", host, err)
	}

	// Auth failures never trigger a reconnect
	if xoauth2 {
		err = d.Authenticate(username, secret)
	} else {
		err = d.Login(username, secret)
	}
	if err != nil {
		errorLog(connNum, "", "authentication failed", "host", host, "user", username, "error", err)
		_ = d.Close()
		return nil, fmt.Errorf("%w: %s@%s: %v", ErrAuthentication, username, host, err)
	}

	infoLog(connNum, "", "connected", "host", host, "user", username)
	return d, nil
}

// Close closes the IMAP connection
func (d *Dialer) Close() (err error) {
	if d.Connected {
		debugLog(d.ConnNum, d.Folder, "closing connection")
		err = d.conn.Close()
		d.Connected = false
		if err != nil {
			return fmt.Errorf("imap close: %w", err)
		}
	}
	return nil
}

// Logout says goodbye to the server before closing the connection.
func (d *Dialer) Logout() error {
	if !d.Connected {
		return nil
	}
	_, err := d.Exec("LOGOUT", false, 0, nil)
	if cerr := d.Close(); err == nil {
		err = cerr
	}
	return err
}

// Reconnect closes and reopens the IMAP connection with re-authentication
func (d *Dialer) Reconnect() (err error) {
	_ = d.Close()
	debugLog(d.ConnNum, d.Folder, "reopening connection")

	conn, err := dialHost(d.Host, d.Port)
	if err != nil {
		return fmt.Errorf("imap reconnect dial: %w", err)
	}
	d.conn = conn
	d.r = bufio.NewReader(conn)
	d.Connected = true

	if d.useXOAUTH2 {
		err = d.Authenticate(d.Username, d.Password)
	} else {
		err = d.Login(d.Username, d.Password)
	}
	if err != nil {
		_ = d.conn.Close()
		d.Connected = false
		return fmt.Errorf("imap reconnect auth: %w", err)
	}

	// Restore selected folder state if any
	if d.Folder != "" {
		if _, err := d.SelectFolder(d.Folder, d.ReadOnly); err != nil {
			return fmt.Errorf("imap reconnect select: %w", err)
		}
	}

	return nil
}
