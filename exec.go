package imap

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	retry "github.com/StirlingMarketingGroup/go-retry"
	"github.com/rs/xid"
)

// Exec executes an IMAP command with retry logic and response building
func (d *Dialer) Exec(command string, buildResponse bool, retryCount int, processLine func(line []byte) error) (response string, err error) {
	return d.exec(command, nil, buildResponse, retryCount, processLine)
}

// ExecLiteral executes a command whose last argument is a synchronizing
// literal. The command must end with the "{n}" marker for literal; the
// payload is sent once the server answers with a continuation request.
// Commands carrying a literal are never retried since they are not
// idempotent.
func (d *Dialer) ExecLiteral(command string, literal []byte, processLine func(line []byte) error) (response string, err error) {
	if literal == nil {
		literal = []byte{}
	}
	return d.exec(command, literal, false, 0, processLine)
}

func (d *Dialer) exec(command string, literal []byte, buildResponse bool, retryCount int, processLine func(line []byte) error) (response string, err error) {
	var resp strings.Builder
	err = retry.Retry(func() (err error) {
		if !d.Connected {
			return fmt.Errorf("imap: connection %d is closed", d.ConnNum)
		}

		tag := []byte(strings.ToUpper(xid.New().String()))

		if CommandTimeout != 0 {
			_ = d.conn.SetDeadline(time.Now().Add(CommandTimeout))
			defer func() { _ = d.conn.SetDeadline(time.Time{}) }()
		}

		c := fmt.Sprintf("%s %s\r\n", tag, command)
		debugLog(d.ConnNum, d.Folder, "sending command", "command", d.sanitize(strings.TrimSpace(c)))

		if _, err = d.conn.Write([]byte(c)); err != nil {
			return err
		}

		if buildResponse {
			resp = strings.Builder{}
		}
		pending := literal
		for {
			var line []byte
			line, err = d.readLine()
			if err != nil {
				return err
			}

			if Verbose && !SkipResponses {
				debugLog(d.ConnNum, d.Folder, "server response", "response", string(dropNl(line)))
			}

			if pending != nil && len(line) > 0 && line[0] == '+' {
				if _, err = d.conn.Write(pending); err != nil {
					return err
				}
				if _, err = d.conn.Write([]byte(nl)); err != nil {
					return err
				}
				pending = nil
				continue
			}
			if pending == nil && len(line) > 0 && line[0] == '+' {
				// SASL challenge after a rejected XOAUTH2: answer empty so the
				// server sends the tagged NO.
				if _, err = d.conn.Write([]byte(nl)); err != nil {
					return err
				}
				continue
			}

			// XID tags are 20 uppercase base32hex characters (0-9, A-V).
			taglen := len(tag)
			oklen := 3
			if len(line) >= taglen+oklen && bytes.Equal(line[:taglen], tag) {
				if !bytes.Equal(line[taglen+1:taglen+oklen], []byte("OK")) {
					return fmt.Errorf("%w: %s: %s", ErrCommandFailed, commandName(command), strings.TrimSpace(string(line[taglen+1:])))
				}
				return nil
			}

			if processLine != nil {
				if err = processLine(line); err != nil {
					return err
				}
			}
			if buildResponse {
				resp.Write(line)
			}
		}
	}, retryCount, func(err error) error {
		warnLog(d.ConnNum, d.Folder, "command failed, closing connection", "command", commandName(command), "error", err)
		_ = d.Close()
		return nil
	}, func() error {
		return d.Reconnect()
	})
	if err != nil {
		errorLog(d.ConnNum, d.Folder, "command failed", "command", commandName(command), "error", err)
		return "", err
	}

	if buildResponse {
		return resp.String(), nil
	}
	return "", nil
}

// readLine reads one response line, inlining any "{n}" literal that ends
// it together with the remainder of the line that follows the literal.
func (d *Dialer) readLine() ([]byte, error) {
	line, err := d.r.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	for {
		a := atom.Find(dropNl(line))
		if a == nil {
			return line, nil
		}
		n, err := strconv.Atoi(string(a[1 : len(a)-1]))
		if err != nil || n > MaxLiteralSize {
			return nil, fmt.Errorf("%w: {%s}", ErrLiteralTooLarge, a[1:len(a)-1])
		}

		buf := make([]byte, n)
		if _, err = io.ReadFull(d.r, buf); err != nil {
			return nil, err
		}
		line = append(line, buf...)

		rest, err := d.r.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		line = append(line, rest...)
	}
}

// sanitize masks credentials in a command before it is logged.
func (d *Dialer) sanitize(command string) string {
	if i := strings.Index(command, "AUTHENTICATE XOAUTH2 "); i != -1 {
		return command[:i] + "AUTHENTICATE XOAUTH2 ****"
	}
	if d.Password != "" {
		command = strings.ReplaceAll(command, quote(d.Password), `"****"`)
	}
	return command
}

// commandName returns the verb of a command for log and error messages.
func commandName(command string) string {
	fields := strings.Fields(command)
	switch {
	case len(fields) == 0:
		return ""
	case fields[0] == "UID" && len(fields) > 1:
		return "UID " + fields[1]
	}
	return fields[0]
}
