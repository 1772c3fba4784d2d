package main

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	imap "github.com/BrianLeishman/imapsync"
)

var errNoPassword = errors.New("no password: set the environment variable or run from a terminal")

type endpointConfig struct {
	label  string
	envVar string
	host   string
	port   int
	user   string
	token  string
}

type prompter func(label string) (string, error)

// promptPassword reads a password from the terminal without echo.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errNoPassword
	}
	fmt.Fprintf(os.Stderr, "%s password: ", label)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read %s password: %w", label, err)
	}
	return string(b), nil
}

// password returns the secret for c from its environment variable or,
// failing that, from prompt.
func (c endpointConfig) password(lookupEnv func(string) (string, bool), prompt prompter) (string, error) {
	if v, ok := lookupEnv(c.envVar); ok && v != "" {
		return v, nil
	}
	p, err := prompt(c.label)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", c.label, c.envVar, err)
	}
	return p, nil
}

// connect logs in to one endpoint, with XOAUTH2 when a token is given.
func connect(c endpointConfig, prompt prompter) (*imap.Dialer, error) {
	if c.token != "" {
		return imap.NewWithOAuth2(c.user, c.token, c.host, c.port)
	}
	pass, err := c.password(os.LookupEnv, prompt)
	if err != nil {
		return nil, err
	}
	return imap.New(c.user, pass, c.host, c.port)
}
