package imap

import (
	"github.com/sqs/go-xoauth2"
)

// Authenticate performs XOAUTH2 authentication using an access token
func (d *Dialer) Authenticate(user string, accessToken string) (err error) {
	b64 := xoauth2.XOAuth2String(user, accessToken)
	_, err = d.Exec("AUTHENTICATE XOAUTH2 "+b64, false, 0, nil)
	return err
}

// Login performs LOGIN authentication using username and password
func (d *Dialer) Login(username string, password string) (err error) {
	_, err = d.Exec("LOGIN "+quote(username)+" "+quote(password), false, 0, nil)
	return err
}
