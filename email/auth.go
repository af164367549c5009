package email

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-sasl"
)

// Authentication mechanism tags accepted in Options.Auth.
const (
	AuthPlain   string = "plain"
	AuthLogin   string = "login"
	AuthCramMD5 string = "cram_md5"
)

// CramMD5 is the SASL name of the CRAM-MD5 mechanism. go-sasl doesn't ship
// one.
const CramMD5 string = "CRAM-MD5"

var (
	// ErrUnsupportedAuth is returned for an Options.Auth tag we don't know.
	ErrUnsupportedAuth = errors.New("unsupported SMTP authentication method")
	// ErrAuthNotAdvertised is returned when the server doesn't offer the
	// mechanism we were asked to use.
	ErrAuthNotAdvertised = errors.New("the SMTP server does not advertise the authentication method")
)

// mechanisms maps Options.Auth tags to SASL mechanism names.
var mechanisms = map[string]string{
	AuthPlain:   sasl.Plain,
	AuthLogin:   sasl.Login,
	AuthCramMD5: CramMD5,
	"cram-md5":  CramMD5,
}

// Mechanism returns the SASL mechanism name for an Options.Auth tag. Tags are
// case insensitive.
func Mechanism(tag string) (string, error) {
	m, ok := mechanisms[strings.ToLower(strings.TrimSpace(tag))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAuth, tag)
	}
	return m, nil
}

// NewAuth returns a SASL client for the mechanism tag and credentials. It
// returns a nil client and no error when there is no user to log in as. An
// empty tag with a user means PLAIN.
func NewAuth(tag, user, password string) (sasl.Client, error) {
	if user == "" {
		return nil, nil
	}
	if tag == "" {
		tag = AuthPlain
	}
	m, err := Mechanism(tag)
	if err != nil {
		return nil, err
	}
	switch m {
	case sasl.Plain:
		return sasl.NewPlainClient("", user, password), nil
	case sasl.Login:
		return sasl.NewLoginClient(user, password), nil
	default:
		return NewCramMD5Client(user, password), nil
	}
}

type cramMD5Client struct {
	username, secret string
}

// NewCramMD5Client returns a SASL client for the CRAM-MD5 mechanism as
// described in RFC 2195.
func NewCramMD5Client(username, secret string) sasl.Client {
	return &cramMD5Client{username, secret}
}

func (a *cramMD5Client) Start() (mech string, ir []byte, err error) {
	return CramMD5, nil, nil
}

func (a *cramMD5Client) Next(challenge []byte) ([]byte, error) {
	if len(challenge) == 0 {
		return nil, sasl.ErrUnexpectedServerChallenge
	}
	return []byte(a.username + " " + CramMD5Digest(a.secret, challenge)), nil
}

// CramMD5Digest is the hex HMAC-MD5 of challenge keyed with secret.
func CramMD5Digest(secret string, challenge []byte) string {
	d := hmac.New(md5.New, []byte(secret))
	d.Write(challenge)
	return hex.EncodeToString(d.Sum(nil))
}
