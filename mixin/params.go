package mixin

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ptgott/smtpmix/email"
)

// Params are the SMTP connection parameters a host type carries. None of them
// is required: a zero value lets the SMTP client apply its own default.
type Params struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Login    string `yaml:"login"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Parameter describes one declared connection parameter.
type Parameter struct {
	Name        string
	Type        string
	Description string
}

// Parameters declares the connection parameters, in the order they are
// documented.
var Parameters = []Parameter{
	{Name: "host", Type: "String", Description: "SMTP host"},
	{Name: "port", Type: "Integer", Description: "SMTP port"},
	{Name: "smtp_login", Type: "String", Description: "SMTP authentication method"},
	{Name: "smtp_user", Type: "String", Description: "SMTP user to login as"},
	{Name: "smtp_password", Type: "String", Description: "SMTP password to login with"},
}

// ErrUnknownParameter is returned by Get and Set for an undeclared name.
var ErrUnknownParameter = errors.New("unknown parameter")

// Get returns the value of a declared parameter as text. An unset port is
// an empty string.
func (p Params) Get(name string) (string, error) {
	switch name {
	case "host":
		return p.Host, nil
	case "port":
		if p.Port == 0 {
			return "", nil
		}
		return strconv.Itoa(p.Port), nil
	case "smtp_login":
		return p.Login, nil
	case "smtp_user":
		return p.User, nil
	case "smtp_password":
		return p.Password, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownParameter, name)
}

// Set assigns a declared parameter from text. port must be a non-negative
// integer; an empty port unsets it.
func (p *Params) Set(name, value string) error {
	switch name {
	case "host":
		p.Host = value
	case "port":
		if value == "" {
			p.Port = 0
			return nil
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("the port must be a non-negative integer, got %q", value)
		}
		p.Port = n
	case "smtp_login":
		p.Login = value
	case "smtp_user":
		p.User = value
	case "smtp_password":
		p.Password = value
	default:
		return fmt.Errorf("%w: %q", ErrUnknownParameter, name)
	}
	return nil
}

// SetPair assigns a parameter from a "name=value" string, as given on the
// command line.
func (p *Params) SetPair(pair string) error {
	name, value, ok := strings.Cut(pair, "=")
	if !ok {
		return fmt.Errorf("expected name=value, got %q", pair)
	}
	return p.Set(strings.TrimSpace(name), value)
}

// address is how log lines name the server: host:port if the port parameter
// is set, otherwise just the host.
func (p Params) address() string {
	if p.Port != 0 {
		return fmt.Sprintf("%v:%v", p.Host, p.Port)
	}
	return p.Host
}

// ResolveOptions returns a copy of opts with the port, authentication
// method, user and password filled in from p wherever opts leaves them at
// their zero value. Values already in opts always win.
func ResolveOptions(opts email.Options, p Params) email.Options {
	if opts.Port == 0 {
		opts.Port = p.Port
	}
	if opts.Auth == "" {
		opts.Auth = p.Login
	}
	if opts.User == "" {
		opts.User = p.User
	}
	if opts.Password == "" {
		opts.Password = p.Password
	}
	return opts
}
