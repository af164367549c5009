package userconfig

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/units"
	"github.com/ptgott/smtpmix/email"
	"github.com/ptgott/smtpmix/mixin"
	"github.com/ptgott/smtpmix/storage"

	yaml "gopkg.in/yaml.v2"
)

const maxPort int = 65535

// Meta represents all current config options that the application can use,
// i.e., after validation and parsing
type Meta struct {
	SMTP    SMTP    `yaml:"smtp"`
	Message Message `yaml:"message"`
	// Storage is nil when the config has no storage section, in which case
	// deliveries aren't journaled.
	Storage *storage.KVConfig `yaml:"storage"`
}

// SMTP holds the connection parameters along with the connection settings
// that aren't parameters.
type SMTP struct {
	Params               mixin.Params
	Helo                 string
	TLS                  email.TLSPolicy
	SkipCertVerification bool
	Timeout              time.Duration
	MaxMessageSize       int64

	// present is set once an smtp section has been read.
	present bool
}

// Message holds defaults for the messages the CLI sends.
type Message struct {
	From    string   `yaml:"from"`
	To      []string `yaml:"to"`
	Subject string   `yaml:"subject"`
}

// rawSMTP is the smtp section as written in the config file.
type rawSMTP struct {
	Host                 string `yaml:"host"`
	Port                 string `yaml:"port"`
	Login                string `yaml:"login"`
	User                 string `yaml:"user"`
	Password             string `yaml:"password"`
	Helo                 string `yaml:"helo"`
	TLS                  string `yaml:"tls"`
	SkipCertVerification bool   `yaml:"skipCertVerification"`
	Timeout              string `yaml:"timeout"`
	MaxMessageSize       string `yaml:"maxMessageSize"`
}

// UnmarshalYAML parses the smtp section, returning any parsing errors.
// Validation happens in CheckAndSetDefaults.
func (s *SMTP) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var r rawSMTP
	if err := unmarshal(&r); err != nil {
		return fmt.Errorf("can't parse the smtp config: %v", err)
	}

	var port int
	if r.Port != "" {
		p, err := strconv.Atoi(r.Port)
		if err != nil {
			return fmt.Errorf("can't parse the smtp port %q as an integer", r.Port)
		}
		port = p
	}

	tp, err := email.ParseTLSPolicy(r.TLS)
	if err != nil {
		return fmt.Errorf("can't parse the smtp tls setting: %w", err)
	}

	var to time.Duration
	if r.Timeout != "" {
		to, err = time.ParseDuration(r.Timeout)
		if err != nil {
			return fmt.Errorf("can't parse the smtp timeout as a duration: %v", err)
		}
	}

	var size int64
	if r.MaxMessageSize != "" {
		b, err := units.ParseBase2Bytes(r.MaxMessageSize)
		if err != nil {
			return fmt.Errorf("can't parse the smtp maxMessageSize as a size: %v", err)
		}
		size = int64(b)
	}

	*s = SMTP{
		Params: mixin.Params{
			Host:     r.Host,
			Port:     port,
			Login:    r.Login,
			User:     r.User,
			Password: r.Password,
		},
		Helo:                 r.Helo,
		TLS:                  tp,
		SkipCertVerification: r.SkipCertVerification,
		Timeout:              to,
		MaxMessageSize:       size,
		present:              true,
	}
	return nil
}

// CheckAndSetDefaults validates s and either returns a copy of s with default
// settings applied or returns an error due to an invalid configuration
func (s *SMTP) CheckAndSetDefaults() (SMTP, error) {
	c := *s
	if strings.TrimSpace(c.Params.Host) == "" {
		return SMTP{}, errors.New("the smtp config must include a host")
	}
	if c.Params.Port < 0 || c.Params.Port > maxPort {
		return SMTP{}, fmt.Errorf("the smtp port must be between 1 and %v, or left out", maxPort)
	}
	if c.Params.Login != "" {
		if _, err := email.Mechanism(c.Params.Login); err != nil {
			return SMTP{}, fmt.Errorf("invalid smtp login: %w", err)
		}
	}
	if c.Timeout < 0 {
		return SMTP{}, errors.New("the smtp timeout can't be negative")
	}
	if c.Timeout == 0 {
		c.Timeout = email.DefaultTimeout
	}
	if c.MaxMessageSize < 0 {
		return SMTP{}, errors.New("the smtp maxMessageSize can't be negative")
	}
	return c, nil
}

// Options returns the connection options that aren't covered by the
// connection parameters. Port and authentication are left to the parameters.
func (s SMTP) Options() email.Options {
	o := email.Options{
		Helo:           s.Helo,
		TLS:            s.TLS,
		Timeout:        s.Timeout,
		MaxMessageSize: s.MaxMessageSize,
	}
	if s.SkipCertVerification {
		o.TLSConfig = &tls.Config{
			ServerName:         s.Params.Host,
			InsecureSkipVerify: true,
		}
	}
	return o
}

// CheckAndSetDefaults validates the addresses in m.
func (m *Message) CheckAndSetDefaults() (Message, error) {
	c := *m
	if c.From != "" {
		if _, err := mail.ParseAddress(c.From); err != nil {
			return Message{}, fmt.Errorf("invalid message from address %q: %v", c.From, err)
		}
	}
	c.To = make([]string, 0, len(m.To))
	for _, t := range m.To {
		if _, err := mail.ParseAddress(t); err != nil {
			return Message{}, fmt.Errorf("invalid message to address %q: %v", t, err)
		}
		c.To = append(c.To, t)
	}
	return c, nil
}

// CheckAndSetDefaults validates m and either returns a copy of m with default
// settings applied or returns an error due to an invalid configuration
func (m *Meta) CheckAndSetDefaults() (Meta, error) {
	c := Meta{}

	s, err := m.SMTP.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.SMTP = s

	msg, err := m.Message.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.Message = msg

	if m.Storage != nil {
		kv := *m.Storage
		c.Storage = &kv
	}

	return c, nil
}

// Parse generates usable configurations from possibly arbitrary user input.
// An error indicates a problem with parsing. The Reader r can be either JSON
// or YAML.
func Parse(r io.Reader) (*Meta, error) {
	var m Meta
	err := yaml.NewDecoder(r).Decode(&m)
	if err != nil {
		return &Meta{}, fmt.Errorf("can't read the config file as YAML: %v", err)
	}

	if !m.SMTP.present {
		return &Meta{}, errors.New("must include an \"smtp\" section")
	}

	return &m, nil
}
