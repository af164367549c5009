package email

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultPort is used when Options.Port is zero.
	DefaultPort int = 25
	// DefaultHelo is the name we announce in EHLO/HELO when Options.Helo is
	// empty.
	DefaultHelo string = "localhost"
	// DefaultTimeout bounds dialing and every command round trip when
	// Options.Timeout is zero.
	DefaultTimeout time.Duration = time.Duration(30) * time.Second
)

// TLSPolicy controls whether and how a connection is encrypted.
type TLSPolicy int

const (
	// TLSOpportunistic upgrades with STARTTLS if the server offers it. This
	// is the zero value.
	TLSOpportunistic TLSPolicy = iota
	// TLSMandatory fails the connection if STARTTLS is not offered.
	TLSMandatory
	// NoTLS never upgrades the connection.
	NoTLS
	// TLSImplicit wraps the connection in TLS before the SMTP greeting
	// (sometimes called SMTPS).
	TLSImplicit
)

var tlsPolicyNames = map[TLSPolicy]string{
	TLSOpportunistic: "opportunistic",
	TLSMandatory:     "mandatory",
	NoTLS:            "none",
	TLSImplicit:      "implicit",
}

// String implements fmt.Stringer.
func (p TLSPolicy) String() string {
	if s, ok := tlsPolicyNames[p]; ok {
		return s
	}
	return fmt.Sprintf("TLSPolicy(%d)", int(p))
}

// ParseTLSPolicy reads a policy name as written in a config file. An empty
// string is the default (opportunistic) policy.
func ParseTLSPolicy(s string) (TLSPolicy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return TLSOpportunistic, nil
	}
	for p, n := range tlsPolicyNames {
		if n == s {
			return p, nil
		}
	}
	return TLSOpportunistic, fmt.Errorf("unknown TLS policy %q", s)
}

// Options configures a single SMTP connection. The zero value is usable and
// means: port 25, no authentication, STARTTLS when offered.
type Options struct {
	// Port of the SMTP server. Zero means DefaultPort.
	Port int
	// Auth is the authentication mechanism tag, e.g., "login", "plain" or
	// "cram_md5". See NewAuth.
	Auth     string
	User     string
	Password string
	// Helo is the domain we announce during the greeting.
	Helo string

	TLS TLSPolicy
	// TLSConfig is used for STARTTLS and implicit TLS. When nil, a config
	// with ServerName set to the host being dialed is used.
	TLSConfig *tls.Config

	// Timeout bounds dialing as well as each command. Zero means
	// DefaultTimeout.
	Timeout time.Duration
	// MaxMessageSize is the largest rendered message, in bytes, that a
	// session will transmit. Zero disables the check.
	MaxMessageSize int64
}

func (o Options) port() int {
	if o.Port == 0 {
		return DefaultPort
	}
	return o.Port
}

func (o Options) helo() string {
	if o.Helo == "" {
		return DefaultHelo
	}
	return o.Helo
}

func (o Options) timeout() time.Duration {
	if o.Timeout == 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

// tlsConfig returns the TLS config to use for host.
func (o Options) tlsConfig(host string) *tls.Config {
	if o.TLSConfig != nil {
		return o.TLSConfig
	}
	return &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
	}
}
