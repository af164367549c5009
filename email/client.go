package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog/log"
)

// ErrSTARTTLSNotOffered is returned under TLSMandatory when the server
// doesn't advertise STARTTLS.
var ErrSTARTTLSNotOffered = errors.New("the SMTP server does not offer STARTTLS")

// SessionFunc is called with a freshly opened session.
type SessionFunc func(Session) error

// Client opens SMTP sessions and builds messages. The zero value is ready to
// use.
type Client struct {
	// DialContext opens the network connection. Defaults to a net.Dialer
	// bounded by Options.Timeout.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

// DefaultClient is the Client used when callers don't supply one.
var DefaultClient = &Client{}

// Connect dials host, greets the server, negotiates TLS according to
// opts.TLS and authenticates if opts has a user. On any failure the
// connection is closed and the error returned.
//
// The session stays bound to ctx: once ctx is done, the connection is closed
// and every further command fails with ctx's error.
//
// If fn is not nil it is called with the new session. If fn fails, the
// session is closed and only fn's error is returned. Otherwise the session
// belongs to the caller, who must Close it.
func (c *Client) Connect(ctx context.Context, host string, opts Options, fn SessionFunc) (Session, error) {
	sc, conn, err := c.dial(ctx, host, opts)
	if err != nil {
		return nil, err
	}

	s := &smtpSession{
		ctx:     ctx,
		client:  sc,
		host:    host,
		maxSize: opts.MaxMessageSize,
		stop: context.AfterFunc(ctx, func() {
			conn.Close()
		}),
	}

	if fn != nil {
		if err := fn(s); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// dial returns the client along with the network connection under it, so
// the caller can cut the connection off.
func (c *Client) dial(ctx context.Context, host string, opts Options) (*smtp.Client, net.Conn, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(opts.port()))
	to := opts.timeout()

	ctx, cancel := context.WithTimeout(ctx, to)
	defer cancel()

	dial := c.DialContext
	if dial == nil {
		nd := &net.Dialer{}
		dial = nd.DialContext
	}

	raw, err := dial(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("connecting to %v: %w", addr, ctx.Err())
		}
		return nil, nil, err
	}

	// The greeting, STARTTLS and AUTH are cut off with the dial context.
	stop := context.AfterFunc(ctx, func() {
		raw.Close()
	})
	defer stop()

	sc, err := newClient(ctx, raw, addr, host, opts)
	if err != nil {
		raw.Close()
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("connecting to %v: %w", addr, ctx.Err())
		}
		return nil, nil, err
	}
	return sc, raw, nil
}

func newClient(ctx context.Context, conn net.Conn, addr, host string, opts Options) (*smtp.Client, error) {
	to := opts.timeout()

	if opts.TLS == TLSImplicit {
		tc := tls.Client(conn, opts.tlsConfig(host))
		if err := tc.HandshakeContext(ctx); err != nil {
			return nil, fmt.Errorf("TLS handshake with %v failed: %w", addr, err)
		}
		conn = tc
	}

	// Bound the server greeting. go-smtp sets its own deadline around every
	// command from CommandTimeout.
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}

	sc, err := smtp.NewClient(conn, host)
	if err != nil {
		return nil, err
	}
	sc.CommandTimeout = to
	sc.SubmissionTimeout = to

	if err := handshake(sc, host, opts); err != nil {
		return nil, err
	}
	return sc, nil
}

// handshake runs the greeting, STARTTLS and AUTH on a new client.
func handshake(sc *smtp.Client, host string, opts Options) error {
	if err := sc.Hello(opts.helo()); err != nil {
		return err
	}

	if err := startTLS(sc, host, opts); err != nil {
		return err
	}

	a, err := NewAuth(opts.Auth, opts.User, opts.Password)
	if err != nil || a == nil {
		return err
	}

	ok, advertised := sc.Extension("AUTH")
	if !ok {
		return fmt.Errorf("%w: the server does not support AUTH", ErrAuthNotAdvertised)
	}
	mech, _, _ := a.Start()
	if !hasMechanism(advertised, mech) {
		return fmt.Errorf("%w: %v (offered: %v)", ErrAuthNotAdvertised, mech, advertised)
	}

	log.Debug().
		Str("host", host).
		Str("mechanism", mech).
		Msg("authenticating")

	if err := sc.Auth(a); err != nil {
		return fmt.Errorf("SMTP AUTH failed: %w", err)
	}
	return nil
}

func startTLS(sc *smtp.Client, host string, opts Options) error {
	if opts.TLS == NoTLS || opts.TLS == TLSImplicit {
		return nil
	}

	ok, _ := sc.Extension("STARTTLS")
	if !ok {
		if opts.TLS == TLSMandatory {
			return ErrSTARTTLSNotOffered
		}
		log.Debug().Str("host", host).Msg("STARTTLS not offered, continuing in plaintext")
		return nil
	}

	log.Debug().Str("host", host).Msg("upgrading the connection with STARTTLS")
	return sc.StartTLS(opts.tlsConfig(host))
}

func hasMechanism(advertised, mech string) bool {
	for _, m := range strings.Fields(advertised) {
		if strings.EqualFold(m, mech) {
			return true
		}
	}
	return false
}
