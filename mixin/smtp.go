package mixin

import (
	"context"
	"errors"

	"github.com/ptgott/smtpmix/email"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Dialer is the SMTP client the capability delegates to. *email.Client
// implements it.
type Dialer interface {
	Message(opts email.MessageOptions, body email.BodyFunc) (*email.Message, error)
	Connect(ctx context.Context, host string, opts email.Options, fn email.SessionFunc) (email.Session, error)
}

var _ Dialer = &email.Client{}

// Capable is implemented by types that embed SMTP.
type Capable interface {
	Message(opts email.MessageOptions, body email.BodyFunc) (*email.Message, error)
	Connect(ctx context.Context, opts email.Options, fn email.SessionFunc) (email.Session, error)
	Session(ctx context.Context, opts email.Options, fn email.SessionFunc) error
	Send(ctx context.Context, opts email.Options, msgs ...*email.Message) error
}

var _ Capable = &SMTP{}

// SMTP gives the type that embeds it SMTP connection parameters and methods
// that use them. Create it with New.
type SMTP struct {
	Params

	// Log receives one informational line per connect and disconnect.
	Log zerolog.Logger
	// Client does the actual SMTP work.
	Client Dialer
}

// New returns an SMTP using p, the global logger and email.DefaultClient.
func New(p Params) *SMTP {
	return &SMTP{
		Params: p,
		Log:    log.Logger,
		Client: email.DefaultClient,
	}
}

// Message builds a message with the SMTP client. The result and any error
// come straight from the client.
func (s *SMTP) Message(opts email.MessageOptions, body email.BodyFunc) (*email.Message, error) {
	return s.Client.Message(opts, body)
}

// Connect opens a connection to Host. Port, Login, User and Password fill in
// whichever of the corresponding options the caller left empty. fn, if any,
// is passed on to the client, which decides when it runs; the session is
// not closed here.
func (s *SMTP) Connect(ctx context.Context, opts email.Options, fn email.SessionFunc) (email.Session, error) {
	opts = ResolveOptions(opts, s.Params)

	s.Log.Info().Msgf("Connecting to %v ...", s.address())

	return s.Client.Connect(ctx, s.Host, opts, fn)
}

// Session connects like Connect, passes the session to fn, then closes it.
// The session is closed and the disconnect logged even if fn fails or
// panics. fn's error is returned, joined with any error from closing.
func (s *SMTP) Session(ctx context.Context, opts email.Options, fn email.SessionFunc) (err error) {
	sess, err := s.Connect(ctx, opts, nil)
	if err != nil {
		return err
	}

	defer func() {
		// ErrSessionClosed means fn closed it already.
		if cerr := sess.Close(); cerr != nil && !errors.Is(cerr, email.ErrSessionClosed) {
			err = errors.Join(err, cerr)
		}

		s.Log.Info().Msgf("Disconnecting to %v", s.address())
	}()

	if fn != nil {
		err = fn(sess)
	}
	return err
}

// Send delivers msgs in a single session.
func (s *SMTP) Send(ctx context.Context, opts email.Options, msgs ...*email.Message) error {
	return s.Session(ctx, opts, func(sess email.Session) error {
		return sess.Send(msgs...)
	})
}
