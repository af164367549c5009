package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog/log"
	gomail "gopkg.in/gomail.v2"
)

var (
	// ErrSessionClosed is returned by any Session method called after Close.
	ErrSessionClosed = errors.New("the SMTP session is closed")
	// ErrMessageTooLarge is returned by Send for a message larger than
	// Options.MaxMessageSize.
	ErrMessageTooLarge = errors.New("the message exceeds the maximum message size")
)

// Session is an open, authenticated SMTP connection. A Session is closed
// exactly once; it is not safe for concurrent use.
type Session interface {
	// Send transmits each message in its own mail transaction, with the
	// envelope taken from the message's Sender/From and To/Cc/Bcc headers.
	Send(msgs ...*Message) error
	// Noop checks that the server is still there.
	Noop() error
	// Reset aborts the current mail transaction.
	Reset() error
	// Close sends QUIT and closes the connection.
	Close() error
}

// smtpSession implements Session on top of a go-smtp client.
type smtpSession struct {
	ctx context.Context
	// stop detaches the context watcher that closes the connection.
	stop func() bool

	client  *smtp.Client
	host    string
	maxSize int64

	once   sync.Once
	closed bool
}

// usable returns why the session can't run another command, if anything.
func (s *smtpSession) usable() error {
	if s.closed {
		return ErrSessionClosed
	}
	return s.ctx.Err()
}

// fail prefers the context's error over whatever the cut-off connection
// produced.
func (s *smtpSession) fail(err error) error {
	if err != nil && s.ctx.Err() != nil {
		return fmt.Errorf("SMTP session with %v aborted: %w", s.host, s.ctx.Err())
	}
	return err
}

func (s *smtpSession) Send(msgs ...*Message) error {
	for _, m := range msgs {
		if err := s.usable(); err != nil {
			return err
		}
		var txErr error
		sender := gomail.SendFunc(func(from string, to []string, msg io.WriterTo) error {
			txErr = s.transmit(from, to, msg)
			return txErr
		})
		// gomail flattens errors into strings. Return ours as-is so callers
		// can still match them.
		if err := gomail.Send(sender, m.Message); err != nil {
			if txErr != nil {
				return s.fail(txErr)
			}
			return err
		}
	}
	return nil
}

// transmit runs one mail transaction. The message is rendered before MAIL
// FROM so that an oversized message never starts a transaction.
func (s *smtpSession) transmit(from string, to []string, msg io.WriterTo) error {
	var buf bytes.Buffer
	if _, err := msg.WriteTo(&buf); err != nil {
		return fmt.Errorf("can't render the message: %w", err)
	}
	if s.maxSize > 0 && int64(buf.Len()) > s.maxSize {
		return fmt.Errorf("%w: %v bytes (limit %v)", ErrMessageTooLarge, buf.Len(), s.maxSize)
	}

	log.Debug().
		Str("host", s.host).
		Str("from", from).
		Int("recipients", len(to)).
		Int("size", buf.Len()).
		Msg("sending message")

	if err := s.client.Mail(from, &smtp.MailOptions{Size: buf.Len()}); err != nil {
		return err
	}
	for _, addr := range to {
		if err := s.client.Rcpt(addr); err != nil {
			return err
		}
	}
	w, err := s.client.Data()
	if err != nil {
		return err
	}
	if _, err := buf.WriteTo(w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (s *smtpSession) Noop() error {
	if err := s.usable(); err != nil {
		return err
	}
	return s.fail(s.client.Noop())
}

func (s *smtpSession) Reset() error {
	if err := s.usable(); err != nil {
		return err
	}
	return s.fail(s.client.Reset())
}

// Close sends QUIT. If the server doesn't answer, the connection is closed
// anyway and the QUIT error returned. A session whose context is done has
// lost its connection already, so there is nothing to report.
func (s *smtpSession) Close() error {
	err := ErrSessionClosed
	s.once.Do(func() {
		s.closed = true
		s.stop()
		if s.ctx.Err() != nil {
			s.client.Close()
			err = nil
			return
		}
		err = s.client.Quit()
		if err != nil {
			s.client.Close()
		}
	})
	return err
}
