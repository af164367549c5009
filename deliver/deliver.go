package deliver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ptgott/smtpmix/email"
	"github.com/ptgott/smtpmix/mixin"
	"github.com/ptgott/smtpmix/storage"
	"github.com/ptgott/smtpmix/userconfig"
	"github.com/rs/zerolog/log"
)

// ErrNoRecipients is returned when neither the request nor the config names
// anyone to send to.
var ErrNoRecipients = errors.New("the message has no recipients")

type Config struct {
	// Writer for the rendered message when DryRun is set. The means of
	// display is controlled by the caller.
	OutputWr io.Writer
	// Render the message to OutputWr instead of sending it.
	DryRun bool
	// Send even if the journal already has the message ID.
	Force bool
}

// Request is what the command line adds to the message section of the
// config. Non-empty fields win over the config.
type Request struct {
	To        []string
	Subject   string
	Body      string
	HTML      string
	MessageID string
}

// Result describes the outcome of Run.
type Result struct {
	MessageID string
	// Sent is false if the message was skipped or only rendered.
	Sent bool
}

// OpenJournal returns a journal backed by BadgerDB, or by a NoOpDB if c is
// nil. It's up to the caller to close it.
func OpenJournal(c *storage.KVConfig) (*storage.Journal, error) {
	if c == nil {
		return storage.NewJournal(&storage.NoOpDB{}), nil
	}
	db, err := storage.NewBadgerDB(c)
	if err != nil {
		return nil, err
	}
	return storage.NewJournal(db), nil
}

// messageOptions merges req into the message section of config.
func messageOptions(config *userconfig.Meta, req Request) email.MessageOptions {
	opts := email.MessageOptions{
		From:      config.Message.From,
		To:        config.Message.To,
		Subject:   config.Message.Subject,
		Body:      req.Body,
		HTML:      req.HTML,
		MessageID: req.MessageID,
	}
	if len(req.To) > 0 {
		opts.To = req.To
	}
	if req.Subject != "" {
		opts.Subject = req.Subject
	}
	return opts
}

// Run conducts a single send cycle and returns the first error encountered.
func Run(ctx context.Context, s *Config, config *userconfig.Meta, req Request) (Result, error) {
	smtp := mixin.New(config.SMTP.Params)

	opts := messageOptions(config, req)
	if len(opts.To) == 0 {
		return Result{}, ErrNoRecipients
	}

	m, err := smtp.Message(opts, nil)
	if err != nil {
		return Result{}, err
	}
	res := Result{MessageID: m.ID()}

	if s.DryRun {
		if s.OutputWr == nil {
			log.Warn().Msg(
				"a writer is unavailable for receiving the output message",
			)
			return res, nil
		}
		if _, err := m.WriteTo(s.OutputWr); err != nil {
			return res, fmt.Errorf("cannot write the message output: %v", err)
		}
		return res, nil
	}

	j, err := OpenJournal(config.Storage)
	if err != nil {
		return res, err
	}
	// Close the journal when we're done so BadgerDB can flush to disk.
	defer func() {
		if err := j.Close(); err != nil {
			log.Error().Err(err).Msg("error closing the journal")
		}
	}()

	if !s.Force {
		seen, err := j.Seen(res.MessageID)
		if err != nil {
			return res, err
		}
		if seen {
			log.Info().
				Str("messageID", res.MessageID).
				Msg("the journal already has this message, skipping it")
			return res, nil
		}
	}

	log.Info().Msg("attempting to send an email")
	err = smtp.Session(ctx, config.SMTP.Options(), func(sess email.Session) error {
		return sess.Send(m)
	})
	if err != nil {
		return res, err
	}
	res.Sent = true

	if config.Storage == nil {
		return res, nil
	}

	d := storage.Delivery{
		MessageID: res.MessageID,
		Host:      config.SMTP.Params.Host,
		From:      opts.From,
		To:        opts.To,
		SentAt:    time.Now().UTC(),
	}
	if err := j.Record(d); err != nil {
		// The message is out, so don't fail the cycle over this.
		log.Error().Err(err).Msg("error saving the delivery to the journal")
	}

	// Get rid of old keys just before we close
	if _, err := j.CleanupIfDue(config.Storage.CleanupInterval, time.Now()); err != nil {
		log.Error().Err(err).Msg("error cleaning up the journal")
	}
	return res, nil
}

// Check opens a session with the configured server, sends NOOP and
// disconnects.
func Check(ctx context.Context, config *userconfig.Meta) error {
	smtp := mixin.New(config.SMTP.Params)
	return smtp.Session(ctx, config.SMTP.Options(), func(sess email.Session) error {
		return sess.Noop()
	})
}
