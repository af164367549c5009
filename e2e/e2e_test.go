package e2e

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ptgott/smtpmix/deliver"
	"github.com/ptgott/smtpmix/email"
	"github.com/ptgott/smtpmix/smtptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// A message with a fixed ID goes out once. Running the cycle again skips it
// until -force is given.
func TestJournalSkipsSentMessages(t *testing.T) {
	testenv := startTestEnvironment(t, testEnvironmentConfig{
		tls:     true,
		journal: true,
	})

	config, err := createUserConfig(testenv.configOptions())
	require.NoError(t, err)

	req := deliver.Request{
		Body:      "Hello from the e2e tests",
		MessageID: "<e2e-1@example.com>",
	}

	runs := []struct {
		force    bool
		wantSent bool
	}{
		{force: false, wantSent: true},
		{force: false, wantSent: false},
		{force: true, wantSent: true},
	}
	for i, r := range runs {
		res, err := deliver.Run(context.Background(), &deliver.Config{Force: r.force}, &config, req)
		require.NoError(t, err, "run %v", i)
		assert.Equal(t, r.wantSent, res.Sent, "run %v", i)
		assert.Equal(t, req.MessageID, res.MessageID)
	}

	ems, err := testenv.SMTPServer.RetrieveEmails(0)
	require.NoError(t, err)
	if len(ems) != 2 {
		t.Fatalf("expecting %v emails but got %v", 2, len(ems))
	}

	m, err := smtptest.ParseEmail(ems[0])
	require.NoError(t, err)
	assert.Equal(t, req.MessageID, m.Header.Get("Message-Id"))
	assert.Equal(t, "The latest from smtpmix", m.Header.Get("Subject"))
}

// Without a storage section nothing is journaled, so the same message ID
// goes out every time.
func TestNoJournal(t *testing.T) {
	testenv := startTestEnvironment(t, testEnvironmentConfig{
		tls: true,
	})

	config, err := createUserConfig(testenv.configOptions())
	require.NoError(t, err)
	require.Nil(t, config.Storage)

	req := deliver.Request{Body: "again", MessageID: "<e2e-2@example.com>"}
	for i := 0; i < 2; i++ {
		res, err := deliver.Run(context.Background(), &deliver.Config{}, &config, req)
		require.NoError(t, err)
		assert.True(t, res.Sent)
	}
	assert.Len(t, testenv.SMTPServer.Messages(), 2)
}

func TestAuthMechanisms(t *testing.T) {
	for _, login := range []string{"plain", "login", "cram_md5"} {
		t.Run(login, func(t *testing.T) {
			testenv := startTestEnvironment(t, testEnvironmentConfig{
				tls: true,
			})
			opts := testenv.configOptions()
			opts.Login = login
			opts.TLS = "mandatory"
			config, err := createUserConfig(opts)
			require.NoError(t, err)

			_, err = deliver.Run(context.Background(), &deliver.Config{}, &config, deliver.Request{
				To:      []string{"other@example.com"},
				Subject: "Overridden",
				HTML:    "<p>Hello <b>there</b></p>",
			})
			require.NoError(t, err)

			msgs := testenv.SMTPServer.Messages()
			require.Len(t, msgs, 1)
			assert.Equal(t, testUser, msgs[0].User)
			assert.Equal(t, "newsletter@example.com", msgs[0].From)
			assert.Equal(t, []string{"other@example.com"}, msgs[0].To)
			assert.Contains(t, msgs[0].Body, "Subject: Overridden")
			assert.Contains(t, msgs[0].Body, "text/html")
			assert.Contains(t, msgs[0].Body, "Hello there")
		})
	}
}

func TestWrongPassword(t *testing.T) {
	testenv := startTestEnvironment(t, testEnvironmentConfig{
		tls: true,
	})
	opts := testenv.configOptions()
	opts.Password = "not-the-password"
	config, err := createUserConfig(opts)
	require.NoError(t, err)

	res, err := deliver.Run(context.Background(), &deliver.Config{}, &config, deliver.Request{Body: "x"})
	assert.Error(t, err)
	assert.False(t, res.Sent)
	assert.Empty(t, testenv.SMTPServer.Messages())
}

func TestMandatoryTLSWithoutSTARTTLS(t *testing.T) {
	testenv := startTestEnvironment(t, testEnvironmentConfig{
		insecureAuth: true,
	})
	opts := testenv.configOptions()
	opts.TLS = "mandatory"
	config, err := createUserConfig(opts)
	require.NoError(t, err)

	_, err = deliver.Run(context.Background(), &deliver.Config{}, &config, deliver.Request{Body: "x"})
	assert.True(t, errors.Is(err, email.ErrSTARTTLSNotOffered), "got %v", err)
	assert.Empty(t, testenv.SMTPServer.Messages())
}

func TestPlaintextSession(t *testing.T) {
	testenv := startTestEnvironment(t, testEnvironmentConfig{
		insecureAuth: true,
	})
	opts := testenv.configOptions()
	opts.TLS = "none"
	config, err := createUserConfig(opts)
	require.NoError(t, err)

	_, err = deliver.Run(context.Background(), &deliver.Config{}, &config, deliver.Request{Body: "in the clear"})
	require.NoError(t, err)
	assert.Len(t, testenv.SMTPServer.Messages(), 1)
}

func TestImplicitTLS(t *testing.T) {
	testenv := startTestEnvironment(t, testEnvironmentConfig{
		implicitTLS: true,
	})
	opts := testenv.configOptions()
	opts.TLS = "implicit"
	opts.Login = "cram_md5"
	config, err := createUserConfig(opts)
	require.NoError(t, err)

	res, err := deliver.Run(context.Background(), &deliver.Config{}, &config, deliver.Request{Body: "over smtps"})
	require.NoError(t, err)
	assert.True(t, res.Sent)

	msgs := testenv.SMTPServer.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, testUser, msgs[0].User)
}

// A cancelled run sends nothing and journals nothing.
func TestCanceledRun(t *testing.T) {
	testenv := startTestEnvironment(t, testEnvironmentConfig{
		tls:     true,
		journal: true,
	})
	config, err := createUserConfig(testenv.configOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := deliver.Request{Body: "x", MessageID: "<e2e-4@example.com>"}
	res, err := deliver.Run(ctx, &deliver.Config{}, &config, req)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.Sent)
	assert.Empty(t, testenv.SMTPServer.Messages())

	res, err = deliver.Run(context.Background(), &deliver.Config{}, &config, req)
	require.NoError(t, err)
	assert.True(t, res.Sent)
}

func TestMaxMessageSize(t *testing.T) {
	testenv := startTestEnvironment(t, testEnvironmentConfig{
		tls: true,
	})
	opts := testenv.configOptions()
	opts.MaxMessageSize = "1KiB"
	config, err := createUserConfig(opts)
	require.NoError(t, err)

	_, err = deliver.Run(context.Background(), &deliver.Config{}, &config, deliver.Request{
		Body: strings.Repeat("too long ", 500),
	})
	assert.True(t, errors.Is(err, email.ErrMessageTooLarge), "got %v", err)
	assert.Empty(t, testenv.SMTPServer.Messages())
}

// With the noemail flag the message is written out instead of sent, and
// nothing is journaled.
func TestNoEmailFlag(t *testing.T) {
	testenv := startTestEnvironment(t, testEnvironmentConfig{
		tls:     true,
		journal: true,
	})
	config, err := createUserConfig(testenv.configOptions())
	require.NoError(t, err)

	var out bytes.Buffer
	req := deliver.Request{Body: "dry run", MessageID: "<e2e-3@example.com>"}
	res, err := deliver.Run(context.Background(), &deliver.Config{OutputWr: &out, DryRun: true}, &config, req)
	require.NoError(t, err)
	assert.False(t, res.Sent)
	assert.Contains(t, out.String(), "Message-ID: <e2e-3@example.com>")
	assert.Contains(t, out.String(), "dry run")
	assert.Empty(t, testenv.SMTPServer.Messages())

	// The dry run didn't count as a delivery.
	res, err = deliver.Run(context.Background(), &deliver.Config{}, &config, req)
	require.NoError(t, err)
	assert.True(t, res.Sent)
}

func TestNoRecipients(t *testing.T) {
	testenv := startTestEnvironment(t, testEnvironmentConfig{
		tls: true,
	})
	config, err := createUserConfig(testenv.configOptions())
	require.NoError(t, err)
	config.Message.To = nil

	_, err = deliver.Run(context.Background(), &deliver.Config{}, &config, deliver.Request{Body: "x"})
	assert.Equal(t, deliver.ErrNoRecipients, err)
}

func TestCheck(t *testing.T) {
	testenv := startTestEnvironment(t, testEnvironmentConfig{
		tls: true,
	})
	config, err := createUserConfig(testenv.configOptions())
	require.NoError(t, err)

	require.NoError(t, deliver.Check(context.Background(), &config))
	assert.Empty(t, testenv.SMTPServer.Messages())

	opts := testenv.configOptions()
	opts.Password = "nope"
	bad, err := createUserConfig(opts)
	require.NoError(t, err)
	assert.Error(t, deliver.Check(context.Background(), &bad))
}
