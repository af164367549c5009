package smtptest

// Server contains state information for an SMTP server that a test sends
// mail to. The SMTP server should be able to return the payloads of messages
// sent to it during the test. The server is meant to start during a test (or
// test suite) and stop right after.
type Server interface {
	// Start launches the server and blocks while it serves. Retry behavior
	// is left to the caller.
	Start() error

	// Close terminates the server and any required resources. This is
	// designed not to return an error so it's easier to use with defer.
	Close()

	// RetrieveEmails returns the payloads of all email messages sent to the
	// server during the test/suite at or after time t in Unix epoch
	// nanoseconds.
	RetrieveEmails(t int64) ([]string, error)

	// Address returns the host:port of the server.
	Address() string
}

var _ Server = &InProcessServer{}
