package smtptest

import "testing"

// StartServer creates an InProcessServer, starts it in the background and
// closes it when t finishes. If tls is true, a key pair is generated so
// the server offers STARTTLS, or serves TLS outright if c.ImplicitTLS is set.
func StartServer(t *testing.T, c Config, tls bool) *InProcessServer {
	t.Helper()

	if tls {
		k, crt, err := GenerateTLSFiles(t)
		if err != nil {
			t.Fatalf("can't generate TLS files for the test SMTP server: %v", err)
		}
		c.KeyPath = k
		c.CertPath = crt
	}

	srv, err := NewInProcessServer(c)
	if err != nil {
		t.Fatal(err)
	}

	go srv.Start()
	t.Cleanup(srv.Close)
	return srv
}
