package e2e

import (
	"testing"

	"github.com/ptgott/smtpmix/smtptest"
)

const (
	testUser     = "myuser123"
	testPassword = "mypassword123"
)

// testEnvironmentConfig exposes options that should be available and
// perhaps changeable when spinning up a test environment. While they
// may not vary between tests, they shouldn't be buried inside
// functions.
type testEnvironmentConfig struct {
	// Offer STARTTLS. AUTH is only offered after STARTTLS unless
	// insecureAuth is set.
	tls          bool
	insecureAuth bool
	// Serve TLS from the first byte instead of STARTTLS. Implies tls.
	implicitTLS bool
	// Whether the config gets a storage section.
	journal bool
}

// testEnvironment manages all dependencies required to simulate a "real"
// environment and run the e2e tests. Callers should create this via
// startTestEnvironment.
type testEnvironment struct {
	SMTPServer  *smtptest.InProcessServer
	tempDirPath string // empty if there is no journal
}

// startTestEnvironment spins up dependencies. Everything is torn down when
// the test finishes.
func startTestEnvironment(t *testing.T, c testEnvironmentConfig) *testEnvironment {
	t.Helper()
	te := &testEnvironment{}

	if c.journal {
		te.tempDirPath = t.TempDir()
	}

	te.SMTPServer = smtptest.StartServer(t, smtptest.Config{
		Credentials:       map[string]string{testUser: testPassword},
		AllowInsecureAuth: c.insecureAuth,
		ImplicitTLS:       c.implicitTLS,
	}, c.tls || c.implicitTLS)

	return te
}

// configOptions returns config template options pointing at the test
// environment. Callers can adjust them before calling createUserConfig.
func (te *testEnvironment) configOptions() appConfigOptions {
	host, port := te.SMTPServer.HostPort()
	return appConfigOptions{
		Host:       host,
		Port:       port,
		User:       testUser,
		Password:   testPassword,
		TLS:        "opportunistic",
		StorageDir: te.tempDirPath,
	}
}
