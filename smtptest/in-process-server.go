package smtptest

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

// Message is an email received by an InProcessServer, along with its
// envelope.
type Message struct {
	Created time.Time
	// User that authenticated the session, empty for anonymous sessions.
	User string
	From string
	To   []string
	Body string
}

// Config configures an InProcessServer.
type Config struct {
	// Paths to a PEM key and root cert, e.g., from GenerateTLSFiles. If
	// empty, the server doesn't offer STARTTLS.
	KeyPath  string
	CertPath string
	// Credentials maps usernames to passwords. When nil, any non-empty
	// username and password are accepted, except for CRAM-MD5, which needs
	// to know the password.
	Credentials map[string]string
	// AllowInsecureAuth allows AUTH before STARTTLS.
	AllowInsecureAuth bool
	// AllowAnonymous accepts mail from sessions that didn't authenticate.
	AllowAnonymous bool
	// ImplicitTLS serves TLS from the first byte instead of offering
	// STARTTLS. Needs KeyPath and CertPath.
	ImplicitTLS bool
}

// Backend implements smtp.Backend. It's a thin authentication wrapper
// for an InMemoryEmailStore.
type Backend struct {
	*InMemoryEmailStore
	credentials    map[string]string
	allowAnonymous bool
}

// Login implements smtp.Backend.
func (be *Backend) Login(_ *smtp.ConnectionState, username string, password string) (smtp.Session, error) {
	if username == "" || password == "" {
		return nil, errors.New("no username or password provided")
	}
	if be.credentials != nil {
		if p, ok := be.credentials[username]; !ok || p != password {
			return nil, errors.New("invalid username or password")
		}
	}
	return &session{store: be.InMemoryEmailStore, user: username}, nil
}

// AnonymousLogin implements smtp.Backend. Only supported if the Config
// allowed it, since we usually want to enforce AUTH.
func (be *Backend) AnonymousLogin(_ *smtp.ConnectionState) (smtp.Session, error) {
	if !be.allowAnonymous {
		return nil, smtp.ErrAuthRequired
	}
	return &session{store: be.InMemoryEmailStore}, nil
}

// session implements smtp.Session for one client connection.
type session struct {
	store *InMemoryEmailStore
	user  string
	from  string
	to    []string
}

// Reset implements smtp.Session.
func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

// Logout implements smtp.Session. No-op here.
func (s *session) Logout() error { return nil }

// Mail implements smtp.Session.
func (s *session) Mail(from string, _ smtp.MailOptions) error {
	s.from = from
	return nil
}

// Rcpt implements smtp.Session.
func (s *session) Rcpt(to string) error {
	s.to = append(s.to, to)
	return nil
}

// Data implements smtp.Session. Stores the email data in memory for retrieval
// at the end of the test.
func (s *session) Data(r io.Reader) error {
	// doubtful we'll get an email this big, but we need a limit
	var maxEmailSize int64 = 100 * units.MiB
	buf, err := io.ReadAll(io.LimitReader(r, maxEmailSize))
	if err != nil {
		return err
	}

	s.store.saveEmail(Message{
		User: s.user,
		From: s.from,
		To:   append([]string(nil), s.to...),
		Body: string(buf),
	})
	return nil
}

// InMemoryEmailStore retains email bodies in memory for comparison against
// a test's expected output.
// Designed to be goroutine safe since we don't know how many goroutines will
// be hitting the server at once.
type InMemoryEmailStore struct {
	mu       *sync.Mutex
	messages []Message
}

// InProcessServer is an SMTP server that runs in the same process as the
// test suite, letting us inspect sent emails. You must initialize this
// via NewInProcessServer
type InProcessServer struct {
	*smtp.Server
	*InMemoryEmailStore
	listener net.Listener
}

// NewInProcessServer creates an InProcessServer listening on a random
// loopback port, including configuring its SMTP server to store incoming
// messages in memory. Call Start to begin accepting connections.
func NewInProcessServer(c Config) (*InProcessServer, error) {
	is := &InMemoryEmailStore{
		mu:       &sync.Mutex{},
		messages: []Message{},
	}

	be := &Backend{
		InMemoryEmailStore: is,
		credentials:        c.Credentials,
		allowAnonymous:     c.AllowAnonymous,
	}
	srv := smtp.NewServer(be)

	srv.Domain = "localhost"
	srv.AllowInsecureAuth = c.AllowInsecureAuth
	srv.AuthDisabled = false
	// Strict enforces <address> syntax in MAIL and RCPT commands.
	srv.Strict = true
	srv.ReadTimeout = time.Duration(10) * time.Second
	srv.WriteTimeout = time.Duration(10) * time.Second

	srv.EnableAuth(sasl.Login, func(conn *smtp.Conn) sasl.Server {
		return sasl.NewLoginServer(func(username, password string) error {
			return login(be, conn, username, password)
		})
	})
	srv.EnableAuth("CRAM-MD5", func(conn *smtp.Conn) sasl.Server {
		return &cramMD5Server{backend: be, conn: conn}
	})

	if c.KeyPath != "" || c.CertPath != "" {
		cert, err := tls.LoadX509KeyPair(c.CertPath, c.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("can't load the test server's TLS key pair: %v", err)
		}
		srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("can't listen for the test SMTP server: %v", err)
	}
	srv.Addr = l.Addr().String()

	if c.ImplicitTLS {
		if srv.TLSConfig == nil {
			l.Close()
			return nil, errors.New("implicit TLS needs a key pair")
		}
		l = tls.NewListener(l, srv.TLSConfig)
	}

	return &InProcessServer{
		Server:             srv,
		InMemoryEmailStore: is,
		listener:           l,
	}, nil
}

func login(be *Backend, conn *smtp.Conn, username, password string) error {
	state := conn.State()
	s, err := be.Login(&state, username, password)
	if err != nil {
		return err
	}
	conn.SetSession(s)
	return nil
}

// cramMD5Server implements sasl.Server for CRAM-MD5 (RFC 2195).
type cramMD5Server struct {
	backend   *Backend
	conn      *smtp.Conn
	challenge []byte
}

func (a *cramMD5Server) Next(response []byte) (challenge []byte, done bool, err error) {
	if a.challenge == nil {
		a.challenge = []byte(fmt.Sprintf("<%v@localhost>", uuid.NewString()))
		return a.challenge, false, nil
	}

	parts := strings.SplitN(string(response), " ", 2)
	if len(parts) != 2 {
		return nil, false, errors.New("malformed CRAM-MD5 response")
	}
	password, ok := a.backend.credentials[parts[0]]
	if !ok {
		return nil, false, errors.New("invalid username or password")
	}
	mac := hmac.New(md5.New, []byte(password))
	mac.Write(a.challenge)
	if !hmac.Equal([]byte(hex.EncodeToString(mac.Sum(nil))), []byte(parts[1])) {
		return nil, false, errors.New("invalid username or password")
	}
	return nil, true, login(a.backend, a.conn, parts[0], password)
}

// saveEmail stores the message in memory along with a timestamp created
// just prior to saving
func (es *InMemoryEmailStore) saveEmail(m Message) {
	es.mu.Lock()
	defer es.mu.Unlock()

	m.Created = time.Now()
	es.messages = append(es.messages, m)
}

// Start starts the test server. Blocking.
func (is *InProcessServer) Start() error {
	// Unless ImplicitTLS is set, the client should upgrade the connection
	// with STARTTLS
	return is.Server.Serve(is.listener)
}

// Close shuts down the test server daemon. You must initialize a new
// InProcessServer instead of restarting this one.
func (is *InProcessServer) Close() {
	is.Server.Close()
}

// RetrieveEmails returns a slice of all message bodies (as strings)
// received at or after epoch nanoseconds t.
// Satisfies smtptest.Server but isn't expected to return an error.
func (es *InMemoryEmailStore) RetrieveEmails(t int64) ([]string, error) {
	es.mu.Lock()
	defer es.mu.Unlock()

	r := make([]string, 0, len(es.messages))
	for _, m := range es.messages {
		if m.Created.UnixNano() >= t {
			r = append(r, m.Body)
		}
	}
	return r, nil
}

// Messages returns a copy of every message received so far.
func (es *InMemoryEmailStore) Messages() []Message {
	es.mu.Lock()
	defer es.mu.Unlock()

	return append([]Message(nil), es.messages...)
}

// Address returns the host:port of the test SMTP server.
func (is *InProcessServer) Address() string {
	return is.listener.Addr().String()
}

// HostPort splits Address for callers that configure the host and port
// separately.
func (is *InProcessServer) HostPort() (host string, port int) {
	a := is.listener.Addr().(*net.TCPAddr)
	return a.IP.String(), a.Port
}
