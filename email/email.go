package email

import (
	"errors"
	"fmt"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ptgott/smtpmix/html"
	gomail "gopkg.in/gomail.v2"
)

// messageIDKey is the canonical form of "Message-ID".
var messageIDKey = textproto.CanonicalMIMEHeaderKey("Message-ID")

// ErrNoSender is returned when building a message without a From address.
var ErrNoSender = errors.New("the message must have a \"From\" address")

// MessageOptions describes a message to build with Client.Message. Only From
// is required.
type MessageOptions struct {
	From    string
	To      []string
	Cc      []string
	Bcc     []string
	ReplyTo string
	Subject string
	// Date defaults to the time the message is built.
	Date time.Time
	// MessageID defaults to a random ID in the sender's domain.
	MessageID string
	// Headers are set after the standard ones and override them. Names are
	// matched case insensitively; a Message-ID here wins over MessageID.
	Headers map[string][]string

	// Body is the text/plain part.
	Body string
	// HTML is the text/html part. If Body is empty, a text/plain
	// alternative is generated from it.
	HTML string
}

// Message is a MIME message ready to send in a Session.
type Message struct {
	*gomail.Message
}

// ID returns the Message-ID header.
func (m *Message) ID() string {
	if v := m.GetHeader("Message-ID"); len(v) > 0 {
		return v[0]
	}
	return ""
}

// BodyFunc is called on a built message to add to it, e.g., attachments or
// extra headers.
type BodyFunc func(*Message) error

// Message builds a message from opts, then hands it to body (if not nil) for
// incremental construction. opts is not modified.
func (c *Client) Message(opts MessageOptions, body BodyFunc) (*Message, error) {
	if opts.From == "" {
		return nil, ErrNoSender
	}

	m := &Message{gomail.NewMessage()}
	m.SetHeader("From", opts.From)
	setAddresses(m, "To", opts.To)
	setAddresses(m, "Cc", opts.Cc)
	setAddresses(m, "Bcc", opts.Bcc)
	if opts.ReplyTo != "" {
		m.SetHeader("Reply-To", opts.ReplyTo)
	}
	if opts.Subject != "" {
		m.SetHeader("Subject", opts.Subject)
	}

	d := opts.Date
	if d.IsZero() {
		d = time.Now()
	}
	m.SetDateHeader("Date", d)

	// Header names are case insensitive, so compare them canonically. A
	// Message-ID among them replaces opts.MessageID rather than adding a
	// second one.
	id := opts.MessageID
	headers := make(map[string][]string, len(opts.Headers))
	for k, v := range opts.Headers {
		ck := textproto.CanonicalMIMEHeaderKey(k)
		if ck == messageIDKey {
			if len(v) > 0 {
				id = v[0]
			}
			continue
		}
		headers[ck] = append(headers[ck], v...)
	}

	if id == "" {
		id = NewMessageID(opts.From)
	}
	m.SetHeader("Message-ID", id)

	for k, v := range headers {
		m.SetHeader(k, v...)
	}

	if err := setBody(m, opts.Body, opts.HTML); err != nil {
		return nil, err
	}

	if body != nil {
		if err := body(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func setAddresses(m *Message, field string, addrs []string) {
	if len(addrs) > 0 {
		m.SetHeader(field, addrs...)
	}
}

func setBody(m *Message, text, markup string) error {
	if markup == "" {
		m.SetBody("text/plain", text)
		return nil
	}

	if text == "" {
		t, err := html.PlainText(strings.NewReader(markup))
		if err != nil {
			return fmt.Errorf("can't generate a text/plain alternative: %w", err)
		}
		text = t
	}
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", markup)
	return nil
}

// NewMessageID returns a new, random Message-ID in the domain of the from
// address, or "localhost" if from has no usable domain.
func NewMessageID(from string) string {
	domain := "localhost"
	if a, err := mail.ParseAddress(from); err == nil {
		if i := strings.LastIndex(a.Address, "@"); i >= 0 && i < len(a.Address)-1 {
			domain = a.Address[i+1:]
		}
	}
	return fmt.Sprintf("<%v@%v>", uuid.NewString(), domain)
}
