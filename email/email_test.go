package email

import (
	"bytes"
	"errors"
	"io"
	"mime/multipart"
	"reflect"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageHeaders(t *testing.T) {
	d := time.Date(2021, time.March, 4, 10, 0, 0, 0, time.UTC)
	opts := MessageOptions{
		From:      "Alice <alice@example.com>",
		To:        []string{"bob@example.com", "carol@example.com"},
		Cc:        []string{"dave@example.com"},
		Bcc:       []string{"eve@example.com"},
		ReplyTo:   "replies@example.com",
		Subject:   "Hello",
		Date:      d,
		MessageID: "<1234@example.com>",
		Headers: map[string][]string{
			"X-Mailer": {"smtpmix"},
		},
		Body: "Hi Bob",
	}
	orig := opts
	orig.Headers = map[string][]string{"X-Mailer": {"smtpmix"}}

	m, err := DefaultClient.Message(opts, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"Alice <alice@example.com>"}, m.GetHeader("From"))
	assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, m.GetHeader("To"))
	assert.Equal(t, []string{"dave@example.com"}, m.GetHeader("Cc"))
	assert.Equal(t, []string{"eve@example.com"}, m.GetHeader("Bcc"))
	assert.Equal(t, []string{"replies@example.com"}, m.GetHeader("Reply-To"))
	assert.Equal(t, []string{"Hello"}, m.GetHeader("Subject"))
	assert.Equal(t, []string{"smtpmix"}, m.GetHeader("X-Mailer"))
	assert.Equal(t, []string{m.FormatDate(d)}, m.GetHeader("Date"))
	assert.Equal(t, "<1234@example.com>", m.ID())

	if !reflect.DeepEqual(opts, orig) {
		t.Error("building the message modified its options")
	}

	var buf bytes.Buffer
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Hi Bob")
	assert.NotContains(t, buf.String(), "eve@example.com", "Bcc must not be rendered")
}

func TestMessageCustomHeaderNames(t *testing.T) {
	m, err := DefaultClient.Message(MessageOptions{
		From:      "alice@example.com",
		To:        []string{"bob@example.com"},
		MessageID: "<generated@example.com>",
		Headers: map[string][]string{
			"message-id": {"<custom@example.com>"},
			"x-mailer":   {"smtpmix"},
			"subject":    {"Overridden"},
		},
		Subject: "Original",
		Body:    "Hi Bob",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, "<custom@example.com>", m.ID())
	assert.Equal(t, []string{"smtpmix"}, m.GetHeader("X-Mailer"))
	assert.Equal(t, []string{"Overridden"}, m.GetHeader("Subject"))

	var buf bytes.Buffer
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)
	out := buf.String()
	ids := regexp.MustCompile(`(?mi)^message-id:`).FindAllString(out, -1)
	assert.Len(t, ids, 1, "exactly one Message-ID header:\n%v", out)
	assert.Contains(t, out, "Message-ID: <custom@example.com>")
	assert.NotContains(t, out, "generated@example.com")
	subjects := regexp.MustCompile(`(?mi)^subject:`).FindAllString(out, -1)
	assert.Len(t, subjects, 1)
}

func TestMessageDefaults(t *testing.T) {
	before := time.Now().Add(-time.Second)
	m, err := DefaultClient.Message(MessageOptions{From: "alice@example.com"}, nil)
	require.NoError(t, err)

	assert.Regexp(t, `^<[0-9a-f-]{36}@example\.com>$`, m.ID())

	d, err := time.Parse(time.RFC1123Z, m.GetHeader("Date")[0])
	require.NoError(t, err)
	assert.True(t, d.After(before), "expected the Date header to default to now")
}

func TestMessageNoSender(t *testing.T) {
	_, err := DefaultClient.Message(MessageOptions{To: []string{"bob@example.com"}}, nil)
	if !errors.Is(err, ErrNoSender) {
		t.Errorf("expected ErrNoSender but got %v", err)
	}
}

func TestMessageBodyFunc(t *testing.T) {
	var calls int
	var got *Message
	m, err := DefaultClient.Message(MessageOptions{From: "alice@example.com"}, func(m *Message) error {
		calls++
		got = m
		m.SetHeader("X-Extra", "yes")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Same(t, m, got)
	assert.Equal(t, []string{"yes"}, m.GetHeader("X-Extra"))

	fail := errors.New("no body for you")
	_, err = DefaultClient.Message(MessageOptions{From: "alice@example.com"}, func(*Message) error {
		return fail
	})
	assert.ErrorIs(t, err, fail)
}

// An HTML-only message should carry a generated text/plain alternative.
func TestMessageHTMLAlternative(t *testing.T) {
	m, err := DefaultClient.Message(MessageOptions{
		From: "alice@example.com",
		To:   []string{"bob@example.com"},
		HTML: `<html><body><p>Hello this is my email body.</p><script>x()</script></body></html>`,
	}, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)

	parts := mimeParts(t, buf.String())
	require.Len(t, parts, 2)
	assert.Contains(t, parts["text/plain; charset=UTF-8"], "Hello this is my email body.")
	assert.NotContains(t, parts["text/plain; charset=UTF-8"], "x()")
	assert.Contains(t, parts["text/html; charset=UTF-8"], "<p>Hello this is my email body.</p>")
}

func TestNewMessageID(t *testing.T) {
	testCases := []struct {
		from   string
		domain string
	}{
		{from: "alice@example.com", domain: "example.com"},
		{from: "Alice <alice@mail.example.org>", domain: "mail.example.org"},
		{from: "not an address", domain: "localhost"},
		{from: "", domain: "localhost"},
	}
	for _, tc := range testCases {
		t.Run(tc.from, func(t *testing.T) {
			id := NewMessageID(tc.from)
			if !strings.HasSuffix(id, "@"+tc.domain+">") || !strings.HasPrefix(id, "<") {
				t.Errorf("unexpected message ID %v for %q", id, tc.from)
			}
		})
	}
}

// mimeParts returns the parts of a multipart/alternative message keyed by
// Content-Type.
func mimeParts(t *testing.T, msg string) map[string]string {
	t.Helper()

	bre := regexp.MustCompile(
		"Content-Type: multipart/alternative;\\s+boundary=(\\w+)",
	)
	m := bre.FindStringSubmatch(msg)
	if len(m) == 0 {
		t.Fatal("could not find the expected header with a boundary attribute")
	}
	bnd := m[1] // first capture group match, i.e., the boundary

	s := strings.SplitAfterN(msg, "\r\n\r\n", 2)
	if len(s) < 2 {
		t.Fatal("expecting a blank line after the headers, but got none")
	}

	rdr := multipart.NewReader(strings.NewReader(s[1]), bnd)
	parts := make(map[string]string)
	for {
		p, err := rdr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		b, err := io.ReadAll(p)
		if err != nil {
			t.Fatal(err)
		}
		parts[p.Header.Get("Content-Type")] = string(b)
	}
	return parts
}
