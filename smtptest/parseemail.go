package smtptest

import (
	"net/mail"
	"strings"
)

// ParseEmail reads a message body as stored by the server so tests can
// inspect its headers.
func ParseEmail(body string) (*mail.Message, error) {
	return mail.ReadMessage(strings.NewReader(body))
}
