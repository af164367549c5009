// Package mixin adds SMTP connection parameters and convenience methods to
// any type that embeds SMTP.
//
// The parameters are host, port, smtp_login (the authentication method),
// smtp_user and smtp_password. Connect and Session use them to fill in the
// options passed to the SMTP client, and log a line around each connection:
//
//	type Notifier struct {
//		*mixin.SMTP
//	}
//
//	n := Notifier{mixin.New(mixin.Params{Host: "mail.example.com", User: "alice"})}
//	err := n.Session(ctx, email.Options{}, func(s email.Session) error {
//		return s.Send(msg)
//	})
package mixin
