// Package email is the SMTP client used by the rest of the module. It is
// responsible for connecting to an SMTP server, negotiating TLS and
// authentication, and building MIME-formatted messages. It does not decide
// where its connection settings come from; see the mixin package for that.
package email
