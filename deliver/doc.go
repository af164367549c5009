// Package deliver runs one send cycle for the smtpmix command: build a message
// from the config and the command line, skip it if the journal says it went
// out already, send it in a single SMTP session and journal the delivery.
package deliver
