// Package html turns HTML message bodies into text suitable for a text/plain
// alternative part. It's not concerned with building or sending the message
// itself.
package html
