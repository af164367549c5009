package html

import (
	"fmt"
	"io"
	"strings"

	css "github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Nothing in these elements is meant for a reader.
var hidden = css.MustCompile("head, script, style, template, noscript")

// Elements that start and end a line of text.
var blocks = map[atom.Atom]struct{}{
	atom.P:          {},
	atom.Div:        {},
	atom.Br:         {},
	atom.Li:         {},
	atom.Ul:         {},
	atom.Ol:         {},
	atom.Tr:         {},
	atom.Table:      {},
	atom.Blockquote: {},
	atom.Pre:        {},
	atom.H1:         {},
	atom.H2:         {},
	atom.H3:         {},
	atom.H4:         {},
	atom.H5:         {},
	atom.H6:         {},
	atom.Hr:         {},
	atom.Section:    {},
	atom.Article:    {},
	atom.Header:     {},
	atom.Footer:     {},
}

// textWriter accumulates words into lines.
type textWriter struct {
	lines []string
	cur   []string
}

func (w *textWriter) words(s string) {
	w.cur = append(w.cur, strings.Fields(s)...)
}

func (w *textWriter) newline() {
	if len(w.cur) == 0 {
		return
	}
	w.lines = append(w.lines, strings.Join(w.cur, " "))
	w.cur = nil
}

func (w *textWriter) String() string {
	w.newline()
	return strings.Join(w.lines, "\n")
}

// PlainText reads an HTML document and returns its readable text. Block
// elements become separate lines, runs of whitespace collapse into a single
// space, and links are followed by their target in parentheses unless the
// link text already is the target.
func PlainText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("can't parse the HTML body: %v", err)
	}

	for _, n := range hidden.MatchAll(doc) {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}

	w := &textWriter{}
	walk(w, doc)
	return w.String(), nil
}

func walk(w *textWriter, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.words(n.Data)
		return
	case html.ElementNode:
	case html.DocumentNode:
	default:
		return
	}

	_, block := blocks[n.DataAtom]
	if block {
		w.newline()
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(w, c)
	}

	if n.DataAtom == atom.A {
		href := attr(n, "href")
		if href != "" && href != textOf(n) {
			w.words("(" + href + ")")
		}
	}

	if block {
		w.newline()
	}
}

// textOf returns the collapsed text content of n.
func textOf(n *html.Node) string {
	var b strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}
