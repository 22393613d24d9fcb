package selector

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Outcome is the result of resolving one selector against a document.
type Outcome struct {
	Selector  string
	Matches   int
	FirstTag  string
	FirstText string
	Err       error
}

// Resolved reports whether the selector matched at least one element.
func (o Outcome) Resolved() bool { return o.Err == nil && o.Matches > 0 }

// Document is a parsed page snapshot.
type Document struct {
	doc *goquery.Document
}

// Parse reads an HTML snapshot.
func Parse(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("selector: parse html: %w", err)
	}
	return &Document{doc: doc}, nil
}

// FromNode wraps an already parsed tree.
func FromNode(n *html.Node) *Document {
	return &Document{doc: goquery.NewDocumentFromNode(n)}
}

// Root returns the document node.
func (d *Document) Root() *html.Node {
	if len(d.doc.Nodes) == 0 {
		return nil
	}
	return d.doc.Nodes[0]
}

// First returns the first element matching sel, mirroring
// document.querySelector.
func (d *Document) First(sel string) (*html.Node, error) {
	m, err := Compile(sel)
	if err != nil {
		return nil, err
	}
	found := d.doc.FindMatcher(m)
	if found.Length() == 0 {
		return nil, nil
	}
	return found.Get(0), nil
}

// Check resolves every selector against the document, in order.
func (d *Document) Check(selectors []string) []Outcome {
	out := make([]Outcome, 0, len(selectors))
	for _, s := range selectors {
		o := Outcome{Selector: s}
		m, err := Compile(s)
		if err != nil {
			o.Err = err
			out = append(out, o)
			continue
		}
		found := d.doc.FindMatcher(m)
		o.Matches = found.Length()
		if o.Matches > 0 {
			first := found.First()
			o.FirstTag = goquery.NodeName(first)
			o.FirstText = snippet(first.Text(), 80)
		}
		out = append(out, o)
	}
	return out
}

// Compile validates a selector. Blank selectors are rejected.
func Compile(sel string) (cascadia.Selector, error) {
	if strings.TrimSpace(sel) == "" {
		return nil, fmt.Errorf("selector: empty selector")
	}
	m, err := cascadia.Compile(sel)
	if err != nil {
		return nil, fmt.Errorf("selector: compile %q: %w", sel, err)
	}
	return m, nil
}

func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
