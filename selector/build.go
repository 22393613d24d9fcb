// Package selector synthesizes CSS locators for parsed HTML nodes and checks
// saved locators against page snapshots.
//
// Build follows the same priority order as the in-page picker, so a selector
// picked in the browser and one built here from a DOM snapshot agree:
//
//  1. a non-empty id gives "#<escaped id>";
//  2. otherwise the first stable attribute (see StableAttrs) gives
//     tag[attr="value"];
//  3. otherwise a " > "-joined chain of tag, up to two classes and
//     :nth-of-type(n) segments, walked up to (excluding) the root element,
//     stopping at an ancestor with a stable attribute and capped at
//     MaxSegments segments.
package selector

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// StableAttrs lists the attributes that identify an element on their own,
// in priority order.
var StableAttrs = []string{"data-testid", "data-test-id", "data-qa", "data-id", "aria-label", "name", "role"}

const (
	// MaxAttrLen is the longest attribute value accepted as stable.
	MaxAttrLen = 140
	// MaxSegments caps the length of a structural chain.
	MaxSegments = 8
)

// Build returns a selector for n. It returns "" when n is not an element.
func Build(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	if id := attr(n, "id"); id != "" {
		return "#" + Escape(id)
	}
	if s := stableAttr(n); s != "" {
		return s
	}

	root := rootElement(n)
	var parts []string
	for cur := n; cur != nil && cur.Type == html.ElementNode && cur != root; cur = parentElement(cur) {
		if s := stableAttr(cur); s != "" {
			parts = append([]string{s}, parts...)
			break
		}
		parts = append([]string{segment(cur)}, parts...)
		if len(parts) >= MaxSegments {
			break
		}
	}
	return strings.Join(parts, " > ")
}

func segment(n *html.Node) string {
	var b strings.Builder
	b.WriteString(tagName(n))
	for i, c := range classList(n) {
		if i == 2 {
			break
		}
		b.WriteByte('.')
		b.WriteString(Escape(c))
	}

	parent := parentElement(n)
	if parent == nil {
		return b.String()
	}
	same, idx := 0, 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != n.Data {
			continue
		}
		same++
		if c == n {
			idx = same
		}
	}
	if same > 1 {
		fmt.Fprintf(&b, ":nth-of-type(%d)", idx)
	}
	return b.String()
}

func stableAttr(n *html.Node) string {
	for _, a := range StableAttrs {
		v := attr(n, a)
		if v == "" || len([]rune(v)) > MaxAttrLen {
			continue
		}
		return fmt.Sprintf(`%s[%s="%s"]`, tagName(n), a, quoteAttr(v))
	}
	return ""
}

func quoteAttr(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `"`, `\"`)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val
		}
	}
	return ""
}

func tagName(n *html.Node) string {
	return strings.ToLower(n.Data)
}

// classList mirrors Element.classList: whitespace separated, de-duplicated,
// in document order.
func classList(n *html.Node) []string {
	fields := strings.Fields(attr(n, "class"))
	seen := make(map[string]bool, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func parentElement(n *html.Node) *html.Node {
	if n.Parent != nil && n.Parent.Type == html.ElementNode {
		return n.Parent
	}
	return nil
}

// rootElement returns the document element (<html>) that owns n.
func rootElement(n *html.Node) *html.Node {
	cur := n
	for cur.Parent != nil && cur.Parent.Type == html.ElementNode {
		cur = cur.Parent
	}
	if cur.Parent != nil && cur.Parent.Type == html.DocumentNode {
		return cur
	}
	// Detached fragment: walk all the way up.
	return nil
}
