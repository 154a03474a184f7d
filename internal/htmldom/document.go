// Package htmldom implements dom.Document over an in-memory
// golang.org/x/net/html tree. It backs the offline annotation mode and the
// engine tests: fragments inserted with AppendHTML come back as dom.Records,
// the same shape the live observer produces from CDP events.
package htmldom

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/alttext/dom"
)

// ErrNoBody is returned when the parsed document has no body element.
var ErrNoBody = errors.New("htmldom: document has no body")

// Document is an in-memory tree safe for concurrent use: reads share a
// RWMutex, mutations take it exclusively.
type Document struct {
	mu   sync.RWMutex
	root *html.Node
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldom: parse: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseString is Parse over a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

func (d *Document) wrap(n *html.Node) *Node {
	if n == nil {
		return nil
	}
	return &Node{doc: d, n: n}
}

// Body returns the body element.
func (d *Document) Body(_ context.Context) (dom.Node, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if b := findFirst(d.root, atom.Body); b != nil {
		return d.wrap(b), nil
	}
	return nil, ErrNoBody
}

// QueryAll returns elements matching selector in document order.
func (d *Document) QueryAll(_ context.Context, sel string) ([]dom.Node, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	matches := parseSelector(sel).queryAll(d.root, false)
	nodes := make([]dom.Node, 0, len(matches))
	for _, m := range matches {
		nodes = append(nodes, d.wrap(m))
	}
	return nodes, nil
}

// CreateElement returns a detached element owned by d.
func (d *Document) CreateElement(_ context.Context, tag string) (dom.Node, error) {
	tag = strings.ToLower(tag)
	return d.wrap(&html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}), nil
}

// AppendHTML parses fragment in the context of parent, appends the resulting
// nodes as its last children and returns the matching childList record.
func (d *Document) AppendHTML(_ context.Context, parent dom.Node, fragment string) (dom.Record, error) {
	p, err := d.own(parent)
	if err != nil {
		return dom.Record{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	nodes, err := html.ParseFragment(strings.NewReader(fragment), p.n)
	if err != nil {
		return dom.Record{}, fmt.Errorf("htmldom: parse fragment: %w", err)
	}
	rec := dom.Record{Added: make([]dom.Node, 0, len(nodes))}
	for _, n := range nodes {
		p.n.AppendChild(n)
		rec.Added = append(rec.Added, d.wrap(n))
	}
	return rec, nil
}

// Remove detaches node from its parent and returns the childList record.
func (d *Document) Remove(_ context.Context, node dom.Node) (dom.Record, error) {
	n, err := d.own(node)
	if err != nil {
		return dom.Record{}, err
	}

	d.mu.Lock()
	parent := n.n.Parent
	if parent != nil {
		parent.RemoveChild(n.n)
	}
	d.mu.Unlock()

	if parent == nil {
		return dom.Record{}, fmt.Errorf("htmldom: remove %s: node is detached", n)
	}
	return dom.Record{Removed: []dom.Node{n}}, nil
}

// Images returns every img element currently in the document, in document
// order. The offline mode replays them as one insertion record.
func (d *Document) Images() []dom.Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []dom.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Img {
			out = append(out, d.wrap(n))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return out
}

// Render serialises the document.
func (d *Document) Render(w io.Writer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return html.Render(w, d.root)
}

// HTML returns the serialised document.
func (d *Document) HTML() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

func (d *Document) own(n dom.Node) (*Node, error) {
	hn, ok := n.(*Node)
	if !ok || hn.doc != d {
		return nil, fmt.Errorf("htmldom: node %v does not belong to this document", n)
	}
	return hn, nil
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findFirst(c, a); f != nil {
			return f
		}
	}
	return nil
}
