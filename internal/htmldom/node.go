package htmldom

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/alttext/dom"
)

// Node wraps an *html.Node of a Document.
type Node struct {
	doc *Document
	n   *html.Node
}

var _ dom.Node = (*Node)(nil)

// HTMLNode exposes the underlying node for tests and rendering helpers.
func (n *Node) HTMLNode() *html.Node { return n.n }

func (n *Node) Tag() string {
	if n.n.Type != html.ElementNode {
		return ""
	}
	return n.n.Data
}

func (n *Node) Attr(_ context.Context, name string) (string, bool, error) {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	v, ok := lookupAttr(n.n, name)
	return v, ok, nil
}

func (n *Node) SetAttr(_ context.Context, name, value string) error {
	if n.n.Type != html.ElementNode {
		return fmt.Errorf("htmldom: set attribute on non-element %s", n)
	}
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	setAttr(n.n, name, value)
	return nil
}

func (n *Node) Parent(_ context.Context) (dom.Node, error) {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	p := n.n.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil, nil
	}
	return n.doc.wrap(p), nil
}

func (n *Node) Children(_ context.Context) ([]dom.Node, error) {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	var out []dom.Node
	for c := n.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			out = append(out, n.doc.wrap(c))
		}
	}
	return out, nil
}

func (n *Node) Has(_ context.Context, sel string) (bool, error) {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	return len(parseSelector(sel).queryAll(n.n, true)) > 0, nil
}

func (n *Node) AppendChild(_ context.Context, child dom.Node) error {
	c, err := n.doc.own(child)
	if err != nil {
		return err
	}
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if c.n.Parent != nil {
		c.n.Parent.RemoveChild(c.n)
	}
	n.n.AppendChild(c.n)
	return nil
}

func (n *Node) SetText(_ context.Context, text string) error {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	for c := n.n.FirstChild; c != nil; {
		next := c.NextSibling
		n.n.RemoveChild(c)
		c = next
	}
	n.n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return nil
}

func (n *Node) SetStyle(_ context.Context, property, value string) error {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	setDecl(n.n, property, value)
	return nil
}

func (n *Node) AddClass(_ context.Context, class string) error {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	if hasClass(n.n, class) {
		return nil
	}
	classes := strings.Fields(getAttr(n.n, "class"))
	setAttr(n.n, "class", strings.Join(append(classes, class), " "))
	return nil
}

func (n *Node) ComputedStyle(_ context.Context) (dom.Style, error) {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	return computedStyle(n.n), nil
}

func (n *Node) Same(other dom.Node) bool {
	o, ok := other.(*Node)
	return ok && o.n == n.n
}

// Text returns the concatenated text content of the subtree.
func (n *Node) Text() string {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(h *html.Node) {
		if h.Type == html.TextNode {
			sb.WriteString(h.Data)
		}
		for c := h.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n.n)
	return sb.String()
}

// String renders the start tag only, for logs.
func (n *Node) String() string {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	switch n.n.Type {
	case html.TextNode:
		return fmt.Sprintf("#text(%q)", n.n.Data)
	case html.ElementNode:
	default:
		return fmt.Sprintf("#node(%d)", n.n.Type)
	}
	var sb strings.Builder
	sb.WriteByte('<')
	sb.WriteString(n.n.Data)
	for _, a := range n.n.Attr {
		fmt.Fprintf(&sb, " %s=%q", a.Key, a.Val)
	}
	sb.WriteByte('>')
	return sb.String()
}
