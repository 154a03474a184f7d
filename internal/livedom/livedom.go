// Package livedom implements dom.Document over a live Chrome page driven by
// go-rod. Every call is a CDP round trip; nodes are resolved lazily from the
// backend node ids carried by DOM.childNodeInserted events.
package livedom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/alttext/dom"
)

// ErrDetached is returned when a node can no longer be resolved in the page,
// typically because it was removed after its insertion event.
var ErrDetached = errors.New("livedom: node detached")

// Document is a live page.
type Document struct {
	page *rod.Page
}

var _ dom.Document = (*Document)(nil)

// New wraps page.
func New(page *rod.Page) *Document {
	return &Document{page: page}
}

// Page returns the underlying rod page.
func (d *Document) Page() *rod.Page { return d.page }

// noRetry disables rod's wait-until-found polling: an absent element is an
// answer, not a reason to wait.
func (d *Document) noRetry(ctx context.Context) *rod.Page {
	return d.page.Context(ctx).Sleeper(rod.NotFoundSleeper)
}

func (d *Document) Body(ctx context.Context) (dom.Node, error) {
	el, err := d.noRetry(ctx).ElementByJS(rod.Eval(`() => document.body`))
	if err != nil {
		return nil, fmt.Errorf("livedom: body: %w", err)
	}
	return d.wrap(ctx, el)
}

func (d *Document) QueryAll(ctx context.Context, sel string) ([]dom.Node, error) {
	els, err := d.page.Context(ctx).Elements(sel)
	if err != nil {
		return nil, fmt.Errorf("livedom: query %q: %w", sel, err)
	}
	return d.wrapAll(ctx, els)
}

func (d *Document) CreateElement(ctx context.Context, tag string) (dom.Node, error) {
	el, err := d.noRetry(ctx).ElementByJS(rod.Eval(`(tag) => document.createElement(tag)`, tag))
	if err != nil {
		return nil, fmt.Errorf("livedom: create <%s>: %w", tag, err)
	}
	return d.wrap(ctx, el)
}

// FromInserted returns the node announced by a DOM.childNodeInserted event,
// or nil when it is not an element. Resolution is deferred to first use.
func (d *Document) FromInserted(n *proto.DOMNode) dom.Node {
	if n == nil || n.NodeType != 1 {
		return nil
	}
	return &Node{
		doc:       d,
		backendID: n.BackendNodeID,
		tag:       strings.ToLower(n.LocalName),
	}
}

func (d *Document) wrap(ctx context.Context, el *rod.Element) (*Node, error) {
	desc, err := el.Context(ctx).Describe(0, false)
	if err != nil {
		return nil, fmt.Errorf("livedom: describe: %w", err)
	}
	return &Node{
		doc:       d,
		backendID: desc.BackendNodeID,
		tag:       strings.ToLower(desc.LocalName),
		el:        el,
	}, nil
}

func (d *Document) wrapAll(ctx context.Context, els rod.Elements) ([]dom.Node, error) {
	out := make([]dom.Node, 0, len(els))
	for _, el := range els {
		n, err := d.wrap(ctx, el)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// Node is an element of a live page.
type Node struct {
	doc       *Document
	backendID proto.DOMBackendNodeID
	tag       string

	mu sync.Mutex
	el *rod.Element
}

var _ dom.Node = (*Node)(nil)

func (n *Node) element(ctx context.Context) (*rod.Element, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.el == nil {
		el, err := n.doc.page.Context(ctx).ElementFromNode(&proto.DOMNode{BackendNodeID: n.backendID})
		if err != nil {
			return nil, fmt.Errorf("%w: backend node %d: %v", ErrDetached, n.backendID, err)
		}
		n.el = el
	}
	return n.el.Context(ctx), nil
}

func (n *Node) eval(ctx context.Context, js string, args ...any) (*proto.RuntimeRemoteObject, error) {
	el, err := n.element(ctx)
	if err != nil {
		return nil, err
	}
	res, err := el.Eval(js, args...)
	if err != nil {
		return nil, fmt.Errorf("livedom: eval on %s: %w", n, err)
	}
	return res, nil
}

func (n *Node) Tag() string { return n.tag }

func (n *Node) Attr(ctx context.Context, name string) (string, bool, error) {
	el, err := n.element(ctx)
	if err != nil {
		return "", false, err
	}
	v, err := el.Attribute(name)
	if err != nil {
		return "", false, fmt.Errorf("livedom: attribute %s: %w", name, err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (n *Node) SetAttr(ctx context.Context, name, value string) error {
	_, err := n.eval(ctx, `(k, v) => this.setAttribute(k, v)`, name, value)
	return err
}

func (n *Node) Parent(ctx context.Context) (dom.Node, error) {
	el, err := n.element(ctx)
	if err != nil {
		return nil, err
	}
	p, err := el.Sleeper(rod.NotFoundSleeper).ElementByJS(rod.Eval(`() => this.parentElement`))
	if err != nil {
		var nf *rod.ElementNotFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, fmt.Errorf("livedom: parent of %s: %w", n, err)
	}
	return n.doc.wrap(ctx, p)
}

func (n *Node) Children(ctx context.Context) ([]dom.Node, error) {
	el, err := n.element(ctx)
	if err != nil {
		return nil, err
	}
	els, err := el.ElementsByJS(rod.Eval(`() => Array.from(this.children)`))
	if err != nil {
		return nil, fmt.Errorf("livedom: children of %s: %w", n, err)
	}
	return n.doc.wrapAll(ctx, els)
}

func (n *Node) Has(ctx context.Context, sel string) (bool, error) {
	res, err := n.eval(ctx, `(sel) => this.querySelector(sel) !== null`, sel)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (n *Node) AppendChild(ctx context.Context, child dom.Node) error {
	c, ok := child.(*Node)
	if !ok || c.doc != n.doc {
		return fmt.Errorf("livedom: node %v does not belong to this page", child)
	}
	cel, err := c.element(ctx)
	if err != nil {
		return err
	}
	_, err = n.eval(ctx, `(c) => { this.appendChild(c) }`, cel.Object)
	return err
}

func (n *Node) SetText(ctx context.Context, text string) error {
	_, err := n.eval(ctx, `(t) => { this.innerText = t }`, text)
	return err
}

func (n *Node) SetStyle(ctx context.Context, property, value string) error {
	_, err := n.eval(ctx, `(p, v) => this.style.setProperty(p, v)`, property, value)
	return err
}

func (n *Node) AddClass(ctx context.Context, class string) error {
	_, err := n.eval(ctx, `(c) => this.classList.add(c)`, class)
	return err
}

func (n *Node) ComputedStyle(ctx context.Context) (dom.Style, error) {
	res, err := n.eval(ctx, `() => {
		const s = getComputedStyle(this);
		return {color: s.color, fontFamily: s.fontFamily, fontSize: s.fontSize};
	}`)
	if err != nil {
		return dom.Style{}, err
	}
	return dom.Style{
		Color:      res.Value.Get("color").Str(),
		FontFamily: res.Value.Get("fontFamily").Str(),
		FontSize:   res.Value.Get("fontSize").Str(),
	}, nil
}

func (n *Node) Same(other dom.Node) bool {
	o, ok := other.(*Node)
	return ok && o.doc == n.doc && o.backendID == n.backendID
}

func (n *Node) String() string {
	return fmt.Sprintf("<%s backend=%d>", n.tag, n.backendID)
}
