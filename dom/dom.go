// Package dom defines the document abstraction the annotation engine works
// against. Two implementations exist: a live Chrome tab driven over CDP and
// an in-memory HTML tree. Every call that may cross the wire takes a context.
package dom

import "context"

// Node is an element handle.
type Node interface {
	// Tag returns the lower-case element name, or "" for non-element nodes.
	Tag() string

	// Attr returns an attribute value and whether it is present.
	Attr(ctx context.Context, name string) (string, bool, error)
	SetAttr(ctx context.Context, name, value string) error

	// Parent returns the parent element, or nil at the top of the tree.
	Parent(ctx context.Context) (Node, error)
	// Children returns the element children in document order.
	Children(ctx context.Context) ([]Node, error)
	// Has reports whether any descendant matches selector.
	Has(ctx context.Context, selector string) (bool, error)

	AppendChild(ctx context.Context, child Node) error
	SetText(ctx context.Context, text string) error
	// SetStyle sets an inline CSS property (kebab-case name).
	SetStyle(ctx context.Context, property, value string) error
	AddClass(ctx context.Context, class string) error

	// ComputedStyle returns the resolved text style of the element.
	ComputedStyle(ctx context.Context) (Style, error)

	// Same reports whether other refers to the same element.
	Same(other Node) bool

	String() string
}

// Document is the tree a Node belongs to.
type Document interface {
	Body(ctx context.Context) (Node, error)
	// QueryAll returns all elements matching selector in document order.
	QueryAll(ctx context.Context, selector string) ([]Node, error)
	// CreateElement returns a detached element.
	CreateElement(ctx context.Context, tag string) (Node, error)
}

// Style is the text style triple sampled from page content.
type Style struct {
	Color      string `json:"color"`
	FontFamily string `json:"font_family"`
	FontSize   string `json:"font_size"`
}
