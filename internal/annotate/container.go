package annotate

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/alttext/dom"
)

// LinkSelector marks the interactive region an overlay is anchored to.
const LinkSelector = "a[role='link']"

// ErrNoContainer is returned when no ancestor of the image holds a link.
var ErrNoContainer = errors.New("annotate: no link-bearing container")

// ResolveContainer walks up from the image's parent and returns the first
// ancestor that has a LinkSelector descendant. The walk is unbounded: every
// rendered post nests its media inside a link wrapper.
func ResolveContainer(ctx context.Context, img dom.Node) (dom.Node, error) {
	cur, err := img.Parent(ctx)
	if err != nil {
		return nil, fmt.Errorf("annotate: parent of %s: %w", img, err)
	}
	for cur != nil {
		ok, err := cur.Has(ctx, LinkSelector)
		if err != nil {
			return nil, fmt.Errorf("annotate: query %s: %w", cur, err)
		}
		if ok {
			return cur, nil
		}
		if cur, err = cur.Parent(ctx); err != nil {
			return nil, fmt.Errorf("annotate: walk ancestors: %w", err)
		}
	}
	return nil, ErrNoContainer
}

// isHidden reports whether the container is removed from the accessibility
// tree.
func isHidden(ctx context.Context, container dom.Node) (bool, error) {
	v, _, err := container.Attr(ctx, "aria-hidden")
	if err != nil {
		return false, err
	}
	return v == "true", nil
}
