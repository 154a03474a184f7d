// Package tree answers ancestry questions by enumerating subtrees. The walk
// is an explicit-stack pre-order traversal with a hard depth bound: a tree
// deeper than MaxDepth fails outright instead of being truncated.
package tree

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/alttext/dom"
)

// MaxDepth is the deepest level Enumerate accepts. The root is depth 0.
const MaxDepth = 30

// ErrDepthExceeded is returned when a subtree is deeper than MaxDepth.
var ErrDepthExceeded = errors.New("tree: maximum depth exceeded")

type frame struct {
	node  dom.Node
	depth int
}

// Enumerate returns root and all its element descendants in pre-order:
// a node first, then the enumeration of each child in child order.
func Enumerate(ctx context.Context, root dom.Node) ([]dom.Node, error) {
	var out []dom.Node
	stack := []frame{{node: root}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.depth > MaxDepth {
			return nil, fmt.Errorf("%w: %s at depth %d", ErrDepthExceeded, f.node, f.depth)
		}
		out = append(out, f.node)

		children, err := f.node.Children(ctx)
		if err != nil {
			return nil, fmt.Errorf("tree: children of %s: %w", f.node, err)
		}
		// Reverse push keeps the first child on top.
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: children[i], depth: f.depth + 1})
		}
	}
	return out, nil
}

// Contains reports whether node is root or one of its descendants.
func Contains(ctx context.Context, root, node dom.Node) (bool, error) {
	nodes, err := Enumerate(ctx, root)
	if err != nil {
		return false, err
	}
	for _, n := range nodes {
		if n.Same(node) {
			return true, nil
		}
	}
	return false, nil
}

// IsContainedInElementMatching reports whether node lies inside any element
// matching selector. Candidates are checked concurrently, but the result is
// that of a scan in document order: the first candidate that either
// contains node or fails decides. Candidates after a decided one are not
// walked.
func IsContainedInElementMatching(ctx context.Context, doc dom.Document, node dom.Node, selector string) (bool, error) {
	candidates, err := doc.QueryAll(ctx, selector)
	if err != nil {
		return false, fmt.Errorf("tree: query %q: %w", selector, err)
	}
	if len(candidates) == 0 {
		return false, nil
	}

	type result struct {
		ok  bool
		err error
	}
	results := make([]result, len(candidates))
	var decided atomic.Int64
	decided.Store(int64(len(candidates)))

	var g errgroup.Group
	for i, c := range candidates {
		g.Go(func() error {
			if int64(i) > decided.Load() {
				return nil
			}
			ok, err := Contains(ctx, c, node)
			results[i] = result{ok: ok, err: err}
			if ok || err != nil {
				for {
					cur := decided.Load()
					if int64(i) >= cur || decided.CompareAndSwap(cur, int64(i)) {
						break
					}
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.err != nil {
			return false, r.err
		}
		if r.ok {
			return true, nil
		}
	}
	return false, nil
}

// IsContainedInElementWithTestID is IsContainedInElementMatching scoped to
// elements whose data-testid equals testID.
func IsContainedInElementWithTestID(ctx context.Context, doc dom.Document, node dom.Node, testID string) (bool, error) {
	return IsContainedInElementMatching(ctx, doc, node, AttrSelector("data-testid", testID))
}

var cssString = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// AttrSelector returns [key="val"] with val escaped as a CSS string.
func AttrSelector(key, val string) string {
	return "[" + key + `="` + cssString.Replace(val) + `"]`
}
