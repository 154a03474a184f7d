package tree

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hazyhaar/alttext/dom"
	"github.com/hazyhaar/alttext/internal/htmldom"
)

func parse(t *testing.T, s string) *htmldom.Document {
	t.Helper()
	doc, err := htmldom.ParseString(s)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func first(t *testing.T, doc dom.Document, sel string) dom.Node {
	t.Helper()
	nodes, err := doc.QueryAll(context.Background(), sel)
	if err != nil || len(nodes) == 0 {
		t.Fatalf("no match for %q (err=%v)", sel, err)
	}
	return nodes[0]
}

// nested builds a chain of depth div elements below <div id="root">, the
// innermost one holding an img.
func nested(depth int) string {
	return `<html><body><div id="root">` +
		strings.Repeat("<div>", depth-1) + `<img id="leaf" src="/media/x.jpg">` + strings.Repeat("</div>", depth-1) +
		`</div></body></html>`
}

func TestEnumerate_PreOrder(t *testing.T) {
	doc := parse(t, `<html><body><div id="root">
		<section id="a"><p id="a1"></p><p id="a2"></p></section>
		<section id="b"><p id="b1"></p></section>
	</div></body></html>`)
	ctx := context.Background()

	nodes, err := Enumerate(ctx, first(t, doc, "#root"))
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, n := range nodes {
		id, _, _ := n.Attr(ctx, "id")
		ids = append(ids, id)
	}
	want := "root,a,a1,a2,b,b1"
	if got := strings.Join(ids, ","); got != want {
		t.Errorf("order: got %s, want %s", got, want)
	}
}

func TestEnumerate_DepthBound(t *testing.T) {
	ctx := context.Background()

	// root at depth 0, leaf img at depth 30: allowed.
	doc := parse(t, nested(MaxDepth))
	nodes, err := Enumerate(ctx, first(t, doc, "#root"))
	if err != nil {
		t.Fatalf("depth %d should enumerate: %v", MaxDepth, err)
	}
	if len(nodes) != MaxDepth+1 {
		t.Errorf("nodes: got %d, want %d", len(nodes), MaxDepth+1)
	}

	// One level deeper fails outright.
	doc = parse(t, nested(MaxDepth+1))
	nodes, err = Enumerate(ctx, first(t, doc, "#root"))
	if !errors.Is(err, ErrDepthExceeded) {
		t.Fatalf("expected ErrDepthExceeded, got %v", err)
	}
	if nodes != nil {
		t.Errorf("no partial result expected, got %d nodes", len(nodes))
	}
}

func TestEnumerate_Cancelled(t *testing.T) {
	doc := parse(t, nested(3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Enumerate(ctx, first(t, doc, "#root")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestContains(t *testing.T) {
	doc := parse(t, nested(4))
	ctx := context.Background()
	root := first(t, doc, "#root")
	leaf := first(t, doc, "#leaf")

	if ok, err := Contains(ctx, root, leaf); err != nil || !ok {
		t.Errorf("root should contain leaf: ok=%v err=%v", ok, err)
	}
	if ok, err := Contains(ctx, leaf, root); err != nil || ok {
		t.Errorf("leaf should not contain root: ok=%v err=%v", ok, err)
	}
	if ok, _ := Contains(ctx, leaf, leaf); !ok {
		t.Error("a node contains itself")
	}
}

func TestIsContainedInElementWithTestID(t *testing.T) {
	doc := parse(t, `<html><body>
		<div data-testid="tweetPhoto"><img id="in" src="/media/a.jpg"></div>
		<div data-testid="tweetPhoto"></div>
		<div><img id="out" src="/media/b.jpg"></div>
	</body></html>`)
	ctx := context.Background()

	ok, err := IsContainedInElementWithTestID(ctx, doc, first(t, doc, "#in"), "tweetPhoto")
	if err != nil || !ok {
		t.Errorf("#in: ok=%v err=%v", ok, err)
	}
	ok, err = IsContainedInElementWithTestID(ctx, doc, first(t, doc, "#out"), "tweetPhoto")
	if err != nil || ok {
		t.Errorf("#out: ok=%v err=%v", ok, err)
	}
	ok, err = IsContainedInElementWithTestID(ctx, doc, first(t, doc, "#out"), "missing")
	if err != nil || ok {
		t.Errorf("no candidates: ok=%v err=%v", ok, err)
	}
}

func TestIsContainedInElementMatching_DepthErrorPropagates(t *testing.T) {
	doc := parse(t, nested(MaxDepth+2))
	ctx := context.Background()

	_, err := IsContainedInElementMatching(ctx, doc, first(t, doc, "#leaf"), "#root")
	if !errors.Is(err, ErrDepthExceeded) {
		t.Fatalf("expected ErrDepthExceeded, got %v", err)
	}
}

func TestIsContainedInElementWithTestID_QuotedValues(t *testing.T) {
	ctx := context.Background()
	for _, id := range []string{"tweet photo", "1photo", "a]b", `say "hi"`, `back\slash`} {
		doc := parse(t, `<html><body><div data-testid="`+strings.ReplaceAll(id, `"`, "&quot;")+`"><img id="in" src="/media/a.jpg"></div><img id="out" src="/media/b.jpg"></body></html>`)

		ok, err := IsContainedInElementWithTestID(ctx, doc, first(t, doc, "#in"), id)
		if err != nil || !ok {
			t.Errorf("%q #in: ok=%v err=%v", id, ok, err)
		}
		ok, err = IsContainedInElementWithTestID(ctx, doc, first(t, doc, "#out"), id)
		if err != nil || ok {
			t.Errorf("%q #out: ok=%v err=%v", id, ok, err)
		}
	}
}

func TestAttrSelector(t *testing.T) {
	for _, tt := range []struct{ val, want string }{
		{"tweetPhoto", `[data-testid="tweetPhoto"]`},
		{"a b", `[data-testid="a b"]`},
		{`q"x`, `[data-testid="q\"x"]`},
		{`b\s`, `[data-testid="b\\s"]`},
	} {
		if got := AttrSelector("data-testid", tt.val); got != tt.want {
			t.Errorf("AttrSelector(%q) = %s, want %s", tt.val, got, tt.want)
		}
	}
}

// The first candidate in document order decides, whatever finishes first.
func TestIsContainedInElementMatching_DocumentOrderDecides(t *testing.T) {
	ctx := context.Background()
	deep := `<section class="c">` + strings.Repeat("<div>", MaxDepth+1) + strings.Repeat("</div>", MaxDepth+1) + `</section>`
	hit := `<section class="c"><img id="leaf" src="/media/x.jpg"></section>`

	for range 20 {
		doc := parse(t, `<html><body>`+hit+deep+`</body></html>`)
		ok, err := IsContainedInElementMatching(ctx, doc, first(t, doc, "#leaf"), "section.c")
		if err != nil || !ok {
			t.Fatalf("match before deep candidate: ok=%v err=%v", ok, err)
		}

		doc = parse(t, `<html><body>`+deep+hit+`</body></html>`)
		_, err = IsContainedInElementMatching(ctx, doc, first(t, doc, "#leaf"), "section.c")
		if !errors.Is(err, ErrDepthExceeded) {
			t.Fatalf("deep candidate before match: got %v, want ErrDepthExceeded", err)
		}
	}
}
