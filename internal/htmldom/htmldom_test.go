package htmldom

import (
	"context"
	"strings"
	"testing"
)

const feedPage = `<!DOCTYPE html>
<html><body>
<main>
  <article style="color: #0f1419; font-family: TwitterChirp, sans-serif">
    <div data-testid="tweetText"><span style="font-size: 15px">hello</span></div>
    <div id="media"><a role="link" href="/status/1">open</a></div>
  </article>
</main>
</body></html>`

func mustParse(t *testing.T, s string) *Document {
	t.Helper()
	doc, err := ParseString(s)
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestQueryAll_DescendantChain(t *testing.T) {
	doc := mustParse(t, feedPage)
	ctx := context.Background()

	spans, err := doc.QueryAll(ctx, "main article span")
	if err != nil {
		t.Fatal(err)
	}
	if len(spans) != 1 {
		t.Fatalf("main article span: got %d, want 1", len(spans))
	}

	for _, tc := range []struct {
		sel  string
		want int
	}{
		{"a[role='link']", 1},
		{`a[role="link"]`, 1},
		{"[data-testid=tweetText]", 1},
		{"div#media", 1},
		{"nav span", 0},
		{"article div", 2},
	} {
		got, _ := doc.QueryAll(ctx, tc.sel)
		if len(got) != tc.want {
			t.Errorf("QueryAll(%q): got %d, want %d", tc.sel, len(got), tc.want)
		}
	}
}

func TestHas_ExcludesSelf(t *testing.T) {
	doc := mustParse(t, feedPage)
	ctx := context.Background()

	links, _ := doc.QueryAll(ctx, "a[role='link']")
	if ok, _ := links[0].Has(ctx, "a[role='link']"); ok {
		t.Error("Has must only consider descendants")
	}
	media, _ := doc.QueryAll(ctx, "#media")
	if ok, _ := media[0].Has(ctx, "a[role='link']"); !ok {
		t.Error("expected #media to contain a link")
	}
}

func TestComputedStyle_InheritsAndNormalises(t *testing.T) {
	doc := mustParse(t, feedPage)
	ctx := context.Background()

	spans, _ := doc.QueryAll(ctx, "main article span")
	st, err := spans[0].ComputedStyle(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Color != "rgb(15, 20, 25)" {
		t.Errorf("Color: got %q", st.Color)
	}
	if st.FontFamily != "TwitterChirp, sans-serif" {
		t.Errorf("FontFamily: got %q", st.FontFamily)
	}
	if st.FontSize != "15px" {
		t.Errorf("FontSize: got %q", st.FontSize)
	}

	body, _ := doc.Body(ctx)
	st, _ = body.ComputedStyle(ctx)
	if st.Color != "" {
		t.Errorf("undeclared color should resolve empty, got %q", st.Color)
	}
}

func TestComputedStyle_UnterminatedLastDeclaration(t *testing.T) {
	ctx := context.Background()
	for _, style := range []string{
		"color: #fff; font-size: 13px",
		"color: #fff; font-size: 13px;",
		"color: #fff; font-size: 13px ;; ",
	} {
		doc := mustParse(t, `<html><body><span style="`+style+`">x</span></body></html>`)
		spans, _ := doc.QueryAll(ctx, "span")
		st, err := spans[0].ComputedStyle(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if st.Color != "rgb(255, 255, 255)" || st.FontSize != "13px" {
			t.Errorf("style %q: got %+v", style, st)
		}
	}
}

func TestAppendHTML_ReturnsTopLevelNodes(t *testing.T) {
	doc := mustParse(t, feedPage)
	ctx := context.Background()
	body, _ := doc.Body(ctx)

	rec, err := doc.AppendHTML(ctx, body, `<img src="/media/a.jpg" alt="x"><div><img src="/media/b.jpg"></div>`)
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.Added) != 2 {
		t.Fatalf("Added: got %d, want 2", len(rec.Added))
	}
	if rec.Added[0].Tag() != "img" || rec.Added[1].Tag() != "div" {
		t.Errorf("tags: got %q, %q", rec.Added[0].Tag(), rec.Added[1].Tag())
	}
	if got := len(doc.Images()); got != 2 {
		t.Errorf("Images: got %d, want 2", got)
	}
}

func TestMutators(t *testing.T) {
	doc := mustParse(t, feedPage)
	ctx := context.Background()
	body, _ := doc.Body(ctx)

	el, _ := doc.CreateElement(ctx, "DIV")
	if el.Tag() != "div" {
		t.Fatalf("Tag: got %q", el.Tag())
	}
	el.AddClass(ctx, "a")
	el.AddClass(ctx, "b")
	el.AddClass(ctx, "a")
	el.SetStyle(ctx, "color", "red")
	el.SetStyle(ctx, "padding", "5px 10px")
	el.SetStyle(ctx, "color", "blue")
	el.SetText(ctx, "[ hi ]")
	if err := body.AppendChild(ctx, el); err != nil {
		t.Fatal(err)
	}

	out := doc.HTML()
	if !strings.Contains(out, `class="a b"`) {
		t.Errorf("class attr missing: %s", out)
	}
	if !strings.Contains(out, `style="color: blue; padding: 5px 10px;"`) {
		t.Errorf("style attr wrong: %s", out)
	}
	if el.(*Node).Text() != "[ hi ]" {
		t.Errorf("Text: got %q", el.(*Node).Text())
	}

	parent, _ := el.Parent(ctx)
	if !parent.Same(body) {
		t.Error("appended element should be a child of body")
	}
	rec, err := doc.Remove(ctx, el)
	if err != nil || len(rec.Removed) != 1 {
		t.Fatalf("Remove: rec=%v err=%v", rec, err)
	}
	if _, err := doc.Remove(ctx, el); err == nil {
		t.Error("removing a detached node should fail")
	}
}

func TestForeignNodeRejected(t *testing.T) {
	a := mustParse(t, feedPage)
	b := mustParse(t, feedPage)
	ctx := context.Background()

	bodyA, _ := a.Body(ctx)
	el, _ := b.CreateElement(ctx, "div")
	if err := bodyA.AppendChild(ctx, el); err == nil {
		t.Error("expected error appending a node from another document")
	}
}
