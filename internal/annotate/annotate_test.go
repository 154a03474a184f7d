package annotate

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/hazyhaar/alttext/dom"
	"github.com/hazyhaar/alttext/internal/htmldom"
	"github.com/hazyhaar/alttext/report"
)

const feedPage = `<!DOCTYPE html>
<html><body>
<main>
  <article style="color: #0f1419; font-family: TwitterChirp; font-size: 15px">
    <span>Some tweet text</span>
    <div id="tweet"><a role="link" href="/status/1">link</a><div id="media"></div></div>
    <div id="tweet2"><a role="link" href="/status/2">link</a><div data-testid="tweetPhoto"><div id="thumb"></div></div></div>
  </article>
</main>
<div id="hidden" aria-hidden="true"><a role="link" href="/x">x</a><div id="hmedia"></div></div>
</body></html>`

// orphanPage has no link anywhere, so no ancestor of #nolink can be a
// container.
const orphanPage = `<!DOCTYPE html>
<html><body>
<main><article style="color: #0f1419"><div id="nolink"></div></article></main>
</body></html>`

type harness struct {
	t      *testing.T
	doc    *htmldom.Document
	engine *Engine
	logs   *bytes.Buffer

	mu     sync.Mutex
	events []report.Event
	seq    uint64
}

func newHarness(t *testing.T, page string, cfg Config) *harness {
	t.Helper()
	doc, err := htmldom.ParseString(page)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{t: t, doc: doc, logs: &bytes.Buffer{}}
	cfg.PageID = "test"
	cfg.Logger = slog.New(slog.NewJSONHandler(h.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cfg.OnEvent = func(ev report.Event) {
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
	}
	h.engine = New(doc, cfg)
	return h
}

func (h *harness) node(sel string) dom.Node {
	h.t.Helper()
	nodes, err := h.doc.QueryAll(context.Background(), sel)
	if err != nil || len(nodes) == 0 {
		h.t.Fatalf("no match for %q (err=%v)", sel, err)
	}
	return nodes[0]
}

// insert appends fragment under sel and dispatches the resulting record.
func (h *harness) insert(sel, fragment string) dom.Record {
	h.t.Helper()
	ctx := context.Background()
	rec, err := h.doc.AppendHTML(ctx, h.node(sel), fragment)
	if err != nil {
		h.t.Fatal(err)
	}
	h.dispatch(rec)
	return rec
}

func (h *harness) dispatch(recs ...dom.Record) {
	h.seq++
	h.engine.Dispatch(context.Background(), dom.Batch{PageID: "test", Seq: h.seq, Records: recs})
}

func (h *harness) overlays() []*htmldom.Node {
	nodes, _ := h.doc.QueryAll(context.Background(), "div."+OverlayClass)
	out := make([]*htmldom.Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.(*htmldom.Node))
	}
	return out
}

func (h *harness) outcomes() []report.Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []report.Outcome
	for _, ev := range h.events {
		out = append(out, ev.Outcome)
	}
	return out
}

func attr(t *testing.T, n dom.Node, name string) (string, bool) {
	t.Helper()
	v, ok, err := n.Attr(context.Background(), name)
	if err != nil {
		t.Fatal(err)
	}
	return v, ok
}

func TestAnnotate_AltTextOverlay(t *testing.T) {
	h := newHarness(t, feedPage, Config{})
	rec := h.insert("#media", `<img src="https://pbs.twimg.com/media/abc.jpg" alt="A cat sitting on a windowsill">`)
	img := rec.Added[0]

	ovs := h.overlays()
	if len(ovs) != 1 {
		t.Fatalf("overlays: got %d, want 1", len(ovs))
	}
	ov := ovs[0]
	if got := ov.Text(); got != "[ a cat sitting on a windowsill ]" {
		t.Errorf("text: got %q", got)
	}

	imgID, ok := attr(t, img, AssociationAttr)
	if !ok {
		t.Fatal("image has no association id")
	}
	ovID, _ := attr(t, ov, AssociationAttr)
	if imgID != ovID || imgID != "1" {
		t.Errorf("association: image=%q overlay=%q, want both 1", imgID, ovID)
	}

	// Appended as the last child of the link-bearing container.
	parent, _ := ov.Parent(context.Background())
	if id, _ := attr(t, parent, "id"); id != "tweet" {
		t.Errorf("container: got #%s, want #tweet", id)
	}
	kids, _ := parent.Children(context.Background())
	if !kids[len(kids)-1].Same(ov) {
		t.Error("overlay should be the last child of its container")
	}

	style, _ := attr(t, ov, "style")
	for _, want := range []string{"color: rgb(15, 20, 25)", "font-family: TwitterChirp", "font-size: 15px", "padding: 5px 10px", "font-style: italic"} {
		if !strings.Contains(style, want) {
			t.Errorf("style %q missing %q", style, want)
		}
	}

	if got := h.outcomes(); len(got) != 1 || got[0] != report.OutcomeAnnotated {
		t.Errorf("outcomes: %v", got)
	}
	if h.events[0].AssociationID != 1 || h.events[0].Alt != "a cat sitting on a windowsill" {
		t.Errorf("event: %+v", h.events[0])
	}
}

func TestAnnotate_NoAltWarning(t *testing.T) {
	for _, alt := range []string{"", "   ", "image", " Image ", "IMAGE"} {
		t.Run(strconv.Quote(alt), func(t *testing.T) {
			h := newHarness(t, feedPage, Config{})
			h.insert("#media", `<img src="/media/x.jpg" alt="`+alt+`">`)

			ovs := h.overlays()
			if len(ovs) != 1 {
				t.Fatalf("overlays: got %d, want 1", len(ovs))
			}
			kids, _ := ovs[0].Children(context.Background())
			if len(kids) != 3 {
				t.Fatalf("children: got %d, want 3", len(kids))
			}
			for _, i := range []int{0, 2} {
				if kids[i].Tag() != "img" {
					t.Errorf("child %d: got <%s>, want icon", i, kids[i].Tag())
				}
				if src, _ := attr(t, kids[i], "src"); src != sadFaceSrc {
					t.Errorf("icon src: %q", src)
				}
			}
			if kids[1].Tag() != "span" || kids[1].(*htmldom.Node).Text() != noAltPhrase {
				t.Errorf("phrase: <%s> %q", kids[1].Tag(), kids[1].(*htmldom.Node).Text())
			}
			if strings.Contains(ovs[0].Text(), "[") {
				t.Error("no-alt overlay must not use the bracketed form")
			}
		})
	}
}

func TestAnnotate_NoAltSetIsClosed(t *testing.T) {
	for _, alt := range []string{"images", "an image", "img", "Image of a dog"} {
		norm := NormalizeAlt(alt)
		if IsNoAlt(norm) {
			t.Errorf("%q should not count as missing alt text", alt)
		}
		if got, want := OverlayText(norm), "[ "+norm+" ]"; got != want {
			t.Errorf("OverlayText(%q): got %q, want %q", norm, got, want)
		}
	}
}

func TestAnnotate_ProfileImageIgnored(t *testing.T) {
	h := newHarness(t, orphanPage, Config{})
	// #nolink has no container: reaching the resolver would report
	// skipped_no_container instead of ignored_profile.
	rec := h.insert("#nolink", `<img src="https://pbs.twimg.com/profile_images/xyz.jpg" alt="">`)

	if len(h.overlays()) != 0 {
		t.Error("profile image must not be annotated")
	}
	if _, ok := attr(t, rec.Added[0], AssociationAttr); ok {
		t.Error("profile image must not get an association id")
	}
	if got := h.outcomes(); len(got) != 1 || got[0] != report.OutcomeProfile {
		t.Errorf("outcomes: %v", got)
	}
}

func TestAnnotate_EmojiIgnored(t *testing.T) {
	h := newHarness(t, feedPage, Config{})
	h.insert("#media", `<img src="https://abs-0.twimg.com/emoji/v2/svg/1f600.svg" alt="😀">`)
	h.insert("#media", `<img src="https://abs.twimg.com/emoji-sprite/sheet.png" alt="">`)

	if len(h.overlays()) != 0 {
		t.Error("emoji must not be annotated")
	}
	for _, o := range h.outcomes() {
		if o != report.OutcomeEmoji {
			t.Errorf("outcome: got %q, want %q", o, report.OutcomeEmoji)
		}
	}
}

func TestAnnotate_HiddenContainerSkippedSilently(t *testing.T) {
	h := newHarness(t, feedPage, Config{})
	rec := h.insert("#hmedia", `<img src="/media/h.jpg" alt="">`)

	if len(h.overlays()) != 0 {
		t.Error("hidden container must not receive an overlay")
	}
	if _, ok := attr(t, rec.Added[0], AssociationAttr); ok {
		t.Error("image under hidden container must stay unassociated")
	}
	if strings.Contains(h.logs.String(), `"level":"ERROR"`) {
		t.Errorf("hidden container must not log an error:\n%s", h.logs)
	}
	if !strings.Contains(h.logs.String(), "aria-hidden") {
		t.Error("expected an informational log for the hidden container")
	}
	if got := h.outcomes(); len(got) != 1 || got[0] != report.OutcomeHidden {
		t.Errorf("outcomes: %v", got)
	}
}

func TestAnnotate_NoContainerLogsError(t *testing.T) {
	h := newHarness(t, orphanPage, Config{})
	h.insert("#nolink", `<img src="/media/n.jpg" alt="orphan">`)

	if len(h.overlays()) != 0 {
		t.Error("no overlay expected without container")
	}
	if !strings.Contains(h.logs.String(), `"level":"ERROR"`) {
		t.Error("missing container should log at error level")
	}
	if got := h.outcomes(); len(got) != 1 || got[0] != report.OutcomeNoContainer {
		t.Errorf("outcomes: %v", got)
	}
}

func TestAnnotate_IDsStrictlyIncreasing(t *testing.T) {
	h := newHarness(t, feedPage, Config{})
	var imgs []dom.Node
	for i := 0; i < 5; i++ {
		rec := h.insert("#media", `<img src="/media/`+strconv.Itoa(i)+`.jpg" alt="pic">`)
		imgs = append(imgs, rec.Added[0])
	}

	prev := int64(0)
	for i, img := range imgs {
		v, ok := attr(t, img, AssociationAttr)
		if !ok {
			t.Fatalf("image %d not associated", i)
		}
		id, _ := strconv.ParseInt(v, 10, 64)
		if id <= prev {
			t.Errorf("image %d: id %d not greater than %d", i, id, prev)
		}
		prev = id
	}
	if got := h.engine.Stats().LastID; got != 5 {
		t.Errorf("LastID: got %d, want 5", got)
	}
}

func TestAnnotate_RedeliveryAppendsDuplicate(t *testing.T) {
	h := newHarness(t, feedPage, Config{})
	rec := h.insert("#media", `<img src="/media/d.jpg" alt="dup">`)
	h.dispatch(rec)

	ovs := h.overlays()
	if len(ovs) != 2 {
		t.Fatalf("overlays: got %d, want 2", len(ovs))
	}
	a, _ := attr(t, ovs[0], AssociationAttr)
	b, _ := attr(t, ovs[1], AssociationAttr)
	if a == b {
		t.Error("duplicate overlays must still carry distinct ids")
	}
	if v, _ := attr(t, rec.Added[0], AssociationAttr); v != b {
		t.Errorf("image id: got %s, want latest %s", v, b)
	}
}

func TestDispatch_OnlyAddedImagesConsidered(t *testing.T) {
	h := newHarness(t, feedPage, Config{})
	// The img is nested in an added div: only the div is reported.
	h.insert("#media", `<div><img src="/media/nested.jpg" alt="nested"></div><p>text</p>`)
	removed, err := h.doc.Remove(context.Background(), h.node("#media"))
	if err != nil {
		t.Fatal(err)
	}
	h.dispatch(removed)

	if n := len(h.overlays()); n != 0 {
		t.Errorf("overlays: got %d, want 0", n)
	}
	if n := len(h.outcomes()); n != 0 {
		t.Errorf("events: got %d, want 0", n)
	}
	if got := h.engine.Stats().Batches; got != 2 {
		t.Errorf("Batches: got %d, want 2", got)
	}
}

func TestAnnotate_UnstyledFallback(t *testing.T) {
	page := `<html><body><div><a role="link" href="/">l</a><div id="media"></div></div></body></html>`
	h := newHarness(t, page, Config{})
	h.insert("#media", `<img src="/media/u.jpg" alt="plain">`)

	ovs := h.overlays()
	if len(ovs) != 1 {
		t.Fatalf("overlays: got %d, want 1", len(ovs))
	}
	style, _ := attr(t, ovs[0], "style")
	if strings.Contains(style, "color") {
		t.Errorf("no sampled style expected, got %q", style)
	}
	if !strings.Contains(style, "font-style: italic") || !strings.Contains(style, "padding: 5px 10px") {
		t.Errorf("fixed style missing: %q", style)
	}
}

// brokenNode is an img whose attribute reads fail or panic.
type brokenNode struct {
	dom.Node
	panics bool
}

func (b *brokenNode) Tag() string { return "img" }

func (b *brokenNode) Attr(context.Context, string) (string, bool, error) {
	if b.panics {
		panic("attribute read exploded")
	}
	return "", false, errors.New("node went away")
}

func (b *brokenNode) String() string { return "<img broken>" }

func TestDispatch_FailureIsolatedPerNode(t *testing.T) {
	h := newHarness(t, feedPage, Config{})
	ctx := context.Background()
	good, err := h.doc.AppendHTML(ctx, h.node("#media"), `<img src="/media/ok.jpg" alt="fine">`)
	if err != nil {
		t.Fatal(err)
	}

	h.dispatch(dom.Record{Added: []dom.Node{&brokenNode{}, &brokenNode{panics: true}, good.Added[0]}})

	got := h.outcomes()
	want := []report.Outcome{report.OutcomeFailed, report.OutcomeFailed, report.OutcomeAnnotated}
	if len(got) != len(want) {
		t.Fatalf("outcomes: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("outcome[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
	if len(h.overlays()) != 1 {
		t.Error("the healthy image must still be annotated")
	}
	if s := h.engine.Stats(); s.Failed != 2 || s.Annotated != 1 {
		t.Errorf("stats: %+v", s)
	}
}

func TestDispatch_ThumbnailFilterConcurrent(t *testing.T) {
	h := newHarness(t, feedPage, Config{ThumbnailTestID: "tweetPhoto", Concurrency: 4})
	ctx := context.Background()

	var recs []dom.Record
	for i := 0; i < 6; i++ {
		rec, err := h.doc.AppendHTML(ctx, h.node("#media"), `<img src="/media/c`+strconv.Itoa(i)+`.jpg" alt="c">`)
		if err != nil {
			t.Fatal(err)
		}
		recs = append(recs, rec)
	}
	thumb, err := h.doc.AppendHTML(ctx, h.node("#thumb"), `<img src="/media/thumb.jpg" alt="t">`)
	if err != nil {
		t.Fatal(err)
	}
	h.dispatch(append(recs, thumb)...)

	s := h.engine.Stats()
	if s.Annotated != 6 || s.Thumbnail != 1 {
		t.Fatalf("stats: %+v", s)
	}
	seen := map[string]bool{}
	for _, ov := range h.overlays() {
		id, _ := attr(t, ov, AssociationAttr)
		if seen[id] {
			t.Errorf("duplicate association id %s", id)
		}
		seen[id] = true
	}
	if _, ok := attr(t, thumb.Added[0], AssociationAttr); ok {
		t.Error("thumbnail image must not be associated")
	}
}

func TestDispatch_DepthExceededCaughtPerNode(t *testing.T) {
	page := `<html><body><div data-testid="tweetPhoto">` + strings.Repeat("<div>", 40) +
		`<a role="link" href="/">l</a><div id="deep"></div>` + strings.Repeat("</div>", 40) + `</div></body></html>`
	h := newHarness(t, page, Config{ThumbnailTestID: "tweetPhoto"})
	h.insert("#deep", `<img src="/media/deep.jpg" alt="deep">`)

	if got := h.outcomes(); len(got) != 1 || got[0] != report.OutcomeFailed {
		t.Fatalf("outcomes: %v", got)
	}
	if !strings.Contains(h.events[0].Error, "depth") {
		t.Errorf("error should mention the depth bound: %q", h.events[0].Error)
	}
}

func TestStyleSampler_CachedAfterFirstSuccess(t *testing.T) {
	ctx := context.Background()
	doc, err := htmldom.ParseString(`<html><body><main id="m"></main></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	s := styleSampler{logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))}

	if _, ok := s.Sample(ctx, doc); ok {
		t.Fatal("nothing to sample yet")
	}

	main, _ := doc.QueryAll(ctx, "#m")
	rec, err := doc.AppendHTML(ctx, main[0], `<article><span style="color: #ffffff; font-size: 13px">hi</span></article>`)
	if err != nil {
		t.Fatal(err)
	}
	first, ok := s.Sample(ctx, doc)
	if !ok || first.Color != "rgb(255, 255, 255)" || first.FontSize != "13px" {
		t.Fatalf("first sample: %+v ok=%v", first, ok)
	}

	// A theme change after the first success is not picked up.
	spans, _ := doc.QueryAll(ctx, "span")
	if err := spans[0].SetStyle(ctx, "color", "#000000"); err != nil {
		t.Fatal(err)
	}
	if _, err := doc.Remove(ctx, rec.Added[0]); err != nil {
		t.Fatal(err)
	}
	again, ok := s.Sample(ctx, doc)
	if !ok || again != first {
		t.Errorf("second sample: got %+v, want cached %+v", again, first)
	}
}
