package alttext

import (
	"context"
	"strings"
	"testing"

	"github.com/hazyhaar/alttext/report"
)

const savedFeed = `<!DOCTYPE html>
<html><body>
<main>
  <article style="color: #0f1419; font-size: 15px">
    <div class="post">
      <a role="link" href="/status/1">status</a>
      <img src="https://pbs.twimg.com/media/cat.jpg" alt="a cat on a windowsill">
    </div>
    <div class="post">
      <a role="link" href="/status/2">status</a>
      <img src="https://pbs.twimg.com/media/dog.jpg" alt="Image">
    </div>
    <div class="post">
      <a role="link" href="/user">user</a>
      <img src="https://pbs.twimg.com/profile_images/1/avatar.jpg" alt="avatar">
      <img src="https://abs-0.twimg.com/emoji/v2/svg/1f600.svg" alt="grinning">
    </div>
  </article>
</main>
</body></html>`

func TestAnnotateHTML(t *testing.T) {
	res, err := AnnotateHTML(context.Background(), savedFeed, OfflineOptions{PageURL: "https://x.com/home"})
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(res.HTML, "[ a cat on a windowsill ]") {
		t.Errorf("overlay text missing from HTML:\n%s", res.HTML)
	}
	if !strings.Contains(res.HTML, "Image has no alt-text") {
		t.Error("no-alt warning missing from HTML")
	}
	if strings.Contains(res.HTML, "[ avatar ]") || strings.Contains(res.HTML, "[ grinning ]") {
		t.Error("ignored image was annotated")
	}
	if res.Markdown != "" {
		t.Error("Markdown set without the option")
	}

	want := []report.Outcome{
		report.OutcomeAnnotated,
		report.OutcomeAnnotated,
		report.OutcomeProfile,
		report.OutcomeEmoji,
	}
	if len(res.Events) != len(want) {
		t.Fatalf("events = %d, want %d", len(res.Events), len(want))
	}
	for i, ev := range res.Events {
		if ev.Outcome != want[i] {
			t.Errorf("event %d outcome = %s, want %s", i, ev.Outcome, want[i])
		}
		if ev.PageID != OfflinePageID || ev.PageURL != "https://x.com/home" {
			t.Errorf("event %d page = %s %s", i, ev.PageID, ev.PageURL)
		}
	}
	if res.Events[0].AssociationID != 1 || res.Events[1].AssociationID != 2 {
		t.Errorf("association ids = %d, %d, want 1, 2", res.Events[0].AssociationID, res.Events[1].AssociationID)
	}
	if !res.Events[1].NoAlt {
		t.Error("second event should be flagged no_alt")
	}

	if res.Stats.Batches != 1 || res.Stats.Annotated != 2 || res.Stats.Profile != 1 || res.Stats.Emoji != 1 {
		t.Errorf("stats = %+v", res.Stats)
	}
}

func TestAnnotateHTML_Markdown(t *testing.T) {
	res, err := AnnotateHTML(context.Background(), savedFeed, OfflineOptions{
		PageURL:  "https://x.com/home",
		Markdown: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.HTML != "" {
		t.Error("HTML set in Markdown mode")
	}
	if !strings.Contains(res.Markdown, "a cat on a windowsill") {
		t.Errorf("overlay text missing from Markdown:\n%s", res.Markdown)
	}
	if !strings.Contains(res.Markdown, "https://x.com/status/1") {
		t.Errorf("relative link not resolved against page_url:\n%s", res.Markdown)
	}
}

func TestAnnotateHTML_ThumbnailFilter(t *testing.T) {
	page := `<html><body><main><article>
<div><a role="link" href="/1">1</a><div data-testid="tweetPhoto"><img src="https://pbs.twimg.com/media/a.jpg" alt="thumb"></div></div>
<div><a role="link" href="/2">2</a><img src="https://pbs.twimg.com/media/b.jpg" alt="full"></div>
</article></main></body></html>`

	res, err := AnnotateHTML(context.Background(), page, OfflineOptions{ThumbnailTestID: "tweetPhoto"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Stats.Thumbnail != 1 || res.Stats.Annotated != 1 {
		t.Errorf("stats = %+v, want 1 thumbnail and 1 annotated", res.Stats)
	}
	if strings.Contains(res.HTML, "[ thumb ]") {
		t.Error("thumbnail was annotated")
	}
}

func TestAnnotateHTML_NoContainer(t *testing.T) {
	res, err := AnnotateHTML(context.Background(),
		`<html><body><p><img src="https://pbs.twimg.com/media/a.jpg" alt="alone"></p></body></html>`, OfflineOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Events) != 1 || res.Events[0].Outcome != report.OutcomeNoContainer {
		t.Fatalf("events = %+v, want one skipped_no_container", res.Events)
	}
	if strings.Contains(res.HTML, "[ alone ]") {
		t.Error("image without container was annotated")
	}
}

func TestAnnotateHTML_Sanitize(t *testing.T) {
	page := strings.Replace(savedFeed, "<main>",
		`<script>alert(1)</script><main onclick="steal()">`, 1)

	res, err := AnnotateHTML(context.Background(), page, OfflineOptions{Sanitize: true})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(res.HTML, "<script") || strings.Contains(res.HTML, "steal()") {
		t.Errorf("active content survived sanitizing:\n%s", res.HTML)
	}
	if !strings.Contains(res.HTML, "[ a cat on a windowsill ]") {
		t.Error("overlay text removed by sanitizing")
	}
	if !strings.Contains(res.HTML, `class="generated-alt-text-view"`) {
		t.Error("overlay class removed by sanitizing")
	}
}

func TestAnnotateHTML_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := AnnotateHTML(ctx, savedFeed, OfflineOptions{}); err == nil {
		t.Error("expected context error")
	}
}
