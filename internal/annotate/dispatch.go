package annotate

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/alttext/dom"
	"github.com/hazyhaar/alttext/report"
)

// result is the outcome of one image; overlay is set once rendering began.
type result struct {
	src     string
	outcome report.Outcome
	overlay *Overlay
	err     error
}

// Dispatch runs the pipeline for every image added in batch. Nodes that are
// not images are dropped before any further work. Each image is processed in
// its own failure boundary; a panic while iterating the batch is recovered
// and logged so the caller's loop keeps running.
//
// With only synchronous filters the images are processed in delivery order.
// With the containment filter enabled they run as independent tasks and
// finish in no particular order; Dispatch returns when all have settled.
func (e *Engine) Dispatch(ctx context.Context, batch dom.Batch) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("annotate: batch dispatch panicked",
				"page", e.cfg.PageID, "seq", batch.Seq, "panic", r)
		}
	}()
	e.stats.batches.Add(1)

	var imgs []dom.Node
	for _, rec := range batch.Records {
		for _, n := range rec.Added {
			if n == nil || n.Tag() != "img" {
				continue
			}
			imgs = append(imgs, n)
		}
	}
	if len(imgs) == 0 {
		return
	}

	if !e.classifier.containment() {
		for _, img := range imgs {
			e.process(ctx, batch.Seq, img)
		}
		return
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for _, img := range imgs {
		g.Go(func() error {
			e.process(ctx, batch.Seq, img)
			return nil
		})
	}
	g.Wait()
}

// Annotate runs the pipeline for a single node outside of a batch.
func (e *Engine) Annotate(ctx context.Context, n dom.Node) (*Overlay, report.Outcome, error) {
	res := e.process(ctx, 0, n)
	return res.overlay, res.outcome, res.err
}

// process is the per-node failure boundary.
func (e *Engine) process(ctx context.Context, seq uint64, img dom.Node) (res result) {
	defer func() {
		if r := recover(); r != nil {
			res.err = fmt.Errorf("annotate: panic: %v", r)
		}
		if res.err != nil {
			res.outcome = report.OutcomeFailed
			e.logger.Error("annotate: annotation failed",
				"page", e.cfg.PageID, "node", img.String(), "overlay", res.overlay, "error", res.err)
		}
		e.emit(seq, res)
	}()

	res = e.tryAnnotate(ctx, img)
	return res
}

func (e *Engine) tryAnnotate(ctx context.Context, img dom.Node) result {
	var res result

	src, _, err := img.Attr(ctx, "src")
	if err != nil {
		res.err = fmt.Errorf("annotate: read src: %w", err)
		return res
	}
	res.src = src

	verdict, err := e.classifier.Classify(ctx, img)
	if err != nil {
		res.err = err
		return res
	}
	switch verdict {
	case VerdictProfile:
		res.outcome = report.OutcomeProfile
		return res
	case VerdictEmoji:
		res.outcome = report.OutcomeEmoji
		return res
	case VerdictThumbnail:
		res.outcome = report.OutcomeThumbnail
		return res
	case VerdictNotImage:
		res.outcome = report.OutcomeNotImage
		return res
	}

	alt, _, err := img.Attr(ctx, "alt")
	if err != nil {
		res.err = fmt.Errorf("annotate: read alt: %w", err)
		return res
	}

	container, err := ResolveContainer(ctx, img)
	if errors.Is(err, ErrNoContainer) {
		e.logger.Error("annotate: no container for alt text",
			"page", e.cfg.PageID, "node", img.String(), "alt", NormalizeAlt(alt))
		res.outcome = report.OutcomeNoContainer
		return res
	}
	if err != nil {
		res.err = err
		return res
	}

	hidden, err := isHidden(ctx, container)
	if err != nil {
		res.err = fmt.Errorf("annotate: read aria-hidden: %w", err)
		return res
	}
	if hidden {
		e.logger.Info("annotate: ignoring image, container is aria-hidden",
			"page", e.cfg.PageID, "node", img.String(), "container", container.String())
		res.outcome = report.OutcomeHidden
		return res
	}

	res.overlay, res.err = e.render(ctx, img, container, alt)
	if res.err != nil {
		return res
	}
	res.outcome = report.OutcomeAnnotated
	e.logger.Debug("annotate: overlay added",
		"page", e.cfg.PageID, "id", res.overlay.ID, "text", res.overlay.Text)
	return res
}
