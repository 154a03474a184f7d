package annotate

import (
	"context"
	"fmt"
	"regexp"

	"github.com/hazyhaar/alttext/dom"
	"github.com/hazyhaar/alttext/internal/tree"
)

// Verdict is the classifier's decision for a candidate node.
type Verdict string

const (
	VerdictEligible  Verdict = "eligible"
	VerdictNotImage  Verdict = "not_image"
	VerdictProfile   Verdict = "profile"
	VerdictEmoji     Verdict = "emoji"
	VerdictThumbnail Verdict = "thumbnail"
)

var (
	profileImagePath = regexp.MustCompile(`/profile_images/`)
	emojiPath        = regexp.MustCompile(`/emoji/|/emoji[-_]sprite`)
)

// Classifier decides which inserted nodes get an overlay. It keeps no
// per-node state and is safe for concurrent use.
type Classifier struct {
	doc             dom.Document
	thumbnailTestID string
}

// NewClassifier returns a Classifier. A non-empty thumbnailTestID enables
// the containment stage.
func NewClassifier(doc dom.Document, thumbnailTestID string) *Classifier {
	return &Classifier{doc: doc, thumbnailTestID: thumbnailTestID}
}

// containment reports whether the asynchronous containment stage is active.
func (c *Classifier) containment() bool {
	return c.thumbnailTestID != ""
}

// Classify evaluates, in order: element type, avatar path, emoji path and,
// when enabled, thumbnail containment. The first rejection wins.
func (c *Classifier) Classify(ctx context.Context, n dom.Node) (Verdict, error) {
	if n.Tag() != "img" {
		return VerdictNotImage, nil
	}

	src, _, err := n.Attr(ctx, "src")
	if err != nil {
		return "", fmt.Errorf("annotate: read src: %w", err)
	}
	if profileImagePath.MatchString(src) {
		return VerdictProfile, nil
	}
	if emojiPath.MatchString(src) {
		return VerdictEmoji, nil
	}

	if c.containment() {
		inside, err := tree.IsContainedInElementWithTestID(ctx, c.doc, n, c.thumbnailTestID)
		if err != nil {
			return "", fmt.Errorf("annotate: thumbnail containment: %w", err)
		}
		if inside {
			return VerdictThumbnail, nil
		}
	}

	return VerdictEligible, nil
}
