package annotate

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hazyhaar/alttext/dom"
)

const (
	// OverlayClass marks every generated overlay.
	OverlayClass = "generated-alt-text-view"
	// AssociationAttr links an image to its overlay.
	AssociationAttr = "data-alttext-id"

	noAltPhrase = " Image has no alt-text "
	sadFaceSrc  = "https://abs-0.twimg.com/emoji/v2/svg/1f622.svg"
)

// Overlay describes an overlay the engine built.
type Overlay struct {
	ID    int64  `json:"id"`
	Alt   string `json:"alt"`    // normalised alt text
	NoAlt bool   `json:"no_alt"` // alt is "" or "image"
	Text  string `json:"text"`
}

// NormalizeAlt trims and lower-cases raw alt text.
func NormalizeAlt(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// IsNoAlt reports whether a normalised alt text counts as missing. The set
// is closed: "" and "image" only.
func IsNoAlt(alt string) bool {
	return alt == "" || alt == "image"
}

// OverlayText is the text content of the overlay for a normalised alt.
func OverlayText(alt string) string {
	if IsNoAlt(alt) {
		return noAltPhrase
	}
	return "[ " + alt + " ]"
}

// render builds the overlay for img, stamps a fresh association id on both
// and appends the overlay as the last child of container. There is no guard
// against an image that already carries an id.
func (e *Engine) render(ctx context.Context, img, container dom.Node, rawAlt string) (*Overlay, error) {
	ov := &Overlay{Alt: NormalizeAlt(rawAlt)}
	ov.NoAlt = IsNoAlt(ov.Alt)
	ov.Text = OverlayText(ov.Alt)

	el, err := e.doc.CreateElement(ctx, "div")
	if err != nil {
		return ov, fmt.Errorf("annotate: create overlay: %w", err)
	}

	if ov.NoAlt {
		if err := e.fillNoAlt(ctx, el); err != nil {
			return ov, err
		}
	} else if err := el.SetText(ctx, ov.Text); err != nil {
		return ov, fmt.Errorf("annotate: overlay text: %w", err)
	}

	if err := el.AddClass(ctx, OverlayClass); err != nil {
		return ov, fmt.Errorf("annotate: overlay class: %w", err)
	}
	if err := e.applyStyle(ctx, el); err != nil {
		return ov, err
	}

	ov.ID = e.nextID()
	id := strconv.FormatInt(ov.ID, 10)
	if err := el.SetAttr(ctx, AssociationAttr, id); err != nil {
		return ov, fmt.Errorf("annotate: stamp overlay: %w", err)
	}
	if err := img.SetAttr(ctx, AssociationAttr, id); err != nil {
		return ov, fmt.Errorf("annotate: stamp image: %w", err)
	}

	if err := container.AppendChild(ctx, el); err != nil {
		return ov, fmt.Errorf("annotate: append overlay: %w", err)
	}
	return ov, nil
}

// fillNoAlt writes icon + phrase + icon into el.
func (e *Engine) fillNoAlt(ctx context.Context, el dom.Node) error {
	left, err := e.sadFace(ctx)
	if err != nil {
		return err
	}
	span, err := e.doc.CreateElement(ctx, "span")
	if err != nil {
		return fmt.Errorf("annotate: create span: %w", err)
	}
	if err := span.SetText(ctx, noAltPhrase); err != nil {
		return fmt.Errorf("annotate: span text: %w", err)
	}
	right, err := e.sadFace(ctx)
	if err != nil {
		return err
	}
	for _, c := range []dom.Node{left, span, right} {
		if err := el.AppendChild(ctx, c); err != nil {
			return fmt.Errorf("annotate: fill overlay: %w", err)
		}
	}
	return nil
}

func (e *Engine) sadFace(ctx context.Context) (dom.Node, error) {
	img, err := e.doc.CreateElement(ctx, "img")
	if err != nil {
		return nil, fmt.Errorf("annotate: create icon: %w", err)
	}
	for _, kv := range [][2]string{
		{"src", sadFaceSrc},
		{"alt", "Crying face"},
		{"draggable", "false"},
	} {
		if err := img.SetAttr(ctx, kv[0], kv[1]); err != nil {
			return nil, fmt.Errorf("annotate: icon %s: %w", kv[0], err)
		}
	}
	for _, prop := range []string{"width", "height"} {
		if err := img.SetStyle(ctx, prop, "16px"); err != nil {
			return nil, fmt.Errorf("annotate: icon %s: %w", prop, err)
		}
	}
	return img, nil
}

// applyStyle copies the sampled text style, when there is one, then the
// fixed padding and italics.
func (e *Engine) applyStyle(ctx context.Context, el dom.Node) error {
	var props [][2]string
	if st, ok := e.styles.Sample(ctx, e.doc); ok {
		props = append(props,
			[2]string{"color", st.Color},
			[2]string{"font-family", st.FontFamily},
			[2]string{"font-size", st.FontSize},
		)
	}
	props = append(props,
		[2]string{"padding", "5px 10px"},
		[2]string{"font-style", "italic"},
	)
	for _, p := range props {
		if p[1] == "" {
			continue
		}
		if err := el.SetStyle(ctx, p[0], p[1]); err != nil {
			return fmt.Errorf("annotate: overlay style %s: %w", p[0], err)
		}
	}
	return nil
}
