package htmldom

import (
	"fmt"
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/net/html"

	"github.com/hazyhaar/alttext/dom"
)

// inlineDecls parses the style attribute of n. A malformed attribute yields
// no declarations, the way a browser drops what it cannot parse.
func inlineDecls(n *html.Node) []*css.Declaration {
	raw, ok := lookupAttr(n, "style")
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	// douceur drops a last declaration that is not terminated by ';'.
	decls, err := parser.ParseDeclarations(strings.TrimRight(raw, "; \t\r\n") + ";")
	if err != nil {
		return nil
	}
	return decls
}

func declValue(decls []*css.Declaration, property string) (string, bool) {
	val, found := "", false
	for _, d := range decls {
		if strings.EqualFold(d.Property, property) {
			val, found = strings.TrimSpace(d.Value), true
		}
	}
	return val, found
}

// computedStyle resolves color, font-family and font-size for n from inline
// declarations on n and its ancestors. All three properties inherit. Nothing
// declared anywhere resolves to "".
func computedStyle(n *html.Node) dom.Style {
	var st dom.Style
	var haveColor, haveFamily, haveSize bool

	for p := n; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		decls := inlineDecls(p)
		if len(decls) == 0 {
			continue
		}
		if !haveColor {
			if v, ok := declValue(decls, "color"); ok {
				st.Color, haveColor = normalizeColor(v), true
			}
		}
		if !haveFamily {
			if v, ok := declValue(decls, "font-family"); ok {
				st.FontFamily, haveFamily = v, true
			}
		}
		if !haveSize {
			if v, ok := declValue(decls, "font-size"); ok {
				st.FontSize, haveSize = v, true
			}
		}
		if haveColor && haveFamily && haveSize {
			break
		}
	}
	return st
}

// normalizeColor renders hex colours in the rgb() form getComputedStyle
// reports. Anything else is passed through.
func normalizeColor(v string) string {
	if !strings.HasPrefix(v, "#") {
		return v
	}
	c, err := colorful.Hex(v)
	if err != nil {
		return v
	}
	r, g, b := c.RGB255()
	return fmt.Sprintf("rgb(%d, %d, %d)", r, g, b)
}

// setDecl replaces or appends property in the inline style of n.
func setDecl(n *html.Node, property, value string) {
	decls := inlineDecls(n)
	replaced := false
	for _, d := range decls {
		if strings.EqualFold(d.Property, property) {
			d.Value = value
			replaced = true
		}
	}
	if !replaced {
		decls = append(decls, &css.Declaration{Property: property, Value: value})
	}

	parts := make([]string, 0, len(decls))
	for _, d := range decls {
		s := d.Property + ": " + d.Value
		if d.Important {
			s += " !important"
		}
		parts = append(parts, s)
	}
	setAttr(n, "style", strings.Join(parts, "; ")+";")
}
