package htmldom

import (
	"strings"

	"golang.org/x/net/html"
)

// selector is a parsed descendant-combinator chain: "main article span"
// becomes three compound parts matched right to left.
type selector []compound

// compound supports the subset the engine needs:
//   - tag: "article", "span"
//   - .class, #id, tag.class, tag#id
//   - [attr], [attr=val], tag[attr='val'], [attr="val"]
//
// Quoted values may hold spaces, brackets and backslash escapes.
type compound struct {
	tag     string
	id      string
	class   string
	attrKey string
	attrVal string
	hasVal  bool
}

func parseSelector(sel string) selector {
	parts := splitCompounds(sel)
	s := make(selector, 0, len(parts))
	for _, p := range parts {
		s = append(s, parseCompound(p))
	}
	return s
}

// splitCompounds splits sel on whitespace outside attribute brackets.
func splitCompounds(sel string) []string {
	var (
		parts  []string
		cur    strings.Builder
		quote  byte
		inAttr bool
	)
	for i := 0; i < len(sel); i++ {
		ch := sel[i]
		switch {
		case quote != 0:
			cur.WriteByte(ch)
			if ch == '\\' && i+1 < len(sel) {
				i++
				cur.WriteByte(sel[i])
			} else if ch == quote {
				quote = 0
			}
		case inAttr && (ch == '"' || ch == '\''):
			quote = ch
			cur.WriteByte(ch)
		case ch == '[' || ch == ']':
			inAttr = ch == '['
			cur.WriteByte(ch)
		case !inAttr && (ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'):
			if cur.Len() > 0 {
				parts = append(parts, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(ch)
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

// attrValue strips the quotes around v and resolves backslash escapes.
func attrValue(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		v = v[1 : len(v)-1]
	}
	if !strings.Contains(v, `\`) {
		return v
	}
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] == '\\' && i+1 < len(v) {
			i++
		}
		b.WriteByte(v[i])
	}
	return b.String()
}

func parseCompound(sel string) compound {
	var c compound

	if idx := strings.IndexByte(sel, '['); idx >= 0 {
		attrPart := strings.TrimSuffix(sel[idx+1:], "]")
		sel = sel[:idx]
		if eqIdx := strings.IndexByte(attrPart, '='); eqIdx >= 0 {
			c.attrKey = attrPart[:eqIdx]
			c.attrVal = attrValue(attrPart[eqIdx+1:])
			c.hasVal = true
		} else {
			c.attrKey = attrPart
		}
	}

	if idx := strings.IndexByte(sel, '#'); idx >= 0 {
		c.id = sel[idx+1:]
		sel = sel[:idx]
	}

	if idx := strings.IndexByte(sel, '.'); idx >= 0 {
		c.class = sel[idx+1:]
		sel = sel[:idx]
	}

	c.tag = strings.ToLower(sel)
	return c
}

func (c compound) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && c.tag != "*" && n.Data != c.tag {
		return false
	}
	if c.id != "" && getAttr(n, "id") != c.id {
		return false
	}
	if c.class != "" && !hasClass(n, c.class) {
		return false
	}
	if c.attrKey != "" {
		val, ok := lookupAttr(n, c.attrKey)
		if !ok {
			return false
		}
		if c.hasVal && val != c.attrVal {
			return false
		}
	}
	return true
}

// matches evaluates the chain right to left: the last compound must match n,
// each earlier one must match some ancestor above the previous match.
func (s selector) matches(n *html.Node) bool {
	if len(s) == 0 || !s[len(s)-1].matches(n) {
		return false
	}
	i := len(s) - 2
	for p := n.Parent; p != nil && i >= 0; p = p.Parent {
		if s[i].matches(p) {
			i--
		}
	}
	return i < 0
}

// queryAll collects matching elements below root (root excluded) in
// document order.
func (s selector) queryAll(root *html.Node, first bool) []*html.Node {
	var results []*html.Node
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if s.matches(c) {
				results = append(results, c)
				if first {
					return true
				}
			}
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(root)
	return results
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, attr := range n.Attr {
		if attr.Namespace == "" && attr.Key == key {
			return attr.Val, true
		}
	}
	return "", false
}

func getAttr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func setAttr(n *html.Node, key, val string) {
	for i, attr := range n.Attr {
		if attr.Namespace == "" && attr.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(getAttr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
