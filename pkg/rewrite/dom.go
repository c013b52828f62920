package rewrite

import (
	"strings"

	"golang.org/x/net/html"
)

// Small DOM helpers over x/net/html nodes. Mutation is detach-only:
// removed subtrees stay allocated until the per-article tree is
// garbage collected.

// walk visits n and all descendants in document order. The visitor
// must not detach nodes itself; collect first, mutate after.
func walk(n *html.Node, visit func(*html.Node)) {
	visit(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

// collect returns all descendant elements matching any of the tag
// names.
func collect(root *html.Node, tags ...string) []*html.Node {
	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[t] = true
	}
	var out []*html.Node
	walk(root, func(n *html.Node) {
		if n.Type == html.ElementNode && want[n.Data] {
			out = append(out, n)
		}
	})
	return out
}

// attr returns the value of the named attribute, or "".
func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// setAttr updates an attribute in place, preserving attribute order,
// or appends it.
func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// removeAttr drops an attribute if present.
func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}

// classList splits the class attribute into tokens.
func classList(n *html.Node) []string {
	return strings.Fields(attr(n, "class"))
}

// detach removes n from its parent. Detaching a parentless node is a
// no-op.
func detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// unwrap replaces n with its children.
func unwrap(n *html.Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	for n.FirstChild != nil {
		c := n.FirstChild
		n.RemoveChild(c)
		parent.InsertBefore(c, n)
	}
	parent.RemoveChild(n)
}

// ancestor returns the nearest ancestor element with the given tag.
func ancestor(n *html.Node, tag string) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == tag {
			return p
		}
	}
	return nil
}

// hasDescendant reports whether any descendant element has the tag.
func hasDescendant(n *html.Node, tag string) bool {
	found := false
	walk(n, func(d *html.Node) {
		if d != n && d.Type == html.ElementNode && d.Data == tag {
			found = true
		}
	})
	return found
}

// clearDisplay strips display declarations from the style attribute so
// content hidden inline becomes visible offline.
func clearDisplay(n *html.Node) {
	style := attr(n, "style")
	if style == "" {
		return
	}
	var kept []string
	for _, decl := range strings.Split(style, ";") {
		d := strings.TrimSpace(decl)
		if d == "" {
			continue
		}
		if key := strings.ToLower(strings.TrimSpace(strings.SplitN(d, ":", 2)[0])); key == "display" {
			continue
		}
		kept = append(kept, d)
	}
	if len(kept) == 0 {
		removeAttr(n, "style")
		return
	}
	setAttr(n, "style", strings.Join(kept, "; "))
}
