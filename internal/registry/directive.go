package registry

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Page holds what the client learns from the host page besides URLs.
type Page struct {
	// UserID is the root element's data-user-id; empty when the page was
	// rendered for an anonymous visitor.
	UserID string
}

// Scan parses a host page, registers its URLs into reg and reads the root
// element data.
func Scan(r io.Reader, reg *Registry) (Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Page{}, fmt.Errorf("parse host page: %w", err)
	}
	Bind(doc, reg)
	var page Page
	if root := rootElement(doc); root != nil {
		page.UserID = strings.TrimSpace(attr(root, "data-user-id"))
	}
	return page, nil
}

// Bind walks doc and registers every element marked with register-url
// (or data-register-url) whose itemprop and href are both non-empty. It
// returns the number of Add calls made.
func Bind(doc *html.Node, reg *Registry) int {
	added := 0
	walk(doc, func(n *html.Node) bool {
		if !hasAttr(n, "data-register-url") && !hasAttr(n, "register-url") {
			return false
		}
		name, url := attr(n, "itemprop"), attr(n, "href")
		if name != "" && url != "" {
			reg.Add(name, url)
			added++
		}
		return false
	})
	return added
}

func rootElement(doc *html.Node) *html.Node {
	var root *html.Node
	walk(doc, func(n *html.Node) bool {
		if hasAttr(n, "data-ng-app") || hasAttr(n, "ng-app") {
			root = n
			return true
		}
		return false
	})
	return root
}

// walk visits element nodes depth-first until visit returns true.
func walk(n *html.Node, visit func(*html.Node) bool) bool {
	if n.Type == html.ElementNode && visit(n) {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if walk(c, visit) {
			return true
		}
	}
	return false
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
