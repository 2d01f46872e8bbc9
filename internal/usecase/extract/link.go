package extract

import (
	"html"
	"regexp"
	"strings"

	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"telegram-stream-access/internal/domain/ports/adapter"
)

// anchorLink picks the first <a href> under the prefix whose text is allowed.
type anchorLink struct {
	prefix string
	allow  []string // lower-cased
}

func (anchorLink) Name() string { return "html_anchor" }

func (s anchorLink) Extract(msg *adapter.MailMessage) (string, bool) {
	if msg.HTML == "" {
		return "", false
	}
	doc, err := xhtml.Parse(strings.NewReader(msg.HTML))
	if err != nil {
		return "", false
	}
	var found string
	var walk func(n *xhtml.Node)
	walk = func(n *xhtml.Node) {
		if found != "" {
			return
		}
		if n.Type == xhtml.ElementNode && n.DataAtom == atom.A {
			href := strings.TrimSpace(attr(n, "href"))
			if strings.HasPrefix(href, s.prefix) && s.allowed(nodeText(n)) {
				found = href
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return found, found != ""
}

func (s anchorLink) allowed(text string) bool {
	if len(s.allow) == 0 {
		return true
	}
	text = strings.ToLower(normalizeSpace(text))
	for _, a := range s.allow {
		if strings.Contains(text, a) {
			return true
		}
	}
	return false
}

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>]+`)

// rawLink scans decoded text, then the HTML source, for a url under the prefix.
type rawLink struct{ prefix string }

func (rawLink) Name() string { return "raw_url" }

func (s rawLink) Extract(msg *adapter.MailMessage) (string, bool) {
	for _, body := range []string{msg.Text, msg.HTML} {
		for _, u := range urlPattern.FindAllString(body, -1) {
			u = strings.TrimRight(html.UnescapeString(u), ").,;]")
			if strings.HasPrefix(u, s.prefix) {
				return u, true
			}
		}
	}
	return "", false
}

func attr(n *xhtml.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *xhtml.Node) string {
	var b strings.Builder
	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// visibleText renders the text nodes of an HTML document, skipping script and style.
func visibleText(src string) string {
	doc, err := xhtml.Parse(strings.NewReader(src))
	if err != nil {
		return ""
	}
	var b strings.Builder
	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style || n.DataAtom == atom.Head) {
			return
		}
		if n.Type == xhtml.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return b.String()
}
