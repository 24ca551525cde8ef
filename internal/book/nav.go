package book

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// NavPoint is one node of the flattened navigation outline.
type NavPoint struct {
	Title string
	Href  string // archive path with optional #fragment
	Level int
}

// Entry is an outline row bound to a reading-order index.
type Entry struct {
	Title    string
	Index    int
	Fragment string
	Level    int
}

// navNode is the nested outline as declared by the package.
type navNode struct {
	title    string
	href     string
	children []navNode
}

// flattenNav walks the outline in pre-order. Nodes lacking either a title
// or a target are dropped but their children are kept.
func flattenNav(nodes []navNode, level int) []NavPoint {
	var points []NavPoint
	for _, n := range nodes {
		if n.title != "" && n.href != "" {
			points = append(points, NavPoint{Title: n.title, Href: n.href, Level: level})
		}
		if len(n.children) > 0 {
			points = append(points, flattenNav(n.children, level+1)...)
		}
	}
	return points
}

// Outline returns navigation entries that land in the reading order. When
// the package has no usable outline one "Chapter N" entry per reading-order
// item is synthesized instead.
func (p *Package) Outline() []Entry {
	var entries []Entry
	for _, np := range p.Nav {
		t, err := p.Resolve(np.Href)
		if err != nil || !t.InReadingOrder {
			continue
		}
		entries = append(entries, Entry{
			Title:    np.Title,
			Index:    t.Index,
			Fragment: t.Fragment,
			Level:    np.Level,
		})
	}
	if len(entries) > 0 {
		return entries
	}

	entries = make([]Entry, 0, len(p.ReadingOrder))
	for i := range p.ReadingOrder {
		entries = append(entries, Entry{Title: fmt.Sprintf("Chapter %d", i+1), Index: i})
	}
	return entries
}

// resolveHref resolves an href with an optional fragment relative to base.
// A bare fragment refers to base itself.
func resolveHref(base, href string) string {
	p, fragment := splitHref(strings.TrimSpace(href))
	if p == "" {
		if fragment == "" {
			return ""
		}
		p = base
	} else if p = resolvePath(base, p); p == "" {
		return ""
	}
	if fragment != "" {
		p += "#" + fragment
	}
	return p
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// --- NCX (EPUB 2) ---

func parseNCX(data []byte, ncxPath string) ([]navNode, error) {
	doc, err := readXML(data)
	if err != nil {
		return nil, fmt.Errorf("parse NCX: %w", err)
	}
	navMap := doc.FindElement("//navMap")
	if navMap == nil {
		return nil, errors.New("NCX has no navMap")
	}
	return ncxPoints(navMap.SelectElements("navPoint"), ncxPath), nil
}

func ncxPoints(els []*etree.Element, base string) []navNode {
	if len(els) == 0 {
		return nil
	}
	nodes := make([]navNode, 0, len(els))
	for _, el := range els {
		var n navNode
		if text := el.FindElement("navLabel/text"); text != nil {
			n.title = collapse(text.Text())
		}
		if content := el.SelectElement("content"); content != nil {
			n.href = resolveHref(base, content.SelectAttrValue("src", ""))
		}
		n.children = ncxPoints(el.SelectElements("navPoint"), base)
		nodes = append(nodes, n)
	}
	return nodes
}

// --- Navigation document (EPUB 3) ---

func parseNavDocument(data []byte, navPath string) ([]navNode, error) {
	doc, err := html.Parse(bytes.NewReader(stripBOM(data)))
	if err != nil {
		return nil, fmt.Errorf("parse nav document: %w", err)
	}

	var navs []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Nav {
			navs = append(navs, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	if len(navs) == 0 {
		return nil, errors.New("nav document has no nav element")
	}

	toc := navs[0]
	for _, n := range navs {
		if hasToken(attr(n, "epub:type"), "toc") {
			toc = n
			break
		}
	}
	ol := findElement(toc, atom.Ol)
	if ol == nil {
		return nil, errors.New("nav element has no list")
	}
	return navList(ol, navPath), nil
}

func navList(ol *html.Node, base string) []navNode {
	var nodes []navNode
	for c := ol.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Li {
			nodes = append(nodes, navItem(c, base))
		}
	}
	return nodes
}

func navItem(li *html.Node, base string) navNode {
	var n navNode
	for c := li.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.A:
			if n.href == "" {
				n.href = resolveHref(base, attr(c, "href"))
				n.title = collapse(textContent(c))
			}
		case atom.Span:
			if n.title == "" {
				n.title = collapse(textContent(c))
			}
		case atom.Ol:
			n.children = navList(c, base)
		}
	}
	return n
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasToken(list, token string) bool {
	for _, t := range strings.Fields(list) {
		if t == token {
			return true
		}
	}
	return false
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
