package textview

import (
	"path"
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
	"github.com/muesli/reflow/wrap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type blockKind int

const (
	paragraph blockKind = iota
	heading
	preformatted
	item
	quote
)

// mark is a position inside a block counted in non-space runes, which
// survive wrapping unchanged.
type mark struct {
	at   int
	id   string
	link int
}

type block struct {
	kind  blockKind
	text  strings.Builder
	marks []mark
}

func (b *block) visible() int {
	n := 0
	for _, r := range b.text.String() {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// Link is a hyperlink found in the laid out document.
type Link struct {
	Href   string
	Text   string
	Column int
}

type extractor struct {
	blocks  []*block
	cur     *block
	kind    []blockKind
	links   []Link
	pending []string
}

func extract(root *html.Node) ([]*block, []Link) {
	x := &extractor{}
	x.walk(root)
	x.flush()
	if len(x.pending) > 0 {
		// ids after the last text
		last := &block{kind: paragraph}
		for _, id := range x.pending {
			last.marks = append(last.marks, mark{id: id, link: -1})
		}
		x.blocks = append(x.blocks, last)
	}
	return x.blocks, x.links
}

func (x *extractor) block() *block {
	if x.cur == nil {
		k := paragraph
		if len(x.kind) > 0 {
			k = x.kind[len(x.kind)-1]
		}
		x.cur = &block{kind: k}
		for _, id := range x.pending {
			x.cur.marks = append(x.cur.marks, mark{id: id, link: -1})
		}
		x.pending = nil
	}
	return x.cur
}

func (x *extractor) flush() {
	b := x.cur
	x.cur = nil
	if b == nil {
		return
	}
	if strings.TrimSpace(b.text.String()) == "" {
		for _, m := range b.marks {
			if m.link < 0 {
				x.pending = append(x.pending, m.id)
			}
		}
		return
	}
	x.blocks = append(x.blocks, b)
}

func (x *extractor) text(s string) {
	if len(x.kind) == 0 || x.kind[len(x.kind)-1] != preformatted {
		if strings.TrimSpace(s) == "" && x.cur == nil {
			return
		}
	}
	x.block().text.WriteString(s)
}

func (x *extractor) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		x.text(n.Data)
		return
	case html.ElementNode:
	default:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			x.walk(c)
		}
		return
	}

	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Head, atom.Title:
		return
	case atom.Br:
		x.text("\n")
		return
	case atom.Img, atom.Image:
		x.text(" [image: " + imageName(n) + "] ")
		return
	}

	kind, isBlock := blockOf(n.DataAtom)
	if isBlock {
		x.flush()
		x.kind = append(x.kind, kind)
	}
	if id := attr(n, "id"); id != "" {
		if x.cur != nil {
			x.cur.marks = append(x.cur.marks, mark{at: x.cur.visible(), id: id, link: -1})
		} else {
			x.pending = append(x.pending, id)
		}
	}
	var (
		linkAt = -1
		start  int
	)
	if href := attr(n, "href"); n.DataAtom == atom.A && href != "" {
		b := x.block()
		linkAt = len(x.links)
		start = b.text.Len()
		x.links = append(x.links, Link{Href: href})
		b.marks = append(b.marks, mark{at: b.visible(), link: linkAt})
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		x.walk(c)
	}

	if linkAt >= 0 && x.cur != nil && start <= x.cur.text.Len() {
		x.links[linkAt].Text = strings.Join(strings.Fields(x.cur.text.String()[start:]), " ")
	}
	if isBlock {
		x.flush()
		x.kind = x.kind[:len(x.kind)-1]
	}
}

func blockOf(a atom.Atom) (blockKind, bool) {
	switch a {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		return heading, true
	case atom.Pre:
		return preformatted, true
	case atom.Li, atom.Dt, atom.Dd:
		return item, true
	case atom.Blockquote:
		return quote, true
	case atom.P, atom.Div, atom.Section, atom.Article, atom.Aside, atom.Header, atom.Footer,
		atom.Nav, atom.Figure, atom.Figcaption, atom.Table, atom.Tr, atom.Ul, atom.Ol, atom.Dl,
		atom.Hr, atom.Body, atom.Main:
		return paragraph, true
	}
	return paragraph, false
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func imageName(n *html.Node) string {
	if alt := strings.TrimSpace(attr(n, "alt")); alt != "" {
		return alt
	}
	for _, key := range []string{"src", "href", "xlink:href"} {
		for _, a := range n.Attr {
			name := a.Key
			if a.Namespace != "" {
				name = a.Namespace + ":" + a.Key
			}
			if name == key && a.Val != "" {
				return path.Base(a.Val)
			}
		}
	}
	return "image"
}

// lines wraps a block to width cells. Decorations are added by decorate
// so that marks can be located on the plain lines.
func (b *block) lines(width int) []string {
	switch b.kind {
	case preformatted:
		var out []string
		src := strings.ReplaceAll(strings.Trim(b.text.String(), "\n"), "\t", "    ")
		for _, l := range strings.Split(src, "\n") {
			out = append(out, strings.Split(wrap.String(l, max(width, 1)), "\n")...)
		}
		return out
	case item, quote:
		return strings.Split(fill(b.text.String(), width-2), "\n")
	}
	return strings.Split(fill(b.text.String(), width), "\n")
}

func (b *block) decorate(lines []string, width int) []string {
	switch b.kind {
	case item:
		out := strings.Split(indent.String(strings.Join(lines, "\n"), 2), "\n")
		out[0] = "• " + strings.TrimPrefix(out[0], "  ")
		return out
	case quote:
		out := make([]string, len(lines))
		for i, l := range lines {
			out[i] = "│ " + l
		}
		return out
	case heading:
		out := make([]string, len(lines), len(lines)+1)
		w := 0
		for i, l := range lines {
			out[i] = strings.ToUpper(l)
			w = max(w, runewidth.StringWidth(out[i]))
		}
		return append(out, strings.Repeat("─", min(w, width)))
	}
	return lines
}

// fill collapses whitespace, wraps on word boundaries and breaks words
// longer than width.
func fill(s string, width int) string {
	width = max(width, 1)
	var paras []string
	for _, p := range strings.Split(s, "\n") {
		if p = strings.Join(strings.Fields(p), " "); p != "" {
			paras = append(paras, p)
		}
	}
	return wrap.String(wordwrap.String(strings.Join(paras, "\n"), width), width)
}

// lineOf returns the index of the line holding the visible rune at.
func lineOf(lines []string, at int) int {
	seen := 0
	for i, l := range lines {
		for _, r := range l {
			if unicode.IsSpace(r) {
				continue
			}
			if seen == at {
				return i
			}
			seen++
		}
	}
	return max(len(lines)-1, 0)
}
