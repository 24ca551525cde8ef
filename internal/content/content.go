// Package content turns chapter markup into a self-contained, column
// paginated fragment ready to be handed to a rendering surface.
package content

import (
	"bytes"
	"errors"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

const (
	// ContainerID identifies the scroll container holding chapter content.
	ContainerID = "book-content"
	// DarkClass is toggled on the root element for the dark theme.
	DarkClass = "dark-mode"
)

// Locator maps the basename of an embedded resource to the location it was
// extracted to.
type Locator interface {
	Locate(name string) (string, bool)
}

// Transformer prepares chapters for display. It never fails: markup that
// cannot be processed is wrapped as is.
type Transformer struct {
	loc   Locator
	log   *zap.Logger
	dark  bool
	gap   int
	extra string
}

type Option func(*Transformer)

// WithGap sets the inter-page gap in CSS pixels.
func WithGap(px int) Option {
	return func(t *Transformer) {
		if px >= 0 {
			t.gap = px
		}
	}
}

// WithDark selects the initial theme.
func WithDark(dark bool) Option {
	return func(t *Transformer) { t.dark = dark }
}

// WithStylesheet appends a user stylesheet after sanitizing it.
func WithStylesheet(data []byte) Option {
	return func(t *Transformer) {
		if len(data) > 0 {
			t.extra = SanitizeStylesheet(data, t.log)
		}
	}
}

func New(loc Locator, log *zap.Logger, opts ...Option) *Transformer {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Transformer{loc: loc, log: log.Named("content"), gap: DefaultGap}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transformer) Dark() bool { return t.dark }

// SetDark changes the theme used for subsequent transforms.
func (t *Transformer) SetDark(dark bool) { t.dark = dark }

// Gap returns the configured inter-page gap.
func (t *Transformer) Gap() int { return t.gap }

// Transform produces the renderable fragment for one chapter.
func (t *Transformer) Transform(raw []byte) string {
	text, err := decode(raw)
	if err != nil {
		t.log.Debug("Unable to decode markup, wrapping it as is", zap.Error(err))
		return t.Wrap(string(raw))
	}

	doc, err := html.Parse(strings.NewReader(text))
	if err != nil {
		t.log.Debug("Unable to parse markup, wrapping it as is", zap.Error(err))
		return t.Wrap(text)
	}
	body := findElement(doc, atom.Body)
	if body == nil {
		t.log.Debug("Markup has no body, wrapping it as is")
		return t.Wrap(text)
	}

	t.rewriteImages(body)

	var sb strings.Builder
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&sb, c); err != nil {
			t.log.Debug("Unable to render body, wrapping markup as is", zap.Error(err))
			return t.Wrap(text)
		}
	}
	return t.page(sb.String())
}

// Wrap puts markup into the page container without touching it.
func (t *Transformer) Wrap(markup string) string {
	return t.page(markup)
}

func (t *Transformer) page(inner string) string {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html")
	if t.dark {
		sb.WriteString(` class="` + DarkClass + `"`)
	}
	sb.WriteString(">\n<head>\n<meta charset=\"utf-8\">\n<style>\n")
	sb.WriteString(PageStyle(t.gap))
	if t.extra != "" {
		sb.WriteString(t.extra)
		sb.WriteByte('\n')
	}
	sb.WriteString("</style>\n</head>\n<body>\n<div id=\"" + ContainerID + "\">")
	sb.WriteString(inner)
	sb.WriteString("</div>\n</body>\n</html>\n")
	return sb.String()
}

// rewriteImages points img and svg image references to extracted files.
func (t *Transformer) rewriteImages(n *html.Node) {
	if n.Type == html.ElementNode {
		switch {
		case n.DataAtom == atom.Img:
			t.rewriteAttr(n, "", "src")
		case n.DataAtom == atom.Image || n.Data == "image":
			t.rewriteAttr(n, "", "href")
			t.rewriteAttr(n, "xlink", "href")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		t.rewriteImages(c)
	}
}

func (t *Transformer) rewriteAttr(n *html.Node, namespace, key string) {
	for i, a := range n.Attr {
		if a.Key != key || a.Namespace != namespace {
			continue
		}
		name := refName(a.Val)
		if name == "" || t.loc == nil {
			continue
		}
		if loc, ok := t.loc.Locate(name); ok {
			n.Attr[i].Val = loc
		} else {
			t.log.Debug("Unresolved image reference left unchanged", zap.String("ref", a.Val))
		}
	}
}

// refName extracts the basename of a relative resource reference. Data
// URIs and references with a scheme are not ours to rewrite.
func refName(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme != "" || u.Path == "" {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

var xmlEncoding = regexp.MustCompile(`^\s*<\?xml[^>]*encoding\s*=\s*["']([A-Za-z0-9._:-]+)["']`)

// decode returns the markup as UTF-8. EPUB documents are UTF-8 unless they
// declare otherwise, so the declaration wins over sniffing.
func decode(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("empty document")
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	if utf8.Valid(raw) {
		return string(raw), nil
	}

	enc, _, _ := charset.DetermineEncoding(raw, "")
	if m := xmlEncoding.FindSubmatch(raw); m != nil {
		if e, _ := charset.Lookup(string(m[1])); e != nil {
			enc = e
		}
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
