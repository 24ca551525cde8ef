// Package book turns an EPUB archive into a reading order, a flattened
// navigation outline and the set of embedded resources.
package book

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/h2non/filetype"
	"github.com/taylorskalyo/goreader/epub"
	"go.uber.org/zap"
)

// Item is a document of the package.
type Item struct {
	ID        string
	Path      string // archive path
	Name      string // basename of Path
	MediaType string
}

// Resource is an embedded asset which is neither a document nor a stylesheet.
type Resource struct {
	Path      string
	Name      string
	MediaType string
	Data      []byte
}

// Target is the result of link resolution.
type Target struct {
	Index          int // reading-order index, -1 outside of it
	Path           string
	Fragment       string
	InReadingOrder bool
}

// Package is an opened book. It is read-only once Open returns.
type Package struct {
	Title        string
	Author       string // only known for strictly valid packages
	Language     string
	ReadingOrder []Item
	Nav          []NavPoint
	Resources    []Resource

	markup map[string][]byte // archive path -> raw document
	byName map[string]int    // reading-order basename -> index
	docs   map[string]Item   // basename -> any markup document
	strict bool              // reading order came from the spine reader
}

// OpenFile reads and opens the package stored at name.
func OpenFile(name string, log *zap.Logger) (*Package, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, unreadable("%w", err)
	}
	return Open(data, log)
}

// Open parses an EPUB archive held in memory.
func Open(data []byte, log *zap.Logger) (*Package, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("book")

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, unreadable("open archive: %w", err)
	}
	a := newArchive(zr)

	opfPath, err := locatePackage(a)
	if err != nil {
		return nil, err
	}
	opf, err := parsePackage(a, opfPath)
	if err != nil {
		return nil, err
	}

	p := &Package{
		Title:  opf.Title,
		markup: make(map[string][]byte),
		byName: make(map[string]int),
		docs:   make(map[string]Item),
	}

	if !p.readSpine(data, a, opf, log) {
		p.buildReadingOrder(a, opf, log)
	}
	if len(p.ReadingOrder) == 0 {
		return nil, &PackageError{
			Kind: NoReadingOrder,
			Err:  fmt.Errorf("%d spine references, none resolvable", len(opf.Itemrefs)),
		}
	}

	for _, it := range opf.Items {
		if !it.markup() {
			continue
		}
		if _, chapter := p.markup[it.Path]; !chapter {
			content, err := a.read(it.Path)
			if err != nil {
				log.Debug("Skipping unreadable document", zap.String("path", it.Path), zap.Error(err))
				continue
			}
			p.markup[it.Path] = content
		}
		doc := newItem(it)
		if prev, dup := p.docs[doc.Name]; dup {
			log.Debug("Document basename collision", zap.String("name", doc.Name), zap.String("kept", prev.Path), zap.String("ignored", doc.Path))
			continue
		}
		p.docs[doc.Name] = doc
	}

	p.collectResources(a, opf, log)
	p.Nav = loadNav(a, opf, log)

	log.Debug("Package opened",
		zap.String("title", p.Title),
		zap.Bool("strict", p.strict),
		zap.Int("chapters", len(p.ReadingOrder)),
		zap.Int("outline", len(p.Nav)),
		zap.Int("resources", len(p.Resources)))
	return p, nil
}

func newItem(it manifestItem) Item {
	return Item{ID: it.ID, Path: it.Path, Name: path.Base(it.Path), MediaType: it.MediaType}
}

// readSpine builds the reading order with the epub package reader, which
// also supplies the metadata. It gives up and returns false on anything the
// reader rejects (missing container, dangling itemref, empty spine) or when
// it picked a different package document than locatePackage did.
func (p *Package) readSpine(data []byte, a *archive, opf *packageDoc, log *zap.Logger) bool {
	// the reader dereferences the container entry unchecked
	if _, ok := a.files[containerPath]; !ok {
		return false
	}
	rc, err := epub.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		log.Debug("Package is not strictly valid, reading the manifest leniently", zap.Error(err))
		return false
	}
	if len(rc.Rootfiles) == 0 || rc.Rootfiles[0].FullPath != opf.Path {
		return false
	}
	rf := rc.Rootfiles[0]

	seen := make(map[string]bool, len(rf.Spine.Itemrefs))
	for _, ref := range rf.Spine.Itemrefs {
		it, ok := opf.ByID[ref.IDREF]
		if !ok {
			log.Debug("Skipping unresolvable spine reference", zap.String("idref", ref.IDREF))
			continue
		}
		if seen[it.Path] {
			log.Debug("Skipping duplicate spine reference", zap.String("idref", ref.IDREF), zap.String("path", it.Path))
			continue
		}
		if _, ok := p.markup[it.Path]; !ok {
			content, err := readItem(ref.Item, it.Path)
			if err != nil {
				// hrefs the reader could not map to an entry, escaped names mostly
				content, err = a.read(it.Path)
			}
			if err != nil {
				log.Warn("Skipping unreadable chapter", zap.String("path", it.Path), zap.Error(err))
				continue
			}
			p.markup[it.Path] = content
		}
		seen[it.Path] = true
		p.appendChapter(it, log)
	}
	if len(p.ReadingOrder) == 0 {
		return false
	}

	p.strict = true
	if title := strings.TrimSpace(rf.Title); title != "" {
		p.Title = title
	}
	p.Author = strings.TrimSpace(rf.Creator)
	p.Language = strings.TrimSpace(rf.Language)
	return true
}

func readItem(item *epub.Item, name string) ([]byte, error) {
	if !isSafePath(name) {
		return nil, fmt.Errorf("unsafe entry path %q", name)
	}
	r, err := item.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(io.LimitReader(r, maxEntrySize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxEntrySize {
		return nil, fmt.Errorf("entry %s too large", name)
	}
	return data, nil
}

// buildReadingOrder resolves the spine against the manifest, skipping
// whatever does not resolve.
func (p *Package) buildReadingOrder(a *archive, opf *packageDoc, log *zap.Logger) {
	seenID := make(map[string]bool, len(opf.Itemrefs))
	seenPath := make(map[string]bool, len(opf.Itemrefs))

	for _, idref := range opf.Itemrefs {
		it, ok := opf.ByID[idref]
		if !ok {
			log.Debug("Skipping unresolvable spine reference", zap.String("idref", idref))
			continue
		}
		if seenID[idref] || seenPath[it.Path] {
			log.Debug("Skipping duplicate spine reference", zap.String("idref", idref), zap.String("path", it.Path))
			continue
		}
		if _, ok := p.markup[it.Path]; !ok {
			content, err := a.read(it.Path)
			if err != nil {
				log.Warn("Skipping unreadable chapter", zap.String("path", it.Path), zap.Error(err))
				continue
			}
			p.markup[it.Path] = content
		}
		seenID[idref] = true
		seenPath[it.Path] = true
		p.appendChapter(it, log)
	}
}

func (p *Package) appendChapter(it manifestItem, log *zap.Logger) {
	item := newItem(it)
	if first, dup := p.byName[item.Name]; dup {
		log.Warn("Chapter basename collision, links resolve to the first one",
			zap.String("name", item.Name), zap.Int("first", first), zap.Int("ignored", len(p.ReadingOrder)))
	} else {
		p.byName[item.Name] = len(p.ReadingOrder)
	}
	p.ReadingOrder = append(p.ReadingOrder, item)
}

func (p *Package) collectResources(a *archive, opf *packageDoc, log *zap.Logger) {
	for _, it := range opf.Items {
		if it.markup() || it.MediaType == cssType || it.MediaType == ncxType {
			continue
		}
		if _, chapter := p.markup[it.Path]; chapter {
			continue
		}
		data, err := a.read(it.Path)
		if err != nil {
			log.Debug("Skipping unreadable resource", zap.String("path", it.Path), zap.Error(err))
			continue
		}
		mt := it.MediaType
		if mt == "" {
			if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
				mt = kind.MIME.Value
			}
		}
		p.Resources = append(p.Resources, Resource{
			Path:      it.Path,
			Name:      path.Base(it.Path),
			MediaType: mt,
			Data:      data,
		})
	}
}

func loadNav(a *archive, opf *packageDoc, log *zap.Logger) []NavPoint {
	for _, it := range opf.Items {
		if !it.hasProperty("nav") {
			continue
		}
		data, err := a.read(it.Path)
		if err != nil {
			log.Debug("Unable to read navigation document", zap.String("path", it.Path), zap.Error(err))
			break
		}
		nodes, err := parseNavDocument(data, it.Path)
		if err != nil {
			log.Debug("Unable to parse navigation document", zap.String("path", it.Path), zap.Error(err))
			break
		}
		if points := flattenNav(nodes, 0); len(points) > 0 {
			return points
		}
		break
	}

	ncx, ok := opf.ByID[opf.TOC]
	if !ok || ncx.MediaType != ncxType {
		ok = false
		for _, it := range opf.Items {
			if it.MediaType == ncxType {
				ncx, ok = it, true
				break
			}
		}
	}
	if !ok {
		return nil
	}
	data, err := a.read(ncx.Path)
	if err != nil {
		log.Debug("Unable to read NCX", zap.String("path", ncx.Path), zap.Error(err))
		return nil
	}
	nodes, err := parseNCX(data, ncx.Path)
	if err != nil {
		log.Debug("Unable to parse NCX", zap.String("path", ncx.Path), zap.Error(err))
		return nil
	}
	return flattenNav(nodes, 0)
}

// Chapter returns the raw markup of the reading-order item at index.
func (p *Package) Chapter(index int) ([]byte, error) {
	if index < 0 || index >= len(p.ReadingOrder) {
		return nil, fmt.Errorf("chapter %d out of range [0,%d)", index, len(p.ReadingOrder))
	}
	return p.markup[p.ReadingOrder[index].Path], nil
}

// Document returns the raw markup of any document by archive path.
func (p *Package) Document(archivePath string) ([]byte, bool) {
	data, ok := p.markup[archivePath]
	return data, ok
}

// Resolve maps an href (from the outline or from a link inside content) to
// a document. The fragment is kept aside, the basename is looked up in the
// reading order first and then among all markup documents of the package.
func (p *Package) Resolve(href string) (Target, error) {
	miss := Target{Index: -1}

	raw := strings.TrimSpace(href)
	pth, fragment := splitHref(raw)
	if u, err := url.Parse(raw); err == nil {
		if u.Scheme != "" && u.Scheme != "file" {
			return miss, &LinkError{Href: href}
		}
		pth, fragment = u.Path, u.Fragment
	}

	name := path.Base(pth)
	if pth == "" || name == "." || name == "/" {
		return miss, &LinkError{Href: href}
	}
	if i, ok := p.byName[name]; ok {
		return Target{Index: i, Path: p.ReadingOrder[i].Path, Fragment: fragment, InReadingOrder: true}, nil
	}
	if doc, ok := p.docs[name]; ok {
		return Target{Index: -1, Path: doc.Path, Fragment: fragment}, nil
	}
	return miss, &LinkError{Href: href}
}
