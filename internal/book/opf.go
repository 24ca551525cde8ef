package book

import (
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html/charset"
)

const containerPath = "META-INF/container.xml"

// Media types of documents a reader can display.
var markupTypes = map[string]bool{
	"application/xhtml+xml": true,
	"text/html":             true,
	"application/xml":       true,
}

const (
	ncxType = "application/x-dtbncx+xml"
	cssType = "text/css"
)

type manifestItem struct {
	ID         string
	Path       string // archive path, resolved against the OPF location
	MediaType  string
	Properties []string
}

func (it manifestItem) markup() bool {
	if markupTypes[it.MediaType] {
		return true
	}
	ext := strings.ToLower(it.Path)
	return it.MediaType == "" && (strings.HasSuffix(ext, ".xhtml") || strings.HasSuffix(ext, ".html") || strings.HasSuffix(ext, ".htm"))
}

func (it manifestItem) hasProperty(p string) bool {
	for _, prop := range it.Properties {
		if prop == p {
			return true
		}
	}
	return false
}

// packageDoc is the subset of the OPF we care about.
type packageDoc struct {
	Path     string
	Version  string
	Title    string
	Items    []manifestItem
	ByID     map[string]manifestItem
	Itemrefs []string
	TOC      string
}

func readXML(data []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings = etree.ReadSettings{
		CharsetReader: charset.NewReaderLabel,
		Permissive:    true,
	}
	if err := doc.ReadFromBytes(stripBOM(data)); err != nil {
		return nil, err
	}
	return doc, nil
}

// locatePackage returns the archive path of the OPF, using container.xml
// when present and falling back to the first .opf entry.
func locatePackage(a *archive) (string, error) {
	if a.find(containerPath) != nil {
		data, err := a.read(containerPath)
		if err != nil {
			return "", unreadable("read container: %w", err)
		}
		doc, err := readXML(data)
		if err != nil {
			return "", unreadable("parse container: %w", err)
		}
		var fallback string
		for _, rf := range doc.FindElements("//rootfiles/rootfile") {
			full := strings.TrimSpace(rf.SelectAttrValue("full-path", ""))
			if full == "" {
				continue
			}
			if strings.EqualFold(rf.SelectAttrValue("media-type", ""), "application/oebps-package+xml") {
				return full, nil
			}
			if fallback == "" {
				fallback = full
			}
		}
		if fallback != "" {
			return fallback, nil
		}
	}
	for _, name := range a.names {
		if strings.HasSuffix(strings.ToLower(name), ".opf") {
			return name, nil
		}
	}
	return "", unreadable("no package document in archive")
}

func parsePackage(a *archive, opfPath string) (*packageDoc, error) {
	data, err := a.read(opfPath)
	if err != nil {
		return nil, unreadable("read package document: %w", err)
	}
	doc, err := readXML(data)
	if err != nil {
		return nil, unreadable("parse package document: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, unreadable("empty package document")
	}

	p := &packageDoc{
		Path:    opfPath,
		Version: root.SelectAttrValue("version", ""),
		ByID:    make(map[string]manifestItem),
	}
	if title := root.FindElement("//metadata/title"); title != nil {
		p.Title = strings.TrimSpace(title.Text())
	}

	for _, el := range root.FindElements("//manifest/item") {
		id := strings.TrimSpace(el.SelectAttrValue("id", ""))
		resolved := resolvePath(opfPath, el.SelectAttrValue("href", ""))
		if id == "" || resolved == "" {
			continue
		}
		if _, dup := p.ByID[id]; dup {
			continue
		}
		it := manifestItem{
			ID:         id,
			Path:       resolved,
			MediaType:  strings.ToLower(strings.TrimSpace(el.SelectAttrValue("media-type", ""))),
			Properties: strings.Fields(el.SelectAttrValue("properties", "")),
		}
		p.Items = append(p.Items, it)
		p.ByID[id] = it
	}

	if spine := root.FindElement("//spine"); spine != nil {
		p.TOC = spine.SelectAttrValue("toc", "")
		for _, ref := range spine.SelectElements("itemref") {
			p.Itemrefs = append(p.Itemrefs, strings.TrimSpace(ref.SelectAttrValue("idref", "")))
		}
	}
	return p, nil
}
