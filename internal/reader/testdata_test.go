package reader

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/metcalfc/folio/internal/book"
	"github.com/metcalfc/folio/internal/content"
	"github.com/metcalfc/folio/internal/pager"
)

const (
	testViewport = 1000
	testStride   = testViewport + content.DefaultGap
)

// testBook builds a package whose chapters carry their page count and
// anchor offsets as attributes, so the fake surface can lay them out.
// Chapter i (1-based) lives in chapteri.xhtml; notes.xhtml is outside the
// reading order.
func testBook(t *testing.T, pages ...int) *book.Package {
	t.Helper()

	var manifest, spine, points strings.Builder
	files := map[string]string{}
	for i, n := range pages {
		name := fmt.Sprintf("chapter%d.xhtml", i+1)
		fmt.Fprintf(&manifest, `<item id="ch%d" href="%s" media-type="application/xhtml+xml"/>`, i+1, name)
		fmt.Fprintf(&spine, `<itemref idref="ch%d"/>`, i+1)
		fmt.Fprintf(&points, `<navPoint><navLabel><text>Part %d</text></navLabel><content src="%s"/></navPoint>`, i+1, name)
		files["OEBPS/"+name] = fmt.Sprintf(`<html><body><section data-pages="%d">
<h1 id="top" data-offset="0">Chapter %d</h1>
<p id="sec3" data-offset="1200">Section three</p>
</section></body></html>`, n, i+1)
	}
	manifest.WriteString(`<item id="notes" href="notes.xhtml" media-type="application/xhtml+xml"/>`)
	manifest.WriteString(`<item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>`)
	files["OEBPS/notes.xhtml"] = `<html><body><section data-pages="2"><p id="n1" data-offset="1100">Note</p></section></body></html>`
	files["OEBPS/toc.ncx"] = `<ncx><navMap>` + points.String() + `</navMap></ncx>`
	files["OEBPS/content.opf"] = `<package version="3.0"><metadata><title>Reader Test</title></metadata>
<manifest>` + manifest.String() + `</manifest><spine toc="ncx">` + spine.String() + `</spine></package>`
	files["META-INF/container.xml"] = `<container><rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles></container>`

	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	pkg, err := book.Open(buf.Bytes(), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("book.Open: %v", err)
	}
	return pkg
}

var (
	pagesAttr  = regexp.MustCompile(`data-pages="(\d+)"`)
	offsetAttr = regexp.MustCompile(`id="([^"]+)" data-offset="(\d+)"`)
)

// fakeSurface lays fragments out from their data attributes and answers
// through a queue drained by the test.
type fakeSurface struct {
	current string
	renders int
	themes  []bool
	queue   []func()
}

func (s *fakeSurface) Render(fragment, _ string, ready func(bool)) {
	s.current = fragment
	s.renders++
	s.queue = append(s.queue, func() { ready(true) })
}

func (s *fakeSurface) Evaluate(sc pager.Script, done func(any, error)) {
	var result any
	switch sc.Kind {
	case pager.MetricsProbe:
		if m := pagesAttr.FindStringSubmatch(s.current); m != nil {
			n, _ := strconv.Atoi(m[1])
			result = map[string]any{"pages": float64(n), "stride": float64(testStride)}
		}
	case pager.AnchorProbe:
		result = -1.0
		for _, m := range offsetAttr.FindAllStringSubmatch(s.current, -1) {
			if m[1] == sc.Anchor {
				result, _ = strconv.ParseFloat(m[2], 64)
			}
		}
	case pager.ThemeToggle:
		s.themes = append(s.themes, sc.Dark)
	}
	s.queue = append(s.queue, func() { done(result, nil) })
}

func (s *fakeSurface) Viewport() float64 { return testViewport }

func (s *fakeSurface) flush() {
	for len(s.queue) > 0 {
		f := s.queue[0]
		s.queue = s.queue[1:]
		f()
	}
}

type recordingSaver struct {
	saved []Record
	err   error
}

func (s *recordingSaver) Save(r Record) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, r)
	return nil
}

func newTestReader(t *testing.T, pkg *book.Package, opts ...Option) (*Reader, *fakeSurface) {
	t.Helper()
	s := &fakeSurface{}
	log := zaptest.NewLogger(t)
	tr := content.New(nil, log)
	return New(pkg, s, tr, "file:///tmp/folio/test/", log, opts...), s
}
