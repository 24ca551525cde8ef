package book

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"testing"
)

// buildTestEPub creates an in-memory EPUB from path -> content pairs.
// mimetype is written first when present.
func buildTestEPub(t *testing.T, files map[string]string) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)

	names := make([]string, 0, len(files))
	for name := range files {
		if name != "mimetype" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if _, ok := files["mimetype"]; ok {
		names = append([]string{"mimetype"}, names...)
	}

	for _, name := range names {
		fw, err := zw.Create(name)
		if err != nil {
			t.Fatalf("buildTestEPub: create %s: %v", name, err)
		}
		if _, err := io.WriteString(fw, files[name]); err != nil {
			t.Fatalf("buildTestEPub: write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("buildTestEPub: close writer: %v", err)
	}
	return buf.Bytes()
}

const testContainer = `<?xml version="1.0" encoding="UTF-8"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

func testOPF(manifest, spine string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0" unique-identifier="id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Test Book</dc:title>
  </metadata>
  <manifest>` + manifest + `</manifest>
  <spine toc="ncx">` + spine + `</spine>
</package>`
}

func testChapter(title, body string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><head><title>` + title + `</title></head>
<body>` + body + `</body></html>`
}

// testBookFiles returns a book with n chapters (chapter1.xhtml ...), an NCX
// listing all of them, one image and one stylesheet.
func testBookFiles(n int) map[string]string {
	var manifest, spine, points strings.Builder
	files := map[string]string{
		"mimetype":               "application/epub+zip",
		"META-INF/container.xml": testContainer,
		"OEBPS/images/cover.png": "\x89PNG\r\n\x1a\n0000",
		"OEBPS/style.css":        "p { margin: 0 }",
	}
	manifest.WriteString(`<item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>`)
	manifest.WriteString(`<item id="css" href="style.css" media-type="text/css"/>`)
	manifest.WriteString(`<item id="cover" href="images/cover.png" media-type="image/png"/>`)
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("chapter%d.xhtml", i)
		fmt.Fprintf(&manifest, `<item id="ch%d" href="text/%s" media-type="application/xhtml+xml"/>`, i, name)
		fmt.Fprintf(&spine, `<itemref idref="ch%d"/>`, i)
		fmt.Fprintf(&points, `<navPoint id="np%d"><navLabel><text>Chapter Title %d</text></navLabel><content src="text/%s"/></navPoint>`, i, i, name)
		files["OEBPS/text/"+name] = testChapter(name, fmt.Sprintf(`<h1 id="top">Chapter %d</h1><p id="sec3">Body %d</p>`, i, i))
	}
	files["OEBPS/content.opf"] = testOPF(manifest.String(), spine.String())
	files["OEBPS/toc.ncx"] = `<?xml version="1.0" encoding="UTF-8"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1"><navMap>` + points.String() + `</navMap></ncx>`
	return files
}
