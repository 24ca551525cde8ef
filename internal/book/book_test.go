package book

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestOpen(t *testing.T) {
	data := buildTestEPub(t, testBookFiles(3))

	pkg, err := Open(data, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if pkg.Title != "Test Book" {
		t.Errorf("Title = %q, want %q", pkg.Title, "Test Book")
	}
	if len(pkg.ReadingOrder) != 3 {
		t.Fatalf("ReadingOrder has %d items, want 3", len(pkg.ReadingOrder))
	}

	seen := make(map[string]bool)
	for i, it := range pkg.ReadingOrder {
		want := fmt.Sprintf("OEBPS/text/chapter%d.xhtml", i+1)
		if it.Path != want {
			t.Errorf("ReadingOrder[%d].Path = %q, want %q", i, it.Path, want)
		}
		if seen[it.Path] {
			t.Errorf("duplicate reading order path %q", it.Path)
		}
		seen[it.Path] = true

		raw, err := pkg.Chapter(i)
		if err != nil {
			t.Fatalf("Chapter(%d): %v", i, err)
		}
		if len(raw) == 0 {
			t.Errorf("Chapter(%d) is empty", i)
		}
	}

	if len(pkg.Resources) != 1 {
		t.Fatalf("Resources = %d, want 1 (stylesheet, NCX and chapters excluded)", len(pkg.Resources))
	}
	if r := pkg.Resources[0]; r.Name != "cover.png" || r.MediaType != "image/png" {
		t.Errorf("Resources[0] = %s (%s), want cover.png (image/png)", r.Name, r.MediaType)
	}

	if _, err := pkg.Chapter(3); err == nil {
		t.Error("Chapter(3) should fail for a 3 chapter book")
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.epub")
	if err := os.WriteFile(path, buildTestEPub(t, testBookFiles(1)), 0644); err != nil {
		t.Fatal(err)
	}
	pkg, err := OpenFile(path, nil)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if len(pkg.ReadingOrder) != 1 {
		t.Errorf("ReadingOrder = %d, want 1", len(pkg.ReadingOrder))
	}

	_, err = OpenFile(filepath.Join(t.TempDir(), "missing.epub"), nil)
	if !errors.Is(err, ErrUnreadable) {
		t.Errorf("missing file error = %v, want ErrUnreadable", err)
	}
}

func TestOpenErrors(t *testing.T) {
	noSpine := testBookFiles(1)
	noSpine["OEBPS/content.opf"] = testOPF(`<item id="ch1" href="text/chapter1.xhtml" media-type="application/xhtml+xml"/>`, "")

	badRefs := testBookFiles(1)
	badRefs["OEBPS/content.opf"] = testOPF(
		`<item id="ch1" href="text/missing.xhtml" media-type="application/xhtml+xml"/>`,
		`<itemref idref="nope"/><itemref idref="ch1"/>`)

	noOPF := map[string]string{"mimetype": "application/epub+zip", "OEBPS/text/a.xhtml": "<html/>"}

	brokenContainer := testBookFiles(1)
	brokenContainer["META-INF/container.xml"] = "<container><rootfiles>"
	delete(brokenContainer, "OEBPS/content.opf")

	tests := []struct {
		name string
		data []byte
		kind ErrorKind
		want error
	}{
		{"not a zip", []byte("definitely not an archive"), Unreadable, ErrUnreadable},
		{"no package document", buildTestEPub(t, noOPF), Unreadable, ErrUnreadable},
		{"container points nowhere", buildTestEPub(t, brokenContainer), Unreadable, ErrUnreadable},
		{"empty spine", buildTestEPub(t, noSpine), NoReadingOrder, ErrNoReadingOrder},
		{"unresolvable spine", buildTestEPub(t, badRefs), NoReadingOrder, ErrNoReadingOrder},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg, err := Open(tt.data, zaptest.NewLogger(t))
			if err == nil {
				t.Fatalf("Open succeeded with %d chapters, want error", len(pkg.ReadingOrder))
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.want)
			}
			var pe *PackageError
			if !errors.As(err, &pe) {
				t.Fatalf("error %T is not a *PackageError", err)
			}
			if pe.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", pe.Kind, tt.kind)
			}
		})
	}
}

func TestReadingOrderSkipsBadReferences(t *testing.T) {
	files := testBookFiles(3)
	files["OEBPS/content.opf"] = testOPF(
		`<item id="ch1" href="text/chapter1.xhtml" media-type="application/xhtml+xml"/>
		 <item id="ch2" href="text/chapter2.xhtml" media-type="application/xhtml+xml"/>
		 <item id="alias" href="text/chapter2.xhtml" media-type="application/xhtml+xml"/>
		 <item id="gone" href="text/gone.xhtml" media-type="application/xhtml+xml"/>
		 <item id="ch3" href="text/chapter3.xhtml" media-type="application/xhtml+xml"/>`,
		`<itemref idref="ch1"/><itemref idref="missing"/><itemref idref="ch2"/>
		 <itemref idref="ch1"/><itemref idref="alias"/><itemref idref="gone"/><itemref idref="ch3"/>`)

	pkg, err := Open(buildTestEPub(t, files), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	var ids []string
	for _, it := range pkg.ReadingOrder {
		ids = append(ids, it.ID)
	}
	if got := fmt.Sprint(ids); got != "[ch1 ch2 ch3]" {
		t.Errorf("reading order ids = %s, want [ch1 ch2 ch3]", got)
	}
}

func TestContainerFallback(t *testing.T) {
	files := testBookFiles(2)
	delete(files, "META-INF/container.xml")

	pkg, err := Open(buildTestEPub(t, files), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open without container.xml: %v", err)
	}
	if len(pkg.ReadingOrder) != 2 {
		t.Errorf("ReadingOrder = %d, want 2", len(pkg.ReadingOrder))
	}
}

func TestContainerFallbackArchiveOrder(t *testing.T) {
	files := testBookFiles(2)
	delete(files, "META-INF/container.xml")
	files["A/package.opf"] = strings.Replace(testOPF(
		`<item id="ch1" href="../OEBPS/text/chapter1.xhtml" media-type="application/xhtml+xml"/>`,
		`<itemref idref="ch1"/>`), "Test Book", "First Package", 1)
	data := buildTestEPub(t, files)

	for range 20 {
		pkg, err := Open(data, nil)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if pkg.Title != "First Package" || len(pkg.ReadingOrder) != 1 {
			t.Fatalf("picked %q with %d chapters, want the first package in the archive", pkg.Title, len(pkg.ReadingOrder))
		}
	}
}

func TestSpineReader(t *testing.T) {
	withMeta := func(manifest, spine string) string {
		return strings.Replace(testOPF(manifest, spine), "</metadata>",
			`<dc:creator>Ann Writer</dc:creator><dc:language>en</dc:language></metadata>`, 1)
	}
	chapter := `<item id="ch1" href="text/chapter1.xhtml" media-type="application/xhtml+xml"/>`

	tests := []struct {
		name     string
		edit     func(files map[string]string)
		strict   bool
		chapters int
		author   string
	}{
		{
			"valid package",
			func(files map[string]string) {
				files["OEBPS/content.opf"] = withMeta(chapter+`<item id="ch2" href="text/chapter2.xhtml" media-type="application/xhtml+xml"/>`,
					`<itemref idref="ch1"/><itemref idref="ch2"/>`)
			},
			true, 2, "Ann Writer",
		},
		{
			"escaped href",
			func(files map[string]string) {
				files["OEBPS/text/chapter 9.xhtml"] = testChapter("nine", "<p>nine</p>")
				files["OEBPS/content.opf"] = withMeta(chapter+`<item id="ch9" href="text/chapter%209.xhtml" media-type="application/xhtml+xml"/>`,
					`<itemref idref="ch1"/><itemref idref="ch9"/>`)
			},
			true, 2, "Ann Writer",
		},
		{
			"dangling itemref",
			func(files map[string]string) {
				files["OEBPS/content.opf"] = withMeta(chapter, `<itemref idref="nope"/><itemref idref="ch1"/>`)
			},
			false, 1, "",
		},
		{
			"no container",
			func(files map[string]string) {
				delete(files, "META-INF/container.xml")
				files["OEBPS/content.opf"] = withMeta(chapter, `<itemref idref="ch1"/>`)
			},
			false, 1, "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := testBookFiles(2)
			tt.edit(files)
			pkg, err := Open(buildTestEPub(t, files), zaptest.NewLogger(t))
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if pkg.strict != tt.strict {
				t.Errorf("strict = %v, want %v", pkg.strict, tt.strict)
			}
			if len(pkg.ReadingOrder) != tt.chapters {
				t.Fatalf("ReadingOrder = %d, want %d", len(pkg.ReadingOrder), tt.chapters)
			}
			if pkg.Author != tt.author {
				t.Errorf("Author = %q, want %q", pkg.Author, tt.author)
			}
			for i := range pkg.ReadingOrder {
				if raw, _ := pkg.Chapter(i); len(raw) == 0 {
					t.Errorf("Chapter(%d) is empty", i)
				}
			}
		})
	}
}

func TestResourceSniffing(t *testing.T) {
	files := testBookFiles(1)
	files["OEBPS/content.opf"] = testOPF(
		`<item id="ch1" href="text/chapter1.xhtml" media-type="application/xhtml+xml"/>
		 <item id="img" href="images/cover.png"/>`,
		`<itemref idref="ch1"/>`)
	files["OEBPS/images/cover.png"] = "\x89PNG\r\n\x1a\n\x00\x00\x00\x0dIHDR"

	pkg, err := Open(buildTestEPub(t, files), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(pkg.Resources) != 1 {
		t.Fatalf("Resources = %d, want 1", len(pkg.Resources))
	}
	if mt := pkg.Resources[0].MediaType; mt != "image/png" {
		t.Errorf("sniffed media type = %q, want image/png", mt)
	}
}

func TestResolve(t *testing.T) {
	files := testBookFiles(3)
	files["OEBPS/content.opf"] = testOPF(
		`<item id="ch1" href="text/chapter1.xhtml" media-type="application/xhtml+xml"/>
		 <item id="ch2" href="text/chapter2.xhtml" media-type="application/xhtml+xml"/>
		 <item id="ch3" href="text/chapter3.xhtml" media-type="application/xhtml+xml"/>
		 <item id="notes" href="text/notes.xhtml" media-type="application/xhtml+xml"/>
		 <item id="lost" href="text/lost.xhtml" media-type="application/xhtml+xml"/>`,
		`<itemref idref="ch1"/><itemref idref="ch2"/><itemref idref="ch3"/>`)
	files["OEBPS/text/notes.xhtml"] = testChapter("notes", `<p id="n1">Note</p>`)

	pkg, err := Open(buildTestEPub(t, files), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	tests := []struct {
		href     string
		index    int
		fragment string
		inOrder  bool
		path     string
		wantErr  bool
	}{
		{href: "chapter2.xhtml#sec3", index: 1, fragment: "sec3", inOrder: true, path: "OEBPS/text/chapter2.xhtml"},
		{href: "text/chapter1.xhtml", index: 0, inOrder: true, path: "OEBPS/text/chapter1.xhtml"},
		{href: "../text/chapter3.xhtml?x=1#top", index: 2, fragment: "top", inOrder: true, path: "OEBPS/text/chapter3.xhtml"},
		{href: "file:///tmp/folio/book/chapter3.xhtml", index: 2, inOrder: true, path: "OEBPS/text/chapter3.xhtml"},
		{href: "notes.xhtml#n1", index: -1, fragment: "n1", path: "OEBPS/text/notes.xhtml"},
		{href: "unlisted.xhtml", wantErr: true},
		{href: "lost.xhtml", wantErr: true}, // listed, missing from the archive
		{href: "https://example.com/chapter1.xhtml", wantErr: true},
		{href: "#only-fragment", wantErr: true},
		{href: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.href, func(t *testing.T) {
			got, err := pkg.Resolve(tt.href)
			if tt.wantErr {
				if !errors.Is(err, ErrUnresolvable) {
					t.Fatalf("Resolve(%q) error = %v, want ErrUnresolvable", tt.href, err)
				}
				var le *LinkError
				if !errors.As(err, &le) || le.Href != tt.href {
					t.Errorf("Resolve(%q) LinkError = %v", tt.href, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.href, err)
			}
			if got.Index != tt.index || got.Fragment != tt.fragment || got.InReadingOrder != tt.inOrder || got.Path != tt.path {
				t.Errorf("Resolve(%q) = %+v, want index=%d fragment=%q inOrder=%v path=%q",
					tt.href, got, tt.index, tt.fragment, tt.inOrder, tt.path)
			}
			if _, ok := pkg.Document(got.Path); !ok {
				t.Errorf("Resolve(%q) gave %q which has no markup", tt.href, got.Path)
			}
		})
	}

	if _, ok := pkg.Document("OEBPS/text/notes.xhtml"); !ok {
		t.Error("Document(notes) not found")
	}
}

func TestResolveBasenameCollision(t *testing.T) {
	files := testBookFiles(1)
	files["OEBPS/content.opf"] = testOPF(
		`<item id="a" href="a/ch.xhtml" media-type="application/xhtml+xml"/>
		 <item id="b" href="b/ch.xhtml" media-type="application/xhtml+xml"/>`,
		`<itemref idref="a"/><itemref idref="b"/>`)
	files["OEBPS/a/ch.xhtml"] = testChapter("a", "<p>a</p>")
	files["OEBPS/b/ch.xhtml"] = testChapter("b", "<p>b</p>")

	pkg, err := Open(buildTestEPub(t, files), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(pkg.ReadingOrder) != 2 {
		t.Fatalf("ReadingOrder = %d, want 2", len(pkg.ReadingOrder))
	}
	got, err := pkg.Resolve("b/ch.xhtml")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Index != 0 {
		t.Errorf("colliding basename resolved to %d, want first declaration 0", got.Index)
	}
}
