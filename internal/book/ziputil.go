package book

import (
	"archive/zip"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
)

// maxEntrySize caps decompressed size of a single archive entry.
const maxEntrySize int64 = 256 * 1024 * 1024

// archive indexes zip entries by exact and lower-cased name.
type archive struct {
	names []string // archive order
	files map[string]*zip.File
	lower map[string]*zip.File
}

func newArchive(zr *zip.Reader) *archive {
	a := &archive{
		files: make(map[string]*zip.File, len(zr.File)),
		lower: make(map[string]*zip.File, len(zr.File)),
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if _, dup := a.files[f.Name]; !dup {
			a.names = append(a.names, f.Name)
		}
		a.files[f.Name] = f
		if _, ok := a.lower[strings.ToLower(f.Name)]; !ok {
			a.lower[strings.ToLower(f.Name)] = f
		}
	}
	return a
}

// find looks an entry up by exact name, then case-insensitively.
func (a *archive) find(name string) *zip.File {
	if f, ok := a.files[name]; ok {
		return f
	}
	return a.lower[strings.ToLower(name)]
}

func (a *archive) read(name string) ([]byte, error) {
	f := a.find(name)
	if f == nil {
		return nil, fmt.Errorf("%s: not found in archive", name)
	}
	return readEntry(f, maxEntrySize)
}

// readEntry reads a zip entry, refusing unsafe paths and oversized content.
func readEntry(f *zip.File, limit int64) ([]byte, error) {
	if !isSafePath(f.Name) {
		return nil, fmt.Errorf("unsafe entry path %q", f.Name)
	}
	if f.UncompressedSize64 > uint64(limit) {
		return nil, fmt.Errorf("entry %s too large: %d bytes", f.Name, f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read entry %s: %w", f.Name, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("entry %s exceeds %d bytes", f.Name, limit)
	}
	return data, nil
}

// resolvePath resolves href relative to the directory of base. Both are
// archive paths. Empty result means the href escapes the archive root.
func resolvePath(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "/") {
		return ""
	}
	if decoded, err := url.PathUnescape(href); err == nil {
		href = decoded
	}
	cleaned := path.Clean(path.Join(path.Dir(base), href))
	if !isSafePath(cleaned) {
		return ""
	}
	return cleaned
}

func isSafePath(p string) bool {
	cleaned := path.Clean(p)
	if strings.HasPrefix(cleaned, "/") {
		return false
	}
	return cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}

func stripBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}

// splitHref separates an href into its path and fragment parts, dropping
// any query string.
func splitHref(href string) (string, string) {
	var fragment string
	if i := strings.IndexByte(href, '#'); i >= 0 {
		href, fragment = href[:i], href[i+1:]
	}
	if i := strings.IndexByte(href, '?'); i >= 0 {
		href = href[:i]
	}
	return href, fragment
}
