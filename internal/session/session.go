// Package session manages the private working area where the resources of
// an open book are extracted for the rendering surface.
package session

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gosimple/slug"
	"github.com/h2non/filetype"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/metcalfc/folio/internal/book"
)

// Session owns the working directory of one open book.
type Session struct {
	dir    string
	log    *zap.Logger
	files  map[string]string
	closed bool
}

// Open creates root/folio/<book> and extracts every resource of pkg into it
// by basename. Resources sharing a basename overwrite each other, the last
// one declared wins. An empty root selects the system temporary directory.
// Extraction failures of single resources are logged and returned
// together with a usable session.
func Open(pkg *book.Package, root, bookID string, log *zap.Logger) (*Session, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if root == "" {
		root = os.TempDir()
	}
	name := slug.Make(bookID)
	if name == "" {
		name = "book"
	}

	s := &Session{
		dir:   filepath.Join(root, "folio", name),
		log:   log.Named("session").With(zap.String("book", bookID)),
		files: make(map[string]string),
	}
	// leftovers of a crashed session
	if err := os.RemoveAll(s.dir); err != nil {
		return nil, fmt.Errorf("unable to clear working directory: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, fmt.Errorf("unable to create working directory: %w", err)
	}

	var errs error
	owners := make(map[string]string)
	for _, r := range pkg.Resources {
		if r.Name == "" || r.Name == "." || strings.ContainsAny(r.Name, `/\`) {
			continue
		}
		if prev, ok := owners[r.Name]; ok && prev != r.Path {
			s.log.Warn("Resource basename collision, last one wins",
				zap.String("name", r.Name), zap.String("previous", prev), zap.String("path", r.Path))
		}
		dst := filepath.Join(s.dir, r.Name)
		if filepath.Ext(r.Name) == "" {
			// file URLs get their content type from the extension
			if kind, err := filetype.Match(r.Data); err == nil && kind != filetype.Unknown {
				dst += "." + kind.Extension
			}
		}
		if err := os.WriteFile(dst, r.Data, 0600); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("unable to extract %s: %w", r.Path, err))
			continue
		}
		owners[r.Name] = r.Path
		s.files[r.Name] = dst
	}
	if errs != nil {
		s.log.Warn("Some resources were not extracted", zap.Error(errs))
	}
	s.log.Debug("Session opened", zap.String("dir", s.dir), zap.Int("resources", len(s.files)))
	return s, errs
}

// Dir returns the working directory.
func (s *Session) Dir() string { return s.dir }

// Locate returns the extracted location of the resource with the given
// basename as a file URL.
func (s *Session) Locate(name string) (string, bool) {
	p, ok := s.files[name]
	if !ok {
		return "", false
	}
	return fileURL(p), true
}

// Path returns the extracted file for name.
func (s *Session) Path(name string) (string, bool) {
	p, ok := s.files[name]
	return p, ok
}

// BaseURL is the URL relative references in rendered chapters resolve
// against.
func (s *Session) BaseURL() string {
	return fileURL(s.dir) + "/"
}

// Close removes the working directory. Failures are logged, the directory
// lives under a temporary root and may be left behind.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if err := os.RemoveAll(s.dir); err != nil {
		s.log.Warn("Unable to remove working directory", zap.String("dir", s.dir), zap.Error(err))
		return
	}
	s.log.Debug("Session closed", zap.String("dir", s.dir))
}

func fileURL(p string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String()
}
