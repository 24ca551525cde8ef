// Package reader keeps the reading position of an open book: it turns
// pages, follows links, computes progress and decides when the position
// is worth saving.
package reader

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/metcalfc/folio/internal/book"
	"github.com/metcalfc/folio/internal/content"
	"github.com/metcalfc/folio/internal/pager"
)

// ErrNotReady is returned while no chapter has been measured yet.
var ErrNotReady = errors.New("reading position is not measured yet")

// Saver persists progress records.
type Saver interface {
	Save(Record) error
}

// SaverFunc adapts a function to Saver.
type SaverFunc func(Record) error

func (f SaverFunc) Save(r Record) error { return f(r) }

// Reader holds the state for one reading session.
type Reader struct {
	pkg     *book.Package
	surface pager.Surface
	tr      *content.Transformer
	engine  *pager.Engine
	log     *zap.Logger

	saver        Saver
	saveOnChange bool

	// ready is set by the first completed measurement and never cleared
	ready     bool
	last      Record
	saved     Record
	savedOnce bool
	closed    bool

	outline []book.Entry
}

type Option func(*Reader)

// WithSaver sets where progress records go.
func WithSaver(s Saver) Option {
	return func(r *Reader) { r.saver = s }
}

// SaveOnPageChange makes the reader save after every settled page change
// in addition to the save on close.
func SaveOnPageChange(on bool) Option {
	return func(r *Reader) { r.saveOnChange = on }
}

// New prepares a reader. Nothing is rendered until Start.
func New(pkg *book.Package, surface pager.Surface, tr *content.Transformer, baseURL string, log *zap.Logger, opts ...Option) *Reader {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Reader{
		pkg:     pkg,
		surface: surface,
		tr:      tr,
		log:     log.Named("reader"),
		outline: pkg.Outline(),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.engine = pager.New(surface, &chapterSource{pkg: pkg, tr: tr, base: baseURL, log: r.log}, log)
	r.engine.Prelude = func() []pager.Script {
		return []pager.Script{pager.ThemeScript(r.tr.Dark())}
	}
	r.engine.OnSettled = r.settled
	return r
}

// Start displays the book at a previously recorded position.
func (r *Reader) Start(rec Record) {
	r.log.Debug("Starting", zap.Int("chapter", rec.Chapter), zap.Int("page", rec.Page))
	r.engine.Load(rec.Chapter, pager.AbsolutePage(max(rec.Page, 0)))
}

func (r *Reader) NextPage() { r.engine.NextPage() }

func (r *Reader) PrevPage() { r.engine.PrevPage() }

// JumpToChapter displays a reading order chapter, at anchor when given.
func (r *Reader) JumpToChapter(index int, anchor string) {
	r.engine.JumpToChapter(index, anchor)
}

// JumpToEntry displays the target of an outline entry.
func (r *Reader) JumpToEntry(e book.Entry) {
	r.engine.JumpToChapter(e.Index, e.Fragment)
}

// FollowLink handles a link activated inside the content. Links which
// cannot be resolved leave the position unchanged; the error is returned
// for callers interested in it.
func (r *Reader) FollowLink(href string) error {
	if id, ok := strings.CutPrefix(href, "#"); ok {
		r.engine.ScrollToAnchor(id)
		return nil
	}

	target, err := r.pkg.Resolve(href)
	if err != nil {
		r.log.Warn("Ignoring link", zap.String("href", href), zap.Error(err))
		return err
	}

	switch {
	case !target.InReadingOrder:
		raw, ok := r.pkg.Document(target.Path)
		if !ok {
			r.log.Warn("Ignoring link to a document without markup", zap.String("href", href), zap.String("path", target.Path))
			return &book.LinkError{Href: href}
		}
		r.log.Debug("Showing document outside of reading order", zap.String("path", target.Path))
		r.engine.ShowDocument(r.tr.Transform(raw), target.Fragment)
	case target.Index != r.engine.Position().Chapter || r.engine.Detached():
		r.engine.JumpToChapter(target.Index, target.Fragment)
	case target.Fragment != "":
		r.engine.ScrollToAnchor(target.Fragment)
	}
	return nil
}

// Resize re-measures the displayed chapter. Hosts debounce it.
func (r *Reader) Resize() { r.engine.Remeasure() }

// SetDark switches the theme of the displayed and of future chapters.
func (r *Reader) SetDark(dark bool) {
	r.tr.SetDark(dark)
	if r.closed {
		return
	}
	r.surface.Evaluate(pager.ThemeScript(dark), func(_ any, err error) {
		if err != nil {
			r.log.Debug("Unable to apply theme", zap.Error(err))
		}
	})
}

func (r *Reader) Dark() bool { return r.tr.Dark() }

// Ready reports whether a position has been measured.
func (r *Reader) Ready() bool { return r.ready }

// Detached reports whether a document outside the reading order is shown.
func (r *Reader) Detached() bool { return r.engine.Detached() }

// Position returns the engine position of the displayed document.
func (r *Reader) Position() pager.Position { return r.engine.Position() }

// RecordPosition returns the last measured position.
func (r *Reader) RecordPosition() (Record, error) {
	if !r.ready {
		return Record{}, ErrNotReady
	}
	return r.last, nil
}

// Percent returns whole book progress of the last measured position.
func (r *Reader) Percent() int { return r.last.Percent }

// Progress returns the 1-based page and the page count of the displayed
// chapter.
func (r *Reader) Progress() (current, total int) {
	p := r.engine.Position()
	return p.Page + 1, p.Total
}

// Close saves the position when one was measured and stops the session.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if r.ready {
		err = r.save()
	}
	r.engine.Close()
	return err
}

func (r *Reader) settled(pos pager.Position) {
	if pos.Stride <= 0 {
		return
	}
	if r.engine.Detached() {
		// pages of a detached document are not reading order positions
		return
	}
	if !r.ready {
		r.log.Debug("Position measured", zap.Int("chapter", pos.Chapter), zap.Int("page", pos.Page))
	}
	r.ready = true
	r.last = Record{
		Chapter: pos.Chapter,
		Page:    pos.Page,
		Percent: Percent(pos.Chapter, pos.Page, pos.Total, len(r.pkg.ReadingOrder)),
	}
	if r.saveOnChange && (!r.savedOnce || r.last != r.saved) {
		_ = r.save()
	}
}

func (r *Reader) save() error {
	if r.saver == nil {
		return nil
	}
	rec := r.last
	if err := r.saver.Save(rec); err != nil {
		r.log.Error("Unable to save reading position", zap.Int("chapter", rec.Chapter), zap.Int("page", rec.Page), zap.Error(err))
		return err
	}
	r.saved, r.savedOnce = rec, true
	return nil
}

// chapterSource transforms reading order chapters on demand.
type chapterSource struct {
	pkg  *book.Package
	tr   *content.Transformer
	base string
	log  *zap.Logger
}

func (s *chapterSource) Len() int { return len(s.pkg.ReadingOrder) }

func (s *chapterSource) Fragment(i int) string {
	raw, err := s.pkg.Chapter(i)
	if err != nil {
		s.log.Warn("Unable to read chapter", zap.Int("chapter", i), zap.Error(err))
	}
	return s.tr.Transform(raw)
}

func (s *chapterSource) BaseURL() string { return s.base }
