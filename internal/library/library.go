// Package library keeps imported books, their saved positions and the
// reading sessions opened on them.
package library

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/maruel/natural"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/metcalfc/folio/internal/book"
	"github.com/metcalfc/folio/internal/content"
	"github.com/metcalfc/folio/internal/pager"
	"github.com/metcalfc/folio/internal/reader"
	"github.com/metcalfc/folio/internal/session"
	"github.com/metcalfc/folio/internal/state"
)

var (
	// ErrNotOpen is returned for books without a reading session.
	ErrNotOpen = errors.New("book is not open")
	// ErrAlreadyOpen is returned when a second session is requested.
	ErrAlreadyOpen = errors.New("book is already open")
)

// Options control where books are kept and how they are displayed.
type Options struct {
	StorageDir       string
	WorkDir          string
	ColumnGap        int
	Stylesheet       []byte
	SaveOnPageChange bool
	DefaultTheme     state.Theme
}

// Book is a library entry.
type Book struct {
	ID       string
	Title    string
	Author   string
	Filename string
	Percent  int
}

// SessionHandle is an open book.
type SessionHandle struct {
	ID     uuid.UUID
	BookID string
	Title  string
	Reader *reader.Reader

	session *session.Session
	log     *zap.Logger
}

// Library is the catalog of imported books.
type Library struct {
	store *state.StateStore
	opts  Options
	log   *zap.Logger
	open  map[string]*SessionHandle
}

func New(store *state.StateStore, opts Options, log *zap.Logger) (*Library, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.StorageDir == "" {
		return nil, errors.New("storage directory is not set")
	}
	if err := os.MkdirAll(opts.StorageDir, 0755); err != nil {
		return nil, fmt.Errorf("unable to create storage directory: %w", err)
	}
	if opts.DefaultTheme == "" {
		opts.DefaultTheme = state.ThemeLight
	}
	return &Library{
		store: store,
		opts:  opts,
		log:   log.Named("library"),
		open:  make(map[string]*SessionHandle),
	}, nil
}

// Import copies an EPUB into the storage directory and registers it. A
// file imported before is recognized by content and not copied again.
func (l *Library) Import(path string) (Book, error) {
	hash, err := state.ComputeHash(path)
	if err != nil {
		return Book{}, fmt.Errorf("unable to read %s: %w", path, err)
	}
	if id, ok := l.store.FindHash(hash); ok {
		l.log.Info("Book already imported", zap.String("file", path), zap.String("id", id))
		b, _ := l.store.Book(id)
		return toBook(id, b), nil
	}

	// refuse anything the reader would not be able to open later
	pkg, err := book.OpenFile(path, l.log)
	if err != nil {
		return Book{}, err
	}

	title := pkg.Title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	id := l.uniqueID(title)
	entry := state.BookState{Title: title, Author: pkg.Author, Filename: id + ".epub", Hash: hash}
	if err := copyFile(path, filepath.Join(l.opts.StorageDir, entry.Filename)); err != nil {
		return Book{}, fmt.Errorf("unable to store %s: %w", path, err)
	}
	if err := l.store.PutBook(id, entry); err != nil {
		return Book{}, err
	}
	l.log.Info("Book imported", zap.String("id", id), zap.String("title", title), zap.Int("chapters", len(pkg.ReadingOrder)))
	return toBook(id, entry), nil
}

// List returns all books ordered by title.
func (l *Library) List() []Book {
	var out []Book
	for id, b := range l.store.Books() {
		out = append(out, toBook(id, b))
	}
	slices.SortFunc(out, func(a, b Book) int {
		switch {
		case a.Title == b.Title:
			return strings.Compare(a.ID, b.ID)
		case natural.Less(a.Title, b.Title):
			return -1
		}
		return 1
	})
	return out
}

// Book returns a single entry.
func (l *Library) Book(id string) (Book, error) {
	b, ok := l.store.Book(id)
	if !ok {
		return Book{}, fmt.Errorf("%w: %s", state.ErrUnknownBook, id)
	}
	return toBook(id, b), nil
}

// Remove forgets a book and deletes its stored copy.
func (l *Library) Remove(id string) error {
	if _, ok := l.open[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyOpen, id)
	}
	b, ok := l.store.Book(id)
	if !ok {
		return fmt.Errorf("%w: %s", state.ErrUnknownBook, id)
	}
	if err := l.store.Remove(id); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(l.opts.StorageDir, b.Filename)); err != nil && !os.IsNotExist(err) {
		l.log.Warn("Unable to delete stored book", zap.String("id", id), zap.Error(err))
	}
	return nil
}

func (l *Library) Theme() state.Theme {
	return l.store.Theme(l.opts.DefaultTheme)
}

// SetTheme persists the theme and applies it to open books.
func (l *Library) SetTheme(t state.Theme) error {
	for _, h := range l.open {
		h.Reader.SetDark(t == state.ThemeDark)
	}
	return l.store.SetTheme(t)
}

// ToggleTheme flips between light and dark and returns the new theme.
func (l *Library) ToggleTheme() (state.Theme, error) {
	t := state.ThemeDark
	if l.Theme() == state.ThemeDark {
		t = state.ThemeLight
	}
	return t, l.SetTheme(t)
}

// OpenReadingSession opens a book on surface at its saved position. A book
// which fails to open leaves nothing behind.
func (l *Library) OpenReadingSession(id string, surface pager.Surface) (*SessionHandle, error) {
	if _, ok := l.open[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyOpen, id)
	}
	b, ok := l.store.Book(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", state.ErrUnknownBook, id)
	}
	sid := uuid.Must(uuid.NewV7())
	// every line of the session carries its id
	log := l.log.With(zap.String("book", id), zap.Stringer("session", sid))

	pkg, err := book.OpenFile(filepath.Join(l.opts.StorageDir, b.Filename), log)
	if err != nil {
		return nil, err
	}
	sess, err := session.Open(pkg, l.opts.WorkDir, id, log)
	if sess == nil {
		return nil, err
	}
	if err != nil {
		log.Warn("Book opened with missing resources", zap.Error(err))
	}

	tr := content.New(sess, log,
		content.WithGap(l.opts.ColumnGap),
		content.WithDark(l.Theme() == state.ThemeDark),
		content.WithStylesheet(l.opts.Stylesheet),
	)
	saver := reader.SaverFunc(func(rec reader.Record) error {
		return l.store.SetPosition(id, rec.Chapter, rec.Page, rec.Percent)
	})
	rd := reader.New(pkg, surface, tr, sess.BaseURL(), log,
		reader.WithSaver(saver),
		reader.SaveOnPageChange(l.opts.SaveOnPageChange),
	)

	h := &SessionHandle{
		ID:      sid,
		BookID:  id,
		Title:   b.Title,
		Reader:  rd,
		session: sess,
		log:     log,
	}
	l.open[id] = h
	log.Debug("Reading session opened")

	rd.Start(reader.Record{Chapter: b.LastChapterIndex, Page: b.LastPageIndex, Percent: b.ProgressPercent})
	return h, nil
}

// OnPositionChanged returns the current position of an open book.
func (l *Library) OnPositionChanged(id string) (reader.Record, error) {
	h, ok := l.open[id]
	if !ok {
		return reader.Record{}, fmt.Errorf("%w: %s", ErrNotOpen, id)
	}
	return h.Reader.RecordPosition()
}

// CloseReadingSession saves the position of an open book and releases
// everything the session holds.
func (l *Library) CloseReadingSession(id string) error {
	h, ok := l.open[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotOpen, id)
	}
	if rec, err := l.OnPositionChanged(id); err == nil {
		h.log.Debug("Closing reading session", zap.Int("chapter", rec.Chapter), zap.Int("page", rec.Page))
	}
	delete(l.open, id)

	err := h.Reader.Close()
	h.session.Close()
	return err
}

// Close closes every open reading session.
func (l *Library) Close() (err error) {
	for id := range l.open {
		err = multierr.Append(err, l.CloseReadingSession(id))
	}
	return err
}

func (l *Library) uniqueID(title string) string {
	base := slug.Make(title)
	if base == "" {
		base = "book"
	}
	id := base
	for n := 2; ; n++ {
		if _, taken := l.store.Book(id); !taken {
			return id
		}
		id = base + "-" + strconv.Itoa(n)
	}
}

func toBook(id string, b state.BookState) Book {
	return Book{ID: id, Title: b.Title, Author: b.Author, Filename: b.Filename, Percent: b.ProgressPercent}
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), ".import-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, os.Remove(out.Name()))
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return multierr.Append(err, out.Close())
	}
	if err = out.Close(); err != nil {
		return err
	}
	if err = os.Chmod(out.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(out.Name(), dst)
}
