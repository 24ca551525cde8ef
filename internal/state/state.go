package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	stateFileName = "library.json"
	hashBytes     = 8192 // First 8KB for content hash
)

// ErrUnknownBook is returned for ids not present in the library.
var ErrUnknownBook = errors.New("unknown book")

// Theme of the reading surface.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// BookState stores a library entry and the last saved position in it
type BookState struct {
	Title            string `json:"title"`
	Author           string `json:"author,omitempty"`
	Filename         string `json:"filename"`
	Hash             string `json:"hash,omitempty"`
	LastChapterIndex int    `json:"last_chapter_index"`
	LastPageIndex    int    `json:"last_page_index"`
	ProgressPercent  int    `json:"progress_percent"`
}

type library struct {
	Books map[string]BookState `json:"books"`
	Theme Theme                `json:"theme,omitempty"`
}

// PersistenceError reports a failure to write the state file. The in-memory
// state is unaffected and the next successful save writes it out.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("unable to save %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// StateStore manages persistent library state
type StateStore struct {
	path string
	log  *zap.Logger
	data library
	mu   sync.RWMutex
}

// NewStateStore creates or loads state from path, DefaultPath() when empty.
func NewStateStore(path string, log *zap.Logger) (*StateStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("unable to create state directory: %w", err)
	}

	store := &StateStore{
		path: path,
		log:  log.Named("state"),
		data: library{Books: make(map[string]BookState)},
	}
	if err := store.load(); err != nil {
		// Non-fatal - start with empty state
		store.log.Warn("Unable to load library state, starting empty", zap.String("path", path), zap.Error(err))
		store.data = library{Books: make(map[string]BookState)}
	}
	return store, nil
}

// DefaultPath returns XDG_STATE_HOME/folio/library.json or
// ~/.local/state/folio/library.json
func DefaultPath() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "folio", stateFileName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "folio", stateFileName)
}

func (s *StateStore) Path() string { return s.path }

// ComputeHash generates content hash for file identity
func ComputeHash(filename string) (string, error) {
	f, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, hashBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}

	hash := sha256.Sum256(buf[:n])
	return hex.EncodeToString(hash[:16]), nil // First 16 bytes = 32 hex chars
}

// Book returns the entry for id
func (s *StateStore) Book(id string) (BookState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data.Books[id]
	return b, ok
}

// Books returns a copy of all entries keyed by id
func (s *StateStore) Books() map[string]BookState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.data.Books)
}

// FindHash returns the id of the book with the given content hash
func (s *StateStore) FindHash(hash string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, b := range s.data.Books {
		if b.Hash != "" && b.Hash == hash {
			return id, true
		}
	}
	return "", false
}

// PutBook adds or replaces an entry
func (s *StateStore) PutBook(id string, b BookState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Books[id] = b
	return s.save()
}

// SetPosition saves position for a book
func (s *StateStore) SetPosition(id string, chapter, page, percent int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data.Books[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBook, id)
	}
	b.LastChapterIndex, b.LastPageIndex, b.ProgressPercent = chapter, page, percent
	s.data.Books[id] = b
	return s.save()
}

// Remove deletes the entry for id
func (s *StateStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Books[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBook, id)
	}
	delete(s.data.Books, id)
	return s.save()
}

// Theme returns the saved theme, def when none was saved
func (s *StateStore) Theme(def Theme) Theme {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.Theme == "" {
		return def
	}
	return s.data.Theme
}

// SetTheme saves the theme
func (s *StateStore) SetTheme(t Theme) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Theme = t
	return s.save()
}

func (s *StateStore) load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &s.data); err != nil {
		return err
	}
	if s.data.Books == nil {
		s.data.Books = make(map[string]BookState)
	}
	return nil
}

func (s *StateStore) save() error {
	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	if err := writeFileAtomic(s.path, data, 0644); err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	return nil
}

// writeFileAtomic replaces name with data so that readers only ever see
// the old or the new content.
func writeFileAtomic(name string, data []byte, perm os.FileMode) (err error) {
	f, err := os.CreateTemp(filepath.Dir(name), "."+filepath.Base(name)+"-*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			err = multierr.Append(err, os.Remove(tmp))
		}
	}()

	if _, err = f.Write(data); err != nil {
		return multierr.Append(err, f.Close())
	}
	if err = f.Sync(); err != nil {
		return multierr.Append(err, f.Close())
	}
	if err = f.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp, perm); err != nil {
		return err
	}
	return os.Rename(tmp, name)
}
