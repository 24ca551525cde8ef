package reader

import (
	"fmt"

	"github.com/metcalfc/folio/internal/book"
)

// Outline returns the navigable outline of the book.
func (r *Reader) Outline() []book.Entry {
	return r.outline
}

// CurrentEntry returns the index in Outline of the entry for the displayed
// chapter, -1 if there is none.
func (r *Reader) CurrentEntry() int {
	chapter := r.engine.Position().Chapter
	found := -1
	for i, e := range r.outline {
		if e.Index == chapter {
			return i
		}
		if e.Index < chapter && (found < 0 || e.Index >= r.outline[found].Index) {
			found = i
		}
	}
	return found
}

// CurrentChapterTitle returns the title of the displayed chapter.
func (r *Reader) CurrentChapterTitle() string {
	chapter := r.engine.Position().Chapter
	if i := r.CurrentEntry(); i >= 0 && r.outline[i].Index == chapter {
		return r.outline[i].Title
	}
	return fmt.Sprintf("Chapter %d", chapter+1)
}
