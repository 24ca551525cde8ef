// Package textview lays out rendered chapters as columns of wrapped text for
// terminal hosts.
package textview

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mattn/go-runewidth"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/metcalfc/folio/internal/content"
	"github.com/metcalfc/folio/internal/pager"
)

const (
	// Margin and MinStride are the terminal counterparts of the values
	// used by the metrics script, in cells.
	Margin    = 1
	MinStride = 8

	defaultCols = 80
	defaultRows = 24
)

var (
	errNoDocument = errors.New("no document rendered")
	errNoLink     = errors.New("no such link")
)

// Surface is a pager.Surface which keeps the document as text columns.
// Callbacks never run inside the call which caused them: they are queued
// and run by Drain on the host loop.
type Surface struct {
	// OnNavigate receives the target of an activated link.
	OnNavigate func(href string)

	log   *zap.Logger
	cols  int
	rows  int
	gap   int
	dark  bool
	queue []func()

	blocks  []*block
	rawLink []Link
	loaded  bool
	columns [][]string
	anchors map[string]int
	links   []Link
	column  int
}

// New returns a surface of the default size with gap cells between columns.
func New(gap int, log *zap.Logger) *Surface {
	if log == nil {
		log = zap.NewNop()
	}
	return &Surface{
		log:  log.Named("textview"),
		cols: defaultCols,
		rows: defaultRows,
		gap:  max(gap, 0),
	}
}

func (s *Surface) Viewport() float64 { return float64(s.cols) }

func (s *Surface) stride() float64 {
	return pager.ComputeMetrics(0, float64(s.cols), float64(s.gap), Margin, MinStride).Stride
}

// Size returns the viewport in cells.
func (s *Surface) Size() (cols, rows int) { return s.cols, s.rows }

// SetSize changes the viewport and reflows the document. The page shown
// stays on the same column index until the pager measures again.
func (s *Surface) SetSize(cols, rows int) {
	cols, rows = max(cols, 1), max(rows, 1)
	if cols == s.cols && rows == s.rows {
		return
	}
	s.cols, s.rows = cols, rows
	if s.loaded {
		s.layout()
	}
}

// Render replaces the document. Only the content container is laid out,
// the body is used when the fragment has none.
func (s *Surface) Render(fragment, baseURL string, ready func(ok bool)) {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		s.log.Warn("Unable to parse document", zap.Error(err))
		s.loaded = false
		s.enqueue(func() { ready(false) })
		return
	}
	root := findID(doc, content.ContainerID)
	if root == nil {
		root = doc
	}
	s.blocks, s.rawLink = extract(root)
	s.loaded = true
	s.column = 0
	s.layout()
	s.log.Debug("Document rendered", zap.String("base", baseURL),
		zap.Int("blocks", len(s.blocks)), zap.Int("columns", len(s.columns)))
	s.enqueue(func() { ready(true) })
}

// Evaluate answers scripts from the laid out columns.
func (s *Surface) Evaluate(sc pager.Script, done func(any, error)) {
	var (
		result any
		err    error
	)
	switch sc.Kind {
	case pager.MetricsProbe:
		if !s.loaded {
			err = errNoDocument
			break
		}
		result = pager.ComputeMetrics(s.scrollWidth(), float64(s.cols), float64(s.gap), Margin, MinStride)
	case pager.AnchorProbe:
		col, ok := s.anchors[sc.Anchor]
		if !ok {
			result = -1.0
			break
		}
		result = float64(col) * s.stride()
	case pager.ScrollTo:
		if st := s.stride(); st > 0 {
			s.column = clampColumn(int(math.Round(sc.Offset/st)), len(s.columns))
		}
	case pager.ThemeToggle:
		s.dark = sc.Dark
	default:
		err = fmt.Errorf("unsupported script: %s", sc.Kind)
	}
	s.enqueue(func() { done(result, err) })
}

// Drain runs queued callbacks, including those queued while draining, and
// returns how many ran.
func (s *Surface) Drain() int {
	n := 0
	for len(s.queue) > 0 {
		f := s.queue[0]
		s.queue = s.queue[1:]
		f()
		n++
	}
	return n
}

// Pending returns the number of queued callbacks.
func (s *Surface) Pending() int { return len(s.queue) }

// Dark reports the theme last applied to the document.
func (s *Surface) Dark() bool { return s.dark }

// Column returns the index of the visible column and the column count.
func (s *Surface) Column() (int, int) { return s.column, len(s.columns) }

// Page returns the visible column as rows lines padded to the viewport
// width.
func (s *Surface) Page() []string {
	out := make([]string, s.rows)
	var col []string
	if s.column < len(s.columns) {
		col = s.columns[s.column]
	}
	for i := range out {
		l := ""
		if i < len(col) {
			l = col[i]
		}
		out[i] = runewidth.FillRight(runewidth.Truncate(l, s.cols, ""), s.cols)
	}
	return out
}

// Links returns the links starting on the visible column.
func (s *Surface) Links() []Link {
	var out []Link
	for _, l := range s.links {
		if l.Column == s.column {
			out = append(out, l)
		}
	}
	return out
}

// Activate follows the i-th link of Links.
func (s *Surface) Activate(i int) error {
	links := s.Links()
	if i < 0 || i >= len(links) {
		return fmt.Errorf("%w: %d", errNoLink, i)
	}
	if s.OnNavigate != nil {
		s.OnNavigate(links[i].Href)
	}
	return nil
}

func (s *Surface) enqueue(f func()) {
	s.queue = append(s.queue, f)
}

// scrollWidth spaces the columns by the effective stride, which drops the
// gap when viewport plus gap is below MinStride.
func (s *Surface) scrollWidth() float64 {
	n := float64(max(len(s.columns), 1))
	gap := s.stride() - float64(s.cols)
	return n*float64(s.cols) + (n-1)*gap
}

func (s *Surface) layout() {
	var (
		lines   []string
		anchors = make(map[string]int)
		links   = make([]Link, len(s.rawLink))
	)
	copy(links, s.rawLink)

	for i, b := range s.blocks {
		if i > 0 {
			lines = append(lines, "")
		}
		start := len(lines)
		plain := b.lines(s.cols)
		for _, m := range b.marks {
			line := start + lineOf(plain, m.at)
			if m.link >= 0 {
				links[m.link].Column = line / s.rows
			} else if _, seen := anchors[m.id]; !seen {
				anchors[m.id] = line / s.rows
			}
		}
		lines = append(lines, b.decorate(plain, s.cols)...)
	}

	s.columns = s.columns[:0]
	for len(lines) > 0 {
		n := min(s.rows, len(lines))
		s.columns = append(s.columns, lines[:n])
		lines = lines[n:]
	}
	if len(s.columns) == 0 {
		s.columns = append(s.columns, nil)
	}
	s.anchors, s.links = anchors, links
	s.column = clampColumn(s.column, len(s.columns))
}

func clampColumn(c, n int) int {
	return max(0, min(c, n-1))
}

func findID(n *html.Node, id string) *html.Node {
	if n.Type == html.ElementNode && attr(n, "id") == id {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := findID(c, id); f != nil {
			return f
		}
	}
	return nil
}
