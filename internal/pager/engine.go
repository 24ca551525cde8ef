// Package pager splits column laid out chapters into pages and keeps track
// of the displayed page while the rendering surface reports layout
// asynchronously.
package pager

import (
	"math"

	"go.uber.org/zap"
)

// Surface displays documents and evaluates scripts against them. Both
// operations complete asynchronously; callbacks must be delivered on the
// same event loop that drives the engine.
type Surface interface {
	Render(fragment, baseURL string, ready func(ok bool))
	Evaluate(s Script, done func(result any, err error))
	Viewport() float64
}

// Source provides renderable chapters in reading order.
type Source interface {
	Len() int
	Fragment(index int) string
	BaseURL() string
}

// State of the engine with respect to layout.
type State int

const (
	// Unmeasured means a document was rendered or resized and its page
	// count is not known yet. Page turns are ignored.
	Unmeasured State = iota
	// Measured means page count and stride are current.
	Measured
)

func (s State) String() string {
	if s == Measured {
		return "measured"
	}
	return "unmeasured"
}

// TargetKind selects how the page is chosen once metrics arrive.
type TargetKind int

const (
	KindCurrent TargetKind = iota
	KindAbsolute
	KindLast
	KindAnchor
)

// Target is the page to land on when the next metrics arrive.
type Target struct {
	Kind   TargetKind
	Page   int
	Anchor string
}

func CurrentPage() Target       { return Target{Kind: KindCurrent} }
func AbsolutePage(n int) Target { return Target{Kind: KindAbsolute, Page: n} }
func LastPage() Target          { return Target{Kind: KindLast} }
func Anchor(id string) Target   { return Target{Kind: KindAnchor, Anchor: id} }

// Position is a point in the reading order. Stride is zero until the
// displayed document has been measured.
type Position struct {
	Chapter int
	Page    int
	Total   int
	Stride  float64
}

// Engine is the pagination state machine. It is not safe for concurrent
// use: every method and every surface callback must run on one loop.
type Engine struct {
	surface Surface
	source  Source
	log     *zap.Logger

	state   State
	chapter int
	page    int
	total   int
	stride  float64
	pending Target

	// every render and probe captures the generation it was issued for,
	// callbacks from older generations are dropped
	generation uint64
	loaded     bool
	rendering  bool
	closed     bool

	detached bool
	resume   int

	// Prelude returns scripts evaluated after each render, before the
	// document is measured.
	Prelude func() []Script
	// OnSettled is called whenever the engine lands on a page.
	OnSettled func(Position)
}

func New(surface Surface, source Source, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		surface: surface,
		source:  source,
		log:     log.Named("pager"),
		total:   1,
	}
}

func (e *Engine) State() State { return e.state }

// Pending returns the target waiting for the next metrics.
func (e *Engine) Pending() Target { return e.pending }

// Detached reports whether a document outside the reading order is shown.
func (e *Engine) Detached() bool { return e.detached }

func (e *Engine) Closed() bool { return e.closed }

func (e *Engine) Position() Position {
	return Position{Chapter: e.chapter, Page: e.page, Total: e.total, Stride: e.stride}
}

// Load renders a reading order chapter and lands on target once measured.
// Loading is always allowed and supersedes anything in flight.
func (e *Engine) Load(chapter int, target Target) {
	if e.closed || e.source.Len() == 0 {
		return
	}
	e.chapter = clamp(chapter, 0, e.source.Len()-1)
	e.detached = false
	e.render(e.source.Fragment(e.chapter), target)
}

// ShowDocument renders a document which is not part of the reading order.
// The chapter index does not change; leaving the document over either edge
// goes back to the chapter page it was opened from.
func (e *Engine) ShowDocument(fragment, anchor string) {
	if e.closed {
		return
	}
	if !e.detached {
		e.resume = e.page
	}
	e.detached = true
	target := AbsolutePage(0)
	if anchor != "" {
		target = Anchor(anchor)
	}
	e.render(fragment, target)
}

// NextPage advances one page, crossing into the next chapter at the end.
func (e *Engine) NextPage() {
	if !e.ready() {
		return
	}
	switch {
	case e.page+1 < e.total:
		e.page++
		e.scroll()
	case e.detached:
		e.returnToChapter()
	case e.chapter+1 < e.source.Len():
		e.Load(e.chapter+1, AbsolutePage(0))
	default:
		e.log.Debug("End of book")
	}
}

// PrevPage goes back one page, crossing into the last page of the
// previous chapter at the start.
func (e *Engine) PrevPage() {
	if !e.ready() {
		return
	}
	switch {
	case e.page > 0:
		e.page--
		e.scroll()
	case e.detached:
		e.returnToChapter()
	case e.chapter > 0:
		e.Load(e.chapter-1, LastPage())
	default:
		e.log.Debug("Start of book")
	}
}

// JumpToChapter loads chapter at its first page or at anchor.
func (e *Engine) JumpToChapter(chapter int, anchor string) {
	target := AbsolutePage(0)
	if anchor != "" {
		target = Anchor(anchor)
	}
	e.Load(chapter, target)
}

// ScrollToAnchor moves to the page holding anchor in the displayed
// document.
func (e *Engine) ScrollToAnchor(id string) {
	if !e.ready() || id == "" {
		return
	}
	e.generation++
	e.state = Unmeasured
	e.pending = Anchor(id)
	e.probe(e.generation, id)
}

// Remeasure measures the displayed document again, typically after the
// surface was resized. A target not consumed yet stays pending.
func (e *Engine) Remeasure() {
	if e.closed || !e.loaded || e.rendering {
		return
	}
	e.generation++
	e.state = Unmeasured
	e.stride = 0
	e.measure(e.generation)
}

// Close stops the engine. Callbacks arriving later are ignored.
func (e *Engine) Close() {
	e.closed = true
	e.generation++
}

func (e *Engine) ready() bool {
	return !e.closed && e.loaded && e.state == Measured
}

func (e *Engine) stale(gen uint64) bool {
	return e.closed || gen != e.generation
}

func (e *Engine) returnToChapter() {
	e.log.Debug("Leaving detached document", zap.Int("chapter", e.chapter), zap.Int("page", e.resume))
	e.Load(e.chapter, AbsolutePage(e.resume))
}

func (e *Engine) render(fragment string, target Target) {
	e.generation++
	gen := e.generation
	e.loaded = true
	e.rendering = true
	e.state = Unmeasured
	e.stride = 0
	e.pending = target

	e.surface.Render(fragment, e.source.BaseURL(), func(ok bool) {
		if e.stale(gen) {
			return
		}
		e.rendering = false
		if !ok {
			e.log.Warn("Surface reported a failed render", zap.Int("chapter", e.chapter), zap.Bool("detached", e.detached))
		}
		if e.Prelude != nil {
			for _, s := range e.Prelude() {
				e.surface.Evaluate(s, e.report(s.Kind))
			}
		}
		e.measure(gen)
	})
}

func (e *Engine) measure(gen uint64) {
	e.surface.Evaluate(MetricsScript(), func(v any, err error) {
		if e.stale(gen) {
			return
		}
		m, err := ParseMetrics(v, err, e.surface.Viewport())
		if err != nil {
			e.log.Warn("Using fallback layout metrics", zap.Error(err))
		}
		e.total, e.stride = m.Pages, m.Stride

		switch t := e.pending; t.Kind {
		case KindAbsolute:
			e.settle(t.Page)
		case KindLast:
			e.settle(e.total - 1)
		case KindAnchor:
			e.probe(gen, t.Anchor)
		default:
			e.settle(e.page)
		}
	})
}

// probe stays unmeasured until the surface answers, the pending anchor is
// only consumed by settle.
func (e *Engine) probe(gen uint64, id string) {
	e.surface.Evaluate(AnchorScript(id), func(v any, err error) {
		if e.stale(gen) {
			return
		}
		page := 0
		off, ok := number(v)
		switch {
		case err != nil:
			e.log.Debug("Anchor probe failed", zap.String("anchor", id), zap.Error(err))
		case !ok || off < 0:
			e.log.Debug("Anchor not found", zap.String("anchor", id), zap.Any("result", v))
		case e.stride > 0:
			page = int(math.Floor(off / e.stride))
		}
		e.settle(page)
	})
}

func (e *Engine) settle(page int) {
	e.page = clamp(page, 0, e.total-1)
	e.pending = CurrentPage()
	e.state = Measured
	e.scroll()
}

func (e *Engine) scroll() {
	s := ScrollScript(math.Round(float64(e.page) * e.stride))
	e.surface.Evaluate(s, e.report(s.Kind))
	if e.OnSettled != nil {
		e.OnSettled(e.Position())
	}
}

func (e *Engine) report(kind ScriptKind) func(any, error) {
	return func(_ any, err error) {
		if err != nil && !e.closed {
			e.log.Debug("Script failed", zap.Stringer("kind", kind), zap.Error(err))
		}
	}
}

func clamp(v, lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	return max(lo, min(v, hi))
}
