package pager

import (
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap/zaptest"
)

const (
	testViewport = 1000
	testStride   = testViewport + 80
)

// fakeSurface answers every request through a queue the test drains,
// mimicking a surface reporting on a later turn of the event loop.
type fakeSurface struct {
	pages   map[string]int
	anchors map[string]map[string]float64
	failing map[ScriptKind]bool

	current string
	renders []string
	scrolls []float64
	themes  []bool
	probes  int
	queue   []func()
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		pages:   make(map[string]int),
		anchors: make(map[string]map[string]float64),
		failing: make(map[ScriptKind]bool),
	}
}

func (s *fakeSurface) Render(fragment, _ string, ready func(ok bool)) {
	s.current = fragment
	s.renders = append(s.renders, fragment)
	s.queue = append(s.queue, func() { ready(true) })
}

func (s *fakeSurface) Evaluate(sc Script, done func(any, error)) {
	var result any
	switch sc.Kind {
	case MetricsProbe:
		s.probes++
		if n, ok := s.pages[s.current]; ok {
			result = map[string]any{"pages": float64(n), "stride": float64(testStride)}
		}
	case AnchorProbe:
		result = float64(-1)
		if off, ok := s.anchors[s.current][sc.Anchor]; ok {
			result = off
		}
	case ScrollTo:
		s.scrolls = append(s.scrolls, sc.Offset)
	case ThemeToggle:
		s.themes = append(s.themes, sc.Dark)
	}
	var err error
	if s.failing[sc.Kind] {
		result, err = nil, errors.New("evaluation failed")
	}
	s.queue = append(s.queue, func() { done(result, err) })
}

func (s *fakeSurface) Viewport() float64 { return testViewport }

// step runs one queued callback.
func (s *fakeSurface) step(t *testing.T) {
	t.Helper()
	if len(s.queue) == 0 {
		t.Fatal("no pending surface callback")
	}
	f := s.queue[0]
	s.queue = s.queue[1:]
	f()
}

func (s *fakeSurface) flush() {
	for len(s.queue) > 0 {
		f := s.queue[0]
		s.queue = s.queue[1:]
		f()
	}
}

type fakeSource []string

func (f fakeSource) Len() int              { return len(f) }
func (f fakeSource) Fragment(i int) string { return f[i] }
func (f fakeSource) BaseURL() string       { return "file:///tmp/folio/test/" }

// newTestEngine builds an engine over chapters "ch0".."chN" with the given
// page counts.
func newTestEngine(t *testing.T, pages ...int) (*Engine, *fakeSurface, *[]Position) {
	t.Helper()
	s := newFakeSurface()
	src := make(fakeSource, len(pages))
	for i, n := range pages {
		src[i] = fmt.Sprintf("ch%d", i)
		s.pages[src[i]] = n
	}
	e := New(s, src, zaptest.NewLogger(t))
	settled := &[]Position{}
	e.OnSettled = func(p Position) { *settled = append(*settled, p) }
	return e, s, settled
}

func checkPos(t *testing.T, e *Engine, chapter, page int) {
	t.Helper()
	p := e.Position()
	if p.Chapter != chapter || p.Page != page {
		t.Fatalf("position = (%d,%d), want (%d,%d)", p.Chapter, p.Page, chapter, page)
	}
	if e.State() != Measured {
		t.Fatalf("state = %v, want measured", e.State())
	}
}

func TestForwardThroughChapters(t *testing.T) {
	e, s, _ := newTestEngine(t, 2, 2, 2)

	e.Load(0, AbsolutePage(0))
	s.flush()
	checkPos(t, e, 0, 0)

	want := [][2]int{{0, 1}, {1, 0}, {1, 1}}
	for i, w := range want {
		e.NextPage()
		s.flush()
		checkPos(t, e, w[0], w[1])
		if got := s.scrolls[len(s.scrolls)-1]; got != float64(w[1]*testStride) {
			t.Errorf("step %d scrolled to %v, want %v", i, got, w[1]*testStride)
		}
	}
	if p := e.Position(); p.Total != 2 || p.Stride != testStride {
		t.Errorf("metrics = %d pages, stride %v", p.Total, p.Stride)
	}

	e.NextPage()
	s.flush()
	e.NextPage()
	s.flush()
	checkPos(t, e, 2, 1)

	// end of book
	e.NextPage()
	s.flush()
	checkPos(t, e, 2, 1)
	if len(s.renders) != 3 {
		t.Errorf("renders = %v, want one per chapter", s.renders)
	}
}

func TestBackwardLandsOnLastPage(t *testing.T) {
	e, s, _ := newTestEngine(t, 4, 3)

	e.Load(1, AbsolutePage(0))
	s.flush()
	e.PrevPage()
	s.flush()
	checkPos(t, e, 0, 3)

	e.Load(0, AbsolutePage(0))
	s.flush()
	e.PrevPage()
	s.flush()
	checkPos(t, e, 0, 0)
}

func TestNextPrevRoundTrip(t *testing.T) {
	e, s, _ := newTestEngine(t, 5)
	e.Load(0, AbsolutePage(2))
	s.flush()

	for range 3 {
		e.NextPage()
		s.flush()
		e.PrevPage()
		s.flush()
		checkPos(t, e, 0, 2)
	}
}

func TestAbsolutePageClamped(t *testing.T) {
	e, s, _ := newTestEngine(t, 3)
	e.Load(7, AbsolutePage(10))
	s.flush()
	checkPos(t, e, 0, 2)
}

func TestTurnsIgnoredWhileUnmeasured(t *testing.T) {
	e, s, settled := newTestEngine(t, 3, 3)

	e.NextPage() // nothing loaded yet
	e.Load(0, AbsolutePage(0))
	e.NextPage()
	e.PrevPage()
	if e.State() != Unmeasured {
		t.Fatalf("state = %v before metrics", e.State())
	}
	if len(*settled) != 0 {
		t.Fatalf("settled before metrics: %v", *settled)
	}
	s.flush()
	checkPos(t, e, 0, 0)
}

func TestStaleMetricsDropped(t *testing.T) {
	e, s, settled := newTestEngine(t, 5, 2, 3)

	e.Load(0, AbsolutePage(4))
	s.step(t) // ready for chapter 0, metrics request now queued

	e.Load(2, AbsolutePage(4))
	s.flush()

	checkPos(t, e, 2, 2)
	if len(*settled) != 1 || (*settled)[0].Chapter != 2 || (*settled)[0].Total != 3 {
		t.Errorf("settled = %+v, want one settle on chapter 2", *settled)
	}
}

func TestCallbacksAfterClose(t *testing.T) {
	e, s, settled := newTestEngine(t, 2)
	e.Load(0, AbsolutePage(0))
	e.Close()
	s.flush()

	if len(*settled) != 0 || len(s.scrolls) != 0 {
		t.Errorf("closed engine reacted to callbacks: settled=%v scrolls=%v", *settled, s.scrolls)
	}
	if e.State() != Unmeasured {
		t.Errorf("state = %v after close", e.State())
	}

	e.Load(0, AbsolutePage(0))
	e.Remeasure()
	if len(s.renders) != 1 || len(s.queue) != 0 {
		t.Errorf("closed engine issued requests: renders=%v queue=%d", s.renders, len(s.queue))
	}
}

func TestAnchorTarget(t *testing.T) {
	e, s, _ := newTestEngine(t, 1, 4)
	s.anchors["ch1"] = map[string]float64{"sec3": 2200}

	e.JumpToChapter(1, "sec3")
	s.step(t) // ready
	s.step(t) // metrics, anchor probe queued
	if e.State() != Unmeasured || e.Pending().Kind != KindAnchor {
		t.Fatalf("anchor consumed before probe answered: state=%v pending=%+v", e.State(), e.Pending())
	}
	s.flush()
	checkPos(t, e, 1, 2)
	if e.Pending().Kind != KindCurrent {
		t.Errorf("pending = %+v after settle, want current page", e.Pending())
	}

	e.JumpToChapter(1, "missing")
	s.flush()
	checkPos(t, e, 1, 0)

	e.ScrollToAnchor("sec3")
	s.flush()
	checkPos(t, e, 1, 2)

	s.failing[AnchorProbe] = true
	e.ScrollToAnchor("sec3")
	s.flush()
	checkPos(t, e, 1, 0)
}

func TestMetricFallback(t *testing.T) {
	e, s, _ := newTestEngine(t, 3)
	delete(s.pages, "ch0")

	e.Load(0, AbsolutePage(2))
	s.flush()
	checkPos(t, e, 0, 0)
	if p := e.Position(); p.Total != 1 || p.Stride != testViewport {
		t.Errorf("fallback metrics = %d pages stride %v, want 1 page stride %v", p.Total, p.Stride, testViewport)
	}

	s.pages["ch0"] = 3
	s.failing[MetricsProbe] = true
	e.Remeasure()
	s.flush()
	if p := e.Position(); p.Total != 1 {
		t.Errorf("failed probe gave %d pages, want 1", p.Total)
	}
}

func TestRemeasure(t *testing.T) {
	e, s, _ := newTestEngine(t, 4)
	e.Load(0, LastPage())
	s.flush()
	checkPos(t, e, 0, 3)

	// narrower content after a resize
	s.pages["ch0"] = 2
	e.Remeasure()
	if e.State() != Unmeasured || e.Position().Stride != 0 {
		t.Fatalf("remeasure did not reset state: %v %+v", e.State(), e.Position())
	}
	s.flush()
	checkPos(t, e, 0, 1)
}

func TestRemeasureKeepsPendingAnchor(t *testing.T) {
	e, s, _ := newTestEngine(t, 4)
	s.anchors["ch0"] = map[string]float64{"n": 3300}

	e.JumpToChapter(0, "n")
	e.Remeasure() // still rendering, ignored
	s.step(t)     // ready
	s.step(t)     // metrics, probe queued
	e.Remeasure()
	s.flush()

	checkPos(t, e, 0, 3)
	if s.probes != 2 {
		t.Errorf("metrics probes = %d, want 2", s.probes)
	}
}

func TestDetachedDocument(t *testing.T) {
	e, s, _ := newTestEngine(t, 2, 3)
	s.pages["notes"] = 2
	s.anchors["notes"] = map[string]float64{"n2": 1500}

	e.Load(1, AbsolutePage(1))
	s.flush()

	e.ShowDocument("notes", "n2")
	s.flush()
	if !e.Detached() {
		t.Fatal("engine not detached")
	}
	checkPos(t, e, 1, 1)

	e.NextPage()
	s.flush()
	if e.Detached() {
		t.Fatal("still detached after leaving the document")
	}
	checkPos(t, e, 1, 1)
	if last := s.renders[len(s.renders)-1]; last != "ch1" {
		t.Errorf("returned to %q, want ch1", last)
	}

	e.ShowDocument("notes", "")
	s.flush()
	e.PrevPage()
	s.flush()
	checkPos(t, e, 1, 1)
}

func TestPreludeAfterEveryRender(t *testing.T) {
	e, s, _ := newTestEngine(t, 1, 1)
	dark := true
	e.Prelude = func() []Script { return []Script{ThemeScript(dark)} }

	e.Load(0, AbsolutePage(0))
	s.flush()
	dark = false
	e.NextPage()
	s.flush()

	if fmt.Sprint(s.themes) != "[true false]" {
		t.Errorf("theme scripts = %v, want [true false]", s.themes)
	}
}
