package pager

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/metcalfc/folio/internal/content"
)

// ScriptKind tells surfaces which do not evaluate script source what a
// script is asking for.
type ScriptKind int

const (
	// MetricsProbe asks for the page count and stride of the document.
	MetricsProbe ScriptKind = iota
	// AnchorProbe asks for the horizontal offset of an element, -1 when
	// the element does not exist.
	AnchorProbe
	// ScrollTo moves the container to a horizontal offset.
	ScrollTo
	// ThemeToggle switches the dark theme class on the root element.
	ThemeToggle
)

func (k ScriptKind) String() string {
	switch k {
	case MetricsProbe:
		return "metrics"
	case AnchorProbe:
		return "anchor"
	case ScrollTo:
		return "scroll"
	case ThemeToggle:
		return "theme"
	}
	return "unknown"
}

// Script is a request evaluated by a surface. Source is the script text
// for surfaces hosting a browser engine, the other fields carry the same
// request in structured form.
type Script struct {
	Kind   ScriptKind
	Source string
	Anchor string
	Offset float64
	Dark   bool
}

var metricsSource = fmt.Sprintf(`(function() {
  var e = document.getElementById('%[1]s');
  if (!e) { return null; }
  var viewport = window.innerWidth;
  var gap = parseFloat(getComputedStyle(e).columnGap) || 0;
  var stride = viewport + gap;
  if (stride < %[3]d) { stride = viewport; }
  return { pages: Math.max(1, Math.ceil((e.scrollWidth - %[2]d) / stride)), stride: stride };
})()`, content.ContainerID, DefaultMargin, MinStride)

// MetricsScript measures the displayed document.
func MetricsScript() Script {
	return Script{Kind: MetricsProbe, Source: metricsSource}
}

// AnchorScript locates the element with the given id.
func AnchorScript(id string) Script {
	quoted, _ := json.Marshal(id)
	src := fmt.Sprintf(`(function() {
  var c = document.getElementById('%s');
  var t = document.getElementById(%s);
  if (!c || !t) { return -1; }
  return c.scrollLeft + t.getBoundingClientRect().left;
})()`, content.ContainerID, quoted)
	return Script{Kind: AnchorProbe, Source: src, Anchor: id}
}

// ScrollScript scrolls the container to offset.
func ScrollScript(offset float64) Script {
	src := fmt.Sprintf(`(function() {
  var c = document.getElementById('%s');
  if (c) { c.scrollLeft = %s; }
})()`, content.ContainerID, strconv.FormatFloat(offset, 'f', -1, 64))
	return Script{Kind: ScrollTo, Source: src, Offset: offset}
}

// ThemeScript applies the theme to an already rendered document.
func ThemeScript(dark bool) Script {
	src := fmt.Sprintf(`document.documentElement.classList.toggle('%s', %t)`, content.DarkClass, dark)
	return Script{Kind: ThemeToggle, Source: src, Dark: dark}
}
