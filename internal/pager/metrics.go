package pager

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	// DefaultMargin is subtracted from the scroll width before dividing so
	// that sub-pixel overflow does not produce an empty trailing page.
	DefaultMargin = 10
	// MinStride is the smallest stride trusted to include the column gap.
	MinStride = 100
)

// Metrics describe how a laid out document splits into pages.
type Metrics struct {
	Pages  int     `json:"pages"`
	Stride float64 `json:"stride"`
}

// Fallback is used whenever a surface cannot report metrics.
func Fallback(viewport float64) Metrics {
	return Metrics{Pages: 1, Stride: viewport}
}

// MetricError reports a layout metrics payload which could not be used.
type MetricError struct {
	Payload any
	Err     error
}

func (e *MetricError) Error() string {
	return fmt.Sprintf("layout metrics %v: %v", e.Payload, e.Err)
}

func (e *MetricError) Unwrap() error { return e.Err }

var (
	errNoPayload = errors.New("no payload")
	errBadShape  = errors.New("unexpected payload shape")
	errBadValue  = errors.New("value out of range")
)

// ComputeMetrics derives page count and stride from the raw layout
// measurements of a column container.
func ComputeMetrics(scrollWidth, viewport, gap, margin, minStride float64) Metrics {
	stride := viewport + gap
	if stride < minStride {
		stride = viewport
	}
	if stride <= 0 || math.IsNaN(stride) || math.IsInf(stride, 0) {
		return Fallback(viewport)
	}
	pages := int(math.Ceil((scrollWidth - margin) / stride))
	if pages < 1 {
		pages = 1
	}
	return Metrics{Pages: pages, Stride: stride}
}

// ParseMetrics normalizes whatever a surface returned for the metrics
// script. Objects carrying pages and stride, bare page counts and their
// JSON encodings are accepted. Anything else yields the fallback metrics
// together with a *MetricError describing the problem.
func ParseMetrics(v any, err error, viewport float64) (Metrics, error) {
	if err != nil {
		return Fallback(viewport), &MetricError{Payload: v, Err: err}
	}

	m, perr := metricsOf(v, viewport)
	if perr != nil {
		return Fallback(viewport), &MetricError{Payload: v, Err: perr}
	}
	if m.Stride == 0 {
		m.Stride = viewport
	}
	if m.Pages < 1 || m.Stride < 0 || math.IsNaN(m.Stride) || math.IsInf(m.Stride, 0) {
		return Fallback(viewport), &MetricError{Payload: v, Err: errBadValue}
	}
	return m, nil
}

func metricsOf(v any, viewport float64) (Metrics, error) {
	switch p := v.(type) {
	case nil:
		return Metrics{}, errNoPayload
	case Metrics:
		return p, nil
	case *Metrics:
		if p == nil {
			return Metrics{}, errNoPayload
		}
		return *p, nil
	case map[string]any:
		pages, ok := number(p["pages"])
		if !ok {
			return Metrics{}, errBadShape
		}
		stride, ok := number(p["stride"])
		if !ok {
			stride = viewport
		}
		return Metrics{Pages: int(pages), Stride: stride}, nil
	case string:
		s := strings.TrimSpace(p)
		if s == "" || s == "null" || s == "undefined" {
			return Metrics{}, errNoPayload
		}
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return Metrics{}, err
		}
		if _, nested := decoded.(string); nested {
			return Metrics{}, errBadShape
		}
		return metricsOf(decoded, viewport)
	}
	if pages, ok := number(v); ok {
		return Metrics{Pages: int(pages), Stride: viewport}, nil
	}
	return Metrics{}, errBadShape
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
