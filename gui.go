//go:build gui

package main

import (
	"context"
	"fmt"
	"image/color"
	"strings"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"
	"go.uber.org/zap"

	"github.com/metcalfc/folio/internal/env"
	"github.com/metcalfc/folio/internal/library"
	"github.com/metcalfc/folio/internal/pager"
	"github.com/metcalfc/folio/internal/textview"
)

const (
	ownsTerminal = false
	textSize     = 16
)

var (
	lightInk   = color.RGBA{R: 0x1a, G: 0x1a, B: 0x1a, A: 0xff}
	lightPaper = color.RGBA{R: 0xf5, G: 0xf1, B: 0xe8, A: 0xff}
	darkInk    = color.RGBA{R: 0xd8, G: 0xd8, B: 0xd8, A: 0xff}
	darkPaper  = color.RGBA{R: 0x1e, G: 0x1e, B: 0x1e, A: 0xff}
)

type panelKind int

const (
	noPanel panelKind = iota
	outlinePanel
	linksPanel
)

type view struct {
	lib     *library.Library
	h       *library.SessionHandle
	surface *textview.Surface
	log     *zap.Logger

	paper  *canvas.Rectangle
	lines  *fyne.Container
	status *widget.Label
	title  *widget.Label
	list   *widget.List
	side   *fyne.Container
	split  *container.Split

	panel panelKind
	items []choice
}

type choice struct {
	title string
	index int
}

func newView(lib *library.Library, h *library.SessionHandle, surface *textview.Surface, log *zap.Logger) *view {
	v := &view{
		lib:     lib,
		h:       h,
		surface: surface,
		log:     log,
		paper:   canvas.NewRectangle(lightPaper),
		lines:   container.NewVBox(),
		status:  widget.NewLabel(""),
		title:   widget.NewLabel(""),
	}
	v.status.Alignment = fyne.TextAlignCenter
	v.list = widget.NewList(
		func() int { return len(v.items) },
		func() fyne.CanvasObject { return widget.NewLabel("Title") },
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			obj.(*widget.Label).SetText(v.items[id].title)
		},
	)
	v.list.OnSelected = v.selected

	controls := widget.NewLabel("←/h/j: prev  →/l/k: next  T: outline  F: links  D: theme  Q: quit")
	controls.Alignment = fyne.TextAlignCenter

	page := container.NewStack(v.paper, container.NewPadded(v.lines))
	reading := container.NewBorder(v.status, controls, nil, nil, page)
	v.side = container.NewBorder(v.title, widget.NewLabel("Click to select • Esc to close"), nil, nil, v.list)
	v.side.Hide()
	v.split = container.NewHSplit(v.side, reading)
	v.split.Offset = 0.3

	surface.OnNavigate = func(href string) {
		if err := h.Reader.FollowLink(href); err != nil {
			v.status.SetText("cannot follow " + href)
		}
	}
	return v
}

// refresh runs queued surface callbacks and redraws the page.
func (v *view) refresh() {
	v.surface.Drain()

	ink, paper := lightInk, lightPaper
	if v.surface.Dark() {
		ink, paper = darkInk, darkPaper
	}
	v.paper.FillColor = paper
	v.paper.Refresh()

	page := v.surface.Page()
	if len(v.lines.Objects) != len(page) {
		objs := make([]fyne.CanvasObject, len(page))
		for i := range objs {
			t := canvas.NewText("", ink)
			t.TextSize = textSize
			t.TextStyle = fyne.TextStyle{Monospace: true}
			objs[i] = t
		}
		v.lines.Objects = objs
	}
	for i, l := range page {
		t := v.lines.Objects[i].(*canvas.Text)
		t.Text = l
		t.Color = ink
	}
	v.lines.Refresh()

	r := v.h.Reader
	if !r.Ready() {
		v.status.SetText(v.h.Title + " | measuring...")
		return
	}
	current, total := r.Progress()
	where := r.CurrentChapterTitle()
	if r.Detached() {
		where = "note"
	}
	v.status.SetText(fmt.Sprintf("%s | %s | page %d/%d | %d%%", v.h.Title, where, current, total, r.Percent()))
}

// fit sizes the surface to the page area.
func (v *view) fit(size fyne.Size) {
	cell := fyne.MeasureText("M", textSize, fyne.TextStyle{Monospace: true})
	if cell.Width <= 0 || cell.Height <= 0 {
		return
	}
	height := size.Height - 2*v.status.MinSize().Height
	v.surface.SetSize(int(size.Width/cell.Width)-2, int(height/cell.Height)-1)
}

func (v *view) show(kind panelKind) {
	if v.panel == kind {
		v.hide()
		return
	}
	v.items = v.items[:0]
	switch kind {
	case outlinePanel:
		v.title.SetText("Outline")
		for i, e := range v.h.Reader.Outline() {
			v.items = append(v.items, choice{title: strings.Repeat("  ", e.Level) + e.Title, index: i})
		}
	case linksPanel:
		v.title.SetText("Links")
		for i, l := range v.surface.Links() {
			v.items = append(v.items, choice{title: l.Text + " → " + l.Href, index: i})
		}
	}
	if len(v.items) == 0 {
		v.status.SetText("nothing to show")
		return
	}
	v.panel = kind
	v.list.UnselectAll()
	v.list.Refresh()
	v.side.Show()
	v.split.Refresh()
}

func (v *view) hide() {
	v.panel = noPanel
	v.side.Hide()
	v.split.Refresh()
}

func (v *view) selected(id widget.ListItemID) {
	if id >= len(v.items) {
		return
	}
	c := v.items[id]
	switch v.panel {
	case outlinePanel:
		v.h.Reader.JumpToEntry(v.h.Reader.Outline()[c.index])
	case linksPanel:
		if err := v.surface.Activate(c.index); err != nil {
			v.log.Debug("Link vanished", zap.Error(err))
		}
	}
	v.hide()
	v.refresh()
}

func (v *view) toggleTheme() {
	if _, err := v.lib.ToggleTheme(); err != nil {
		v.log.Warn("Theme not saved", zap.Error(err))
	}
}

func runReader(ctx context.Context, e *env.LocalEnv, id string) error {
	surface := textview.New(e.Cfg.Reader.ColumnGap/10, e.Log)
	h, err := e.Library.OpenReadingSession(id, surface)
	if err != nil {
		return err
	}

	a := app.New()
	w := a.NewWindow(h.Title + " - folio")
	v := newView(e.Library, h, surface, e.Log)

	deb := pager.NewDebouncer(e.Cfg.Reader.Debounce(), nil, func() {
		fyne.Do(func() {
			h.Reader.Resize()
			v.refresh()
		})
	})

	done := make(chan struct{})
	var closeOnce sync.Once
	quit := func() {
		closeOnce.Do(func() { close(done) })
		a.Quit()
	}

	w.Canvas().SetOnTypedKey(func(k *fyne.KeyEvent) {
		switch k.Name {
		case fyne.KeyLeft:
			h.Reader.PrevPage()
		case fyne.KeyRight:
			h.Reader.NextPage()
		case fyne.KeyEscape:
			v.hide()
		case fyne.KeyF11:
			w.SetFullScreen(!w.FullScreen())
		default:
			return
		}
		v.refresh()
	})
	w.Canvas().SetOnTypedRune(func(r rune) {
		switch r {
		case 'h', 'j':
			h.Reader.PrevPage()
		case 'l', 'k':
			h.Reader.NextPage()
		case 't', 'T':
			v.show(outlinePanel)
		case 'f', 'F':
			v.show(linksPanel)
		case 'd', 'D':
			v.toggleTheme()
		case 'q', 'Q':
			quit()
			return
		default:
			return
		}
		v.refresh()
	})

	w.Resize(fyne.NewSize(900, 700))
	w.SetContent(v.split)

	// window resizes are polled and fed to the debouncer
	go func() {
		var last fyne.Size
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				fyne.Do(quit)
				return
			case <-time.After(100 * time.Millisecond):
				size := w.Canvas().Size()
				if size.Width > 0 && size != last {
					last = size
					fyne.Do(func() {
						v.fit(size)
						v.refresh()
						deb.Trigger()
					})
				}
			}
		}
	}()

	w.SetOnClosed(func() {
		closeOnce.Do(func() { close(done) })
	})

	go func() {
		time.Sleep(100 * time.Millisecond)
		fyne.Do(v.refresh)
	}()

	w.ShowAndRun()
	deb.Stop()
	return e.Library.CloseReadingSession(id)
}
