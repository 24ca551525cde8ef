//go:build !gui

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/metcalfc/folio/internal/env"
	"github.com/metcalfc/folio/internal/library"
	"github.com/metcalfc/folio/internal/pager"
	"github.com/metcalfc/folio/internal/textview"
)

const ownsTerminal = true

var (
	lightPage = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#1A1A1A")).
			Background(lipgloss.Color("#F5F1E8"))

	darkPage = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#D8D8D8")).
			Background(lipgloss.Color("#1E1E1E"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888")).
			Padding(0, 1)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFAA00")).
			Bold(true)
)

type keyMap struct {
	Prev    key.Binding
	Next    key.Binding
	Outline key.Binding
	Links   key.Binding
	Theme   key.Binding
	Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Prev, k.Next, k.Outline, k.Links, k.Theme, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = keyMap{
	Prev:    key.NewBinding(key.WithKeys("left", "h", "j"), key.WithHelp("←/h/j", "prev")),
	Next:    key.NewBinding(key.WithKeys("right", "l", "k"), key.WithHelp("→/l/k", "next")),
	Outline: key.NewBinding(key.WithKeys("t"), key.WithHelp("t", "outline")),
	Links:   key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "links")),
	Theme:   key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "theme")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

var back = key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back"))

type mode int

const (
	reading mode = iota
	outline
	links
)

// remeasureMsg is posted by the resize debouncer.
type remeasureMsg struct{}

type choice struct {
	title string
	desc  string
	index int
}

func (c choice) Title() string       { return c.title }
func (c choice) Description() string { return c.desc }
func (c choice) FilterValue() string { return c.title }

type model struct {
	lib     *library.Library
	h       *library.SessionHandle
	surface *textview.Surface
	deb     *pager.Debouncer
	log     *zap.Logger

	help     help.Model
	list     list.Model
	mode     mode
	status   string
	width    int
	height   int
	quitting bool
}

// newModel wires the open book to the terminal. send delivers messages to
// the running program from other goroutines.
func newModel(lib *library.Library, h *library.SessionHandle, surface *textview.Surface, delay time.Duration, clock pager.Clock, send func(tea.Msg), log *zap.Logger) *model {
	m := &model{
		lib:     lib,
		h:       h,
		surface: surface,
		log:     log,
		help:    help.New(),
		width:   80,
		height:  24,
	}
	m.list = list.New(nil, list.NewDefaultDelegate(), m.width, m.height)
	m.deb = pager.NewDebouncer(delay, clock, func() { send(remeasureMsg{}) })
	surface.OnNavigate = func(href string) {
		if err := h.Reader.FollowLink(href); err != nil {
			m.status = "cannot follow " + href
		}
	}
	m.surface.Drain()
	return m
}

func (m *model) Init() tea.Cmd { return nil }

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	cmd := m.update(msg)
	// callbacks run on this loop only
	m.surface.Drain()
	return m, cmd
}

func (m *model) update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.surface.SetSize(m.width, max(m.height-2, 1))
		m.list.SetSize(m.width, m.height)
		m.help.Width = m.width
		m.deb.Trigger()
		return nil

	case remeasureMsg:
		m.h.Reader.Resize()
		return nil

	case tea.KeyMsg:
		if m.mode != reading {
			return m.choose(msg)
		}
		m.status = ""
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return tea.Quit
		case key.Matches(msg, keys.Next):
			m.h.Reader.NextPage()
		case key.Matches(msg, keys.Prev):
			m.h.Reader.PrevPage()
		case key.Matches(msg, keys.Theme):
			if _, err := m.lib.ToggleTheme(); err != nil {
				m.log.Warn("Theme not saved", zap.Error(err))
			}
		case key.Matches(msg, keys.Outline):
			m.showOutline()
		case key.Matches(msg, keys.Links):
			m.showLinks()
		}
		return nil
	}

	if m.mode != reading {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return cmd
	}
	return nil
}

func (m *model) showOutline() {
	entries := m.h.Reader.Outline()
	if len(entries) == 0 {
		m.status = "no outline"
		return
	}
	items := make([]list.Item, len(entries))
	for i, e := range entries {
		items[i] = choice{
			title: strings.Repeat("  ", e.Level) + e.Title,
			desc:  fmt.Sprintf("chapter %d", e.Index+1),
			index: i,
		}
	}
	m.open(outline, "Outline", items, max(m.h.Reader.CurrentEntry(), 0))
}

func (m *model) showLinks() {
	found := m.surface.Links()
	if len(found) == 0 {
		m.status = "no links on this page"
		return
	}
	items := make([]list.Item, len(found))
	for i, l := range found {
		items[i] = choice{title: l.Text, desc: l.Href, index: i}
	}
	m.open(links, "Links", items, 0)
}

func (m *model) open(md mode, title string, items []list.Item, selected int) {
	m.list.SetItems(items)
	m.list.Title = title
	m.list.ResetFilter()
	m.list.Select(selected)
	m.mode = md
}

func (m *model) choose(msg tea.KeyMsg) tea.Cmd {
	if m.list.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return cmd
	}
	switch {
	case key.Matches(msg, back):
		m.mode = reading
		return nil
	case msg.Type == tea.KeyEnter:
		c, ok := m.list.SelectedItem().(choice)
		md := m.mode
		m.mode = reading
		if !ok {
			return nil
		}
		if md == outline {
			m.h.Reader.JumpToEntry(m.h.Reader.Outline()[c.index])
		} else if err := m.surface.Activate(c.index); err != nil {
			m.log.Debug("Link vanished", zap.Error(err))
		}
		return nil
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return cmd
}

func (m *model) View() string {
	if m.quitting {
		return ""
	}
	if m.mode != reading {
		return m.list.View()
	}

	page := lightPage
	if m.surface.Dark() {
		page = darkPage
	}
	var sb strings.Builder
	sb.WriteString(m.statusLine())
	sb.WriteString("\n")
	sb.WriteString(page.Render(strings.Join(m.surface.Page(), "\n")))
	sb.WriteString("\n")
	sb.WriteString(m.help.View(keys))
	return sb.String()
}

func (m *model) statusLine() string {
	r := m.h.Reader
	if !r.Ready() {
		return statusStyle.Render(m.h.Title + " | measuring...")
	}
	current, total := r.Progress()
	where := r.CurrentChapterTitle()
	if r.Detached() {
		where = "note"
	}
	line := statusStyle.Render(fmt.Sprintf("%s | %s | page %d/%d | %d%%", m.h.Title, where, current, total, r.Percent()))
	if m.status != "" {
		line += warnStyle.Render(" " + m.status)
	}
	return line
}

func runReader(ctx context.Context, e *env.LocalEnv, id string) error {
	surface := textview.New(e.Cfg.Reader.ColumnGap/10, e.Log)
	h, err := e.Library.OpenReadingSession(id, surface)
	if err != nil {
		return err
	}

	var p *tea.Program
	m := newModel(e.Library, h, surface, e.Cfg.Reader.Debounce(), nil, func(msg tea.Msg) { p.Send(msg) }, e.Log)
	p = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	_, err = p.Run()
	m.deb.Stop()
	return multierr.Append(err, e.Library.CloseReadingSession(id))
}
