package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasm-threads/config"
	"github.com/wippyai/wasm-threads/waitxform"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

// siteItem adapts a wait site to the list widget.
type siteItem struct {
	site waitxform.WaitSite
}

func (i siteItem) Title() string { return siteFunc(i.site) }

func (i siteItem) Description() string {
	status := "ok"
	if !i.site.Supported() {
		status = i.site.Reason
	}
	return fmt.Sprintf("+%d %s %s  %s", i.site.Offset, i.site.Form, siteMem(i.site), status)
}

func (i siteItem) FilterValue() string { return i.site.Name }

type modelState int

const (
	stateBrowse modelState = iota
	stateOutput
	stateDone
)

type interactiveModel struct {
	err      error
	filename string
	data     []byte
	result   string
	sites    list.Model
	output   textinput.Model
	state    modelState
	loaded   bool
}

type loadedMsg struct {
	err   error
	data  []byte
	sites []waitxform.WaitSite
}

type writtenMsg struct {
	err      error
	path     string
	replaced int
}

func newInteractiveModel(filename string) *interactiveModel {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Wait sites"

	out := textinput.New()
	out.Prompt = "output: "
	out.Width = 60
	ext := filepath.Ext(filename)
	out.SetValue(strings.TrimSuffix(filename, ext) + ".xform" + ext)

	return &interactiveModel{filename: filename, sites: l, output: out}
}

func (m *interactiveModel) Init() tea.Cmd {
	return m.load
}

func (m *interactiveModel) load() tea.Msg {
	data, err := os.ReadFile(m.filename)
	if err != nil {
		return loadedMsg{err: err}
	}
	sites, err := waitxform.Inspect(data)
	return loadedMsg{data: data, sites: sites, err: err}
}

func (m *interactiveModel) write() tea.Msg {
	settings := config.Get()
	cfg := waitxform.Config{ImportModule: settings.ImportModule, MaxSpin: settings.MaxSpin}
	if cfg.MaxSpin == 0 {
		cfg.MaxSpin = waitxform.NoSpinLimit
	}
	res, err := waitxform.TransformDetailed(m.data, cfg)
	if err != nil {
		return writtenMsg{err: err}
	}
	path := m.output.Value()
	if err := os.WriteFile(path, res.Wasm, 0o644); err != nil {
		return writtenMsg{err: err}
	}
	return writtenMsg{path: path, replaced: res.Replaced}
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.sites.SetSize(msg.Width, msg.Height-4)
		return m, nil

	case loadedMsg:
		m.loaded = true
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.data = msg.data
		items := make([]list.Item, len(msg.sites))
		for i, s := range msg.sites {
			items[i] = siteItem{site: s}
		}
		return m, m.sites.SetItems(items)

	case writtenMsg:
		m.state = stateDone
		m.err = msg.err
		if msg.err == nil {
			m.result = fmt.Sprintf("wrote %s (%d waits rewritten)", msg.path, msg.replaced)
		}
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		switch m.state {
		case stateBrowse:
			if m.sites.FilterState() == list.Filtering {
				break
			}
			switch msg.String() {
			case "q":
				return m, tea.Quit
			case "w":
				if m.err == nil && m.loaded {
					m.state = stateOutput
					return m, m.output.Focus()
				}
			}
		case stateOutput:
			switch msg.String() {
			case "enter":
				m.output.Blur()
				return m, m.write
			case "esc":
				m.output.Blur()
				m.state = stateBrowse
				return m, nil
			}
			var cmd tea.Cmd
			m.output, cmd = m.output.Update(msg)
			return m, cmd
		case stateDone:
			switch msg.String() {
			case "q":
				return m, tea.Quit
			case "enter", "esc":
				m.state = stateBrowse
				m.err = nil
				m.result = ""
				return m, nil
			}
		}
	}

	if m.state == stateBrowse {
		var cmd tea.Cmd
		m.sites, cmd = m.sites.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *interactiveModel) View() string {
	if !m.loaded {
		return "Loading module..."
	}
	if m.err != nil && m.state == stateBrowse {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress q to quit.", m.err))
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("waitxform"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	switch m.state {
	case stateBrowse:
		b.WriteString(m.sites.View())
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("/ filter • w write transformed module • q quit"))
	case stateOutput:
		b.WriteString(m.output.View())
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter write • esc back"))
	case stateDone:
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}
	return b.String()
}

func runInteractive(filename string) error {
	p := tea.NewProgram(newInteractiveModel(filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
