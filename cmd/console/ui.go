package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jwebster45206/flagstore/internal/storage"
	"github.com/jwebster45206/flagstore/pkg/flags"
)

const (
	refreshInterval = time.Second
	opTimeout       = 5 * time.Second
	inputPrompt     = "name=value"
)

// ConsoleUI is the BubbleTea model that runs the live flag watcher.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	reg      *flags.Registry
	store    *storage.RedisStore
	playerID uuid.UUID

	viewport viewport.Model
	input    textinput.Model

	names    []string       // sorted flag names
	values   map[string]any // decoded values by name
	selected int
	editing  bool

	ready  bool
	width  int
	height int
	status string
	err    error
}

type flagsLoadedMsg struct {
	values map[string]any
	err    error
}

type opDoneMsg struct {
	status string
	err    error
}

type refreshTickMsg struct{}

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("205")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey
)

var displayCaser = cases.Title(language.English)

func NewConsoleUI(reg *flags.Registry, store *storage.RedisStore, playerID uuid.UUID) ConsoleUI {
	ti := textinput.New()
	ti.Placeholder = inputPrompt
	ti.CharLimit = 200

	vp := viewport.New(60, 20)
	vp.MouseWheelEnabled = true

	return ConsoleUI{
		reg:      reg,
		store:    store,
		playerID: playerID,
		viewport: vp,
		input:    ti,
		values:   make(map[string]any),
	}
}

func (ui ConsoleUI) Init() tea.Cmd {
	return tea.Batch(ui.loadFlags(), refreshTick())
}

func refreshTick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}

func (ui ConsoleUI) loadFlags() tea.Cmd {
	reg, store := ui.reg, ui.store
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		all, err := reg.All(ctx, store)
		if err != nil {
			return flagsLoadedMsg{err: err}
		}
		values := make(map[string]any, len(all))
		for name, h := range all {
			values[name] = h.Value()
		}
		return flagsLoadedMsg{values: values}
	}
}

func (ui ConsoleUI) setFlag(name string, value any) tea.Cmd {
	reg, store := ui.reg, ui.store
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		h, err := reg.Handle(store, name)
		if err != nil {
			return opDoneMsg{err: err}
		}
		if err := h.SetValue(ctx, value); err != nil {
			return opDoneMsg{err: err}
		}
		return opDoneMsg{status: fmt.Sprintf("set %s", name)}
	}
}

func (ui ConsoleUI) removeFlag(name string) tea.Cmd {
	reg, store := ui.reg, ui.store
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		h, err := reg.Handle(store, name)
		if err != nil {
			return opDoneMsg{err: err}
		}
		if err := h.Remove(ctx); err != nil {
			return opDoneMsg{err: err}
		}
		return opDoneMsg{status: fmt.Sprintf("removed %s", name)}
	}
}

func (ui ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		ui.width = msg.Width
		ui.height = msg.Height
		ui.viewport.Width = msg.Width
		ui.viewport.Height = msg.Height - 6
		ui.input.Width = msg.Width - 4
		ui.ready = true
		ui.viewport.SetContent(ui.renderFlags())
		return ui, nil

	case refreshTickMsg:
		return ui, tea.Batch(ui.loadFlags(), refreshTick())

	case flagsLoadedMsg:
		if msg.err != nil {
			ui.err = msg.err
			return ui, nil
		}
		ui.err = nil
		ui.values = msg.values
		ui.names = sortedNames(msg.values)
		if ui.selected >= len(ui.names) {
			ui.selected = max(0, len(ui.names)-1)
		}
		ui.viewport.SetContent(ui.renderFlags())
		return ui, nil

	case opDoneMsg:
		if msg.err != nil {
			ui.err = msg.err
		} else {
			ui.err = nil
			ui.status = msg.status
		}
		return ui, ui.loadFlags()

	case tea.KeyMsg:
		return ui.handleKey(msg)
	}

	var cmd tea.Cmd
	ui.viewport, cmd = ui.viewport.Update(msg)
	return ui, cmd
}

func (ui ConsoleUI) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if ui.editing {
		switch msg.Type {
		case tea.KeyEsc:
			ui.editing = false
			ui.input.Blur()
			return ui, nil
		case tea.KeyEnter:
			name, value, err := parseAssignment(ui.input.Value())
			ui.editing = false
			ui.input.Blur()
			ui.input.SetValue("")
			if err != nil {
				ui.err = err
				return ui, nil
			}
			return ui, ui.setFlag(name, value)
		case tea.KeyCtrlC:
			return ui, tea.Quit
		}
		var cmd tea.Cmd
		ui.input, cmd = ui.input.Update(msg)
		return ui, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return ui, tea.Quit
	case "up", "k":
		if ui.selected > 0 {
			ui.selected--
			ui.viewport.SetContent(ui.renderFlags())
		}
	case "down", "j":
		if ui.selected < len(ui.names)-1 {
			ui.selected++
			ui.viewport.SetContent(ui.renderFlags())
		}
	case "n", "enter":
		ui.editing = true
		ui.input.Focus()
	case "d":
		if name, ok := ui.selectedName(); ok {
			return ui, ui.removeFlag(name)
		}
	case "c":
		if name, ok := ui.selectedName(); ok {
			data, err := json.Marshal(ui.values[name])
			if err == nil {
				err = clipboard.WriteAll(string(data))
			}
			if err != nil {
				ui.err = err
			} else {
				ui.status = fmt.Sprintf("copied %s", name)
			}
		}
	case "r":
		return ui, ui.loadFlags()
	}
	return ui, nil
}

func (ui ConsoleUI) selectedName() (string, bool) {
	if ui.selected < 0 || ui.selected >= len(ui.names) {
		return "", false
	}
	return ui.names[ui.selected], true
}

func (ui ConsoleUI) renderFlags() string {
	if len(ui.names) == 0 {
		return helpStyle.Render("No flags set on this player.")
	}

	wrapWidth := ui.viewport.Width - 4
	if wrapWidth < 20 {
		wrapWidth = 20
	}

	var b strings.Builder
	for i, name := range ui.names {
		label := displayName(name)
		if i == ui.selected {
			b.WriteString(selectedStyle.Render(label))
		} else {
			b.WriteString(nameStyle.Render(label))
		}
		b.WriteString("\n")
		b.WriteString(valueStyle.Render(wordwrap.String("  "+renderValue(ui.values[name]), wrapWidth)))
		b.WriteString("\n")
	}
	return b.String()
}

func (ui ConsoleUI) View() string {
	if !ui.ready {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Flags — player %s", ui.playerID)))
	b.WriteString("\n\n")
	b.WriteString(ui.viewport.View())
	b.WriteString("\n")

	switch {
	case ui.err != nil:
		b.WriteString(errorStyle.Render("Error: " + ui.err.Error()))
	case ui.status != "":
		b.WriteString(statusStyle.Render(ui.status))
	}
	b.WriteString("\n")

	if ui.editing {
		b.WriteString(ui.input.View())
	} else {
		b.WriteString(helpStyle.Render("n: new/set  d: delete  c: copy json  r: refresh  q: quit"))
	}
	return b.String()
}

// displayName renders a flag identifier for humans: underscores to spaces,
// title-cased.
func displayName(name string) string {
	return displayCaser.String(strings.ReplaceAll(name, "_", " "))
}

func renderValue(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// parseAssignment splits a "name=value" input line; the value is parsed as
// JSON when it is valid JSON, else kept as a plain string.
func parseAssignment(line string) (string, any, error) {
	name, rawValue, found := strings.Cut(strings.TrimSpace(line), "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, fmt.Errorf("flag name is required (format: name=value)")
	}
	if !found || strings.TrimSpace(rawValue) == "" {
		// Bare name means a plain boolean flag.
		return name, true, nil
	}

	rawValue = strings.TrimSpace(rawValue)
	var v any
	if err := json.Unmarshal([]byte(rawValue), &v); err != nil {
		return name, rawValue, nil
	}
	return name, v, nil
}

func sortedNames(values map[string]any) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
