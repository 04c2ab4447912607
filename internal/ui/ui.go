package ui

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"esther/internal/config"
	"esther/internal/models"
	"esther/internal/todo"
)

type mode int

const (
	modeLists mode = iota
	modeItems
	modeAddList
	modeAddItem
)

// resultMsg reports the end of a controller call started by a tea.Cmd.
type resultMsg struct {
	op  string
	err error
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	doneStyle   = lipgloss.NewStyle().Faint(true).Strikethrough(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle  = lipgloss.NewStyle().Faint(true)
)

type Model struct {
	ctx        context.Context
	ctrl       *todo.Controller
	cfg        config.Config
	state      todo.State
	cursor     int
	itemCursor int
	mode       mode
	input      textinput.Model
	status     string
	listTmpl   *template.Template
	itemTmpl   *template.Template
}

// New builds the model. Row formats come from the config and use [[ ]]
// delimiters so they never clash with server-side templates.
func New(ctx context.Context, ctrl *todo.Controller, cfg config.Config) (Model, error) {
	listTmpl, err := parseRowTemplate("list", cfg.UI.ListFormat)
	if err != nil {
		return Model{}, err
	}
	itemTmpl, err := parseRowTemplate("item", cfg.UI.ItemFormat)
	if err != nil {
		return Model{}, err
	}

	ti := textinput.New()
	ti.CharLimit = 255
	ti.Width = 40

	return Model{
		ctx:      ctx,
		ctrl:     ctrl,
		cfg:      cfg,
		state:    ctrl.Snapshot(),
		mode:     modeLists,
		input:    ti,
		status:   "Loading lists…",
		listTmpl: listTmpl,
		itemTmpl: itemTmpl,
	}, nil
}

func Run(ctx context.Context, ctrl *todo.Controller, cfg config.Config) error {
	m, err := New(ctx, ctrl, cfg)
	if err != nil {
		return err
	}
	program := tea.NewProgram(m, tea.WithContext(ctx))
	_, err = program.Run()
	return err
}

func parseRowTemplate(name, format string) (*template.Template, error) {
	t, err := template.New(name).Delims("[[", "]]").Parse(format)
	if err != nil {
		return nil, fmt.Errorf("parse %s format: %w", name, err)
	}
	return t, nil
}

func (m Model) Init() tea.Cmd {
	return m.call("fetch", func(ctx context.Context) error { return m.ctrl.FetchLists(ctx) })
}

// call runs fn off the UI goroutine and reports back with a resultMsg.
func (m Model) call(op string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return resultMsg{op: op, err: fn(ctx)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case resultMsg:
		return m.handleResult(msg)
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.input.Width = msg.Width - 10
	}
	return m, nil
}

func (m Model) handleResult(msg resultMsg) (tea.Model, tea.Cmd) {
	m.state = m.ctrl.Snapshot()
	m.cursor = clampCursor(m.cursor, len(m.state.Lists))
	if active, ok := m.state.Active(); ok {
		m.itemCursor = clampCursor(m.itemCursor, len(active.Items))
	} else if m.mode == modeItems || m.mode == modeAddItem {
		m.mode = modeLists
	}

	if msg.err != nil {
		m.status = fmt.Sprintf("%s failed: %v", msg.op, msg.err)
		return m, nil
	}
	switch msg.op {
	case "create list":
		if !m.state.ShowCreateListForm {
			m.mode = modeLists
			m.cursor = clampCursor(len(m.state.Lists)-1, len(m.state.Lists))
			m.input.Blur()
			m.input.SetValue("")
		}
		m.status = "List created"
	case "create item":
		m.mode = modeItems
		m.input.Blur()
		m.input.SetValue("")
		m.status = "Item added"
	case "mark done":
		m.status = "Updated"
	default:
		m.status = fmt.Sprintf("%d lists", len(m.state.Lists))
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}
	switch m.mode {
	case modeAddList, modeAddItem:
		return m.updateFormMode(key, msg)
	case modeItems:
		return m.updateItemsMode(key)
	default:
		return m.updateListsMode(key)
	}
}

func (m Model) updateListsMode(key string) (tea.Model, tea.Cmd) {
	switch key {
	case m.cfg.Keys.Quit:
		return m, tea.Quit
	case m.cfg.Keys.Down, "down":
		m.cursor = clampCursor(m.cursor+1, len(m.state.Lists))
	case m.cfg.Keys.Up, "up":
		m.cursor = clampCursor(m.cursor-1, len(m.state.Lists))
	case m.cfg.Keys.Refresh:
		m.status = "Refreshing…"
		return m, m.call("fetch", m.ctrl.FetchLists)
	case m.cfg.Keys.Add:
		m.ctrl.ToggleCreateListForm()
		m.state = m.ctrl.Snapshot()
		m.mode = modeAddList
		m.input.Placeholder = "List title"
		m.input.SetValue("")
		m.input.Focus()
		m.status = "New list: type a title and press Enter"
	case m.cfg.Keys.Open:
		if len(m.state.Lists) == 0 {
			m.status = "No lists"
			return m, nil
		}
		slug := m.state.Lists[m.cursor].Slug
		m.mode = modeItems
		m.itemCursor = 0
		m.status = "Loading items…"
		return m, m.call("load items", func(ctx context.Context) error { return m.ctrl.LoadItems(ctx, slug) })
	}
	return m, nil
}

func (m Model) updateItemsMode(key string) (tea.Model, tea.Cmd) {
	active, ok := m.state.Active()
	switch key {
	case m.cfg.Keys.Quit:
		return m, tea.Quit
	case m.cfg.Keys.Back, m.cfg.Keys.Cancel:
		m.mode = modeLists
		m.status = ""
		return m, nil
	}
	if !ok {
		return m, nil
	}
	switch key {
	case m.cfg.Keys.Down, "down":
		m.itemCursor = clampCursor(m.itemCursor+1, len(active.Items))
	case m.cfg.Keys.Up, "up":
		m.itemCursor = clampCursor(m.itemCursor-1, len(active.Items))
	case m.cfg.Keys.Refresh:
		slug := active.Slug
		return m, m.call("load items", func(ctx context.Context) error { return m.ctrl.LoadItems(ctx, slug) })
	case m.cfg.Keys.Add:
		m.mode = modeAddItem
		m.input.Placeholder = "Item description"
		m.input.SetValue(active.NewItem.Description)
		m.input.Focus()
		m.status = "New item: type a description and press Enter"
	case m.cfg.Keys.Toggle:
		if len(active.Items) == 0 {
			return m, nil
		}
		it := active.Items[m.itemCursor]
		slug, id, done := active.Slug, it.ID, !it.IsDone
		return m, m.call("mark done", func(ctx context.Context) error { return m.ctrl.MarkDone(ctx, slug, id, done) })
	}
	return m, nil
}

func (m Model) updateFormMode(key string, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key {
	case m.cfg.Keys.Cancel:
		if m.mode == modeAddList {
			if m.state.ShowCreateListForm {
				m.ctrl.ToggleCreateListForm()
			}
			m.state = m.ctrl.Snapshot()
			m.mode = modeLists
		} else {
			m.mode = modeItems
		}
		m.input.Blur()
		m.input.SetValue("")
		m.status = "Cancelled"
		return m, nil
	case m.cfg.Keys.Confirm:
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			m.status = "Cannot be empty"
			return m, nil
		}
		if m.mode == modeAddList {
			m.ctrl.SetNewList(models.ListForm{Title: text})
			m.status = "Saving…"
			return m, m.call("create list", m.ctrl.CreateList)
		}
		active, ok := m.state.Active()
		if !ok {
			m.mode = modeLists
			return m, nil
		}
		slug := active.Slug
		if err := m.ctrl.SetNewItem(slug, models.ItemForm{Description: text}); err != nil {
			m.status = err.Error()
			return m, nil
		}
		m.status = "Saving…"
		return m, m.call("create item", func(ctx context.Context) error { return m.ctrl.CreateItem(ctx, slug) })
	default:
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
}

func (m Model) View() string {
	var b strings.Builder

	who := fmt.Sprintf("user %d", m.state.UserID)
	if m.state.IsAnonymousUser {
		who = "anonymous"
	}
	b.WriteString(headerStyle.Render("TODO"))
	b.WriteString(mutedStyle.Render(" • " + who))
	b.WriteString("\n\n")

	switch m.mode {
	case modeItems, modeAddItem:
		b.WriteString(m.renderItems())
	default:
		b.WriteString(m.renderLists())
	}

	if m.mode == modeAddList || m.mode == modeAddItem {
		b.WriteString("\n")
		b.WriteString(m.input.View())
		b.WriteString("\n")
	}

	b.WriteString("\n---\n")
	if m.state.Err != nil {
		b.WriteString(errorStyle.Render(m.status))
	} else {
		b.WriteString(m.status)
	}
	b.WriteString("\n")
	b.WriteString(mutedStyle.Render(renderHelp(m.cfg.Keys, m.mode)))
	return b.String()
}

func (m Model) renderLists() string {
	if len(m.state.Lists) == 0 {
		return fmt.Sprintf("No lists yet. Press '%s' to add one.\n", m.cfg.Keys.Add)
	}
	var b strings.Builder
	for i, l := range m.state.Lists {
		cursor := " "
		if i == m.cursor && m.mode == modeLists {
			cursor = cursorStyle.Render(">")
		}
		line := renderRow(m.listTmpl, l.List, l.Title)
		if !l.IsPublic {
			line += mutedStyle.Render(" (private)")
		}
		b.WriteString(fmt.Sprintf("%s %s\n", cursor, line))
	}
	return b.String()
}

func (m Model) renderItems() string {
	active, ok := m.state.Active()
	if !ok {
		return "No list selected\n"
	}
	var b strings.Builder
	b.WriteString(headerStyle.Render(active.Title))
	if len(active.Items) > 0 && !active.HasItemsToDo {
		b.WriteString(mutedStyle.Render(" • all done"))
	}
	b.WriteString("\n")
	if len(active.Items) == 0 {
		b.WriteString(fmt.Sprintf("No items yet. Press '%s' to add one.\n", m.cfg.Keys.Add))
		return b.String()
	}
	for i, it := range active.Items {
		cursor := " "
		if i == m.itemCursor && m.mode == modeItems {
			cursor = cursorStyle.Render(">")
		}
		checkbox := "[ ]"
		line := renderRow(m.itemTmpl, it, it.Description)
		if it.IsDone {
			checkbox = "[x]"
			line = doneStyle.Render(line)
		}
		b.WriteString(fmt.Sprintf("%s %s %s\n", cursor, checkbox, line))
	}
	return b.String()
}

func renderRow(t *template.Template, data any, fallback string) string {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return fallback
	}
	return b.String()
}

func renderHelp(k config.Keymap, md mode) string {
	switch md {
	case modeAddList, modeAddItem:
		return fmt.Sprintf("%s save • %s cancel", k.Confirm, k.Cancel)
	case modeItems:
		return fmt.Sprintf("%s/%s move • %s add • %q toggle • %s refresh • %s back • %s quit",
			k.Up, k.Down, k.Add, k.Toggle, k.Refresh, k.Back, k.Quit)
	default:
		return fmt.Sprintf("%s/%s move • %s open • %s add • %s refresh • %s quit",
			k.Up, k.Down, k.Open, k.Add, k.Refresh, k.Quit)
	}
}

func clampCursor(cur, n int) int {
	if n <= 0 {
		return 0
	}
	if cur < 0 {
		return 0
	}
	if cur >= n {
		return n - 1
	}
	return cur
}
