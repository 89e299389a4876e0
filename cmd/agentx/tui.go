package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/nstogner/agentx/pkg/client"
	"github.com/nstogner/agentx/pkg/domain"
	"github.com/nstogner/agentx/pkg/events"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	senderStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	frameStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).PaddingLeft(2)

	cursorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	selectedItemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1) // Red
)

type state int

const (
	stateSelectingProject state = iota
	stateChatting
)

type errMsg struct{ err error }
type projectsMsg []domain.Project
type detailsMsg *domain.ProjectDetails

// runMsg carries one frame of the active run, or its end.
type runMsg struct {
	frame *events.Frame
	err   error
	done  bool
}

type chatModel struct {
	ctx    context.Context
	client *client.Client

	state      state
	projects   []domain.Project
	project    *domain.ProjectDetails
	cursor     int
	listOffset int
	width      int
	height     int
	err        error

	// Active run.
	running bool
	run     <-chan runMsg
	live    []events.Frame

	viewport viewport.Model
	textarea textarea.Model
	spinner  spinner.Model
	renderer *glamour.TermRenderer
}

func newChatModel(ctx context.Context, c *client.Client, projectID string) chatModel {
	ta := textarea.New()
	ta.Placeholder = "Describe what to build..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 2000
	ta.SetWidth(80)
	ta.SetHeight(3)
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)

	// Use "light" style to avoid terminal queries that leak into input
	r, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle("light"),
		glamour.WithWordWrap(80),
	)

	m := chatModel{
		ctx:      ctx,
		client:   c,
		state:    stateSelectingProject,
		viewport: vp,
		textarea: ta,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		renderer: r,
	}
	if projectID != "" {
		m.state = stateChatting
		m.project = &domain.ProjectDetails{Project: domain.Project{ID: projectID}}
	}
	return m
}

func (m chatModel) Init() tea.Cmd {
	if m.state == stateChatting {
		return tea.Batch(textarea.Blink, m.loadProject(m.project.ID))
	}
	return tea.Batch(textarea.Blink, m.loadProjects())
}

func (m chatModel) loadProjects() tea.Cmd {
	return func() tea.Msg {
		ps, err := m.client.ListProjects(m.ctx)
		if err != nil {
			return errMsg{err}
		}
		return projectsMsg(ps)
	}
}

func (m chatModel) loadProject(id string) tea.Cmd {
	return func() tea.Msg {
		d, err := m.client.Project(m.ctx, id)
		if err != nil {
			return errMsg{err}
		}
		return detailsMsg(d)
	}
}

func (m chatModel) createProject() tea.Cmd {
	return func() tea.Msg {
		p, err := m.client.CreateProject(m.ctx, "")
		if err != nil {
			return errMsg{err}
		}
		return detailsMsg(&domain.ProjectDetails{Project: *p})
	}
}

// startRun posts message and forwards the run's frames to the returned channel.
func startRun(ctx context.Context, c *client.Client, projectID, message string) <-chan runMsg {
	ch := make(chan runMsg, 16)
	go func() {
		defer close(ch)
		_, err := c.Chat(ctx, projectID, message, func(f events.Frame) {
			select {
			case ch <- runMsg{frame: &f}:
			case <-ctx.Done():
			}
		})
		select {
		case ch <- runMsg{err: err, done: true}:
		case <-ctx.Done():
		}
	}()
	return ch
}

func waitForRun(ch <-chan runMsg) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return runMsg{done: true}
		}
		return msg
	}
}

func (m chatModel) maxViewable() int {
	n := m.height - 7
	if n < 1 {
		n = 1
	}
	return n
}

func (m chatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	var tiCmd, vpCmd tea.Cmd
	// This prevents the Enter key used for menu selection from leaking into the textarea.
	switch msg.(type) {
	case tea.KeyMsg:
		if m.state == stateChatting && !m.running {
			m.textarea, tiCmd = m.textarea.Update(msg)
			cmds = append(cmds, tiCmd)
		}
	default:
		m.textarea, tiCmd = m.textarea.Update(msg)
		cmds = append(cmds, tiCmd)
	}
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.textarea.SetWidth(msg.Width)
		m.viewport.Height = max(msg.Height-m.textarea.Height()-4, 0)
		m.viewport.YPosition = 2
		// Using standard style avoids "Querying terminal..." escape sequences leaking into input
		m.renderer, _ = glamour.NewTermRenderer(
			glamour.WithStandardStyle("light"),
			glamour.WithWordWrap(max(m.width-4, 20)),
		)
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyUp:
			if m.state == stateSelectingProject && m.cursor > 0 {
				m.cursor--
				if m.cursor < m.listOffset {
					m.listOffset = m.cursor
				}
			}
		case tea.KeyDown:
			if m.state == stateSelectingProject && m.cursor < len(m.projects) {
				m.cursor++
				if m.cursor >= m.listOffset+m.maxViewable() {
					m.listOffset = m.cursor - m.maxViewable() + 1
				}
			}
		case tea.KeyEnter:
			switch m.state {
			case stateSelectingProject:
				m.err = nil
				if m.cursor == 0 {
					return m, m.createProject()
				}
				return m, m.loadProject(m.projects[m.cursor-1].ID)
			case stateChatting:
				if m.running {
					return m, nil
				}
				return m.send()
			}
		}

	case projectsMsg:
		m.projects = msg
		sort.SliceStable(m.projects, func(i, j int) bool {
			return m.projects[i].CreatedAt.After(m.projects[j].CreatedAt)
		})

	case detailsMsg:
		m.project = msg
		m.state = stateChatting
		m.textarea.Focus()
		m.refresh()

	case runMsg:
		if msg.frame != nil {
			m.live = append(m.live, *msg.frame)
			if msg.frame.Action == events.ActionError {
				m.err = fmt.Errorf("%s", msg.frame.Message)
			}
			m.refresh()
			cmds = append(cmds, waitForRun(m.run))
			break
		}
		if msg.done {
			m.running = false
			m.run = nil
			if msg.err != nil {
				m.err = msg.err
			}
			cmds = append(cmds, m.loadProject(m.project.ID))
		}

	case spinner.TickMsg:
		if m.running {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}

	case errMsg:
		m.err = msg.err
	}

	return m, tea.Batch(cmds...)
}

func (m chatModel) send() (chatModel, tea.Cmd) {
	v := strings.TrimSpace(m.textarea.Value())
	if v == "" {
		return m, nil
	}
	if v == "/exit" {
		return m, tea.Quit
	}
	m.textarea.Reset()
	m.err = nil
	m.running = true
	m.live = nil
	m.project.Messages = append(m.project.Messages, domain.Message{Role: domain.RoleUser, Content: v})
	m.refresh()

	m.run = startRun(m.ctx, m.client, m.project.ID, v)
	return m, tea.Batch(waitForRun(m.run), m.spinner.Tick)
}

func (m *chatModel) render(md string) string {
	if m.renderer == nil {
		return md
	}
	out, err := m.renderer.Render(md)
	if err != nil {
		return md // Fallback
	}
	return out
}

// refresh rebuilds the transcript shown in the viewport.
func (m *chatModel) refresh() {
	if m.project == nil {
		return
	}
	var sb strings.Builder
	for _, msg := range m.project.Messages {
		switch msg.Role {
		case domain.RoleUser:
			sb.WriteString(userStyle.Render("You:"))
			sb.WriteString("\n")
			sb.WriteString(msg.Content)
			sb.WriteString("\n\n")
		default:
			sb.WriteString(senderStyle.Render("Agent:"))
			sb.WriteString("\n")
			if msg.Type == domain.MessageTypeError {
				sb.WriteString(errorStyle.Render(msg.Content))
				sb.WriteString("\n")
				continue
			}
			sb.WriteString(m.render(fragmentMarkdown(msg)))
		}
	}
	for _, f := range m.live {
		if f.Action.Terminal() {
			continue
		}
		sb.WriteString(frameStyle.Render(describeFrame(f)))
		sb.WriteString("\n")
	}
	m.viewport.SetContent(sb.String())
	m.viewport.GotoBottom()
}

func fragmentMarkdown(msg domain.Message) string {
	var sb strings.Builder
	if f := msg.Fragment; f != nil && f.Title != "" {
		fmt.Fprintf(&sb, "## %s\n\n", f.Title)
	}
	sb.WriteString(msg.Content)
	sb.WriteString("\n")
	if f := msg.Fragment; f != nil {
		if f.SandboxURL != "" {
			fmt.Fprintf(&sb, "\nPreview: %s\n", f.SandboxURL)
		}
		if len(f.Files) > 0 {
			paths := make([]string, 0, len(f.Files))
			for p := range f.Files {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			sb.WriteString("\nFiles:\n\n")
			for _, p := range paths {
				fmt.Fprintf(&sb, "- `%s`\n", p)
			}
		}
	}
	return sb.String()
}

func (m chatModel) View() string {
	var errorView string
	if m.err != nil {
		errorView = errorStyle.Width(m.width).Render(fmt.Sprintf("Error: %v", m.err))
	}

	if m.state == stateSelectingProject {
		header := titleStyle.Render("Select Project")

		options := []string{"New Project"}
		for _, p := range m.projects {
			options = append(options, fmt.Sprintf("%s (%s)", p.Name, p.ID))
		}
		start := m.listOffset
		end := min(start+m.maxViewable(), len(options))

		var optionsView []string
		for i := start; i < end; i++ {
			choice := options[i]
			cursor := " "
			if m.cursor == i {
				cursor = ">"
				choice = selectedItemStyle.Render(choice)
			}
			optionsView = append(optionsView, fmt.Sprintf("%s %s", cursorStyle.Render(cursor), choice))
		}

		list := lipgloss.JoinVertical(lipgloss.Left, optionsView...)
		footer := "Press Enter to select, Esc to quit."
		return lipgloss.JoinVertical(lipgloss.Left, header, "", list, "", footer, errorView)
	}

	title := "agentx"
	if m.project != nil && m.project.Name != "" {
		title = m.project.Name
	}
	status := ""
	if m.running {
		status = m.spinner.View() + " running..."
	}
	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render(title)+" "+status,
		"",
		m.viewport.View(),
		"",
		errorView,
		m.textarea.View(),
	)
}
