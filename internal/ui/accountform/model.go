package accountform

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/rainfeed/internal/model"
	"github.com/nhle/rainfeed/internal/theme"
)

// SubmittedMsg carries the settings entered into the form. Target is the
// droplet being reconfigured, or the zero identifier when adding a new one.
type SubmittedMsg struct {
	Settings model.AccountSettings
	Target   model.Identifier
}

// CancelledMsg signals the form was dismissed without saving.
type CancelledMsg struct{}

// Model is the Bubble Tea model for the account add/reconfigure form.
type Model struct {
	target model.Identifier

	form *huh.Form

	formHost     string
	formProtocol string
	formUsername string
	formPassword string

	width, height int
}

// New creates a blank form for adding a new account.
func New(width, height int) Model {
	m := Model{
		formProtocol: string(model.ProtocolIMAPS),
		width:        width,
		height:       height,
	}
	m.form = m.buildForm()
	return m
}

// NewReconfigure creates a form pre-filled from an existing droplet's
// settings. The password is never pre-filled.
func NewReconfigure(target model.Identifier, current model.AccountSettings, width, height int) Model {
	m := Model{
		target:       target,
		formHost:     current.Host,
		formProtocol: string(current.Protocol),
		formUsername: current.Username,
		width:        width,
		height:       height,
	}
	m.form = m.buildForm()
	return m
}

// Init starts the underlying form.
func (m Model) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages and drives the form state machine.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	}

	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		return m.handleSubmit()
	}
	if m.form.State == huh.StateAborted {
		return m, func() tea.Msg { return CancelledMsg{} }
	}

	return m, cmd
}

func (m Model) handleSubmit() (Model, tea.Cmd) {
	prot, err := model.ParseProtocol(m.formProtocol)
	if err != nil {
		prot = model.ProtocolIMAPS
	}

	settings := model.AccountSettings{
		Host:     strings.TrimSpace(m.formHost),
		Protocol: prot,
		Username: strings.TrimSpace(m.formUsername),
		Password: m.formPassword,
	}
	target := m.target

	return m, func() tea.Msg {
		return SubmittedMsg{Settings: settings, Target: target}
	}
}

func (m *Model) buildForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Server Host").
				Description("Mail server hostname").
				Placeholder("mail.example.com").
				Value(&m.formHost).
				Validate(validateRequired("Host")),
			huh.NewSelect[string]().
				Title("Protocol").
				Options(
					huh.NewOption("IMAP over TLS (port 993)", string(model.ProtocolIMAPS)),
					huh.NewOption("IMAP with STARTTLS (port 143)", string(model.ProtocolIMAP)),
				).
				Value(&m.formProtocol),
			huh.NewInput().
				Title("Username").
				Placeholder("user@example.com").
				Value(&m.formUsername).
				Validate(validateRequired("Username")),
			huh.NewInput().
				Title("Password").
				Description("Account password or app password").
				EchoMode(huh.EchoModePassword).
				Value(&m.formPassword).
				Validate(validateRequired("Password")),
		),
	).WithWidth(m.formWidth())
}

// View renders the account form.
func (m Model) View() string {
	var b strings.Builder

	title := "Add Account"
	if m.target != (model.Identifier{}) {
		title = "Reconfigure Account"
	}
	b.WriteString(theme.HeaderStyle.Render(title))
	b.WriteString("\n\n")

	if m.form != nil {
		b.WriteString(m.form.View())
	}

	return lipgloss.NewStyle().
		Padding(1, 2).
		Width(m.width).
		Height(m.height).
		Render(b.String())
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m Model) formWidth() int {
	w := m.width - 4
	if w < 40 {
		w = 40
	}
	if w > 100 {
		w = 100
	}
	return w
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}
