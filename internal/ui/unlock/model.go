package unlock

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/rainfeed/internal/theme"
	"github.com/nhle/rainfeed/internal/vault"
)

// UnlockedMsg signals the vault was unlocked and the main view can load.
// Passphrase is included so the caller can offer to remember it.
type UnlockedMsg struct {
	Passphrase string
}

// QuitMsg signals the user aborted the unlock prompt.
type QuitMsg struct{}

// Model is the Bubble Tea model for the passphrase prompt. On first run it
// asks for a new passphrase with confirmation; afterwards it asks for the
// existing one and verifies it against the vault.
type Model struct {
	vault    *vault.Vault
	firstRun bool

	form *huh.Form

	formPassphrase string
	formConfirm    string

	errMsg        string
	width, height int
}

// New creates an unlock prompt. firstRun selects between the set-passphrase
// form and the verify form.
func New(v *vault.Vault, firstRun bool, width, height int) Model {
	m := Model{
		vault:    v,
		firstRun: firstRun,
		width:    width,
		height:   height,
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
		return m, func() tea.Msg { return QuitMsg{} }
	}

	return m, cmd
}

// handleSubmit applies the entered passphrase to the vault.
func (m Model) handleSubmit() (Model, tea.Cmd) {
	pass := m.formPassphrase

	if m.firstRun {
		if err := m.vault.SetPassphrase(pass); err != nil {
			return m.retry(err.Error())
		}
		return m, func() tea.Msg { return UnlockedMsg{Passphrase: pass} }
	}

	if !m.vault.Unlock(pass) {
		return m.retry("Incorrect passphrase")
	}
	return m, func() tea.Msg { return UnlockedMsg{Passphrase: pass} }
}

// retry resets the form with an error message so the user can try again.
func (m Model) retry(errMsg string) (Model, tea.Cmd) {
	m.errMsg = errMsg
	m.formPassphrase = ""
	m.formConfirm = ""
	m.form = m.buildForm()
	return m, m.form.Init()
}

func (m *Model) buildForm() *huh.Form {
	if m.firstRun {
		return huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Create Passphrase").
					Description("Protects your stored account credentials").
					EchoMode(huh.EchoModePassword).
					Value(&m.formPassphrase).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("passphrase must not be blank")
						}
						return nil
					}),
				huh.NewInput().
					Title("Confirm Passphrase").
					EchoMode(huh.EchoModePassword).
					Value(&m.formConfirm).
					Validate(func(s string) error {
						if s != m.formPassphrase {
							return fmt.Errorf("passphrases do not match")
						}
						return nil
					}),
			),
		).WithWidth(m.formWidth())
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Passphrase").
				Description("Unlock your stored accounts").
				EchoMode(huh.EchoModePassword).
				Value(&m.formPassphrase),
		),
	).WithWidth(m.formWidth())
}

// View renders the unlock prompt.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(theme.HeaderStyle.Render("rainfeed"))
	b.WriteString("\n\n")

	if m.errMsg != "" {
		b.WriteString(theme.ErrorStyle.Render(m.errMsg))
		b.WriteString("\n\n")
	}

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
	if w > 80 {
		w = 80
	}
	return w
}
