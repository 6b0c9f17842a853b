package app

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/rainfeed/internal/droplet"
	"github.com/nhle/rainfeed/internal/keys"
	"github.com/nhle/rainfeed/internal/model"
	"github.com/nhle/rainfeed/internal/settings"
	"github.com/nhle/rainfeed/internal/source"
	"github.com/nhle/rainfeed/internal/ui"
	"github.com/nhle/rainfeed/internal/ui/accountform"
	"github.com/nhle/rainfeed/internal/ui/feedlist"
	"github.com/nhle/rainfeed/internal/ui/unlock"
	"github.com/nhle/rainfeed/internal/vault"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewUnlock ViewState = iota
	ViewFeed
	ViewAccountForm
	ViewHelp
)

// feedEventMsg wraps one registry event for the UI loop.
type feedEventMsg struct {
	event droplet.Event
}

// feedClosedMsg signals the registry event channel was closed.
type feedClosedMsg struct{}

// accountsLoadedMsg carries the persisted accounts read at startup.
type accountsLoadedMsg struct {
	accounts []model.AccountSettings
	err      error
}

// accountAddedMsg is sent after an add attempt completes.
type accountAddedMsg struct {
	settings model.AccountSettings
	err      error
}

// accountRemovedMsg is sent after a droplet was torn down.
type accountRemovedMsg struct {
	account string
	owner   model.Identifier
}

// accountReconfiguredMsg is sent after a reconfigure attempt completes.
type accountReconfiguredMsg struct {
	owner model.Identifier
	err   error
}

// settingsSavedMsg is sent after the encrypted settings file was written.
type settingsSavedMsg struct {
	err error
}

// Model is the root Bubble Tea model. It routes between the unlock
// prompt, the merged feed, and the account form, and it is the sole
// consumer of the droplet registry's event channel.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	keys         *keys.KeyMap

	registry *droplet.Registry
	settings *settings.Store
	vault    *vault.Vault
	config   *model.AppConfig

	feedView    feedlist.Model
	unlockView  unlock.Model
	accountView accountform.Model
	help        help.Model

	ready     bool
	unlocked  bool
	firstRun  bool
	statusMsg string
}

// New creates the root application model. firstRun indicates no vault
// master record exists yet, so the unlock view asks to create a
// passphrase instead of verifying one.
func New(
	reg *droplet.Registry,
	st *settings.Store,
	v *vault.Vault,
	cfg *model.AppConfig,
	firstRun bool,
) Model {
	k := keys.DefaultKeyMap()

	return Model{
		currentView: ViewUnlock,
		keys:        k,
		registry:    reg,
		settings:    st,
		vault:       v,
		config:      cfg,
		feedView:    feedlist.New(k, 80, 24),
		unlockView:  unlock.New(v, firstRun, 80, 24),
		help:        help.New(),
		firstRun:    firstRun,
	}
}

// Init tries the keyring passphrase first; if that unlocks the vault the
// prompt is skipped entirely.
func (m Model) Init() tea.Cmd {
	if m.config.RememberPassphrase && !m.firstRun {
		if pass, err := vault.RecallPassphrase(); err == nil && m.vault.Unlock(pass) {
			return func() tea.Msg { return unlock.UnlockedMsg{} }
		}
	}
	return m.unlockView.Init()
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		contentWidth := m.layout.ContentWidth()
		contentHeight := m.layout.ContentHeight()
		m.feedView.SetSize(contentWidth, contentHeight)
		m.unlockView.SetSize(contentWidth, contentHeight)
		m.accountView.SetSize(contentWidth, contentHeight)
		m.help.Width = contentWidth
		// Forward to the active view so huh forms can lay themselves out.
		return m.updateActiveView(msg)

	case unlock.UnlockedMsg:
		if m.config.RememberPassphrase && msg.Passphrase != "" {
			// Best effort; the keyring may be unavailable.
			_ = vault.RememberPassphrase(msg.Passphrase)
		}
		return m.handleUnlocked()

	case unlock.QuitMsg:
		return m, tea.Quit

	case accountsLoadedMsg:
		if msg.err != nil {
			m.statusMsg = fmt.Sprintf("Error loading accounts: %v", msg.err)
			return m, m.waitForFeedEvent()
		}
		cmds := make([]tea.Cmd, 0, len(msg.accounts)+1)
		for _, acct := range msg.accounts {
			cmds = append(cmds, m.addAccount(acct))
		}
		cmds = append(cmds, m.waitForFeedEvent())
		return m, tea.Batch(cmds...)

	case feedEventMsg:
		var cmd tea.Cmd
		if msg.event.Removed {
			cmd = m.feedView.RemoveSnapshot(msg.event.Owner)
		} else {
			cmd = m.feedView.SetSnapshot(msg.event.Snapshot)
		}
		return m, tea.Batch(cmd, m.waitForFeedEvent())

	case feedClosedMsg:
		return m, tea.Quit

	case accountAddedMsg:
		if msg.err != nil {
			m.statusMsg = addErrorMessage(msg.settings, msg.err)
			return m, nil
		}
		m.statusMsg = fmt.Sprintf("Added %s", msg.settings.DisplayName())
		return m, m.persistAccounts()

	case accountRemovedMsg:
		m.statusMsg = fmt.Sprintf("Removed %s", msg.account)
		return m, m.persistAccounts()

	case accountReconfiguredMsg:
		if msg.err != nil {
			m.statusMsg = fmt.Sprintf("Reconfigure failed, previous settings kept: %v", msg.err)
			return m, nil
		}
		m.statusMsg = "Account reconfigured"
		return m, m.persistAccounts()

	case settingsSavedMsg:
		if msg.err != nil {
			m.statusMsg = fmt.Sprintf("Error saving settings: %v", msg.err)
		}
		return m, nil

	case accountform.SubmittedMsg:
		m.currentView = ViewFeed
		if msg.Target == (model.Identifier{}) {
			return m, m.addAccount(msg.Settings)
		}
		return m, m.reconfigureAccount(msg.Target, msg.Settings)

	case accountform.CancelledMsg:
		m.currentView = ViewFeed
		return m, nil

	case feedlist.RefreshRequestMsg:
		m.registry.RefreshAll()
		m.statusMsg = "Refreshing..."
		return m, nil

	case tea.KeyMsg:
		if mdl, cmd, handled := m.handleGlobalKeys(msg); handled {
			return mdl, cmd
		}
	}

	return m.updateActiveView(msg)
}

// handleUnlocked transitions from the unlock prompt to the feed and kicks
// off account loading and the polling scheduler.
func (m Model) handleUnlocked() (tea.Model, tea.Cmd) {
	m.unlocked = true
	m.currentView = ViewFeed

	interval := time.Duration(m.config.PollIntervalSec) * time.Second
	m.registry.SchedulePolling(interval)

	cmds := []tea.Cmd{m.loadAccounts()}
	if m.firstRun {
		// Persist the fresh master record even before any account exists.
		cmds = append(cmds, m.persistAccounts())
	}
	return m, tea.Batch(cmds...)
}

// handleGlobalKeys processes keys that apply outside of form input.
func (m Model) handleGlobalKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd, bool) {
	// Forms own the keyboard while active.
	if m.currentView == ViewUnlock || m.currentView == ViewAccountForm {
		if msg.String() == "ctrl+c" {
			return m, tea.Quit, true
		}
		return m, nil, false
	}

	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit, true

	case "q":
		if m.currentView == ViewFeed {
			return m, tea.Quit, true
		}

	case "?":
		if m.currentView == ViewHelp {
			m.currentView = m.previousView
			return m, nil, true
		}
		m.previousView = m.currentView
		m.currentView = ViewHelp
		return m, nil, true

	case "esc":
		if m.currentView == ViewHelp {
			m.currentView = m.previousView
			return m, nil, true
		}

	case "a":
		if m.currentView == ViewFeed {
			m.currentView = ViewAccountForm
			m.accountView = accountform.New(
				m.layout.ContentWidth(), m.layout.ContentHeight(),
			)
			return m, m.accountView.Init(), true
		}

	case "x":
		if m.currentView == ViewFeed {
			item, ok := m.feedView.SelectedItem()
			if !ok {
				return m, nil, true
			}
			return m, m.removeAccount(item.Owner, item.Account), true
		}

	case "c":
		if m.currentView == ViewFeed {
			item, ok := m.feedView.SelectedItem()
			if !ok {
				return m, nil, true
			}
			d, found := m.registry.Droplet(item.Owner)
			if !found {
				return m, nil, true
			}
			m.currentView = ViewAccountForm
			m.accountView = accountform.NewReconfigure(
				item.Owner, d.Settings(),
				m.layout.ContentWidth(), m.layout.ContentHeight(),
			)
			return m, m.accountView.Init(), true
		}
	}

	return m, nil, false
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewUnlock:
		m.unlockView, cmd = m.unlockView.Update(msg)
	case ViewFeed:
		m.feedView, cmd = m.feedView.Update(msg)
	case ViewAccountForm:
		m.accountView, cmd = m.accountView.Update(msg)
	case ViewHelp:
		// Help is static.
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader("rainfeed", m.pollStatus())
	content := m.renderContent()
	statusBar := m.layout.RenderStatusBar(m.keyHints(), m.statusText())

	return m.layout.RenderWithFrame(header, content, statusBar)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewUnlock:
		return m.unlockView.View()
	case ViewFeed:
		return m.feedView.View()
	case ViewAccountForm:
		return m.accountView.View()
	case ViewHelp:
		m.help.ShowAll = true
		return m.help.View(m.keys)
	default:
		return ""
	}
}

// pollStatus returns a short string for the right side of the header.
func (m Model) pollStatus() string {
	if !m.unlocked {
		return "locked"
	}
	n := m.feedView.AccountCount()
	if n == 0 {
		return "no accounts"
	}
	if n == 1 {
		return "1 account"
	}
	return fmt.Sprintf("%d accounts", n)
}

// statusText returns the transient message shown on the right of the
// status bar, if any.
func (m Model) statusText() string {
	if m.currentView != ViewFeed {
		return ""
	}
	return m.statusMsg
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewUnlock:
		return "enter submit | ctrl+c quit"
	case ViewAccountForm:
		return "enter submit | esc cancel"
	case ViewHelp:
		return "? close help | esc back"
	default:
		return "q quit | ? help | r refresh | a add | x remove | c reconfigure"
	}
}

// waitForFeedEvent blocks on the registry's event channel and hands the
// next update to the UI loop. It reschedules itself from Update.
func (m Model) waitForFeedEvent() tea.Cmd {
	reg := m.registry
	return func() tea.Msg {
		ev, ok := <-reg.Events()
		if !ok {
			return feedClosedMsg{}
		}
		return feedEventMsg{event: ev}
	}
}

// loadAccounts reads the persisted account list from the encrypted
// settings file.
func (m Model) loadAccounts() tea.Cmd {
	st := m.settings
	return func() tea.Msg {
		accounts, err := st.Load()
		return accountsLoadedMsg{accounts: accounts, err: err}
	}
}

// addAccount creates a droplet for the given settings on a worker
// goroutine.
func (m Model) addAccount(acct model.AccountSettings) tea.Cmd {
	reg := m.registry
	return func() tea.Msg {
		_, err := reg.AddDroplet(context.Background(), acct)
		return accountAddedMsg{settings: acct, err: err}
	}
}

// removeAccount tears down the droplet owning the given account.
func (m Model) removeAccount(owner model.Identifier, account string) tea.Cmd {
	reg := m.registry
	return func() tea.Msg {
		reg.RemoveDroplet(owner)
		return accountRemovedMsg{account: account, owner: owner}
	}
}

// reconfigureAccount applies new settings to an existing droplet,
// rebinding its feed identity when the account changed.
func (m Model) reconfigureAccount(owner model.Identifier, acct model.AccountSettings) tea.Cmd {
	reg := m.registry
	return func() tea.Msg {
		err := reg.ReconfigureDroplet(context.Background(), owner, acct)
		return accountReconfiguredMsg{owner: owner, err: err}
	}
}

// persistAccounts writes the registry's current account list through the
// encrypted settings store.
func (m Model) persistAccounts() tea.Cmd {
	reg := m.registry
	st := m.settings
	return func() tea.Msg {
		err := st.Save(reg.Accounts())
		return settingsSavedMsg{err: err}
	}
}

// addErrorMessage maps creation failures to status bar text.
func addErrorMessage(acct model.AccountSettings, err error) string {
	switch {
	case source.IsUnreachable(err):
		return fmt.Sprintf("%s unreachable, check host and network", acct.DisplayName())
	case source.IsConnectError(err):
		return fmt.Sprintf("Login failed for %s, check credentials", acct.DisplayName())
	default:
		return fmt.Sprintf("Could not add %s: %v", acct.DisplayName(), err)
	}
}
