package feedlist

import (
	"sort"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/rainfeed/internal/keys"
	"github.com/nhle/rainfeed/internal/model"
	"github.com/nhle/rainfeed/internal/theme"
)

// RefreshRequestMsg is sent when the user asks for an immediate poll.
type RefreshRequestMsg struct{}

// Model is the merged feed view. It flattens the snapshots of every
// droplet into a single list ordered newest first.
type Model struct {
	list      list.Model
	keys      *keys.KeyMap
	snapshots map[model.Identifier]model.DropletModel
	width     int
	height    int
}

// New creates a feed list model.
func New(k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, RippleDelegate{}, width, height-2)
	l.Title = "Feed"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle

	return Model{
		list:      l,
		keys:      k,
		snapshots: make(map[model.Identifier]model.DropletModel),
		width:     width,
		height:    height,
	}
}

// SetSnapshot installs or replaces one droplet's snapshot and rebuilds
// the flattened list.
func (m *Model) SetSnapshot(snap model.DropletModel) tea.Cmd {
	m.snapshots[snap.OwnerID] = snap
	return m.rebuild()
}

// RemoveSnapshot drops a droplet's entries from the feed.
func (m *Model) RemoveSnapshot(owner model.Identifier) tea.Cmd {
	delete(m.snapshots, owner)
	return m.rebuild()
}

// rebuild flattens all snapshots into list items ordered newest first.
func (m *Model) rebuild() tea.Cmd {
	var flat []RippleItem
	for _, snap := range m.snapshots {
		for _, r := range snap.Ripples {
			flat = append(flat, RippleItem{
				Ripple:  r,
				Owner:   snap.OwnerID,
				Account: snap.DisplayName,
			})
		}
	}

	sort.SliceStable(flat, func(i, j int) bool {
		return flat[i].Ripple.Less(flat[j].Ripple)
	})

	items := make([]list.Item, len(flat))
	for i, it := range flat {
		items[i] = it
	}
	return m.list.SetItems(items)
}

// SelectedItem returns the currently highlighted feed entry.
func (m Model) SelectedItem() (RippleItem, bool) {
	item, ok := m.list.SelectedItem().(RippleItem)
	return item, ok
}

// AccountCount returns the number of droplets feeding the list.
func (m Model) AccountCount() int {
	return len(m.snapshots)
}

// Init returns no initial command; snapshots arrive via registry events.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the feed list view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, m.keys.Refresh) {
			return m, func() tea.Msg { return RefreshRequestMsg{} }
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// View renders the feed list.
func (m Model) View() string {
	return m.list.View()
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-2)
}
