package feedlist

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/rainfeed/internal/model"
	"github.com/nhle/rainfeed/internal/theme"
)

// RippleItem wraps a ripple so it can be used in a bubbles/list, carrying
// the owning droplet so account actions know their target.
type RippleItem struct {
	Ripple  model.Ripple
	Owner   model.Identifier
	Account string
}

// FilterValue returns the string used for fuzzy filtering.
func (i RippleItem) FilterValue() string { return i.Ripple.Subject }

// Title returns the feed line title.
func (i RippleItem) Title() string { return i.Ripple.Subject }

// Description returns a short summary line for the list.
func (i RippleItem) Description() string {
	return fmt.Sprintf("%s | %s", i.Account, relativeTime(i.Ripple.ReceivedAt))
}

// RippleDelegate implements list.ItemDelegate for rendering feed lines.
type RippleDelegate struct{}

// Height returns the number of lines each item takes.
func (d RippleDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d RippleDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused for now).
func (d RippleDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single feed line.
func (d RippleDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	ri, ok := item.(RippleItem)
	if !ok {
		return
	}

	origin := theme.OriginStyle.Render(ri.Ripple.Origin)
	account := theme.AccountStyle.Render(ri.Account)
	timeStr := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(relativeTime(ri.Ripple.ReceivedAt))

	line := fmt.Sprintf("%s %s  %s  %s", account, origin, ri.Ripple.Subject, timeStr)

	if index == m.Index() {
		line = theme.SelectedItemStyle.Render(line)
	} else {
		line = theme.ListItemStyle.Render(line)
	}

	fmt.Fprint(w, line)
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case d < 24*time.Hour:
		hrs := int(d.Hours())
		if hrs == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hrs)
	case d < 7*24*time.Hour:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		weeks := int(d.Hours() / 24 / 7)
		if weeks == 1 {
			return "1w ago"
		}
		return fmt.Sprintf("%dw ago", weeks)
	}
}
