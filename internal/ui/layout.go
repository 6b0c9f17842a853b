package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/rainfeed/internal/theme"
)

// Layout manages the terminal layout dimensions. The frame is a one-line
// header, the content area, and a one-line status bar.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height available for the main content area,
// accounting for the header and status bar.
func (l Layout) ContentHeight() int {
	return l.Height - l.HeaderHeight - l.StatusBarHeight
}

// RenderHeader renders the top bar: application title on the left, poll
// status on the right.
func (l Layout) RenderHeader(title string, pollStatus string) string {
	return l.bar(theme.HeaderStyle, title, pollStatus)
}

// RenderStatusBar renders the bottom bar: keyboard hints on the left and
// an optional transient status message on the right.
func (l Layout) RenderStatusBar(hints string, status string) string {
	if status != "" {
		status = lipgloss.NewStyle().Bold(true).Render(status)
	}
	return l.bar(theme.StatusBarStyle, hints, status)
}

// bar lays out a full-width single line with left and right segments and
// a background-filled gap between them.
func (l Layout) bar(style lipgloss.Style, left string, right string) string {
	leftRendered := style.Render(left)

	var rightRendered string
	if right != "" {
		rightRendered = style.Align(lipgloss.Right).Render(right)
	}

	gap := l.Width -
		lipgloss.Width(leftRendered) -
		lipgloss.Width(rightRendered)
	if gap < 0 {
		gap = 0
	}

	filler := style.Render(
		lipgloss.NewStyle().
			Width(gap).
			Background(style.GetBackground()).
			Render(""),
	)

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		leftRendered,
		filler,
		rightRendered,
	)
}

// RenderWithFrame composes a full terminal view by vertically joining
// the header, content area, and status bar.
func (l Layout) RenderWithFrame(
	header string,
	content string,
	statusBar string,
) string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		content,
		statusBar,
	)
}
