package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/emailflesh/internal/theme"
)

// Layout splits the terminal into a one-line header, the body and a
// one-line status bar.
type Layout struct {
	Width  int
	Height int
}

// NewLayout creates a Layout with the given terminal dimensions.
func NewLayout(width, height int) Layout {
	return Layout{Width: width, Height: height}
}

// BodyWidth returns the width available to the body.
func (l Layout) BodyWidth() int {
	return l.Width
}

// BodyHeight returns the rows left after the header and status bar.
func (l Layout) BodyHeight() int {
	h := l.Height - 2
	if h < 1 {
		return 1
	}
	return h
}

// Header renders the title on the left and a right-aligned badge.
func (l Layout) Header(title, badge string) string {
	return l.bar(theme.HeaderStyle, theme.HeaderStyle.Render(title), badge)
}

// StatusBar renders hints across the bottom row.
func (l Layout) StatusBar(hints string) string {
	return l.bar(theme.StatusBarStyle, theme.StatusBarStyle.Render(hints), "")
}

func (l Layout) bar(style lipgloss.Style, left, right string) string {
	gap := l.Width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	filler := lipgloss.NewStyle().
		Width(gap).
		Background(style.GetBackground()).
		Render("")

	return lipgloss.JoinHorizontal(lipgloss.Top, left, filler, right)
}

// Frame stacks header, body and status bar.
func (l Layout) Frame(header, body, statusBar string) string {
	return lipgloss.JoinVertical(lipgloss.Left, header, body, statusBar)
}
