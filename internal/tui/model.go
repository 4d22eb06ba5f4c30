package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const refreshInterval = 2 * time.Second

type tickMsg time.Time

// Model is the live status view
type Model struct {
	refresh   RefreshFunc
	report    Report
	lastError string
}

// NewModel creates a status model with an initial report
func NewModel(refresh RefreshFunc) Model {
	m := Model{refresh: refresh}
	return m.doRefresh()
}

// Init schedules the first periodic refresh
func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles key presses and refresh ticks
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m.doRefresh(), nil
		}

	case tickMsg:
		return m.doRefresh(), tick()
	}

	return m, nil
}

func (m Model) doRefresh() Model {
	report, err := m.refresh()
	if err != nil {
		m.lastError = err.Error()
		return m
	}
	m.report = report
	m.lastError = ""
	return m
}

// View renders the device table
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00d7ff")).MarginBottom(1)
	headerStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#808080"))
	freeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#5fff5f"))
	reservedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#ffaf5f"))
	orphanedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f5f")).Bold(true)
	hintStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#5fafff")).MarginTop(1)
	errorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5f5f")).Bold(true).MarginTop(1)

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("gpu-reserve — %s", m.report.Host)))
	b.WriteString("\n\n")
	b.WriteString(headerStyle.Render(fmt.Sprintf("%-6s %-28s %-10s %-9s %s", "GPU", "NAME", "CLASS", "STATE", "OCCUPANT")))
	b.WriteString("\n")

	for _, row := range m.report.Rows {
		style := freeStyle
		switch row.State {
		case StateReserved:
			style = reservedStyle
		case StateOrphaned:
			style = orphanedStyle
		}

		line := fmt.Sprintf("gpu%-3d %-28s %-10s %-9s %s", row.Index, row.Name, row.Class, row.State, row.Occupant)
		b.WriteString(style.Render(line))
		b.WriteString("\n")
	}

	if len(m.report.Rows) == 0 {
		b.WriteString("No devices found\n")
	}

	b.WriteString(hintStyle.Render(fmt.Sprintf("Updated %s | Refresh: r | Quit: q", m.report.Updated.Format("15:04:05"))))
	b.WriteString("\n")

	if m.lastError != "" {
		b.WriteString(errorStyle.Render("⚠ " + m.lastError))
		b.WriteString("\n")
	}

	return b.String()
}
