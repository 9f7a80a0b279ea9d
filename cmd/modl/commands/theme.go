package commands

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/modlnet/modl/internal/audit"
	"github.com/modlnet/modl/internal/relayhub"
	"golang.org/x/term"
)

// tone is the meaning a piece of output carries. Each tone has one color
// and one plain-text tag.
type tone int

const (
	toneMuted tone = iota
	toneAccent
	toneGood
	toneWarn
	toneBad
	toneInfo
)

var palette = map[tone]lipgloss.Color{
	toneMuted:  lipgloss.Color("#6b7280"),
	toneAccent: lipgloss.Color("#8b5cf6"),
	toneGood:   lipgloss.Color("#22c55e"),
	toneWarn:   lipgloss.Color("#eab308"),
	toneBad:    lipgloss.Color("#ef4444"),
	toneInfo:   lipgloss.Color("#3b82f6"),
}

var plainTags = map[tone]string{
	toneGood: "[OK]",
	toneWarn: "[WARN]",
	toneBad:  "[ERROR]",
	toneInfo: "[INFO]",
}

var (
	colorText = lipgloss.Color("#f9fafb")
	colorRule = lipgloss.Color("#4b5563")
)

func (t tone) style() lipgloss.Style {
	s := lipgloss.NewStyle().Foreground(palette[t])
	if t == toneAccent {
		s = s.Bold(true)
	}
	return s
}

// paint colors s when stdout is a terminal.
func (t tone) paint(s string) string {
	if !isTTY() {
		return s
	}
	return t.style().Render(s)
}

var (
	styleTitle = lipgloss.NewStyle().Bold(true).Foreground(colorText)
	styleLabel = lipgloss.NewStyle().Foreground(palette[toneMuted]).Width(16)
	styleValue = lipgloss.NewStyle().Foreground(colorText)
	styleRule  = lipgloss.NewStyle().Foreground(colorRule)
	styleBox   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorRule).
			Padding(0, 1)
)

// isTTY reports whether stdout is a terminal.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// statusTones colors the states printed by relay, audit, template,
// account, health and demo output. Unknown states are muted.
var statusTones = map[string]tone{
	relayhub.StatusOK.String():                toneGood,
	relayhub.StatusRelayedCallFailed.String(): toneBad,
	relayhub.StatusPostRelayedFailed.String(): toneWarn,
	audit.StatusApproved.String():             toneGood,
	audit.StatusRejected.String():             toneBad,
	audit.StatusPending.String():              toneWarn,
	"disputed":                                toneWarn,
	"verified":                                toneGood,
	"audited":                                 toneGood,
	"deprecated":                              toneBad,
	"staked":                                  toneGood,
	"unstaked":                                toneBad,
	"ok":                                      toneGood,
	"degraded":                                toneWarn,
	"unhealthy":                               toneBad,
	"passed":                                  toneGood,
	"failed":                                  toneBad,
}

// StatusBadge renders status as a filled badge on a terminal and as-is
// otherwise.
func StatusBadge(status string) string {
	if !isTTY() {
		return status
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#000000")).
		Background(palette[statusTones[status]]).
		Bold(true).
		Padding(0, 1).
		Render(status)
}

// Logo returns the product name in the accent color.
func Logo() string {
	return toneAccent.paint("modl")
}
