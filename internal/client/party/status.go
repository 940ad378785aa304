package party

import "github.com/charmbracelet/lipgloss"

type Status int

const (
	StatusIdle Status = iota
	StatusHosting
	StatusConnecting
	StatusLive
	StatusSyncOnly
)

func (s Status) String() string {
	switch s {
	case StatusHosting:
		return "Hosting"
	case StatusConnecting:
		return "Connecting…"
	case StatusLive:
		return "Live"
	case StatusSyncOnly:
		return "Sync Only (WebRTC failed)"
	}
	return "Idle"
}

var (
	success = lipgloss.Color("#10B981")
	warning = lipgloss.Color("#F59E0B")
	danger  = lipgloss.Color("#EF4444")
	muted   = lipgloss.Color("#6B7280")
	primary = lipgloss.Color("#22d3ee")

	badge     = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	chatUser  = lipgloss.NewStyle().Foreground(primary).Bold(true)
	noticeTxt = lipgloss.NewStyle().Foreground(muted).Italic(true)
	errorTxt  = lipgloss.NewStyle().Foreground(danger)
)

// Render returns the status as a colored badge.
func (s Status) Render() string {
	c := muted
	switch s {
	case StatusLive, StatusHosting:
		c = success
	case StatusConnecting:
		c = warning
	case StatusSyncOnly:
		c = danger
	}
	return badge.Foreground(c).Render(s.String())
}
