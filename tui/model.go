package tui

import (
	"fmt"
	"strings"

	"charm.land/bubbles/v2/spinner"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
)

// state represents the current phase of a session command.
type state int

const (
	stateInit    state = iota
	stateBusy          // a network call is in flight
	stateProfile       // showing a fetched profile
	stateStatus        // showing the session status panel
	stateSuccess       // command completed
	stateError         // fatal error
)

// statusKind distinguishes line types in the status log.
type statusKind int

const (
	statusOK   statusKind = iota
	statusWarn            // warning / non-fatal
	statusInfo            // neutral info
)

// statusLine is one row in the scrolling status log.
type statusLine struct {
	kind statusKind
	text string
}

// Model is the BubbleTea model for the session CLI.
type Model struct {
	state   state
	spinner spinner.Model
	width   int
	height  int

	busyLabel string

	// Profile display
	profileID    string
	profileName  string
	profilePhone string
	profileEmail string

	// Status display
	authenticated bool
	firstTime     bool
	tokenPreview  string
	userName      string

	// Success / error display
	doneMsg string
	errMsg  string

	// Scrolling status log shown below the main panel
	statusLines []statusLine
}

// Lipgloss styles — defined once at package level.
var (
	styleTitleBox = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("99")).
			Padding(0, 2)

	stylePanel = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("244")).
			Padding(0, 2)

	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

// NewModel creates the initial TUI model.
func NewModel() Model {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))),
	)
	return Model{
		state:   stateInit,
		spinner: s,
	}
}

// Init starts the spinner animation.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	// ── Session lifecycle messages ───────────────────────────────────────────

	case MsgBanner:
		return m, nil

	case MsgRestoring:
		m.state = stateBusy
		m.busyLabel = "Loading stored session..."
		return m, nil

	case MsgSessionRestored:
		if msg.Name != "" {
			m.addStatus(statusOK, "Signed in as "+msg.Name)
		} else {
			m.addStatus(statusOK, "Signed in")
		}
		return m, nil

	case MsgNoSession:
		m.addStatus(statusInfo, "No active session")
		return m, nil

	case MsgAuthenticating:
		m.state = stateBusy
		m.busyLabel = msg.Label + "..."
		m.addStatus(statusInfo, msg.Label+"...")
		return m, nil

	case MsgAuthOK:
		if msg.Name != "" {
			m.doneMsg = "Welcome, " + msg.Name + "!"
		} else {
			m.doneMsg = "Signed in successfully!"
		}
		m.state = stateSuccess
		return m, nil

	case MsgAuthFailed:
		m.errMsg = msg.Message
		m.state = stateError
		return m, nil

	case MsgLoggingOut:
		m.state = stateBusy
		m.busyLabel = "Signing out..."
		return m, nil

	case MsgLoggedOut:
		m.doneMsg = "Signed out. Local session cleared."
		m.state = stateSuccess
		return m, nil

	case MsgSessionExpired:
		m.addStatus(statusWarn, "Session expired, sign in again")
		return m, nil

	case MsgProfile:
		m.profileID = msg.ID
		m.profileName = msg.Name
		m.profilePhone = msg.Phone
		m.profileEmail = msg.Email
		m.state = stateProfile
		return m, nil

	case MsgStatus:
		m.authenticated = msg.Authenticated
		m.firstTime = msg.FirstTime
		m.tokenPreview = msg.TokenPreview
		m.userName = msg.UserName
		m.state = stateStatus
		return m, nil

	case MsgIntroSkipped:
		m.doneMsg = "Intro marked as seen."
		m.state = stateSuccess
		return m, nil

	case MsgFatal:
		m.errMsg = msg.Err.Error()
		m.state = stateError
		return m, nil
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() tea.View {
	switch m.state {
	case stateProfile:
		return tea.NewView(m.viewProfile())
	case stateStatus:
		return tea.NewView(m.viewStatus())
	case stateSuccess:
		return tea.NewView(m.viewSuccess())
	case stateError:
		return tea.NewView(m.viewError())
	default:
		return tea.NewView(m.viewMain())
	}
}

// viewMain is shown during init and while a call is in flight.
func (m Model) viewMain() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  Storefront Session  "))
	b.WriteString("\n\n")

	b.WriteString(m.spinner.View())
	if m.busyLabel != "" {
		b.WriteString(" " + m.busyLabel + "\n")
	} else {
		b.WriteString(" Initializing...\n")
	}

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewProfile renders the fetched user profile.
func (m Model) viewProfile() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  Your Profile  "))
	b.WriteString("\n\n")

	var panel strings.Builder
	panel.WriteString(styleBold.Render("ID:    ") + m.profileID + "\n")
	panel.WriteString(styleBold.Render("Name:  ") + m.profileName + "\n")
	panel.WriteString(styleBold.Render("Phone: ") + m.profilePhone)
	if m.profileEmail != "" {
		panel.WriteString("\n" + styleBold.Render("Email: ") + m.profileEmail)
	}
	b.WriteString(stylePanel.Render(panel.String()))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatus renders the session status panel.
func (m Model) viewStatus() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleTitleBox.Render("  Session Status  "))
	b.WriteString("\n\n")

	var panel strings.Builder
	if m.authenticated {
		panel.WriteString(styleOK.Render("● active") + "\n")
		if m.userName != "" {
			panel.WriteString(styleBold.Render("User:  ") + m.userName + "\n")
		}
		panel.WriteString(styleBold.Render("Token: ") + m.tokenPreview + "...")
	} else {
		panel.WriteString(styleDim.Render("○ no session"))
	}
	panel.WriteString("\n" + styleDim.Render(fmt.Sprintf("First run: %v", m.firstTime)))
	b.WriteString(stylePanel.Render(panel.String()))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewSuccess is shown after a command completes.
func (m Model) viewSuccess() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleOK.Render("  ✓ " + m.doneMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewError is shown when a command fails.
func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(styleErr.Render("  ✗ Command failed"))
	b.WriteString("\n\n")
	b.WriteString(styleDim.Render("  " + m.errMsg))
	b.WriteString("\n")

	b.WriteString(m.viewStatusLog())
	return b.String()
}

// viewStatusLog renders the scrolling status log.
func (m Model) viewStatusLog() string {
	if len(m.statusLines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n")

	for _, line := range m.statusLines {
		switch line.kind {
		case statusOK:
			b.WriteString(styleOK.Render("  ✓ " + line.text))
		case statusWarn:
			b.WriteString(styleWarn.Render("  ⚠ " + line.text))
		default:
			b.WriteString(styleDim.Render("  · " + line.text))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// addStatus appends a line to the status log.
func (m *Model) addStatus(kind statusKind, text string) {
	m.statusLines = append(m.statusLines, statusLine{kind: kind, text: text})
}
