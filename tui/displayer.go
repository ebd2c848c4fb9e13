package tui

import (
	"fmt"
	"io"

	tea "charm.land/bubbletea/v2"
)

// Displayer abstracts all output from the session commands.
type Displayer interface {
	Banner()
	Restoring()
	SessionRestored(name string)
	NoSession()
	Authenticating(label string)
	AuthOK(name string)
	AuthFailed(message string)
	LoggingOut()
	LoggedOut()
	SessionExpired()
	Profile(id, name, phone, email string)
	Status(authenticated, firstTime bool, tokenPreview, userName string)
	IntroSkipped()
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprintln(p.w, "=== Storefront Session CLI ===")
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) Restoring() {
	fmt.Fprintln(p.w, "Loading stored session...")
}

func (p *PlainDisplayer) SessionRestored(name string) {
	if name != "" {
		fmt.Fprintf(p.w, "Signed in as %s\n", name)
		return
	}
	fmt.Fprintln(p.w, "Signed in")
}

func (p *PlainDisplayer) NoSession() {
	fmt.Fprintln(p.w, "No active session")
}

func (p *PlainDisplayer) Authenticating(label string) {
	fmt.Fprintf(p.w, "%s...\n", label)
}

func (p *PlainDisplayer) AuthOK(name string) {
	if name != "" {
		fmt.Fprintf(p.w, "Welcome, %s!\n", name)
		return
	}
	fmt.Fprintln(p.w, "Signed in successfully!")
}

func (p *PlainDisplayer) AuthFailed(message string) {
	fmt.Fprintf(p.w, "Sign-in failed: %s\n", message)
}

func (p *PlainDisplayer) LoggingOut() {
	fmt.Fprintln(p.w, "Signing out...")
}

func (p *PlainDisplayer) LoggedOut() {
	fmt.Fprintln(p.w, "Signed out. Local session cleared.")
}

func (p *PlainDisplayer) SessionExpired() {
	fmt.Fprintln(p.w, "Your session has expired. Please sign in again.")
}

func (p *PlainDisplayer) Profile(id, name, phone, email string) {
	fmt.Fprintln(p.w, "----------------------------------------")
	fmt.Fprintf(p.w, "ID:    %s\n", id)
	fmt.Fprintf(p.w, "Name:  %s\n", name)
	fmt.Fprintf(p.w, "Phone: %s\n", phone)
	if email != "" {
		fmt.Fprintf(p.w, "Email: %s\n", email)
	}
	fmt.Fprintln(p.w, "----------------------------------------")
}

func (p *PlainDisplayer) Status(authenticated, firstTime bool, tokenPreview, userName string) {
	fmt.Fprintln(p.w, "----------------------------------------")
	if authenticated {
		fmt.Fprintln(p.w, "Session:  active")
		if userName != "" {
			fmt.Fprintf(p.w, "User:     %s\n", userName)
		}
		fmt.Fprintf(p.w, "Token:    %s...\n", tokenPreview)
	} else {
		fmt.Fprintln(p.w, "Session:  none")
	}
	fmt.Fprintf(p.w, "First run: %v\n", firstTime)
	fmt.Fprintln(p.w, "----------------------------------------")
}

func (p *PlainDisplayer) IntroSkipped() {
	fmt.Fprintln(p.w, "Intro marked as seen.")
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                         {}
func (NoopDisplayer) Restoring()                      {}
func (NoopDisplayer) SessionRestored(_ string)        {}
func (NoopDisplayer) NoSession()                      {}
func (NoopDisplayer) Authenticating(_ string)         {}
func (NoopDisplayer) AuthOK(_ string)                 {}
func (NoopDisplayer) AuthFailed(_ string)             {}
func (NoopDisplayer) LoggingOut()                     {}
func (NoopDisplayer) LoggedOut()                      {}
func (NoopDisplayer) SessionExpired()                 {}
func (NoopDisplayer) Profile(_, _, _, _ string)       {}
func (NoopDisplayer) Status(_, _ bool, _, _ string)   {}
func (NoopDisplayer) IntroSkipped()                   {}
func (NoopDisplayer) Fatal(_ error)                   {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) Restoring() {
	t.p.Send(MsgRestoring{})
}

func (t *ProgramDisplayer) SessionRestored(name string) {
	t.p.Send(MsgSessionRestored{Name: name})
}

func (t *ProgramDisplayer) NoSession() {
	t.p.Send(MsgNoSession{})
}

func (t *ProgramDisplayer) Authenticating(label string) {
	t.p.Send(MsgAuthenticating{Label: label})
}

func (t *ProgramDisplayer) AuthOK(name string) {
	t.p.Send(MsgAuthOK{Name: name})
}

func (t *ProgramDisplayer) AuthFailed(message string) {
	t.p.Send(MsgAuthFailed{Message: message})
}

func (t *ProgramDisplayer) LoggingOut() {
	t.p.Send(MsgLoggingOut{})
}

func (t *ProgramDisplayer) LoggedOut() {
	t.p.Send(MsgLoggedOut{})
}

func (t *ProgramDisplayer) SessionExpired() {
	t.p.Send(MsgSessionExpired{})
}

func (t *ProgramDisplayer) Profile(id, name, phone, email string) {
	t.p.Send(MsgProfile{ID: id, Name: name, Phone: phone, Email: email})
}

func (t *ProgramDisplayer) Status(authenticated, firstTime bool, tokenPreview, userName string) {
	t.p.Send(MsgStatus{
		Authenticated: authenticated,
		FirstTime:     firstTime,
		TokenPreview:  tokenPreview,
		UserName:      userName,
	})
}

func (t *ProgramDisplayer) IntroSkipped() {
	t.p.Send(MsgIntroSkipped{})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
