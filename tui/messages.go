package tui

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgRestoring signals that the stored session is being loaded.
type MsgRestoring struct{}

// MsgSessionRestored signals that a stored session was found and is active.
type MsgSessionRestored struct{ Name string }

// MsgNoSession signals that no stored session exists.
type MsgNoSession struct{}

// MsgAuthenticating signals that a login or signup call is in flight.
type MsgAuthenticating struct{ Label string }

// MsgAuthOK signals that authentication succeeded.
type MsgAuthOK struct{ Name string }

// MsgAuthFailed signals that authentication was rejected.
type MsgAuthFailed struct{ Message string }

// MsgLoggingOut signals that the session is being torn down.
type MsgLoggingOut struct{}

// MsgLoggedOut signals that logout completed.
type MsgLoggedOut struct{}

// MsgSessionExpired signals that the session was invalidated mid-operation
// and the user must sign in again.
type MsgSessionExpired struct{}

// MsgProfile carries the fetched user profile.
type MsgProfile struct {
	ID    string
	Name  string
	Phone string
	Email string
}

// MsgStatus carries the current session snapshot for display.
type MsgStatus struct {
	Authenticated bool
	FirstTime     bool
	TokenPreview  string
	UserName      string
}

// MsgIntroSkipped signals that the first-run intro was marked complete.
type MsgIntroSkipped struct{}

// MsgFatal signals a fatal error that should terminate the command.
type MsgFatal struct{ Err error }
