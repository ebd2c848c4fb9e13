package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	tea "charm.land/bubbletea/v2"
	"github.com/go-storefront/session-cli/session"
	"github.com/go-storefront/session-cli/tui"
)

var (
	serverURL         string
	notifyURL         string
	sessionFile       string
	flagServerURL     *string
	flagNotifyURL     *string
	flagSessionFile   *string
	flagPhone         *string
	flagPassword      *string
	flagName          *string
	flagEmail         *string
	configInitialized bool
)

const commandTimeout = 30 * time.Second

func init() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	// Define flags (but don't parse yet to avoid conflicts with test flags)
	flagServerURL = flag.String(
		"server-url",
		"",
		"Storefront API URL (default: http://localhost:8080 or API_URL env)",
	)
	flagNotifyURL = flag.String(
		"notify-url",
		"",
		"Notification service URL (default: same as server URL, or NOTIFY_URL env)",
	)
	flagSessionFile = flag.String(
		"session-file",
		"",
		"Session storage file (default: .storefront-session.json or SESSION_FILE env)",
	)
	flagPhone = flag.String("phone", "", "Phone number for login/signup (or PHONE env)")
	flagPassword = flag.String("password", "", "Password for login/signup (or PASSWORD env)")
	flagName = flag.String("name", "", "Display name for signup (or NAME env)")
	flagEmail = flag.String("email", "", "Email for signup, optional (or EMAIL env)")
}

// initConfig parses flags and initializes configuration
// Separated from init() to avoid conflicts with test flag parsing
func initConfig() {
	if configInitialized {
		return
	}
	configInitialized = true

	flag.Parse()

	// Priority: flag > env > default
	serverURL = getConfig(*flagServerURL, "API_URL", "http://localhost:8080")
	notifyURL = getConfig(*flagNotifyURL, "NOTIFY_URL", "")
	sessionFile = getConfig(*flagSessionFile, "SESSION_FILE", ".storefront-session.json")

	if err := validateServerURL(serverURL); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid API_URL: %v\n", err)
		os.Exit(1)
	}
	if notifyURL != "" {
		if err := validateServerURL(notifyURL); err != nil {
			fmt.Fprintf(os.Stderr, "Error: Invalid NOTIFY_URL: %v\n", err)
			os.Exit(1)
		}
	}

	// Warn if using HTTP instead of HTTPS
	if strings.HasPrefix(strings.ToLower(serverURL), "http://") {
		fmt.Fprintln(
			os.Stderr,
			"⚠️  WARNING: Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!",
		)
		fmt.Fprintln(
			os.Stderr,
			"⚠️  This is only safe for local development. Use HTTPS in production.",
		)
		fmt.Fprintln(os.Stderr)
	}
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// validateServerURL validates that the server URL is properly formatted
func validateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

// newLogger builds the zap logger. LOG_LEVEL selects verbosity; unset means
// silent so the displayer output stays clean.
func newLogger() *zap.Logger {
	levelName := os.Getenv("LOG_LEVEL")
	if levelName == "" {
		return zap.NewNop()
	}

	level, err := zapcore.ParseLevel(levelName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: unknown LOG_LEVEL %q, using info\n", levelName)
		level = zapcore.InfoLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to build logger: %v\n", err)
		return zap.NewNop()
	}
	return logger
}

// isTTY reports whether stderr is a character device (interactive terminal).
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: session-cli [flags] <command>")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  login       Sign in with -phone and -password")
	fmt.Fprintln(os.Stderr, "  signup      Create an account with -name, -phone, -password")
	fmt.Fprintln(os.Stderr, "  logout      Sign out and clear the local session")
	fmt.Fprintln(os.Stderr, "  status      Show the current session state")
	fmt.Fprintln(os.Stderr, "  profile     Fetch and display the current user")
	fmt.Fprintln(os.Stderr, "  skip-intro  Mark the first-run intro as seen")
	fmt.Fprintln(os.Stderr)
	flag.PrintDefaults()
}

func main() {
	initConfig()

	cmd := flag.Arg(0)
	if cmd == "" {
		usage()
		os.Exit(1)
	}

	logger := newLogger()
	defer func() { _ = logger.Sync() }()

	manager, err := session.NewManager(session.Config{
		BaseURL:   serverURL,
		NotifyURL: notifyURL,
		Store:     session.NewFileStore(sessionFile),
		Logger:    logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if isTTY() {
		// Run TUI program on stderr so stdout pipes are not corrupted
		m := tui.NewModel()
		// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
		// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		d := tui.NewProgramDisplayer(p)
		d.Banner()
		runErr := run(d, manager, cmd)
		p.Quit() // let BubbleTea drain terminal query responses before exiting
		wg.Wait()
		if runErr != nil {
			os.Exit(1)
		}
	} else {
		d := tui.NewPlainDisplayer(os.Stderr)
		d.Banner()
		if err := run(d, manager, cmd); err != nil {
			os.Exit(1)
		}
	}
}

func run(d tui.Displayer, m *session.Manager, cmd string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	d.Restoring()
	snapshot := m.Initialize(ctx)

	// Surface a forced downgrade (terminal 401 mid-command) to the user.
	// Logout downgrades on purpose, so it does not subscribe.
	if cmd != "logout" {
		unsubscribe := m.State().Subscribe(func(s session.Snapshot) {
			if !s.Authenticated {
				d.SessionExpired()
			}
		})
		defer unsubscribe()
	}

	switch cmd {
	case "login":
		return runLogin(ctx, d, m, snapshot)
	case "signup":
		return runSignup(ctx, d, m)
	case "logout":
		return runLogout(ctx, d, m, snapshot)
	case "status":
		runStatus(d, snapshot)
		return nil
	case "profile":
		return runProfile(ctx, d, m, snapshot)
	case "skip-intro":
		m.SkipAuth(ctx)
		d.IntroSkipped()
		return nil
	default:
		err := fmt.Errorf("unknown command: %s", cmd)
		d.Fatal(err)
		return err
	}
}

func runLogin(
	ctx context.Context,
	d tui.Displayer,
	m *session.Manager,
	snapshot session.Snapshot,
) error {
	if snapshot.Authenticated {
		d.SessionRestored(userName(snapshot.User))
		return nil
	}
	d.NoSession()

	phone := getConfig(*flagPhone, "PHONE", "")
	password := getConfig(*flagPassword, "PASSWORD", "")
	if phone == "" || password == "" {
		err := errors.New("login requires -phone and -password (or PHONE/PASSWORD env)")
		d.Fatal(err)
		return err
	}

	d.Authenticating("Signing in")
	user, err := m.Login(ctx, phone, password)
	if err != nil {
		d.AuthFailed(session.UserMessage(err))
		return err
	}

	d.AuthOK(userName(user))
	return nil
}

func runSignup(ctx context.Context, d tui.Displayer, m *session.Manager) error {
	params := session.SignupParams{
		Name:     getConfig(*flagName, "NAME", ""),
		Phone:    getConfig(*flagPhone, "PHONE", ""),
		Email:    getConfig(*flagEmail, "EMAIL", ""),
		Password: getConfig(*flagPassword, "PASSWORD", ""),
	}
	if params.Name == "" || params.Phone == "" || params.Password == "" {
		err := errors.New("signup requires -name, -phone and -password")
		d.Fatal(err)
		return err
	}

	d.Authenticating("Creating your account")
	user, err := m.Signup(ctx, params)
	if err != nil {
		d.AuthFailed(session.UserMessage(err))
		return err
	}

	d.AuthOK(userName(user))
	return nil
}

func runLogout(
	ctx context.Context,
	d tui.Displayer,
	m *session.Manager,
	snapshot session.Snapshot,
) error {
	if !snapshot.Authenticated {
		d.NoSession()
		return nil
	}

	d.LoggingOut()
	m.Logout(ctx)
	d.LoggedOut()
	return nil
}

func runStatus(d tui.Displayer, snapshot session.Snapshot) {
	d.Status(
		snapshot.Authenticated,
		snapshot.FirstTimeUser,
		tokenPreview(snapshot.AccessToken),
		userName(snapshot.User),
	)
}

func runProfile(
	ctx context.Context,
	d tui.Displayer,
	m *session.Manager,
	snapshot session.Snapshot,
) error {
	if !snapshot.Authenticated {
		d.NoSession()
		return errors.New("not signed in")
	}

	user, err := m.Profile(ctx)
	if err != nil {
		d.Fatal(errors.New(session.UserMessage(err)))
		return err
	}

	d.Profile(user.ID, user.Name, user.Phone, user.Email)
	return nil
}

func userName(user *session.UserProfile) string {
	if user == nil {
		return ""
	}
	return user.Name
}

// tokenPreview truncates a token for display.
func tokenPreview(token string) string {
	if len(token) > 24 {
		return token[:24]
	}
	return token
}
