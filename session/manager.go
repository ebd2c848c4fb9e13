// Package session implements the session and token lifecycle of the
// storefront client: durable token storage, authorization-header
// synchronization across transports, a request pipeline that recovers
// expired tokens through a single-flight refresh, and the login / signup /
// logout operations that tie them together.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config configures a Manager.
type Config struct {
	// BaseURL is the storefront API root, e.g. https://api.example.com.
	BaseURL string
	// NotifyURL is the push-binding service root. Defaults to BaseURL.
	NotifyURL string
	// Store persists tokens and session material. Required.
	Store Store
	// Logger defaults to zap.NewNop().
	Logger *zap.Logger
	// Timeout bounds every network call, refresh included. Defaults to 10s.
	Timeout time.Duration
	// HTTPClient optionally replaces the underlying HTTP client of both
	// transports.
	HTTPClient *http.Client
}

// Manager owns the session lifecycle. All token mutation goes through it (or
// through the pipeline's refresh path); no other code writes tokens, which
// keeps the store, the in-memory state, and every transport's Authorization
// header from diverging.
type Manager struct {
	store       Store
	state       *State
	logger      *zap.Logger
	api         *Transport
	notify      *Transport
	transports  []*Transport
	pipeline    *Pipeline
	coordinator *refreshCoordinator

	initMu      sync.Mutex
	initialized bool
}

// NewManager wires up the session core. The API transport and the
// notification transport share base configuration but carry independent
// default-header maps.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("BaseURL is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("Store is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	notifyURL := cfg.NotifyURL
	if notifyURL == "" {
		notifyURL = cfg.BaseURL
	}

	var opts []TransportOption
	if cfg.Timeout > 0 {
		opts = append(opts, WithTimeout(cfg.Timeout))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, WithHTTPClient(cfg.HTTPClient))
	}

	api, err := NewTransport(cfg.BaseURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create API transport: %w", err)
	}
	notify, err := NewTransport(notifyURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification transport: %w", err)
	}

	m := &Manager{
		store:      cfg.Store,
		state:      NewState(),
		logger:     logger,
		api:        api,
		notify:     notify,
		transports: []*Transport{api, notify},
	}
	m.pipeline = newPipeline(m.store, m.state, logger)
	m.coordinator = &refreshCoordinator{
		store:       m.store,
		state:       m.state,
		transport:   api,
		pipeline:    m.pipeline,
		syncHeaders: m.SyncAuthHeaders,
		logger:      logger,
	}
	m.pipeline.coordinator = m.coordinator
	m.pipeline.invalidate = m.clearLocalSession

	return m, nil
}

// State returns the session state for subscription and inspection.
func (m *Manager) State() *State {
	return m.state
}

// Initialize hydrates the session from the store. It runs exactly once;
// calling it again returns the current snapshot. Storage errors hydrate an
// unauthenticated session rather than failing startup.
func (m *Manager) Initialize(ctx context.Context) Snapshot {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.initialized {
		return m.state.Snapshot()
	}

	access := m.getOrEmpty(ctx, KeyAccessToken)
	if access != "" {
		m.state.Login(access)

		if raw := m.getOrEmpty(ctx, KeyUserData); raw != "" {
			var user UserProfile
			if err := json.Unmarshal([]byte(raw), &user); err != nil {
				m.logger.Warn("cached user profile is corrupt", zap.Error(err))
			} else {
				m.state.SetUser(&user)
			}
		}
	}

	if m.getOrEmpty(ctx, KeyIsFirstTimeUser) == "false" {
		m.state.CompleteFirstTimeFlow()
	}

	m.SyncAuthHeaders(ctx)
	m.initialized = true

	return m.state.Snapshot()
}

// Login authenticates with phone and password. On success the token pair is
// persisted, state updated, headers synchronized, and the push binding
// registered (best-effort), in that order. The returned profile may be nil
// when the backend omits it; fetch it with Profile.
func (m *Manager) Login(ctx context.Context, phone, password string) (*UserProfile, error) {
	resp, err := m.pipeline.Do(ctx, m.api, &Request{
		Method: http.MethodPost,
		Path:   "/auth/login",
		Body:   map[string]string{"phone": phone, "password": password},
		noAuth: true,
	})
	if err != nil {
		return nil, err
	}
	return m.completeAuth(ctx, resp.Body)
}

// SignupParams is the registration payload. The password is sent once and
// never persisted.
type SignupParams struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

// Signup registers a new account and performs an implicit login with the
// tokens the signup endpoint returns.
func (m *Manager) Signup(ctx context.Context, params SignupParams) (*UserProfile, error) {
	resp, err := m.pipeline.Do(ctx, m.api, &Request{
		Method: http.MethodPost,
		Path:   "/auth/signup",
		Body:   params,
		noAuth: true,
	})
	if err != nil {
		return nil, err
	}
	return m.completeAuth(ctx, resp.Body)
}

// completeAuth settles a successful login or signup response: store writes,
// then state, then headers, then push binding. Dependent requests may be
// issued as soon as this returns.
func (m *Manager) completeAuth(ctx context.Context, body []byte) (*UserProfile, error) {
	token, err := extractToken(body)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Message: genericErrorMessage, Err: err}
	}

	user, err := extractUser(body)
	if err != nil {
		m.logger.Warn("failed to parse user from auth response", zap.Error(err))
	}

	if err := m.store.Set(ctx, KeyAccessToken, token.AccessToken); err != nil {
		m.logger.Warn("failed to persist access token", zap.Error(err))
	}
	if token.RefreshToken != "" {
		if err := m.store.Set(ctx, KeyRefreshToken, token.RefreshToken); err != nil {
			m.logger.Warn("failed to persist refresh token", zap.Error(err))
		}
	} else {
		// Degraded session: no silent renewal possible.
		m.logger.Warn("auth response carried no refresh token")
		if err := m.store.Remove(ctx, KeyRefreshToken); err != nil {
			m.logger.Warn("failed to clear stale refresh token", zap.Error(err))
		}
	}
	if user != nil {
		if raw, marshalErr := json.Marshal(user); marshalErr == nil {
			if err := m.store.Set(ctx, KeyUserData, string(raw)); err != nil {
				m.logger.Warn("failed to persist user profile", zap.Error(err))
			}
		}
	}

	m.state.Login(token.AccessToken)
	if user != nil {
		m.state.SetUser(user)
	}

	m.SyncAuthHeaders(ctx)
	m.registerPushBinding(ctx)

	m.logger.Info("session established")
	return user, nil
}

// Logout tears the session down. It is infallible from the caller's
// perspective: the backend calls are best-effort and local state is always
// cleared.
func (m *Manager) Logout(ctx context.Context) {
	// Capture the refresh token first; the best-effort calls below may
	// invalidate the session as a side effect of a 401.
	refreshToken := m.getOrEmpty(ctx, KeyRefreshToken)

	m.unregisterPushBinding(ctx)

	if refreshToken != "" {
		_, err := m.pipeline.Do(ctx, m.api, &Request{
			Method:    http.MethodPost,
			Path:      "/auth/logout",
			Body:      map[string]string{"refreshToken": refreshToken},
			noRefresh: true,
		})
		if err != nil {
			m.logger.Warn("logout request failed", zap.Error(err))
		}
	}

	m.clearLocalSession(ctx)
	m.logger.Info("session cleared")
}

// SkipAuth marks the first-time flow complete without creating a session.
func (m *Manager) SkipAuth(ctx context.Context) {
	m.state.CompleteFirstTimeFlow()
	if err := m.store.Set(ctx, KeyIsFirstTimeUser, "false"); err != nil {
		m.logger.Warn("failed to persist first-time flag", zap.Error(err))
	}
}

// Profile fetches the current user, re-caches it, and updates the state.
func (m *Manager) Profile(ctx context.Context) (*UserProfile, error) {
	resp, err := m.pipeline.Do(ctx, m.api, &Request{
		Method: http.MethodGet,
		Path:   "/auth/profile",
	})
	if err != nil {
		return nil, err
	}

	user, err := extractUser(resp.Body)
	if err != nil || user == nil {
		return nil, &Error{Kind: KindUnknown, Message: genericErrorMessage, Err: err}
	}

	if raw, marshalErr := json.Marshal(user); marshalErr == nil {
		if err := m.store.Set(ctx, KeyUserData, string(raw)); err != nil {
			m.logger.Warn("failed to persist user profile", zap.Error(err))
		}
	}
	m.state.SetUser(user)

	return user, nil
}

// Do executes an arbitrary API request through the pipeline on the API
// transport. Domain features build on this.
func (m *Manager) Do(ctx context.Context, req *Request) (*Response, error) {
	return m.pipeline.Do(ctx, m.api, req)
}

// SyncAuthHeaders reads the current access token from the store and applies
// it to every transport's default Authorization header, deleting the header
// when no token is present. Called after every token mutation, before any
// dependent request is issued.
func (m *Manager) SyncAuthHeaders(ctx context.Context) {
	access, err := m.store.Get(ctx, KeyAccessToken)
	if err != nil {
		m.logger.Warn("failed to read access token, clearing auth headers", zap.Error(err))
		access = ""
	}

	for _, t := range m.transports {
		if access != "" {
			t.SetHeader("Authorization", "Bearer "+access)
		} else {
			t.DeleteHeader("Authorization")
		}
	}
}

// clearLocalSession removes session keys, forces the state unauthenticated,
// and clears auth headers. Removal failures are swallowed: logout must
// always complete locally. Device keys survive; they are not session-scoped.
func (m *Manager) clearLocalSession(ctx context.Context) {
	for _, key := range []string{KeyAccessToken, KeyRefreshToken, KeyUserData} {
		if err := m.store.Remove(ctx, key); err != nil {
			m.logger.Warn("failed to clear session key",
				zap.String("key", key), zap.Error(err))
		}
	}
	m.state.ForceUnauthenticated()
	m.SyncAuthHeaders(ctx)
}

// getOrEmpty reads a key, logging and failing open to "" on storage errors.
func (m *Manager) getOrEmpty(ctx context.Context, key string) string {
	value, err := m.store.Get(ctx, key)
	if err != nil {
		m.logger.Warn("storage read failed", zap.String("key", key), zap.Error(err))
		return ""
	}
	return value
}
