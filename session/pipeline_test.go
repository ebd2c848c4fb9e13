package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestManager(t *testing.T, serverURL string) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		BaseURL: serverURL,
		Store:   NewMemoryStore(),
		Logger:  zap.NewNop(),
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

// seedSession plants an authenticated session directly in the store and
// state, as if a login had happened in an earlier process.
func seedSession(t *testing.T, m *Manager, access, refresh string) {
	t.Helper()
	ctx := context.Background()
	if err := m.store.Set(ctx, KeyAccessToken, access); err != nil {
		t.Fatalf("seed access token: %v", err)
	}
	if refresh != "" {
		if err := m.store.Set(ctx, KeyRefreshToken, refresh); err != nil {
			t.Fatalf("seed refresh token: %v", err)
		}
	}
	m.state.Login(access)
	m.SyncAuthHeaders(ctx)
}

func bearerOf(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func TestPipeline_SingleRefreshUnderConcurrentLoad(t *testing.T) {
	var refreshCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		if bearerOf(r) != "T2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"orders":[]}`)
	})
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		// Hold the refresh open so every concurrent 401 joins it.
		time.Sleep(200 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"accessToken":"T2","refreshToken":"R2"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	m := newTestManager(t, server.URL)
	seedSession(t, m, "T1", "R1")

	const concurrent = 3
	var wg sync.WaitGroup
	errs := make([]error, concurrent)

	wg.Add(concurrent)
	for i := 0; i < concurrent; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.Do(context.Background(), &Request{
				Method: http.MethodGet,
				Path:   "/orders",
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Request %d failed: %v", i, err)
		}
	}
	if got := refreshCalls.Load(); got != 1 {
		t.Errorf("Refresh endpoint called %d times, want exactly 1", got)
	}

	// The new pair is persisted and every transport carries the new token.
	if access, _ := m.store.Get(context.Background(), KeyAccessToken); access != "T2" {
		t.Errorf("Stored access token = %q, want T2", access)
	}
	if refresh, _ := m.store.Get(context.Background(), KeyRefreshToken); refresh != "R2" {
		t.Errorf("Stored refresh token = %q, want R2", refresh)
	}
	for i, tr := range m.transports {
		if got := tr.Header("Authorization"); got != "Bearer T2" {
			t.Errorf("Transport %d Authorization = %q, want Bearer T2", i, got)
		}
	}
}

func TestPipeline_RefreshEndpoint401IsTerminal(t *testing.T) {
	var refreshCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	m := newTestManager(t, server.URL)
	seedSession(t, m, "T1", "R1")

	var downgrades atomic.Int32
	m.state.Subscribe(func(snap Snapshot) {
		if !snap.Authenticated {
			downgrades.Add(1)
		}
	})

	_, err := m.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/orders"})
	if !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Do() error = %v, want ErrSessionExpired", err)
	}

	if got := refreshCalls.Load(); got != 1 {
		t.Errorf("Refresh endpoint called %d times, want exactly 1", got)
	}
	if got := downgrades.Load(); got != 1 {
		t.Errorf("State downgraded %d times, want exactly 1", got)
	}
	if access, _ := m.store.Get(context.Background(), KeyAccessToken); access != "" {
		t.Errorf("Access token still stored after terminal failure: %q", access)
	}
	if refresh, _ := m.store.Get(context.Background(), KeyRefreshToken); refresh != "" {
		t.Errorf("Refresh token still stored after terminal failure: %q", refresh)
	}
}

func TestPipeline_401WithoutRefreshTokenForcesLogout(t *testing.T) {
	var refreshCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	m := newTestManager(t, server.URL)
	seedSession(t, m, "T1", "") // no refresh token: degraded session

	_, err := m.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/orders"})
	if !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Do() error = %v, want ErrSessionExpired", err)
	}

	if got := refreshCalls.Load(); got != 0 {
		t.Errorf("Refresh endpoint called %d times, want 0", got)
	}
	if m.state.Snapshot().Authenticated {
		t.Errorf("State still authenticated after terminal 401")
	}
	if got := m.api.Header("Authorization"); got != "" {
		t.Errorf("Authorization header still set after forced logout: %q", got)
	}
}

func TestPipeline_TransparentRetryAfterRefresh(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		if bearerOf(r) != "T2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"orders":[{"id":"o1"}]}`)
	})
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["refreshToken"] != "R1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"accessToken":"T2"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	m := newTestManager(t, server.URL)
	seedSession(t, m, "T1", "R1")

	resp, err := m.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/orders"})
	if err != nil {
		t.Fatalf("Do() error = %v; the caller must never see a recoverable 401", err)
	}
	if !strings.Contains(string(resp.Body), "o1") {
		t.Errorf("Response body = %s, want the replayed request's result", resp.Body)
	}

	// Fixed mode: the server returned no refresh token, so R1 is preserved.
	if refresh, _ := m.store.Get(context.Background(), KeyRefreshToken); refresh != "R1" {
		t.Errorf("Stored refresh token = %q, want preserved R1", refresh)
	}
}

func TestPipeline_NetworkErrorLeavesSessionAlone(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	serverURL := server.URL
	server.Close() // connection refused from here on

	m := newTestManager(t, serverURL)
	seedSession(t, m, "T1", "R1")

	_, err := m.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/orders"})

	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Kind != KindNetwork {
		t.Fatalf("Do() error = %v, want KindNetwork", err)
	}
	if !m.state.Snapshot().Authenticated {
		t.Errorf("Network error must not touch session state")
	}
	if access, _ := m.store.Get(context.Background(), KeyAccessToken); access != "T1" {
		t.Errorf("Access token = %q, want untouched T1", access)
	}
}

func TestPipeline_ErrorClassification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantKind    Kind
		wantMessage string
	}{
		{
			name:        "validation error with message",
			status:      http.StatusUnprocessableEntity,
			body:        `{"message":"Phone number is invalid"}`,
			wantKind:    KindValidation,
			wantMessage: "Phone number is invalid",
		},
		{
			name:        "server error",
			status:      http.StatusBadGateway,
			body:        `upstream exploded`,
			wantKind:    KindServer,
			wantMessage: genericErrorMessage,
		},
		{
			name:        "not found",
			status:      http.StatusNotFound,
			body:        `{"message":"No such order"}`,
			wantKind:    KindValidation,
			wantMessage: "No such order",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			m := newTestManager(t, server.URL)
			seedSession(t, m, "T1", "R1")

			_, err := m.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/x"})

			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("Do() error = %v, want *Error", err)
			}
			if apiErr.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", apiErr.Kind, tt.wantKind)
			}
			if apiErr.Message != tt.wantMessage {
				t.Errorf("Message = %q, want %q", apiErr.Message, tt.wantMessage)
			}
			if apiErr.Status != tt.status {
				t.Errorf("Status = %d, want %d", apiErr.Status, tt.status)
			}
		})
	}
}

func TestPipeline_ContentTypeOnMutatingVerbs(t *testing.T) {
	var gotContentType, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := newTestManager(t, server.URL)

	_, err := m.Do(context.Background(), &Request{
		Method: http.MethodPost,
		Path:   "/orders",
		Body:   map[string]string{"item": "m1"},
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", gotContentType)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q, want application/json", gotAccept)
	}
}

func TestPipeline_ReplayUsesNewToken(t *testing.T) {
	var tokensSeen []string
	var mu sync.Mutex

	mux := http.NewServeMux()
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		tokensSeen = append(tokensSeen, bearerOf(r))
		mu.Unlock()
		if bearerOf(r) != "T2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/auth/refresh-token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"accessToken":"T2","refreshToken":"R2"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	m := newTestManager(t, server.URL)
	seedSession(t, m, "T1", "R1")

	if _, err := m.Do(context.Background(), &Request{Method: http.MethodGet, Path: "/orders"}); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(tokensSeen) != 2 || tokensSeen[0] != "T1" || tokensSeen[1] != "T2" {
		t.Errorf("Tokens seen by server = %v, want [T1 T2]", tokensSeen)
	}
}
