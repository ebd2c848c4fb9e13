package session

import "sync"

// UserProfile is the cached profile of the signed-in customer.
type UserProfile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// Snapshot is an immutable view of the session state. Authenticated is true
// exactly when AccessToken is non-empty; User is nil whenever Authenticated
// is false.
type Snapshot struct {
	Authenticated bool
	AccessToken   string
	User          *UserProfile
	FirstTimeUser bool
}

// State is the in-memory authentication status the UI subscribes to. It
// mirrors the token store but never blocks on it: mutators update memory
// synchronously and persistence is handled by the Manager.
type State struct {
	mu     sync.Mutex
	snap   Snapshot
	nextID int
	subs   map[int]func(Snapshot)
}

// NewState creates a State for a fresh, unauthenticated process. The
// first-time flag stays set until the intro flow completes or is skipped.
func NewState() *State {
	return &State{
		snap: Snapshot{FirstTimeUser: true},
		subs: map[int]func(Snapshot){},
	}
}

// Snapshot returns the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Subscribe registers fn to be called after every state change. The returned
// function cancels the subscription. fn runs outside the state lock and may
// call back into State.
func (s *State) Subscribe(fn func(Snapshot)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Login marks the session authenticated with the given access token. The
// cached user, if any, is preserved.
func (s *State) Login(accessToken string) {
	s.mutate(func(snap *Snapshot) {
		snap.Authenticated = accessToken != ""
		snap.AccessToken = accessToken
		if !snap.Authenticated {
			snap.User = nil
		}
	})
}

// SetUser attaches the profile to the current session. Ignored while
// unauthenticated so a slow profile fetch cannot resurrect a logged-out user.
func (s *State) SetUser(user *UserProfile) {
	s.mutate(func(snap *Snapshot) {
		if !snap.Authenticated {
			return
		}
		snap.User = user
	})
}

// CompleteFirstTimeFlow clears the first-run flag.
func (s *State) CompleteFirstTimeFlow() {
	s.mutate(func(snap *Snapshot) {
		snap.FirstTimeUser = false
	})
}

// Logout clears the authenticated session.
func (s *State) Logout() {
	s.mutate(func(snap *Snapshot) {
		snap.Authenticated = false
		snap.AccessToken = ""
		snap.User = nil
	})
}

// ForceUnauthenticated is the immediate downgrade used by the pipeline on an
// unrecoverable 401.
func (s *State) ForceUnauthenticated() {
	s.Logout()
}

// mutate applies fn under the lock and notifies subscribers with the new
// snapshot after the lock is released. No-op mutations do not notify, so an
// already-unauthenticated session downgraded again stays silent.
func (s *State) mutate(fn func(*Snapshot)) {
	s.mu.Lock()
	before := s.snap
	fn(&s.snap)
	if s.snap == before {
		s.mu.Unlock()
		return
	}
	snap := s.snap
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub(snap)
	}
}
