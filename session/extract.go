package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// The backend's response envelope is not consistent: token material has been
// observed at the root, under "data", and under the legacy "token" key, with
// both camelCase and snake_case field names. The extraction below tries an
// explicit ordered list of positions and takes the first match. Do not narrow
// this without checking every backend variant in production.

// errNoToken is returned when no known envelope position carries a token.
var errNoToken = errors.New("no access token found in response")

// tokenEnvelope mirrors every position token material has been seen at.
// Data is the same shape one level down.
type tokenEnvelope struct {
	AccessToken      string          `json:"accessToken"`
	AccessTokenSnake string          `json:"access_token"`
	LegacyToken      string          `json:"token"`
	RefreshToken     string          `json:"refreshToken"`
	RefreshSnake     string          `json:"refresh_token"`
	TokenType        string          `json:"token_type"`
	ExpiresIn        int             `json:"expires_in"`
	ExpiresInCamel   int             `json:"expiresIn"`
	User             json.RawMessage `json:"user"`
	Data             *tokenEnvelope  `json:"data"`
}

// access returns the first non-empty access-token alias at this level.
func (e *tokenEnvelope) access() string {
	for _, candidate := range []string{e.AccessToken, e.AccessTokenSnake, e.LegacyToken} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// refresh returns the first non-empty refresh-token alias at this level.
func (e *tokenEnvelope) refresh() string {
	if e.RefreshToken != "" {
		return e.RefreshToken
	}
	return e.RefreshSnake
}

func (e *tokenEnvelope) expiresIn() int {
	if e.ExpiresIn > 0 {
		return e.ExpiresIn
	}
	return e.ExpiresInCamel
}

// tokenPositions is the ordered list of envelope levels tried by
// extractToken. Root wins over data when both are present.
var tokenPositions = []struct {
	name string
	node func(*tokenEnvelope) *tokenEnvelope
}{
	{"root", func(e *tokenEnvelope) *tokenEnvelope { return e }},
	{"data", func(e *tokenEnvelope) *tokenEnvelope { return e.Data }},
}

// extractToken pulls an access/refresh token pair out of an auth response
// body. The refresh token may be absent (degraded session, no silent renewal).
func extractToken(body []byte) (*oauth2.Token, error) {
	var env tokenEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse auth response: %w", err)
	}

	for _, pos := range tokenPositions {
		node := pos.node(&env)
		if node == nil {
			continue
		}
		access := node.access()
		if access == "" {
			continue
		}

		token := &oauth2.Token{
			AccessToken:  access,
			RefreshToken: node.refresh(),
			TokenType:    node.TokenType,
		}
		if token.TokenType == "" {
			token.TokenType = "Bearer"
		}
		if secs := node.expiresIn(); secs > 0 {
			token.Expiry = time.Now().Add(time.Duration(secs) * time.Second)
		}
		return token, nil
	}

	return nil, errNoToken
}

// extractUser pulls a user profile out of a response body, trying "user",
// "data.user", and finally "data" itself when it looks like a profile.
// Returns nil without error when no user is present; the profile can be
// fetched separately after login.
func extractUser(body []byte) (*UserProfile, error) {
	var env struct {
		User json.RawMessage `json:"user"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse auth response: %w", err)
	}

	if user := decodeUser(env.User); user != nil {
		return user, nil
	}

	if len(env.Data) > 0 {
		var inner struct {
			User json.RawMessage `json:"user"`
		}
		if err := json.Unmarshal(env.Data, &inner); err == nil {
			if user := decodeUser(inner.User); user != nil {
				return user, nil
			}
		}
		// Some endpoints return the profile directly as "data".
		if user := decodeUser(env.Data); user != nil {
			return user, nil
		}
	}

	return nil, nil
}

// decodeUser decodes raw into a profile, accepting it only when it carries
// an identity (bare token envelopes also decode, but with no id or phone).
func decodeUser(raw json.RawMessage) *UserProfile {
	if len(raw) == 0 {
		return nil
	}
	var user UserProfile
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil
	}
	if user.ID == "" && user.Phone == "" {
		return nil
	}
	return &user
}
