package session

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// refreshCoordinator performs at most one token refresh call at a time.
// Concurrent requests that hit a refreshable 401 all wait on the same
// in-flight call and share its outcome.
type refreshCoordinator struct {
	group       singleflight.Group
	store       Store
	state       *State
	transport   *Transport
	pipeline    *Pipeline
	syncHeaders func(ctx context.Context)
	logger      *zap.Logger
}

// refresh returns the new access token once the single in-flight refresh
// settles. Callers arriving while a refresh is running join it instead of
// starting another.
func (c *refreshCoordinator) refresh(ctx context.Context) (string, error) {
	token, err, shared := c.group.Do("refresh", func() (any, error) {
		// The outcome is shared by every waiter, so the call must not die
		// with the first caller's context. The transport timeout still
		// bounds it.
		return c.renew(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.logger.Debug("joined in-flight token refresh")
	}
	return token.(string), nil
}

// renew is the single refresh network call plus its settlement: store
// writes, state update, and header resync, in that order.
func (c *refreshCoordinator) renew(ctx context.Context) (string, error) {
	refreshToken, err := c.store.Get(ctx, KeyRefreshToken)
	if err != nil {
		c.logger.Warn("refresh token read failed", zap.Error(err))
		refreshToken = ""
	}
	if refreshToken == "" {
		return "", ErrSessionExpired
	}

	c.logger.Debug("refreshing access token")
	resp, err := c.pipeline.exec(c.transport)(ctx, &Request{
		Method:    http.MethodPost,
		Path:      "/auth/refresh-token",
		Body:      map[string]string{"refreshToken": refreshToken},
		noAuth:    true,
		noRefresh: true,
	})
	if err != nil {
		return "", fmt.Errorf("token refresh failed: %w", err)
	}

	token, err := extractToken(resp.Body)
	if err != nil {
		return "", fmt.Errorf("invalid refresh response: %w", err)
	}

	// Rotation vs fixed mode: keep the old refresh token when the server
	// does not return a new one.
	newRefresh := token.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	// Storage failures do not abort the refresh; the in-memory token keeps
	// the session alive until the next write succeeds.
	if err := c.store.Set(ctx, KeyAccessToken, token.AccessToken); err != nil {
		c.logger.Warn("failed to persist refreshed access token", zap.Error(err))
	}
	if err := c.store.Set(ctx, KeyRefreshToken, newRefresh); err != nil {
		c.logger.Warn("failed to persist refresh token", zap.Error(err))
	}

	c.state.Login(token.AccessToken)
	c.syncHeaders(ctx)

	c.logger.Debug("access token refreshed")
	return token.AccessToken, nil
}
