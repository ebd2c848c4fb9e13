package session

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// pushBindingPath is the token-binding resource on the notification service.
const pushBindingPath = "/notifications/device-tokens"

// SetDeviceToken stores the platform push token for this device. If a
// session is active the binding is registered immediately; otherwise it is
// registered on the next login.
func (m *Manager) SetDeviceToken(ctx context.Context, token string) {
	if err := m.store.Set(ctx, KeyDevicePushToken, token); err != nil {
		m.logger.Warn("failed to persist device push token", zap.Error(err))
	}
	if m.state.Snapshot().Authenticated {
		m.registerPushBinding(ctx)
	}
}

// registerPushBinding associates the stored device token with the current
// session on the backend. Best-effort: a failure here must not fail login.
func (m *Manager) registerPushBinding(ctx context.Context) {
	token := m.getOrEmpty(ctx, KeyDevicePushToken)
	if token == "" {
		m.logger.Debug("no device push token, skipping binding")
		return
	}

	_, err := m.pipeline.Do(ctx, m.notify, &Request{
		Method: http.MethodPost,
		Path:   pushBindingPath,
		Body: map[string]string{
			"deviceToken": token,
			"deviceId":    m.deviceID(ctx),
		},
	})
	if err != nil {
		m.logger.Warn("push binding registration failed", zap.Error(err))
		return
	}
	m.logger.Debug("push binding registered")
}

// unregisterPushBinding removes the binding before the session is torn down.
// Best-effort and never refreshes: logout must not be blocked by it.
func (m *Manager) unregisterPushBinding(ctx context.Context) {
	token := m.getOrEmpty(ctx, KeyDevicePushToken)
	if token == "" {
		return
	}

	_, err := m.pipeline.Do(ctx, m.notify, &Request{
		Method:    http.MethodDelete,
		Path:      pushBindingPath,
		Body:      map[string]string{"deviceToken": token},
		noRefresh: true,
	})
	if err != nil {
		m.logger.Warn("push binding unregistration failed", zap.Error(err))
		return
	}
	m.logger.Debug("push binding unregistered")
}

// deviceID returns the stable per-install identifier, generating and
// persisting one on first use.
func (m *Manager) deviceID(ctx context.Context) string {
	if id := m.getOrEmpty(ctx, KeyDeviceID); id != "" {
		return id
	}

	id := uuid.NewString()
	if err := m.store.Set(ctx, KeyDeviceID, id); err != nil {
		m.logger.Warn("failed to persist device id", zap.Error(err))
	}
	return id
}
