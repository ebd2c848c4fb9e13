package session

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// roundFunc sends a Request and yields a classified outcome. Pipeline stages
// wrap a roundFunc, so the stage order is fixed at composition time.
type roundFunc func(ctx context.Context, req *Request) (*Response, error)

// Pipeline runs outbound requests through a fixed stage order:
//
//	normalize headers → attach auth → send → classify → recover auth
//
// The classifier decides terminal 401s before refreshable ones, so a 401
// from the refresh endpoint can never trigger another refresh.
type Pipeline struct {
	store  Store
	state  *State
	logger *zap.Logger

	// wired by the Manager after construction
	coordinator *refreshCoordinator
	invalidate  func(ctx context.Context)
}

func newPipeline(store Store, state *State, logger *zap.Logger) *Pipeline {
	return &Pipeline{store: store, state: state, logger: logger}
}

// Do executes req on t with full auth handling: a refreshable 401 is
// recovered by the coordinator and the request replayed once with the new
// token; a terminal 401 tears the session down.
func (p *Pipeline) Do(ctx context.Context, t *Transport, req *Request) (*Response, error) {
	return p.recoverAuth(p.exec(t))(ctx, req)
}

// exec is the pipeline without the recovery stage. The refresh coordinator
// sends its own call through here so it shares classification but cannot
// recurse into itself.
func (p *Pipeline) exec(t *Transport) roundFunc {
	return p.classify(p.attachAuth(normalizeHeaders(t.send)))
}

// normalizeHeaders enforces a JSON content type on mutating verbs and a JSON
// accept header everywhere.
func normalizeHeaders(next roundFunc) roundFunc {
	return func(ctx context.Context, req *Request) (*Response, error) {
		if req.Header == nil {
			req.Header = http.Header{}
		}
		if req.Header.Get("Accept") == "" {
			req.Header.Set("Accept", "application/json")
		}
		switch req.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			req.Header.Set("Content-Type", "application/json")
		}
		return next(ctx, req)
	}
}

// attachAuth sets the best-known access token on the request. The store is
// read on every attempt so a replay after refresh picks up the new token; a
// failed store read falls back to the in-memory state rather than failing
// the request.
func (p *Pipeline) attachAuth(next roundFunc) roundFunc {
	return func(ctx context.Context, req *Request) (*Response, error) {
		if req.noAuth {
			return next(ctx, req)
		}

		access, err := p.store.Get(ctx, KeyAccessToken)
		if err != nil {
			p.logger.Warn("access token read failed, using in-memory token", zap.Error(err))
			access = p.state.Snapshot().AccessToken
		}
		if access != "" {
			if req.Header == nil {
				req.Header = http.Header{}
			}
			req.Header.Set("Authorization", "Bearer "+access)
		}
		return next(ctx, req)
	}
}

// classify turns transport failures and error statuses into *Error values.
// The 401 branch ordering is load-bearing: terminal conditions must win
// before a refresh is considered.
func (p *Pipeline) classify(next roundFunc) roundFunc {
	return func(ctx context.Context, req *Request) (*Response, error) {
		resp, err := next(ctx, req)
		if err != nil {
			// No response at all: network failure or timeout. Session
			// state is left untouched.
			return nil, networkError(err)
		}
		if resp.Status < http.StatusBadRequest {
			return resp, nil
		}

		if resp.Status == http.StatusUnauthorized {
			switch {
			case req.noRefresh:
				return nil, authInvalidError()
			case req.noAuth:
				// No token was sent; this is a rejected credential.
				return nil, statusError(resp.Status, resp.Body)
			default:
				refreshToken, gerr := p.store.Get(ctx, KeyRefreshToken)
				if gerr != nil {
					p.logger.Warn("refresh token read failed", zap.Error(gerr))
					refreshToken = ""
				}
				if refreshToken == "" {
					return nil, authInvalidError()
				}
				return nil, authExpiredError()
			}
		}

		return nil, statusError(resp.Status, resp.Body)
	}
}

// recoverAuth handles the classified outcome: AuthExpired is handed to the
// refresh coordinator and the request replayed once; AuthInvalid (including
// a failed refresh, or a second 401 after replay) tears the session down.
func (p *Pipeline) recoverAuth(next roundFunc) roundFunc {
	return func(ctx context.Context, req *Request) (*Response, error) {
		resp, err := next(ctx, req)
		if err == nil {
			return resp, nil
		}

		var apiErr *Error
		if !errors.As(err, &apiErr) {
			return nil, err
		}

		switch apiErr.Kind {
		case KindAuthExpired:
			if _, refreshErr := p.coordinator.refresh(ctx); refreshErr != nil {
				p.logger.Warn("token refresh failed, forcing logout", zap.Error(refreshErr))
				p.invalidate(ctx)
				return nil, authInvalidError()
			}

			resp, err = next(ctx, req)
			if err == nil {
				return resp, nil
			}
			if errors.As(err, &apiErr) &&
				(apiErr.Kind == KindAuthExpired || apiErr.Kind == KindAuthInvalid) {
				// Replay with a fresh token was still rejected; do not loop.
				p.invalidate(ctx)
				return nil, authInvalidError()
			}
			return nil, err

		case KindAuthInvalid:
			p.invalidate(ctx)
			return nil, err

		default:
			return nil, err
		}
	}
}
