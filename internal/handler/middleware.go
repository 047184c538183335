package handler

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/boddenberg/sindicato-efi-bridge/internal/domain"
	"github.com/boddenberg/sindicato-efi-bridge/internal/port"
	"github.com/boddenberg/sindicato-efi-bridge/internal/service"

	"go.uber.org/zap"
)

type contextKey string

const callerKey contextKey = "caller"

// Roles that bypass the financial scopes.
var financialRoles = []string{domain.RoleAdmin, domain.RoleSuperadmin}

// CallerAuthMiddleware validates Bearer tokens and injects the caller into context.
func CallerAuthMiddleware(auth *service.CallerAuth, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := requestIDFrom(r)

			authHeader := r.Header.Get("Authorization")
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
				logger.Warn("auth: missing or malformed token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				handleServiceError(w, &domain.ErrUnauthorized{Message: "Token inválido."}, requestID, logger)
				return
			}

			caller, err := auth.ValidateToken(strings.TrimSpace(parts[1]))
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				handleServiceError(w, err, requestID, logger)
				return
			}

			ctx := context.WithValue(r.Context(), callerKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScopeOrRole lets the request through when the caller holds scope
// or one of the financial roles.
func RequireScopeOrRole(scope, message string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := CallerFromContext(r.Context())
			if !caller.HasScopeOrRole(scope, financialRoles...) {
				handleServiceError(w, &domain.ErrForbidden{Scope: scope, Message: message}, requestIDFrom(r), logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CallerFromContext extracts the authenticated caller from context.
func CallerFromContext(ctx context.Context) *domain.Caller {
	c, _ := ctx.Value(callerKey).(*domain.Caller)
	return c
}

// ============================================================
// Idempotency-Key
// ============================================================

// responseRecorder copies what the handler writes so it can be stored.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

// pendingTTL bounds how long a crashed request can hold its key.
const pendingTTL = 2 * time.Minute

// Idempotency replays the stored response for a repeated Idempotency-Key.
// A key is reserved before the handler runs, so a concurrent duplicate gets
// 409 instead of running twice. Responses with status >= 500, or a cancelled
// request, release the key so the caller can retry. Store failures let the
// request through.
func Idempotency(store port.IdempotencyStore, ttl time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			// Keys are scoped per caller and route.
			if caller := CallerFromContext(r.Context()); caller != nil {
				key = caller.UserID + ":" + key
			}
			key = r.Method + " " + r.URL.Path + ":" + key

			ctx := r.Context()

			cached, err := store.Get(ctx, key)
			if err != nil {
				logger.Error("idempotency: lookup failed", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if cached == nil {
				reserved, err := store.Reserve(ctx, key, pendingTTL)
				if err != nil {
					logger.Error("idempotency: reserve failed", zap.Error(err))
					next.ServeHTTP(w, r)
					return
				}
				if !reserved {
					// Lost the race; whatever won is now in the store.
					cached, err = store.Get(ctx, key)
					if err != nil || cached == nil {
						cached = &port.CachedResponse{Pending: true}
					}
				}
			}
			if cached != nil {
				replayIdempotent(w, r, key, cached, logger)
				return
			}

			rec := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			bg := context.WithoutCancel(ctx)
			if rec.statusCode >= 500 || rec.statusCode == domain.StatusClientClosedRequest {
				if err := store.Release(bg, key); err != nil {
					logger.Error("idempotency: release failed", zap.Error(err))
				}
				return
			}
			err = store.Save(bg, key, port.CachedResponse{
				StatusCode: rec.statusCode,
				Body:       rec.body.Bytes(),
			}, ttl)
			if err != nil {
				logger.Error("idempotency: save failed", zap.Error(err))
			}
		})
	}
}

func replayIdempotent(w http.ResponseWriter, r *http.Request, key string, cached *port.CachedResponse, logger *zap.Logger) {
	if cached.Pending {
		logger.Info("idempotency: key still in progress", zap.String("key", key))
		e := domain.NewRequestInProgressError(nil)
		writeBridgeError(w, e.HTTPStatus, e.Code, e.Message, e.Details, requestIDFrom(r))
		return
	}
	logger.Info("idempotency: replaying stored response", zap.String("key", key))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotency-Hit", "true")
	w.WriteHeader(cached.StatusCode)
	w.Write(cached.Body)
}
