// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/sindicato-efi-bridge/internal/domain"
)

// BoletoGateway is the EFI charge API as seen by the service layer.
// Every method returns the raw upstream JSON object or a
// *domain.IntegrationError.
type BoletoGateway interface {
	Charge(ctx context.Context, payload any) (map[string]any, error)
	Billet(ctx context.Context, chargeID string, payload any) (map[string]any, error)
	GetCharge(ctx context.Context, chargeID string) (map[string]any, error)
	Cancel(ctx context.Context, chargeID string, payload any) (map[string]any, error)
	Resend(ctx context.Context, chargeID string, payload any) (map[string]any, error)
	History(ctx context.Context, chargeID string, payload any) (map[string]any, error)
	Pay(ctx context.Context, chargeID string, payload any) (map[string]any, error)
	Settle(ctx context.Context, chargeID string, payload any) (map[string]any, error)
}

// CompanyLookup reads a member company from the registry.
// It returns (nil, nil) when the company does not exist.
type CompanyLookup interface {
	GetCompany(ctx context.Context, companyID string) (*domain.Company, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// CachedResponse is a stored HTTP response replayed for a repeated
// Idempotency-Key. Pending marks a key whose first request is still running.
type CachedResponse struct {
	StatusCode int    `json:"status_code"`
	Body       []byte `json:"body"`
	Pending    bool   `json:"pending,omitempty"`
}

// IdempotencyStore keeps responses of non-idempotent routes.
// Get returns (nil, nil) on a miss. Reserve claims a free key with a pending
// marker and reports false when the key is already taken. Release frees a
// reserved key without storing a response.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*CachedResponse, error)
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Save(ctx context.Context, key string, resp CachedResponse, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}
