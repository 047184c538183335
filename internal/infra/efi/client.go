// Package efi is the adapter for the EFI (former Gerencianet) charge API:
// mTLS transport, client-credentials authentication with endpoint
// resolution, and one method per charge operation.
package efi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/boddenberg/sindicato-efi-bridge/internal/domain"
	"github.com/boddenberg/sindicato-efi-bridge/internal/infra/observability"
	"github.com/boddenberg/sindicato-efi-bridge/internal/infra/resilience"
	"github.com/boddenberg/sindicato-efi-bridge/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("efi")

// Client calls the EFI charge endpoints. Failures are always returned as
// *domain.IntegrationError.
type Client struct {
	auth      *TokenAuthenticator
	transport *Transport
	bulkhead  *resilience.Bulkhead
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewClient creates a gateway client. bulkhead bounds the number of
// in-flight gateway requests across the process.
func NewClient(auth *TokenAuthenticator, transport *Transport, bulkhead *resilience.Bulkhead, metrics *observability.Metrics, logger *zap.Logger) *Client {
	return &Client{
		auth:      auth,
		transport: transport,
		bulkhead:  bulkhead,
		metrics:   metrics,
		logger:    logger,
	}
}

// Charge creates a charge (POST /v1/charge).
func (c *Client) Charge(ctx context.Context, payload any) (map[string]any, error) {
	return c.request(ctx, "charge", http.MethodPost, "/v1/charge", payload)
}

// Billet attaches the boleto payment method (PUT /v1/charge/{id}/billet).
func (c *Client) Billet(ctx context.Context, chargeID string, payload any) (map[string]any, error) {
	return c.request(ctx, "billet", http.MethodPut, chargePath(chargeID, "/billet"), payload)
}

// GetCharge reads a charge (GET /v1/charge/{id}).
func (c *Client) GetCharge(ctx context.Context, chargeID string) (map[string]any, error) {
	return c.request(ctx, "get_charge", http.MethodGet, chargePath(chargeID, ""), nil)
}

// Cancel cancels a charge (PUT /v1/charge/{id}/cancel).
func (c *Client) Cancel(ctx context.Context, chargeID string, payload any) (map[string]any, error) {
	return c.request(ctx, "cancel", http.MethodPut, chargePath(chargeID, "/cancel"), payload)
}

// Resend e-mails the boleto again (POST /v1/charge/{id}/billet/resend).
func (c *Client) Resend(ctx context.Context, chargeID string, payload any) (map[string]any, error) {
	return c.request(ctx, "resend", http.MethodPost, chargePath(chargeID, "/billet/resend"), payload)
}

// History appends a history entry (POST /v1/charge/{id}/history).
func (c *Client) History(ctx context.Context, chargeID string, payload any) (map[string]any, error) {
	return c.request(ctx, "history", http.MethodPost, chargePath(chargeID, "/history"), payload)
}

// Pay registers a payment (POST /v1/charge/{id}/pay).
func (c *Client) Pay(ctx context.Context, chargeID string, payload any) (map[string]any, error) {
	return c.request(ctx, "pay", http.MethodPost, chargePath(chargeID, "/pay"), payload)
}

// Settle marks a charge as manually settled (PUT /v1/charge/{id}/settle).
func (c *Client) Settle(ctx context.Context, chargeID string, payload any) (map[string]any, error) {
	return c.request(ctx, "settle", http.MethodPut, chargePath(chargeID, "/settle"), payload)
}

func chargePath(chargeID, suffix string) string {
	return fmt.Sprintf("/v1/charge/%s%s", url.PathEscape(chargeID), suffix)
}

func (c *Client) request(ctx context.Context, op, method, path string, body any) (map[string]any, error) {
	ctx, span := tracer.Start(ctx, "EfiClient."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("efi.operation", op),
		attribute.String("http.method", method),
	)

	start := time.Now()
	defer func() {
		c.metrics.RecordGatewayDuration(op, time.Since(start))
	}()

	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, c.fail(span, op, domain.NewGatewayTimeoutError(map[string]any{
			"operation": op,
			"reason":    "aguardando slot de conexão: " + err.Error(),
		}))
	}
	defer c.bulkhead.Release()

	sess, err := c.auth.Session(ctx)
	if err != nil {
		return nil, c.fail(span, op, err)
	}

	resp, err := c.transport.RequestJSON(ctx, Request{
		URL:    sess.BaseURL + path,
		Method: method,
		Headers: map[string]string{
			"Authorization": "Bearer " + sess.Token,
			"Content-Type":  "application/json",
		},
		Body: body,
	})
	if err != nil {
		return nil, c.fail(span, op, c.classifyTransportError(op, err))
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.Status))

	if resp.Status == http.StatusUnauthorized {
		c.auth.InvalidateToken()
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return nil, c.fail(span, op, domain.MapGatewayStatus(resp.Status, resp.Body))
	}

	return resp.Body, nil
}

func (c *Client) classifyTransportError(op string, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		switch te.Kind {
		case KindTimeout:
			return domain.NewGatewayTimeoutError(map[string]any{"operation": op})
		case KindCanceled:
			// The caller gave up; the pinned endpoint and token are still good.
			return domain.NewCanceledError(map[string]any{"operation": op})
		}
	}

	// The pinned endpoint may be gone; let the next call resolve again.
	c.auth.Invalidate()
	return domain.NewUpstreamError(map[string]any{
		"operation":          op,
		"reason":             err.Error(),
		"certPathConfigured": c.transport.CertConfigured(),
	})
}

func (c *Client) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	code := domain.CodeGatewayUnknown
	var ie *domain.IntegrationError
	if errors.As(err, &ie) {
		code = ie.Code
	}
	c.metrics.IncrGatewayError(code)

	c.logger.Warn("efi: gateway call failed",
		zap.String("operation", op),
		zap.String("code", code),
		zap.Error(err),
	)
	return err
}

var _ port.BoletoGateway = (*Client)(nil)
