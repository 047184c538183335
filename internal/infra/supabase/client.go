// Package supabase reads member companies through the Supabase PostgREST API.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/boddenberg/sindicato-efi-bridge/internal/domain"
	"github.com/boddenberg/sindicato-efi-bridge/internal/infra/resilience"
	"github.com/boddenberg/sindicato-efi-bridge/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

// Client wraps HTTP calls to Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	logger         *zap.Logger
}

// NewClient creates a Supabase client.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        strings.TrimRight(baseURL, "/"),
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		logger:         logger,
	}
}

// statusError is a non-2xx answer from PostgREST.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("supabase returned status %d: %s", e.status, e.body)
}

// doRequest executes an authenticated request to Supabase PostgREST.
// A 400 means the filter value itself was rejected (e.g. an id that is not a
// uuid), which no row can match, so it is reported as no data. Other 4xx
// answers are wrapped with resilience.Permanent so they are not retried.
func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, resilience.Permanent(err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceRoleKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("supabase: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNoContent {
		return nil, nil // no data
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
		if resp.StatusCode == http.StatusBadRequest {
			return nil, nil
		}
		statusErr := &statusError{status: resp.StatusCode, body: string(body)}
		if resp.StatusCode < 500 {
			return nil, resilience.Permanent(statusErr)
		}
		return nil, statusErr
	}

	return body, nil
}

type companyRow struct {
	ID           string  `json:"id"`
	RazaoSocial  *string `json:"razao_social"`
	NomeFantasia *string `json:"nome_fantasia"`
	CNPJ         *string `json:"cnpj"`
	Email        *string `json:"email"`
}

// GetCompany implements port.CompanyLookup. It returns (nil, nil) when the
// company does not exist.
func (c *Client) GetCompany(ctx context.Context, companyID string) (*domain.Company, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetCompany")
	defer span.End()
	span.SetAttributes(attribute.String("empresa.id", companyID))

	var (
		company  *domain.Company
		rejected error
	)

	_, err := c.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			path := fmt.Sprintf("empresas?id=eq.%s&select=id,razao_social,nome_fantasia,cnpj,email&limit=1",
				url.QueryEscape(companyID))
			body, err := c.doRequest(ctx, http.MethodGet, path)
			var se *statusError
			if errors.As(err, &se) && se.status < 500 {
				// Rejected requests say nothing about the store's health.
				rejected = err
				return nil
			}
			if err != nil {
				return err
			}
			if body == nil {
				company = nil
				return nil
			}

			var rows []companyRow
			if err := json.Unmarshal(body, &rows); err != nil {
				return resilience.Permanent(fmt.Errorf("decode empresas: %w", err))
			}
			if len(rows) == 0 {
				company = nil
				return nil
			}

			r := rows[0]
			company = &domain.Company{
				ID:        r.ID,
				LegalName: deref(r.RazaoSocial),
				TradeName: deref(r.NomeFantasia),
				TaxID:     deref(r.CNPJ),
				Email:     deref(r.Email),
			}
			return nil
		})
	})
	if err == nil {
		err = rejected
	}
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "supabase/empresas", Err: err}
	}

	return company, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ port.CompanyLookup = (*Client)(nil)
