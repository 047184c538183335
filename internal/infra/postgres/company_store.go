// Package postgres reads member companies straight from the association's
// PostgreSQL database.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/boddenberg/sindicato-efi-bridge/internal/domain"
	"github.com/boddenberg/sindicato-efi-bridge/internal/infra/resilience"
	"github.com/boddenberg/sindicato-efi-bridge/internal/port"

	"github.com/jackc/pgx/v5"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("postgres")

const selectCompany = `
SELECT id::text,
       COALESCE(razao_social, ''),
       COALESCE(nome_fantasia, ''),
       COALESCE(cnpj, ''),
       COALESCE(email, '')
  FROM empresas
 WHERE id::text = $1`

// RowQuerier is the part of *pgxpool.Pool the store needs.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CompanyStore implements port.CompanyLookup over the empresas table.
type CompanyStore struct {
	db     RowQuerier
	cb     *gobreaker.CircuitBreaker
	cfg    resilience.Config
	logger *zap.Logger
}

// NewCompanyStore creates a store on top of a pgx pool.
func NewCompanyStore(db RowQuerier, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *CompanyStore {
	return &CompanyStore{db: db, cb: cb, cfg: cfg, logger: logger}
}

// GetCompany returns (nil, nil) when no row matches.
func (s *CompanyStore) GetCompany(ctx context.Context, companyID string) (*domain.Company, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetCompany")
	defer span.End()
	span.SetAttributes(attribute.String("empresa.id", companyID))

	var company *domain.Company

	_, err := s.cb.Execute(func() (any, error) {
		return nil, resilience.RetryWithBackoff(ctx, s.cfg, func() error {
			var c domain.Company
			err := s.db.QueryRow(ctx, selectCompany, companyID).
				Scan(&c.ID, &c.LegalName, &c.TradeName, &c.TaxID, &c.Email)
			if errors.Is(err, pgx.ErrNoRows) {
				company = nil
				return nil
			}
			if err != nil {
				return fmt.Errorf("query empresas: %w", err)
			}
			company = &c
			return nil
		})
	})
	if err != nil {
		s.logger.Error("postgres: company lookup failed",
			zap.String("empresa_id", companyID),
			zap.Error(err),
		)
		return nil, &domain.ErrExternalService{Service: "postgres/empresas", Err: err}
	}

	return company, nil
}

var _ port.CompanyLookup = (*CompanyStore)(nil)
