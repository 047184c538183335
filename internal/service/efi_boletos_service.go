package service

import (
	"context"
	"errors"
	"math"
	"regexp"
	"time"

	"github.com/boddenberg/sindicato-efi-bridge/internal/domain"
	"github.com/boddenberg/sindicato-efi-bridge/internal/infra/observability"
	"github.com/boddenberg/sindicato-efi-bridge/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var boletoTracer = otel.Tracer("service/boletos")

var nonDigitRegex = regexp.MustCompile(`[^0-9]`)

const (
	isoDateLayout = "2006-01-02"
	brDateLayout  = "02/01/2006"

	cnpjLength = 14

	defaultItemName     = "Boleto Sindicato"
	defaultCustomerName = "Empresa"

	// DefaultSyncConcurrency bounds gateway reads in one sync batch.
	DefaultSyncConcurrency = 10
)

// BoletoService orchestrates the EFI calls behind each bridge route and
// normalizes the results.
type BoletoService struct {
	gateway         port.BoletoGateway
	companies       port.CompanyLookup
	companyCache    port.Cache[*domain.Company]
	metrics         *observability.Metrics
	logger          *zap.Logger
	syncConcurrency int
}

// NewBoletoService creates the boleto service with all dependencies injected.
// A non-positive syncConcurrency falls back to DefaultSyncConcurrency.
func NewBoletoService(
	gateway port.BoletoGateway,
	companies port.CompanyLookup,
	companyCache port.Cache[*domain.Company],
	metrics *observability.Metrics,
	logger *zap.Logger,
	syncConcurrency int,
) *BoletoService {
	if syncConcurrency <= 0 {
		syncConcurrency = DefaultSyncConcurrency
	}
	return &BoletoService{
		gateway:         gateway,
		companies:       companies,
		companyCache:    companyCache,
		metrics:         metrics,
		logger:          logger,
		syncConcurrency: syncConcurrency,
	}
}

// CreateBoleto creates a charge, attaches the boleto to it and returns the
// merged, normalized result.
func (s *BoletoService) CreateBoleto(ctx context.Context, req *domain.BoletoCreateRequest, requestID string) (*domain.BridgeResponse, error) {
	ctx, span := boletoTracer.Start(ctx, "BoletoService.CreateBoleto")
	defer span.End()
	span.SetAttributes(attribute.String("boleto.tipo", string(req.Tipo)))

	dueDate, err := NormalizeDueDate(req.DataVencimento)
	if err != nil {
		return nil, err
	}

	// Company checks happen before anything is sent to the gateway.
	var company *domain.Company
	if req.EmpresaID != "" {
		company, err = s.lookupCompany(ctx, req.EmpresaID)
		if err != nil {
			return nil, err
		}
	}

	chargeRaw, err := s.gateway.Charge(ctx, buildChargePayload(req, company, dueDate))
	if err != nil {
		return nil, err
	}

	chargeID, err := extractChargeID(chargeRaw)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("efi.charge_id", chargeID))

	billetRaw, err := s.gateway.Billet(ctx, chargeID, buildBilletPayload(req, company, dueDate))
	if err != nil {
		s.logger.Warn("charge created but billet attachment failed",
			zap.String("efi_charge_id", chargeID),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return nil, err
	}

	merged := mergeFragments(chargeID, chargeRaw, billetRaw)
	boleto := NormalizeCharge(merged)
	if boleto.Vencimento == nil {
		// The gateway does not always echo expire_at on creation.
		boleto.Vencimento = &dueDate
	}

	return &domain.BridgeResponse{
		OK:        true,
		Acao:      domain.AcaoCriar,
		Boleto:    &boleto,
		Raw:       map[string]any{"charge": chargeRaw, "billet": billetRaw},
		RequestID: requestID,
	}, nil
}

// GetBoleto reads one charge from the gateway.
func (s *BoletoService) GetBoleto(ctx context.Context, chargeID, requestID string) (*domain.BridgeResponse, error) {
	ctx, span := boletoTracer.Start(ctx, "BoletoService.GetBoleto")
	defer span.End()
	span.SetAttributes(attribute.String("efi.charge_id", chargeID))

	raw, err := s.gateway.GetCharge(ctx, chargeID)
	if err != nil {
		return nil, err
	}

	boleto := NormalizeCharge(mergeFragments(chargeID, raw))
	return &domain.BridgeResponse{
		OK:        true,
		Acao:      domain.AcaoConsultar,
		Boleto:    &boleto,
		Raw:       raw,
		RequestID: requestID,
	}, nil
}

// ExecuteBoletoAction dispatches an action to the matching gateway operation.
func (s *BoletoService) ExecuteBoletoAction(ctx context.Context, chargeID string, req *domain.BoletoActionRequest, requestID string) (*domain.BridgeResponse, error) {
	ctx, span := boletoTracer.Start(ctx, "BoletoService.ExecuteBoletoAction")
	defer span.End()
	span.SetAttributes(
		attribute.String("efi.charge_id", chargeID),
		attribute.String("boleto.acao", string(req.Acao)),
	)

	payload := req.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	var (
		raw map[string]any
		err error
	)
	switch req.Acao {
	case domain.ActionCancel:
		raw, err = s.gateway.Cancel(ctx, chargeID, payload)
	case domain.ActionResend:
		raw, err = s.gateway.Resend(ctx, chargeID, payload)
	case domain.ActionHistory:
		raw, err = s.gateway.History(ctx, chargeID, payload)
	case domain.ActionRegisterPayment:
		raw, err = s.gateway.Pay(ctx, chargeID, payload)
	case domain.ActionManualSettle:
		raw, err = s.gateway.Settle(ctx, chargeID, payload)
	default:
		return nil, domain.NewInvalidActionError(string(req.Acao))
	}
	if err != nil {
		return nil, err
	}

	if req.Contexto != nil {
		s.logger.Info("boleto action executed",
			zap.String("efi_charge_id", chargeID),
			zap.String("acao", string(req.Acao)),
			zap.String("canal", req.Contexto.Canal),
			zap.String("usuario_id", req.Contexto.UsuarioID),
			zap.String("request_id", requestID),
		)
	}

	boleto := NormalizeCharge(mergeFragments(chargeID, raw))
	return &domain.BridgeResponse{
		OK:        true,
		Acao:      string(req.Acao),
		Boleto:    &boleto,
		Raw:       raw,
		RequestID: requestID,
	}, nil
}

// SyncBoletos re-reads every listed charge with at most syncConcurrency
// requests in flight. Results keep the input order. The first failure fails
// the batch; requests already in flight are not cancelled.
func (s *BoletoService) SyncBoletos(ctx context.Context, req *domain.BoletoSyncRequest, requestID string) (*domain.BridgeResponse, error) {
	ctx, span := boletoTracer.Start(ctx, "BoletoService.SyncBoletos")
	defer span.End()
	span.SetAttributes(attribute.Int("sync.items", len(req.Items)))

	boletos := make([]domain.BridgeBoleto, len(req.Items))

	var g errgroup.Group
	g.SetLimit(s.syncConcurrency)

	for i, item := range req.Items {
		g.Go(func() error {
			raw, err := s.gateway.GetCharge(ctx, item.EfiChargeID)
			if err != nil {
				return err
			}
			boletos[i] = NormalizeCharge(mergeFragments(item.EfiChargeID, raw))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var motivo any
	if req.Motivo != "" {
		motivo = req.Motivo
	}

	return &domain.BridgeResponse{
		OK:      true,
		Acao:    domain.AcaoSync,
		Boletos: boletos,
		Raw: map[string]any{
			"total":  len(boletos),
			"force":  req.Force,
			"motivo": motivo,
		},
		RequestID: requestID,
	}, nil
}

// NormalizeDueDate accepts yyyy-MM-dd or dd/MM/yyyy and returns yyyy-MM-dd.
func NormalizeDueDate(value string) (string, error) {
	if t, err := time.Parse(isoDateLayout, value); err == nil {
		return t.Format(isoDateLayout), nil
	}
	if t, err := time.Parse(brDateLayout, value); err == nil {
		return t.Format(isoDateLayout), nil
	}
	return "", domain.NewBadRequestError(
		"dataVencimento inválida. Use yyyy-MM-dd ou dd/MM/yyyy.",
		map[string]any{"dataVencimento": value},
	)
}

// NormalizeCNPJ strips formatting and reports whether 14 digits remain.
func NormalizeCNPJ(taxID string) (string, bool) {
	digits := nonDigitRegex.ReplaceAllString(taxID, "")
	return digits, len(digits) == cnpjLength
}

func (s *BoletoService) lookupCompany(ctx context.Context, companyID string) (*domain.Company, error) {
	cacheKey := "company:" + companyID

	company, ok := s.companyCache.Get(cacheKey)
	if ok {
		s.metrics.IncrCacheHit("company")
	} else {
		s.metrics.IncrCacheMiss("company")

		var err error
		company, err = s.companies.GetCompany(ctx, companyID)
		if err != nil {
			s.logger.Error("company lookup failed",
				zap.String("empresa_id", companyID),
				zap.Error(err),
			)
			var ie *domain.IntegrationError
			if errors.As(err, &ie) {
				return nil, ie
			}
			return nil, domain.NewCompanyLookupError(err.Error())
		}
		if company != nil {
			s.companyCache.Set(cacheKey, company)
		}
	}

	if company == nil {
		return nil, domain.NewBadRequestError("Empresa não encontrada.", map[string]any{"empresaId": companyID})
	}
	if _, valid := NormalizeCNPJ(company.TaxID); !valid {
		return nil, domain.NewBadRequestError(
			"Empresa sem CNPJ válido (14 dígitos).",
			map[string]any{"empresaId": companyID},
		)
	}
	return company, nil
}

func buildChargePayload(req *domain.BoletoCreateRequest, company *domain.Company, dueDate string) map[string]any {
	name := req.EmpresaNome
	if name == "" && company != nil {
		name = company.DisplayName()
	}
	if name == "" {
		name = defaultItemName
	}

	metadata := map[string]any{
		"tipo":           string(req.Tipo),
		"dataVencimento": dueDate,
	}
	if req.EmpresaID != "" {
		metadata["empresaId"] = req.EmpresaID
	}
	switch req.Tipo {
	case domain.BoletoTipoMensalidade:
		metadata["competenciaInicial"] = req.CompetenciaInicial
		metadata["competenciaFinal"] = req.CompetenciaFinal
		metadata["faixaId"] = req.FaixaID
	case domain.BoletoTipoContribuicao:
		metadata["anoContribuicao"] = req.AnoContribuicao
		metadata["periodicidade"] = req.Periodicidade
		metadata["parcelas"] = req.Parcelas
	}

	return map[string]any{
		"items": []map[string]any{{
			"name":   name,
			"value":  int64(math.Round(req.ValorCalculado * 100)),
			"amount": 1,
		}},
		"metadata": metadata,
	}
}

func buildBilletPayload(req *domain.BoletoCreateRequest, company *domain.Company, dueDate string) map[string]any {
	customer := map[string]any{}

	name := req.EmpresaNome
	if company != nil {
		if name == "" {
			name = company.DisplayName()
		}
		cnpj, _ := NormalizeCNPJ(company.TaxID)
		corporateName := company.LegalName
		if corporateName == "" {
			corporateName = company.DisplayName()
		}
		customer["juridical_person"] = map[string]any{
			"corporate_name": corporateName,
			"cnpj":           cnpj,
		}
		if company.Email != "" {
			customer["email"] = company.Email
		}
	}
	if name == "" {
		name = defaultCustomerName
	}
	customer["name"] = name

	return map[string]any{
		"expire_at": dueDate,
		"message":   req.MensagemPersonalizada,
		"customer":  customer,
	}
}

// extractChargeID finds the charge id in a bare or enveloped response.
func extractChargeID(raw map[string]any) (string, error) {
	candidates := []map[string]any{raw}
	if inner, ok := raw["data"].(map[string]any); ok {
		candidates = append(candidates, inner)
	}
	for _, obj := range candidates {
		if v, ok := pick(obj, chargeIDKeys); ok {
			if id := scalarString(v); id != "" {
				return id, nil
			}
		}
	}
	return "", domain.NewInvalidResponseError(raw)
}

// mergeFragments flattens enveloped fragments in order, later keys winning,
// and pins the charge id.
func mergeFragments(chargeID string, fragments ...map[string]any) map[string]any {
	merged := map[string]any{}
	for _, f := range fragments {
		for k, v := range unwrapEnvelope(f) {
			merged[k] = v
		}
	}
	merged["charge_id"] = chargeID
	return merged
}

