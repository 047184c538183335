package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/boddenberg/sindicato-efi-bridge/internal/domain"
	"github.com/boddenberg/sindicato-efi-bridge/internal/infra/observability"
	"github.com/boddenberg/sindicato-efi-bridge/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Boletos EFI — /api/efi/boletos
// ============================================================

// withRouteLog runs fn and logs one line per bridge request with its
// outcome and duration.
func withRouteLog(ctx context.Context, r *http.Request, logger *zap.Logger, metrics *observability.Metrics, action, chargeID string, fn func(context.Context) (*domain.BridgeResponse, error)) (*domain.BridgeResponse, error) {
	start := time.Now()
	resp, err := fn(ctx)
	elapsed := time.Since(start)

	metrics.RecordRequestDuration(action, elapsed)

	fields := []zap.Field{
		zap.String("request_id", requestIDFrom(r)),
		zap.String("route", routePattern(r)),
		zap.String("action", action),
		zap.Duration("duration", elapsed),
	}
	if chargeID != "" {
		fields = append(fields, zap.String("efi_charge_id", chargeID))
	}

	if err != nil {
		metrics.IncrRequest("error")
		code := domain.CodeInternal
		var ie *domain.IntegrationError
		if errors.As(err, &ie) {
			code = ie.Code
		}
		logger.Error("efi bridge request failed",
			append(fields, zap.String("result", "error"), zap.String("code", code), zap.Error(err))...)
		return nil, err
	}

	metrics.IncrRequest("success")
	logger.Info("efi bridge request finished", append(fields, zap.String("result", "success"))...)
	return resp, nil
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func createBoletoHandler(svc *service.BoletoService, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/efi/boletos")
		defer span.End()
		requestID := requestIDFrom(r)

		body, err := readBody(w, r)
		if err != nil {
			handleServiceError(w, err, requestID, logger)
			return
		}
		req, err := service.ValidateCreateBody(body)
		if err != nil {
			handleServiceError(w, err, requestID, logger)
			return
		}

		resp, err := withRouteLog(ctx, r, logger, metrics, domain.AcaoCriar, "", func(ctx context.Context) (*domain.BridgeResponse, error) {
			return svc.CreateBoleto(ctx, req, requestID)
		})
		if err != nil {
			handleServiceError(w, err, requestID, logger)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

func getBoletoHandler(svc *service.BoletoService, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /api/efi/boletos/{efiChargeId}")
		defer span.End()
		requestID := requestIDFrom(r)

		chargeID := chi.URLParam(r, "efiChargeId")
		span.SetAttributes(attribute.String("efi.charge_id", chargeID))

		resp, err := withRouteLog(ctx, r, logger, metrics, domain.AcaoConsultar, chargeID, func(ctx context.Context) (*domain.BridgeResponse, error) {
			return svc.GetBoleto(ctx, chargeID, requestID)
		})
		if err != nil {
			handleServiceError(w, err, requestID, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func boletoActionHandler(svc *service.BoletoService, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/efi/boletos/{efiChargeId}/acoes")
		defer span.End()
		requestID := requestIDFrom(r)

		chargeID := chi.URLParam(r, "efiChargeId")
		span.SetAttributes(attribute.String("efi.charge_id", chargeID))

		body, err := readBody(w, r)
		if err != nil {
			handleServiceError(w, err, requestID, logger)
			return
		}
		req, err := service.ValidateActionBody(body)
		if err != nil {
			handleServiceError(w, err, requestID, logger)
			return
		}
		if req.Contexto != nil && req.Contexto.UsuarioID == "" {
			if caller := CallerFromContext(ctx); caller != nil {
				req.Contexto.UsuarioID = caller.UserID
			}
		}

		resp, err := withRouteLog(ctx, r, logger, metrics, string(req.Acao), chargeID, func(ctx context.Context) (*domain.BridgeResponse, error) {
			return svc.ExecuteBoletoAction(ctx, chargeID, req, requestID)
		})
		if err != nil {
			handleServiceError(w, err, requestID, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func syncBoletosHandler(svc *service.BoletoService, metrics *observability.Metrics, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /api/efi/boletos/sync")
		defer span.End()
		requestID := requestIDFrom(r)

		body, err := readBody(w, r)
		if err != nil {
			handleServiceError(w, err, requestID, logger)
			return
		}
		req, err := service.ValidateSyncBody(body)
		if err != nil {
			handleServiceError(w, err, requestID, logger)
			return
		}

		resp, err := withRouteLog(ctx, r, logger, metrics, domain.AcaoSync, "", func(ctx context.Context) (*domain.BridgeResponse, error) {
			return svc.SyncBoletos(ctx, req, requestID)
		})
		if err != nil {
			handleServiceError(w, err, requestID, logger)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func bridgeMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.Snapshot())
	}
}
