package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/boddenberg/sindicato-efi-bridge/internal/domain"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeBridgeError(w http.ResponseWriter, status int, code, message string, details any, requestID string) {
	writeJSON(w, status, domain.BridgeErrorResponse{
		OK: false,
		Error: domain.BridgeErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
		RequestID: requestID,
	})
}

// requestIDFrom returns chi's request id, or a fresh UUID when the
// RequestID middleware is not mounted.
func requestIDFrom(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, domain.NewBadRequestError("Corpo da requisição inválido ou grande demais.", nil)
	}
	return body, nil
}

// handleServiceError maps errors to the bridge failure envelope.
func handleServiceError(w http.ResponseWriter, err error, requestID string, logger *zap.Logger) {
	var integration *domain.IntegrationError
	var unauthorized *domain.ErrUnauthorized
	var forbidden *domain.ErrForbidden

	switch {
	case errors.As(err, &integration):
		if integration.HTTPStatus >= 500 {
			logger.Error("integration error",
				zap.String("code", integration.Code),
				zap.String("request_id", requestID),
				zap.Error(err),
			)
		} else {
			logger.Debug("request rejected",
				zap.String("code", integration.Code),
				zap.String("request_id", requestID),
			)
		}
		writeBridgeError(w, integration.HTTPStatus, integration.Code, integration.Message, integration.Details, requestID)
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeBridgeError(w, http.StatusUnauthorized, domain.CodeUnauthorized, unauthorized.Error(), nil, requestID)
	case errors.As(err, &forbidden):
		logger.Warn("forbidden access", zap.String("error", err.Error()))
		writeBridgeError(w, http.StatusForbidden, domain.CodeForbidden, forbidden.Error(), nil, requestID)
	default:
		logger.Error("unhandled error", zap.String("request_id", requestID), zap.Error(err))
		writeBridgeError(w, http.StatusInternalServerError, domain.CodeInternal, "Erro interno inesperado.", nil, requestID)
	}
}
