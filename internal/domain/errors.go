package domain

import (
	"fmt"
	"net/http"
)

// Error codes exposed in the bridge error envelope.
const (
	CodeValidation             = "VALIDATION_ERROR"
	CodeBadRequest             = "BAD_REQUEST"
	CodeInvalidAction          = "INVALID_ACTION"
	CodeGatewayNotFound        = "EFI_NOT_FOUND"
	CodeGatewayConflict        = "EFI_CONFLICT"
	CodeGatewayTimeout         = "EFI_TIMEOUT"
	CodeGatewayUpstream        = "EFI_UPSTREAM_ERROR"
	CodeGatewayBadRequest      = "EFI_BAD_REQUEST"
	CodeGatewayInvalidToken    = "EFI_INVALID_TOKEN_RESPONSE"
	CodeGatewayInvalidResponse = "EFI_INVALID_RESPONSE"
	CodeGatewayAuthConnection  = "EFI_AUTH_CONNECTION_ERROR"
	CodeGatewayUnknown         = "EFI_UNKNOWN_ERROR"
	CodeRequestCanceled        = "REQUEST_CANCELED"
	CodeRequestInProgress      = "REQUEST_IN_PROGRESS"
	CodeCompanyLookup          = "COMPANY_LOOKUP_ERROR"
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeForbidden              = "FORBIDDEN"
	CodeInternal               = "INTERNAL_ERROR"
)

// IntegrationError is the single failure shape that crosses the bridge
// boundary. Build it through the constructors below.
type IntegrationError struct {
	HTTPStatus int
	Code       string
	Message    string
	Details    any
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

// ValidationIssue describes one rejected field of a caller payload.
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewValidationError wraps every collected issue into one 422.
func NewValidationError(issues []ValidationIssue) *IntegrationError {
	return &IntegrationError{
		HTTPStatus: http.StatusUnprocessableEntity,
		Code:       CodeValidation,
		Message:    "Payload inválido.",
		Details:    issues,
	}
}

func NewBadRequestError(message string, details any) *IntegrationError {
	return &IntegrationError{
		HTTPStatus: http.StatusBadRequest,
		Code:       CodeBadRequest,
		Message:    message,
		Details:    details,
	}
}

func NewInvalidActionError(action string) *IntegrationError {
	return &IntegrationError{
		HTTPStatus: http.StatusBadRequest,
		Code:       CodeInvalidAction,
		Message:    "Ação não suportada.",
		Details:    map[string]any{"acao": action},
	}
}

// MapGatewayStatus classifies a non-2xx gateway status.
func MapGatewayStatus(status int, body any) *IntegrationError {
	switch {
	case status == http.StatusNotFound:
		return &IntegrationError{http.StatusNotFound, CodeGatewayNotFound, "Cobrança EFI não encontrada.", body}
	case status == http.StatusConflict:
		return &IntegrationError{http.StatusConflict, CodeGatewayConflict, "Conflito na operação EFI.", body}
	case status == http.StatusGatewayTimeout:
		return &IntegrationError{http.StatusGatewayTimeout, CodeGatewayTimeout, "Timeout na integração com a EFI.", body}
	case status >= 500:
		return &IntegrationError{http.StatusBadGateway, CodeGatewayUpstream, "Erro retornado pela EFI.", body}
	case status >= 400:
		return &IntegrationError{http.StatusBadRequest, CodeGatewayBadRequest, "Requisição inválida para EFI.", body}
	default:
		return &IntegrationError{http.StatusBadGateway, CodeGatewayUnknown, "Falha inesperada na integração EFI.", body}
	}
}

func NewGatewayTimeoutError(details any) *IntegrationError {
	return &IntegrationError{
		HTTPStatus: http.StatusGatewayTimeout,
		Code:       CodeGatewayTimeout,
		Message:    "Timeout na integração com a EFI.",
		Details:    details,
	}
}

// StatusClientClosedRequest is used when the caller went away before the
// gateway answered. The status is never seen by that caller.
const StatusClientClosedRequest = 499

func NewCanceledError(details any) *IntegrationError {
	return &IntegrationError{
		HTTPStatus: StatusClientClosedRequest,
		Code:       CodeRequestCanceled,
		Message:    "Requisição cancelada pelo cliente.",
		Details:    details,
	}
}

func NewRequestInProgressError(details any) *IntegrationError {
	return &IntegrationError{
		HTTPStatus: http.StatusConflict,
		Code:       CodeRequestInProgress,
		Message:    "Requisição com esta Idempotency-Key ainda em processamento.",
		Details:    details,
	}
}

func NewUpstreamError(details any) *IntegrationError {
	return &IntegrationError{
		HTTPStatus: http.StatusBadGateway,
		Code:       CodeGatewayUpstream,
		Message:    "Erro de comunicação com a EFI.",
		Details:    details,
	}
}

func NewInvalidTokenResponseError(details any) *IntegrationError {
	return &IntegrationError{
		HTTPStatus: http.StatusBadGateway,
		Code:       CodeGatewayInvalidToken,
		Message:    "Resposta de token EFI inválida.",
		Details:    details,
	}
}

func NewInvalidResponseError(details any) *IntegrationError {
	return &IntegrationError{
		HTTPStatus: http.StatusBadGateway,
		Code:       CodeGatewayInvalidResponse,
		Message:    "Resposta da EFI sem charge id.",
		Details:    details,
	}
}

func NewAuthConnectionError(details any) *IntegrationError {
	return &IntegrationError{
		HTTPStatus: http.StatusBadGateway,
		Code:       CodeGatewayAuthConnection,
		Message:    "Erro ao autenticar na EFI.",
		Details:    details,
	}
}

func NewCompanyLookupError(reason string) *IntegrationError {
	return &IntegrationError{
		HTTPStatus: http.StatusBadGateway,
		Code:       CodeCompanyLookup,
		Message:    "Falha ao consultar empresa.",
		Details:    map[string]any{"reason": reason},
	}
}

// ErrExternalService indicates a failure in a non-gateway dependency
// (company store, cache backend).
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrUnauthorized indicates a missing or invalid caller token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrForbidden indicates the caller lacks the scope or role for the route.
type ErrForbidden struct {
	Scope   string
	Message string
}

func (e *ErrForbidden) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("forbidden: missing %s", e.Scope)
}
