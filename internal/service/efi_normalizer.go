package service

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/sindicato-efi-bridge/internal/domain"
)

// Ordered aliases per output field; the first key present wins.
var (
	chargeIDKeys      = []string{"charge_id", "chargeId", "id"}
	statusKeys        = []string{"status", "status_efi", "status_raw"}
	amountKeys        = []string{"value", "total"}
	dueDateKeys       = []string{"expire_at", "due_date"}
	digitableLineKeys = []string{"barcode", "linha_digitavel"}
	pdfKeys           = []string{"pdf", "pdf_url"}
	linkKeys          = []string{"link", "link_boleto", "billet_link"}
)

const unknownGatewayStatus = "unknown"

var statusUITable = map[string]string{
	"waiting":   domain.StatusUIPendente,
	"new":       domain.StatusUIPendente,
	"unpaid":    domain.StatusUIPendente,
	"paid":      domain.StatusUIPago,
	"settled":   domain.StatusUIPago,
	"canceled":  domain.StatusUICancelado,
	"cancelled": domain.StatusUICancelado,
	"overdue":   domain.StatusUIVencido,
	"expired":   domain.StatusUIVencido,
}

// StatusUI maps a raw gateway status to the UI vocabulary.
// Unknown statuses map to "Em aberto".
func StatusUI(statusRaw string) string {
	if s, ok := statusUITable[strings.ToLower(strings.TrimSpace(statusRaw))]; ok {
		return s
	}
	return domain.StatusUIEmAberto
}

// NormalizeCharge converts a raw gateway charge, bare or wrapped in a
// {code, data} envelope, into a BridgeBoleto. LastSyncedAt is always the
// time of the call.
func NormalizeCharge(raw map[string]any) domain.BridgeBoleto {
	data := unwrapEnvelope(raw)

	statusRaw := unknownGatewayStatus
	if v, ok := pick(data, statusKeys); ok {
		statusRaw = scalarString(v)
	}

	b := domain.BridgeBoleto{
		StatusEfiRaw:   statusRaw,
		StatusUI:       StatusUI(statusRaw),
		Vencimento:     pickString(data, dueDateKeys),
		LinhaDigitavel: pickString(data, digitableLineKeys),
		PdfURL:         pickPDF(data),
		LinkBoleto:     pickString(data, linkKeys),
		LastSyncedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}
	if v, ok := pick(data, chargeIDKeys); ok {
		b.EfiChargeID = scalarString(v)
	}
	if v, ok := pick(data, amountKeys); ok {
		b.Valor = toNumber(v)
	}
	return b
}

// unwrapEnvelope returns the inner data object of a {code, data} envelope,
// or raw itself.
func unwrapEnvelope(raw map[string]any) map[string]any {
	if raw == nil {
		return map[string]any{}
	}
	if inner, ok := raw["data"].(map[string]any); ok {
		if _, hasCode := raw["code"]; hasCode {
			return inner
		}
	}
	return raw
}

func pick(data map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := data[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func pickString(data map[string]any, keys []string) *string {
	v, ok := pick(data, keys)
	if !ok {
		return nil
	}
	s := scalarString(v)
	return &s
}

// pickPDF accepts either a URL string or the gateway's {"charge": url} object.
func pickPDF(data map[string]any) *string {
	v, ok := pick(data, pdfKeys)
	if !ok {
		return nil
	}
	if obj, isObj := v.(map[string]any); isObj {
		if url, ok := obj["charge"].(string); ok {
			return &url
		}
		return nil
	}
	s := scalarString(v)
	return &s
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// toNumber returns nil for anything that is not a finite number.
func toNumber(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
