package service_test

import (
	"math"
	"reflect"
	"testing"

	"github.com/boddenberg/sindicato-efi-bridge/internal/domain"
	"github.com/boddenberg/sindicato-efi-bridge/internal/service"
)

func TestStatusUI(t *testing.T) {
	tests := map[string]string{
		"waiting":   domain.StatusUIPendente,
		"new":       domain.StatusUIPendente,
		"UNPAID":    domain.StatusUIPendente,
		"paid":      domain.StatusUIPago,
		"settled":   domain.StatusUIPago,
		"canceled":  domain.StatusUICancelado,
		"Cancelled": domain.StatusUICancelado,
		"overdue":   domain.StatusUIVencido,
		"expired":   domain.StatusUIVencido,
		"frozen":    domain.StatusUIEmAberto,
		"unknown":   domain.StatusUIEmAberto,
		"":          domain.StatusUIEmAberto,
	}

	for in, want := range tests {
		if got := service.StatusUI(in); got != want {
			t.Errorf("StatusUI(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNormalizeCharge_Aliases(t *testing.T) {
	b := service.NormalizeCharge(map[string]any{
		"chargeId":        "abc",
		"status_efi":      "overdue",
		"total":           "150.5",
		"due_date":        "2024-06-15",
		"linha_digitavel": "123",
		"pdf_url":         "https://x/pdf",
		"billet_link":     "https://x/link",
	})

	if b.EfiChargeID != "abc" {
		t.Errorf("expected charge id abc, got %s", b.EfiChargeID)
	}
	if b.StatusEfiRaw != "overdue" || b.StatusUI != domain.StatusUIVencido {
		t.Errorf("unexpected status %s/%s", b.StatusEfiRaw, b.StatusUI)
	}
	if b.Valor == nil || *b.Valor != 150.5 {
		t.Errorf("expected valor 150.5, got %v", b.Valor)
	}
	if b.Vencimento == nil || *b.Vencimento != "2024-06-15" {
		t.Errorf("unexpected vencimento %v", b.Vencimento)
	}
	if b.LinhaDigitavel == nil || *b.LinhaDigitavel != "123" {
		t.Errorf("unexpected linha digitavel %v", b.LinhaDigitavel)
	}
	if b.PdfURL == nil || *b.PdfURL != "https://x/pdf" {
		t.Errorf("unexpected pdf %v", b.PdfURL)
	}
	if b.LinkBoleto == nil || *b.LinkBoleto != "https://x/link" {
		t.Errorf("unexpected link %v", b.LinkBoleto)
	}
}

func TestNormalizeCharge_AliasPrecedence(t *testing.T) {
	b := service.NormalizeCharge(map[string]any{
		"charge_id":  float64(1),
		"id":         float64(2),
		"status":     "paid",
		"status_efi": "waiting",
	})
	if b.EfiChargeID != "1" {
		t.Errorf("expected charge_id to win, got %s", b.EfiChargeID)
	}
	if b.StatusUI != domain.StatusUIPago {
		t.Errorf("expected status to win, got %s", b.StatusUI)
	}
}

func TestNormalizeCharge_Envelope(t *testing.T) {
	b := service.NormalizeCharge(map[string]any{
		"code": float64(200),
		"data": map[string]any{"charge_id": float64(55), "status": "settled", "total": float64(1000)},
	})
	if b.EfiChargeID != "55" || b.StatusUI != domain.StatusUIPago {
		t.Errorf("envelope not unwrapped: %+v", b)
	}
	if b.Valor == nil || *b.Valor != 1000 {
		t.Errorf("expected valor 1000, got %v", b.Valor)
	}
}

func TestNormalizeCharge_Defaults(t *testing.T) {
	b := service.NormalizeCharge(map[string]any{})
	if b.StatusEfiRaw != "unknown" || b.StatusUI != domain.StatusUIEmAberto {
		t.Errorf("unexpected default status %s/%s", b.StatusEfiRaw, b.StatusUI)
	}
	if b.Valor != nil || b.Vencimento != nil || b.LinhaDigitavel != nil || b.PdfURL != nil || b.LinkBoleto != nil {
		t.Errorf("expected nil optional fields, got %+v", b)
	}
	if b.LastSyncedAt == "" {
		t.Error("expected last_synced_at to be stamped")
	}
}

func TestNormalizeCharge_UnparsableAmountIsNil(t *testing.T) {
	for _, v := range []any{"abc", "", math.NaN(), true} {
		b := service.NormalizeCharge(map[string]any{"value": v})
		if b.Valor != nil {
			t.Errorf("value %v: expected nil valor, got %v", v, *b.Valor)
		}
	}
}

func TestNormalizeCharge_Idempotent(t *testing.T) {
	raw := map[string]any{
		"charge_id": float64(9),
		"status":    "waiting",
		"total":     float64(5000),
		"expire_at": "2024-07-01",
		"pdf":       map[string]any{"charge": "https://x/9.pdf"},
	}

	first := service.NormalizeCharge(raw)
	second := service.NormalizeCharge(raw)
	first.LastSyncedAt, second.LastSyncedAt = "", ""

	if !reflect.DeepEqual(first, second) {
		t.Errorf("expected identical output, got %+v and %+v", first, second)
	}
}
