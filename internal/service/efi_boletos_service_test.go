package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/sindicato-efi-bridge/internal/domain"
	"github.com/boddenberg/sindicato-efi-bridge/internal/infra/cache"
	"github.com/boddenberg/sindicato-efi-bridge/internal/infra/observability"
	"github.com/boddenberg/sindicato-efi-bridge/internal/service"

	"go.uber.org/zap"
)

// --- Mocks ---

type gatewayCall struct {
	op       string
	chargeID string
	payload  any
}

type mockGateway struct {
	mu    sync.Mutex
	calls []gatewayCall

	chargeResp map[string]any
	billetResp map[string]any
	getCharge  func(id string) (map[string]any, error)
	actionResp map[string]any
	err        error
}

func (m *mockGateway) record(op, id string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, gatewayCall{op: op, chargeID: id, payload: payload})
}

func (m *mockGateway) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockGateway) Charge(_ context.Context, payload any) (map[string]any, error) {
	m.record("charge", "", payload)
	return m.chargeResp, m.err
}

func (m *mockGateway) Billet(_ context.Context, id string, payload any) (map[string]any, error) {
	m.record("billet", id, payload)
	return m.billetResp, m.err
}

func (m *mockGateway) GetCharge(_ context.Context, id string) (map[string]any, error) {
	m.record("get_charge", id, nil)
	if m.getCharge != nil {
		return m.getCharge(id)
	}
	return map[string]any{"status": "waiting"}, m.err
}

func (m *mockGateway) action(op, id string, payload any) (map[string]any, error) {
	m.record(op, id, payload)
	return m.actionResp, m.err
}

func (m *mockGateway) Cancel(_ context.Context, id string, p any) (map[string]any, error) {
	return m.action("cancel", id, p)
}

func (m *mockGateway) Resend(_ context.Context, id string, p any) (map[string]any, error) {
	return m.action("resend", id, p)
}

func (m *mockGateway) History(_ context.Context, id string, p any) (map[string]any, error) {
	return m.action("history", id, p)
}

func (m *mockGateway) Pay(_ context.Context, id string, p any) (map[string]any, error) {
	return m.action("pay", id, p)
}

func (m *mockGateway) Settle(_ context.Context, id string, p any) (map[string]any, error) {
	return m.action("settle", id, p)
}

type mockCompanies struct {
	company *domain.Company
	err     error
	calls   atomic.Int32
}

func (m *mockCompanies) GetCompany(_ context.Context, _ string) (*domain.Company, error) {
	m.calls.Add(1)
	return m.company, m.err
}

func newService(gw *mockGateway, companies *mockCompanies) *service.BoletoService {
	return service.NewBoletoService(
		gw,
		companies,
		cache.New[*domain.Company](5*time.Minute),
		observability.NewMetrics(),
		zap.NewNop(),
		service.DefaultSyncConcurrency,
	)
}

func validCompany() *domain.Company {
	return &domain.Company{
		ID:        "emp-1",
		LegalName: "Metalurgica Exemplo LTDA",
		TaxID:     "11.222.333/0001-81",
		Email:     "financeiro@exemplo.com.br",
	}
}

func mensalidade(due string) *domain.BoletoCreateRequest {
	return &domain.BoletoCreateRequest{
		Tipo:               domain.BoletoTipoMensalidade,
		EmpresaID:          "emp-1",
		CompetenciaInicial: "2024-06",
		CompetenciaFinal:   "2024-06",
		FaixaID:            "faixa-2",
		DataVencimento:     due,
		ValorCalculado:     150.00,
	}
}

func assertCode(t *testing.T, err error, code string) {
	t.Helper()
	var ie *domain.IntegrationError
	if !errors.As(err, &ie) {
		t.Fatalf("expected IntegrationError %s, got %v", code, err)
	}
	if ie.Code != code {
		t.Fatalf("expected code %s, got %s", code, ie.Code)
	}
}

// --- Tests ---

func TestNormalizeDueDate(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"2024-05-01", "2024-05-01", false},
		{"01/05/2024", "2024-05-01", false},
		{"15/06/2024", "2024-06-15", false},
		{"2024/05/01", "", true},
		{"31/02/2024", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := service.NormalizeDueDate(tt.in)
		if tt.wantErr {
			assertCode(t, err, domain.CodeBadRequest)
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("%q: expected %s, got %s", tt.in, tt.want, got)
		}
	}
}

func TestCreateBoleto_EndToEnd(t *testing.T) {
	gw := &mockGateway{
		chargeResp: map[string]any{"code": float64(200), "data": map[string]any{
			"charge_id": float64(987654), "status": "new", "total": float64(15000),
		}},
		billetResp: map[string]any{"code": float64(200), "data": map[string]any{
			"charge_id": float64(987654),
			"status":    "waiting",
			"expire_at": "2024-06-15",
			"barcode":   "34191.79001 01043.510047 91020.150008 1 96610000015000",
			"link":      "https://visualizacaosandbox.gerencianet.com.br/emissao/1",
			"pdf":       map[string]any{"charge": "https://download.gerencianet.com.br/1.pdf"},
		}},
	}
	svc := newService(gw, &mockCompanies{company: validCompany()})

	resp, err := svc.CreateBoleto(context.Background(), mensalidade("15/06/2024"), "req-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if !resp.OK || resp.Acao != domain.AcaoCriar || resp.RequestID != "req-1" {
		t.Errorf("unexpected envelope: %+v", resp)
	}
	if resp.Boleto == nil {
		t.Fatal("expected boleto")
	}
	if resp.Boleto.EfiChargeID != "987654" {
		t.Errorf("expected charge id 987654, got %s", resp.Boleto.EfiChargeID)
	}
	if resp.Boleto.Vencimento == nil || *resp.Boleto.Vencimento != "2024-06-15" {
		t.Errorf("expected vencimento 2024-06-15, got %v", resp.Boleto.Vencimento)
	}
	if resp.Boleto.StatusUI != domain.StatusUIPendente {
		t.Errorf("expected Pendente, got %s", resp.Boleto.StatusUI)
	}
	if resp.Boleto.PdfURL == nil || *resp.Boleto.PdfURL != "https://download.gerencianet.com.br/1.pdf" {
		t.Errorf("unexpected pdf url %v", resp.Boleto.PdfURL)
	}

	if len(gw.calls) != 2 || gw.calls[0].op != "charge" || gw.calls[1].op != "billet" {
		t.Fatalf("expected charge then billet, got %+v", gw.calls)
	}
	if gw.calls[1].chargeID != "987654" {
		t.Errorf("billet sent to wrong charge %s", gw.calls[1].chargeID)
	}

	charge := gw.calls[0].payload.(map[string]any)
	items := charge["items"].([]map[string]any)
	if items[0]["value"] != int64(15000) {
		t.Errorf("expected 15000 cents, got %v", items[0]["value"])
	}

	billet := gw.calls[1].payload.(map[string]any)
	if billet["expire_at"] != "2024-06-15" {
		t.Errorf("expected normalized expire_at, got %v", billet["expire_at"])
	}
	customer := billet["customer"].(map[string]any)
	jp := customer["juridical_person"].(map[string]any)
	if jp["cnpj"] != "11222333000181" {
		t.Errorf("expected stripped cnpj, got %v", jp["cnpj"])
	}
	if customer["email"] != "financeiro@exemplo.com.br" {
		t.Errorf("expected company email, got %v", customer["email"])
	}

	raw := resp.Raw.(map[string]any)
	if raw["charge"] == nil || raw["billet"] == nil {
		t.Errorf("expected both fragments in raw, got %v", raw)
	}
}

func TestCreateBoleto_DueDateWithoutEcho(t *testing.T) {
	gw := &mockGateway{
		chargeResp: map[string]any{"data": map[string]any{"charge_id": float64(55), "status": "new"}},
		billetResp: map[string]any{"data": map[string]any{"charge_id": float64(55), "status": "waiting"}},
	}
	svc := newService(gw, &mockCompanies{company: validCompany()})

	resp, err := svc.CreateBoleto(context.Background(), mensalidade("15/06/2024"), "req-2")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if resp.Boleto.Vencimento == nil || *resp.Boleto.Vencimento != "2024-06-15" {
		t.Errorf("expected vencimento 2024-06-15, got %v", resp.Boleto.Vencimento)
	}
}

func TestCreateBoleto_InvalidDateMakesNoCalls(t *testing.T) {
	gw := &mockGateway{}
	companies := &mockCompanies{company: validCompany()}
	svc := newService(gw, companies)

	_, err := svc.CreateBoleto(context.Background(), mensalidade("2024/05/01"), "req-1")
	assertCode(t, err, domain.CodeBadRequest)

	if gw.callCount() != 0 || companies.calls.Load() != 0 {
		t.Error("expected no collaborator calls")
	}
}

func TestCreateBoleto_CNPJGate(t *testing.T) {
	tests := []struct {
		name    string
		company *domain.Company
	}{
		{"short tax id", &domain.Company{ID: "emp-1", LegalName: "X", TaxID: "123"}},
		{"missing tax id", &domain.Company{ID: "emp-1", LegalName: "X"}},
		{"company not found", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &mockGateway{}
			svc := newService(gw, &mockCompanies{company: tt.company})

			_, err := svc.CreateBoleto(context.Background(), mensalidade("2024-05-01"), "req-1")
			assertCode(t, err, domain.CodeBadRequest)
			if gw.callCount() != 0 {
				t.Errorf("expected no gateway calls, got %d", gw.callCount())
			}
		})
	}
}

func TestCreateBoleto_CompanyLookupFailure(t *testing.T) {
	gw := &mockGateway{}
	svc := newService(gw, &mockCompanies{err: errors.New("connection refused")})

	_, err := svc.CreateBoleto(context.Background(), mensalidade("2024-05-01"), "req-1")
	assertCode(t, err, domain.CodeCompanyLookup)
	if gw.callCount() != 0 {
		t.Error("expected no gateway calls")
	}
}

func TestCreateBoleto_CompanyIsCached(t *testing.T) {
	gw := &mockGateway{
		chargeResp: map[string]any{"charge_id": "1"},
		billetResp: map[string]any{"status": "waiting"},
	}
	companies := &mockCompanies{company: validCompany()}
	svc := newService(gw, companies)

	for i := 0; i < 3; i++ {
		if _, err := svc.CreateBoleto(context.Background(), mensalidade("2024-05-01"), "req"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := companies.calls.Load(); got != 1 {
		t.Errorf("expected 1 company lookup, got %d", got)
	}
}

func TestCreateBoleto_WithoutCompany(t *testing.T) {
	gw := &mockGateway{
		chargeResp: map[string]any{"id": "77"},
		billetResp: map[string]any{"status": "waiting"},
	}
	companies := &mockCompanies{}
	svc := newService(gw, companies)

	req := mensalidade("2024-05-01")
	req.EmpresaID = ""
	req.EmpresaNome = "Padaria Central"

	resp, err := svc.CreateBoleto(context.Background(), req, "req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if companies.calls.Load() != 0 {
		t.Error("expected no company lookup")
	}
	if resp.Boleto.EfiChargeID != "77" {
		t.Errorf("expected charge id 77, got %s", resp.Boleto.EfiChargeID)
	}

	customer := gw.calls[1].payload.(map[string]any)["customer"].(map[string]any)
	if customer["name"] != "Padaria Central" {
		t.Errorf("expected caller-supplied name, got %v", customer["name"])
	}
	if _, ok := customer["juridical_person"]; ok {
		t.Error("expected no juridical_person without a company")
	}
}

func TestCreateBoleto_MissingChargeID(t *testing.T) {
	gw := &mockGateway{chargeResp: map[string]any{"code": float64(200), "data": map[string]any{"status": "new"}}}
	svc := newService(gw, &mockCompanies{company: validCompany()})

	_, err := svc.CreateBoleto(context.Background(), mensalidade("2024-05-01"), "req-1")
	assertCode(t, err, domain.CodeGatewayInvalidResponse)
	if gw.callCount() != 1 {
		t.Errorf("expected billet not to be attempted, got %d calls", gw.callCount())
	}
}

func TestCreateBoleto_GatewayErrorPropagates(t *testing.T) {
	gw := &mockGateway{err: domain.MapGatewayStatus(409, map[string]any{"error": "duplicated"})}
	svc := newService(gw, &mockCompanies{company: validCompany()})

	_, err := svc.CreateBoleto(context.Background(), mensalidade("2024-05-01"), "req-1")
	assertCode(t, err, domain.CodeGatewayConflict)
}

func TestGetBoleto(t *testing.T) {
	gw := &mockGateway{getCharge: func(string) (map[string]any, error) {
		return map[string]any{"status": "paid", "total": float64(15000)}, nil
	}}
	svc := newService(gw, &mockCompanies{})

	resp, err := svc.GetBoleto(context.Background(), "42", "req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Acao != domain.AcaoConsultar {
		t.Errorf("expected consultar, got %s", resp.Acao)
	}
	if resp.Boleto.EfiChargeID != "42" {
		t.Errorf("expected charge id from the route, got %s", resp.Boleto.EfiChargeID)
	}
	if resp.Boleto.StatusUI != domain.StatusUIPago {
		t.Errorf("expected Pago, got %s", resp.Boleto.StatusUI)
	}
}

func TestExecuteBoletoAction_Dispatch(t *testing.T) {
	tests := []struct {
		acao domain.BoletoAction
		op   string
	}{
		{domain.ActionCancel, "cancel"},
		{domain.ActionResend, "resend"},
		{domain.ActionHistory, "history"},
		{domain.ActionRegisterPayment, "pay"},
		{domain.ActionManualSettle, "settle"},
	}

	for _, tt := range tests {
		t.Run(string(tt.acao), func(t *testing.T) {
			gw := &mockGateway{actionResp: map[string]any{"code": float64(200)}}
			svc := newService(gw, &mockCompanies{})

			resp, err := svc.ExecuteBoletoAction(context.Background(), "42", &domain.BoletoActionRequest{
				Acao:    tt.acao,
				Payload: map[string]any{"motivo": "x"},
			}, "req-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(gw.calls) != 1 || gw.calls[0].op != tt.op || gw.calls[0].chargeID != "42" {
				t.Fatalf("expected one %s call, got %+v", tt.op, gw.calls)
			}
			if resp.Acao != string(tt.acao) {
				t.Errorf("expected acao %s, got %s", tt.acao, resp.Acao)
			}
		})
	}
}

func TestExecuteBoletoAction_UnknownAction(t *testing.T) {
	gw := &mockGateway{}
	svc := newService(gw, &mockCompanies{})

	_, err := svc.ExecuteBoletoAction(context.Background(), "42", &domain.BoletoActionRequest{Acao: "estornar"}, "req-1")
	assertCode(t, err, domain.CodeInvalidAction)
	if gw.callCount() != 0 {
		t.Error("expected no gateway calls")
	}
}

func TestSyncBoletos_PreservesOrder(t *testing.T) {
	const n = 25
	gw := &mockGateway{getCharge: func(id string) (map[string]any, error) {
		// Later items finish first.
		var idx int
		fmt.Sscanf(id, "c%d", &idx)
		time.Sleep(time.Duration(n-idx) * time.Millisecond)
		return map[string]any{"status": "paid"}, nil
	}}
	svc := newService(gw, &mockCompanies{})

	req := &domain.BoletoSyncRequest{Force: true, Motivo: "reconciliacao"}
	for i := 0; i < n; i++ {
		req.Items = append(req.Items, domain.BoletoSyncItem{EfiChargeID: fmt.Sprintf("c%d", i)})
	}

	resp, err := svc.SyncBoletos(context.Background(), req, "req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Boletos) != n {
		t.Fatalf("expected %d boletos, got %d", n, len(resp.Boletos))
	}
	for i, b := range resp.Boletos {
		if want := fmt.Sprintf("c%d", i); b.EfiChargeID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, b.EfiChargeID)
		}
	}

	raw := resp.Raw.(map[string]any)
	if raw["total"] != n || raw["force"] != true || raw["motivo"] != "reconciliacao" {
		t.Errorf("unexpected raw summary: %v", raw)
	}
}

func TestSyncBoletos_BoundedConcurrency(t *testing.T) {
	const limit = 3
	var inFlight, peak atomic.Int32

	gw := &mockGateway{getCharge: func(string) (map[string]any, error) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return map[string]any{"status": "waiting"}, nil
	}}
	svc := service.NewBoletoService(gw, &mockCompanies{}, cache.New[*domain.Company](time.Minute),
		observability.NewMetrics(), zap.NewNop(), limit)

	req := &domain.BoletoSyncRequest{}
	for i := 0; i < 12; i++ {
		req.Items = append(req.Items, domain.BoletoSyncItem{EfiChargeID: fmt.Sprintf("c%d", i)})
	}

	if _, err := svc.SyncBoletos(context.Background(), req, "req-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := peak.Load(); got > limit {
		t.Errorf("expected at most %d concurrent fetches, got %d", limit, got)
	}
}

func TestSyncBoletos_FailureFailsBatch(t *testing.T) {
	gw := &mockGateway{getCharge: func(id string) (map[string]any, error) {
		if id == "missing" {
			return nil, domain.MapGatewayStatus(404, nil)
		}
		return map[string]any{"status": "paid"}, nil
	}}
	svc := newService(gw, &mockCompanies{})

	_, err := svc.SyncBoletos(context.Background(), &domain.BoletoSyncRequest{Items: []domain.BoletoSyncItem{
		{EfiChargeID: "a"}, {EfiChargeID: "missing"}, {EfiChargeID: "b"},
	}}, "req-1")
	assertCode(t, err, domain.CodeGatewayNotFound)
}

func TestSyncBoletos_NoMotivoIsNull(t *testing.T) {
	svc := newService(&mockGateway{}, &mockCompanies{})

	resp, err := svc.SyncBoletos(context.Background(), &domain.BoletoSyncRequest{
		Items: []domain.BoletoSyncItem{{EfiChargeID: "a"}},
	}, "req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	raw := resp.Raw.(map[string]any)
	if raw["motivo"] != nil || raw["force"] != false {
		t.Errorf("unexpected raw summary: %v", raw)
	}
}
