package domain

// ============================================================
// Boletos EFI — tipos do bridge
// ============================================================

// BoletoTipo is the billing kind of a new charge.
type BoletoTipo string

const (
	BoletoTipoMensalidade  BoletoTipo = "mensalidade"
	BoletoTipoContribuicao BoletoTipo = "contribuicao"
)

// BoletoAction is the closed set of actions on an existing charge.
type BoletoAction string

const (
	ActionCancel          BoletoAction = "cancelar"
	ActionResend          BoletoAction = "reenviar_boleto"
	ActionHistory         BoletoAction = "historico"
	ActionRegisterPayment BoletoAction = "registrar_pagamento"
	ActionManualSettle    BoletoAction = "baixar_manual"
)

// Bridge action tags that are not caller actions.
const (
	AcaoCriar     = "criar"
	AcaoConsultar = "consultar"
	AcaoSync      = "sync"
)

// Status vocabulary shown to the UI.
const (
	StatusUIPendente  = "Pendente"
	StatusUIPago      = "Pago"
	StatusUICancelado = "Cancelado"
	StatusUIVencido   = "Vencido"
	StatusUIEmAberto  = "Em aberto"
)

// BoletoCreateRequest is a validated POST /api/efi/boletos body.
type BoletoCreateRequest struct {
	Tipo                      BoletoTipo `json:"tipo"`
	EmpresaID                 string     `json:"empresaId,omitempty"`
	EmpresaNome               string     `json:"empresaNome,omitempty"`
	CompetenciaInicial        string     `json:"competenciaInicial,omitempty"`
	CompetenciaFinal          string     `json:"competenciaFinal,omitempty"`
	DataVencimento            string     `json:"dataVencimento"`
	FaixaID                   string     `json:"faixaId,omitempty"`
	UnificarCompetencias      string     `json:"unificarCompetencias,omitempty"`
	MensagemPersonalizada     string     `json:"mensagemPersonalizada,omitempty"`
	AnoContribuicao           string     `json:"anoContribuicao,omitempty"`
	Periodicidade             string     `json:"periodicidade,omitempty"`
	Parcelas                  string     `json:"parcelas,omitempty"`
	BaseCalculo               string     `json:"baseCalculo,omitempty"`
	Percentual                string     `json:"percentual,omitempty"`
	Descontos                 string     `json:"descontos,omitempty"`
	ValorCalculado            float64    `json:"valorCalculado"`
	PesquisaContribuicaoFeita bool       `json:"pesquisaContribuicaoFeita,omitempty"`
}

// BoletoActionContext carries optional caller audit data.
type BoletoActionContext struct {
	Canal     string `json:"canal,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	UsuarioID string `json:"usuarioId,omitempty"`
}

// BoletoActionRequest is a validated POST /api/efi/boletos/{id}/acoes body.
type BoletoActionRequest struct {
	Acao     BoletoAction         `json:"acao"`
	Contexto *BoletoActionContext `json:"contexto,omitempty"`
	Payload  map[string]any       `json:"payload"`
}

// BoletoSyncItem is one charge to re-read from the gateway.
type BoletoSyncItem struct {
	EfiChargeID string `json:"efiChargeId"`
	EmpresaID   string `json:"empresaId,omitempty"`
}

// BoletoSyncRequest is a validated POST /api/efi/boletos/sync body.
type BoletoSyncRequest struct {
	Items  []BoletoSyncItem `json:"items"`
	Force  bool             `json:"force"`
	Motivo string           `json:"motivo,omitempty"`
}

// BridgeBoleto is the canonical boleto record returned to callers.
type BridgeBoleto struct {
	EfiChargeID    string   `json:"efi_charge_id"`
	StatusEfiRaw   string   `json:"status_efi_raw"`
	StatusUI       string   `json:"status_ui"`
	Valor          *float64 `json:"valor"`
	Vencimento     *string  `json:"vencimento"`
	LinhaDigitavel *string  `json:"linha_digitavel"`
	PdfURL         *string  `json:"pdf_url"`
	LinkBoleto     *string  `json:"link_boleto"`
	LastSyncedAt   string   `json:"last_synced_at"`
}

// BridgeResponse is the uniform success envelope.
type BridgeResponse struct {
	OK        bool           `json:"ok"`
	Acao      string         `json:"acao"`
	Boleto    *BridgeBoleto  `json:"boleto,omitempty"`
	Boletos   []BridgeBoleto `json:"boletos,omitempty"`
	Raw       any            `json:"raw"`
	RequestID string         `json:"requestId"`
}

// BridgeErrorBody is the inner object of the failure envelope.
type BridgeErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// BridgeErrorResponse is the uniform failure envelope.
type BridgeErrorResponse struct {
	OK        bool            `json:"ok"`
	Error     BridgeErrorBody `json:"error"`
	RequestID string          `json:"requestId"`
}
