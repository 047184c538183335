package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/boddenberg/sindicato-efi-bridge/internal/domain"
)

const (
	msgRequired       = "Campo obrigatório."
	msgNumeric        = "Campo deve ser numérico."
	msgPositive       = "Deve ser maior que zero."
	msgBodyObject     = "Body deve ser um objeto."
	msgActionRequired = "Campo obrigatório para a ação."
	msgInvalidAction  = "Ação inválida. Use: cancelar, reenviar_boleto, historico, registrar_pagamento, baixar_manual."
	msgInvalidTipo    = "Deve ser 'mensalidade' ou 'contribuicao'."
	msgEmpresaID      = "Quando enviado, deve ser string não vazia."
	msgItemsRequired  = "Envie ao menos um efiChargeId."
	msgItemChargeID   = "Todos os itens devem ter efiChargeId válido."
	msgForceBoolean   = "Campo force deve ser booleano."
	msgMalformedJSON  = "JSON inválido no corpo da requisição."
	msgOptionalString = "Quando enviado, deve ser texto."
)

// Required payload sub-fields per action, in reporting order.
var actionRules = map[domain.BoletoAction][]string{
	domain.ActionCancel:          {"motivo"},
	domain.ActionResend:          {"email"},
	domain.ActionHistory:         {"descricao"},
	domain.ActionRegisterPayment: {"dataPagamento", "valor"},
	domain.ActionManualSettle:    {"dataLiquidacao", "valorLiquidado"},
}

// IsKnownAction reports whether a is one of the closed action tags.
func IsKnownAction(a domain.BoletoAction) bool {
	_, ok := actionRules[a]
	return ok
}

type issues []domain.ValidationIssue

func (is *issues) add(field, message string) {
	*is = append(*is, domain.ValidationIssue{Field: field, Message: message})
}

func (is issues) err() error {
	if len(is) == 0 {
		return nil
	}
	return domain.NewValidationError(is)
}

// decodeObject parses body into a JSON object. Malformed JSON is a
// BAD_REQUEST; well-formed JSON that is not an object is a 422 on "body".
func decodeObject(body []byte) (map[string]any, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, domain.NewValidationError([]domain.ValidationIssue{{Field: "body", Message: msgBodyObject}})
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, domain.NewBadRequestError(msgMalformedJSON, map[string]any{"reason": err.Error()})
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, domain.NewValidationError([]domain.ValidationIssue{{Field: "body", Message: msgBodyObject}})
	}
	return obj, nil
}

// ValidateCreateBody validates a charge creation body and returns the typed
// request. All issues are reported together.
func ValidateCreateBody(body []byte) (*domain.BoletoCreateRequest, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	var is issues

	tipo, _ := obj["tipo"].(string)
	if tipo != string(domain.BoletoTipoMensalidade) && tipo != string(domain.BoletoTipoContribuicao) {
		is.add("tipo", msgInvalidTipo)
	}

	if v, present := obj["empresaId"]; present {
		if s, ok := v.(string); !ok || strings.TrimSpace(s) == "" {
			is.add("empresaId", msgEmpresaID)
		}
	}

	requireString(&is, obj, "dataVencimento")

	valor, isNumber := obj["valorCalculado"].(float64)
	switch {
	case !isNumber:
		is.add("valorCalculado", msgNumeric)
	case valor <= 0:
		is.add("valorCalculado", msgPositive)
	}

	switch domain.BoletoTipo(tipo) {
	case domain.BoletoTipoMensalidade:
		for _, f := range []string{"competenciaInicial", "competenciaFinal", "faixaId"} {
			requireScalar(&is, obj, f)
		}
	case domain.BoletoTipoContribuicao:
		for _, f := range []string{"anoContribuicao", "periodicidade", "parcelas", "baseCalculo", "percentual"} {
			requireScalar(&is, obj, f)
		}
	}

	for _, f := range []string{"empresaNome", "mensagemPersonalizada"} {
		if v, present := obj[f]; present && v != nil {
			if _, ok := v.(string); !ok {
				is.add(f, msgOptionalString)
			}
		}
	}

	if err := is.err(); err != nil {
		return nil, err
	}

	pesquisa, _ := obj["pesquisaContribuicaoFeita"].(bool)
	return &domain.BoletoCreateRequest{
		Tipo:                      domain.BoletoTipo(tipo),
		EmpresaID:                 strings.TrimSpace(optString(obj, "empresaId")),
		EmpresaNome:               optString(obj, "empresaNome"),
		CompetenciaInicial:        optString(obj, "competenciaInicial"),
		CompetenciaFinal:          optString(obj, "competenciaFinal"),
		DataVencimento:            strings.TrimSpace(optString(obj, "dataVencimento")),
		FaixaID:                   optString(obj, "faixaId"),
		UnificarCompetencias:      optString(obj, "unificarCompetencias"),
		MensagemPersonalizada:     optString(obj, "mensagemPersonalizada"),
		AnoContribuicao:           optString(obj, "anoContribuicao"),
		Periodicidade:             optString(obj, "periodicidade"),
		Parcelas:                  optString(obj, "parcelas"),
		BaseCalculo:               optString(obj, "baseCalculo"),
		Percentual:                optString(obj, "percentual"),
		Descontos:                 optString(obj, "descontos"),
		ValorCalculado:            valor,
		PesquisaContribuicaoFeita: pesquisa,
	}, nil
}

// ValidateActionBody validates an action body. Unknown actions and missing
// per-action payload fields are reported together.
func ValidateActionBody(body []byte) (*domain.BoletoActionRequest, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	var is issues

	acao, _ := obj["acao"].(string)
	rules, known := actionRules[domain.BoletoAction(acao)]
	if !known {
		is.add("acao", msgInvalidAction)
	}

	payload, ok := obj["payload"].(map[string]any)
	if !ok {
		payload = map[string]any{}
	}
	for _, f := range rules {
		if blank(payload[f]) {
			is.add("payload."+f, msgActionRequired)
		}
	}

	if err := is.err(); err != nil {
		return nil, err
	}

	req := &domain.BoletoActionRequest{
		Acao:    domain.BoletoAction(acao),
		Payload: payload,
	}
	if ctx, ok := obj["contexto"].(map[string]any); ok {
		req.Contexto = &domain.BoletoActionContext{
			Canal:     optString(ctx, "canal"),
			RequestID: optString(ctx, "requestId"),
			UsuarioID: optString(ctx, "usuarioId"),
		}
	}
	return req, nil
}

// ValidateSyncBody validates a batch sync body.
func ValidateSyncBody(body []byte) (*domain.BoletoSyncRequest, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	var is issues
	req := &domain.BoletoSyncRequest{}

	rawItems, ok := obj["items"].([]any)
	if !ok || len(rawItems) == 0 {
		is.add("items", msgItemsRequired)
	}
	for i, raw := range rawItems {
		item, _ := raw.(map[string]any)
		id, _ := item["efiChargeId"].(string)
		if strings.TrimSpace(id) == "" {
			is.add(fmt.Sprintf("items[%d].efiChargeId", i), msgItemChargeID)
			continue
		}
		req.Items = append(req.Items, domain.BoletoSyncItem{
			EfiChargeID: strings.TrimSpace(id),
			EmpresaID:   optString(item, "empresaId"),
		})
	}

	if v, present := obj["force"]; present && v != nil {
		force, isBool := v.(bool)
		if !isBool {
			is.add("force", msgForceBoolean)
		}
		req.Force = force
	}

	if v, present := obj["motivo"]; present && v != nil {
		motivo, isString := v.(string)
		if !isString {
			is.add("motivo", msgOptionalString)
		}
		req.Motivo = motivo
	}

	if err := is.err(); err != nil {
		return nil, err
	}
	return req, nil
}

func requireString(is *issues, obj map[string]any, field string) {
	s, ok := obj[field].(string)
	if !ok || strings.TrimSpace(s) == "" {
		is.add(field, msgRequired)
	}
}

// requireScalar accepts a non-empty string or a number.
func requireScalar(is *issues, obj map[string]any, field string) {
	switch v := obj[field].(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			return
		}
	case float64:
		return
	}
	is.add(field, msgRequired)
}

func optString(obj map[string]any, field string) string {
	v, ok := obj[field]
	if !ok || v == nil {
		return ""
	}
	return scalarString(v)
}

func blank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
