package domain

// Company is the subset of the member registry the bridge needs to bill a
// company: its legal identifier and display names.
type Company struct {
	ID        string `json:"id"`
	LegalName string `json:"razao_social,omitempty"`
	TradeName string `json:"nome_fantasia,omitempty"`
	TaxID     string `json:"cnpj,omitempty"`
	Email     string `json:"email,omitempty"`
}

// DisplayName prefers the legal name over the trade name.
func (c *Company) DisplayName() string {
	if c.LegalName != "" {
		return c.LegalName
	}
	return c.TradeName
}
