package provider

// Endpoint descreve uma rota do provedor exposta pelo gateway.
type Endpoint struct {
	Name string
	// Path pode conter "{id}", substituído pelo parâmetro "id".
	Path string
	// Params são os parâmetros de query repassados ao provedor; os demais são descartados.
	Params []string
	// Schema é o JSON Schema mínimo da resposta.
	Schema string
}

// NeedsID indica se o path exige o parâmetro "id".
func (e Endpoint) NeedsID() bool {
	return containsID(e.Path)
}

// MarketEndpoints é a tabela padrão do provedor de mercado.
var MarketEndpoints = []Endpoint{
	{
		Name:   "markets",
		Path:   "/coins/markets",
		Params: []string{"vs_currency", "ids", "category", "order", "per_page", "page", "sparkline", "price_change_percentage"},
		Schema: `{"type": "array", "items": {"type": "object", "required": ["id"]}}`,
	},
	{
		Name:   "simple-price",
		Path:   "/simple/price",
		Params: []string{"ids", "vs_currencies", "include_market_cap", "include_24hr_vol", "include_24hr_change", "include_last_updated_at"},
		Schema: `{"type": "object"}`,
	},
	{
		Name:   "trending",
		Path:   "/search/trending",
		Schema: `{"type": "object", "required": ["coins"]}`,
	},
	{
		Name:   "global",
		Path:   "/global",
		Schema: `{"type": "object", "required": ["data"]}`,
	},
	{
		Name:   "market-chart",
		Path:   "/coins/{id}/market_chart",
		Params: []string{"vs_currency", "days", "interval"},
		Schema: `{"type": "object", "required": ["prices"], "properties": {"prices": {"type": "array"}}}`,
	},
	{
		Name:   "coin",
		Path:   "/coins/{id}",
		Params: []string{"localization", "tickers", "market_data", "community_data", "developer_data", "sparkline"},
		Schema: `{"type": "object", "required": ["id"]}`,
	},
}
