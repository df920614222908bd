package marketpoll

// Wire types for the market-data search endpoint. Numeric fields are
// pointers: the feed routinely omits fields, and an absent value must
// stay distinguishable from a reported zero.

type searchResponse struct {
	Pairs []pairPayload `json:"pairs"`
}

type tokenPayload struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type txnCounts struct {
	Buys  *int `json:"buys"`
	Sells *int `json:"sells"`
}

type pairPayload struct {
	ChainID     string       `json:"chainId"`
	DexID       string       `json:"dexId"`
	PairAddress string       `json:"pairAddress"`
	BaseToken   tokenPayload `json:"baseToken"`
	QuoteToken  tokenPayload `json:"quoteToken"`
	PriceUSD    string       `json:"priceUsd"`

	Txns map[string]txnCounts `json:"txns"`

	Volume      map[string]*float64 `json:"volume"`
	PriceChange map[string]*float64 `json:"priceChange"`

	Liquidity *struct {
		USD *float64 `json:"usd"`
	} `json:"liquidity"`

	PairCreatedAt int64 `json:"pairCreatedAt"` // unix millis, 0 = unknown
}
