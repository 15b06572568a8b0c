package market

// Ticker is a 24h market snapshot as returned by the exchange ticker
// endpoint. SignedChangeRate is a fraction (0.05 == +5%), AccTradePrice24h
// the accumulated 24h quote-currency turnover.
type Ticker struct {
	Market           string
	TradePrice       float64
	SignedChangeRate float64
	AccTradePrice24h float64
}
