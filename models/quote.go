package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Quote holds the valuation metrics of one coin in the record's currency.
type Quote struct {
	Price            float64 `json:"price"`
	MarketCap        float64 `json:"market_cap"`
	Volume24h        float64 `json:"volume_24h"`
	PercentChange24h float64 `json:"percent_change_24h"`
}

// QuoteRecord is the result of one fetch: quotes per coin identifier, all
// denominated in Currency.
type QuoteRecord struct {
	Currency  string
	FetchedAt time.Time
	Quotes    map[string]Quote
}

// Wire keys of the provider response. The currency code prefixes every key,
// e.g. usd, usd_market_cap, usd_24h_vol, usd_24h_change.
func priceKey(cur string) string     { return cur }
func marketCapKey(cur string) string { return cur + "_market_cap" }
func volumeKey(cur string) string    { return cur + "_24h_vol" }
func changeKey(cur string) string    { return cur + "_24h_change" }

// IDs returns the coin identifiers of the record in sorted order.
func (r QuoteRecord) IDs() []string {
	ids := make([]string, 0, len(r.Quotes))
	for id := range r.Quotes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Wire returns the record in the provider's nested shape.
func (r QuoteRecord) Wire() map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(r.Quotes))
	for id, q := range r.Quotes {
		out[id] = map[string]float64{
			priceKey(r.Currency):     q.Price,
			marketCapKey(r.Currency): q.MarketCap,
			volumeKey(r.Currency):    q.Volume24h,
			changeKey(r.Currency):    q.PercentChange24h,
		}
	}
	return out
}

// MarshalJSON encodes the record in the provider's nested shape so archived
// files look exactly like the API response.
func (r QuoteRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Wire())
}

// DecodeQuoteRecord parses a provider-shaped JSON document for currency.
// Coins without a price are dropped; other missing metrics read as zero.
func DecodeQuoteRecord(data []byte, currency string) (QuoteRecord, error) {
	var raw map[string]map[string]*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return QuoteRecord{}, fmt.Errorf("failed to decode quote record: %w", err)
	}

	record := QuoteRecord{
		Currency: currency,
		Quotes:   make(map[string]Quote, len(raw)),
	}
	for id, metrics := range raw {
		price := metrics[priceKey(currency)]
		if price == nil {
			continue
		}
		record.Quotes[id] = Quote{
			Price:            *price,
			MarketCap:        valueOrZero(metrics[marketCapKey(currency)]),
			Volume24h:        valueOrZero(metrics[volumeKey(currency)]),
			PercentChange24h: valueOrZero(metrics[changeKey(currency)]),
		}
	}
	return record, nil
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
