package models

import (
	"encoding/json"
	"testing"
	"time"
)

const bitcoinUSD = `{"bitcoin": {"usd": 45000, "usd_market_cap": 8.8e11, "usd_24h_vol": 2.1e10, "usd_24h_change": 1.2}}`

func TestDecodeQuoteRecord(t *testing.T) {
	r, err := DecodeQuoteRecord([]byte(bitcoinUSD), "usd")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	q, ok := r.Quotes["bitcoin"]
	if !ok {
		t.Fatalf("bitcoin missing: %v", r.Quotes)
	}
	want := Quote{Price: 45000, MarketCap: 8.8e11, Volume24h: 2.1e10, PercentChange24h: 1.2}
	if q != want {
		t.Errorf("quote = %+v, want %+v", q, want)
	}
}

func TestDecodeQuoteRecordSkipsCoinsWithoutPrice(t *testing.T) {
	data := `{"bitcoin": {"usd": 1, "usd_market_cap": null}, "unknown": {}}`
	r, err := DecodeQuoteRecord([]byte(data), "usd")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(r.Quotes) != 1 {
		t.Fatalf("expected 1 quote, got %v", r.Quotes)
	}
	if r.Quotes["bitcoin"].MarketCap != 0 {
		t.Errorf("null market cap should read as zero")
	}
}

func TestDecodeQuoteRecordOtherCurrency(t *testing.T) {
	data := `{"ethereum": {"eur": 2000, "eur_market_cap": 3, "eur_24h_vol": 4, "eur_24h_change": -5.5, "usd": 9}}`
	r, err := DecodeQuoteRecord([]byte(data), "eur")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := r.Quotes["ethereum"]; got.Price != 2000 || got.PercentChange24h != -5.5 {
		t.Errorf("unexpected quote: %+v", got)
	}
}

func TestQuoteRecordMarshalKeepsProviderShape(t *testing.T) {
	r, err := DecodeQuoteRecord([]byte(bitcoinUSD), "usd")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got, want map[string]map[string]float64
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := json.Unmarshal([]byte(bitcoinUSD), &want); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for k, v := range want["bitcoin"] {
		if got["bitcoin"][k] != v {
			t.Errorf("%s = %v, want %v", k, got["bitcoin"][k], v)
		}
	}
	if len(got["bitcoin"]) != len(want["bitcoin"]) {
		t.Errorf("unexpected keys: %v", got["bitcoin"])
	}
}

func TestPoints(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r, err := DecodeQuoteRecord([]byte(bitcoinUSD), "usd")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	r.FetchedAt = at

	points := Points(r, nil)
	if len(points) != 1 {
		t.Fatalf("expected 1 point, got %d", len(points))
	}
	p := points[0]
	if p.Measurement != "coin" {
		t.Errorf("measurement = %s", p.Measurement)
	}
	if len(p.Tags) != 1 || p.Tags["coin"] != "bitcoin" {
		t.Errorf("tags = %v", p.Tags)
	}
	want := map[string]float64{"price": 45000, "market_cap": 8.8e11, "volume_24h": 2.1e10, "percent_change_24h": 1.2}
	for k, v := range want {
		if p.Fields[k] != v {
			t.Errorf("field %s = %v, want %v", k, p.Fields[k], v)
		}
	}
	if !p.Time.Equal(at) {
		t.Errorf("time = %v", p.Time)
	}
}

func TestPointsMergesConfiguredTags(t *testing.T) {
	r := QuoteRecord{Currency: "usd", Quotes: map[string]Quote{"b": {Price: 1}, "a": {Price: 2}}}
	tags := func(id string) map[string]string {
		return map[string]string{"tier": "top", "coin": "spoofed"}
	}
	points := Points(r, tags)
	if len(points) != 2 || points[0].Tags["coin"] != "a" || points[1].Tags["coin"] != "b" {
		t.Fatalf("unexpected points: %+v", points)
	}
	if points[0].Tags["tier"] != "top" {
		t.Errorf("configured tag missing: %v", points[0].Tags)
	}
}
