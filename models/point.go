package models

import "time"

// MeasurementCoin is the measurement name of every coin point.
const MeasurementCoin = "coin"

// Point field names.
const (
	FieldPrice            = "price"
	FieldMarketCap        = "market_cap"
	FieldVolume24h        = "volume_24h"
	FieldPercentChange24h = "percent_change_24h"
)

// Point is one time-series sample: one coin at one fetch.
type Point struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]interface{}
	Time        time.Time
}

// Points flattens a record into one point per coin, ordered by coin id.
// tags, when non-nil, supplies extra tags per coin; the coin tag always
// carries the identifier.
func Points(r QuoteRecord, tags func(id string) map[string]string) []Point {
	points := make([]Point, 0, len(r.Quotes))
	for _, id := range r.IDs() {
		q := r.Quotes[id]

		pointTags := map[string]string{}
		if tags != nil {
			for k, v := range tags(id) {
				pointTags[k] = v
			}
		}
		pointTags["coin"] = id

		points = append(points, Point{
			Measurement: MeasurementCoin,
			Tags:        pointTags,
			Fields: map[string]interface{}{
				FieldPrice:            q.Price,
				FieldMarketCap:        q.MarketCap,
				FieldVolume24h:        q.Volume24h,
				FieldPercentChange24h: q.PercentChange24h,
			},
			Time: r.FetchedAt,
		})
	}
	return points
}
