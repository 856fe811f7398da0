package domain

import "time"

// PriceBar represents one OHLCV bar for a stock.
// Corresponds to stock_prices table in ClickHouse.
// Bars are immutable once ingested and unique per (stock_id, timestamp).
type PriceBar struct {
	StockID       int64     // stock identifier
	Timestamp     time.Time // bar date (daily resolution)
	Open          float64
	High          float64
	Low           float64
	Close         float64
	AdjustedClose float64
	Volume        float64
}

// FeatureRecord represents one engineered feature value for a stock at a date.
// Corresponds to stock_features table in ClickHouse.
// feature_name uniquely identifies one scalar series per stock.
type FeatureRecord struct {
	StockID      int64
	Timestamp    time.Time
	FeatureName  string
	FeatureValue float64
}
