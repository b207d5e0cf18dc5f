package models

import (
	"time"
)

// ChartPoint is a single price sample for a coin in a quote currency
type ChartPoint struct {
	Time        time.Time `json:"bitcoin_date" db:"bitcoin_date"`
	CoinName    string    `json:"coin_name" db:"coin_name"`
	Currency    string    `json:"currency_name" db:"currency_name"`
	Price       float64   `json:"price" db:"price"`
	MarketCap   float64   `json:"market_cap" db:"market_cap"`
	TotalVolume float64   `json:"total_volume" db:"total_volume"`
}

// OHLCPoint represents an aggregated price candle
type OHLCPoint struct {
	Time     time.Time `json:"timestamp" db:"timestamp"`
	CoinName string    `json:"coin_name" db:"coin_name"`
	Currency string    `json:"currency_name" db:"currency_name"`
	Open     float64   `json:"open" db:"open"`
	High     float64   `json:"high" db:"high"`
	Low      float64   `json:"low" db:"low"`
	Close    float64   `json:"close" db:"close"`
}

// Coin is a row of the coin dimension
type Coin struct {
	Key          string    `json:"coin_key" db:"coin_key"`
	ID           string    `json:"coin_id" db:"coin_id"`
	FoundedYear  time.Time `json:"founded_year" db:"founded_year"`
	TickerSymbol string    `json:"ticker_symbol" db:"ticker_symbol"`
	Source       string    `json:"source" db:"source"`
	IsActive     bool      `json:"is_active" db:"is_active"`
}

// Currency is a row of the quote currency dimension
type Currency struct {
	Key      string `json:"currency_key" db:"currency_key"`
	Code     string `json:"currency_code" db:"currency_code"`
	Name     string `json:"currency_name" db:"currency_name"`
	Symbol   string `json:"currency_symbol" db:"currency_symbol"`
	IsActive bool   `json:"is_active" db:"is_active"`
}

// Range selects which warehouse table a market query reads.
type Range string

const (
	// RangeHistory reads the long-horizon tables (90 days of hourly prices, 30 days of 4h candles).
	RangeHistory Range = "history"
	// RangeLastDay reads the intraday tables (5 minute prices, 30 minute candles).
	RangeLastDay Range = "lastday"
)

// MarketQuery describes a chart or OHLC request
type MarketQuery struct {
	Range Range
	Limit int
	Start string // "YYYY-MM-DD HH:MM:SS" for history, "HH:MM:SS" for lastday
	End   string
}
