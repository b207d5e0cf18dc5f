package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/coin-market-api/internal/models"
)

// MarketData is the data-fetch collaborator behind the metered endpoints
type MarketData interface {
	Chart(ctx context.Context, q models.MarketQuery) ([]models.ChartPoint, error)
	OHLC(ctx context.Context, q models.MarketQuery) ([]models.OHLCPoint, error)
	Coins(ctx context.Context) ([]models.Coin, error)
	Currencies(ctx context.Context) ([]models.Currency, error)
}

type MarketHandler struct {
	market MarketData
}

func NewMarketHandler(market MarketData) *MarketHandler {
	return &MarketHandler{market: market}
}

// GetChart returns price samples
// GET /api/v1/chart?type=history&limit=10&start=2026-10-01 00:00:00&end=...
func (h *MarketHandler) GetChart(w http.ResponseWriter, r *http.Request) {
	q, ok := parseMarketQuery(w, r)
	if !ok {
		return
	}

	points, err := h.market.Chart(r.Context(), q)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// GetOHLC returns candles
// GET /api/v1/ohlc?type=lastday&start=08:00:00
func (h *MarketHandler) GetOHLC(w http.ResponseWriter, r *http.Request) {
	q, ok := parseMarketQuery(w, r)
	if !ok {
		return
	}

	candles, err := h.market.OHLC(r.Context(), q)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, candles)
}

// GetCoins lists the tracked coins
// GET /api/v1/coins
func (h *MarketHandler) GetCoins(w http.ResponseWriter, r *http.Request) {
	coins, err := h.market.Coins(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, coins)
}

// GetCurrencies lists the quote currencies
// GET /api/v1/currencies
func (h *MarketHandler) GetCurrencies(w http.ResponseWriter, r *http.Request) {
	currencies, err := h.market.Currencies(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, currencies)
}

func (h *MarketHandler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, models.ErrInvalidInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Error().Err(err).Msg("Market query failed")
	writeError(w, http.StatusInternalServerError, "database error")
}

var (
	historyLayouts = []string{time.DateTime, time.DateOnly}
	lastDayLayouts = []string{time.TimeOnly, "15:04"}
)

func parseMarketQuery(w http.ResponseWriter, r *http.Request) (models.MarketQuery, bool) {
	params := r.URL.Query()
	q := models.MarketQuery{
		Range: models.Range(params.Get("type")),
		Start: params.Get("start"),
		End:   params.Get("end"),
	}
	if q.Range == "" {
		q.Range = models.RangeHistory
	}

	if s := params.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return q, false
		}
		q.Limit = limit
	}

	layouts := historyLayouts
	if q.Range == models.RangeLastDay {
		layouts = lastDayLayouts
	}
	for _, bound := range []string{q.Start, q.End} {
		if bound != "" && !matchesAny(bound, layouts) {
			writeError(w, http.StatusBadRequest, "invalid start or end")
			return q, false
		}
	}

	return q, true
}

func matchesAny(value string, layouts []string) bool {
	for _, layout := range layouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}
