package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/coin-market-api/internal/models"
	"github.com/akagifreeez/coin-market-api/pkg/cache"
)

const (
	DefaultMarketLimit = 10
	MaxMarketLimit     = 1000

	coinsKey      = "data:coins"
	currenciesKey = "data:currencies"
)

// Warehouse tables per range. They are populated by the ETL.
var (
	chartTables = map[models.Range]string{
		models.RangeHistory: "gold_fact_hourlyprices_last90days",
		models.RangeLastDay: "gold_fact_5minprices_lastday",
	}
	ohlcTables = map[models.Range]string{
		models.RangeHistory: "gold_fact_4hourlyohlc_last30days",
		models.RangeLastDay: "gold_fact_30minohlc_lastday",
	}
)

// MarketService serves chart and OHLC series with a short-lived result cache
type MarketService struct {
	db    *pgxpool.Pool
	cache Cache
	ttl   time.Duration
}

func NewMarketService(db *pgxpool.Pool, c Cache, ttl time.Duration) *MarketService {
	return &MarketService{db: db, cache: c, ttl: ttl}
}

// Chart returns price samples for q
func (s *MarketService) Chart(ctx context.Context, q models.MarketQuery) ([]models.ChartPoint, error) {
	q, table, err := normalize(q, chartTables)
	if err != nil {
		return nil, err
	}

	return cached(ctx, s, dataKey("chart", q), func() ([]models.ChartPoint, error) {
		query, args := buildMarketQuery(table, `f.prices, f.market_caps, f.total_volumes`, q)
		rows, err := s.db.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
		defer rows.Close()

		points := make([]models.ChartPoint, 0)
		for rows.Next() {
			var p models.ChartPoint
			if err := rows.Scan(&p.Time, &p.CoinName, &p.Currency, &p.Price, &p.MarketCap, &p.TotalVolume); err != nil {
				return nil, err
			}
			points = append(points, p)
		}
		return points, rows.Err()
	})
}

// OHLC returns candles for q
func (s *MarketService) OHLC(ctx context.Context, q models.MarketQuery) ([]models.OHLCPoint, error) {
	q, table, err := normalize(q, ohlcTables)
	if err != nil {
		return nil, err
	}

	return cached(ctx, s, dataKey("ohlc", q), func() ([]models.OHLCPoint, error) {
		query, args := buildMarketQuery(table, `f.open, f.high, f.low, f.close`, q)
		rows, err := s.db.Query(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
		defer rows.Close()

		return collectAll(rows, func(row pgx.CollectableRow) (models.OHLCPoint, error) {
			var c models.OHLCPoint
			err := row.Scan(&c.Time, &c.CoinName, &c.Currency, &c.Open, &c.High, &c.Low, &c.Close)
			return c, err
		})
	})
}

// Coins lists the coin dimension, inactive coins included
func (s *MarketService) Coins(ctx context.Context) ([]models.Coin, error) {
	return cached(ctx, s, coinsKey, func() ([]models.Coin, error) {
		rows, err := s.db.Query(ctx, `
			SELECT coin_key, coin_id, founded_year, ticker_symbol, source, is_active
			FROM gold_dim_coin
			ORDER BY coin_key`)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
		return collectAll(rows, pgx.RowToStructByName[models.Coin])
	})
}

// Currencies lists the quote currency dimension, inactive currencies included
func (s *MarketService) Currencies(ctx context.Context) ([]models.Currency, error) {
	return cached(ctx, s, currenciesKey, func() ([]models.Currency, error) {
		rows, err := s.db.Query(ctx, `
			SELECT currency_key, currency_code, currency_name, currency_symbol, is_active
			FROM gold_dim_currency
			ORDER BY currency_key`)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
		}
		return collectAll(rows, pgx.RowToStructByName[models.Currency])
	})
}

// collectAll is pgx.CollectRows that returns an empty slice, never nil,
// so empty results encode as [] and are cached like any other.
func collectAll[T any](rows pgx.Rows, fn pgx.RowToFunc[T]) ([]T, error) {
	out, err := pgx.CollectRows(rows, fn)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = make([]T, 0)
	}
	return out, nil
}

func normalize(q models.MarketQuery, tables map[models.Range]string) (models.MarketQuery, string, error) {
	if q.Range == "" {
		q.Range = models.RangeHistory
	}
	table, ok := tables[q.Range]
	if !ok {
		return q, "", fmt.Errorf("%w: unknown type %q", models.ErrInvalidInput, q.Range)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultMarketLimit
	}
	if q.Limit > MaxMarketLimit {
		q.Limit = MaxMarketLimit
	}
	return q, table, nil
}

// buildMarketQuery joins a fact table to its dimensions. History bounds
// compare full timestamps, lastday bounds compare time of day.
func buildMarketQuery(table, measures string, q models.MarketQuery) (string, []any) {
	tsExpr := `CAST(CONCAT(d.full_date, ' ', t.time_of_day) AS TIMESTAMP)`
	boundExpr, boundCast := tsExpr, "::timestamp"
	if q.Range == models.RangeLastDay {
		boundExpr, boundCast = "t.time_of_day", "::time"
	}

	query := fmt.Sprintf(`
		SELECT %s AS ts, c.coin_id, cur.currency_code, %s
		FROM %s f
		JOIN gold_dim_coin c ON f.coin_key = c.coin_key
		JOIN gold_dim_currency cur ON f.currency_key = cur.currency_key
		JOIN gold_dim_date d ON f.date_key = d.date_key
		JOIN gold_dim_time t ON f.time_key = t.time_key
		WHERE 1 = 1`, tsExpr, measures, table)

	var args []any
	if q.Start != "" {
		args = append(args, q.Start)
		query += fmt.Sprintf(" AND %s >= $%d%s", boundExpr, len(args), boundCast)
	}
	if q.End != "" {
		args = append(args, q.End)
		query += fmt.Sprintf(" AND %s <= $%d%s", boundExpr, len(args), boundCast)
	}
	args = append(args, q.Limit)
	query += fmt.Sprintf(" ORDER BY d.full_date, t.time_of_day LIMIT $%d", len(args))

	return query, args
}

func dataKey(kind string, q models.MarketQuery) string {
	return fmt.Sprintf("data:%s_%s:%d:%s:%s", kind, q.Range, q.Limit, q.Start, q.End)
}

// cached serves key from redis when possible. The data cache is an
// optimisation only: redis errors and unreadable entries fall back to load.
func cached[T any](ctx context.Context, s *MarketService, key string, load func() ([]T, error)) ([]T, error) {
	raw, err := s.cache.Get(ctx, key)
	if err == nil {
		var out []T
		if jsonErr := json.Unmarshal([]byte(raw), &out); jsonErr == nil && out != nil {
			return out, nil
		}
		log.Debug().Str("key", key).Msg("Discarding unreadable market cache entry")
	} else if !errors.Is(err, cache.ErrMiss) {
		log.Warn().Err(err).Str("key", key).Msg("Market cache read failed")
	}

	out, err := load()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(out)
	if err == nil {
		if err := s.cache.Set(ctx, key, string(payload), s.ttl); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Market cache write failed")
		}
	}
	return out, nil
}
