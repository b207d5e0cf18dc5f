package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterDeps carries everything NewRouter wires together
type RouterDeps struct {
	Gatekeeper  *Gatekeeper
	Market      *MarketHandler
	Keys        *KeyHandler
	AdminSecret []byte
}

// NewRouter builds the HTTP API
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Key issuance (admin)
		r.With(AdminMiddleware(d.AdminSecret)).Put("/keys", d.Keys.CreateKey)

		// Metered market data
		r.Group(func(r chi.Router) {
			r.Use(d.Gatekeeper.Middleware)

			r.Get("/chart", d.Market.GetChart)
			r.Get("/ohlc", d.Market.GetOHLC)
			r.Get("/coins", d.Market.GetCoins)
			r.Get("/currencies", d.Market.GetCurrencies)
		})
	})

	return r
}
