package server

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/swaggest/swgui/v5emb"
)

func addRoutes(r chi.Router, logger *slog.Logger, store Store, db *sql.DB, rdb *redis.Client) {
	broker := NewBroker()
	locks := newGameLocks()
	cache := newRankingsCache(rdb, time.Minute)
	agg := newAggregator(store, cache, logger)

	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("MapRally API", "/openapi.json", "/docs"))
	r.Get("/healthz", handleHealth(logger, db, rdb))

	r.Route("/api", func(r chi.Router) {
		r.Post("/rounds/{gameID}/start", handleRoundStart(store, locks))
		r.Post("/rounds/{gameID}/ready", handleRoundReady(store, locks))
		r.Get("/rounds/{gameID}/state", handleRoundState(store))
		r.Post("/guesses", handleGuess(logger, store, locks, agg, broker))
		r.Get("/rankings", handleRankings(store, cache))
		r.Get("/games/{gameID}/events", handleEvents(store, broker))
	})
}
