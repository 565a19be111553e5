package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// handleEvents streams round lifecycle events for one game over SSE, so
// group and duel clients see opponents close rounds without polling.
func handleEvents(store Store, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID := chi.URLParam(r, "gameID")

		game, err := store.Game(r.Context(), gameID)
		if err != nil {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}

		// EventSource cannot set headers, so the token travels as a query
		// parameter for authenticated games.
		if game.PlayerID != "" {
			token := r.URL.Query().Get("token")
			if token == "" {
				writeError(w, http.StatusUnauthorized, "token query parameter required")
				return
			}
			player, err := store.PlayerFromToken(r.Context(), token)
			if err != nil || player.ID != game.PlayerID {
				writeError(w, http.StatusUnauthorized, "invalid session token")
				return
			}
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming not supported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		flusher.Flush()

		ch := broker.Subscribe(gameID)
		defer broker.Unsubscribe(gameID, ch)

		ping := time.NewTicker(30 * time.Second)
		defer ping.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case data := <-ch:
				fmt.Fprintf(w, "event: round\ndata: %s\n\n", data)
				flusher.Flush()
			case <-ping.C:
				fmt.Fprintf(w, ": ping\n\n")
				flusher.Flush()
			}
		}
	}
}
