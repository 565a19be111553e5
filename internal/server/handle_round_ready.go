package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maprally/api/internal/scoring"
)

type NotifyReadyRequest struct {
	LocationIndex int `json:"locationIndex"`
}

type NotifyReadyResponse struct {
	LocationStartedAt int64 `json:"locationStartedAt"`
	Deadline          int64 `json:"deadline"`
	TimeLimitSeconds  int   `json:"timeLimitSeconds"`
}

// handleRoundReady is the only path that starts the countdown: the client
// calls it after rendering the round's assets, so slow loads never cost
// time. Duplicate calls return the already-stored start time.
func handleRoundReady(store Store, locks *gameLocks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID := chi.URLParam(r, "gameID")

		var req NotifyReadyRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.LocationIndex < 1 {
			writeError(w, http.StatusBadRequest, "locationIndex must be >= 1")
			return
		}

		unlock := locks.lock(gameID)
		defer unlock()

		game, err := store.Game(r.Context(), gameID)
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		if err != nil {
			writeInternalError(w)
			return
		}

		if _, ok := callerForGame(w, r, store, game); !ok {
			return
		}

		round, err := store.RoundByLocation(r.Context(), gameID, req.LocationIndex)
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "location not found")
			return
		}
		if err != nil {
			writeInternalError(w)
			return
		}

		startedAt, err := store.StartClock(r.Context(), gameID, req.LocationIndex, timeNow().UnixMilli())
		if errors.Is(err, errSlotMismatch) {
			writeError(w, http.StatusConflict, "location is not the reserved slot")
			return
		}
		if err != nil {
			writeInternalError(w)
			return
		}

		params, err := scoring.Resolve(r.Context(), round.GameType, store)
		if err != nil {
			writeInternalError(w)
			return
		}
		limit := effectiveTimeLimit(round, game, params)

		writeJSON(w, http.StatusOK, NotifyReadyResponse{
			LocationStartedAt: startedAt,
			Deadline:          startedAt + int64(limit)*1000,
			TimeLimitSeconds:  limit,
		})
	}
}
