package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maprally/api/internal/scoring"
)

type ActiveSlotInfo struct {
	LocationIndex     int    `json:"locationIndex"`
	LocationStartedAt *int64 `json:"locationStartedAt"`
	Deadline          *int64 `json:"deadline,omitempty"`
	// Expired is derived lazily from the stored start time; the slot stays
	// clocked until the next guess or timeout closes it.
	Expired bool `json:"expired"`
}

type RoundStateResponse struct {
	GameID          string           `json:"gameId"`
	Mode            string           `json:"mode"`
	Status          string           `json:"status"`
	ScoringVersion  int              `json:"scoringVersion"`
	CurrentRound    int              `json:"currentRound"`
	ActiveSlot      *ActiveSlotInfo  `json:"activeSlot"`
	ClosedLocations []ClosedLocation `json:"closedLocations"`
}

// handleRoundState is the status poll: it reports the active slot and its
// deadline, recomputed from the stored server timestamp rather than any
// client countdown. It never mutates — abandoned rounds are not reaped.
func handleRoundState(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID := chi.URLParam(r, "gameID")

		game, err := store.Game(r.Context(), gameID)
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "game not found")
			return
		}
		if err != nil {
			writeInternalError(w)
			return
		}

		who, ok := callerForGame(w, r, store, game)
		if !ok {
			return
		}

		resp := RoundStateResponse{
			GameID:         game.ID,
			Mode:           string(game.Mode),
			Status:         string(game.Status),
			ScoringVersion: game.ScoringVersion,
			CurrentRound:   game.CurrentRound,
		}

		if game.ActiveLocationIndex > 0 {
			slot := &ActiveSlotInfo{
				LocationIndex:     game.ActiveLocationIndex,
				LocationStartedAt: game.LocationStartedAt,
			}
			if game.LocationStartedAt != nil {
				round, err := store.RoundByLocation(r.Context(), gameID, game.ActiveLocationIndex)
				if err == nil {
					params, perr := scoring.Resolve(r.Context(), round.GameType, store)
					if perr == nil {
						limit := effectiveTimeLimit(round, game, params)
						deadline := *game.LocationStartedAt + int64(limit)*1000
						slot.Deadline = &deadline
						slot.Expired = timeNow().UnixMilli() > deadline+gracePeriod.Milliseconds()
					}
				}
			}
			resp.ActiveSlot = slot
		}

		closed, err := store.ClosedLocations(r.Context(), gameID, who.PlayerID)
		if err != nil {
			writeInternalError(w)
			return
		}
		resp.ClosedLocations = closed
		if resp.ClosedLocations == nil {
			resp.ClosedLocations = []ClosedLocation{}
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
