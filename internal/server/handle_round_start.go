package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maprally/api/internal/maprally"
	"github.com/maprally/api/internal/scoring"
)

type StartLocationRequest struct {
	LocationIndex int `json:"locationIndex"`
}

// AnswerInfo is the disclosed answer location. Present in the start response
// only for guest games, where the round runs entirely client-side.
type AnswerInfo struct {
	Name        string   `json:"name,omitempty"`
	Lat         *float64 `json:"lat,omitempty"`
	Lng         *float64 `json:"lng,omitempty"`
	PixelX      *float64 `json:"pixelX,omitempty"`
	PixelY      *float64 `json:"pixelY,omitempty"`
	CountryCode string   `json:"countryCode,omitempty"`
}

type StartLocationResponse struct {
	RoundID          string      `json:"roundId"`
	RoundNumber      int         `json:"roundNumber"`
	LocationIndex    int         `json:"locationIndex"`
	GameType         string      `json:"gameType"`
	AnswerSource     string      `json:"answerSource"`
	TimeLimitSeconds int         `json:"timeLimitSeconds"`
	Answer           *AnswerInfo `json:"answer,omitempty"`
}

// handleRoundStart reserves a location slot. The countdown does not start
// here — the client calls back on /ready once its assets are rendered.
func handleRoundStart(store Store, locks *gameLocks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID := chi.URLParam(r, "gameID")

		var req StartLocationRequest
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

		who, ok := callerForGame(w, r, store, game)
		if !ok {
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

		if round.RoundNumber > game.CurrentRound {
			writeError(w, http.StatusForbidden, "round not yet released")
			return
		}

		exists, err := store.GuessExists(r.Context(), round.ID, who.PlayerID)
		if err != nil {
			writeInternalError(w)
			return
		}
		if exists {
			writeError(w, http.StatusConflict, "location already guessed")
			return
		}

		if err := store.ReserveLocation(r.Context(), gameID, req.LocationIndex); err != nil {
			writeInternalError(w)
			return
		}

		params, err := scoring.Resolve(r.Context(), round.GameType, store)
		if err != nil {
			writeInternalError(w)
			return
		}

		resp := StartLocationResponse{
			RoundID:          round.ID,
			RoundNumber:      round.RoundNumber,
			LocationIndex:    round.LocationIndex,
			GameType:         round.GameType,
			AnswerSource:     string(round.AnswerSource),
			TimeLimitSeconds: effectiveTimeLimit(round, game, params),
		}

		// Guest games get the full payload up front; the answer stays
		// server-side for authenticated play until the round closes.
		if who.Guest {
			answer, err := store.ResolveAnswer(r.Context(), round.AnswerSource, round.AnswerID)
			if errors.Is(err, ErrNotFound) {
				writeError(w, http.StatusNotFound, "answer location not found")
				return
			}
			if err != nil {
				writeInternalError(w)
				return
			}
			resp.Answer = disclosedAnswer(round.AnswerSource, answer)
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func disclosedAnswer(source maprally.AnswerSource, a answerData) *AnswerInfo {
	info := &AnswerInfo{Name: a.Name, CountryCode: a.CountryCode}
	if source == maprally.SourceImage {
		x, y := a.PixelX, a.PixelY
		info.PixelX, info.PixelY = &x, &y
		return info
	}
	lat, lng := a.Lat, a.Lng
	info.Lat, info.Lng = &lat, &lng
	return info
}
