package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/maprally/api/internal/geo"
	"github.com/maprally/api/internal/maprally"
	"github.com/maprally/api/internal/scoring"
)

type PixelPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type GuessRequest struct {
	RoundID string      `json:"roundId"`
	Point   *geo.Point  `json:"point,omitempty"`
	Pixel   *PixelPoint `json:"pixel,omitempty"`
	Timeout bool        `json:"timeout,omitempty"`
	// ClientElapsedSeconds is trusted only on the guest path, where no
	// server clock exists.
	ClientElapsedSeconds float64 `json:"clientElapsedSeconds,omitempty"`
}

type GuessResponse struct {
	DistanceKm   float64     `json:"distanceKm"`
	Score        int         `json:"score"`
	Target       *AnswerInfo `json:"target"`
	Correct      *bool       `json:"correct,omitempty"`
	GameComplete bool        `json:"gameComplete"`
}

// handleGuess closes the active slot: it validates the deadline against the
// stored start time, scores the guess, and persists it. A timeout submission
// records the penalty distance and score zero — the round lifecycle's
// HandleTimeout is this endpoint with timeout=true.
func handleGuess(logger *slog.Logger, store Store, locks *gameLocks, agg *aggregator, broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GuessRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.RoundID == "" {
			writeError(w, http.StatusBadRequest, "roundId is required")
			return
		}
		if req.Point != nil {
			if err := req.Point.Validate(); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}

		round, err := store.Round(r.Context(), req.RoundID)
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "round not found")
			return
		}
		if err != nil {
			writeInternalError(w)
			return
		}

		// Metric-shape validation before any state is touched.
		if !req.Timeout {
			if round.AnswerSource == maprally.SourceImage && req.Pixel == nil {
				writeError(w, http.StatusBadRequest, "pixel coordinates are required for image rounds")
				return
			}
			if round.AnswerSource != maprally.SourceImage && req.Point == nil {
				writeError(w, http.StatusBadRequest, "point coordinates are required")
				return
			}
		}

		unlock := locks.lock(round.GameID)
		defer unlock()

		game, err := store.Game(r.Context(), round.GameID)
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

		// At-most-once scoring: an existing guess always wins.
		exists, err := store.GuessExists(r.Context(), round.ID, who.PlayerID)
		if err != nil {
			writeInternalError(w)
			return
		}
		if exists {
			writeError(w, http.StatusConflict, "guess already recorded for this round")
			return
		}

		params, err := scoring.Resolve(r.Context(), round.GameType, store)
		if err != nil {
			writeInternalError(w)
			return
		}
		limit := effectiveTimeLimit(round, game, params)

		var elapsedMs int64
		if who.Guest {
			// Guest trust relaxation: no server clock, client-reported time.
			elapsedMs = int64(req.ClientElapsedSeconds * 1000)
		} else {
			if game.ActiveLocationIndex != round.LocationIndex || game.LocationStartedAt == nil {
				writeError(w, http.StatusConflict, "round is not clocked")
				return
			}
			elapsedMs = timeNow().UnixMilli() - *game.LocationStartedAt
			if !req.Timeout && elapsedMs > int64(limit)*1000+gracePeriod.Milliseconds() {
				// The client reacts by resubmitting as a timeout.
				writeError(w, http.StatusGone, "time limit exceeded")
				return
			}
		}

		answer, err := store.ResolveAnswer(r.Context(), round.AnswerSource, round.AnswerID)
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "answer location not found")
			return
		}
		if err != nil {
			writeInternalError(w)
			return
		}

		var distanceKm float64
		var correct bool
		if req.Timeout {
			distanceKm = params.TimeoutPenaltyKm
		} else {
			distanceKm, correct, err = guessDistance(round, answer, req)
			if err != nil {
				writeInternalError(w)
				return
			}
		}

		version := scoring.Version(game.ScoringVersion)
		if !version.Valid() {
			version = scoring.V1
		}
		score := scoring.Score(scoring.Input{
			Version:        version,
			Params:         params,
			DistanceKm:     distanceKm,
			ElapsedSeconds: float64(elapsedMs) / 1000,
			Correct:        correct,
			TimedOut:       req.Timeout,
		})

		guess := maprally.Guess{
			RoundID:    round.ID,
			PlayerID:   who.PlayerID,
			DistanceKm: distanceKm,
			Score:      score,
			ElapsedMs:  elapsedMs,
			TimedOut:   req.Timeout,
		}
		if req.Point != nil && !req.Timeout {
			guess.Lat, guess.Lng = &req.Point.Lat, &req.Point.Lng
		}
		if req.Pixel != nil && !req.Timeout {
			guess.PixelX, guess.PixelY = &req.Pixel.X, &req.Pixel.Y
		}
		if err := store.RecordGuess(r.Context(), guess); err != nil {
			writeInternalError(w)
			return
		}

		// The round is closed now, so disclosing the target is safe.
		resp := GuessResponse{
			DistanceKm: distanceKm,
			Score:      score,
			Target:     disclosedAnswer(round.AnswerSource, answer),
		}
		if scoring.IsCountryQuiz(round.GameType) {
			c := correct
			resp.Correct = &c
		}

		open, err := store.OpenLocations(r.Context(), game.ID, who.PlayerID)
		if err != nil {
			writeInternalError(w)
			return
		}
		if open == 0 {
			resp.GameComplete = true
			if err := store.CompleteGame(r.Context(), game.ID); err != nil {
				writeInternalError(w)
				return
			}
			// Guests have no identity to rank.
			if !who.Guest {
				if err := agg.recordCompletedGame(r.Context(), game, who); err != nil {
					logger.Error("leaderboard aggregation failed", "game_id", game.ID, "error", err)
				}
			}
			broker.Publish(game.ID, SSEEvent{Type: "game_completed", PlayerName: who.Name})
		} else {
			broker.Publish(game.ID, SSEEvent{
				Type:          "round_closed",
				LocationIndex: round.LocationIndex,
				RoundNumber:   round.RoundNumber,
				PlayerName:    who.Name,
				Score:         score,
				TimedOut:      req.Timeout,
			})
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

// guessDistance computes the scoring distance under the round's metric:
// planar pixels for image targets, polygon containment with center fallback
// for regions, great-circle otherwise.
func guessDistance(round maprally.Round, answer answerData, req GuessRequest) (float64, bool, error) {
	switch round.AnswerSource {
	case maprally.SourceImage:
		return geo.PixelDistanceKm(req.Pixel.X, req.Pixel.Y, answer.PixelX, answer.PixelY), false, nil
	case maprally.SourceRegion:
		region, err := geo.ParseRegion(answer.CountryCode,
			geo.Point{Lat: answer.Lat, Lng: answer.Lng}, []byte(answer.PolygonJSON))
		if err != nil {
			return 0, false, err
		}
		km, inside := region.DistanceToKm(*req.Point)
		return km, inside, nil
	default:
		return geo.DistanceKm(*req.Point, geo.Point{Lat: answer.Lat, Lng: answer.Lng}), false, nil
	}
}
