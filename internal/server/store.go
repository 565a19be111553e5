package server

import (
	"context"
	"errors"

	"github.com/maprally/api/internal/maprally"
	"github.com/maprally/api/internal/scoring"
)

var (
	ErrNotFound = errors.New("not found")

	// errSlotMismatch: the operation named a location index that is not the
	// game's reserved slot.
	errSlotMismatch = errors.New("location index is not the active slot")
)

// answerData is the resolved answer location of a round, shaped by its
// source: geographic sources carry Lat/Lng, image sources carry pixels,
// regions additionally carry the polygon and country code.
type answerData struct {
	Name        string
	Lat         float64
	Lng         float64
	PixelX      float64
	PixelY      float64
	CountryCode string
	PolygonJSON string
}

// guessTotals is the per-game aggregate handed to the leaderboard pipeline.
type guessTotals struct {
	GameType        string
	TotalScore      int
	AverageScore    float64
	TotalDistanceKm float64
	Guesses         int
}

// ClosedLocation is one already-answered slot in the status poll.
type ClosedLocation struct {
	LocationIndex int     `json:"locationIndex"`
	RoundNumber   int     `json:"roundNumber"`
	DistanceKm    float64 `json:"distanceKm"`
	Score         int     `json:"score"`
	TimedOut      bool    `json:"timedOut"`
}

// Store is the persistence boundary of the round engine. Round-state
// mutations are conditional single statements (or transactions) so the
// lifecycle guarantees hold even when a request is retried.
type Store interface {
	scoring.Overrides

	PlayerFromToken(ctx context.Context, token string) (maprally.Player, error)

	Game(ctx context.Context, gameID string) (maprally.Game, error)
	Round(ctx context.Context, roundID string) (maprally.Round, error)
	RoundByLocation(ctx context.Context, gameID string, locationIndex int) (maprally.Round, error)
	GuessExists(ctx context.Context, roundID, playerID string) (bool, error)

	// ReserveLocation makes locationIndex the active slot. Re-reserving the
	// same index keeps an already-running clock; switching to a different
	// index clears it.
	ReserveLocation(ctx context.Context, gameID string, locationIndex int) error

	// StartClock stamps nowMs as the slot's start time if the reserved index
	// matches and no start time exists yet. It returns the authoritative
	// start time — the previously stored one on a duplicate call — and
	// errSlotMismatch if locationIndex is not the reserved slot.
	StartClock(ctx context.Context, gameID string, locationIndex int, nowMs int64) (int64, error)

	// RecordGuess persists the guess and clears the active slot's start time
	// in one transaction. Nothing is committed on failure.
	RecordGuess(ctx context.Context, g maprally.Guess) error

	ResolveAnswer(ctx context.Context, source maprally.AnswerSource, answerID string) (answerData, error)

	// OpenLocations counts released locations without a recorded guess.
	OpenLocations(ctx context.Context, gameID, playerID string) (int, error)
	CompleteGame(ctx context.Context, gameID string) error
	GameTotals(ctx context.Context, gameID, playerID string) (guessTotals, error)
	ClosedLocations(ctx context.Context, gameID, playerID string) ([]ClosedLocation, error)

	InsertGameResult(ctx context.Context, res maprally.GameResult) error
	UpsertRanking(ctx context.Context, e maprally.RankingEntry) error
	RecomputeRanks(ctx context.Context, gameType string, period maprally.Period, periodKey string) error
	Rankings(ctx context.Context, gameType string, period maprally.Period, periodKey, sortBy string) ([]maprally.RankingEntry, error)
}
