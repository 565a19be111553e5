// Package maprally defines the core domain types and constants.
// It has zero external dependencies — everything here is pure Go.
package maprally

import "time"

type GameMode string

const (
	ModeGroup  GameMode = "group"
	ModeSolo   GameMode = "solo"
	ModeRanked GameMode = "ranked"
	ModeDuel   GameMode = "duel"
)

type GameStatus string

const (
	GameStatusActive    GameStatus = "active"
	GameStatusCompleted GameStatus = "completed"
)

// AnswerSource tags which table the answer location of a round lives in.
type AnswerSource string

const (
	SourcePOI      AnswerSource = "poi"
	SourceRegion   AnswerSource = "region"
	SourceImage    AnswerSource = "image"
	SourcePanorama AnswerSource = "panorama"
	SourceCategory AnswerSource = "category"
)

// Period is a leaderboard rollup window.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodAllTime Period = "alltime"
)

// Periods lists every rollup window a completed game feeds into.
var Periods = []Period{PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodAllTime}

// OverallGameType is the synthetic bucket that aggregates across all game types.
const OverallGameType = "overall"

type Game struct {
	ID             string
	PlayerID       string // empty for guest games
	Mode           GameMode
	Status         GameStatus
	ScoringVersion int
	// TimeLimitSeconds overrides the per-type default when > 0.
	TimeLimitSeconds int
	CurrentRound     int
	// ActiveLocationIndex is 0 when no slot is reserved.
	ActiveLocationIndex int
	// LocationStartedAt is the server clock stamp in ms epoch; nil means the
	// reserved slot has not been clocked yet.
	LocationStartedAt *int64
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

type Round struct {
	ID            string
	GameID        string
	RoundNumber   int
	LocationIndex int
	AnswerSource  AnswerSource
	AnswerID      string
	GameType      string
	// TimeLimitSeconds overrides the game/type default when > 0.
	TimeLimitSeconds int
}

type Guess struct {
	ID         string
	RoundID    string
	PlayerID   string
	Lat        *float64
	Lng        *float64
	PixelX     *float64
	PixelY     *float64
	DistanceKm float64
	Score      int
	ElapsedMs  int64
	TimedOut   bool
	CreatedAt  time.Time
}

type Player struct {
	ID          string
	DisplayName string
	AvatarURL   string
	CreatedAt   time.Time
}

// GameResult is the flat per-completed-game row feeding the rankings.
type GameResult struct {
	PlayerID        string
	GameType        string
	TotalScore      int
	AverageScore    float64
	TotalDistanceKm float64
	CompletedAt     time.Time
}

// RankingEntry is one row of a (gameType, period, periodKey) bucket.
// Rank is nil until a recomputation pass assigns it.
type RankingEntry struct {
	PlayerID     string
	GameType     string
	Period       Period
	PeriodKey    string
	TotalScore   int
	TotalGames   int
	AverageScore float64
	BestScore    int
	DisplayName  string
	AvatarURL    string
	Rank         *int
	UpdatedAt    time.Time
}
