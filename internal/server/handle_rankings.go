package server

import (
	"net/http"

	"github.com/maprally/api/internal/maprally"
)

// RankingItem is one row of the rankings listing.
type RankingItem struct {
	Rank         *int    `json:"rank"`
	PlayerID     string  `json:"playerId"`
	DisplayName  string  `json:"displayName"`
	AvatarURL    string  `json:"avatarUrl,omitempty"`
	TotalScore   int     `json:"totalScore"`
	TotalGames   int     `json:"totalGames"`
	AverageScore float64 `json:"averageScore"`
	BestScore    int     `json:"bestScore"`
}

type RankingsResponse struct {
	GameType  string        `json:"gameType"`
	Period    string        `json:"period"`
	PeriodKey string        `json:"periodKey"`
	Entries   []RankingItem `json:"entries"`
}

var validPeriods = map[maprally.Period]bool{
	maprally.PeriodDaily:   true,
	maprally.PeriodWeekly:  true,
	maprally.PeriodMonthly: true,
	maprally.PeriodAllTime: true,
}

// handleRankings serves one leaderboard bucket, cache first.
func handleRankings(store Store, cache *rankingsCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		gameType := q.Get("gameType")
		if gameType == "" {
			gameType = maprally.OverallGameType
		}
		period := maprally.Period(q.Get("period"))
		if period == "" {
			period = maprally.PeriodAllTime
		}
		if !validPeriods[period] {
			writeError(w, http.StatusBadRequest, "invalid period")
			return
		}
		periodKey := q.Get("periodKey")
		if periodKey == "" {
			periodKey = PeriodKey(timeNow().UTC(), period)
		}
		sortBy := q.Get("sortBy")
		if sortBy != "total" {
			sortBy = "best"
		}

		key := rankingsKey(gameType, period, periodKey, sortBy)
		if items, ok := cache.get(r.Context(), key); ok {
			writeJSON(w, http.StatusOK, RankingsResponse{
				GameType: gameType, Period: string(period), PeriodKey: periodKey,
				Entries: items,
			})
			return
		}

		entries, err := store.Rankings(r.Context(), gameType, period, periodKey, sortBy)
		if err != nil {
			writeInternalError(w)
			return
		}

		items := make([]RankingItem, 0, len(entries))
		for _, e := range entries {
			items = append(items, RankingItem{
				Rank:         e.Rank,
				PlayerID:     e.PlayerID,
				DisplayName:  e.DisplayName,
				AvatarURL:    e.AvatarURL,
				TotalScore:   e.TotalScore,
				TotalGames:   e.TotalGames,
				AverageScore: e.AverageScore,
				BestScore:    e.BestScore,
			})
		}
		cache.set(r.Context(), key, items)

		writeJSON(w, http.StatusOK, RankingsResponse{
			GameType: gameType, Period: string(period), PeriodKey: periodKey,
			Entries: items,
		})
	}
}
