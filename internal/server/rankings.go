package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maprally/api/internal/maprally"
)

// PeriodKey derives the leaderboard bucket key for now: daily 2006-01-02,
// weekly ISO-week YYYY-Www (Monday start), monthly 2006-01, alltime constant.
func PeriodKey(now time.Time, period maprally.Period) string {
	switch period {
	case maprally.PeriodDaily:
		return now.Format("2006-01-02")
	case maprally.PeriodWeekly:
		year, week := now.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case maprally.PeriodMonthly:
		return now.Format("2006-01")
	default:
		return string(maprally.PeriodAllTime)
	}
}

// aggregator folds completed games into the rolling per-period rankings and
// recomputes dense ranks for every bucket a game touches.
type aggregator struct {
	store  Store
	cache  *rankingsCache
	logger *slog.Logger
}

func newAggregator(store Store, cache *rankingsCache, logger *slog.Logger) *aggregator {
	return &aggregator{store: store, cache: cache, logger: logger}
}

// recordCompletedGame runs the full pipeline for one completed game:
// flat result row, ranking upserts for all periods and for both the game
// type and the overall bucket, then rank recomputation. The whole sequence
// is retried once on failure; a partially stale rank set self-heals on the
// next completed game in the bucket.
func (a *aggregator) recordCompletedGame(ctx context.Context, game maprally.Game, who caller) error {
	err := a.run(ctx, game, who)
	if err != nil {
		a.logger.Warn("retrying leaderboard aggregation", "game_id", game.ID, "error", err)
		err = a.run(ctx, game, who)
	}
	return err
}

func (a *aggregator) run(ctx context.Context, game maprally.Game, who caller) error {
	totals, err := a.store.GameTotals(ctx, game.ID, who.PlayerID)
	if err != nil {
		return fmt.Errorf("loading game totals: %w", err)
	}
	if totals.Guesses == 0 {
		return nil
	}

	now := timeNow().UTC()
	if err := a.store.InsertGameResult(ctx, maprally.GameResult{
		PlayerID:        who.PlayerID,
		GameType:        totals.GameType,
		TotalScore:      totals.TotalScore,
		AverageScore:    totals.AverageScore,
		TotalDistanceKm: totals.TotalDistanceKm,
		CompletedAt:     now,
	}); err != nil {
		return fmt.Errorf("inserting game result: %w", err)
	}

	gameTypes := []string{totals.GameType, maprally.OverallGameType}
	for _, period := range maprally.Periods {
		key := PeriodKey(now, period)
		for _, gt := range gameTypes {
			entry := maprally.RankingEntry{
				PlayerID:    who.PlayerID,
				GameType:    gt,
				Period:      period,
				PeriodKey:   key,
				TotalScore:  totals.TotalScore,
				BestScore:   totals.TotalScore,
				DisplayName: who.Name,
			}
			if err := a.store.UpsertRanking(ctx, entry); err != nil {
				return fmt.Errorf("upserting %s/%s/%s: %w", gt, period, key, err)
			}
		}
	}

	for _, period := range maprally.Periods {
		key := PeriodKey(now, period)
		for _, gt := range gameTypes {
			if err := a.store.RecomputeRanks(ctx, gt, period, key); err != nil {
				return fmt.Errorf("recomputing ranks for %s/%s/%s: %w", gt, period, key, err)
			}
			a.cache.invalidate(ctx, gt, period, key)
		}
	}
	return nil
}
