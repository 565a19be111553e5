package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maprally/api/internal/maprally"
	"github.com/maprally/api/internal/scoring"
)

const sqliteNow = "strftime('%Y-%m-%dT%H:%M:%fZ', 'now')"

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) PlayerFromToken(ctx context.Context, token string) (maprally.Player, error) {
	var p maprally.Player
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.display_name, p.avatar_url, p.created_at
		FROM sessions s
		JOIN players p ON p.id = s.player_id
		WHERE s.token = ?
	`, token).Scan(&p.ID, &p.DisplayName, &p.AvatarURL, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, errNoSession
	}
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return p, err
}

func (s *SQLiteStore) Game(ctx context.Context, gameID string) (maprally.Game, error) {
	var g maprally.Game
	var playerID sql.NullString
	var startedAt sql.NullInt64
	var createdAt string
	var completedAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, player_id, mode, status, scoring_version, time_limit_seconds,
			current_round, active_location_index, location_started_at,
			created_at, completed_at
		FROM games WHERE id = ?
	`, gameID).Scan(&g.ID, &playerID, &g.Mode, &g.Status, &g.ScoringVersion,
		&g.TimeLimitSeconds, &g.CurrentRound, &g.ActiveLocationIndex,
		&startedAt, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return g, ErrNotFound
	}
	if err != nil {
		return g, err
	}
	g.PlayerID = playerID.String
	if startedAt.Valid {
		g.LocationStartedAt = &startedAt.Int64
	}
	g.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, completedAt.String); err == nil {
			g.CompletedAt = &t
		}
	}
	return g, nil
}

func (s *SQLiteStore) scanRound(row *sql.Row) (maprally.Round, error) {
	var r maprally.Round
	err := row.Scan(&r.ID, &r.GameID, &r.RoundNumber, &r.LocationIndex,
		&r.AnswerSource, &r.AnswerID, &r.GameType, &r.TimeLimitSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	return r, err
}

const roundColumns = `id, game_id, round_number, location_index, answer_source, answer_id, game_type, time_limit_seconds`

func (s *SQLiteStore) Round(ctx context.Context, roundID string) (maprally.Round, error) {
	return s.scanRound(s.db.QueryRowContext(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE id = ?`, roundID))
}

func (s *SQLiteStore) RoundByLocation(ctx context.Context, gameID string, locationIndex int) (maprally.Round, error) {
	return s.scanRound(s.db.QueryRowContext(ctx,
		`SELECT `+roundColumns+` FROM rounds WHERE game_id = ? AND location_index = ?`,
		gameID, locationIndex))
}

func (s *SQLiteStore) GuessExists(ctx context.Context, roundID, playerID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM guesses WHERE round_id = ? AND player_id = ?`,
		roundID, playerID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLiteStore) ReserveLocation(ctx context.Context, gameID string, locationIndex int) error {
	// Re-reserving the clocked slot keeps its start time; moving to a new
	// index always clears it.
	res, err := s.db.ExecContext(ctx, `
		UPDATE games
		SET active_location_index = ?1,
			location_started_at = CASE
				WHEN active_location_index = ?1 THEN location_started_at
				ELSE NULL
			END
		WHERE id = ?2
	`, locationIndex, gameID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) StartClock(ctx context.Context, gameID string, locationIndex int, nowMs int64) (int64, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE games SET location_started_at = ?
		WHERE id = ? AND active_location_index = ? AND location_started_at IS NULL
	`, nowMs, gameID, locationIndex)
	if err != nil {
		return 0, err
	}

	// Read back: a duplicate call lands here with the earlier stamp intact.
	var activeIndex int
	var startedAt sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT active_location_index, location_started_at FROM games WHERE id = ?
	`, gameID).Scan(&activeIndex, &startedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	if activeIndex != locationIndex || !startedAt.Valid {
		return 0, errSlotMismatch
	}
	return startedAt.Int64, nil
}

func (s *SQLiteStore) RecordGuess(ctx context.Context, g maprally.Guess) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	timedOut := 0
	if g.TimedOut {
		timedOut = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO guesses (round_id, player_id, lat, lng, pixel_x, pixel_y,
			distance_km, score, elapsed_ms, timed_out)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, g.RoundID, g.PlayerID, g.Lat, g.Lng, g.PixelX, g.PixelY,
		g.DistanceKm, g.Score, g.ElapsedMs, timedOut)
	if err != nil {
		return fmt.Errorf("inserting guess: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE games SET location_started_at = NULL
		WHERE id = (SELECT game_id FROM rounds WHERE id = ?)
	`, g.RoundID)
	if err != nil {
		return fmt.Errorf("clearing active slot: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStore) ResolveAnswer(ctx context.Context, source maprally.AnswerSource, answerID string) (answerData, error) {
	var a answerData
	var err error
	switch source {
	case maprally.SourcePOI:
		err = s.db.QueryRowContext(ctx,
			`SELECT name, lat, lng FROM answer_points WHERE id = ?`, answerID,
		).Scan(&a.Name, &a.Lat, &a.Lng)
	case maprally.SourceRegion:
		err = s.db.QueryRowContext(ctx,
			`SELECT name, country_code, center_lat, center_lng, polygon FROM answer_regions WHERE id = ?`, answerID,
		).Scan(&a.Name, &a.CountryCode, &a.Lat, &a.Lng, &a.PolygonJSON)
	case maprally.SourceImage:
		err = s.db.QueryRowContext(ctx,
			`SELECT name, pixel_x, pixel_y FROM answer_images WHERE id = ?`, answerID,
		).Scan(&a.Name, &a.PixelX, &a.PixelY)
	case maprally.SourcePanorama:
		err = s.db.QueryRowContext(ctx,
			`SELECT name, lat, lng FROM answer_panoramas WHERE id = ?`, answerID,
		).Scan(&a.Name, &a.Lat, &a.Lng)
	case maprally.SourceCategory:
		err = s.db.QueryRowContext(ctx,
			`SELECT name, lat, lng FROM answer_categories WHERE id = ?`, answerID,
		).Scan(&a.Name, &a.Lat, &a.Lng)
	default:
		return a, fmt.Errorf("unknown answer source %q", source)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	return a, err
}

// TypeParams implements scoring.Overrides from the game_type_configs table.
func (s *SQLiteStore) TypeParams(ctx context.Context, gameType string) (scoring.TypeParams, bool, error) {
	var p scoring.TypeParams
	err := s.db.QueryRowContext(ctx, `
		SELECT scale_factor, timeout_penalty_km, time_limit_seconds
		FROM game_type_configs WHERE game_type = ?
	`, gameType).Scan(&p.ScaleFactor, &p.TimeoutPenaltyKm, &p.TimeLimitSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return p, false, nil
	}
	return p, err == nil, err
}

func (s *SQLiteStore) OpenLocations(ctx context.Context, gameID, playerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM rounds r
		WHERE r.game_id = ?
			AND r.round_number <= (SELECT current_round FROM games WHERE id = r.game_id)
			AND NOT EXISTS (
				SELECT 1 FROM guesses g WHERE g.round_id = r.id AND g.player_id = ?
			)
	`, gameID, playerID).Scan(&n)
	return n, err
}

func (s *SQLiteStore) CompleteGame(ctx context.Context, gameID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE games SET status = 'completed', completed_at = `+sqliteNow+`
		WHERE id = ? AND status = 'active'
	`, gameID)
	return err
}

func (s *SQLiteStore) GameTotals(ctx context.Context, gameID, playerID string) (guessTotals, error) {
	var t guessTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(g.score), 0), COALESCE(AVG(g.score), 0),
			COALESCE(SUM(g.distance_km), 0), COUNT(*),
			COALESCE(MIN(r.game_type), '')
		FROM guesses g
		JOIN rounds r ON r.id = g.round_id
		WHERE r.game_id = ? AND g.player_id = ?
	`, gameID, playerID).Scan(&t.TotalScore, &t.AverageScore,
		&t.TotalDistanceKm, &t.Guesses, &t.GameType)
	return t, err
}

func (s *SQLiteStore) ClosedLocations(ctx context.Context, gameID, playerID string) ([]ClosedLocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.location_index, r.round_number, g.distance_km, g.score, g.timed_out
		FROM guesses g
		JOIN rounds r ON r.id = g.round_id
		WHERE r.game_id = ? AND g.player_id = ?
		ORDER BY r.location_index
	`, gameID, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var closed []ClosedLocation
	for rows.Next() {
		var c ClosedLocation
		var timedOut int
		if err := rows.Scan(&c.LocationIndex, &c.RoundNumber, &c.DistanceKm, &c.Score, &timedOut); err != nil {
			return nil, err
		}
		c.TimedOut = timedOut == 1
		closed = append(closed, c)
	}
	return closed, rows.Err()
}

func (s *SQLiteStore) InsertGameResult(ctx context.Context, res maprally.GameResult) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO game_results (player_id, game_type, total_score, average_score, total_distance_km, completed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, res.PlayerID, res.GameType, res.TotalScore, res.AverageScore,
		res.TotalDistanceKm, res.CompletedAt.UTC().Format("2006-01-02T15:04:05.000Z"))
	return err
}

func (s *SQLiteStore) UpsertRanking(ctx context.Context, e maprally.RankingEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rankings (player_id, game_type, period, period_key,
			total_score, total_games, average_score, best_score,
			display_name, avatar_url, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?, ?, `+sqliteNow+`)
		ON CONFLICT (player_id, game_type, period, period_key) DO UPDATE SET
			total_score = total_score + excluded.total_score,
			total_games = total_games + 1,
			average_score = CAST(total_score + excluded.total_score AS REAL) / (total_games + 1),
			best_score = MAX(best_score, excluded.best_score),
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			updated_at = excluded.updated_at
	`, e.PlayerID, e.GameType, e.Period, e.PeriodKey,
		e.TotalScore, float64(e.TotalScore), e.BestScore,
		e.DisplayName, e.AvatarURL)
	return err
}

func (s *SQLiteStore) RecomputeRanks(ctx context.Context, gameType string, period maprally.Period, periodKey string) error {
	// Dense ranks 1..N: best single game first, fewer games and earlier
	// update break ties.
	_, err := s.db.ExecContext(ctx, `
		UPDATE rankings SET rank = ranked.rn
		FROM (
			SELECT id, ROW_NUMBER() OVER (
				ORDER BY best_score DESC, total_games ASC, updated_at ASC
			) AS rn
			FROM rankings
			WHERE game_type = ? AND period = ? AND period_key = ?
		) AS ranked
		WHERE rankings.id = ranked.id
	`, gameType, period, periodKey)
	return err
}

func (s *SQLiteStore) Rankings(ctx context.Context, gameType string, period maprally.Period, periodKey, sortBy string) ([]maprally.RankingEntry, error) {
	// Rank assignment is always by best_score; sortBy=total is a
	// display-only reordering of the same entries.
	order := `rank ASC, best_score DESC`
	if sortBy == "total" {
		order = `total_score DESC, rank ASC`
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT player_id, game_type, period, period_key, total_score,
			total_games, average_score, best_score, display_name, avatar_url,
			rank, updated_at
		FROM rankings
		WHERE game_type = ? AND period = ? AND period_key = ?
		ORDER BY `+order,
		gameType, period, periodKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []maprally.RankingEntry
	for rows.Next() {
		var e maprally.RankingEntry
		var rank sql.NullInt64
		var updatedAt string
		if err := rows.Scan(&e.PlayerID, &e.GameType, &e.Period, &e.PeriodKey,
			&e.TotalScore, &e.TotalGames, &e.AverageScore, &e.BestScore,
			&e.DisplayName, &e.AvatarURL, &rank, &updatedAt); err != nil {
			return nil, err
		}
		if rank.Valid {
			r := int(rank.Int64)
			e.Rank = &r
		}
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
