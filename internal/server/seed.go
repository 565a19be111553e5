package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// DemoData are the fixed identifiers created by SeedDemo, used by local
// development and the handler tests.
type DemoData struct {
	PlayerID     string
	SessionToken string

	SoloGameID    string
	SoloRound1ID  string
	SoloRound2ID  string
	CountryGameID string
	CountryRound  string
	ImageGameID   string
	ImageRound    string
	GuestGameID   string
	GuestRound    string
}

// franceGeoJSON is a rough hexagon around metropolitan France.
const franceGeoJSON = `{"type":"Polygon","coordinates":[[[-4.8,48.4],[2.5,51.1],[8.2,48.9],[7.6,43.7],[3.0,42.4],[-1.8,43.3],[-4.8,48.4]]]}`

// SeedDemo creates a demo player, answer sources, and games if the database
// is empty. Idempotent: does nothing once players exist.
func SeedDemo(ctx context.Context, logger *slog.Logger, db *sql.DB) (*DemoData, error) {
	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM players`).Scan(&count); err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, nil
	}

	d := &DemoData{
		PlayerID:      "demo-player",
		SessionToken:  "demo-session-token",
		SoloGameID:    "demo-game-solo",
		SoloRound1ID:  "demo-round-solo-1",
		SoloRound2ID:  "demo-round-solo-2",
		CountryGameID: "demo-game-country",
		CountryRound:  "demo-round-country",
		ImageGameID:   "demo-game-image",
		ImageRound:    "demo-round-image",
		GuestGameID:   "demo-game-guest",
		GuestRound:    "demo-round-guest",
	}

	stmts := []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO players (id, display_name, avatar_url) VALUES (?, 'Amara', '')`,
			[]any{d.PlayerID}},
		{`INSERT INTO sessions (token, player_id) VALUES (?, ?)`,
			[]any{d.SessionToken, d.PlayerID}},

		// Answer sources.
		{`INSERT INTO answer_points (id, name, lat, lng) VALUES
			('poi-eiffel', 'Eiffel Tower', 48.8584, 2.2945),
			('poi-brandenburg', 'Brandenburg Gate', 52.5163, 13.3777)`, nil},
		{`INSERT INTO answer_regions (id, country_code, name, center_lat, center_lng, polygon)
			VALUES ('region-fr', 'FR', 'France', 46.2276, 2.2137, ?)`,
			[]any{franceGeoJSON}},
		{`INSERT INTO answer_images (id, name, pixel_x, pixel_y)
			VALUES ('img-oldtown', 'Old town map', 450, 300)`, nil},
		{`INSERT INTO answer_panoramas (id, name, lat, lng)
			VALUES ('pano-rome', 'Piazza Navona', 41.8992, 12.4731)`, nil},

		// A dynamically administered category with its own scoring constants.
		{`INSERT INTO answer_categories (id, game_type, name, lat, lng)
			VALUES ('cat-lisbon-1', 'city-lisbon', 'Torre de Belém', 38.6916, -9.2160)`, nil},
		{`INSERT INTO game_type_configs (game_type, scale_factor, timeout_penalty_km, time_limit_seconds)
			VALUES ('city-lisbon', 25, 500, 45)`, nil},

		// Authenticated solo game, two landmark locations, time-weighted scoring.
		{`INSERT INTO games (id, player_id, mode, scoring_version, current_round)
			VALUES (?, ?, 'solo', 2, 1)`,
			[]any{d.SoloGameID, d.PlayerID}},
		{`INSERT INTO rounds (id, game_id, round_number, location_index, answer_source, answer_id, game_type)
			VALUES (?, ?, 1, 1, 'poi', 'poi-eiffel', 'landmarks'),
				(?, ?, 1, 2, 'poi', 'poi-brandenburg', 'landmarks')`,
			[]any{d.SoloRound1ID, d.SoloGameID, d.SoloRound2ID, d.SoloGameID}},

		// Country quiz with the correctness bonus formula.
		{`INSERT INTO games (id, player_id, mode, scoring_version, current_round)
			VALUES (?, ?, 'solo', 3, 1)`,
			[]any{d.CountryGameID, d.PlayerID}},
		{`INSERT INTO rounds (id, game_id, round_number, location_index, answer_source, answer_id, game_type)
			VALUES (?, ?, 1, 1, 'region', 'region-fr', 'countries')`,
			[]any{d.CountryRound, d.CountryGameID}},

		// Image game scored in pixel space.
		{`INSERT INTO games (id, player_id, mode, scoring_version, current_round)
			VALUES (?, ?, 'solo', 2, 1)`,
			[]any{d.ImageGameID, d.PlayerID}},
		{`INSERT INTO rounds (id, game_id, round_number, location_index, answer_source, answer_id, game_type)
			VALUES (?, ?, 1, 1, 'image', 'img-oldtown', 'photos')`,
			[]any{d.ImageRound, d.ImageGameID}},

		// Guest game: no owning player, relaxed trust model.
		{`INSERT INTO games (id, player_id, mode, scoring_version, current_round)
			VALUES (?, NULL, 'solo', 2, 1)`,
			[]any{d.GuestGameID}},
		{`INSERT INTO rounds (id, game_id, round_number, location_index, answer_source, answer_id, game_type)
			VALUES (?, ?, 1, 1, 'poi', 'poi-eiffel', 'landmarks')`,
			[]any{d.GuestRound, d.GuestGameID}},
	}

	for _, st := range stmts {
		if _, err := db.ExecContext(ctx, st.sql, st.args...); err != nil {
			return nil, fmt.Errorf("seeding demo data: %w", err)
		}
	}

	logger.Info("demo data seeded", "player_id", d.PlayerID)
	return d, nil
}
