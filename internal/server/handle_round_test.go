package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/maprally/api/internal/database"
	"github.com/maprally/api/internal/geo"
	"github.com/maprally/api/internal/migrations"
)

var (
	pointEiffel      = geo.Point{Lat: 48.8584, Lng: 2.2945}
	pointBrandenburg = geo.Point{Lat: 52.5163, Lng: 13.3777}
	pointParis       = geo.Point{Lat: 48.8566, Lng: 2.3522}
	pointLondon      = geo.Point{Lat: 51.5074, Lng: -0.1278}
)

func setupStore(t *testing.T) (*SQLiteStore, *sql.DB, *DemoData) {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := migrations.Run(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	demo, err := SeedDemo(ctx, discardLogger(), db)
	if err != nil {
		t.Fatalf("seeding demo data: %v", err)
	}
	if demo == nil {
		t.Fatal("expected demo data on a fresh database")
	}

	return NewSQLiteStore(db), db, demo
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRouter(t *testing.T) (*chi.Mux, *SQLiteStore, *sql.DB, *DemoData) {
	t.Helper()
	store, db, demo := setupStore(t)

	broker := NewBroker()
	locks := newGameLocks()
	agg := newAggregator(store, nil, discardLogger())

	r := chi.NewRouter()
	r.Post("/api/rounds/{gameID}/start", handleRoundStart(store, locks))
	r.Post("/api/rounds/{gameID}/ready", handleRoundReady(store, locks))
	r.Get("/api/rounds/{gameID}/state", handleRoundState(store))
	r.Post("/api/guesses", handleGuess(discardLogger(), store, locks, agg, broker))
	r.Get("/api/rankings", handleRankings(store, nil))
	return r, store, db, demo
}

// movableClock pins timeNow to a fixed instant and returns a func that
// advances it.
func movableClock(t *testing.T, at time.Time) func(d time.Duration) {
	t.Helper()
	old := timeNow
	current := at
	timeNow = func() time.Time { return current }
	t.Cleanup(func() { timeNow = old })
	return func(d time.Duration) { current = current.Add(d) }
}

func doJSON(t *testing.T, r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestStartReadyGuessFlow(t *testing.T) {
	r, _, _, demo := testRouter(t)
	movableClock(t, time.Now())

	// Start: reserves the slot, answer withheld for authenticated play.
	w := doJSON(t, r, http.MethodPost, "/api/rounds/"+demo.SoloGameID+"/start",
		demo.SessionToken, StartLocationRequest{LocationIndex: 1})
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	start := decode[StartLocationResponse](t, w)
	if start.Answer != nil {
		t.Error("start: answer disclosed on authenticated game")
	}
	if start.TimeLimitSeconds != 60 {
		t.Errorf("start: time limit = %d, want 60 (landmarks default)", start.TimeLimitSeconds)
	}
	if start.RoundID != demo.SoloRound1ID {
		t.Errorf("start: round id = %q, want %q", start.RoundID, demo.SoloRound1ID)
	}

	// Ready: starts the clock, returns the authoritative deadline.
	w = doJSON(t, r, http.MethodPost, "/api/rounds/"+demo.SoloGameID+"/ready",
		demo.SessionToken, NotifyReadyRequest{LocationIndex: 1})
	if w.Code != http.StatusOK {
		t.Fatalf("ready: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	ready := decode[NotifyReadyResponse](t, w)
	if ready.LocationStartedAt == 0 {
		t.Fatal("ready: expected a start timestamp")
	}
	if ready.Deadline != ready.LocationStartedAt+60_000 {
		t.Errorf("ready: deadline = %d, want start+60000", ready.Deadline)
	}

	// Guess dead-on the Eiffel Tower: distance 0, capped speed bonus.
	w = doJSON(t, r, http.MethodPost, "/api/guesses", demo.SessionToken,
		GuessRequest{RoundID: demo.SoloRound1ID, Point: &pointEiffel})
	if w.Code != http.StatusOK {
		t.Fatalf("guess: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	guess := decode[GuessResponse](t, w)
	if guess.DistanceKm != 0 {
		t.Errorf("guess: distance = %v, want 0", guess.DistanceKm)
	}
	if guess.Score != 300 {
		t.Errorf("guess: score = %d, want 300 (perfect, capped multiplier)", guess.Score)
	}
	if guess.GameComplete {
		t.Error("guess: game complete with one location still open")
	}
	if guess.Target == nil || guess.Target.Lat == nil || *guess.Target.Lat != 48.8584 {
		t.Errorf("guess: target not disclosed correctly: %+v", guess.Target)
	}
	if guess.Correct != nil {
		t.Error("guess: correctness flag set on non-country quiz")
	}
}

func TestStartLocationIdempotentKeepsClock(t *testing.T) {
	r, _, _, demo := testRouter(t)
	advance := movableClock(t, time.Now())

	doJSON(t, r, http.MethodPost, "/api/rounds/"+demo.SoloGameID+"/start",
		demo.SessionToken, StartLocationRequest{LocationIndex: 1})
	w := doJSON(t, r, http.MethodPost, "/api/rounds/"+demo.SoloGameID+"/ready",
		demo.SessionToken, NotifyReadyRequest{LocationIndex: 1})
	first := decode[NotifyReadyResponse](t, w)

	advance(5 * time.Second)

	// Re-starting the same index must not reset the running clock.
	w = doJSON(t, r, http.MethodPost, "/api/rounds/"+demo.SoloGameID+"/start",
		demo.SessionToken, StartLocationRequest{LocationIndex: 1})
	if w.Code != http.StatusOK {
		t.Fatalf("second start: expected 200, got %d", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, "/api/rounds/"+demo.SoloGameID+"/ready",
		demo.SessionToken, NotifyReadyRequest{LocationIndex: 1})
	second := decode[NotifyReadyResponse](t, w)

	if second.LocationStartedAt != first.LocationStartedAt {
		t.Errorf("clock reset by re-start: %d != %d", second.LocationStartedAt, first.LocationStartedAt)
	}
}

func TestNotifyReadyIdempotent(t *testing.T) {
	r, _, _, demo := testRouter(t)
	advance := movableClock(t, time.Now())

	doJSON(t, r, http.MethodPost, "/api/rounds/"+demo.SoloGameID+"/start",
		demo.SessionToken, StartLocationRequest{LocationIndex: 1})

	w := doJSON(t, r, http.MethodPost, "/api/rounds/"+demo.SoloGameID+"/ready",
		demo.SessionToken, NotifyReadyRequest{LocationIndex: 1})
	first := decode[NotifyReadyResponse](t, w)

	advance(200 * time.Millisecond) // simulated double map-ready event

	w = doJSON(t, r, http.MethodPost, "/api/rounds/"+demo.SoloGameID+"/ready",
		demo.SessionToken, NotifyReadyRequest{LocationIndex: 1})
	if w.Code != http.StatusOK {
		t.Fatalf("second ready: expected 200, got %d", w.Code)
	}
	second := decode[NotifyReadyResponse](t, w)

	if first.LocationStartedAt != second.LocationStartedAt {
		t.Errorf("double ready returned different start times: %d vs %d",
			first.LocationStartedAt, second.LocationStartedAt)
	}
}

func TestGuessBeforeReadyRejected(t *testing.T) {
	r, _, _, demo := testRouter(t)

	doJSON(t, r, http.MethodPost, "/api/rounds/"+demo.SoloGameID+"/start",
		demo.SessionToken, StartLocationRequest{LocationIndex: 1})

	// Reserved but never clocked: no deadline exists to validate against.
	w := doJSON(t, r, http.MethodPost, "/api/guesses", demo.SessionToken,
		GuessRequest{RoundID: demo.SoloRound1ID, Point: &pointEiffel})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestDuplicateGuessConflict(t *testing.T) {
	r, _, db, demo := testRouter(t)
	movableClock(t, time.Now())

	playLocation(t, r, demo.SessionToken, demo.SoloGameID, 1,
		GuessRequest{RoundID: demo.SoloRound1ID, Point: &pointEiffel})

	var before float64
	if err := db.QueryRow(`SELECT distance_km FROM guesses WHERE round_id = ?`,
		demo.SoloRound1ID).Scan(&before); err != nil {
		t.Fatalf("reading stored guess: %v", err)
	}

	// A retried submission with different coordinates must not overwrite.
	far := pointBrandenburg
	w := doJSON(t, r, http.MethodPost, "/api/guesses", demo.SessionToken,
		GuessRequest{RoundID: demo.SoloRound1ID, Point: &far})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	var after float64
	if err := db.QueryRow(`SELECT distance_km FROM guesses WHERE round_id = ?`,
		demo.SoloRound1ID).Scan(&after); err != nil {
		t.Fatalf("re-reading stored guess: %v", err)
	}
	if after != before {
		t.Errorf("stored distance changed from %v to %v", before, after)
	}
}

func TestGuessExpired(t *testing.T) {
	r, store, _, demo := testRouter(t)
	advance := movableClock(t, time.Now())

	doJSON(t, r, http.MethodPost, "/api/rounds/"+demo.SoloGameID+"/start",
		demo.SessionToken, StartLocationRequest{LocationIndex: 1})
	doJSON(t, r, http.MethodPost, "/api/rounds/"+demo.SoloGameID+"/ready",
		demo.SessionToken, NotifyReadyRequest{LocationIndex: 1})

	// Past the 60 s limit plus the 2 s grace.
	advance(63 * time.Second)

	w := doJSON(t, r, http.MethodPost, "/api/guesses", demo.SessionToken,
		GuessRequest{RoundID: demo.SoloRound1ID, Point: &pointEiffel})
	if w.Code != http.StatusGone {
		t.Fatalf("expected 410, got %d: %s", w.Code, w.Body.String())
	}

	// Nothing persisted by the rejected submission.
	exists, err := store.GuessExists(context.Background(), demo.SoloRound1ID, demo.PlayerID)
	if err != nil {
		t.Fatalf("checking guess: %v", err)
	}
	if exists {
		t.Fatal("expired guess was persisted")
	}

	// The client resubmits as a timeout: penalty distance, score zero.
	w = doJSON(t, r, http.MethodPost, "/api/guesses", demo.SessionToken,
		GuessRequest{RoundID: demo.SoloRound1ID, Timeout: true})
	if w.Code != http.StatusOK {
		t.Fatalf("timeout: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[GuessResponse](t, w)
	if resp.Score != 0 {
		t.Errorf("timeout score = %d, want 0", resp.Score)
	}
	if resp.DistanceKm != 10000 {
		t.Errorf("timeout distance = %v, want 10000 (landmarks penalty)", resp.DistanceKm)
	}
}

func TestStartUnreleasedRound(t *testing.T) {
	r, _, db, demo := testRouter(t)

	_, err := db.Exec(`
		INSERT INTO rounds (id, game_id, round_number, location_index, answer_source, answer_id, game_type)
		VALUES ('future-round', ?, 2, 3, 'poi', 'poi-eiffel', 'landmarks')
	`, demo.SoloGameID)
	if err != nil {
		t.Fatalf("inserting future round: %v", err)
	}

	w := doJSON(t, r, http.MethodPost, "/api/rounds/"+demo.SoloGameID+"/start",
		demo.SessionToken, StartLocationRequest{LocationIndex: 3})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStartNotParticipant(t *testing.T) {
	r, _, _, demo := testRouter(t)

	// No session on an owned game.
	w := doJSON(t, r, http.MethodPost, "/api/rounds/"+demo.SoloGameID+"/start",
		"", StartLocationRequest{LocationIndex: 1})
	if w.Code != http.StatusForbidden {
		t.Fatalf("no token: expected 403, got %d", w.Code)
	}

	// Unknown token is the guest path, still not a participant.
	w = doJSON(t, r, http.MethodPost, "/api/rounds/"+demo.SoloGameID+"/start",
		"bogus-token", StartLocationRequest{LocationIndex: 1})
	if w.Code != http.StatusForbidden {
		t.Fatalf("bogus token: expected 403, got %d", w.Code)
	}
}

func TestGuestFlowDisclosesAnswer(t *testing.T) {
	r, _, _, demo := testRouter(t)

	w := doJSON(t, r, http.MethodPost, "/api/rounds/"+demo.GuestGameID+"/start",
		"", StartLocationRequest{LocationIndex: 1})
	if w.Code != http.StatusOK {
		t.Fatalf("guest start: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	start := decode[StartLocationResponse](t, w)
	if start.Answer == nil || start.Answer.Lat == nil {
		t.Fatal("guest start: expected the disclosed answer payload")
	}
	if *start.Answer.Lat != 48.8584 {
		t.Errorf("guest answer lat = %v, want 48.8584", *start.Answer.Lat)
	}

	// Guest guesses run on client-reported time, no server clock required.
	w = doJSON(t, r, http.MethodPost, "/api/guesses", "",
		GuessRequest{RoundID: demo.GuestRound, Point: &pointEiffel, ClientElapsedSeconds: 8})
	if w.Code != http.StatusOK {
		t.Fatalf("guest guess: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[GuessResponse](t, w)
	if resp.DistanceKm != 0 {
		t.Errorf("guest distance = %v, want 0", resp.DistanceKm)
	}
	if !resp.GameComplete {
		t.Error("guest game should be complete after its only location")
	}
}

func TestCountryQuizCorrectness(t *testing.T) {
	r, _, _, demo := testRouter(t)
	movableClock(t, time.Now())

	paris := pointParis
	resp := playLocation(t, r, demo.SessionToken, demo.CountryGameID, 1,
		GuessRequest{RoundID: demo.CountryRound, Point: &paris})

	if resp.Correct == nil || !*resp.Correct {
		t.Fatalf("click inside France: correct = %v, want true", resp.Correct)
	}
	if resp.DistanceKm != 0 {
		t.Errorf("distance = %v, want 0 for containment hit", resp.DistanceKm)
	}
	// V3 full credit at the multiplier cap.
	if resp.Score != 300 {
		t.Errorf("score = %d, want 300", resp.Score)
	}
	if resp.Target == nil || resp.Target.CountryCode != "FR" {
		t.Errorf("target country = %+v, want FR", resp.Target)
	}
}

func TestCountryQuizMissFallsBackToCenter(t *testing.T) {
	r, _, _, demo := testRouter(t)
	movableClock(t, time.Now())

	london := pointLondon
	resp := playLocation(t, r, demo.SessionToken, demo.CountryGameID, 1,
		GuessRequest{RoundID: demo.CountryRound, Point: &london})

	if resp.Correct == nil || *resp.Correct {
		t.Fatalf("click in London: correct = %v, want false", resp.Correct)
	}
	// London to the France label center is roughly 620 km.
	if resp.DistanceKm < 550 || resp.DistanceKm > 700 {
		t.Errorf("fallback distance = %v km, want ≈ 620", resp.DistanceKm)
	}
}

func TestImageRoundPixelMetric(t *testing.T) {
	r, _, _, demo := testRouter(t)
	movableClock(t, time.Now())

	// Point payloads are invalid for image rounds.
	doJSON(t, r, http.MethodPost, "/api/rounds/"+demo.ImageGameID+"/start",
		demo.SessionToken, StartLocationRequest{LocationIndex: 1})
	doJSON(t, r, http.MethodPost, "/api/rounds/"+demo.ImageGameID+"/ready",
		demo.SessionToken, NotifyReadyRequest{LocationIndex: 1})

	w := doJSON(t, r, http.MethodPost, "/api/guesses", demo.SessionToken,
		GuessRequest{RoundID: demo.ImageRound, Point: &pointEiffel})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("point on image round: expected 400, got %d", w.Code)
	}

	// 92 px off = 10 m.
	w = doJSON(t, r, http.MethodPost, "/api/guesses", demo.SessionToken,
		GuessRequest{RoundID: demo.ImageRound, Pixel: &PixelPoint{X: 542, Y: 300}})
	if w.Code != http.StatusOK {
		t.Fatalf("pixel guess: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[GuessResponse](t, w)
	if resp.DistanceKm < 0.0099 || resp.DistanceKm > 0.0101 {
		t.Errorf("pixel distance = %v km, want 0.01", resp.DistanceKm)
	}
	if resp.Target == nil || resp.Target.PixelX == nil || *resp.Target.PixelX != 450 {
		t.Errorf("target pixel not disclosed: %+v", resp.Target)
	}
}

func TestRoundStatePoll(t *testing.T) {
	r, _, _, demo := testRouter(t)
	advance := movableClock(t, time.Now())

	doJSON(t, r, http.MethodPost, "/api/rounds/"+demo.SoloGameID+"/start",
		demo.SessionToken, StartLocationRequest{LocationIndex: 1})
	doJSON(t, r, http.MethodPost, "/api/rounds/"+demo.SoloGameID+"/ready",
		demo.SessionToken, NotifyReadyRequest{LocationIndex: 1})

	w := doJSON(t, r, http.MethodGet, "/api/rounds/"+demo.SoloGameID+"/state",
		demo.SessionToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("state: expected 200, got %d", w.Code)
	}
	state := decode[RoundStateResponse](t, w)
	if state.ActiveSlot == nil || state.ActiveSlot.LocationIndex != 1 {
		t.Fatalf("state: active slot = %+v, want index 1", state.ActiveSlot)
	}
	if state.ActiveSlot.Expired {
		t.Error("state: slot expired immediately after ready")
	}
	if state.ActiveSlot.Deadline == nil {
		t.Fatal("state: expected a deadline")
	}

	// Lazy expiry detection: the poll reports it but does not close the slot.
	advance(90 * time.Second)
	w = doJSON(t, r, http.MethodGet, "/api/rounds/"+demo.SoloGameID+"/state",
		demo.SessionToken, nil)
	state = decode[RoundStateResponse](t, w)
	if state.ActiveSlot == nil || !state.ActiveSlot.Expired {
		t.Error("state: expected the slot to be reported expired")
	}
	if state.ActiveSlot.LocationStartedAt == nil {
		t.Error("state: poll must not clear the clock")
	}
}

func TestCompletionFeedsRankings(t *testing.T) {
	r, _, _, demo := testRouter(t)
	movableClock(t, time.Now())

	playLocation(t, r, demo.SessionToken, demo.SoloGameID, 1,
		GuessRequest{RoundID: demo.SoloRound1ID, Point: &pointEiffel})
	resp := playLocation(t, r, demo.SessionToken, demo.SoloGameID, 2,
		GuessRequest{RoundID: demo.SoloRound2ID, Point: &pointBrandenburg})
	if !resp.GameComplete {
		t.Fatal("expected game completion after the last location")
	}

	w := doJSON(t, r, http.MethodGet,
		"/api/rankings?gameType=landmarks&period=alltime", demo.SessionToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rankings: expected 200, got %d", w.Code)
	}
	rankings := decode[RankingsResponse](t, w)
	if len(rankings.Entries) != 1 {
		t.Fatalf("rankings: %d entries, want 1", len(rankings.Entries))
	}
	e := rankings.Entries[0]
	if e.Rank == nil || *e.Rank != 1 {
		t.Errorf("rank = %v, want 1", e.Rank)
	}
	if e.TotalGames != 1 {
		t.Errorf("total games = %d, want 1", e.TotalGames)
	}
	if e.BestScore != 600 {
		t.Errorf("best score = %d, want 600 (two perfect capped guesses)", e.BestScore)
	}
	if e.DisplayName != "Amara" {
		t.Errorf("display name = %q, want Amara", e.DisplayName)
	}

	// The synthetic overall bucket is fed too.
	w = doJSON(t, r, http.MethodGet, "/api/rankings?period=alltime", demo.SessionToken, nil)
	rankings = decode[RankingsResponse](t, w)
	if len(rankings.Entries) != 1 || rankings.Entries[0].BestScore != 600 {
		t.Errorf("overall bucket = %+v, want one entry with best 600", rankings.Entries)
	}
}

// playLocation runs start → ready → guess for one location and returns the
// guess response.
func playLocation(t *testing.T, r http.Handler, token, gameID string, idx int, guess GuessRequest) GuessResponse {
	t.Helper()

	w := doJSON(t, r, http.MethodPost, "/api/rounds/"+gameID+"/start",
		token, StartLocationRequest{LocationIndex: idx})
	if w.Code != http.StatusOK {
		t.Fatalf("start %d: expected 200, got %d: %s", idx, w.Code, w.Body.String())
	}
	w = doJSON(t, r, http.MethodPost, "/api/rounds/"+gameID+"/ready",
		token, NotifyReadyRequest{LocationIndex: idx})
	if w.Code != http.StatusOK {
		t.Fatalf("ready %d: expected 200, got %d: %s", idx, w.Code, w.Body.String())
	}
	w = doJSON(t, r, http.MethodPost, "/api/guesses", token, guess)
	if w.Code != http.StatusOK {
		t.Fatalf("guess %d: expected 200, got %d: %s", idx, w.Code, w.Body.String())
	}
	return decode[GuessResponse](t, w)
}
