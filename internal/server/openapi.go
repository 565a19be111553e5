package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi31"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

// gameIDPathParam declares the {gameID} path placeholder so the reflector
// accepts operations on routes that contain it.
type gameIDPathParam struct {
	GameID string `path:"gameID"`
}

func newOpenAPISpec() *openapi31.Spec {
	r := openapi31.NewReflector()
	r.Spec.Info.Title = "MapRally API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Round engine and scoring backend for the MapRally geography game.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Returns the health status of backend dependencies.")
	getHealthz.AddRespStructure(map[string]struct {
		Status string `json:"status"`
	}{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(getHealthz)

	// POST /api/rounds/{gameID}/start
	postStart, _ := r.NewOperationContext(http.MethodPost, "/api/rounds/{gameID}/start")
	postStart.SetSummary("Start a location")
	postStart.SetDescription("Reserves a location slot without starting the countdown. Guest games receive the answer payload up front; authenticated games do not.")
	postStart.AddReqStructure(gameIDPathParam{})
	postStart.AddReqStructure(StartLocationRequest{})
	postStart.AddRespStructure(StartLocationResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	postStart.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	postStart.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	postStart.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(postStart)

	// POST /api/rounds/{gameID}/ready
	postReady, _ := r.NewOperationContext(http.MethodPost, "/api/rounds/{gameID}/ready")
	postReady.SetSummary("Notify ready")
	postReady.SetDescription("Starts the countdown for the reserved slot once the client has rendered it. Idempotent: a duplicate call returns the stored start time.")
	postReady.AddReqStructure(gameIDPathParam{})
	postReady.AddReqStructure(NotifyReadyRequest{})
	postReady.AddRespStructure(NotifyReadyResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	postReady.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	postReady.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(postReady)

	// GET /api/rounds/{gameID}/state
	getState, _ := r.NewOperationContext(http.MethodGet, "/api/rounds/{gameID}/state")
	getState.SetSummary("Round status poll")
	getState.SetDescription("Reports the active slot, its server-derived deadline, and closed locations. Detects expiry lazily, without mutating.")
	getState.AddReqStructure(gameIDPathParam{})
	getState.AddRespStructure(RoundStateResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getState.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	getState.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getState)

	// POST /api/guesses
	postGuess, _ := r.NewOperationContext(http.MethodPost, "/api/guesses")
	postGuess.SetSummary("Submit guess or timeout")
	postGuess.SetDescription("Closes the active slot: scores the guess against the stored deadline, or records a timeout with penalty distance and score zero.")
	postGuess.AddReqStructure(GuessRequest{})
	postGuess.AddRespStructure(GuessResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	postGuess.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postGuess.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	postGuess.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	postGuess.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	postGuess.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusGone))
	_ = r.AddOperation(postGuess)

	// GET /api/rankings
	getRankings, _ := r.NewOperationContext(http.MethodGet, "/api/rankings")
	getRankings.SetSummary("Rankings")
	getRankings.SetDescription("Returns one leaderboard bucket (gameType, period, periodKey), rank-ordered. sortBy=total reorders by running total for display.")
	getRankings.AddRespStructure(RankingsResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getRankings.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	_ = r.AddOperation(getRankings)

	// GET /api/games/{gameID}/events
	getEvents, _ := r.NewOperationContext(http.MethodGet, "/api/games/{gameID}/events")
	getEvents.SetSummary("SSE event stream")
	getEvents.SetDescription("Server-Sent Events stream of round lifecycle events for one game. Pass the session token as a query parameter for authenticated games.")
	getEvents.AddReqStructure(gameIDPathParam{})
	getEvents.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK),
		openapi.WithContentType("text/event-stream"))
	getEvents.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(getEvents)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
