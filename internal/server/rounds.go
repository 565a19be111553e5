package server

import (
	"net/http"
	"time"

	"github.com/maprally/api/internal/maprally"
	"github.com/maprally/api/internal/scoring"
)

// gracePeriod absorbs network latency between the client-side countdown
// hitting zero and the submission arriving.
const gracePeriod = 2 * time.Second

// timeNow is the server clock, swappable in tests.
var timeNow = time.Now

// caller identifies who is playing a game: an authenticated participant or
// the guest path. A guest game (no owning player) runs under the relaxed
// trust model — the one branch the handlers take on identity.
type caller struct {
	PlayerID string
	Name     string
	Guest    bool
}

// callerForGame resolves the request's session against the game's owner.
// It writes the error response itself and reports ok=false on rejection.
func callerForGame(w http.ResponseWriter, r *http.Request, store Store, game maprally.Game) (caller, bool) {
	player, err := playerFromRequest(r, store)
	switch {
	case err == nil:
		if game.PlayerID != player.ID {
			writeError(w, http.StatusForbidden, "not a participant of this game")
			return caller{}, false
		}
		return caller{PlayerID: player.ID, Name: player.DisplayName}, true
	case err == errNoSession:
		if game.PlayerID != "" {
			writeError(w, http.StatusForbidden, "not a participant of this game")
			return caller{}, false
		}
		return caller{Guest: true}, true
	default:
		writeInternalError(w)
		return caller{}, false
	}
}

// effectiveTimeLimit resolves the countdown for one round: the round's own
// override first, then the game-wide override, then the game-type default.
func effectiveTimeLimit(round maprally.Round, game maprally.Game, params scoring.TypeParams) int {
	if round.TimeLimitSeconds > 0 {
		return round.TimeLimitSeconds
	}
	if game.TimeLimitSeconds > 0 {
		return game.TimeLimitSeconds
	}
	return params.TimeLimitSeconds
}
