package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/maprally/api/internal/maprally"
)

var errNoSession = errors.New("no valid session")

// playerFromRequest resolves the Bearer session token to a player. A missing
// or unknown token means guest play: the caller gets errNoSession and the
// handlers relax the server-side clock accordingly.
func playerFromRequest(r *http.Request, store Store) (maprally.Player, error) {
	auth := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(auth, "Bearer ")
	if !found || token == "" {
		return maprally.Player{}, errNoSession
	}
	return store.PlayerFromToken(r.Context(), token)
}
