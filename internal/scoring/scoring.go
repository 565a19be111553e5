// Package scoring turns (distance, elapsed time) into points under the
// coexisting formula versions, and resolves per-game-type parameters from
// the built-in tables with a dynamic override tier behind one function.
package scoring

import (
	"context"
	"fmt"
	"math"
)

// Version selects which distance→score formula applies to a guess.
type Version int

const (
	// V1 scores on accuracy alone.
	V1 Version = 1
	// V2 multiplies the accuracy score by a speed bonus capped at 3x.
	V2 Version = 2
	// V3 is V2 plus a full-credit override when a country-quiz click lands
	// inside the correct polygon.
	V3 Version = 3
)

func (v Version) Valid() bool { return v >= V1 && v <= V3 }

// MaxPoints is the accuracy score of a perfect guess.
const MaxPoints = 100

// TypeParams are the scoring constants of one game type.
type TypeParams struct {
	// ScaleFactor is the e-folding distance in km of the accuracy decay.
	ScaleFactor float64
	// TimeoutPenaltyKm is the distance recorded when the player never guessed.
	TimeoutPenaltyKm float64
	// TimeLimitSeconds is the default countdown for the type.
	TimeLimitSeconds int
}

// Built-in game types. Dynamically administered categories are resolved from
// the configuration store instead.
var builtin = map[string]TypeParams{
	"world":     {ScaleFactor: 2000, TimeoutPenaltyKm: 20000, TimeLimitSeconds: 90},
	"capitals":  {ScaleFactor: 500, TimeoutPenaltyKm: 20000, TimeLimitSeconds: 60},
	"landmarks": {ScaleFactor: 80, TimeoutPenaltyKm: 10000, TimeLimitSeconds: 60},
	"countries": {ScaleFactor: 1000, TimeoutPenaltyKm: 20000, TimeLimitSeconds: 45},
	"flags":     {ScaleFactor: 1000, TimeoutPenaltyKm: 20000, TimeLimitSeconds: 30},
	"photos":    {ScaleFactor: 0.05, TimeoutPenaltyKm: 1, TimeLimitSeconds: 120},
	"panorama":  {ScaleFactor: 300, TimeoutPenaltyKm: 20000, TimeLimitSeconds: 120},
}

// countryQuiz marks the "pick the right country" variants, where polygon
// containment defines correctness and V3 grants full credit.
var countryQuiz = map[string]bool{
	"countries": true,
	"flags":     true,
}

// IsCountryQuiz reports whether gameType scores by polygon containment.
func IsCountryQuiz(gameType string) bool { return countryQuiz[gameType] }

// Overrides is the dynamic configuration tier, backed by the administered
// game_type_configs records.
type Overrides interface {
	TypeParams(ctx context.Context, gameType string) (TypeParams, bool, error)
}

// Resolve returns the scoring parameters for gameType: the built-in table
// first, the dynamic override store second. Callers never learn which tier
// answered.
func Resolve(ctx context.Context, gameType string, dyn Overrides) (TypeParams, error) {
	if p, ok := builtin[gameType]; ok {
		return p, nil
	}
	if dyn != nil {
		p, ok, err := dyn.TypeParams(ctx, gameType)
		if err != nil {
			return TypeParams{}, fmt.Errorf("resolving params for %q: %w", gameType, err)
		}
		if ok {
			// Administered records are not trusted the way the built-in
			// table is: a non-positive scale factor would put 0/0 into the
			// accuracy exponent.
			if p.ScaleFactor <= 0 {
				return TypeParams{}, fmt.Errorf("invalid scale factor %v for %q", p.ScaleFactor, gameType)
			}
			return p, nil
		}
	}
	return TypeParams{}, fmt.Errorf("unknown game type %q", gameType)
}

// Input is one guess to score.
type Input struct {
	Version        Version
	Params         TypeParams
	DistanceKm     float64
	ElapsedSeconds float64
	// Correct is the polygon-containment flag of country quizzes.
	Correct  bool
	TimedOut bool
}

// TimeMultiplier is the V2/V3 speed bonus: 1 + min(2, 3/(t+0.1)),
// bounded to [1, 3] and non-increasing in t.
func TimeMultiplier(seconds float64) float64 {
	if seconds < 0 {
		seconds = 0
	}
	return 1 + math.Min(2.0, 3.0/(seconds+0.1))
}

// Score computes the points for one guess. A timeout always scores zero.
// V1 rounds the accuracy term; V2/V3 truncate the accuracy×multiplier
// product (12 km at scale 80 after 5 s scores exactly 136).
func Score(in Input) int {
	if in.TimedOut {
		return 0
	}

	accuracy := MaxPoints * math.Exp(-in.DistanceKm/in.Params.ScaleFactor)

	switch in.Version {
	case V1:
		return int(math.Round(accuracy))
	case V2:
		return int(accuracy * TimeMultiplier(in.ElapsedSeconds))
	case V3:
		if in.Correct {
			// Full credit on a correct containment hit, still subject to the
			// speed multiplier.
			accuracy = MaxPoints
		}
		return int(accuracy * TimeMultiplier(in.ElapsedSeconds))
	default:
		return int(math.Round(accuracy))
	}
}
