// Package devig removes the bookmaker's margin ("vig") from a two-sided
// market quote to estimate a fair probability for one side.
//
// The engine operates on raw implied-probability weights (Outcome.Odds),
// never on American odds. Five methods are supported; all reduce to a
// function of (p1, p2) where p1 is the requested side's implied value and
// p2 the opposite side's:
//
//	multiplicative  p1 / (p1 + p2)
//	additive        p1 - (p1 + p2 - 1) / 2
//	shin            identical to additive for two outcomes (see below)
//	power           solve p1^k + p2^k = 1, return p1^k
//	os_skewed       p1 - w*(p1 + p2 - 1), w = 0.65 Over / 0.35 Under
//
// Shin's estimator collapses to the additive correction for exactly two
// outcomes: subtracting the two Shin quadratics
// (1-z)p_i^2 + z*p_i - pi_i^2/beta = 0 and using p1 + p2 = 1 with
// beta = pi1 + pi2 reduces to p1 - p2 = pi1 - pi2, hence
// p1 = pi1 - (beta-1)/2. The implementation delegates, so the two method
// tokens are bit-identical by construction as well as by algebra.
package devig

import (
	"errors"
	"fmt"
	"math"

	"github.com/oddsedge/ev-engine/internal/model"
)

// Method selects a devigging algorithm.
type Method string

// Supported method tokens. OSSkewed is the canonical name for the
// skewed-totals variant; earlier systems used several spellings but the
// 0.65/0.35 weights never changed.
const (
	Multiplicative Method = "multiplicative"
	Additive       Method = "additive"
	Shin           Method = "shin"
	Power          Method = "power"
	OSSkewed       Method = "os_skewed"
)

var (
	// ErrIncompleteMarket is returned when the outcomes do not contain
	// exactly one quote for the requested side plus at least one for the
	// opposite side.
	ErrIncompleteMarket = errors.New("devig: incomplete two-sided market")

	// ErrZeroProbability is returned when a matched outcome carries a
	// zero implied value; probability cannot be zero.
	ErrZeroProbability = errors.New("devig: probability cannot be zero")

	// ErrUnsupportedMethod is returned for an unrecognized method token.
	ErrUnsupportedMethod = errors.New("devig: unsupported method")
)

// Power-method search parameters. The fixed iteration count bounds
// latency; it is the termination guarantee, not a convergence guarantee.
const (
	powerLow        = 1.0
	powerHigh       = 10.0
	powerIterations = 20
	powerTolerance  = 1e-5
)

// ParseMethod validates a method token.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case Multiplicative, Additive, Shin, Power, OSSkewed:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, s)
	}
}

// FairProbability devigs a two-sided market and returns the fair
// probability of the requested side.
//
// Preconditions: outcomes must contain exactly one outcome labeled side
// and at least one labeled otherwise; both matched implied values must be
// nonzero. The first differing-label outcome found is taken as the
// opposite side.
func FairProbability(outcomes []model.Outcome, side string, method Method) (float64, error) {
	var want, opposite *model.Outcome
	wantCount := 0
	for i := range outcomes {
		o := &outcomes[i]
		if o.Label == side {
			want = o
			wantCount++
		} else if opposite == nil {
			opposite = o
		}
	}
	if wantCount != 1 || opposite == nil {
		return 0, ErrIncompleteMarket
	}
	if want.Odds == 0 || opposite.Odds == 0 {
		return 0, ErrZeroProbability
	}

	p1, p2 := want.Odds, opposite.Odds

	switch method {
	case Multiplicative:
		return p1 / (p1 + p2), nil
	case Additive, Shin:
		return additive(p1, p2), nil
	case Power:
		return power(p1, p2), nil
	case OSSkewed:
		// Totals vig is assumed to sit mostly on the Over.
		w := 0.35
		if side == model.SideOver {
			w = 0.65
		}
		return p1 - w*overround(p1, p2), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
}

// overround is the bookmaker's margin: total implied probability minus 1.
func overround(p1, p2 float64) float64 {
	return p1 + p2 - 1
}

// additive splits the overround evenly between the two sides.
func additive(p1, p2 float64) float64 {
	return p1 - overround(p1, p2)/2
}

// power finds k such that p1^k + p2^k = 1 and returns p1^k, distributing
// the margin nonlinearly (longshots give up more). k is located by binary
// search over [1, 10] with at most 20 iterations, accepting when
// |p1^k + p2^k - 1| < 1e-5. If the loop exhausts without hitting the
// tolerance the last midpoint is used as a best effort.
func power(p1, p2 float64) float64 {
	lo, hi := powerLow, powerHigh
	k := powerLow
	for i := 0; i < powerIterations; i++ {
		k = (lo + hi) / 2
		total := math.Pow(p1, k) + math.Pow(p2, k)
		if math.Abs(total-1) < powerTolerance {
			break
		}
		// p^k is decreasing in k for p in (0,1): total too high means
		// k must grow.
		if total > 1 {
			lo = k
		} else {
			hi = k
		}
	}
	return math.Pow(p1, k)
}
