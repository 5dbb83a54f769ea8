// Package market locates and validates two-sided Over/Under market data
// inside a fetched offer payload: offer lookup by participant, reference
// book qualification, target pair extraction, and best-price selection.
package market

import (
	"errors"
	"math"
	"strconv"

	"github.com/oddsedge/ev-engine/internal/model"
)

var (
	// ErrParticipantNotFound is returned when no offer's first participant
	// matches the requested id.
	ErrParticipantNotFound = errors.New("market: no offer found for participant")

	// ErrNoReferenceOutcomes is returned when no candidate reference book
	// quotes a complete two-sided market.
	ErrNoReferenceOutcomes = errors.New("market: no reference sportsbook with a complete two-sided market")

	// ErrTargetNotFound is returned when the target book has no outcomes
	// at all for the requested line.
	ErrTargetNotFound = errors.New("market: target sportsbook not found")

	// ErrTargetIncomplete is returned when the target book is quoted but
	// not as exactly one complete Over/Under pair.
	ErrTargetIncomplete = errors.New("market: target sportsbook market is incomplete")

	// ErrNoBestOdds is returned when no outcome at the line/side carries
	// a parseable American price.
	ErrNoBestOdds = errors.New("market: no comparable odds for line and side")
)

// FindOfferForParticipant scans offers in order and returns the first
// whose first participant's id equals participantID. Offers with an empty
// participant list are skipped, not errors. Only the first participant is
// consulted; see model.Offer.
func FindOfferForParticipant(offers []model.Offer, participantID string) (*model.Offer, error) {
	for i := range offers {
		o := &offers[i]
		if len(o.Participants) == 0 {
			continue
		}
		if o.Participants[0].ID == participantID {
			return o, nil
		}
	}
	return nil, ErrParticipantNotFound
}

// HasCompleteTwoSidedMarket reports whether the given sportsbook quotes at
// least one Over and one Under among outcomes, at any line.
func HasCompleteTwoSidedMarket(outcomes []model.Outcome, sportsbook string) bool {
	var over, under bool
	for _, o := range outcomes {
		if o.Sportsbook != sportsbook {
			continue
		}
		switch o.Label {
		case model.SideOver:
			over = true
		case model.SideUnder:
			under = true
		}
		if over && under {
			return true
		}
	}
	return false
}

// ResolveReferenceBooks filters candidate book codes to those with a
// complete two-sided market in outcomes, deduplicating while preserving
// first-seen order. An empty result is ErrNoReferenceOutcomes whether the
// candidate list was empty or none qualified.
func ResolveReferenceBooks(outcomes []model.Outcome, candidates []string) ([]string, error) {
	seen := make(map[string]bool, len(candidates))
	var books []string
	for _, code := range candidates {
		if seen[code] {
			continue
		}
		seen[code] = true
		if HasCompleteTwoSidedMarket(outcomes, code) {
			books = append(books, code)
		}
	}
	if len(books) == 0 {
		return nil, ErrNoReferenceOutcomes
	}
	return books, nil
}

// LineMatches compares an outcome's line string to a numeric line.
// Unparseable lines never match.
func LineMatches(lineStr string, line float64) bool {
	v, err := strconv.ParseFloat(lineStr, 64)
	if err != nil {
		return false
	}
	return v == line
}

// OutcomesForBook returns the outcomes quoted by one sportsbook,
// restricted to the given line when non-nil.
func OutcomesForBook(outcomes []model.Outcome, sportsbook string, line *float64) []model.Outcome {
	var matched []model.Outcome
	for _, o := range outcomes {
		if o.Sportsbook != sportsbook {
			continue
		}
		if line != nil && !LineMatches(o.Line, *line) {
			continue
		}
		matched = append(matched, o)
	}
	return matched
}

// ResolveTargetOutcomes extracts the target book's quotes, filtered by
// line when non-nil. Zero matches is ErrTargetNotFound; anything other
// than exactly one complete Over/Under pair (1, 3+, or two same-label
// quotes) is ErrTargetIncomplete. Each book is expected to quote
// precisely one Over and one Under per line; everything else is rejected.
func ResolveTargetOutcomes(outcomes []model.Outcome, sportsbook string, line *float64) ([]model.Outcome, error) {
	matched := OutcomesForBook(outcomes, sportsbook, line)
	if len(matched) == 0 {
		return nil, ErrTargetNotFound
	}
	if len(matched) != 2 || !HasCompleteTwoSidedMarket(matched, sportsbook) {
		return nil, ErrTargetIncomplete
	}
	return matched, nil
}

// BestOdds returns the single most bettor-favorable outcome at the given
// numeric line and side across all books. American odds order numerically:
// higher is always better for the bettor, positive or negative. Outcomes
// whose American string does not parse to a finite number are skipped;
// ties resolve to the first encountered.
func BestOdds(outcomes []model.Outcome, line float64, side string) (*model.Outcome, error) {
	var best *model.Outcome
	var bestVal float64
	for i := range outcomes {
		o := &outcomes[i]
		if o.Label != side || !LineMatches(o.Line, line) {
			continue
		}
		v, err := strconv.ParseFloat(o.American, 64)
		if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
			continue
		}
		if best == nil || v > bestVal {
			best = o
			bestVal = v
		}
	}
	if best == nil {
		return nil, ErrNoBestOdds
	}
	return best, nil
}
