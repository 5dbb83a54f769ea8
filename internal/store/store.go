// Package store provides the cache and persistence layers for the EV
// engine: a per-participant offer cache with content-hash invalidation of
// dependent EV results, a result cache keyed by the full request
// signature, and a PostgreSQL history of computed results.
//
// Caches are a best-effort side channel. The interfaces deliberately
// return presence booleans instead of errors: an unreachable or failing
// cache is a miss on read and a no-op on write, never a failure of the
// primary computation.
package store

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/oddsedge/ev-engine/internal/model"
)

// Signature identifies one EV computation for result caching. The
// reference books must be sorted and deduplicated before building a
// signature so that request-order differences share a cache slot.
type Signature struct {
	OfferID        string
	ParticipantID  string
	Line           float64
	Side           string
	Sportsbook     string
	ReferenceBooks []string
	Method         string
}

// NormalizeBooks sorts and deduplicates reference book codes.
func NormalizeBooks(books []string) []string {
	seen := make(map[string]bool, len(books))
	out := make([]string, 0, len(books))
	for _, b := range books {
		if !seen[b] {
			seen[b] = true
			out = append(out, b)
		}
	}
	sort.Strings(out)
	return out
}

// Key renders the signature as a cache key.
func (s Signature) Key() string {
	return strings.Join([]string{
		"evresult",
		s.OfferID,
		s.ParticipantID,
		strconv.FormatFloat(s.Line, 'f', -1, 64),
		s.Side,
		s.Sportsbook,
		strings.Join(s.ReferenceBooks, ","),
		s.Method,
	}, ":")
}

// IndexKey identifies the set of result keys dependent on this
// signature's offer+participant, used for invalidation on offer change.
func (s Signature) IndexKey() string {
	return indexKey(s.OfferID, s.ParticipantID)
}

func indexKey(offerID, participantID string) string {
	return "evresult-index:" + offerID + ":" + participantID
}

func offerKey(offerID, participantID string) string {
	return "offer:" + offerID + ":" + participantID
}

func offerHashKey(offerID, participantID string) string {
	return "offer-hash:" + offerID + ":" + participantID
}

// OfferCache caches the resolved offer per (offer, participant). Setting
// an offer whose content differs from the previously stored value must
// invalidate every dependent EV result for that offer+participant.
type OfferCache interface {
	GetOffer(ctx context.Context, offerID, participantID string) (*model.Offer, bool)
	SetOffer(ctx context.Context, offerID, participantID string, offer *model.Offer)
}

// ResultCache caches successful EV results by request signature.
type ResultCache interface {
	GetResult(ctx context.Context, sig Signature) (*model.EVResult, bool)
	SetResult(ctx context.Context, sig Signature, res *model.EVResult)
}
