// Package ev composes market resolution, devigging, and odds math into
// the single and batch expected-value pipelines: locate the offer for a
// participant, devig each qualifying reference book, average into a true
// probability, and price the target book's quote against it.
package ev

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/oddsedge/ev-engine/internal/devig"
	"github.com/oddsedge/ev-engine/internal/market"
	"github.com/oddsedge/ev-engine/internal/metrics"
	"github.com/oddsedge/ev-engine/internal/model"
	"github.com/oddsedge/ev-engine/internal/odds"
	"github.com/oddsedge/ev-engine/internal/provider"
	"github.com/oddsedge/ev-engine/internal/store"
)

// quarterKelly is the fraction of full Kelly used for the recommended bet.
const quarterKelly = 0.25

// Fetcher retrieves the full offer payload for an offer id.
type Fetcher interface {
	FetchOffers(ctx context.Context, offerID string) ([]model.Offer, error)
}

// History records successful calculations. Implemented by
// store.HistoryStore; optional.
type History interface {
	InsertResult(ctx context.Context, offerID, participantID string, res *model.EVResult) error
	ListByOffer(ctx context.Context, offerID string, limit int) ([]store.EVRecord, error)
}

// Service runs EV calculations. Caches and history are injected by the
// caller, which owns their lifecycle; pass nil for history and hub when
// not needed.
type Service struct {
	fetcher Fetcher
	offers  store.OfferCache
	results store.ResultCache
	history History
	hub     *Hub
}

// NewService creates an EV service.
func NewService(fetcher Fetcher, offers store.OfferCache, results store.ResultCache, history History, hub *Hub) *Service {
	return &Service{
		fetcher: fetcher,
		offers:  offers,
		results: results,
		history: history,
		hub:     hub,
	}
}

// CalculateEV runs the single-request pipeline. fresh bypasses the result
// cache lookup (the recomputed value is still stored). The returned error
// is always an *Error.
func (s *Service) CalculateEV(ctx context.Context, req model.EVRequest, fresh bool) (*model.EVResult, error) {
	refs := store.NormalizeBooks(req.ReferenceBooks)
	sig := signatureFor(req, refs)

	if !fresh {
		if res, ok := s.results.GetResult(ctx, sig); ok {
			metrics.CacheRequestsTotal.WithLabelValues("result", "hit").Inc()
			return res, nil
		}
		metrics.CacheRequestsTotal.WithLabelValues("result", "miss").Inc()
	}

	offer, err := s.resolveOffer(ctx, req.OfferID, req.ParticipantID)
	if err != nil {
		metrics.CalculationsTotal.WithLabelValues(req.Method, AsError(err).Code).Inc()
		return nil, err
	}

	res, err := s.evaluate(req, offer)
	if err != nil {
		metrics.CalculationsTotal.WithLabelValues(req.Method, AsError(err).Code).Inc()
		return nil, err
	}

	s.finish(ctx, sig, req, res)
	metrics.CalculationsTotal.WithLabelValues(req.Method, "success").Inc()
	return res, nil
}

// resolveOffer returns the offer for one participant, consulting the
// offer cache before fetching upstream. A fetched offer is written back
// to the cache, which triggers result invalidation when its content
// changed.
func (s *Service) resolveOffer(ctx context.Context, offerID, participantID string) (*model.Offer, error) {
	if off, ok := s.offers.GetOffer(ctx, offerID, participantID); ok {
		metrics.CacheRequestsTotal.WithLabelValues("offer", "hit").Inc()
		return off, nil
	}
	metrics.CacheRequestsTotal.WithLabelValues("offer", "miss").Inc()

	offers, err := s.fetcher.FetchOffers(ctx, offerID)
	if err != nil {
		metrics.UpstreamFetchesTotal.WithLabelValues("error").Inc()
		return nil, mapFetchError(err)
	}
	metrics.UpstreamFetchesTotal.WithLabelValues("success").Inc()

	off, err := market.FindOfferForParticipant(offers, participantID)
	if err != nil {
		return nil, newError(CodeParticipantNotFound, http.StatusNotFound,
			"no offer for participant %q in offer %q", participantID, offerID)
	}
	s.offers.SetOffer(ctx, offerID, participantID, off)
	return off, nil
}

// evaluate runs the pure core of the pipeline (reference resolution,
// devigging, EV and sizing) against an already-resolved offer. It touches
// no caches and performs no I/O.
func (s *Service) evaluate(req model.EVRequest, offer *model.Offer) (*model.EVResult, error) {
	all := offer.AllOutcomes()
	method := devig.Method(req.Method)

	books, err := market.ResolveReferenceBooks(all, req.ReferenceBooks)
	if err != nil {
		return nil, newError(CodeNoReferenceOutcomes, http.StatusConflict,
			"no reference sportsbook with a complete two-sided market")
	}

	pair, err := market.ResolveTargetOutcomes(all, req.Sportsbook, &req.Line)
	if err != nil {
		if errors.Is(err, market.ErrTargetNotFound) {
			return nil, newError(CodeTargetNotFound, http.StatusNotFound,
				"target sportsbook %q has no market at line %v", req.Sportsbook, req.Line)
		}
		return nil, newError(CodeTargetIncomplete, http.StatusConflict,
			"target sportsbook %q does not quote a complete Over/Under pair at line %v", req.Sportsbook, req.Line)
	}

	var target model.Outcome
	for _, o := range pair {
		if o.Label == req.Side {
			target = o
		}
	}
	american, err := strconv.Atoi(target.American)
	if err != nil {
		return nil, newError(CodeInvalidOdds, http.StatusUnprocessableEntity,
			"target american odds %q do not parse", target.American)
	}

	// Consensus: devig each qualifying reference book's own pair at the
	// requested line and average the survivors. A single book's failure
	// is swallowed; only a total wipeout surfaces.
	var sum float64
	var contributed []string
	for _, book := range books {
		bookPair := market.OutcomesForBook(all, book, &req.Line)
		p, err := devig.FairProbability(bookPair, req.Side, method)
		if err != nil {
			metrics.DevigFailuresTotal.WithLabelValues(req.Method).Inc()
			slog.Debug("reference book excluded from consensus",
				"book", book, "offer", req.OfferID, "err", err)
			continue
		}
		sum += p
		contributed = append(contributed, book)
	}
	if len(contributed) == 0 {
		return nil, newError(CodeDevigError, http.StatusUnprocessableEntity,
			"devig failed for every reference book")
	}
	trueProb := sum / float64(len(contributed))

	implied, err := devig.FairProbability(pair, req.Side, method)
	if err != nil {
		return nil, newError(CodeDevigError, http.StatusUnprocessableEntity,
			"devig of target market failed: %v", err)
	}

	dec := odds.AmericanToDecimal(float64(american))
	evPct := odds.EVPercent(trueProb, dec)

	res := &model.EVResult{
		Participant:        offer.Participants[0].Name,
		Market:             offer.Market,
		Line:               req.Line,
		Side:               req.Side,
		Sportsbook:         req.Sportsbook,
		American:           target.American,
		TrueProbability:    trueProb,
		ImpliedProbability: implied,
		EVPercent:          evPct,
		ReferenceBooks:     contributed,
	}

	if req.Bankroll != nil && req.Bankroll.IsPositive() {
		full := odds.KellyFraction(trueProb, dec)
		quarter := full * quarterKelly
		bet := req.Bankroll.Mul(decimal.NewFromFloat(quarter)).Round(2)
		profit := bet.Mul(decimal.NewFromFloat(evPct / 100)).Round(2)
		res.Kelly = &model.KellySizing{
			Full:           full,
			Quarter:        quarter,
			RecommendedBet: bet,
			ExpectedProfit: profit,
		}
	}

	if best, err := market.BestOdds(all, req.Line, req.Side); err == nil {
		res.BestOdds = &model.BestOdds{
			Sportsbook: best.Sportsbook,
			American:   best.American,
			Display:    best.Display,
		}
	}

	return res, nil
}

// finish stores, records, and broadcasts a successful result. Cache and
// history writes are best-effort side channels.
func (s *Service) finish(ctx context.Context, sig store.Signature, req model.EVRequest, res *model.EVResult) {
	s.results.SetResult(ctx, sig, res)
	if s.history != nil {
		if err := s.history.InsertResult(ctx, req.OfferID, req.ParticipantID, res); err != nil {
			slog.Warn("history write failed", "offer", req.OfferID, "err", err)
		}
	}
	if s.hub != nil && res.EVPercent > 0 {
		s.hub.BroadcastResult(req.OfferID, res)
	}
}

func signatureFor(req model.EVRequest, normalizedBooks []string) store.Signature {
	return store.Signature{
		OfferID:        req.OfferID,
		ParticipantID:  req.ParticipantID,
		Line:           req.Line,
		Side:           req.Side,
		Sportsbook:     req.Sportsbook,
		ReferenceBooks: normalizedBooks,
		Method:         req.Method,
	}
}

// mapFetchError translates provider failures, preserving the not-found
// vs. upstream-error distinction and the upstream status when available.
func mapFetchError(err error) *Error {
	if errors.Is(err, provider.ErrOfferNotFound) {
		return newError(CodeOfferNotFound, http.StatusNotFound, "offer not found upstream")
	}
	var ue *provider.UpstreamError
	if errors.As(err, &ue) {
		e := newError(CodeUpstreamError, http.StatusBadGateway, "%s", ue.Message)
		e.UpstreamStatus = ue.Status
		return e
	}
	return newError(CodeUpstreamError, http.StatusBadGateway, "%s", err.Error())
}
