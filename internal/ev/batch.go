package ev

import (
	"context"

	"github.com/oddsedge/ev-engine/internal/market"
	"github.com/oddsedge/ev-engine/internal/metrics"
	"github.com/oddsedge/ev-engine/internal/model"
	"github.com/oddsedge/ev-engine/internal/store"
)

// CalculateEVBatch runs the pipeline once per item against a single
// upstream fetch. The envelope is always returned: a failed fetch (or an
// empty payload) fans the same error out to every slot, and one item's
// failure never affects its siblings. Result order and indices match the
// request items exactly.
func (s *Service) CalculateEVBatch(ctx context.Context, req model.BatchRequest, fresh bool) *model.BatchResult {
	out := &model.BatchResult{
		OfferID:    req.OfferID,
		TotalItems: len(req.Items),
		Results:    make([]model.BatchItemResult, 0, len(req.Items)),
	}

	offers, err := s.fetcher.FetchOffers(ctx, req.OfferID)
	var fanout *Error
	if err != nil {
		metrics.UpstreamFetchesTotal.WithLabelValues("error").Inc()
		fanout = mapFetchError(err)
	} else {
		metrics.UpstreamFetchesTotal.WithLabelValues("success").Inc()
		if len(offers) == 0 {
			fanout = newError(CodeOfferNotFound, 404, "offer %q returned no markets", req.OfferID)
		}
	}
	if fanout != nil {
		for i := range req.Items {
			out.Results = append(out.Results, failedItem(i, fanout))
		}
		out.ErrorCount = len(req.Items)
		metrics.BatchItemsTotal.WithLabelValues("error").Add(float64(len(req.Items)))
		return out
	}

	for i, item := range req.Items {
		res, err := s.calculateItem(ctx, item.Request(req.OfferID), offers, fresh)
		if err != nil {
			out.Results = append(out.Results, failedItem(i, AsError(err)))
			out.ErrorCount++
			metrics.BatchItemsTotal.WithLabelValues("error").Inc()
			continue
		}
		out.Results = append(out.Results, model.BatchItemResult{
			Index:   i,
			Success: true,
			Result:  res,
		})
		out.SuccessCount++
		metrics.BatchItemsTotal.WithLabelValues("success").Inc()
	}
	return out
}

// calculateItem is the per-item pipeline against the pre-fetched offer
// set: result cache, participant resolution within the shared payload,
// then the same evaluate/finish path as a single request. No per-item
// upstream call is made.
func (s *Service) calculateItem(ctx context.Context, req model.EVRequest, offers []model.Offer, fresh bool) (*model.EVResult, error) {
	refs := store.NormalizeBooks(req.ReferenceBooks)
	sig := signatureFor(req, refs)

	if !fresh {
		if res, ok := s.results.GetResult(ctx, sig); ok {
			metrics.CacheRequestsTotal.WithLabelValues("result", "hit").Inc()
			return res, nil
		}
		metrics.CacheRequestsTotal.WithLabelValues("result", "miss").Inc()
	}

	offer, err := market.FindOfferForParticipant(offers, req.ParticipantID)
	if err != nil {
		return nil, newError(CodeParticipantNotFound, 404,
			"no offer for participant %q in offer %q", req.ParticipantID, req.OfferID)
	}
	s.offers.SetOffer(ctx, req.OfferID, req.ParticipantID, offer)

	res, err := s.evaluate(req, offer)
	if err != nil {
		return nil, err
	}
	s.finish(ctx, sig, req, res)
	return res, nil
}

func failedItem(index int, e *Error) model.BatchItemResult {
	return model.BatchItemResult{
		Index:   index,
		Success: false,
		Error:   &model.BatchItemError{Code: e.Code, Message: e.Message},
	}
}
