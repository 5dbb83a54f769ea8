package ev

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/oddsedge/ev-engine/internal/devig"
	"github.com/oddsedge/ev-engine/internal/model"
	"github.com/oddsedge/ev-engine/internal/provider"
	"github.com/oddsedge/ev-engine/internal/store"
)

// stubFetcher serves a canned payload and counts upstream calls.
type stubFetcher struct {
	offers []model.Offer
	err    error
	calls  int
}

func (f *stubFetcher) FetchOffers(_ context.Context, _ string) ([]model.Offer, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.offers, nil
}

func approx(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// fixtureOffers builds one Player Points offer for participant A at line
// 25.5. PINNACLE (the reference) shades the Over; DRAFTKINGS (the
// target) shades the Under, leaving its Over underpriced at +100.
func fixtureOffers() []model.Offer {
	quote := func(book, label, line string, odds float64, american string) model.Outcome {
		return model.Outcome{
			ID:         book + ":" + label,
			Sportsbook: book,
			Label:      label,
			Line:       line,
			Odds:       odds,
			American:   american,
		}
	}
	return []model.Offer{{
		ID:           "offer-1",
		Market:       "Player Points",
		Participants: []model.Participant{{ID: "A", Name: "Alex Carter"}},
		Sides: []model.Side{
			{Label: model.SideOver, Outcomes: []model.Outcome{
				quote("PINNACLE", model.SideOver, "25.5", 0.5454545454545454, "-120"),
				quote("DRAFTKINGS", model.SideOver, "25.5", 0.5, "+100"),
			}},
			{Label: model.SideUnder, Outcomes: []model.Outcome{
				quote("PINNACLE", model.SideUnder, "25.5", 0.5, "+100"),
				quote("DRAFTKINGS", model.SideUnder, "25.5", 0.5454545454545454, "-120"),
			}},
		},
	}}
}

func fixtureRequest() model.EVRequest {
	return model.EVRequest{
		OfferID:        "offer-1",
		ParticipantID:  "A",
		Line:           25.5,
		Side:           model.SideOver,
		Sportsbook:     "DRAFTKINGS",
		ReferenceBooks: []string{"PINNACLE"},
		Method:         string(devig.Multiplicative),
	}
}

func newTestService(f *stubFetcher) *Service {
	cache := store.NewMemoryCache()
	return NewService(f, cache, cache, nil, nil)
}

func requireEVError(t *testing.T, err error, code string, status int) *Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *ev.Error, got %T: %v", err, err)
	}
	if e.Code != code || e.Status != status {
		t.Fatalf("got code=%s status=%d, want code=%s status=%d (%s)", e.Code, e.Status, code, status, e.Message)
	}
	return e
}

func TestCalculateEV_Success(t *testing.T) {
	fetcher := &stubFetcher{offers: fixtureOffers()}
	svc := newTestService(fetcher)

	req := fixtureRequest()
	bankroll := decimal.NewFromInt(1000)
	req.Bankroll = &bankroll

	res, err := svc.CalculateEV(context.Background(), req, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Participant != "Alex Carter" || res.Market != "Player Points" {
		t.Errorf("offer metadata: got %q / %q", res.Participant, res.Market)
	}
	if res.Side != model.SideOver || res.Sportsbook != "DRAFTKINGS" || res.American != "+100" {
		t.Errorf("target quote: got %s %s %s", res.Sportsbook, res.Side, res.American)
	}
	// PINNACLE multiplicative devig of -120/+100: 12/23 on the Over.
	if !approx(res.TrueProbability, 12.0/23.0, 1e-12) {
		t.Errorf("trueProbability = %v, want %v", res.TrueProbability, 12.0/23.0)
	}
	if !approx(res.ImpliedProbability, 11.0/23.0, 1e-12) {
		t.Errorf("impliedProbability = %v, want %v", res.ImpliedProbability, 11.0/23.0)
	}
	// (12/23 * 2.0 - 1) * 100
	if !approx(res.EVPercent, 100.0/23.0, 1e-9) {
		t.Errorf("evPercent = %v, want %v", res.EVPercent, 100.0/23.0)
	}
	if len(res.ReferenceBooks) != 1 || res.ReferenceBooks[0] != "PINNACLE" {
		t.Errorf("referenceBooks = %v", res.ReferenceBooks)
	}
	if res.BestOdds == nil || res.BestOdds.Sportsbook != "DRAFTKINGS" {
		t.Errorf("bestOdds = %+v, want DRAFTKINGS +100", res.BestOdds)
	}

	if res.Kelly == nil {
		t.Fatal("bankroll was set, expected Kelly sizing")
	}
	if !approx(res.Kelly.Full, 1.0/23.0, 1e-9) {
		t.Errorf("kelly full = %v, want %v", res.Kelly.Full, 1.0/23.0)
	}
	if !approx(res.Kelly.Quarter, 0.25/23.0, 1e-9) {
		t.Errorf("kelly quarter = %v, want %v", res.Kelly.Quarter, 0.25/23.0)
	}
	if want := decimal.RequireFromString("10.87"); !res.Kelly.RecommendedBet.Equal(want) {
		t.Errorf("recommendedBet = %s, want %s", res.Kelly.RecommendedBet, want)
	}
	if want := decimal.RequireFromString("0.47"); !res.Kelly.ExpectedProfit.Equal(want) {
		t.Errorf("expectedProfit = %s, want %s", res.Kelly.ExpectedProfit, want)
	}
}

func TestCalculateEV_NoBankrollNoKelly(t *testing.T) {
	svc := newTestService(&stubFetcher{offers: fixtureOffers()})
	res, err := svc.CalculateEV(context.Background(), fixtureRequest(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Kelly != nil {
		t.Errorf("no bankroll given, Kelly must be nil: %+v", res.Kelly)
	}
}

func TestCalculateEV_ResultCacheHit(t *testing.T) {
	fetcher := &stubFetcher{offers: fixtureOffers()}
	svc := newTestService(fetcher)
	ctx := context.Background()

	first, err := svc.CalculateEV(ctx, fixtureRequest(), false)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := svc.CalculateEV(ctx, fixtureRequest(), false)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("second call must be served from cache, upstream calls = %d", fetcher.calls)
	}
	if second.EVPercent != first.EVPercent {
		t.Errorf("cached result diverged: %v vs %v", second.EVPercent, first.EVPercent)
	}
}

func TestCalculateEV_BookOrderSharesCacheSlot(t *testing.T) {
	offers := fixtureOffers()
	offers[0].Sides[0].Outcomes = append(offers[0].Sides[0].Outcomes,
		model.Outcome{Sportsbook: "CIRCA", Label: model.SideOver, Line: "25.5", Odds: 0.5454545454545454, American: "-120"})
	offers[0].Sides[1].Outcomes = append(offers[0].Sides[1].Outcomes,
		model.Outcome{Sportsbook: "CIRCA", Label: model.SideUnder, Line: "25.5", Odds: 0.5, American: "+100"})

	fetcher := &stubFetcher{offers: offers}
	svc := newTestService(fetcher)
	ctx := context.Background()

	req := fixtureRequest()
	req.ReferenceBooks = []string{"PINNACLE", "CIRCA"}
	if _, err := svc.CalculateEV(ctx, req, false); err != nil {
		t.Fatalf("first call: %v", err)
	}

	req.ReferenceBooks = []string{"CIRCA", "PINNACLE", "CIRCA"}
	if _, err := svc.CalculateEV(ctx, req, false); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("reordered books must hit the same cache slot, upstream calls = %d", fetcher.calls)
	}
}

func TestCalculateEV_FreshBypassesResultCache(t *testing.T) {
	fetcher := &stubFetcher{offers: fixtureOffers()}
	svc := newTestService(fetcher)
	ctx := context.Background()
	req := fixtureRequest()

	// Poison the result cache so a cache read would be visible.
	sig := signatureFor(req, store.NormalizeBooks(req.ReferenceBooks))
	svc.results.SetResult(ctx, sig, &model.EVResult{EVPercent: -999})

	res, err := svc.CalculateEV(ctx, req, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.EVPercent == -999 {
		t.Fatal("fresh=true must bypass the cached result")
	}

	// The recomputed value replaces the stale one.
	cached, ok := svc.results.GetResult(ctx, sig)
	if !ok || cached.EVPercent == -999 {
		t.Error("fresh recomputation must still be written back to the cache")
	}
}

func TestCalculateEV_OfferNotFound(t *testing.T) {
	svc := newTestService(&stubFetcher{err: provider.ErrOfferNotFound})
	_, err := svc.CalculateEV(context.Background(), fixtureRequest(), false)
	requireEVError(t, err, CodeOfferNotFound, 404)
}

func TestCalculateEV_ParticipantNotFound(t *testing.T) {
	svc := newTestService(&stubFetcher{offers: fixtureOffers()})
	req := fixtureRequest()
	req.ParticipantID = "ghost"
	_, err := svc.CalculateEV(context.Background(), req, false)
	requireEVError(t, err, CodeParticipantNotFound, 404)
}

func TestCalculateEV_UpstreamErrorPreservesStatus(t *testing.T) {
	svc := newTestService(&stubFetcher{err: &provider.UpstreamError{Status: 503, Message: "upstream unavailable"}})
	_, err := svc.CalculateEV(context.Background(), fixtureRequest(), false)
	e := requireEVError(t, err, CodeUpstreamError, 502)
	if e.UpstreamStatus != 503 {
		t.Errorf("upstreamStatus = %d, want 503", e.UpstreamStatus)
	}
}

func TestCalculateEV_NoReferenceOutcomes(t *testing.T) {
	offers := fixtureOffers()
	// Strip PINNACLE's Under so no candidate book is two-sided.
	offers[0].Sides[1].Outcomes = offers[0].Sides[1].Outcomes[1:]
	svc := newTestService(&stubFetcher{offers: offers})
	_, err := svc.CalculateEV(context.Background(), fixtureRequest(), false)
	requireEVError(t, err, CodeNoReferenceOutcomes, 409)
}

func TestCalculateEV_TargetNotFound(t *testing.T) {
	svc := newTestService(&stubFetcher{offers: fixtureOffers()})
	req := fixtureRequest()
	req.Sportsbook = "BETMGM"
	_, err := svc.CalculateEV(context.Background(), req, false)
	requireEVError(t, err, CodeTargetNotFound, 404)
}

func TestCalculateEV_TargetIncomplete(t *testing.T) {
	offers := fixtureOffers()
	// Strip DRAFTKINGS' Under so the target quotes one side only.
	offers[0].Sides[1].Outcomes = offers[0].Sides[1].Outcomes[:1]
	svc := newTestService(&stubFetcher{offers: offers})
	_, err := svc.CalculateEV(context.Background(), fixtureRequest(), false)
	requireEVError(t, err, CodeTargetIncomplete, 409)
}

func TestCalculateEV_InvalidTargetOdds(t *testing.T) {
	offers := fixtureOffers()
	offers[0].Sides[0].Outcomes[1].American = "EVEN"
	svc := newTestService(&stubFetcher{offers: offers})
	_, err := svc.CalculateEV(context.Background(), fixtureRequest(), false)
	requireEVError(t, err, CodeInvalidOdds, 422)
}

func TestCalculateEV_AllReferenceDevigsFail(t *testing.T) {
	offers := fixtureOffers()
	offers[0].Sides[0].Outcomes[0].Odds = 0 // PINNACLE Over
	svc := newTestService(&stubFetcher{offers: offers})
	_, err := svc.CalculateEV(context.Background(), fixtureRequest(), false)
	requireEVError(t, err, CodeDevigError, 422)
}

func TestCalculateEV_FailedReferenceBookExcluded(t *testing.T) {
	offers := fixtureOffers()
	offers[0].Sides[0].Outcomes = append(offers[0].Sides[0].Outcomes,
		model.Outcome{Sportsbook: "CIRCA", Label: model.SideOver, Line: "25.5", Odds: 0, American: "-120"})
	offers[0].Sides[1].Outcomes = append(offers[0].Sides[1].Outcomes,
		model.Outcome{Sportsbook: "CIRCA", Label: model.SideUnder, Line: "25.5", Odds: 0.5, American: "+100"})

	svc := newTestService(&stubFetcher{offers: offers})
	req := fixtureRequest()
	req.ReferenceBooks = []string{"PINNACLE", "CIRCA"}

	res, err := svc.CalculateEV(context.Background(), req, false)
	if err != nil {
		t.Fatalf("one failing book must not fail the calculation: %v", err)
	}
	if len(res.ReferenceBooks) != 1 || res.ReferenceBooks[0] != "PINNACLE" {
		t.Errorf("referenceBooks = %v, want only the surviving book", res.ReferenceBooks)
	}
	if !approx(res.TrueProbability, 12.0/23.0, 1e-12) {
		t.Errorf("trueProbability must come from survivors only: %v", res.TrueProbability)
	}
}

// --- Batch ---

func batchRequest(items ...model.BatchItem) model.BatchRequest {
	return model.BatchRequest{OfferID: "offer-1", Items: items}
}

func batchItem(side string) model.BatchItem {
	return model.BatchItem{
		ParticipantID:  "A",
		Line:           25.5,
		Side:           side,
		Sportsbook:     "DRAFTKINGS",
		ReferenceBooks: []string{"PINNACLE"},
		Method:         string(devig.Multiplicative),
	}
}

func TestCalculateEVBatch_AllSucceed(t *testing.T) {
	fetcher := &stubFetcher{offers: fixtureOffers()}
	svc := newTestService(fetcher)

	out := svc.CalculateEVBatch(context.Background(), batchRequest(batchItem(model.SideOver), batchItem(model.SideUnder)), false)

	if out.TotalItems != 2 || out.SuccessCount != 2 || out.ErrorCount != 0 {
		t.Fatalf("counts = %d/%d/%d, want 2/2/0", out.TotalItems, out.SuccessCount, out.ErrorCount)
	}
	if fetcher.calls != 1 {
		t.Errorf("batch must fetch once, got %d calls", fetcher.calls)
	}
	if out.Results[0].Index != 0 || out.Results[1].Index != 1 {
		t.Errorf("indices must be positional: %d, %d", out.Results[0].Index, out.Results[1].Index)
	}
	if out.Results[0].Result.Side != model.SideOver || out.Results[1].Result.Side != model.SideUnder {
		t.Errorf("results out of order: %s, %s", out.Results[0].Result.Side, out.Results[1].Result.Side)
	}
}

func TestCalculateEVBatch_ItemFailureIsIsolated(t *testing.T) {
	fetcher := &stubFetcher{offers: fixtureOffers()}
	svc := newTestService(fetcher)

	bad := batchItem(model.SideOver)
	bad.ParticipantID = "ghost"
	out := svc.CalculateEVBatch(context.Background(), batchRequest(bad, batchItem(model.SideOver)), false)

	if out.SuccessCount != 1 || out.ErrorCount != 1 {
		t.Fatalf("counts = %d/%d, want 1/1", out.SuccessCount, out.ErrorCount)
	}
	if out.SuccessCount+out.ErrorCount != out.TotalItems {
		t.Error("counts must partition the items")
	}
	if out.Results[0].Success || out.Results[0].Error == nil || out.Results[0].Error.Code != CodeParticipantNotFound {
		t.Errorf("slot 0: %+v", out.Results[0])
	}
	if !out.Results[1].Success || out.Results[1].Result == nil {
		t.Errorf("slot 1 must succeed despite slot 0: %+v", out.Results[1])
	}
	if fetcher.calls != 1 {
		t.Errorf("batch must fetch once, got %d calls", fetcher.calls)
	}
}

func TestCalculateEVBatch_FetchFailureFansOut(t *testing.T) {
	fetcher := &stubFetcher{err: &provider.UpstreamError{Status: 500, Message: "boom"}}
	svc := newTestService(fetcher)

	out := svc.CalculateEVBatch(context.Background(), batchRequest(batchItem(model.SideOver), batchItem(model.SideUnder)), false)

	if out.SuccessCount != 0 || out.ErrorCount != 2 {
		t.Fatalf("counts = %d/%d, want 0/2", out.SuccessCount, out.ErrorCount)
	}
	for i, r := range out.Results {
		if r.Success || r.Error == nil || r.Error.Code != CodeUpstreamError {
			t.Errorf("slot %d must carry the fetch error: %+v", i, r)
		}
	}
	if fetcher.calls != 1 {
		t.Errorf("failed fetch must not be retried per item, got %d calls", fetcher.calls)
	}
}

func TestCalculateEVBatch_EmptyPayloadFansOut(t *testing.T) {
	svc := newTestService(&stubFetcher{offers: nil})
	out := svc.CalculateEVBatch(context.Background(), batchRequest(batchItem(model.SideOver)), false)

	if out.ErrorCount != 1 {
		t.Fatalf("errorCount = %d, want 1", out.ErrorCount)
	}
	if out.Results[0].Error.Code != CodeOfferNotFound {
		t.Errorf("code = %s, want %s", out.Results[0].Error.Code, CodeOfferNotFound)
	}
}
