// Package model defines the core domain types shared across the EV engine.
// All monetary values use shopspring/decimal — never float64 for money.
// Probabilities and odds weights are float64; they are not money.
package model

import "github.com/shopspring/decimal"

// Side labels for two-sided totals markets. Case-sensitive.
const (
	SideOver  = "Over"
	SideUnder = "Under"
)

// Participant is the entity a market is about (e.g. a player).
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Outcome is one sportsbook's quote for one side of a market at one line.
//
// Odds is NOT decimal betting odds: it is the raw implied-probability
// weight (numerically 1/decimalOdds) consumed by the devig engine.
// Line carries the upstream string to preserve formatting; it is compared
// numerically, never byte-wise.
type Outcome struct {
	ID         string  `json:"id"`
	Sportsbook string  `json:"sportsbook"`
	Label      string  `json:"label"` // "Over" | "Under"
	Line       string  `json:"line"`
	Odds       float64 `json:"odds"`
	American   string  `json:"american"` // e.g. "-110", "+150"
	Display    string  `json:"display,omitempty"`
}

// Side groups every sportsbook's outcomes for one label of one offer.
type Side struct {
	Label    string    `json:"label"`
	Outcomes []Outcome `json:"outcomes"`
}

// Offer is one bettable market. Resolution keys off the first participant
// only; additional participants are ignored (stated precondition, not a
// multi-participant capability).
type Offer struct {
	ID           string        `json:"id"`
	Market       string        `json:"market"`
	Participants []Participant `json:"participants"`
	Sides        []Side        `json:"sides"`
}

// AllOutcomes returns the union of outcomes across every side of the offer.
func (o *Offer) AllOutcomes() []Outcome {
	var out []Outcome
	for _, s := range o.Sides {
		out = append(out, s.Outcomes...)
	}
	return out
}

// EVRequest is a single expected-value calculation request.
type EVRequest struct {
	OfferID        string           `json:"offerId"`
	ParticipantID  string           `json:"participantId"`
	Line           float64          `json:"line"`
	Side           string           `json:"side"`
	Sportsbook     string           `json:"sportsbook"` // target book
	ReferenceBooks []string         `json:"referenceBooks"`
	Method         string           `json:"method"`
	Bankroll       *decimal.Decimal `json:"bankroll,omitempty"` // enables Kelly sizing
}

// BatchItem is one entry of a batch request. The offer id comes from the
// enclosing BatchRequest.
type BatchItem struct {
	ParticipantID  string           `json:"participantId"`
	Line           float64          `json:"line"`
	Side           string           `json:"side"`
	Sportsbook     string           `json:"sportsbook"`
	ReferenceBooks []string         `json:"referenceBooks"`
	Method         string           `json:"method"`
	Bankroll       *decimal.Decimal `json:"bankroll,omitempty"`
}

// Request expands the item into a full EVRequest against the given offer.
func (it BatchItem) Request(offerID string) EVRequest {
	return EVRequest{
		OfferID:        offerID,
		ParticipantID:  it.ParticipantID,
		Line:           it.Line,
		Side:           it.Side,
		Sportsbook:     it.Sportsbook,
		ReferenceBooks: it.ReferenceBooks,
		Method:         it.Method,
		Bankroll:       it.Bankroll,
	}
}

// BatchRequest shares one offer across 1-10 items.
type BatchRequest struct {
	OfferID string      `json:"offerId"`
	Items   []BatchItem `json:"items"`
}

// KellySizing is the optional bet-sizing block of a result.
// Full and Quarter are bankroll fractions; the bet and profit are money.
type KellySizing struct {
	Full           float64         `json:"full"`
	Quarter        float64         `json:"quarter"`
	RecommendedBet decimal.Decimal `json:"recommendedBet"`
	ExpectedProfit decimal.Decimal `json:"expectedProfit"`
}

// BestOdds is the best available quote across all books for a line/side.
type BestOdds struct {
	Sportsbook string `json:"sportsbook"`
	American   string `json:"american"`
	Display    string `json:"display,omitempty"`
}

// EVResult is the outcome of one successful EV calculation.
// TrueProbability is the reference-book consensus after devigging;
// ImpliedProbability is the target book's own devigged probability.
type EVResult struct {
	Participant        string       `json:"participant"`
	Market             string       `json:"market"`
	Line               float64      `json:"line"`
	Side               string       `json:"side"`
	Sportsbook         string       `json:"sportsbook"`
	American           string       `json:"american"`
	TrueProbability    float64      `json:"trueProbability"`
	ImpliedProbability float64      `json:"impliedProbability"`
	EVPercent          float64      `json:"evPercent"`
	ReferenceBooks     []string     `json:"referenceBooks"` // books that contributed
	BestOdds           *BestOdds    `json:"bestOdds,omitempty"`
	Kelly              *KellySizing `json:"kelly,omitempty"`
}

// BatchItemError carries the failure detail for one batch slot.
type BatchItemError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BatchItemResult is one slot of a batch response, positionally indexed
// to the request items.
type BatchItemResult struct {
	Index   int             `json:"index"`
	Success bool            `json:"success"`
	Result  *EVResult       `json:"result,omitempty"`
	Error   *BatchItemError `json:"error,omitempty"`
}

// BatchResult is the always-successful batch envelope; failures live only
// inside the per-item slots.
type BatchResult struct {
	OfferID      string            `json:"offerId"`
	TotalItems   int               `json:"totalItems"`
	SuccessCount int               `json:"successCount"`
	ErrorCount   int               `json:"errorCount"`
	Results      []BatchItemResult `json:"results"`
}
