package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/oddsedge/ev-engine/internal/model"
)

// HistoryStore records successful EV calculations in PostgreSQL for later
// review. Writes are issued best-effort by the orchestrator; read access
// is exposed through the history endpoint. Monetary columns are NUMERIC.
type HistoryStore struct {
	pool *pgxpool.Pool
}

// NewHistoryStore creates a PostgreSQL-backed history store.
func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// EVRecord is one persisted calculation.
type EVRecord struct {
	ID                 string           `json:"id"`
	OfferID            string           `json:"offerId"`
	ParticipantID      string           `json:"participantId"`
	Participant        string           `json:"participant"`
	Market             string           `json:"market"`
	Line               float64          `json:"line"`
	Side               string           `json:"side"`
	Sportsbook         string           `json:"sportsbook"`
	American           string           `json:"american"`
	TrueProbability    float64          `json:"trueProbability"`
	ImpliedProbability float64          `json:"impliedProbability"`
	EVPercent          float64          `json:"evPercent"`
	RecommendedBet     *decimal.Decimal `json:"recommendedBet,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`
}

// InitSchema creates the history table if it does not exist.
func (s *HistoryStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ev_history (
			id              TEXT PRIMARY KEY,
			offer_id        TEXT NOT NULL,
			participant_id  TEXT NOT NULL,
			participant     TEXT NOT NULL,
			market          TEXT NOT NULL,
			line            DOUBLE PRECISION NOT NULL,
			side            TEXT NOT NULL,
			sportsbook      TEXT NOT NULL,
			american        TEXT NOT NULL,
			true_prob       DOUBLE PRECISION NOT NULL,
			implied_prob    DOUBLE PRECISION NOT NULL,
			ev_percent      DOUBLE PRECISION NOT NULL,
			recommended_bet NUMERIC,
			created_at      TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("init ev_history schema: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS ev_history_offer_idx ON ev_history (offer_id, created_at DESC)`)
	return err
}

// InsertResult appends one calculation to the history.
func (s *HistoryStore) InsertResult(ctx context.Context, offerID, participantID string, res *model.EVResult) error {
	var bet *string
	if res.Kelly != nil {
		v := res.Kelly.RecommendedBet.String()
		bet = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ev_history
		   (id, offer_id, participant_id, participant, market, line, side,
		    sportsbook, american, true_prob, implied_prob, ev_percent,
		    recommended_bet, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::NUMERIC, $14)`,
		uuid.New().String(), offerID, participantID,
		res.Participant, res.Market, res.Line, res.Side,
		res.Sportsbook, res.American,
		res.TrueProbability, res.ImpliedProbability, res.EVPercent,
		bet, time.Now().UTC(),
	)
	return err
}

// ListByOffer returns the most recent calculations for one offer, newest
// first.
func (s *HistoryStore) ListByOffer(ctx context.Context, offerID string, limit int) ([]EVRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, offer_id, participant_id, participant, market, line, side,
		        sportsbook, american, true_prob, implied_prob, ev_percent,
		        recommended_bet::TEXT, created_at
		 FROM ev_history
		 WHERE offer_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, offerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EVRecord
	for rows.Next() {
		var r EVRecord
		var bet *string
		if err := rows.Scan(&r.ID, &r.OfferID, &r.ParticipantID, &r.Participant,
			&r.Market, &r.Line, &r.Side, &r.Sportsbook, &r.American,
			&r.TrueProbability, &r.ImpliedProbability, &r.EVPercent,
			&bet, &r.CreatedAt); err != nil {
			return nil, err
		}
		if bet != nil {
			if d, err := decimal.NewFromString(*bet); err == nil {
				r.RecommendedBet = &d
			}
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
