package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/oddsedge/ev-engine/internal/model"
)

// MemoryCache implements OfferCache and ResultCache with in-process maps.
// Used for testing and for running without Redis (nothing survives a
// restart). It mirrors the Redis implementation's content-hash
// invalidation so the contract is testable without a Redis instance.
type MemoryCache struct {
	mu      sync.RWMutex
	offers  map[string][]byte
	hashes  map[string]string
	results map[string]*model.EVResult
	index   map[string][]string // offer+participant -> dependent result keys
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		offers:  make(map[string][]byte),
		hashes:  make(map[string]string),
		results: make(map[string]*model.EVResult),
		index:   make(map[string][]string),
	}
}

func (c *MemoryCache) GetOffer(_ context.Context, offerID, participantID string) (*model.Offer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, ok := c.offers[offerKey(offerID, participantID)]
	if !ok {
		return nil, false
	}
	var off model.Offer
	if err := json.Unmarshal(data, &off); err != nil {
		return nil, false
	}
	return &off, true
}

func (c *MemoryCache) SetOffer(_ context.Context, offerID, participantID string, offer *model.Offer) {
	data, err := json.Marshal(offer)
	if err != nil {
		return
	}
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	c.mu.Lock()
	defer c.mu.Unlock()

	hk := offerHashKey(offerID, participantID)
	if prev, ok := c.hashes[hk]; ok && prev != hash {
		idx := indexKey(offerID, participantID)
		for _, key := range c.index[idx] {
			delete(c.results, key)
		}
		delete(c.index, idx)
	}
	c.offers[offerKey(offerID, participantID)] = data
	c.hashes[hk] = hash
}

func (c *MemoryCache) GetResult(_ context.Context, sig Signature) (*model.EVResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	res, ok := c.results[sig.Key()]
	if !ok {
		return nil, false
	}
	copy := *res
	return &copy, true
}

func (c *MemoryCache) SetResult(_ context.Context, sig Signature, res *model.EVResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	copy := *res
	key := sig.Key()
	c.results[key] = &copy
	idx := sig.IndexKey()
	c.index[idx] = append(c.index[idx], key)
}
