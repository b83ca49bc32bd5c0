package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pa-policy-engine/internal/domain"
)

// EvalCache is an in-process LRU of per-criterion evaluation statuses keyed
// by (policy, version, criterion, patient hash). Criterion evaluation is
// pure, so entries never go stale; the LRU only bounds memory.
type EvalCache struct {
	lru *lru.Cache[string, domain.EvaluationStatus]
}

// NewEvalCache creates an evaluation cache holding at most size entries.
func NewEvalCache(size int) (*EvalCache, error) {
	if size < 1 {
		size = 4096
	}
	inner, err := lru.New[string, domain.EvaluationStatus](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluation cache: %w", err)
	}
	return &EvalCache{lru: inner}, nil
}

// Get returns the cached status for the key.
func (c *EvalCache) Get(key string) (domain.EvaluationStatus, bool) {
	return c.lru.Get(key)
}

// Add stores the status under the key, evicting the least recently used
// entry when full.
func (c *EvalCache) Add(key string, status domain.EvaluationStatus) {
	c.lru.Add(key, status)
}

// Len returns the number of cached entries.
func (c *EvalCache) Len() int {
	return c.lru.Len()
}

// Purge drops all entries.
func (c *EvalCache) Purge() {
	c.lru.Purge()
}
