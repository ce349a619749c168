package learner

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// signatureCacheSize bounds the number of distinct bundle signatures
// the Learner tracks a running signal mean for.
const signatureCacheSize = 1000

type cachedSignature struct {
	signal       float64
	observations int
}

// SignatureCache folds repeated observations of the same bundle
// (identical included spans, policy version, and policy hash, per
// store.BundleSignature) into a running mean signal, so one bundle
// served many times with mixed outcomes contributes one stable sample
// to optimization rather than one sample per repeat. Backed by a
// plain (non-expiring) LRU: every access is a write, so the standard
// insertion-order-refreshed-on-hit LRU eviction already keeps the most
// recently observed signatures resident.
type SignatureCache struct {
	cache *lru.Cache[string, *cachedSignature]
}

// NewSignatureCache returns a SignatureCache bounded to signatureCacheSize entries.
func NewSignatureCache() *SignatureCache {
	c, err := lru.New[string, *cachedSignature](signatureCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which
		// signatureCacheSize never is.
		panic(err)
	}
	return &SignatureCache{cache: c}
}

// Record folds signal into signature's running mean and returns the
// updated mean and observation count.
func (c *SignatureCache) Record(signature string, signal float64) (mean float64, observations int) {
	if existing, ok := c.cache.Get(signature); ok {
		existing.observations++
		existing.signal += (signal - existing.signal) / float64(existing.observations)
		c.cache.Add(signature, existing)
		return existing.signal, existing.observations
	}
	entry := &cachedSignature{signal: signal, observations: 1}
	c.cache.Add(signature, entry)
	return entry.signal, entry.observations
}

// Len reports the number of distinct signatures currently cached.
func (c *SignatureCache) Len() int {
	return c.cache.Len()
}
