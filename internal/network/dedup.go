package network

import (
	"fmt"
	"net/netip"
	"strconv"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// dedupCache remembers recently dispatched reliable messages so retransmitted copies
// are acknowledged without being handed to the application twice. An evicted key
// falls back to at-least-once delivery.
type dedupCache struct {
	cache *ristretto.Cache[string, struct{}]
	ttl   time.Duration
}

func newDedupCache(ttl time.Duration) (*dedupCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters:        100000,
		MaxCost:            10000,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}
	return &dedupCache{cache: cache, ttl: ttl}, nil
}

func dedupKey(from netip.AddrPort, id uint32) string {
	return from.String() + "|" + strconv.FormatUint(uint64(id), 10)
}

func (d *dedupCache) seen(from netip.AddrPort, id uint32) bool {
	_, ok := d.cache.Get(dedupKey(from, id))
	return ok
}

func (d *dedupCache) mark(from netip.AddrPort, id uint32) {
	d.cache.SetWithTTL(dedupKey(from, id), struct{}{}, 1, d.ttl)
	d.cache.Wait()
}

func (d *dedupCache) close() {
	d.cache.Close()
}
