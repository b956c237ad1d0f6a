package workflow

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/geovista/aoi-gateway/internal/geom"
	"github.com/geovista/aoi-gateway/internal/indices"
)

type cacheEntry struct {
	dates     []time.Time
	expiresAt time.Time
}

// availabilityCache avoids re-querying the indices service when a user
// toggles the cloud-cover threshold back and forth over the same AOI.
type availabilityCache struct {
	lru *lru.Cache[string, cacheEntry]
	ttl time.Duration
}

func newAvailabilityCache(size int, ttl time.Duration) (*availabilityCache, error) {
	c, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &availabilityCache{lru: c, ttl: ttl}, nil
}

func (c *availabilityCache) get(key string) ([]time.Time, bool) {
	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.lru.Remove(key)
		return nil, false
	}
	return entry.dates, true
}

func (c *availabilityCache) put(key string, dates []time.Time) {
	c.lru.Add(key, cacheEntry{
		dates:     dates,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// availabilityKey hashes the AOI ring coordinates so the key stays
// short regardless of polygon size.
func availabilityKey(aoi geom.AOI, threshold int, endDate time.Time) string {
	h := xxhash.New()
	var buf [16]byte
	for _, pt := range aoi.Ring {
		binary.LittleEndian.PutUint64(buf[:8], math.Float64bits(pt[0]))
		binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(pt[1]))
		h.Write(buf[:])
	}
	return fmt.Sprintf("avail:%d:%s:%016x", threshold, endDate.Format(indices.DateFormat), h.Sum64())
}
