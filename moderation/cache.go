/*
# Module: moderation/cache.go
TTL cache of filter decisions keyed by a fingerprint of text and banned terms.

## Linked Modules
- [moderation/filter](./filter.go) - Decision type stored in the cache

## Tags
moderation, cache, ttl

## Exports
DecisionCache, NewDecisionCache, Fingerprint

<!-- LinkedDoc RDF -->
@prefix code: <https://schema.codedoc.org/> .
<this> a code:Module ;
    code:name "moderation/cache.go" ;
    code:description "TTL cache of filter decisions keyed by a fingerprint of text and banned terms" ;
    code:exports :DecisionCache, :NewDecisionCache, :Fingerprint ;
    code:tags "moderation", "cache", "ttl" .
<!-- End LinkedDoc RDF -->
*/
package moderation

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Fingerprint hashes the exact text with the sorted term list
func Fingerprint(text string, terms []string) string {
	sorted := append([]string(nil), terms...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(text + "|" + strings.Join(sorted, ",")))
	return hex.EncodeToString(sum[:])
}

// DecisionCache memoizes decisions. Entries are stored by value and never
// mutated after Put.
type DecisionCache struct {
	items *gocache.Cache
}

// NewDecisionCache creates a cache whose entries live for ttl and are swept
// every sweep interval
func NewDecisionCache(ttl, sweep time.Duration) *DecisionCache {
	return &DecisionCache{items: gocache.New(ttl, sweep)}
}

// Get returns a cached decision
func (c *DecisionCache) Get(key string) (Decision, bool) {
	v, ok := c.items.Get(key)
	if !ok {
		return Decision{}, false
	}
	d, ok := v.(Decision)
	return d, ok
}

// Put stores a decision with the default TTL
func (c *DecisionCache) Put(key string, d Decision) {
	d.MatchedSpans = append([]string(nil), d.MatchedSpans...)
	c.items.Set(key, d, gocache.DefaultExpiration)
}

// Len returns the number of entries, expired ones awaiting the sweep included
func (c *DecisionCache) Len() int {
	return c.items.ItemCount()
}

// Clear drops every entry
func (c *DecisionCache) Clear() {
	c.items.Flush()
}
