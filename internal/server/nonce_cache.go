package server

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedResponse is a rendered API response kept for replay
type CachedResponse struct {
	Nonce     string
	Status    int
	Body      []byte
	Timestamp time.Time
}

// NonceCache remembers responses per route scope so a retried request with
// the same X-Request-Nonce is answered without running the action again
type NonceCache struct {
	scopes     map[string]*lru.Cache[string, *CachedResponse]
	mutex      sync.RWMutex
	maxSize    int
	expiration time.Duration
	nowFunc    func() time.Time
}

// NewNonceCache creates a new nonce cache
func NewNonceCache(maxSize int, expiration time.Duration) *NonceCache {
	if maxSize <= 0 {
		maxSize = 50
	}
	if expiration <= 0 {
		expiration = time.Hour
	}

	return &NonceCache{
		scopes:     make(map[string]*lru.Cache[string, *CachedResponse]),
		maxSize:    maxSize,
		expiration: expiration,
		nowFunc:    time.Now,
	}
}

// SetNowFunc replaces the clock (tests)
func (nc *NonceCache) SetNowFunc(fn func() time.Time) { nc.nowFunc = fn }

func (nc *NonceCache) scopeCache(scope string) *lru.Cache[string, *CachedResponse] {
	nc.mutex.Lock()
	defer nc.mutex.Unlock()

	cache, exists := nc.scopes[scope]
	if !exists {
		cache, _ = lru.New[string, *CachedResponse](nc.maxSize)
		nc.scopes[scope] = cache
	}

	return cache
}

// Lookup returns the cached response for nonce in scope, if still fresh
func (nc *NonceCache) Lookup(scope, nonce string) (*CachedResponse, bool) {
	if nonce == "" {
		return nil, false
	}

	cache := nc.scopeCache(scope)

	cached, found := cache.Get(nonce)
	if !found {
		return nil, false
	}
	if nc.nowFunc().Sub(cached.Timestamp) > nc.expiration {
		cache.Remove(nonce)
		return nil, false
	}
	return cached, true
}

// Store keeps a rendered response for nonce in scope
func (nc *NonceCache) Store(scope, nonce string, status int, body []byte) {
	if nonce == "" {
		return
	}

	nc.scopeCache(scope).Add(nonce, &CachedResponse{
		Nonce:     nonce,
		Status:    status,
		Body:      body,
		Timestamp: nc.nowFunc(),
	})
}

// Len returns the number of cached nonces in scope
func (nc *NonceCache) Len(scope string) int {
	nc.mutex.RLock()
	cache, exists := nc.scopes[scope]
	nc.mutex.RUnlock()

	if !exists {
		return 0
	}
	return cache.Len()
}

// Prune drops expired entries and empty scopes, returning how many
// responses were removed
func (nc *NonceCache) Prune() int {
	nc.mutex.Lock()
	defer nc.mutex.Unlock()

	now := nc.nowFunc()
	expired := 0

	for scope, cache := range nc.scopes {
		for _, nonce := range cache.Keys() {
			if value, found := cache.Peek(nonce); found && now.Sub(value.Timestamp) > nc.expiration {
				cache.Remove(nonce)
				expired++
			}
		}
		if cache.Len() == 0 {
			delete(nc.scopes, scope)
		}
	}

	return expired
}
