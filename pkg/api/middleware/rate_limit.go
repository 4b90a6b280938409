package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client
type RateLimiter struct {
	clients map[string]*client
	mu      sync.Mutex

	requestsPerSecond rate.Limit
	burst             int
	idleTTL           time.Duration

	ticker *time.Ticker
	done   chan struct{}
	once   sync.Once
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter. Clients idle for ten minutes
// are forgotten.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		clients:           make(map[string]*client),
		requestsPerSecond: rate.Limit(requestsPerSecond),
		burst:             burst,
		idleTTL:           10 * time.Minute,
		ticker:            time.NewTicker(time.Minute),
		done:              make(chan struct{}),
	}

	go rl.cleanupClients()

	return rl
}

func (rl *RateLimiter) cleanupClients() {
	for {
		select {
		case now := <-rl.ticker.C:
			rl.evict(now)
		case <-rl.done:
			return
		}
	}
}

func (rl *RateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for id, c := range rl.clients {
		if now.Sub(c.lastSeen) > rl.idleTTL {
			delete(rl.clients, id)
		}
	}
}

// Stop stops the rate limiter cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() {
		rl.ticker.Stop()
		close(rl.done)
	})
}

// Clients returns the number of tracked clients
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *RateLimiter) allow(clientID string, now time.Time) bool {
	rl.mu.Lock()
	c, exists := rl.clients[clientID]
	if !exists {
		c = &client{limiter: rate.NewLimiter(rl.requestsPerSecond, rl.burst)}
		rl.clients[clientID] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// RateLimit returns a middleware that rate limits requests. Authenticated
// requests are keyed by user ID, others by client IP.
func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.ClientIP()
		if userID := c.GetString("user_id"); userID != "" {
			clientID = "user:" + userID
		}

		if !rl.allow(clientID, time.Now()) {
			AbortWithError(c, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
				"Too many requests. Please try again later.")
			return
		}

		c.Next()
	}
}
