package middleware

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int
}

// DefaultRateLimitConfig returns default rate limiting configuration
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         10,
	}
}

// RateLimit middleware for per-client token-bucket rate limiting.
// State is kept in process memory; a multi-instance deployment needs a
// shared store instead.
func RateLimit(next http.Handler) http.Handler {
	config := DefaultRateLimitConfig()
	limiter := NewTokenBucketLimiter(config.RequestsPerMinute, config.BurstSize)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := getClientIP(r)

		if !limiter.Allow(clientIP) {
			log.Warn().
				Str("client_ip", clientIP).
				Str("url", r.URL.String()).
				Msg("Rate limit exceeded")

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)

			errorResponse := map[string]interface{}{
				"error": map[string]interface{}{
					"code":    "RATE_LIMIT",
					"message": "Rate limit exceeded. Please try again later.",
				},
			}

			if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			}
			return
		}

		next.ServeHTTP(w, r)
	})
}

// getClientIP extracts the real client IP address
func getClientIP(r *http.Request) string {
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		if commaIndex := strings.IndexByte(forwardedFor, ','); commaIndex > 0 {
			return forwardedFor[:commaIndex]
		}
		return forwardedFor
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	return r.RemoteAddr
}

// TokenBucketLimiter is an in-memory per-client token bucket.
type TokenBucketLimiter struct {
	requestsPerMinute int
	burstSize         int

	mu      sync.Mutex
	clients map[string]*clientLimit
}

type clientLimit struct {
	tokens     int
	lastRefill time.Time
}

func NewTokenBucketLimiter(requestsPerMinute, burstSize int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		requestsPerMinute: requestsPerMinute,
		burstSize:         burstSize,
		clients:           make(map[string]*clientLimit),
	}
}

func (rl *TokenBucketLimiter) Allow(clientIP string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	client, exists := rl.clients[clientIP]
	if !exists {
		rl.pruneLocked(now)
		client = &clientLimit{
			tokens:     rl.burstSize,
			lastRefill: now,
		}
		rl.clients[clientIP] = client
	}

	timePassed := now.Sub(client.lastRefill)
	tokensToAdd := int(timePassed.Minutes() * float64(rl.requestsPerMinute))

	if tokensToAdd > 0 {
		client.tokens = min(client.tokens+tokensToAdd, rl.burstSize)
		client.lastRefill = now
	}

	if client.tokens > 0 {
		client.tokens--
		return true
	}

	return false
}

// pruneLocked drops clients idle long enough to have fully refilled.
// Caller holds the lock.
func (rl *TokenBucketLimiter) pruneLocked(now time.Time) {
	if len(rl.clients) < 10000 {
		return
	}
	for ip, client := range rl.clients {
		if now.Sub(client.lastRefill) > 10*time.Minute {
			delete(rl.clients, ip)
		}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
