package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	ActionSendMessage = "send_message"
	ActionHTTPRequest = "http_request"
)

// Rule is a token bucket: Every is the refill interval of one token.
type Rule struct {
	Every time.Duration
	Burst int
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one bucket per user and action.
type RateLimiter struct {
	rules    map[string]Rule
	fallback Rule
	buckets  map[string]*bucket
	mutex    sync.Mutex
}

func NewRateLimiter(rules map[string]Rule) *RateLimiter {
	return &RateLimiter{
		rules:    rules,
		fallback: Rule{Every: 3 * time.Second, Burst: 20},
		buckets:  make(map[string]*bucket),
	}
}

// PerMinute builds a rule allowing n actions per minute with the given burst.
func PerMinute(n, burst int) Rule {
	return Rule{Every: time.Minute / time.Duration(n), Burst: burst}
}

// Allow consumes a token for the user's action. When none is available it
// reports how long until the next one.
func (rl *RateLimiter) Allow(userID, action string) (bool, time.Duration) {
	key := userID + ":" + action
	now := time.Now()

	rl.mutex.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		rule, found := rl.rules[action]
		if !found {
			rule = rl.fallback
		}
		b = &bucket{limiter: rate.NewLimiter(rate.Every(rule.Every), rule.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.mutex.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Cleanup drops buckets idle for longer than idle.
func (rl *RateLimiter) Cleanup(idle time.Duration) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := time.Now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > idle {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanupRoutine prunes idle buckets every 30 minutes until stop is closed.
func (rl *RateLimiter) StartCleanupRoutine(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.Cleanup(time.Hour)
			case <-stop:
				return
			}
		}
	}()
}

func (rl *RateLimiter) size() int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	return len(rl.buckets)
}
