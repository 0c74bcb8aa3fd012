package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// SlidingWindowLimiter allows at most limit hits per key inside a rolling window.
type SlidingWindowLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
	stop   chan struct{}
	once   sync.Once
}

// NewSlidingWindowLimiter starts a background sweep of idle keys; call Close
// to stop it. A limit below 1 disables limiting.
func NewSlidingWindowLimiter(limit int, window time.Duration) *SlidingWindowLimiter {
	l := &SlidingWindowLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	go l.evictLoop()
	return l
}

func (l *SlidingWindowLimiter) Allow(key string) bool {
	if l.limit < 1 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	live := prune(l.hits[key], now.Add(-l.window))
	if len(live) >= l.limit {
		l.hits[key] = live
		return false
	}
	l.hits[key] = append(live, now)
	return true
}

func (l *SlidingWindowLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *SlidingWindowLimiter) evictLoop() {
	tick := time.NewTicker(time.Minute)
	defer tick.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-tick.C:
			l.evict()
		}
	}
}

func (l *SlidingWindowLimiter) evict() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.window)
	for k, times := range l.hits {
		if live := prune(times, cutoff); len(live) == 0 {
			delete(l.hits, k)
		} else {
			l.hits[k] = live
		}
	}
}

// prune drops timestamps at or before cutoff; times is kept in arrival order.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}

// RateLimit limits by client IP plus the matched route, so one noisy provider
// callback path does not starve another.
func RateLimit(limiter *SlidingWindowLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP() + "|" + c.FullPath()
		if !limiter.Allow(key) {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
