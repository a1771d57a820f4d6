package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTTL       = 10 * time.Minute
)

// callerLimits holds one token bucket per caller IP. A janitor sweeps
// buckets idle past limiterIdleTTL; Close stops it.
type callerLimits struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*callerBucket

	stop     chan struct{}
	stopOnce sync.Once
}

type callerBucket struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

func newCallerLimits(rps, burst int) *callerLimits {
	l := &callerLimits{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*callerBucket),
		stop:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

// allow takes one token from ip's bucket, creating it on first sight.
func (l *callerLimits) allow(ip string) bool {
	l.mu.Lock()
	b, ok := l.buckets[ip]
	if !ok {
		b = &callerBucket{bucket: rate.NewLimiter(l.rps, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	l.mu.Unlock()
	return b.bucket.Allow()
}

func (l *callerLimits) sweep() {
	t := time.NewTicker(limiterSweepInterval)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
			l.mu.Lock()
			for ip, b := range l.buckets {
				if time.Since(b.lastSeen) > limiterIdleTTL {
					delete(l.buckets, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Close stops the janitor. Idempotent.
func (l *callerLimits) Close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// middleware rejects callers over budget with 429 and a Retry-After hint.
func (l *callerLimits) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "RATE_LIMITED",
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
