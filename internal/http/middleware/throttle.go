package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"bulksend/internal/auth"

	"golang.org/x/time/rate"
)

const throttleIdle = 30 * time.Minute

// Throttle limits each authenticated user to perMinute requests with a burst
// of the same size. It must run after auth.RequireAuth. perMinute <= 0
// disables it.
func Throttle(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	t := &throttle{
		every:    time.Minute / time.Duration(perMinute),
		burst:    perMinute,
		limiters: make(map[uint64]*userLimiter),
	}
	return t.middleware
}

type userLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type throttle struct {
	every time.Duration
	burst int

	mu        sync.Mutex
	limiters  map[uint64]*userLimiter
	lastSweep time.Time
}

func (t *throttle) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		lim := t.limiter(uid, time.Now())
		if !lim.Allow() {
			retry := int(t.every.Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *throttle) limiter(uid uint64, now time.Time) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	if now.Sub(t.lastSweep) > throttleIdle {
		for id, ul := range t.limiters {
			if now.Sub(ul.lastSeen) > throttleIdle {
				delete(t.limiters, id)
			}
		}
		t.lastSweep = now
	}

	ul, ok := t.limiters[uid]
	if !ok {
		ul = &userLimiter{lim: rate.NewLimiter(rate.Every(t.every), t.burst)}
		t.limiters[uid] = ul
	}
	ul.lastSeen = now
	return ul.lim
}
