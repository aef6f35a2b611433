package http

import "time"

// rateLimiter bounds the number of inbound commands a single websocket
// connection may issue per minute. It is owned by the connection's read loop,
// so no locking is needed. A limit of zero disables it.
type rateLimiter struct {
	limit   int
	counter int
	window  time.Time
}

func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{limit: limit}
}

func (r *rateLimiter) allow() bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	now := time.Now()
	if r.window.IsZero() || now.Sub(r.window) >= time.Minute {
		r.window = now
		r.counter = 0
	}
	r.counter++
	return r.counter <= r.limit
}
