package authflow

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultCooldown is the lockout after a confirmation or recovery email.
const DefaultCooldown = 60 * time.Second

// Cooldown allows one send per period. The period starts after a successful
// send rather than at the attempt.
type Cooldown struct {
	period time.Duration
	now    func() time.Time

	mu      sync.Mutex
	limiter *rate.Limiter
}

// NewCooldown creates an open Cooldown.
func NewCooldown(period time.Duration, now func() time.Time) *Cooldown {
	if period <= 0 {
		period = DefaultCooldown
	}
	if now == nil {
		now = time.Now
	}
	return &Cooldown{
		period:  period,
		now:     now,
		limiter: rate.NewLimiter(rate.Every(period), 1),
	}
}

// Start locks the cooldown for a full period from now.
func (c *Cooldown) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.limiter = rate.NewLimiter(rate.Every(c.period), 1)
	c.limiter.AllowN(now, 1)
}

// Reset opens the cooldown immediately.
func (c *Cooldown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiter = rate.NewLimiter(rate.Every(c.period), 1)
}

// Remaining is the time left before the next send is allowed.
func (c *Cooldown) Remaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	tokens := c.limiter.TokensAt(c.now())
	if tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tokens) * float64(c.period))
}

// RemainingSeconds rounds Remaining up to whole seconds.
func (c *Cooldown) RemainingSeconds() int {
	return int(math.Ceil(c.Remaining().Seconds()))
}
