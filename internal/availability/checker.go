// Package availability reports whether a candidate handle or email is free.
package availability

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"menuboard/internal/metrics"
	"menuboard/internal/tenant"
)

// DefaultDelay is the debounce interval between the last input and the lookup.
const DefaultDelay = 500 * time.Millisecond

// lookupTimeout bounds a single lookup.
const lookupTimeout = 5 * time.Second

// Status is the outcome of a check.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusChecking  Status = "checking"
	StatusAvailable Status = "available"
	StatusTaken     Status = "taken"
	StatusInvalid   Status = "invalid"
)

// Kind selects what a Checker validates.
type Kind string

const (
	KindHandle Kind = "handle"
	KindEmail  Kind = "email"
)

// ParseKind parses a kind name.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindHandle, KindEmail:
		return Kind(s), true
	}
	return "", false
}

// Result is the observable state of a Checker.
type Result struct {
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// LookupFunc reports whether value is already in use. value is lower-cased.
type LookupFunc func(ctx context.Context, value string) (taken bool, err error)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var errInvalidEmail = errors.New("invalid email format")

const (
	msgChecking       = "checking..."
	msgHandleTaken    = "this handle is already taken"
	msgHandleFree     = "this handle is available"
	msgEmailTaken     = "this email is already registered"
	msgEmailAvailable = "this email is available"
)

// Checker debounces availability lookups for one input field.
type Checker struct {
	kind   Kind
	lookup LookupFunc
	delay  time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	result Result
	gen    uint64
	timer  *time.Timer
	cancel context.CancelFunc
	closed bool
}

// New creates a Checker. A nil lookup leaves syntactically valid input idle.
func New(kind Kind, lookup LookupFunc, delay time.Duration, logger *slog.Logger) *Checker {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		kind:   kind,
		lookup: lookup,
		delay:  delay,
		logger: logger.With("component", "availability", "kind", string(kind)),
		result: Result{Status: StatusIdle},
	}
}

// Result returns the latest result.
func (c *Checker) Result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// Update supersedes any pending check with input and returns the immediate
// result. A lookup, if needed, runs after the debounce delay.
func (c *Checker) Update(input string) Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.supersedeLocked()
	if c.closed {
		return c.result
	}

	if strings.TrimSpace(input) == "" {
		c.result = Result{Status: StatusIdle}
		return c.result
	}

	if err := c.validate(input); err != nil {
		c.result = Result{Status: StatusInvalid, Message: err.Error()}
		return c.result
	}

	if c.lookup == nil {
		c.result = Result{Status: StatusIdle}
		return c.result
	}

	c.result = Result{Status: StatusChecking, Message: msgChecking}
	gen := c.gen
	value := strings.ToLower(input)
	c.timer = time.AfterFunc(c.delay, func() { c.check(gen, value) })

	return c.result
}

// Close cancels any pending check. Later updates are ignored.
func (c *Checker) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supersedeLocked()
	c.closed = true
}

func (c *Checker) supersedeLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Checker) validate(input string) error {
	switch c.kind {
	case KindHandle:
		return tenant.ValidateHandle(input)
	case KindEmail:
		if !emailPattern.MatchString(input) {
			return errInvalidEmail
		}
	}
	return nil
}

func (c *Checker) check(gen uint64, value string) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	taken, err := c.lookup(ctx, value)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.cancel = nil

	if err != nil {
		c.logger.Warn("availability lookup failed", "error", err)
		metrics.RecordAvailabilityLookup(string(c.kind), "error")
		c.result = Result{Status: StatusIdle}
		return
	}

	if taken {
		metrics.RecordAvailabilityLookup(string(c.kind), string(StatusTaken))
		c.result = Result{Status: StatusTaken, Message: c.takenMessage()}
		return
	}
	metrics.RecordAvailabilityLookup(string(c.kind), string(StatusAvailable))
	c.result = Result{Status: StatusAvailable, Message: c.availableMessage()}
}

func (c *Checker) takenMessage() string {
	if c.kind == KindEmail {
		return msgEmailTaken
	}
	return msgHandleTaken
}

func (c *Checker) availableMessage() string {
	if c.kind == KindEmail {
		return msgEmailAvailable
	}
	return msgHandleFree
}
