package ratelimit

import (
	"fmt"
	log "github.com/sirupsen/logrus"
	"sync"
	"time"
)

// DefaultLimit is assumed per window when the API never reports its limit.
// Freelancehunt does not document one; 30 requests per minute is the conservative guess.
const DefaultLimit = 30

const (
	warningCooldown  = 5 * time.Second
	criticalCooldown = 10 * time.Second
)

type Config struct {
	MinRequestInterval time.Duration
	WarningThreshold   int
	CriticalThreshold  int
	// Window is the length of the upstream rolling window. Zero disables replenishment.
	Window time.Duration
}

type State struct {
	Limit         *int      `json:"limit,omitempty"`
	Remaining     *int      `json:"remaining,omitempty"`
	LastRequestAt time.Time `json:"last_request_at"`
	ObservedAt    time.Time `json:"observed_at"`
}

// Tracker keeps the current belief about the remaining request budget.
// It never performs I/O and never fails, it only advises callers.
type Tracker struct {
	mu    sync.Mutex
	cfg   Config
	state State
	now   func() time.Time
}

func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg, now: time.Now}
}

func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Observe applies server-reported hints. Missing hints leave the belief untouched.
func (t *Tracker) Observe(hints Hints) bool {
	if hints.IsEmpty() {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if hints.Limit != nil {
		t.state.Limit = intPtr(*hints.Limit)
	}
	if hints.Remaining != nil {
		t.state.Remaining = intPtr(max(*hints.Remaining, 0))
	}
	t.state.ObservedAt = t.now()

	log.Debugf("rate limit updated: %s", t.describeLocked())
	return true
}

// ObserveSuccess seeds the default budget after the first successful response
// if the server has not reported anything yet.
func (t *Tracker) ObserveSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.Limit != nil {
		return
	}

	t.state.Limit = intPtr(DefaultLimit)
	if t.state.Remaining == nil {
		t.state.Remaining = intPtr(DefaultLimit - 1)
		t.state.ObservedAt = t.now()
	}
	log.Debugf("using default rate limit values (%d requests per window)", DefaultLimit)
}

// MarkExhausted treats an HTTP 429 as ground truth: nothing remains in the window.
func (t *Tracker) MarkExhausted() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.Remaining = intPtr(0)
	t.state.ObservedAt = t.now()
}

// ShouldSkip reports whether the next request would exhaust the budget.
func (t *Tracker) ShouldSkip() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked()
	return t.state.Remaining != nil && *t.state.Remaining <= 1
}

// WaitDuration is how long the caller must wait before issuing the next request.
func (t *Tracker) WaitDuration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked()

	var wait time.Duration
	if !t.state.LastRequestAt.IsZero() {
		elapsed := t.now().Sub(t.state.LastRequestAt)
		if elapsed < t.cfg.MinRequestInterval {
			wait = t.cfg.MinRequestInterval - elapsed
		}
	}

	return wait + t.cooldownLocked()
}

func (t *Tracker) MarkRequest() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.LastRequestAt = t.now()
}

func (t *Tracker) Remaining() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked()
	if t.state.Remaining == nil {
		return 0, false
	}
	return *t.state.Remaining, true
}

func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	snapshot := t.state
	if snapshot.Limit != nil {
		snapshot.Limit = intPtr(*snapshot.Limit)
	}
	if snapshot.Remaining != nil {
		snapshot.Remaining = intPtr(*snapshot.Remaining)
	}
	return snapshot
}

func (t *Tracker) Restore(state State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state = state
	if state.Remaining != nil && *state.Remaining < 0 {
		t.state.Remaining = intPtr(0)
	}
}

// Status is a short human-readable budget summary.
func (t *Tracker) Status() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rolloverLocked()

	limit, remaining := t.state.Limit, t.state.Remaining
	switch {
	case limit != nil && remaining != nil:
		percentage := 0
		if *limit > 0 {
			percentage = *remaining * 100 / *limit
		}
		emoji := "🚫"
		if percentage > 50 {
			emoji = "✅"
		} else if percentage > 20 {
			emoji = "⚠️"
		}
		return fmt.Sprintf("%s %d/%d запитів (%d%%)", emoji, *remaining, *limit, percentage)
	case limit != nil:
		return fmt.Sprintf("Ліміт: %d запитів (залишок невідомий)", *limit)
	case remaining != nil:
		return fmt.Sprintf("Залишилось %d запитів (ліміт невідомий)", *remaining)
	default:
		return fmt.Sprintf("Використовуються стандартні ліміти API (%d запитів/хв)", DefaultLimit)
	}
}

func (t *Tracker) cooldownLocked() time.Duration {
	if t.state.Remaining == nil {
		return 0
	}

	remaining := *t.state.Remaining
	switch {
	case remaining < t.cfg.CriticalThreshold:
		return criticalCooldown
	case remaining < t.cfg.WarningThreshold:
		return warningCooldown
	default:
		return 0
	}
}

// rolloverLocked unlocks a small probe budget once a belief has gone unconfirmed for a whole window.
// The probe never exceeds CriticalThreshold, so cooldowns stay in force until the server reports again.
func (t *Tracker) rolloverLocked() {
	if t.cfg.Window <= 0 || t.state.Remaining == nil || t.state.ObservedAt.IsZero() {
		return
	}

	now := t.now()
	if now.Sub(t.state.ObservedAt) < t.cfg.Window {
		return
	}

	limit := DefaultLimit
	if t.state.Limit != nil {
		limit = *t.state.Limit
	}
	probe := max(min(limit-1, t.cfg.CriticalThreshold), 0)
	if probe > *t.state.Remaining {
		log.Infof("rate limit window elapsed, allowing %d probe requests", probe)
		t.state.Remaining = intPtr(probe)
	}
	t.state.ObservedAt = now
}

func (t *Tracker) describeLocked() string {
	describe := func(v *int) string {
		if v == nil {
			return "unknown"
		}
		return fmt.Sprint(*v)
	}
	return describe(t.state.Remaining) + "/" + describe(t.state.Limit)
}

func intPtr(v int) *int {
	return &v
}
