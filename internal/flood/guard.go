// Package flood suppresses rapid repeats of the same action.
package flood

import (
	"fmt"
	"sync"
	"time"
)

// DefaultCooldown between two executions of the same action
const DefaultCooldown = 5 * time.Second

// Window selects how the cooldown is measured
type Window int

const (
	// Sliding measures from the last check, suppressed or not. A steady
	// stream of repeats faster than the cooldown is suppressed indefinitely.
	Sliding Window = iota
	// Fixed measures from the last admitted execution
	Fixed
)

// ParseWindow maps "sliding" / "fixed" to a Window
func ParseWindow(s string) (Window, error) {
	switch s {
	case "", "sliding":
		return Sliding, nil
	case "fixed":
		return Fixed, nil
	default:
		return Sliding, fmt.Errorf("unknown flood window: %s", s)
	}
}

func (w Window) String() string {
	if w == Fixed {
		return "fixed"
	}
	return "sliding"
}

// State is the last action seen and when
type State struct {
	LastAction    string
	LastTimestamp time.Time
}

// Guard owns one State behind a mutex; check-and-update is atomic.
type Guard struct {
	mu       sync.Mutex
	state    State
	cooldown time.Duration
	window   Window

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
}

// NewGuard creates a guard. A non-positive cooldown falls back to DefaultCooldown.
func NewGuard(cooldown time.Duration, window Window) *Guard {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Guard{
		cooldown: cooldown,
		window:   window,
		nowFunc:  time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (g *Guard) SetNowFunc(fn func() time.Time) { g.nowFunc = fn }

// Check reports whether action must be suppressed, using the guard's cooldown
func (g *Guard) Check(action string) bool {
	return g.CheckWithin(action, g.Cooldown())
}

// CheckWithin reports whether action must be suppressed under cooldown and
// records the attempt.
func (g *Guard) CheckWithin(action string, cooldown time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	// time.Now carries a monotonic reading, so Sub is immune to wall clock jumps
	now := g.nowFunc()

	if action != g.state.LastAction {
		g.state = State{LastAction: action, LastTimestamp: now}
		return false
	}

	suppressed := now.Sub(g.state.LastTimestamp) < cooldown
	if !suppressed || g.window == Sliding {
		g.state.LastTimestamp = now
	}
	return suppressed
}

// Snapshot returns a copy of the current state
func (g *Guard) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Configure replaces cooldown and window. The recorded state is kept, so a
// repeat of the last action is still judged against its original timestamp.
func (g *Guard) Configure(cooldown time.Duration, window Window) {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cooldown = cooldown
	g.window = window
}

// Cooldown returns the configured cooldown
func (g *Guard) Cooldown() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cooldown
}

// Window returns the configured window mode
func (g *Guard) Window() Window {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.window
}
