/**
 * @description
 * This file contains the PIX charge lifecycle for a single funnel session. The
 * `Controller` owns the active charge, the expiry countdown and the
 * regeneration rules: at most one gateway round trip is ever in flight, the
 * countdown resets whenever a fresh charge is installed, expiry triggers a
 * silent regeneration, and add-on selection changes regenerate after a short
 * quiet period so rapid toggling collapses into a single request.
 *
 * @dependencies
 * - internal/domain: the Charge model.
 * - internal/metrics: charge issuance counters.
 *
 * @notes
 * - A failed generation (including regeneration) discards the session state
 *   entirely rather than keeping a stale charge on screen.
 * - Payment verification is intentionally a stub that always reports the
 *   charge as unpaid. Settlement is owned by the gateway webhook flow.
 */

package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rbxrewards/funnel-service/internal/domain"
	"github.com/rbxrewards/funnel-service/internal/metrics"
)

// State is the charge lifecycle state of a session.
type State int

const (
	StateNoSession State = iota
	StateGenerating
	StateActive
	StateRegenerating
)

// String returns the wire name of the state.
func (s State) String() string {
	switch s {
	case StateGenerating:
		return "generating"
	case StateActive:
		return "active"
	case StateRegenerating:
		return "regenerating"
	default:
		return "no_session"
	}
}

// ErrControllerClosed is returned when operations are invoked after Close.
var ErrControllerClosed = errors.New("session controller is closed")

// ChargeIssuer performs the two-step gateway exchange: obtain a bearer token,
// then create a cash-in charge for the given amount.
type ChargeIssuer interface {
	Authenticate(ctx context.Context) (string, error)
	IssueCharge(ctx context.Context, token string, amountCentavos int64, description string) (*domain.Charge, error)
}

// Config carries the controller timings. Zero values fall back to production
// defaults; tests shrink them to milliseconds.
type Config struct {
	ExpirySeconds int           // countdown installed with each fresh charge
	TickInterval  time.Duration // countdown resolution
	DebounceQuiet time.Duration // quiet period before a selection change regenerates
	VerifyDelay   time.Duration // simulated gateway latency for payment verification
}

func (c Config) withDefaults() Config {
	if c.ExpirySeconds <= 0 {
		c.ExpirySeconds = 900
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.DebounceQuiet <= 0 {
		c.DebounceQuiet = time.Second
	}
	if c.VerifyDelay <= 0 {
		c.VerifyDelay = 5 * time.Second
	}
	return c
}

// Snapshot is a point-in-time view of the controller for API responses.
type Snapshot struct {
	State            string         `json:"state"`
	Charge           *domain.Charge `json:"charge,omitempty"`
	CountdownSeconds int            `json:"countdown_seconds"`
	LastError        string         `json:"last_error,omitempty"`
}

// Controller manages the PIX charge of one funnel session.
type Controller struct {
	cfg    Config
	issuer ChargeIssuer

	// amount and describe are read at the moment a round trip starts so a
	// regeneration always prices the current add-on selection.
	amount   func() int64
	describe func() string

	mu              sync.Mutex
	state           State
	charge          *domain.Charge
	countdown       int
	lastErr         error
	inFlight        bool
	firstChargeDone bool
	onFirstCharge   func(charge *domain.Charge, amountCentavos int64)
	debounce        *time.Timer
	stopTick        chan struct{}
	closed          bool
}

// NewController creates an idle controller. amount and describe must be safe
// to call from the controller's background goroutines.
func NewController(issuer ChargeIssuer, amount func() int64, describe func() string, cfg Config) *Controller {
	return &Controller{
		cfg:      cfg.withDefaults(),
		issuer:   issuer,
		amount:   amount,
		describe: describe,
		state:    StateNoSession,
	}
}

// SetOnFirstCharge registers a hook invoked exactly once, after the first
// charge of the session is installed. Used to persist the order record.
func (c *Controller) SetOnFirstCharge(fn func(charge *domain.Charge, amountCentavos int64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFirstCharge = fn
}

// Generate requests the initial charge for the session. If a round trip is
// already running the call is dropped.
func (c *Controller) Generate(ctx context.Context) error {
	return c.issue(ctx, false)
}

// Regenerate replaces the active charge with a fresh one priced off the
// current selection. Same single-flight rules as Generate.
func (c *Controller) Regenerate(ctx context.Context) error {
	return c.issue(ctx, true)
}

func (c *Controller) issue(ctx context.Context, regenerating bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	if c.inFlight {
		c.mu.Unlock()
		log.Printf("level=info component=session_controller msg=\"charge request dropped, one already in flight\" regenerating=%t", regenerating)
		return nil
	}
	c.inFlight = true
	if regenerating {
		c.state = StateRegenerating
	} else {
		c.state = StateGenerating
	}
	amount := c.amount()
	description := c.describe()
	c.mu.Unlock()

	charge, err := c.roundTrip(ctx, amount, description)

	c.mu.Lock()
	c.inFlight = false
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	if err != nil {
		c.state = StateNoSession
		c.charge = nil
		c.countdown = 0
		c.lastErr = err
		c.stopCountdownLocked()
		c.mu.Unlock()
		metrics.ChargeFailures.Inc()
		log.Printf("level=warn component=session_controller msg=\"charge generation failed, session discarded\" regenerating=%t err=%v", regenerating, err)
		return err
	}

	c.charge = charge
	c.countdown = c.cfg.ExpirySeconds
	c.state = StateActive
	c.lastErr = nil
	c.startCountdownLocked()

	var hook func(*domain.Charge, int64)
	if !c.firstChargeDone && c.onFirstCharge != nil {
		c.firstChargeDone = true
		hook = c.onFirstCharge
	}
	c.mu.Unlock()

	metrics.ChargesCreated.Inc()
	log.Printf("level=info component=session_controller msg=\"charge installed\" transaction_id=%s amount_centavos=%d regenerating=%t", charge.Identifier, amount, regenerating)
	if hook != nil {
		hook(charge, amount)
	}
	return nil
}

func (c *Controller) roundTrip(ctx context.Context, amountCentavos int64, description string) (*domain.Charge, error) {
	token, err := c.issuer.Authenticate(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway authentication failed: %w", err)
	}
	charge, err := c.issuer.IssueCharge(ctx, token, amountCentavos, description)
	if err != nil {
		return nil, fmt.Errorf("charge creation failed: %w", err)
	}
	return charge, nil
}

func (c *Controller) startCountdownLocked() {
	if c.stopTick != nil {
		return
	}
	stop := make(chan struct{})
	c.stopTick = stop
	go c.runCountdown(stop)
}

func (c *Controller) stopCountdownLocked() {
	if c.stopTick != nil {
		close(c.stopTick)
		c.stopTick = nil
	}
}

func (c *Controller) runCountdown(stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.state != StateActive || c.charge == nil {
				c.mu.Unlock()
				continue
			}
			c.countdown--
			expired := c.countdown <= 0
			if expired {
				// Hold the display at a full window while the
				// replacement round trip runs.
				c.countdown = c.cfg.ExpirySeconds
			}
			c.mu.Unlock()
			if expired {
				log.Printf("level=info component=session_controller msg=\"charge expired, regenerating\"")
				go func() {
					_ = c.Regenerate(context.Background())
				}()
			}
		}
	}
}

// SelectionChanged notes that the add-on selection changed while a charge is
// on screen. Regeneration fires after the quiet period; each call restarts
// the clock so a burst of toggles yields one round trip.
func (c *Controller) SelectionChanged() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.charge == nil {
		return
	}
	if c.debounce != nil {
		c.debounce.Stop()
	}
	c.debounce = time.AfterFunc(c.cfg.DebounceQuiet, func() {
		_ = c.Regenerate(context.Background())
	})
}

// VerifyPayment simulates a settlement check against the gateway. It always
// reports the charge as unpaid after the configured delay.
func (c *Controller) VerifyPayment(ctx context.Context) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-time.After(c.cfg.VerifyDelay):
	}
	return false, nil
}

// Snapshot returns the current lifecycle view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		State:            c.state.String(),
		CountdownSeconds: c.countdown,
	}
	if c.charge != nil {
		copied := *c.charge
		snap.Charge = &copied
	}
	if c.lastErr != nil {
		snap.LastError = c.lastErr.Error()
	}
	return snap
}

// Close stops the countdown and any pending debounce. Further operations
// return ErrControllerClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.debounce != nil {
		c.debounce.Stop()
		c.debounce = nil
	}
	c.stopCountdownLocked()
	c.state = StateNoSession
	c.charge = nil
	c.countdown = 0
}
