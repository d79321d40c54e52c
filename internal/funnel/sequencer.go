/**
 * @description
 * This file contains the staged progression of the giveaway funnel. The
 * `Sequencer` walks a session through username verification, profile
 * confirmation, package selection, the timed counting and transfer sequences,
 * the processing-fee interstitial and finally the PIX payment screen where
 * charge generation is handed to the payment session.
 *
 * @dependencies
 * - internal/domain: catalog, profile and selection models.
 * - internal/metrics: stage transition counters.
 *
 * @notes
 * - The counting and transfer sequences advance on a background goroutine so
 *   API reads observe the intermediate values a client polls for.
 * - Transfer progress deliberately halts at 80% until the processing fee is
 *   confirmed.
 */

package funnel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rbxrewards/funnel-service/internal/domain"
	"github.com/rbxrewards/funnel-service/internal/metrics"
)

// Stage identifies a funnel screen.
type Stage string

const (
	StageVerification Stage = "verification"
	StageProfile      Stage = "profile"
	StagePackages     Stage = "packages"
	StageCounting     Stage = "counting"
	StageTransfer     Stage = "transfer"
	StagePixPayment   Stage = "pix-payment"
)

const transferHoldPercent = 80

var (
	ErrInvalidStage     = errors.New("operation is not valid in the current stage")
	ErrUsernameRequired = errors.New("username is required")
	ErrUnknownPackage   = errors.New("unknown package")
	ErrUnknownAddOn     = errors.New("unknown add-on")
	ErrFeeNotPending    = errors.New("processing fee is not awaiting confirmation")
	ErrSequencerClosed  = errors.New("funnel sequencer is closed")
)

// Lookup resolves a Roblox username to a public profile.
type Lookup interface {
	Lookup(ctx context.Context, username string) (*domain.PlayerProfile, error)
}

// Payments is the slice of the charge lifecycle the funnel drives: generate
// the first charge on fee confirmation, and signal selection changes while
// the payment screen is up.
type Payments interface {
	Generate(ctx context.Context) error
	SelectionChanged()
}

// Config carries the animation timings. Zero values fall back to production
// defaults; tests shrink them.
type Config struct {
	CountingDuration  time.Duration // total time for the counting sequence
	CountingSteps     int           // number of counting increments
	PostCountingPause time.Duration // pause on the final count before the transfer starts
	TransferDuration  time.Duration // time for transfer progress to reach the hold point
	TransferSteps     int           // number of transfer increments up to the hold point
	FeeResumeStep     time.Duration // per-percent delay when resuming past the hold point
	VerifyPauses      []time.Duration
}

func (c Config) withDefaults() Config {
	if c.CountingDuration <= 0 {
		c.CountingDuration = 3 * time.Second
	}
	if c.CountingSteps <= 0 {
		c.CountingSteps = 60
	}
	if c.PostCountingPause <= 0 {
		c.PostCountingPause = 1500 * time.Millisecond
	}
	if c.TransferDuration <= 0 {
		c.TransferDuration = 4 * time.Second
	}
	if c.TransferSteps <= 0 {
		c.TransferSteps = 80
	}
	if c.FeeResumeStep <= 0 {
		c.FeeResumeStep = 20 * time.Millisecond
	}
	if c.VerifyPauses == nil {
		c.VerifyPauses = []time.Duration{800 * time.Millisecond, 600 * time.Millisecond, 500 * time.Millisecond}
	}
	return c
}

// Snapshot is a point-in-time view of the funnel for API responses.
type Snapshot struct {
	Stage            Stage                 `json:"stage"`
	Profile          *domain.PlayerProfile `json:"profile,omitempty"`
	Package          *domain.Package       `json:"package,omitempty"`
	SelectedAddOns   []string              `json:"selected_add_ons"`
	CountingValue    int                   `json:"counting_value"`
	TransferProgress int                   `json:"transfer_progress"`
	FeePending       bool                  `json:"fee_pending"`
	OrderReference   string                `json:"order_reference,omitempty"`
}

// Sequencer drives one session through the funnel stages.
type Sequencer struct {
	cfg     Config
	catalog domain.Catalog
	lookup  Lookup
	payment Payments

	mu               sync.Mutex
	stage            Stage
	verifying        bool
	confirming       bool
	profile          *domain.PlayerProfile
	pkg              *domain.Package
	selection        *domain.Selection
	countingValue    int
	transferProgress int
	feePending       bool
	orderRef         string
	animStop         chan struct{}
	closed           bool
}

// NewSequencer creates a funnel at the verification stage.
func NewSequencer(catalog domain.Catalog, lookup Lookup, payment Payments, cfg Config) *Sequencer {
	return &Sequencer{
		cfg:       cfg.withDefaults(),
		catalog:   catalog,
		lookup:    lookup,
		payment:   payment,
		stage:     StageVerification,
		selection: domain.NewSelection(),
	}
}

// Verify resolves the username and, on success, advances to the profile
// stage. The scripted pauses mirror the verification steps shown on screen.
// On lookup failure the funnel stays at verification so the user can retry.
func (s *Sequencer) Verify(ctx context.Context, username string) (*domain.PlayerProfile, error) {
	username = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(username), "@"))
	if username == "" {
		return nil, ErrUsernameRequired
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSequencerClosed
	}
	if s.stage != StageVerification {
		s.mu.Unlock()
		return nil, ErrInvalidStage
	}
	if s.verifying {
		s.mu.Unlock()
		log.Printf("level=info component=funnel msg=\"verification dropped, one already running\" username=%s", username)
		return nil, ErrInvalidStage
	}
	s.verifying = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.verifying = false
		s.mu.Unlock()
	}()

	if len(s.cfg.VerifyPauses) > 0 {
		if err := sleepCtx(ctx, s.cfg.VerifyPauses[0]); err != nil {
			return nil, err
		}
	}
	profile, err := s.lookup.Lookup(ctx, username)
	if err != nil {
		log.Printf("level=warn component=funnel msg=\"username verification failed\" username=%s err=%v", username, err)
		return nil, err
	}
	for _, pause := range s.cfg.VerifyPauses[1:] {
		if err := sleepCtx(ctx, pause); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.profile = profile
	s.stage = StageProfile
	s.mu.Unlock()
	metrics.StageTransitions.WithLabelValues(string(StageProfile)).Inc()
	log.Printf("level=info component=funnel msg=\"username verified\" username=%s user_id=%d", profile.Username, profile.ID)
	return profile, nil
}

// Continue confirms the resolved profile and advances to package selection.
func (s *Sequencer) Continue() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSequencerClosed
	}
	if s.stage != StageProfile {
		return ErrInvalidStage
	}
	s.stage = StagePackages
	metrics.StageTransitions.WithLabelValues(string(StagePackages)).Inc()
	return nil
}

// SelectPackage picks a catalog package and starts the counting sequence,
// which rolls into the transfer sequence on its own.
func (s *Sequencer) SelectPackage(robux int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSequencerClosed
	}
	if s.stage != StagePackages {
		return ErrInvalidStage
	}
	pkg, ok := s.catalog.PackageByRobux(robux)
	if !ok {
		return ErrUnknownPackage
	}
	s.pkg = &pkg
	s.stage = StageCounting
	s.countingValue = 0
	s.transferProgress = 0
	s.feePending = false
	stop := make(chan struct{})
	s.animStop = stop
	metrics.StageTransitions.WithLabelValues(string(StageCounting)).Inc()
	go s.runTimedStages(stop, pkg.Robux)
	return nil
}

// runTimedStages plays out the counting and transfer sequences, stopping at
// the transfer hold point to await fee confirmation.
func (s *Sequencer) runTimedStages(stop chan struct{}, target int) {
	countStep := s.cfg.CountingDuration / time.Duration(s.cfg.CountingSteps)
	for i := 1; i <= s.cfg.CountingSteps; i++ {
		if !sleepStop(stop, countStep) {
			return
		}
		s.mu.Lock()
		s.countingValue = countingValue(i, s.cfg.CountingSteps, target)
		s.mu.Unlock()
	}
	if !sleepStop(stop, s.cfg.PostCountingPause) {
		return
	}

	s.mu.Lock()
	s.stage = StageTransfer
	s.mu.Unlock()
	metrics.StageTransitions.WithLabelValues(string(StageTransfer)).Inc()

	transferStep := s.cfg.TransferDuration / time.Duration(s.cfg.TransferSteps)
	for i := 1; i <= s.cfg.TransferSteps; i++ {
		if !sleepStop(stop, transferStep) {
			return
		}
		s.mu.Lock()
		s.transferProgress = i * transferHoldPercent / s.cfg.TransferSteps
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.transferProgress = transferHoldPercent
	s.feePending = true
	s.mu.Unlock()
	log.Printf("level=info component=funnel msg=\"transfer held for fee confirmation\" progress=%d", transferHoldPercent)
}

// ConfirmFee acknowledges the processing fee, plays the remaining transfer
// progress, assigns the order reference and hands off to charge generation.
// The funnel lands on the payment stage even if generation fails; the client
// retries from there.
func (s *Sequencer) ConfirmFee(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSequencerClosed
	}
	if s.stage != StageTransfer || !s.feePending {
		s.mu.Unlock()
		return ErrFeeNotPending
	}
	if s.confirming {
		s.mu.Unlock()
		return ErrFeeNotPending
	}
	s.confirming = true
	s.feePending = false
	s.mu.Unlock()

	for p := transferHoldPercent + 1; p <= 100; p++ {
		if err := sleepCtx(ctx, s.cfg.FeeResumeStep); err != nil {
			s.mu.Lock()
			s.confirming = false
			s.feePending = true
			s.mu.Unlock()
			return err
		}
		s.mu.Lock()
		s.transferProgress = p
		s.mu.Unlock()
	}

	reference := fmt.Sprintf("RBX-%d", 1000+rand.Intn(9000))
	s.mu.Lock()
	s.orderRef = reference
	s.stage = StagePixPayment
	s.confirming = false
	s.mu.Unlock()
	metrics.StageTransitions.WithLabelValues(string(StagePixPayment)).Inc()
	log.Printf("level=info component=funnel msg=\"transfer complete, payment screen up\" reference=%s", reference)

	if err := s.payment.Generate(ctx); err != nil {
		return fmt.Errorf("initial charge generation failed: %w", err)
	}
	return nil
}

// RetryPayment re-attempts charge generation from the payment stage.
func (s *Sequencer) RetryPayment(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSequencerClosed
	}
	if s.stage != StagePixPayment {
		s.mu.Unlock()
		return ErrInvalidStage
	}
	s.mu.Unlock()
	return s.payment.Generate(ctx)
}

// ToggleAddOn flips an add-on selection and reports the resulting state. On
// the payment stage the payment session is notified so the charge can be
// repriced.
func (s *Sequencer) ToggleAddOn(id string) (bool, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrSequencerClosed
	}
	if _, ok := s.catalog.AddOnByID(id); !ok {
		s.mu.Unlock()
		return false, ErrUnknownAddOn
	}
	selected := s.selection.Toggle(id)
	onPayment := s.stage == StagePixPayment
	s.mu.Unlock()

	if onPayment {
		s.payment.SelectionChanged()
	}
	return selected, nil
}

// SelectedAddOnIDs returns the current selection in stable order.
func (s *Sequencer) SelectedAddOnIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection.IDs()
}

// Username returns the verified username, empty before verification.
func (s *Sequencer) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profile == nil {
		return ""
	}
	return s.profile.Username
}

// SelectedPackage returns the chosen package, if any.
func (s *Sequencer) SelectedPackage() (domain.Package, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pkg == nil {
		return domain.Package{}, false
	}
	return *s.pkg, true
}

// OrderReference returns the display reference assigned on fee confirmation.
func (s *Sequencer) OrderReference() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderRef
}

// Snapshot returns the current funnel view.
func (s *Sequencer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Stage:            s.stage,
		SelectedAddOns:   s.selection.IDs(),
		CountingValue:    s.countingValue,
		TransferProgress: s.transferProgress,
		FeePending:       s.feePending,
		OrderReference:   s.orderRef,
	}
	if s.profile != nil {
		copied := *s.profile
		snap.Profile = &copied
	}
	if s.pkg != nil {
		copied := *s.pkg
		snap.Package = &copied
	}
	return snap
}

// Restart aborts any running sequence and returns the funnel to the
// verification stage with a clean slate.
func (s *Sequencer) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stopAnimationLocked()
	s.stage = StageVerification
	s.profile = nil
	s.pkg = nil
	s.selection = domain.NewSelection()
	s.countingValue = 0
	s.transferProgress = 0
	s.feePending = false
	s.orderRef = ""
	metrics.StageTransitions.WithLabelValues(string(StageVerification)).Inc()
}

// Close stops any running sequence. Further operations fail.
func (s *Sequencer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stopAnimationLocked()
}

func (s *Sequencer) stopAnimationLocked() {
	if s.animStop != nil {
		close(s.animStop)
		s.animStop = nil
	}
}

// countingValue interpolates the on-screen count toward the package size,
// clamped so the final step lands exactly on the target.
func countingValue(step, steps, target int) int {
	if step >= steps {
		return target
	}
	v := int(math.Round(float64(target) * float64(step) / float64(steps)))
	if v > target {
		v = target
	}
	return v
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// sleepStop waits d unless the stop channel closes first. Reports whether
// the sleep completed.
func sleepStop(stop chan struct{}, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stop:
		return false
	case <-timer.C:
		return true
	}
}
