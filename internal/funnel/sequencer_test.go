package funnel

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/rbxrewards/funnel-service/internal/domain"
)

type fakeLookup struct {
	err     error
	profile *domain.PlayerProfile
	gotName string
}

func (f *fakeLookup) Lookup(ctx context.Context, username string) (*domain.PlayerProfile, error) {
	f.gotName = username
	if f.err != nil {
		return nil, f.err
	}
	return f.profile, nil
}

type fakePayments struct {
	mu            sync.Mutex
	generateCalls int
	changeCalls   int
	generateErr   error
}

func (f *fakePayments) Generate(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateCalls++
	return f.generateErr
}

func (f *fakePayments) SelectionChanged() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changeCalls++
}

func (f *fakePayments) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generateCalls, f.changeCalls
}

func testConfig() Config {
	return Config{
		CountingDuration:  60 * time.Millisecond,
		CountingSteps:     6,
		PostCountingPause: 20 * time.Millisecond,
		TransferDuration:  80 * time.Millisecond,
		TransferSteps:     8,
		FeeResumeStep:     time.Millisecond,
		VerifyPauses:      []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond},
	}
}

func builderman() *domain.PlayerProfile {
	return &domain.PlayerProfile{ID: 156, Username: "builderman", DisplayName: "builderman"}
}

func newTestSequencer(lookup Lookup, payments Payments) *Sequencer {
	return NewSequencer(domain.DefaultCatalog(), lookup, payments, testConfig())
}

func waitForStage(t *testing.T, s *Sequencer, stage Stage) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Snapshot().Stage == stage {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("funnel never reached stage %q, stuck at %q", stage, s.Snapshot().Stage)
}

func waitForFeePending(t *testing.T, s *Sequencer) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if snap := s.Snapshot(); snap.FeePending {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("transfer never held for fee confirmation")
}

func TestFullProgressionThroughPayment(t *testing.T) {
	lookup := &fakeLookup{profile: builderman()}
	payments := &fakePayments{}
	seq := newTestSequencer(lookup, payments)
	defer seq.Close()
	ctx := context.Background()

	profile, err := seq.Verify(ctx, "@builderman ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lookup.gotName != "builderman" {
		t.Fatalf("username must be cleaned before lookup, got %q", lookup.gotName)
	}
	if profile.Username != "builderman" || seq.Snapshot().Stage != StageProfile {
		t.Fatalf("expected profile stage after verification, got %+v", seq.Snapshot())
	}

	if err := seq.Continue(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := seq.SelectPackage(800); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForStage(t, seq, StageTransfer)
	waitForFeePending(t, seq)

	snap := seq.Snapshot()
	if snap.CountingValue != 800 {
		t.Fatalf("counting must land on the package size, got %d", snap.CountingValue)
	}
	if snap.TransferProgress != 80 {
		t.Fatalf("transfer must hold at 80, got %d", snap.TransferProgress)
	}

	if err := seq.ConfirmFee(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap = seq.Snapshot()
	if snap.Stage != StagePixPayment || snap.TransferProgress != 100 {
		t.Fatalf("expected completed transfer on the payment stage, got %+v", snap)
	}
	if !regexp.MustCompile(`^RBX-\d{4}$`).MatchString(snap.OrderReference) {
		t.Fatalf("bad order reference %q", snap.OrderReference)
	}
	if generates, _ := payments.counts(); generates != 1 {
		t.Fatalf("fee confirmation must generate exactly one charge, got %d", generates)
	}
}

func TestVerifyFailureStaysAtVerification(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("user not found")}
	seq := newTestSequencer(lookup, &fakePayments{})
	defer seq.Close()

	if _, err := seq.Verify(context.Background(), "nosuchuser"); err == nil {
		t.Fatal("expected lookup failure to surface")
	}
	if seq.Snapshot().Stage != StageVerification {
		t.Fatalf("failed verification must not advance, got %q", seq.Snapshot().Stage)
	}

	// A retry with a working lookup proceeds.
	lookup.err = nil
	lookup.profile = builderman()
	if _, err := seq.Verify(context.Background(), "builderman"); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
}

func TestOperationsRejectedOutOfStage(t *testing.T) {
	seq := newTestSequencer(&fakeLookup{profile: builderman()}, &fakePayments{})
	defer seq.Close()

	if err := seq.Continue(); !errors.Is(err, ErrInvalidStage) {
		t.Fatalf("continue before verification must fail, got %v", err)
	}
	if err := seq.SelectPackage(800); !errors.Is(err, ErrInvalidStage) {
		t.Fatalf("package selection before verification must fail, got %v", err)
	}
	if err := seq.ConfirmFee(context.Background()); !errors.Is(err, ErrFeeNotPending) {
		t.Fatalf("fee confirmation without a held transfer must fail, got %v", err)
	}
	if _, err := seq.Verify(context.Background(), "   "); !errors.Is(err, ErrUsernameRequired) {
		t.Fatalf("blank username must fail, got %v", err)
	}
}

func TestSelectPackageRejectsUnknownTier(t *testing.T) {
	seq := newTestSequencer(&fakeLookup{profile: builderman()}, &fakePayments{})
	defer seq.Close()
	ctx := context.Background()

	if _, err := seq.Verify(ctx, "builderman"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := seq.Continue(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := seq.SelectPackage(1234); !errors.Is(err, ErrUnknownPackage) {
		t.Fatalf("expected ErrUnknownPackage, got %v", err)
	}
}

func TestToggleAddOnNotifiesPaymentsOnlyOnPaymentStage(t *testing.T) {
	payments := &fakePayments{}
	seq := newTestSequencer(&fakeLookup{profile: builderman()}, payments)
	defer seq.Close()
	ctx := context.Background()

	if _, err := seq.ToggleAddOn("nope"); !errors.Is(err, ErrUnknownAddOn) {
		t.Fatalf("expected ErrUnknownAddOn, got %v", err)
	}

	selected, err := seq.ToggleAddOn("upsell2")
	if err != nil || !selected {
		t.Fatalf("expected add-on selected, got %v %v", selected, err)
	}
	if _, changes := payments.counts(); changes != 0 {
		t.Fatalf("toggles before the payment stage must not notify payments, got %d", changes)
	}

	if _, err := seq.Verify(ctx, "builderman"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := seq.Continue(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := seq.SelectPackage(800); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForFeePending(t, seq)
	if err := seq.ConfirmFee(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	selected, err = seq.ToggleAddOn("upsell2")
	if err != nil || selected {
		t.Fatalf("second toggle must deselect, got %v %v", selected, err)
	}
	if _, changes := payments.counts(); changes != 1 {
		t.Fatalf("payment-stage toggle must notify payments once, got %d", changes)
	}
	if ids := seq.SelectedAddOnIDs(); len(ids) != 0 {
		t.Fatalf("selection should be empty, got %v", ids)
	}
}

func TestConfirmFeeReachesPaymentEvenWhenGenerationFails(t *testing.T) {
	payments := &fakePayments{generateErr: errors.New("gateway down")}
	seq := newTestSequencer(&fakeLookup{profile: builderman()}, payments)
	defer seq.Close()
	ctx := context.Background()

	if _, err := seq.Verify(ctx, "builderman"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := seq.Continue(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := seq.SelectPackage(1700); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitForFeePending(t, seq)

	if err := seq.ConfirmFee(ctx); err == nil {
		t.Fatal("expected generation failure to surface")
	}
	if seq.Snapshot().Stage != StagePixPayment {
		t.Fatalf("funnel must land on the payment stage regardless, got %q", seq.Snapshot().Stage)
	}

	// The user retries from the payment screen once the gateway recovers.
	payments.mu.Lock()
	payments.generateErr = nil
	payments.mu.Unlock()
	if err := seq.RetryPayment(ctx); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
	if generates, _ := payments.counts(); generates != 2 {
		t.Fatalf("expected two generation attempts, got %d", generates)
	}
}

func TestRestartReturnsToVerification(t *testing.T) {
	seq := newTestSequencer(&fakeLookup{profile: builderman()}, &fakePayments{})
	defer seq.Close()
	ctx := context.Background()

	if _, err := seq.Verify(ctx, "builderman"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := seq.Continue(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := seq.SelectPackage(800); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := seq.ToggleAddOn("upsell1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seq.Restart()
	snap := seq.Snapshot()
	if snap.Stage != StageVerification || snap.Profile != nil || snap.Package != nil || len(snap.SelectedAddOns) != 0 {
		t.Fatalf("restart must reset the funnel, got %+v", snap)
	}
}

func TestCountingValueInterpolation(t *testing.T) {
	steps := 60
	target := 800
	prev := 0
	for i := 1; i <= steps; i++ {
		v := countingValue(i, steps, target)
		if v < prev {
			t.Fatalf("count went backwards at step %d: %d < %d", i, v, prev)
		}
		prev = v
	}
	if prev != target {
		t.Fatalf("count must finish on the target, got %d", prev)
	}
	if countingValue(steps+5, steps, target) != target {
		t.Fatalf("overshoot steps must clamp to the target")
	}
}
