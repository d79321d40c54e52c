package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rbxrewards/funnel-service/internal/domain"
	"github.com/rbxrewards/funnel-service/internal/funnel"
)

func testFactory() Factory {
	return func(id string) (*funnel.Sequencer, *Controller) {
		ctrl := NewController(&fakeIssuer{}, fixedAmount(999), fixedDescription(), testConfig())
		seq := funnel.NewSequencer(domain.DefaultCatalog(), nil, ctrl, funnel.Config{})
		return seq, ctrl
	}
}

func TestRegistryCreateAndGet(t *testing.T) {
	reg := NewRegistry(testFactory(), time.Minute)

	entry := reg.Create()
	if entry.ID == "" || entry.Funnel == nil || entry.Controller == nil {
		t.Fatalf("incomplete entry: %+v", entry)
	}

	got, ok := reg.Get(entry.ID)
	if !ok || got != entry {
		t.Fatal("created session must be retrievable")
	}
	if _, ok := reg.Get("bogus-id"); ok {
		t.Fatal("unknown id must miss")
	}
}

func TestRegistrySweepRemovesIdleSessions(t *testing.T) {
	reg := NewRegistry(testFactory(), 20*time.Millisecond)

	stale := reg.Create()
	time.Sleep(40 * time.Millisecond)
	fresh := reg.Create()

	reg.Sweep()
	if _, ok := reg.Get(stale.ID); ok {
		t.Fatal("idle session must be swept")
	}
	if _, ok := reg.Get(fresh.ID); !ok {
		t.Fatal("fresh session must survive the sweep")
	}
	if reg.Len() != 1 {
		t.Fatalf("expected one live session, got %d", reg.Len())
	}
}

func TestRegistryGetRefreshesIdleClock(t *testing.T) {
	reg := NewRegistry(testFactory(), 30*time.Millisecond)

	entry := reg.Create()
	for i := 0; i < 3; i++ {
		time.Sleep(15 * time.Millisecond)
		if _, ok := reg.Get(entry.ID); !ok {
			t.Fatal("touched session must stay registered")
		}
	}
	reg.Sweep()
	if reg.Len() != 1 {
		t.Fatal("recently touched session must not be swept")
	}
}

func TestRegistryRemoveClosesSession(t *testing.T) {
	reg := NewRegistry(testFactory(), time.Minute)

	entry := reg.Create()
	reg.Remove(entry.ID)
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", reg.Len())
	}
	if err := entry.Controller.Generate(context.Background()); !errors.Is(err, ErrControllerClosed) {
		t.Fatalf("removed session's controller must be closed, got %v", err)
	}
}
