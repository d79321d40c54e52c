/**
 * @description
 * In-memory registry of live funnel sessions. Each entry pairs a funnel
 * sequencer with its charge controller under a UUID the client carries
 * between requests. A cron janitor sweeps sessions that have gone idle so
 * abandoned funnels release their countdown goroutines and charges.
 *
 * @dependencies
 * - github.com/google/uuid: session identifiers.
 * - github.com/robfig/cron/v3: the idle sweep schedule.
 */

package session

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rbxrewards/funnel-service/internal/funnel"
)

// Entry is one live session.
type Entry struct {
	ID         string
	Funnel     *funnel.Sequencer
	Controller *Controller
	lastSeen   time.Time
}

// Factory builds the sequencer and controller pair for a new session.
type Factory func(id string) (*funnel.Sequencer, *Controller)

// Registry tracks live sessions and expires idle ones.
type Registry struct {
	mu      sync.Mutex
	factory Factory
	idleTTL time.Duration
	entries map[string]*Entry
	janitor *cron.Cron
}

// NewRegistry creates an empty registry. Sessions untouched for idleTTL are
// removed by the janitor.
func NewRegistry(factory Factory, idleTTL time.Duration) *Registry {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	return &Registry{
		factory: factory,
		idleTTL: idleTTL,
		entries: make(map[string]*Entry),
	}
}

// Create builds and registers a new session.
func (r *Registry) Create() *Entry {
	id := uuid.NewString()
	seq, ctrl := r.factory(id)
	entry := &Entry{ID: id, Funnel: seq, Controller: ctrl, lastSeen: time.Now()}

	r.mu.Lock()
	r.entries[id] = entry
	total := len(r.entries)
	r.mu.Unlock()

	log.Printf("level=info component=session_registry msg=\"session created\" session_id=%s live_sessions=%d", id, total)
	return entry
}

// Get returns the session and refreshes its idle clock.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if ok {
		entry.lastSeen = time.Now()
	}
	return entry, ok
}

// Remove drops a session and releases its resources.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if ok {
		entry.Controller.Close()
		entry.Funnel.Close()
	}
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// StartJanitor schedules the idle sweep.
func (r *Registry) StartJanitor() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.janitor != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc("@every 1m", r.Sweep); err != nil {
		return err
	}
	c.Start()
	r.janitor = c
	return nil
}

// StopJanitor stops the sweep schedule. Live sessions are left untouched.
func (r *Registry) StopJanitor() {
	r.mu.Lock()
	janitor := r.janitor
	r.janitor = nil
	r.mu.Unlock()
	if janitor != nil {
		janitor.Stop()
	}
}

// Sweep removes sessions idle beyond the TTL.
func (r *Registry) Sweep() {
	cutoff := time.Now().Add(-r.idleTTL)

	r.mu.Lock()
	var expired []*Entry
	for id, entry := range r.entries {
		if entry.lastSeen.Before(cutoff) {
			expired = append(expired, entry)
			delete(r.entries, id)
		}
	}
	remaining := len(r.entries)
	r.mu.Unlock()

	for _, entry := range expired {
		entry.Controller.Close()
		entry.Funnel.Close()
	}
	if len(expired) > 0 {
		log.Printf("level=info component=session_registry msg=\"idle sessions swept\" swept=%d live_sessions=%d", len(expired), remaining)
	}
}
