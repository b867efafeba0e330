package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/ElicitPipe/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2030, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func sessionState(id string) (models.ConversationState, models.ConversationContext) {
	st := models.ConversationState{SessionID: id, Domain: "general", CurrentStage: models.StageIdeaClarity}
	cc := models.ConversationContext{SessionID: id, Domain: "general", Stage: models.StageIdeaClarity}
	return st, cc
}

func TestCreateGetUpdate(t *testing.T) {
	r := NewRegistry()
	st, cc := sessionState("s_a")
	if err := r.Create(st, cc); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Create(st, cc); !errors.Is(err, models.ErrSessionExists) {
		t.Errorf("expected ErrSessionExists, got %v", err)
	}

	snap, ok := r.Get("s_a")
	if !ok || snap.State.SessionID != "s_a" {
		t.Fatalf("expected cached session, got %+v, %v", snap, ok)
	}

	st.CurrentStage = models.StageUserWorkflow
	if err := r.Update(st, cc); err != nil {
		t.Fatalf("Update: %v", err)
	}
	snap, _ = r.Get("s_a")
	if snap.State.CurrentStage != models.StageUserWorkflow {
		t.Errorf("expected updated stage, got %s", snap.State.CurrentStage)
	}

	if _, ok := r.Get("s_missing"); ok {
		t.Error("expected miss for unknown session")
	}
	if r.Len() != 1 {
		t.Errorf("expected 1 session, got %d", r.Len())
	}
}

func TestCreateRejectsEmptyID(t *testing.T) {
	r := NewRegistry()
	if err := r.Create(models.ConversationState{}, models.ConversationContext{}); models.ErrorKindOf(err) != models.ErrorKindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	st, cc := sessionState("s_copy")
	r.Create(st, cc)
	snap, _ := r.Get("s_copy")
	snap.Context.History = append(snap.Context.History, models.ConversationExchange{Utterance: "x"})
	again, _ := r.Get("s_copy")
	if len(again.Context.History) != 0 {
		t.Error("mutating a snapshot must not change the registry")
	}
}

func TestSweepEvictsIdleAndExpired(t *testing.T) {
	clock := newClock()
	var evicted []EvictReason
	r := NewRegistry(
		WithClock(clock.Now),
		WithIdleTimeout(10*time.Minute),
		WithMaxLifetime(time.Hour),
		WithEvictCallback(func(id string, reason EvictReason) { evicted = append(evicted, reason) }),
	)

	idle, idleCtx := sessionState("s_idle")
	busy, busyCtx := sessionState("s_busy")
	r.Create(idle, idleCtx)
	r.Create(busy, busyCtx)

	clock.Advance(5 * time.Minute)
	r.WithSession("s_busy", func() error { return nil })
	clock.Advance(6 * time.Minute)

	if n := r.Sweep(); n != 1 {
		t.Fatalf("expected 1 idle eviction, got %d", n)
	}
	if _, ok := r.Get("s_idle"); ok {
		t.Error("idle session should be evicted")
	}
	if _, ok := r.Get("s_busy"); !ok {
		t.Error("recently active session should remain")
	}

	for i := 0; i < 6; i++ {
		clock.Advance(9 * time.Minute)
		r.WithSession("s_busy", func() error { return nil })
	}
	if n := r.Sweep(); n != 1 {
		t.Fatalf("expected lifetime eviction, got %d", n)
	}
	if len(evicted) != 2 || evicted[0] != EvictIdle || evicted[1] != EvictLifetime {
		t.Errorf("unexpected eviction reasons: %v", evicted)
	}
}

func TestSweepSkipsInFlightSession(t *testing.T) {
	clock := newClock()
	r := NewRegistry(WithClock(clock.Now), WithIdleTimeout(time.Minute))
	st, cc := sessionState("s_turn")
	r.Create(st, cc)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error)
	go func() {
		done <- r.WithSession("s_turn", func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	clock.Advance(time.Hour)
	if n := r.Sweep(); n != 0 {
		t.Errorf("sweep must not evict a session mid-turn, evicted %d", n)
	}
	if r.Evict("s_turn") {
		t.Error("Evict must not remove a session mid-turn")
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("WithSession: %v", err)
	}
	if !r.Evict("s_turn") {
		t.Error("expected Evict to succeed once the turn finished")
	}
}

func TestWithSessionSerializesSameSession(t *testing.T) {
	r := NewRegistry()
	var mu sync.Mutex
	active, maxActive := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.WithSession("s_same", func() error {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()
				time.Sleep(2 * time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Errorf("expected at most one concurrent turn per session, saw %d", maxActive)
	}
}

func TestWithSessionPropagatesError(t *testing.T) {
	r := NewRegistry()
	sentinel := errors.New("turn failed")
	if err := r.WithSession("s_err", func() error { return sentinel }); !errors.Is(err, sentinel) {
		t.Errorf("expected sentinel, got %v", err)
	}
}

func TestWithSessionDropsUnloadedEntry(t *testing.T) {
	r := NewRegistry()
	r.WithSession("s_unknown", func() error { return models.NewStateError("s_unknown", models.ErrSessionNotFound) })
	r.WithSession("s_noop", func() error { return nil })
	if r.Len() != 0 {
		t.Errorf("sessions never loaded must not stay cached, got %d", r.Len())
	}

	err := r.WithSession("s_new", func() error {
		st, cc := sessionState("s_new")
		return r.Update(st, cc)
	})
	if err != nil {
		t.Fatalf("WithSession: %v", err)
	}
	if _, ok := r.Get("s_new"); !ok || r.Len() != 1 {
		t.Errorf("session loaded inside WithSession should remain, len=%d", r.Len())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r := NewRegistry(WithSweepInterval(5 * time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	time.Sleep(15 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
