package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/deckforge/api/internal/repositories"
)

type stubCounterRepository struct {
	mu        sync.Mutex
	nextFn    func(context.Context, string, int64) (int64, error)
	nextCalls []counterCall
	value     int64
}

type counterCall struct {
	ID   string
	Step int64
}

func (s *stubCounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	s.mu.Lock()
	s.nextCalls = append(s.nextCalls, counterCall{ID: counterID, Step: step})
	if s.nextFn == nil {
		s.value += step
		v := s.value
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()
	return s.nextFn(ctx, counterID, step)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCounterServiceNextOrderIDFormats(t *testing.T) {
	repo := &stubCounterRepository{nextFn: func(context.Context, string, int64) (int64, error) {
		return 42, nil
	}}
	svc, err := NewCounterService(CounterServiceDeps{
		Repository: repo,
		Clock:      fixedClock(time.Date(2026, 6, 1, 12, 0, 0, 0, time.FixedZone("JST", 9*3600))),
	})
	if err != nil {
		t.Fatalf("new counter service: %v", err)
	}

	id, err := svc.NextOrderID(context.Background())
	if err != nil {
		t.Fatalf("next order id: %v", err)
	}
	if id != "#ORD-2026-00042" {
		t.Fatalf("unexpected order id %q", id)
	}
	if len(repo.nextCalls) != 1 || repo.nextCalls[0] != (counterCall{ID: "orders", Step: 1}) {
		t.Fatalf("unexpected repository calls %+v", repo.nextCalls)
	}
}

func TestCounterServiceUsesUTCYear(t *testing.T) {
	repo := &stubCounterRepository{}
	// 2026-12-31 23:30 in UTC-5 is already 2027 in UTC.
	clock := fixedClock(time.Date(2026, 12, 31, 23, 30, 0, 0, time.FixedZone("EST", -5*3600)))
	svc, _ := NewCounterService(CounterServiceDeps{Repository: repo, Clock: clock})

	id, err := svc.NextOrderID(context.Background())
	if err != nil {
		t.Fatalf("next order id: %v", err)
	}
	if id != "#ORD-2027-00001" {
		t.Fatalf("expected UTC year, got %q", id)
	}
}

func TestFormatOrderIDKeepsWideSequences(t *testing.T) {
	if got := FormatOrderID(2026, 1234567); got != "#ORD-2026-1234567" {
		t.Fatalf("unexpected id %q", got)
	}
}

func TestCounterServiceConcurrentIDsAreDistinct(t *testing.T) {
	repo := &stubCounterRepository{}
	svc, _ := NewCounterService(CounterServiceDeps{Repository: repo, Clock: fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))})

	const calls = 100
	ids := make(chan string, calls)
	var wg sync.WaitGroup
	for range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := svc.NextOrderID(context.Background())
			if err != nil {
				t.Errorf("next order id: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, calls)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != calls {
		t.Fatalf("expected %d ids, got %d", calls, len(seen))
	}
	for i := 1; i <= calls; i++ {
		if want := fmt.Sprintf("#ORD-2026-%05d", i); !seen[want] {
			t.Fatalf("missing %s in allocated ids", want)
		}
	}
}

func TestCounterServiceMapsErrors(t *testing.T) {
	invalid := &stubCounterRepository{nextFn: func(context.Context, string, int64) (int64, error) {
		return 0, repositories.NewCounterError("orders", repositories.CounterErrorInvalidInput, "bad step", nil)
	}}
	svc, _ := NewCounterService(CounterServiceDeps{Repository: invalid})
	if _, err := svc.NextOrderID(context.Background()); !errors.Is(err, ErrCounterInvalidInput) {
		t.Fatalf("expected ErrCounterInvalidInput, got %v", err)
	}

	down := &stubCounterRepository{nextFn: func(context.Context, string, int64) (int64, error) {
		return 0, errors.New("deadline exceeded")
	}}
	svc, _ = NewCounterService(CounterServiceDeps{Repository: down})
	if _, err := svc.NextOrderID(context.Background()); !errors.Is(err, ErrCounterUnavailable) {
		t.Fatalf("expected ErrCounterUnavailable, got %v", err)
	}
}

func TestNewCounterServiceRequiresRepository(t *testing.T) {
	if _, err := NewCounterService(CounterServiceDeps{}); err == nil {
		t.Fatalf("expected error without repository")
	}
}
