package memory

import (
	"context"
	"sort"
	"sync"
	"testing"
)

func TestCounterRepositoryConcurrentNextIsContiguous(t *testing.T) {
	repo := NewCounterRepository()
	const calls = 100

	values := make([]int64, calls)
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			v, err := repo.Next(context.Background(), "orders", 1)
			if err != nil {
				t.Errorf("next: %v", err)
				return
			}
			values[idx] = v
		}(i)
	}
	wg.Wait()

	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	for i, v := range values {
		if v != int64(i+1) {
			t.Fatalf("expected %d at %d, got %d", i+1, i, v)
		}
	}
}

func TestCounterRepositoryRejectsEmptyID(t *testing.T) {
	if _, err := NewCounterRepository().Next(context.Background(), "", 1); err == nil {
		t.Fatalf("expected error")
	}
}
