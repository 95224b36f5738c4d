package broker

import (
	"context"
	"testing"
	"time"
)

func TestGateWaitReleasedBySet(t *testing.T) {
	g := newGate()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait(context.Background())
	}()

	g.Set()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Set")
	}
}

func TestGateClearRearms(t *testing.T) {
	g := newGate()
	g.Set()
	g.Clear()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := g.Wait(ctx); err == nil {
		t.Fatal("Wait returned on a cleared gate")
	}

	// a later Set must release waiters again
	done := make(chan error, 1)
	go func() {
		done <- g.Wait(context.Background())
	}()
	g.Set()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after re-Set")
	}
}

func TestGateSetIdempotent(t *testing.T) {
	g := newGate()
	g.Set()
	g.Set() // must not panic on double close

	if !g.IsSet() {
		t.Fatal("gate not set")
	}
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("Wait on set gate returned %v", err)
	}
}
