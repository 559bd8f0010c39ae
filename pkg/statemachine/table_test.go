package statemachine_test

import (
	"context"
	"sync"
	"testing"

	"github.com/dmitrymomot/courier/pkg/statemachine"
)

const (
	Pending  = statemachine.StringState("pending")
	Running  = statemachine.StringState("running")
	Done     = statemachine.StringState("done")
	Retrying = statemachine.StringState("retrying")
	Dead     = statemachine.StringState("dead")

	Start  = statemachine.StringEvent("start")
	Finish = statemachine.StringEvent("finish")
	Fail   = statemachine.StringEvent("fail")
)

type attempts struct{ n, max int }

func canRetry(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	a, ok := data.(attempts)
	return ok && a.n < a.max
}

func newTable(t *testing.T) *statemachine.Table {
	t.Helper()
	table, err := statemachine.New(
		statemachine.WithTerminal(Done, Dead),
		statemachine.WithTransition(Pending, Running, Start),
		statemachine.WithTransition(Running, Done, Finish),
		statemachine.WithTransition(Running, Retrying, Fail, statemachine.WithGuard(canRetry)),
		statemachine.WithTransition(Running, Dead, Fail),
	)
	if err != nil {
		t.Fatalf("failed to build table: %v", err)
	}
	return table
}

func TestTable_Next(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	table := newTable(t)

	t.Run("simple transition", func(t *testing.T) {
		t.Parallel()
		next, err := table.Next(ctx, Pending, Start, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if next != Running {
			t.Fatalf("expected %s, got %s", Running, next)
		}
	})

	t.Run("guarded branch picks first passing transition", func(t *testing.T) {
		t.Parallel()
		next, err := table.Next(ctx, Running, Fail, attempts{n: 1, max: 3})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if next != Retrying {
			t.Fatalf("expected %s, got %s", Retrying, next)
		}

		next, err = table.Next(ctx, Running, Fail, attempts{n: 3, max: 3})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if next != Dead {
			t.Fatalf("expected %s, got %s", Dead, next)
		}
	})

	t.Run("no transition from terminal state", func(t *testing.T) {
		t.Parallel()
		_, err := table.Next(ctx, Done, Start, nil)
		if !statemachine.IsNoTransitionAvailableError(err) {
			t.Fatalf("expected no transition error, got %v", err)
		}
		if table.Can(ctx, Done, Finish, nil) {
			t.Fatal("terminal state must not accept events")
		}
	})

	t.Run("nil inputs", func(t *testing.T) {
		t.Parallel()
		if _, err := table.Next(ctx, nil, Start, nil); err != statemachine.ErrInvalidEvent {
			t.Fatalf("expected ErrInvalidEvent, got %v", err)
		}
	})
}

func TestTable_GuardRejection(t *testing.T) {
	t.Parallel()

	never := func(context.Context, statemachine.State, statemachine.Event, any) bool { return false }
	table := statemachine.MustNew(
		statemachine.WithTransition(Pending, Running, Start, statemachine.WithGuard(never)),
	)

	_, err := table.Next(context.Background(), Pending, Start, nil)
	if !statemachine.IsTransitionRejectedError(err) {
		t.Fatalf("expected rejected error, got %v", err)
	}
}

func TestTable_TerminalStatesRejectOutgoingTransitions(t *testing.T) {
	t.Parallel()

	_, err := statemachine.New(
		statemachine.WithTerminal(Done),
		statemachine.WithTransition(Done, Pending, Start),
	)
	if err == nil {
		t.Fatal("expected error when adding transition out of terminal state")
	}

	table := newTable(t)
	if !table.IsTerminal(Dead) || table.IsTerminal(Running) {
		t.Fatal("terminal flags mismatch")
	}
	if len(table.Events(Running)) != 2 {
		t.Fatalf("expected 2 events from running, got %v", table.Events(Running))
	}
}

func TestTable_ConcurrentLookups(t *testing.T) {
	t.Parallel()
	table := newTable(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := table.Next(ctx, Running, Fail, attempts{n: n % 4, max: 3}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
}
