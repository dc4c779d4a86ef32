package fn

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestOkAndErr(t *testing.T) {
	ok := Ok(42)
	if !ok.IsOk() || ok.IsErr() {
		t.Fatal("Ok result misreports state")
	}
	if v, err := ok.Unwrap(); v != 42 || err != nil {
		t.Fatalf("Unwrap = (%v, %v)", v, err)
	}

	fail := Err[int](errors.New("boom"))
	if fail.IsOk() || !fail.IsErr() {
		t.Fatal("Err result misreports state")
	}
	if _, err := fail.Unwrap(); err == nil {
		t.Fatal("Err lost its error")
	}
}

func TestFromPair(t *testing.T) {
	if r := FromPair(7, nil); r.IsErr() {
		t.Fatal("nil error must produce Ok")
	}
	if r := FromPair(0, errors.New("boom")); r.IsOk() {
		t.Fatal("error must produce Err")
	}
}

func TestCollect(t *testing.T) {
	all := Collect([]Result[int]{Ok(1), Ok(2), Ok(3)})
	vals, err := all.Unwrap()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(vals) != 3 || vals[0] != 1 || vals[2] != 3 {
		t.Fatalf("Collect = %v", vals)
	}

	boom := errors.New("boom")
	bad := Collect([]Result[int]{Ok(1), Err[int](boom), Ok(3)})
	if _, err := bad.Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("Collect must surface the first error, got %v", err)
	}
}

func TestMap(t *testing.T) {
	got := Map([]int{1, 2, 3}, func(v int) int { return v * 2 })
	if len(got) != 3 || got[0] != 2 || got[2] != 6 {
		t.Fatalf("Map = %v", got)
	}
}

func TestChunk(t *testing.T) {
	got := Chunk([]int{1, 2, 3, 4, 5}, 2)
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3", len(got))
	}
	if len(got[2]) != 1 || got[2][0] != 5 {
		t.Fatalf("last chunk = %v", got[2])
	}
	if Chunk([]int{1}, 0) != nil {
		t.Fatal("n <= 0 must return nil")
	}
}

func TestParMapResult(t *testing.T) {
	results := ParMapResult([]int{1, 2, 3, 4}, 2, func(v int) Result[int] {
		return Ok(v * 10)
	})
	vals, err := Collect(results).Unwrap()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for i, v := range vals {
		if v != (i+1)*10 {
			t.Fatalf("order not preserved: %v", vals)
		}
	}
}

func TestParMapResultEmpty(t *testing.T) {
	if got := ParMapResult(nil, 0, func(int) Result[int] { return Ok(0) }); len(got) != 0 {
		t.Fatalf("empty input produced %d results", len(got))
	}
}

func TestFanOut(t *testing.T) {
	got := FanOut(
		func() int { return 1 },
		func() int { return 2 },
		func() int { return 3 },
	)
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("FanOut = %v", got)
	}
}

func TestRetrySucceedsAfterFailure(t *testing.T) {
	var calls atomic.Int64
	opts := RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond}

	r := Retry(context.Background(), opts, func(context.Context) Result[string] {
		if calls.Add(1) < 3 {
			return Err[string](errors.New("transient"))
		}
		return Ok("done")
	})
	v, err := r.Unwrap()
	if err != nil || v != "done" {
		t.Fatalf("Retry = (%q, %v)", v, err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestRetryExhausted(t *testing.T) {
	boom := errors.New("boom")
	opts := RetryOpts{MaxAttempts: 2, InitialWait: time.Millisecond, MaxWait: time.Millisecond}

	r := Retry(context.Background(), opts, func(context.Context) Result[int] {
		return Err[int](boom)
	})
	if _, err := r.Unwrap(); !errors.Is(err, boom) {
		t.Fatalf("expected last error, got %v", err)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts := RetryOpts{MaxAttempts: 5, InitialWait: time.Minute, MaxWait: time.Minute}

	r := Retry(ctx, opts, func(context.Context) Result[int] {
		return Err[int](errors.New("transient"))
	})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
