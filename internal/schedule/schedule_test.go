package schedule_test

import (
	"context"
	"fmt"
	"runtime"
	"section-capture/internal/schedule"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/xerrors"
)

type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

func TestParse(t *testing.T) {
	type in struct {
		first string
	}

	type want struct {
		first time.Time
		err   bool
	}

	from := time.Date(2024, 1, 1, 10, 7, 30, 0, time.UTC)

	tests := []struct {
		name string
		in   in
		want want
	}{
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				"*/15 * * * *",
			},
			want{
				time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC),
				false,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				"0 9 * * *",
			},
			want{
				time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC),
				false,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				"* * * * * *",
			},
			want{
				time.Time{},
				true,
			},
		},
		{
			func() string {
				_, _, line, _ := runtime.Caller(1)
				return fmt.Sprintf("L%d", line)
			}(),
			in{
				"hourly",
			},
			want{
				time.Time{},
				true,
			},
		},
	}
	for _, tt := range tests {
		name := tt.name
		in := tt.in
		want := tt.want
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := schedule.Parse(in.first)
			if (err != nil) != want.err {
				t.Fatalf("unexpected error: %v", err)
			}
			if err != nil {
				return
			}
			if diff := cmp.Diff(want.first, got.Next(from)); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32

	done := make(chan error, 1)
	go func() {
		done <- schedule.NewRunner(every(10*time.Millisecond), logr.Discard()).Run(ctx, func(ctx context.Context, tick time.Time) error {
			if runs.Add(1) == 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
	if got := runs.Load(); got != 3 {
		t.Errorf("expected 3 runs, got %d", got)
	}
}

func TestRunNeverOverlaps(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var active atomic.Int32
	var overlapped atomic.Bool
	var runs atomic.Int32

	done := make(chan error, 1)
	go func() {
		done <- schedule.NewRunner(every(5*time.Millisecond), logr.Discard()).Run(ctx, func(ctx context.Context, tick time.Time) error {
			if active.Add(1) > 1 {
				overlapped.Store(true)
			}
			defer active.Add(-1)

			time.Sleep(30 * time.Millisecond)
			if runs.Add(1) == 3 {
				cancel()
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
	if overlapped.Load() {
		t.Error("expected sequential runs")
	}
	if got := runs.Load(); got != 3 {
		t.Errorf("expected 3 runs, got %d", got)
	}
}

func TestRunContinuesAfterFailure(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- schedule.NewRunner(every(5*time.Millisecond), logr.Discard()).Run(ctx, func(ctx context.Context, tick time.Time) error {
			if runs.Add(1) == 2 {
				cancel()
				return nil
			}
			return xerrors.New("navigation failed")
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop")
	}
	if got := runs.Load(); got != 2 {
		t.Errorf("expected 2 runs, got %d", got)
	}
}
