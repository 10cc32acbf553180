package compliance

import (
	"context"
	"testing"
	"time"
)

type mockRevalidator struct {
	calls chan struct{}
}

func (m *mockRevalidator) RevalidateAll(_ context.Context) (*RevalidationSummary, error) {
	m.calls <- struct{}{}
	return &RevalidationSummary{}, nil
}

func TestNewScheduler_InvalidSpec(t *testing.T) {
	if _, err := NewScheduler(&mockRevalidator{}, "every month", newTestLogger()); err == nil {
		t.Fatal("不正なcron式はエラーを返すべき")
	}
}

func TestNewScheduler_RejectsSecondsField(t *testing.T) {
	if _, err := NewScheduler(&mockRevalidator{}, "0 0 3 1 * *", newTestLogger()); err == nil {
		t.Fatal("6フィールドのcron式は受け付けない")
	}
}

func TestScheduler_StartStopsOnCancel(t *testing.T) {
	s, err := NewScheduler(&mockRevalidator{calls: make(chan struct{}, 1)}, "0 3 1 * *", newTestLogger())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start() がキャンセル後に終了しない")
	}
}

func TestScheduler_RunInvokesRevalidation(t *testing.T) {
	rv := &mockRevalidator{calls: make(chan struct{}, 1)}
	s, err := NewScheduler(rv, "0 3 1 * *", newTestLogger())
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	s.run()
	select {
	case <-rv.calls:
	default:
		t.Error("RevalidateAll が呼ばれていない")
	}
}
