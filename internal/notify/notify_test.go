package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/keystone/domain"
)

type recorder struct {
	mu   sync.Mutex
	got  []domain.NotificationKind
	fail bool
}

func (r *recorder) Send(_ context.Context, kind domain.NotificationKind, _ string, _ map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, kind)
	if r.fail {
		return errors.New("smtp down")
	}
	return nil
}

func (r *recorder) kinds() []domain.NotificationKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.NotificationKind(nil), r.got...)
}

func TestDispatcherDeliversOnClose(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(Config{BufferSize: 8, Workers: 2, Timeout: time.Second}, rec, nil)

	_ = d.Send(context.Background(), domain.NotifyWelcome, "a@x.com", nil)
	_ = d.Send(context.Background(), domain.NotifyEmailVerification, "a@x.com", map[string]string{"token": "t"})
	d.Close()

	if got := rec.kinds(); len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %v", got)
	}
}

func TestDispatcherFailureIsSwallowedAndLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	rec := &recorder{fail: true}
	d := NewDispatcher(Config{BufferSize: 1, Workers: 1, Timeout: time.Second}, rec, logger)

	if err := d.Send(context.Background(), domain.NotifyPasswordReset, "a@x.com", nil); err != nil {
		t.Fatalf("Send must never fail, got %v", err)
	}
	d.Close()

	if d.Failed() != 1 {
		t.Fatalf("expected 1 failure, got %d", d.Failed())
	}
	if !strings.Contains(buf.String(), "notification delivery failed") {
		t.Fatalf("expected warning log, got %q", buf.String())
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	gate := make(chan struct{})
	blocking := domain.NotifierFunc(func(context.Context, domain.NotificationKind, string, map[string]string) error {
		<-gate
		return nil
	})
	d := NewDispatcher(Config{BufferSize: 1, Workers: 1, Timeout: time.Second}, blocking, nil)

	start := time.Now()
	for i := 0; i < 5; i++ {
		_ = d.Send(context.Background(), domain.NotifyWelcome, "a@x.com", nil)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("Send must not block")
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops with a full buffer")
	}
	close(gate)
	d.Close()
}

func TestNilDispatcherIsSafe(t *testing.T) {
	d := NewDispatcher(DefaultConfig(), nil, nil)
	if err := d.Send(context.Background(), domain.NotifyWelcome, "a@x.com", nil); err != nil {
		t.Fatalf("nil dispatcher Send: %v", err)
	}
	d.Close()
}

func TestLogNotifierKeepsDataAtDebug(t *testing.T) {
	var buf bytes.Buffer
	n := LogNotifier{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	_ = n.Send(context.Background(), domain.NotifyPasswordReset, "a@x.com", map[string]string{"token": "secret-token"})
	if strings.Contains(buf.String(), "secret-token") {
		t.Fatal("token must not be logged at info")
	}
	if !strings.Contains(buf.String(), "password_reset") {
		t.Fatal("expected kind in log")
	}
}
