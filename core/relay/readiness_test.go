package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitReadyEventuallySucceeds(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"sd_model_checkpoint":"v1-5"}`))
	}))
	defer srv.Close()

	p := NewProber(srv.URL, 10*time.Millisecond, time.Second)
	waited, err := p.WaitReady(context.Background())
	if err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	if waited <= 0 {
		t.Fatal("expected a non-zero wait before the service came up")
	}
	if !p.Ready() {
		t.Fatal("prober must cache readiness after first confirmation")
	}
}

func TestWaitReadyCachedSkipsProbing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProber(srv.URL, 10*time.Millisecond, time.Second)
	if _, err := p.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	before := p.Probes()

	waited, err := p.WaitReady(context.Background())
	if err != nil {
		t.Fatalf("second WaitReady: %v", err)
	}
	if waited != 0 {
		t.Fatalf("cached readiness must return instantly, waited %s", waited)
	}
	if p.Probes() != before {
		t.Fatalf("cached readiness must not probe again: %d -> %d", before, p.Probes())
	}
}

func TestWaitReadyBudgetExhausted(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProber(srv.URL, 10*time.Millisecond, 60*time.Millisecond)
	_, err := p.WaitReady(context.Background())
	if !errors.Is(err, ErrReadinessTimeout) {
		t.Fatalf("expected ErrReadinessTimeout, got %v", err)
	}
	if p.Ready() {
		t.Fatal("exhausted budget must not mark the prober ready")
	}

	// Exhaustion is non-terminal. Once the service answers, a fresh wait works.
	healthy.Store(true)
	if _, err := p.WaitReady(context.Background()); err != nil {
		t.Fatalf("fresh WaitReady after exhaustion: %v", err)
	}
	if !p.Ready() {
		t.Fatal("prober must be ready after a successful round")
	}
}

func TestWaitReadyContextCancelled(t *testing.T) {
	// Nothing listening here; probes fail until the caller gives up.
	p := NewProber("http://127.0.0.1:1", 10*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	_, err := p.WaitReady(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAwaitListeningIgnoresCachedFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProber(srv.URL, 10*time.Millisecond, time.Second)
	if _, err := p.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady: %v", err)
	}
	before := p.Probes()
	if _, err := p.AwaitListening(context.Background()); err != nil {
		t.Fatalf("AwaitListening: %v", err)
	}
	if p.Probes() <= before {
		t.Fatal("AwaitListening must issue fresh probes despite cached readiness")
	}
}
