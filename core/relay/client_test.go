package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sdrelay/sdrelay/core/infra/config"
)

func testTimeouts(defaultSec int64) *config.TimeoutsConfig {
	return &config.TimeoutsConfig{DefaultSec: defaultSec}
}

func TestClientPostForwardsPayload(t *testing.T) {
	var gotMethod, gotPath, gotCT string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath, gotCT = r.Method, r.URL.Path, r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"images":["aGk="],"info":"{}"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testTimeouts(5))
	spec := mustLookup(t, "txt2img")
	payload := json.RawMessage(`{"prompt":"a cat"}`)

	resp, err := c.Do(context.Background(), spec, payload)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/sdapi/v1/txt2img" {
		t.Fatalf("forwarded %s %s", gotMethod, gotPath)
	}
	if gotCT != "application/json" {
		t.Fatalf("content type %q", gotCT)
	}
	if string(gotBody) != string(payload) {
		t.Fatalf("payload altered in flight: %s", gotBody)
	}
	if resp.Status != http.StatusOK {
		t.Fatalf("status %d", resp.Status)
	}
}

func TestClientApplicationErrorIsNotATransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"CUDA out of memory"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testTimeouts(5))
	resp, err := c.Do(context.Background(), mustLookup(t, "txt2img"), json.RawMessage(`{"prompt":"x"}`))
	if err != nil {
		t.Fatalf("a 5xx must come back as a response, not an error: %v", err)
	}
	if resp.Status != http.StatusInternalServerError {
		t.Fatalf("status %d", resp.Status)
	}

	res := Normalize("job-1", resp)
	if res.Error == nil || res.Error.Kind != "upstream_error" {
		t.Fatalf("expected upstream_error, got %+v", res.Error)
	}
	if res.Error.UpstreamStatus != http.StatusInternalServerError {
		t.Fatalf("upstream status not preserved: %d", res.Error.UpstreamStatus)
	}
	if res.Error.Message != "CUDA out of memory" {
		t.Fatalf("upstream message not preserved: %q", res.Error.Message)
	}
}

func TestClientConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c := NewClient(base, testTimeouts(5))
	_, err := c.Do(context.Background(), mustLookup(t, "txt2img"), json.RawMessage(`{"prompt":"x"}`))
	if !errors.Is(err, ErrConnRefused) {
		t.Fatalf("expected ErrConnRefused, got %v", err)
	}
	if !errors.Is(err, ErrConnection) {
		t.Fatal("refusal must also classify as a connection error")
	}
}

func TestClientPostNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		// Kill the connection mid-request to simulate a crash during generation.
		hj, ok := w.(http.Hijacker)
		if !ok {
			t.Error("recorder does not support hijacking")
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testTimeouts(5))
	_, err := c.Do(context.Background(), mustLookup(t, "txt2img"), json.RawMessage(`{"prompt":"x"}`))
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("POST issued %d times, must be exactly once", hits.Load())
	}
}

func TestClientGetRetriedOnConnectionError(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 2 {
			hj := w.(http.Hijacker)
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.Write([]byte(`[{"name":"Euler a"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testTimeouts(10))
	resp, err := c.Do(context.Background(), mustLookup(t, "samplers"), nil)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Fatalf("status %d", resp.Status)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", hits.Load())
	}
}

func TestClientPerOperationTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(3 * time.Second)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testTimeouts(1))
	start := time.Now()
	_, err := c.Do(context.Background(), mustLookup(t, "txt2img"), json.RawMessage(`{"prompt":"x"}`))
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("expected timeout as connection error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
}

func TestClientEmptyPostBodyDefaultsToObject(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`null`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testTimeouts(5))
	if _, err := c.Do(context.Background(), mustLookup(t, "refresh-checkpoints"), nil); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if string(gotBody) != "{}" {
		t.Fatalf("empty POST body must default to {}, got %q", gotBody)
	}
}
