package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"trendscan/internal/faults"
	"trendscan/internal/pipeline"

	"go.uber.org/zap"
)

type fakeRunner struct {
	mu      sync.Mutex
	dates   []string
	summary *pipeline.Summary
	err     error
	done    chan struct{}
}

func (f *fakeRunner) Run(_ context.Context, scanDate string) (*pipeline.Summary, error) {
	f.mu.Lock()
	f.dates = append(f.dates, scanDate)
	f.mu.Unlock()

	if f.done != nil {
		close(f.done)
	}

	return f.summary, f.err
}

func TestRunSynchronous(t *testing.T) {
	runner := &fakeRunner{summary: &pipeline.Summary{ScanDate: "2026-08-31", Outcome: pipeline.OutcomeDelivered, Delivered: 3}}
	srv := New(runner, zap.NewNop(), false)

	req := httptest.NewRequest(http.MethodPost, "/run?wait=1&date=2026-08-31", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var got pipeline.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.Outcome != pipeline.OutcomeDelivered || got.Delivered != 3 {
		t.Fatalf("unexpected summary: %+v", got)
	}
	if runner.dates[0] != "2026-08-31" {
		t.Fatalf("unexpected scan date: %s", runner.dates[0])
	}
}

func TestRunAsynchronousAcknowledges(t *testing.T) {
	runner := &fakeRunner{summary: &pipeline.Summary{}, done: make(chan struct{})}
	srv := New(runner, zap.NewNop(), false)

	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	select {
	case <-runner.done:
	case <-time.After(time.Second):
		t.Fatalf("expected background run to start")
	}
}

func TestRunUpstreamFailureMapsToBadGateway(t *testing.T) {
	runner := &fakeRunner{summary: &pipeline.Summary{}, err: faults.ErrUpstreamUnavailable}
	srv := New(runner, zap.NewNop(), false)

	req := httptest.NewRequest(http.MethodPost, "/run?wait=1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestRunRejectsInvalidDate(t *testing.T) {
	runner := &fakeRunner{summary: &pipeline.Summary{}}
	srv := New(runner, zap.NewNop(), false)

	req := httptest.NewRequest(http.MethodPost, "/run?date=31-08-2026", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(runner.dates) != 0 {
		t.Fatalf("expected no run for invalid date")
	}
}

func TestHealthz(t *testing.T) {
	srv := New(&fakeRunner{summary: &pipeline.Summary{}}, zap.NewNop(), false)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestNextOccurrence(t *testing.T) {
	now := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

	next := nextOccurrence(now, 18, 30)
	if next.Day() != 31 || next.Hour() != 18 || next.Minute() != 30 {
		t.Fatalf("expected same-day occurrence, got %v", next)
	}

	next = nextOccurrence(now, 9, 0)
	if next.Day() != 1 || next.Month() != time.September {
		t.Fatalf("expected next-day occurrence, got %v", next)
	}
}
