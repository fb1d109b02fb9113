package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"trendscan/internal/annotator"
	"trendscan/internal/faults"
	"trendscan/internal/screener"
	"trendscan/internal/store"

	"go.uber.org/zap"
)

type fakeScreener struct {
	candidates []screener.Candidate
	err        error
	calls      int
}

func (f *fakeScreener) Scan(_ context.Context, _ *screener.Filter) ([]screener.Candidate, error) {
	f.calls++
	return f.candidates, f.err
}

type fakeAnnotator struct {
	failFor map[string]error
	calls   []string
}

func (f *fakeAnnotator) Annotate(_ context.Context, record *store.ScanRecord) (*annotator.Result, error) {
	f.calls = append(f.calls, record.Ticker)

	if err, ok := f.failFor[record.Ticker]; ok {
		return nil, err
	}

	sector := "Tech"
	heat := 3
	if record.Ticker == "NVDA" {
		sector = "Semis"
		heat = 5
	}
	if record.Ticker == "AAPL" {
		heat = 5
	}

	return &annotator.Result{
		Sector:      sector,
		Catalyst:    "catalyst for " + record.Ticker,
		Stage:       "Stage 2",
		Heat:        heat,
		StrategyTag: "breakout",
	}, nil
}

type fakeStore struct {
	records     []store.ScanRecord
	annotations []store.Annotation
	nextID      int64
	failOn      string
}

func (f *fakeStore) Ingest(_ context.Context, candidates []screener.Candidate, scanDate, market string) (int, error) {
	if f.failOn == "ingest" {
		return 0, fmt.Errorf("boom: %w", faults.ErrPersistence)
	}

	inserted := 0
	for _, c := range candidates {
		if f.find(scanDate, c.Ticker) != nil {
			continue
		}
		f.nextID++
		f.records = append(f.records, store.ScanRecord{
			ID:       f.nextID,
			ScanDate: scanDate,
			Market:   market,
			Ticker:   c.Ticker,
			Status:   store.StatusPending,
		})
		inserted++
	}
	return inserted, nil
}

func (f *fakeStore) find(scanDate, ticker string) *store.ScanRecord {
	for i := range f.records {
		if f.records[i].ScanDate == scanDate && f.records[i].Ticker == ticker {
			return &f.records[i]
		}
	}
	return nil
}

func (f *fakeStore) ListPending(_ context.Context, scanDate string, limit int) ([]store.ScanRecord, error) {
	var out []store.ScanRecord
	for _, r := range f.records {
		if r.ScanDate == scanDate && r.Status == store.StatusPending {
			out = append(out, r)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) SaveAnnotation(_ context.Context, a *store.Annotation) error {
	f.annotations = append(f.annotations, *a)
	return nil
}

func (f *fakeStore) setStatus(id int64, status string) {
	for i := range f.records {
		if f.records[i].ID == id {
			f.records[i].Status = status
		}
	}
}

func (f *fakeStore) MarkDone(_ context.Context, id int64) error {
	f.setStatus(id, store.StatusDone)
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id int64) error {
	f.setStatus(id, store.StatusFailed)
	return nil
}

func (f *fakeStore) MarkDelivered(_ context.Context, scanDate string) (int, error) {
	count := 0
	for i := range f.records {
		if f.records[i].ScanDate == scanDate && f.records[i].Status == store.StatusDone {
			f.records[i].Status = store.StatusDelivered
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) ListAnnotated(_ context.Context, scanDate string) ([]store.AnnotatedRecord, error) {
	var out []store.AnnotatedRecord
	for _, r := range f.records {
		if r.ScanDate != scanDate || r.Status != store.StatusDone {
			continue
		}
		for _, a := range f.annotations {
			if a.ScanID == r.ID {
				out = append(out, store.AnnotatedRecord{
					Ticker:      r.Ticker,
					Sector:      a.Sector,
					Catalyst:    a.Catalyst,
					Stage:       a.Stage,
					Heat:        a.Heat,
					StrategyTag: a.StrategyTag,
				})
			}
		}
	}
	return out, nil
}

func (f *fakeStore) statusOf(ticker string) string {
	for _, r := range f.records {
		if r.Ticker == ticker {
			return r.Status
		}
	}
	return ""
}

type fakeNotifier struct {
	messages []string
	err      error
}

func (f *fakeNotifier) SendMessage(_ context.Context, text string) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, text)
	return nil
}

func candidates(tickers ...string) []screener.Candidate {
	out := make([]screener.Candidate, 0, len(tickers))
	for _, t := range tickers {
		out = append(out, screener.Candidate{Ticker: t, Description: t + " Inc", Close: 100})
	}
	return out
}

func newTestPipeline(sc *fakeScreener, an *fakeAnnotator, st *fakeStore, no *fakeNotifier) *Pipeline {
	return New(sc, an, st, no, &Config{
		Filter:    &screener.Filter{Market: "america"},
		BatchSize: 2,
		PaceDelay: 1, // effectively no pacing in tests
	}, zap.NewNop())
}

const testDate = "2026-08-31"

func TestRunHappyPath(t *testing.T) {
	sc := &fakeScreener{candidates: candidates("NVDA", "AAPL", "MSFT")}
	an := &fakeAnnotator{}
	st := &fakeStore{}
	no := &fakeNotifier{}

	summary, err := newTestPipeline(sc, an, st, no).Run(context.Background(), testDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Outcome != OutcomeDelivered {
		t.Fatalf("expected outcome delivered, got %s", summary.Outcome)
	}
	if summary.Found != 3 || summary.Ingested != 3 || summary.Annotated != 3 || summary.Failed != 0 || summary.Delivered != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	if len(no.messages) != 1 {
		t.Fatalf("expected one digest message, got %d", len(no.messages))
	}
	if !strings.Contains(no.messages[0], "NVDA") {
		t.Fatalf("expected digest to mention NVDA:\n%s", no.messages[0])
	}

	for _, ticker := range []string{"NVDA", "AAPL", "MSFT"} {
		if got := st.statusOf(ticker); got != store.StatusDelivered {
			t.Fatalf("expected %s delivered, got %s", ticker, got)
		}
	}
}

func TestRunPartialFailureIsolation(t *testing.T) {
	sc := &fakeScreener{candidates: candidates("NVDA", "AAPL", "MSFT")}
	an := &fakeAnnotator{failFor: map[string]error{
		"AAPL": fmt.Errorf("rate limited: %w", faults.ErrUpstreamUnavailable),
	}}
	st := &fakeStore{}
	no := &fakeNotifier{}

	summary, err := newTestPipeline(sc, an, st, no).Run(context.Background(), testDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Annotated != 2 || summary.Failed != 1 || summary.Delivered != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if got := st.statusOf("AAPL"); got != store.StatusFailed {
		t.Fatalf("expected AAPL failed, got %s", got)
	}
	if got := st.statusOf("NVDA"); got != store.StatusDelivered {
		t.Fatalf("expected NVDA delivered, got %s", got)
	}

	// Malformed responses are isolated the same way.
	sc2 := &fakeScreener{candidates: candidates("TSM", "AMD")}
	an2 := &fakeAnnotator{failFor: map[string]error{
		"TSM": fmt.Errorf("no json: %w", faults.ErrMalformedResponse),
	}}
	st2 := &fakeStore{}
	no2 := &fakeNotifier{}

	summary, err = newTestPipeline(sc2, an2, st2, no2).Run(context.Background(), testDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Annotated != 1 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRunNoCandidates(t *testing.T) {
	sc := &fakeScreener{}
	an := &fakeAnnotator{}
	st := &fakeStore{}
	no := &fakeNotifier{}

	summary, err := newTestPipeline(sc, an, st, no).Run(context.Background(), testDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Outcome != OutcomeNoCandidates {
		t.Fatalf("expected no-candidates outcome, got %s", summary.Outcome)
	}
	if len(an.calls) != 0 {
		t.Fatalf("expected zero annotator calls, got %d", len(an.calls))
	}
	if len(no.messages) != 1 || !strings.Contains(no.messages[0], "No candidates") {
		t.Fatalf("expected explicit no-candidates notice, got %v", no.messages)
	}
}

func TestRunAllFail(t *testing.T) {
	sc := &fakeScreener{candidates: candidates("NVDA", "AAPL")}
	an := &fakeAnnotator{failFor: map[string]error{
		"NVDA": faults.ErrUpstreamUnavailable,
		"AAPL": faults.ErrMalformedResponse,
	}}
	st := &fakeStore{}
	no := &fakeNotifier{}

	summary, err := newTestPipeline(sc, an, st, no).Run(context.Background(), testDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Outcome != OutcomeNoResults {
		t.Fatalf("expected no-results outcome, got %s", summary.Outcome)
	}
	if summary.Failed != 2 {
		t.Fatalf("expected 2 failures, got %d", summary.Failed)
	}
	if len(no.messages) != 1 || !strings.Contains(no.messages[0], "No analyzable results") {
		t.Fatalf("expected explicit no-results notice, got %v", no.messages)
	}
}

func TestRunNoRedelivery(t *testing.T) {
	sc := &fakeScreener{candidates: candidates("NVDA", "AAPL")}
	an := &fakeAnnotator{}
	st := &fakeStore{}
	no := &fakeNotifier{}

	p := newTestPipeline(sc, an, st, no)

	first, err := p.Run(context.Background(), testDate)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Outcome != OutcomeDelivered {
		t.Fatalf("expected delivery on first run, got %s", first.Outcome)
	}

	second, err := p.Run(context.Background(), testDate)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if second.Outcome != OutcomeNothingNew {
		t.Fatalf("expected nothing-new outcome, got %s", second.Outcome)
	}
	if second.Ingested != 0 {
		t.Fatalf("expected duplicate ingest to insert nothing, got %d", second.Ingested)
	}

	digests := 0
	for _, msg := range no.messages {
		if strings.Contains(msg, "Candidates by heat") {
			digests++
		}
	}
	if digests != 1 {
		t.Fatalf("expected the digest to be sent exactly once, got %d", digests)
	}
}

func TestRunScreenerFailureAbortsWithNotice(t *testing.T) {
	sc := &fakeScreener{err: fmt.Errorf("bad status 502: %w", faults.ErrUpstreamUnavailable)}
	an := &fakeAnnotator{}
	st := &fakeStore{}
	no := &fakeNotifier{}

	_, err := newTestPipeline(sc, an, st, no).Run(context.Background(), testDate)
	if !errors.Is(err, faults.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}

	if len(an.calls) != 0 {
		t.Fatalf("expected no annotator calls after screener failure")
	}
	if len(no.messages) != 1 || !strings.Contains(no.messages[0], "Run failed") {
		t.Fatalf("expected explicit failure notice, got %v", no.messages)
	}
}

func TestRunDeliveryFailureKeepsDone(t *testing.T) {
	sc := &fakeScreener{candidates: candidates("NVDA")}
	an := &fakeAnnotator{}
	st := &fakeStore{}
	no := &fakeNotifier{err: faults.ErrUpstreamUnavailable}

	_, err := newTestPipeline(sc, an, st, no).Run(context.Background(), testDate)
	if !errors.Is(err, faults.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}

	// Done status survives a failed delivery for a later attempt.
	if got := st.statusOf("NVDA"); got != store.StatusDone {
		t.Fatalf("expected NVDA to stay done, got %s", got)
	}
}

func TestRunProcessesAllBatches(t *testing.T) {
	sc := &fakeScreener{candidates: candidates("A", "B", "C", "D", "E")}
	an := &fakeAnnotator{}
	st := &fakeStore{}
	no := &fakeNotifier{}

	// BatchSize is 2, so five records need three claim cycles.
	summary, err := newTestPipeline(sc, an, st, no).Run(context.Background(), testDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Annotated != 5 {
		t.Fatalf("expected all 5 records annotated, got %d", summary.Annotated)
	}
	if len(an.calls) != 5 {
		t.Fatalf("expected 5 annotator calls, got %d", len(an.calls))
	}
}
