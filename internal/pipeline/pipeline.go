// Package pipeline sequences one full run: ingest screened candidates,
// annotate every pending record, then deliver the digest.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trendscan/internal/annotator"
	"trendscan/internal/faults"
	"trendscan/internal/report"
	"trendscan/internal/screener"
	"trendscan/internal/store"
	"trendscan/internal/utils"

	"go.uber.org/zap"
)

const (
	defaultBatchSize = 20
	defaultPaceDelay = 2 * time.Second
)

// Run outcomes.
const (
	OutcomeDelivered    = "delivered"
	OutcomeNoCandidates = "no-candidates"
	OutcomeNoResults    = "no-results"
	OutcomeNothingNew   = "nothing-new"
)

type Screener interface {
	Scan(ctx context.Context, f *screener.Filter) ([]screener.Candidate, error)
}

type Annotator interface {
	Annotate(ctx context.Context, record *store.ScanRecord) (*annotator.Result, error)
}

type Storage interface {
	Ingest(ctx context.Context, candidates []screener.Candidate, scanDate, market string) (int, error)
	ListPending(ctx context.Context, scanDate string, limit int) ([]store.ScanRecord, error)
	SaveAnnotation(ctx context.Context, a *store.Annotation) error
	MarkDone(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64) error
	MarkDelivered(ctx context.Context, scanDate string) (int, error)
	ListAnnotated(ctx context.Context, scanDate string) ([]store.AnnotatedRecord, error)
}

type Notifier interface {
	SendMessage(ctx context.Context, text string) error
}

// Config holds the run parameters shared by every trigger surface.
type Config struct {
	Filter *screener.Filter
	// BatchSize caps how many pending records one ListPending call claims.
	BatchSize int
	// PaceDelay is the enforced minimum delay between annotator calls.
	PaceDelay time.Duration
}

// Summary describes the outcome of one run.
type Summary struct {
	ScanDate  string `json:"scan_date"`
	Outcome   string `json:"outcome"`
	Found     int    `json:"found"`
	Ingested  int    `json:"ingested"`
	Annotated int    `json:"annotated"`
	Failed    int    `json:"failed"`
	Delivered int    `json:"delivered"`
}

type Pipeline struct {
	screener  Screener
	annotator Annotator
	store     Storage
	notifier  Notifier
	config    *Config
	logger    *zap.Logger
}

func New(s Screener, a Annotator, st Storage, n Notifier, cfg *Config, logger *zap.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.PaceDelay <= 0 {
		cfg.PaceDelay = defaultPaceDelay
	}

	return &Pipeline{
		screener:  s,
		annotator: a,
		store:     st,
		notifier:  n,
		config:    cfg,
		logger:    logger,
	}
}

// Run executes one full pipeline pass for the date. Individual annotation
// failures are recorded per record and never abort the batch; screener,
// persistence and delivery failures are run-level and abort remaining
// phases. A run-level failure is also pushed to the sink as an explicit
// notice where the sink still works.
func (p *Pipeline) Run(ctx context.Context, scanDate string) (*Summary, error) {
	summary := &Summary{ScanDate: scanDate}

	p.logger.Info("starting pipeline run", zap.String("scan_date", scanDate))

	candidates, err := p.screener.Scan(ctx, p.config.Filter)
	if err != nil {
		return summary, p.fail(ctx, summary, fmt.Errorf("screen candidates: %w", err))
	}
	summary.Found = len(candidates)

	if len(candidates) == 0 {
		summary.Outcome = OutcomeNoCandidates
		p.logger.Info("no candidates passed the screen", zap.String("scan_date", scanDate))
		if err := p.notifier.SendMessage(ctx, report.NoCandidatesNotice(scanDate)); err != nil {
			return summary, fmt.Errorf("send no-candidates notice: %w", err)
		}
		return summary, nil
	}

	inserted, err := p.store.Ingest(ctx, candidates, scanDate, p.config.Filter.Market)
	if err != nil {
		return summary, p.fail(ctx, summary, err)
	}
	summary.Ingested = inserted

	if err := p.drainPending(ctx, scanDate, summary); err != nil {
		return summary, p.fail(ctx, summary, err)
	}

	return summary, p.deliver(ctx, scanDate, summary)
}

// drainPending annotates every pending record for the date in claimed
// batches, strictly sequentially, pacing each annotator call. One bad ticker
// never aborts the batch: its record is marked failed and the drain moves on.
func (p *Pipeline) drainPending(ctx context.Context, scanDate string, summary *Summary) error {
	for {
		batch, err := p.store.ListPending(ctx, scanDate, p.config.BatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		p.logger.Info("annotating batch",
			zap.String("scan_date", scanDate),
			zap.Int("size", len(batch)),
		)

		for i := range batch {
			record := &batch[i]

			if err := p.annotateOne(ctx, record, summary); err != nil {
				return err
			}

			if err := utils.WaitFor(ctx, p.config.PaceDelay); err != nil {
				return err
			}
		}
	}
}

func (p *Pipeline) annotateOne(ctx context.Context, record *store.ScanRecord, summary *Summary) error {
	result, err := p.annotator.Annotate(ctx, record)
	if err != nil {
		if !errors.Is(err, faults.ErrUpstreamUnavailable) && !errors.Is(err, faults.ErrMalformedResponse) {
			return err
		}

		p.logger.Warn("annotation failed, marking record failed",
			zap.String("ticker", record.Ticker),
			zap.Error(err),
		)

		if err := p.store.MarkFailed(ctx, record.ID); err != nil {
			return err
		}
		summary.Failed++
		return nil
	}

	annotation := &store.Annotation{
		ScanID:      record.ID,
		Ticker:      record.Ticker,
		Sector:      result.Sector,
		Catalyst:    result.Catalyst,
		Stage:       result.Stage,
		Heat:        result.Heat,
		StrategyTag: result.StrategyTag,
	}

	if err := p.store.SaveAnnotation(ctx, annotation); err != nil {
		return err
	}
	if err := p.store.MarkDone(ctx, record.ID); err != nil {
		return err
	}

	summary.Annotated++

	p.logger.Info("record annotated",
		zap.String("ticker", record.Ticker),
		zap.String("sector", result.Sector),
		zap.Int("heat", result.Heat),
		zap.String("strategy_tag", result.StrategyTag),
	)

	return nil
}

// deliver builds and sends the digest, then marks the included records
// delivered so a re-run for the same date does not re-send them. Delivery
// failure keeps records done for a later attempt.
func (p *Pipeline) deliver(ctx context.Context, scanDate string, summary *Summary) error {
	rows, err := p.store.ListAnnotated(ctx, scanDate)
	if err != nil {
		return p.fail(ctx, summary, err)
	}

	digest, err := report.Build(scanDate, rows)
	if errors.Is(err, report.ErrNoResults) {
		// Nothing done for the date. Either every annotation attempt failed,
		// or an earlier run already delivered everything there was.
		if summary.Failed == 0 {
			summary.Outcome = OutcomeNothingNew
			p.logger.Info("nothing new to deliver", zap.String("scan_date", scanDate))
			if err := p.notifier.SendMessage(ctx, report.NothingNewNotice(scanDate)); err != nil {
				return fmt.Errorf("send nothing-new notice: %w", err)
			}
			return nil
		}

		summary.Outcome = OutcomeNoResults
		p.logger.Warn("no analyzable results", zap.String("scan_date", scanDate), zap.Int("failed", summary.Failed))
		if err := p.notifier.SendMessage(ctx, report.NoResultsNotice(scanDate, summary.Failed)); err != nil {
			return fmt.Errorf("send no-results notice: %w", err)
		}
		return nil
	}
	if err != nil {
		return p.fail(ctx, summary, err)
	}

	if err := p.notifier.SendMessage(ctx, digest); err != nil {
		return fmt.Errorf("deliver digest: %w", err)
	}

	delivered, err := p.store.MarkDelivered(ctx, scanDate)
	if err != nil {
		return err
	}

	summary.Delivered = delivered
	summary.Outcome = OutcomeDelivered

	p.logger.Info("digest delivered",
		zap.String("scan_date", scanDate),
		zap.Int("delivered", delivered),
		zap.Int("failed", summary.Failed),
	)

	return nil
}

// fail pushes an explicit failure notice to the sink (best effort) and
// returns the run-level error.
func (p *Pipeline) fail(ctx context.Context, summary *Summary, err error) error {
	p.logger.Error("pipeline run failed", zap.String("scan_date", summary.ScanDate), zap.Error(err))

	if notifyErr := p.notifier.SendMessage(ctx, report.FailureNotice(summary.ScanDate, err)); notifyErr != nil {
		p.logger.Warn("failure notice could not be delivered", zap.Error(notifyErr))
	}

	return err
}
