// Package annotator turns one screened candidate into a structured judgment
// by prompting a generative model and parsing its reply.
package annotator

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	_ "embed"

	"trendscan/internal/faults"
	"trendscan/internal/store"
	"trendscan/internal/utils"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

//go:embed prompt.md
var promptTemplate string

const (
	defaultMaxLogLength = 200
	maxCatalystRunes    = 300

	minStage = 1
	maxStage = 4
	minHeat  = 1
	maxHeat  = 5
)

// StrategyTags is the fixed vocabulary a judgment's strategy tag is drawn from.
var StrategyTags = []string{"pullback-entry", "breakout", "watch-only", "high-risk"}

// strategySynonyms maps loose model phrasings onto the vocabulary.
var strategySynonyms = map[string]string{
	"pullback":       "pullback-entry",
	"pullback entry": "pullback-entry",
	"pullback-buy":   "pullback-entry",
	"dip buy":        "pullback-entry",
	"breakout buy":   "breakout",
	"breakout entry": "breakout",
	"watch":          "watch-only",
	"watch only":     "watch-only",
	"observe":        "watch-only",
	"high risk":      "high-risk",
	"avoid":          "high-risk",
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
	Model() string
}

// Result is the parsed and validated judgment for one candidate.
type Result struct {
	Sector      string `mapstructure:"sector"`
	Catalyst    string `mapstructure:"catalyst"`
	Stage       string `mapstructure:"-"`
	Heat        int    `mapstructure:"heat"`
	StrategyTag string `mapstructure:"strategy_tag"`
	Raw         string `mapstructure:"-"`
}

type rawResult struct {
	Sector      string `mapstructure:"sector"`
	Catalyst    string `mapstructure:"catalyst"`
	Stage       any    `mapstructure:"stage"`
	Heat        int    `mapstructure:"heat"`
	StrategyTag string `mapstructure:"strategy_tag"`
}

type Annotator struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

func New(generator contentGenerator, logger *zap.Logger, maxLogLength int) *Annotator {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Annotator{
		generator: generator,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

// Annotate submits the record's fields to the model and parses exactly one
// structured judgment out of the reply. It has no side effects; failures are
// classified as faults.ErrUpstreamUnavailable or faults.ErrMalformedResponse
// for the caller to record.
func (a *Annotator) Annotate(ctx context.Context, record *store.ScanRecord) (*Result, error) {
	if record == nil {
		return nil, fmt.Errorf("scan record is required")
	}

	prompt := buildPrompt(record)

	a.logger.Debug("annotator request",
		zap.String("ticker", record.Ticker),
		zap.String("model", a.generator.Model()),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, a.maxLogLen)),
	)

	raw, err := a.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("annotator response",
		zap.String("ticker", record.Ticker),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, a.maxLogLen)),
	)

	result, err := parseResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("ticker %s: %w", record.Ticker, err)
	}

	result.Raw = raw
	return result, nil
}

func buildPrompt(record *store.ScanRecord) string {
	replacer := strings.NewReplacer(
		"{{TICKER}}", record.Ticker,
		"{{COMPANY}}", record.CompanyName,
		"{{CLOSE}}", formatPrice(record.ClosePrice),
		"{{SMA20}}", formatPrice(record.SMA20),
		"{{SMA50}}", formatPrice(record.SMA50),
		"{{SMA200}}", formatPrice(record.SMA200),
	)

	return replacer.Replace(promptTemplate)
}

func formatPrice(v float64) string {
	if v == 0 {
		return "n/a"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func parseResponse(raw string) (*Result, error) {
	payload, err := ExtractObject(raw)
	if err != nil {
		return nil, err
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(payload), &data); err != nil {
		return nil, fmt.Errorf("parse model response: %w: %w", faults.ErrMalformedResponse, err)
	}

	var decoded rawResult
	cfg := &mapstructure.DecoderConfig{
		Result:           &decoded,
		WeaklyTypedInput: true,
	}
	decoder, _ := mapstructure.NewDecoder(cfg)
	if err := decoder.Decode(data); err != nil {
		return nil, fmt.Errorf("decode model response: %w: %w", faults.ErrMalformedResponse, err)
	}

	sector := strings.TrimSpace(decoded.Sector)
	if sector == "" {
		return nil, fmt.Errorf("missing sector: %w", faults.ErrMalformedResponse)
	}

	stage, err := parseStage(decoded.Stage)
	if err != nil {
		return nil, err
	}

	if decoded.Heat < minHeat || decoded.Heat > maxHeat {
		return nil, fmt.Errorf("heat %d out of range: %w", decoded.Heat, faults.ErrMalformedResponse)
	}

	tag, err := normalizeStrategyTag(decoded.StrategyTag)
	if err != nil {
		return nil, err
	}

	catalyst := strings.TrimSpace(decoded.Catalyst)
	if runes := []rune(catalyst); len(runes) > maxCatalystRunes {
		catalyst = string(runes[:maxCatalystRunes])
	}

	return &Result{
		Sector:      sector,
		Catalyst:    catalyst,
		Stage:       stage,
		Heat:        decoded.Heat,
		StrategyTag: tag,
	}, nil
}

// parseStage accepts 2, "2" or "Stage 2" and normalizes to "Stage N".
func parseStage(v any) (string, error) {
	var ordinal int

	switch val := v.(type) {
	case float64:
		ordinal = int(val)
	case int:
		ordinal = val
	case string:
		trimmed := strings.TrimSpace(val)
		trimmed = strings.TrimPrefix(strings.ToLower(trimmed), "stage")
		n, err := strconv.Atoi(strings.TrimSpace(trimmed))
		if err != nil {
			return "", fmt.Errorf("unparseable stage %q: %w", val, faults.ErrMalformedResponse)
		}
		ordinal = n
	default:
		return "", fmt.Errorf("missing stage: %w", faults.ErrMalformedResponse)
	}

	if ordinal < minStage || ordinal > maxStage {
		return "", fmt.Errorf("stage %d out of range: %w", ordinal, faults.ErrMalformedResponse)
	}

	return fmt.Sprintf("Stage %d", ordinal), nil
}

func normalizeStrategyTag(raw string) (string, error) {
	tag := strings.ToLower(strings.TrimSpace(raw))

	for _, known := range StrategyTags {
		if tag == known {
			return known, nil
		}
	}

	if mapped, ok := strategySynonyms[tag]; ok {
		return mapped, nil
	}

	return "", fmt.Errorf("strategy tag %q not in vocabulary: %w", raw, faults.ErrMalformedResponse)
}
