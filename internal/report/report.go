// Package report formats the end-of-run digest from annotated scan records.
package report

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"trendscan/internal/store"
)

// ErrNoResults signals that no analyzable records exist for the date. The
// caller turns it into an explicit notice instead of an empty digest.
var ErrNoResults = errors.New("no analyzable results")

const footer = "_This digest is generated automatically and is not investment advice._"

type sectorCount struct {
	Sector string
	Count  int
}

// Build renders the Markdown digest for the date: a sector rollup ordered by
// count descending, then one card per record ordered by heat descending.
func Build(scanDate string, records []store.AnnotatedRecord) (string, error) {
	if len(records) == 0 {
		return "", ErrNoResults
	}

	var b strings.Builder

	fmt.Fprintf(&b, "🔥 *US Momentum Scan — %s*\n", scanDate)
	fmt.Fprintf(&b, "Analyzed %d candidates.\n\n", len(records))

	b.WriteString("*Sector heat map*\n")
	for i, sc := range sectorCounts(records) {
		fmt.Fprintf(&b, "%d. %s: %d\n", i+1, sc.Sector, sc.Count)
	}
	b.WriteString("\n*Candidates by heat*\n")

	for _, rec := range sortedByHeat(records) {
		fmt.Fprintf(&b, "\n🔹 *%s* — %s\n", rec.Ticker, rec.CompanyName)
		fmt.Fprintf(&b, "  • Sector: %s\n", rec.Sector)
		if rec.Catalyst != "" {
			fmt.Fprintf(&b, "  • Catalyst: %s\n", rec.Catalyst)
		}
		fmt.Fprintf(&b, "  • Heat: %s | %s | %s\n", flames(rec.Heat), rec.Stage, rec.StrategyTag)
		fmt.Fprintf(&b, "  • Close: %.2f%s\n", rec.ClosePrice, trendNote(rec))
	}

	b.WriteString("\n" + footer)

	return b.String(), nil
}

// NoCandidatesNotice is the message delivered when the screener returns an
// empty list. Distinct from a failed run and from an empty digest.
func NoCandidatesNotice(scanDate string) string {
	return fmt.Sprintf("📭 *US Momentum Scan — %s*\nNo candidates passed the screen today.", scanDate)
}

// NoResultsNotice is the message delivered when candidates were found but
// every annotation attempt failed.
func NoResultsNotice(scanDate string, failed int) string {
	return fmt.Sprintf("⚠️ *US Momentum Scan — %s*\nNo analyzable results: all %d annotation attempts failed.", scanDate, failed)
}

// NothingNewNotice is the message delivered when a re-run finds every
// record already delivered by an earlier run.
func NothingNewNotice(scanDate string) string {
	return fmt.Sprintf("📬 *US Momentum Scan — %s*\nNothing new to deliver; today's digest went out earlier.", scanDate)
}

// FailureNotice is the message delivered when the run itself aborted.
func FailureNotice(scanDate string, err error) string {
	return fmt.Sprintf("❌ *US Momentum Scan — %s*\nRun failed: %v", scanDate, err)
}

func sectorCounts(records []store.AnnotatedRecord) []sectorCount {
	counts := make(map[string]int)
	for _, rec := range records {
		counts[rec.Sector]++
	}

	out := make([]sectorCount, 0, len(counts))
	for sector, count := range counts {
		out = append(out, sectorCount{Sector: sector, Count: count})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Sector < out[j].Sector
	})

	return out
}

func sortedByHeat(records []store.AnnotatedRecord) []store.AnnotatedRecord {
	out := make([]store.AnnotatedRecord, len(records))
	copy(out, records)

	sort.Slice(out, func(i, j int) bool {
		if out[i].Heat != out[j].Heat {
			return out[i].Heat > out[j].Heat
		}
		return out[i].Ticker < out[j].Ticker
	})

	return out
}

func flames(heat int) string {
	if heat < 1 {
		heat = 1
	}
	if heat > 5 {
		heat = 5
	}
	return strings.Repeat("🔥", heat)
}

func trendNote(rec store.AnnotatedRecord) string {
	if rec.SMA50 == 0 {
		return ""
	}
	if rec.ClosePrice >= rec.SMA50 {
		return " (above 50MA)"
	}
	return " (below 50MA)"
}
