// Package analysts runs the configured analysts concurrently and collects
// one report per analyst kind.
package analysts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/dataflows"
	"github.com/dyike/cortexdesk/internal/logging"
	"github.com/dyike/cortexdesk/models"
)

const asOfLayout = "2006-01-02"

// Reporter turns fetched data into an analyst report.
type Reporter interface {
	Report(ctx context.Context, kind consts.AnalystKind, ticker, asOf string, raw *dataflows.RawData) (string, error)
}

type Stage struct {
	fetcher  dataflows.Fetcher
	reporter Reporter
	logger   *logging.Logger
}

func NewStage(fetcher dataflows.Fetcher, reporter Reporter, logger *logging.Logger) *Stage {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Stage{fetcher: fetcher, reporter: reporter, logger: logger}
}

type result struct {
	kind   consts.AnalystKind
	report models.AnalystReport
}

// Run produces exactly one report per kind, in the order of kinds. A failing
// analyst yields an unavailable report and never affects the others. When
// ctx is canceled the reports not yet collected are marked unavailable and
// Run returns without waiting for the stragglers.
func (s *Stage) Run(ctx context.Context, ticker string, asOf time.Time, kinds []consts.AnalystKind, timeout time.Duration) []models.AnalystReport {
	results := make(chan result, len(kinds))
	var wg conc.WaitGroup
	for _, kind := range kinds {
		wg.Go(func() {
			results <- result{kind: kind, report: s.runOne(ctx, kind, ticker, asOf, timeout)}
		})
	}

	got := make(map[consts.AnalystKind]models.AnalystReport, len(kinds))
	canceled := false
collect:
	for len(got) < len(kinds) {
		select {
		case r := <-results:
			got[r.kind] = r.report
		case <-ctx.Done():
			canceled = true
			break collect
		}
	}
	if !canceled {
		wg.Wait()
	}

	reports := make([]models.AnalystReport, 0, len(kinds))
	for _, kind := range kinds {
		r, ok := got[kind]
		if !ok {
			r = models.UnavailableReport(kind, "canceled before the analyst finished")
		}
		reports = append(reports, r)
	}
	return reports
}

func (s *Stage) runOne(ctx context.Context, kind consts.AnalystKind, ticker string, asOf time.Time, timeout time.Duration) (report models.AnalystReport) {
	log := s.logger.WithRole(string(kind.Role()))
	actx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	var pc panics.Catcher
	pc.Try(func() { report = s.analyze(actx, kind, ticker, asOf) })
	if r := pc.Recovered(); r != nil {
		log.Error("analyst panicked", "error", r.AsError())
		report = models.UnavailableReport(kind, "analyst crashed")
	}
	if !report.Available() {
		log.Warn("analyst report unavailable", "reason", report.Reason)
	}
	return report
}

func (s *Stage) analyze(ctx context.Context, kind consts.AnalystKind, ticker string, asOf time.Time) models.AnalystReport {
	raw, err := s.fetcher.Fetch(ctx, kind, ticker, asOf)
	if err != nil {
		return models.UnavailableReport(kind, err.Error())
	}
	text, err := s.reporter.Report(ctx, kind, ticker, asOf.Format(asOfLayout), raw)
	if err != nil {
		r := models.UnavailableReport(kind, fmt.Sprintf("analysis failed: %v", err))
		r.Source = raw.Source
		return r
	}
	if strings.TrimSpace(text) == "" {
		r := models.UnavailableReport(kind, "analysis returned no text")
		r.Source = raw.Source
		return r
	}
	return models.AnalystReport{Kind: kind, Status: models.ReportOK, Text: text, Source: raw.Source}
}
