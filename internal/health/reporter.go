package health

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"samuel/internal/homeassistant"
)

// SystemReader is the slice of the Home Assistant client the reporter
// needs: configuration for the snapshot, error log for the analysis.
type SystemReader interface {
	GetConfig(ctx context.Context) (*homeassistant.Config, error)
	GetErrorLog(ctx context.Context) (string, error)
}

// Report is one generated health report.
type Report struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`
	Path        string    `json:"path"`
	Markdown    string    `json:"markdown"`
	TrendNote   string    `json:"trend_note"`
	Analysis    Analysis  `json:"analysis"`
}

// Summary is the condensed report form returned by the bridge.
type Summary struct {
	Status   string `json:"status"`
	Summary  string `json:"summary"`
	Errors   int    `json:"errors"`
	Warnings int    `json:"warnings"`
}

// Summary condenses the report for machine consumers.
func (r *Report) Summary() Summary {
	a := r.Analysis
	if a.ErrorCount == 0 && a.WarningCount == 0 {
		return Summary{
			Status:  "ok",
			Summary: "Home Assistant is healthy. No errors or warnings found.",
		}
	}
	return Summary{
		Status: "issues",
		Summary: fmt.Sprintf("Found %d errors and %d warnings. Check the health report for details.",
			a.ErrorCount, a.WarningCount),
		Errors:   a.ErrorCount,
		Warnings: a.WarningCount,
	}
}

// Reporter fetches Home Assistant diagnostics, analyzes the error log,
// and produces markdown health reports with run-over-run trends.
type Reporter struct {
	ha      SystemReader
	store   *Store
	dataDir string
	logger  *slog.Logger
	now     func() time.Time
}

// NewReporter creates a reporter writing dated reports to dataDir and
// recording run history in store.
func NewReporter(ha SystemReader, store *Store, dataDir string, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		ha:      ha,
		store:   store,
		dataDir: dataDir,
		logger:  logger,
		now:     time.Now,
	}
}

// Generate runs a full health diagnostic: fetch config and error log,
// analyze, diff against the previous run, write the dated report file,
// and record the run. An unreachable Home Assistant still produces a
// report (with the snapshot marked unreachable).
func (r *Reporter) Generate(ctx context.Context) (*Report, error) {
	version, state := "unreachable", "unreachable"
	if cfg, err := r.ha.GetConfig(ctx); err != nil {
		r.logger.Warn("could not fetch HA config for snapshot", "error", err)
	} else {
		version, state = cfg.Version, cfg.State
	}

	logText, err := r.ha.GetErrorLog(ctx)
	if err != nil {
		r.logger.Warn("could not fetch HA error log", "error", err)
		logText = ""
	}

	analysis := Analyze(ParseLog(logText))

	prev, err := r.store.LatestRun()
	if err != nil {
		return nil, fmt.Errorf("load previous run: %w", err)
	}
	trend := trendNote(prev, analysis)

	now := r.now()
	markdown := buildMarkdown(analysis, version, state, trend, now)

	if err := os.MkdirAll(r.dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(r.dataDir, "health-"+now.Format("2006-01-02")+".md")
	if err := os.WriteFile(path, []byte(markdown), 0644); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}

	id, err := r.store.SaveRun(analysis, path)
	if err != nil {
		return nil, fmt.Errorf("record run: %w", err)
	}

	r.logger.Info("health report generated",
		"id", id,
		"errors", analysis.ErrorCount,
		"warnings", analysis.WarningCount,
		"path", path,
	)

	return &Report{
		ID:          id,
		GeneratedAt: now,
		Path:        path,
		Markdown:    markdown,
		TrendNote:   trend,
		Analysis:    analysis,
	}, nil
}

// trendNote renders the run-over-run error count delta.
func trendNote(prev *Run, current Analysis) string {
	if prev == nil {
		return "First run: No previous data."
	}
	delta := current.ErrorCount - prev.ErrorCount
	switch {
	case delta > 0:
		return fmt.Sprintf("**Trend**: +%d errors since last run.", delta)
	case delta < 0:
		return fmt.Sprintf("**Trend**: %d errors (improvement).", delta)
	default:
		return "**Trend**: Stable error count."
	}
}

// buildMarkdown renders the health packet.
func buildMarkdown(a Analysis, version, state, trend string, now time.Time) string {
	lines := []string{"# Morning Health Packet: " + now.Format("2006-01-02")}

	if a.ErrorCount == 0 && a.WarningCount == 0 {
		lines = append(lines, "## Status: All Clear")
	} else {
		lines = append(lines, fmt.Sprintf("## Issues Detected: %d Errors, %d Warnings",
			a.ErrorCount, a.WarningCount))
	}

	if trend != "" {
		lines = append(lines, "\n> "+trend+"\n")
	}

	lines = append(lines,
		"## System Snapshot",
		"- **Version**: "+version,
		"- **State**: "+state,
		"- **Generated**: "+now.Format(time.RFC3339),
	)

	if len(a.Offenders) > 0 {
		lines = append(lines,
			"\n## Top Unique Issues",
			"| Count | Level | Signature | Last Seen |",
			"| :--- | :--- | :--- | :--- |",
		)
		for _, off := range a.Offenders {
			level := "WARN"
			if strings.Contains(off.Signature, "ERROR") {
				level = "ERR"
			}
			sig := strings.ReplaceAll(off.Signature, "|", "/")
			lines = append(lines, fmt.Sprintf("| %d | %s | `%s` | %s |",
				off.Count, level, sig, off.LastSeen))
		}
	}

	return strings.Join(lines, "\n")
}
