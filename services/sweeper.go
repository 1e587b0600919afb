package services

import (
	"context"
	"encoding/json"
	"fmt"
	"game-session-system/models"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// SweepReport summarizes one invalidation run.
type SweepReport struct {
	StartedAt            time.Time `json:"startedAt"`
	FinishedAt           time.Time `json:"finishedAt"`
	TotalMatches         int64     `json:"totalMatches"`
	ValidMatchesBefore   int64     `json:"validMatchesBefore"`
	MatchesInvalidated   int64     `json:"matchesInvalidated"`
	InstancesInvalidated int64     `json:"instancesInvalidated"`
}

// ReportSink stores a finished sweep report under key.
type ReportSink interface {
	PutReport(ctx context.Context, key string, body []byte) error
}

// Sweeper retires all matches and instances, e.g. before a fleet redeploy.
type Sweeper struct {
	DB        *gorm.DB
	Matches   *MatchStore
	Instances *InstanceStore
	Events    EventPublisher
	Reports   ReportSink
	Logger    *slog.Logger
}

func NewSweeper(db *gorm.DB, events EventPublisher, reports ReportSink, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		DB:        db,
		Matches:   NewMatchStore(db),
		Instances: NewInstanceStore(db),
		Events:    events,
		Reports:   reports,
		Logger:    logger,
	}
}

// Run invalidates every valid match and instance in one transaction.
func (s *Sweeper) Run(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{StartedAt: time.Now().UTC()}
	s.Logger.Info("starting invalidation sweep")

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Match{}).Count(&report.TotalMatches).Error; err != nil {
			return storageErr("count matches", "", err)
		}
		if err := tx.Model(&models.Match{}).Where("is_valid = ?", true).Count(&report.ValidMatchesBefore).Error; err != nil {
			return storageErr("count valid matches", "", err)
		}
		s.Logger.Info("matches found", "total", report.TotalMatches, "valid", report.ValidMatchesBefore)

		var err error
		if report.MatchesInvalidated, err = s.Matches.WithTx(tx).InvalidateAllActive(ctx); err != nil {
			return err
		}
		if report.InstancesInvalidated, err = s.Instances.WithTx(tx).InvalidateAll(ctx); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		s.Logger.Error("invalidation sweep failed", "error", err)
		return nil, err
	}
	report.FinishedAt = time.Now().UTC()

	s.Logger.Info("invalidation sweep completed",
		"matches", report.MatchesInvalidated,
		"instances", report.InstancesInvalidated,
		"took", report.FinishedAt.Sub(report.StartedAt))

	if s.Events != nil && report.MatchesInvalidated > 0 {
		_ = s.Events.Publish(ctx, MatchEvent{Type: EventMatchInvalidated, Count: report.MatchesInvalidated})
	}
	if s.Reports != nil {
		if err := s.upload(ctx, report); err != nil {
			// the sweep itself already committed
			s.Logger.Warn("failed to upload sweep report", "error", err)
		}
	}
	return report, nil
}

func (s *Sweeper) upload(ctx context.Context, report *SweepReport) error {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sweep report: %w", err)
	}
	key := fmt.Sprintf("sweeps/%s.json", report.StartedAt.Format("20060102T150405Z"))
	return s.Reports.PutReport(ctx, key, body)
}
