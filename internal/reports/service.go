/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package reports publishes daily CSV archives of assignment activity.
package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/muninn_rounds/internal/events"
	"github.com/friendsincode/muninn_rounds/internal/models"
	"github.com/friendsincode/muninn_rounds/internal/storage"
	"github.com/friendsincode/muninn_rounds/internal/telemetry"
)

// Service builds and uploads per-brand daily reports.
type Service struct {
	db     *gorm.DB
	store  storage.ObjectStore
	logger zerolog.Logger
	hour   int

	bus    events.Publisher
	leader func() bool
}

// New constructs a report service that runs daily at the given local hour.
func New(db *gorm.DB, store storage.ObjectStore, hour int, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		store:  store,
		hour:   hour,
		logger: logger.With().Str("component", "reports").Logger(),
	}
}

// SetBus enables report events on the given publisher.
func (s *Service) SetBus(bus events.Publisher) {
	s.bus = bus
}

// SetLeaderCheck gates scheduled runs so only one instance uploads.
// Manual runs through RunDaily are not gated.
func (s *Service) SetLeaderCheck(isLeader func() bool) {
	s.leader = isLeader
}

// Report is one generated archive.
type Report struct {
	BrandID uint   `json:"brand_id"`
	Date    string `json:"date"`
	Key     string `json:"key"`
	Rows    int    `json:"rows"`
	URL     string `json:"url,omitempty"`
	Data    []byte `json:"-"`
}

// Key returns the storage key for a brand's report on a date.
func Key(brandID uint, date string) string {
	return fmt.Sprintf("reports/%d/%s.csv", brandID, date)
}

// BuildDaily renders the CSV for one brand and date without uploading it.
// Every recorded resolution appears as a row; the archive is a log, not a
// deduplicated snapshot.
func (s *Service) BuildDaily(ctx context.Context, brandID uint, date string) (*Report, error) {
	var rows []models.Assignment
	if err := s.db.WithContext(ctx).
		Where("brand_id = ? AND date = ?", brandID, date).
		Order("location_id ASC, slot ASC, created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("fetch assignments for brand %d on %s: %w", brandID, date, err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"date", "brand_id", "location_id", "slot", "tier", "outcome", "task_id", "task_title", "seed", "resolved_at"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write report header: %w", err)
	}

	for _, a := range rows {
		taskID := ""
		if a.TaskID != nil {
			taskID = *a.TaskID
		}
		seed := ""
		if a.Seed != nil {
			seed = strconv.FormatInt(*a.Seed, 10)
		}
		record := []string{
			a.Date,
			strconv.FormatUint(uint64(a.BrandID), 10),
			a.LocationID,
			string(a.Slot),
			string(a.Tier),
			string(a.Outcome),
			taskID,
			a.TaskTitle,
			seed,
			a.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write report row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush report: %w", err)
	}

	return &Report{
		BrandID: brandID,
		Date:    date,
		Key:     Key(brandID, date),
		Rows:    len(rows),
		Data:    buf.Bytes(),
	}, nil
}

// Generate builds and uploads one brand's report, returning the stored result.
func (s *Service) Generate(ctx context.Context, brandID uint, date string) (*Report, error) {
	report, err := s.BuildDaily(ctx, brandID, date)
	if err != nil {
		telemetry.ReportErrorsTotal.Inc()
		return nil, err
	}

	if err := s.store.Write(ctx, report.Key, report.Data); err != nil {
		telemetry.ReportErrorsTotal.Inc()
		return nil, fmt.Errorf("upload report %s: %w", report.Key, err)
	}
	report.URL = s.store.URL(report.Key)
	telemetry.ReportsGeneratedTotal.Inc()

	s.logger.Info().
		Uint("brand_id", brandID).
		Str("date", date).
		Str("key", report.Key).
		Int("rows", report.Rows).
		Msg("report uploaded")

	if s.bus != nil {
		s.bus.Publish(events.EventReportUploaded, events.Payload{
			"brand_id": brandID,
			"date":     date,
			"key":      report.Key,
			"rows":     report.Rows,
			"url":      report.URL,
		})
	}
	return report, nil
}

// RunDaily generates reports for every active brand on the given date.
// Per-brand failures are logged and counted; the run continues.
func (s *Service) RunDaily(ctx context.Context, date string) error {
	var brands []models.Brand
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("id ASC").Find(&brands).Error; err != nil {
		telemetry.ReportErrorsTotal.Inc()
		return fmt.Errorf("fetch brands: %w", err)
	}

	for _, brand := range brands {
		report, err := s.Generate(ctx, brand.ID, date)
		if err != nil {
			s.logger.Error().Err(err).Uint("brand_id", brand.ID).Str("date", date).Msg("report generation failed")
			continue
		}
		if report.Rows == 0 {
			s.logger.Debug().Uint("brand_id", brand.ID).Str("date", date).Msg("report is empty")
		}
	}
	return nil
}

// Run fires RunDaily for the previous day each time the configured hour
// comes around, until context cancellation. Non-leaders sit out runs.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info().Int("hour", s.hour).Msg("report loop started")
	for {
		next := nextRunAt(time.Now(), s.hour)
		timer := time.NewTimer(time.Until(next))

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info().Msg("report loop stopped")
			return ctx.Err()
		case <-timer.C:
		}

		if s.leader != nil && !s.leader() {
			s.logger.Debug().Msg("not leader, skipping report run")
			continue
		}

		date := next.AddDate(0, 0, -1).Format("2006-01-02")
		if err := s.RunDaily(ctx, date); err != nil {
			s.logger.Error().Err(err).Str("date", date).Msg("daily report run failed")
		}
	}
}

func nextRunAt(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
