package service

import (
	"context"
	"time"

	"github.com/raphaelgruber/observer/internal/config"
	"github.com/raphaelgruber/observer/internal/db"
	"github.com/raphaelgruber/observer/internal/metrics"
	"github.com/raphaelgruber/observer/internal/models"
)

// HourlyBuckets is the number of hour-long buckets in Stats.
const HourlyBuckets = 24

// SystemInfo describes the running server for the dashboard.
type SystemInfo struct {
	Folders  FolderInfo       `json:"folders"`
	Server   ServerInfo       `json:"server"`
	Database DatabaseInfo     `json:"database"`
	Runtime  metrics.Snapshot `json:"runtime"`
}

// FolderInfo lists files the server writes to.
type FolderInfo struct {
	Logs string `json:"logs"`
}

// ServerInfo is the listen configuration.
type ServerInfo struct {
	Host  string `json:"host"`
	Port  int    `json:"port"`
	Debug bool   `json:"debug"`
}

// DatabaseInfo holds record counts by state.
type DatabaseInfo struct {
	Type             string `json:"type"`
	RecentCaptures   int    `json:"recent_captures"`
	ArchivedCaptures int    `json:"archived_captures"`
	Responses        int    `json:"recent_responses"`
}

// DashboardService aggregates statistics for the dashboard.
type DashboardService struct {
	store   db.Store
	cfg     config.Config
	metrics *metrics.Collector
	now     func() time.Time
}

// NewDashboardService creates a new dashboard service.
func NewDashboardService(store db.Store, cfg config.Config, mc *metrics.Collector) *DashboardService {
	return &DashboardService{store: store, cfg: cfg, metrics: mc, now: time.Now}
}

// Stats returns totals, today's counts, storage usage and the hourly
// activity of the trailing day. Bucket i covers [now-(i+1)h, now-ih),
// most recent first.
func (s *DashboardService) Stats(ctx context.Context) (*models.Stats, error) {
	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	var (
		stats models.Stats
		err   error
	)
	if stats.TotalStats.Captures, err = s.store.CountCaptures(ctx, db.CountFilter{}); err != nil {
		return nil, err
	}
	if stats.TotalStats.TodayCaptures, err = s.store.CountCaptures(ctx, db.CountFilter{Since: &today}); err != nil {
		return nil, err
	}
	if stats.TotalStats.Responses, err = s.store.CountResponses(ctx, db.CountFilter{}); err != nil {
		return nil, err
	}
	if stats.TotalStats.TodayResponses, err = s.store.CountResponses(ctx, db.CountFilter{Since: &today}); err != nil {
		return nil, err
	}

	stats.HourlyStats = make([]models.HourlyStat, 0, HourlyBuckets)
	for i := range HourlyBuckets {
		start := now.Add(-time.Duration(i+1) * time.Hour)
		end := now.Add(-time.Duration(i) * time.Hour)
		f := db.CountFilter{Since: &start, Until: &end}

		bucket := models.HourlyStat{Hour: start.Format("15:00")}
		if bucket.Captures, err = s.store.CountCaptures(ctx, f); err != nil {
			return nil, err
		}
		if bucket.Responses, err = s.store.CountResponses(ctx, f); err != nil {
			return nil, err
		}
		stats.HourlyStats = append(stats.HourlyStats, bucket)
	}

	if stats.TotalStats.StorageUsage, err = s.store.StorageUsage(ctx); err != nil {
		return nil, err
	}
	return &stats, nil
}

// SystemInfo reports configuration, record counts and runtime metrics.
func (s *DashboardService) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	recent, archived := false, true

	info := &SystemInfo{
		Folders: FolderInfo{Logs: s.cfg.LogFile},
		Server:  ServerInfo{Host: s.cfg.Host, Port: s.cfg.Port, Debug: s.cfg.Debug},
		Runtime: s.metrics.Snapshot(),
	}
	info.Database.Type = s.cfg.DBType

	var err error
	if info.Database.RecentCaptures, err = s.store.CountCaptures(ctx, db.CountFilter{Archived: &recent}); err != nil {
		return nil, err
	}
	if info.Database.ArchivedCaptures, err = s.store.CountCaptures(ctx, db.CountFilter{Archived: &archived}); err != nil {
		return nil, err
	}
	if info.Database.Responses, err = s.store.CountResponses(ctx, db.CountFilter{}); err != nil {
		return nil, err
	}
	return info, nil
}
