package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AnTengye/compliancecheck/backend/config"
	"github.com/AnTengye/compliancecheck/backend/model"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// HistoryRepository stores one row per analysed contract.
type HistoryRepository struct {
	db  *gorm.DB
	now func() time.Time
}

// OpenHistory connects to the configured database and migrates the table.
func OpenHistory(cfg *config.HistoryConfig) (*HistoryRepository, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported history driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	repo, err := NewHistoryRepository(db)
	if err != nil {
		return nil, err
	}
	slog.Info("history database ready", "driver", cfg.Driver)
	return repo, nil
}

// NewHistoryRepository wraps an open connection and migrates the table.
func NewHistoryRepository(db *gorm.DB) (*HistoryRepository, error) {
	if err := db.AutoMigrate(&model.HistoryEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history table: %w", err)
	}
	return &HistoryRepository{db: db, now: time.Now}, nil
}

// Save records a completed analysis for tenant.
func (r *HistoryRepository) Save(ctx context.Context, tenant, filename string, summary model.Summary, sheetName string) (*model.HistoryEntry, error) {
	entry := &model.HistoryEntry{
		Tenant:     tenant,
		Filename:   filename,
		Timestamp:  r.now(),
		NumClauses: summary.TotalClauses,
		NumHigh:    summary.High,
		NumMedium:  summary.Medium,
		NumLow:     summary.Low,
		SheetName:  sheetName,
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to save history: %w", err)
	}
	return entry, nil
}

// SetSheetName records the Google Sheets tab an entry was exported to.
func (r *HistoryRepository) SetSheetName(ctx context.Context, id uint, sheetName string) error {
	err := r.db.WithContext(ctx).Model(&model.HistoryEntry{}).
		Where("id = ?", id).
		Update("sheet_name", sheetName).Error
	if err != nil {
		return fmt.Errorf("failed to update history: %w", err)
	}
	return nil
}

// List returns the tenant's entries, newest first.
func (r *HistoryRepository) List(ctx context.Context, tenant string) ([]model.HistoryEntry, error) {
	var entries []model.HistoryEntry
	err := r.db.WithContext(ctx).
		Where("tenant = ?", tenant).
		Order("id DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return entries, nil
}

// Clear deletes every entry of tenant and reports how many went.
func (r *HistoryRepository) Clear(ctx context.Context, tenant string) (int64, error) {
	res := r.db.WithContext(ctx).Where("tenant = ?", tenant).Delete(&model.HistoryEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clear history: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Stats aggregates the tenant's history.
func (r *HistoryRepository) Stats(ctx context.Context, tenant string) (model.HistoryStats, error) {
	var agg struct {
		TotalContracts    int
		TotalClauses      int
		TotalHigh         int
		TotalMedium       int
		TotalLow          int
		HighRiskContracts int
	}
	err := r.db.WithContext(ctx).Model(&model.HistoryEntry{}).
		Select(`COUNT(*) AS total_contracts,
			COALESCE(SUM(num_clauses), 0) AS total_clauses,
			COALESCE(SUM(num_high), 0) AS total_high,
			COALESCE(SUM(num_medium), 0) AS total_medium,
			COALESCE(SUM(num_low), 0) AS total_low,
			COALESCE(SUM(CASE WHEN num_high > 0 THEN 1 ELSE 0 END), 0) AS high_risk_contracts`).
		Where("tenant = ?", tenant).
		Scan(&agg).Error
	if err != nil {
		return model.HistoryStats{}, fmt.Errorf("failed to aggregate history: %w", err)
	}

	stats := model.HistoryStats{
		TotalContracts:    agg.TotalContracts,
		TotalClauses:      agg.TotalClauses,
		HighRiskContracts: agg.HighRiskContracts,
		TotalHigh:         agg.TotalHigh,
		TotalMedium:       agg.TotalMedium,
		TotalLow:          agg.TotalLow,
	}
	if stats.TotalContracts > 0 {
		stats.AvgClausesPerDoc = float64(stats.TotalClauses) / float64(stats.TotalContracts)
	}
	return stats, nil
}

// Close releases the underlying connection pool.
func (r *HistoryRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
