package service

import (
	"context"
	"testing"
	"time"

	"github.com/AnTengye/compliancecheck/backend/config"
	"github.com/AnTengye/compliancecheck/backend/model"
)

func newTestHistory(t *testing.T) *HistoryRepository {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	repo, err := OpenHistory(&config.HistoryConfig{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("OpenHistory failed: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestHistorySaveAndList(t *testing.T) {
	repo := newTestHistory(t)
	ctx := context.Background()
	fixed := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	if _, err := repo.Save(ctx, "acme", "first.pdf", model.Summary{TotalClauses: 4, High: 1, Medium: 2, Low: 1}, "first_sheet"); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	entry, err := repo.Save(ctx, "acme", "second.pdf", model.Summary{TotalClauses: 2, Low: 2}, "")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if entry.ID == 0 {
		t.Error("Expected an assigned id")
	}
	repo.Save(ctx, "other", "foreign.pdf", model.Summary{TotalClauses: 9, High: 9}, "")

	entries, err := repo.List(ctx, "acme")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Filename != "second.pdf" || entries[1].Filename != "first.pdf" {
		t.Errorf("Expected newest first, got %s, %s", entries[0].Filename, entries[1].Filename)
	}
	if entries[1].NumHigh != 1 || entries[1].NumMedium != 2 || entries[1].SheetName != "first_sheet" {
		t.Errorf("Unexpected entry %+v", entries[1])
	}
	if !entries[1].Timestamp.Equal(fixed) {
		t.Errorf("Expected timestamp %v, got %v", fixed, entries[1].Timestamp)
	}
}

func TestHistoryStats(t *testing.T) {
	repo := newTestHistory(t)
	ctx := context.Background()

	repo.Save(ctx, "acme", "a.pdf", model.Summary{TotalClauses: 10, High: 2, Medium: 3, Low: 5}, "")
	repo.Save(ctx, "acme", "b.pdf", model.Summary{TotalClauses: 5, Medium: 1, Low: 4}, "")
	repo.Save(ctx, "acme", "c.pdf", model.Summary{TotalClauses: 3, High: 1}, "")
	repo.Save(ctx, "other", "x.pdf", model.Summary{TotalClauses: 100, High: 50}, "")

	stats, err := repo.Stats(ctx, "acme")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	want := model.HistoryStats{
		TotalContracts:    3,
		TotalClauses:      18,
		AvgClausesPerDoc:  6,
		HighRiskContracts: 2,
		TotalHigh:         3,
		TotalMedium:       4,
		TotalLow:          9,
	}
	if stats != want {
		t.Errorf("Expected %+v, got %+v", want, stats)
	}

	empty, err := repo.Stats(ctx, "nobody")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if empty != (model.HistoryStats{}) {
		t.Errorf("Expected zero stats, got %+v", empty)
	}
}

func TestHistoryClear(t *testing.T) {
	repo := newTestHistory(t)
	ctx := context.Background()

	repo.Save(ctx, "acme", "a.pdf", model.Summary{}, "")
	repo.Save(ctx, "acme", "b.pdf", model.Summary{}, "")
	repo.Save(ctx, "other", "c.pdf", model.Summary{}, "")

	n, err := repo.Clear(ctx, "acme")
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Expected 2 deleted rows, got %d", n)
	}
	if entries, _ := repo.List(ctx, "acme"); len(entries) != 0 {
		t.Errorf("Expected empty history, got %d", len(entries))
	}
	if entries, _ := repo.List(ctx, "other"); len(entries) != 1 {
		t.Error("Expected other tenant untouched")
	}
}

func TestOpenHistoryUnsupportedDriver(t *testing.T) {
	if _, err := OpenHistory(&config.HistoryConfig{Driver: "oracle"}); err == nil {
		t.Error("Expected error for unsupported driver")
	}
}

func TestHistorySetSheetName(t *testing.T) {
	repo := newTestHistory(t)
	ctx := context.Background()

	entry, err := repo.Save(ctx, "acme", "a.pdf", model.Summary{TotalClauses: 1}, "")
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := repo.SetSheetName(ctx, entry.ID, "a_20240309_140506"); err != nil {
		t.Fatalf("SetSheetName failed: %v", err)
	}
	entries, _ := repo.List(ctx, "acme")
	if len(entries) != 1 || entries[0].SheetName != "a_20240309_140506" {
		t.Errorf("Expected sheet name recorded, got %+v", entries)
	}
}
