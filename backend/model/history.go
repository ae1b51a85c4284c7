package model

import "time"

// HistoryEntry records one completed analysis.
type HistoryEntry struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Tenant     string    `gorm:"index;size:128" json:"tenant"`
	Filename   string    `gorm:"size:512" json:"filename"`
	Timestamp  time.Time `json:"timestamp"`
	NumClauses int       `json:"num_clauses"`
	NumHigh    int       `json:"num_high"`
	NumMedium  int       `json:"num_medium"`
	NumLow     int       `json:"num_low"`
	SheetName  string    `gorm:"size:256" json:"sheet_name"`
}

// TableName keeps the historic table name.
func (HistoryEntry) TableName() string {
	return "history"
}

// HistoryStats aggregates a tenant's history.
type HistoryStats struct {
	TotalContracts    int     `json:"total_contracts"`
	TotalClauses      int     `json:"total_clauses"`
	AvgClausesPerDoc  float64 `json:"avg_clauses_per_contract"`
	HighRiskContracts int     `json:"high_risk_contracts"`
	TotalHigh         int     `json:"total_high"`
	TotalMedium       int     `json:"total_medium"`
	TotalLow          int     `json:"total_low"`
}
