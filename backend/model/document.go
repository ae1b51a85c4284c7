package model

import (
	"time"
)

// Document is an uploaded contract going through the analysis pipeline.
type Document struct {
	ID           string           `json:"id"`
	Filename     string           `json:"filename"`
	Tenant       string           `json:"tenant"`
	ObjectName   string           `json:"object_name,omitempty"`
	FileURL      string           `json:"file_url,omitempty"`
	ContentHash  string           `json:"content_hash,omitempty"`
	Status       string           `json:"status"` // pending, extracting, analyzing, completed, failed
	MineruTaskID string           `json:"mineru_task_id,omitempty"`
	Text         string           `json:"-"`
	Clauses      []Clause         `json:"clauses,omitempty"`
	Analyses     []ClauseAnalysis `json:"analyses,omitempty"`
	Rows         []ReportRow      `json:"rows,omitempty"`
	Summary      *Summary         `json:"summary,omitempty"`
	SheetName    string           `json:"sheet_name,omitempty"`
	HistoryID    uint             `json:"history_id,omitempty"`
	ErrorMsg     string           `json:"error_msg,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// Document status constants
const (
	StatusPending    = "pending"
	StatusExtracting = "extracting"
	StatusAnalyzing  = "analyzing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Terminal reports whether no further processing will happen.
func (d *Document) Terminal() bool {
	return d.Status == StatusCompleted || d.Status == StatusFailed
}
