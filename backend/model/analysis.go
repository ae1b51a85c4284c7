package model

import "strings"

// Severity levels returned by clause analysis.
const (
	SeverityHigh    = "High"
	SeverityMedium  = "Medium"
	SeverityLow     = "Low"
	SeverityUnknown = "Unknown"
)

// Regulation labels used when the model gives nothing better.
const (
	RegulationGeneral       = "General Legal"
	RegulationAnalysisError = "Analysis Error"
)

// Regulations is the closed list offered to the model.
var Regulations = []string{
	"GDPR", "HIPAA", "SOX", "PCI-DSS", "FDA", "EMA", "CCPA",
	"Export Controls", "Employment Law", "Tax", RegulationGeneral,
}

// Clause is one chunk of contract text.
type Clause struct {
	ChunkID             int    `json:"chunk_id"`
	Content             string `json:"content"`
	PrimaryType         string `json:"primary_type"`
	RegulatoryRelevance string `json:"regulatory_relevance"`
}

// ClauseAnalysis is the model's verdict on one clause.
type ClauseAnalysis struct {
	ClauseID   int    `json:"clause_id"`
	Regulation string `json:"regulation"`
	Risk       string `json:"risk"`
	Severity   string `json:"severity"`
	Clause     string `json:"clause"`
}

// IsHigh reports whether the analysis carries High severity.
func (a ClauseAnalysis) IsHigh() bool {
	return strings.EqualFold(strings.TrimSpace(a.Severity), SeverityHigh)
}

// Suggestion is a remediation proposal for one clause. ClauseID is 0 when
// the model did not say which clause it meant and no position matched.
type Suggestion struct {
	ClauseID   int    `json:"clause_id"`
	Suggestion string `json:"suggestion"`
	Clause     string `json:"clause"`
}

// ReportRow is one line of the combined compliance report.
type ReportRow struct {
	ClauseID            int    `json:"Clause_ID"`
	ClauseText          string `json:"Clause_Text"`
	ClauseType          string `json:"Clause_Type"`
	RegulatoryRelevance string `json:"Regulatory_Relevance"`
	Regulation          string `json:"Regulation"`
	RiskDescription     string `json:"Risk_Description"`
	RiskSeverity        string `json:"Risk_Severity"`
	Suggestion          string `json:"Suggestion"`
}

// ReportColumns is the column order used by every export.
var ReportColumns = []string{
	"Clause_ID", "Clause_Text", "Clause_Type", "Regulatory_Relevance",
	"Regulation", "Risk_Description", "Risk_Severity", "Suggestion",
}

// Summary aggregates severities over a report.
type Summary struct {
	TotalClauses int     `json:"total_clauses"`
	High         int     `json:"high"`
	Medium       int     `json:"medium"`
	Low          int     `json:"low"`
	HighRiskRate float64 `json:"high_risk_rate"` // percentage of rated clauses
}
