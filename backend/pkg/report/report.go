// Package report combines clause analysis into report rows and renders them
// as CSV or XLSX.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/AnTengye/compliancecheck/backend/model"
	"github.com/xuri/excelize/v2"
)

const (
	clauseTextLimit = 1000

	SheetName = "Compliance Report"
)

// Defaults used when a clause has no analysis or suggestion.
const (
	DefaultClauseType   = "unknown"
	DefaultRelevance    = "minimal"
	DefaultNotAnalyzed  = "Not analyzed"
	DefaultSuggestion   = "No suggestion generated"
	DefaultRiskSeverity = model.SeverityUnknown
)

// CombineRows builds one row per clause. When several analyses or
// suggestions name the same clause the last one wins.
func CombineRows(clauses []model.Clause, analyses []model.ClauseAnalysis, suggestions []model.Suggestion) []model.ReportRow {
	analysisByID := make(map[int]model.ClauseAnalysis, len(analyses))
	for _, a := range analyses {
		analysisByID[a.ClauseID] = a
	}
	suggestionByID := make(map[int]model.Suggestion, len(suggestions))
	for _, s := range suggestions {
		if s.ClauseID != 0 {
			suggestionByID[s.ClauseID] = s
		}
	}

	rows := make([]model.ReportRow, 0, len(clauses))
	for i, c := range clauses {
		id := c.ChunkID
		if id == 0 {
			id = i + 1
		}

		row := model.ReportRow{
			ClauseID:            id,
			ClauseText:          truncateText(c.Content, clauseTextLimit),
			ClauseType:          orDefault(c.PrimaryType, DefaultClauseType),
			RegulatoryRelevance: orDefault(c.RegulatoryRelevance, DefaultRelevance),
			Regulation:          DefaultNotAnalyzed,
			RiskDescription:     DefaultNotAnalyzed,
			RiskSeverity:        DefaultRiskSeverity,
			Suggestion:          DefaultSuggestion,
		}
		if a, ok := analysisByID[id]; ok {
			row.Regulation = a.Regulation
			row.RiskDescription = a.Risk
			row.RiskSeverity = a.Severity
		}
		if s, ok := suggestionByID[id]; ok {
			row.Suggestion = s.Suggestion
		}
		rows = append(rows, row)
	}
	return rows
}

// Summarize counts severities case-insensitively. HighRiskRate is the share
// of High among rows rated High, Medium or Low.
func Summarize(rows []model.ReportRow) model.Summary {
	s := model.Summary{TotalClauses: len(rows)}
	for _, r := range rows {
		switch strings.ToLower(strings.TrimSpace(r.RiskSeverity)) {
		case "high":
			s.High++
		case "medium":
			s.Medium++
		case "low":
			s.Low++
		}
	}
	if rated := s.High + s.Medium + s.Low; rated > 0 {
		s.HighRiskRate = float64(s.High) / float64(rated) * 100
	}
	return s
}

// Filter selects rows. Empty fields and "All" match everything.
type Filter struct {
	Severity   string `form:"severity"`
	Regulation string `form:"regulation"`
	Search     string `form:"q"`
}

// FilterRows keeps rows with the given severity, whose regulation mentions
// the given name, and whose clause text contains the search term. All
// comparisons ignore case.
func FilterRows(rows []model.ReportRow, f Filter) []model.ReportRow {
	severity := normalizeFilter(f.Severity)
	regulation := normalizeFilter(f.Regulation)
	search := strings.ToLower(strings.TrimSpace(f.Search))

	out := make([]model.ReportRow, 0, len(rows))
	for _, r := range rows {
		if severity != "" && strings.ToLower(strings.TrimSpace(r.RiskSeverity)) != severity {
			continue
		}
		if regulation != "" && !strings.Contains(strings.ToLower(r.Regulation), regulation) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(r.ClauseText), search) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func normalizeFilter(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "all" {
		return ""
	}
	return v
}

// Values renders a row in ReportColumns order.
func Values(r model.ReportRow) []string {
	return []string{
		strconv.Itoa(r.ClauseID),
		r.ClauseText,
		r.ClauseType,
		r.RegulatoryRelevance,
		r.Regulation,
		r.RiskDescription,
		r.RiskSeverity,
		r.Suggestion,
	}
}

// WriteCSV writes a header line and one record per row.
func WriteCSV(w io.Writer, rows []model.ReportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(model.ReportColumns); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(Values(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes a workbook with a bold header row and one line per row.
func WriteXLSX(w io.Writer, rows []model.ReportRow) error {
	f, err := BuildWorkbook(rows)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// BuildWorkbook lays the rows out on a single sheet.
func BuildWorkbook(rows []model.ReportRow) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]any, len(model.ReportColumns))
	for i, col := range model.ReportColumns {
		header[i] = col
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#E6E6E6"}},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(len(model.ReportColumns), 1)
	if err := f.SetCellStyle(SheetName, "A1", last, bold); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to style header: %w", err)
	}

	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := []any{
			r.ClauseID, r.ClauseText, r.ClauseType, r.RegulatoryRelevance,
			r.Regulation, r.RiskDescription, r.RiskSeverity, r.Suggestion,
		}
		if err := f.SetSheetRow(SheetName, cell, &values); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	_ = f.SetColWidth(SheetName, "B", "B", 80)
	_ = f.SetColWidth(SheetName, "F", "H", 50)
	return f, nil
}

func truncateText(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
