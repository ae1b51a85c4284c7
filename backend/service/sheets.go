package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/AnTengye/compliancecheck/backend/config"
	"github.com/AnTengye/compliancecheck/backend/model"
	"github.com/AnTengye/compliancecheck/backend/pkg/logger"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var (
	ErrSheetsNotConfigured = errors.New("missing spreadsheet id or Google credentials")
	ErrNoRows              = errors.New("no rows to export")
)

const sheetBaseChars = 20

// SheetResult identifies the tab a report was written to.
type SheetResult struct {
	Name    string `json:"sheet_name"`
	SheetID int64  `json:"sheet_id"`
	URL     string `json:"url"`
}

// SheetsExporter writes each report into a new tab of one spreadsheet.
type SheetsExporter struct {
	svc           *sheets.Service
	spreadsheetID string
	now           func() time.Time
}

// NewSheetsExporter authenticates with the service account file from cfg.
func NewSheetsExporter(ctx context.Context, cfg *config.SheetsConfig) (*SheetsExporter, error) {
	if !cfg.Enabled() {
		return nil, ErrSheetsNotConfigured
	}
	return newSheetsExporter(ctx, cfg.SpreadsheetID,
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
}

func newSheetsExporter(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*SheetsExporter, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets client: %w", err)
	}
	return &SheetsExporter{svc: svc, spreadsheetID: spreadsheetID, now: time.Now}, nil
}

// SheetName derives a tab name from the uploaded file name: letters, digits,
// '-' and '_' of the base name, at most 20 of them, then a timestamp.
func SheetName(filename string, at time.Time) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	var sb strings.Builder
	n := 0
	for _, r := range base {
		if n == sheetBaseChars {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			sb.WriteRune(r)
			n++
		}
	}
	return sb.String() + "_" + at.Format("20060102_150405")
}

// uniqueSheetName appends _1, _2, ... until name is not taken.
func uniqueSheetName(name string, existing map[string]bool) string {
	candidate := name
	for i := 1; existing[candidate]; i++ {
		candidate = fmt.Sprintf("%s_%d", name, i)
	}
	return candidate
}

// a1Range addresses cell on the named tab. Tab names are always quoted so
// names with '-' or spaces parse; embedded quotes are doubled.
func a1Range(sheet, cell string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + cell
}

// SheetURL links straight to one tab of a spreadsheet.
func SheetURL(spreadsheetID string, sheetID int64) string {
	return fmt.Sprintf("https://docs.google.com/spreadsheets/d/%s/edit#gid=%d", spreadsheetID, sheetID)
}

// Export adds a tab named after filename and writes the header and rows
// into it. A failure to format the header is only logged.
func (e *SheetsExporter) Export(ctx context.Context, filename string, rows []model.ReportRow) (*SheetResult, error) {
	if len(rows) == 0 {
		return nil, ErrNoRows
	}

	values := make([][]any, 0, len(rows)+1)
	header := make([]any, len(model.ReportColumns))
	for i, c := range model.ReportColumns {
		header[i] = c
	}
	values = append(values, header)
	for _, r := range rows {
		values = append(values, []any{
			r.ClauseID, r.ClauseText, r.ClauseType, r.RegulatoryRelevance,
			r.Regulation, r.RiskDescription, r.RiskSeverity, r.Suggestion,
		})
	}
	cols := int64(len(header))

	spreadsheet, err := e.svc.Spreadsheets.Get(e.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read spreadsheet: %w", err)
	}
	existing := make(map[string]bool, len(spreadsheet.Sheets))
	for _, s := range spreadsheet.Sheets {
		if s.Properties != nil {
			existing[s.Properties.Title] = true
		}
	}
	name := uniqueSheetName(SheetName(filename, e.now()), existing)

	logger.Info(ctx, "creating sheet", "sheet_name", name, "rows", len(rows))
	added, err := e.svc.Spreadsheets.BatchUpdate(e.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{
					Title: name,
					GridProperties: &sheets.GridProperties{
						RowCount:    int64(len(values)) + 10,
						ColumnCount: cols,
					},
				},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to add sheet: %w", err)
	}
	if len(added.Replies) == 0 || added.Replies[0].AddSheet == nil || added.Replies[0].AddSheet.Properties == nil {
		return nil, errors.New("add sheet returned no properties")
	}
	sheetID := added.Replies[0].AddSheet.Properties.SheetId

	_, err = e.svc.Spreadsheets.Values.Update(e.spreadsheetID, a1Range(name, "A1"), &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to write values: %w", err)
	}

	_, err = e.svc.Spreadsheets.BatchUpdate(e.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   cols,
					ForceSendFields:  []string{"SheetId", "StartRowIndex", "StartColumnIndex"},
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat:      &sheets.TextFormat{Bold: true},
						BackgroundColor: &sheets.Color{Red: 0.9, Green: 0.9, Blue: 0.9},
					},
				},
				Fields: "userEnteredFormat(textFormat,backgroundColor)",
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		logger.Warn(ctx, "could not format sheet header", "sheet_name", name, "error", err)
	}

	result := &SheetResult{Name: name, SheetID: sheetID, URL: SheetURL(e.spreadsheetID, sheetID)}
	logger.Info(ctx, "report saved to sheets", "sheet_name", name, "url", result.URL)
	return result, nil
}
