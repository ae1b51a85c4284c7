package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/AnTengye/compliancecheck/backend/model"
	"github.com/AnTengye/compliancecheck/backend/pkg/report"
	"github.com/AnTengye/compliancecheck/backend/service"
	"github.com/spf13/cobra"
)

const cliTenant = "cli"

var (
	analyzeOut    string
	analyzeSheets bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Analyze one contract and print its summary",
	Long: `Runs the full analysis on a PDF, DOCX, TXT or MD contract without starting
the web service. PDFs need MinIO and MinerU to be configured.

Example:
  compliancecheck analyze msa.docx --out report.xlsx --sheets`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeOut, "out", "o", "", "write the report to this .xlsx or .csv file")
	analyzeCmd.Flags().BoolVar(&analyzeSheets, "sheets", false, "also export the report to Google Sheets")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	filename := filepath.Base(path)
	out, err := a.pipeline.AnalyzeFile(ctx, cliTenant, filename, data)
	if err != nil {
		return fmt.Errorf("analysis of %s failed: %w", filename, err)
	}
	printSummary(cmd.OutOrStdout(), filename, out.Summary)

	if analyzeOut != "" {
		if err := writeReport(analyzeOut, out.Rows); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", analyzeOut)
	}

	var sheetName string
	if analyzeSheets {
		if a.sheets == nil {
			return service.ErrSheetsNotConfigured
		}
		res, err := a.sheets.Export(ctx, filename, out.Rows)
		if err != nil {
			return err
		}
		sheetName = res.Name
		fmt.Fprintf(cmd.OutOrStdout(), "Exported to sheet %q: %s\n", res.Name, res.URL)
	}

	if a.history != nil {
		if _, err := a.history.Save(ctx, cliTenant, filename, out.Summary, sheetName); err != nil {
			return err
		}
	}
	return nil
}

func printSummary(w io.Writer, filename string, s model.Summary) {
	fmt.Fprintf(w, "%s\n", filename)
	fmt.Fprintf(w, "  clauses:   %d\n", s.TotalClauses)
	fmt.Fprintf(w, "  high:      %d\n", s.High)
	fmt.Fprintf(w, "  medium:    %d\n", s.Medium)
	fmt.Fprintf(w, "  low:       %d\n", s.Low)
	fmt.Fprintf(w, "  high risk: %.1f%%\n", s.HighRiskRate)
}

// writeReport picks the format from the file extension.
func writeReport(path string, rows []model.ReportRow) error {
	var buf bytes.Buffer
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		err = report.WriteXLSX(&buf, rows)
	case ".csv":
		err = report.WriteCSV(&buf, rows)
	default:
		return fmt.Errorf("unsupported report format %q, use .xlsx or .csv", filepath.Ext(path))
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
