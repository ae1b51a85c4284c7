package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/AnTengye/compliancecheck/backend/middleware"
	"github.com/AnTengye/compliancecheck/backend/model"
	"github.com/AnTengye/compliancecheck/backend/pkg/logger"
	"github.com/AnTengye/compliancecheck/backend/pkg/report"
	"github.com/AnTengye/compliancecheck/backend/service"
	"github.com/gin-gonic/gin"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type ContractHandler struct {
	pipeline       *service.Pipeline
	store          *service.DocumentStore
	maxUploadBytes int64
}

func NewContractHandler(p *service.Pipeline, maxUploadBytes int64) *ContractHandler {
	return &ContractHandler{
		pipeline:       p,
		store:          p.Store(),
		maxUploadBytes: maxUploadBytes,
	}
}

// Upload stores the file and starts the analysis in the background.
func (h *ContractHandler) Upload(c *gin.Context) {
	tenant := middleware.GetTenant(c)
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("File exceeds %d bytes", h.maxUploadBytes)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
		return
	}

	if strings.EqualFold(filepath.Ext(header.Filename), service.ExtPDF) && !looksLikePDF(data) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file type"})
		return
	}

	doc, err := h.pipeline.Submit(c.Request.Context(), tenant, header.Filename, data)
	switch {
	case errors.Is(err, service.ErrUnsupportedFormat):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only PDF, DOCX, TXT and MD files are allowed"})
		return
	case errors.Is(err, service.ErrExtractionUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		logger.Error(c.Request.Context(), "upload failed", "filename", header.Filename, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upload file: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":       doc.ID,
		"filename": doc.Filename,
		"file_url": doc.FileURL,
		"status":   doc.Status,
	})
}

// looksLikePDF sniffs the first bytes the way browsers do.
func looksLikePDF(data []byte) bool {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return true
	}
	detected := http.DetectContentType(data)
	return strings.Contains(detected, "pdf") || detected == "application/octet-stream"
}

// List returns all documents for the current tenant
func (h *ContractHandler) List(c *gin.Context) {
	docs := h.store.GetByTenant(middleware.GetTenant(c))

	result := make([]gin.H, len(docs))
	for i, d := range docs {
		item := gin.H{
			"id":         d.ID,
			"filename":   d.Filename,
			"status":     d.Status,
			"created_at": d.CreatedAt.Format(time.RFC3339),
			"updated_at": d.UpdatedAt.Format(time.RFC3339),
		}
		if d.Summary != nil {
			item["summary"] = d.Summary
		}
		result[i] = item
	}

	c.JSON(http.StatusOK, gin.H{"contracts": result})
}

// lookup finds the tenant's document named by the :id parameter and writes
// a 404 when there is none.
func (h *ContractHandler) lookup(c *gin.Context) (*model.Document, bool) {
	doc := h.store.Get(c.Param("id"))
	if doc == nil || doc.Tenant != middleware.GetTenant(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contract not found"})
		return nil, false
	}
	return doc, true
}

// Get returns a single document with its report
func (h *ContractHandler) Get(c *gin.Context) {
	doc, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, doc)
}

// GetStatus returns the processing status of a document
func (h *ContractHandler) GetStatus(c *gin.Context) {
	doc, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":        doc.ID,
		"status":    doc.Status,
		"error_msg": doc.ErrorMsg,
	})
}

// Delete removes a document and its stored file
func (h *ContractHandler) Delete(c *gin.Context) {
	doc, ok := h.lookup(c)
	if !ok {
		return
	}
	h.pipeline.Delete(c.Request.Context(), doc)
	c.JSON(http.StatusOK, gin.H{"message": "Contract deleted"})
}

// Export downloads the filtered report as CSV or XLSX.
func (h *ContractHandler) Export(c *gin.Context) {
	doc, ok := h.lookup(c)
	if !ok {
		return
	}
	if doc.Status != model.StatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "Analysis not completed", "status": doc.Status})
		return
	}

	var filter report.Filter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filter"})
		return
	}
	rows := report.FilterRows(doc.Rows, filter)
	base := strings.TrimSuffix(doc.Filename, filepath.Ext(doc.Filename)) + "_compliance_report"

	var (
		buf         bytes.Buffer
		err         error
		contentType string
		filename    string
	)
	switch strings.ToLower(c.DefaultQuery("format", "csv")) {
	case "csv":
		err = report.WriteCSV(&buf, rows)
		contentType, filename = "text/csv; charset=utf-8", base+".csv"
	case "xlsx":
		err = report.WriteXLSX(&buf, rows)
		contentType, filename = xlsxContentType, base+".xlsx"
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv or xlsx"})
		return
	}
	if err != nil {
		logger.Error(c.Request.Context(), "export failed", "document_id", doc.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build report"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, buf.Bytes())
}

// ExportSheet writes the report to a new Google Sheets tab.
func (h *ContractHandler) ExportSheet(c *gin.Context) {
	doc, ok := h.lookup(c)
	if !ok {
		return
	}

	res, err := h.pipeline.ExportSheet(c.Request.Context(), doc)
	switch {
	case errors.Is(err, service.ErrSheetsNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrDocumentNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": doc.Status})
	case errors.Is(err, service.ErrNoRows):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		logger.Error(c.Request.Context(), "sheets export failed", "document_id", doc.ID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to export to Google Sheets: " + err.Error()})
	default:
		c.JSON(http.StatusOK, res)
	}
}

// Rewrite proposes compliant wording for the high-risk clauses.
func (h *ContractHandler) Rewrite(c *gin.Context) {
	doc, ok := h.lookup(c)
	if !ok {
		return
	}

	res, err := h.pipeline.Rewrite(c.Request.Context(), doc)
	switch {
	case errors.Is(err, service.ErrDocumentNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": doc.Status})
	case errors.Is(err, service.ErrNoHighRisk):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case err != nil:
		logger.Error(c.Request.Context(), "rewrite failed", "document_id", doc.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to rewrite contract"})
	default:
		c.JSON(http.StatusOK, res)
	}
}
