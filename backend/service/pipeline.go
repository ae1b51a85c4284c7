package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AnTengye/compliancecheck/backend/model"
	"github.com/AnTengye/compliancecheck/backend/pkg/logger"
	"github.com/AnTengye/compliancecheck/backend/pkg/report"
	"github.com/google/uuid"
)

var (
	ErrDocumentNotFound      = errors.New("document not found")
	ErrDocumentNotReady      = errors.New("document analysis not completed")
	ErrExtractionUnavailable = errors.New("pdf extraction requires object storage and MinerU")
)

// AnalysisOutcome is everything produced for one document. It is what the
// result cache stores.
type AnalysisOutcome struct {
	Text        string                 `json:"text"`
	Clauses     []model.Clause         `json:"clauses"`
	Analyses    []model.ClauseAnalysis `json:"analyses"`
	Suggestions []model.Suggestion     `json:"suggestions"`
	Rows        []model.ReportRow      `json:"rows"`
	Summary     model.Summary          `json:"summary"`
}

// Extractor turns a hosted PDF into text blocks. MineruService implements it.
type Extractor interface {
	CreateTask(ctx context.Context, fileURL, dataID string) (string, error)
	WaitForResult(ctx context.Context, taskID string) ([]Block, error)
}

// Pipeline runs uploaded documents through extraction, analysis,
// suggestions and reporting. Each submitted document is processed by its
// own goroutine.
type Pipeline struct {
	store     *DocumentStore
	analyzer  *Analyzer
	rewriter  *Rewriter
	storage   ObjectStorage // nil without MinIO
	extractor Extractor     // nil without MinerU
	sheets    *SheetsExporter
	history   *HistoryRepository
	cache     *ResultCache
	now       func() time.Time

	mu      sync.Mutex
	running map[string]*run
}

type run struct {
	cancel context.CancelFunc
}

// PipelineDeps are the collaborators of a Pipeline. Only Store and Analyzer
// are required.
type PipelineDeps struct {
	Store     *DocumentStore
	Analyzer  *Analyzer
	Rewriter  *Rewriter
	Storage   ObjectStorage
	Extractor Extractor
	Sheets    *SheetsExporter
	History   *HistoryRepository
	Cache     *ResultCache
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	return &Pipeline{
		store:     deps.Store,
		analyzer:  deps.Analyzer,
		rewriter:  deps.Rewriter,
		storage:   deps.Storage,
		extractor: deps.Extractor,
		sheets:    deps.Sheets,
		history:   deps.History,
		cache:     deps.Cache,
		now:       time.Now,
		running:   make(map[string]*run),
	}
}

// Store returns the document store the pipeline writes to.
func (p *Pipeline) Store() *DocumentStore {
	return p.store
}

func (p *Pipeline) canExtract() bool {
	return p.storage != nil && p.extractor != nil
}

// Submit records a new document and starts processing it in the
// background. The returned document is a snapshot in pending state.
func (p *Pipeline) Submit(ctx context.Context, tenant, filename string, data []byte) (*model.Document, error) {
	contentType, ok := ContentTypeFor(filepath.Ext(filename))
	if !ok {
		return nil, fmt.Errorf("%s: %w", filename, ErrUnsupportedFormat)
	}
	remote := NeedsRemoteExtraction(filename)
	if remote && !p.canExtract() {
		return nil, ErrExtractionUnavailable
	}

	now := p.now()
	doc := &model.Document{
		ID:          uuid.New().String(),
		Filename:    filename,
		Tenant:      tenant,
		ContentHash: ContentKey(data),
		Status:      model.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if p.storage != nil {
		doc.ObjectName = DocumentObjectName(tenant, doc.ID, filename)
		if err := p.storage.Put(ctx, doc.ObjectName, data, contentType); err != nil {
			return nil, fmt.Errorf("failed to upload file: %w", err)
		}
		url, err := p.storage.PresignedURL(ctx, doc.ObjectName)
		if err != nil {
			return nil, fmt.Errorf("failed to generate URL: %w", err)
		}
		doc.FileURL = url
	}

	p.store.Save(doc)
	snapshot := *doc

	bg, done := p.start(ctx, doc.ID)
	go func() {
		defer done()
		p.process(bg, &snapshot, data)
	}()

	return &snapshot, nil
}

func (p *Pipeline) process(ctx context.Context, doc *model.Document, data []byte) {
	logger.Info(ctx, "processing document", "filename", doc.Filename, "tenant", doc.Tenant)

	if cached, ok := p.cache.Get(ctx, doc.ContentHash); ok {
		if p.store.Transition(doc.ID, model.StatusPending, model.StatusAnalyzing) {
			logger.Info(ctx, "reusing cached analysis", "content_hash", doc.ContentHash)
			p.complete(ctx, doc, cached)
		}
		return
	}

	if !NeedsRemoteExtraction(doc.Filename) {
		if !p.store.Transition(doc.ID, model.StatusPending, model.StatusAnalyzing) {
			return
		}
		blocks, err := ExtractBlocks(doc.Filename, data)
		if err != nil {
			p.fail(ctx, doc.ID, err)
			return
		}
		p.analyzeBlocks(ctx, doc, blocks)
		return
	}

	if !p.store.Transition(doc.ID, model.StatusPending, model.StatusExtracting) {
		return
	}
	taskID, err := p.extractor.CreateTask(ctx, doc.FileURL, doc.ID)
	if err != nil {
		p.fail(ctx, doc.ID, err)
		return
	}
	logger.Info(ctx, "extraction task created", "task_id", taskID)
	p.store.Update(doc.ID, func(d *model.Document) { d.MineruTaskID = taskID })

	blocks, err := p.extractor.WaitForResult(ctx, taskID)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info(ctx, "extraction polling stopped", "reason", ctx.Err())
			return
		}
		if p.store.Transition(doc.ID, model.StatusExtracting, model.StatusFailed) {
			p.store.UpdateStatus(doc.ID, model.StatusFailed, err.Error())
			logger.Error(ctx, "extraction failed", "error", err)
		}
		return
	}
	if !p.store.Transition(doc.ID, model.StatusExtracting, model.StatusAnalyzing) {
		return
	}
	p.analyzeBlocks(ctx, doc, blocks)
}

// ResumeWithBlocks continues a document whose extraction result arrived by
// callback. It reports false when the document is not waiting on
// extraction, for instance because the poller got there first.
func (p *Pipeline) ResumeWithBlocks(ctx context.Context, id string, blocks []Block) bool {
	if !p.store.Transition(id, model.StatusExtracting, model.StatusAnalyzing) {
		return false
	}
	doc := p.store.Get(id)
	if doc == nil {
		return false
	}
	p.stop(id)

	bg, done := p.start(ctx, id)
	go func() {
		defer done()
		p.analyzeBlocks(bg, doc, blocks)
	}()
	return true
}

// FailExtraction marks a document waiting on extraction as failed.
func (p *Pipeline) FailExtraction(ctx context.Context, id, msg string) bool {
	if !p.store.Transition(id, model.StatusExtracting, model.StatusFailed) {
		return false
	}
	p.store.UpdateStatus(id, model.StatusFailed, msg)
	p.stop(id)
	logger.Warn(ctx, "extraction reported failure", "document_id", id, "error", msg)
	return true
}

func (p *Pipeline) analyzeBlocks(ctx context.Context, doc *model.Document, blocks []Block) {
	out, err := p.Analyze(ctx, blocks)
	if err != nil {
		if ctx.Err() != nil {
			logger.Info(ctx, "analysis stopped", "reason", ctx.Err())
			return
		}
		p.fail(ctx, doc.ID, err)
		return
	}
	p.cache.Set(ctx, doc.ContentHash, out)
	p.complete(ctx, doc, out)
}

// Analyze splits blocks into clauses and produces the full report.
func (p *Pipeline) Analyze(ctx context.Context, blocks []Block) (*AnalysisOutcome, error) {
	clauses := BuildClauses(blocks)
	if len(clauses) == 0 {
		return nil, ErrNoClauses
	}
	logger.Info(ctx, "clauses extracted", "count", len(clauses))

	analyses, err := p.analyzer.Analyze(ctx, clauses)
	if err != nil {
		return nil, err
	}
	suggestions, err := p.analyzer.Suggest(ctx, analyses)
	if err != nil {
		return nil, err
	}

	rows := report.CombineRows(clauses, analyses, suggestions)
	return &AnalysisOutcome{
		Text:        blocksText(blocks),
		Clauses:     clauses,
		Analyses:    analyses,
		Suggestions: suggestions,
		Rows:        rows,
		Summary:     report.Summarize(rows),
	}, nil
}

// AnalyzeFile runs the whole pipeline synchronously. PDFs go through object
// storage and the extractor like background uploads do.
func (p *Pipeline) AnalyzeFile(ctx context.Context, tenant, filename string, data []byte) (*AnalysisOutcome, error) {
	contentType, ok := ContentTypeFor(filepath.Ext(filename))
	if !ok {
		return nil, fmt.Errorf("%s: %w", filename, ErrUnsupportedFormat)
	}

	hash := ContentKey(data)
	if cached, ok := p.cache.Get(ctx, hash); ok {
		return cached, nil
	}

	var blocks []Block
	var err error
	if NeedsRemoteExtraction(filename) {
		blocks, err = p.extractRemote(ctx, tenant, filename, data, contentType)
	} else {
		blocks, err = ExtractBlocks(filename, data)
	}
	if err != nil {
		return nil, err
	}

	out, err := p.Analyze(ctx, blocks)
	if err != nil {
		return nil, err
	}
	p.cache.Set(ctx, hash, out)
	return out, nil
}

func (p *Pipeline) extractRemote(ctx context.Context, tenant, filename string, data []byte, contentType string) ([]Block, error) {
	if !p.canExtract() {
		return nil, ErrExtractionUnavailable
	}
	id := uuid.New().String()
	objectName := DocumentObjectName(tenant, id, filename)
	if err := p.storage.Put(ctx, objectName, data, contentType); err != nil {
		return nil, fmt.Errorf("failed to upload file: %w", err)
	}
	url, err := p.storage.PresignedURL(ctx, objectName)
	if err != nil {
		return nil, fmt.Errorf("failed to generate URL: %w", err)
	}
	taskID, err := p.extractor.CreateTask(ctx, url, id)
	if err != nil {
		return nil, err
	}
	return p.extractor.WaitForResult(ctx, taskID)
}

func (p *Pipeline) complete(ctx context.Context, doc *model.Document, out *AnalysisOutcome) {
	if ctx.Err() != nil {
		return
	}
	p.store.Complete(doc.ID, out)
	logger.Info(ctx, "analysis completed",
		"clauses", out.Summary.TotalClauses,
		"high", out.Summary.High,
		"medium", out.Summary.Medium,
		"low", out.Summary.Low,
	)

	if p.history == nil {
		return
	}
	entry, err := p.history.Save(ctx, doc.Tenant, doc.Filename, out.Summary, "")
	if err != nil {
		logger.Error(ctx, "failed to record history", "error", err)
		return
	}
	p.store.Update(doc.ID, func(d *model.Document) { d.HistoryID = entry.ID })
}

func (p *Pipeline) fail(ctx context.Context, id string, err error) {
	logger.Error(ctx, "document processing failed", "error", err)
	p.store.UpdateStatus(id, model.StatusFailed, err.Error())
}

// ExportSheet writes the document's report to a new Google Sheets tab.
func (p *Pipeline) ExportSheet(ctx context.Context, doc *model.Document) (*SheetResult, error) {
	if p.sheets == nil {
		return nil, ErrSheetsNotConfigured
	}
	if doc.Status != model.StatusCompleted {
		return nil, ErrDocumentNotReady
	}
	res, err := p.sheets.Export(ctx, doc.Filename, doc.Rows)
	if err != nil {
		return nil, err
	}

	p.store.Update(doc.ID, func(d *model.Document) { d.SheetName = res.Name })
	if p.history != nil && doc.HistoryID != 0 {
		if err := p.history.SetSheetName(ctx, doc.HistoryID, res.Name); err != nil {
			logger.Warn(ctx, "failed to record sheet name", "error", err)
		}
	}
	return res, nil
}

// SheetsEnabled reports whether ExportSheet can work.
func (p *Pipeline) SheetsEnabled() bool {
	return p.sheets != nil
}

// Rewrite produces a compliant version of the document's high-risk clauses
// and stores the modified contract when object storage is available.
func (p *Pipeline) Rewrite(ctx context.Context, doc *model.Document) (*RewriteResult, error) {
	if doc.Status != model.StatusCompleted {
		return nil, ErrDocumentNotReady
	}
	if p.rewriter == nil {
		return nil, errors.New("rewriter not configured")
	}
	res, err := p.rewriter.Rewrite(ctx, doc.Filename, doc.Text, doc.Analyses)
	if err != nil {
		return nil, err
	}
	if p.storage == nil || res.Replaced == 0 {
		return res, nil
	}

	name := RewriteObjectName(doc.Tenant, doc.ID, p.now())
	if err := p.storage.Put(ctx, name, []byte(res.ModifiedText), "text/plain; charset=utf-8"); err != nil {
		logger.Warn(ctx, "failed to store rewritten contract", "error", err)
		return res, nil
	}
	url, err := p.storage.PresignedURL(ctx, name)
	if err != nil {
		logger.Warn(ctx, "failed to presign rewritten contract", "error", err)
		return res, nil
	}
	res.URL = url
	return res, nil
}

// Delete stops any work on the document and removes it with its stored file.
func (p *Pipeline) Delete(ctx context.Context, doc *model.Document) {
	p.stop(doc.ID)
	if p.storage != nil && doc.ObjectName != "" {
		if err := p.storage.Remove(ctx, doc.ObjectName); err != nil {
			logger.Warn(ctx, "failed to remove stored file", "object", doc.ObjectName, "error", err)
		}
	}
	p.store.Delete(doc.ID)
}

// Shutdown cancels every in-flight document.
func (p *Pipeline) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, r := range p.running {
		r.cancel()
		delete(p.running, id)
	}
}

// start derives a context for background work on a document that outlives
// the request but not a Delete or Shutdown. done releases it.
func (p *Pipeline) start(ctx context.Context, id string) (context.Context, func()) {
	bg := logger.WithValue(context.WithoutCancel(ctx), logger.DocumentIDKey, id)
	bg, cancel := context.WithCancel(bg)
	r := &run{cancel: cancel}

	p.mu.Lock()
	p.running[id] = r
	p.mu.Unlock()

	return bg, func() {
		cancel()
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.running[id] == r {
			delete(p.running, id)
		}
	}
}

func (p *Pipeline) stop(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.running[id]; ok {
		r.cancel()
		delete(p.running, id)
	}
}

func blocksText(blocks []Block) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if t := strings.TrimSpace(b.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, blockSeparator)
}
