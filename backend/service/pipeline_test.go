package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AnTengye/compliancecheck/backend/model"
	"github.com/AnTengye/compliancecheck/backend/pkg/llm"
)

const sampleContract = "1. The supplier accepts unlimited liability for all damages arising here.\n\n" +
	"2. Payment of every invoice is due within thirty days of receipt."

var promptClause = regexp.MustCompile(`(?m)^Clause (\d+): (.*)$`)

// complianceLLM rates clauses mentioning "unlimited" as High and everything
// else as Low, suggests a fix per clause, and rewrites on request.
func complianceLLM() llm.Completer {
	return llm.CompleterFunc(func(_ context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "rewrite the following clause") {
			return "The supplier's liability is capped at the fees paid.", nil
		}
		var items []string
		for _, m := range promptClause.FindAllStringSubmatch(prompt, -1) {
			if strings.Contains(prompt, "compliance advisor") {
				items = append(items, fmt.Sprintf(`{"clause_id": %s, "suggestion": "Review clause %s"}`, m[1], m[1]))
				continue
			}
			severity := "Low"
			if strings.Contains(m[2], "unlimited") {
				severity = "High"
			}
			items = append(items, fmt.Sprintf(`{"clause_id": %s, "regulation": "General Legal", "risk": "r%s", "severity": "%s"}`, m[1], m[1], severity))
		}
		return "[" + strings.Join(items, ",") + "]", nil
	})
}

// memoryStorage is an ObjectStorage kept in a map.
type memoryStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{objects: make(map[string][]byte)}
}

func (m *memoryStorage) Put(_ context.Context, name string, data []byte, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = append([]byte(nil), data...)
	return nil
}

func (m *memoryStorage) PresignedURL(_ context.Context, name string) (string, error) {
	return "https://storage.test/" + name, nil
}

func (m *memoryStorage) Remove(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, name)
	return nil
}

func (m *memoryStorage) get(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[name]
	return data, ok
}

func (m *memoryStorage) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for name := range m.objects {
		out = append(out, name)
	}
	return out
}

// stubExtractor hands out a fixed task id. With block set, WaitForResult
// waits until its context ends.
type stubExtractor struct {
	blocks  []Block
	err     error
	block   bool
	mu      sync.Mutex
	fileURL string
}

func (s *stubExtractor) CreateTask(_ context.Context, fileURL, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fileURL = fileURL
	return "task-1", nil
}

func (s *stubExtractor) WaitForResult(ctx context.Context, _ string) ([]Block, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.blocks, s.err
}

func newTestPipeline(t *testing.T, deps PipelineDeps) *Pipeline {
	t.Helper()
	if deps.Store == nil {
		deps.Store = NewDocumentStore(0)
	}
	if deps.Analyzer == nil {
		deps.Analyzer, _ = newTestAnalyzer(complianceLLM(), 0)
	}
	if deps.Rewriter == nil {
		deps.Rewriter = NewRewriter(complianceLLM(), 2)
	}
	p := NewPipeline(deps)
	t.Cleanup(p.Shutdown)
	return p
}

func waitForStatus(t *testing.T, store *DocumentStore, id string, want ...string) *model.Document {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		doc := store.Get(id)
		if doc != nil {
			for _, w := range want {
				if doc.Status == w {
					return doc
				}
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("document %s never reached %v (now %+v)", id, want, store.Get(id))
	return nil
}

func TestPipelineSubmitText(t *testing.T) {
	storage := newMemoryStorage()
	history := newTestHistory(t)
	p := newTestPipeline(t, PipelineDeps{Storage: storage, History: history})

	doc, err := p.Submit(context.Background(), "acme", "msa.txt", []byte(sampleContract))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if doc.Status != model.StatusPending {
		t.Errorf("Expected pending snapshot, got %s", doc.Status)
	}
	if doc.ObjectName != "acme/"+doc.ID+"/msa.txt" {
		t.Errorf("Unexpected object name %s", doc.ObjectName)
	}
	if _, ok := storage.get(doc.ObjectName); !ok {
		t.Error("Expected upload stored")
	}

	done := waitForStatus(t, p.Store(), doc.ID, model.StatusCompleted)
	if done.Summary == nil || done.Summary.TotalClauses != 2 || done.Summary.High != 1 || done.Summary.Low != 1 {
		t.Errorf("Unexpected summary %+v", done.Summary)
	}
	if len(done.Rows) != 2 || done.Rows[0].Suggestion != "Review clause 1" {
		t.Errorf("Unexpected rows %+v", done.Rows)
	}
	if !strings.Contains(done.Text, "thirty days") {
		t.Errorf("Expected document text kept, got %q", done.Text)
	}

	// History is written right after completion.
	deadline := time.Now().Add(time.Second)
	for p.Store().Get(doc.ID).HistoryID == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	entries, err := history.List(context.Background(), "acme")
	if err != nil || len(entries) != 1 || entries[0].NumHigh != 1 {
		t.Errorf("Expected one history entry, got %+v (%v)", entries, err)
	}
}

func TestPipelineSubmitRejectsUnsupported(t *testing.T) {
	p := newTestPipeline(t, PipelineDeps{})
	if _, err := p.Submit(context.Background(), "acme", "setup.exe", []byte("MZ")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
	}
	if p.Store().Count() != 0 {
		t.Error("Expected nothing stored")
	}
}

func TestPipelinePDFNeedsExtraction(t *testing.T) {
	p := newTestPipeline(t, PipelineDeps{Storage: newMemoryStorage()})
	if _, err := p.Submit(context.Background(), "acme", "msa.pdf", []byte("%PDF")); !errors.Is(err, ErrExtractionUnavailable) {
		t.Errorf("Expected ErrExtractionUnavailable, got %v", err)
	}
}

func TestPipelineSubmitUploadFailure(t *testing.T) {
	storage := newMemoryStorage()
	storage.putErr = errors.New("bucket missing")
	p := newTestPipeline(t, PipelineDeps{Storage: storage})

	_, err := p.Submit(context.Background(), "acme", "msa.txt", []byte(sampleContract))
	if err == nil || !strings.Contains(err.Error(), "bucket missing") {
		t.Errorf("Expected upload error, got %v", err)
	}
}

func TestPipelinePDFPolling(t *testing.T) {
	extractor := &stubExtractor{blocks: TextBlocks(sampleContract)}
	p := newTestPipeline(t, PipelineDeps{Storage: newMemoryStorage(), Extractor: extractor})

	doc, err := p.Submit(context.Background(), "acme", "msa.pdf", []byte("%PDF-1.7"))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	done := waitForStatus(t, p.Store(), doc.ID, model.StatusCompleted)
	if done.MineruTaskID != "task-1" {
		t.Errorf("Expected task id recorded, got %q", done.MineruTaskID)
	}
	if done.Summary.High != 1 {
		t.Errorf("Expected one high clause, got %+v", done.Summary)
	}
	extractor.mu.Lock()
	defer extractor.mu.Unlock()
	if extractor.fileURL != "https://storage.test/acme/"+doc.ID+"/msa.pdf" {
		t.Errorf("Expected presigned URL passed to extractor, got %s", extractor.fileURL)
	}
}

func TestPipelineExtractionError(t *testing.T) {
	extractor := &stubExtractor{err: errors.New("extraction failed: bad scan")}
	p := newTestPipeline(t, PipelineDeps{Storage: newMemoryStorage(), Extractor: extractor})

	doc, _ := p.Submit(context.Background(), "acme", "msa.pdf", []byte("%PDF"))
	failed := waitForStatus(t, p.Store(), doc.ID, model.StatusFailed)
	if !strings.Contains(failed.ErrorMsg, "bad scan") {
		t.Errorf("Expected extraction error message, got %q", failed.ErrorMsg)
	}
}

func TestPipelineCallbackWinsOverPoller(t *testing.T) {
	p := newTestPipeline(t, PipelineDeps{Storage: newMemoryStorage(), Extractor: &stubExtractor{block: true}})

	doc, _ := p.Submit(context.Background(), "acme", "msa.pdf", []byte("%PDF"))
	waiting := waitForStatus(t, p.Store(), doc.ID, model.StatusExtracting)
	if waiting.Status != model.StatusExtracting {
		t.Fatalf("Expected extracting, got %s", waiting.Status)
	}

	if !p.ResumeWithBlocks(context.Background(), doc.ID, TextBlocks(sampleContract)) {
		t.Fatal("Expected callback to resume extraction")
	}
	if p.ResumeWithBlocks(context.Background(), doc.ID, TextBlocks(sampleContract)) {
		t.Error("Expected second resume to be rejected")
	}
	done := waitForStatus(t, p.Store(), doc.ID, model.StatusCompleted)
	if done.Summary.TotalClauses != 2 {
		t.Errorf("Expected 2 clauses, got %+v", done.Summary)
	}
}

func TestPipelineFailExtraction(t *testing.T) {
	p := newTestPipeline(t, PipelineDeps{Storage: newMemoryStorage(), Extractor: &stubExtractor{block: true}})

	doc, _ := p.Submit(context.Background(), "acme", "msa.pdf", []byte("%PDF"))
	waitForStatus(t, p.Store(), doc.ID, model.StatusExtracting)

	if !p.FailExtraction(context.Background(), doc.ID, "page limit exceeded") {
		t.Fatal("Expected failure to be recorded")
	}
	if p.FailExtraction(context.Background(), doc.ID, "again") {
		t.Error("Expected second failure to be ignored")
	}
	failed := p.Store().Get(doc.ID)
	if failed.Status != model.StatusFailed || failed.ErrorMsg != "page limit exceeded" {
		t.Errorf("Unexpected document %+v", failed)
	}
}

func TestPipelineNoClauses(t *testing.T) {
	p := newTestPipeline(t, PipelineDeps{})
	doc, _ := p.Submit(context.Background(), "acme", "empty.txt", []byte("   \n\n  "))
	failed := waitForStatus(t, p.Store(), doc.ID, model.StatusFailed)
	if failed.ErrorMsg != ErrNoClauses.Error() {
		t.Errorf("Expected %q, got %q", ErrNoClauses.Error(), failed.ErrorMsg)
	}
}

func TestPipelineAnalyzeFile(t *testing.T) {
	p := newTestPipeline(t, PipelineDeps{})
	out, err := p.AnalyzeFile(context.Background(), "cli", "msa.md", []byte(sampleContract))
	if err != nil {
		t.Fatalf("AnalyzeFile failed: %v", err)
	}
	if len(out.Rows) != 2 || len(out.Suggestions) != 2 || out.Summary.HighRiskRate != 50 {
		t.Errorf("Unexpected outcome %+v", out)
	}

	if _, err := p.AnalyzeFile(context.Background(), "cli", "msa.pdf", []byte("%PDF")); !errors.Is(err, ErrExtractionUnavailable) {
		t.Errorf("Expected ErrExtractionUnavailable, got %v", err)
	}
}

func TestPipelineRewrite(t *testing.T) {
	storage := newMemoryStorage()
	p := newTestPipeline(t, PipelineDeps{Storage: storage})
	fixed := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	doc, _ := p.Submit(context.Background(), "acme", "msa.txt", []byte(sampleContract))

	pending := *doc
	if _, err := p.Rewrite(context.Background(), &pending); !errors.Is(err, ErrDocumentNotReady) {
		t.Errorf("Expected ErrDocumentNotReady, got %v", err)
	}

	done := waitForStatus(t, p.Store(), doc.ID, model.StatusCompleted)
	res, err := p.Rewrite(context.Background(), done)
	if err != nil {
		t.Fatalf("Rewrite failed: %v", err)
	}
	if res.Replaced != 1 {
		t.Errorf("Expected 1 replacement, got %d", res.Replaced)
	}
	if !strings.Contains(res.ModifiedText, "capped at the fees paid") || strings.Contains(res.ModifiedText, "unlimited") {
		t.Errorf("Unexpected modified text %q", res.ModifiedText)
	}
	name := "acme/" + doc.ID + "/rewrites/modified_20240309_140506.txt"
	if res.URL != "https://storage.test/"+name {
		t.Errorf("Unexpected URL %s", res.URL)
	}
	if data, ok := storage.get(name); !ok || string(data) != res.ModifiedText {
		t.Errorf("Expected rewritten contract stored, have %v", storage.names())
	}
}

func TestPipelineExportSheetNotConfigured(t *testing.T) {
	p := newTestPipeline(t, PipelineDeps{})
	doc := &model.Document{ID: "d", Status: model.StatusCompleted}
	if _, err := p.ExportSheet(context.Background(), doc); !errors.Is(err, ErrSheetsNotConfigured) {
		t.Errorf("Expected ErrSheetsNotConfigured, got %v", err)
	}
	if p.SheetsEnabled() {
		t.Error("Expected sheets disabled")
	}
}

func TestPipelineDelete(t *testing.T) {
	storage := newMemoryStorage()
	p := newTestPipeline(t, PipelineDeps{Storage: storage, Extractor: &stubExtractor{block: true}})

	doc, _ := p.Submit(context.Background(), "acme", "msa.pdf", []byte("%PDF"))
	waitForStatus(t, p.Store(), doc.ID, model.StatusExtracting)

	p.Delete(context.Background(), p.Store().Get(doc.ID))
	if p.Store().Get(doc.ID) != nil {
		t.Error("Expected document removed")
	}
	if _, ok := storage.get(doc.ObjectName); ok {
		t.Error("Expected stored file removed")
	}
}
