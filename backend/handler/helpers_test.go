package handler

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AnTengye/compliancecheck/backend/config"
	"github.com/AnTengye/compliancecheck/backend/model"
	"github.com/AnTengye/compliancecheck/backend/pkg/llm"
	"github.com/AnTengye/compliancecheck/backend/service"
	"github.com/gin-gonic/gin"
)

const testContract = "1. The supplier accepts unlimited liability for all damages arising here.\n\n" +
	"2. Payment of every invoice is due within thirty days of receipt."

var clauseLine = regexp.MustCompile(`(?m)^Clause (\d+): (.*)$`)

// fakeLLM rates clauses that mention "unlimited" as High.
var fakeLLM = llm.CompleterFunc(func(_ context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "rewrite the following clause") {
		return "The supplier's liability is capped at the fees paid.", nil
	}
	var items []string
	for _, m := range clauseLine.FindAllStringSubmatch(prompt, -1) {
		if strings.Contains(prompt, "compliance advisor") {
			items = append(items, fmt.Sprintf(`{"clause_id": %s, "suggestion": "Review clause %s"}`, m[1], m[1]))
			continue
		}
		severity := "Low"
		if strings.Contains(m[2], "unlimited") {
			severity = "High"
		}
		items = append(items, fmt.Sprintf(`{"clause_id": %s, "regulation": "GDPR", "risk": "r%s", "severity": "%s"}`, m[1], m[1], severity))
	}
	return "[" + strings.Join(items, ",") + "]", nil
})

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memStorage) Put(_ context.Context, name string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = data
	return nil
}

func (m *memStorage) PresignedURL(_ context.Context, name string) (string, error) {
	return "https://storage.test/" + name, nil
}

func (m *memStorage) Remove(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, name)
	return nil
}

func (m *memStorage) has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[name]
	return ok
}

// waitingExtractor never finishes on its own; results arrive by callback.
type waitingExtractor struct{}

func (waitingExtractor) CreateTask(context.Context, string, string) (string, error) {
	return "task-1", nil
}

func (waitingExtractor) WaitForResult(ctx context.Context, _ string) ([]service.Block, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type testEnv struct {
	pipeline *service.Pipeline
	store    *service.DocumentStore
	storage  *memStorage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:   service.NewDocumentStore(0),
		storage: &memStorage{objects: make(map[string][]byte)},
	}
	env.pipeline = service.NewPipeline(service.PipelineDeps{
		Store:     env.store,
		Analyzer:  service.NewAnalyzer(fakeLLM, &config.AnalysisConfig{LLMMaxTokens: 6000}),
		Rewriter:  service.NewRewriter(fakeLLM, 2),
		Storage:   env.storage,
		Extractor: waitingExtractor{},
		Cache:     service.NewResultCache(context.Background(), &config.CacheConfig{}),
	})
	t.Cleanup(env.pipeline.Shutdown)
	return env
}

// asTenant runs h as if the auth middleware had accepted a token for tenant.
func asTenant(tenant string, h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("username", "tester")
		c.Set("tenant", tenant)
		h(c)
	}
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := w.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("CreateFormFile failed: %v", err)
		}
		part.Write(data)
	}
	w.Close()
	return &buf, w.FormDataContentType()
}

func waitForDocument(t *testing.T, store *service.DocumentStore, id, status string) *model.Document {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if d := store.Get(id); d != nil && d.Status == status {
			return d
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("document %s never reached %s", id, status)
	return nil
}

// completedDocument submits testContract and waits for its analysis.
func (env *testEnv) completedDocument(t *testing.T, tenant string) *model.Document {
	t.Helper()
	doc, err := env.pipeline.Submit(context.Background(), tenant, "msa.txt", []byte(testContract))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	return waitForDocument(t, env.store, doc.ID, model.StatusCompleted)
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}
