package service

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AnTengye/compliancecheck/backend/config"
	"github.com/AnTengye/compliancecheck/backend/model"
)

// DocumentStore keeps pipeline documents in memory. The oldest documents are
// evicted once maxDocuments is exceeded.
type DocumentStore struct {
	documents    map[string]*model.Document
	mu           sync.RWMutex
	maxDocuments int // 0 = unlimited
}

var (
	globalStore *DocumentStore
	storeOnce   sync.Once
)

// NewDocumentStore returns an empty store.
func NewDocumentStore(maxDocuments int) *DocumentStore {
	if maxDocuments < 0 {
		maxDocuments = 0
	}
	return &DocumentStore{
		documents:    make(map[string]*model.Document),
		maxDocuments: maxDocuments,
	}
}

// InitDocumentStore initializes the global document store with configuration
func InitDocumentStore(cfg *config.StoreConfig) {
	storeOnce.Do(func() {
		globalStore = NewDocumentStore(cfg.MaxContracts)
		slog.Info("document store initialized", "max_documents", globalStore.maxDocuments)
	})
}

// GetDocumentStore returns the global document store
func GetDocumentStore() *DocumentStore {
	storeOnce.Do(func() {
		globalStore = NewDocumentStore(100)
	})
	return globalStore
}

func (s *DocumentStore) Save(doc *model.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc.UpdatedAt = time.Now()
	s.documents[doc.ID] = doc

	s.cleanupIfNeeded()
}

// Get returns a snapshot of the document so callers never race with the
// background pipeline.
func (s *DocumentStore) Get(id string) *model.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[id]
	if !ok {
		return nil
	}
	cp := *d
	return &cp
}

// GetByTenant returns the tenant's documents, newest first.
func (s *DocumentStore) GetByTenant(tenant string) []*model.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.Document
	for _, d := range s.documents {
		if d.Tenant == tenant {
			cp := *d
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func (s *DocumentStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, id)
}

// Update applies fn to the stored document under the write lock. It reports
// false when the document is gone.
func (s *DocumentStore) Update(id string, fn func(d *model.Document)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok {
		return false
	}
	fn(d)
	d.UpdatedAt = time.Now()
	return true
}

func (s *DocumentStore) UpdateStatus(id, status string, errMsg string) {
	s.Update(id, func(d *model.Document) {
		d.Status = status
		d.ErrorMsg = errMsg
	})
}

// Complete stores the analysis output and marks the document completed.
func (s *DocumentStore) Complete(id string, out *AnalysisOutcome) {
	s.Update(id, func(d *model.Document) {
		d.Text = out.Text
		d.Clauses = out.Clauses
		d.Analyses = out.Analyses
		d.Rows = out.Rows
		summary := out.Summary
		d.Summary = &summary
		d.Status = model.StatusCompleted
		d.ErrorMsg = ""
	})
}

// Transition moves a document from one status to another and reports
// whether it did. Only one caller wins a race for the same transition.
func (s *DocumentStore) Transition(id, from, to string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.documents[id]
	if !ok || d.Status != from {
		return false
	}
	d.Status = to
	d.UpdatedAt = time.Now()
	return true
}

// FindByTask returns the document waiting on a MinerU task.
func (s *DocumentStore) FindByTask(taskID string) *model.Document {
	if taskID == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.documents {
		if d.MineruTaskID == taskID {
			cp := *d
			return &cp
		}
	}
	return nil
}

// cleanupIfNeeded removes oldest documents if store exceeds maxDocuments
// Must be called with lock held
func (s *DocumentStore) cleanupIfNeeded() {
	if s.maxDocuments <= 0 {
		return
	}

	if len(s.documents) <= s.maxDocuments {
		return
	}

	docs := make([]*model.Document, 0, len(s.documents))
	for _, d := range s.documents {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].CreatedAt.Before(docs[j].CreatedAt)
	})

	removeCount := len(docs) - s.maxDocuments
	for i := 0; i < removeCount; i++ {
		slog.Info("auto-cleaning old document",
			"document_id", docs[i].ID,
			"created_at", docs[i].CreatedAt,
		)
		delete(s.documents, docs[i].ID)
	}
}

// Count returns the number of documents in the store
func (s *DocumentStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents)
}
