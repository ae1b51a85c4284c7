package service

import (
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AnTengye/compliancecheck/backend/model"
)

var ErrContractNotFound = errors.New("contract not found")

// Workspace is one session's upload list, selection and review result.
// The list is append-only and nothing in it is persisted.
type Workspace struct {
	mu        sync.Mutex
	contracts []model.Contract
	selected  int // index into contracts, -1 when nothing is selected
	result    *model.ReviewResult
	lastID    int64
	now       func() time.Time
}

// WorkspaceView is a point-in-time copy of a workspace for rendering.
type WorkspaceView struct {
	Contracts []model.Contract    `json:"contracts"`
	Selected  *model.Contract     `json:"selected,omitempty"`
	Result    *model.ReviewResult `json:"result,omitempty"`
}

func NewWorkspace() *Workspace {
	return &Workspace{selected: -1, now: time.Now}
}

// Upload records a placeholder for name. An empty name is ignored and
// reported with ok == false.
func (w *Workspace) Upload(name string) (model.Contract, bool) {
	if name == "" {
		return model.Contract{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	id := now.UnixMilli()
	if id <= w.lastID {
		id = w.lastID + 1
	}
	w.lastID = id

	c := model.Contract{
		ID:         strconv.FormatInt(id, 10),
		Filename:   name,
		UploadedAt: now,
	}
	w.contracts = append(w.contracts, c)
	return c, true
}

// Contracts returns the placeholders in upload order.
func (w *Workspace) Contracts() []model.Contract {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.Contract(nil), w.contracts...)
}

// Review selects the contract and replaces the review result with the
// static review. It returns the contract it selected. Unknown ids leave the
// selection untouched.
func (w *Workspace) Review(id string) (model.Contract, model.ReviewResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i := range w.contracts {
		if w.contracts[i].ID == id {
			w.selected = i
			r := model.StaticReview()
			w.result = &r
			return w.contracts[i], model.StaticReview(), nil
		}
	}
	return model.Contract{}, model.ReviewResult{}, ErrContractNotFound
}

func (w *Workspace) Selected() (model.Contract, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.selected < 0 {
		return model.Contract{}, false
	}
	return w.contracts[w.selected], true
}

func (w *Workspace) Result() (model.ReviewResult, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.result == nil {
		return model.ReviewResult{}, false
	}
	return copyReview(*w.result), true
}

// View returns a consistent snapshot of the whole workspace.
func (w *Workspace) View() WorkspaceView {
	w.mu.Lock()
	defer w.mu.Unlock()

	v := WorkspaceView{Contracts: append([]model.Contract{}, w.contracts...)}
	if w.selected >= 0 {
		c := w.contracts[w.selected]
		v.Selected = &c
	}
	if w.result != nil {
		r := copyReview(*w.result)
		v.Result = &r
	}
	return v
}

func copyReview(r model.ReviewResult) model.ReviewResult {
	return model.ReviewResult{
		MissingClauses:  append([]string(nil), r.MissingClauses...),
		Risks:           append([]string(nil), r.Risks...),
		Recommendations: append([]string(nil), r.Recommendations...),
	}
}

type workspaceSession struct {
	ws       *Workspace
	lastSeen atomic.Int64
}

// WorkspaceRegistry maps session ids to workspaces. When more than
// maxSessions exist the least recently used session is dropped.
type WorkspaceRegistry struct {
	mu          sync.RWMutex
	sessions    map[string]*workspaceSession
	maxSessions int // 0 = unlimited
}

func NewWorkspaceRegistry(maxSessions int) *WorkspaceRegistry {
	if maxSessions < 0 {
		maxSessions = 0
	}
	return &WorkspaceRegistry{
		sessions:    make(map[string]*workspaceSession),
		maxSessions: maxSessions,
	}
}

// Get returns the session's workspace, creating it on first use.
func (r *WorkspaceRegistry) Get(sessionID string) *Workspace {
	now := time.Now().UnixNano()

	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if ok {
		s.lastSeen.Store(now)
		return s.ws
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.lastSeen.Store(now)
		return s.ws
	}
	s = &workspaceSession{ws: NewWorkspace()}
	s.lastSeen.Store(now)
	r.sessions[sessionID] = s
	r.evictIfNeeded(sessionID)
	return s.ws
}

// Count returns the number of live sessions.
func (r *WorkspaceRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// evictIfNeeded must be called with the write lock held.
func (r *WorkspaceRegistry) evictIfNeeded(keep string) {
	if r.maxSessions <= 0 {
		return
	}
	for len(r.sessions) > r.maxSessions {
		var (
			oldestID string
			oldest   int64
		)
		for id, s := range r.sessions {
			if id == keep {
				continue
			}
			if seen := s.lastSeen.Load(); oldestID == "" || seen < oldest {
				oldestID, oldest = id, seen
			}
		}
		if oldestID == "" {
			return
		}
		slog.Info("evicting idle workspace session", "session_id", oldestID)
		delete(r.sessions, oldestID)
	}
}
