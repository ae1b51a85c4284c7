package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/AnTengye/compliancecheck/backend/pkg/logger"
	"github.com/AnTengye/compliancecheck/backend/service"
	"github.com/gin-gonic/gin"
)

var (
	errNoExtractor = errors.New("extraction service not configured")
	errNoResult    = errors.New("callback carried no result URL")
)

type CallbackHandler struct {
	mineruService *service.MineruService
	pipeline      *service.Pipeline
	store         *service.DocumentStore
}

func NewCallbackHandler(mineruSvc *service.MineruService, p *service.Pipeline) *CallbackHandler {
	return &CallbackHandler{
		mineruService: mineruSvc,
		pipeline:      p,
		store:         p.Store(),
	}
}

type CallbackRequest struct {
	Checksum string `json:"checksum"`
	Content  string `json:"content"`
}

type CallbackContent struct {
	TaskID     string `json:"task_id"`
	DataID     string `json:"data_id"`
	State      string `json:"state"`
	FullZipURL string `json:"full_zip_url"`
	FullPages  []struct {
		PageNo  int    `json:"page_no"`
		MDURL   string `json:"md_url"`
		JsonURL string `json:"json_url"`
	} `json:"full_pages"`
	ErrorMsg string `json:"err_msg"`
}

// HandleCallback receives extraction results pushed by MinerU. Whichever of
// the callback and the background poller reports first wins.
func (h *CallbackHandler) HandleCallback(c *gin.Context) {
	ctx := c.Request.Context()

	var req CallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if h.mineruService != nil && h.mineruService.SignsCallbacks() && !h.mineruService.VerifyCallback(req.Checksum, req.Content) {
		logger.Warn(ctx, "callback checksum mismatch")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid checksum"})
		return
	}

	var content CallbackContent
	if err := json.Unmarshal([]byte(req.Content), &content); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid content format"})
		return
	}

	// DataID is our document id
	doc := h.store.Get(content.DataID)
	if doc == nil {
		doc = h.store.FindByTask(content.TaskID)
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Contract not found"})
		return
	}
	ctx = logger.WithValue(ctx, logger.DocumentIDKey, doc.ID)
	logger.Info(ctx, "extraction callback received", "task_id", content.TaskID, "state", content.State)

	accepted := false
	switch content.State {
	case service.MineruStateDone:
		blocks, err := h.fetchBlocks(c, content)
		if err != nil {
			accepted = h.pipeline.FailExtraction(ctx, doc.ID, "Failed to fetch extraction result: "+err.Error())
			break
		}
		accepted = h.pipeline.ResumeWithBlocks(ctx, doc.ID, blocks)
	case service.MineruStateFailed:
		accepted = h.pipeline.FailExtraction(ctx, doc.ID, content.ErrorMsg)
	}

	c.JSON(http.StatusOK, gin.H{"message": "Callback received", "accepted": accepted})
}

func (h *CallbackHandler) fetchBlocks(c *gin.Context, content CallbackContent) ([]service.Block, error) {
	if h.mineruService == nil {
		return nil, errNoExtractor
	}
	if content.FullZipURL != "" {
		return h.mineruService.FetchZipBlocks(c.Request.Context(), content.FullZipURL)
	}
	if len(content.FullPages) > 0 && content.FullPages[0].JsonURL != "" {
		return h.mineruService.FetchJSONBlocks(c.Request.Context(), content.FullPages[0].JsonURL)
	}
	return nil, errNoResult
}
