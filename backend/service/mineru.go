package service

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AnTengye/compliancecheck/backend/config"
	"github.com/AnTengye/compliancecheck/backend/pkg/logger"
)

// MinerU task states.
const (
	MineruStatePending    = "pending"
	MineruStateRunning    = "running"
	MineruStateConverting = "converting"
	MineruStateDone       = "done"
	MineruStateFailed     = "failed"
)

var ErrExtractionTimeout = errors.New("extraction task polling timeout")

type MineruService struct {
	config       *config.MineruConfig
	httpClient   *http.Client
	pollInterval time.Duration
}

// MineruTaskRequest represents the request to create an extraction task
type MineruTaskRequest struct {
	URL          string `json:"url"`
	ModelVersion string `json:"model_version"`
	Callback     string `json:"callback,omitempty"`
	Seed         string `json:"seed,omitempty"`
	DataID       string `json:"data_id,omitempty"`
}

// MineruTaskResponse represents the response from task creation
type MineruTaskResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

// MineruTaskStatusResponse represents the task status query response
type MineruTaskStatusResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	TraceID string `json:"trace_id"`
	Data    struct {
		TaskID          string `json:"task_id"`
		DataID          string `json:"data_id"`
		State           string `json:"state"` // pending, running, done, failed, converting
		FullZipURL      string `json:"full_zip_url,omitempty"`
		ErrorMsg        string `json:"err_msg,omitempty"`
		ModelVersion    string `json:"model_version,omitempty"`
		ExtractProgress struct {
			ExtractedPages int    `json:"extracted_pages"`
			TotalPages     int    `json:"total_pages"`
			StartTime      string `json:"start_time"`
		} `json:"extract_progress,omitempty"`
	} `json:"data"`
}

// MineruContentItem is one entry of content_list.json.
type MineruContentItem struct {
	Type      string `json:"type"` // text, title, table, image, equation
	Text      string `json:"text"`
	TextLevel int    `json:"text_level,omitempty"`
	PageIdx   int    `json:"page_idx"`
}

func NewMineruService(cfg *config.MineruConfig) *MineruService {
	interval := time.Duration(cfg.PollInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &MineruService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		pollInterval: interval,
	}
}

// CreateTask creates a new extraction task and returns its id.
func (s *MineruService) CreateTask(ctx context.Context, fileURL, dataID string) (string, error) {
	reqBody := MineruTaskRequest{
		URL:          fileURL,
		ModelVersion: s.config.ModelVersion,
		DataID:       dataID,
	}

	if s.config.CallbackURL != "" {
		reqBody.Callback = s.config.CallbackURL
		reqBody.Seed = s.config.Seed
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIURL+"/extract/task", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.config.APIToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")

	body, err := s.do(req)
	if err != nil {
		return "", err
	}

	var result MineruTaskResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w, body: %s", err, string(body))
	}

	if result.Code != 0 {
		return "", fmt.Errorf("MinerU API error: %s", result.Message)
	}

	return result.Data.TaskID, nil
}

// GetTaskStatus queries the status of a task
func (s *MineruService) GetTaskStatus(ctx context.Context, taskID string) (*MineruTaskStatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/extract/task/%s", s.config.APIURL, taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+s.config.APIToken)
	req.Header.Set("Accept", "*/*")

	body, err := s.do(req)
	if err != nil {
		return nil, err
	}

	logger.Debug(ctx, "mineru status response", "task_id", taskID, "body", string(body))

	var result MineruTaskStatusResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if result.Code != 0 {
		return nil, fmt.Errorf("MinerU API error: %s", result.Message)
	}

	return &result, nil
}

// WaitForResult polls the task until it finishes and returns the extracted
// blocks.
func (s *MineruService) WaitForResult(ctx context.Context, taskID string) ([]Block, error) {
	attempts := s.config.PollAttempts
	if attempts <= 0 {
		attempts = 60
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for i := 0; i < attempts; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		status, err := s.GetTaskStatus(ctx, taskID)
		if err != nil {
			logger.Warn(ctx, "mineru poll failed", "task_id", taskID, "attempt", i+1, "error", err)
			continue
		}

		switch status.Data.State {
		case MineruStateDone:
			if status.Data.FullZipURL == "" {
				return nil, errors.New("extraction finished without a result archive")
			}
			return s.FetchZipBlocks(ctx, status.Data.FullZipURL)
		case MineruStateFailed:
			return nil, fmt.Errorf("extraction failed: %s", status.Data.ErrorMsg)
		case MineruStateRunning:
			if p := status.Data.ExtractProgress; p.TotalPages > 0 {
				logger.Debug(ctx, "mineru progress", "task_id", taskID, "extracted", p.ExtractedPages, "total", p.TotalPages)
			}
		}
	}

	return nil, ErrExtractionTimeout
}

// SignsCallbacks reports whether callbacks carry a checksum worth checking.
func (s *MineruService) SignsCallbacks() bool {
	return s.config.Seed != ""
}

// VerifyCallback verifies the callback checksum
func (s *MineruService) VerifyCallback(checksum, content string) bool {
	// Checksum = SHA256(uid + seed + content)
	data := s.config.UID + s.config.Seed + content
	hash := sha256.Sum256([]byte(data))
	expected := hex.EncodeToString(hash[:])
	return checksum == expected
}

// FetchJSONBlocks fetches a content list JSON from a direct URL.
func (s *MineruService) FetchJSONBlocks(ctx context.Context, jsonURL string) ([]Block, error) {
	body, err := s.get(ctx, jsonURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JSON: %w", err)
	}
	return ParseContentList(body)
}

// FetchZipBlocks downloads the result archive and reads its content list.
func (s *MineruService) FetchZipBlocks(ctx context.Context, zipURL string) ([]Block, error) {
	logger.Info(ctx, "downloading extraction archive", "url", zipURL)

	zipData, err := s.get(ctx, zipURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download ZIP: %w", err)
	}

	zipReader, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return nil, fmt.Errorf("failed to open ZIP: %w", err)
	}

	for _, file := range zipReader.File {
		if !strings.HasSuffix(file.Name, "content_list.json") {
			continue
		}
		content, err := readZipFile(file)
		if err != nil {
			logger.Warn(ctx, "failed to read archive entry", "file", file.Name, "error", err)
			continue
		}
		blocks, err := ParseContentList(content)
		if err != nil {
			logger.Warn(ctx, "failed to parse content list", "file", file.Name, "error", err)
			continue
		}
		return blocks, nil
	}

	// Fall back to the markdown rendering
	for _, file := range zipReader.File {
		if !strings.HasSuffix(file.Name, ".md") {
			continue
		}
		content, err := readZipFile(file)
		if err != nil {
			continue
		}
		return TextBlocks(string(content)), nil
	}

	return nil, errors.New("no content list found in ZIP")
}

// ParseContentList converts content_list.json into blocks. Titles and items
// with a text level become heading blocks; non-text items are skipped.
func ParseContentList(data []byte) ([]Block, error) {
	var items []MineruContentItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to parse content list: %w", err)
	}

	blocks := make([]Block, 0, len(items))
	for _, it := range items {
		if it.Type != "text" && it.Type != "title" {
			continue
		}
		text := Normalize(it.Text)
		if text == "" {
			continue
		}
		blocks = append(blocks, Block{
			Text:    text,
			Heading: it.Type == "title" || it.TextLevel >= 1,
		})
	}
	return blocks, nil
}

func (s *MineruService) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return s.do(req)
}

func (s *MineruService) do(req *http.Request) ([]byte, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
