package service

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AnTengye/compliancecheck/backend/config"
)

func TestNewMineruService(t *testing.T) {
	cfg := &config.MineruConfig{
		APIURL:       "https://api.mineru.test",
		APIToken:     "test-token",
		ModelVersion: "vlm",
	}

	svc := NewMineruService(cfg)
	if svc == nil {
		t.Fatal("Expected non-nil service")
	}
	if svc.config != cfg {
		t.Error("Expected config to be set")
	}
	if svc.httpClient == nil {
		t.Error("Expected httpClient to be set")
	}
	if svc.pollInterval != 5*time.Second {
		t.Errorf("Expected default poll interval 5s, got %v", svc.pollInterval)
	}
}

func TestMineruServiceCreateTask(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/extract/task" {
			t.Errorf("Expected /extract/task, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Error("Expected Authorization header")
		}

		var reqBody MineruTaskRequest
		json.NewDecoder(r.Body).Decode(&reqBody)
		if reqBody.DataID != "doc-123" {
			t.Errorf("Expected data id doc-123, got %q", reqBody.DataID)
		}
		if reqBody.Callback != "" {
			t.Errorf("Expected no callback, got %q", reqBody.Callback)
		}

		response := MineruTaskResponse{
			Code:    0,
			Message: "success",
		}
		response.Data.TaskID = "task-123"

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	cfg := &config.MineruConfig{
		APIURL:       server.URL,
		APIToken:     "test-token",
		ModelVersion: "vlm",
	}

	svc := NewMineruService(cfg)
	taskID, err := svc.CreateTask(context.Background(), "http://example.com/test.pdf", "doc-123")

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if taskID != "task-123" {
		t.Errorf("Expected task ID 'task-123', got '%s'", taskID)
	}
}

func TestMineruServiceCreateTaskWithCallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqBody MineruTaskRequest
		json.NewDecoder(r.Body).Decode(&reqBody)

		if reqBody.Callback != "http://callback.test" {
			t.Errorf("Expected callback URL, got '%s'", reqBody.Callback)
		}
		if reqBody.Seed != "test-seed" {
			t.Errorf("Expected seed, got '%s'", reqBody.Seed)
		}

		response := MineruTaskResponse{Code: 0}
		response.Data.TaskID = "task-456"
		json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	cfg := &config.MineruConfig{
		APIURL:       server.URL,
		APIToken:     "test-token",
		ModelVersion: "vlm",
		CallbackURL:  "http://callback.test",
		Seed:         "test-seed",
	}

	svc := NewMineruService(cfg)
	if _, err := svc.CreateTask(context.Background(), "http://example.com/test.pdf", "doc-123"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestMineruServiceCreateTaskErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"api error", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(MineruTaskResponse{Code: 1, Message: "API error"})
		}},
		{"invalid response", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}},
		{"http status", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			svc := NewMineruService(&config.MineruConfig{APIURL: server.URL, APIToken: "test-token"})
			if _, err := svc.CreateTask(context.Background(), "http://example.com/test.pdf", "doc-123"); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestMineruServiceGetTaskStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			t.Errorf("Expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/extract/task/task-123" {
			t.Errorf("Expected /extract/task/task-123, got %s", r.URL.Path)
		}

		response := MineruTaskStatusResponse{
			Code: 0,
		}
		response.Data.TaskID = "task-123"
		response.Data.State = MineruStateDone
		response.Data.FullZipURL = "http://example.com/result.zip"

		json.NewEncoder(w).Encode(response)
	}))
	defer server.Close()

	svc := NewMineruService(&config.MineruConfig{APIURL: server.URL, APIToken: "test-token"})
	status, err := svc.GetTaskStatus(context.Background(), "task-123")

	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if status.Data.State != "done" {
		t.Errorf("Expected state 'done', got '%s'", status.Data.State)
	}
	if status.Data.FullZipURL != "http://example.com/result.zip" {
		t.Errorf("Expected zip URL, got '%s'", status.Data.FullZipURL)
	}
}

func TestMineruServiceGetTaskStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(MineruTaskStatusResponse{Code: 1, Message: "Task not found"})
	}))
	defer server.Close()

	svc := NewMineruService(&config.MineruConfig{APIURL: server.URL, APIToken: "test-token"})
	if _, err := svc.GetTaskStatus(context.Background(), "invalid-task"); err == nil {
		t.Error("Expected error for API error response")
	}
}

func TestMineruServiceNetworkErrors(t *testing.T) {
	svc := NewMineruService(&config.MineruConfig{
		APIURL:   "http://invalid-host-that-does-not-exist:9999",
		APIToken: "test-token",
	})
	ctx := context.Background()

	if _, err := svc.CreateTask(ctx, "http://example.com/test.pdf", "doc-123"); err == nil {
		t.Error("Expected CreateTask error for network failure")
	}
	if _, err := svc.GetTaskStatus(ctx, "task-123"); err == nil {
		t.Error("Expected GetTaskStatus error for network failure")
	}
	if _, err := svc.FetchJSONBlocks(ctx, "http://invalid-host-that-does-not-exist:9999/test.json"); err == nil {
		t.Error("Expected FetchJSONBlocks error for network failure")
	}
	if _, err := svc.FetchZipBlocks(ctx, "http://invalid-host-that-does-not-exist:9999/test.zip"); err == nil {
		t.Error("Expected FetchZipBlocks error for network failure")
	}
}

func TestMineruServiceVerifyCallback(t *testing.T) {
	svc := NewMineruService(&config.MineruConfig{UID: "test-uid", Seed: "test-seed"})

	sum := sha256.Sum256([]byte("test-uidtest-seedtest-content"))
	valid := hex.EncodeToString(sum[:])

	if !svc.VerifyCallback(valid, "test-content") {
		t.Error("Expected valid checksum to verify")
	}
	if svc.VerifyCallback("invalid-checksum", "test-content") {
		t.Error("Expected false for invalid checksum")
	}
	if svc.VerifyCallback(valid, "other-content") {
		t.Error("Expected false for tampered content")
	}
}

const sampleContentList = `[
	{"type": "text", "text": "MASTER SERVICES AGREEMENT", "text_level": 1, "page_idx": 0},
	{"type": "text", "text": "The supplier shall process personal data only on documented instructions.", "page_idx": 0},
	{"type": "image", "img_path": "images/logo.png", "page_idx": 0},
	{"type": "text", "text": "   ", "page_idx": 1},
	{"type": "title", "text": "2. Liability", "page_idx": 1}
]`

func TestParseContentList(t *testing.T) {
	blocks, err := ParseContentList([]byte(sampleContentList))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("Expected 3 blocks, got %d: %+v", len(blocks), blocks)
	}
	if !blocks[0].Heading || blocks[1].Heading || !blocks[2].Heading {
		t.Errorf("Unexpected heading flags %+v", blocks)
	}

	if _, err := ParseContentList([]byte(`{"not": "a list"}`)); err == nil {
		t.Error("Expected error for non-array content list")
	}
}

func TestMineruServiceFetchJSONBlocks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(sampleContentList))
	}))
	defer server.Close()

	svc := NewMineruService(&config.MineruConfig{})
	blocks, err := svc.FetchJSONBlocks(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(blocks) != 3 {
		t.Errorf("Expected 3 blocks, got %d", len(blocks))
	}
}

func TestMineruServiceFetchJSONBlocksInvalid(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("invalid json"))
	}))
	defer server.Close()

	svc := NewMineruService(&config.MineruConfig{})
	if _, err := svc.FetchJSONBlocks(context.Background(), server.URL); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestMineruServiceFetchZipBlocks(t *testing.T) {
	archive := buildZip(t, map[string]string{
		"result/full.md":               "# ignored",
		"result/abc_content_list.json": sampleContentList,
		"result/images/logo.png":       "png",
	})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer server.Close()

	svc := NewMineruService(&config.MineruConfig{})
	blocks, err := svc.FetchZipBlocks(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(blocks) != 3 || blocks[0].Text != "MASTER SERVICES AGREEMENT" {
		t.Errorf("Expected blocks from content list, got %+v", blocks)
	}
}

func TestMineruServiceFetchZipBlocksMarkdownFallback(t *testing.T) {
	archive := buildZip(t, map[string]string{
		"full.md": "1. Payment\nFees are due within thirty days of the invoice date.",
	})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer server.Close()

	svc := NewMineruService(&config.MineruConfig{})
	blocks, err := svc.FetchZipBlocks(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(blocks) != 1 || !blocks[0].Heading {
		t.Errorf("Expected one heading block from markdown, got %+v", blocks)
	}
}

func TestMineruServiceFetchZipBlocksInvalid(t *testing.T) {
	tests := map[string][]byte{
		"not a zip": []byte("not a zip file"),
		"empty zip": buildZip(t, map[string]string{"readme.txt": "nothing here"}),
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write(body)
			}))
			defer server.Close()

			svc := NewMineruService(&config.MineruConfig{})
			if _, err := svc.FetchZipBlocks(context.Background(), server.URL); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestMineruServiceWaitForResult(t *testing.T) {
	archive := buildZip(t, map[string]string{"content_list.json": sampleContentList})

	var polls atomic.Int32
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/extract/task/task-1", func(w http.ResponseWriter, r *http.Request) {
		resp := MineruTaskStatusResponse{}
		if polls.Add(1) < 2 {
			resp.Data.State = MineruStateRunning
			resp.Data.ExtractProgress.TotalPages = 2
		} else {
			resp.Data.State = MineruStateDone
			resp.Data.FullZipURL = server.URL + "/result.zip"
		}
		json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/result.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	})

	svc := NewMineruService(&config.MineruConfig{APIURL: server.URL, PollAttempts: 5})
	svc.pollInterval = time.Millisecond

	blocks, err := svc.WaitForResult(context.Background(), "task-1")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(blocks) != 3 {
		t.Errorf("Expected 3 blocks, got %d", len(blocks))
	}
	if n := polls.Load(); n != 2 {
		t.Errorf("Expected 2 polls, got %d", n)
	}
}

func TestMineruServiceWaitForResultFailedAndTimeout(t *testing.T) {
	tests := []struct {
		state   string
		wantErr error
	}{
		{MineruStateFailed, nil},
		{MineruStatePending, ErrExtractionTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				resp := MineruTaskStatusResponse{}
				resp.Data.State = tt.state
				resp.Data.ErrorMsg = "file too large"
				json.NewEncoder(w).Encode(resp)
			}))
			defer server.Close()

			svc := NewMineruService(&config.MineruConfig{APIURL: server.URL, PollAttempts: 3})
			svc.pollInterval = time.Millisecond

			_, err := svc.WaitForResult(context.Background(), "task-1")
			if err == nil {
				t.Fatal("Expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMineruServiceWaitForResultCancelled(t *testing.T) {
	svc := NewMineruService(&config.MineruConfig{APIURL: "http://unused.test", PollAttempts: 10})
	svc.pollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := svc.WaitForResult(ctx, "task-1"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
